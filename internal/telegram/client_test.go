package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		Token:       "12345678:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		BaseURL:     srv.URL,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
	}, zap.NewNop())

	var sleeps []time.Duration
	client.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return client, &sleeps
}

func okMessageResponse(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	err := json.NewEncoder(w).Encode(map[string]any{
		"ok": true,
		"result": map[string]any{
			"message_id": 42,
			"chat":       map[string]any{"id": int64(555), "type": "private"},
			"text":       text,
		},
	})
	require.NoError(t, err)
}

func TestValidateToken(t *testing.T) {
	assert.True(t, ValidateToken("12345678:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.False(t, ValidateToken("not-a-token"))
	assert.False(t, ValidateToken("12345678:short"))
	assert.False(t, ValidateToken(""))
}

func TestSendMessage_TruncatesLongText(t *testing.T) {
	var sentText string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		sentText = payload["text"].(string)
		okMessageResponse(t, w, sentText)
	})

	_, err := client.SendMessage(context.Background(), 555, strings.Repeat("a", 5000), nil, SendOptions{})
	require.NoError(t, err)

	assert.Len(t, sentText, 4096)
	assert.True(t, strings.HasSuffix(sentText, "..."))
}

func TestSendMessage_KeepsTextAtLimit(t *testing.T) {
	exact := strings.Repeat("b", 4096)

	var sentText string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		sentText = payload["text"].(string)
		okMessageResponse(t, w, sentText)
	})

	_, err := client.SendMessage(context.Background(), 555, exact, nil, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, exact, sentText)
}

func TestInvoke_RetriesAfterRateLimit(t *testing.T) {
	calls := 0
	client, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			err := json.NewEncoder(w).Encode(map[string]any{
				"ok":          false,
				"error_code":  429,
				"description": "Too Many Requests",
				"parameters":  map[string]any{"retry_after": 5},
			})
			require.NoError(t, err)
			return
		}
		okMessageResponse(t, w, "hello")
	})

	msg, err := client.SendMessage(context.Background(), 555, "hello", nil, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 42, msg.MessageID)

	assert.Equal(t, 2, calls)
	require.Len(t, *sleeps, 1)
	assert.GreaterOrEqual(t, (*sleeps)[0], 5*time.Second)
}

func TestInvoke_BacksOffOnServerErrors(t *testing.T) {
	calls := 0
	client, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		err := json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  500,
			"description": "Internal Server Error",
		})
		require.NoError(t, err)
	})

	_, err := client.SendMessage(context.Background(), 555, "hello", nil, SendOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Code)
	assert.True(t, apiErr.Retriable)

	assert.Equal(t, 3, calls)
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 1*time.Second, (*sleeps)[0])
	assert.Equal(t, 2*time.Second, (*sleeps)[1])
}

func TestInvoke_DoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	client, sleeps := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		err := json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
		require.NoError(t, err)
	})

	_, err := client.SendMessage(context.Background(), 555, "hello", nil, SendOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.False(t, apiErr.Retriable)

	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestBuildReplyMarkup_TwoPerRow(t *testing.T) {
	markup := buildReplyMarkup([]Button{
		{Label: "✅ Complete", Action: "task:77:complete"},
		{Label: "👋 Claim", Action: "task:77:claim"},
		{Label: "👀 View", Action: "task:77:view"},
	})

	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
	assert.Equal(t, "task:77:complete", markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "task:77:claim", markup.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "task:77:view", markup.InlineKeyboard[1][0].CallbackData)
}

func TestBuildReplyMarkup_SkipsInvalidButtons(t *testing.T) {
	markup := buildReplyMarkup([]Button{
		{Label: "", Action: "task:1:view"},
		{Label: "Valid", Action: "task:1:claim"},
		{Label: "No action", Action: ""},
	})

	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	assert.Equal(t, "task:1:claim", markup.InlineKeyboard[0][0].CallbackData)
}

func TestStripEmpty(t *testing.T) {
	cleaned := stripEmpty(map[string]any{
		"chat_id":    int64(1),
		"text":       "hi",
		"parse_mode": "",
		"markup":     nil,
	})

	assert.Equal(t, map[string]any{"chat_id": int64(1), "text": "hi"}, cleaned)
}

func TestGetMe_CachesResult(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		err := json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"id": int64(99), "is_bot": true, "first_name": "Bridge", "username": "bridge_bot"},
		})
		require.NoError(t, err)
	})

	for i := 0; i < 3; i++ {
		user, err := client.GetMe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "bridge_bot", user.Username)
	}

	assert.Equal(t, 1, calls)
}

func TestTruncateText_MultiByte(t *testing.T) {
	// Each rune below needs two UTF-16 code units.
	text := strings.Repeat("𝕏", 10)
	out := truncateText(text, 10)

	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, utf16Length(out), 10)
}
