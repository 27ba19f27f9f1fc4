package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
)

func newEngineClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, zap.NewNop())
}

func TestCompleteTask_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	client := newEngineClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	err := client.CompleteTask(context.Background(), 77, map[string]string{"comment": "done"}, 7)
	require.NoError(t, err)

	assert.Equal(t, "/api/tasks/77/complete", gotPath)
	assert.Equal(t, "Bearer key", gotAuth)
	assert.Equal(t, float64(7), gotBody["user_id"])
}

func TestCompleteTask_ServerErrorIsTransient(t *testing.T) {
	client := newEngineClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.CompleteTask(context.Background(), 77, nil, 7)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestCompleteTask_NotFound(t *testing.T) {
	client := newEngineClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.CompleteTask(context.Background(), 77, nil, 7)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, apperr.IsTransient(err))
}

func TestCompleteTask_ValidationRejectionIsTerminal(t *testing.T) {
	client := newEngineClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing form data", http.StatusUnprocessableEntity)
	})

	err := client.CompleteTask(context.Background(), 77, nil, 7)
	require.Error(t, err)
	assert.False(t, apperr.IsTransient(err))
}

func TestCompleteTask_UnreachableEngineIsTransient(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())

	err := client.CompleteTask(context.Background(), 77, nil, 7)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}
