package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// maxMessageLength is the Bot API text limit in UTF-16 code units.
	maxMessageLength = 4096
	// maxCallbackAnswerLength bounds answerCallbackQuery notification text.
	maxCallbackAnswerLength = 200
	// maxButtonLabelLength bounds inline button labels.
	maxButtonLabelLength = 64
	// maxCallbackDataBytes is the Bot API limit for callback payloads.
	maxCallbackDataBytes = 64
	// maxRateLimitWait caps how long a single rate-limit hint is honored.
	maxRateLimitWait = 60 * time.Second
	// botInfoTTL bounds the getMe cache. The cached identity is display
	// only and never feeds an authorization decision.
	botInfoTTL = time.Hour
)

var tokenPattern = regexp.MustCompile(`^\d{8,10}:[a-zA-Z0-9_-]{35}$`)

// ValidateToken reports whether a bot token has the expected shape.
func ValidateToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// APIError is a provider-reported failure. It is returned as a value; the
// only faults that escape as plain errors are malformed call construction
// and response decoding.
type APIError struct {
	Code        int
	Description string
	Retriable   bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error [%d]: %s", e.Code, e.Description)
}

// Config holds Bot API client configuration
type Config struct {
	Token       string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
}

// Client is the Bot API client. All methods funnel through a single request
// executor that owns retry, backoff and rate-limit handling; retry sleeps
// block only the calling goroutine.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)

	mu        sync.Mutex
	botInfo   *User
	fetchedAt time.Time
}

// NewClient creates a new Bot API client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// SendOptions controls message delivery behavior.
type SendOptions struct {
	Silent             bool
	DisableLinkPreview bool
}

// Button is re-exported here to keep the wire layout next to its limits.
type Button struct {
	Label  string
	Action string
}

// SendMessage sends a message to a chat. Text beyond the 4096 code unit
// limit is truncated with a trailing ellipsis, never rejected.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, buttons []Button, opts SendOptions) (*Message, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     truncateText(text, maxMessageLength),
		"parse_mode":               "HTML",
		"disable_web_page_preview": opts.DisableLinkPreview,
		"disable_notification":     opts.Silent,
	}
	if len(buttons) > 0 {
		payload["reply_markup"] = buildReplyMarkup(buttons)
	}

	result, err := c.invoke(ctx, "sendMessage", payload)
	if err != nil {
		return nil, err
	}
	return decodeMessage(result)
}

// EditMessage replaces the text and keyboard of an existing message.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons []Button) (*Message, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       truncateText(text, maxMessageLength),
		"parse_mode": "HTML",
	}
	if len(buttons) > 0 {
		payload["reply_markup"] = buildReplyMarkup(buttons)
	}

	result, err := c.invoke(ctx, "editMessageText", payload)
	if err != nil {
		return nil, err
	}
	return decodeMessage(result)
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.invoke(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
		"show_alert":        showAlert,
	}
	if text != "" {
		payload["text"] = truncateText(text, maxCallbackAnswerLength)
	}
	_, err := c.invoke(ctx, "answerCallbackQuery", payload)
	return err
}

// WebhookOptions configures webhook registration.
type WebhookOptions struct {
	SecretToken    string
	MaxConnections int
	AllowedUpdates []string
	DropPending    bool
}

// SetWebhook registers the webhook URL with the provider.
func (c *Client) SetWebhook(ctx context.Context, url string, opts WebhookOptions) error {
	payload := map[string]any{
		"url":                  url,
		"drop_pending_updates": opts.DropPending,
	}
	if opts.SecretToken != "" {
		payload["secret_token"] = opts.SecretToken
	}
	if opts.MaxConnections > 0 {
		payload["max_connections"] = opts.MaxConnections
	}
	if len(opts.AllowedUpdates) > 0 {
		payload["allowed_updates"] = opts.AllowedUpdates
	}
	_, err := c.invoke(ctx, "setWebhook", payload)
	return err
}

// DeleteWebhook removes the webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	_, err := c.invoke(ctx, "deleteWebhook", map[string]any{
		"drop_pending_updates": dropPending,
	})
	return err
}

// GetWebhookInfo returns the current webhook registration state.
func (c *Client) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	result, err := c.invoke(ctx, "getWebhookInfo", nil)
	if err != nil {
		return nil, err
	}
	var info WebhookInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("decode webhook info: %w", err)
	}
	return &info, nil
}

// GetMe returns the bot's own identity, cached for up to an hour.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	c.mu.Lock()
	if c.botInfo != nil && time.Since(c.fetchedAt) < botInfoTTL {
		info := c.botInfo
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	result, err := c.invoke(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(result, &user); err != nil {
		return nil, fmt.Errorf("decode bot info: %w", err)
	}

	c.mu.Lock()
	c.botInfo = &user
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return &user, nil
}

// BotUsername returns the bot's username for display purposes.
func (c *Client) BotUsername(ctx context.Context) (string, error) {
	user, err := c.GetMe(ctx)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// invoke executes one Bot API method with bounded retry. Rate-limit hints
// are honored up to maxRateLimitWait; server errors and transport failures
// back off exponentially; other client errors return immediately.
func (c *Client) invoke(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(stripEmpty(payload))
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.cfg.BaseURL, c.cfg.Token, method)

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &APIError{Code: 0, Description: err.Error(), Retriable: true}
			c.logger.Warn("Telegram request failed",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if attempt < c.cfg.MaxAttempts-1 {
				c.sleep(backoffDelay(attempt))
			}
			continue
		}

		var apiResp APIResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&apiResp)
		resp.Body.Close()
		if decodeErr != nil {
			lastErr = &APIError{Code: resp.StatusCode, Description: "invalid JSON response", Retriable: true}
			if attempt < c.cfg.MaxAttempts-1 {
				c.sleep(backoffDelay(attempt))
			}
			continue
		}

		if apiResp.OK {
			return apiResp.Result, nil
		}

		switch {
		case apiResp.ErrorCode == http.StatusTooManyRequests:
			retryAfter := maxRateLimitWait
			if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
				retryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
				if retryAfter > maxRateLimitWait {
					retryAfter = maxRateLimitWait
				}
			}
			lastErr = &APIError{Code: apiResp.ErrorCode, Description: apiResp.Description, Retriable: true}
			c.logger.Warn("Telegram rate limit hit",
				zap.String("method", method),
				zap.Duration("retry_after", retryAfter),
				zap.Int("attempt", attempt+1))
			if attempt < c.cfg.MaxAttempts-1 {
				c.sleep(retryAfter)
				continue
			}

		case apiResp.ErrorCode >= http.StatusInternalServerError:
			lastErr = &APIError{Code: apiResp.ErrorCode, Description: apiResp.Description, Retriable: true}
			c.logger.Warn("Telegram server error",
				zap.String("method", method),
				zap.Int("error_code", apiResp.ErrorCode),
				zap.Int("attempt", attempt+1))
			if attempt < c.cfg.MaxAttempts-1 {
				c.sleep(backoffDelay(attempt))
				continue
			}

		default:
			// Client error class: the provider rejected the call; retrying
			// cannot change the outcome.
			c.logger.Error("Telegram API error",
				zap.String("method", method),
				zap.Int("error_code", apiResp.ErrorCode),
				zap.String("description", apiResp.Description))
			return nil, &APIError{Code: apiResp.ErrorCode, Description: apiResp.Description, Retriable: false}
		}

		return nil, lastErr
	}

	return nil, lastErr
}

// backoffDelay returns 2^attempt seconds.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// stripEmpty drops nil and empty-string values; the Bot API treats absent
// and empty distinctly for some fields.
func stripEmpty(payload map[string]any) map[string]any {
	cleaned := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}

// buildReplyMarkup lays out buttons two per row, preserving order.
func buildReplyMarkup(buttons []Button) InlineKeyboardMarkup {
	var rows [][]InlineKeyboardButton
	var row []InlineKeyboardButton

	for _, b := range buttons {
		if b.Label == "" || b.Action == "" {
			continue
		}

		action := b.Action
		if len(action) > maxCallbackDataBytes {
			action = action[:maxCallbackDataBytes]
		}

		row = append(row, InlineKeyboardButton{
			Text:         truncateText(b.Label, maxButtonLabelLength),
			CallbackData: action,
		})

		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return InlineKeyboardMarkup{InlineKeyboard: rows}
}

// truncateText shortens text to limit UTF-16 code units, appending "..."
// when truncation occurred.
func truncateText(text string, limit int) string {
	if utf16Length(text) <= limit {
		return text
	}

	budget := limit - 3
	units := 0
	for i, r := range text {
		n := 1
		if r >= 0x10000 {
			n = 2
		}
		if units+n > budget {
			return text[:i] + "..."
		}
		units += n
	}
	return text
}

func utf16Length(s string) int {
	units := 0
	for _, r := range s {
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}
	return units
}

func decodeMessage(raw json.RawMessage) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}
