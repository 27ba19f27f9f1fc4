// Package workflow talks to the workflow engine that owns task semantics.
// This service never advances tasks itself; it forwards completions and
// lets the engine accept or reject them.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
)

// Engine is the surface the task-action executor depends on.
type Engine interface {
	CompleteTask(ctx context.Context, taskID int64, formData map[string]string, actorID int64) error
}

// Config holds workflow engine connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP implementation of Engine.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new workflow engine client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type completeRequest struct {
	UserID   int64             `json:"user_id"`
	FormData map[string]string `json:"form_data,omitempty"`
}

// CompleteTask submits a task completion on behalf of an account. Engine
// and transport failures are marked transient; validation rejections are
// terminal.
func (c *Client) CompleteTask(ctx context.Context, taskID int64, formData map[string]string, actorID int64) error {
	body, err := json.Marshal(completeRequest{UserID: actorID, FormData: formData})
	if err != nil {
		return fmt.Errorf("encode completion request: %w", err)
	}

	url := fmt.Sprintf("%s/api/tasks/%d/complete", strings.TrimRight(c.cfg.BaseURL, "/"), taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Transient(fmt.Errorf("workflow engine unreachable: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info("Task completion submitted",
			zap.Int64("task_id", taskID),
			zap.Int64("actor_id", actorID))
		return nil

	case resp.StatusCode == http.StatusNotFound:
		return apperr.ErrNotFound

	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return apperr.ErrUnauthorized

	case resp.StatusCode >= 500:
		return apperr.Transient(fmt.Errorf("workflow engine error: status %d", resp.StatusCode))

	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Task completion rejected",
			zap.Int64("task_id", taskID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("detail", detail))
		return fmt.Errorf("workflow engine rejected completion: status %d", resp.StatusCode)
	}
}
