// Package api exposes the internal HTTP surface the workflow system calls:
// notification triggers and link-token management. It is not reachable by
// Telegram; the webhook package owns that side.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/linktoken"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/internal/notification"
	"github.com/taskflow/telegram-bridge/internal/repository"
)

// Handler serves the internal workflow-facing API.
type Handler struct {
	accounts   *repository.AccountRepository
	tasks      *repository.TaskRepository
	dispatcher *notification.Dispatcher
	linker     *linktoken.Service
	apiKey     string
	logger     *zap.Logger
}

// NewHandler creates a new internal API handler
func NewHandler(accounts *repository.AccountRepository, tasks *repository.TaskRepository, dispatcher *notification.Dispatcher, linker *linktoken.Service, apiKey string, logger *zap.Logger) *Handler {
	return &Handler{
		accounts:   accounts,
		tasks:      tasks,
		dispatcher: dispatcher,
		linker:     linker,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// RegisterRoutes mounts the internal API under /api/v1.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1", h.authorize)
	{
		api.POST("/notifications", h.sendNotification)
		api.POST("/accounts/:id/link-token", h.issueLinkToken)
		api.DELETE("/accounts/:id/link", h.disconnect)
	}
}

func (h *Handler) authorize(c *gin.Context) {
	if h.apiKey == "" {
		c.Next()
		return
	}
	presented := c.GetHeader("Authorization")
	if subtle.ConstantTimeCompare([]byte(presented), []byte("Bearer "+h.apiKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

type notifyRequest struct {
	AccountID int64             `json:"account_id" binding:"required"`
	TaskID    int64             `json:"task_id"`
	Type      string            `json:"type" binding:"required"`
	Actions   []string          `json:"actions"`
	Data      map[string]string `json:"data"`
}

func (h *Handler) sendNotification(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	account, err := h.accounts.FindByID(c.Request.Context(), req.AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var task *models.Task
	if req.TaskID != 0 {
		task, err = h.tasks.FindByID(c.Request.Context(), req.TaskID)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}

	queued := h.dispatcher.Notify(account, task, models.NotificationType(req.Type), req.Actions, req.Data)
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (h *Handler) issueLinkToken(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var token string
	if c.Query("regenerate") == "true" {
		token, err = h.linker.Regenerate(c.Request.Context(), accountID)
	} else {
		token, err = h.linker.Issue(c.Request.Context(), accountID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	// The plaintext appears in this response and nowhere else.
	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"expires_in": "1h",
		"created_at": time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) disconnect(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	if err := h.linker.Disconnect(c.Request.Context(), accountID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, apperr.ErrAlreadyLinked):
		c.JSON(http.StatusConflict, gin.H{"error": "account already linked"})
	case errors.Is(err, apperr.ErrAlreadyUnlinked):
		c.JSON(http.StatusConflict, gin.H{"error": "account not linked"})
	default:
		h.logger.Error("Internal API error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
