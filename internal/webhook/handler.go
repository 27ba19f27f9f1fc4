// Package webhook receives Bot API updates, authenticates them and routes
// commands and button presses. Processing is asynchronous: once a request
// authenticates and parses, the handler acknowledges immediately and never
// lets a processing failure surface to the provider.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/linktoken"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/internal/repository"
	"github.com/taskflow/telegram-bridge/internal/taskaction"
	"github.com/taskflow/telegram-bridge/internal/telegram"
)

// secretHeader is where the Bot API echoes the secret set at webhook
// registration.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

var (
	taskCallbackPattern    = regexp.MustCompile(`^task:(\d+):([a-z_]+)$`)
	processCallbackPattern = regexp.MustCompile(`^process:(\d+):([a-z_]+)$`)
)

// BotAPI is the slice of the Bot API client the handler needs.
type BotAPI interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons []telegram.Button, opts telegram.SendOptions) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error
}

// Handler processes inbound Telegram updates.
type Handler struct {
	verifier      *Verifier
	accounts      *repository.AccountRepository
	linker        *linktoken.Service
	executor      *taskaction.Executor
	bot           BotAPI
	botUsername   string
	notifications bool
	logger        *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(verifier *Verifier, accounts *repository.AccountRepository, linker *linktoken.Service, executor *taskaction.Executor, bot BotAPI, botUsername string, notificationsEnabled bool, logger *zap.Logger) *Handler {
	return &Handler{
		verifier:      verifier,
		accounts:      accounts,
		linker:        linker,
		executor:      executor,
		bot:           bot,
		botUsername:   botUsername,
		notifications: notificationsEnabled,
		logger:        logger,
	}
}

// RegisterRoutes mounts the webhook endpoint
func (h *Handler) RegisterRoutes(router *gin.Engine, path string) {
	router.POST(path, h.HandleWebhook)
}

// HandleWebhook authenticates and dispatches one update. Authentication
// failures return 403 and malformed payloads 400; everything after that is
// acknowledged with 200 regardless of processing outcome, so the provider
// does not redeliver.
func (h *Handler) HandleWebhook(c *gin.Context) {
	if !h.verifier.AllowIP(c.ClientIP()) {
		h.logger.Warn("Webhook request from disallowed IP", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if !h.verifier.VerifySecret(c.GetHeader(secretHeader)) {
		h.logger.Warn("Webhook secret mismatch", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("Malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	kind := classify(&update)
	h.logger.Debug("Webhook update received",
		zap.Int("update_id", update.UpdateID),
		zap.String("kind", string(kind)))

	if kind != models.UpdateUnknown {
		go h.processUpdate(&update, kind)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func classify(update *telegram.Update) models.UpdateKind {
	switch {
	case update.Message != nil:
		return models.UpdateMessage
	case update.EditedMessage != nil:
		return models.UpdateEditedMessage
	case update.CallbackQuery != nil:
		return models.UpdateCallbackQuery
	}
	return models.UpdateUnknown
}

func (h *Handler) processUpdate(update *telegram.Update, kind models.UpdateKind) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic while processing update",
				zap.Int("update_id", update.UpdateID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch kind {
	case models.UpdateMessage:
		h.handleMessage(ctx, update.Message)
	case models.UpdateEditedMessage:
		h.logger.Debug("Edited message ignored",
			zap.Int64("chat_id", update.EditedMessage.Chat.ID))
	case models.UpdateCallbackQuery:
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		h.logger.Debug("Non-command message ignored", zap.Int64("chat_id", msg.Chat.ID))
		return
	}

	command, arg := splitCommand(text, h.botUsername)
	switch command {
	case "/start":
		h.handleStart(ctx, msg, arg)
	case "/help":
		h.reply(ctx, msg.Chat.ID, helpText())
	case "/status":
		h.handleStatus(ctx, msg.Chat.ID)
	case "/disconnect":
		h.handleDisconnect(ctx, msg.Chat.ID)
	default:
		h.handleUnknownCommand(ctx, msg.Chat.ID, command)
	}
}

// splitCommand separates the command keyword from its argument and strips a
// directed-at-bot suffix like /start@MyBot.
func splitCommand(text, botUsername string) (string, string) {
	parts := strings.SplitN(text, " ", 2)
	command := strings.ToLower(parts[0])
	if botUsername != "" {
		command = strings.TrimSuffix(command, "@"+strings.ToLower(botUsername))
	}
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return command, arg
}

func (h *Handler) handleStart(ctx context.Context, msg *telegram.Message, token string) {
	if token == "" {
		h.reply(ctx, msg.Chat.ID, onboardingText())
		return
	}

	profile := linktoken.Profile{}
	if msg.From != nil {
		profile.Username = msg.From.Username
		profile.FirstName = msg.From.FirstName
	}

	account, err := h.linker.Redeem(ctx, token, msg.Chat.ID, profile)
	if err != nil {
		h.reply(ctx, msg.Chat.ID, redeemFailureText(err))
		return
	}

	h.reply(ctx, msg.Chat.ID, fmt.Sprintf(
		"✅ <b>Account linked</b>\n\nHello, %s! You will now receive task notifications here. Use /help to see what I can do.",
		account.DisplayName()))
}

func redeemFailureText(err error) string {
	var conflict *linktoken.AlreadyLinkedError
	switch {
	case errors.As(err, &conflict):
		return fmt.Sprintf(
			"⚠️ This chat is already linked to <b>%s</b>. Disconnect that account first with /disconnect.",
			conflict.Existing.DisplayName())
	case errors.Is(err, apperr.ErrInvalidToken):
		return "⚠️ That link token is invalid or has expired. Request a new one from your profile page."
	default:
		return "⚠️ Linking failed. Please try again later."
	}
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	account, err := h.accounts.FindByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			h.reply(ctx, chatID, "This chat is not linked to any account. Use /start <token> to link one.")
			return
		}
		h.logger.Error("Status lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	linkedSince := ""
	if account.TelegramLinkedAt != nil {
		linkedSince = account.TelegramLinkedAt.Format("Jan 2, 2006 15:04")
	}
	notifications := "disabled"
	if h.notifications {
		notifications = "enabled"
	}
	h.reply(ctx, chatID, fmt.Sprintf(
		"🔗 <b>Linked account</b>\n\nAccount: %s\nChat ID: %d\nLinked since: %s\nNotifications: %s",
		account.DisplayName(), chatID, linkedSince, notifications))
}

func (h *Handler) handleDisconnect(ctx context.Context, chatID int64) {
	account, err := h.accounts.FindByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			h.reply(ctx, chatID, "This chat is not linked to any account.")
			return
		}
		h.logger.Error("Disconnect lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	if err := h.linker.Disconnect(ctx, account.ID); err != nil {
		if errors.Is(err, apperr.ErrAlreadyUnlinked) {
			h.reply(ctx, chatID, "This chat is not linked to any account.")
			return
		}
		h.logger.Error("Disconnect failed", zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	h.reply(ctx, chatID, "👋 Account disconnected. You will no longer receive notifications here.")
}

func (h *Handler) handleUnknownCommand(ctx context.Context, chatID int64, command string) {
	if _, err := h.accounts.FindByChatID(ctx, chatID); err != nil {
		// Unlinked chats get no reply for unknown commands.
		h.logger.Debug("Unknown command from unlinked chat", zap.String("command", command))
		return
	}
	h.send(ctx, chatID, "Unknown command. Use /help to see available commands.", telegram.SendOptions{Silent: true, DisableLinkPreview: true})
}

// handleCallback validates the payload shape first, then resolves the
// account, acknowledges right away and queues the action; the result
// arrives later as an edit of the origin message.
func (h *Handler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.Message == nil {
		h.answer(ctx, cb.ID, "This message is too old to act on.", true)
		return
	}

	if m := taskCallbackPattern.FindStringSubmatch(cb.Data); m != nil {
		h.handleTaskCallback(ctx, cb, m)
		return
	}
	if m := processCallbackPattern.FindStringSubmatch(cb.Data); m != nil {
		h.answer(ctx, cb.ID, fmt.Sprintf("Request #%s acknowledged.", m[1]), false)
		return
	}

	h.logger.Debug("Unrecognized callback payload", zap.String("data", cb.Data))
	h.answer(ctx, cb.ID, "This button is no longer supported.", false)
}

func (h *Handler) handleTaskCallback(ctx context.Context, cb *telegram.CallbackQuery, match []string) {
	taskID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		h.answer(ctx, cb.ID, "This button is no longer supported.", false)
		return
	}
	action, ok := models.ParseActionKind(match[2])
	if !ok {
		h.answer(ctx, cb.ID, "This action is not supported.", false)
		return
	}

	account, err := h.accounts.FindByChatID(ctx, cb.Message.Chat.ID)
	if err != nil {
		h.answer(ctx, cb.ID, "Please link your account first with /start <token>.", true)
		return
	}

	h.answer(ctx, cb.ID, "Working on it...", false)

	messageID := cb.Message.MessageID
	queued := h.executor.Enqueue(models.TaskActionRequest{
		AccountID:       account.ID,
		TaskID:          taskID,
		Action:          action,
		OriginMessageID: &messageID,
	})
	if !queued {
		h.logger.Debug("Duplicate task action dropped",
			zap.Int64("task_id", taskID),
			zap.String("action", string(action)))
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	h.send(ctx, chatID, text, telegram.SendOptions{DisableLinkPreview: true})
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) {
	if _, err := h.bot.SendMessage(ctx, chatID, text, nil, opts); err != nil {
		h.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) answer(ctx context.Context, callbackID, text string, showAlert bool) {
	if err := h.bot.AnswerCallbackQuery(ctx, callbackID, text, showAlert); err != nil {
		h.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}

func onboardingText() string {
	return "👋 <b>Welcome!</b>\n\n" +
		"I deliver workflow task notifications and let you act on tasks from here.\n\n" +
		"To link your account, generate a link token from your profile page and send:\n" +
		"<code>/start your-token</code>"
}

func helpText() string {
	return "<b>Commands</b>\n\n" +
		"/start &lt;token&gt; — link this chat to your account\n" +
		"/status — show the linked account\n" +
		"/disconnect — unlink this chat\n" +
		"/help — this message"
}
