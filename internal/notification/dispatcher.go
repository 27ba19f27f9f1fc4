package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/internal/queue"
	"github.com/taskflow/telegram-bridge/internal/telegram"
)

// deliveryPolicy retries failed deliveries with widening gaps. Terminal
// provider rejections are not retried.
var deliveryPolicy = queue.RetryPolicy{
	MaxAttempts: 3,
	Backoff:     []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second},
	Timeout:     30 * time.Second,
}

// Messenger is the slice of the Bot API client the dispatcher needs.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons []telegram.Button, opts telegram.SendOptions) (*telegram.Message, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons []telegram.Button) (*telegram.Message, error)
}

// Dispatcher routes rendered notifications to linked accounts through the
// retry queue.
type Dispatcher struct {
	builder *Builder
	bot     Messenger
	queue   *queue.Queue
	logger  *zap.Logger
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(builder *Builder, bot Messenger, q *queue.Queue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		builder: builder,
		bot:     bot,
		queue:   q,
		logger:  logger,
	}
}

// Notify renders and enqueues a notification for one account. Returns false
// when the recipient is ineligible or the delivery was dropped as a
// duplicate.
func (d *Dispatcher) Notify(account *models.Account, task *models.Task, ntype models.NotificationType, actions []string, custom map[string]string) bool {
	if !d.builder.ShouldSend(account, task, ntype) {
		d.logger.Debug("Notification skipped",
			zap.Int64("account_id", account.ID),
			zap.String("type", string(ntype)))
		return false
	}

	chatID, _ := account.ChatBinding()

	var assignee *models.Account
	if task != nil && task.AssignedTo(account.ID) {
		assignee = account
	}
	msg := d.builder.Build(task, assignee, actions, ntype, custom)
	msg.ChatID = chatID

	var taskID int64
	if task != nil {
		taskID = task.ID
	}

	return d.Deliver(msg, fmt.Sprintf("notify:%d:%s:%d", taskID, ntype, account.ID))
}

// Deliver enqueues one rendered message. The key collapses duplicate
// deliveries while one is pending.
func (d *Dispatcher) Deliver(msg models.OutboundMessage, key string) bool {
	return d.queue.Enqueue(queue.Job{
		Key:    key,
		Policy: deliveryPolicy,
		Run: func(ctx context.Context) error {
			return d.send(ctx, msg)
		},
	})
}

func (d *Dispatcher) send(ctx context.Context, msg models.OutboundMessage) error {
	buttons := toWireButtons(msg.Buttons)

	var err error
	if msg.EditMessageID != nil {
		_, err = d.bot.EditMessage(ctx, msg.ChatID, *msg.EditMessageID, msg.Text, buttons)
	} else {
		_, err = d.bot.SendMessage(ctx, msg.ChatID, msg.Text, buttons, telegram.SendOptions{
			Silent:             msg.Silent,
			DisableLinkPreview: msg.DisableLinkPreview,
		})
	}
	return classifyDeliveryError(err)
}

// classifyDeliveryError maps provider failures onto the retry taxonomy:
// rate limits, server errors and transport faults retry, the rest do not.
func classifyDeliveryError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Retriable {
			return apperr.Transient(err)
		}
		return err
	}
	// Context timeouts and anything outside the API error type.
	return apperr.Transient(err)
}

func toWireButtons(buttons []models.Button) []telegram.Button {
	if len(buttons) == 0 {
		return nil
	}
	wire := make([]telegram.Button, len(buttons))
	for i, b := range buttons {
		wire[i] = telegram.Button{Label: b.Label, Action: b.Action}
	}
	return wire
}
