// Package taskaction executes task actions triggered from Telegram inline
// buttons. Execution happens on the retry queue, keyed so that repeated
// presses of the same button collapse into one attempt.
package taskaction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/internal/queue"
	"github.com/taskflow/telegram-bridge/internal/repository"
	"github.com/taskflow/telegram-bridge/internal/telegram"
	"github.com/taskflow/telegram-bridge/internal/workflow"
)

const outcomeTimeFormat = "Jan 2, 2006 15:04"

// actionPolicy retries transient failures only; authorization and state
// rejections fail on the first attempt.
var actionPolicy = queue.RetryPolicy{
	MaxAttempts: 3,
	Backoff:     []time.Duration{30 * time.Second, 120 * time.Second, 300 * time.Second},
	Timeout:     120 * time.Second,
}

// Messenger is the slice of the Bot API client used for outcome reporting.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons []telegram.Button, opts telegram.SendOptions) (*telegram.Message, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons []telegram.Button) (*telegram.Message, error)
}

// Executor runs task actions and reports outcomes back into the chat.
type Executor struct {
	tasks    *repository.TaskRepository
	accounts *repository.AccountRepository
	engine   workflow.Engine
	bot      Messenger
	queue    *queue.Queue
	logger   *zap.Logger

	// now is swapped out in tests.
	now func() time.Time
}

// NewExecutor creates a new task action executor
func NewExecutor(tasks *repository.TaskRepository, accounts *repository.AccountRepository, engine workflow.Engine, bot Messenger, q *queue.Queue, logger *zap.Logger) *Executor {
	return &Executor{
		tasks:    tasks,
		accounts: accounts,
		engine:   engine,
		bot:      bot,
		queue:    q,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue submits an action for background execution. Returns false when an
// identical action is already pending.
func (e *Executor) Enqueue(req models.TaskActionRequest) bool {
	return e.queue.Enqueue(queue.Job{
		Key:    req.DedupKey(),
		Policy: actionPolicy,
		Run: func(ctx context.Context) error {
			return e.execute(ctx, req)
		},
	})
}

// Execute runs an action synchronously. The webhook path uses Enqueue; this
// entry point exists for tests and administrative tooling.
func (e *Executor) Execute(ctx context.Context, req models.TaskActionRequest) error {
	return e.execute(ctx, req)
}

func (e *Executor) execute(ctx context.Context, req models.TaskActionRequest) error {
	account, err := e.accounts.FindByID(ctx, req.AccountID)
	if err != nil {
		return e.finish(ctx, req, nil, nil, err)
	}

	task, err := e.tasks.FindByID(ctx, req.TaskID)
	if err != nil {
		return e.finish(ctx, req, account, nil, err)
	}

	if err := e.authorize(task, account, req.Action); err != nil {
		return e.finish(ctx, req, account, task, err)
	}

	err = e.perform(ctx, req, task, account)
	return e.finish(ctx, req, account, task, err)
}

// authorize enforces who may run which action. View is read-only and open
// to any linked account; claim requires an unassigned task; everything else
// requires the current assignee.
func (e *Executor) authorize(task *models.Task, account *models.Account, action models.ActionKind) error {
	if action == models.ActionView {
		return nil
	}
	if !task.Status.Actionable() {
		return apperr.ErrInvalidState
	}

	if action == models.ActionClaim {
		if task.UserID != nil {
			return apperr.ErrAlreadyClaimed
		}
		return nil
	}

	if !task.AssignedTo(account.ID) {
		return apperr.ErrUnauthorized
	}
	return nil
}

func (e *Executor) perform(ctx context.Context, req models.TaskActionRequest, task *models.Task, account *models.Account) error {
	switch req.Action {
	case models.ActionComplete, models.ActionApprove:
		if err := e.engine.CompleteTask(ctx, task.ID, req.Extra, account.ID); err != nil {
			return err
		}
		if err := e.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusCompleted); err != nil {
			return apperr.Transient(err)
		}
		return nil

	case models.ActionClaim:
		won, err := e.tasks.Claim(ctx, task.ID, account.ID)
		if err != nil {
			return apperr.Transient(err)
		}
		if !won {
			return apperr.ErrAlreadyClaimed
		}
		return nil

	case models.ActionReject:
		reason := req.Extra["reason"]
		if reason == "" {
			reason = "rejected via bot"
		}
		if err := e.tasks.Close(ctx, task.ID, reason); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			return apperr.Transient(err)
		}
		return nil

	case models.ActionDelegate:
		raw, ok := req.Extra["target_user_id"]
		if !ok {
			return fmt.Errorf("delegate requires a target user")
		}
		target, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid delegate target %q", raw)
		}
		if err := e.tasks.Reassign(ctx, task.ID, target); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			return apperr.Transient(err)
		}
		return nil

	case models.ActionView:
		return nil

	default:
		return fmt.Errorf("unsupported action %q", req.Action)
	}
}

// finish reports the outcome back into the chat and returns the execution
// error unchanged so the queue can apply its retry decision.
func (e *Executor) finish(ctx context.Context, req models.TaskActionRequest, account *models.Account, task *models.Task, execErr error) error {
	if execErr == nil {
		e.logger.Info("Task action executed",
			zap.Int64("task_id", req.TaskID),
			zap.Int64("account_id", req.AccountID),
			zap.String("action", string(req.Action)))
	} else {
		e.logger.Warn("Task action failed",
			zap.Int64("task_id", req.TaskID),
			zap.Int64("account_id", req.AccountID),
			zap.String("action", string(req.Action)),
			zap.Error(execErr))
	}

	e.report(ctx, req, account, task, execErr)
	return execErr
}

func (e *Executor) report(ctx context.Context, req models.TaskActionRequest, account *models.Account, task *models.Task, execErr error) {
	if account == nil {
		return
	}
	chatID, linked := account.ChatBinding()
	if !linked {
		return
	}

	text := e.outcomeText(req, task, execErr)

	var err error
	if req.OriginMessageID != nil {
		_, err = e.bot.EditMessage(ctx, chatID, *req.OriginMessageID, text, nil)
	} else {
		_, err = e.bot.SendMessage(ctx, chatID, text, nil, telegram.SendOptions{DisableLinkPreview: true})
	}
	if err != nil {
		e.logger.Warn("Failed to report action outcome",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

func (e *Executor) outcomeText(req models.TaskActionRequest, task *models.Task, execErr error) string {
	name := fmt.Sprintf("Task #%d", req.TaskID)
	if task != nil {
		name = task.ElementName
	}

	if execErr != nil {
		return fmt.Sprintf("⚠️ <b>%s</b>\n%s", name, failureReason(execErr))
	}

	if req.Action == models.ActionView && task != nil {
		return taskSummary(task)
	}

	return fmt.Sprintf("✅ <b>%s</b>\n%s • %s",
		name, outcomeVerb(req.Action), e.now().Format(outcomeTimeFormat))
}

func taskSummary(task *models.Task) string {
	due := "No due date"
	if task.DueAt != nil {
		due = task.DueAt.Format(outcomeTimeFormat)
	}
	return fmt.Sprintf("👀 <b>%s</b>\nProcess: %s\nRequest: #%d\nStatus: %s\nDue: %s",
		task.ElementName, task.ProcessName, task.RequestID, task.Status, due)
}

func outcomeVerb(action models.ActionKind) string {
	switch action {
	case models.ActionComplete:
		return "Completed"
	case models.ActionApprove:
		return "Approved"
	case models.ActionClaim:
		return "Claimed"
	case models.ActionReject:
		return "Rejected"
	case models.ActionDelegate:
		return "Delegated"
	default:
		return "Done"
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrAlreadyClaimed):
		return "This task was already claimed by someone else."
	case errors.Is(err, apperr.ErrUnauthorized):
		return "You are not assigned to this task."
	case errors.Is(err, apperr.ErrInvalidState):
		return "This task is no longer open."
	case errors.Is(err, apperr.ErrNotFound):
		return "This task no longer exists."
	case apperr.IsTransient(err):
		return "Temporary problem, will retry shortly."
	default:
		return "The action could not be completed."
	}
}
