package models

import "fmt"

// ActionKind is a closed enumeration of the task actions reachable from a
// Telegram message button.
type ActionKind string

const (
	ActionComplete ActionKind = "complete"
	ActionClaim    ActionKind = "claim"
	ActionView     ActionKind = "view"
	ActionApprove  ActionKind = "approve"
	ActionReject   ActionKind = "reject"
	ActionDelegate ActionKind = "delegate"
)

// ParseActionKind maps a raw action keyword to its ActionKind. Unknown
// keywords return false rather than falling through as a raw string.
func ParseActionKind(s string) (ActionKind, bool) {
	switch ActionKind(s) {
	case ActionComplete, ActionClaim, ActionView, ActionApprove, ActionReject, ActionDelegate:
		return ActionKind(s), true
	}
	return "", false
}

// UpdateKind classifies an inbound Telegram update.
type UpdateKind string

const (
	UpdateMessage       UpdateKind = "message"
	UpdateEditedMessage UpdateKind = "edited_message"
	UpdateCallbackQuery UpdateKind = "callback_query"
	UpdateUnknown       UpdateKind = "unknown"
)

// NotificationType selects the message template and delivery options for an
// outbound task notification.
type NotificationType string

const (
	NotificationAssigned         NotificationType = "assigned"
	NotificationCompleted        NotificationType = "completed"
	NotificationOverdue          NotificationType = "overdue"
	NotificationProcessCompleted NotificationType = "process_completed"
	NotificationGeneric          NotificationType = "generic"
)

// Button is one inline keyboard button: a label and the callback payload
// delivered back when it is pressed.
type Button struct {
	Label  string
	Action string
}

// OutboundMessage is a fully rendered message ready for delivery.
// EditMessageID, when set, turns the delivery into an in-place edit.
type OutboundMessage struct {
	ChatID             int64
	Text               string
	Buttons            []Button
	Silent             bool
	DisableLinkPreview bool
	EditMessageID      *int
}

// TaskActionRequest is a unit of background work triggered by a button
// press. Requests sharing a dedup key are executed at most once at a time.
type TaskActionRequest struct {
	AccountID       int64
	TaskID          int64
	Action          ActionKind
	OriginMessageID *int
	Extra           map[string]string
}

// DedupKey identifies the request for duplicate suppression.
func (r TaskActionRequest) DedupKey() string {
	return fmt.Sprintf("task_action:%d:%d:%s", r.AccountID, r.TaskID, r.Action)
}
