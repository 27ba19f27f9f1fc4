// Package notification renders and delivers task notifications. Rendering
// is pure; delivery goes through the retry queue.
package notification

import (
	"fmt"
	"strings"

	"github.com/taskflow/telegram-bridge/internal/models"
)

const dueDateFormat = "Jan 2, 2006 15:04"

// defaultTemplates are HTML message bodies keyed by notification type.
// Deployments override individual entries through configuration.
var defaultTemplates = map[models.NotificationType]string{
	models.NotificationAssigned: "📋 <b>New Task Assigned</b>\n\n" +
		"Task: {task_name}\nProcess: {process_name}\nRequest: #{request_id}\nDue: {due_date}",
	models.NotificationCompleted: "✅ <b>Task Completed</b>\n\n" +
		"Task: {task_name}\nProcess: {process_name}\nRequest: #{request_id}",
	models.NotificationOverdue: "⚠️ <b>Task Overdue</b>\n\n" +
		"Task: {task_name}\nProcess: {process_name}\nRequest: #{request_id}\nDue: {due_date}",
	models.NotificationProcessCompleted: "🏁 <b>Process Completed</b>\n\n" +
		"Process: {process_name}\nRequest: #{request_id}",
	models.NotificationGeneric: "{message}",
}

// silentTypes are delivered without a client-side notification sound.
var silentTypes = map[models.NotificationType]bool{
	models.NotificationCompleted:        true,
	models.NotificationProcessCompleted: true,
}

var actionLabels = map[models.ActionKind]string{
	models.ActionComplete: "✅ Complete",
	models.ActionClaim:    "👋 Claim",
	models.ActionView:     "👀 View",
	models.ActionApprove:  "✅ Approve",
	models.ActionReject:   "❌ Reject",
	models.ActionDelegate: "🔄 Delegate",
}

// Builder renders outbound notification messages from templates.
type Builder struct {
	templates map[models.NotificationType]string
	enabled   bool
}

// NewBuilder creates a builder. Entries in overrides replace the default
// template for their type; unknown keys are ignored.
func NewBuilder(overrides map[string]string, enabled bool) *Builder {
	templates := make(map[models.NotificationType]string, len(defaultTemplates))
	for ntype, tmpl := range defaultTemplates {
		templates[ntype] = tmpl
	}
	for key, tmpl := range overrides {
		ntype := models.NotificationType(key)
		if _, known := defaultTemplates[ntype]; known && tmpl != "" {
			templates[ntype] = tmpl
		}
	}
	return &Builder{templates: templates, enabled: enabled}
}

// Enabled reports whether notification delivery is switched on.
func (b *Builder) Enabled() bool {
	return b.enabled
}

// ShouldSend decides eligibility for one recipient. The task must still be
// in the active-or-overdue set; assignment-scoped types additionally require
// the task to be assigned to the account.
func (b *Builder) ShouldSend(account *models.Account, task *models.Task, ntype models.NotificationType) bool {
	if !b.enabled || !account.IsLinked() {
		return false
	}
	if task != nil && !task.Status.Actionable() {
		return false
	}
	switch ntype {
	case models.NotificationAssigned, models.NotificationOverdue:
		return task != nil && task.AssignedTo(account.ID)
	}
	return true
}

// Build renders the message for a task. Unknown action keywords are dropped;
// terminal notification types carry no buttons. The chat ID is left for the
// dispatcher to fill in.
func (b *Builder) Build(task *models.Task, assignee *models.Account, actions []string, ntype models.NotificationType, custom map[string]string) models.OutboundMessage {
	tmpl, ok := b.templates[ntype]
	if !ok {
		tmpl = b.templates[models.NotificationGeneric]
	}

	msg := models.OutboundMessage{
		Text:               render(tmpl, placeholders(task, assignee, custom)),
		Silent:             silentTypes[ntype],
		DisableLinkPreview: true,
	}

	if task != nil && !silentTypes[ntype] {
		msg.Buttons = buildButtons(task.ID, actions)
	}

	return msg
}

func buildButtons(taskID int64, actions []string) []models.Button {
	var buttons []models.Button
	for _, raw := range actions {
		kind, ok := models.ParseActionKind(raw)
		if !ok {
			continue
		}
		buttons = append(buttons, models.Button{
			Label:  actionLabels[kind],
			Action: fmt.Sprintf("task:%d:%s", taskID, kind),
		})
	}
	return buttons
}

func placeholders(task *models.Task, assignee *models.Account, custom map[string]string) map[string]string {
	values := make(map[string]string, len(custom)+10)

	if task != nil {
		values["task_id"] = fmt.Sprintf("%d", task.ID)
		values["task_name"] = task.ElementName
		values["process_name"] = task.ProcessName
		values["request_id"] = fmt.Sprintf("%d", task.RequestID)
		values["status"] = string(task.Status)
		values["created_at"] = task.CreatedAt.Format(dueDateFormat)
		if task.DueAt != nil {
			values["due_date"] = task.DueAt.Format(dueDateFormat)
		} else {
			values["due_date"] = "No due date"
		}
	}

	values["assignee"] = "Unassigned"
	values["assignee_username"] = ""
	if assignee != nil {
		values["assignee"] = assignee.DisplayName()
		values["assignee_username"] = assignee.Username
	}

	for k, v := range custom {
		values[k] = v
	}
	return values
}

func render(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
