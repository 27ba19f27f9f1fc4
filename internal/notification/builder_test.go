package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/telegram-bridge/internal/models"
)

func sampleTask() *models.Task {
	due := time.Date(2026, time.March, 15, 14, 30, 0, 0, time.UTC)
	userID := int64(7)
	return &models.Task{
		ID:          77,
		ElementName: "Review Invoice",
		ProcessName: "Procurement",
		RequestID:   301,
		Status:      models.TaskStatusActive,
		UserID:      &userID,
		DueAt:       &due,
		CreatedAt:   time.Now(),
	}
}

func linkedAccount(id int64) *models.Account {
	chatID := int64(555)
	return &models.Account{ID: id, Username: "alice", TelegramChatID: &chatID}
}

func TestBuild_DropsUnknownActions(t *testing.T) {
	b := NewBuilder(nil, true)

	msg := b.Build(sampleTask(), nil, []string{"complete", "bogus", "claim"}, models.NotificationAssigned, nil)

	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, "task:77:complete", msg.Buttons[0].Action)
	assert.Equal(t, "✅ Complete", msg.Buttons[0].Label)
	assert.Equal(t, "task:77:claim", msg.Buttons[1].Action)
	assert.Equal(t, "👋 Claim", msg.Buttons[1].Label)
}

func TestBuild_RendersPlaceholders(t *testing.T) {
	b := NewBuilder(nil, true)

	msg := b.Build(sampleTask(), nil, nil, models.NotificationAssigned, nil)

	assert.Contains(t, msg.Text, "Review Invoice")
	assert.Contains(t, msg.Text, "Procurement")
	assert.Contains(t, msg.Text, "#301")
	assert.Contains(t, msg.Text, "Mar 15, 2026 14:30")
	assert.True(t, msg.DisableLinkPreview)
}

func TestBuild_NoDueDate(t *testing.T) {
	b := NewBuilder(nil, true)
	task := sampleTask()
	task.DueAt = nil

	msg := b.Build(task, nil, nil, models.NotificationAssigned, nil)
	assert.Contains(t, msg.Text, "No due date")
}

func TestBuild_SilentTypesCarryNoButtons(t *testing.T) {
	b := NewBuilder(nil, true)

	tests := []struct {
		ntype  models.NotificationType
		silent bool
	}{
		{models.NotificationAssigned, false},
		{models.NotificationOverdue, false},
		{models.NotificationCompleted, true},
		{models.NotificationProcessCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.ntype), func(t *testing.T) {
			msg := b.Build(sampleTask(), nil, []string{"complete"}, tt.ntype, nil)
			assert.Equal(t, tt.silent, msg.Silent)
			if tt.silent {
				assert.Empty(t, msg.Buttons)
			} else {
				assert.NotEmpty(t, msg.Buttons)
			}
		})
	}
}

func TestBuild_TemplateOverride(t *testing.T) {
	b := NewBuilder(map[string]string{
		"assigned": "custom: {task_name}",
		"unknown":  "ignored",
	}, true)

	msg := b.Build(sampleTask(), nil, nil, models.NotificationAssigned, nil)
	assert.Equal(t, "custom: Review Invoice", msg.Text)
}

func TestBuild_GenericUsesCustomData(t *testing.T) {
	b := NewBuilder(nil, true)

	msg := b.Build(nil, nil, nil, models.NotificationGeneric, map[string]string{"message": "hello there"})
	assert.Equal(t, "hello there", msg.Text)
}

func TestShouldSend(t *testing.T) {
	b := NewBuilder(nil, true)
	disabled := NewBuilder(nil, false)

	task := sampleTask()
	assignee := linkedAccount(7)
	other := linkedAccount(8)
	unlinked := &models.Account{ID: 7, Username: "bob"}

	tests := []struct {
		name    string
		builder *Builder
		account *models.Account
		ntype   models.NotificationType
		want    bool
	}{
		{"assignee gets assigned", b, assignee, models.NotificationAssigned, true},
		{"non-assignee skipped for assigned", b, other, models.NotificationAssigned, false},
		{"unlinked account skipped", b, unlinked, models.NotificationAssigned, false},
		{"disabled builder skips all", disabled, assignee, models.NotificationAssigned, false},
		{"overdue requires assignment", b, other, models.NotificationOverdue, false},
		{"completed goes to any linked", b, other, models.NotificationCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.builder.ShouldSend(tt.account, task, tt.ntype))
		})
	}
}

func TestShouldSend_InactiveTask(t *testing.T) {
	b := NewBuilder(nil, true)
	assignee := linkedAccount(7)

	for _, status := range []models.TaskStatus{models.TaskStatusClosed, models.TaskStatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			task := sampleTask()
			task.Status = status
			assert.False(t, b.ShouldSend(assignee, task, models.NotificationAssigned))
		})
	}

	t.Run("overdue task stays eligible", func(t *testing.T) {
		task := sampleTask()
		task.Status = models.TaskStatusOverdue
		assert.True(t, b.ShouldSend(assignee, task, models.NotificationOverdue))
	})
}

func TestBuild_AssigneePlaceholders(t *testing.T) {
	b := NewBuilder(map[string]string{
		"assigned": "#{task_id} {assignee} ({assignee_username}) {status} {created_at}",
	}, true)

	task := sampleTask()
	task.CreatedAt = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	assignee := &models.Account{ID: 7, Username: "alice", FullName: "Alice Liddell"}

	msg := b.Build(task, assignee, nil, models.NotificationAssigned, nil)
	assert.Equal(t, "#77 Alice Liddell (alice) ACTIVE Mar 1, 2026 09:00", msg.Text)
}

func TestBuild_UnassignedPlaceholderFallback(t *testing.T) {
	b := NewBuilder(map[string]string{"assigned": "{assignee}"}, true)

	msg := b.Build(sampleTask(), nil, nil, models.NotificationAssigned, nil)
	assert.Equal(t, "Unassigned", msg.Text)
}
