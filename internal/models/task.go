package models

import "time"

// TaskStatus is the lifecycle state of a workflow task.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "ACTIVE"
	TaskStatusOverdue   TaskStatus = "OVERDUE"
	TaskStatusClosed    TaskStatus = "CLOSED"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

// Actionable reports whether task actions may still be performed, i.e. the
// task is in the active-or-overdue set.
func (s TaskStatus) Actionable() bool {
	return s == TaskStatusActive || s == TaskStatusOverdue
}

// Task is a denormalized reference to a workflow task. The workflow engine
// owns task semantics; these fields exist for message rendering and
// authorization checks only.
type Task struct {
	ID          int64
	ElementName string
	ProcessName string
	RequestID   int64
	Status      TaskStatus
	UserID      *int64
	DueAt       *time.Time
	CreatedAt   time.Time
	CloseReason *string
}

// AssignedTo reports whether the task is currently assigned to the account.
func (t *Task) AssignedTo(accountID int64) bool {
	return t.UserID != nil && *t.UserID == accountID
}
