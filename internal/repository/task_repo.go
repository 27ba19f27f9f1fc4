package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/pkg/database"
)

// TaskRepository provides data access for workflow task references.
type TaskRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *database.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `id, element_name, process_name, request_id, status,
	user_id, due_at, created_at, close_reason`

// Create inserts a new task reference
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (element_name, process_name, request_id, status,
			user_id, due_at, created_at, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		task.ElementName,
		task.ProcessName,
		task.RequestID,
		string(task.Status),
		nullInt64(task.UserID),
		nullTime(task.DueAt),
		task.CreatedAt,
		nullString(task.CloseReason),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get task id: %w", err)
	}
	task.ID = id
	return nil
}

// FindByID retrieves a task by its primary key
func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns)

	var task models.Task
	var status string
	var userID sql.NullInt64
	var dueAt sql.NullTime
	var closeReason sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID,
		&task.ElementName,
		&task.ProcessName,
		&task.RequestID,
		&status,
		&userID,
		&dueAt,
		&task.CreatedAt,
		&closeReason,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	task.Status = models.TaskStatus(status)
	if userID.Valid {
		task.UserID = &userID.Int64
	}
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}
	if closeReason.Valid {
		task.CloseReason = &closeReason.String
	}

	return &task, nil
}

// Claim assigns an unassigned task to the account. The conditional update
// decides the race; false means another account claimed first.
func (r *TaskRepository) Claim(ctx context.Context, taskID, accountID int64) (bool, error) {
	query := `
		UPDATE tasks
		SET user_id = ?, status = ?
		WHERE id = ? AND user_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, accountID, string(models.TaskStatusActive), taskID)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Reassign moves the task to another account regardless of current assignee.
func (r *TaskRepository) Reassign(ctx context.Context, taskID, newUserID int64) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET user_id = ? WHERE id = ?",
		newUserID, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to reassign task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Close marks the task closed with a reason.
func (r *TaskRepository) Close(ctx context.Context, taskID int64, reason string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, close_reason = ? WHERE id = ?",
		string(models.TaskStatusClosed), reason, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to close task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the task lifecycle state.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID int64, status models.TaskStatus) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET status = ? WHERE id = ?",
		string(status), taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
