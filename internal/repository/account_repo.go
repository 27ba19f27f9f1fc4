package repository

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/pkg/database"
)

// AccountRepository provides data access for accounts and their Telegram
// chat bindings.
type AccountRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *database.DB, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

const accountColumns = `id, username, full_name, telegram_chat_id,
	telegram_link_digest, telegram_linked_at, telegram_username, telegram_first_name`

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (username, full_name, telegram_chat_id,
			telegram_link_digest, telegram_linked_at, telegram_username, telegram_first_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		account.Username,
		account.FullName,
		nullInt64(account.TelegramChatID),
		nullString(account.TelegramLinkDigest),
		nullTime(account.TelegramLinkedAt),
		nullString(account.TelegramUsername),
		nullString(account.TelegramFirstName),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get account id: %w", err)
	}
	account.ID = id
	return nil
}

// FindByID retrieves an account by its primary key
func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE id = ?", accountColumns)
	return r.scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// FindByChatID retrieves the account bound to a Telegram chat
func (r *AccountRepository) FindByChatID(ctx context.Context, chatID int64) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE telegram_chat_id = ?", accountColumns)
	return r.scanAccount(r.db.QueryRowContext(ctx, query, chatID))
}

// FindByLinkDigest retrieves the account holding the given token digest.
// Candidate digests are compared in constant time.
func (r *AccountRepository) FindByLinkDigest(ctx context.Context, digest string) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE telegram_link_digest IS NOT NULL", accountColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query link digests: %w", err)
	}
	defer rows.Close()

	var match *models.Account
	for rows.Next() {
		account, err := r.scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		if account.TelegramLinkDigest == nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(*account.TelegramLinkDigest), []byte(digest)) == 1 {
			match = account
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if match == nil {
		return nil, apperr.ErrNotFound
	}
	return match, nil
}

// SetLinkDigest stores a new token digest, replacing any outstanding one.
func (r *AccountRepository) SetLinkDigest(ctx context.Context, accountID int64, digest string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET telegram_link_digest = ? WHERE id = ?",
		digest, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set link digest: %w", err)
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

// ClearLinkDigest invalidates the outstanding token digest, if any.
func (r *AccountRepository) ClearLinkDigest(ctx context.Context, accountID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET telegram_link_digest = NULL WHERE id = ?",
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear link digest: %w", err)
	}
	return nil
}

// LinkProfile carries the Telegram profile fields captured at redemption.
type LinkProfile struct {
	Username  string
	FirstName string
}

// Redeem atomically binds the chat to the account and consumes the token
// digest. The conditional update guarantees single use under concurrent
// redemption; false means another caller won or the digest was cleared.
func (r *AccountRepository) Redeem(ctx context.Context, accountID int64, digest string, chatID int64, profile LinkProfile, linkedAt time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET telegram_chat_id = ?,
			telegram_linked_at = ?,
			telegram_username = ?,
			telegram_first_name = ?,
			telegram_link_digest = NULL
		WHERE id = ? AND telegram_link_digest = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		chatID, linkedAt, profile.Username, profile.FirstName, accountID, digest,
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem link token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Disconnect clears the chat binding. Returns false when the account held
// no binding, so callers can report the no-op distinctly.
func (r *AccountRepository) Disconnect(ctx context.Context, accountID int64) (bool, error) {
	query := `
		UPDATE accounts
		SET telegram_chat_id = NULL,
			telegram_linked_at = NULL,
			telegram_username = NULL,
			telegram_first_name = NULL,
			telegram_link_digest = NULL
		WHERE id = ? AND telegram_chat_id IS NOT NULL
	`
	result, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to disconnect account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AccountRepository) scanAccount(row *sql.Row) (*models.Account, error) {
	account, err := scanAccountFrom(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return account, err
}

func (r *AccountRepository) scanAccountRows(rows *sql.Rows) (*models.Account, error) {
	return scanAccountFrom(rows)
}

func scanAccountFrom(s rowScanner) (*models.Account, error) {
	var account models.Account
	var chatID sql.NullInt64
	var digest, tgUsername, tgFirstName sql.NullString
	var linkedAt sql.NullTime

	err := s.Scan(
		&account.ID,
		&account.Username,
		&account.FullName,
		&chatID,
		&digest,
		&linkedAt,
		&tgUsername,
		&tgFirstName,
	)
	if err != nil {
		return nil, err
	}

	if chatID.Valid {
		account.TelegramChatID = &chatID.Int64
	}
	if digest.Valid {
		account.TelegramLinkDigest = &digest.String
	}
	if linkedAt.Valid {
		account.TelegramLinkedAt = &linkedAt.Time
	}
	if tgUsername.Valid {
		account.TelegramUsername = &tgUsername.String
	}
	if tgFirstName.Valid {
		account.TelegramFirstName = &tgFirstName.String
	}

	return &account, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
