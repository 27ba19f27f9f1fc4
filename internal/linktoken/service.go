// Package linktoken implements account linking through single-use tokens.
// A token's plaintext leaves the process exactly once, at issuance; only
// its sha256 digest is stored, and redemption is atomic so concurrent
// redemptions of the same token produce exactly one winner.
package linktoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/internal/repository"
)

const tokenRandomBytes = 32

// Profile carries the Telegram profile fields captured at redemption time.
type Profile struct {
	Username  string
	FirstName string
}

// AlreadyLinkedError reports a redemption attempt from a chat that is bound
// to a different account. It unwraps to apperr.ErrChatAlreadyLinked and
// carries the conflicting account for message rendering.
type AlreadyLinkedError struct {
	Existing *models.Account
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("chat already linked to account %q", e.Existing.Username)
}

func (e *AlreadyLinkedError) Unwrap() error { return apperr.ErrChatAlreadyLinked }

// Service issues, redeems and revokes link tokens.
type Service struct {
	accounts *repository.AccountRepository
	ttl      time.Duration
	logger   *zap.Logger

	// now is swapped out in tests.
	now func() time.Time
}

// NewService creates a new link token service
func NewService(accounts *repository.AccountRepository, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		accounts: accounts,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Issue generates a fresh link token for an unlinked account, replacing any
// outstanding one. The returned plaintext is never stored or logged.
func (s *Service) Issue(ctx context.Context, accountID int64) (string, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.IsLinked() {
		return "", apperr.ErrAlreadyLinked
	}

	plaintext, err := s.generate(accountID)
	if err != nil {
		return "", err
	}

	if err := s.accounts.SetLinkDigest(ctx, accountID, digestOf(plaintext)); err != nil {
		return "", err
	}

	s.logger.Info("Link token issued", zap.Int64("account_id", accountID))
	return plaintext, nil
}

// Regenerate invalidates the outstanding token and issues a new one.
func (s *Service) Regenerate(ctx context.Context, accountID int64) (string, error) {
	if err := s.accounts.ClearLinkDigest(ctx, accountID); err != nil {
		return "", err
	}
	return s.Issue(ctx, accountID)
}

// Redeem consumes a token plaintext and binds the chat to its account.
// Expired, unknown and already-consumed tokens all surface as
// apperr.ErrInvalidToken; the caller cannot distinguish them.
func (s *Service) Redeem(ctx context.Context, plaintext string, chatID int64, profile Profile) (*models.Account, error) {
	digest := digestOf(plaintext)

	account, err := s.accounts.FindByLinkDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidToken
		}
		return nil, err
	}

	issuedAt, ok := issuedTime(plaintext)
	if !ok {
		return nil, apperr.ErrInvalidToken
	}
	if s.now().Sub(issuedAt) > s.ttl {
		if err := s.accounts.ClearLinkDigest(ctx, account.ID); err != nil {
			s.logger.Error("Failed to clear expired token digest",
				zap.Int64("account_id", account.ID), zap.Error(err))
		}
		return nil, apperr.ErrInvalidToken
	}

	existing, err := s.accounts.FindByChatID(ctx, chatID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.ID != account.ID {
		return nil, &AlreadyLinkedError{Existing: existing}
	}

	won, err := s.accounts.Redeem(ctx, account.ID, digest, chatID, repository.LinkProfile{
		Username:  profile.Username,
		FirstName: profile.FirstName,
	}, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperr.ErrInvalidToken
	}

	s.logger.Info("Account linked",
		zap.Int64("account_id", account.ID),
		zap.Int64("chat_id", chatID))

	return s.accounts.FindByID(ctx, account.ID)
}

// Disconnect clears the chat binding. A second disconnect returns
// apperr.ErrAlreadyUnlinked so callers can report the no-op.
func (s *Service) Disconnect(ctx context.Context, accountID int64) error {
	ok, err := s.accounts.Disconnect(ctx, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrAlreadyUnlinked
	}
	s.logger.Info("Account unlinked", zap.Int64("account_id", accountID))
	return nil
}

// generate produces the token plaintext: random hex, the account ID and the
// issuance time joined by underscores. The embedded time drives TTL checks
// at redemption without a separate issued-at column.
func (s *Service) generate(accountID int64) (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return fmt.Sprintf("%s_%d_%d", hex.EncodeToString(buf), accountID, s.now().Unix()), nil
}

func digestOf(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func issuedTime(plaintext string) (time.Time, bool) {
	parts := strings.Split(plaintext, "_")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
