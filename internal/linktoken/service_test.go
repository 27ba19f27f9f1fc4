package linktoken

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
	"github.com/taskflow/telegram-bridge/internal/models"
	"github.com/taskflow/telegram-bridge/internal/repository"
	"github.com/taskflow/telegram-bridge/pkg/database"
)

func newTestRepo(t *testing.T) *repository.AccountRepository {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations("../../migrations"))

	return repository.NewAccountRepository(db, logger)
}

func newTestService(t *testing.T) (*Service, *repository.AccountRepository) {
	repo := newTestRepo(t)
	return NewService(repo, time.Hour, zap.NewNop()), repo
}

func createAccount(t *testing.T, repo *repository.AccountRepository, username string) *models.Account {
	t.Helper()
	account := &models.Account{Username: username}
	require.NoError(t, repo.Create(context.Background(), account))
	return account
}

func TestIssueAndRedeem(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	token, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Plaintext is never stored.
	stored, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TelegramLinkDigest)
	assert.NotEqual(t, token, *stored.TelegramLinkDigest)

	linked, err := svc.Redeem(ctx, token, 555, Profile{Username: "alice_tg", FirstName: "Alice"})
	require.NoError(t, err)

	require.NotNil(t, linked.TelegramChatID)
	assert.Equal(t, int64(555), *linked.TelegramChatID)
	assert.NotNil(t, linked.TelegramLinkedAt)
	assert.Nil(t, linked.TelegramLinkDigest)
	require.NotNil(t, linked.TelegramUsername)
	assert.Equal(t, "alice_tg", *linked.TelegramUsername)
}

func TestRedeem_SingleUse(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	token, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, token, 555, Profile{})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, token, 556, Profile{})
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}

func TestRedeem_ConcurrentOneWinner(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	token, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = svc.Redeem(ctx, token, 555, Profile{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	stored, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TelegramChatID)
	assert.Equal(t, int64(555), *stored.TelegramChatID)
}

func TestRedeem_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Redeem(context.Background(), "does-not-exist", 555, Profile{})
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}

func TestRedeem_ChatConflict(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	alice := createAccount(t, repo, "alice")
	bob := createAccount(t, repo, "bob")

	tokenAlice, err := svc.Issue(ctx, alice.ID)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, tokenAlice, 555, Profile{})
	require.NoError(t, err)

	tokenBob, err := svc.Issue(ctx, bob.ID)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, tokenBob, 555, Profile{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrChatAlreadyLinked)

	var conflict *AlreadyLinkedError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "alice", conflict.Existing.Username)
}

func TestRedeem_ExpiredToken(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	token, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = svc.Redeem(ctx, token, 555, Profile{})
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	// Expiry also clears the stored digest.
	stored, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.TelegramLinkDigest)
}

func TestIssue_AlreadyLinked(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	token, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, token, 555, Profile{})
	require.NoError(t, err)

	_, err = svc.Issue(ctx, account.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyLinked)
}

func TestRegenerate_ReplacesOutstandingToken(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	first, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)

	second, err := svc.Regenerate(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = svc.Redeem(ctx, first, 555, Profile{})
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)

	_, err = svc.Redeem(ctx, second, 555, Profile{})
	assert.NoError(t, err)
}

func TestDisconnect(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	account := createAccount(t, repo, "alice")

	token, err := svc.Issue(ctx, account.ID)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, token, 555, Profile{})
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect(ctx, account.ID))

	stored, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.TelegramChatID)
	assert.Nil(t, stored.TelegramLinkedAt)

	// Second disconnect reports the no-op.
	err = svc.Disconnect(ctx, account.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyUnlinked)
}
