package models

import "time"

// Account represents an internal user account together with its Telegram
// chat binding. At most one account may hold a given chat ID at any time;
// ChatID and LinkedAt are always set and cleared together.
type Account struct {
	ID       int64
	Username string
	FullName string

	// TelegramChatID is the external chat identity, nil when not linked.
	TelegramChatID *int64
	// TelegramLinkDigest is the sha256 hex digest of an outstanding link
	// token. The plaintext is never stored.
	TelegramLinkDigest *string
	TelegramLinkedAt   *time.Time

	// Cached profile fields captured at redemption time, display only.
	TelegramUsername  *string
	TelegramFirstName *string
}

// IsLinked reports whether the account has an active chat binding.
func (a *Account) IsLinked() bool {
	return a != nil && a.TelegramChatID != nil
}

// ChatBinding returns the bound chat ID. The second return value is false
// when the account is not linked.
func (a *Account) ChatBinding() (int64, bool) {
	if !a.IsLinked() {
		return 0, false
	}
	return *a.TelegramChatID, true
}

// DisplayName returns the best human-readable name for the account.
func (a *Account) DisplayName() string {
	if a.FullName != "" {
		return a.FullName
	}
	return a.Username
}
