package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by point lookups when no row exists.
	ErrNotFound = errors.New("store: not found")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is a Telegram user known to the bot. Level is the difficulty tier
// (1..5) used for daily lessons.
type User struct {
	TelegramID  int64
	DisplayName string
	Level       int
	CreatedAt   time.Time
}

// Subscription is a paid entitlement window. Reference is the unique payment
// reference that activated it; it doubles as the idempotency key.
type Subscription struct {
	TelegramID int64
	Reference  string
	Status     string // "active" or "cancelled"
	ExpiresAt  time.Time
}

// Subscriber is the projection the daily fan-out reads.
type Subscriber struct {
	TelegramID int64
	Level      int
}

// PendingPayment is an unresolved payment flow. At most one per user; stale
// rows are purged after a TTL.
type PendingPayment struct {
	TelegramID int64
	Reference  string
	AmountNano int64
	Attempts   int
	CreatedAt  time.Time
}

// Sentence is an archived generated lesson. Recent rows per level feed the
// generator's duplicate-exclusion list.
type Sentence struct {
	ID        int64
	Level     int
	ThaiText  string
	English   string
	WordsJSON string
	CreatedAt time.Time
}

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)
