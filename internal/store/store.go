package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"thaibot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the bot's SQLite persistence layer. It is safe for concurrent use;
// writes are serialized by the single connection.
type Store struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("database path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Users ----

// UpsertUser registers a user if unseen and refreshes the display name.
// The difficulty level of an existing user is never touched here.
func (s *Store) UpsertUser(ctx context.Context, telegramID int64, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, display_name, level, created_at) VALUES(?,?,1,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET display_name=excluded.display_name`,
		telegramID, displayName, time.Now().UnixMilli(),
	)
	return err
}

func (s *Store) GetUser(ctx context.Context, telegramID int64) (User, error) {
	var u User
	var createdMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, display_name, level, created_at FROM users WHERE telegram_id = ?`,
		telegramID,
	).Scan(&u.TelegramID, &u.DisplayName, &u.Level, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = time.UnixMilli(createdMS)
	return u, nil
}

func (s *Store) SetUserLevel(ctx context.Context, telegramID int64, level int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET level = ? WHERE telegram_id = ?`, level, telegramID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Subscriptions ----

// ActiveSubscribers returns all users holding an unexpired active subscription.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.telegram_id, u.level
		   FROM users u
		   JOIN subscriptions sub ON sub.telegram_id = u.telegram_id
		  WHERE sub.status = ? AND sub.expires_at > ?
		  GROUP BY u.telegram_id`,
		StatusActive, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.TelegramID, &sub.Level); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// GetActiveSubscription returns the user's current unexpired active
// subscription, or ErrNotFound.
func (s *Store) GetActiveSubscription(ctx context.Context, telegramID int64) (Subscription, error) {
	var sub Subscription
	var expiresMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, reference, status, expires_at
		   FROM subscriptions
		  WHERE telegram_id = ? AND status = ? AND expires_at > ?
		  ORDER BY expires_at DESC LIMIT 1`,
		telegramID, StatusActive, time.Now().UnixMilli(),
	).Scan(&sub.TelegramID, &sub.Reference, &sub.Status, &expiresMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.ExpiresAt = time.UnixMilli(expiresMS)
	return sub, nil
}

// CreateSubscription activates a subscription for the given payment
// reference. The reference is the idempotency key: calling this twice with
// the same reference inserts exactly one row, and the second call reports
// created=false. Any previous active subscription of the user is cancelled
// first so at most one is active at a time.
func (s *Store) CreateSubscription(ctx context.Context, telegramID int64, reference string, durationDays int) (created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions(telegram_id, reference, status, expires_at, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(reference) DO NOTHING`,
		telegramID, reference, StatusActive,
		now.AddDate(0, 0, durationDays).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Reference already resolved earlier; nothing to do.
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?
		  WHERE telegram_id = ? AND status = ? AND reference != ?`,
		StatusCancelled, telegramID, StatusActive, reference,
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) CancelSubscription(ctx context.Context, telegramID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ? WHERE telegram_id = ? AND status = ?`,
		StatusCancelled, telegramID, StatusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SubscriptionByReference looks a subscription up by its payment reference.
func (s *Store) SubscriptionByReference(ctx context.Context, reference string) (Subscription, error) {
	var sub Subscription
	var expiresMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, reference, status, expires_at FROM subscriptions WHERE reference = ?`,
		reference,
	).Scan(&sub.TelegramID, &sub.Reference, &sub.Status, &expiresMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.ExpiresAt = time.UnixMilli(expiresMS)
	return sub, nil
}

// ---- Pending payments ----

func (s *Store) PutPendingPayment(ctx context.Context, p PendingPayment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_payments(telegram_id, reference, amount_nano, attempts, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   reference=excluded.reference, amount_nano=excluded.amount_nano,
		   attempts=excluded.attempts, created_at=excluded.created_at`,
		p.TelegramID, p.Reference, p.AmountNano, p.Attempts, p.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *Store) GetPendingPayment(ctx context.Context, telegramID int64) (PendingPayment, error) {
	var p PendingPayment
	var createdMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram_id, reference, amount_nano, attempts, created_at
		   FROM pending_payments WHERE telegram_id = ?`,
		telegramID,
	).Scan(&p.TelegramID, &p.Reference, &p.AmountNano, &p.Attempts, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingPayment{}, ErrNotFound
	}
	if err != nil {
		return PendingPayment{}, err
	}
	p.CreatedAt = time.UnixMilli(createdMS)
	return p, nil
}

func (s *Store) DeletePendingPayment(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_payments WHERE telegram_id = ?`, telegramID)
	return err
}

// PrunePendingPayments removes records created before the cutoff and returns
// how many were purged. Stale pending payments are a leak, not a feature.
func (s *Store) PrunePendingPayments(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_payments WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- Sentence archive ----

func (s *Store) AppendSentence(ctx context.Context, sn Sentence) error {
	if sn.CreatedAt.IsZero() {
		sn.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sentences(level, thai_text, english, words_json, created_at)
		 VALUES(?,?,?,?,?)`,
		sn.Level, sn.ThaiText, sn.English, sn.WordsJSON, sn.CreatedAt.UnixMilli(),
	)
	return err
}

// RecentSentenceTexts returns up to n most recent Thai texts for a level,
// newest first. The content cache uses this as its duplicate-exclusion list.
func (s *Store) RecentSentenceTexts(ctx context.Context, level, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thai_text FROM sentences WHERE level = ? ORDER BY id DESC LIMIT ?`,
		level, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- Dedup (TTL keyed events, e.g. webhook redeliveries) ----

func (s *Store) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpiredDedup(pctx)
		cancel()
	}
	return err
}

func (s *Store) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *Store) pruneExpiredDedup(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}
