// Package payment bridges the bot to an external TON ledger. It is a
// best-effort verifier, not a ledger: it polls for a unique reference in
// recent transaction memos and flips the subscription exactly once per
// reference.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"thaibot/internal/content"
	"thaibot/internal/metrics"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

var (
	// ErrAlreadySubscribed: user asked to start a payment while holding an
	// active subscription. A no-op for the caller, not a failure.
	ErrAlreadySubscribed = errors.New("payment: already subscribed")
	// ErrNoPending: nothing to check for this user.
	ErrNoPending = errors.New("payment: no pending payment")
	// ErrNotFoundYet: the ledger was reachable but the reference has not
	// appeared. The pending record stays checkable until its TTL.
	ErrNotFoundYet = errors.New("payment: not found yet")
	// ErrUnavailable: the ledger API could not be queried. Distinct from
	// ErrNotFoundYet so the caller can tell "try again" from "not paid".
	ErrUnavailable = errors.New("payment: verification unavailable")
	// ErrNoActiveSubscription: cancel was requested with nothing to cancel.
	ErrNoActiveSubscription = errors.New("payment: no active subscription")
	// ErrActivation: the ledger confirmed the payment but the subscription
	// write failed. Reconciliation-worthy; never downgrade to not-found.
	ErrActivation = errors.New("payment: activation failed after confirmed payment")
)

type Outcome int

const (
	OutcomeActivated Outcome = iota
	OutcomeAlreadyResolved
)

type Result struct {
	Outcome   Outcome
	ExpiresAt time.Time
}

// Invoice is handed back to the UI layer when a payment flow starts.
type Invoice struct {
	Reference  string
	AmountNano int64
	PayURL     string
}

type Config struct {
	Address          string
	AmountTON        float64
	SubscriptionDays int
	WindowSize       int
	CheckAttempts    int
	CheckDelay       time.Duration
	PendingTTL       time.Duration
}

// Store is the persistence surface the verifier needs.
type Store interface {
	GetUser(ctx context.Context, telegramID int64) (store.User, error)
	GetActiveSubscription(ctx context.Context, telegramID int64) (store.Subscription, error)
	CreateSubscription(ctx context.Context, telegramID int64, reference string, durationDays int) (bool, error)
	CancelSubscription(ctx context.Context, telegramID int64) error
	PutPendingPayment(ctx context.Context, p store.PendingPayment) error
	GetPendingPayment(ctx context.Context, telegramID int64) (store.PendingPayment, error)
	DeletePendingPayment(ctx context.Context, telegramID int64) error
	PrunePendingPayments(ctx context.Context, olderThan time.Time) (int64, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

// Enqueuer is the delivery queue surface (satisfied by *outbox.Service).
type Enqueuer interface {
	Enqueue(target transport.ChatTarget, text string, opt *transport.SendOptions)
}

// Lessons supplies the welcome lesson after activation.
type Lessons interface {
	Lesson(ctx context.Context, level int) (content.Lesson, error)
}

type Verifier struct {
	cfg     Config
	store   Store
	ledger  Ledger
	outbox  Enqueuer
	lessons Lessons
	log     logx.Logger
	metrics *metrics.Metrics

	now   func() time.Time        // test hooks
	sleep func(context.Context, time.Duration) error
}

func NewVerifier(cfg Config, st Store, ledger Ledger, out Enqueuer, lessons Lessons, log logx.Logger, m *metrics.Metrics) *Verifier {
	if cfg.AmountTON <= 0 {
		cfg.AmountTON = 1.0
	}
	if cfg.SubscriptionDays <= 0 {
		cfg.SubscriptionDays = 30
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.CheckAttempts <= 0 {
		cfg.CheckAttempts = 3
	}
	if cfg.CheckDelay <= 0 {
		cfg.CheckDelay = 3 * time.Second
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}
	return &Verifier{
		cfg:     cfg,
		store:   st,
		ledger:  ledger,
		outbox:  out,
		lessons: lessons,
		log:     log,
		metrics: m,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start begins a payment flow for the user. Idempotent against the
// already-subscribed state; a repeated Start before paying just replaces
// the pending record with a fresh reference.
func (v *Verifier) Start(ctx context.Context, userID int64) (Invoice, error) {
	if _, err := v.store.GetActiveSubscription(ctx, userID); err == nil {
		return Invoice{}, ErrAlreadySubscribed
	} else if !errors.Is(err, store.ErrNotFound) {
		return Invoice{}, err
	}

	now := v.now()
	ref := fmt.Sprintf("thai-bot-%d-%d", userID, now.UnixMilli())
	amount := int64(v.cfg.AmountTON * 1e9)

	err := v.store.PutPendingPayment(ctx, store.PendingPayment{
		TelegramID: userID,
		Reference:  ref,
		AmountNano: amount,
		CreatedAt:  now,
	})
	if err != nil {
		return Invoice{}, err
	}

	v.log.Info("payment flow started", logx.Int64("user", userID), logx.String("reference", ref))
	return Invoice{
		Reference:  ref,
		AmountNano: amount,
		PayURL: fmt.Sprintf("ton://transfer/%s?amount=%d&text=%s",
			v.cfg.Address, amount, url.QueryEscape(ref)),
	}, nil
}

// Check polls the ledger for the user's pending reference. See the package
// comment for the shape of the outcome space.
func (v *Verifier) Check(ctx context.Context, userID int64) (Result, error) {
	pending, err := v.store.GetPendingPayment(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// A resolved payment deletes its pending record; recognize the
		// state instead of confusing the user with "nothing pending".
		if sub, serr := v.store.GetActiveSubscription(ctx, userID); serr == nil {
			return Result{Outcome: OutcomeAlreadyResolved, ExpiresAt: sub.ExpiresAt}, nil
		}
		return Result{}, ErrNoPending
	}
	if err != nil {
		return Result{}, err
	}

	for attempt := 1; ; attempt++ {
		txs, err := v.ledger.RecentTransactions(ctx, v.cfg.Address, v.cfg.WindowSize)
		if err != nil {
			v.metrics.LedgerCheck("unavailable")
			v.log.Warn("ledger query failed", logx.Int64("user", userID), logx.Err(err))
			if errors.Is(err, ErrUnavailable) {
				return Result{}, err
			}
			return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		for _, tx := range txs {
			if tx.Comment != "" && strings.Contains(tx.Comment, pending.Reference) {
				v.metrics.LedgerCheck("found")
				return v.activate(ctx, userID, pending.Reference)
			}
		}

		if attempt >= v.cfg.CheckAttempts {
			break
		}
		if err := v.sleep(ctx, v.cfg.CheckDelay); err != nil {
			return Result{}, err
		}
	}

	v.metrics.LedgerCheck("not_found")
	pending.Attempts += v.cfg.CheckAttempts
	if err := v.store.PutPendingPayment(ctx, pending); err != nil {
		v.log.Warn("pending payment update failed", logx.Int64("user", userID), logx.Err(err))
	}
	// The pending record stays; the user can check again until TTL eviction.
	return Result{}, ErrNotFoundYet
}

// ActivateFromWebhook applies an externally confirmed payment. It converges
// on the same activation op as Check; webhook redeliveries within the dedup
// window are dropped.
func (v *Verifier) ActivateFromWebhook(ctx context.Context, userID int64, reference string) (Result, error) {
	key := "webhook:" + reference
	if until, ok, err := v.store.GetDedup(ctx, key); err == nil && ok && until.After(v.now()) {
		v.log.Debug("webhook redelivery ignored", logx.Int64("user", userID), logx.String("reference", reference))
		sub, serr := v.store.GetActiveSubscription(ctx, userID)
		if serr != nil {
			return Result{Outcome: OutcomeAlreadyResolved}, nil
		}
		return Result{Outcome: OutcomeAlreadyResolved, ExpiresAt: sub.ExpiresAt}, nil
	}
	res, err := v.activate(ctx, userID, reference)
	if err != nil {
		return res, err
	}
	if derr := v.store.PutDedup(ctx, key, v.now().Add(v.cfg.PendingTTL)); derr != nil {
		v.log.Warn("webhook dedup write failed", logx.String("reference", reference), logx.Err(derr))
	}
	return res, nil
}

// activate is the single entitlement-creation path. The reference is the
// idempotency key: a duplicate confirmation neither re-activates nor sends
// a second welcome.
func (v *Verifier) activate(ctx context.Context, userID int64, reference string) (Result, error) {
	created, err := v.store.CreateSubscription(ctx, userID, reference, v.cfg.SubscriptionDays)
	if err != nil {
		// Payment confirmed but not recorded: the one loud failure mode.
		v.log.Error("activation failed after confirmed payment",
			logx.Int64("user", userID), logx.String("reference", reference), logx.Err(err))
		return Result{}, fmt.Errorf("%w: %w", ErrActivation, err)
	}

	if err := v.store.DeletePendingPayment(ctx, userID); err != nil {
		v.log.Warn("pending payment cleanup failed", logx.Int64("user", userID), logx.Err(err))
	}

	sub, err := v.store.GetActiveSubscription(ctx, userID)
	if err != nil {
		sub = store.Subscription{ExpiresAt: v.now().AddDate(0, 0, v.cfg.SubscriptionDays)}
	}

	if !created {
		v.log.Info("duplicate activation ignored", logx.Int64("user", userID), logx.String("reference", reference))
		return Result{Outcome: OutcomeAlreadyResolved, ExpiresAt: sub.ExpiresAt}, nil
	}

	v.metrics.SubscriptionActivated()
	v.log.Info("subscription activated",
		logx.Int64("user", userID), logx.String("reference", reference), logx.Time("expires", sub.ExpiresAt))

	v.sendWelcome(ctx, userID)
	return Result{Outcome: OutcomeActivated, ExpiresAt: sub.ExpiresAt}, nil
}

// sendWelcome enqueues the confirmation plus the first lesson. Falls back to
// a canned lesson if the generator is down; the welcome must not fail.
func (v *Verifier) sendWelcome(ctx context.Context, userID int64) {
	target := transport.ChatTarget{ChatID: userID}
	v.outbox.Enqueue(target, fmt.Sprintf(
		"🎉 Payment Successful!\n\n✅ You are now subscribed to Thai Learning Bot!\n📅 Your subscription is active for %d days\n🎯 Daily lessons will be sent at 9:00 AM ICT\n\nHere's your first lesson:",
		v.cfg.SubscriptionDays), nil)

	level := content.MinLevel
	if u, err := v.store.GetUser(ctx, userID); err == nil && content.ValidLevel(u.Level) {
		level = u.Level
	}
	lesson, err := v.lessons.Lesson(ctx, level)
	if err != nil {
		v.log.Warn("first lesson generation failed, using fallback", logx.Int64("user", userID), logx.Err(err))
		lesson = content.Fallback(level)
	}
	v.outbox.Enqueue(target, content.RenderFirst(lesson), nil)
}

// Cancel sets the user's subscription to cancelled. The next daily batch
// excludes them via the read-time filter; nothing else to notify.
func (v *Verifier) Cancel(ctx context.Context, userID int64) error {
	err := v.store.CancelSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoActiveSubscription
	}
	if err != nil {
		return err
	}
	v.log.Info("subscription cancelled", logx.Int64("user", userID))
	return nil
}

// RunPendingEviction purges stale pending payments until ctx is done.
// A record past its TTL means the user walked away; they restart the flow.
func (v *Verifier) RunPendingEviction(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := v.now().Add(-v.cfg.PendingTTL)
			n, err := v.store.PrunePendingPayments(ctx, cutoff)
			if err != nil {
				v.log.Warn("pending payment prune failed", logx.Err(err))
				continue
			}
			if n > 0 {
				v.log.Info("stale pending payments purged", logx.Int64("count", n))
			}
		}
	}
}
