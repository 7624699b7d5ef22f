// Package bot is the conversational layer: it consumes normalized transport
// updates and dispatches commands and inline-button actions to handlers.
// Interactive replies go straight through the adapter; only lesson delivery
// rides the outbox.
package bot

import (
	"context"
	"sync"
	"time"

	"thaibot/internal/payment"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

// Users is the store surface the router needs.
type Users interface {
	UpsertUser(ctx context.Context, telegramID int64, displayName string) error
	GetUser(ctx context.Context, telegramID int64) (store.User, error)
	SetUserLevel(ctx context.Context, telegramID int64, level int) error
	GetActiveSubscription(ctx context.Context, telegramID int64) (store.Subscription, error)
}

// Payments is the verifier surface the router needs.
type Payments interface {
	Start(ctx context.Context, userID int64) (payment.Invoice, error)
	Check(ctx context.Context, userID int64) (payment.Result, error)
	Cancel(ctx context.Context, userID int64) error
}

type Router struct {
	adapter  transport.Adapter
	users    Users
	payments Payments
	log      logx.Logger

	wg sync.WaitGroup
}

func NewRouter(adapter transport.Adapter, users Users, payments Payments, log logx.Logger) *Router {
	return &Router{adapter: adapter, users: users, payments: payments, log: log}
}

// Run consumes updates until ctx is done or the channel closes. Payment
// checks block on ledger polling, so each update is handled in its own
// goroutine; human-paced interactions keep the fan-out trivial.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case up, ok := <-updates:
			if !ok {
				r.wg.Wait()
				return
			}
			r.wg.Add(1)
			go func(up transport.Update) {
				defer r.wg.Done()
				hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				r.dispatch(hctx, up)
			}(up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	if m.IsCommand {
		switch m.CommandName {
		case "start":
			r.handleStart(ctx, m.ChatID, m.FromID, m.FromName)
		case "help":
			r.handleHelp(ctx, m.ChatID)
		default:
			// Unknown commands get the menu, same as plain text.
			r.handleStart(ctx, m.ChatID, m.FromID, m.FromName)
		}
		return
	}

	// Users practicing Thai get no reply; anything else re-shows the menu.
	if containsThaiScript(m.Text) {
		r.log.Debug("thai practice message, not replying", logx.Int64("user", m.FromID))
		return
	}
	r.handleStart(ctx, m.ChatID, m.FromID, m.FromName)
}

func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) {
	action, payload := parseAction(cb.Data)
	r.log.Debug("button pressed",
		logx.Int64("user", cb.FromID), logx.String("action", action.String()))

	// Dismiss the spinner regardless of what the handler does.
	if err := r.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		r.log.Debug("answer callback failed", logx.Err(err))
	}

	switch action {
	case ActionHelp:
		r.handleHelp(ctx, cb.ChatID)
	case ActionStatus:
		r.handleStatus(ctx, cb.ChatID, cb.FromID)
	case ActionSubscribe:
		r.handleSubscribe(ctx, cb.ChatID, cb.FromID)
	case ActionSettings:
		r.handleSettings(ctx, cb.ChatID, cb.FromID)
	case ActionMainMenu:
		r.handleStart(ctx, cb.ChatID, cb.FromID, "")
	case ActionUnsubscribe:
		r.handleUnsubscribe(ctx, cb.ChatID, cb.FromID)
	case ActionCheckPayment:
		r.handleCheckPayment(ctx, cb.ChatID, cb.FromID)
	case ActionSetLevel:
		if level, ok := parseLevelPayload(payload); ok {
			r.handleSetLevel(ctx, cb.ChatID, cb.FromID, level)
		}
	default:
		r.log.Warn("unknown callback data ignored", logx.String("data", cb.Data))
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) {
	if _, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func containsThaiScript(s string) bool {
	for _, r := range s {
		if r >= 0x0E00 && r <= 0x0E7F {
			return true
		}
	}
	return false
}
