package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"thaibot/internal/content"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[int64]store.User
	pending map[int64]store.PendingPayment
	subs    map[int64]store.Subscription
	byRef   map[string]bool
	dedup   map[string]time.Time
	subErr  error
	createN int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[int64]store.User{},
		pending: map[int64]store.PendingPayment{},
		subs:    map[int64]store.Subscription{},
		byRef:   map[string]bool{},
		dedup:   map[string]time.Time{},
	}
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetActiveSubscription(_ context.Context, id int64) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok || s.Status != store.StatusActive {
		return store.Subscription{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) CreateSubscription(_ context.Context, id int64, ref string, days int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return false, f.subErr
	}
	if f.byRef[ref] {
		return false, nil
	}
	f.byRef[ref] = true
	f.createN++
	f.subs[id] = store.Subscription{
		TelegramID: id,
		Reference:  ref,
		Status:     store.StatusActive,
		ExpiresAt:  time.Now().AddDate(0, 0, days),
	}
	return true, nil
}

func (f *fakeStore) CancelSubscription(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok || s.Status != store.StatusActive {
		return store.ErrNotFound
	}
	s.Status = store.StatusCancelled
	f.subs[id] = s
	return nil
}

func (f *fakeStore) PutPendingPayment(_ context.Context, p store.PendingPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[p.TelegramID] = p
	return nil
}

func (f *fakeStore) GetPendingPayment(_ context.Context, id int64) (store.PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[id]
	if !ok {
		return store.PendingPayment{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) DeletePendingPayment(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	return nil
}

func (f *fakeStore) PrunePendingPayments(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, p := range f.pending {
		if p.CreatedAt.Before(olderThan) {
			delete(f.pending, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PutDedup(_ context.Context, key string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedup[key] = until
	return nil
}

func (f *fakeStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.dedup[key]
	return until, ok, nil
}

type fakeLedger struct {
	txs   []Transaction
	err   error
	calls int
}

func (f *fakeLedger) RecentTransactions(context.Context, string, int) ([]Transaction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.txs, nil
}

type captureQueue struct {
	mu    sync.Mutex
	texts []string
}

func (q *captureQueue) Enqueue(_ transport.ChatTarget, text string, _ *transport.SendOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.texts = append(q.texts, text)
}

func (q *captureQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.texts)
}

type fakeLessons struct{ err error }

func (f *fakeLessons) Lesson(_ context.Context, level int) (content.Lesson, error) {
	if f.err != nil {
		return content.Lesson{}, f.err
	}
	return content.Lesson{ThaiText: "สวัสดี", English: "hello"}, nil
}

func newTestVerifier(st *fakeStore, lg *fakeLedger, q *captureQueue) *Verifier {
	v := NewVerifier(Config{
		Address:       "UQtest",
		CheckAttempts: 2,
		CheckDelay:    time.Millisecond,
	}, st, lg, q, &fakeLessons{}, logx.Nop(), nil)
	v.sleep = func(context.Context, time.Duration) error { return nil }
	return v
}

func TestStartCreatesPendingWithReference(t *testing.T) {
	st := newFakeStore()
	v := newTestVerifier(st, &fakeLedger{}, &captureQueue{})

	inv, err := v.Start(context.Background(), 42)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(inv.Reference, "thai-bot-42-") {
		t.Fatalf("reference = %q", inv.Reference)
	}
	if inv.AmountNano != 1e9 {
		t.Fatalf("amount = %d, want 1e9", inv.AmountNano)
	}
	if !strings.Contains(inv.PayURL, "ton://transfer/UQtest") {
		t.Fatalf("pay url = %q", inv.PayURL)
	}
	if _, err := st.GetPendingPayment(context.Background(), 42); err != nil {
		t.Fatalf("pending record missing: %v", err)
	}
}

func TestStartRejectsActiveSubscriber(t *testing.T) {
	st := newFakeStore()
	st.subs[42] = store.Subscription{TelegramID: 42, Status: store.StatusActive, ExpiresAt: time.Now().Add(time.Hour)}
	v := newTestVerifier(st, &fakeLedger{}, &captureQueue{})

	if _, err := v.Start(context.Background(), 42); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("err = %v, want ErrAlreadySubscribed", err)
	}
}

func TestCheckActivatesOnMemoMatch(t *testing.T) {
	st := newFakeStore()
	st.pending[42] = store.PendingPayment{TelegramID: 42, Reference: "thai-bot-42-1000", CreatedAt: time.Now()}
	lg := &fakeLedger{txs: []Transaction{
		{Hash: "aa", AmountNano: 1e9, Comment: "unrelated"},
		{Hash: "bb", AmountNano: 1e9, Comment: "memo: thai-bot-42-1000 payment"},
	}}
	q := &captureQueue{}
	v := newTestVerifier(st, lg, q)

	res, err := v.Check(context.Background(), 42)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Outcome != OutcomeActivated {
		t.Fatalf("outcome = %v, want activated", res.Outcome)
	}
	days := time.Until(res.ExpiresAt).Hours() / 24
	if days < 29 || days > 30 {
		t.Fatalf("expiry %.1f days out, want ~30", days)
	}
	if _, err := st.GetPendingPayment(context.Background(), 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending record not cleared: %v", err)
	}
	// Confirmation plus first lesson.
	if q.len() != 2 {
		t.Fatalf("enqueued %d messages, want 2", q.len())
	}
}

func TestCheckNoPendingNoSideEffects(t *testing.T) {
	st := newFakeStore()
	lg := &fakeLedger{}
	q := &captureQueue{}
	v := newTestVerifier(st, lg, q)

	if _, err := v.Check(context.Background(), 42); !errors.Is(err, ErrNoPending) {
		t.Fatalf("err = %v, want ErrNoPending", err)
	}
	if lg.calls != 0 {
		t.Fatalf("ledger queried %d times, want 0", lg.calls)
	}
	if q.len() != 0 {
		t.Fatalf("enqueued %d messages, want 0", q.len())
	}
}

func TestCheckAfterActivationReportsResolved(t *testing.T) {
	st := newFakeStore()
	st.pending[42] = store.PendingPayment{TelegramID: 42, Reference: "thai-bot-42-1000", CreatedAt: time.Now()}
	lg := &fakeLedger{txs: []Transaction{{Comment: "thai-bot-42-1000"}}}
	q := &captureQueue{}
	v := newTestVerifier(st, lg, q)

	if _, err := v.Check(context.Background(), 42); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	res, err := v.Check(context.Background(), 42)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if res.Outcome != OutcomeAlreadyResolved {
		t.Fatalf("outcome = %v, want already resolved", res.Outcome)
	}
	if st.createN != 1 {
		t.Fatalf("subscriptions created = %d, want 1", st.createN)
	}
	// No second welcome.
	if q.len() != 2 {
		t.Fatalf("enqueued %d messages, want 2", q.len())
	}
}

func TestCheckNotFoundKeepsPending(t *testing.T) {
	st := newFakeStore()
	st.pending[42] = store.PendingPayment{TelegramID: 42, Reference: "thai-bot-42-1000", CreatedAt: time.Now()}
	lg := &fakeLedger{txs: []Transaction{{Comment: "somebody else"}}}
	v := newTestVerifier(st, lg, &captureQueue{})

	if _, err := v.Check(context.Background(), 42); !errors.Is(err, ErrNotFoundYet) {
		t.Fatalf("err = %v, want ErrNotFoundYet", err)
	}
	if lg.calls != 2 {
		t.Fatalf("ledger polled %d times, want 2", lg.calls)
	}
	p, err := st.GetPendingPayment(context.Background(), 42)
	if err != nil {
		t.Fatalf("pending record evicted: %v", err)
	}
	if p.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", p.Attempts)
	}
}

func TestCheckLedgerDownIsUnavailable(t *testing.T) {
	st := newFakeStore()
	st.pending[42] = store.PendingPayment{TelegramID: 42, Reference: "thai-bot-42-1000", CreatedAt: time.Now()}
	lg := &fakeLedger{err: errors.New("dial tcp: connection refused")}
	v := newTestVerifier(st, lg, &captureQueue{})

	if _, err := v.Check(context.Background(), 42); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if _, err := st.GetPendingPayment(context.Background(), 42); err != nil {
		t.Fatalf("pending record should survive an outage: %v", err)
	}
}

func TestActivationFailureIsLoud(t *testing.T) {
	st := newFakeStore()
	st.pending[42] = store.PendingPayment{TelegramID: 42, Reference: "thai-bot-42-1000", CreatedAt: time.Now()}
	st.subErr = errors.New("disk I/O error")
	lg := &fakeLedger{txs: []Transaction{{Comment: "thai-bot-42-1000"}}}
	v := newTestVerifier(st, lg, &captureQueue{})

	_, err := v.Check(context.Background(), 42)
	if !errors.Is(err, ErrActivation) {
		t.Fatalf("err = %v, want ErrActivation", err)
	}
	if errors.Is(err, ErrNotFoundYet) {
		t.Fatalf("activation failure must not read as not-paid")
	}
}

func TestWebhookDeduplicatesRedelivery(t *testing.T) {
	st := newFakeStore()
	q := &captureQueue{}
	v := newTestVerifier(st, &fakeLedger{}, q)

	res, err := v.ActivateFromWebhook(context.Background(), 42, "thai-bot-42-1000")
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if res.Outcome != OutcomeActivated {
		t.Fatalf("outcome = %v, want activated", res.Outcome)
	}

	res, err = v.ActivateFromWebhook(context.Background(), 42, "thai-bot-42-1000")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != OutcomeAlreadyResolved {
		t.Fatalf("outcome = %v, want already resolved", res.Outcome)
	}
	if st.createN != 1 {
		t.Fatalf("subscriptions created = %d, want 1", st.createN)
	}
	if q.len() != 2 {
		t.Fatalf("enqueued %d messages, want 2", q.len())
	}
}

func TestWelcomeFallsBackWhenGeneratorDown(t *testing.T) {
	st := newFakeStore()
	q := &captureQueue{}
	v := NewVerifier(Config{Address: "UQtest"}, st, &fakeLedger{}, q,
		&fakeLessons{err: content.ErrGeneration}, logx.Nop(), nil)

	if _, err := v.ActivateFromWebhook(context.Background(), 42, "ref-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if q.len() != 2 {
		t.Fatalf("enqueued %d messages, want 2", q.len())
	}
	fallback := content.Fallback(content.MinLevel)
	if !strings.Contains(q.texts[1], fallback.ThaiText) {
		t.Fatalf("first lesson %q does not carry the fallback sentence", q.texts[1])
	}
}

func TestCancelWithoutSubscription(t *testing.T) {
	st := newFakeStore()
	v := newTestVerifier(st, &fakeLedger{}, &captureQueue{})

	if err := v.Cancel(context.Background(), 42); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("err = %v, want ErrNoActiveSubscription", err)
	}
}
