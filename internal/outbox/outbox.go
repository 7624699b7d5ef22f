// Package outbox is the rate-limited delivery queue between the bot's
// producers (daily fan-out, payment verifier, menu handlers) and the chat
// transport.
//
// Design constraints:
//   - Enqueue never blocks the producer. The only intentional wait in the
//     pipeline is the limiter inside the single drain goroutine.
//   - A transport failure is terminal for that item: log, count, move on.
//     Batch latency is bounded by not retrying here.
//   - The queue may be populated before the transport is attached; items are
//     retained and flushed once Attach() is called.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"thaibot/internal/metrics"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

type Config struct {
	QueueSize   int
	MinInterval time.Duration
}

type Item struct {
	ID         string
	Target     transport.ChatTarget
	Text       string
	Options    *transport.SendOptions
	EnqueuedAt time.Time
}

// Status is an observability snapshot, served by /health.
type Status struct {
	Pending   int       `json:"pending"`
	Sent      uint64    `json:"sent"`
	Failed    uint64    `json:"failed"`
	Dropped   uint64    `json:"dropped"`
	LastError string    `json:"last_error,omitempty"`
	LastSent  time.Time `json:"last_sent,omitempty"`
}

type Service struct {
	cfg     Config
	log     logx.Logger
	metrics *metrics.Metrics

	queue   chan Item
	limiter *rate.Limiter

	// adapter may be attached after items are already queued.
	adapterMu sync.Mutex
	adapter   transport.Adapter
	attached  chan struct{}

	statusMu sync.Mutex
	sent     uint64
	failed   uint64
	dropped  uint64
	lastErr  string
	lastSent time.Time

	runMu    sync.Mutex
	stopCh   chan struct{}
	stopDone chan struct{}
	runWG    sync.WaitGroup
}

func New(cfg Config, log logx.Logger, m *metrics.Metrics) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		queue:    make(chan Item, cfg.QueueSize),
		limiter:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		attached: make(chan struct{}),
	}
}

// Attach installs the transport. Items enqueued earlier start draining now.
// Attach is idempotent; only the first adapter wins.
func (s *Service) Attach(adapter transport.Adapter) {
	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()
	if s.adapter != nil {
		return
	}
	s.adapter = adapter
	close(s.attached)
}

// Enqueue appends one item. It never blocks: when the buffer is full the
// item is dropped and counted, which keeps producers decoupled from
// transport slowness.
func (s *Service) Enqueue(target transport.ChatTarget, text string, opt *transport.SendOptions) {
	it := Item{
		ID:         uuid.NewString(),
		Target:     target,
		Text:       text,
		Options:    opt,
		EnqueuedAt: time.Now(),
	}
	select {
	case s.queue <- it:
		s.metrics.OutboxPending(len(s.queue))
	default:
		s.statusMu.Lock()
		s.dropped++
		s.statusMu.Unlock()
		s.metrics.OutboxDropped()
		s.log.Warn("outbox full, item dropped", logx.String("item", it.ID), logx.Int64("chat_id", target.ChatID))
	}
}

func (s *Service) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return Status{
		Pending:   len(s.queue),
		Sent:      s.sent,
		Failed:    s.failed,
		Dropped:   s.dropped,
		LastError: s.lastErr,
		LastSent:  s.lastSent,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		s.drain(ctx, stopCh)
	}()
	s.log.Info("drain loop started", logx.Duration("min_interval", s.cfg.MinInterval), logx.Int("queue_cap", cap(s.queue)))
}

func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	if s.stopCh == nil {
		s.runMu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.runMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	s.runMu.Unlock()

	go func() {
		s.runWG.Wait()
		s.runMu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.runMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// drain is the only consumer of the queue. It waits for the transport to be
// attached, then pulls one item at a time, spacing sends by the limiter.
func (s *Service) drain(ctx context.Context, stopCh <-chan struct{}) {
	select {
	case <-s.attached:
	case <-stopCh:
		return
	case <-ctx.Done():
		return
	}

	s.adapterMu.Lock()
	adapter := s.adapter
	s.adapterMu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case it := <-s.queue:
			s.metrics.OutboxPending(len(s.queue))
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.sendOne(ctx, adapter, it)
		}
	}
}

func (s *Service) sendOne(ctx context.Context, adapter transport.Adapter, it Item) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err := adapter.SendText(callCtx, it.Target, it.Text, it.Options)
	cancel()

	s.statusMu.Lock()
	if err != nil {
		s.failed++
		s.lastErr = err.Error()
	} else {
		s.sent++
		s.lastSent = time.Now()
	}
	s.statusMu.Unlock()

	if err != nil {
		s.metrics.OutboxFailed()
		s.log.Warn("send failed, item dropped",
			logx.String("item", it.ID),
			logx.Int64("chat_id", it.Target.ChatID),
			logx.Duration("queued_for", time.Since(it.EnqueuedAt)),
			logx.Err(err))
		return
	}
	s.metrics.OutboxSent()
	s.log.Debug("item sent", logx.String("item", it.ID), logx.Int64("chat_id", it.Target.ChatID))
}
