package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"thaibot/internal/content"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

type fakeSubscribers struct {
	subs []store.Subscriber
	err  error
}

func (f *fakeSubscribers) ActiveSubscribers(context.Context) ([]store.Subscriber, error) {
	return f.subs, f.err
}

type countingLessons struct {
	mu      sync.Mutex
	calls   map[int]int
	failFor map[int]bool
}

func (l *countingLessons) Lesson(_ context.Context, level int) (content.Lesson, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[int]int{}
	}
	l.calls[level]++
	if l.failFor[level] {
		return content.Lesson{}, content.ErrGeneration
	}
	return content.Lesson{ThaiText: "lesson-" + string(rune('0'+level)), English: "e"}, nil
}

type recordingQueue struct {
	mu    sync.Mutex
	items []int64
	texts []string
}

func (q *recordingQueue) Enqueue(target transport.ChatTarget, text string, _ *transport.SendOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, target.ChatID)
	q.texts = append(q.texts, text)
}

func newTestScheduler(t *testing.T, src SubscriberSource, lessons Lessons, q Enqueuer) *Service {
	t.Helper()
	s, err := New(Config{}, src, lessons, q, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestBatchOneMessagePerSubscriber(t *testing.T) {
	src := &fakeSubscribers{subs: []store.Subscriber{
		{TelegramID: 1, Level: 2},
		{TelegramID: 2, Level: 2},
		{TelegramID: 3, Level: 5},
	}}
	lessons := &countingLessons{}
	q := &recordingQueue{}
	s := newTestScheduler(t, src, lessons, q)

	stats := s.RunDailyBatch(context.Background())
	if stats.Subscribers != 3 || stats.Enqueued != 3 {
		t.Fatalf("stats = %+v, want 3 subscribers 3 enqueued", stats)
	}
	if len(q.items) != 3 {
		t.Fatalf("enqueued %d items, want 3", len(q.items))
	}
	// One generation per distinct level, not per recipient.
	if lessons.calls[2] != 1 || lessons.calls[5] != 1 {
		t.Fatalf("generation calls = %v, want one per level", lessons.calls)
	}
}

func TestBatchSharedLessonPerLevel(t *testing.T) {
	src := &fakeSubscribers{subs: []store.Subscriber{
		{TelegramID: 1, Level: 3},
		{TelegramID: 2, Level: 3},
	}}
	q := &recordingQueue{}
	s := newTestScheduler(t, src, &countingLessons{}, q)

	s.RunDailyBatch(context.Background())
	if len(q.texts) != 2 || q.texts[0] != q.texts[1] {
		t.Fatalf("same-level subscribers got different texts: %v", q.texts)
	}
}

func TestBatchSkipsFailedLevel(t *testing.T) {
	src := &fakeSubscribers{subs: []store.Subscriber{
		{TelegramID: 1, Level: 1},
		{TelegramID: 2, Level: 4},
		{TelegramID: 3, Level: 4},
	}}
	lessons := &countingLessons{failFor: map[int]bool{4: true}}
	q := &recordingQueue{}
	s := newTestScheduler(t, src, lessons, q)

	stats := s.RunDailyBatch(context.Background())
	if stats.Enqueued != 1 {
		t.Fatalf("enqueued = %d, want only the healthy level", stats.Enqueued)
	}
	if stats.LevelsFailed != 1 {
		t.Fatalf("levels failed = %d, want 1", stats.LevelsFailed)
	}
	if stats.MissingLevel != 2 {
		t.Fatalf("missing level = %d, want 2", stats.MissingLevel)
	}
	// The failing level is generated once, not once per subscriber.
	if lessons.calls[4] != 1 {
		t.Fatalf("level 4 generated %d times, want 1", lessons.calls[4])
	}
	if len(q.items) != 1 || q.items[0] != 1 {
		t.Fatalf("delivered to %v, want only user 1", q.items)
	}
}

func TestBatchStoreErrorAborts(t *testing.T) {
	src := &fakeSubscribers{err: errors.New("database is locked")}
	q := &recordingQueue{}
	s := newTestScheduler(t, src, &countingLessons{}, q)

	stats := s.RunDailyBatch(context.Background())
	if stats.Enqueued != 0 || len(q.items) != 0 {
		t.Fatalf("batch delivered despite store failure: %+v", stats)
	}
}

func TestBatchSkipsInvalidLevel(t *testing.T) {
	src := &fakeSubscribers{subs: []store.Subscriber{{TelegramID: 1, Level: 9}}}
	q := &recordingQueue{}
	s := newTestScheduler(t, src, &countingLessons{}, q)

	stats := s.RunDailyBatch(context.Background())
	if stats.Enqueued != 0 || stats.MissingLevel != 1 {
		t.Fatalf("stats = %+v, want the out-of-range level skipped", stats)
	}
}

func TestInvalidTimezoneRejected(t *testing.T) {
	_, err := New(Config{Timezone: "Mars/Olympus"}, &fakeSubscribers{}, &countingLessons{}, &recordingQueue{}, logx.Nop(), nil)
	if err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}

func TestInvalidCronSpecRejected(t *testing.T) {
	s := newTestScheduler(t, &fakeSubscribers{}, &countingLessons{}, &recordingQueue{})
	s.cfg.CronSpec = "not a cron spec"
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error for bad cron spec")
	}
}
