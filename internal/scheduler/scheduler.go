// Package scheduler owns the daily fan-out: one cron trigger in a fixed
// timezone that turns the subscriber list into delivery-queue items, one
// generated lesson per difficulty level.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"thaibot/internal/content"
	"thaibot/internal/metrics"
	"thaibot/internal/store"
	"thaibot/internal/transport"
	"thaibot/pkg/logx"
)

type Config struct {
	Timezone string // default "Asia/Bangkok"
	CronSpec string // default "0 9 * * *"
}

// SubscriberSource yields the recipients of the daily batch.
type SubscriberSource interface {
	ActiveSubscribers(ctx context.Context) ([]store.Subscriber, error)
}

// Lessons is the content cache surface.
type Lessons interface {
	Lesson(ctx context.Context, level int) (content.Lesson, error)
}

// Enqueuer is the delivery queue surface (satisfied by *outbox.Service).
type Enqueuer interface {
	Enqueue(target transport.ChatTarget, text string, opt *transport.SendOptions)
}

// BatchStats summarizes one fan-out run, for logs and tests.
type BatchStats struct {
	Subscribers  int
	Enqueued     int
	LevelsFailed int
	MissingLevel int
}

type Service struct {
	cfg     Config
	src     SubscriberSource
	lessons Lessons
	outbox  Enqueuer
	log     logx.Logger
	metrics *metrics.Metrics

	c   *cron.Cron
	loc *time.Location
}

func New(cfg Config, src SubscriberSource, lessons Lessons, out Enqueuer, log logx.Logger, m *metrics.Metrics) (*Service, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "Asia/Bangkok"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.CronSpec) == "" {
		cfg.CronSpec = "0 9 * * *"
	}
	return &Service{
		cfg:     cfg,
		src:     src,
		lessons: lessons,
		outbox:  out,
		log:     log,
		metrics: m,
		loc:     loc,
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.c = cron.New(cron.WithLocation(s.loc))
	_, err := s.c.AddFunc(s.cfg.CronSpec, func() {
		// Bound the whole batch; a stuck generator must not pile up runs.
		bctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()
		s.RunDailyBatch(bctx)
	})
	if err != nil {
		return err
	}
	s.c.Start()
	s.log.Info("daily batch scheduled", logx.String("spec", s.cfg.CronSpec), logx.String("tz", s.loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunDailyBatch delivers one lesson to every active subscriber. The batch
// completes regardless of individual failures: a level whose generation
// fails is skipped (its subscribers get nothing today), a store error aborts
// only because there is no one to deliver to.
func (s *Service) RunDailyBatch(ctx context.Context) BatchStats {
	start := time.Now()
	var stats BatchStats

	subs, err := s.src.ActiveSubscribers(ctx)
	if err != nil {
		s.log.Error("subscriber load failed, batch skipped", logx.Err(err))
		return stats
	}
	stats.Subscribers = len(subs)
	s.metrics.BatchRecipients(len(subs))
	if len(subs) == 0 {
		s.log.Info("no active subscribers, nothing to send")
		return stats
	}

	// One generation per level actually in use, never per recipient.
	levels := map[int]content.Lesson{}
	for _, sub := range subs {
		if !content.ValidLevel(sub.Level) {
			continue
		}
		if _, done := levels[sub.Level]; done {
			continue
		}
		lesson, err := s.lessons.Lesson(ctx, sub.Level)
		if err != nil {
			s.log.Warn("level generation failed, skipping level",
				logx.Int("level", sub.Level), logx.Err(err))
			stats.LevelsFailed++
			s.metrics.BatchLevelSkipped()
			levels[sub.Level] = content.Lesson{} // don't retry within this batch
			continue
		}
		levels[sub.Level] = lesson
	}

	for _, sub := range subs {
		lesson, ok := levels[sub.Level]
		if !ok || lesson.ThaiText == "" {
			stats.MissingLevel++
			continue
		}
		s.outbox.Enqueue(transport.ChatTarget{ChatID: sub.TelegramID}, content.RenderDaily(lesson), nil)
		stats.Enqueued++
		s.metrics.BatchEnqueued()
	}

	s.log.Info("daily batch finished",
		logx.Int("subscribers", stats.Subscribers),
		logx.Int("enqueued", stats.Enqueued),
		logx.Int("levels_failed", stats.LevelsFailed),
		logx.Int("missing_level", stats.MissingLevel),
		logx.Duration("took", time.Since(start)))
	return stats
}
