package content

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"thaibot/internal/metrics"
	"thaibot/internal/store"
	"thaibot/pkg/logx"
)

// LessonSource is what the cache needs from the generator.
type LessonSource interface {
	Generate(ctx context.Context, level int, exclude []string) (Lesson, error)
}

// History is the slice of the store the cache reads and appends.
type History interface {
	RecentSentenceTexts(ctx context.Context, level, n int) ([]string, error)
	AppendSentence(ctx context.Context, s store.Sentence) error
}

type CacheConfig struct {
	Timezone         string // default "Asia/Bangkok"
	ResetHour        int    // local hour at which a new period starts
	HistorySize      int    // exclusion window per level
	DuplicateRetries int    // extra generations before accepting a duplicate
}

// Cache hands out one lesson per level per period. The period key is the
// local date in the configured timezone, shifted so days roll over at the
// reset hour rather than midnight.
//
// The read-check-generate-write sequence is intentionally not serialized:
// two concurrent misses may both hit the generator. A miss happens once per
// level per day, so a rare redundant call is cheaper than a lock held across
// a network round trip.
type Cache struct {
	src     LessonSource
	history History
	log     logx.Logger
	metrics *metrics.Metrics

	loc       *time.Location
	resetHour int
	histSize  int
	dupRetry  int

	mu        sync.Mutex
	entries   map[int]Lesson
	periodKey string

	now func() time.Time // test hook
}

func NewCache(cfg CacheConfig, src LessonSource, history History, log logx.Logger, m *metrics.Metrics) (*Cache, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "Asia/Bangkok"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 30
	}
	if cfg.DuplicateRetries < 0 {
		cfg.DuplicateRetries = 0
	}
	return &Cache{
		src:       src,
		history:   history,
		log:       log,
		metrics:   m,
		loc:       loc,
		resetHour: cfg.ResetHour,
		histSize:  cfg.HistorySize,
		dupRetry:  cfg.DuplicateRetries,
		entries:   map[int]Lesson{},
		now:       time.Now,
	}, nil
}

// Lesson returns the period's lesson for the level, generating it on first
// use. Two calls within the same period return the identical lesson.
func (c *Cache) Lesson(ctx context.Context, level int) (Lesson, error) {
	key := c.currentPeriodKey()

	c.mu.Lock()
	if c.periodKey != key {
		// Whole-cache invalidation: entries from the previous period must
		// never leak into the new one, even for levels not yet refreshed.
		c.entries = map[int]Lesson{}
		c.periodKey = key
		c.log.Info("lesson cache reset", logx.String("period", key))
	}
	if l, ok := c.entries[level]; ok {
		c.mu.Unlock()
		c.log.Debug("lesson cache hit", logx.Int("level", level), logx.String("period", key))
		return l, nil
	}
	c.mu.Unlock()

	lesson, err := c.generateFresh(ctx, level)
	if err != nil {
		return Lesson{}, err
	}

	c.mu.Lock()
	// Only commit into the period we generated for; a rollover during the
	// generator call discards this entry on the next Lesson() anyway.
	if c.periodKey == key {
		c.entries[level] = lesson
	}
	c.mu.Unlock()

	c.recordHistory(ctx, level, lesson)
	return lesson, nil
}

// generateFresh calls the generator, steering it away from recent sentences
// and regenerating a bounded number of times on a collision. A persistent
// duplicate is accepted: degraded variety must not fail the day's fan-out.
func (c *Cache) generateFresh(ctx context.Context, level int) (Lesson, error) {
	recent, err := c.history.RecentSentenceTexts(ctx, level, c.histSize)
	if err != nil {
		c.log.Warn("history read failed, generating without exclusions", logx.Int("level", level), logx.Err(err))
		recent = nil
	}

	seen := make(map[string]struct{}, len(recent))
	for _, t := range recent {
		seen[normalizeText(t)] = struct{}{}
	}

	var lesson Lesson
	for attempt := 0; ; attempt++ {
		lesson, err = c.src.Generate(ctx, level, recent)
		if err != nil {
			c.metrics.GeneratorCall("error")
			return Lesson{}, err
		}
		if _, dup := seen[normalizeText(lesson.ThaiText)]; !dup {
			c.metrics.GeneratorCall("ok")
			return lesson, nil
		}
		if attempt >= c.dupRetry {
			c.metrics.GeneratorCall("duplicate")
			c.log.Warn("accepting duplicate lesson after retries",
				logx.Int("level", level), logx.Int("retries", attempt))
			return lesson, nil
		}
		c.log.Debug("duplicate lesson, regenerating", logx.Int("level", level), logx.Int("attempt", attempt+1))
	}
}

func (c *Cache) recordHistory(ctx context.Context, level int, l Lesson) {
	words, err := json.Marshal(l.Words)
	if err != nil {
		words = []byte("[]")
	}
	err = c.history.AppendSentence(ctx, store.Sentence{
		Level:     level,
		ThaiText:  l.ThaiText,
		English:   l.English,
		WordsJSON: string(words),
	})
	if err != nil {
		c.log.Warn("sentence archive write failed", logx.Int("level", level), logx.Err(err))
	}
}

func (c *Cache) currentPeriodKey() string {
	t := c.now().In(c.loc)
	if t.Hour() < c.resetHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}

// normalizeText collapses whitespace so trivially reformatted sentences
// still compare equal. Thai script has no case to fold.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
