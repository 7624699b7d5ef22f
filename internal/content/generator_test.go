package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"thaibot/pkg/logx"
)

func TestParseLessonStripsFences(t *testing.T) {
	raw := "```json\n{\"thai_text\": \"สวัสดีครับ\", \"english_translation\": \"Hello\", \"word_breakdown\": [{\"word\": \"สวัสดี\", \"meaning\": \"hello\", \"pinyin\": \"sa-wat-dee\"}]}\n```"
	l, err := parseLesson(raw)
	if err != nil {
		t.Fatalf("parseLesson: %v", err)
	}
	if l.ThaiText != "สวัสดีครับ" {
		t.Fatalf("thai_text = %q", l.ThaiText)
	}
	if len(l.Words) != 1 || l.Words[0].Pinyin != "sa-wat-dee" {
		t.Fatalf("words = %+v", l.Words)
	}
}

func TestParseLessonBareStringWords(t *testing.T) {
	raw := `{"thai_text": "กินข้าว", "english_translation": "eat rice", "word_breakdown": ["กิน", "ข้าว"]}`
	l, err := parseLesson(raw)
	if err != nil {
		t.Fatalf("parseLesson: %v", err)
	}
	if len(l.Words) != 2 {
		t.Fatalf("words = %+v, want 2 entries", l.Words)
	}
	// Known words pick up the canned romanization.
	if l.Words[0].Pinyin != pinyinFallback["กิน"] {
		t.Fatalf("pinyin = %q, want fallback", l.Words[0].Pinyin)
	}
}

func TestParseLessonRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"not json at all",
		`{"thai_text": ""}`,
		"```json\n{\"thai_text\": \"text with ``` inside\"}\n```",
	} {
		if _, err := parseLesson(raw); err == nil {
			t.Fatalf("parseLesson(%q) accepted invalid input", raw)
		}
	}
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{
				"content": `{"thai_text": "ฝนตก", "english_translation": "It rains", "word_breakdown": []}`,
			}}},
		})
	}))
	defer srv.Close()

	g := NewGenerator(GeneratorConfig{
		APIURL:      srv.URL,
		APIKey:      "test-key",
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
	}, logx.Nop())

	l, err := g.Generate(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if l.ThaiText != "ฝนตก" {
		t.Fatalf("thai_text = %q", l.ThaiText)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("api called %d times, want 2", n)
	}
}

func TestGenerateGivesUpWithSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGenerator(GeneratorConfig{
		APIURL:      srv.URL,
		APIKey:      "k",
		MaxAttempts: 2,
		RetryBase:   time.Millisecond,
	}, logx.Nop())

	if _, err := g.Generate(context.Background(), 1, nil); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerateUnknownLevel(t *testing.T) {
	g := NewGenerator(GeneratorConfig{APIKey: "k"}, logx.Nop())
	if _, err := g.Generate(context.Background(), 99, nil); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestBuildPromptIncludesExclusions(t *testing.T) {
	p := buildPrompt(Levels[2], []string{"ประโยคเก่า"})
	if !strings.Contains(p, "ประโยคเก่า") {
		t.Fatalf("prompt missing excluded sentence:\n%s", p)
	}
	if !strings.Contains(p, Levels[2].Name) {
		t.Fatalf("prompt missing level name:\n%s", p)
	}
}

func TestFallbackCoversAllLevels(t *testing.T) {
	for level := MinLevel; level <= MaxLevel; level++ {
		l := Fallback(level)
		if l.ThaiText == "" {
			t.Fatalf("level %d fallback has no sentence", level)
		}
	}
}
