package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"thaibot/pkg/logx"
)

const (
	defaultAPIURL = "https://api.deepseek.com/v1/chat/completions"
	defaultModel  = "deepseek-chat"
)

type GeneratorConfig struct {
	APIURL      string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

// Generator calls the chat-completions API and turns its free-form answer
// into a validated Lesson. The model wraps output in markdown fences and
// sometimes omits fields; everything it returns is treated as hostile input.
type Generator struct {
	cfg  GeneratorConfig
	log  logx.Logger
	http *http.Client
}

func NewGenerator(cfg GeneratorConfig, log logx.Logger) *Generator {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultAPIURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Generator{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate produces one lesson for the level. exclude lists recent Thai
// texts the model should avoid. Transient API errors and unparsable output
// are retried with exponential backoff before giving up with ErrGeneration.
func (g *Generator) Generate(ctx context.Context, level int, exclude []string) (Lesson, error) {
	info, ok := Levels[level]
	if !ok {
		return Lesson{}, fmt.Errorf("%w: unknown level %d", ErrGeneration, level)
	}

	prompt := buildPrompt(info, exclude)

	var lastErr error
	delay := g.cfg.RetryBase
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		lesson, err := g.call(ctx, prompt)
		if err == nil {
			return lesson, nil
		}
		lastErr = err
		g.log.Warn("generation attempt failed",
			logx.Int("level", level), logx.Int("attempt", attempt),
			logx.Int("max", g.cfg.MaxAttempts), logx.Err(err))

		if attempt >= g.cfg.MaxAttempts {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Lesson{}, fmt.Errorf("%w: %w", ErrGeneration, ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
	return Lesson{}, fmt.Errorf("%w: %w", ErrGeneration, lastErr)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *Generator) call(ctx context.Context, prompt string) (Lesson, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if err != nil {
		return Lesson{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return Lesson{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return Lesson{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Lesson{}, fmt.Errorf("generator http %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Lesson{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Lesson{}, fmt.Errorf("empty choices")
	}

	return parseLesson(out.Choices[0].Message.Content)
}

// parseLesson validates the model's raw answer into a Lesson.
func parseLesson(raw string) (Lesson, error) {
	clean := stripFences(raw)

	var payload struct {
		ThaiText string            `json:"thai_text"`
		English  string            `json:"english_translation"`
		Words    []json.RawMessage `json:"word_breakdown"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return Lesson{}, fmt.Errorf("parse lesson json: %w", err)
	}

	text := strings.TrimSpace(payload.ThaiText)
	if text == "" || strings.Contains(text, "```") {
		return Lesson{}, fmt.Errorf("invalid thai_text in response")
	}

	l := Lesson{ThaiText: text, English: strings.TrimSpace(payload.English)}
	for _, rawWord := range payload.Words {
		w, ok := parseWord(rawWord)
		if !ok {
			continue
		}
		if strings.TrimSpace(w.Pinyin) == "" {
			if p, found := pinyinFallback[w.Word]; found {
				w.Pinyin = p
			} else {
				w.Pinyin = strings.ToLower(w.Word)
			}
		}
		l.Words = append(l.Words, w)
	}
	return l, nil
}

// parseWord tolerates both object entries and bare-string entries; the model
// alternates between the two.
func parseWord(raw json.RawMessage) (Word, bool) {
	var w Word
	if err := json.Unmarshal(raw, &w); err == nil && w.Word != "" {
		return w, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
		return Word{Word: strings.TrimSpace(s)}, true
	}
	return Word{}, false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func buildPrompt(info LevelInfo, exclude []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a Thai sentence for language learning at %s level (%s).\n", info.Name, info.Description)
	b.WriteString("The sentence should be in Thai script with an English translation.\n\n")
	b.WriteString("For word_breakdown, provide an array of objects with:\n")
	b.WriteString("- word: the individual Thai word (break down into separate words, not phrases)\n")
	b.WriteString("- meaning: English meaning\n")
	b.WriteString("- pinyin: Thai romanization/pronunciation (MUST include this field)\n\n")
	if len(exclude) > 0 {
		b.WriteString("Do NOT use any of these sentences:\n")
		for _, t := range exclude {
			b.WriteString("- ")
			b.WriteString(t)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Use a variety of sentences to keep the learning experience interesting.\n")
	b.WriteString("Format the response as JSON with fields: thai_text, english_translation, word_breakdown")
	return b.String()
}
