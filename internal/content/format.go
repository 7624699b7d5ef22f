package content

import (
	"fmt"
	"strings"
)

// RenderDaily formats a lesson as the daily message. Plain text, no parse
// mode, so generator output can never break Telegram markup.
func RenderDaily(l Lesson) string {
	var b strings.Builder
	b.WriteString("🇹🇭 Daily Thai Lesson\n\n")
	b.WriteString("📝 Thai Sentence:\n")
	b.WriteString(l.ThaiText)
	b.WriteString("\n\nTry typing the sentence back in Thai!")
	writeBreakdown(&b, l.Words)
	b.WriteString("\n\nPractice writing the Thai sentence!")
	return b.String()
}

// RenderFirst formats the post-payment welcome lesson.
func RenderFirst(l Lesson) string {
	var b strings.Builder
	b.WriteString("🇹🇭 Your First Thai Lesson\n\n")
	b.WriteString("📝 Thai Sentence:\n")
	b.WriteString(l.ThaiText)
	b.WriteString("\n\n🎯 Your task: Try typing the sentence back in Thai!")
	writeBreakdown(&b, l.Words)
	b.WriteString("\n\nPractice writing the Thai sentence!")
	return b.String()
}

func writeBreakdown(b *strings.Builder, words []Word) {
	if len(words) == 0 {
		return
	}
	b.WriteString("\n\n📚 Word Breakdown:\n")
	for _, w := range words {
		if w.Meaning == "" {
			fmt.Fprintf(b, "%s\n", w.Word)
			continue
		}
		fmt.Fprintf(b, "%s - %s - %s\n", w.Word, w.Meaning, w.Pinyin)
	}
}
