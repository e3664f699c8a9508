package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkFragment is one segment of a split document.
type ChunkFragment struct {
	Index  int
	Text   string
	Tokens []string
}

// Chunker splits raw text into bounded, overlapping fragments.
type Chunker interface {
	Split(text string, maxChars, overlap int) []ChunkFragment
}

// ParagraphChunker packs paragraphs, then sentences, into fragments of at
// most maxChars bytes. Each fragment after the first starts with up to
// overlap bytes of its predecessor's tail, cut at a word boundary.
type ParagraphChunker struct{}

// Split implements Chunker.
func (ParagraphChunker) Split(text string, maxChars, overlap int) []ChunkFragment {
	if maxChars <= 0 {
		maxChars = DefaultSettings().ChunkMaxChars
	}
	if overlap < 0 || overlap >= maxChars/2 {
		overlap = 0
	}

	var segments []string
	for _, block := range splitParagraphs(text) {
		segments = append(segments, splitBlock(block, maxChars)...)
	}

	var (
		texts []string
		cur   strings.Builder
	)
	for _, seg := range segments {
		if cur.Len() > 0 && cur.Len()+1+len(seg) > maxChars {
			prev := cur.String()
			texts = append(texts, prev)
			cur.Reset()
			if tail := overlapTail(prev, overlap); tail != "" && len(tail)+1+len(seg) <= maxChars {
				cur.WriteString(tail)
			}
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(seg)
	}
	if cur.Len() > 0 {
		texts = append(texts, cur.String())
	}

	fragments := make([]ChunkFragment, 0, len(texts))
	for i, t := range texts {
		fragments = append(fragments, ChunkFragment{Index: i, Text: t, Tokens: tokenize(t)})
	}
	return fragments
}

// splitParagraphs splits on blank lines and collapses whitespace inside
// each paragraph.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if cleaned := normalizeWhitespace(block); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// splitBlock breaks an oversized paragraph at sentence ends, hard-cutting
// sentences that are still too long.
func splitBlock(block string, maxChars int) []string {
	if len(block) <= maxChars {
		return []string{block}
	}

	var (
		segments []string
		current  strings.Builder
	)
	for _, sentence := range splitSentences(block) {
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxChars {
			segments = append(segments, current.String())
			current.Reset()
		}
		for len(sentence) > maxChars {
			head := cutAtRune(sentence, maxChars)
			segments = append(segments, strings.TrimSpace(head))
			sentence = strings.TrimSpace(sentence[len(head):])
		}
		if sentence == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

func splitSentences(block string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(block)-1; i++ {
		switch block[i] {
		case '.', '!', '?':
			if block[i+1] == ' ' {
				out = append(out, block[start:i+1])
				start = i + 2
			}
		}
	}
	if start < len(block) {
		out = append(out, block[start:])
	}
	return out
}

// cutAtRune returns the longest prefix of s no longer than n bytes that
// does not split a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// overlapTail returns at most n trailing bytes of s starting at a word.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	} else {
		return ""
	}
	return strings.TrimSpace(tail)
}

func normalizeWhitespace(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	lastSpace := false
	for _, r := range input {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
