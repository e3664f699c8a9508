package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestParagraphChunkerRespectsBounds(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 12; i++ {
		paragraphs = append(paragraphs, strings.Repeat("retrieval engines rank chunks by cosine distance. ", 3))
	}
	text := strings.Join(paragraphs, "\n\n")

	fragments := ParagraphChunker{}.Split(text, 200, 40)
	require.Greater(t, len(fragments), 1)
	for i, f := range fragments {
		require.Equal(t, i, f.Index)
		require.LessOrEqual(t, len(f.Text), 200)
		require.NotEmpty(t, f.Tokens)
		require.Equal(t, f.Text, strings.TrimSpace(f.Text))
	}
}

func TestParagraphChunkerOverlap(t *testing.T) {
	text := "alpha beta gamma delta.\n\nepsilon zeta eta theta.\n\niota kappa lambda mu."

	fragments := ParagraphChunker{}.Split(text, 40, 15)
	require.Len(t, fragments, 3)
	require.Equal(t, "alpha beta gamma delta.", fragments[0].Text)
	require.Equal(t, "gamma delta. epsilon zeta eta theta.", fragments[1].Text)
	require.Equal(t, "eta theta. iota kappa lambda mu.", fragments[2].Text)

	noOverlap := ParagraphChunker{}.Split(text, 40, 0)
	require.Equal(t, "epsilon zeta eta theta.", noOverlap[1].Text)
}

func TestParagraphChunkerSmallTextIsOneChunk(t *testing.T) {
	fragments := ParagraphChunker{}.Split("  short\tnote \n with   spacing ", 800, 100)
	require.Len(t, fragments, 1)
	require.Equal(t, "short note with spacing", fragments[0].Text)
	require.Equal(t, []string{"short", "note", "with", "spacing"}, fragments[0].Tokens)

	require.Empty(t, ParagraphChunker{}.Split(" \n\n\t ", 800, 100))
}

func TestParagraphChunkerDoesNotSplitRunes(t *testing.T) {
	text := strings.Repeat("向量检索", 60)

	fragments := ParagraphChunker{}.Split(text, 50, 0)
	require.Greater(t, len(fragments), 1)
	var rebuilt strings.Builder
	for _, f := range fragments {
		require.True(t, utf8.ValidString(f.Text))
		require.LessOrEqual(t, len(f.Text), 50)
		rebuilt.WriteString(f.Text)
	}
	require.Equal(t, text, rebuilt.String())
}

func TestSplitSentences(t *testing.T) {
	require.Equal(t,
		[]string{"One.", "Two!", "Three?", "yes"},
		splitSentences("One. Two! Three? yes"))
}

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, world! hello 42"))
	require.Empty(t, tokenize("  ...  "))
	require.True(t, isBlank(" \t\n"))
	require.False(t, isBlank(" x "))
}
