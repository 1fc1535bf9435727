package chunking

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/docloom-embed/internal/errs"
	"github.com/KaramelBytes/docloom-embed/internal/tokens"
)

// runeCounter charges one token per rune.
type runeCounter struct{}

func (runeCounter) CountTokens(text string) (int, error) { return utf8.RuneCountInString(text), nil }

type failingCounter struct{ err error }

func (f failingCounter) CountTokens(string) (int, error) { return 0, f.err }

func cfg(max, overlap, min int) Config {
	return Config{MaxTokens: max, OverlapTokens: overlap, MinTokens: min}
}

// checkInvariants asserts the structural guarantees every result must hold.
func checkInvariants(t *testing.T, text string, c Config, chunks []TextChunk, counter TokenCounter) {
	t.Helper()
	n := utf8.RuneCountInString(text)
	runes := []rune(text)
	for i, ch := range chunks {
		require.Equal(t, i, ch.Index, "indices must be contiguous")
		require.GreaterOrEqual(t, ch.StartChar, 0)
		require.Less(t, ch.StartChar, ch.EndChar)
		require.LessOrEqual(t, ch.EndChar, n)
		require.Equal(t, strings.TrimSpace(string(runes[ch.StartChar:ch.EndChar])), ch.Text)
		got, err := counter.CountTokens(ch.Text)
		require.NoError(t, err)
		require.Equal(t, got, ch.TokenCount)
		if len(chunks) > 1 {
			require.LessOrEqual(t, ch.TokenCount, c.MaxTokens)
		}
		if i > 0 {
			prev := chunks[i-1]
			require.Greater(t, ch.StartChar, prev.StartChar, "scan must advance")
		}
	}
}

func TestChunk_RejectsBlankText(t *testing.T) {
	c := New(runeCounter{})
	for _, in := range []string{"", "   ", "\n\t\n"} {
		_, err := c.Chunk(in, DefaultConfig())
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, "input %q", in)
	}
}

func TestChunk_RejectsBadConfig(t *testing.T) {
	c := New(runeCounter{})
	for _, bad := range []Config{
		cfg(0, 0, 0),
		cfg(10, 0, 10),
		cfg(10, 10, 0),
		cfg(10, -1, 0),
		cfg(10, 0, -1),
	} {
		_, err := c.Chunk("hello", bad)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, "config %+v", bad)
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestChunk_ShortCircuitIgnoresMinTokens(t *testing.T) {
	c := New(runeCounter{})
	out, err := c.Chunk("  hi  ", cfg(10, 2, 5))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, TextChunk{Index: 0, Text: "hi", TokenCount: 6, StartChar: 0, EndChar: 6}, out[0])
}

func TestChunk_SnapsToParagraphs(t *testing.T) {
	text := "aaa bbb\n\nccc ddd\n\neee fff"
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []TextChunk{
		{Index: 0, Text: "aaa bbb", TokenCount: 7, StartChar: 0, EndChar: 9},
		{Index: 1, Text: "ccc ddd", TokenCount: 7, StartChar: 9, EndChar: 18},
		{Index: 2, Text: "eee", TokenCount: 3, StartChar: 18, EndChar: 22},
		{Index: 3, Text: "fff", TokenCount: 3, StartChar: 22, EndChar: 25},
	}, out)
}

func TestChunk_SnapsFinalWindow(t *testing.T) {
	out, err := New(runeCounter{}).Chunk("aaaa bbbb cc dd", cfg(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []TextChunk{
		{Index: 0, Text: "aaaa bbbb", TokenCount: 9, StartChar: 0, EndChar: 10},
		{Index: 1, Text: "cc", TokenCount: 2, StartChar: 10, EndChar: 13},
		{Index: 2, Text: "dd", TokenCount: 2, StartChar: 13, EndChar: 15},
	}, out)
}

func TestChunk_SentenceOutranksLaterSpace(t *testing.T) {
	text := "aa. bb cc dd ee ff gg"
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 0, 0))
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, 4, out[0].EndChar)
	assert.Equal(t, "aa.", out[0].Text)
	checkInvariants(t, text, cfg(10, 0, 0), out, runeCounter{})
}

func TestChunk_ClauseOutranksSpace(t *testing.T) {
	text := "ab, cd ef gh ij kl mn"
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 4, out[0].EndChar)
	assert.Equal(t, "ab,", out[0].Text)
}

func TestChunk_CutsMidWordWithoutSeparator(t *testing.T) {
	// The leading space sits at the window start, which never counts as a
	// break point.
	text := " " + strings.Repeat("a", 15)
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 0, 0))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 10, out[0].EndChar)
	assert.Equal(t, 10, out[1].StartChar)
	assert.Equal(t, 16, out[1].EndChar)
}

func TestChunk_DropsWindowsBelowMinTokens(t *testing.T) {
	text := strings.Repeat("a", 9) + " bb"
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 0, 5))
	require.NoError(t, err)
	require.Len(t, out, 1, "short tail is discarded, not merged")
	assert.Equal(t, strings.Repeat("a", 9), out[0].Text)
	assert.Equal(t, 10, out[0].EndChar)
}

func TestChunk_FixedOverlap(t *testing.T) {
	text := strings.Repeat("x", 30)
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 3, 0))
	require.NoError(t, err)
	require.Len(t, out, 5)
	bounds := [][2]int{{0, 10}, {7, 17}, {14, 24}, {21, 30}, {27, 30}}
	for i, b := range bounds {
		assert.Equal(t, b[0], out[i].StartChar, "chunk %d start", i)
		assert.Equal(t, b[1], out[i].EndChar, "chunk %d end", i)
	}
}

func TestChunk_TailInsideOverlapIsKept(t *testing.T) {
	text := strings.Repeat("x", 25)
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 3, 3))
	require.NoError(t, err)
	require.Len(t, out, 5)
	bounds := [][2]int{{0, 10}, {7, 17}, {14, 24}, {21, 25}, {22, 25}}
	for i, b := range bounds {
		assert.Equal(t, b[0], out[i].StartChar, "chunk %d start", i)
		assert.Equal(t, b[1], out[i].EndChar, "chunk %d end", i)
	}
	assert.Equal(t, TextChunk{Index: 4, Text: "xxx", TokenCount: 3, StartChar: 22, EndChar: 25}, out[4])
	checkInvariants(t, text, cfg(10, 3, 3), out, runeCounter{})
}

func TestChunk_OverlapBoundedByWindow(t *testing.T) {
	text := "ab cdefghijklmnopqrstuvwxyz"
	out, err := New(runeCounter{}).Chunk(text, cfg(10, 5, 0))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), 2)
	assert.Equal(t, 3, out[0].EndChar)
	assert.Equal(t, 3, out[1].StartChar, "overlap wider than the window falls back to a clean advance")
}

func TestChunk_OverlapLookbackCap(t *testing.T) {
	text := strings.Repeat("y", 5000)
	c := cfg(2000, 1500, 0)
	out, err := New(runeCounter{}).Chunk(text, c)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), 2)
	assert.Equal(t, out[0].EndChar-maxOverlapLookback, out[1].StartChar)
	checkInvariants(t, text, c, out, runeCounter{})
}

func TestChunk_PropagatesCounterErrors(t *testing.T) {
	boom := errs.TokenizerFailure(errors.New("boom"))
	_, err := New(failingCounter{err: boom}).Chunk("hello", DefaultConfig())
	assert.ErrorIs(t, err, errs.ErrTokenizerFailure)
}

func TestChunk_TerminatesOnLargeInput(t *testing.T) {
	text := strings.Repeat("word ", 40000)
	c := DefaultConfig()
	out, err := New(runeCounter{}).Chunk(text, c)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	checkInvariants(t, text, c, out, runeCounter{})
}

func TestChunk_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdé \n.,;!?")
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(400)
		rs := make([]rune, n)
		for i := range rs {
			rs[i] = alphabet[rng.Intn(len(alphabet))]
		}
		rs[0] = 'a'
		max := 2 + rng.Intn(40)
		c := cfg(max, rng.Intn(max), rng.Intn(max))
		text := string(rs)
		out, err := New(runeCounter{}).Chunk(text, c)
		require.NoError(t, err)
		checkInvariants(t, text, c, out, runeCounter{})
	}
}

func TestChunk_SingleCharacter(t *testing.T) {
	counter := tokens.NewCounter(tokens.NewManager(tokens.Cl100kBase, nil))
	defer counter.Close()

	out, err := New(counter).Chunk("a", DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, TextChunk{Index: 0, Text: "a", TokenCount: 1, StartChar: 0, EndChar: 1}, out[0])
}

func TestChunk_TenThousandCharsNoPunctuation(t *testing.T) {
	counter := tokens.NewCounter(tokens.NewManager(tokens.Cl100kBase, nil))
	defer counter.Close()

	words := strings.Fields("lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna aliqua")
	var b strings.Builder
	for i := 0; b.Len() < 10000; i++ {
		b.WriteString(words[i%len(words)])
		b.WriteByte(' ')
	}
	text := b.String()[:10000]

	c := DefaultConfig()
	out, err := New(counter).Chunk(text, c)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	checkInvariants(t, text, c, out, counter)

	runes := []rune(text)
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		require.Less(t, cur.StartChar, prev.EndChar, "consecutive chunks %d/%d should overlap", i-1, i)
		shared, err := counter.CountTokens(string(runes[cur.StartChar:prev.EndChar]))
		require.NoError(t, err)
		assert.LessOrEqual(t, shared, c.OverlapTokens)
		assert.Greater(t, shared, c.OverlapTokens/2, "overlap should approximate the requested tokens")
	}
}

func TestChunk_RealTokenizerRespectsBudget(t *testing.T) {
	counter := tokens.NewCounter(tokens.NewManager(tokens.Cl100kBase, nil))
	defer counter.Close()

	para := "Retrieval systems split documents before embedding them. Each window must fit the model's context; " +
		"overlap keeps sentences that straddle a boundary searchable from both sides!\n"
	text := strings.Repeat(para, 60) + "\n\n" + strings.Repeat("Tail section, with clauses; and more words. ", 40)
	c := cfg(128, 16, 8)
	out, err := New(counter).Chunk(text, c)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	checkInvariants(t, text, c, out, counter)
}

func TestTotalTokens(t *testing.T) {
	assert.Equal(t, 9, TotalTokens([]TextChunk{{TokenCount: 4}, {TokenCount: 5}}))
	assert.Zero(t, TotalTokens(nil))
}
