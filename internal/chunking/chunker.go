// Package chunking splits text into token-bounded, overlapping windows that
// prefer to break at paragraph, sentence and clause boundaries.
package chunking

import (
	"strings"

	"github.com/KaramelBytes/docloom-embed/internal/errs"
)

// maxOverlapLookback caps how far back from a window's end the overlap
// search looks, in runes.
const maxOverlapLookback = 500

// separatorTiers lists break points from most to least preferred. Within a
// tier the latest occurrence wins.
var separatorTiers = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{"; ", ", "},
	{" "},
}

// TokenCounter is satisfied by *tokens.Counter.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// Chunker is stateless apart from its counter and safe for concurrent use
// when the counter is.
type Chunker struct {
	counter TokenCounter
}

// New returns a chunker measuring windows with counter.
func New(counter TokenCounter) *Chunker {
	return &Chunker{counter: counter}
}

// Chunk splits text according to cfg. Text that fits in cfg.MaxTokens comes
// back as a single chunk even when it is below cfg.MinTokens. Otherwise
// windows whose trimmed text falls below cfg.MinTokens are dropped without
// consuming an index.
func (c *Chunker) Chunk(text string, cfg Config) ([]TextChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.InvalidArgument("text", "text must be non-empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	total, err := c.counter.CountTokens(text)
	if err != nil {
		return nil, err
	}
	if total <= cfg.MaxTokens {
		return []TextChunk{{
			Index:      0,
			Text:       strings.TrimSpace(text),
			TokenCount: total,
			StartChar:  0,
			EndChar:    len(runes),
		}}, nil
	}

	var out []TextChunk
	pos := 0
	for pos < len(runes) {
		end, err := c.windowEnd(runes, pos, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		// The final window snaps too; its remainder becomes the next window.
		if snapped := snapToSeparator(runes, pos, end); snapped > pos {
			end = snapped
		}

		body := strings.TrimSpace(string(runes[pos:end]))
		n, err := c.counter.CountTokens(body)
		if err != nil {
			return nil, err
		}
		// BPE counts are only nearly monotone in prefix length, so a snapped
		// or trimmed window can land one merge over budget.
		for n > cfg.MaxTokens && end > pos+1 {
			end--
			body = strings.TrimSpace(string(runes[pos:end]))
			if n, err = c.counter.CountTokens(body); err != nil {
				return nil, err
			}
		}
		if n >= cfg.MinTokens {
			out = append(out, TextChunk{
				Index:      len(out),
				Text:       body,
				TokenCount: n,
				StartChar:  pos,
				EndChar:    end,
			})
		}

		// A window reaching the end still steps back by the overlap, so the
		// tail it overlaps is offered once more as its own window.
		back, err := c.overlapRunes(runes, pos, end, cfg.OverlapTokens)
		if err != nil {
			return nil, err
		}
		if next := end - back; next > pos {
			pos = next
		} else {
			pos = end
		}
	}
	return out, nil
}

// windowEnd returns the largest e in (pos, len] such that runes[pos:e] fits
// in limit tokens, or pos+1 when even a single rune does not fit. It gallops
// forward to bracket the answer and then bisects the bracket.
func (c *Chunker) windowEnd(runes []rune, pos, limit int) (int, error) {
	n := len(runes)
	lo, hi := pos, n // runes[pos:lo] fits; every e > hi does not
	step := limit
	if step < 1 {
		step = 1
	}
	for lo < hi {
		probe := lo + step
		if probe > hi {
			probe = hi
		}
		fits, err := c.fits(runes[pos:probe], limit)
		if err != nil {
			return 0, err
		}
		if !fits {
			hi = probe - 1
			break
		}
		lo = probe
		step *= 2
	}
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		fits, err := c.fits(runes[pos:mid], limit)
		if err != nil {
			return 0, err
		}
		if fits {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo <= pos {
		return pos + 1, nil
	}
	return lo, nil
}

// overlapRunes returns the largest k, bounded by the window width and
// maxOverlapLookback, such that the last k runes before end fit in limit
// tokens.
func (c *Chunker) overlapRunes(runes []rune, pos, end, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	hi := end - pos
	if hi > maxOverlapLookback {
		hi = maxOverlapLookback
	}
	lo := 0
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		fits, err := c.fits(runes[end-mid:end], limit)
		if err != nil {
			return 0, err
		}
		if fits {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

func (c *Chunker) fits(rs []rune, limit int) (bool, error) {
	n, err := c.counter.CountTokens(string(rs))
	if err != nil {
		return false, err
	}
	return n <= limit, nil
}

// snapToSeparator returns the offset just past the last separator of the
// most preferred tier that starts after pos and ends by end, or -1.
func snapToSeparator(runes []rune, pos, end int) int {
	for _, tier := range separatorTiers {
		best := -1
		for _, sep := range tier {
			if at := lastIndex(runes, sep, pos+1, end); at >= 0 {
				if e := at + len([]rune(sep)); e > best {
					best = e
				}
			}
		}
		if best > 0 {
			return best
		}
	}
	return -1
}

// lastIndex finds the last start offset i in [from, to-len(sep)] where sep
// occurs in runes.
func lastIndex(runes []rune, sep string, from, to int) int {
	s := []rune(sep)
	for i := to - len(s); i >= from; i-- {
		match := true
		for j, r := range s {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
