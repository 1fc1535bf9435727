// Package tokens counts GPT-style BPE tokens.
package tokens

import (
	"sync"

	"github.com/KaramelBytes/docloom-embed/internal/errs"
)

// Counter maps text to a token count under one encoding. It leases the
// manager's codec on first use and returns the lease on Close; counting
// after Close or after a manager Teardown leases again. Safe for concurrent
// use.
type Counter struct {
	mgr *Manager

	mu    sync.RWMutex
	lease *Lease
}

// NewCounter returns a counter backed by mgr. A nil mgr uses Default().
func NewCounter(mgr *Manager) *Counter {
	if mgr == nil {
		mgr = Default()
	}
	return &Counter{mgr: mgr}
}

// Encoding reports the counter's vocabulary.
func (c *Counter) Encoding() Encoding { return c.mgr.Encoding() }

func (c *Counter) codec() (Codec, error) {
	c.mu.RLock()
	if c.lease != nil && !c.lease.Stale() {
		codec := c.lease.Codec
		c.mu.RUnlock()
		return codec, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lease != nil && c.lease.Stale() {
		c.lease.Release()
		c.lease = nil
	}
	if c.lease == nil {
		l, err := c.mgr.Acquire()
		if err != nil {
			return nil, err
		}
		c.lease = l
	}
	return c.lease.Codec, nil
}

// CountTokens returns the number of tokens in text. The empty string is 0
// and never reaches the tokenizer.
func (c *Counter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	codec, err := c.codec()
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errs.TokenizerFailure(err)
	}
	return len(ids), nil
}

// CountValue counts an untyped value, e.g. a field decoded from JSON.
// Anything other than a string is rejected rather than coerced.
func (c *Counter) CountValue(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errs.InvalidArgument("text", "expected string, got %T", v)
	}
	return c.CountTokens(s)
}

// Close releases the counter's lease on the shared codec.
func (c *Counter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lease != nil {
		c.lease.Release()
		c.lease = nil
	}
	return nil
}

// Truncate returns the longest rune prefix of text that fits within limit
// tokens.
func (c *Counter) Truncate(text string, limit int) (string, error) {
	if limit <= 0 {
		return "", nil
	}
	n, err := c.CountTokens(text)
	if err != nil {
		return "", err
	}
	if n <= limit {
		return text, nil
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		n, err := c.CountTokens(string(runes[:mid]))
		if err != nil {
			return "", err
		}
		if n <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]), nil
}

// Breakdown counts each labeled section.
func (c *Counter) Breakdown(sections map[string]string) (map[string]int, error) {
	out := make(map[string]int, len(sections))
	for k, v := range sections {
		n, err := c.CountTokens(v)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}
