package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/KaramelBytes/docloom-embed/internal/errs"
)

// Encoding names a BPE vocabulary.
type Encoding string

const (
	Cl100kBase Encoding = "cl100k_base"
	O200kBase  Encoding = "o200k_base"
	P50kBase   Encoding = "p50k_base"
	R50kBase   Encoding = "r50k_base"
)

// DefaultEncoding is the GPT-4 / text-embedding-3 vocabulary.
const DefaultEncoding = Cl100kBase

// Codec is the part of a tokenizer the counter relies on.
type Codec interface {
	Encode(text string) ([]uint, []string, error)
}

// Loader builds a codec for an encoding. Loading is the expensive step the
// Manager caches.
type Loader func(Encoding) (Codec, error)

// LoadTiktoken resolves an encoding from the embedded tiktoken vocabularies.
func LoadTiktoken(enc Encoding) (Codec, error) {
	var name tokenizer.Encoding
	switch enc {
	case Cl100kBase, "":
		name = tokenizer.Cl100kBase
	case O200kBase:
		name = tokenizer.O200kBase
	case P50kBase:
		name = tokenizer.P50kBase
	case R50kBase:
		name = tokenizer.R50kBase
	default:
		return nil, errs.InvalidArgument("encoding", "unsupported encoding %q", string(enc))
	}
	codec, err := tokenizer.Get(name)
	if err != nil {
		return nil, err
	}
	return codec, nil
}

// Manager owns one lazily built codec shared by every Counter that leases
// it. The codec is freed when the last lease is released or on Teardown,
// and rebuilt on the next Acquire.
type Manager struct {
	encoding Encoding
	load     Loader

	mu     sync.Mutex
	codec  Codec
	refs   int
	gen    uint64
	builds int
}

// NewManager returns a manager for enc. A nil load uses LoadTiktoken.
func NewManager(enc Encoding, load Loader) *Manager {
	if enc == "" {
		enc = DefaultEncoding
	}
	if load == nil {
		load = LoadTiktoken
	}
	return &Manager{encoding: enc, load: load}
}

// Encoding reports the vocabulary this manager serves.
func (m *Manager) Encoding() Encoding { return m.encoding }

// Builds reports how many times the codec has been constructed.
func (m *Manager) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}

// Refs reports the number of outstanding leases.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Acquire returns a lease on the shared codec, building it on first use.
func (m *Manager) Acquire() (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codec == nil {
		c, err := m.load(m.encoding)
		if err != nil {
			return nil, errs.TokenizerFailure(fmt.Errorf("load %s: %w", m.encoding, err))
		}
		m.codec = c
		m.builds++
	}
	m.refs++
	return &Lease{Codec: m.codec, m: m, gen: m.gen}, nil
}

// Teardown drops the codec regardless of outstanding leases. Leases taken
// before the teardown go stale: they no longer count against the manager,
// and a Counter holding one acquires a fresh lease on its next count.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codec = nil
	m.refs = 0
	m.gen++
}

func (m *Manager) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.refs == 0 {
		return
	}
	m.refs--
	if m.refs == 0 {
		m.codec = nil
		m.gen++
	}
}

// Lease is a reference to the manager's codec.
type Lease struct {
	Codec
	m    *Manager
	gen  uint64
	once sync.Once
}

// Stale reports whether the manager has torn down or rebuilt the codec since
// the lease was taken.
func (l *Lease) Stale() bool {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.gen != l.m.gen
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() { l.m.release(l.gen) })
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide cl100k_base manager.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultMgr = NewManager(DefaultEncoding, nil)
	})
	return defaultMgr
}
