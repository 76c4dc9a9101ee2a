package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/metrics"
)

// Snapshot pairs a store with the index built from it. Both are immutable;
// a search holding a snapshot is unaffected by later reloads.
type Snapshot struct {
	Store    *vocabulary.Store
	Index    *index.Index
	Version  uint64
	LoadedAt time.Time
}

// NewSnapshot indexes store.
func NewSnapshot(store *vocabulary.Store, version uint64) *Snapshot {
	return &Snapshot{
		Store:    store,
		Index:    index.Build(store.Entries()),
		Version:  version,
		LoadedAt: time.Now(),
	}
}

// Current returns s itself, so a fixed snapshot can stand in wherever the
// live engine is expected.
func (s *Snapshot) Current() *Snapshot { return s }

// SwapHook runs after a new snapshot is published. old is nil on the first
// load.
type SwapHook func(old, current *Snapshot)

// Engine owns the live snapshot and replaces it atomically on reload.
type Engine struct {
	source  Source
	metrics *metrics.Metrics
	logger  *slog.Logger

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	hooksMu  sync.RWMutex
	hooks    []SwapHook
}

// NewEngine loads the first snapshot from source. m may be nil.
func NewEngine(ctx context.Context, source Source, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{
		source:  source,
		metrics: m,
		logger:  slog.Default().With("component", "indexer", "source", source.Name()),
	}
	if _, err := e.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial vocabulary load: %w", err)
	}
	return e, nil
}

// Current returns the live snapshot. It never returns nil once NewEngine
// succeeded.
func (e *Engine) Current() *Snapshot {
	return e.current.Load()
}

// OnSwap registers fn to run after every successful reload.
func (e *Engine) OnSwap(fn SwapHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Reload reads the source again and publishes a new snapshot. On failure
// the previous snapshot stays live. Concurrent calls run one at a time.
func (e *Engine) Reload(ctx context.Context) (*Snapshot, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	start := time.Now()
	store, err := e.source.Load(ctx)
	if err != nil {
		e.observeReload("failure")
		e.logger.Error("vocabulary reload failed", "error", err)
		return nil, err
	}

	old := e.current.Load()
	var version uint64 = 1
	if old != nil {
		version = old.Version + 1
	}
	snap := NewSnapshot(store, version)
	e.current.Store(snap)

	e.observeReload("success")
	if e.metrics != nil {
		e.metrics.VocabularyEntries.Set(float64(store.Len()))
		e.metrics.VocabularyVersion.Set(float64(version))
	}
	e.logger.Info("vocabulary snapshot published",
		"version", version,
		"entries", store.Len(),
		"terms", snap.Index.TermCount(),
		"postings", snap.Index.PostingCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	e.hooksMu.RLock()
	hooks := append([]SwapHook(nil), e.hooks...)
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(old, snap)
	}
	return snap, nil
}

func (e *Engine) observeReload(status string) {
	if e.metrics != nil {
		e.metrics.VocabularyReloads.WithLabelValues(status).Inc()
	}
}

// Ready reports an error until a snapshot is live.
func (e *Engine) Ready(_ context.Context) error {
	if e.current.Load() == nil {
		return apperrors.ErrNotReady
	}
	return nil
}

// Source returns the source snapshots are loaded from.
func (e *Engine) Source() Source { return e.source }

// Close releases the source if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
