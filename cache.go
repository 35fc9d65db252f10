// Package jitcache memoizes the compilation of accelerator graph programs.
//
// Lowering a traced program into a device executable is expensive enough
// that a runtime cannot afford to repeat it for every call. The cache keys
// each compilation by a canonical signature (program name plus the dtypes,
// shapes and compile-time constant values of its arguments) and keeps the
// outcome forever:
//
//  1. The first request for a signature compiles it through the backend's
//     Compiler and ExecutableBuilder collaborators.
//  2. Later requests return the cached result and executable, including the
//     cached error when the compilation failed.
//  3. With a persistent store configured, executables survive process
//     restarts: the frontend lowering still runs (its fingerprint is part of
//     the storage key), but the expensive executable build is replaced by
//     loading the serialized artifact.
//
// Three compile modes cover the common policies: ModeStrict always blocks
// until the signature is compiled, ModeLazy defers until a profiler judges
// the signature hot enough, and ModeAsync compiles in the background while
// callers fall back to their interpreted path.
package jitcache

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/persist"
	"github.com/cortexforge/jitcache/pool"
	"github.com/cortexforge/jitcache/profile"
	"github.com/cortexforge/jitcache/signature"
)

// Cache maps compile signatures to compiled programs. Safe for concurrent
// use; independent signatures compile in parallel.
type Cache struct {
	cfg       Config
	compiler  compiler.Compiler
	builder   compiler.ExecutableBuilder
	profiler  Profiler
	scheduler Scheduler
	store     persist.Store
	log       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	asyncOngoing atomic.Int64
}

// New builds a cache around the backend collaborators. A nil profiler gets
// the default request-count heuristic, a nil scheduler a bounded worker
// pool, and a nil store the file-backed one when a persistent directory is
// configured.
func New(cfg Config, c compiler.Compiler, b compiler.ExecutableBuilder, p Profiler) (*Cache, error) {
	if c == nil {
		return nil, fmt.Errorf("jitcache: compiler is required")
	}

	if b == nil {
		return nil, fmt.Errorf("jitcache: executable builder is required")
	}

	if p == nil {
		p = profile.New()
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store := cfg.Store
	if store == nil && cfg.PersistentCacheDirectory != "" {
		fs, err := persist.NewFileStore(cfg.PersistentCacheDirectory)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent cache: %w", err)
		}

		store = fs
	}

	scheduler := cfg.Scheduler
	if scheduler == nil {
		workers := cfg.AsyncWorkers
		if workers <= 0 {
			workers = DefaultAsyncWorkers
		}

		scheduler = pool.New(workers)
	}

	return &Cache{
		cfg:       cfg,
		compiler:  c,
		builder:   b,
		profiler:  p,
		scheduler: scheduler,
		store:     store,
		log:       log,
		entries:   make(map[string]*entry),
	}, nil
}

// getOrCreate is the only path that touches the signature map. The
// structural lock is held just long enough to find or insert the entry;
// compilation happens under the entry's own lock.
func (c *Cache) getOrCreate(sig signature.Signature) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sig.Key()]
	if !ok {
		e = &entry{sig: sig}
		c.entries[sig.Key()] = e
	}

	return e
}

// GetIfAlreadyCompiled returns the cached outcome for the signature if its
// compilation has finished. It never compiles and never waits: an unknown
// signature, one still compiling, or one whose entry lock is held right now
// all report (nil, nil, nil). A cached failure surfaces as the error.
func (c *Cache) GetIfAlreadyCompiled(name compiler.NameRef, args []compiler.Argument) (*compiler.CompilationResult, compiler.Executable, error) {
	sig, err := signature.Build(name, args)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signature: %w", err)
	}

	c.mu.Lock()
	e, ok := c.entries[sig.Key()]
	c.mu.Unlock()

	if !ok {
		return nil, nil, nil
	}

	if !e.mu.TryLock() {
		// A compilation is running under the entry lock; report
		// not-ready instead of waiting for it.
		return nil, nil, nil
	}
	defer e.mu.Unlock()

	if e.state != StateCompiled {
		return nil, nil, nil
	}

	if e.status != nil {
		return nil, nil, e.status
	}

	return e.result, e.executable, nil
}

// Len returns the number of signatures the cache has seen.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// OngoingAsyncCompilations reports how many background compilations are
// scheduled or running.
func (c *Cache) OngoingAsyncCompilations() int64 {
	return c.asyncOngoing.Load()
}

// DeviceType returns the configured device type.
func (c *Cache) DeviceType() string {
	return c.cfg.DeviceType
}

// String summarizes the cache for debug logs. Entries whose lock is held by
// an in-flight compilation are counted but not inspected.
func (c *Cache) String() string {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))

	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	compiled := 0

	for _, e := range entries {
		if e.mu.TryLock() {
			if e.state == StateCompiled {
				compiled++
			}

			e.mu.Unlock()
		}
	}

	return fmt.Sprintf("compilation cache: %d entries, %d compiled", len(entries), compiled)
}

// Quiesce waits for background compilations to finish when the scheduler
// supports it. The default pool does.
func (c *Cache) Quiesce() {
	if q, ok := c.scheduler.(interface{ Quiesce() }); ok {
		q.Quiesce()
	}
}

// Close quiesces background work and releases the persistent store. Cached
// entries stay usable; the cache just stops persisting.
func (c *Cache) Close() error {
	c.Quiesce()

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return fmt.Errorf("failed to close persistent store: %w", err)
		}
	}

	return nil
}
