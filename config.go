package jitcache

import (
	"log/slog"
	"time"

	"github.com/cortexforge/jitcache/persist"
	"github.com/cortexforge/jitcache/signature"
)

// DefaultAsyncWorkers is the background compilation concurrency used when
// Config.AsyncWorkers is unset.
const DefaultAsyncWorkers = 4

// Config controls a Cache. The zero value is a purely in-memory cache with
// discarded logs and default policies.
type Config struct {
	// PersistentCacheDirectory enables persistence when non-empty: every
	// successful compilation is serialized there and later processes load
	// executables instead of rebuilding them. Ignored when Store is set.
	PersistentCacheDirectory string

	// PersistencePrefix namespaces persisted entries, so several caches
	// can share one store.
	PersistencePrefix string

	// DisableStrictSignatureChecks skips the byte-level comparison of a
	// loaded entry's module against the freshly lowered one. The key
	// comparison always remains.
	DisableStrictSignatureChecks bool

	// DeviceType names the device this cache compiles for. It is part of
	// every persistence key.
	DeviceType string

	// AsyncWorkers bounds concurrent background compilations.
	AsyncWorkers int

	// Store overrides the persistence backend. When nil and
	// PersistentCacheDirectory is set, a FileStore over that directory
	// is used.
	Store persist.Store

	// Scheduler overrides how background compilations are run.
	Scheduler Scheduler

	// Logger receives debug and warning lines. Nil discards everything.
	Logger *slog.Logger
}

// Profiler decides whether a lazily requested signature is worth compiling
// and observes finished compilations. Implementations must be safe for
// concurrent use.
type Profiler interface {
	ShouldCompileNow(sig signature.Signature, requestCount int64) bool
	RecordCompilation(sig signature.Signature, d time.Duration, persistentHit bool, err error)
}

// Scheduler runs background compilation tasks. Schedule must not block the
// caller.
type Scheduler interface {
	Schedule(task func())
}
