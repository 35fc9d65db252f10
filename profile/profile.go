// Package profile decides when deferred compilation is worth doing.
//
// The lazy policy compiles a signature only once it has been requested
// enough times to suggest the executable will be reused. A program name that
// keeps producing fresh signatures is "megamorphic": compiling it again and
// again costs more than interpreting it, so once a name crosses the cutoff
// its new signatures are never lazily compiled.
package profile

import (
	"sync"
	"time"

	"github.com/cortexforge/jitcache/signature"
)

const (
	// DefaultCompileThreshold is the request count at which a signature
	// becomes worth compiling lazily.
	DefaultCompileThreshold = 2

	// DefaultMegamorphicCutoff is the number of compilations of one
	// program name after which it is considered megamorphic.
	DefaultMegamorphicCutoff = 10
)

// Stats aggregates compilation activity for one program name.
type Stats struct {
	Compiles       int64
	Failures       int64
	PersistentHits int64
	CompileTime    time.Duration
	Megamorphic    bool
}

// Profiler tracks per-name compilation activity and implements the lazy
// compilation policy. The zero value is not usable; call New.
type Profiler struct {
	threshold int64
	cutoff    int64

	mu    sync.Mutex
	stats map[string]*Stats
}

// New builds a profiler with the default threshold and cutoff.
func New() *Profiler {
	return NewWithLimits(DefaultCompileThreshold, DefaultMegamorphicCutoff)
}

// NewWithLimits builds a profiler compiling signatures once they reach
// threshold requests, until a name accumulates cutoff compilations.
func NewWithLimits(threshold, cutoff int64) *Profiler {
	if threshold < 1 {
		threshold = 1
	}

	if cutoff < 1 {
		cutoff = 1
	}

	return &Profiler{
		threshold: threshold,
		cutoff:    cutoff,
		stats:     make(map[string]*Stats),
	}
}

func (p *Profiler) get(name string) *Stats {
	s, ok := p.stats[name]
	if !ok {
		s = &Stats{}
		p.stats[name] = s
	}

	return s
}

// ShouldCompileNow reports whether a lazily requested signature should be
// compiled on this request.
func (p *Profiler) ShouldCompileNow(sig signature.Signature, requestCount int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.get(sig.Name())
	if s.Megamorphic {
		return false
	}

	return requestCount >= p.threshold
}

// RecordCompilation accounts for one finished compilation of sig. A name
// that crosses the cutoff is marked megamorphic for good.
func (p *Profiler) RecordCompilation(sig signature.Signature, d time.Duration, persistentHit bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.get(sig.Name())

	s.Compiles++
	s.CompileTime += d

	if err != nil {
		s.Failures++
	}

	if persistentHit {
		s.PersistentHits++
	}

	if s.Compiles >= p.cutoff {
		s.Megamorphic = true
	}
}

// Snapshot returns a copy of the per-name stats.
func (p *Profiler) Snapshot() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stats, len(p.stats))
	for name, s := range p.stats {
		out[name] = *s
	}

	return out
}
