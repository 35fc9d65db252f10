package jitcache

import (
	"fmt"
	"time"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/persist"
	"github.com/cortexforge/jitcache/signature"
)

// CompileMode selects what happens on a cache miss.
type CompileMode int

const (
	// ModeStrict compiles on the calling goroutine and always returns a
	// compiled outcome.
	ModeStrict CompileMode = iota

	// ModeLazy compiles only once the profiler judges the signature hot
	// enough; until then lookups return empty.
	ModeLazy

	// ModeAsync schedules the compilation in the background and returns
	// empty until it finishes.
	ModeAsync
)

func (m CompileMode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeLazy:
		return "lazy"
	case ModeAsync:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Compile returns the compiled form of the named program for the given
// argument list, compiling it according to mode when missing.
//
// A (nil, nil, nil) return means the cache declined or deferred the
// compilation under ModeLazy or ModeAsync; the caller falls back to its
// uncompiled path. A non-nil error is the compilation's sticky outcome: the
// same error is returned for every later request of the signature. On
// success the executable may still be nil when the program has no
// non-constant outputs.
func (c *Cache) Compile(opts compiler.Options, name compiler.NameRef, args []compiler.Argument, mode CompileMode) (*compiler.CompilationResult, compiler.Executable, error) {
	program := compiler.ProgramSpec{Name: name, Scope: compiler.ScopeFunction}
	return c.compileImpl(opts, program, args, mode)
}

// CompileSingleOp compiles a one-op program. It shares the signature space
// and dispatch with Compile; only the program scope differs.
func (c *Cache) CompileSingleOp(opts compiler.Options, args []compiler.Argument, op compiler.OpContext, mode CompileMode) (*compiler.CompilationResult, compiler.Executable, error) {
	program := compiler.ProgramSpec{Name: op.NameRef(), Scope: compiler.ScopeOp, Op: &op}
	return c.compileImpl(opts, program, args, mode)
}

func (c *Cache) compileImpl(opts compiler.Options, program compiler.ProgramSpec, args []compiler.Argument, mode CompileMode) (*compiler.CompilationResult, compiler.Executable, error) {
	sig, err := signature.Build(program.Name, args)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signature: %w", err)
	}

	e := c.getOrCreate(sig)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.requestCount++

	c.log.Debug("cache lookup",
		"program", sig.Name(),
		"state", e.state.String(),
		"mode", mode.String(),
		"requests", e.requestCount,
	)

	switch e.state {
	case StateCompiled:
		// Done, possibly by an earlier failure. Fall through to the
		// cached outcome.

	case StateCompiling:
		// A background task owns this entry.
		return nil, nil, nil

	default: // StateUncompiled
		switch mode {
		case ModeLazy:
			if !c.profiler.ShouldCompileNow(sig, e.requestCount) {
				c.log.Debug("compilation declined", "program", sig.Name(), "requests", e.requestCount)
				return nil, nil, nil
			}

			c.compileLocked(e, opts, program, args)

		case ModeAsync:
			c.compileAsync(e, opts, program, args)
			return nil, nil, nil

		default:
			c.compileLocked(e, opts, program, args)
		}
	}

	if e.status != nil {
		return nil, nil, e.status
	}

	return e.result, e.executable, nil
}

// compileLocked compiles the entry's signature on the calling goroutine.
// The entry lock is held throughout, so concurrent requests for the same
// signature wait and then observe the finished outcome.
func (c *Cache) compileLocked(e *entry, opts compiler.Options, program compiler.ProgramSpec, args []compiler.Argument) {
	e.state = StateCompiling

	start := time.Now()
	res, exec, persistentHit, err := c.compileOnce(opts, program, args, e.sig)

	e.state = StateCompiled
	e.status = err
	e.result = res
	e.executable = exec

	c.finishCompilation(e.sig, time.Since(start), persistentHit, err)
}

// compileAsync claims the entry and schedules its compilation. Claiming
// happens under the entry lock held by the caller, so a second async
// request observes StateCompiling and schedules nothing.
func (c *Cache) compileAsync(e *entry, opts compiler.Options, program compiler.ProgramSpec, args []compiler.Argument) {
	e.state = StateCompiling

	// The task outlives this call; it must not share argument memory
	// with the caller.
	argsCopy := cloneArgs(args)

	c.asyncOngoing.Add(1)
	c.log.Debug("queueing async compilation", "program", e.sig.Name())

	c.scheduler.Schedule(func() {
		defer c.asyncOngoing.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("async compilation panicked", "program", e.sig.Name(), "panic", r)

				e.mu.Lock()
				if e.state != StateCompiled {
					e.state = StateCompiled
					e.status = fmt.Errorf("async compilation panicked: %v", r)
				}
				e.mu.Unlock()
			}
		}()

		start := time.Now()
		res, exec, persistentHit, err := c.compileOnce(opts, program, argsCopy, e.sig)

		e.mu.Lock()
		e.state = StateCompiled
		e.status = err
		e.result = res
		e.executable = exec
		e.mu.Unlock()

		c.finishCompilation(e.sig, time.Since(start), persistentHit, err)
	})
}

func (c *Cache) finishCompilation(sig signature.Signature, d time.Duration, persistentHit bool, err error) {
	c.profiler.RecordCompilation(sig, d, persistentHit, err)

	if err != nil {
		c.log.Debug("compilation failed", "program", sig.Name(), "duration", d, "error", err)
		return
	}

	c.log.Debug("compilation finished", "program", sig.Name(), "duration", d, "persistent_hit", persistentHit)
}

// compileOnce runs one full compilation: frontend lowering, then either a
// persistent-cache load or an executable build plus save. The frontend
// always runs, its module fingerprint is part of the persistence key.
func (c *Cache) compileOnce(opts compiler.Options, program compiler.ProgramSpec, args []compiler.Argument, sig signature.Signature) (*compiler.CompilationResult, compiler.Executable, bool, error) {
	res, err := c.compiler.Compile(opts, program, args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to compile %s: %w", program.Name.Canonical(), err)
	}

	if c.store == nil {
		exec, err := c.builder.Build(opts, res)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to build executable for %s: %w", program.Name.Canonical(), err)
		}

		return res, exec, false, nil
	}

	key := persist.BuildCacheKey(c.cfg.PersistencePrefix, sig, res.Module, c.deviceFor(opts))

	if exec, ok := c.tryLoad(key, opts, res); ok {
		return res, exec, true, nil
	}

	exec, err := c.builder.Build(opts, res)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to build executable for %s: %w", program.Name.Canonical(), err)
	}

	c.saveEntry(key, opts, res)

	return res, exec, false, nil
}

// tryLoad attempts to satisfy the executable from the persistent store. Any
// failure, from backend errors to verification mismatches, is logged and
// treated as a miss.
func (c *Cache) tryLoad(key persist.CacheKey, opts compiler.Options, res *compiler.CompilationResult) (compiler.Executable, bool) {
	data, found, err := c.store.Get(key)
	if err != nil {
		c.log.Warn("persistent cache read failed", "key", key.Filename(), "error", err)
		return nil, false
	}

	if !found {
		c.log.Debug("persistent cache miss", "key", key.Filename())
		return nil, false
	}

	serialized, err := persist.DecodeEntry(data)
	if err != nil {
		c.log.Warn("persistent cache entry corrupt", "key", key.Filename(), "error", err)
		return nil, false
	}

	strict := !c.cfg.DisableStrictSignatureChecks
	if err := persist.Verify(serialized, key, res.Module, strict); err != nil {
		c.log.Warn("persistent cache entry rejected", "key", key.Filename(), "error", err)
		return nil, false
	}

	exec, err := c.builder.LoadPortable(opts, res, serialized.Artifact)
	if err != nil {
		c.log.Warn("failed to load persistent executable", "key", key.Filename(), "error", err)
		return nil, false
	}

	c.log.Debug("persistent cache hit", "key", key.Filename())

	return exec, true
}

// saveEntry persists a freshly compiled program. Persistence is best
// effort: failures are logged and the compilation still succeeds.
func (c *Cache) saveEntry(key persist.CacheKey, opts compiler.Options, res *compiler.CompilationResult) {
	artifact, err := c.builder.BuildPortable(opts, res)
	if err != nil {
		c.log.Warn("failed to serialize executable", "key", key.Filename(), "error", err)
		return
	}

	data, err := persist.EncodeEntry(persist.NewEntry(key, res.Module, artifact))
	if err != nil {
		c.log.Warn("failed to encode cache entry", "key", key.Filename(), "error", err)
		return
	}

	if err := c.store.Put(key, data); err != nil {
		c.log.Warn("failed to persist cache entry", "key", key.Filename(), "error", err)
		return
	}

	c.log.Debug("persisted cache entry", "key", key.Filename())
}

func (c *Cache) deviceFor(opts compiler.Options) string {
	if opts.DeviceType != "" {
		return opts.DeviceType
	}

	return c.cfg.DeviceType
}

func cloneArgs(args []compiler.Argument) []compiler.Argument {
	out := make([]compiler.Argument, len(args))
	copy(out, args)

	for i := range out {
		if out[i].Constant != nil {
			lit := out[i].Constant.Clone()
			out[i].Constant = &lit
		}

		out[i].Shape = out[i].Shape.Clone()
	}

	return out
}
