package jitcache

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/persist"
	"github.com/cortexforge/jitcache/tensor"
	"github.com/cortexforge/jitcache/vm"
)

// countingBuilder forwards to a real builder and records which path produced
// each executable.
type countingBuilder struct {
	inner compiler.ExecutableBuilder

	builds    atomic.Int64
	portables atomic.Int64
	loads     atomic.Int64
}

func (b *countingBuilder) Build(opts compiler.Options, res *compiler.CompilationResult) (compiler.Executable, error) {
	b.builds.Add(1)
	return b.inner.Build(opts, res)
}

func (b *countingBuilder) BuildPortable(opts compiler.Options, res *compiler.CompilationResult) ([]byte, error) {
	b.portables.Add(1)
	return b.inner.BuildPortable(opts, res)
}

func (b *countingBuilder) LoadPortable(opts compiler.Options, res *compiler.CompilationResult, artifact []byte) (compiler.Executable, error) {
	b.loads.Add(1)
	return b.inner.LoadPortable(opts, res, artifact)
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Get(key persist.CacheKey) ([]byte, bool, error) {
	return nil, false, assert.AnError
}

func (failingStore) Put(key persist.CacheKey, data []byte) error { return assert.AnError }
func (failingStore) Delete(key persist.CacheKey) error           { return assert.AnError }
func (failingStore) Close() error                                { return nil }

func newScaleBackend(t *testing.T) *vm.Backend {
	t.Helper()

	backend := vm.New()
	require.NoError(t, backend.Register("scale", vm.Def{
		NumArgs: 2,
		NumRegs: 3,
		Code: []vm.Instr{
			{Op: vm.OpInput, Dst: 0, A: 0},
			{Op: vm.OpInput, Dst: 1, A: 1},
			{Op: vm.OpMul, Dst: 2, A: 0, B: 1},
		},
		Outputs: []uint8{2},
	}))

	return backend
}

// scaleArgs pairs a runtime vector with a baked constant weight.
func scaleArgs(t *testing.T) []compiler.Argument {
	t.Helper()

	w, err := tensor.NewF32(tensor.MakeShape(3), []float32{2, 2, 2})
	require.NoError(t, err)

	return []compiler.Argument{
		compiler.Param("x", tensor.F32, 3),
		compiler.Const("w", w),
	}
}

func runScale(t *testing.T, exec compiler.Executable) {
	t.Helper()

	x, err := tensor.NewF32(tensor.MakeShape(3), []float32{1, 2, 3})
	require.NoError(t, err)

	outputs, err := exec.Execute([]tensor.Literal{x})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, []float32{2, 4, 6}, outputs[0].F32s())
}

// seedEntry compiles once into dir and returns the persisted file path.
func seedEntry(t *testing.T, dir string) string {
	t.Helper()

	backend := newScaleBackend(t)
	c, err := New(Config{PersistentCacheDirectory: dir, DeviceType: "FPU"}, backend, backend, nil)
	require.NoError(t, err)
	defer c.Close()

	_, exec, err := c.Compile(compiler.Options{}, compiler.NameRef{Name: "scale"}, scaleArgs(t), ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, exec)

	files, err := filepath.Glob(filepath.Join(dir, "*"+persist.EntryExt))
	require.NoError(t, err)
	require.Len(t, files, 1)

	return files[0]
}

// rewriteEntry decodes the persisted entry, applies mutate and writes it
// back under the same name.
func rewriteEntry(t *testing.T, path string, mutate func(*persist.SerializedEntry)) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	e, err := persist.DecodeEntry(data)
	require.NoError(t, err)

	mutate(e)

	out, err := persist.EncodeEntry(e)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestPersistentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend := newScaleBackend(t)
	name := compiler.NameRef{Name: "scale"}
	cfg := Config{PersistentCacheDirectory: dir, PersistencePrefix: "team", DeviceType: "FPU"}

	first := &countingBuilder{inner: backend}
	warm, err := New(cfg, backend, first, nil)
	require.NoError(t, err)
	defer warm.Close()

	res, exec, err := warm.Compile(compiler.Options{}, name, scaleArgs(t), ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, exec)
	runScale(t, exec)

	assert.Equal(t, int64(1), first.builds.Load())
	assert.Equal(t, int64(1), first.portables.Load())

	files, err := filepath.Glob(filepath.Join(dir, "*"+persist.EntryExt))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(filepath.Base(files[0]), "team__"), "entries carry the persistence prefix")

	// A fresh process over the same directory loads instead of building.
	second := &countingBuilder{inner: backend}
	cold, err := New(cfg, backend, second, nil)
	require.NoError(t, err)
	defer cold.Close()

	res2, exec2, err := cold.Compile(compiler.Options{}, name, scaleArgs(t), ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, exec2)
	runScale(t, exec2)

	assert.Equal(t, int64(0), second.builds.Load(), "executable must come from the store")
	assert.Equal(t, int64(1), second.loads.Load())
	assert.Equal(t, res.Module.Fingerprint(), res2.Module.Fingerprint())
}

func TestCorruptEntryFallsBackToBuild(t *testing.T) {
	dir := t.TempDir()
	path := seedEntry(t, dir)

	require.NoError(t, os.WriteFile(path, []byte("scrambled"), 0o644))

	backend := newScaleBackend(t)
	counting := &countingBuilder{inner: backend}

	c, err := New(Config{PersistentCacheDirectory: dir, DeviceType: "FPU"}, backend, counting, nil)
	require.NoError(t, err)
	defer c.Close()

	_, exec, err := c.Compile(compiler.Options{}, compiler.NameRef{Name: "scale"}, scaleArgs(t), ModeStrict)
	require.NoError(t, err, "a corrupt entry is a miss, not a failure")
	require.NotNil(t, exec)

	assert.Equal(t, int64(1), counting.builds.Load())
	assert.Equal(t, int64(0), counting.loads.Load())

	// The rebuild replaced the corrupt entry.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = persist.DecodeEntry(data)
	assert.NoError(t, err)
}

func TestKeyMismatchIsRejectedEvenWithoutStrictChecks(t *testing.T) {
	dir := t.TempDir()
	path := seedEntry(t, dir)

	rewriteEntry(t, path, func(e *persist.SerializedEntry) {
		e.Key.ModuleFingerprint = strings.Repeat("0", 64)
	})

	backend := newScaleBackend(t)
	counting := &countingBuilder{inner: backend}

	cfg := Config{
		PersistentCacheDirectory:     dir,
		DeviceType:                   "FPU",
		DisableStrictSignatureChecks: true,
	}

	c, err := New(cfg, backend, counting, nil)
	require.NoError(t, err)
	defer c.Close()

	_, exec, err := c.Compile(compiler.Options{}, compiler.NameRef{Name: "scale"}, scaleArgs(t), ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, int64(1), counting.builds.Load(), "a key mismatch must reject the entry")
	assert.Equal(t, int64(0), counting.loads.Load())
}

func TestStaleModuleStrictVersusRelaxed(t *testing.T) {
	stale := func(t *testing.T) string {
		dir := t.TempDir()
		path := seedEntry(t, dir)

		rewriteEntry(t, path, func(e *persist.SerializedEntry) {
			e.ModuleIR = []byte("stale ir")
		})

		return dir
	}

	t.Run("strict checks reject the stale module", func(t *testing.T) {
		dir := stale(t)
		backend := newScaleBackend(t)
		counting := &countingBuilder{inner: backend}

		c, err := New(Config{PersistentCacheDirectory: dir, DeviceType: "FPU"}, backend, counting, nil)
		require.NoError(t, err)
		defer c.Close()

		_, exec, err := c.Compile(compiler.Options{}, compiler.NameRef{Name: "scale"}, scaleArgs(t), ModeStrict)
		require.NoError(t, err)
		require.NotNil(t, exec)

		assert.Equal(t, int64(1), counting.builds.Load())
		assert.Equal(t, int64(0), counting.loads.Load())
	})

	t.Run("relaxed checks accept the matching key", func(t *testing.T) {
		dir := stale(t)
		backend := newScaleBackend(t)
		counting := &countingBuilder{inner: backend}

		cfg := Config{
			PersistentCacheDirectory:     dir,
			DeviceType:                   "FPU",
			DisableStrictSignatureChecks: true,
		}

		c, err := New(cfg, backend, counting, nil)
		require.NoError(t, err)
		defer c.Close()

		_, exec, err := c.Compile(compiler.Options{}, compiler.NameRef{Name: "scale"}, scaleArgs(t), ModeStrict)
		require.NoError(t, err)
		require.NotNil(t, exec)
		runScale(t, exec)

		assert.Equal(t, int64(0), counting.builds.Load())
		assert.Equal(t, int64(1), counting.loads.Load())
	})
}

func TestFailingStoreDoesNotFailCompilation(t *testing.T) {
	backend := newScaleBackend(t)
	counting := &countingBuilder{inner: backend}

	c, err := New(Config{Store: failingStore{}, DeviceType: "FPU"}, backend, counting, nil)
	require.NoError(t, err)
	defer c.Close()

	_, exec, err := c.Compile(compiler.Options{}, compiler.NameRef{Name: "scale"}, scaleArgs(t), ModeStrict)
	require.NoError(t, err, "persistence is best effort")
	require.NotNil(t, exec)
	runScale(t, exec)

	assert.Equal(t, int64(1), counting.builds.Load())
}

func TestNilExecutablePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	backend := vm.New()
	require.NoError(t, backend.Register("negate", vm.Def{
		NumArgs: 1,
		NumRegs: 2,
		Code: []vm.Instr{
			{Op: vm.OpInput, Dst: 0, A: 0},
			{Op: vm.OpNeg, Dst: 1, A: 0},
		},
		Outputs: []uint8{1},
	}))

	args := []compiler.Argument{compiler.Const("x", tensor.ScalarF32(5))}
	name := compiler.NameRef{Name: "negate"}
	cfg := Config{PersistentCacheDirectory: dir, DeviceType: "FPU"}

	first := &countingBuilder{inner: backend}
	warm, err := New(cfg, backend, first, nil)
	require.NoError(t, err)
	defer warm.Close()

	res, exec, err := warm.Compile(compiler.Options{}, name, args, ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, exec, "all-constant programs have no executable")
	assert.False(t, res.HasNonConstantOutputs)

	second := &countingBuilder{inner: backend}
	cold, err := New(cfg, backend, second, nil)
	require.NoError(t, err)
	defer cold.Close()

	res2, exec2, err := cold.Compile(compiler.Options{}, name, args, ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, res2)
	assert.Nil(t, exec2)

	assert.Equal(t, int64(0), second.builds.Load())
	assert.Equal(t, int64(1), second.loads.Load(), "the empty artifact round-trips as a hit")
}

func TestBoltStoreBackedCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	name := compiler.NameRef{Name: "scale"}

	storeA, err := persist.NewBoltStore(path)
	require.NoError(t, err)

	backend := newScaleBackend(t)
	first := &countingBuilder{inner: backend}

	warm, err := New(Config{Store: storeA, DeviceType: "FPU"}, backend, first, nil)
	require.NoError(t, err)

	_, exec, err := warm.Compile(compiler.Options{}, name, scaleArgs(t), ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, int64(1), first.builds.Load())

	// Release the database file lock before reopening.
	require.NoError(t, warm.Close())

	storeB, err := persist.NewBoltStore(path)
	require.NoError(t, err)

	second := &countingBuilder{inner: backend}

	cold, err := New(Config{Store: storeB, DeviceType: "FPU"}, backend, second, nil)
	require.NoError(t, err)
	defer cold.Close()

	_, exec2, err := cold.Compile(compiler.Options{}, name, scaleArgs(t), ModeStrict)
	require.NoError(t, err)
	require.NotNil(t, exec2)
	runScale(t, exec2)

	assert.Equal(t, int64(0), second.builds.Load())
	assert.Equal(t, int64(1), second.loads.Load())
}
