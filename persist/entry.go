package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/cortexforge/jitcache/compiler"
)

// ErrVerification reports a loaded entry that does not match what the cache
// expected. Callers treat it as a miss and recompile.
var ErrVerification = errors.New("cache entry verification failed")

// lz4 frame magic, little-endian 0x184D2204.
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// SerializedEntry is the persisted form of one compiled program: the key it
// was stored under, the lowered module, and the portable executable artifact
// produced by the builder. Artifact is empty when compilation succeeded
// without an executable.
type SerializedEntry struct {
	Key         CacheKey `json:"key"`
	ModuleName  string   `json:"module_name"`
	ModuleIR    []byte   `json:"module_ir"`
	Artifact    []byte   `json:"artifact,omitempty"`
	CreatedUnix int64    `json:"created_unix"`
}

// NewEntry bundles a compiled module and its portable artifact under key.
func NewEntry(key CacheKey, mod compiler.Module, artifact []byte) *SerializedEntry {
	return &SerializedEntry{
		Key:         key,
		ModuleName:  mod.Name,
		ModuleIR:    mod.IR,
		Artifact:    artifact,
		CreatedUnix: time.Now().Unix(),
	}
}

// Module reconstructs the lowered module carried by the entry.
func (e *SerializedEntry) Module() compiler.Module {
	return compiler.Module{Name: e.ModuleName, IR: e.ModuleIR}
}

// EncodeEntry marshals the entry to its lz4-framed JSON wire form.
func EncodeEntry(e *SerializedEntry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	var buf bytes.Buffer

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress cache entry: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeEntry unmarshals an entry from its wire form. The lz4 frame magic is
// sniffed, so uncompressed JSON bundles written by external tooling decode
// too.
func DecodeEntry(data []byte) (*SerializedEntry, error) {
	raw := data

	if bytes.HasPrefix(data, lz4Magic) {
		zr := lz4.NewReader(bytes.NewReader(data))

		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
		}

		raw = decompressed
	}

	var e SerializedEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return &e, nil
}

// Verify checks a loaded entry against the key and freshly lowered module
// the cache expected. The embedded key must always match. The embedded IR
// must byte-match the module unless strict checks are disabled. Any mismatch
// wraps ErrVerification; the caller must reject the entry.
func Verify(e *SerializedEntry, want CacheKey, mod compiler.Module, strict bool) error {
	if e.Key != want {
		return fmt.Errorf("embedded key %s does not match expected %s: %w", e.Key, want, ErrVerification)
	}

	if strict && !bytes.Equal(e.ModuleIR, mod.IR) {
		return fmt.Errorf("embedded module does not match lowered module %s: %w", mod.Name, ErrVerification)
	}

	return nil
}
