// Package persist serializes compiled programs so a later process can skip
// the expensive executable build.
//
// Each persisted entry is addressed by a CacheKey derived from the compile
// signature, the lowered module fingerprint and the device type. Entries are
// JSON bundles, lz4-framed on the wire, stored in a pluggable Store: a
// directory of files, a single bbolt database, or an S3 bucket.
package persist

import (
	"path/filepath"
	"strings"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/signature"
)

// EntryExt is the filename extension for persisted entries.
const EntryExt = ".jcache"

// CacheKey addresses one persisted compilation. Two processes compiling the
// same program for the same device derive the same key.
type CacheKey struct {
	Prefix            string `json:"prefix,omitempty"`
	SignatureDigest   string `json:"signature_digest"`
	ModuleFingerprint string `json:"module_fingerprint"`
	DeviceType        string `json:"device_type"`
}

// BuildCacheKey derives the key for a compiled signature and its lowered
// module.
func BuildCacheKey(prefix string, sig signature.Signature, mod compiler.Module, deviceType string) CacheKey {
	return CacheKey{
		Prefix:            prefix,
		SignatureDigest:   sig.Key(),
		ModuleFingerprint: mod.Fingerprint(),
		DeviceType:        deviceType,
	}
}

// Filename returns the deterministic store name for the key:
// <prefix>__<signature>__<fingerprint>__<device> plus the entry extension.
// An empty prefix is omitted cleanly.
func (k CacheKey) Filename() string {
	parts := make([]string, 0, 4)
	if k.Prefix != "" {
		parts = append(parts, sanitize(k.Prefix))
	}

	parts = append(parts, k.SignatureDigest, k.ModuleFingerprint, sanitize(k.DeviceType))

	return strings.Join(parts, "__") + EntryExt
}

func (k CacheKey) String() string {
	return k.Filename()
}

// MatchesPrefix reports whether a store name produced by Filename carries the
// given prefix. An empty prefix matches every name.
func MatchesPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}

	return strings.HasPrefix(filepath.Base(name), sanitize(prefix)+"__")
}

// sanitize keeps store names portable across filesystems and object stores.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
