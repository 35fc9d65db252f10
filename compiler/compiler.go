// Package compiler defines the boundary between the compilation cache and the
// backend that actually lowers and loads programs.
//
// A backend provides two collaborators. The Compiler lowers a program plus a
// concrete argument list into a CompilationResult, a deterministic module
// whose fingerprint identifies the lowered form. The ExecutableBuilder turns
// a CompilationResult into something runnable, either directly (Build) or via
// a portable byte artifact that can be persisted and loaded on another
// process (BuildPortable/LoadPortable).
//
// The cache treats everything here as opaque except Module fingerprints and
// the DeviceType carried in Options.
package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// Scope describes what kind of program is being compiled.
type Scope int

const (
	// ScopeFunction compiles a whole traced function graph.
	ScopeFunction Scope = iota

	// ScopeOp compiles a single operation wrapped in a one-node program.
	ScopeOp
)

func (s Scope) String() string {
	switch s {
	case ScopeFunction:
		return "function"
	case ScopeOp:
		return "op"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// NameRef names a program together with the attributes that specialize it.
// Two refs with the same canonical form refer to the same program.
type NameRef struct {
	Name  string
	Attrs map[string]string
}

// Canonical returns the deterministic identity string for the ref: the name
// followed by the attributes in sorted key order.
func (r NameRef) Canonical() string {
	if len(r.Attrs) == 0 {
		return r.Name
	}

	keys := make([]string, 0, len(r.Attrs))
	for k := range r.Attrs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteString(r.Name)
	b.WriteByte('[')

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Attrs[k])
	}

	b.WriteByte(']')

	return b.String()
}

// OpContext carries what is needed to compile a single operation: its name,
// the device it was placed on and its attribute set.
type OpContext struct {
	Name   string
	Device string
	Attrs  map[string]string
}

// NameRef derives the cache-facing name for the wrapped operation.
func (o OpContext) NameRef() NameRef {
	return NameRef{Name: o.Name, Attrs: o.Attrs}
}

// ProgramSpec is the program handed to a Compiler: a named function graph, or
// a single op when Scope is ScopeOp (Op is set in that case).
type ProgramSpec struct {
	Name  NameRef
	Scope Scope
	Op    *OpContext
}

// Options are the per-call knobs forwarded through the cache to the backend.
// The cache itself reads only DeviceType.
type Options struct {
	DeviceType string

	// DeviceOrdinal selects the device instance to build for. Negative
	// means the builder's default device.
	DeviceOrdinal int

	AllowCPUFallback       bool
	AliasPassthroughParams bool
	AlwaysReturnTuple      bool
}

// Compiler lowers programs. Implementations must be deterministic: the same
// program and argument list must produce a module with the same fingerprint.
type Compiler interface {
	Compile(opts Options, program ProgramSpec, args []Argument) (*CompilationResult, error)
}
