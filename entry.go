package jitcache

import (
	"fmt"
	"sync"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/signature"
)

// CompileState is the lifecycle of one cache entry. Transitions are
// monotonic: Uncompiled to Compiling to Compiled, never backwards.
type CompileState int

const (
	StateUncompiled CompileState = iota
	StateCompiling
	StateCompiled
)

func (s CompileState) String() string {
	switch s {
	case StateUncompiled:
		return "uncompiled"
	case StateCompiling:
		return "compiling"
	case StateCompiled:
		return "compiled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// entry is the unit of caching for one signature. Entries are created once
// and never evicted; all fields behind mu.
//
// Once state reaches StateCompiled the outcome fields are final: status
// holds the sticky compilation error (nil on success), result and executable
// the cached artifacts. A successful compilation may still carry a nil
// executable when the program has no non-constant outputs.
type entry struct {
	sig signature.Signature

	mu           sync.Mutex
	state        CompileState
	requestCount int64
	status       error
	result       *compiler.CompilationResult
	executable   compiler.Executable
}
