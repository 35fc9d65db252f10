package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Module is the lowered form of a program, an opaque IR blob plus the name it
// was lowered under.
type Module struct {
	Name string
	IR   []byte
}

// Fingerprint returns the sha256 hex digest of the IR. Deterministic lowering
// means the fingerprint identifies the lowered program across processes.
func (m Module) Fingerprint() string {
	sum := sha256.Sum256(m.IR)
	return hex.EncodeToString(sum[:])
}

func (m Module) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.Name, len(m.IR))
}

// CompilationResult is what a Compiler produces: the lowered module and the
// metadata the runtime needs to drive it.
type CompilationResult struct {
	Module     Module
	NumInputs  int
	NumOutputs int

	// HasNonConstantOutputs is false when every output was folded at
	// compile time. Builders return no executable in that case.
	HasNonConstantOutputs bool
}
