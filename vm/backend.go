package vm

import (
	"fmt"
	"sync"
	"time"

	"github.com/cortexforge/jitcache/compiler"
)

// Backend is an in-process compiler and executable builder over registered
// bytecode programs. It implements both cache collaborator interfaces, so a
// single Backend can serve as frontend and builder for a cache.
type Backend struct {
	// CompileDelay is added to every Compile call. Useful in tests that
	// need compilation to take long enough to observe overlap.
	CompileDelay time.Duration

	mu       sync.RWMutex
	programs map[string]Def
}

// New returns an empty backend with no registered programs.
func New() *Backend {
	return &Backend{programs: make(map[string]Def)}
}

// Register adds a program definition under the given name, replacing any
// previous definition. The definition is validated and copied.
func (b *Backend) Register(name string, def Def) error {
	if name == "" {
		return fmt.Errorf("program name is empty")
	}

	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid program %q: %w", name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.programs[name] = def.clone()

	return nil
}

// Compile looks up the program by name, specializes it against the argument
// list and encodes the lowered object as the module IR. Lowering is
// deterministic, so equal calls produce equal fingerprints.
func (b *Backend) Compile(opts compiler.Options, program compiler.ProgramSpec, args []compiler.Argument) (*compiler.CompilationResult, error) {
	if b.CompileDelay > 0 {
		time.Sleep(b.CompileDelay)
	}

	b.mu.RLock()
	def, ok := b.programs[program.Name.Name]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown program %q", program.Name.Name)
	}

	obj, err := lower(def, args)
	if err != nil {
		return nil, fmt.Errorf("failed to lower %q: %w", program.Name.Name, err)
	}

	ir, err := obj.encode(irMagic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", program.Name.Name, err)
	}

	return &compiler.CompilationResult{
		Module:                compiler.Module{Name: program.Name.Canonical(), IR: ir},
		NumInputs:             obj.numParams,
		NumOutputs:            len(obj.outputs),
		HasNonConstantOutputs: obj.hasNonConstantOutputs(),
	}, nil
}

// Build decodes the module IR back into an object and wraps it in an
// interpreter. Results with only constant outputs build no executable.
func (b *Backend) Build(opts compiler.Options, res *compiler.CompilationResult) (compiler.Executable, error) {
	if !res.HasNonConstantOutputs {
		return nil, nil
	}

	obj, err := decode(res.Module.IR, irMagic)
	if err != nil {
		return nil, fmt.Errorf("failed to decode module %q: %w", res.Module.Name, err)
	}

	return newExecutable(obj), nil
}

// BuildPortable re-encodes the lowered object as a standalone artifact. For
// this backend the artifact is the object itself under a distinct magic; a
// real device backend would place its finalized device code here.
func (b *Backend) BuildPortable(opts compiler.Options, res *compiler.CompilationResult) ([]byte, error) {
	if !res.HasNonConstantOutputs {
		return nil, nil
	}

	obj, err := decode(res.Module.IR, irMagic)
	if err != nil {
		return nil, fmt.Errorf("failed to decode module %q: %w", res.Module.Name, err)
	}

	return obj.encode(objMagic)
}

// LoadPortable turns an artifact produced by BuildPortable back into an
// executable. An empty artifact means the program had no runnable outputs.
func (b *Backend) LoadPortable(opts compiler.Options, res *compiler.CompilationResult, artifact []byte) (compiler.Executable, error) {
	if len(artifact) == 0 {
		return nil, nil
	}

	obj, err := decode(artifact, objMagic)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact for %q: %w", res.Module.Name, err)
	}

	return newExecutable(obj), nil
}
