package compiler

import "github.com/cortexforge/jitcache/tensor"

// Executable is a loaded program ready to run on its device.
type Executable interface {
	// Execute runs the program over the given inputs. The input count
	// must match the CompilationResult the executable was built from.
	Execute(inputs []tensor.Literal) ([]tensor.Literal, error)

	// Finalize releases device resources. The executable must not be
	// used afterwards.
	Finalize()
}

// ExecutableBuildOptions are the resolved options handed to builder
// implementations, derived from the per-call Options via BuildOptionsFor.
type ExecutableBuildOptions struct {
	DeviceType             string
	DeviceOrdinal          int
	NumOutputs             int
	AliasPassthroughParams bool
}

// BuildOptionsFor resolves the build options for a compilation result,
// substituting defaultOrdinal when the caller did not pin a device.
func BuildOptionsFor(opts Options, res *CompilationResult, defaultOrdinal int) ExecutableBuildOptions {
	ordinal := opts.DeviceOrdinal
	if ordinal < 0 {
		ordinal = defaultOrdinal
	}

	return ExecutableBuildOptions{
		DeviceType:             opts.DeviceType,
		DeviceOrdinal:          ordinal,
		NumOutputs:             res.NumOutputs,
		AliasPassthroughParams: opts.AliasPassthroughParams,
	}
}

// ExecutableBuilder turns compilation results into runnable executables.
//
// Build and LoadPortable may return (nil, nil) when the result has no
// non-constant outputs: compilation succeeded but there is nothing to run.
type ExecutableBuilder interface {
	// Build lowers the result into a device executable.
	Build(opts Options, res *CompilationResult) (Executable, error)

	// BuildPortable produces a self-contained byte artifact that
	// LoadPortable can turn back into an executable, possibly in another
	// process.
	BuildPortable(opts Options, res *CompilationResult) ([]byte, error)

	// LoadPortable deserializes an artifact produced by BuildPortable
	// for the given result.
	LoadPortable(opts Options, res *CompilationResult, artifact []byte) (Executable, error)
}
