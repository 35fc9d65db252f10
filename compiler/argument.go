package compiler

import (
	"fmt"

	"github.com/cortexforge/jitcache/tensor"
)

// ArgumentKind classifies how an argument reaches the compiled program.
type ArgumentKind int

const (
	// Parameter arguments are fed at execution time; only dtype and shape
	// matter for compilation.
	Parameter ArgumentKind = iota

	// Constant arguments are folded into the program at compile time and
	// must carry a host-resident literal value.
	Constant

	// Resource arguments are stateful handles. They compile like
	// parameters of their underlying dtype and shape.
	Resource
)

func (k ArgumentKind) String() string {
	switch k {
	case Parameter:
		return "parameter"
	case Constant:
		return "constant"
	case Resource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Argument describes one input to a compilation. Which fields are meaningful
// depends on Kind: Type and Shape for Parameter and Resource, Constant for
// Constant. Name is optional and used only in diagnostics.
type Argument struct {
	Kind     ArgumentKind
	Name     string
	Type     tensor.DType
	Shape    tensor.Shape
	Constant *tensor.Literal
}

// Validate checks the argument is internally consistent for its kind.
func (a Argument) Validate() error {
	switch a.Kind {
	case Parameter, Resource:
		if !a.Type.Valid() {
			return fmt.Errorf("%s argument %q has invalid dtype", a.Kind, a.Name)
		}

		for _, d := range a.Shape.Dims {
			if d < 0 {
				return fmt.Errorf("%s argument %q has negative dimension in shape %s", a.Kind, a.Name, a.Shape)
			}
		}

		return nil

	case Constant:
		if a.Constant == nil {
			return fmt.Errorf("constant argument %q has no host value", a.Name)
		}

		if err := a.Constant.Validate(); err != nil {
			return fmt.Errorf("constant argument %q: %w", a.Name, err)
		}

		return nil

	default:
		return fmt.Errorf("argument %q has unknown kind %s", a.Name, a.Kind)
	}
}

// Param is a convenience constructor for a Parameter argument.
func Param(name string, d tensor.DType, dims ...int64) Argument {
	return Argument{Kind: Parameter, Name: name, Type: d, Shape: tensor.MakeShape(dims...)}
}

// Const is a convenience constructor for a Constant argument.
func Const(name string, lit tensor.Literal) Argument {
	return Argument{Kind: Constant, Name: name, Constant: &lit}
}
