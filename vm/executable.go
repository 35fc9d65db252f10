package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/cortexforge/jitcache/tensor"
)

// executable interprets a lowered object. Execute is safe for concurrent use;
// Finalize flips a flag that fails all later calls.
type executable struct {
	obj       *object
	finalized atomic.Bool
}

func newExecutable(obj *object) *executable {
	return &executable{obj: obj}
}

// Execute runs the bytecode over the runtime inputs. Inputs must match the
// parameter slots the object was specialized with, in order.
func (e *executable) Execute(inputs []tensor.Literal) ([]tensor.Literal, error) {
	if e.finalized.Load() {
		return nil, fmt.Errorf("executable is finalized")
	}

	obj := e.obj

	if len(inputs) != obj.numParams {
		return nil, fmt.Errorf("program takes %d inputs, got %d", obj.numParams, len(inputs))
	}

	regs := make([][]float32, obj.numRegs)
	shapes := make([]tensor.Shape, obj.numRegs)

	for _, ins := range obj.code {
		switch ins.Op {
		case OpInput:
			slot := obj.inputs[ins.A]

			var lit tensor.Literal
			if slot.param < 0 {
				lit = slot.baked
			} else {
				lit = inputs[slot.param]

				if lit.DType != slot.dtype {
					return nil, fmt.Errorf("input %d has dtype %s, compiled for %s", slot.param, lit.DType, slot.dtype)
				}

				if !lit.Shape.Equal(slot.shape) {
					return nil, fmt.Errorf("input %d has shape %s, compiled for %s", slot.param, lit.Shape, slot.shape)
				}
			}

			regs[ins.Dst] = lit.F32s()
			shapes[ins.Dst] = lit.Shape

		case OpConst:
			regs[ins.Dst] = []float32{obj.consts[ins.A]}
			shapes[ins.Dst] = tensor.MakeShape()

		case OpAdd:
			out, shape, err := ewBinary(regs[ins.A], shapes[ins.A], regs[ins.B], shapes[ins.B], func(x, y float32) float32 { return x + y })
			if err != nil {
				return nil, err
			}

			regs[ins.Dst], shapes[ins.Dst] = out, shape

		case OpMul:
			out, shape, err := ewBinary(regs[ins.A], shapes[ins.A], regs[ins.B], shapes[ins.B], func(x, y float32) float32 { return x * y })
			if err != nil {
				return nil, err
			}

			regs[ins.Dst], shapes[ins.Dst] = out, shape

		case OpNeg:
			out := make([]float32, len(regs[ins.A]))
			for i, v := range regs[ins.A] {
				out[i] = -v
			}

			regs[ins.Dst], shapes[ins.Dst] = out, shapes[ins.A]

		case OpRelu:
			out := make([]float32, len(regs[ins.A]))
			for i, v := range regs[ins.A] {
				if v > 0 {
					out[i] = v
				}
			}

			regs[ins.Dst], shapes[ins.Dst] = out, shapes[ins.A]

		default:
			return nil, fmt.Errorf("unknown opcode %d", ins.Op)
		}
	}

	outputs := make([]tensor.Literal, len(obj.outputs))

	for i, r := range obj.outputs {
		lit, err := tensor.NewF32(shapes[r], regs[r])
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		outputs[i] = lit
	}

	return outputs, nil
}

// Finalize marks the executable unusable. Idempotent.
func (e *executable) Finalize() {
	e.finalized.Store(true)
}

// ewBinary applies f elementwise. Operand shapes must match exactly, except
// that a scalar broadcasts against any shape.
func ewBinary(a []float32, as tensor.Shape, b []float32, bs tensor.Shape, f func(x, y float32) float32) ([]float32, tensor.Shape, error) {
	switch {
	case as.Equal(bs):
		out := make([]float32, len(a))
		for i := range a {
			out[i] = f(a[i], b[i])
		}

		return out, as, nil

	case len(a) == 1:
		out := make([]float32, len(b))
		for i := range b {
			out[i] = f(a[0], b[i])
		}

		return out, bs, nil

	case len(b) == 1:
		out := make([]float32, len(a))
		for i := range a {
			out[i] = f(a[i], b[0])
		}

		return out, as, nil

	default:
		return nil, tensor.Shape{}, fmt.Errorf("shape mismatch %s vs %s", as, bs)
	}
}
