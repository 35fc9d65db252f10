// Package vm is a reference backend for the compilation cache: a small
// register bytecode over f32 tensors.
//
// Programs are registered as Defs, lowered against a concrete argument list
// into a self-contained module, and executed by a straightforward
// interpreter. The backend exists to exercise every cache path with a real
// compiler: lowering is deterministic (equal programs and arguments produce
// byte-equal modules), compile-time constant arguments are baked into the
// lowered form, and programs whose outputs are all constant build no
// executable at all.
package vm

import (
	"fmt"
)

// Op is one bytecode operation.
type Op uint8

const (
	// OpInput loads call-site argument A into Dst. Constant arguments are
	// baked at lowering time; parameter arguments are read at execution.
	OpInput Op = iota + 1

	// OpConst loads scalar constant A of the program definition into Dst.
	OpConst

	// OpAdd stores the elementwise sum of A and B into Dst.
	OpAdd

	// OpMul stores the elementwise product of A and B into Dst.
	OpMul

	// OpNeg stores the elementwise negation of A into Dst.
	OpNeg

	// OpRelu stores max(A, 0) elementwise into Dst.
	OpRelu

	opEnd // sentinel, keep last
)

func (o Op) String() string {
	switch o {
	case OpInput:
		return "input"
	case OpConst:
		return "const"
	case OpAdd:
		return "add"
	case OpMul:
		return "mul"
	case OpNeg:
		return "neg"
	case OpRelu:
		return "relu"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Instr is one register instruction. Every op writes Dst. A and B name
// source registers, except that OpInput reads argument slot A and OpConst
// reads constant slot A.
type Instr struct {
	Op  Op
	Dst uint8
	A   uint8
	B   uint8
}

// Def is a register program over f32 tensors. Registers are untyped slots
// holding whole tensors; the register file is sized by NumRegs.
type Def struct {
	// NumArgs is the number of call-site arguments the program expects.
	NumArgs int

	// NumRegs sizes the register file. At most 256 registers.
	NumRegs int

	// Consts are the scalar constants addressable by OpConst.
	Consts []float32

	Code []Instr

	// Outputs are the registers returned by an execution, in order.
	Outputs []uint8
}

// Validate checks the program is well formed: register and slot indices in
// range, every register read after a write, at least one output.
func (d Def) Validate() error {
	if d.NumRegs < 1 || d.NumRegs > 256 {
		return fmt.Errorf("program needs between 1 and 256 registers, got %d", d.NumRegs)
	}

	if d.NumArgs < 0 || d.NumArgs > 256 {
		return fmt.Errorf("program cannot take %d arguments", d.NumArgs)
	}

	if len(d.Code) == 0 {
		return fmt.Errorf("program has no code")
	}

	if len(d.Outputs) == 0 {
		return fmt.Errorf("program has no outputs")
	}

	written := make([]bool, d.NumRegs)

	readReg := func(i int, r uint8) error {
		if int(r) >= d.NumRegs {
			return fmt.Errorf("instruction %d reads register %d outside the %d-register file", i, r, d.NumRegs)
		}

		if !written[r] {
			return fmt.Errorf("instruction %d reads register %d before any write", i, r)
		}

		return nil
	}

	for i, ins := range d.Code {
		if int(ins.Dst) >= d.NumRegs {
			return fmt.Errorf("instruction %d writes register %d outside the %d-register file", i, ins.Dst, d.NumRegs)
		}

		switch ins.Op {
		case OpInput:
			if int(ins.A) >= d.NumArgs {
				return fmt.Errorf("instruction %d reads argument %d of %d", i, ins.A, d.NumArgs)
			}

		case OpConst:
			if int(ins.A) >= len(d.Consts) {
				return fmt.Errorf("instruction %d reads constant %d of %d", i, ins.A, len(d.Consts))
			}

		case OpAdd, OpMul:
			if err := readReg(i, ins.A); err != nil {
				return err
			}

			if err := readReg(i, ins.B); err != nil {
				return err
			}

		case OpNeg, OpRelu:
			if err := readReg(i, ins.A); err != nil {
				return err
			}

		default:
			return fmt.Errorf("instruction %d has unknown op %s", i, ins.Op)
		}

		written[ins.Dst] = true
	}

	for i, r := range d.Outputs {
		if int(r) >= d.NumRegs {
			return fmt.Errorf("output %d names register %d outside the %d-register file", i, r, d.NumRegs)
		}

		if !written[r] {
			return fmt.Errorf("output %d names register %d that is never written", i, r)
		}
	}

	return nil
}

func (d Def) clone() Def {
	out := d

	out.Consts = append([]float32(nil), d.Consts...)
	out.Code = append([]Instr(nil), d.Code...)
	out.Outputs = append([]uint8(nil), d.Outputs...)

	return out
}
