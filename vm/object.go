package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cortexforge/jitcache/compiler"
	"github.com/cortexforge/jitcache/tensor"
)

// Wire magics for the two encodings of a lowered object. Module IR and the
// portable artifact share one body layout; the magic tells them apart so a
// module blob is never loaded where an artifact is expected.
var (
	irMagic  = [4]byte{'J', 'C', 'V', 'M'}
	objMagic = [4]byte{'J', 'C', 'O', 'B'}
)

const wireVersion uint16 = 1

const (
	slotParam uint8 = iota
	slotBaked
)

// inputSlot describes what OpInput finds at one argument position after
// lowering: either the next runtime parameter (with its specialized dtype
// and shape) or a baked compile-time constant.
type inputSlot struct {
	param int // position among runtime inputs, -1 when baked

	dtype tensor.DType
	shape tensor.Shape
	baked tensor.Literal // set only when param < 0
}

// object is a lowered program: the instruction stream plus everything an
// interpreter needs to run it without the original Def or argument list.
type object struct {
	numRegs   int
	consts    []float32
	code      []Instr
	inputs    []inputSlot
	numParams int
	outputs   []uint8
	outConst  []bool
}

// validate mirrors Def.Validate over a decoded object: operand indices in
// range, every register read after a write. Decoded bytes may come from a
// persisted artifact, so no index is trusted.
func (o *object) validate() error {
	written := make([]bool, o.numRegs)

	readReg := func(i int, r uint8) error {
		if int(r) >= o.numRegs {
			return fmt.Errorf("object instruction %d reads register %d outside the %d-register file", i, r, o.numRegs)
		}

		if !written[r] {
			return fmt.Errorf("object instruction %d reads register %d before any write", i, r)
		}

		return nil
	}

	for i, ins := range o.code {
		if int(ins.Dst) >= o.numRegs {
			return fmt.Errorf("object instruction %d writes register %d outside the %d-register file", i, ins.Dst, o.numRegs)
		}

		switch ins.Op {
		case OpInput:
			if int(ins.A) >= len(o.inputs) {
				return fmt.Errorf("object instruction %d reads input %d of %d", i, ins.A, len(o.inputs))
			}

		case OpConst:
			if int(ins.A) >= len(o.consts) {
				return fmt.Errorf("object instruction %d reads constant %d of %d", i, ins.A, len(o.consts))
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
		}

		written[ins.Dst] = true
	}

	for i, r := range o.outputs {
		if !written[r] {
			return fmt.Errorf("object output %d names register %d that is never written", i, r)
		}
	}

	return nil
}

func (o *object) hasNonConstantOutputs() bool {
	for _, c := range o.outConst {
		if !c {
			return true
		}
	}

	return false
}

// lower specializes def against a concrete argument list. Constant arguments
// are baked into the object; parameter arguments become runtime inputs with
// their dtype and shape frozen. Constness is propagated through the code to
// classify each output.
func lower(def Def, args []compiler.Argument) (*object, error) {
	if len(args) != def.NumArgs {
		return nil, fmt.Errorf("program takes %d arguments, got %d", def.NumArgs, len(args))
	}

	obj := &object{
		numRegs:  def.NumRegs,
		consts:   append([]float32(nil), def.Consts...),
		code:     append([]Instr(nil), def.Code...),
		inputs:   make([]inputSlot, len(args)),
		outputs:  append([]uint8(nil), def.Outputs...),
		outConst: make([]bool, len(def.Outputs)),
	}

	for i, a := range args {
		switch a.Kind {
		case compiler.Parameter, compiler.Resource:
			if a.Type != tensor.F32 {
				return nil, fmt.Errorf("argument %d has dtype %s, the vm computes in f32 only", i, a.Type)
			}

			obj.inputs[i] = inputSlot{
				param: obj.numParams,
				dtype: a.Type,
				shape: a.Shape.Clone(),
			}
			obj.numParams++

		case compiler.Constant:
			if a.Constant == nil {
				return nil, fmt.Errorf("argument %d is constant without a host value", i)
			}

			if a.Constant.DType != tensor.F32 {
				return nil, fmt.Errorf("argument %d has dtype %s, the vm computes in f32 only", i, a.Constant.DType)
			}

			lit := a.Constant.Clone()
			obj.inputs[i] = inputSlot{
				param: -1,
				dtype: lit.DType,
				shape: lit.Shape,
				baked: lit,
			}

		default:
			return nil, fmt.Errorf("argument %d has unsupported kind %s", i, a.Kind)
		}
	}

	regConst := make([]bool, def.NumRegs)

	for _, ins := range obj.code {
		switch ins.Op {
		case OpInput:
			regConst[ins.Dst] = obj.inputs[ins.A].param < 0
		case OpConst:
			regConst[ins.Dst] = true
		case OpAdd, OpMul:
			regConst[ins.Dst] = regConst[ins.A] && regConst[ins.B]
		case OpNeg, OpRelu:
			regConst[ins.Dst] = regConst[ins.A]
		}
	}

	for i, r := range obj.outputs {
		obj.outConst[i] = regConst[r]
	}

	return obj, nil
}

// encode serializes the object under the given magic. The layout is fixed
// and little-endian throughout, so equal objects encode to equal bytes.
//
// Layout: magic(4) version(2) numRegs(2)
// numConsts(2) consts(4 each)
// numCode(2) instrs(4 each: op dst a b)
// numInputs(2) slots(kind(1); param: dtype(1) rank(2) dims(8 each);
// baked: dtype(1) rank(2) dims(8 each) payloadLen(4) payload)
// numOutputs(2) outputs(reg(1) const(1) each)
func (o *object) encode(magic [4]byte) ([]byte, error) {
	buf := &bytes.Buffer{}

	buf.Write(magic[:])

	w := func(v any) error {
		return binary.Write(buf, binary.LittleEndian, v)
	}

	if err := w(wireVersion); err != nil {
		return nil, err
	}

	if err := w(uint16(o.numRegs)); err != nil {
		return nil, err
	}

	if err := w(uint16(len(o.consts))); err != nil {
		return nil, err
	}

	for _, c := range o.consts {
		if err := w(c); err != nil {
			return nil, err
		}
	}

	if err := w(uint16(len(o.code))); err != nil {
		return nil, err
	}

	for _, ins := range o.code {
		if err := w([4]uint8{uint8(ins.Op), ins.Dst, ins.A, ins.B}); err != nil {
			return nil, err
		}
	}

	if err := w(uint16(len(o.inputs))); err != nil {
		return nil, err
	}

	for _, slot := range o.inputs {
		kind := slotParam
		if slot.param < 0 {
			kind = slotBaked
		}

		if err := w(kind); err != nil {
			return nil, err
		}

		if err := w(uint8(slot.dtype)); err != nil {
			return nil, err
		}

		if err := w(uint16(slot.shape.Rank())); err != nil {
			return nil, err
		}

		for _, d := range slot.shape.Dims {
			if err := w(d); err != nil {
				return nil, err
			}
		}

		if kind == slotBaked {
			if err := w(uint32(len(slot.baked.Data))); err != nil {
				return nil, err
			}

			buf.Write(slot.baked.Data)
		}
	}

	if err := w(uint16(len(o.outputs))); err != nil {
		return nil, err
	}

	for i, r := range o.outputs {
		c := uint8(0)
		if o.outConst[i] {
			c = 1
		}

		if err := w([2]uint8{r, c}); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// decode rebuilds an object from its wire form, rejecting data that does not
// start with the expected magic and version.
func decode(data []byte, magic [4]byte) (*object, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("object is truncated")
	}

	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("bad object magic %q, want %q", data[:4], magic[:])
	}

	r := bytes.NewReader(data[4:])

	rd := func(v any) error {
		return binary.Read(r, binary.LittleEndian, v)
	}

	var version uint16
	if err := rd(&version); err != nil {
		return nil, err
	}

	if version != wireVersion {
		return nil, fmt.Errorf("unsupported object version %d", version)
	}

	var numRegs uint16
	if err := rd(&numRegs); err != nil {
		return nil, err
	}

	if numRegs < 1 || numRegs > 256 {
		return nil, fmt.Errorf("object claims %d registers", numRegs)
	}

	obj := &object{numRegs: int(numRegs)}

	var numConsts uint16
	if err := rd(&numConsts); err != nil {
		return nil, err
	}

	obj.consts = make([]float32, numConsts)
	for i := range obj.consts {
		if err := rd(&obj.consts[i]); err != nil {
			return nil, err
		}
	}

	var numCode uint16
	if err := rd(&numCode); err != nil {
		return nil, err
	}

	obj.code = make([]Instr, numCode)

	for i := range obj.code {
		var fields [4]uint8
		if err := rd(&fields); err != nil {
			return nil, err
		}

		op := Op(fields[0])
		if op < OpInput || op >= opEnd {
			return nil, fmt.Errorf("object instruction %d has unknown op %d", i, fields[0])
		}

		obj.code[i] = Instr{Op: op, Dst: fields[1], A: fields[2], B: fields[3]}
	}

	var numInputs uint16
	if err := rd(&numInputs); err != nil {
		return nil, err
	}

	obj.inputs = make([]inputSlot, numInputs)

	for i := range obj.inputs {
		var kind, dtype uint8
		if err := rd(&kind); err != nil {
			return nil, err
		}

		if err := rd(&dtype); err != nil {
			return nil, err
		}

		var rank uint16
		if err := rd(&rank); err != nil {
			return nil, err
		}

		shape := tensor.Shape{}
		if rank > 0 {
			shape.Dims = make([]int64, rank)
			for j := range shape.Dims {
				if err := rd(&shape.Dims[j]); err != nil {
					return nil, err
				}
			}
		}

		slot := inputSlot{dtype: tensor.DType(dtype), shape: shape}

		switch kind {
		case slotParam:
			slot.param = obj.numParams
			obj.numParams++

		case slotBaked:
			var payloadLen uint32
			if err := rd(&payloadLen); err != nil {
				return nil, err
			}

			if int(payloadLen) > r.Len() {
				return nil, fmt.Errorf("object input %d is truncated", i)
			}

			payload := make([]byte, payloadLen)
			if _, err := r.Read(payload); err != nil {
				return nil, err
			}

			lit, err := tensor.NewLiteral(slot.dtype, shape, payload)
			if err != nil {
				return nil, fmt.Errorf("object input %d is invalid: %w", i, err)
			}

			slot.param = -1
			slot.baked = lit

		default:
			return nil, fmt.Errorf("object input %d has unknown slot kind %d", i, kind)
		}

		obj.inputs[i] = slot
	}

	var numOutputs uint16
	if err := rd(&numOutputs); err != nil {
		return nil, err
	}

	obj.outputs = make([]uint8, numOutputs)
	obj.outConst = make([]bool, numOutputs)

	for i := range obj.outputs {
		var fields [2]uint8
		if err := rd(&fields); err != nil {
			return nil, err
		}

		if int(fields[0]) >= obj.numRegs {
			return nil, fmt.Errorf("object output %d names register %d of %d", i, fields[0], obj.numRegs)
		}

		obj.outputs[i] = fields[0]
		obj.outConst[i] = fields[1] != 0
	}

	if err := obj.validate(); err != nil {
		return nil, err
	}

	return obj, nil
}
