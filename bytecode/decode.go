package bytecode

import (
	"errors"
	"fmt"

	"github.com/skdltmxn/classpatch/internal/stream"
)

// Errors returned while decoding or assembling code.
var (
	ErrTruncatedCode  = errors.New("bytecode: truncated instruction")
	ErrInvalidOpcode  = errors.New("bytecode: invalid opcode")
	ErrBadOffset      = errors.New("bytecode: offset is not an instruction boundary")
	ErrCodeTooLarge   = errors.New("bytecode: code exceeds 65535 bytes")
	ErrEmptyCode      = errors.New("bytecode: empty code array")
	ErrUnplacedLabel  = errors.New("bytecode: label is not placed in the instruction list")
	ErrBadSwitch      = errors.New("bytecode: malformed switch")
	ErrBadDescriptor  = errors.New("bytecode: malformed descriptor")
	ErrStackUnderflow = errors.New("bytecode: operand stack underflow")
	ErrStackHeight    = errors.New("bytecode: inconsistent stack height at merge point")
	ErrSubroutine     = errors.New("bytecode: jsr/ret cannot be used with stack map frames")
)

// MaxCodeSize is the largest code array a method may carry.
const MaxCodeSize = 65535

// Decoder turns a raw code array into an instruction list. Labels for
// exception ranges and debug tables are requested with Label before the
// list is materialized with Instructions.
type Decoder struct {
	insns   []Instruction
	offsets []int
	starts  map[int]bool
	labels  map[int]*Label
	size    int
}

// NewDecoder parses every instruction in code.
func NewDecoder(code []byte) (*Decoder, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	if len(code) > MaxCodeSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, len(code))
	}
	d := &Decoder{
		starts: make(map[int]bool),
		labels: make(map[int]*Label),
		size:   len(code),
	}

	r := stream.NewReader(code)
	var branchTargets []int
	for r.Remaining() > 0 {
		pc := r.Offset()
		in, targets, err := decodeOne(r, pc)
		if err != nil {
			return nil, fmt.Errorf("bytecode: at offset %d: %w", pc, err)
		}
		d.starts[pc] = true
		d.insns = append(d.insns, in)
		d.offsets = append(d.offsets, pc)
		branchTargets = append(branchTargets, targets...)
	}

	for _, t := range branchTargets {
		if !d.starts[t] {
			return nil, fmt.Errorf("%w: branch to %d", ErrBadOffset, t)
		}
	}

	// Resolve the placeholder labels created during the scan.
	for i := range d.insns {
		in := &d.insns[i]
		if in.Target != nil {
			in.Target = d.label(in.Target.offset)
		}
		if in.Default != nil {
			in.Default = d.label(in.Default.offset)
			for j, t := range in.Targets {
				in.Targets[j] = d.label(t.offset)
			}
		}
	}
	return d, nil
}

// Size returns the length of the decoded code array.
func (d *Decoder) Size() int {
	return d.size
}

// Label returns the label for offset, which must be an instruction boundary
// or the end of the code array.
func (d *Decoder) Label(offset int) (*Label, error) {
	if offset != d.size && !d.starts[offset] {
		return nil, fmt.Errorf("%w: %d", ErrBadOffset, offset)
	}
	return d.label(offset), nil
}

func (d *Decoder) label(offset int) *Label {
	l, ok := d.labels[offset]
	if !ok {
		l = &Label{}
		l.place(offset)
		d.labels[offset] = l
	}
	return l
}

// Instructions returns the instruction list with label markers inserted
// before the instructions they designate.
func (d *Decoder) Instructions() []Instruction {
	out := make([]Instruction, 0, len(d.insns)+len(d.labels))
	for i, in := range d.insns {
		if l, ok := d.labels[d.offsets[i]]; ok {
			out = append(out, MarkInsn(l))
		}
		out = append(out, in)
	}
	if l, ok := d.labels[d.size]; ok {
		out = append(out, MarkInsn(l))
	}
	return out
}

// placeholder carries an absolute offset until the scan finishes.
func placeholder(offset int) *Label {
	return &Label{offset: offset}
}

func decodeOne(r *stream.Reader, pc int) (Instruction, []int, error) {
	b, err := r.ReadU8()
	if err != nil {
		return Instruction{}, nil, ErrTruncatedCode
	}
	op := Opcode(b)
	in := Instruction{Op: op}
	fail := func(err error) (Instruction, []int, error) {
		if errors.Is(err, stream.ErrUnexpectedEOF) {
			return Instruction{}, nil, ErrTruncatedCode
		}
		return Instruction{}, nil, err
	}

	switch opcodes[op].kind {
	case operandNone:
	case operandByte, operandNewarray:
		v, err := r.ReadI8()
		if err != nil {
			return fail(err)
		}
		in.Value = int32(v)
		if op == OpNewarray {
			in.Value = int32(uint8(v))
		}
	case operandShort:
		v, err := r.ReadI16()
		if err != nil {
			return fail(err)
		}
		in.Value = int32(v)
	case operandLocal, operandConst1:
		v, err := r.ReadU8()
		if err != nil {
			return fail(err)
		}
		in.Index = uint16(v)
	case operandConst2:
		v, err := r.ReadU16()
		if err != nil {
			return fail(err)
		}
		in.Index = v
	case operandIinc:
		idx, err := r.ReadU8()
		if err != nil {
			return fail(err)
		}
		inc, err := r.ReadI8()
		if err != nil {
			return fail(err)
		}
		in.Index, in.Value = uint16(idx), int32(inc)
	case operandBranch:
		off, err := r.ReadI16()
		if err != nil {
			return fail(err)
		}
		t := pc + int(off)
		in.Target = placeholder(t)
		return in, []int{t}, nil
	case operandBranchWide:
		off, err := r.ReadI32()
		if err != nil {
			return fail(err)
		}
		t := pc + int(off)
		in.Target = placeholder(t)
		return in, []int{t}, nil
	case operandTableswitch, operandLookupswitch:
		return decodeSwitch(r, pc, in)
	case operandInterface:
		idx, err := r.ReadU16()
		if err != nil {
			return fail(err)
		}
		count, err := r.ReadU8()
		if err != nil {
			return fail(err)
		}
		if err := r.Skip(1); err != nil {
			return fail(err)
		}
		in.Index, in.Value = idx, int32(count)
	case operandDynamic:
		idx, err := r.ReadU16()
		if err != nil {
			return fail(err)
		}
		if err := r.Skip(2); err != nil {
			return fail(err)
		}
		in.Index = idx
	case operandMultianew:
		idx, err := r.ReadU16()
		if err != nil {
			return fail(err)
		}
		dims, err := r.ReadU8()
		if err != nil {
			return fail(err)
		}
		in.Index, in.Value = idx, int32(dims)
	case operandWide:
		return decodeWide(r)
	default:
		return Instruction{}, nil, fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, b)
	}
	return in, nil, nil
}

func decodeWide(r *stream.Reader) (Instruction, []int, error) {
	b, err := r.ReadU8()
	if err != nil {
		return Instruction{}, nil, ErrTruncatedCode
	}
	op := Opcode(b)
	k := opcodes[op].kind
	if k != operandLocal && k != operandIinc {
		return Instruction{}, nil, fmt.Errorf("%w: wide %s", ErrInvalidOpcode, op)
	}
	idx, err := r.ReadU16()
	if err != nil {
		return Instruction{}, nil, ErrTruncatedCode
	}
	in := Instruction{Op: op, Index: idx}
	if k == operandIinc {
		inc, err := r.ReadI16()
		if err != nil {
			return Instruction{}, nil, ErrTruncatedCode
		}
		in.Value = int32(inc)
	}
	return in, nil, nil
}

func decodeSwitch(r *stream.Reader, pc int, in Instruction) (Instruction, []int, error) {
	if err := r.Align(4); err != nil {
		return Instruction{}, nil, ErrTruncatedCode
	}
	def, err := r.ReadI32()
	if err != nil {
		return Instruction{}, nil, ErrTruncatedCode
	}
	targets := []int{pc + int(def)}
	in.Default = placeholder(pc + int(def))

	var count int
	if in.Op == OpTableswitch {
		low, err1 := r.ReadI32()
		high, err2 := r.ReadI32()
		if err1 != nil || err2 != nil {
			return Instruction{}, nil, ErrTruncatedCode
		}
		if high < low {
			return Instruction{}, nil, fmt.Errorf("%w: low %d > high %d", ErrBadSwitch, low, high)
		}
		in.Low, in.High = low, high
		count = int(int64(high) - int64(low) + 1)
		if count*4 > r.Remaining() {
			return Instruction{}, nil, ErrTruncatedCode
		}
	} else {
		n, err := r.ReadI32()
		if err != nil {
			return Instruction{}, nil, ErrTruncatedCode
		}
		if n < 0 || int(n)*8 > r.Remaining() {
			return Instruction{}, nil, fmt.Errorf("%w: %d pairs", ErrBadSwitch, n)
		}
		count = int(n)
		in.Keys = make([]int32, 0, count)
	}

	in.Targets = make([]*Label, 0, count)
	for range count {
		if in.Op == OpLookupswitch {
			key, err := r.ReadI32()
			if err != nil {
				return Instruction{}, nil, ErrTruncatedCode
			}
			in.Keys = append(in.Keys, key)
		}
		off, err := r.ReadI32()
		if err != nil {
			return Instruction{}, nil, ErrTruncatedCode
		}
		targets = append(targets, pc+int(off))
		in.Targets = append(in.Targets, placeholder(pc+int(off)))
	}
	return in, targets, nil
}
