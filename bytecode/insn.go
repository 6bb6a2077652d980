package bytecode

import "fmt"

// Label marks a position in an instruction list. Its byte offset is only
// known after decoding or assembling.
type Label struct {
	offset int
	placed bool
}

// NewLabel returns an unplaced label.
func NewLabel() *Label {
	return &Label{offset: -1}
}

// Offset returns the byte offset assigned by the last decode or assembly,
// or -1 when the label has not been placed.
func (l *Label) Offset() int {
	if !l.placed {
		return -1
	}
	return l.offset
}

func (l *Label) place(offset int) {
	l.offset = offset
	l.placed = true
}

// Instruction is one element of a method body. When Mark is non-nil the
// element is a label marker and carries no opcode.
type Instruction struct {
	Mark *Label

	Op Opcode

	// Index is the local variable slot for loads, stores, iinc and ret, or the
	// constant pool index for instructions that reference the pool.
	Index uint16

	// Value holds the immediate of bipush/sipush, the iinc increment, the
	// newarray element type, the multianewarray dimension count and the
	// invokeinterface argument count.
	Value int32

	// Target is the branch destination of jumps.
	Target *Label

	// Switch operands. Keys is only used by lookupswitch; tableswitch covers
	// Low..High with one entry of Targets per value.
	Default *Label
	Low     int32
	High    int32
	Keys    []int32
	Targets []*Label
}

// Insn returns an instruction without operands.
func Insn(op Opcode) Instruction {
	return Instruction{Op: op}
}

// IndexInsn returns an instruction whose operand is a pool index or local slot.
func IndexInsn(op Opcode, index uint16) Instruction {
	return Instruction{Op: op, Index: index}
}

// JumpInsn returns a branch instruction.
func JumpInsn(op Opcode, target *Label) Instruction {
	return Instruction{Op: op, Target: target}
}

// MarkInsn returns a label marker.
func MarkInsn(l *Label) Instruction {
	return Instruction{Mark: l}
}

// IsMark reports whether the element is a label marker.
func (in *Instruction) IsMark() bool {
	return in.Mark != nil
}

func (in Instruction) String() string {
	if in.Mark != nil {
		return fmt.Sprintf("L%p:", in.Mark)
	}
	switch opcodes[in.Op].kind {
	case operandByte, operandShort, operandNewarray:
		return fmt.Sprintf("%s %d", in.Op, in.Value)
	case operandLocal:
		return fmt.Sprintf("%s %d", in.Op, in.Index)
	case operandIinc:
		return fmt.Sprintf("%s %d %d", in.Op, in.Index, in.Value)
	case operandConst1, operandConst2, operandDynamic:
		return fmt.Sprintf("%s #%d", in.Op, in.Index)
	case operandInterface, operandMultianew:
		return fmt.Sprintf("%s #%d %d", in.Op, in.Index, in.Value)
	case operandBranch, operandBranchWide:
		return fmt.Sprintf("%s L%p", in.Op, in.Target)
	case operandTableswitch:
		return fmt.Sprintf("%s %d..%d", in.Op, in.Low, in.High)
	case operandLookupswitch:
		return fmt.Sprintf("%s %d keys", in.Op, len(in.Keys))
	}
	return in.Op.String()
}

// Handler is an exception table entry. CatchType is a constant pool class
// index, or zero for a catch-all handler.
type Handler struct {
	Start     *Label
	End       *Label
	Handler   *Label
	CatchType uint16
}

// LineNumber maps the instruction at Start to a source line.
type LineNumber struct {
	Start *Label
	Line  uint16
}

// LocalVar is a LocalVariableTable or LocalVariableTypeTable entry. Name and
// Descriptor are constant pool Utf8 indices; for type table entries
// Descriptor holds the generic signature.
type LocalVar struct {
	Start      *Label
	End        *Label
	Name       uint16
	Descriptor uint16
	Slot       uint16
}

// Body is a decoded method body.
type Body struct {
	MaxStack      uint16
	MaxLocals     uint16
	Instructions  []Instruction
	Handlers      []Handler
	Lines         []LineNumber
	LocalVars     []LocalVar
	LocalVarTypes []LocalVar
}
