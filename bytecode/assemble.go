package bytecode

import (
	"fmt"
	"math"

	"github.com/skdltmxn/classpatch/internal/stream"
)

// Assemble encodes insns into a code array, placing every label marker at
// its final offset. Branches whose displacement does not fit in 16 bits are
// widened: goto and jsr become goto_w and jsr_w, conditional branches are
// inverted around a goto_w. The returned slice holds the offset of every
// element of insns.
func Assemble(insns []Instruction) ([]byte, []int, error) {
	code, offsets, _, err := assemble(insns)
	return code, offsets, err
}

// assemble also reports which elements of insns were widened.
func assemble(insns []Instruction) ([]byte, []int, []bool, error) {
	if len(insns) == 0 {
		return nil, nil, nil, ErrEmptyCode
	}
	unplaceTargets(insns)

	long := make([]bool, len(insns))
	offsets := make([]int, len(insns))

	for {
		size, err := layout(insns, long, offsets)
		if err != nil {
			return nil, nil, nil, err
		}
		if size > MaxCodeSize {
			return nil, nil, nil, fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, size)
		}

		widened := false
		for i := range insns {
			in := &insns[i]
			if in.Mark != nil || long[i] || opcodes[in.Op].kind != operandBranch {
				continue
			}
			delta := in.Target.offset - offsets[i]
			if delta < math.MinInt16 || delta > math.MaxInt16 {
				long[i] = true
				widened = true
			}
		}
		if !widened {
			break
		}
	}

	w := stream.NewWriter(offsets[len(offsets)-1] + 16)
	for i := range insns {
		if err := emit(w, &insns[i], offsets[i], long[i]); err != nil {
			return nil, nil, nil, err
		}
	}
	return w.Bytes(), offsets, long, nil
}

// unplaceTargets forgets offsets left over from decoding so that a target
// missing from insns is reported instead of silently reusing a stale offset.
func unplaceTargets(insns []Instruction) {
	for i := range insns {
		in := &insns[i]
		if in.Target != nil {
			in.Target.placed = false
		}
		if in.Default != nil {
			in.Default.placed = false
		}
		for _, t := range in.Targets {
			if t != nil {
				t.placed = false
			}
		}
	}
}

// layout assigns offsets and places labels. It returns the code size.
func layout(insns []Instruction, long []bool, offsets []int) (int, error) {
	pc := 0
	for i := range insns {
		in := &insns[i]
		offsets[i] = pc
		if in.Mark != nil {
			in.Mark.place(pc)
			continue
		}
		n, err := insnSize(in, pc, long[i])
		if err != nil {
			return 0, err
		}
		pc += n
	}
	for i := range insns {
		if err := checkPlaced(&insns[i]); err != nil {
			return 0, err
		}
	}
	return pc, nil
}

func checkPlaced(in *Instruction) error {
	if in.Target != nil && !in.Target.placed {
		return fmt.Errorf("%w: %s", ErrUnplacedLabel, in.Op)
	}
	if in.Op.IsSwitch() && in.Mark == nil {
		if in.Default == nil || !in.Default.placed {
			return fmt.Errorf("%w: %s default", ErrUnplacedLabel, in.Op)
		}
		for _, t := range in.Targets {
			if t == nil || !t.placed {
				return fmt.Errorf("%w: %s case", ErrUnplacedLabel, in.Op)
			}
		}
	}
	return nil
}

func switchPadding(pc int) int {
	return (4 - (pc+1)%4) % 4
}

func insnSize(in *Instruction, pc int, long bool) (int, error) {
	switch opcodes[in.Op].kind {
	case operandNone:
		return 1, nil
	case operandByte, operandNewarray, operandConst1:
		if in.Op == OpLdc && in.Index > math.MaxUint8 {
			return 3, nil
		}
		return 2, nil
	case operandShort, operandConst2:
		return 3, nil
	case operandLocal:
		if in.Index > math.MaxUint8 {
			return 4, nil
		}
		return 2, nil
	case operandIinc:
		if in.Index > math.MaxUint8 || in.Value < math.MinInt8 || in.Value > math.MaxInt8 {
			return 6, nil
		}
		return 3, nil
	case operandBranch:
		if !long {
			return 3, nil
		}
		if in.Op == OpGoto || in.Op == OpJsr {
			return 5, nil
		}
		return 8, nil
	case operandBranchWide, operandInterface, operandDynamic:
		return 5, nil
	case operandMultianew:
		return 4, nil
	case operandTableswitch:
		if in.High < in.Low || int64(len(in.Targets)) != int64(in.High)-int64(in.Low)+1 {
			return 0, fmt.Errorf("%w: %d targets for %d..%d", ErrBadSwitch, len(in.Targets), in.Low, in.High)
		}
		return 1 + switchPadding(pc) + 12 + 4*len(in.Targets), nil
	case operandLookupswitch:
		if len(in.Keys) != len(in.Targets) {
			return 0, fmt.Errorf("%w: %d keys for %d targets", ErrBadSwitch, len(in.Keys), len(in.Targets))
		}
		return 1 + switchPadding(pc) + 8 + 8*len(in.Targets), nil
	}
	return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, uint8(in.Op))
}

func emit(w *stream.Writer, in *Instruction, pc int, long bool) error {
	if in.Mark != nil {
		return nil
	}
	switch opcodes[in.Op].kind {
	case operandNone:
		w.WriteU8(uint8(in.Op))
	case operandByte, operandNewarray:
		w.WriteU8(uint8(in.Op))
		w.WriteU8(uint8(in.Value))
	case operandConst1:
		if in.Index > math.MaxUint8 {
			w.WriteU8(uint8(OpLdcW))
			w.WriteU16(in.Index)
			break
		}
		w.WriteU8(uint8(in.Op))
		w.WriteU8(uint8(in.Index))
	case operandShort:
		w.WriteU8(uint8(in.Op))
		w.WriteU16(uint16(int16(in.Value)))
	case operandConst2:
		w.WriteU8(uint8(in.Op))
		w.WriteU16(in.Index)
	case operandLocal:
		if in.Index > math.MaxUint8 {
			w.WriteU8(uint8(OpWide))
			w.WriteU8(uint8(in.Op))
			w.WriteU16(in.Index)
			break
		}
		w.WriteU8(uint8(in.Op))
		w.WriteU8(uint8(in.Index))
	case operandIinc:
		if in.Index > math.MaxUint8 || in.Value < math.MinInt8 || in.Value > math.MaxInt8 {
			w.WriteU8(uint8(OpWide))
			w.WriteU8(uint8(in.Op))
			w.WriteU16(in.Index)
			w.WriteU16(uint16(int16(in.Value)))
			break
		}
		w.WriteU8(uint8(in.Op))
		w.WriteU8(uint8(in.Index))
		w.WriteU8(uint8(int8(in.Value)))
	case operandBranch:
		delta := in.Target.offset - pc
		switch {
		case !long:
			w.WriteU8(uint8(in.Op))
			w.WriteU16(uint16(int16(delta)))
		case in.Op == OpGoto:
			w.WriteU8(uint8(OpGotoW))
			w.WriteU32(uint32(int32(delta)))
		case in.Op == OpJsr:
			w.WriteU8(uint8(OpJsrW))
			w.WriteU32(uint32(int32(delta)))
		default:
			// Skip over the goto_w when the original condition is false.
			w.WriteU8(uint8(in.Op.invert()))
			w.WriteU16(8)
			w.WriteU8(uint8(OpGotoW))
			w.WriteU32(uint32(int32(delta - 3)))
		}
	case operandBranchWide:
		w.WriteU8(uint8(in.Op))
		w.WriteU32(uint32(int32(in.Target.offset - pc)))
	case operandInterface:
		w.WriteU8(uint8(in.Op))
		w.WriteU16(in.Index)
		w.WriteU8(uint8(in.Value))
		w.WriteU8(0)
	case operandDynamic:
		w.WriteU8(uint8(in.Op))
		w.WriteU16(in.Index)
		w.WriteU16(0)
	case operandMultianew:
		w.WriteU8(uint8(in.Op))
		w.WriteU16(in.Index)
		w.WriteU8(uint8(in.Value))
	case operandTableswitch, operandLookupswitch:
		w.WriteU8(uint8(in.Op))
		for range switchPadding(pc) {
			w.WriteU8(0)
		}
		w.WriteU32(uint32(int32(in.Default.offset - pc)))
		if in.Op == OpTableswitch {
			w.WriteU32(uint32(in.Low))
			w.WriteU32(uint32(in.High))
			for _, t := range in.Targets {
				w.WriteU32(uint32(int32(t.offset - pc)))
			}
			break
		}
		w.WriteU32(uint32(len(in.Keys)))
		for i, key := range in.Keys {
			w.WriteU32(uint32(key))
			w.WriteU32(uint32(int32(in.Targets[i].offset - pc)))
		}
	default:
		return fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, uint8(in.Op))
	}
	return nil
}
