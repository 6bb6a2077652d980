package bytecode

import (
	"fmt"
	"math"
	"slices"

	"github.com/skdltmxn/classpatch/internal/stream"
)

// ClassAdder interns class names in the constant pool for stack map frames.
type ClassAdder interface {
	AddClass(name string) uint16
}

// CompileOptions controls Compile.
type CompileOptions struct {
	Pool      Pool
	Classes   ClassAdder
	Hierarchy Hierarchy

	// Frames requests a StackMapTable, required from class file version 50.
	Frames bool
}

// RawHandler is an exception table entry with resolved offsets.
type RawHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// RawLine is a LineNumberTable entry with a resolved offset.
type RawLine struct {
	StartPC uint16
	Line    uint16
}

// RawLocalVar is a LocalVariableTable entry with resolved offsets.
type RawLocalVar struct {
	StartPC    uint16
	Length     uint16
	Name       uint16
	Descriptor uint16
	Slot       uint16
}

// Compiled is an assembled method body ready to be written as a Code
// attribute.
type Compiled struct {
	Code          []byte
	MaxStack      uint16
	MaxLocals     uint16
	Handlers      []RawHandler
	Lines         []RawLine
	LocalVars     []RawLocalVar
	LocalVarTypes []RawLocalVar

	// StackMap is the body of the StackMapTable attribute, nil when no
	// frames are needed.
	StackMap []byte
}

// Compile analyzes body, removes unreachable instructions, assembles the
// result and recomputes max stack, max locals and, when requested, the
// stack map frames. Exception handlers and debug entries whose ranges become
// empty are left out of the result. body itself is not modified; only the
// offsets of its labels are updated.
func Compile(body *Body, m MethodInfo, opts CompileOptions) (*Compiled, error) {
	an, err := Analyze(body.Instructions, body.Handlers, m, opts.Pool, opts.Hierarchy)
	if err != nil {
		return nil, err
	}
	if opts.Frames && an.hasSubroutine {
		return nil, ErrSubroutine
	}

	// Keep markers and reachable instructions; remember where each kept
	// instruction came from.
	kept := make([]Instruction, 0, len(body.Instructions))
	origin := make([]int, 0, len(body.Instructions))
	newIndex := make(map[int]int)
	for i, in := range body.Instructions {
		if in.Mark == nil && !an.Reachable(i) {
			continue
		}
		newIndex[i] = len(kept)
		kept = append(kept, in)
		origin = append(origin, i)
	}
	unplaceTables(body)

	code, offsets, long, err := assemble(kept)
	if err != nil {
		return nil, err
	}

	if an.MaxStack > math.MaxUint16 || an.MaxLocals > math.MaxUint16 {
		return nil, fmt.Errorf("bytecode: %s%s needs %d stack words and %d locals",
			m.Name, m.Descriptor, an.MaxStack, an.MaxLocals)
	}
	out := &Compiled{
		Code:      code,
		MaxStack:  uint16(an.MaxStack),
		MaxLocals: uint16(an.MaxLocals),
	}

	var handlers []Handler
	for _, h := range body.Handlers {
		if !h.Start.placed || !h.End.placed || !h.Handler.placed {
			return nil, fmt.Errorf("%w: exception handler", ErrUnplacedLabel)
		}
		if h.Start.offset >= h.End.offset {
			continue
		}
		handlers = append(handlers, h)
		out.Handlers = append(out.Handlers, RawHandler{
			StartPC:   uint16(h.Start.offset),
			EndPC:     uint16(h.End.offset),
			HandlerPC: uint16(h.Handler.offset),
			CatchType: h.CatchType,
		})
	}

	for _, ln := range body.Lines {
		if ln.Start.placed && ln.Start.offset < len(code) {
			out.Lines = append(out.Lines, RawLine{StartPC: uint16(ln.Start.offset), Line: ln.Line})
		}
	}
	out.LocalVars = resolveLocals(body.LocalVars)
	out.LocalVarTypes = resolveLocals(body.LocalVarTypes)

	if opts.Frames {
		frames := &stackMapWriter{
			classes: opts.Classes,
			offsets: offsets,
			index:   newIndex,
		}
		out.StackMap = frames.encode(kept, origin, long, an, frameTargets(kept, handlers))
	}
	return out, nil
}

// unplaceTables forgets offsets of labels referenced by the exception and
// debug tables so that only markers present in the list get placed.
func unplaceTables(body *Body) {
	for _, h := range body.Handlers {
		h.Start.placed, h.End.placed, h.Handler.placed = false, false, false
	}
	for _, ln := range body.Lines {
		ln.Start.placed = false
	}
	for _, lv := range body.LocalVars {
		lv.Start.placed, lv.End.placed = false, false
	}
	for _, lv := range body.LocalVarTypes {
		lv.Start.placed, lv.End.placed = false, false
	}
}

func resolveLocals(vars []LocalVar) []RawLocalVar {
	var out []RawLocalVar
	for _, lv := range vars {
		if !lv.Start.placed || !lv.End.placed || lv.End.offset <= lv.Start.offset {
			continue
		}
		out = append(out, RawLocalVar{
			StartPC:    uint16(lv.Start.offset),
			Length:     uint16(lv.End.offset - lv.Start.offset),
			Name:       lv.Name,
			Descriptor: lv.Descriptor,
			Slot:       lv.Slot,
		})
	}
	return out
}

// Verification type tags.
const (
	itemTop               = 0
	itemInteger           = 1
	itemFloat             = 2
	itemDouble            = 3
	itemLong              = 4
	itemNull              = 5
	itemUninitializedThis = 6
	itemObject            = 7
	itemUninitialized     = 8
)

type stackMapWriter struct {
	classes ClassAdder
	offsets []int
	index   map[int]int
}

// frameTargets collects the labels control can jump to: branch and switch
// targets and exception handler entries.
func frameTargets(kept []Instruction, handlers []Handler) map[*Label]bool {
	labels := make(map[*Label]bool)
	for i := range kept {
		in := &kept[i]
		if in.Mark != nil {
			continue
		}
		if in.Target != nil {
			labels[in.Target] = true
		}
		if in.Default != nil {
			labels[in.Default] = true
			for _, t := range in.Targets {
				labels[t] = true
			}
		}
	}
	for _, h := range handlers {
		labels[h.Handler] = true
	}
	return labels
}

func (s *stackMapWriter) encode(kept []Instruction, origin []int, long []bool, an *Analysis, targets map[*Label]bool) []byte {
	// Targets are resolved by offset so that several markers at one
	// position yield a single frame.
	needed := make(map[int]bool)
	for i := range kept {
		if kept[i].Mark != nil && targets[kept[i].Mark] {
			needed[s.offsets[i]] = true
		}
	}
	// A widened conditional jumps over its goto_w to the next instruction,
	// which is both a branch target and the successor of a goto_w.
	prevEnds := false
	for i := range kept {
		if kept[i].Mark != nil {
			continue
		}
		if prevEnds {
			needed[s.offsets[i]] = true
		}
		prevEnds = kept[i].Op.EndsBlock() || (long[i] && kept[i].Op.IsConditional())
	}
	if len(needed) == 0 {
		return nil
	}

	w := stream.NewWriter(64)
	w.WriteU16(0)
	count := 0
	prevLocals := s.locals(an.Initial.Locals)
	prevOffset := -1
	for i := range kept {
		if kept[i].Mark != nil || !needed[s.offsets[i]] {
			continue
		}
		f := an.Frames[origin[i]]
		offset := s.offsets[i]
		delta := offset - prevOffset - 1
		locals := s.locals(f.Locals)
		s.writeFrame(w, delta, prevLocals, locals, f.Stack)
		prevLocals, prevOffset = locals, offset
		count++
	}
	w.PutU16At(0, uint16(count))
	return w.Bytes()
}

// locals converts slot-indexed locals to the verification type list used by
// frames, where long and double take one entry and trailing tops are
// dropped.
func (s *stackMapWriter) locals(slots []Value) []Value {
	var out []Value
	for i := 0; i < len(slots); i++ {
		out = append(out, slots[i])
		if slots[i].Size() == 2 {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1].Kind == ValueTop {
		out = out[:len(out)-1]
	}
	return out
}

func (s *stackMapWriter) writeFrame(w *stream.Writer, delta int, prev, locals, stack []Value) {
	same := slices.Equal(prev, locals)
	switch {
	case same && len(stack) == 0 && delta < 64:
		w.WriteU8(uint8(delta))
	case same && len(stack) == 0:
		w.WriteU8(251)
		w.WriteU16(uint16(delta))
	case same && len(stack) == 1 && delta < 64:
		w.WriteU8(uint8(64 + delta))
		s.writeValue(w, stack[0])
	case same && len(stack) == 1:
		w.WriteU8(247)
		w.WriteU16(uint16(delta))
		s.writeValue(w, stack[0])
	case len(stack) == 0 && len(locals) < len(prev) && len(prev)-len(locals) <= 3 &&
		slices.Equal(prev[:len(locals)], locals):
		w.WriteU8(uint8(251 - (len(prev) - len(locals))))
		w.WriteU16(uint16(delta))
	case len(stack) == 0 && len(locals) > len(prev) && len(locals)-len(prev) <= 3 &&
		slices.Equal(prev, locals[:len(prev)]):
		w.WriteU8(uint8(251 + (len(locals) - len(prev))))
		w.WriteU16(uint16(delta))
		for _, v := range locals[len(prev):] {
			s.writeValue(w, v)
		}
	default:
		w.WriteU8(255)
		w.WriteU16(uint16(delta))
		w.WriteU16(uint16(len(locals)))
		for _, v := range locals {
			s.writeValue(w, v)
		}
		w.WriteU16(uint16(len(stack)))
		for _, v := range stack {
			s.writeValue(w, v)
		}
	}
}

func (s *stackMapWriter) writeValue(w *stream.Writer, v Value) {
	switch v.Kind {
	case ValueInteger:
		w.WriteU8(itemInteger)
	case ValueFloat:
		w.WriteU8(itemFloat)
	case ValueLong:
		w.WriteU8(itemLong)
	case ValueDouble:
		w.WriteU8(itemDouble)
	case ValueNull:
		w.WriteU8(itemNull)
	case ValueUninitializedThis:
		w.WriteU8(itemUninitializedThis)
	case ValueObject:
		w.WriteU8(itemObject)
		w.WriteU16(s.classes.AddClass(v.Class))
	case ValueUninitialized:
		w.WriteU8(itemUninitialized)
		w.WriteU16(uint16(s.offsets[s.index[v.New]]))
	default:
		w.WriteU8(itemTop)
	}
}
