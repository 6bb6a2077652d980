package bytecode

import (
	"fmt"
	"slices"
	"strings"
)

// Pool resolves the constant pool operands the analysis needs.
type Pool interface {
	// ClassName returns the name of a CONSTANT_Class entry.
	ClassName(index uint16) (string, error)
	// MemberRef returns the owner, name and descriptor of a field, method or
	// interface method reference.
	MemberRef(index uint16) (owner, name, desc string, err error)
	// DynamicDescriptor returns the descriptor of an invokedynamic or
	// dynamic constant entry.
	DynamicDescriptor(index uint16) (string, error)
	// LoadableType returns the field descriptor of the value pushed by ldc.
	LoadableType(index uint16) (string, error)
}

// Hierarchy answers super class queries used to merge reference types.
// ok is false when the class is unknown.
type Hierarchy interface {
	SuperClass(name string) (super string, isInterface bool, ok bool)
}

// MethodInfo identifies the method whose body is analyzed.
type MethodInfo struct {
	Owner      string
	Name       string
	Descriptor string
	Static     bool
}

// Frame is the type state before an instruction executes. Locals has one
// entry per slot, the second slot of a long or double holds ValueTop. Stack
// has one entry per value.
type Frame struct {
	Locals []Value
	Stack  []Value
}

func (f *Frame) clone() *Frame {
	return &Frame{Locals: slices.Clone(f.Locals), Stack: slices.Clone(f.Stack)}
}

func (f *Frame) words() int {
	n := 0
	for _, v := range f.Stack {
		n += v.Size()
	}
	return n
}

func (f *Frame) push(v Value) {
	f.Stack = append(f.Stack, v)
}

func (f *Frame) pop() (Value, error) {
	if len(f.Stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v, nil
}

func (f *Frame) popN(n int) error {
	if len(f.Stack) < n {
		return ErrStackUnderflow
	}
	f.Stack = f.Stack[:len(f.Stack)-n]
	return nil
}

// topEntries returns how many stack entries make up the top n words.
func (f *Frame) topEntries(n int) (int, error) {
	words, count := 0, 0
	for i := len(f.Stack) - 1; i >= 0 && words < n; i-- {
		words += f.Stack[i].Size()
		count++
	}
	if words != n {
		return 0, ErrStackUnderflow
	}
	return count, nil
}

// dup duplicates the top m words and inserts the copy below the next x words.
func (f *Frame) dup(m, x int) error {
	top, err := f.topEntries(m)
	if err != nil {
		return err
	}
	rest := &Frame{Stack: f.Stack[:len(f.Stack)-top]}
	under, err := rest.topEntries(x)
	if err != nil {
		return err
	}
	n := len(f.Stack)
	values := slices.Clone(f.Stack[n-top:])
	between := slices.Clone(f.Stack[n-top-under : n-top])
	f.Stack = append(f.Stack[:n-top-under], values...)
	f.Stack = append(f.Stack, between...)
	f.Stack = append(f.Stack, values...)
	return nil
}

func (f *Frame) setLocal(slot int, v Value) {
	if slot > 0 {
		if prev := f.Locals[slot-1]; prev.Size() == 2 {
			f.Locals[slot-1] = topValue
		}
	}
	f.Locals[slot] = v
	if v.Size() == 2 {
		f.Locals[slot+1] = topValue
	}
}

func (f *Frame) replace(old, v Value) {
	for i := range f.Locals {
		if f.Locals[i] == old {
			f.Locals[i] = v
		}
	}
	for i := range f.Stack {
		if f.Stack[i] == old {
			f.Stack[i] = v
		}
	}
}

// Analysis is the result of a type inference pass over a method body.
type Analysis struct {
	// Frames holds the incoming frame of every element of the instruction
	// list. Label markers and unreachable instructions have nil frames.
	Frames    []*Frame
	MaxStack  int
	MaxLocals int

	// Initial is the frame implied by the method descriptor.
	Initial *Frame

	hasSubroutine bool
}

// Reachable reports whether instruction i can execute.
func (a *Analysis) Reachable(i int) bool {
	return a.Frames[i] != nil
}

type analyzer struct {
	insns    []Instruction
	handlers []Handler
	method   MethodInfo
	pool     Pool
	hier     Hierarchy

	labelPos map[*Label]int
	frames   []*Frame
	work     []int
	queued   []bool
	maxStack int
}

// Analyze infers the type state at every reachable instruction, together
// with the maximum stack depth and local count the body requires.
func Analyze(insns []Instruction, handlers []Handler, m MethodInfo, pool Pool, h Hierarchy) (*Analysis, error) {
	a := &analyzer{
		insns:    insns,
		handlers: handlers,
		method:   m,
		pool:     pool,
		hier:     h,
		labelPos: make(map[*Label]int),
		frames:   make([]*Frame, len(insns)),
		queued:   make([]bool, len(insns)),
	}
	for i := len(insns) - 1; i >= 0; i-- {
		if insns[i].Mark != nil {
			a.labelPos[insns[i].Mark] = a.nextReal(i)
		}
	}

	params, _, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	maxLocals, hasSub := scanLocals(insns, ArgSlots(params, m.Static))

	initial := &Frame{Locals: make([]Value, maxLocals)}
	slot := 0
	if !m.Static {
		if m.Name == "<init>" && m.Owner != ObjectClass {
			initial.Locals[0] = Value{Kind: ValueUninitializedThis}
		} else {
			initial.Locals[0] = Object(m.Owner)
		}
		slot = 1
	}
	for _, p := range params {
		initial.setLocal(slot, ValueOf(p))
		slot += SlotSize(p)
	}

	first := a.nextReal(0)
	if first < len(insns) {
		if _, err := a.merge(first, initial); err != nil {
			return nil, err
		}
		if err := a.run(); err != nil {
			return nil, err
		}
	}

	return &Analysis{
		Frames:        a.frames,
		MaxStack:      a.maxStack,
		MaxLocals:     maxLocals,
		Initial:       initial,
		hasSubroutine: hasSub,
	}, nil
}

// nextReal returns the index of the first non-marker element at or after i.
func (a *analyzer) nextReal(i int) int {
	for i < len(a.insns) && a.insns[i].Mark != nil {
		i++
	}
	return i
}

func (a *analyzer) target(l *Label) (int, error) {
	pos, ok := a.labelPos[l]
	if !ok || pos >= len(a.insns) {
		return 0, ErrUnplacedLabel
	}
	return pos, nil
}

func (a *analyzer) run() error {
	for len(a.work) > 0 {
		i := a.work[len(a.work)-1]
		a.work = a.work[:len(a.work)-1]
		a.queued[i] = false

		in := &a.insns[i]
		if err := a.propagateHandlers(i); err != nil {
			return err
		}

		f := a.frames[i].clone()
		succ, err := a.execute(i, in, f)
		if err != nil {
			return fmt.Errorf("bytecode: %s at instruction %d: %w", in.Op, i, err)
		}
		if w := f.words(); w > a.maxStack {
			a.maxStack = w
		}
		for _, s := range succ {
			if _, err := a.merge(s.index, s.frame); err != nil {
				return err
			}
		}
	}
	return nil
}

type successor struct {
	index int
	frame *Frame
}

func (a *analyzer) propagateHandlers(i int) error {
	for _, h := range a.handlers {
		start, ok1 := a.labelPos[h.Start]
		end, ok2 := a.labelPos[h.End]
		if !ok1 || !ok2 {
			return ErrUnplacedLabel
		}
		if i < start || i >= end {
			continue
		}
		target, err := a.target(h.Handler)
		if err != nil {
			return err
		}
		catch := Object("java/lang/Throwable")
		if h.CatchType != 0 {
			name, err := a.pool.ClassName(h.CatchType)
			if err != nil {
				return err
			}
			catch = Object(name)
		}
		hf := &Frame{Locals: slices.Clone(a.frames[i].Locals), Stack: []Value{catch}}
		if _, err := a.merge(target, hf); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) enqueue(i int) {
	if !a.queued[i] {
		a.queued[i] = true
		a.work = append(a.work, i)
	}
}

func (a *analyzer) merge(i int, f *Frame) (bool, error) {
	if w := f.words(); w > a.maxStack {
		a.maxStack = w
	}
	cur := a.frames[i]
	if cur == nil {
		a.frames[i] = f.clone()
		a.enqueue(i)
		return true, nil
	}
	if len(cur.Stack) != len(f.Stack) {
		return false, fmt.Errorf("%w: instruction %d", ErrStackHeight, i)
	}
	changed := false
	for j := range cur.Locals {
		if v := a.mergeValue(cur.Locals[j], f.Locals[j]); v != cur.Locals[j] {
			cur.Locals[j] = v
			changed = true
		}
	}
	for j := range cur.Stack {
		if v := a.mergeValue(cur.Stack[j], f.Stack[j]); v != cur.Stack[j] {
			cur.Stack[j] = v
			changed = true
		}
	}
	if changed {
		a.enqueue(i)
	}
	return changed, nil
}

func (a *analyzer) mergeValue(x, y Value) Value {
	if x == y {
		return x
	}
	if x.IsReference() && y.IsReference() {
		if x.Kind == ValueNull {
			return y
		}
		if y.Kind == ValueNull {
			return x
		}
		return Object(a.commonSuper(x.Class, y.Class))
	}
	return topValue
}

func (a *analyzer) superClass(name string) (string, bool, bool) {
	if a.hier != nil {
		if super, iface, ok := a.hier.SuperClass(name); ok {
			return super, iface, true
		}
	}
	if pc, ok := platformClasses[name]; ok {
		return pc.super, pc.iface, true
	}
	return "", false, false
}

// maxHierarchyDepth bounds super class walks over possibly cyclic input.
const maxHierarchyDepth = 256

func (a *analyzer) commonSuper(x, y string) string {
	if x == y {
		return x
	}
	if strings.HasPrefix(x, "[") || strings.HasPrefix(y, "[") {
		if strings.HasPrefix(x, "[") && strings.HasPrefix(y, "[") {
			ex, ey := ValueOf(x[1:]), ValueOf(y[1:])
			if ex.Kind == ValueObject && ey.Kind == ValueObject {
				return "[" + ClassDescriptor(a.commonSuper(ex.Class, ey.Class))
			}
		}
		return ObjectClass
	}

	seen := make(map[string]bool)
	for n, depth := x, 0; n != "" && depth < maxHierarchyDepth; depth++ {
		super, iface, ok := a.superClass(n)
		if iface {
			return ObjectClass
		}
		seen[n] = true
		if !ok {
			break
		}
		n = super
	}
	for n, depth := y, 0; n != "" && depth < maxHierarchyDepth; depth++ {
		if seen[n] {
			return n
		}
		super, iface, ok := a.superClass(n)
		if iface || !ok {
			break
		}
		n = super
	}
	return ObjectClass
}

// scanLocals returns the number of local slots the body touches and whether
// it uses subroutines.
func scanLocals(insns []Instruction, args int) (int, bool) {
	n, sub := args, false
	for i := range insns {
		in := &insns[i]
		if in.Mark != nil {
			continue
		}
		if in.Op == OpJsr || in.Op == OpJsrW || in.Op == OpRet {
			sub = true
		}
		if slot, size, _, ok := localAccess(in); ok && slot+size > n {
			n = slot + size
		}
	}
	return n, sub
}

// localAccess decodes the slot, width and load/store direction of a local
// variable instruction, including the implicit-index forms.
func localAccess(in *Instruction) (slot, size int, store bool, ok bool) {
	op := in.Op
	switch {
	case op >= OpIload && op <= OpAload:
		return int(in.Index), widthOf(int(op - OpIload)), false, true
	case op >= OpIload0 && op <= OpIload0+19:
		return int(op-OpIload0) % 4, widthOf(int(op-OpIload0) / 4), false, true
	case op >= OpIstore && op <= OpAstore:
		return int(in.Index), widthOf(int(op - OpIstore)), true, true
	case op >= OpIstore0 && op <= OpIstore0+19:
		return int(op-OpIstore0) % 4, widthOf(int(op-OpIstore0) / 4), true, true
	case op == OpIinc:
		return int(in.Index), 1, true, true
	case op == OpRet:
		return int(in.Index), 1, false, true
	}
	return 0, 0, false, false
}

// Local instruction groups are ordered int, long, float, double, reference.
func widthOf(group int) int {
	if group == 1 || group == 3 {
		return 2
	}
	return 1
}

var groupValues = [...]Value{intValue, longValue, floatValue, doubleValue}

func (a *analyzer) execute(i int, in *Instruction, f *Frame) ([]successor, error) {
	if err := a.step(i, in, f); err != nil {
		return nil, err
	}

	var succ []successor
	add := func(l *Label, fr *Frame) error {
		t, err := a.target(l)
		if err != nil {
			return err
		}
		succ = append(succ, successor{index: t, frame: fr})
		return nil
	}

	switch {
	case in.Op == OpJsr || in.Op == OpJsrW:
		sub := f.clone()
		sub.push(Value{Kind: ValueReturnAddress})
		if err := add(in.Target, sub); err != nil {
			return nil, err
		}
	case in.Op.IsBranch():
		if err := add(in.Target, f); err != nil {
			return nil, err
		}
	case in.Op.IsSwitch():
		if err := add(in.Default, f); err != nil {
			return nil, err
		}
		for _, t := range in.Targets {
			if err := add(t, f); err != nil {
				return nil, err
			}
		}
	}

	if !in.Op.EndsBlock() {
		next := a.nextReal(i + 1)
		if next >= len(a.insns) {
			return nil, fmt.Errorf("%w: falls off the end of the code", ErrBadOffset)
		}
		succ = append(succ, successor{index: next, frame: f})
	}
	return succ, nil
}

// step applies the effect of one instruction to f.
func (a *analyzer) step(i int, in *Instruction, f *Frame) error {
	op := in.Op
	if slot, _, store, ok := localAccess(in); ok {
		if slot >= len(f.Locals) {
			return fmt.Errorf("%w: local %d", ErrBadOffset, slot)
		}
		switch {
		case op == OpIinc:
			f.setLocal(slot, intValue)
		case op == OpRet:
		case store:
			v, err := f.pop()
			if err != nil {
				return err
			}
			f.setLocal(slot, v)
		default:
			group := localGroup(op)
			if group == 4 {
				f.push(f.Locals[slot])
			} else {
				f.push(groupValues[group])
			}
		}
		return nil
	}

	switch op {
	case OpNop, OpGoto, OpGotoW, OpReturn, OpJsr, OpJsrW:
	case OpAconstNull:
		f.push(nullValue)
	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5,
		OpBipush, OpSipush:
		f.push(intValue)
	case OpLconst0, OpLconst1:
		f.push(longValue)
	case OpFconst0, OpFconst1, OpFconst2:
		f.push(floatValue)
	case OpDconst0, OpDconst1:
		f.push(doubleValue)
	case OpLdc, OpLdcW, OpLdc2W:
		desc, err := a.pool.LoadableType(in.Index)
		if err != nil {
			return err
		}
		f.push(ValueOf(desc))

	case OpIaload, OpBaload, OpCaload, OpSaload:
		return popPush(f, 2, intValue)
	case OpLaload:
		return popPush(f, 2, longValue)
	case OpFaload:
		return popPush(f, 2, floatValue)
	case OpDaload:
		return popPush(f, 2, doubleValue)
	case OpAaload:
		if err := f.popN(1); err != nil {
			return err
		}
		arr, err := f.pop()
		if err != nil {
			return err
		}
		f.push(elementValue(arr))
	case OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore:
		return f.popN(3)

	case OpPop:
		return f.popN(1)
	case OpPop2:
		n, err := f.topEntries(2)
		if err != nil {
			return err
		}
		return f.popN(n)
	case OpDup:
		return f.dup(1, 0)
	case OpDupX1:
		return f.dup(1, 1)
	case OpDupX2:
		return f.dup(1, 2)
	case OpDup2:
		return f.dup(2, 0)
	case OpDup2X1:
		return f.dup(2, 1)
	case OpDup2X2:
		return f.dup(2, 2)
	case OpSwap:
		if len(f.Stack) < 2 {
			return ErrStackUnderflow
		}
		n := len(f.Stack)
		f.Stack[n-1], f.Stack[n-2] = f.Stack[n-2], f.Stack[n-1]

	case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIshl, OpIshr, OpIushr, OpIand, OpIor, OpIxor,
		OpLcmp, OpFcmpl, OpFcmpg, OpDcmpl, OpDcmpg:
		return popPush(f, 2, intValue)
	case OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem, OpLand, OpLor, OpLxor, OpLshl, OpLshr, OpLushr:
		return popPush(f, 2, longValue)
	case OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem:
		return popPush(f, 2, floatValue)
	case OpDadd, OpDsub, OpDmul, OpDdiv, OpDrem:
		return popPush(f, 2, doubleValue)
	case OpIneg, OpL2i, OpF2i, OpD2i, OpI2b, OpI2c, OpI2s, OpArraylength, OpInstanceof:
		return popPush(f, 1, intValue)
	case OpLneg, OpI2l, OpF2l, OpD2l:
		return popPush(f, 1, longValue)
	case OpFneg, OpI2f, OpL2f, OpD2f:
		return popPush(f, 1, floatValue)
	case OpDneg, OpI2d, OpL2d, OpF2d:
		return popPush(f, 1, doubleValue)

	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle, OpIfnull, OpIfnonnull,
		OpTableswitch, OpLookupswitch, OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn,
		OpPutstatic, OpMonitorenter, OpMonitorexit:
		return f.popN(1)
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple,
		OpIfAcmpeq, OpIfAcmpne, OpPutfield:
		return f.popN(2)
	case OpAthrow:
		if err := f.popN(1); err != nil {
			return err
		}
		f.Stack = f.Stack[:0]

	case OpGetstatic, OpGetfield:
		_, _, desc, err := a.pool.MemberRef(in.Index)
		if err != nil {
			return err
		}
		if op == OpGetfield {
			if err := f.popN(1); err != nil {
				return err
			}
		}
		f.push(ValueOf(desc))

	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface, OpInvokedynamic:
		return a.invoke(in, f)

	case OpNew:
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		f.push(Value{Kind: ValueUninitialized, Class: name, New: i})
	case OpNewarray:
		return popPush(f, 1, Object(primitiveArray(in.Value)))
	case OpAnewarray:
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		return popPush(f, 1, Object("["+ClassDescriptor(name)))
	case OpCheckcast:
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		return popPush(f, 1, Object(name))
	case OpMultianewarray:
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		return popPush(f, int(in.Value), Object(name))
	default:
		return fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, uint8(op))
	}
	return nil
}

func localGroup(op Opcode) int {
	switch {
	case op >= OpIload && op <= OpAload:
		return int(op - OpIload)
	case op >= OpIload0 && op <= OpIload0+19:
		return int(op-OpIload0) / 4
	}
	return 0
}

func popPush(f *Frame, n int, v Value) error {
	if err := f.popN(n); err != nil {
		return err
	}
	f.push(v)
	return nil
}

func (a *analyzer) invoke(in *Instruction, f *Frame) error {
	var name, desc string
	var err error
	if in.Op == OpInvokedynamic {
		desc, err = a.pool.DynamicDescriptor(in.Index)
	} else {
		_, name, desc, err = a.pool.MemberRef(in.Index)
	}
	if err != nil {
		return err
	}
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return err
	}
	if err := f.popN(len(params)); err != nil {
		return err
	}
	if in.Op != OpInvokestatic && in.Op != OpInvokedynamic {
		recv, err := f.pop()
		if err != nil {
			return err
		}
		if in.Op == OpInvokespecial && name == "<init>" {
			switch recv.Kind {
			case ValueUninitializedThis:
				f.replace(recv, Object(a.method.Owner))
			case ValueUninitialized:
				f.replace(recv, Object(recv.Class))
			}
		}
	}
	if ret != "V" {
		f.push(ValueOf(ret))
	}
	return nil
}
