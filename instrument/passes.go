package instrument

import (
	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
)

// trace emits one trace call for event in m. Overriding methods name the
// overridden owner as a fourth argument.
func (v *Visitor) trace(event string, m *classfile.Method, overrides string) []bytecode.Instruction {
	e := v.Emit()
	if overrides == "" {
		return e.Trace(event, v.class.Name, m.Name+m.Descriptor).Instructions()
	}
	e.PushString(event).PushString(v.class.Name).PushString(m.Name + m.Descriptor).PushString(overrides)
	return e.TraceN(4).Instructions()
}

func rewriteTrace(v *Visitor, m *classfile.Method) (int, error) {
	var overrides string
	if owner, ok := v.overridden(m); ok {
		overrides = owner.Name
	}

	old := m.Code.Instructions
	insns := make([]bytecode.Instruction, 0, len(old)+16)
	insns = append(insns, v.trace("enter", m, overrides)...)
	sites := 1
	for _, in := range old {
		switch {
		case in.Op.IsReturn():
			insns = append(insns, v.trace("exit", m, overrides)...)
			sites++
		case in.Op == bytecode.OpAthrow:
			insns = append(insns, v.trace("throw", m, overrides)...)
			sites++
		}
		insns = append(insns, in)
	}
	m.Code.Instructions = insns
	return sites, nil
}

func rewriteFields(v *Visitor, m *classfile.Method) (int, error) {
	// Initializers assign fields before this escapes and set final statics,
	// neither of which reflection can do.
	if m.IsConstructor() || m.IsClassInitializer() {
		return 0, nil
	}

	pool := v.class.Pool
	old := m.Code.Instructions
	insns := make([]bytecode.Instruction, 0, len(old))
	sites := 0
	for _, in := range old {
		switch in.Op {
		case bytecode.OpGetfield, bytecode.OpPutfield, bytecode.OpGetstatic, bytecode.OpPutstatic:
		default:
			insns = append(insns, in)
			continue
		}
		owner, name, desc, err := pool.MemberRef(in.Index)
		if err != nil {
			return 0, err
		}
		if !v.inHierarchy(owner) {
			insns = append(insns, in)
			continue
		}
		f, decl, ok := v.fieldFrom(owner, name)
		if !ok {
			return 0, v.missing(owner, name, desc)
		}
		if v.opts.PrivateOnly && !f.IsPrivate() {
			insns = append(insns, in)
			continue
		}

		e := v.Emit()
		if v.opts.Tracing {
			e.Trace(in.Op.String(), decl.Name, name)
		}
		switch in.Op {
		case bytecode.OpGetfield:
			e.PushClass(decl.Name).PushString(name).InvokeRuntime(GetField).Unbox(desc)
		case bytecode.OpPutfield:
			e.Box(desc).PushClass(decl.Name).PushString(name).InvokeRuntime(SetField)
		case bytecode.OpGetstatic:
			e.PushClass(decl.Name).PushString(name).InvokeRuntime(GetStaticField).Unbox(desc)
		case bytecode.OpPutstatic:
			e.Box(desc).PushClass(decl.Name).PushString(name).InvokeRuntime(SetStaticField)
		}
		insns = append(insns, e.Instructions()...)
		sites++
	}
	m.Code.Instructions = insns
	return sites, nil
}

// delegation returns the index of the super(...) or this(...) call in a
// constructor together with the invoked owner and descriptor.
func (v *Visitor) delegation(m *classfile.Method) (int, string, string, error) {
	info := bytecode.MethodInfo{Owner: v.class.Name, Name: m.Name, Descriptor: m.Descriptor}
	a, err := bytecode.Analyze(m.Code.Instructions, m.Code.Handlers, info, v.class.Pool, nil)
	if err != nil {
		return 0, "", "", err
	}
	for i, in := range m.Code.Instructions {
		if in.Op != bytecode.OpInvokespecial || !a.Reachable(i) {
			continue
		}
		owner, name, desc, err := v.class.Pool.MemberRef(in.Index)
		if err != nil {
			return 0, "", "", err
		}
		if name != "<init>" {
			continue
		}
		params, _, err := bytecode.ParseMethodDescriptor(desc)
		if err != nil {
			return 0, "", "", err
		}
		stack := a.Frames[i].Stack
		recv := len(stack) - 1 - len(params)
		if recv >= 0 && stack[recv].Kind == bytecode.ValueUninitializedThis {
			return i, owner, desc, nil
		}
	}
	return 0, "", "", ErrNoDelegation
}

func rewriteConstructor(v *Visitor, m *classfile.Method) (int, error) {
	if !m.IsConstructor() || v.class.SuperName == "" {
		return 0, nil
	}
	i, owner, desc, err := v.delegation(m)
	if err != nil {
		return 0, err
	}
	if cf, ok := v.lookup.Class(owner); ok && cf.Method("<init>", desc) == nil {
		return 0, v.missing(owner, "<init>", desc)
	}

	params, _, err := bytecode.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return 0, err
	}
	resume := bytecode.NewLabel()
	e := v.Emit()
	if v.opts.Tracing {
		e.Trace("constructor", v.class.Name, m.Descriptor)
	}
	e.Load(bytecode.ClassDescriptor(v.class.Name), 0).
		PushString(v.class.Name).
		PushString(m.Descriptor).
		ArgsArray(params, 1).
		InvokeRuntime(DispatchConstructor).
		Add(
			bytecode.JumpInsn(bytecode.OpIfeq, resume),
			bytecode.Insn(bytecode.OpReturn),
			bytecode.MarkInsn(resume),
		)
	insert(m.Code, i+1, e.Instructions())
	return 1, nil
}

func rewriteDispatch(v *Visitor, m *classfile.Method) (int, error) {
	if m.IsBridge() || m.IsConstructor() || m.IsClassInitializer() {
		return 0, nil
	}
	params, ret, err := bytecode.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return 0, err
	}
	static := m.IsStatic()
	first := 1
	if static {
		first = 0
	}

	key := m.Name + m.Descriptor
	original := bytecode.NewLabel()
	e := v.Emit()
	e.PushString(v.class.Name).
		PushString(key).
		InvokeRuntime(IsOverridden).
		Add(bytecode.JumpInsn(bytecode.OpIfeq, original))
	if v.opts.Tracing {
		e.Trace("dispatch", v.class.Name, key)
	}
	e.PushString(v.class.Name).PushString(key)
	if static {
		e.Add(bytecode.Insn(bytecode.OpAconstNull))
	} else {
		e.Load(bytecode.ClassDescriptor(v.class.Name), 0)
	}
	e.ArgsArray(params, first).InvokeRuntime(Dispatch)
	if ret == "V" {
		e.Add(bytecode.Insn(bytecode.OpPop))
	} else {
		e.Unbox(ret)
	}
	e.Add(bytecode.Insn(returnOp(ret)), bytecode.MarkInsn(original))

	insert(m.Code, 0, e.Instructions())
	return 1, nil
}
