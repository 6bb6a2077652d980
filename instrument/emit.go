package instrument

import (
	"math"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
)

// Emitter builds an instruction sequence for insertion into a method body.
// Every method returns the Emitter so calls can be chained.
type Emitter struct {
	pool     *classfile.ConstantPool
	runtime  Runtime
	classLdc bool
	insns    []bytecode.Instruction
}

// Instructions returns the sequence built so far.
func (e *Emitter) Instructions() []bytecode.Instruction {
	return e.insns
}

// Add appends raw instructions.
func (e *Emitter) Add(insns ...bytecode.Instruction) *Emitter {
	e.insns = append(e.insns, insns...)
	return e
}

// PushString pushes a string constant.
func (e *Emitter) PushString(s string) *Emitter {
	return e.Add(bytecode.IndexInsn(bytecode.OpLdc, e.pool.AddString(s)))
}

// PushInt pushes an int constant using the shortest encoding.
func (e *Emitter) PushInt(n int32) *Emitter {
	switch {
	case n >= -1 && n <= 5:
		return e.Add(bytecode.Insn(bytecode.OpIconst0 + bytecode.Opcode(n)))
	case n >= math.MinInt8 && n <= math.MaxInt8:
		return e.Add(bytecode.Instruction{Op: bytecode.OpBipush, Value: n})
	case n >= math.MinInt16 && n <= math.MaxInt16:
		return e.Add(bytecode.Instruction{Op: bytecode.OpSipush, Value: n})
	}
	return e.Add(bytecode.IndexInsn(bytecode.OpLdc, e.pool.AddInteger(n)))
}

// PushClass pushes the java.lang.Class of the named class. Class files
// older than version 49 cannot ldc a class and use Class.forName instead.
func (e *Emitter) PushClass(name string) *Emitter {
	if e.classLdc {
		return e.Add(bytecode.IndexInsn(bytecode.OpLdc, e.pool.AddClass(name)))
	}
	e.PushString(bytecode.BinaryName(name))
	return e.Add(bytecode.IndexInsn(bytecode.OpInvokestatic,
		e.pool.AddMethodref("java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;")))
}

// Load pushes the local at slot, typed by the field descriptor desc.
func (e *Emitter) Load(desc string, slot int) *Emitter {
	op := loadOp(desc)
	if slot <= 3 {
		return e.Add(bytecode.Insn(bytecode.OpIload0 + (op-bytecode.OpIload)*4 + bytecode.Opcode(slot)))
	}
	return e.Add(bytecode.IndexInsn(op, uint16(slot)))
}

func loadOp(desc string) bytecode.Opcode {
	switch desc[0] {
	case 'J':
		return bytecode.OpLload
	case 'F':
		return bytecode.OpFload
	case 'D':
		return bytecode.OpDload
	case 'L', '[':
		return bytecode.OpAload
	}
	return bytecode.OpIload
}

func returnOp(desc string) bytecode.Opcode {
	switch desc[0] {
	case 'V':
		return bytecode.OpReturn
	case 'J':
		return bytecode.OpLreturn
	case 'F':
		return bytecode.OpFreturn
	case 'D':
		return bytecode.OpDreturn
	case 'L', '[':
		return bytecode.OpAreturn
	}
	return bytecode.OpIreturn
}

// InvokeStatic calls a static method.
func (e *Emitter) InvokeStatic(owner, name, desc string) *Emitter {
	return e.Add(bytecode.IndexInsn(bytecode.OpInvokestatic, e.pool.AddMethodref(owner, name, desc)))
}

// InvokeRuntime calls an entry point of the runtime support class.
func (e *Emitter) InvokeRuntime(ep EntryPoint) *Emitter {
	return e.InvokeStatic(e.runtime.Class, ep.Name, ep.Descriptor)
}

// Trace pushes args and calls the trace entry point of matching arity.
func (e *Emitter) Trace(args ...string) *Emitter {
	for _, s := range args {
		e.PushString(s)
	}
	return e.TraceN(len(args))
}

// TraceN calls the trace entry point taking n strings, which the caller
// has already pushed.
func (e *Emitter) TraceN(n int) *Emitter {
	return e.InvokeRuntime(TraceEntry(n))
}

type boxing struct {
	wrapper string
	unbox   string // method on the unboxing type
	via     string // type the value is cast to before unboxing
}

var boxings = map[byte]boxing{
	'Z': {"java/lang/Boolean", "booleanValue", "java/lang/Boolean"},
	'C': {"java/lang/Character", "charValue", "java/lang/Character"},
	'B': {"java/lang/Byte", "byteValue", "java/lang/Number"},
	'S': {"java/lang/Short", "shortValue", "java/lang/Number"},
	'I': {"java/lang/Integer", "intValue", "java/lang/Number"},
	'J': {"java/lang/Long", "longValue", "java/lang/Number"},
	'F': {"java/lang/Float", "floatValue", "java/lang/Number"},
	'D': {"java/lang/Double", "doubleValue", "java/lang/Number"},
}

// Box converts the primitive on top of the stack to its wrapper object.
// References are left alone.
func (e *Emitter) Box(desc string) *Emitter {
	b, ok := boxings[desc[0]]
	if !ok || len(desc) != 1 {
		return e
	}
	return e.InvokeStatic(b.wrapper, "valueOf", "("+desc+")"+bytecode.ClassDescriptor(b.wrapper))
}

// Unbox converts the object on top of the stack to desc: primitives are
// unwrapped, references are cast.
func (e *Emitter) Unbox(desc string) *Emitter {
	b, ok := boxings[desc[0]]
	if !ok || len(desc) != 1 {
		return e.cast(desc)
	}
	e.Add(bytecode.IndexInsn(bytecode.OpCheckcast, e.pool.AddClass(b.via)))
	return e.Add(bytecode.IndexInsn(bytecode.OpInvokevirtual, e.pool.AddMethodref(b.via, b.unbox, "()"+desc)))
}

func (e *Emitter) cast(desc string) *Emitter {
	var class string
	switch {
	case desc == "Ljava/lang/Object;":
		return e
	case desc[0] == 'L':
		class = desc[1 : len(desc)-1]
	default:
		class = desc
	}
	return e.Add(bytecode.IndexInsn(bytecode.OpCheckcast, e.pool.AddClass(class)))
}

// ArgsArray pushes an Object[] holding the method parameters, boxed, read
// from the locals starting at firstSlot.
func (e *Emitter) ArgsArray(params []string, firstSlot int) *Emitter {
	e.PushInt(int32(len(params)))
	e.Add(bytecode.IndexInsn(bytecode.OpAnewarray, e.pool.AddClass(bytecode.ObjectClass)))
	slot := firstSlot
	for i, p := range params {
		e.Add(bytecode.Insn(bytecode.OpDup))
		e.PushInt(int32(i))
		e.Load(p, slot).Box(p)
		e.Add(bytecode.Insn(bytecode.OpAastore))
		slot += bytecode.SlotSize(p)
	}
	return e
}
