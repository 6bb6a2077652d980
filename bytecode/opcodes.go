// Package bytecode models JVM method bodies as label-addressed instruction
// lists and converts them to and from the raw Code attribute encoding.
package bytecode

// Opcode is a JVM instruction opcode.
type Opcode uint8

const (
	OpNop             Opcode = 0x00
	OpAconstNull      Opcode = 0x01
	OpIconstM1        Opcode = 0x02
	OpIconst0         Opcode = 0x03
	OpIconst1         Opcode = 0x04
	OpIconst2         Opcode = 0x05
	OpIconst3         Opcode = 0x06
	OpIconst4         Opcode = 0x07
	OpIconst5         Opcode = 0x08
	OpLconst0         Opcode = 0x09
	OpLconst1         Opcode = 0x0a
	OpFconst0         Opcode = 0x0b
	OpFconst1         Opcode = 0x0c
	OpFconst2         Opcode = 0x0d
	OpDconst0         Opcode = 0x0e
	OpDconst1         Opcode = 0x0f
	OpBipush          Opcode = 0x10
	OpSipush          Opcode = 0x11
	OpLdc             Opcode = 0x12
	OpLdcW            Opcode = 0x13
	OpLdc2W           Opcode = 0x14
	OpIload           Opcode = 0x15
	OpLload           Opcode = 0x16
	OpFload           Opcode = 0x17
	OpDload           Opcode = 0x18
	OpAload           Opcode = 0x19
	OpIload0          Opcode = 0x1a
	OpLload0          Opcode = 0x1e
	OpFload0          Opcode = 0x22
	OpDload0          Opcode = 0x26
	OpAload0          Opcode = 0x2a
	OpIaload          Opcode = 0x2e
	OpLaload          Opcode = 0x2f
	OpFaload          Opcode = 0x30
	OpDaload          Opcode = 0x31
	OpAaload          Opcode = 0x32
	OpBaload          Opcode = 0x33
	OpCaload          Opcode = 0x34
	OpSaload          Opcode = 0x35
	OpIstore          Opcode = 0x36
	OpLstore          Opcode = 0x37
	OpFstore          Opcode = 0x38
	OpDstore          Opcode = 0x39
	OpAstore          Opcode = 0x3a
	OpIstore0         Opcode = 0x3b
	OpLstore0         Opcode = 0x3f
	OpFstore0         Opcode = 0x43
	OpDstore0         Opcode = 0x47
	OpAstore0         Opcode = 0x4b
	OpIastore         Opcode = 0x4f
	OpLastore         Opcode = 0x50
	OpFastore         Opcode = 0x51
	OpDastore         Opcode = 0x52
	OpAastore         Opcode = 0x53
	OpBastore         Opcode = 0x54
	OpCastore         Opcode = 0x55
	OpSastore         Opcode = 0x56
	OpPop             Opcode = 0x57
	OpPop2            Opcode = 0x58
	OpDup             Opcode = 0x59
	OpDupX1           Opcode = 0x5a
	OpDupX2           Opcode = 0x5b
	OpDup2            Opcode = 0x5c
	OpDup2X1          Opcode = 0x5d
	OpDup2X2          Opcode = 0x5e
	OpSwap            Opcode = 0x5f
	OpIadd            Opcode = 0x60
	OpLadd            Opcode = 0x61
	OpFadd            Opcode = 0x62
	OpDadd            Opcode = 0x63
	OpIsub            Opcode = 0x64
	OpLsub            Opcode = 0x65
	OpFsub            Opcode = 0x66
	OpDsub            Opcode = 0x67
	OpImul            Opcode = 0x68
	OpLmul            Opcode = 0x69
	OpFmul            Opcode = 0x6a
	OpDmul            Opcode = 0x6b
	OpIdiv            Opcode = 0x6c
	OpLdiv            Opcode = 0x6d
	OpFdiv            Opcode = 0x6e
	OpDdiv            Opcode = 0x6f
	OpIrem            Opcode = 0x70
	OpLrem            Opcode = 0x71
	OpFrem            Opcode = 0x72
	OpDrem            Opcode = 0x73
	OpIneg            Opcode = 0x74
	OpLneg            Opcode = 0x75
	OpFneg            Opcode = 0x76
	OpDneg            Opcode = 0x77
	OpIshl            Opcode = 0x78
	OpLshl            Opcode = 0x79
	OpIshr            Opcode = 0x7a
	OpLshr            Opcode = 0x7b
	OpIushr           Opcode = 0x7c
	OpLushr           Opcode = 0x7d
	OpIand            Opcode = 0x7e
	OpLand            Opcode = 0x7f
	OpIor             Opcode = 0x80
	OpLor             Opcode = 0x81
	OpIxor            Opcode = 0x82
	OpLxor            Opcode = 0x83
	OpIinc            Opcode = 0x84
	OpI2l             Opcode = 0x85
	OpI2f             Opcode = 0x86
	OpI2d             Opcode = 0x87
	OpL2i             Opcode = 0x88
	OpL2f             Opcode = 0x89
	OpL2d             Opcode = 0x8a
	OpF2i             Opcode = 0x8b
	OpF2l             Opcode = 0x8c
	OpF2d             Opcode = 0x8d
	OpD2i             Opcode = 0x8e
	OpD2l             Opcode = 0x8f
	OpD2f             Opcode = 0x90
	OpI2b             Opcode = 0x91
	OpI2c             Opcode = 0x92
	OpI2s             Opcode = 0x93
	OpLcmp            Opcode = 0x94
	OpFcmpl           Opcode = 0x95
	OpFcmpg           Opcode = 0x96
	OpDcmpl           Opcode = 0x97
	OpDcmpg           Opcode = 0x98
	OpIfeq            Opcode = 0x99
	OpIfne            Opcode = 0x9a
	OpIflt            Opcode = 0x9b
	OpIfge            Opcode = 0x9c
	OpIfgt            Opcode = 0x9d
	OpIfle            Opcode = 0x9e
	OpIfIcmpeq        Opcode = 0x9f
	OpIfIcmpne        Opcode = 0xa0
	OpIfIcmplt        Opcode = 0xa1
	OpIfIcmpge        Opcode = 0xa2
	OpIfIcmpgt        Opcode = 0xa3
	OpIfIcmple        Opcode = 0xa4
	OpIfAcmpeq        Opcode = 0xa5
	OpIfAcmpne        Opcode = 0xa6
	OpGoto            Opcode = 0xa7
	OpJsr             Opcode = 0xa8
	OpRet             Opcode = 0xa9
	OpTableswitch     Opcode = 0xaa
	OpLookupswitch    Opcode = 0xab
	OpIreturn         Opcode = 0xac
	OpLreturn         Opcode = 0xad
	OpFreturn         Opcode = 0xae
	OpDreturn         Opcode = 0xaf
	OpAreturn         Opcode = 0xb0
	OpReturn          Opcode = 0xb1
	OpGetstatic       Opcode = 0xb2
	OpPutstatic       Opcode = 0xb3
	OpGetfield        Opcode = 0xb4
	OpPutfield        Opcode = 0xb5
	OpInvokevirtual   Opcode = 0xb6
	OpInvokespecial   Opcode = 0xb7
	OpInvokestatic    Opcode = 0xb8
	OpInvokeinterface Opcode = 0xb9
	OpInvokedynamic   Opcode = 0xba
	OpNew             Opcode = 0xbb
	OpNewarray        Opcode = 0xbc
	OpAnewarray       Opcode = 0xbd
	OpArraylength     Opcode = 0xbe
	OpAthrow          Opcode = 0xbf
	OpCheckcast       Opcode = 0xc0
	OpInstanceof      Opcode = 0xc1
	OpMonitorenter    Opcode = 0xc2
	OpMonitorexit     Opcode = 0xc3
	OpWide            Opcode = 0xc4
	OpMultianewarray  Opcode = 0xc5
	OpIfnull          Opcode = 0xc6
	OpIfnonnull       Opcode = 0xc7
	OpGotoW           Opcode = 0xc8
	OpJsrW            Opcode = 0xc9
)

// operandKind describes the operand layout following an opcode byte.
type operandKind uint8

const (
	operandInvalid operandKind = iota
	operandNone
	operandByte        // bipush: signed byte
	operandShort       // sipush: signed short
	operandLocal       // u1 local index, u2 under wide
	operandConst1      // ldc: u1 pool index
	operandConst2      // u2 pool index
	operandBranch      // s2 branch offset
	operandBranchWide  // s4 branch offset
	operandIinc        // local index + signed increment
	operandTableswitch // padded jump table
	operandLookupswitch
	operandInterface   // invokeinterface: u2 index, u1 count, u1 zero
	operandDynamic     // invokedynamic: u2 index, two zero bytes
	operandNewarray    // u1 primitive array type
	operandMultianew   // u2 index, u1 dimensions
	operandWide        // wide prefix
)

type opcodeInfo struct {
	name string
	kind operandKind
}

var opcodes [256]opcodeInfo

func init() {
	names := [...]string{
		"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3",
		"iconst_4", "iconst_5", "lconst_0", "lconst_1", "fconst_0", "fconst_1", "fconst_2",
		"dconst_0", "dconst_1", "bipush", "sipush", "ldc", "ldc_w", "ldc2_w", "iload", "lload",
		"fload", "dload", "aload", "iload_0", "iload_1", "iload_2", "iload_3", "lload_0",
		"lload_1", "lload_2", "lload_3", "fload_0", "fload_1", "fload_2", "fload_3", "dload_0",
		"dload_1", "dload_2", "dload_3", "aload_0", "aload_1", "aload_2", "aload_3", "iaload",
		"laload", "faload", "daload", "aaload", "baload", "caload", "saload", "istore", "lstore",
		"fstore", "dstore", "astore", "istore_0", "istore_1", "istore_2", "istore_3", "lstore_0",
		"lstore_1", "lstore_2", "lstore_3", "fstore_0", "fstore_1", "fstore_2", "fstore_3",
		"dstore_0", "dstore_1", "dstore_2", "dstore_3", "astore_0", "astore_1", "astore_2",
		"astore_3", "iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore",
		"sastore", "pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1", "dup2_x2", "swap",
		"iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub", "dsub", "imul", "lmul", "fmul",
		"dmul", "idiv", "ldiv", "fdiv", "ddiv", "irem", "lrem", "frem", "drem", "ineg", "lneg",
		"fneg", "dneg", "ishl", "lshl", "ishr", "lshr", "iushr", "lushr", "iand", "land", "ior",
		"lor", "ixor", "lxor", "iinc", "i2l", "i2f", "i2d", "l2i", "l2f", "l2d", "f2i", "f2l",
		"f2d", "d2i", "d2l", "d2f", "i2b", "i2c", "i2s", "lcmp", "fcmpl", "fcmpg", "dcmpl",
		"dcmpg", "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle", "if_icmpeq", "if_icmpne",
		"if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne", "goto",
		"jsr", "ret", "tableswitch", "lookupswitch", "ireturn", "lreturn", "freturn", "dreturn",
		"areturn", "return", "getstatic", "putstatic", "getfield", "putfield", "invokevirtual",
		"invokespecial", "invokestatic", "invokeinterface", "invokedynamic", "new", "newarray",
		"anewarray", "arraylength", "athrow", "checkcast", "instanceof", "monitorenter",
		"monitorexit", "wide", "multianewarray", "ifnull", "ifnonnull", "goto_w", "jsr_w",
	}
	for i, name := range names {
		opcodes[i] = opcodeInfo{name: name, kind: operandNone}
	}

	set := func(kind operandKind, ops ...Opcode) {
		for _, op := range ops {
			opcodes[op].kind = kind
		}
	}
	set(operandByte, OpBipush)
	set(operandShort, OpSipush)
	set(operandConst1, OpLdc)
	set(operandConst2, OpLdcW, OpLdc2W, OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
		OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpNew, OpAnewarray, OpCheckcast,
		OpInstanceof)
	set(operandLocal, OpIload, OpLload, OpFload, OpDload, OpAload, OpIstore, OpLstore,
		OpFstore, OpDstore, OpAstore, OpRet)
	set(operandIinc, OpIinc)
	for op := OpIfeq; op <= OpJsr; op++ {
		opcodes[op].kind = operandBranch
	}
	set(operandBranch, OpIfnull, OpIfnonnull)
	set(operandBranchWide, OpGotoW, OpJsrW)
	set(operandTableswitch, OpTableswitch)
	set(operandLookupswitch, OpLookupswitch)
	set(operandInterface, OpInvokeinterface)
	set(operandDynamic, OpInvokedynamic)
	set(operandNewarray, OpNewarray)
	set(operandMultianew, OpMultianewarray)
	set(operandWide, OpWide)
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if info := opcodes[op]; info.name != "" {
		return info.name
	}
	return "invalid"
}

// Valid reports whether op is a defined JVM opcode.
func (op Opcode) Valid() bool {
	return opcodes[op].kind != operandInvalid
}

// IsBranch reports whether the instruction carries a single branch target.
func (op Opcode) IsBranch() bool {
	k := opcodes[op].kind
	return k == operandBranch || k == operandBranchWide
}

// IsSwitch reports whether op is tableswitch or lookupswitch.
func (op Opcode) IsSwitch() bool {
	return op == OpTableswitch || op == OpLookupswitch
}

// IsReturn reports whether op returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// IsConditional reports whether op is a conditional branch.
func (op Opcode) IsConditional() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// EndsBlock reports whether control never falls through to the next instruction.
func (op Opcode) EndsBlock() bool {
	switch op {
	case OpGoto, OpGotoW, OpRet, OpAthrow, OpTableswitch, OpLookupswitch:
		return true
	}
	return op.IsReturn()
}

// ReferencesPool reports whether the instruction operand is a constant pool index.
func (op Opcode) ReferencesPool() bool {
	switch opcodes[op].kind {
	case operandConst1, operandConst2, operandInterface, operandDynamic, operandMultianew:
		return true
	}
	return false
}

// IsLocalAccess reports whether the instruction addresses a local variable slot
// through its Index operand.
func (op Opcode) IsLocalAccess() bool {
	k := opcodes[op].kind
	return k == operandLocal || k == operandIinc
}

// invert returns the conditional branch with the opposite condition.
func (op Opcode) invert() Opcode {
	switch op {
	case OpIfnull:
		return OpIfnonnull
	case OpIfnonnull:
		return OpIfnull
	}
	// ifeq/ifne, iflt/ifge, ... come in adjacent pairs starting at an odd opcode.
	if (op-OpIfeq)%2 == 0 {
		return op + 1
	}
	return op - 1
}

// Primitive array element types used by newarray.
const (
	ArrayBoolean uint8 = 4
	ArrayChar    uint8 = 5
	ArrayFloat   uint8 = 6
	ArrayDouble  uint8 = 7
	ArrayByte    uint8 = 8
	ArrayShort   uint8 = 9
	ArrayInt     uint8 = 10
	ArrayLong    uint8 = 11
)
