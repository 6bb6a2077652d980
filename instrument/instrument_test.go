package instrument

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
	"github.com/skdltmxn/classpatch/internal/classtest"
)

const support = DefaultRuntimeClass

// code assembles raw bytecode. uint16 parts are written big-endian.
func code(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case int:
			out = append(out, byte(v))
		case uint16:
			out = append(out, byte(v>>8), byte(v))
		}
	}
	return out
}

func parse(t *testing.T, c *classtest.Class) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.Parse(c.Bytes())
	require.NoError(t, err)
	return cf
}

// apply runs one pass over cf and returns the re-parsed output together
// with the number of rewritten sites.
func apply(t *testing.T, kind Kind, opts Options, cf *classfile.ClassFile, chain hierarchy.Chain) (*classfile.ClassFile, int) {
	t.Helper()
	b, err := NewBuilder(kind, opts)
	require.NoError(t, err)
	v := b.Build(cf, chain)
	require.NoError(t, v.Run())

	out, err := classfile.Encode(cf, hierarchy.NewIndex("", cf, chain))
	require.NoError(t, err)
	again, err := classfile.Parse(out)
	require.NoError(t, err)
	return again, v.Sites()
}

func listing(t *testing.T, cf *classfile.ClassFile, name, desc string) []string {
	t.Helper()
	m := cf.Method(name, desc)
	require.NotNil(t, m, "%s%s", name, desc)
	var out []string
	for _, in := range m.Code.Instructions {
		if in.IsMark() {
			continue
		}
		out = append(out, render(t, cf.Pool, in))
	}
	return out
}

func render(t *testing.T, pool *classfile.ConstantPool, in bytecode.Instruction) string {
	t.Helper()
	switch in.Op {
	case bytecode.OpLdc, bytecode.OpLdcW:
		c, err := pool.Get(in.Index)
		require.NoError(t, err)
		switch c.Tag {
		case classfile.TagString:
			s, err := pool.Utf8(c.A)
			require.NoError(t, err)
			return fmt.Sprintf("ldc %q", s)
		case classfile.TagClass:
			name, err := pool.ClassName(in.Index)
			require.NoError(t, err)
			return "ldc class " + name
		}
		return "ldc " + pool.Describe(in.Index)
	case bytecode.OpGetfield, bytecode.OpPutfield, bytecode.OpGetstatic, bytecode.OpPutstatic,
		bytecode.OpInvokevirtual, bytecode.OpInvokespecial, bytecode.OpInvokestatic:
		owner, name, desc, err := pool.MemberRef(in.Index)
		require.NoError(t, err)
		return fmt.Sprintf("%s %s.%s:%s", in.Op, owner, name, desc)
	case bytecode.OpCheckcast, bytecode.OpAnewarray, bytecode.OpNew:
		name, err := pool.ClassName(in.Index)
		require.NoError(t, err)
		return fmt.Sprintf("%s %s", in.Op, name)
	case bytecode.OpBipush, bytecode.OpSipush:
		return fmt.Sprintf("%s %d", in.Op, in.Value)
	}
	return in.Op.String()
}

func call(ep EntryPoint) string {
	return fmt.Sprintf("invokestatic %s.%s:%s", support, ep.Name, ep.Descriptor)
}

func traced(event, class, method string) []string {
	return []string{
		fmt.Sprintf("ldc %q", event),
		fmt.Sprintf("ldc %q", class),
		fmt.Sprintf("ldc %q", method),
		call(TraceEntry(3)),
	}
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)

		text, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(text))
		require.Equal(t, k, back)
	}

	require.Equal(t, "field-redirect", FieldRedirect.String())
	require.True(t, Trace.ProcessParents())
	require.True(t, FieldRedirect.ProcessParents())
	require.True(t, ConstructorRewrite.ProcessParents())
	require.False(t, MethodDispatch.ProcessParents())

	_, err := ParseKind("coverage")
	require.ErrorIs(t, err, ErrUnknownKind)

	bogus := Kind(42)
	require.False(t, bogus.Valid())
	require.False(t, bogus.ProcessParents())
	require.Equal(t, "Kind(42)", bogus.String())
	_, err = bogus.MarshalText()
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestNewBuilder(t *testing.T) {
	_, err := NewBuilder(Kind(9), DefaultOptions())
	require.ErrorIs(t, err, ErrUnknownKind)

	opts := DefaultOptions()
	opts.Runtime.Class = "dev.classpatch.Support"
	_, err = NewBuilder(Trace, opts)
	require.Error(t, err)

	opts.Runtime.Class = ""
	_, err = NewBuilder(Trace, opts)
	require.Error(t, err)

	b, err := NewBuilder(MethodDispatch, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, MethodDispatch, b.Kind())
	require.False(t, b.ProcessParents())

	base := parse(t, classtest.Simple("p/Base"))
	cf := parse(t, classtest.Simple("a/A"))
	v := b.Build(cf, hierarchy.Chain{base})
	require.Same(t, cf, v.Class())
	require.Empty(t, v.Ancestors())

	b, err = NewBuilder(Trace, DefaultOptions())
	require.NoError(t, err)
	v = b.Build(cf, hierarchy.Chain{base})
	require.Equal(t, []string{"p/Base"}, v.Ancestors().Names())
	_, owner, ok := v.FindMethod("get", "()I")
	require.True(t, ok)
	require.Same(t, cf, owner)
	_, _, ok = v.FindField("nope")
	require.False(t, ok)
}

func TestTracePass(t *testing.T) {
	c := classtest.Simple("a/A")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "fail", Desc: "()V", MaxStack: 1, MaxLocals: 1,
		Code: code(0x01, 0xbf), // aconst_null; athrow
	})
	cf := parse(t, c)

	out, sites := apply(t, Trace, DefaultOptions(), cf, nil)
	require.Equal(t, 6, sites)
	require.NotNil(t, out.Field("x"))

	require.Equal(t, concat(
		traced("enter", "a/A", "get()I"),
		[]string{"aload_0", "getfield a/A.x:I"},
		traced("exit", "a/A", "get()I"),
		[]string{"ireturn"},
	), listing(t, out, "get", "()I"))

	require.Equal(t, concat(
		traced("enter", "a/A", "<init>()V"),
		[]string{"aload_0", "invokespecial java/lang/Object.<init>:()V"},
		traced("exit", "a/A", "<init>()V"),
		[]string{"return"},
	), listing(t, out, "<init>", "()V"))

	require.Equal(t, concat(
		traced("enter", "a/A", "fail()V"),
		[]string{"aconst_null"},
		traced("throw", "a/A", "fail()V"),
		[]string{"athrow"},
	), listing(t, out, "fail", "()V"))
}

func TestTracePassNamesOverriddenOwner(t *testing.T) {
	base := parse(t, classtest.Simple("p/Base"))

	c := classtest.New("a/A", "p/Base")
	c.DefaultConstructor()
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "get", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: code(0x04, 0xac), // iconst_1; ireturn
	})
	c.Method(classtest.Method{
		Flags: classtest.Private, Name: "helper", Desc: "()V", MaxStack: 0, MaxLocals: 1,
		Code: code(0xb1),
	})
	cf := parse(t, c)

	out, _ := apply(t, Trace, DefaultOptions(), cf, hierarchy.Chain{base})

	enter := []string{`ldc "enter"`, `ldc "a/A"`, `ldc "get()I"`, `ldc "p/Base"`, call(TraceEntry(4))}
	exit := []string{`ldc "exit"`, `ldc "a/A"`, `ldc "get()I"`, `ldc "p/Base"`, call(TraceEntry(4))}
	require.Equal(t, concat(enter, []string{"iconst_1"}, exit, []string{"ireturn"}), listing(t, out, "get", "()I"))

	// Private methods never override.
	require.Equal(t, concat(
		traced("enter", "a/A", "helper()V"),
		traced("exit", "a/A", "helper()V"),
		[]string{"return"},
	), listing(t, out, "helper", "()V"))
}

func fieldClass() *classtest.Class {
	c := classtest.New("a/A", classtest.Object)
	x := c.Fieldref("a/A", "x", "I")
	y := c.Fieldref("a/A", "y", "I")
	s := c.Fieldref("a/A", "s", "Ljava/lang/String;")
	out := c.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	c.Field(classtest.Private, "x", "I").
		Field(classtest.Public, "y", "I").
		Field(classtest.Private|classtest.Static, "s", "Ljava/lang/String;")

	// The constructor writes x directly and must be left alone.
	super := c.Methodref(classtest.Object, "<init>", "()V")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "<init>", Desc: "()V", MaxStack: 2, MaxLocals: 1,
		Code: code(0x2a, 0xb7, super, 0x2a, 0x04, 0xb5, x, 0xb1),
	})
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "get", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: code(0x2a, 0xb4, x, 0xac),
	})
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "set", Desc: "(I)V", MaxStack: 2, MaxLocals: 2,
		Code: code(0x2a, 0x1b, 0xb5, x, 0xb1),
	})
	c.Method(classtest.Method{
		Flags: classtest.Public | classtest.Static, Name: "name", Desc: "()Ljava/lang/String;", MaxStack: 1,
		Code: code(0xb2, s, 0xb0),
	})
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "getY", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: code(0x2a, 0xb4, y, 0xac),
	})
	c.Method(classtest.Method{
		Flags: classtest.Public | classtest.Static, Name: "out", Desc: "()Ljava/io/PrintStream;", MaxStack: 1,
		Code: code(0xb2, out, 0xb0),
	})
	return c
}

func TestFieldRedirectPass(t *testing.T) {
	cf := parse(t, fieldClass())
	out, sites := apply(t, FieldRedirect, DefaultOptions(), cf, nil)
	require.Equal(t, 3, sites)

	require.Equal(t, []string{
		"aload_0",
		"ldc class a/A",
		`ldc "x"`,
		call(GetField),
		"checkcast java/lang/Number",
		"invokevirtual java/lang/Number.intValue:()I",
		"ireturn",
	}, listing(t, out, "get", "()I"))

	require.Equal(t, []string{
		"aload_0",
		"iload_1",
		"invokestatic java/lang/Integer.valueOf:(I)Ljava/lang/Integer;",
		"ldc class a/A",
		`ldc "x"`,
		call(SetField),
		"return",
	}, listing(t, out, "set", "(I)V"))

	require.Equal(t, []string{
		"ldc class a/A",
		`ldc "s"`,
		call(GetStaticField),
		"checkcast java/lang/String",
		"areturn",
	}, listing(t, out, "name", "()Ljava/lang/String;"))

	require.Equal(t, []string{"aload_0", "getfield a/A.y:I", "ireturn"}, listing(t, out, "getY", "()I"))
	require.Equal(t, []string{"getstatic java/lang/System.out:Ljava/io/PrintStream;", "areturn"},
		listing(t, out, "out", "()Ljava/io/PrintStream;"))
	require.Contains(t, listing(t, out, "<init>", "()V"), "putfield a/A.x:I")
}

func TestFieldRedirectAllFieldsWithTracing(t *testing.T) {
	opts := DefaultOptions()
	opts.PrivateOnly = false
	opts.Tracing = true

	cf := parse(t, fieldClass())
	out, sites := apply(t, FieldRedirect, opts, cf, nil)
	require.Equal(t, 4, sites)

	require.Equal(t, concat(
		[]string{"aload_0"},
		traced("getfield", "a/A", "y"),
		[]string{
			"ldc class a/A",
			`ldc "y"`,
			call(GetField),
			"checkcast java/lang/Number",
			"invokevirtual java/lang/Number.intValue:()I",
			"ireturn",
		},
	), listing(t, out, "getY", "()I"))
}

func TestFieldRedirectInheritedField(t *testing.T) {
	base := parse(t, fieldClass())

	c := classtest.New("a/B", "a/A")
	x := c.Fieldref("a/B", "x", "I")
	c.DefaultConstructor()
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "peek", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: code(0x2a, 0xb4, x, 0xac),
	})
	cf := parse(t, c)

	out, sites := apply(t, FieldRedirect, DefaultOptions(), cf, hierarchy.Chain{base})
	require.Equal(t, 1, sites)
	require.Contains(t, listing(t, out, "peek", "()I"), "ldc class a/A")
}

func TestFieldRedirectMissingField(t *testing.T) {
	c := classtest.New("a/A", classtest.Object)
	ref := c.Fieldref("a/A", "gone", "J")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "get", Desc: "()J", MaxStack: 2, MaxLocals: 1,
		Code: code(0x2a, 0xb4, ref, 0xad),
	})
	cf := parse(t, c)

	b, err := NewBuilder(FieldRedirect, DefaultOptions())
	require.NoError(t, err)
	err = b.Build(cf, nil).Run()

	var missing *MissingMemberError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, MissingMemberError{Class: "a/A", Owner: "a/A", Name: "gone", Descriptor: "J"}, *missing)
	require.Contains(t, err.Error(), "a/A.get()J")
}

func TestConstructorRewritePass(t *testing.T) {
	bc := classtest.New("p/Base", classtest.Object)
	super := bc.Methodref(classtest.Object, "<init>", "()V")
	bc.Method(classtest.Method{
		Flags: classtest.Public, Name: "<init>", Desc: "(I)V", MaxStack: 1, MaxLocals: 2,
		Code: code(0x2a, 0xb7, super, 0xb1),
	})
	base := parse(t, bc)

	c := classtest.New("a/A", "p/Base")
	baseInit := c.Methodref("p/Base", "<init>", "(I)V")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "<init>", Desc: "(I)V", MaxStack: 2, MaxLocals: 2,
		Code: code(0x2a, 0x1b, 0xb7, baseInit, 0xb1),
	})
	cf := parse(t, c)

	out, sites := apply(t, ConstructorRewrite, DefaultOptions(), cf, hierarchy.Chain{base})
	require.Equal(t, 1, sites)
	require.Equal(t, []string{
		"aload_0",
		"iload_1",
		"invokespecial p/Base.<init>:(I)V",
		"aload_0",
		`ldc "a/A"`,
		`ldc "(I)V"`,
		"iconst_1",
		"anewarray java/lang/Object",
		"dup",
		"iconst_0",
		"iload_1",
		"invokestatic java/lang/Integer.valueOf:(I)Ljava/lang/Integer;",
		"aastore",
		call(DispatchConstructor),
		"ifeq",
		"return",
		"return",
	}, listing(t, out, "<init>", "(I)V"))
}

func TestConstructorRewriteSkipsOtherInitializations(t *testing.T) {
	c := classtest.New("a/A", classtest.Object)
	other := c.ClassRef("java/lang/StringBuilder")
	otherInit := c.Methodref("java/lang/StringBuilder", "<init>", "()V")
	super := c.Methodref(classtest.Object, "<init>", "()V")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "<init>", Desc: "()V", MaxStack: 2, MaxLocals: 1,
		// new StringBuilder(); pop; super()
		Code: code(0xbb, other, 0x59, 0xb7, otherInit, 0x57, 0x2a, 0xb7, super, 0xb1),
	})
	cf := parse(t, c)

	out, _ := apply(t, ConstructorRewrite, DefaultOptions(), cf, nil)
	got := listing(t, out, "<init>", "()V")
	require.Equal(t, []string{
		"new java/lang/StringBuilder",
		"dup",
		"invokespecial java/lang/StringBuilder.<init>:()V",
		"pop",
		"aload_0",
		"invokespecial java/lang/Object.<init>:()V",
		"aload_0",
	}, got[:7])
	require.Contains(t, got, call(DispatchConstructor))
}

func TestConstructorRewriteMissingDelegate(t *testing.T) {
	base := parse(t, classtest.Simple("p/Base"))

	c := classtest.New("a/A", "p/Base")
	delegate := c.Methodref("p/Base", "<init>", "(J)V")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "<init>", Desc: "()V", MaxStack: 3, MaxLocals: 1,
		Code: code(0x2a, 0x09, 0xb7, delegate, 0xb1), // aload_0; lconst_0; invokespecial
	})
	cf := parse(t, c)

	b, err := NewBuilder(ConstructorRewrite, DefaultOptions())
	require.NoError(t, err)
	err = b.Build(cf, hierarchy.Chain{base}).Run()
	var missing *MissingMemberError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "p/Base", missing.Owner)
	require.Equal(t, "<init>", missing.Name)
	require.Equal(t, "(J)V", missing.Descriptor)
}

func TestConstructorRewriteWithoutDelegation(t *testing.T) {
	c := classtest.New("a/A", classtest.Object)
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "<init>", Desc: "()V", MaxStack: 0, MaxLocals: 1,
		Code: code(0xb1),
	})
	cf := parse(t, c)

	b, err := NewBuilder(ConstructorRewrite, DefaultOptions())
	require.NoError(t, err)
	require.ErrorIs(t, b.Build(cf, nil).Run(), ErrNoDelegation)
}

func TestMethodDispatchPass(t *testing.T) {
	c := classtest.Simple("a/A")
	c.Method(classtest.Method{
		Flags: classtest.Public | classtest.Static, Name: "twice", Desc: "(J)J", MaxStack: 4, MaxLocals: 2,
		Code: code(0x1e, 0x1e, 0x61, 0xad), // lload_0; lload_0; ladd; lreturn
	})
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "run", Desc: "()V", MaxLocals: 1,
		Code: code(0xb1),
	})
	c.Method(classtest.Method{
		Flags: classtest.Public | classtest.Bridge, Name: "bridge", Desc: "()V", MaxLocals: 1,
		Code: code(0xb1),
	})
	c.Method(classtest.Method{Flags: classtest.Public | classtest.Abstract, Name: "todo", Desc: "()V"})
	cf := parse(t, c)

	out, sites := apply(t, MethodDispatch, DefaultOptions(), cf, nil)
	require.Equal(t, 3, sites)

	require.Equal(t, []string{
		`ldc "a/A"`,
		`ldc "twice(J)J"`,
		call(IsOverridden),
		"ifeq",
		`ldc "a/A"`,
		`ldc "twice(J)J"`,
		"aconst_null",
		"iconst_1",
		"anewarray java/lang/Object",
		"dup",
		"iconst_0",
		"lload_0",
		"invokestatic java/lang/Long.valueOf:(J)Ljava/lang/Long;",
		"aastore",
		call(Dispatch),
		"checkcast java/lang/Number",
		"invokevirtual java/lang/Number.longValue:()J",
		"lreturn",
		"lload_0",
		"lload_0",
		"ladd",
		"lreturn",
	}, listing(t, out, "twice", "(J)J"))

	require.Equal(t, []string{
		`ldc "a/A"`,
		`ldc "run()V"`,
		call(IsOverridden),
		"ifeq",
		`ldc "a/A"`,
		`ldc "run()V"`,
		"aload_0",
		"iconst_0",
		"anewarray java/lang/Object",
		call(Dispatch),
		"pop",
		"return",
		"return",
	}, listing(t, out, "run", "()V"))

	require.Equal(t, []string{"return"}, listing(t, out, "bridge", "()V"))
	require.Equal(t, []string{"aload_0", "invokespecial java/lang/Object.<init>:()V", "return"},
		listing(t, out, "<init>", "()V"))
	require.Nil(t, out.Method("todo", "()V").Code)
}

func TestMethodDispatchTracing(t *testing.T) {
	opts := DefaultOptions()
	opts.Tracing = true
	cf := parse(t, classtest.Simple("a/A"))
	out, _ := apply(t, MethodDispatch, opts, cf, nil)

	got := listing(t, out, "get", "()I")
	require.Equal(t, concat(
		[]string{`ldc "a/A"`, `ldc "get()I"`, call(IsOverridden), "ifeq"},
		traced("dispatch", "a/A", "get()I"),
	), got[:8])
}

func TestEmitterConstants(t *testing.T) {
	e := &Emitter{pool: classfile.NewConstantPool(), runtime: DefaultRuntime()}
	e.PushInt(-1).PushInt(5).PushInt(-128).PushInt(1000).PushInt(100000)

	var ops []bytecode.Opcode
	for _, in := range e.Instructions() {
		ops = append(ops, in.Op)
	}
	require.Equal(t, []bytecode.Opcode{
		bytecode.OpIconstM1, bytecode.OpIconst5, bytecode.OpBipush, bytecode.OpSipush, bytecode.OpLdc,
	}, ops)
	require.Equal(t, "int 100000", e.pool.Describe(e.Instructions()[4].Index))
}

func TestEmitterPushClassBeforeClassLiterals(t *testing.T) {
	pool := classfile.NewConstantPool()
	e := &Emitter{pool: pool, runtime: DefaultRuntime()}
	e.PushClass("a/b/C")

	insns := e.Instructions()
	require.Len(t, insns, 2)
	require.Equal(t, `ldc "a.b.C"`, render(t, pool, insns[0]))
	require.Equal(t, "invokestatic java/lang/Class.forName:(Ljava/lang/String;)Ljava/lang/Class;", render(t, pool, insns[1]))

	e = &Emitter{pool: pool, runtime: DefaultRuntime(), classLdc: true}
	e.PushClass("a/b/C")
	require.Equal(t, "ldc class a/b/C", render(t, pool, e.Instructions()[0]))
}

func TestEmitterBoxing(t *testing.T) {
	pool := classfile.NewConstantPool()
	e := &Emitter{pool: pool, runtime: DefaultRuntime()}
	e.Box("Z").Box("Ljava/lang/String;").Unbox("C").Unbox("Ljava/lang/Object;").Unbox("[I")

	var got []string
	for _, in := range e.Instructions() {
		got = append(got, render(t, pool, in))
	}
	require.Equal(t, []string{
		"invokestatic java/lang/Boolean.valueOf:(Z)Ljava/lang/Boolean;",
		"checkcast java/lang/Character",
		"invokevirtual java/lang/Character.charValue:()C",
		"checkcast [I",
	}, got)
}
