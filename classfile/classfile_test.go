package classfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/internal/classtest"
)

func TestParseSimpleClass(t *testing.T) {
	data := classtest.Simple("a/A").SourceFile("A.java").Bytes()

	cf, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "a/A", cf.Name)
	require.Equal(t, "java/lang/Object", cf.SuperName)
	require.Equal(t, "52.0", cf.Version())
	require.False(t, cf.IsInterface())

	require.Len(t, cf.Fields, 1)
	require.Equal(t, "x", cf.Fields[0].Name)
	require.True(t, cf.Fields[0].IsPrivate())
	require.Same(t, cf.Fields[0], cf.Field("x"))
	require.Nil(t, cf.Field("y"))

	require.Len(t, cf.Methods, 2)
	ctor := cf.Method("<init>", "()V")
	require.NotNil(t, ctor)
	require.True(t, ctor.IsConstructor())
	require.Equal(t, []bytecode.Opcode{bytecode.OpAload0, bytecode.OpInvokespecial, bytecode.OpReturn}, ops(ctor.Code))

	owner, name, desc, err := cf.Pool.MemberRef(ctor.Code.Instructions[1].Index)
	require.NoError(t, err)
	require.Equal(t, []string{"java/lang/Object", "<init>", "()V"}, []string{owner, name, desc})

	require.Len(t, cf.Attributes, 1)
	require.Equal(t, "SourceFile", cf.Attributes[0].Name)
}

func TestEncodeRoundTrip(t *testing.T) {
	cf, err := Parse(classtest.Simple("a/A").SourceFile("A.java").Bytes())
	require.NoError(t, err)

	out, err := Encode(cf, nil)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, cf.Name, again.Name)
	require.Equal(t, cf.SuperName, again.SuperName)
	require.Equal(t, cf.AccessFlags, again.AccessFlags)
	require.Equal(t, cf.Attributes, again.Attributes)
	require.Len(t, again.Fields, len(cf.Fields))
	require.Len(t, again.Methods, len(cf.Methods))
	for i, m := range cf.Methods {
		require.Equal(t, m.Name, again.Methods[i].Name)
		require.Equal(t, m.Descriptor, again.Methods[i].Descriptor)
		require.Equal(t, ops(m.Code), ops(again.Methods[i].Code))
		require.Equal(t, m.Code.MaxStack, again.Methods[i].Code.MaxStack)
	}

	// A second encode of an unmodified decode is byte-identical.
	twice, err := Encode(again, nil)
	require.NoError(t, err)
	require.Equal(t, out, twice)
}

func TestEncodeRecomputesFrames(t *testing.T) {
	build := func(major uint16) *classtest.Class {
		c := classtest.New("a/B", classtest.Object)
		c.Major = major
		c.Method(classtest.Method{
			Flags: classtest.Public | classtest.Static, Name: "f", Desc: "(I)I",
			MaxStack: 9, MaxLocals: 9,
			Code: []byte{0x1a, 0x99, 0x00, 0x05, 0x04, 0xac, 0x03, 0xac},
		})
		return c
	}

	cf, err := Parse(build(52).Bytes())
	require.NoError(t, err)
	out, err := Encode(cf, nil)
	require.NoError(t, err)
	require.True(t, bytes.Contains(out, []byte(AttrStackMapTable)))

	again, err := Parse(out)
	require.NoError(t, err)
	body := again.Methods[0].Code
	require.Equal(t, uint16(1), body.MaxStack)
	require.Equal(t, uint16(1), body.MaxLocals)

	// The encoded class is left as decoded.
	require.Equal(t, uint16(9), cf.Methods[0].Code.MaxStack)
	require.Equal(t, uint16(9), cf.Methods[0].Code.MaxLocals)

	cf, err = Parse(build(49).Bytes())
	require.NoError(t, err)
	out, err = Encode(cf, nil)
	require.NoError(t, err)
	require.False(t, bytes.Contains(out, []byte(AttrStackMapTable)))
}

func TestExceptionTableRoundTrip(t *testing.T) {
	c := classtest.New("a/C", classtest.Object)
	c.Method(classtest.Method{
		Flags: classtest.Static, Name: "f", Desc: "()V", MaxStack: 1, MaxLocals: 1,
		Code:     []byte{0x04, 0x57, 0xb1, 0x4b, 0xb1}, // iconst_1 pop return astore_0 return
		Handlers: []classtest.Handler{{Start: 0, End: 2, Target: 3}},
		Lines:    []classtest.Line{{PC: 0, Line: 10}, {PC: 3, Line: 12}},
	})

	cf, err := Parse(c.Bytes())
	require.NoError(t, err)
	body := cf.Methods[0].Code
	require.Len(t, body.Handlers, 1)
	require.Len(t, body.Lines, 2)

	out, err := Encode(cf, nil)
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)

	body = again.Methods[0].Code
	require.Len(t, body.Handlers, 1)
	h := body.Handlers[0]
	require.Equal(t, []int{0, 2, 3}, []int{h.Start.Offset(), h.End.Offset(), h.Handler.Offset()})
	require.Equal(t, uint16(12), body.Lines[1].Line)
	require.Equal(t, 3, body.Lines[1].Start.Offset())
}

func TestInterfaceFlags(t *testing.T) {
	c := classtest.New("a/I", classtest.Object)
	c.Flags = classtest.Public | classtest.Interface | classtest.Abstract
	c.Method(classtest.Method{Flags: classtest.Public | classtest.Abstract, Name: "run", Desc: "()V"})

	cf, err := Parse(c.Bytes())
	require.NoError(t, err)
	require.True(t, cf.IsInterface())
	require.Nil(t, cf.Methods[0].Code)
}

func TestParseErrors(t *testing.T) {
	good := classtest.Simple("a/A").Bytes()

	tests := []struct {
		name    string
		data    func() []byte
		wantErr error
	}{
		{"bad magic", func() []byte {
			d := bytes.Clone(good)
			d[0] = 0
			return d
		}, ErrInvalidMagic},
		{"unsupported version", func() []byte {
			d := bytes.Clone(good)
			binary.BigEndian.PutUint16(d[6:], 70)
			return d
		}, ErrUnsupportedVersion},
		{"truncated", func() []byte { return good[:len(good)-3] }, ErrTruncated},
		{"trailing data", func() []byte { return append(bytes.Clone(good), 0) }, ErrTrailingData},
		{"empty", func() []byte { return nil }, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data())
			require.ErrorIs(t, err, tt.wantErr)
			var mie *MalformedInputError
			require.True(t, errors.As(err, &mie))
		})
	}
}

func TestParseRejectsBadOperand(t *testing.T) {
	c := classtest.New("a/D", classtest.Object)
	name := c.Utf8("notAField")
	c.Method(classtest.Method{
		Name: "f", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x2a, 0xb4, byte(name >> 8), byte(name), 0xac},
	})
	_, err := Parse(c.Bytes())
	require.ErrorIs(t, err, ErrBadConstantTag)

	c = classtest.New("a/D", classtest.Object)
	c.Method(classtest.Method{
		Name: "f", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x2a, 0xb4, 0x03, 0xe7, 0xac},
	})
	_, err = Parse(c.Bytes())
	require.ErrorIs(t, err, ErrBadConstantIndex)
}

func TestConstantPoolIsAppendOnly(t *testing.T) {
	cf, err := Parse(classtest.Simple("a/A").Bytes())
	require.NoError(t, err)

	count := cf.Pool.Count()
	existing := cf.Pool.AddClass("a/A")
	require.Equal(t, count, cf.Pool.Count())
	name, err := cf.Pool.ClassName(existing)
	require.NoError(t, err)
	require.Equal(t, "a/A", name)

	added := cf.Pool.AddMethodref("x/Y", "z", "()V")
	require.Greater(t, int(added), count-1)
	owner, member, desc, err := cf.Pool.MemberRef(added)
	require.NoError(t, err)
	require.Equal(t, []string{"x/Y", "z", "()V"}, []string{owner, member, desc})
	require.Equal(t, added, cf.Pool.AddMethodref("x/Y", "z", "()V"))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := classtest.Write(t, dir, classtest.Simple("p/q/R"))
	require.Equal(t, filepath.Join(dir, "p", "q", "R.class"), path)

	cf, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "p/q/R", cf.Name)

	_, err = ReadFile(filepath.Join(dir, "missing.class"))
	require.Error(t, err)
}

func ops(body *bytecode.Body) []bytecode.Opcode {
	var out []bytecode.Opcode
	for _, in := range body.Instructions {
		if !in.IsMark() {
			out = append(out, in.Op)
		}
	}
	return out
}
