// Package classtest builds class file bytes for tests. It writes the binary
// format directly so fixtures do not depend on the encoder under test.
package classtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skdltmxn/classpatch/internal/stream"
)

// Access flags used by fixtures.
const (
	Public     uint16 = 0x0001
	Private    uint16 = 0x0002
	Static     uint16 = 0x0008
	Super      uint16 = 0x0020
	Bridge     uint16 = 0x0040
	Abstract   uint16 = 0x0400
	Interface  uint16 = 0x0200
	Annotation uint16 = 0x2000
)

// Object is the root class name.
const Object = "java/lang/Object"

type entry struct {
	tag  uint8
	utf8 string
	a, b uint16
	u32  uint32
}

// Handler is an exception table entry with raw offsets.
type Handler struct {
	Start, End, Target, CatchType uint16
}

// Line is a line number table entry.
type Line struct {
	PC, Line uint16
}

// Method describes a method. Code nil means no Code attribute.
type Method struct {
	Flags     uint16
	Name      string
	Desc      string
	MaxStack  uint16
	MaxLocals uint16
	Code      []byte
	Handlers  []Handler
	Lines     []Line
}

type field struct {
	flags      uint16
	name, desc string
}

// Class accumulates the parts of one class file.
type Class struct {
	Major uint16
	Flags uint16
	Name  string
	Super string

	interfaces []string
	fields     []field
	methods    []Method
	source     string
	pool       []entry
	index      map[entry]uint16
}

// New starts a public class with major version 52.
func New(name, super string) *Class {
	return &Class{
		Major: 52,
		Flags: Public | Super,
		Name:  name,
		Super: super,
		index: make(map[entry]uint16),
	}
}

func (c *Class) add(e entry) uint16 {
	if i, ok := c.index[e]; ok {
		return i
	}
	c.pool = append(c.pool, e)
	i := uint16(len(c.pool))
	c.index[e] = i
	return i
}

// Utf8 interns a Utf8 constant.
func (c *Class) Utf8(s string) uint16 { return c.add(entry{tag: 1, utf8: s}) }

// ClassRef interns a Class constant.
func (c *Class) ClassRef(name string) uint16 { return c.add(entry{tag: 7, a: c.Utf8(name)}) }

// String interns a String constant.
func (c *Class) String(s string) uint16 { return c.add(entry{tag: 8, a: c.Utf8(s)}) }

// Int interns an Integer constant.
func (c *Class) Int(v int32) uint16 { return c.add(entry{tag: 3, u32: uint32(v)}) }

func (c *Class) nameAndType(name, desc string) uint16 {
	return c.add(entry{tag: 12, a: c.Utf8(name), b: c.Utf8(desc)})
}

// Fieldref interns a field reference.
func (c *Class) Fieldref(owner, name, desc string) uint16 {
	return c.add(entry{tag: 9, a: c.ClassRef(owner), b: c.nameAndType(name, desc)})
}

// Methodref interns a method reference.
func (c *Class) Methodref(owner, name, desc string) uint16 {
	return c.add(entry{tag: 10, a: c.ClassRef(owner), b: c.nameAndType(name, desc)})
}

// Implements adds a super interface.
func (c *Class) Implements(name string) *Class {
	c.interfaces = append(c.interfaces, name)
	return c
}

// Field declares a field.
func (c *Class) Field(flags uint16, name, desc string) *Class {
	c.fields = append(c.fields, field{flags: flags, name: name, desc: desc})
	return c
}

// Method declares a method.
func (c *Class) Method(m Method) *Class {
	c.methods = append(c.methods, m)
	return c
}

// SourceFile adds a SourceFile class attribute.
func (c *Class) SourceFile(name string) *Class {
	c.source = name
	return c
}

// DefaultConstructor declares <init>()V calling the super constructor.
func (c *Class) DefaultConstructor() *Class {
	ref := c.Methodref(c.Super, "<init>", "()V")
	return c.Method(Method{
		Flags: Public, Name: "<init>", Desc: "()V", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x2a, 0xb7, byte(ref >> 8), byte(ref), 0xb1},
	})
}

// Bytes serializes the class.
func (c *Class) Bytes() []byte {
	// Intern every name before the pool is written.
	this := c.ClassRef(c.Name)
	var super uint16
	if c.Super != "" {
		super = c.ClassRef(c.Super)
	}
	ifaces := make([]uint16, len(c.interfaces))
	for i, name := range c.interfaces {
		ifaces[i] = c.ClassRef(name)
	}

	body := stream.NewWriter(256)
	body.WriteU16(c.Flags)
	body.WriteU16(this)
	body.WriteU16(super)
	body.WriteU16(uint16(len(ifaces)))
	for _, i := range ifaces {
		body.WriteU16(i)
	}
	body.WriteU16(uint16(len(c.fields)))
	for _, f := range c.fields {
		body.WriteU16(f.flags)
		body.WriteU16(c.Utf8(f.name))
		body.WriteU16(c.Utf8(f.desc))
		body.WriteU16(0)
	}
	body.WriteU16(uint16(len(c.methods)))
	for _, m := range c.methods {
		body.WriteU16(m.Flags)
		body.WriteU16(c.Utf8(m.Name))
		body.WriteU16(c.Utf8(m.Desc))
		if m.Code == nil {
			body.WriteU16(0)
			continue
		}
		body.WriteU16(1)
		body.WriteU16(c.Utf8("Code"))
		code := c.code(m)
		body.WriteU32(uint32(len(code)))
		body.WriteBytes(code)
	}
	if c.source != "" {
		body.WriteU16(1)
		body.WriteU16(c.Utf8("SourceFile"))
		body.WriteU32(2)
		body.WriteU16(c.Utf8(c.source))
	} else {
		body.WriteU16(0)
	}

	out := stream.NewWriter(body.Len() + 256)
	out.WriteU32(0xCAFEBABE)
	out.WriteU16(0)
	out.WriteU16(c.Major)
	out.WriteU16(uint16(len(c.pool) + 1))
	for _, e := range c.pool {
		out.WriteU8(e.tag)
		switch e.tag {
		case 1:
			out.WriteU16(uint16(len(e.utf8)))
			out.WriteBytes([]byte(e.utf8))
		case 3:
			out.WriteU32(e.u32)
		case 7, 8:
			out.WriteU16(e.a)
		default:
			out.WriteU16(e.a)
			out.WriteU16(e.b)
		}
	}
	out.WriteBytes(body.Bytes())
	return out.Bytes()
}

func (c *Class) code(m Method) []byte {
	lines := c.Utf8("LineNumberTable")
	w := stream.NewWriter(len(m.Code) + 32)
	w.WriteU16(m.MaxStack)
	w.WriteU16(m.MaxLocals)
	w.WriteU32(uint32(len(m.Code)))
	w.WriteBytes(m.Code)
	w.WriteU16(uint16(len(m.Handlers)))
	for _, h := range m.Handlers {
		w.WriteU16(h.Start)
		w.WriteU16(h.End)
		w.WriteU16(h.Target)
		w.WriteU16(h.CatchType)
	}
	if len(m.Lines) == 0 {
		w.WriteU16(0)
		return w.Bytes()
	}
	w.WriteU16(1)
	w.WriteU16(lines)
	w.WriteU32(uint32(2 + 4*len(m.Lines)))
	w.WriteU16(uint16(len(m.Lines)))
	for _, ln := range m.Lines {
		w.WriteU16(ln.PC)
		w.WriteU16(ln.Line)
	}
	return w.Bytes()
}

// Write stores the class under dir at its mirrored path and returns the
// file path.
func Write(t testing.TB, dir string, c *Class) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(c.Name)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("classtest: %v", err)
	}
	if err := os.WriteFile(path, c.Bytes(), 0o644); err != nil {
		t.Fatalf("classtest: %v", err)
	}
	return path
}

// Simple returns a class with a default constructor, an int field x and a
// method get()I returning it.
func Simple(name string) *Class {
	c := New(name, Object)
	ref := c.Fieldref(name, "x", "I")
	c.Field(Private, "x", "I").DefaultConstructor()
	c.Method(Method{
		Flags: Public, Name: "get", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x2a, 0xb4, byte(ref >> 8), byte(ref), 0xac},
	})
	return c
}
