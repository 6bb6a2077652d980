package classfile

import (
	"errors"
	"fmt"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/internal/stream"
)

// Attribute names with special handling.
const (
	AttrCode                   = "Code"
	AttrStackMapTable          = "StackMapTable"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
)

type parser struct {
	r       *stream.Reader
	cf      *ClassFile
	section string
}

// Parse decodes a class file. Any inconsistency in the header, the version,
// the constant pool cross references or a method body is reported as a
// *MalformedInputError.
func Parse(data []byte) (*ClassFile, error) {
	p := &parser{r: stream.NewReader(data), cf: &ClassFile{}, section: "header"}

	magic, err := p.r.ReadU32()
	if err != nil {
		return nil, p.fail("missing magic", ErrTruncated)
	}
	if magic != Magic {
		return nil, &MalformedInputError{Section: "header", Message: fmt.Sprintf("magic 0x%08x", magic), Err: ErrInvalidMagic}
	}
	if p.cf.MinorVersion, err = p.r.ReadU16(); err != nil {
		return nil, p.fail("missing minor version", ErrTruncated)
	}
	if p.cf.MajorVersion, err = p.r.ReadU16(); err != nil {
		return nil, p.fail("missing major version", ErrTruncated)
	}
	if p.cf.MajorVersion < MinMajorVersion || p.cf.MajorVersion > MaxMajorVersion {
		return nil, p.fail(fmt.Sprintf("version %s", p.cf.Version()), ErrUnsupportedVersion)
	}

	if p.cf.Pool, err = readConstantPool(p.r); err != nil {
		return nil, err
	}

	p.section = "class info"
	if err := p.readClassInfo(); err != nil {
		return nil, err
	}

	p.section = "fields"
	count, err := p.u16("field count")
	if err != nil {
		return nil, err
	}
	for i := range int(count) {
		f, err := p.readField()
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		p.cf.Fields = append(p.cf.Fields, f)
	}

	p.section = "methods"
	if count, err = p.u16("method count"); err != nil {
		return nil, err
	}
	for i := range int(count) {
		m, err := p.readMethod()
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		p.cf.Methods = append(p.cf.Methods, m)
	}

	p.section = "attributes"
	if p.cf.Attributes, err = p.readAttributes(); err != nil {
		return nil, err
	}
	if p.r.Remaining() > 0 {
		return nil, p.fail(fmt.Sprintf("%d bytes", p.r.Remaining()), ErrTrailingData)
	}
	return p.cf, nil
}

func (p *parser) fail(msg string, err error) error {
	return &MalformedInputError{Section: p.section, Offset: int64(p.r.Offset()), Message: msg, Err: err}
}

func (p *parser) u16(what string) (uint16, error) {
	v, err := p.r.ReadU16()
	if err != nil {
		return 0, p.fail("missing "+what, ErrTruncated)
	}
	return v, nil
}

func (p *parser) utf8(what string) (string, error) {
	idx, err := p.u16(what)
	if err != nil {
		return "", err
	}
	s, err := p.cf.Pool.Utf8(idx)
	if err != nil {
		return "", p.fail(what, err)
	}
	return s, nil
}

func (p *parser) readClassInfo() error {
	flags, err := p.u16("access flags")
	if err != nil {
		return err
	}
	p.cf.AccessFlags = AccessFlags(flags)

	this, err := p.u16("this class")
	if err != nil {
		return err
	}
	if p.cf.Name, err = p.cf.Pool.ClassName(this); err != nil {
		return p.fail("this class", err)
	}

	super, err := p.u16("super class")
	if err != nil {
		return err
	}
	if super != 0 {
		if p.cf.SuperName, err = p.cf.Pool.ClassName(super); err != nil {
			return p.fail("super class", err)
		}
	} else if p.cf.Name != bytecode.ObjectClass && !p.cf.IsModule() {
		return p.fail("missing super class", ErrBadConstantIndex)
	}

	count, err := p.u16("interface count")
	if err != nil {
		return err
	}
	for range int(count) {
		idx, err := p.u16("interface")
		if err != nil {
			return err
		}
		name, err := p.cf.Pool.ClassName(idx)
		if err != nil {
			return p.fail("interface", err)
		}
		p.cf.Interfaces = append(p.cf.Interfaces, name)
	}
	return nil
}

func (p *parser) readField() (*Field, error) {
	flags, err := p.u16("field flags")
	if err != nil {
		return nil, err
	}
	f := &Field{AccessFlags: AccessFlags(flags)}
	if f.Name, err = p.utf8("field name"); err != nil {
		return nil, err
	}
	if f.Descriptor, err = p.utf8("field descriptor"); err != nil {
		return nil, err
	}
	if !bytecode.ValidFieldDescriptor(f.Descriptor) {
		return nil, p.fail(fmt.Sprintf("field %s descriptor %q", f.Name, f.Descriptor), bytecode.ErrBadDescriptor)
	}
	if f.Attributes, err = p.readAttributes(); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *parser) readMethod() (*Method, error) {
	flags, err := p.u16("method flags")
	if err != nil {
		return nil, err
	}
	m := &Method{AccessFlags: AccessFlags(flags)}
	if m.Name, err = p.utf8("method name"); err != nil {
		return nil, err
	}
	if m.Descriptor, err = p.utf8("method descriptor"); err != nil {
		return nil, err
	}
	if _, _, err := bytecode.ParseMethodDescriptor(m.Descriptor); err != nil {
		return nil, p.fail(fmt.Sprintf("method %s", m.Name), err)
	}

	attrs, err := p.readAttributes()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Name != AttrCode {
			m.Attributes = append(m.Attributes, a)
			continue
		}
		if m.Code != nil {
			return nil, p.fail(fmt.Sprintf("method %s%s has two Code attributes", m.Name, m.Descriptor), ErrBadCode)
		}
		prev := p.section
		p.section = fmt.Sprintf("code of %s%s", m.Name, m.Descriptor)
		if m.Code, err = p.readCode(a.Data); err != nil {
			return nil, err
		}
		p.section = prev
	}
	return m, nil
}

func (p *parser) readAttributes() ([]Attribute, error) {
	count, err := p.u16("attribute count")
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, 0, count)
	for range int(count) {
		name, err := p.utf8("attribute name")
		if err != nil {
			return nil, err
		}
		length, err := p.r.ReadU32()
		if err != nil {
			return nil, p.fail("missing attribute length", ErrTruncated)
		}
		data, err := p.r.ReadBytes(int(length))
		if err != nil {
			return nil, p.fail(fmt.Sprintf("attribute %s of %d bytes", name, length), ErrTruncated)
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, nil
}

// readCode decodes a Code attribute body. Offsets in errors are relative to
// the start of the attribute body.
func (p *parser) readCode(data []byte) (*bytecode.Body, error) {
	r := stream.NewReader(data)
	fail := func(msg string, err error) error {
		return &MalformedInputError{Section: p.section, Offset: int64(r.Offset()), Message: msg, Err: err}
	}
	truncated := func(what string) error {
		return fail("missing "+what, ErrTruncated)
	}

	body := &bytecode.Body{}
	var err error
	if body.MaxStack, err = r.ReadU16(); err != nil {
		return nil, truncated("max stack")
	}
	if body.MaxLocals, err = r.ReadU16(); err != nil {
		return nil, truncated("max locals")
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, truncated("code length")
	}
	code, err := r.ReadBytesRef(int(length))
	if err != nil {
		return nil, truncated("code")
	}
	dec, err := bytecode.NewDecoder(code)
	if err != nil {
		return nil, fail("instructions", errors.Join(ErrBadCode, err))
	}

	label := func(offset int) (*bytecode.Label, error) {
		l, err := dec.Label(offset)
		if err != nil {
			return nil, fail("offset", errors.Join(ErrBadCode, err))
		}
		return l, nil
	}

	handlers, err := r.ReadU16()
	if err != nil {
		return nil, truncated("exception table length")
	}
	for range int(handlers) {
		var raw [4]uint16
		for j := range raw {
			if raw[j], err = r.ReadU16(); err != nil {
				return nil, truncated("exception table entry")
			}
		}
		h := bytecode.Handler{CatchType: raw[3]}
		if h.Start, err = label(int(raw[0])); err != nil {
			return nil, err
		}
		if h.End, err = label(int(raw[1])); err != nil {
			return nil, err
		}
		if h.Handler, err = label(int(raw[2])); err != nil {
			return nil, err
		}
		if h.CatchType != 0 {
			if _, err := p.cf.Pool.ClassName(h.CatchType); err != nil {
				return nil, fail("catch type", err)
			}
		}
		body.Handlers = append(body.Handlers, h)
	}

	count, err := r.ReadU16()
	if err != nil {
		return nil, truncated("code attribute count")
	}
	for range int(count) {
		idx, err := r.ReadU16()
		if err != nil {
			return nil, truncated("code attribute name")
		}
		name, err := p.cf.Pool.Utf8(idx)
		if err != nil {
			return nil, fail("code attribute name", err)
		}
		n, err := r.ReadU32()
		if err != nil {
			return nil, truncated("code attribute length")
		}
		sub, err := r.SubReader(int(n))
		if err != nil {
			return nil, truncated(name)
		}
		switch name {
		case AttrStackMapTable:
			// Recomputed on encode.
		case AttrLineNumberTable:
			if body.Lines, err = readLines(sub, label); err != nil {
				return nil, fail(name, err)
			}
		case AttrLocalVariableTable:
			if body.LocalVars, err = p.readLocals(sub, label); err != nil {
				return nil, fail(name, err)
			}
		case AttrLocalVariableTypeTable:
			if body.LocalVarTypes, err = p.readLocals(sub, label); err != nil {
				return nil, fail(name, err)
			}
		default:
			p.cf.DroppedAttributes = append(p.cf.DroppedAttributes, name)
		}
	}
	if r.Remaining() > 0 {
		return nil, fail(fmt.Sprintf("%d bytes after code attributes", r.Remaining()), ErrTrailingData)
	}

	body.Instructions = dec.Instructions()
	if err := p.checkOperands(body.Instructions); err != nil {
		return nil, fail("operand", err)
	}
	return body, nil
}

func readLines(r *stream.Reader, label func(int) (*bytecode.Label, error)) ([]bytecode.LineNumber, error) {
	n, err := r.ReadU16()
	if err != nil {
		return nil, ErrTruncated
	}
	lines := make([]bytecode.LineNumber, 0, n)
	for range int(n) {
		pc, err1 := r.ReadU16()
		line, err2 := r.ReadU16()
		if err1 != nil || err2 != nil {
			return nil, ErrTruncated
		}
		l, err := label(int(pc))
		if err != nil {
			return nil, err
		}
		lines = append(lines, bytecode.LineNumber{Start: l, Line: line})
	}
	return lines, nil
}

func (p *parser) readLocals(r *stream.Reader, label func(int) (*bytecode.Label, error)) ([]bytecode.LocalVar, error) {
	n, err := r.ReadU16()
	if err != nil {
		return nil, ErrTruncated
	}
	vars := make([]bytecode.LocalVar, 0, n)
	for range int(n) {
		var raw [5]uint16
		for j := range raw {
			if raw[j], err = r.ReadU16(); err != nil {
				return nil, ErrTruncated
			}
		}
		start, err := label(int(raw[0]))
		if err != nil {
			return nil, err
		}
		end, err := label(int(raw[0]) + int(raw[1]))
		if err != nil {
			return nil, err
		}
		if _, err := p.cf.Pool.Utf8(raw[2]); err != nil {
			return nil, err
		}
		if _, err := p.cf.Pool.Utf8(raw[3]); err != nil {
			return nil, err
		}
		vars = append(vars, bytecode.LocalVar{
			Start: start, End: end, Name: raw[2], Descriptor: raw[3], Slot: raw[4],
		})
	}
	return vars, nil
}

// checkOperands verifies that every pool operand names an entry of the kind
// its opcode requires.
func (p *parser) checkOperands(insns []bytecode.Instruction) error {
	pool := p.cf.Pool
	for i := range insns {
		in := &insns[i]
		if in.IsMark() || !in.Op.ReferencesPool() {
			continue
		}
		var tags []Tag
		switch in.Op {
		case bytecode.OpLdc, bytecode.OpLdcW:
			tags = []Tag{TagInteger, TagFloat, TagString, TagClass, TagMethodType, TagMethodHandle, TagDynamic}
		case bytecode.OpLdc2W:
			tags = []Tag{TagLong, TagDouble, TagDynamic}
		case bytecode.OpGetstatic, bytecode.OpPutstatic, bytecode.OpGetfield, bytecode.OpPutfield:
			tags = []Tag{TagFieldref}
		case bytecode.OpInvokevirtual:
			tags = []Tag{TagMethodref}
		case bytecode.OpInvokespecial, bytecode.OpInvokestatic:
			tags = []Tag{TagMethodref, TagInterfaceMethodref}
		case bytecode.OpInvokeinterface:
			tags = []Tag{TagInterfaceMethodref}
		case bytecode.OpInvokedynamic:
			tags = []Tag{TagInvokeDynamic}
		default:
			tags = []Tag{TagClass}
		}
		if _, err := pool.expect(in.Index, tags...); err != nil {
			return fmt.Errorf("%s: %w", in.Op, err)
		}
	}
	return nil
}
