package classfile

import (
	"fmt"
	"math"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/internal/stream"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Wide reports whether the entry occupies two pool slots.
func (t Tag) Wide() bool {
	return t == TagLong || t == TagDouble
}

// Constant is one constant pool entry. A and B hold the cross references of
// the entry kind: Class and String name a Utf8 in A, member references hold
// the class in A and the NameAndType in B, NameAndType holds name and
// descriptor, MethodHandle holds the reference kind in A and the member in
// B, Dynamic and InvokeDynamic hold the bootstrap method index in A and the
// NameAndType in B.
type Constant struct {
	Tag  Tag
	Utf8 string // raw modified UTF-8 bytes
	Bits uint64 // Integer and Float use the low 32 bits
	A    uint16
	B    uint16
}

// ConstantPool is an append-only constant pool. Indices of decoded entries
// never change, so raw attributes that reference the pool stay valid.
type ConstantPool struct {
	entries  []Constant // entries[0] and the upper slot of wide entries are zero
	lookup   map[Constant]uint16
	overflow bool
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{
		entries: make([]Constant, 1),
		lookup:  make(map[Constant]uint16),
	}
}

// Count returns the constant_pool_count value: the number of slots plus one.
func (p *ConstantPool) Count() int {
	return len(p.entries)
}

// Get returns the entry at index.
func (p *ConstantPool) Get(index uint16) (Constant, error) {
	if index == 0 || int(index) >= len(p.entries) || p.entries[index].Tag == 0 {
		return Constant{}, fmt.Errorf("%w: #%d", ErrBadConstantIndex, index)
	}
	return p.entries[index], nil
}

func (p *ConstantPool) expect(index uint16, tags ...Tag) (Constant, error) {
	c, err := p.Get(index)
	if err != nil {
		return Constant{}, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return Constant{}, fmt.Errorf("%w: #%d is %s, want %v", ErrBadConstantTag, index, c.Tag, tags)
}

// Utf8 returns the string of a Utf8 entry.
func (p *ConstantPool) Utf8(index uint16) (string, error) {
	c, err := p.expect(index, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Utf8, nil
}

// ClassName returns the name of a Class entry.
func (p *ConstantPool) ClassName(index uint16) (string, error) {
	c, err := p.expect(index, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p *ConstantPool) NameAndType(index uint16) (string, string, error) {
	c, err := p.expect(index, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := p.Utf8(c.A)
	if err != nil {
		return "", "", err
	}
	desc, err := p.Utf8(c.B)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef returns owner, name and descriptor of a field or method reference.
func (p *ConstantPool) MemberRef(index uint16) (owner, name, desc string, err error) {
	c, err := p.expect(index, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return "", "", "", err
	}
	if owner, err = p.ClassName(c.A); err != nil {
		return "", "", "", err
	}
	if name, desc, err = p.NameAndType(c.B); err != nil {
		return "", "", "", err
	}
	return owner, name, desc, nil
}

// DynamicDescriptor returns the descriptor of an InvokeDynamic or Dynamic entry.
func (p *ConstantPool) DynamicDescriptor(index uint16) (string, error) {
	c, err := p.expect(index, TagInvokeDynamic, TagDynamic)
	if err != nil {
		return "", err
	}
	_, desc, err := p.NameAndType(c.B)
	return desc, err
}

// LoadableType returns the field descriptor of the value ldc pushes for
// the entry at index.
func (p *ConstantPool) LoadableType(index uint16) (string, error) {
	c, err := p.Get(index)
	if err != nil {
		return "", err
	}
	switch c.Tag {
	case TagInteger:
		return "I", nil
	case TagFloat:
		return "F", nil
	case TagLong:
		return "J", nil
	case TagDouble:
		return "D", nil
	case TagString:
		return "Ljava/lang/String;", nil
	case TagClass:
		return "Ljava/lang/Class;", nil
	case TagMethodType:
		return "Ljava/lang/invoke/MethodType;", nil
	case TagMethodHandle:
		return "Ljava/lang/invoke/MethodHandle;", nil
	case TagDynamic:
		return p.DynamicDescriptor(index)
	}
	return "", fmt.Errorf("%w: #%d is %s, not loadable", ErrBadConstantTag, index, c.Tag)
}

// Describe renders the entry at index for listings.
func (p *ConstantPool) Describe(index uint16) string {
	c, err := p.Get(index)
	if err != nil {
		return fmt.Sprintf("#%d <invalid>", index)
	}
	switch c.Tag {
	case TagUtf8:
		return fmt.Sprintf("%q", c.Utf8)
	case TagInteger:
		return fmt.Sprintf("int %d", int32(c.Bits))
	case TagFloat:
		return fmt.Sprintf("float %g", math.Float32frombits(uint32(c.Bits)))
	case TagLong:
		return fmt.Sprintf("long %d", int64(c.Bits))
	case TagDouble:
		return fmt.Sprintf("double %g", math.Float64frombits(c.Bits))
	case TagClass:
		name, _ := p.ClassName(index)
		return "class " + name
	case TagString:
		s, _ := p.Utf8(c.A)
		return fmt.Sprintf("string %q", s)
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		owner, name, desc, _ := p.MemberRef(index)
		return fmt.Sprintf("%s %s.%s:%s", c.Tag, owner, name, desc)
	case TagNameAndType:
		name, desc, _ := p.NameAndType(index)
		return fmt.Sprintf("%s:%s", name, desc)
	case TagInvokeDynamic, TagDynamic:
		name, desc, _ := p.NameAndType(c.B)
		return fmt.Sprintf("%s #%d:%s:%s", c.Tag, c.A, name, desc)
	}
	return c.Tag.String()
}

func (p *ConstantPool) add(c Constant) uint16 {
	if i, ok := p.lookup[c]; ok {
		return i
	}
	slots := 1
	if c.Tag.Wide() {
		slots = 2
	}
	if len(p.entries)+slots > math.MaxUint16 {
		p.overflow = true
		return 0
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if slots == 2 {
		p.entries = append(p.entries, Constant{})
	}
	p.lookup[c] = i
	return i
}

// AddUtf8 interns a Utf8 entry.
func (p *ConstantPool) AddUtf8(s string) uint16 {
	return p.add(Constant{Tag: TagUtf8, Utf8: s})
}

// AddClass interns a Class entry for an internal name or array descriptor.
func (p *ConstantPool) AddClass(name string) uint16 {
	return p.add(Constant{Tag: TagClass, A: p.AddUtf8(name)})
}

// AddString interns a String entry.
func (p *ConstantPool) AddString(s string) uint16 {
	return p.add(Constant{Tag: TagString, A: p.AddUtf8(s)})
}

// AddInteger interns an Integer entry.
func (p *ConstantPool) AddInteger(v int32) uint16 {
	return p.add(Constant{Tag: TagInteger, Bits: uint64(uint32(v))})
}

// AddNameAndType interns a NameAndType entry.
func (p *ConstantPool) AddNameAndType(name, desc string) uint16 {
	return p.add(Constant{Tag: TagNameAndType, A: p.AddUtf8(name), B: p.AddUtf8(desc)})
}

// AddFieldref interns a field reference.
func (p *ConstantPool) AddFieldref(owner, name, desc string) uint16 {
	return p.add(Constant{Tag: TagFieldref, A: p.AddClass(owner), B: p.AddNameAndType(name, desc)})
}

// AddMethodref interns a class method reference.
func (p *ConstantPool) AddMethodref(owner, name, desc string) uint16 {
	return p.add(Constant{Tag: TagMethodref, A: p.AddClass(owner), B: p.AddNameAndType(name, desc)})
}

// AddInterfaceMethodref interns an interface method reference.
func (p *ConstantPool) AddInterfaceMethodref(owner, name, desc string) uint16 {
	return p.add(Constant{Tag: TagInterfaceMethodref, A: p.AddClass(owner), B: p.AddNameAndType(name, desc)})
}

var _ bytecode.Pool = (*ConstantPool)(nil)
var _ bytecode.ClassAdder = (*ConstantPool)(nil)

func readConstantPool(r *stream.Reader) (*ConstantPool, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, poolError(r, "missing constant pool count", ErrTruncated)
	}
	if count == 0 {
		return nil, poolError(r, "constant pool count is zero", ErrBadConstantIndex)
	}
	p := &ConstantPool{
		entries: make([]Constant, 1, count),
		lookup:  make(map[Constant]uint16, count),
	}
	for len(p.entries) < int(count) {
		start := r.Offset()
		c, err := readConstant(r)
		if err != nil {
			return nil, &MalformedInputError{
				Section: "constant pool",
				Offset:  int64(start),
				Message: fmt.Sprintf("entry #%d", len(p.entries)),
				Err:     err,
			}
		}
		i := uint16(len(p.entries))
		p.entries = append(p.entries, c)
		if c.Tag.Wide() {
			if len(p.entries) >= int(count) {
				return nil, poolError(r, fmt.Sprintf("wide entry #%d overruns the pool", i), ErrBadConstantIndex)
			}
			p.entries = append(p.entries, Constant{})
		}
		if _, dup := p.lookup[c]; !dup {
			p.lookup[c] = i
		}
	}
	if err := p.validate(); err != nil {
		return nil, poolError(r, "dangling reference", err)
	}
	return p, nil
}

func poolError(r *stream.Reader, msg string, err error) error {
	return &MalformedInputError{Section: "constant pool", Offset: int64(r.Offset()), Message: msg, Err: err}
}

func readConstant(r *stream.Reader) (Constant, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return Constant{}, ErrTruncated
	}
	c := Constant{Tag: Tag(tag)}
	truncated := func(error) (Constant, error) {
		return Constant{}, ErrTruncated
	}
	switch c.Tag {
	case TagUtf8:
		n, err := r.ReadU16()
		if err != nil {
			return truncated(err)
		}
		b, err := r.ReadBytesRef(int(n))
		if err != nil {
			return truncated(err)
		}
		c.Utf8 = string(b)
	case TagInteger, TagFloat:
		v, err := r.ReadU32()
		if err != nil {
			return truncated(err)
		}
		c.Bits = uint64(v)
	case TagLong, TagDouble:
		v, err := r.ReadU64()
		if err != nil {
			return truncated(err)
		}
		c.Bits = v
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		if c.A, err = r.ReadU16(); err != nil {
			return truncated(err)
		}
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
		TagDynamic, TagInvokeDynamic:
		if c.A, err = r.ReadU16(); err != nil {
			return truncated(err)
		}
		if c.B, err = r.ReadU16(); err != nil {
			return truncated(err)
		}
	case TagMethodHandle:
		kind, err := r.ReadU8()
		if err != nil {
			return truncated(err)
		}
		c.A = uint16(kind)
		if c.B, err = r.ReadU16(); err != nil {
			return truncated(err)
		}
	default:
		return Constant{}, fmt.Errorf("%w: %d", ErrBadConstantTag, tag)
	}
	return c, nil
}

// validate checks every cross reference between pool entries.
func (p *ConstantPool) validate() error {
	for i, c := range p.entries {
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(c.A, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(c.A, TagClass); err == nil {
				_, err = p.expect(c.B, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(c.A, TagUtf8); err == nil {
				_, err = p.expect(c.B, TagUtf8)
			}
		case TagMethodHandle:
			if c.A < 1 || c.A > 9 {
				err = fmt.Errorf("%w: reference kind %d", ErrBadConstantTag, c.A)
			} else {
				_, err = p.expect(c.B, TagFieldref, TagMethodref, TagInterfaceMethodref)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(c.B, TagNameAndType)
		}
		if err != nil {
			return fmt.Errorf("entry #%d (%s): %w", i, c.Tag, err)
		}
	}
	return nil
}

func (p *ConstantPool) write(w *stream.Writer) error {
	if p.overflow || len(p.entries) > math.MaxUint16 {
		return fmt.Errorf("%w: %d entries", ErrPoolOverflow, len(p.entries))
	}
	w.WriteU16(uint16(len(p.entries)))
	for _, c := range p.entries {
		if c.Tag == 0 {
			continue
		}
		w.WriteU8(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			if len(c.Utf8) > math.MaxUint16 {
				return fmt.Errorf("classfile: utf8 constant of %d bytes is too long", len(c.Utf8))
			}
			w.WriteU16(uint16(len(c.Utf8)))
			w.WriteBytes([]byte(c.Utf8))
		case TagInteger, TagFloat:
			w.WriteU32(uint32(c.Bits))
		case TagLong, TagDouble:
			w.WriteU64(c.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.WriteU16(c.A)
		case TagMethodHandle:
			w.WriteU8(uint8(c.A))
			w.WriteU16(c.B)
		default:
			w.WriteU16(c.A)
			w.WriteU16(c.B)
		}
	}
	return nil
}
