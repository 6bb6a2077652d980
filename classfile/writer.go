package classfile

import (
	"fmt"
	"math"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/internal/stream"
)

// Hierarchy answers super class queries while stack map frames are
// computed.
type Hierarchy = bytecode.Hierarchy

// Encode serializes cf. Method bodies are assembled from their instruction
// lists; max stack, max locals and, for major version 50 and later, the
// StackMapTable are recomputed. h may be nil, in which case unrelated
// reference types merge to java/lang/Object unless both are core platform
// classes.
//
// Encode leaves the members and method bodies of cf as they are. It may
// append constants to cf.Pool, and it moves the labels of each body to
// their new offsets.
func Encode(cf *ClassFile, h Hierarchy) ([]byte, error) {
	// The body is written first because compiling methods can add entries
	// to the constant pool.
	body := stream.NewWriter(4096)
	if err := encodeBody(body, cf, h); err != nil {
		return nil, err
	}

	out := stream.NewWriter(body.Len() + 1024)
	out.WriteU32(Magic)
	out.WriteU16(cf.MinorVersion)
	out.WriteU16(cf.MajorVersion)
	if err := cf.Pool.write(out); err != nil {
		return nil, fmt.Errorf("classfile: failed to encode %s: %w", cf.Name, err)
	}
	out.WriteBytes(body.Bytes())
	return out.Bytes(), nil
}

func encodeBody(w *stream.Writer, cf *ClassFile, h Hierarchy) error {
	pool := cf.Pool
	w.WriteU16(uint16(cf.AccessFlags))
	w.WriteU16(pool.AddClass(cf.Name))
	if cf.SuperName == "" {
		w.WriteU16(0)
	} else {
		w.WriteU16(pool.AddClass(cf.SuperName))
	}
	w.WriteU16(uint16(len(cf.Interfaces)))
	for _, iface := range cf.Interfaces {
		w.WriteU16(pool.AddClass(iface))
	}

	w.WriteU16(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		w.WriteU16(uint16(f.AccessFlags))
		w.WriteU16(pool.AddUtf8(f.Name))
		w.WriteU16(pool.AddUtf8(f.Descriptor))
		if err := writeAttributes(w, pool, f.Attributes); err != nil {
			return fmt.Errorf("classfile: field %s.%s: %w", cf.Name, f.Name, err)
		}
	}

	w.WriteU16(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		attrs := m.Attributes
		if m.Code != nil {
			code, err := encodeCode(cf, m, h)
			if err != nil {
				return fmt.Errorf("classfile: failed to compile %s.%s%s: %w", cf.Name, m.Name, m.Descriptor, err)
			}
			attrs = append([]Attribute{{Name: AttrCode, Data: code}}, attrs...)
		}
		w.WriteU16(uint16(m.AccessFlags))
		w.WriteU16(pool.AddUtf8(m.Name))
		w.WriteU16(pool.AddUtf8(m.Descriptor))
		if err := writeAttributes(w, pool, attrs); err != nil {
			return fmt.Errorf("classfile: method %s.%s%s: %w", cf.Name, m.Name, m.Descriptor, err)
		}
	}

	return writeAttributes(w, pool, cf.Attributes)
}

func writeAttributes(w *stream.Writer, pool *ConstantPool, attrs []Attribute) error {
	if len(attrs) > math.MaxUint16 {
		return fmt.Errorf("%d attributes", len(attrs))
	}
	w.WriteU16(uint16(len(attrs)))
	for _, a := range attrs {
		if uint64(len(a.Data)) > math.MaxUint32 {
			return fmt.Errorf("attribute %s of %d bytes", a.Name, len(a.Data))
		}
		w.WriteU16(pool.AddUtf8(a.Name))
		w.WriteU32(uint32(len(a.Data)))
		w.WriteBytes(a.Data)
	}
	return nil
}

func encodeCode(cf *ClassFile, m *Method, h Hierarchy) ([]byte, error) {
	compiled, err := bytecode.Compile(m.Code, bytecode.MethodInfo{
		Owner:      cf.Name,
		Name:       m.Name,
		Descriptor: m.Descriptor,
		Static:     m.IsStatic(),
	}, bytecode.CompileOptions{
		Pool:      cf.Pool,
		Classes:   cf.Pool,
		Hierarchy: h,
		Frames:    cf.MajorVersion >= StackMapVersion,
	})
	if err != nil {
		return nil, err
	}

	w := stream.NewWriter(len(compiled.Code) + 64)
	w.WriteU16(compiled.MaxStack)
	w.WriteU16(compiled.MaxLocals)
	w.WriteU32(uint32(len(compiled.Code)))
	w.WriteBytes(compiled.Code)
	w.WriteU16(uint16(len(compiled.Handlers)))
	for _, eh := range compiled.Handlers {
		w.WriteU16(eh.StartPC)
		w.WriteU16(eh.EndPC)
		w.WriteU16(eh.HandlerPC)
		w.WriteU16(eh.CatchType)
	}

	var attrs []Attribute
	if compiled.StackMap != nil {
		attrs = append(attrs, Attribute{Name: AttrStackMapTable, Data: compiled.StackMap})
	}
	if len(compiled.Lines) > 0 {
		t := stream.NewWriter(2 + 4*len(compiled.Lines))
		t.WriteU16(uint16(len(compiled.Lines)))
		for _, ln := range compiled.Lines {
			t.WriteU16(ln.StartPC)
			t.WriteU16(ln.Line)
		}
		attrs = append(attrs, Attribute{Name: AttrLineNumberTable, Data: t.Bytes()})
	}
	if len(compiled.LocalVars) > 0 {
		attrs = append(attrs, Attribute{Name: AttrLocalVariableTable, Data: localTable(compiled.LocalVars)})
	}
	if len(compiled.LocalVarTypes) > 0 {
		attrs = append(attrs, Attribute{Name: AttrLocalVariableTypeTable, Data: localTable(compiled.LocalVarTypes)})
	}
	if err := writeAttributes(w, cf.Pool, attrs); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func localTable(vars []bytecode.RawLocalVar) []byte {
	t := stream.NewWriter(2 + 10*len(vars))
	t.WriteU16(uint16(len(vars)))
	for _, lv := range vars {
		t.WriteU16(lv.StartPC)
		t.WriteU16(lv.Length)
		t.WriteU16(lv.Name)
		t.WriteU16(lv.Descriptor)
		t.WriteU16(lv.Slot)
	}
	return t.Bytes()
}
