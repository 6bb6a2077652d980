package classfile

import (
	"fmt"
	"os"

	"github.com/skdltmxn/classpatch/bytecode"
)

// Attribute is an attribute kept as raw bytes. Its content may reference
// constant pool indices, which remain valid because the pool is append-only.
type Attribute struct {
	Name string
	Data []byte
}

// ClassFile is a decoded class.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstantPool
	AccessFlags  AccessFlags

	// Name and SuperName are internal names such as "java/lang/Object".
	// SuperName is empty for java/lang/Object and module descriptors.
	Name       string
	SuperName  string
	Interfaces []string

	Fields     []*Field
	Methods    []*Method
	Attributes []Attribute

	// DroppedAttributes lists code attributes that could not be carried
	// over because they address instruction offsets.
	DroppedAttributes []string
}

// Field is a field declared by a class.
type Field struct {
	AccessFlags AccessFlags
	Name        string
	Descriptor  string
	Attributes  []Attribute
}

// Method is a method declared by a class. Code is nil for abstract and
// native methods.
type Method struct {
	AccessFlags AccessFlags
	Name        string
	Descriptor  string
	Attributes  []Attribute
	Code        *bytecode.Body
}

// IsInterface reports whether the class is an interface or annotation type.
func (c *ClassFile) IsInterface() bool {
	return c.AccessFlags.Has(AccInterface) || c.AccessFlags.Has(AccAnnotation)
}

// IsModule reports whether the class file is a module descriptor.
func (c *ClassFile) IsModule() bool {
	return c.AccessFlags.Has(AccModule)
}

// Field returns the field declared with name, if any.
func (c *ClassFile) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the method declared with name and descriptor, if any.
func (c *ClassFile) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// Version returns the class file version as "major.minor".
func (c *ClassFile) Version() string {
	return fmt.Sprintf("%d.%d", c.MajorVersion, c.MinorVersion)
}

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool { return f.AccessFlags.Has(AccStatic) }

// IsPrivate reports whether the field is private.
func (f *Field) IsPrivate() bool { return f.AccessFlags.Has(AccPrivate) }

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.AccessFlags.Has(AccStatic) }

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool { return m.Name == "<init>" }

// IsClassInitializer reports whether the method is the static initializer.
func (m *Method) IsClassInitializer() bool { return m.Name == "<clinit>" }

// IsBridge reports whether the method is a compiler-generated bridge.
func (m *Method) IsBridge() bool { return m.AccessFlags.Has(AccBridge) }

// ReadFile reads and decodes the class file at path.
func ReadFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classfile: failed to read %s: %w", path, err)
	}
	cf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}
