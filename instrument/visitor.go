package instrument

import (
	"fmt"
	"slices"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
)

// Visitor applies one pass to one class. It is not safe for concurrent use.
type Visitor struct {
	class   *classfile.ClassFile
	chain   hierarchy.Chain
	lookup  *hierarchy.Lookup
	opts    Options
	rewrite func(v *Visitor, m *classfile.Method) (int, error)
	name    string
	sites   int
}

// Class returns the class being instrumented.
func (v *Visitor) Class() *classfile.ClassFile {
	return v.class
}

// Ancestors returns the resolved ancestors, nearest first. It is empty for
// passes that do not process parents.
func (v *Visitor) Ancestors() hierarchy.Chain {
	return v.chain
}

// FindField looks a field up in the class, then in its ancestors.
func (v *Visitor) FindField(name string) (*classfile.Field, *classfile.ClassFile, bool) {
	return v.lookup.FindField(name)
}

// FindMethod looks a method up in the class, then in its ancestors.
func (v *Visitor) FindMethod(name, desc string) (*classfile.Method, *classfile.ClassFile, bool) {
	return v.lookup.FindMethod(name, desc)
}

// Sites returns how many sites the last Run rewrote.
func (v *Visitor) Sites() int {
	return v.sites
}

// Run rewrites every method that has code.
func (v *Visitor) Run() error {
	v.sites = 0
	for _, m := range v.class.Methods {
		if m.Code == nil {
			continue
		}
		n, err := v.rewrite(v, m)
		if err != nil {
			return fmt.Errorf("instrument: %s %s.%s%s: %w", v.name, v.class.Name, m.Name, m.Descriptor, err)
		}
		v.sites += n
	}
	log.Debugf("%s: %s rewrote %d sites", v.name, v.class.Name, v.sites)
	return nil
}

// Emit returns an empty instruction sequence bound to the class pool.
func (v *Visitor) Emit() *Emitter {
	return &Emitter{
		pool:     v.class.Pool,
		runtime:  v.opts.Runtime,
		classLdc: v.class.MajorVersion >= 49,
	}
}

// classes returns the class followed by its ancestors.
func (v *Visitor) classes() []*classfile.ClassFile {
	return append([]*classfile.ClassFile{v.class}, v.chain...)
}

// inHierarchy reports whether owner is the class or a resolved ancestor.
func (v *Visitor) inHierarchy(owner string) bool {
	_, ok := v.lookup.Class(owner)
	return ok
}

// fieldFrom resolves a field reference the way the JVM does, starting at
// the class the reference names.
func (v *Visitor) fieldFrom(owner, name string) (*classfile.Field, *classfile.ClassFile, bool) {
	all := v.classes()
	start := slices.IndexFunc(all, func(cf *classfile.ClassFile) bool { return cf.Name == owner })
	if start < 0 {
		return nil, nil, false
	}
	for _, cf := range all[start:] {
		if f := cf.Field(name); f != nil {
			return f, cf, true
		}
	}
	return nil, nil, false
}

// overridden returns the nearest ancestor declaring a method that m
// overrides.
func (v *Visitor) overridden(m *classfile.Method) (*classfile.ClassFile, bool) {
	if m.IsStatic() || m.IsConstructor() || m.IsClassInitializer() || m.AccessFlags.Has(classfile.AccPrivate) {
		return nil, false
	}
	for _, cf := range v.chain {
		pm := cf.Method(m.Name, m.Descriptor)
		if pm != nil && !pm.IsStatic() && !pm.AccessFlags.Has(classfile.AccPrivate) {
			return cf, true
		}
	}
	return nil, false
}

func (v *Visitor) missing(owner, name, desc string) error {
	return &MissingMemberError{Class: v.class.Name, Owner: owner, Name: name, Descriptor: desc}
}

// insert splices seq into body before index i.
func insert(body *bytecode.Body, i int, seq []bytecode.Instruction) {
	body.Instructions = slices.Insert(body.Instructions, i, seq...)
}
