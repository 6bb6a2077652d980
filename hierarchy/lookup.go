package hierarchy

import "github.com/skdltmxn/classpatch/classfile"

// Lookup finds members declared by a class or its resolved ancestors. The
// class itself is searched first, then the ancestors nearest first, and the
// first declaration found wins.
type Lookup struct {
	own   *classfile.ClassFile
	chain Chain
}

// NewLookup binds a lookup to own and its ancestors.
func NewLookup(own *classfile.ClassFile, chain Chain) *Lookup {
	return &Lookup{own: own, chain: chain}
}

func (l *Lookup) each(fn func(*classfile.ClassFile) bool) {
	if fn(l.own) {
		return
	}
	for _, cf := range l.chain {
		if fn(cf) {
			return
		}
	}
}

// FindField returns the closest field declaration named name and the class
// declaring it.
func (l *Lookup) FindField(name string) (*classfile.Field, *classfile.ClassFile, bool) {
	var field *classfile.Field
	var owner *classfile.ClassFile
	l.each(func(cf *classfile.ClassFile) bool {
		field, owner = cf.Field(name), cf
		return field != nil
	})
	if field == nil {
		return nil, nil, false
	}
	return field, owner, true
}

// FindMethod returns the closest method declaration with name and
// descriptor and the class declaring it.
func (l *Lookup) FindMethod(name, desc string) (*classfile.Method, *classfile.ClassFile, bool) {
	var method *classfile.Method
	var owner *classfile.ClassFile
	l.each(func(cf *classfile.ClassFile) bool {
		method, owner = cf.Method(name, desc), cf
		return method != nil
	})
	if method == nil {
		return nil, nil, false
	}
	return method, owner, true
}

// Class returns the class named name if it is the bound class or one of its
// ancestors.
func (l *Lookup) Class(name string) (*classfile.ClassFile, bool) {
	var found *classfile.ClassFile
	l.each(func(cf *classfile.ClassFile) bool {
		if cf.Name == name {
			found = cf
		}
		return found != nil
	})
	return found, found != nil
}
