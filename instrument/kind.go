// Package instrument rewrites method bodies to call into a runtime support
// class. Each run applies one pass, selected by Kind.
package instrument

import (
	"fmt"

	"github.com/skdltmxn/classpatch/classfile"
)

// Kind selects an instrumentation pass.
type Kind uint8

const (
	// Trace reports method entry, exit and exceptional exit.
	Trace Kind = iota
	// FieldRedirect routes field access through reflective accessors.
	FieldRedirect
	// ConstructorRewrite lets the runtime take over construction after the
	// delegating constructor call.
	ConstructorRewrite
	// MethodDispatch lets the runtime replace method implementations.
	MethodDispatch
)

type pass struct {
	name           string
	processParents bool
	rewrite        func(v *Visitor, m *classfile.Method) (int, error)
}

var passes = [...]pass{
	Trace:              {name: "trace", processParents: true, rewrite: rewriteTrace},
	FieldRedirect:      {name: "field-redirect", processParents: true, rewrite: rewriteFields},
	ConstructorRewrite: {name: "constructor-rewrite", processParents: true, rewrite: rewriteConstructor},
	MethodDispatch:     {name: "method-dispatch", processParents: false, rewrite: rewriteDispatch},
}

// Kinds returns every pass in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, len(passes))
	for i := range passes {
		kinds[i] = Kind(i)
	}
	return kinds
}

// ParseKind returns the pass with the given name.
func ParseKind(name string) (Kind, error) {
	for i, p := range passes {
		if p.name == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

func (k Kind) String() string {
	if int(k) < len(passes) {
		return passes[k].name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k names a pass.
func (k Kind) Valid() bool {
	return int(k) < len(passes)
}

// ProcessParents reports whether the pass needs the ancestor chain.
func (k Kind) ProcessParents() bool {
	return k.Valid() && passes[k].processParents
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
