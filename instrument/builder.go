package instrument

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
)

var log = commonlog.GetLogger("classpatch.instrument")

// Options configures a Builder.
type Options struct {
	Runtime Runtime

	// Tracing makes the rewriting passes also emit a trace call at every
	// site they rewrite.
	Tracing bool

	// PrivateOnly limits the field-redirect pass to private fields.
	PrivateOnly bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Runtime: DefaultRuntime(), PrivateOnly: true}
}

// Builder creates visitors for one pass. It holds no per-class state and
// may be shared by concurrent workers.
type Builder struct {
	kind Kind
	opts Options
}

// NewBuilder returns a Builder for kind.
func NewBuilder(kind Kind, opts Options) (*Builder, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
	if err := opts.Runtime.Validate(); err != nil {
		return nil, err
	}
	return &Builder{kind: kind, opts: opts}, nil
}

// Kind returns the pass the builder applies.
func (b *Builder) Kind() Kind {
	return b.kind
}

// ProcessParents reports whether visitors need the ancestor chain.
func (b *Builder) ProcessParents() bool {
	return b.kind.ProcessParents()
}

// Build binds a visitor to cf. chain is ignored when the pass does not
// process parents.
func (b *Builder) Build(cf *classfile.ClassFile, chain hierarchy.Chain) *Visitor {
	parents := b.kind.ProcessParents()
	if !parents {
		chain = nil
	}
	return &Visitor{
		class:   cf,
		chain:   chain,
		lookup:  hierarchy.NewLookup(cf, chain),
		opts:    b.opts,
		rewrite: passes[b.kind].rewrite,
		name:    passes[b.kind].name,
	}
}
