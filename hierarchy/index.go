package hierarchy

import (
	"errors"
	"fmt"
	"os"

	"github.com/skdltmxn/classpatch/classfile"
)

var _ classfile.Hierarchy = (*Index)(nil)

type indexEntry struct {
	super string
	iface bool
	ok    bool
}

// Index answers super class queries for frame computation. It knows the
// class being encoded and its chain, and reads any other class from the
// base directory on demand. Results are memoized; an Index is meant for
// one file and is not safe for concurrent use.
//
// A class file that does not exist is simply unknown. A class file that
// exists but cannot be used is also answered as unknown, and the first
// such failure is kept for Err.
type Index struct {
	baseDir string
	entries map[string]indexEntry
	err     error
}

// NewIndex returns an Index seeded with own and chain. An empty baseDir
// disables reading from disk.
func NewIndex(baseDir string, own *classfile.ClassFile, chain Chain) *Index {
	idx := &Index{baseDir: baseDir, entries: make(map[string]indexEntry)}
	idx.add(own)
	for _, cf := range chain {
		idx.add(cf)
	}
	return idx
}

func (x *Index) add(cf *classfile.ClassFile) {
	x.entries[cf.Name] = indexEntry{super: cf.SuperName, iface: cf.IsInterface(), ok: true}
}

// SuperClass returns the super class of name and whether name is an
// interface. ok is false when no class file for name is available.
func (x *Index) SuperClass(name string) (string, bool, bool) {
	if e, found := x.entries[name]; found {
		return e.super, e.iface, e.ok
	}
	e := x.load(name)
	x.entries[name] = e
	return e.super, e.iface, e.ok
}

// Err returns the first failure to read a class file that exists under
// the base directory.
func (x *Index) Err() error {
	return x.err
}

func (x *Index) fail(err error) indexEntry {
	if x.err == nil {
		x.err = err
	}
	return indexEntry{}
}

func (x *Index) load(name string) indexEntry {
	if x.baseDir == "" {
		return indexEntry{}
	}
	path := ClassPath(x.baseDir, name)
	cf, err := classfile.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return indexEntry{}
	}
	if err != nil {
		return x.fail(fmt.Errorf("hierarchy: failed to load %s for frame computation: %w", name, err))
	}
	if cf.Name != name {
		return x.fail(&classfile.MalformedInputError{
			Section: "this class",
			Message: fmt.Sprintf("%s declares %s", path, cf.Name),
			Err:     ErrNotMirrored,
		})
	}
	return indexEntry{super: cf.SuperName, iface: cf.IsInterface(), ok: true}
}
