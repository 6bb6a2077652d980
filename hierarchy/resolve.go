// Package hierarchy reconstructs the super class chain of a class from a
// directory of class files and resolves members through that chain.
package hierarchy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
)

// RootType is the class every chain ends at.
const RootType = bytecode.ObjectClass

// Sentinel errors for common conditions.
var (
	// ErrCyclicHierarchy indicates a class that is its own ancestor.
	ErrCyclicHierarchy = errors.New("hierarchy: cyclic super class chain")

	// ErrNotMirrored indicates a class file whose path does not end with its
	// internal name.
	ErrNotMirrored = errors.New("hierarchy: class file path does not match class name")
)

var log = commonlog.GetLogger("classpatch.hierarchy")

// Chain is the list of resolved ancestors of a class, nearest first. It
// ends at the first ancestor whose class file is not available.
type Chain []*classfile.ClassFile

// Names returns the internal names of the chain members.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, cf := range c {
		names[i] = cf.Name
	}
	return names
}

// ClassPath returns where the class file of the named class lives under
// baseDir.
func ClassPath(baseDir, name string) string {
	return filepath.Join(baseDir, filepath.FromSlash(name)+".class")
}

// BaseDir returns the package root of the class file at path, given the
// internal name of the class it holds.
func BaseDir(path, internalName string) (string, error) {
	clean := filepath.Clean(path)
	suffix := string(filepath.Separator) + filepath.FromSlash(internalName) + ".class"
	if strings.HasSuffix(clean, suffix) {
		return clean[:len(clean)-len(suffix)], nil
	}
	if clean == filepath.FromSlash(internalName)+".class" {
		return ".", nil
	}
	return "", fmt.Errorf("%w: %s holds %s", ErrNotMirrored, path, internalName)
}

// Resolve loads the ancestors of cf from baseDir. It stops at RootType or
// at the first ancestor whose class file does not exist; a missing file is
// not an error. A class that appears twice fails with a
// *classfile.MalformedInputError wrapping ErrCyclicHierarchy.
func Resolve(cf *classfile.ClassFile, baseDir string) (Chain, error) {
	var chain Chain
	seen := map[string]bool{cf.Name: true}
	for name := cf.SuperName; name != "" && name != RootType; {
		if seen[name] {
			return nil, &classfile.MalformedInputError{
				Section: "super class",
				Message: fmt.Sprintf("%s reaches %s again", cf.Name, name),
				Err:     ErrCyclicHierarchy,
			}
		}
		seen[name] = true

		path := ClassPath(baseDir, name)
		parent, err := classfile.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("ancestor %s of %s is not in %s", name, cf.Name, baseDir)
			break
		}
		if err != nil {
			return nil, err
		}
		if parent.Name != name {
			return nil, &classfile.MalformedInputError{
				Section: "this class",
				Message: fmt.Sprintf("%s declares %s", path, parent.Name),
				Err:     ErrNotMirrored,
			}
		}
		chain = append(chain, parent)
		name = parent.SuperName
	}
	return chain, nil
}
