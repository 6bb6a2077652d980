package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// ClassExt is the extension of files the driver decodes.
const ClassExt = ".class"

// File is a regular file found under the source directory.
type File struct {
	Path string // Absolute
	Rel  string // Relative to the source directory, slash separated
}

// IsClass reports whether the file has the class file extension.
func (f File) IsClass() bool {
	return strings.HasSuffix(f.Rel, ClassExt)
}

// Discover returns every regular file under root, sorted by relative path.
// Symbolic links to regular files are included; directories reached
// through links are not walked.
func Discover(root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to walk %s: %w", root, err)
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Rel, b.Rel) })
	return files, nil
}

// compileExclude returns nil when there are no patterns.
func compileExclude(patterns []string) *ignore.GitIgnore {
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

// EmptyDir makes dir an existing empty directory. It is idempotent.
func EmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case err == nil:
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return fmt.Errorf("pipeline: failed to clear %s: %w", dir, err)
			}
		}
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("pipeline: failed to read %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: failed to create %s: %w", dir, err)
	}
	return nil
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: failed to write %s: %w", path, err)
	}
	return nil
}
