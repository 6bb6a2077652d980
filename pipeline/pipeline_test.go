package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
	"github.com/skdltmxn/classpatch/instrument"
	"github.com/skdltmxn/classpatch/internal/classtest"
	"github.com/skdltmxn/classpatch/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	return cfg
}

func run(t *testing.T, cfg config.Config, src, out string) (*Report, error) {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	return d.Run(context.Background(), src, out)
}

func writeRaw(t *testing.T, dir, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readClass(t *testing.T, dir, name string) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.ReadFile(hierarchy.ClassPath(dir, name))
	require.NoError(t, err)
	return cf
}

// runtimeCalls lists the runtime entry points m invokes as name+descriptor.
func runtimeCalls(t *testing.T, cf *classfile.ClassFile, name, desc string) []string {
	t.Helper()
	m := cf.Method(name, desc)
	require.NotNil(t, m)
	var calls []string
	for _, in := range m.Code.Instructions {
		if in.Op != bytecode.OpInvokestatic {
			continue
		}
		owner, n, d, err := cf.Pool.MemberRef(in.Index)
		require.NoError(t, err)
		if owner == instrument.DefaultRuntimeClass {
			calls = append(calls, n+d)
		}
	}
	return calls
}

func iface(name string) *classtest.Class {
	c := classtest.New(name, classtest.Object)
	c.Flags = classtest.Public | classtest.Interface | classtest.Abstract
	c.Method(classtest.Method{Flags: classtest.Public | classtest.Abstract, Name: "run", Desc: "()V"})
	return c
}

func TestRunTracePass(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	classtest.Write(t, src, classtest.Simple("A"))
	ifaceBytes := iface("a/I").Bytes()
	writeRaw(t, src, "a/I.class", ifaceBytes)
	writeRaw(t, src, "META-INF/notes.txt", []byte("keep me"))

	report, err := run(t, testConfig(), src, out)
	require.NoError(t, err)
	require.Equal(t, instrument.Trace, report.Pass)
	require.Equal(t, 3, report.Total())
	require.Equal(t, 1, report.Count(Instrumented))
	require.Equal(t, 1, report.Count(Passthrough))
	require.Equal(t, 1, report.Count(Copied))
	require.Equal(t, 4, report.Sites)

	cf := readClass(t, out, "A")
	require.NotNil(t, cf.Field("x"))
	trace := instrument.TraceEntry(3)
	require.Equal(t, []string{trace.Name + trace.Descriptor, trace.Name + trace.Descriptor},
		runtimeCalls(t, cf, "get", "()I"))

	chain, err := hierarchy.Resolve(cf, out)
	require.NoError(t, err)
	require.Empty(t, chain)

	got, err := os.ReadFile(filepath.Join(out, "a", "I.class"))
	require.NoError(t, err)
	require.Equal(t, ifaceBytes, got)
	got, err = os.ReadFile(filepath.Join(out, "META-INF", "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "keep me", string(got))
}

func TestRunResolvesAncestorsFromSource(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	classtest.Write(t, src, classtest.Simple("p/Base"))

	c := classtest.New("q/Child", "p/Base")
	c.DefaultConstructor()
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "get", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x04, 0xac},
	})
	classtest.Write(t, src, c)

	_, err := run(t, testConfig(), src, out)
	require.NoError(t, err)

	trace4 := instrument.TraceEntry(4)
	calls := runtimeCalls(t, readClass(t, out, "q/Child"), "get", "()I")
	require.Equal(t, []string{trace4.Name + trace4.Descriptor, trace4.Name + trace4.Descriptor}, calls)
}

func TestRunMethodDispatchWithoutAncestors(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	// The parent is absent and the pass does not need it.
	c := classtest.New("a/A", "lib/Missing")
	c.DefaultConstructor()
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "get", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x04, 0xac},
	})
	classtest.Write(t, src, c)

	cfg := testConfig()
	cfg.Pass = instrument.MethodDispatch
	report, err := run(t, cfg, src, out)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sites)

	calls := runtimeCalls(t, readClass(t, out, "a/A"), "get", "()I")
	require.Equal(t, []string{
		instrument.IsOverridden.Name + instrument.IsOverridden.Descriptor,
		instrument.Dispatch.Name + instrument.Dispatch.Descriptor,
	}, calls)
}

func TestRunAbortsOnMalformedClass(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	classtest.Write(t, src, classtest.Simple("a/A"))
	writeRaw(t, src, "a/Broken.class", []byte{0xca, 0xfe, 0xba, 0xbe, 0x00})

	report, err := run(t, testConfig(), src, out)
	require.Nil(t, report)
	var malformed *classfile.MalformedInputError
	require.True(t, errors.As(err, &malformed))
	require.ErrorIs(t, err, classfile.ErrTruncated)
	require.Contains(t, err.Error(), "a/Broken.class")
}

func TestRunAbortsOnMissingMember(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	c := classtest.New("a/A", classtest.Object)
	ref := c.Fieldref("a/A", "gone", "I")
	c.Method(classtest.Method{
		Flags: classtest.Public, Name: "get", Desc: "()I", MaxStack: 1, MaxLocals: 1,
		Code: []byte{0x2a, 0xb4, byte(ref >> 8), byte(ref), 0xac},
	})
	classtest.Write(t, src, c)

	cfg := testConfig()
	cfg.Pass = instrument.FieldRedirect
	_, err := run(t, cfg, src, out)
	var missing *instrument.MissingMemberError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "gone", missing.Name)
}

func TestRunAbortsOnUnreadableMergeType(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeRaw(t, src, "gen/Bad.class", []byte{0xca, 0xfe, 0xba, 0xbe, 0x00})
	c := classtest.New("a/A", classtest.Object)
	// Both branches meet at areturn with gen/Bad and a/C on the stack.
	c.Method(classtest.Method{
		Flags: classtest.Public | classtest.Static, Name: "pick", Desc: "(ZLgen/Bad;La/C;)Ljava/lang/Object;",
		MaxStack: 1, MaxLocals: 3,
		Code: []byte{0x1a, 0x99, 0x00, 0x07, 0x2b, 0xa7, 0x00, 0x04, 0x2c, 0xb0},
	})
	classtest.Write(t, src, c)

	cfg := testConfig()
	cfg.Exclude = []string{"gen/"}
	_, err := run(t, cfg, src, out)
	require.ErrorIs(t, err, classfile.ErrTruncated)
	require.Contains(t, err.Error(), "a/A.class")
	require.Contains(t, err.Error(), "gen/Bad")
}

func TestRunUsageErrors(t *testing.T) {
	src := t.TempDir()
	file := writeRaw(t, src, "plain.txt", []byte("x"))

	tests := []struct {
		name     string
		src, out string
		is       error
	}{
		{"output inside source", src, filepath.Join(src, "out"), ErrOverlap},
		{"source inside output", src, filepath.Dir(src), ErrOverlap},
		{"same directory", src, src, ErrOverlap},
		{"source is a file", file, t.TempDir(), ErrNotDirectory},
		{"source missing", filepath.Join(src, "nope"), t.TempDir(), os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, testConfig(), tt.src, tt.out)
			var usageErr *UsageError
			require.True(t, errors.As(err, &usageErr))
			require.ErrorIs(t, err, tt.is)
		})
	}
	_, err := os.Stat(filepath.Join(src, "out"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunEmptiesOutput(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeRaw(t, src, "keep.txt", []byte("new"))
	writeRaw(t, out, "stale/old.class", []byte("old"))

	_, err := run(t, testConfig(), src, out)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "stale"))
	require.ErrorIs(t, err, os.ErrNotExist)

	// A second run over the same output is idempotent.
	_, err = run(t, testConfig(), src, out)
	require.NoError(t, err)
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRunExclude(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	raw := classtest.Simple("gen/G").Bytes()
	writeRaw(t, src, "gen/G.class", raw)
	classtest.Write(t, src, classtest.Simple("a/A"))

	cfg := testConfig()
	cfg.Exclude = []string{"gen/"}
	report, err := run(t, cfg, src, out)
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(Excluded))
	require.Equal(t, 1, report.Count(Instrumented))

	got, err := os.ReadFile(filepath.Join(out, "gen", "G.class"))
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestRunWritesManifest(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	classPath := classtest.Write(t, src, classtest.Simple("a/A"))
	writeRaw(t, src, "b.txt", []byte("b"))

	cfg := testConfig()
	cfg.Manifest = filepath.Join(t.TempDir(), "run", "manifest.cbor")
	report, err := run(t, cfg, src, out)
	require.NoError(t, err)

	m, err := ReadManifest(cfg.Manifest)
	require.NoError(t, err)
	require.Equal(t, ManifestVersion, m.Version)
	require.Equal(t, "trace", m.Pass)
	require.Equal(t, instrument.ContractVersion, m.Contract)
	require.Equal(t, report.Entries, m.Entries)
	require.Len(t, m.Entries, 2)

	input, err := os.ReadFile(classPath)
	require.NoError(t, err)
	output, err := os.ReadFile(filepath.Join(out, "a", "A.class"))
	require.NoError(t, err)
	require.Equal(t, Entry{
		Path:       "a/A.class",
		Action:     "instrumented",
		InputHash:  xxh3.Hash(input),
		OutputHash: xxh3.Hash(output),
		Sites:      4,
	}, m.Entries[0])
	require.Equal(t, "copied", m.Entries[1].Action)
	require.Equal(t, m.Entries[1].InputHash, m.Entries[1].OutputHash)
}

func TestRunCancelled(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeRaw(t, src, "a.txt", []byte("a"))

	d, err := New(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx, src, out)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverSorted(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"b/z.class", "a.txt", "b/a/y.class", "c"} {
		writeRaw(t, root, rel, nil)
	}
	files, err := Discover(root)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.Rel)
		require.True(t, filepath.IsAbs(f.Path))
	}
	require.Equal(t, []string{"a.txt", "b/a/y.class", "b/z.class", "c"}, rels)
	require.True(t, files[1].IsClass())
	require.False(t, files[3].IsClass())
}

func TestEmptyDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "x", "y")
	require.NoError(t, EmptyDir(dir))
	require.NoError(t, EmptyDir(dir))
	writeRaw(t, dir, "f", []byte("f"))
	require.NoError(t, EmptyDir(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestActionString(t *testing.T) {
	require.Equal(t, "passthrough", Passthrough.String())
	require.Equal(t, "Action(9)", Action(9).String())
}
