package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/internal/classtest"
	"github.com/skdltmxn/classpatch/pipeline"
)

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestWrongArgumentCountIsUsageError(t *testing.T) {
	for _, args := range [][]string{nil, {"only-source"}, {"a", "b", "c"}} {
		code, _, stderr := execute(args...)
		require.Equal(t, exitUsage, code, "%v", args)
		require.Contains(t, stderr, "expected <source-directory> <output-directory>")
	}
}

func TestOverlappingDirectoriesIsUsageError(t *testing.T) {
	src := t.TempDir()
	code, _, stderr := execute(src, filepath.Join(src, "out"))
	require.Equal(t, exitUsage, code)
	require.Contains(t, stderr, "overlap")
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, _ := execute("--no-such-flag", t.TempDir(), t.TempDir())
	require.Equal(t, exitUsage, code)
}

func TestMalformedInputExitsWithError(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "Bad.class"), []byte("nope"), 0o644))
	code, _, stderr := execute(src, out)
	require.Equal(t, exitError, code)
	require.Contains(t, stderr, "Bad.class")
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	classtest.Write(t, dir, classtest.Simple("p/Base"))
	child := classtest.New("q/Child", "p/Base")
	child.DefaultConstructor()
	path := classtest.Write(t, dir, child)

	code, stdout, stderr := execute("inspect", path)
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, stdout, "q.Child")
	require.Contains(t, stdout, "p/Base")
	require.Contains(t, stdout, "<init>()V")
}

func TestDumpJSON(t *testing.T) {
	path := classtest.Write(t, t.TempDir(), classtest.Simple("a/A"))

	code, stdout, stderr := execute("dump", "-f", "json", path)
	require.Equal(t, exitOK, code, stderr)

	var dump ClassDump
	require.NoError(t, json.Unmarshal([]byte(stdout), &dump))
	require.Equal(t, "a/A", dump.Name)
	require.Len(t, dump.Fields, 1)
	require.Len(t, dump.Methods, 2)

	get := dump.Methods[1]
	require.Equal(t, "get", get.Name)
	require.Len(t, get.Code, 3)
	require.Equal(t, "  aload_0", get.Code[0])
	require.Contains(t, get.Code[1], "getfield #")
	require.Contains(t, get.Code[1], "a/A.x:I")
	require.Equal(t, "  ireturn", get.Code[2])
}

func TestLookup(t *testing.T) {
	dir := t.TempDir()
	classtest.Write(t, dir, classtest.Simple("p/Base"))
	child := classtest.New("q/Child", "p/Base")
	child.DefaultConstructor()
	path := classtest.Write(t, dir, child)

	code, stdout, stderr := execute("lookup", path, "x")
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, stdout, "p/Base")
	require.Contains(t, stdout, "x I")

	code, stdout, _ = execute("lookup", path, "get", "()I")
	require.Equal(t, exitOK, code)
	require.Contains(t, stdout, "get()I")

	code, _, stderr = execute("lookup", path, "missing")
	require.Equal(t, exitError, code)
	require.Contains(t, stderr, "no member named missing")
}

func TestRunWithFlags(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	classtest.Write(t, src, classtest.Simple("a/A"))
	manifest := filepath.Join(t.TempDir(), "run.cbor")

	code, stdout, stderr := execute("-p", "method-dispatch", "-j", "1", "--manifest", manifest, src, out)
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, stdout, "instrumented")

	cf, err := classfile.ReadFile(filepath.Join(out, "a", "A.class"))
	require.NoError(t, err)
	require.NotNil(t, cf.Method("get", "()I"))

	m, err := pipeline.ReadManifest(manifest)
	require.NoError(t, err)
	require.Equal(t, "method-dispatch", m.Pass)
	require.Len(t, m.Entries, 1)

	// Flags of one invocation do not carry over to the next.
	require.NoError(t, os.Remove(manifest))
	code, stdout, stderr = execute(src, out)
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, stdout, "(trace,")
	require.NoFileExists(t, manifest)
}
