package compiler

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shScript writes a tiny shell script masquerading as a compiler so tests don't
// depend on a real C toolchain being installed.
func shScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cc.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCompileInstallsSourceAndObjectOnSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	cc := shScript(t, `echo "compiled" > "$1"`)
	c := New(cc)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "kernel", "fp1.c")
	objPath := filepath.Join(dir, "object", "fp1.so")

	require.NoError(t, c.Compile(srcPath, objPath, "/* kernel source */"))

	gotSrc, err := os.ReadFile(srcPath)
	require.NoError(t, err)
	assert.Equal(t, "/* kernel source */", string(gotSrc))

	gotObj, err := os.ReadFile(objPath)
	require.NoError(t, err)
	assert.Equal(t, "compiled\n", string(gotObj))

	entries, err := os.ReadDir(filepath.Dir(objPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging temp files should survive a successful compile")
}

func TestCompileFailsOnNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	cc := shScript(t, `echo "boom" >&2; exit 1`)
	c := New(cc)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "fp2.c")
	objPath := filepath.Join(dir, "fp2.so")

	err := c.Compile(srcPath, objPath, "/* source */")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, statErr := os.Stat(objPath)
	assert.True(t, os.IsNotExist(statErr), "no object should be installed on failure")
}

func TestCompileFailsWhenNoObjectProduced(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	cc := shScript(t, `exit 0`) // exits clean but never writes $1
	c := New(cc)

	dir := t.TempDir()
	err := c.Compile(filepath.Join(dir, "fp3.c"), filepath.Join(dir, "fp3.so"), "/* source */")
	require.Error(t, err)
}
