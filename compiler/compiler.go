// Package compiler invokes the external C toolchain that turns specializer output
// into a loadable shared object (spec §4.7).
package compiler

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Compiler shells out to compilerCmd, feeding C source on stdin and passing the
// target object path as its sole argument.
type Compiler struct {
	compilerCmd string
}

// New returns a Compiler driving compilerCmd (e.g. "cc", "gcc", "clang").
func New(compilerCmd string) *Compiler {
	return &Compiler{compilerCmd: compilerCmd}
}

// Compile persists src at srcPath (via a "<srcPath>.<uuid>.tmp" staging name and
// atomic rename, so a crash mid-write never leaves a half-written source at the
// canonical path that preload or a later symbol_ready check could trip over), then
// invokes compilerCmd with the source on stdin and objPath as its sole argument. The
// resulting object is staged under a UUID name beside objPath and renamed into place
// only once the external process exits successfully.
//
// A non-zero exit, or an object that didn't materialize, is reported as an error; the
// caller (storage.EnsureCompiled) must not insert the fingerprint into the cache in
// that case, so a later submission with a fixed toolchain/template retries from
// scratch.
func (c *Compiler) Compile(srcPath, objPath, src string) error {
	if err := os.MkdirAll(filepath.Dir(srcPath), 0o755); err != nil {
		return errors.Wrapf(err, "compiler: creating kernel directory for %s", srcPath)
	}
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return errors.Wrapf(err, "compiler: creating object directory for %s", objPath)
	}

	stagedSrc := srcPath + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(stagedSrc, []byte(src), 0o644); err != nil {
		return errors.Wrap(err, "compiler: staging source file")
	}
	if err := os.Rename(stagedSrc, srcPath); err != nil {
		os.Remove(stagedSrc)
		return errors.Wrapf(err, "compiler: installing source at %s", srcPath)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "compiler: reopening installed source")
	}
	defer f.Close()

	stagedObj := objPath + "." + uuid.NewString() + ".tmp"
	defer os.Remove(stagedObj)

	cmd := exec.Command(c.compilerCmd, stagedObj)
	cmd.Stdin = f
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		klog.Errorf("compiler: %s failed for %s: %v: %s", c.compilerCmd, objPath, err, stderr.String())
		return errors.Wrapf(err, "compiler: invoking %s: %s", c.compilerCmd, stderr.String())
	}

	if _, err := os.Stat(stagedObj); err != nil {
		return errors.Wrapf(err, "compiler: %s exited successfully but produced no object at %s", c.compilerCmd, stagedObj)
	}

	if err := os.Rename(stagedObj, objPath); err != nil {
		return errors.Wrapf(err, "compiler: installing compiled object at %s", objPath)
	}
	klog.V(2).Infof("compiler: compiled %s", objPath)
	return nil
}
