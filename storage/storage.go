// Package storage implements the fingerprint -> compiled-function cache: the
// disk-backed, preloadable memo spec §4.6 calls "compile cache".
package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// Launcher is the resolved entry point of a compiled kernel: spec's "launcher(void*
// data_list[])" trampoline, represented host-side as a closure over the loaded shared
// object. KernelLoader.Load returns one of these; Storage never calls it itself.
type Launcher func(dataList []any) error

// KernelLoader abstracts loading a compiled shared object (spec §9 design note,
// "Shared-object loading ... a KernelLoader capability"); compiling is not part of it.
// Storage can be driven by a real dynamic loader or, in tests, an in-memory stand-in
// that hands out launchers directly without touching a compiler at all.
type KernelLoader interface {
	// Load opens objAbspath and resolves its "launcher" symbol.
	Load(objAbspath string) (Launcher, error)
}

// Storage maps fingerprint to loaded Launcher, backed by kernelDir (sources) and
// objectDir (shared objects).
type Storage struct {
	kernelDir string
	objectDir string
	loader    KernelLoader

	mu    sync.Mutex
	funcs map[string]Launcher

	group singleflight.Group // at-most-one-compile-per-fingerprint, spec §3/§8
}

// New returns a Storage rooted at kernelDir/objectDir, resolving symbols through
// loader.
func New(kernelDir, objectDir string, loader KernelLoader) *Storage {
	return &Storage{
		kernelDir: kernelDir,
		objectDir: objectDir,
		loader:    loader,
		funcs:     make(map[string]Launcher),
	}
}

func sanitize(fp string) string {
	// Fingerprints are built from opcode/dtype/layout names and small integers (see
	// block.Fingerprint) but may contain characters unsafe for a bare filename
	// (brackets, slashes from nested range labels); hash-free but filesystem-safe.
	out := make([]byte, 0, len(fp))
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// SrcAbspath returns the deterministic source path for fp.
func (s *Storage) SrcAbspath(fp string) string {
	return filepath.Join(s.kernelDir, sanitize(fp)+".c")
}

// ObjFilename returns the bare object filename for fp (no directory).
func (s *Storage) ObjFilename(fp string) string {
	return sanitize(fp) + ".so"
}

// ObjAbspath returns the deterministic object path for fp.
func (s *Storage) ObjAbspath(fp string) string {
	return filepath.Join(s.objectDir, s.ObjFilename(fp))
}

// SymbolReady reports whether fp's launcher is already resolved in memory.
func (s *Storage) SymbolReady(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.funcs[fp]
	return ok
}

// AddSymbol records that a freshly compiled object for fp exists at objAbspath (the
// toolchain has just produced it) and loads it immediately.
func (s *Storage) AddSymbol(fp, objAbspath string) error {
	fn, err := s.loader.Load(objAbspath)
	if err != nil {
		return errors.Wrapf(err, "storage: loading compiled object for fingerprint %s", fp)
	}
	s.mu.Lock()
	s.funcs[fp] = fn
	s.mu.Unlock()
	return nil
}

// Load opens fp's shared object from disk (without a fresh compile) and caches its
// launcher. Returns false if the object does not exist or fails to load -- not an
// error, since a cache miss on disk is exactly what triggers compilation upstream.
func (s *Storage) Load(fp string) bool {
	fn, err := s.loader.Load(s.ObjAbspath(fp))
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.funcs[fp] = fn
	s.mu.Unlock()
	return true
}

// Func returns fp's cached launcher, or nil if none is loaded.
func (s *Storage) Func(fp string) Launcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funcs[fp]
}

// EnsureCompiled calls compile for fp only while fp has no launcher, so a successful
// compile happens at most once per fingerprint across the Storage's lifetime (spec §3
// invariant, §8 "At-most-one compile" property), even if EnsureCompiled is invoked
// concurrently for the same fp -- singleflight collapses concurrent callers onto one
// compile in flight. A failed compile is not remembered: the next call for fp runs
// compile again. compile is responsible for invoking the Specializer/Compiler and
// calling AddSymbol on success.
func (s *Storage) EnsureCompiled(fp string, compile func() error) error {
	if s.SymbolReady(fp) {
		return nil
	}
	_, err, _ := s.group.Do(fp, func() (any, error) {
		if s.SymbolReady(fp) {
			return nil, nil
		}
		return nil, compile()
	})
	return err
}

// Preload discovers every object in objectDir and loads it, drawing a progress bar
// (repurposed from the teacher's training-loop progress reporting to kernel-cache
// warm-up, per SPEC_FULL.md §11).
func (s *Storage) Preload() error {
	entries, err := os.ReadDir(s.objectDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "storage: reading object directory %s", s.objectDir)
	}

	bar := progressbar.Default(int64(len(entries)), "preloading kernels")
	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			_ = bar.Add(1)
			continue
		}
		fp := fingerprintFromFilename(e.Name())
		if s.Load(fp) {
			loaded++
		} else {
			klog.Warningf("storage: preload: %s did not resolve a launcher symbol", e.Name())
		}
		_ = bar.Add(1)
	}
	klog.V(2).Infof("storage: preloaded %d/%d kernels from %s", loaded, len(entries), s.objectDir)
	return nil
}

func fingerprintFromFilename(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}
