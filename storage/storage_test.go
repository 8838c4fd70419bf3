package storage

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader resolves any path present in ok to a no-op Launcher, and counts loads.
type fakeLoader struct {
	mu    sync.Mutex
	ok    map[string]bool
	loads int
}

func (f *fakeLoader) Load(path string) (Launcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if !f.ok[path] {
		return nil, os.ErrNotExist
	}
	return func(dataList []any) error { return nil }, nil
}

func newStorage(t *testing.T, loader KernelLoader) (*Storage, string, string) {
	kernelDir := t.TempDir()
	objectDir := t.TempDir()
	return New(kernelDir, objectDir, loader), kernelDir, objectDir
}

func TestPathsAreDeterministicAndSafe(t *testing.T) {
	s, kernelDir, objectDir := newStorage(t, &fakeLoader{})
	fp := "ZIP[ADD]<f64,f64->f64>/contig"

	assert.Equal(t, s.SrcAbspath(fp), s.SrcAbspath(fp))
	assert.Equal(t, s.ObjAbspath(fp), s.ObjAbspath(fp))
	assert.True(t, filepath.IsAbs(s.SrcAbspath(fp)))
	assert.Equal(t, filepath.Join(kernelDir, sanitize(fp)+".c"), s.SrcAbspath(fp))
	assert.Equal(t, filepath.Join(objectDir, sanitize(fp)+".so"), s.ObjAbspath(fp))
	assert.NotContains(t, s.ObjFilename(fp), "/")
	assert.NotContains(t, s.ObjFilename(fp), "[")
}

func TestSymbolReadyReflectsLoadedFuncs(t *testing.T) {
	loader := &fakeLoader{ok: map[string]bool{}}
	s, _, objectDir := newStorage(t, loader)
	fp := "fp1"

	assert.False(t, s.SymbolReady(fp))

	objPath := filepath.Join(objectDir, fp+".so")
	loader.ok[objPath] = true
	require.NoError(t, s.AddSymbol(fp, objPath))

	assert.True(t, s.SymbolReady(fp))
	assert.NotNil(t, s.Func(fp))
}

func TestLoadFailsWithoutExistingObject(t *testing.T) {
	s, _, _ := newStorage(t, &fakeLoader{ok: map[string]bool{}})
	assert.False(t, s.Load("missing-fp"))
	assert.False(t, s.SymbolReady("missing-fp"))
}

func TestEnsureCompiledCallsCompileAtMostOnceAcrossConcurrentCallers(t *testing.T) {
	loader := &fakeLoader{ok: map[string]bool{}}
	s, _, objectDir := newStorage(t, loader)
	fp := "shared-fp"
	objPath := filepath.Join(objectDir, fp+".so")

	var compiles int32
	compile := func() error {
		atomic.AddInt32(&compiles, 1)
		loader.ok[objPath] = true
		return s.AddSymbol(fp, objPath)
	}

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureCompiled(fp, compile)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&compiles))
	assert.True(t, s.SymbolReady(fp))
}

func TestEnsureCompiledSkipsCompileWhenAlreadyReady(t *testing.T) {
	loader := &fakeLoader{ok: map[string]bool{}}
	s, _, objectDir := newStorage(t, loader)
	fp := "already-ready"
	objPath := filepath.Join(objectDir, fp+".so")
	loader.ok[objPath] = true
	require.NoError(t, s.AddSymbol(fp, objPath))

	called := false
	require.NoError(t, s.EnsureCompiled(fp, func() error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestPreloadLoadsEveryObjectInDirectory(t *testing.T) {
	loader := &fakeLoader{ok: map[string]bool{}}
	s, _, objectDir := newStorage(t, loader)

	for _, fp := range []string{"alpha", "beta"} {
		path := filepath.Join(objectDir, fp+".so")
		require.NoError(t, os.WriteFile(path, []byte("stub"), 0o644))
		loader.ok[path] = true
	}

	require.NoError(t, s.Preload())
	assert.True(t, s.SymbolReady("alpha"))
	assert.True(t, s.SymbolReady("beta"))
}

func TestPreloadToleratesMissingObjectDirectory(t *testing.T) {
	s := New(t.TempDir(), filepath.Join(t.TempDir(), "does-not-exist"), &fakeLoader{})
	assert.NoError(t, s.Preload())
}
