package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.VCacheSize)
	assert.True(t, cfg.JITEnabled)
	assert.True(t, cfg.JITFusion)
	assert.Equal(t, "cc", cfg.CompilerCmd)
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
vcache_size = 4
jit_fusion = false
compiler_cmd = "gcc"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.VCacheSize)
	assert.False(t, cfg.JITFusion)
	assert.Equal(t, "gcc", cfg.CompilerCmd)
	assert.True(t, cfg.JITEnabled, "fields absent from the file keep their default")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"
	require.NoError(t, os.WriteFile(path, []byte(`vcache_size = 4`), 0o644))

	t.Setenv(envVCacheSize, "99")
	t.Setenv(envJITEnabled, "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.VCacheSize)
	assert.False(t, cfg.JITEnabled)
}

func TestBadEnvBoolErrors(t *testing.T) {
	t.Setenv(envJITFusion, "not-a-bool")
	_, err := Load("")
	assert.Error(t, err)
}
