// Package config loads the engine's configuration from a TOML file with every field
// overridable by an environment variable, mirroring the teacher's
// GOMLX_BACKEND-style env-var-overrides-default pattern.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config carries every knob named in spec §6 "Configuration".
type Config struct {
	VCacheSize int    `toml:"vcache_size"`
	Preload    bool   `toml:"preload"`
	JITEnabled bool   `toml:"jit_enabled"`
	JITFusion  bool   `toml:"jit_fusion"`
	JITDumpSrc bool   `toml:"jit_dumpsrc"`
	DumpRep    bool   `toml:"dump_rep"`
	CompilerCmd string `toml:"compiler_cmd"`

	TemplateDirectory string `toml:"template_directory"`
	KernelDirectory   string `toml:"kernel_directory"`
	ObjectDirectory   string `toml:"object_directory"`
}

// Default returns the zero-config engine: JIT and fusion on, no preload, no dumping,
// a victim cache of the spec's documented default size, and cc as the compiler.
func Default() Config {
	return Config{
		VCacheSize:        10,
		Preload:           false,
		JITEnabled:        true,
		JITFusion:         true,
		JITDumpSrc:        false,
		DumpRep:           false,
		CompilerCmd:       "cc",
		TemplateDirectory: "specializer/templates",
		KernelDirectory:   "kernels",
		ObjectDirectory:   "objects",
	}
}

// Load reads path as TOML over Default(), then applies environment overrides. path may
// be empty, in which case only Default()+environment applies.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: decoding %s", path)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKeys names the environment variable for each overridable field, per spec §10.
const (
	envVCacheSize        = "VCACHE_SIZE"
	envPreload           = "BH_PRELOAD"
	envJITEnabled        = "JIT_ENABLED"
	envJITFusion         = "JIT_FUSION"
	envJITDumpSrc        = "JIT_DUMPSRC"
	envDumpRep           = "DUMP_REP"
	envCompilerCmd       = "COMPILER_CMD"
	envTemplateDirectory = "TEMPLATE_DIRECTORY"
	envKernelDirectory   = "KERNEL_DIRECTORY"
	envObjectDirectory   = "OBJECT_DIRECTORY"
)

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(envVCacheSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "config: %s=%q is not an int", envVCacheSize, v)
		}
		cfg.VCacheSize = n
	}
	if err := applyBoolEnv(envPreload, &cfg.Preload); err != nil {
		return err
	}
	if err := applyBoolEnv(envJITEnabled, &cfg.JITEnabled); err != nil {
		return err
	}
	if err := applyBoolEnv(envJITFusion, &cfg.JITFusion); err != nil {
		return err
	}
	if err := applyBoolEnv(envJITDumpSrc, &cfg.JITDumpSrc); err != nil {
		return err
	}
	if err := applyBoolEnv(envDumpRep, &cfg.DumpRep); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(envCompilerCmd); ok {
		cfg.CompilerCmd = v
	}
	if v, ok := os.LookupEnv(envTemplateDirectory); ok {
		cfg.TemplateDirectory = v
	}
	if v, ok := os.LookupEnv(envKernelDirectory); ok {
		cfg.KernelDirectory = v
	}
	if v, ok := os.LookupEnv(envObjectDirectory); ok {
		cfg.ObjectDirectory = v
	}
	return nil
}

func applyBoolEnv(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(err, "config: %s=%q is not a bool", key, v)
	}
	*dst = b
	return nil
}
