// Package procconfig resolves pool configuration the way the original
// JVM implementation resolved its system properties
// (com.zaxxer.nuprocess.threads, .softExitDetection, .enableShutdownHook),
// adapted to Go idiom: environment variables first, with an optional YAML
// file for callers embedding this library in a larger service — grounded
// on the teacher's internal/config loader, which also layers CLI flags
// over a YAML stack file.
package procconfig

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the resolved, validated set of knobs the pool and its
// processes read at construction time.
type Config struct {
	// Threads is the processor pool size. Zero means "auto": cores/2.
	Threads int `yaml:"threads"`

	// SoftExitDetection enables the informational soft-exit heuristic
	// described in spec.md §4.3.
	SoftExitDetection bool `yaml:"softExitDetection"`

	// EnableShutdownHook registers a signal-driven goroutine that closes
	// the default pool on SIGINT/SIGTERM.
	EnableShutdownHook bool `yaml:"enableShutdownHook"`

	// BufferSize overrides each stream's direct buffer capacity. Zero
	// means the 64 KiB default.
	BufferSize int `yaml:"bufferSize"`
}

// Default returns the spec-mandated defaults: auto threads, soft-exit
// detection on, shutdown hook on, 64 KiB buffers.
func Default() Config {
	return Config{
		Threads:            0,
		SoftExitDetection:  true,
		EnableShutdownHook: true,
		BufferSize:         0,
	}
}

// ResolveThreads turns the "auto"/explicit Threads knob into a concrete
// pool size: max(1, cores/2), matching spec.md §4.5.
func (c Config) ResolveThreads() int {
	if c.Threads > 0 {
		return c.Threads
	}
	if n := runtime.NumCPU() / 2; n > 0 {
		return n
	}
	return 1
}

// Load reads a YAML config file and layers it under FromEnv, matching the
// teacher's precedence (env/flags win over file).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return FromEnv(cfg), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("procconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("procconfig: parse %s: %w", path, err)
	}
	return FromEnv(cfg), nil
}

// FromEnv overlays PROCIO_* environment variables on top of base,
// returning a new Config. Unset or unparseable variables are ignored so a
// malformed environment never overrides a sane file-based default with
// garbage.
func FromEnv(base Config) Config {
	cfg := base
	if v, ok := lookupEnv("PROCIO_THREADS"); ok {
		cfg.Threads = parseThreads(v, cfg.Threads)
	}
	if v, ok := lookupEnv("PROCIO_SOFT_EXIT_DETECTION"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SoftExitDetection = b
		}
	}
	if v, ok := lookupEnv("PROCIO_SHUTDOWN_HOOK"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableShutdownHook = b
		}
	}
	if v, ok := lookupEnv("PROCIO_BUFFER_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BufferSize = n
		}
	}
	return cfg
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func parseThreads(v string, fallback int) int {
	switch strings.ToLower(v) {
	case "auto":
		return 0
	case "cores":
		return runtime.NumCPU()
	default:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		return fallback
	}
}
