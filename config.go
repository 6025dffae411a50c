package procio

import (
	"time"

	"github.com/lattice-run/procio/internal/procconfig"
	"github.com/lattice-run/procio/internal/sysio"
)

// defaultBufferCapacity is the 64 KiB direct buffer size spec.md §3
// specifies as the per-stream default.
const defaultBufferCapacity = sysio.BufferCapacity

// Config controls a Pool's size and the behavior of every Process it
// spawns. Zero value is not directly usable; build one with DefaultConfig
// or LoadConfig.
type Config struct {
	Threads                int
	SoftExitDetection      bool
	EnableShutdownHook     bool
	BufferSize             int
	SoftExitConfirmTimeout time.Duration
}

// defaultSoftExitConfirmTimeout is the bounded wait soft-exit gives the real OS
// wait to land before synthesizing a terminal transition on its own, per
// the REDESIGN FLAGS resolution in SPEC_FULL.md.
const defaultSoftExitConfirmTimeout = 500 * time.Millisecond

// DefaultConfig resolves Config from the process environment only
// (PROCIO_THREADS, PROCIO_SOFT_EXIT_DETECTION, PROCIO_SHUTDOWN_HOOK,
// PROCIO_BUFFER_SIZE), matching spec.md §6's defaults when unset.
func DefaultConfig() Config {
	return fromProcconfig(procconfig.FromEnv(procconfig.Default()))
}

// LoadConfig reads a YAML file and layers the environment over it, then
// resolves a Config. An empty path is equivalent to DefaultConfig.
func LoadConfig(path string) (Config, error) {
	c, err := procconfig.Load(path)
	if err != nil {
		return Config{}, err
	}
	return fromProcconfig(c), nil
}

func fromProcconfig(c procconfig.Config) Config {
	bufSize := c.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferCapacity
	}
	return Config{
		Threads:                c.ResolveThreads(),
		SoftExitDetection:      c.SoftExitDetection,
		EnableShutdownHook:     c.EnableShutdownHook,
		BufferSize:             bufSize,
		SoftExitConfirmTimeout: defaultSoftExitConfirmTimeout,
	}
}
