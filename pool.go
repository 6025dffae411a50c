package procio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lattice-run/procio/internal/diag"
)

// Pool is component C5: a fixed-size set of processors, assigned to new
// processes in strict round-robin order. A Pool owns its processors for
// the life of the program (or until Close).
type Pool struct {
	cfg Config

	mu         sync.Mutex // guards only the round-robin counter, per spec.md §4.5
	counter    int
	processors []*processor

	diag *diag.Bus

	closed atomic.Bool
}

// NewPool constructs a pool of the given size (at least 1) using cfg for
// every process it spawns. A size of 0 resolves cfg.Threads the way
// DefaultPool does.
func NewPool(size int, cfg Config) *Pool {
	if size <= 0 {
		size = cfg.Threads
	}
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		cfg:        cfg,
		processors: make([]*processor, size),
		diag:       diag.NewBus(256),
	}
	for i := range p.processors {
		p.processors[i] = newProcessor(i, p)
	}
	return p
}

var (
	defaultPoolOnce sync.Once
	defaultPoolVal  *Pool
)

// DefaultPool lazily constructs the package-level singleton pool sized
// from DefaultConfig, preserving the original implementation's "just
// works" ergonomics (spec.md §12's supplemented-feature note) without
// forcing every caller to manage a Pool explicitly.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		cfg := DefaultConfig()
		defaultPoolVal = NewPool(cfg.Threads, cfg)
		if cfg.EnableShutdownHook {
			installShutdownHook(defaultPoolVal)
		}
	})
	return defaultPoolVal
}

// Spawn launches cfg's command and assigns it to the next processor in
// round-robin order (spec.md §4.3's startup algorithm).
func (pool *Pool) Spawn(cfg ProcessConfig, handler ProcessHandler) (*Process, error) {
	if pool.closed.Load() {
		return nil, ErrPoolClosed
	}
	if handler == nil {
		handler = BaseHandler{}
	}
	if len(cfg.Argv) == 0 {
		return nil, fmt.Errorf("%w: empty argv", ErrSpawnFailed)
	}

	p := &Process{
		handler:  handler,
		pool:     pool,
		cfg:      pool.cfg,
		exitGate: make(chan struct{}),
	}

	p.invokeOnPreStart()

	if err := startProcess(p, cfg); err != nil {
		p.transitionExited(ExitResult{Code: synthExitCode, Cause: ExitCauseSpawnFailed})
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	proc := pool.assign()
	p.proc = proc
	proc.register(p) // blocks until OnStart has run on proc's goroutine

	if err := resumeProcess(p); err != nil {
		p.Destroy(true)
	}

	return p, nil
}

// assign picks the next processor in round-robin order, protected by a
// mutex that guards only the counter, per spec.md §4.5.
func (pool *Pool) assign() *processor {
	pool.mu.Lock()
	idx := pool.counter % len(pool.processors)
	pool.counter++
	pool.mu.Unlock()
	return pool.processors[idx]
}

// Close shuts down every processor and waits for their loops to exit.
// Safe to call more than once.
func (pool *Pool) Close() error {
	if !pool.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	for _, proc := range pool.processors {
		if err := proc.shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	pool.diag.Close()
	return firstErr
}

// Diagnostics exposes the pool's event stream for external subscribers
// (cmd/procio's watch command, or a caller's own logging bridge).
func (pool *Pool) Diagnostics() <-chan diag.Event { return pool.diag.Output() }

// Size returns the number of processors in the pool.
func (pool *Pool) Size() int { return len(pool.processors) }

// Spawn is the package-level convenience entry point, spawning against
// DefaultPool — the common case for callers that don't need more than
// one pool.
func Spawn(cfg ProcessConfig, handler ProcessHandler) (*Process, error) {
	return DefaultPool().Spawn(cfg, handler)
}
