// Package engine coordinates the application lifecycle end to end:
// namespace bootstrap, scaffolding, code generation, the build pipeline,
// promotion, rollback, and teardown. It owns every long-running producer
// goroutine; HTTP handlers talk to the engine and read event streams,
// never the shell clients directly.
//
// Concurrency model: one producer goroutine per active stream, a global
// semaphore bounding concurrent build pipelines, and a per-application
// busy set serializing mutating operations. Two pipelines can never race
// on the same registry entry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/stream"
	"github.com/artpar/shipyard/internal/shell/codegen"
	"github.com/artpar/shipyard/internal/shell/docker"
	"github.com/artpar/shipyard/internal/shell/git"
	"github.com/artpar/shipyard/internal/shell/kube"
	"github.com/artpar/shipyard/internal/shell/store"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the engine's tunables.
type Config struct {
	// RegistryHost is the image registry every build tag targets.
	RegistryHost string

	// ServerIP is the ingress address nip.io hostnames resolve to.
	ServerIP string

	// RolloutTimeout bounds every rollout-readiness wait.
	RolloutTimeout time.Duration

	// MaxConcurrentBuilds bounds simultaneous build pipelines across all
	// applications.
	MaxConcurrentBuilds int

	// LogIdleTimeout ends a log tail after this long without output.
	LogIdleTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RegistryHost:        "localhost:5050",
		ServerIP:            "127.0.0.1",
		RolloutTimeout:      90 * time.Second,
		MaxConcurrentBuilds: 2,
		LogIdleTimeout:      30 * time.Second,
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine orchestrates all application operations against the shell clients.
type Engine struct {
	store   store.Store
	git     git.Client
	docker  docker.Client
	kube    kube.Client
	codegen codegen.Client
	config  Config
	logger  *slog.Logger

	// now is the clock behind version stamps and registry timestamps.
	now func() time.Time

	// buildSem bounds concurrent build pipelines.
	buildSem chan struct{}

	mu     sync.Mutex
	active map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Zero config fields fall back to defaults; a nil
// logger falls back to slog.Default().
func New(s store.Store, g git.Client, d docker.Client, k kube.Client, c codegen.Client, config Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if config.RegistryHost == "" {
		config.RegistryHost = def.RegistryHost
	}
	if config.ServerIP == "" {
		config.ServerIP = def.ServerIP
	}
	if config.RolloutTimeout <= 0 {
		config.RolloutTimeout = def.RolloutTimeout
	}
	if config.MaxConcurrentBuilds <= 0 {
		config.MaxConcurrentBuilds = def.MaxConcurrentBuilds
	}
	if config.LogIdleTimeout <= 0 {
		config.LogIdleTimeout = def.LogIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    s,
		git:      g,
		docker:   d,
		kube:     k,
		codegen:  c,
		config:   config,
		logger:   logger.With("component", "engine"),
		now:      time.Now,
		buildSem: make(chan struct{}, config.MaxConcurrentBuilds),
		active:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop cancels every in-flight producer and waits for their terminal
// bookkeeping to finish.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// =============================================================================
// Per-Application Serialization
// =============================================================================

// acquire marks an application busy. Mutating operations hold the slot for
// their whole duration, so a build and a publish can never interleave on
// one registry entry.
func (e *Engine) acquire(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[name]; busy {
		return fmt.Errorf("%w: %s", ErrOperationInProgress, name)
	}
	e.active[name] = struct{}{}
	return nil
}

func (e *Engine) release(name string) {
	e.mu.Lock()
	delete(e.active, name)
	e.mu.Unlock()
}

// =============================================================================
// Producers
// =============================================================================

// spawn runs a producer goroutine bound to the stream's context. A panic
// becomes the stream's error terminal event, so one crashed pipeline
// cannot take the process down.
func (e *Engine) spawn(st *stream.Stream, op, app string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("producer panicked", "op", op, "app", app, "panic", r)
				_ = st.Fail(fmt.Errorf("internal error during %s", op))
			}
		}()
		fn(st.Context())
	}()
}

// stampVersion returns a UTC timestamp version such as 20260221.143022.
func (e *Engine) stampVersion() string {
	return domain.Stamp(e.now())
}
