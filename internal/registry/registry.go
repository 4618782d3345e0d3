// Package registry owns the shared external clients and brings them up
// concurrently at startup. No request is served until every resource has
// passed a real round-trip check.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docquery/internal/resilience"
)

// State tracks the registry lifecycle.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// IndexClient manages the vector store schema.
type IndexClient interface {
	EnsureClass(ctx context.Context) (bool, error)
	ClassExists(ctx context.Context) (bool, error)
}

// Embedder is probed with a round-trip embedding at startup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator is probed with a round-trip completion at startup.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Options carries the per-resource initialization budgets.
type Options struct {
	IndexTimeout    time.Duration
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	SettleDelay     time.Duration
	RetryAttempts   int
	BackoffFactor   float64
	ProbeTimeout    time.Duration
}

type Registry struct {
	index     IndexClient
	embedder  Embedder
	generator Generator
	opts      Options

	mu    sync.RWMutex
	state State
}

func New(index IndexClient, embedder Embedder, generator Generator, opts Options) *Registry {
	return &Registry{
		index:     index,
		embedder:  embedder,
		generator: generator,
		opts:      opts,
	}
}

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Registry) Ready() bool {
	return r.State() == Ready
}

// Initialize brings up all resources in parallel. Each init retries on
// external failures under its own timeout budget; any final failure marks the
// registry Failed and surfaces as a *ResourceInitError.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Ready || r.state == Initializing {
		r.mu.Unlock()
		return nil
	}
	r.state = Initializing
	r.mu.Unlock()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.initIndex(gctx) })
	g.Go(func() error { return r.initEmbedder(gctx) })
	g.Go(func() error { return r.initGenerator(gctx) })

	if err := g.Wait(); err != nil {
		r.setState(Failed)
		return err
	}

	r.setState(Ready)
	slog.InfoContext(ctx, "resources initialized", "elapsed", time.Since(start))
	return nil
}

func (r *Registry) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Registry) initIndex(ctx context.Context) error {
	op := resilience.WithRetry(
		resilience.WithTimeout(func(ctx context.Context) (bool, error) {
			return r.index.EnsureClass(ctx)
		}, r.opts.IndexTimeout, "vector_store_init"),
		r.opts.RetryAttempts, r.opts.BackoffFactor, resilience.Always)

	created, err := op(ctx)
	if err != nil {
		return &resilience.ResourceInitError{Resource: "vector_store", Detail: err.Error()}
	}
	if created && r.opts.SettleDelay > 0 {
		// A freshly created class needs a moment before accepting writes.
		slog.InfoContext(ctx, "vector store class created, waiting for index to settle",
			"delay", r.opts.SettleDelay)
		select {
		case <-time.After(r.opts.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) initEmbedder(ctx context.Context) error {
	op := resilience.WithRetry(
		resilience.WithTimeout(func(ctx context.Context) ([]float32, error) {
			return r.embedder.Embed(ctx, "test embedding")
		}, r.opts.EmbedTimeout, "embedder_init"),
		r.opts.RetryAttempts, r.opts.BackoffFactor, resilience.Always)

	vector, err := op(ctx)
	if err != nil {
		return &resilience.ResourceInitError{Resource: "embedder", Detail: err.Error()}
	}
	if len(vector) == 0 {
		return &resilience.ResourceInitError{Resource: "embedder", Detail: "round-trip produced an empty vector"}
	}
	return nil
}

func (r *Registry) initGenerator(ctx context.Context) error {
	op := resilience.WithRetry(
		resilience.WithTimeout(func(ctx context.Context) (string, error) {
			return r.generator.Generate(ctx, "", "Hello")
		}, r.opts.GenerateTimeout, "generator_init"),
		r.opts.RetryAttempts, r.opts.BackoffFactor, resilience.Always)

	if _, err := op(ctx); err != nil {
		return &resilience.ResourceInitError{Resource: "generator", Detail: err.Error()}
	}
	return nil
}

// Index returns the vector store client once the registry is Ready.
func (r *Registry) Index() (IndexClient, error) {
	if !r.Ready() {
		return nil, r.notReady("vector_store")
	}
	return r.index, nil
}

func (r *Registry) Embedder() (Embedder, error) {
	if !r.Ready() {
		return nil, r.notReady("embedder")
	}
	return r.embedder, nil
}

func (r *Registry) Generator() (Generator, error) {
	if !r.Ready() {
		return nil, r.notReady("generator")
	}
	return r.generator, nil
}

func (r *Registry) notReady(resource string) error {
	return &resilience.ResourceInitError{
		Resource: resource,
		Detail:   fmt.Sprintf("registry is %s, not ready", r.State()),
	}
}

// ComponentHealth is the probe outcome for one resource.
type ComponentHealth struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency_ns"`
}

// Health is the aggregate of all component probes.
type Health struct {
	Healthy    bool                       `json:"healthy"`
	State      string                     `json:"state"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthCheck probes every resource with a live call under the probe budget.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	h := Health{
		State:      r.State().String(),
		Components: make(map[string]ComponentHealth),
	}

	h.Components["vector_store"] = r.probe(ctx, "vector_store", func(ctx context.Context) error {
		_, err := r.index.ClassExists(ctx)
		return err
	})
	h.Components["embedder"] = r.probe(ctx, "embedder", func(ctx context.Context) error {
		_, err := r.embedder.Embed(ctx, "health check")
		return err
	})
	h.Components["generator"] = r.probe(ctx, "generator", func(ctx context.Context) error {
		_, err := r.generator.Generate(ctx, "", "Hello")
		return err
	})

	h.Healthy = r.Ready()
	for _, c := range h.Components {
		if c.Status != "healthy" {
			h.Healthy = false
		}
	}
	return h
}

func (r *Registry) probe(ctx context.Context, name string, check func(ctx context.Context) error) ComponentHealth {
	op := resilience.WithTimeout(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, check(ctx)
	}, r.opts.ProbeTimeout, name+"_health")

	start := time.Now()
	_, err := op(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return ComponentHealth{Status: "healthy", Latency: elapsed}
	default:
		var te *resilience.TimeoutError
		if errors.As(err, &te) {
			return ComponentHealth{Status: "timeout", Latency: elapsed}
		}
		slog.WarnContext(ctx, "health probe failed", "component", name, "error", err)
		return ComponentHealth{Status: "unhealthy", Latency: elapsed}
	}
}
