package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nkiryanov/gatekeeper/internal/logger"
)

const (
	ShortLivedInterval = 10 * time.Second // principal lookups
	LongLivedInterval  = 3 * time.Hour    // route classification
)

type Target interface {
	Evict(ctx context.Context) error
}

// Adapter to use ordinary functions as eviction targets
type TargetFunc func(ctx context.Context) error

func (f TargetFunc) Evict(ctx context.Context) error {
	return f(ctx)
}

type job struct {
	name     string
	interval time.Duration
	target   Target
}

// Runs eviction of registered targets, each on its own fixed interval
type Evictor struct {
	jobs   []job
	logger logger.Logger
}

func NewEvictor(l logger.Logger) *Evictor {
	return &Evictor{logger: l.With("component", "evictor")}
}

// Schedule must be called before Run
func (e *Evictor) Schedule(name string, interval time.Duration, target Target) {
	e.jobs = append(e.jobs, job{name: name, interval: interval, target: target})
}

// Run starts one ticker per target
// The returned channel is closed once every ticker stopped after ctx is done
func (e *Evictor) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for _, j := range e.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.run(ctx, j)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		e.logger.Debug("Evictor stopped")
	}()

	return idleStopped
}

func (e *Evictor) run(ctx context.Context, j job) {
	e.logger.Debug("Starting eviction", "target", j.name, "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := j.target.Evict(ctx); err != nil {
				e.logger.Error("Failed to evict", "target", j.name, "error", err)
				continue
			}
			e.logger.Debug("Evicted", "target", j.name)
		}
	}
}
