package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the executors of independent feature areas.
//
// It is constructed at application start and passed by reference to the
// consumers that need it; there is no global instance. Areas never share ids
// or signature slots.
type Registry struct {
	mu    sync.RWMutex
	areas map[string]*Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{areas: make(map[string]*Executor)}
}

// Register adds an executor under its area name.
// Returns a ProgrammerError if the name is taken.
func (r *Registry) Register(exec *Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.areas[exec.Area()]; exists {
		return &ProgrammerError{
			Code:    ErrCodeDuplicateArea,
			Message: fmt.Sprintf("area %q already registered", exec.Area()),
		}
	}
	r.areas[exec.Area()] = exec
	return nil
}

// Area returns the executor for name.
func (r *Registry) Area(name string) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.areas[name]
	return exec, ok
}

// Names returns the registered area names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.areas))
	for name := range r.areas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SweepAll sweeps every area and returns the number of removed records per area.
func (r *Registry) SweepAll() map[string]int {
	out := make(map[string]int)
	for _, name := range r.Names() {
		exec, _ := r.Area(name)
		out[name] = len(exec.Sweep())
	}
	return out
}

// Run runs every executor's settlement loop until ctx is cancelled or all
// executors are closed.
func (r *Registry) Run(ctx context.Context) error {
	names := r.Names()
	errs := make(chan error, len(names))
	for _, name := range names {
		exec, _ := r.Area(name)
		go func() {
			errs <- exec.Run(ctx)
		}()
	}

	var all []error
	for range names {
		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

// Close closes every executor.
func (r *Registry) Close(ctx context.Context) error {
	var all []error
	for _, name := range r.Names() {
		exec, _ := r.Area(name)
		if err := exec.Close(ctx); err != nil {
			all = append(all, fmt.Errorf("close area %s: %w", name, err))
		}
	}
	return errors.Join(all...)
}
