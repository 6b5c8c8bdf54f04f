package processor

import (
	"context"
	"fmt"
	"sync"

	"taskforge/pkg/models"
)

// HandlerFunc executes a job of a registered type. The returned document
// is persisted as the job result on success.
type HandlerFunc func(ctx context.Context, job *models.Job) (models.JSONDoc, error)

// Registry maps job types to their handlers. Registration normally happens
// during worker startup, but the registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a job type. Registering the same type twice
// replaces the previous handler.
func (r *Registry) Register(jobType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
}

// Resolve returns the handler for a job type, or an error when none exists.
func (r *Registry) Resolve(jobType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", jobType)
	}
	return handler, nil
}

// Types lists the registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
