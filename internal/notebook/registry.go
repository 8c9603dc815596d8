package notebook

import (
	"context"
	"sync"

	"github.com/starford/nbkeep/internal/models"
)

// Registry tracks the notebooks currently open in editor sessions. It follows
// save-as renames when subscribed to a Service.
type Registry struct {
	mu   sync.RWMutex
	open map[models.URI]*models.Notebook
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[models.URI]*models.Notebook)}
}

// Put records nb as open, replacing any previous model for its identity.
func (r *Registry) Put(nb *models.Notebook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[nb.URI()] = nb
}

// Get returns the open model for uri.
func (r *Registry) Get(uri models.URI) (*models.Notebook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nb, ok := r.open[uri]
	return nb, ok
}

// Close forgets the model for uri.
func (r *Registry) Close(uri models.URI) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[uri]
	delete(r.open, uri)
	return ok
}

// Len returns the number of open notebooks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

// NotebookSavedAs moves the session to the new identity.
func (r *Registry) NotebookSavedAs(_ context.Context, ev SavedAsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nb, ok := r.open[ev.Old]
	if !ok {
		return
	}
	delete(r.open, ev.Old)
	r.open[ev.New] = nb
}

var _ Observer = (*Registry)(nil)
