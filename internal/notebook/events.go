package notebook

import (
	"context"
	"sync"

	"github.com/starford/nbkeep/internal/models"
)

// SavedAsEvent is emitted after a notebook was saved under a new identity.
type SavedAsEvent struct {
	Old models.URI `json:"old"`
	New models.URI `json:"new"`
}

// Observer receives persistence notifications.
type Observer interface {
	NotebookSavedAs(ctx context.Context, ev SavedAsEvent)
}

type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
}

func (o *observers) add(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = obs
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

func (o *observers) savedAs(ctx context.Context, ev SavedAsEvent) {
	o.mu.RLock()
	subs := make([]Observer, 0, len(o.subs))
	for _, obs := range o.subs {
		subs = append(subs, obs)
	}
	o.mu.RUnlock()

	for _, obs := range subs {
		obs.NotebookSavedAs(ctx, ev)
	}
}
