package storage

import (
	"context"
	"slices"
	"sync"

	"launchq/internal/models"
)

// ViewStates are the queue views observers cache and re-read on invalidation.
var ViewStates = []models.State{
	models.StatePending,
	models.StateErrored,
	models.StateCompleted,
	models.StatePostponed,
}

type Lister interface {
	ListItems(ctx context.Context, state models.State) ([]models.QueueItem, error)
}

type InvalidateFunc func(state models.State)

// Views caches per-state item lists. A list is re-read from the store on the
// first Get after it has been invalidated.
type Views struct {
	mu       sync.Mutex
	store    Lister
	lists    map[models.State][]models.QueueItem
	onChange InvalidateFunc
}

func NewViews(store Lister, onChange InvalidateFunc) *Views {
	return &Views{
		store:    store,
		lists:    make(map[models.State][]models.QueueItem),
		onChange: onChange,
	}
}

func (v *Views) Get(ctx context.Context, state models.State) ([]models.QueueItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if items, ok := v.lists[state]; ok {
		return slices.Clone(items), nil
	}
	items, err := v.store.ListItems(ctx, state)
	if err != nil {
		return nil, err
	}
	v.lists[state] = items
	return slices.Clone(items), nil
}

// Invalidate drops the cached lists for states, or every view when none are given.
func (v *Views) Invalidate(states ...models.State) {
	if len(states) == 0 {
		states = ViewStates
	}

	v.mu.Lock()
	for _, st := range states {
		delete(v.lists, st)
	}
	v.mu.Unlock()

	if v.onChange != nil {
		for _, st := range states {
			v.onChange(st)
		}
	}
}
