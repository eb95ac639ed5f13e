package index

import (
	"context"
	"maps"
	"slices"
	"sync"

	id "concytec/pkg/domain"
)

// InMemory is an Indexer that keeps the latest document per item.
type InMemory struct {
	mu   sync.RWMutex
	docs map[id.ItemID]map[string][]string
}

func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[id.ItemID]map[string][]string)}
}

// Reindex merges fields into the item document. A field pushed with no
// values is removed.
func (x *InMemory) Reindex(_ context.Context, itemID id.ItemID, fields map[string][]string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	doc := x.docs[itemID]
	if doc == nil {
		doc = make(map[string][]string)
		x.docs[itemID] = doc
	}
	for field, values := range fields {
		if len(values) == 0 {
			delete(doc, field)
			continue
		}
		doc[field] = slices.Clone(values)
	}
	return nil
}

// Field returns the indexed values of field for item.
func (x *InMemory) Field(_ context.Context, itemID id.ItemID, field string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.docs[itemID][field]), nil
}

// Document returns a copy of the item's indexed fields.
func (x *InMemory) Document(itemID id.ItemID) map[string][]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string][]string, len(x.docs[itemID]))
	for k, v := range maps.All(x.docs[itemID]) {
		out[k] = slices.Clone(v)
	}
	return out
}

// Purge drops the item document.
func (x *InMemory) Purge(_ context.Context, itemID id.ItemID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.docs, itemID)
	return nil
}
