package memory

import (
	"context"
	"sync"

	id "concytec/pkg/domain"
	audit "concytec/pkg/platform/audit"
)

// InMemoryStore keeps graph events per researcher. Events without an
// EPerson are kept under the nil key so ListAll still sees them.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.EPersonID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.EPersonID][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.EPersonID] = append(s.events[event.EPersonID], event)
	return nil
}

func (s *InMemoryStore) ListByEPerson(_ context.Context, ePersonID id.EPersonID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[ePersonID]...), nil
}

// ListAll returns every recorded event regardless of researcher.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	return all, nil
}

// ListByAction filters all events by action name.
func (s *InMemoryStore) ListByAction(_ context.Context, action audit.AuditEvent) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.Event
	for _, events := range s.events {
		for _, e := range events {
			if e.Action == string(action) {
				matched = append(matched, e)
			}
		}
	}
	return matched, nil
}
