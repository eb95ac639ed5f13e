package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
	"concytec/pkg/platform/sentinel"
)

// anchorKey addresses the group of same-typed relationships anchored on one
// side of one item.
type anchorKey struct {
	item   id.ItemID
	typeID id.RelationshipTypeID
	side   models.Side
}

// InMemory is a thread-safe graph store for tests and single-node deployments.
// Relationships are indexed by (item, type, side) so anchor-group lookups never
// scan the full edge set.
type InMemory struct {
	mu            sync.RWMutex
	entityTypes   map[string]*models.EntityType
	relTypes      map[id.RelationshipTypeID]*models.RelationshipType
	items         map[id.ItemID]*models.Item
	relationships map[id.RelationshipID]*models.Relationship
	adjacency     map[anchorKey]map[id.RelationshipID]struct{}
	byItem        map[id.ItemID]map[id.RelationshipID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		entityTypes:   make(map[string]*models.EntityType),
		relTypes:      make(map[id.RelationshipTypeID]*models.RelationshipType),
		items:         make(map[id.ItemID]*models.Item),
		relationships: make(map[id.RelationshipID]*models.Relationship),
		adjacency:     make(map[anchorKey]map[id.RelationshipID]struct{}),
		byItem:        make(map[id.ItemID]map[id.RelationshipID]struct{}),
	}
}

func (s *InMemory) CreateEntityType(_ context.Context, et *models.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entityTypes[et.Label]; exists {
		return fmt.Errorf("entity type %q: %w", et.Label, sentinel.ErrConflict)
	}
	cp := *et
	s.entityTypes[et.Label] = &cp
	return nil
}

func (s *InMemory) FindEntityTypeByLabel(_ context.Context, label string) (*models.EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	et, ok := s.entityTypes[label]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *et
	return &cp, nil
}

func (s *InMemory) ListEntityTypes(_ context.Context) ([]*models.EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.EntityType, 0, len(s.entityTypes))
	for _, et := range s.entityTypes {
		cp := *et
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.EntityType) int { return cmp.Compare(a.Label, b.Label) })
	return out, nil
}

func (s *InMemory) CreateRelationshipType(_ context.Context, rt *models.RelationshipType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, label := range []string{rt.LeftType, rt.RightType} {
		if _, ok := s.entityTypes[label]; !ok {
			return fmt.Errorf("entity type %q: %w", label, sentinel.ErrNotFound)
		}
	}
	for _, existing := range s.relTypes {
		if existing.LeftType == rt.LeftType && existing.RightType == rt.RightType &&
			existing.LeftwardType == rt.LeftwardType && existing.RightwardType == rt.RightwardType {
			return fmt.Errorf("relationship type %s/%s: %w", rt.LeftwardType, rt.RightwardType, sentinel.ErrConflict)
		}
	}
	cp := *rt
	s.relTypes[rt.ID] = &cp
	return nil
}

func (s *InMemory) FindRelationshipType(_ context.Context, typeID id.RelationshipTypeID) (*models.RelationshipType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.relTypes[typeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rt
	return &cp, nil
}

func (s *InMemory) ListRelationshipTypes(_ context.Context) ([]*models.RelationshipType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RelationshipType, 0, len(s.relTypes))
	for _, rt := range s.relTypes {
		cp := *rt
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.RelationshipType) int {
		return cmp.Or(
			cmp.Compare(a.LeftwardType, b.LeftwardType),
			cmp.Compare(a.LeftType, b.LeftType),
			cmp.Compare(a.RightType, b.RightType),
		)
	})
	return out, nil
}

// SaveItem inserts or replaces an item.
func (s *InMemory) SaveItem(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *InMemory) FindItem(_ context.Context, itemID id.ItemID) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return item.Clone(), nil
}

// FindItemsByAuthority returns items holding a value of field with the given authority.
func (s *InMemory) FindItemsByAuthority(_ context.Context, field, authority string) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Item
	for _, item := range s.items {
		for _, mv := range item.Metadata {
			if mv.Field() == field && mv.Authority == authority {
				out = append(out, item.Clone())
				break
			}
		}
	}
	slices.SortFunc(out, func(a, b *models.Item) int { return cmp.Compare(a.ID.String(), b.ID.String()) })
	return out, nil
}

// DeleteItem removes an item. Relationships must be removed first.
func (s *InMemory) DeleteItem(_ context.Context, itemID id.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return sentinel.ErrNotFound
	}
	if len(s.byItem[itemID]) > 0 {
		return fmt.Errorf("item %s still has relationships: %w", itemID, sentinel.ErrConflict)
	}
	delete(s.items, itemID)
	delete(s.byItem, itemID)
	return nil
}

// SaveRelationship inserts or replaces a relationship, keeping the adjacency
// indexes in step.
func (s *InMemory) SaveRelationship(_ context.Context, rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relTypes[rel.TypeID]; !ok {
		return fmt.Errorf("relationship type %s: %w", rel.TypeID, sentinel.ErrNotFound)
	}
	for _, itemID := range []id.ItemID{rel.LeftItem, rel.RightItem} {
		if _, ok := s.items[itemID]; !ok {
			return fmt.Errorf("item %s: %w", itemID, sentinel.ErrNotFound)
		}
	}
	if existing, ok := s.relationships[rel.ID]; ok {
		s.unindex(existing)
	}
	cp := rel.Clone()
	s.relationships[rel.ID] = cp
	s.index(cp)
	return nil
}

func (s *InMemory) FindRelationship(_ context.Context, relID id.RelationshipID) (*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relationships[relID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rel.Clone(), nil
}

// FindRelationshipsByItem returns every relationship touching the item on either side.
func (s *InMemory) FindRelationshipsByItem(_ context.Context, itemID id.ItemID) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Relationship, 0, len(s.byItem[itemID]))
	for relID := range s.byItem[itemID] {
		out = append(out, s.relationships[relID].Clone())
	}
	slices.SortFunc(out, func(a, b *models.Relationship) int {
		return cmp.Or(
			cmp.Compare(a.TypeID.String(), b.TypeID.String()),
			cmp.Compare(a.LeftPlace, b.LeftPlace),
			cmp.Compare(a.RightPlace, b.RightPlace),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return out, nil
}

// FindRelationshipsByAnchor returns the group anchored on side of item for
// typeID, ordered by place on that side.
func (s *InMemory) FindRelationshipsByAnchor(_ context.Context, itemID id.ItemID, typeID id.RelationshipTypeID, side models.Side) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group := s.adjacency[anchorKey{item: itemID, typeID: typeID, side: side}]
	out := make([]*models.Relationship, 0, len(group))
	for relID := range group {
		out = append(out, s.relationships[relID].Clone())
	}
	slices.SortFunc(out, func(a, b *models.Relationship) int {
		return cmp.Or(
			cmp.Compare(a.Place(side), b.Place(side)),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return out, nil
}

func (s *InMemory) DeleteRelationship(_ context.Context, relID id.RelationshipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.relationships[relID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.unindex(rel)
	delete(s.relationships, relID)
	return nil
}

func (s *InMemory) index(rel *models.Relationship) {
	for _, side := range []models.Side{models.SideLeft, models.SideRight} {
		key := anchorKey{item: rel.Anchor(side), typeID: rel.TypeID, side: side}
		if s.adjacency[key] == nil {
			s.adjacency[key] = make(map[id.RelationshipID]struct{})
		}
		s.adjacency[key][rel.ID] = struct{}{}
		if s.byItem[rel.Anchor(side)] == nil {
			s.byItem[rel.Anchor(side)] = make(map[id.RelationshipID]struct{})
		}
		s.byItem[rel.Anchor(side)][rel.ID] = struct{}{}
	}
}

func (s *InMemory) unindex(rel *models.Relationship) {
	for _, side := range []models.Side{models.SideLeft, models.SideRight} {
		key := anchorKey{item: rel.Anchor(side), typeID: rel.TypeID, side: side}
		delete(s.adjacency[key], rel.ID)
		if len(s.adjacency[key]) == 0 {
			delete(s.adjacency, key)
		}
		delete(s.byItem[rel.Anchor(side)], rel.ID)
	}
}
