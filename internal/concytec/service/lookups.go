package service

import (
	"context"

	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// Registry resolves relationship kinds to registered types.
type Registry interface {
	Lookup(kind registry.Kind, leftType, rightType string) (*models.RelationshipType, error)
	FindByLeft(kind registry.Kind, leftType string) []*models.RelationshipType
	FindByRight(kind registry.Kind, rightType string) []*models.RelationshipType
}

// related returns every kind relationship anchored on side of item, in place
// order per type.
func (s *Service) related(ctx context.Context, item *models.Item, kind registry.Kind, side models.Side) ([]*models.Relationship, error) {
	var types []*models.RelationshipType
	if side == models.SideLeft {
		types = s.registry.FindByLeft(kind, item.EntityType)
	} else {
		types = s.registry.FindByRight(kind, item.EntityType)
	}
	var out []*models.Relationship
	for _, rt := range types {
		rels, err := s.graph.FindAnchored(ctx, item.ID, rt.ID, side)
		if err != nil {
			return nil, err
		}
		out = append(out, rels...)
	}
	return out, nil
}

// single loads the only far-side item of a kind, nil when there is none.
func (s *Service) single(ctx context.Context, item *models.Item, kind registry.Kind, side models.Side) (*models.Item, error) {
	rels, err := s.related(ctx, item, kind, side)
	if err != nil {
		return nil, err
	}
	switch len(rels) {
	case 0:
		return nil, nil
	case 1:
		return s.graph.FindItem(ctx, rels[0].Other(side))
	default:
		names := registry.NamesOf(kind)
		return nil, dErrors.Newf(dErrors.CodeInconsistentGraph,
			"item %s has %d %s relationships", item.ID, len(rels), names.Leftward)
	}
}

func (s *Service) many(ctx context.Context, item *models.Item, kind registry.Kind, side models.Side) ([]*models.Item, error) {
	rels, err := s.related(ctx, item, kind, side)
	if err != nil {
		return nil, err
	}
	items := make([]*models.Item, 0, len(rels))
	for _, rel := range rels {
		other, err := s.graph.FindItem(ctx, rel.Other(side))
		if err != nil {
			return nil, err
		}
		items = append(items, other)
	}
	return items, nil
}

func (s *Service) load(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	item, err := s.graph.FindItem(ctx, itemID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.Newf(dErrors.CodeUnresolvedReference, "item %s does not exist", itemID)
		}
		return nil, err
	}
	return item, nil
}

// FindClone returns the workflow clone of a CTI-Vitae item, or nil.
func (s *Service) FindClone(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	item, err := s.load(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.single(ctx, item, registry.Clone, models.SideRight)
}

// FindClonedItem returns the CTI-Vitae item a clone was made from, or nil.
func (s *Service) FindClonedItem(ctx context.Context, cloneID id.ItemID) (*models.Item, error) {
	clone, err := s.load(ctx, cloneID)
	if err != nil {
		return nil, err
	}
	return s.single(ctx, clone, registry.Clone, models.SideLeft)
}

// FindShadowCopy returns the shadow copy of a source item, or nil.
func (s *Service) FindShadowCopy(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	item, err := s.load(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.single(ctx, item, registry.ShadowCopy, models.SideLeft)
}

// FindCopiedItem returns the institution item a Directorio shadow copy was
// made from, or nil. Clones shadowing the same item are not sources.
func (s *Service) FindCopiedItem(ctx context.Context, copyID id.ItemID) (*models.Item, error) {
	cp, err := s.load(ctx, copyID)
	if err != nil {
		return nil, err
	}
	return s.InstitutionSource(ctx, cp)
}

// FindMergedInItems returns the withdrawn items merged into itemID.
func (s *Service) FindMergedInItems(ctx context.Context, itemID id.ItemID) ([]*models.Item, error) {
	item, err := s.load(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.many(ctx, item, registry.Merged, models.SideRight)
}

// FindDirectorioRelated follows a CTI-Vitae item to its Directorio
// counterpart: item, its clone, then the clone's shadow copy.
func (s *Service) FindDirectorioRelated(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	clone, err := s.FindClone(ctx, itemID)
	if err != nil || clone == nil {
		return nil, err
	}
	return s.single(ctx, clone, registry.ShadowCopy, models.SideLeft)
}

// FindCtiVitaeRelated follows a Directorio item, and every item merged into
// it, back to the CTI-Vitae items whose clones shadow them.
func (s *Service) FindCtiVitaeRelated(ctx context.Context, itemID id.ItemID) ([]*models.Item, error) {
	item, err := s.load(ctx, itemID)
	if err != nil {
		return nil, err
	}
	merged, err := s.many(ctx, item, registry.Merged, models.SideRight)
	if err != nil {
		return nil, err
	}
	var out []*models.Item
	seen := make(map[id.ItemID]bool)
	for _, candidate := range append([]*models.Item{item}, merged...) {
		sources, err := s.many(ctx, candidate, registry.ShadowCopy, models.SideRight)
		if err != nil {
			return nil, err
		}
		for _, source := range sources {
			cloned, err := s.single(ctx, source, registry.Clone, models.SideLeft)
			if err != nil {
				return nil, err
			}
			if cloned != nil && !seen[cloned.ID] {
				seen[cloned.ID] = true
				out = append(out, cloned)
			}
		}
	}
	return out, nil
}

// FindOwningProfile returns the CvPerson profile item owning a person item,
// or nil. More than one owner is an inconsistent graph.
func (s *Service) FindOwningProfile(ctx context.Context, personID id.ItemID) (*models.Item, error) {
	person, err := s.load(ctx, personID)
	if err != nil {
		return nil, err
	}
	return s.single(ctx, person, registry.PersonOwner, models.SideRight)
}
