package service

import (
	"context"
	"slices"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

var sides = []models.Side{models.SideLeft, models.SideRight}

// NewRelationship describes a relationship to create. A place of
// models.AppendPlace appends after the existing siblings.
type NewRelationship struct {
	TypeID     id.RelationshipTypeID
	Left       id.ItemID
	Right      id.ItemID
	LeftPlace  int
	RightPlace int
}

// CreateRelationship links two items. Both endpoints must match the entity
// types of the relationship type and the new edge must not push either anchor
// group past its maximum cardinality.
func (g *Graph) CreateRelationship(ctx context.Context, j *Journal, req NewRelationship) (*models.Relationship, error) {
	rt, err := g.FindRelationshipType(ctx, req.TypeID)
	if err != nil {
		return nil, err
	}
	rel := &models.Relationship{
		ID:        id.NewRelationshipID(),
		TypeID:    rt.ID,
		LeftItem:  req.Left,
		RightItem: req.Right,
	}
	for _, side := range sides {
		if err := g.checkEndpoint(ctx, rt, rel.Anchor(side), side); err != nil {
			return nil, err
		}
		if err := g.checkUpperBound(ctx, rt, rel.Anchor(side), side); err != nil {
			return nil, err
		}
	}
	if err := g.insert(ctx, rel, req.LeftPlace, req.RightPlace); err != nil {
		return nil, err
	}
	relID := rel.ID
	j.record("create relationship", func(ctx context.Context) error {
		_, err := g.detach(ctx, relID)
		return err
	})
	j.mutated(models.ChangeCreated, rel)
	return rel.Clone(), nil
}

// UpdatePlaces moves a relationship within its anchor groups. A nil place
// leaves that side untouched. Siblings are renumbered densely.
func (g *Graph) UpdatePlaces(ctx context.Context, j *Journal, relID id.RelationshipID, leftPlace, rightPlace *int) (*models.Relationship, error) {
	orig, err := g.FindRelationship(ctx, relID)
	if err != nil {
		return nil, err
	}
	requested := map[models.Side]*int{models.SideLeft: leftPlace, models.SideRight: rightPlace}
	for _, side := range sides {
		if requested[side] == nil {
			continue
		}
		if err := g.move(ctx, relID, side, *requested[side]); err != nil {
			return nil, err
		}
	}
	updated, err := g.FindRelationship(ctx, relID)
	if err != nil {
		return nil, err
	}
	j.record("update relationship places", func(ctx context.Context) error {
		for _, side := range sides {
			if err := g.move(ctx, orig.ID, side, orig.Place(side)); err != nil {
				return err
			}
		}
		return nil
	})
	j.mutated(models.ChangePositionUpdated, updated)
	return updated, nil
}

// DeleteRelationship removes a relationship unless that would leave either
// anchor group below its minimum cardinality.
func (g *Graph) DeleteRelationship(ctx context.Context, j *Journal, relID id.RelationshipID) error {
	rel, err := g.FindRelationship(ctx, relID)
	if err != nil {
		return err
	}
	rt, err := g.FindRelationshipType(ctx, rel.TypeID)
	if err != nil {
		return err
	}
	for _, side := range sides {
		if err := g.checkLowerBound(ctx, rt, rel.Anchor(side), side); err != nil {
			return err
		}
	}
	return g.removeJournaled(ctx, j, rel)
}

// Reclassify moves a relationship to another compatible type, appending it
// to the anchor groups of the new type.
func (g *Graph) Reclassify(ctx context.Context, j *Journal, relID id.RelationshipID, typeID id.RelationshipTypeID) (*models.Relationship, error) {
	rel, err := g.FindRelationship(ctx, relID)
	if err != nil {
		return nil, err
	}
	if rel.TypeID == typeID {
		return rel, nil
	}
	oldType, err := g.FindRelationshipType(ctx, rel.TypeID)
	if err != nil {
		return nil, err
	}
	newType, err := g.FindRelationshipType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	for _, side := range sides {
		if err := g.checkEndpoint(ctx, newType, rel.Anchor(side), side); err != nil {
			return nil, err
		}
		if err := g.checkLowerBound(ctx, oldType, rel.Anchor(side), side); err != nil {
			return nil, err
		}
		if err := g.checkUpperBound(ctx, newType, rel.Anchor(side), side); err != nil {
			return nil, err
		}
	}

	removed, err := g.detach(ctx, relID)
	if err != nil {
		return nil, err
	}
	moved := removed.Clone()
	moved.TypeID = newType.ID
	if err := g.insert(ctx, moved, models.AppendPlace, models.AppendPlace); err != nil {
		return nil, err
	}
	j.record("reclassify relationship", func(ctx context.Context) error {
		if _, err := g.detach(ctx, relID); err != nil {
			return err
		}
		return g.insert(ctx, removed.Clone(), removed.LeftPlace, removed.RightPlace)
	})
	j.mutated(models.ChangeDeleted, removed)
	j.mutated(models.ChangeCreated, moved)
	return moved.Clone(), nil
}

func (g *Graph) FindRelationship(ctx context.Context, relID id.RelationshipID) (*models.Relationship, error) {
	rel, err := g.store.FindRelationship(ctx, relID)
	if err != nil {
		return nil, translateLoad(err, "relationship")
	}
	return rel, nil
}

// FindRelationships returns every relationship touching item.
func (g *Graph) FindRelationships(ctx context.Context, itemID id.ItemID) ([]*models.Relationship, error) {
	rels, err := g.store.FindRelationshipsByItem(ctx, itemID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load relationships")
	}
	return rels, nil
}

// FindAnchored returns the ordered group of typeID relationships anchored on
// side of item.
func (g *Graph) FindAnchored(ctx context.Context, itemID id.ItemID, typeID id.RelationshipTypeID, side models.Side) ([]*models.Relationship, error) {
	rels, err := g.store.FindRelationshipsByAnchor(ctx, itemID, typeID, side)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load relationships")
	}
	return rels, nil
}

func (g *Graph) removeJournaled(ctx context.Context, j *Journal, rel *models.Relationship) error {
	removed, err := g.detach(ctx, rel.ID)
	if err != nil {
		return err
	}
	j.record("delete relationship", func(ctx context.Context) error {
		restored := removed.Clone()
		return g.insert(ctx, restored, restored.LeftPlace, restored.RightPlace)
	})
	j.mutated(models.ChangeDeleted, removed)
	return nil
}

func (g *Graph) checkEndpoint(ctx context.Context, rt *models.RelationshipType, itemID id.ItemID, side models.Side) error {
	item, err := g.FindItem(ctx, itemID)
	if err != nil {
		return err
	}
	if want := rt.EntityTypeFor(side); item.EntityType != want {
		return dErrors.Newf(dErrors.CodeValidation,
			"item %s is a %s but %s requires a %s on the %s side",
			itemID, item.EntityType, rt.LeftwardType, want, side)
	}
	return nil
}

func (g *Graph) checkUpperBound(ctx context.Context, rt *models.RelationshipType, itemID id.ItemID, side models.Side) error {
	group, err := g.FindAnchored(ctx, itemID, rt.ID, side)
	if err != nil {
		return err
	}
	if bounds := rt.Bounds(side); !bounds.Allows(len(group) + 1) {
		return dErrors.Newf(dErrors.CodeCardinalityViolation,
			"%s allows at most %d on the %s side of item %s", rt.LeftwardType, bounds.Max, side, itemID)
	}
	return nil
}

func (g *Graph) checkLowerBound(ctx context.Context, rt *models.RelationshipType, itemID id.ItemID, side models.Side) error {
	group, err := g.FindAnchored(ctx, itemID, rt.ID, side)
	if err != nil {
		return err
	}
	if bounds := rt.Bounds(side); !bounds.Satisfies(len(group) - 1) {
		return dErrors.Newf(dErrors.CodeCardinalityViolation,
			"%s requires at least %d on the %s side of item %s", rt.LeftwardType, bounds.Min, side, itemID)
	}
	return nil
}

// insert places rel in both anchor groups at the requested places (clamped,
// AppendPlace appends), renumbers siblings densely and persists every change.
func (g *Graph) insert(ctx context.Context, rel *models.Relationship, leftPlace, rightPlace int) error {
	requested := map[models.Side]int{models.SideLeft: leftPlace, models.SideRight: rightPlace}
	cs := newChangeset()
	cs.put(rel)
	for _, side := range sides {
		group, err := g.FindAnchored(ctx, rel.Anchor(side), rel.TypeID, side)
		if err != nil {
			return err
		}
		group = cs.overlay(group)
		group = slices.DeleteFunc(group, func(r *models.Relationship) bool { return r.ID == rel.ID })
		place := requested[side]
		if place < 0 || place > len(group) {
			place = len(group)
		}
		group = slices.Insert(group, place, rel)
		cs.renumber(group, side)
		rel.SetPlace(side, place)
	}
	return cs.save(ctx, g.store)
}

// detach deletes a relationship and closes the gaps it leaves.
func (g *Graph) detach(ctx context.Context, relID id.RelationshipID) (*models.Relationship, error) {
	rel, err := g.FindRelationship(ctx, relID)
	if err != nil {
		return nil, err
	}
	if err := g.store.DeleteRelationship(ctx, relID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete relationship")
	}
	cs := newChangeset()
	for _, side := range sides {
		group, err := g.FindAnchored(ctx, rel.Anchor(side), rel.TypeID, side)
		if err != nil {
			return nil, err
		}
		cs.renumber(cs.overlay(group), side)
	}
	if err := cs.save(ctx, g.store); err != nil {
		return nil, err
	}
	return rel, nil
}

// move repositions a relationship within the group anchored on side.
func (g *Graph) move(ctx context.Context, relID id.RelationshipID, side models.Side, place int) error {
	rel, err := g.FindRelationship(ctx, relID)
	if err != nil {
		return err
	}
	group, err := g.FindAnchored(ctx, rel.Anchor(side), rel.TypeID, side)
	if err != nil {
		return err
	}
	group = slices.DeleteFunc(group, func(r *models.Relationship) bool { return r.ID == relID })
	if place < 0 || place > len(group) {
		place = len(group)
	}
	group = slices.Insert(group, place, rel)
	cs := newChangeset()
	cs.renumber(group, side)
	return cs.save(ctx, g.store)
}

// changeset collects relationships whose places changed during one step so
// each is saved once with all of its updates.
type changeset struct {
	byID  map[id.RelationshipID]*models.Relationship
	order []*models.Relationship
}

func newChangeset() *changeset {
	return &changeset{byID: make(map[id.RelationshipID]*models.Relationship)}
}

func (c *changeset) put(rel *models.Relationship) {
	if _, ok := c.byID[rel.ID]; ok {
		return
	}
	c.byID[rel.ID] = rel
	c.order = append(c.order, rel)
}

// overlay swaps stored copies for pending ones so a relationship present in
// both anchor groups keeps both of its updates.
func (c *changeset) overlay(group []*models.Relationship) []*models.Relationship {
	for i, rel := range group {
		if pending, ok := c.byID[rel.ID]; ok {
			group[i] = pending
		}
	}
	return group
}

func (c *changeset) renumber(group []*models.Relationship, side models.Side) {
	for i, rel := range group {
		if rel.Place(side) != i {
			rel.SetPlace(side, i)
			c.put(rel)
		}
	}
}

func (c *changeset) save(ctx context.Context, store Store) error {
	for _, rel := range c.order {
		if err := store.SaveRelationship(ctx, rel); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save relationship")
		}
	}
	return nil
}
