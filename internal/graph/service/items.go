package service

import (
	"context"
	"errors"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	"concytec/pkg/platform/sentinel"
	"concytec/pkg/requestcontext"
)

// CreateItem stores a new item. The entity type must be registered.
func (g *Graph) CreateItem(ctx context.Context, j *Journal, item *models.Item) error {
	if item.ID.IsNil() {
		item.ID = id.NewItemID()
	}
	if _, err := g.store.FindEntityTypeByLabel(ctx, item.EntityType); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeValidation, "unknown entity type %q", item.EntityType)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity type")
	}
	if item.FirstValue(models.FieldEntityType) == "" {
		item.SetValue(models.FieldEntityType, item.EntityType)
	}
	if item.LastModified.IsZero() {
		item.LastModified = requestcontext.Now(ctx)
	}
	if err := g.store.SaveItem(ctx, item); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create item")
	}
	itemID := item.ID
	j.record("create item", func(ctx context.Context) error {
		return g.store.DeleteItem(ctx, itemID)
	})
	return nil
}

// UpdateItem replaces an existing item. The entity type is immutable.
func (g *Graph) UpdateItem(ctx context.Context, j *Journal, item *models.Item) error {
	prev, err := g.store.FindItem(ctx, item.ID)
	if err != nil {
		return translateLoad(err, "item")
	}
	if prev.EntityType != item.EntityType {
		return dErrors.New(dErrors.CodeValidation, "item entity type cannot change")
	}
	item.LastModified = requestcontext.Now(ctx)
	if err := g.store.SaveItem(ctx, item); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update item")
	}
	j.record("update item", func(ctx context.Context) error {
		return g.store.SaveItem(ctx, prev)
	})
	return nil
}

// DeleteItem purges an item and cascade-deletes every relationship touching
// it. Cascaded relationships bypass the minimum cardinality check.
func (g *Graph) DeleteItem(ctx context.Context, j *Journal, itemID id.ItemID) error {
	prev, err := g.store.FindItem(ctx, itemID)
	if err != nil {
		return translateLoad(err, "item")
	}
	rels, err := g.store.FindRelationshipsByItem(ctx, itemID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load item relationships")
	}
	for _, rel := range rels {
		if err := g.removeJournaled(ctx, j, rel); err != nil {
			return err
		}
	}
	if err := g.store.DeleteItem(ctx, itemID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete item")
	}
	j.record("delete item", func(ctx context.Context) error {
		return g.store.SaveItem(ctx, prev)
	})
	j.deleted = append(j.deleted, itemID)
	return nil
}

// FindItem loads one item.
func (g *Graph) FindItem(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	item, err := g.store.FindItem(ctx, itemID)
	if err != nil {
		return nil, translateLoad(err, "item")
	}
	return item, nil
}

// FindItemsByAuthority returns the items carrying authority in field.
func (g *Graph) FindItemsByAuthority(ctx context.Context, field, authority string) ([]*models.Item, error) {
	items, err := g.store.FindItemsByAuthority(ctx, field, authority)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search items")
	}
	return items, nil
}

// CreateEntityType registers a new entity type label.
func (g *Graph) CreateEntityType(ctx context.Context, label string) (*models.EntityType, error) {
	if label == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity type label is required")
	}
	et := &models.EntityType{ID: id.NewEntityTypeID(), Label: label}
	if err := g.store.CreateEntityType(ctx, et); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "entity type %q already exists", label)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create entity type")
	}
	return et, nil
}

func (g *Graph) ListEntityTypes(ctx context.Context) ([]*models.EntityType, error) {
	ets, err := g.store.ListEntityTypes(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entity types")
	}
	return ets, nil
}

// CreateRelationshipType registers a relationship type between two known
// entity types.
func (g *Graph) CreateRelationshipType(ctx context.Context, rt *models.RelationshipType) error {
	if err := rt.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid relationship type")
	}
	if rt.ID.IsNil() {
		rt.ID = id.NewRelationshipTypeID()
	}
	if err := g.store.CreateRelationshipType(ctx, rt); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return dErrors.Newf(dErrors.CodeConflict, "relationship type %s/%s already exists", rt.LeftwardType, rt.RightwardType)
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Newf(dErrors.CodeValidation, "relationship type %s references unknown entity types", rt.LeftwardType)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create relationship type")
	}
	return nil
}

func (g *Graph) FindRelationshipType(ctx context.Context, typeID id.RelationshipTypeID) (*models.RelationshipType, error) {
	rt, err := g.store.FindRelationshipType(ctx, typeID)
	if err != nil {
		return nil, translateLoad(err, "relationship type")
	}
	return rt, nil
}

func (g *Graph) ListRelationshipTypes(ctx context.Context) ([]*models.RelationshipType, error) {
	rts, err := g.store.ListRelationshipTypes(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list relationship types")
	}
	return rts, nil
}
