package service

import (
	"context"

	"concytec/internal/concytec/lock"
	"concytec/internal/graph/models"
	graphsvc "concytec/internal/graph/service"
	id "concytec/pkg/domain"
)

// The operations below mutate ordered relationship groups and therefore hold
// the locks of both endpoints for the duration of the unit of work.

// CreateRelationship links two items at the requested places.
func (s *Service) CreateRelationship(ctx context.Context, req graphsvc.NewRelationship) (*models.Relationship, error) {
	var rel *models.Relationship
	err := s.withLock(ctx, []string{lock.ItemKey(req.Left), lock.ItemKey(req.Right)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "create_relationship", func(ctx context.Context, j *graphsvc.Journal) error {
			var err error
			rel, err = s.graph.CreateRelationship(ctx, j, req)
			return err
		})
	})
	return rel, err
}

// UpdateRelationshipPlaces moves a relationship within its anchor groups.
// A nil place leaves that side untouched.
func (s *Service) UpdateRelationshipPlaces(ctx context.Context, relID id.RelationshipID, leftPlace, rightPlace *int) (*models.Relationship, error) {
	var rel *models.Relationship
	err := s.withRelationshipLock(ctx, relID, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "update_places", func(ctx context.Context, j *graphsvc.Journal) error {
			var err error
			rel, err = s.graph.UpdatePlaces(ctx, j, relID, leftPlace, rightPlace)
			return err
		})
	})
	return rel, err
}

// DeleteRelationship removes a relationship and renumbers its siblings.
func (s *Service) DeleteRelationship(ctx context.Context, relID id.RelationshipID) error {
	return s.withRelationshipLock(ctx, relID, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "delete_relationship", func(ctx context.Context, j *graphsvc.Journal) error {
			return s.graph.DeleteRelationship(ctx, j, relID)
		})
	})
}

// Reclassify moves a relationship to another compatible type.
func (s *Service) Reclassify(ctx context.Context, relID id.RelationshipID, typeID id.RelationshipTypeID) (*models.Relationship, error) {
	var rel *models.Relationship
	err := s.withRelationshipLock(ctx, relID, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "reclassify_relationship", func(ctx context.Context, j *graphsvc.Journal) error {
			var err error
			rel, err = s.graph.Reclassify(ctx, j, relID, typeID)
			return err
		})
	})
	return rel, err
}

func (s *Service) withRelationshipLock(ctx context.Context, relID id.RelationshipID, fn func(ctx context.Context) error) error {
	rel, err := s.graph.FindRelationship(ctx, relID)
	if err != nil {
		return err
	}
	return s.withLock(ctx, []string{lock.ItemKey(rel.LeftItem), lock.ItemKey(rel.RightItem)}, fn)
}
