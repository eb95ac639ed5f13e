package service

import (
	"context"

	"concytec/internal/concytec/lock"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	id "concytec/pkg/domain"
	audit "concytec/pkg/platform/audit"
)

// CreateCorrection opens a correction of an archived item: a workspace copy
// in the same collection linked to the original with CorrectionOf. An item
// has at most one open correction.
func (s *Service) CreateCorrection(ctx context.Context, originalID id.ItemID) (*models.Item, error) {
	ctx, span := s.tracer.Start(ctx, "concytec.correction")
	defer span.End()

	var correction *models.Item
	err := s.withLock(ctx, []string{lock.ItemKey(originalID)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "create_correction", func(ctx context.Context, j *graphsvc.Journal) error {
			original, err := s.load(ctx, originalID)
			if err != nil {
				return err
			}
			rt, err := s.registry.Lookup(registry.CorrectionOf, original.EntityType, original.EntityType)
			if err != nil {
				return err
			}
			correction = &models.Item{
				EntityType:   original.EntityType,
				CollectionID: original.CollectionID,
				Metadata:     original.Clone().Metadata,
			}
			if err := s.graph.CreateItem(ctx, j, correction); err != nil {
				return err
			}
			_, err = s.graph.CreateRelationship(ctx, j, graphsvc.NewRelationship{
				TypeID:     rt.ID,
				Left:       correction.ID,
				Right:      original.ID,
				LeftPlace:  models.AppendPlace,
				RightPlace: models.AppendPlace,
			})
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logAudit(ctx, audit.EventCorrectionCreated,
		audit.Event{Subject: originalID.String(), Related: []string{correction.ID.String()}, Outcome: "created"},
		"item_id", originalID, "correction_id", correction.ID)
	return correction, nil
}

// FindCorrection returns the open correction of an item, or nil.
func (s *Service) FindCorrection(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	item, err := s.load(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.single(ctx, item, registry.CorrectionOf, models.SideRight)
}
