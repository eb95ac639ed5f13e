package service

import (
	"context"
	"errors"
	"strings"

	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
	txcontext "concytec/pkg/platform/tx"
)

const institutionPrefix = "Institution"

// MergeResult lists what the resolver wrote.
type MergeResult struct {
	WithdrawnID   id.ItemID
	InstitutionID id.ItemID
	CloneID       id.ItemID
	Relationships []id.RelationshipID
}

// InstitutionSource returns the institution-side item whose shadow copy is
// target, or nil when target is not institution-backed.
func (s *Service) InstitutionSource(ctx context.Context, target *models.Item) (*models.Item, error) {
	for _, rt := range s.registry.FindByRight(registry.ShadowCopy, target.EntityType) {
		if !strings.HasPrefix(rt.LeftType, institutionPrefix) {
			continue
		}
		rels, err := s.graph.FindAnchored(ctx, target.ID, rt.ID, models.SideRight)
		if err != nil {
			return nil, err
		}
		switch len(rels) {
		case 0:
			continue
		case 1:
			return s.graph.FindItem(ctx, rels[0].LeftItem)
		default:
			return nil, dErrors.Newf(dErrors.CodeCardinalityViolation,
				"item %s is the shadow copy of %d institution items", target.ID, len(rels))
		}
	}
	return nil, nil
}

// ResolveInstitutionBackedClaim retires target in favour of the institution
// item it shadows and makes clone the live representation going forward:
// target is withdrawn and merged into the institution item, the institution
// item originates clone, and clone shadows target.
//
// The steps run in their own nested scope. If any step fails they are undone
// before returning a CodePartialMergeFailure error; if undoing fails too the
// error carries CodeInconsistentGraph. On success the steps move into j so
// they are undone with the rest of the enclosing unit of work.
func (s *Service) ResolveInstitutionBackedClaim(ctx context.Context, j *graphsvc.Journal, target, clone *models.Item) (*MergeResult, error) {
	ctx, span := s.tracer.Start(ctx, "concytec.merge")
	defer span.End()

	institution, err := s.InstitutionSource(ctx, target)
	if err != nil {
		return nil, err
	}
	if institution == nil {
		return nil, dErrors.Newf(dErrors.CodeValidation, "item %s is not backed by an institution item", target.ID)
	}

	scope, err := s.graph.Nest(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.merge(ctx, scope.Journal, target, institution, clone)
	if err != nil {
		span.RecordError(err)
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			s.incrementMerge("inconsistent")
			s.logger.ErrorContext(ctx, "CRITICAL: merge rollback failed, graph may be inconsistent",
				"target_id", target.ID,
				"institution_id", institution.ID,
				"clone_id", clone.ID,
				"cause", err,
				"rollback_error", rbErr,
			)
			// Recorded outside the failing transaction so the event survives it.
			s.logAudit(txcontext.Detach(ctx), audit.EventGraphInconsistent, audit.Event{
				Subject: institution.ID.String(),
				Related: []string{target.ID.String(), clone.ID.String()},
				Outcome: "failed",
				Reason:  dErrors.SafeMessage(err),
			}, "target_id", target.ID, "institution_id", institution.ID)
			return nil, dErrors.Wrap(errors.Join(err, rbErr), dErrors.CodeInconsistentGraph,
				"merge could not be rolled back")
		}
		s.incrementMerge("rolled_back")
		s.logAudit(txcontext.Detach(ctx), audit.EventMergeRolledBack, audit.Event{
			Subject: institution.ID.String(),
			Related: []string{target.ID.String(), clone.ID.String()},
			Outcome: "rolled_back",
			Reason:  dErrors.SafeMessage(err),
		}, "target_id", target.ID, "institution_id", institution.ID)
		return nil, dErrors.Wrap(err, dErrors.CodePartialMergeFailure,
			"institution-backed claim could not be merged")
	}
	if err := scope.Commit(ctx, j); err != nil {
		return nil, err
	}
	s.incrementMerge("resolved")
	return result, nil
}

func (s *Service) merge(ctx context.Context, j *graphsvc.Journal, target, institution, clone *models.Item) (*MergeResult, error) {
	result := &MergeResult{WithdrawnID: target.ID, InstitutionID: institution.ID, CloneID: clone.ID}

	withdrawn := target.Clone()
	if err := withdrawn.ApplyWithdraw(s.now(ctx)); err != nil {
		return nil, err
	}
	if err := s.graph.UpdateItem(ctx, j, withdrawn); err != nil {
		return nil, err
	}

	edges := []struct {
		kind        registry.Kind
		left, right *models.Item
	}{
		{registry.Merged, target, institution},
		{registry.Originated, institution, clone},
		{registry.ShadowCopy, clone, target},
	}
	for _, e := range edges {
		rt, err := s.registry.Lookup(e.kind, e.left.EntityType, e.right.EntityType)
		if err != nil {
			return nil, err
		}
		rel, err := s.graph.CreateRelationship(ctx, j, graphsvc.NewRelationship{
			TypeID:     rt.ID,
			Left:       e.left.ID,
			Right:      e.right.ID,
			LeftPlace:  models.AppendPlace,
			RightPlace: models.AppendPlace,
		})
		if err != nil {
			return nil, err
		}
		result.Relationships = append(result.Relationships, rel.ID)
	}
	return result, nil
}
