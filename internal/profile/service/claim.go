package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"concytec/internal/concytec/lock"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	profilemodels "concytec/internal/profile/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
)

const cloneSuffix = "Clone"

// Claim binds an EPerson to an existing person item. It never edits the
// claimed item's metadata: the EPerson gets a CvPerson profile, a workflow
// clone linked to that profile, and an isPersonOwner link to the backing
// person. When the claimed item is itself the shadow copy of an institution
// person, the claim is resolved by merging into that institution person.
func (s *Service) Claim(ctx context.Context, req profilemodels.ClaimRequest) (*profilemodels.ClaimResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "profile.claim")
	defer span.End()

	result, err := s.claim(ctx, req)
	s.observeClaim(start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.SafeMessage(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("claim.item", result.ItemID.String()),
		attribute.Bool("claim.merged", result.Merged),
	)

	if result.ProfileCreated {
		s.logAudit(ctx, audit.EventProfileCreated, audit.Event{
			EPersonID: result.ProfileID,
			Subject:   result.ProfileItemID.String(),
			Outcome:   "created",
		}, "eperson_id", result.ProfileID, "profile_item_id", result.ProfileItemID)
	}
	if result.Merged {
		s.logAudit(ctx, audit.EventMergeResolved, audit.Event{
			EPersonID: result.ProfileID,
			Subject:   result.ItemID.String(),
			Related:   []string{result.ClaimedItemID.String(), result.CloneID.String()},
			Outcome:   "merged",
		}, "eperson_id", result.ProfileID, "institution_id", result.ItemID, "withdrawn_id", result.ClaimedItemID)
	}
	s.logAudit(ctx, audit.EventClaimCompleted, audit.Event{
		EPersonID: result.ProfileID,
		Subject:   result.ItemID.String(),
		Related:   []string{result.ProfileItemID.String(), result.CloneID.String()},
		Outcome:   "claimed",
	}, "eperson_id", result.ProfileID, "item_id", result.ItemID, "merged", result.Merged)
	return result, nil
}

func (s *Service) claim(ctx context.Context, req profilemodels.ClaimRequest) (*profilemodels.ClaimResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, req.EPersonID); err != nil {
		return nil, err
	}
	if req.ItemID.IsNil() {
		itemID, err := s.resolve(ctx, req.SourceURI)
		if err != nil {
			return nil, err
		}
		req.ItemID = itemID
	}

	target, err := s.loadTarget(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanRead(ctx, target) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to read the claimed item")
	}
	if !s.routing.Claimable(target.EntityType) {
		return nil, dErrors.Newf(dErrors.CodeUnclaimableEntityType,
			"items of type %s cannot be claimed", target.EntityType)
	}
	cloneType := "Cv" + target.EntityType + cloneSuffix
	cloneCollection, ok := s.routing.CloneCollections[cloneType]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "no clone collection configured for %s", cloneType)
	}

	// An institution-backed claim also writes the groups anchored on the
	// institution person, so that item is locked too.
	institution, err := s.workflow.InstitutionSource(ctx, target)
	if err != nil {
		return nil, err
	}
	keys := []string{lock.EPersonKey(req.EPersonID), lock.ItemKey(req.ItemID)}
	var locked id.ItemID
	if institution != nil {
		locked = institution.ID
		keys = append(keys, lock.ItemKey(locked))
	}

	var result *profilemodels.ClaimResult
	err = s.withLock(ctx, keys, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "claim", func(ctx context.Context, j *graphsvc.Journal) error {
			var err error
			result, err = s.claimLocked(ctx, j, req, locked, cloneType, cloneCollection)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// claimLocked runs under the EPerson and item locks inside one unit of work.
// Everything is re-read here so a claim that raced ahead is observed. locked
// is the institution person locked by the caller, if any.
func (s *Service) claimLocked(ctx context.Context, j *graphsvc.Journal, req profilemodels.ClaimRequest,
	locked id.ItemID, cloneType string, cloneCollection id.CollectionID,
) (*profilemodels.ClaimResult, error) {
	target, err := s.loadTarget(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	institution, err := s.workflow.InstitutionSource(ctx, target)
	if err != nil {
		return nil, err
	}
	if institution != nil && institution.ID != locked {
		return nil, dErrors.New(dErrors.CodeConflict, "claimed item changed its institution person, retry the claim")
	}
	backing := target
	if institution != nil {
		backing = institution
	}

	profile, err := s.findProfileItem(ctx, req.EPersonID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		if err := s.checkProfileUnbound(ctx, profile, backing); err != nil {
			return nil, err
		}
	}
	if err := s.checkUnclaimed(ctx, target, institution); err != nil {
		return nil, err
	}

	result := &profilemodels.ClaimResult{
		ProfileID:     req.EPersonID,
		ClaimedItemID: target.ID,
		ItemID:        backing.ID,
	}
	if profile == nil {
		profile = newProfileItem(s.routing.ProfileCollection, req.EPersonID, req.FullName, req.Email)
		if err := s.graph.CreateItem(ctx, j, profile); err != nil {
			return nil, err
		}
		result.ProfileCreated = true
	}
	result.ProfileItemID = profile.ID

	clone := &models.Item{
		EntityType:   cloneType,
		CollectionID: cloneCollection,
	}
	clone.SetValue(models.FieldTitle, req.Email)
	if err := s.graph.CreateItem(ctx, j, clone); err != nil {
		return nil, err
	}
	result.CloneID = clone.ID

	if err := s.link(ctx, j, registry.Clone, clone, profile); err != nil {
		return nil, err
	}
	if institution != nil {
		if _, err := s.workflow.ResolveInstitutionBackedClaim(ctx, j, target, clone); err != nil {
			return nil, err
		}
		result.Merged = true
	} else if err := s.link(ctx, j, registry.ShadowCopy, clone, target); err != nil {
		return nil, err
	}
	if err := s.link(ctx, j, registry.PersonOwner, profile, backing); err != nil {
		return nil, err
	}
	return result, nil
}

// checkProfileUnbound fails when the profile already represents a person.
// Owning backing itself means this claim already happened.
func (s *Service) checkProfileUnbound(ctx context.Context, profile, backing *models.Item) error {
	owned, err := s.anchored(ctx, profile, registry.PersonOwner, models.SideLeft)
	if err != nil {
		return err
	}
	for _, personID := range owned {
		if personID == backing.ID {
			return dErrors.New(dErrors.CodeAlreadyClaimed, "item is already claimed by this profile")
		}
	}
	if len(owned) > 0 {
		return dErrors.New(dErrors.CodeProfileAlreadyAssociated, "profile is already associated with another item")
	}
	clones, err := s.anchored(ctx, profile, registry.Clone, models.SideRight)
	if err != nil {
		return err
	}
	if len(clones) > 0 {
		return dErrors.New(dErrors.CodeProfileAlreadyAssociated, "profile already has a clone")
	}
	return nil
}

// checkUnclaimed fails when target already heads a clone/shadow chain: it is
// withdrawn, shadowed by a clone, owned by a profile, or backed by an
// institution person that has already been claimed.
func (s *Service) checkUnclaimed(ctx context.Context, target, institution *models.Item) error {
	if target.Withdrawn {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "item has been merged into another record")
	}
	for _, rt := range s.registry.FindByRight(registry.ShadowCopy, target.EntityType) {
		if !strings.HasSuffix(rt.LeftType, cloneSuffix) {
			continue
		}
		rels, err := s.graph.FindAnchored(ctx, target.ID, rt.ID, models.SideRight)
		if err != nil {
			return err
		}
		if len(rels) > 0 {
			return dErrors.New(dErrors.CodeAlreadyClaimed, "item is already claimed")
		}
	}
	owners, err := s.anchored(ctx, target, registry.PersonOwner, models.SideRight)
	if err != nil {
		return err
	}
	if len(owners) > 0 {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "item is already owned by a profile")
	}
	if institution == nil {
		return nil
	}
	originated, err := s.anchored(ctx, institution, registry.Originated, models.SideLeft)
	if err != nil {
		return err
	}
	owners, err = s.anchored(ctx, institution, registry.PersonOwner, models.SideRight)
	if err != nil {
		return err
	}
	if len(originated) > 0 || len(owners) > 0 {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "institution person is already claimed")
	}
	return nil
}

func (s *Service) link(ctx context.Context, j *graphsvc.Journal, kind registry.Kind, left, right *models.Item) error {
	rt, err := s.registry.Lookup(kind, left.EntityType, right.EntityType)
	if err != nil {
		return err
	}
	_, err = s.graph.CreateRelationship(ctx, j, graphsvc.NewRelationship{
		TypeID:     rt.ID,
		Left:       left.ID,
		Right:      right.ID,
		LeftPlace:  models.AppendPlace,
		RightPlace: models.AppendPlace,
	})
	return err
}

func (s *Service) resolve(ctx context.Context, uri string) (id.ItemID, error) {
	if s.resolver == nil {
		return id.ItemID{}, dErrors.Newf(dErrors.CodeUnresolvedReference, "cannot resolve %q", uri)
	}
	itemID, err := s.resolver.Resolve(ctx, uri)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnresolvedReference) {
			return id.ItemID{}, err
		}
		return id.ItemID{}, dErrors.Wrap(err, dErrors.CodeUnresolvedReference, "cannot resolve "+uri)
	}
	return itemID, nil
}

func (s *Service) loadTarget(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	item, err := s.graph.FindItem(ctx, itemID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.Newf(dErrors.CodeUnresolvedReference, "item %s does not exist", itemID)
		}
		return nil, err
	}
	return item, nil
}

func (s *Service) observeClaim(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "claimed"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	s.metrics.IncrementClaim(outcome)
	s.metrics.ObserveClaim(start)
}
