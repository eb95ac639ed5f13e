package service

import (
	"context"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/blake2b"

	"concytec/internal/concytec/lock"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
)

// ShadowOperation tells what CreateOrUpdateShadowCopy did.
type ShadowOperation string

const (
	ShadowCreated   ShadowOperation = "created"
	ShadowRefreshed ShadowOperation = "refreshed"
	ShadowUnchanged ShadowOperation = "unchanged"
)

// ShadowCopyResult describes the shadow copy of a source item.
type ShadowCopyResult struct {
	SourceID       id.ItemID
	CopyID         id.ItemID
	RelationshipID id.RelationshipID
	Operation      ShadowOperation
	Fingerprint    string
}

// CreateOrUpdateShadowCopy keeps the Directorio shadow of an archived source
// item in step with it. The first call creates the copy in the routed target
// collection and links it with a ShadowCopy relationship; later calls only
// refresh the copied metadata and anonymous read access, and do nothing when
// neither has changed.
func (s *Service) CreateOrUpdateShadowCopy(ctx context.Context, sourceID id.ItemID) (*ShadowCopyResult, error) {
	ctx, span := s.tracer.Start(ctx, "concytec.shadow_copy")
	defer span.End()
	span.SetAttributes(attribute.String("item.source", sourceID.String()))

	var result *ShadowCopyResult
	err := s.withLock(ctx, []string{lock.ItemKey(sourceID)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "shadow_copy", func(ctx context.Context, j *graphsvc.Journal) error {
			var err error
			result, err = s.shadowCopy(ctx, j, sourceID)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.SafeMessage(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("shadow.operation", string(result.Operation)))
	s.incrementShadowCopy(string(result.Operation))
	switch result.Operation {
	case ShadowCreated:
		s.logAudit(ctx, audit.EventShadowCopyCreated,
			audit.Event{Subject: sourceID.String(), Related: []string{result.CopyID.String()}, Outcome: "created"},
			"source_id", sourceID, "copy_id", result.CopyID)
	case ShadowRefreshed:
		s.logAudit(ctx, audit.EventShadowCopyRefreshed,
			audit.Event{Subject: sourceID.String(), Related: []string{result.CopyID.String()}, Outcome: "refreshed"},
			"source_id", sourceID, "copy_id", result.CopyID)
	}
	return result, nil
}

func (s *Service) shadowCopy(ctx context.Context, j *graphsvc.Journal, sourceID id.ItemID) (*ShadowCopyResult, error) {
	source, err := s.load(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !source.Archived || source.Withdrawn {
		return nil, dErrors.Newf(dErrors.CodeValidation, "item %s is not archived", sourceID)
	}
	route, ok := s.routing.ShadowRoutes[source.CollectionID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"collection %s does not feed the Directorio", source.CollectionID)
	}
	rt, err := s.registry.Lookup(registry.ShadowCopy, source.EntityType, route.TargetEntityType)
	if err != nil {
		return nil, err
	}

	existing, err := s.graph.FindAnchored(ctx, source.ID, rt.ID, models.SideLeft)
	if err != nil {
		return nil, err
	}
	desired := s.copiedMetadata(source)
	fingerprint := Fingerprint(desired)

	switch len(existing) {
	case 0:
		return s.createShadow(ctx, j, source, route.TargetCollection, route.TargetEntityType, rt, desired, fingerprint)
	case 1:
		return s.refreshShadow(ctx, j, source, existing[0], desired, fingerprint)
	default:
		return nil, dErrors.Newf(dErrors.CodeCardinalityViolation,
			"item %s has %d shadow copies", source.ID, len(existing))
	}
}

func (s *Service) createShadow(ctx context.Context, j *graphsvc.Journal, source *models.Item,
	collection id.CollectionID, entityType string, rt *models.RelationshipType,
	metadata []models.MetadataValue, fingerprint string,
) (*ShadowCopyResult, error) {
	// Directorio review is outside this workflow; copies are archived on creation.
	cp := &models.Item{
		EntityType:   entityType,
		CollectionID: collection,
		Archived:     true,
		Discoverable: source.Discoverable,
		Metadata:     metadata,
	}
	if source.IsPublic() {
		cp.Grant(models.Policy{Action: models.ActionRead, Group: id.Anonymous})
	}
	if err := s.graph.CreateItem(ctx, j, cp); err != nil {
		return nil, err
	}
	rel, err := s.graph.CreateRelationship(ctx, j, graphsvc.NewRelationship{
		TypeID:     rt.ID,
		Left:       source.ID,
		Right:      cp.ID,
		LeftPlace:  models.AppendPlace,
		RightPlace: models.AppendPlace,
	})
	if err != nil {
		return nil, err
	}
	return &ShadowCopyResult{
		SourceID:       source.ID,
		CopyID:         cp.ID,
		RelationshipID: rel.ID,
		Operation:      ShadowCreated,
		Fingerprint:    fingerprint,
	}, nil
}

func (s *Service) refreshShadow(ctx context.Context, j *graphsvc.Journal, source *models.Item,
	rel *models.Relationship, metadata []models.MetadataValue, fingerprint string,
) (*ShadowCopyResult, error) {
	cp, err := s.graph.FindItem(ctx, rel.RightItem)
	if err != nil {
		return nil, err
	}
	result := &ShadowCopyResult{
		SourceID:       source.ID,
		CopyID:         cp.ID,
		RelationshipID: rel.ID,
		Operation:      ShadowUnchanged,
		Fingerprint:    fingerprint,
	}
	metadataChanged := Fingerprint(s.copiedMetadata(cp)) != fingerprint
	if !metadataChanged && cp.IsPublic() == source.IsPublic() {
		return result, nil
	}

	updated := cp.Clone()
	if metadataChanged {
		updated.Metadata = slices.DeleteFunc(updated.Metadata, func(mv models.MetadataValue) bool {
			return s.copyable(mv.Field())
		})
		updated.Metadata = append(updated.Metadata, metadata...)
	}
	anonymousRead := models.Policy{Action: models.ActionRead, Group: id.Anonymous}
	if source.IsPublic() {
		updated.Grant(anonymousRead)
	} else {
		updated.Revoke(anonymousRead)
	}
	if err := s.graph.UpdateItem(ctx, j, updated); err != nil {
		return nil, err
	}
	result.Operation = ShadowRefreshed
	return result, nil
}

// copyable reports whether a field travels from a source to its copy.
// The entity type belongs to the copy and hidden fields never leave the source.
func (s *Service) copyable(field string) bool {
	return field != models.FieldEntityType && !s.routing.Hidden(field)
}

func (s *Service) copiedMetadata(item *models.Item) []models.MetadataValue {
	var out []models.MetadataValue
	for _, mv := range item.Metadata {
		if s.copyable(mv.Field()) {
			out = append(out, mv)
		}
	}
	return out
}

// Fingerprint is a stable digest of metadata values, independent of their
// order in the slice.
func Fingerprint(values []models.MetadataValue) string {
	lines := make([]string, 0, len(values))
	for _, mv := range values {
		lines = append(lines, strings.Join([]string{
			mv.Field(),
			strconv.Itoa(mv.Place),
			mv.Value,
			mv.Authority,
			strconv.Itoa(mv.Confidence),
		}, "\x1f"))
	}
	slices.Sort(lines)
	sum := blake2b.Sum256([]byte(strings.Join(lines, "\x1e")))
	return hex.EncodeToString(sum[:])
}
