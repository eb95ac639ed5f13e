package service_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"concytec/internal/concytec/service"
	"concytec/internal/graph/graphtest"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/graph/store"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
	"concytec/pkg/platform/audit/publisher"
	auditmemory "concytec/pkg/platform/audit/store/memory"
)

// faultyStore fails selected writes after setup.
type faultyStore struct {
	*store.InMemory
	failSave   atomic.Pointer[func(*models.Relationship) bool]
	failDelete atomic.Bool
}

func (f *faultyStore) SaveRelationship(ctx context.Context, rel *models.Relationship) error {
	if fn := f.failSave.Load(); fn != nil && (*fn)(rel) {
		return errors.New("write failed")
	}
	return f.InMemory.SaveRelationship(ctx, rel)
}

func (f *faultyStore) DeleteRelationship(ctx context.Context, relID id.RelationshipID) error {
	if f.failDelete.Load() {
		return errors.New("delete failed")
	}
	return f.InMemory.DeleteRelationship(ctx, relID)
}

// savepointTx undoes failed work the way a SQL transaction does, so the
// journal is never replayed under it.
type savepointTx struct {
	rolledBack atomic.Int32
}

func (r *savepointTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *savepointTx) Savepoint(context.Context) (graphsvc.Savepoint, error) {
	return txSavepoint{tx: r}, nil
}

type txSavepoint struct {
	tx *savepointTx
}

func (p txSavepoint) RollbackTo(context.Context) error {
	p.tx.rolledBack.Add(1)
	return nil
}

func (txSavepoint) Release(context.Context) error { return nil }

type WorkflowSuite struct {
	suite.Suite
	store      *faultyStore
	fixture    *graphtest.Fixture
	auditStore *auditmemory.InMemoryStore
	service    *service.Service
	ctx        context.Context
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.setup()
}

func (s *WorkflowSuite) setup(opts ...graphsvc.Option) {
	s.store = &faultyStore{InMemory: store.NewInMemory()}
	s.fixture = graphtest.NewWithStore(s.T(), s.store, opts...)
	s.auditStore = auditmemory.NewInMemoryStore()
	svc, err := service.New(s.fixture.Graph, s.fixture.Registry, s.fixture.Routing,
		service.WithLogger(s.fixture.Logger),
		service.WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
	s.Require().NoError(err)
	s.service = svc
	s.ctx = context.Background()
}

func (s *WorkflowSuite) institutionPerson(title string, mutate ...func(*models.Item)) *models.Item {
	base := func(i *models.Item) {
		i.CollectionID = graphtest.InstitutionCollection
		i.SetValue(models.FieldIdentifierDNI, "41234567")
		i.SetValue(models.FieldIdentifierOrcid, "0000-0002-1825-0097")
	}
	return s.fixture.Item(s.T(), "InstitutionPerson", title, append([]func(*models.Item){base}, mutate...)...)
}

func (s *WorkflowSuite) events(action audit.AuditEvent) []audit.Event {
	events, err := s.auditStore.ListByAction(context.Background(), action)
	s.Require().NoError(err)
	return events
}

func (s *WorkflowSuite) TestCreateOrUpdateShadowCopy() {
	source := s.institutionPerson("Quispe, Ana")

	first, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
	s.Require().NoError(err)

	s.Run("creates an archived copy in the routed collection", func() {
		s.Equal(service.ShadowCreated, first.Operation)
		cp := s.fixture.Reload(s.T(), first.CopyID)
		s.Equal("Person", cp.EntityType)
		s.Equal(graphtest.DirectorioCollection, cp.CollectionID)
		s.True(cp.Archived)
		s.True(cp.IsPublic())
		s.Equal("Quispe, Ana", cp.Title())
		s.Equal("0000-0002-1825-0097", cp.FirstValue(models.FieldIdentifierOrcid))
		s.Equal("Person", cp.FirstValue(models.FieldEntityType))
	})

	s.Run("never copies hidden fields", func() {
		cp := s.fixture.Reload(s.T(), first.CopyID)
		s.Empty(cp.Values(models.FieldIdentifierDNI))
	})

	s.Run("is idempotent for unchanged metadata", func() {
		before := s.fixture.Reload(s.T(), first.CopyID)
		second, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
		s.Require().NoError(err)
		s.Equal(service.ShadowUnchanged, second.Operation)
		s.Equal(first.CopyID, second.CopyID)
		s.Equal(first.RelationshipID, second.RelationshipID)
		s.Equal(first.Fingerprint, second.Fingerprint)
		s.Equal(1, s.fixture.Count(s.T(), source.ID, registry.ShadowCopy))
		s.Equal(before.Metadata, s.fixture.Reload(s.T(), first.CopyID).Metadata)
	})

	s.Run("refreshes the copy when the source changes", func() {
		updated := s.fixture.Reload(s.T(), source.ID)
		updated.SetValue(models.FieldTitle, "Quispe Mamani, Ana")
		s.Require().NoError(s.fixture.Graph.Atomically(s.ctx, "edit", func(ctx context.Context, j *graphsvc.Journal) error {
			return s.fixture.Graph.UpdateItem(ctx, j, updated)
		}))

		refreshed, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
		s.Require().NoError(err)
		s.Equal(service.ShadowRefreshed, refreshed.Operation)
		s.Equal(first.CopyID, refreshed.CopyID)
		s.NotEqual(first.Fingerprint, refreshed.Fingerprint)

		cp := s.fixture.Reload(s.T(), first.CopyID)
		s.Equal("Quispe Mamani, Ana", cp.Title())
		s.Len(cp.Values(models.FieldTitle), 1)
		s.Equal("Person", cp.FirstValue(models.FieldEntityType))
		s.Equal(1, s.fixture.Count(s.T(), source.ID, registry.ShadowCopy))
	})

	s.Run("records created and refreshed events only", func() {
		s.Len(s.events(audit.EventShadowCopyCreated), 1)
		s.Len(s.events(audit.EventShadowCopyRefreshed), 1)
	})
}

func (s *WorkflowSuite) TestShadowCopyHiddenFieldsCompareCaseInsensitively() {
	s.fixture.Routing.HiddenFields = []string{"person.identifier.orcid"}
	svc, err := service.New(s.fixture.Graph, s.fixture.Registry, s.fixture.Routing)
	s.Require().NoError(err)
	source := s.institutionPerson("Rojas, Eva", func(i *models.Item) {
		i.AddValue(models.MetadataValue{Schema: "PERSON", Element: "Identifier", Qualifier: "ORCID", Value: "x"})
	})

	result, err := svc.CreateOrUpdateShadowCopy(s.ctx, source.ID)
	s.Require().NoError(err)
	cp := s.fixture.Reload(s.T(), result.CopyID)
	for _, mv := range cp.Metadata {
		s.NotEqual("person.identifier.orcid", strings.ToLower(mv.Field()))
	}
}

func (s *WorkflowSuite) TestShadowCopyRejections() {
	s.Run("unarchived source", func() {
		source := s.institutionPerson("Draft", func(i *models.Item) { i.Archived = false })
		_, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})

	s.Run("collection without a route", func() {
		source := s.fixture.Item(s.T(), "InstitutionPerson", "Elsewhere")
		_, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})

	s.Run("missing source", func() {
		_, err := s.service.CreateOrUpdateShadowCopy(s.ctx, id.NewItemID())
		s.True(dErrors.HasCode(err, dErrors.CodeUnresolvedReference), "got %v", err)
	})

	s.Run("duplicate shadow relationships are a cardinality violation", func() {
		source := s.institutionPerson("Twice")
		first, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
		s.Require().NoError(err)

		stray := s.fixture.Item(s.T(), "Person", "Stray")
		rel, err := s.fixture.Graph.FindRelationship(s.ctx, first.RelationshipID)
		s.Require().NoError(err)
		dup := rel.Clone()
		dup.ID = id.NewRelationshipID()
		dup.RightItem = stray.ID
		dup.LeftPlace = 1
		dup.RightPlace = 0
		s.Require().NoError(s.store.InMemory.SaveRelationship(s.ctx, dup))

		_, err = s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeCardinalityViolation), "got %v", err)
	})
}

// mergeFixture is an institution-backed Directorio person plus a fresh clone.
func (s *WorkflowSuite) TestShadowCopyFollowsSourceVisibility() {
	source := s.institutionPerson("Quispe, Ana")
	first, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
	s.Require().NoError(err)
	s.Require().True(s.fixture.Reload(s.T(), first.CopyID).IsPublic())

	anonymousRead := models.Policy{Action: models.ActionRead, Group: id.Anonymous}
	setVisibility := func(public bool) {
		updated := s.fixture.Reload(s.T(), source.ID)
		if public {
			updated.Grant(anonymousRead)
		} else {
			updated.Revoke(anonymousRead)
		}
		s.Require().NoError(s.fixture.Graph.Atomically(s.ctx, "visibility", func(ctx context.Context, j *graphsvc.Journal) error {
			return s.fixture.Graph.UpdateItem(ctx, j, updated)
		}))
	}

	setVisibility(false)
	hidden, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
	s.Require().NoError(err)
	s.Equal(service.ShadowRefreshed, hidden.Operation)
	s.Equal(first.Fingerprint, hidden.Fingerprint)
	s.False(s.fixture.Reload(s.T(), first.CopyID).IsPublic())

	unchanged, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
	s.Require().NoError(err)
	s.Equal(service.ShadowUnchanged, unchanged.Operation)

	setVisibility(true)
	shown, err := s.service.CreateOrUpdateShadowCopy(s.ctx, source.ID)
	s.Require().NoError(err)
	s.Equal(service.ShadowRefreshed, shown.Operation)
	s.True(s.fixture.Reload(s.T(), first.CopyID).IsPublic())
}

func (s *WorkflowSuite) mergeFixture() (institution, person, clone *models.Item) {
	institution = s.institutionPerson("Quispe, Ana")
	result, err := s.service.CreateOrUpdateShadowCopy(s.ctx, institution.ID)
	s.Require().NoError(err)
	person = s.fixture.Reload(s.T(), result.CopyID)
	clone = s.fixture.Item(s.T(), "CvPersonClone", "ana@example.org", func(i *models.Item) {
		i.Archived = false
		i.CollectionID = graphtest.CloneCollection
	})
	return institution, person, clone
}

func (s *WorkflowSuite) resolve(person, clone *models.Item) (*service.MergeResult, error) {
	var result *service.MergeResult
	err := s.fixture.Graph.Atomically(s.ctx, "test_merge", func(ctx context.Context, j *graphsvc.Journal) error {
		var err error
		result, err = s.service.ResolveInstitutionBackedClaim(ctx, j, person, clone)
		return err
	})
	return result, err
}

func (s *WorkflowSuite) TestResolveInstitutionBackedClaim() {
	institution, person, clone := s.mergeFixture()

	result, err := s.resolve(person, clone)
	s.Require().NoError(err)

	s.Equal(person.ID, result.WithdrawnID)
	s.Equal(institution.ID, result.InstitutionID)
	s.Len(result.Relationships, 3)
	s.True(s.fixture.Reload(s.T(), person.ID).Withdrawn)
	s.Equal(1, s.fixture.Count(s.T(), institution.ID, registry.Merged))
	s.Equal(1, s.fixture.Count(s.T(), institution.ID, registry.Originated))
	s.Equal(1, s.fixture.Count(s.T(), clone.ID, registry.ShadowCopy))

	merged, err := s.service.FindMergedInItems(s.ctx, institution.ID)
	s.Require().NoError(err)
	s.Require().Len(merged, 1)
	s.Equal(person.ID, merged[0].ID)
}

func (s *WorkflowSuite) TestResolveRejectsItemsWithoutInstitution() {
	person := s.fixture.Item(s.T(), "Person", "Alone")
	clone := s.fixture.Item(s.T(), "CvPersonClone", "alone@example.org")
	_, err := s.resolve(person, clone)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
}

func (s *WorkflowSuite) failShadowEdgeFrom(clone *models.Item) {
	fail := func(rel *models.Relationship) bool { return rel.LeftItem == clone.ID }
	s.store.failSave.Store(&fail)
}

func (s *WorkflowSuite) TestMergeFailureIsRolledBack() {
	institution, person, clone := s.mergeFixture()
	s.failShadowEdgeFrom(clone)

	_, err := s.resolve(person, clone)
	s.True(dErrors.HasCode(err, dErrors.CodePartialMergeFailure), "got %v", err)

	s.False(s.fixture.Reload(s.T(), person.ID).Withdrawn)
	s.Len(s.fixture.Relationships(s.T(), institution.ID), 1)
	s.Empty(s.fixture.Relationships(s.T(), clone.ID))
	s.Len(s.events(audit.EventMergeRolledBack), 1)
}

func (s *WorkflowSuite) TestMergeRollbackFailureIsInconsistentGraph() {
	_, person, clone := s.mergeFixture()
	s.failShadowEdgeFrom(clone)
	s.store.failDelete.Store(true)

	_, err := s.resolve(person, clone)
	s.True(dErrors.HasCode(err, dErrors.CodeInconsistentGraph), "got %v", err)
	s.Len(s.events(audit.EventGraphInconsistent), 1)
}

func (s *WorkflowSuite) TestMergeFailureUnderTransactionRollsBackToSavepoint() {
	tx := &savepointTx{}
	s.setup(graphsvc.WithTx(tx))
	_, person, clone := s.mergeFixture()
	s.failShadowEdgeFrom(clone)
	// Replaying the journal would fail, as it does in an aborted transaction.
	s.store.failDelete.Store(true)

	_, err := s.resolve(person, clone)
	s.True(dErrors.HasCode(err, dErrors.CodePartialMergeFailure), "got %v", err)
	s.False(dErrors.HasCode(err, dErrors.CodeInconsistentGraph), "got %v", err)
	s.Equal(int32(2), tx.rolledBack.Load(), "merge scope and enclosing unit")
	s.Len(s.events(audit.EventMergeRolledBack), 1)
	s.Empty(s.events(audit.EventGraphInconsistent))
}

func (s *WorkflowSuite) TestRelatedEntityLookups() {
	institution, person, clone := s.mergeFixture()
	cvPerson := s.fixture.Item(s.T(), "CvPerson", "Ana")
	s.fixture.Link(s.T(), registry.Clone, clone, cvPerson)
	_, err := s.resolve(person, clone)
	s.Require().NoError(err)
	profile := s.fixture.Item(s.T(), "CvPerson", "Profile")
	s.fixture.Link(s.T(), registry.PersonOwner, profile, institution)

	s.Run("clone and cloned item", func() {
		found, err := s.service.FindClone(s.ctx, cvPerson.ID)
		s.Require().NoError(err)
		s.Equal(clone.ID, found.ID)

		cloned, err := s.service.FindClonedItem(s.ctx, clone.ID)
		s.Require().NoError(err)
		s.Equal(cvPerson.ID, cloned.ID)
	})

	s.Run("directorio counterpart of a cti-vitae item", func() {
		found, err := s.service.FindDirectorioRelated(s.ctx, cvPerson.ID)
		s.Require().NoError(err)
		s.Equal(person.ID, found.ID)
	})

	s.Run("cti-vitae items behind an institution person", func() {
		found, err := s.service.FindCtiVitaeRelated(s.ctx, institution.ID)
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(cvPerson.ID, found[0].ID)
	})

	s.Run("owning profile", func() {
		found, err := s.service.FindOwningProfile(s.ctx, institution.ID)
		s.Require().NoError(err)
		s.Equal(profile.ID, found.ID)

		none, err := s.service.FindOwningProfile(s.ctx, person.ID)
		s.Require().NoError(err)
		s.Nil(none)
	})

	s.Run("lookups on unknown items", func() {
		_, err := s.service.FindClone(s.ctx, id.NewItemID())
		s.True(dErrors.HasCode(err, dErrors.CodeUnresolvedReference), "got %v", err)
	})
}

func (s *WorkflowSuite) TestCreateCorrection() {
	original := s.fixture.Item(s.T(), "Publication", "On shadow copies")

	correction, err := s.service.CreateCorrection(s.ctx, original.ID)
	s.Require().NoError(err)
	s.Equal(original.Title(), correction.Title())
	s.False(correction.Archived)
	s.Equal(original.CollectionID, correction.CollectionID)

	found, err := s.service.FindCorrection(s.ctx, original.ID)
	s.Require().NoError(err)
	s.Equal(correction.ID, found.ID)

	_, err = s.service.CreateCorrection(s.ctx, original.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeCardinalityViolation), "got %v", err)
	s.Len(s.events(audit.EventCorrectionCreated), 1)
}

func (s *WorkflowSuite) TestSelectedResearchOutputsIndex() {
	author1 := s.fixture.Item(s.T(), "Person", "author1")
	author2 := s.fixture.Item(s.T(), "Person", "author2")
	author3 := s.fixture.Item(s.T(), "Person", "author3")
	pub1 := s.fixture.Item(s.T(), "Patent", "pub1")
	rt, err := s.fixture.Registry.Lookup(registry.SelectedResearchOutput, "Patent", "Person")
	s.Require().NoError(err)
	field := rt.IndexField(models.SideLeft)
	s.Equal("relation.isResearchoutputsSelectedFor", field)

	rels := make(map[id.ItemID]*models.Relationship)
	for _, author := range []*models.Item{author1, author2, author3} {
		rel, err := s.service.CreateRelationship(s.ctx, graphsvc.NewRelationship{
			TypeID:     rt.ID,
			Left:       pub1.ID,
			Right:      author.ID,
			LeftPlace:  models.AppendPlace,
			RightPlace: models.AppendPlace,
		})
		s.Require().NoError(err)
		rels[author.ID] = rel
	}

	indexed, err := s.fixture.Index.Field(s.ctx, pub1.ID, field)
	s.Require().NoError(err)
	s.Equal([]string{author1.ID.String(), author2.ID.String(), author3.ID.String()}, indexed)

	s.Require().NoError(s.service.DeleteRelationship(s.ctx, rels[author2.ID].ID))
	indexed, err = s.fixture.Index.Field(s.ctx, pub1.ID, field)
	s.Require().NoError(err)
	s.Equal([]string{author1.ID.String(), author3.ID.String()}, indexed)

	first := 0
	_, err = s.service.UpdateRelationshipPlaces(s.ctx, rels[author3.ID].ID, &first, nil)
	s.Require().NoError(err)
	indexed, err = s.fixture.Index.Field(s.ctx, pub1.ID, field)
	s.Require().NoError(err)
	s.Equal([]string{author3.ID.String(), author1.ID.String()}, indexed)

	back, err := s.fixture.Index.Field(s.ctx, author2.ID, rt.IndexField(models.SideRight))
	s.Require().NoError(err)
	s.Empty(back)
}
