package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"concytec/internal/graph/graphtest"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	"concytec/internal/graph/service"
	"concytec/internal/graph/store"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// undoFailingStore refuses item restores once armed, so compensation fails.
type undoFailingStore struct {
	*store.InMemory
	armed atomic.Bool
}

func (s *undoFailingStore) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	if s.armed.Load() {
		return errors.New("delete refused")
	}
	return s.InMemory.DeleteItem(ctx, itemID)
}

type recordingTx struct {
	calls atomic.Int32
}

func (r *recordingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls.Add(1)
	return fn(ctx)
}

// savepointTx behaves like a SQL transaction runner: failed work is undone
// by rolling back to a savepoint, never by replaying the journal.
type savepointTx struct {
	opened     atomic.Int32
	rolledBack atomic.Int32
	released   atomic.Int32
}

func (r *savepointTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *savepointTx) Savepoint(context.Context) (service.Savepoint, error) {
	r.opened.Add(1)
	return savepointFunc{tx: r}, nil
}

type savepointFunc struct {
	tx *savepointTx
}

func (p savepointFunc) RollbackTo(context.Context) error {
	p.tx.rolledBack.Add(1)
	return nil
}

func (p savepointFunc) Release(context.Context) error {
	p.tx.released.Add(1)
	return nil
}

type GraphSuite struct {
	suite.Suite
	store   *undoFailingStore
	tx      *recordingTx
	fixture *graphtest.Fixture
	graph   *service.Graph
	ctx     context.Context
	srt     *models.RelationshipType
}

func TestGraphSuite(t *testing.T) {
	suite.Run(t, new(GraphSuite))
}

func (s *GraphSuite) SetupTest() {
	s.store = &undoFailingStore{InMemory: store.NewInMemory()}
	s.tx = &recordingTx{}
	s.fixture = graphtest.NewWithStore(s.T(), s.store, service.WithTx(s.tx))
	s.graph = s.fixture.Graph
	s.ctx = context.Background()
	rt, err := s.fixture.Registry.Lookup(registry.SelectedResearchOutput, "Publication", "Person")
	s.Require().NoError(err)
	s.srt = rt
}

func (s *GraphSuite) create(req service.NewRelationship) (*models.Relationship, error) {
	var rel *models.Relationship
	err := s.graph.Atomically(s.ctx, "create", func(ctx context.Context, j *service.Journal) error {
		var err error
		rel, err = s.graph.CreateRelationship(ctx, j, req)
		return err
	})
	return rel, err
}

func (s *GraphSuite) selected(pub, author *models.Item, place int) *models.Relationship {
	rel, err := s.create(service.NewRelationship{
		TypeID: s.srt.ID, Left: pub.ID, Right: author.ID, LeftPlace: place, RightPlace: models.AppendPlace,
	})
	s.Require().NoError(err)
	return rel
}

func (s *GraphSuite) leftOrder(pub *models.Item) []id.ItemID {
	rels, err := s.graph.FindAnchored(s.ctx, pub.ID, s.srt.ID, models.SideLeft)
	s.Require().NoError(err)
	out := make([]id.ItemID, 0, len(rels))
	for i, rel := range rels {
		s.Equal(i, rel.LeftPlace, "places must be dense")
		out = append(out, rel.RightItem)
	}
	return out
}

func (s *GraphSuite) TestPlaces() {
	pub := s.fixture.Item(s.T(), "Publication", "pub")
	a := s.fixture.Item(s.T(), "Person", "a")
	b := s.fixture.Item(s.T(), "Person", "b")
	c := s.fixture.Item(s.T(), "Person", "c")
	d := s.fixture.Item(s.T(), "Person", "d")

	relA := s.selected(pub, a, models.AppendPlace)
	s.selected(pub, b, models.AppendPlace)
	relC := s.selected(pub, c, 0)

	s.Run("explicit places insert and shift siblings", func() {
		s.Equal([]id.ItemID{c.ID, a.ID, b.ID}, s.leftOrder(pub))
	})

	s.Run("out of range places clamp to the end", func() {
		s.selected(pub, d, 42)
		s.Equal([]id.ItemID{c.ID, a.ID, b.ID, d.ID}, s.leftOrder(pub))
	})

	s.Run("moving renumbers densely", func() {
		last := 3
		s.Require().NoError(s.graph.Atomically(s.ctx, "move", func(ctx context.Context, j *service.Journal) error {
			_, err := s.graph.UpdatePlaces(ctx, j, relC.ID, &last, nil)
			return err
		}))
		s.Equal([]id.ItemID{a.ID, b.ID, d.ID, c.ID}, s.leftOrder(pub))
	})

	s.Run("deleting closes the gap", func() {
		s.Require().NoError(s.graph.Atomically(s.ctx, "delete", func(ctx context.Context, j *service.Journal) error {
			return s.graph.DeleteRelationship(ctx, j, relA.ID)
		}))
		s.Equal([]id.ItemID{b.ID, d.ID, c.ID}, s.leftOrder(pub))
	})

	s.Run("right side places are independent", func() {
		rels, err := s.graph.FindAnchored(s.ctx, c.ID, s.srt.ID, models.SideRight)
		s.Require().NoError(err)
		s.Require().Len(rels, 1)
		s.Equal(0, rels[0].RightPlace)
	})
}

func (s *GraphSuite) TestEndpointTypesAreChecked() {
	pub := s.fixture.Item(s.T(), "Publication", "pub")
	notPerson := s.fixture.Item(s.T(), "Project", "proj")

	_, err := s.create(service.NewRelationship{TypeID: s.srt.ID, Left: pub.ID, Right: notPerson.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	s.Empty(s.fixture.Relationships(s.T(), pub.ID))
}

func (s *GraphSuite) TestUnknownEntityTypeIsRejected() {
	err := s.graph.Atomically(s.ctx, "create", func(ctx context.Context, j *service.Journal) error {
		return s.graph.CreateItem(ctx, j, &models.Item{EntityType: "Spaceship"})
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
}

func (s *GraphSuite) TestCardinality() {
	institution := s.fixture.Item(s.T(), "InstitutionPerson", "inst")
	person := s.fixture.Item(s.T(), "Person", "person")
	other := s.fixture.Item(s.T(), "Person", "other")
	s.fixture.Link(s.T(), registry.ShadowCopy, institution, person)
	rt, err := s.fixture.Registry.Lookup(registry.ShadowCopy, "InstitutionPerson", "Person")
	s.Require().NoError(err)

	s.Run("upper bound", func() {
		_, err := s.create(service.NewRelationship{TypeID: rt.ID, Left: institution.ID, Right: other.ID})
		s.True(dErrors.HasCode(err, dErrors.CodeCardinalityViolation), "got %v", err)
	})

	s.Run("lower bound", func() {
		strict := &models.RelationshipType{
			LeftType: "Project", RightType: "OrgUnit",
			LeftwardType: "isProjectOfOrgUnit", RightwardType: "isOrgUnitOfProject",
			Left:  models.Cardinality{Min: 1, Max: models.Unbounded},
			Right: models.Cardinality{Min: 0, Max: models.Unbounded},
		}
		s.Require().NoError(s.graph.CreateRelationshipType(s.ctx, strict))
		project := s.fixture.Item(s.T(), "Project", "proj")
		org := s.fixture.Item(s.T(), "OrgUnit", "org")
		rel, err := s.create(service.NewRelationship{TypeID: strict.ID, Left: project.ID, Right: org.ID})
		s.Require().NoError(err)

		err = s.graph.Atomically(s.ctx, "delete", func(ctx context.Context, j *service.Journal) error {
			return s.graph.DeleteRelationship(ctx, j, rel.ID)
		})
		s.True(dErrors.HasCode(err, dErrors.CodeCardinalityViolation), "got %v", err)

		s.Run("item deletion cascades past the minimum", func() {
			s.Require().NoError(s.graph.Atomically(s.ctx, "purge", func(ctx context.Context, j *service.Journal) error {
				return s.graph.DeleteItem(ctx, j, org.ID)
			}))
			s.Empty(s.fixture.Relationships(s.T(), project.ID))
		})
	})
}

func (s *GraphSuite) TestRelationshipTypeRegistration() {
	s.Run("rejects duplicates", func() {
		err := s.graph.CreateRelationshipType(s.ctx, &models.RelationshipType{
			LeftType: "Publication", RightType: "Person",
			LeftwardType:  registry.NamesOf(registry.SelectedResearchOutput).Leftward,
			RightwardType: registry.NamesOf(registry.SelectedResearchOutput).Rightward,
			Left:          models.Cardinality{Max: models.Unbounded},
			Right:         models.Cardinality{Max: models.Unbounded},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
	})

	s.Run("rejects inverted bounds", func() {
		err := s.graph.CreateRelationshipType(s.ctx, &models.RelationshipType{
			LeftType: "Publication", RightType: "Person", LeftwardType: "x", RightwardType: "y",
			Left: models.Cardinality{Min: 2, Max: 1},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})

	s.Run("rejects unknown entity types", func() {
		err := s.graph.CreateRelationshipType(s.ctx, &models.RelationshipType{
			LeftType: "Spaceship", RightType: "Person", LeftwardType: "x", RightwardType: "y",
			Left: models.Cardinality{Max: models.Unbounded}, Right: models.Cardinality{Max: models.Unbounded},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})

	s.Run("entity types are unique", func() {
		_, err := s.graph.CreateEntityType(s.ctx, "Person")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
	})
}

func (s *GraphSuite) TestReclassify() {
	authored := &models.RelationshipType{
		LeftType: "Publication", RightType: "Person",
		LeftwardType: "isAuthorOfPublication", RightwardType: "isPublicationOfAuthor",
		Left:  models.Cardinality{Max: models.Unbounded},
		Right: models.Cardinality{Max: models.Unbounded},
	}
	s.Require().NoError(s.graph.CreateRelationshipType(s.ctx, authored))
	pub := s.fixture.Item(s.T(), "Publication", "pub")
	a := s.fixture.Item(s.T(), "Person", "a")
	b := s.fixture.Item(s.T(), "Person", "b")
	relA := s.selected(pub, a, models.AppendPlace)
	s.selected(pub, b, models.AppendPlace)

	var moved *models.Relationship
	s.Require().NoError(s.graph.Atomically(s.ctx, "reclassify", func(ctx context.Context, j *service.Journal) error {
		var err error
		moved, err = s.graph.Reclassify(ctx, j, relA.ID, authored.ID)
		return err
	}))
	s.Equal(authored.ID, moved.TypeID)
	s.Equal(0, moved.LeftPlace)
	s.Equal([]id.ItemID{b.ID}, s.leftOrder(pub))

	indexed, err := s.fixture.Index.Field(s.ctx, pub.ID, "relation.isAuthorOfPublication")
	s.Require().NoError(err)
	s.Equal([]string{a.ID.String()}, indexed)
	indexed, err = s.fixture.Index.Field(s.ctx, pub.ID, s.srt.IndexField(models.SideLeft))
	s.Require().NoError(err)
	s.Equal([]string{b.ID.String()}, indexed)
}

func (s *GraphSuite) TestFailedUnitOfWorkIsCompensated() {
	pub := s.fixture.Item(s.T(), "Publication", "pub")
	a := s.fixture.Item(s.T(), "Person", "a")
	existing := s.selected(pub, a, models.AppendPlace)
	before := s.tx.calls.Load()

	boom := errors.New("boom")
	var created *models.Item
	err := s.graph.Atomically(s.ctx, "failing", func(ctx context.Context, j *service.Journal) error {
		created = &models.Item{EntityType: "Person"}
		if err := s.graph.CreateItem(ctx, j, created); err != nil {
			return err
		}
		if _, err := s.graph.CreateRelationship(ctx, j, service.NewRelationship{
			TypeID: s.srt.ID, Left: pub.ID, Right: created.ID, LeftPlace: 0, RightPlace: models.AppendPlace,
		}); err != nil {
			return err
		}
		if err := s.graph.DeleteRelationship(ctx, j, existing.ID); err != nil {
			return err
		}
		s.Equal(3, j.Len())
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal(before+1, s.tx.calls.Load())

	_, err = s.graph.FindItem(s.ctx, created.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal([]id.ItemID{a.ID}, s.leftOrder(pub))

	indexed, err := s.fixture.Index.Field(s.ctx, pub.ID, s.srt.IndexField(models.SideLeft))
	s.Require().NoError(err)
	s.Equal([]string{a.ID.String()}, indexed, "rolled back work never reaches the index")
}

func (s *GraphSuite) TestFailedCompensationIsEscalated() {
	err := s.graph.Atomically(s.ctx, "failing", func(ctx context.Context, j *service.Journal) error {
		if err := s.graph.CreateItem(ctx, j, &models.Item{EntityType: "Person"}); err != nil {
			return err
		}
		s.store.armed.Store(true)
		return errors.New("boom")
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInconsistentGraph), "got %v", err)
}

func (s *GraphSuite) TestAbsorbedJournalRollsBackWithParent() {
	pub := s.fixture.Item(s.T(), "Publication", "pub")
	a := s.fixture.Item(s.T(), "Person", "a")

	err := s.graph.Atomically(s.ctx, "nested", func(ctx context.Context, j *service.Journal) error {
		child := service.NewJournal()
		if _, err := s.graph.CreateRelationship(ctx, child, service.NewRelationship{
			TypeID: s.srt.ID, Left: pub.ID, Right: a.ID, LeftPlace: models.AppendPlace, RightPlace: models.AppendPlace,
		}); err != nil {
			return err
		}
		j.Absorb(child)
		s.Zero(child.Len())
		s.Len(j.Mutations(), 1)
		return errors.New("parent failed")
	})
	s.Error(err)
	s.Empty(s.fixture.Relationships(s.T(), pub.ID))
}

func TestSavepointRunnerUndoesFailedWorkWithoutReplay(t *testing.T) {
	mem := &undoFailingStore{InMemory: store.NewInMemory()}
	tx := &savepointTx{}
	f := graphtest.NewWithStore(t, mem, service.WithTx(tx))
	ctx := context.Background()

	boom := errors.New("boom")
	err := f.Graph.Atomically(ctx, "failing", func(ctx context.Context, j *service.Journal) error {
		if err := f.Graph.CreateItem(ctx, j, &models.Item{EntityType: "Person"}); err != nil {
			return err
		}
		// Compensating writes would fail now, as they do in an aborted transaction.
		mem.armed.Store(true)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, dErrors.HasCode(err, dErrors.CodeInconsistentGraph), "got %v", err)
	assert.Equal(t, int32(1), tx.rolledBack.Load())
	assert.Zero(t, tx.released.Load())
}

func TestNestedScopeRollsBackOnlyItsOwnWork(t *testing.T) {
	mem := &undoFailingStore{InMemory: store.NewInMemory()}
	tx := &savepointTx{}
	f := graphtest.NewWithStore(t, mem, service.WithTx(tx))
	ctx := context.Background()
	before := tx.opened.Load()

	var kept *models.Item
	err := f.Graph.Atomically(ctx, "outer", func(ctx context.Context, j *service.Journal) error {
		kept = &models.Item{EntityType: "Person"}
		if err := f.Graph.CreateItem(ctx, j, kept); err != nil {
			return err
		}
		scope, err := f.Graph.Nest(ctx)
		if err != nil {
			return err
		}
		if err := f.Graph.CreateItem(ctx, scope.Journal, &models.Item{EntityType: "Person"}); err != nil {
			return err
		}
		mem.armed.Store(true)
		require.NoError(t, scope.Rollback(ctx))
		mem.armed.Store(false)
		assert.Zero(t, scope.Journal.Len())
		assert.Equal(t, 1, j.Len())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, before+2, tx.opened.Load())
	assert.Equal(t, int32(1), tx.rolledBack.Load())
	assert.Equal(t, int32(1), tx.released.Load())

	_, err = f.Graph.FindItem(ctx, kept.ID)
	require.NoError(t, err)
}
