package index_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"concytec/internal/graph/graphtest"
	"concytec/internal/graph/index"
	"concytec/internal/graph/index/mocks"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/graph/store"
	"concytec/internal/platform/metrics"
)

type SynchronizerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	indexer *mocks.MockIndexer
	metrics *metrics.Metrics
	fixture *graphtest.Fixture
	field   string
	back    string
}

func TestSynchronizerSuite(t *testing.T) {
	suite.Run(t, new(SynchronizerSuite))
}

func (s *SynchronizerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.indexer = mocks.NewMockIndexer(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())

	mem := store.NewInMemory()
	sync := index.NewSynchronizer(mem, s.indexer,
		index.WithMetrics(s.metrics),
		index.WithConcurrency(2),
	)
	s.fixture = graphtest.NewWithStore(s.T(), mem, graphsvc.WithIndexSync(sync))

	rt, err := s.fixture.Registry.Lookup(registry.SelectedResearchOutput, "Patent", "Person")
	s.Require().NoError(err)
	s.field = rt.IndexField(models.SideLeft)
	s.back = rt.IndexField(models.SideRight)
}

func (s *SynchronizerSuite) TestPushesFullOrderedFieldsForBothEndpoints() {
	pub := s.fixture.Item(s.T(), "Patent", "pub1")
	a := s.fixture.Item(s.T(), "Person", "a")
	b := s.fixture.Item(s.T(), "Person", "b")

	s.indexer.EXPECT().Reindex(gomock.Any(), pub.ID, map[string][]string{s.field: {a.ID.String()}}).Return(nil)
	s.indexer.EXPECT().Reindex(gomock.Any(), a.ID, map[string][]string{s.back: {pub.ID.String()}}).Return(nil)
	s.fixture.Link(s.T(), registry.SelectedResearchOutput, pub, a)

	s.indexer.EXPECT().Reindex(gomock.Any(), pub.ID, map[string][]string{s.field: {a.ID.String(), b.ID.String()}}).Return(nil)
	s.indexer.EXPECT().Reindex(gomock.Any(), a.ID, map[string][]string{s.back: {pub.ID.String()}}).Return(nil)
	s.indexer.EXPECT().Reindex(gomock.Any(), b.ID, map[string][]string{s.back: {pub.ID.String()}}).Return(nil)
	s.fixture.Link(s.T(), registry.SelectedResearchOutput, pub, b)
}

func (s *SynchronizerSuite) TestRetriesOnce() {
	pub := s.fixture.Item(s.T(), "Patent", "pub1")
	a := s.fixture.Item(s.T(), "Person", "a")

	s.indexer.EXPECT().Reindex(gomock.Any(), pub.ID, gomock.Any()).Return(errors.New("solr busy"))
	s.indexer.EXPECT().Reindex(gomock.Any(), pub.ID, gomock.Any()).Return(nil)
	s.indexer.EXPECT().Reindex(gomock.Any(), a.ID, gomock.Any()).Return(nil)
	s.fixture.Link(s.T(), registry.SelectedResearchOutput, pub, a)

	s.Zero(promtestutil.ToFloat64(s.metrics.ReindexFailures))
}

func (s *SynchronizerSuite) TestFailureNeverFailsTheMutation() {
	pub := s.fixture.Item(s.T(), "Patent", "pub1")
	a := s.fixture.Item(s.T(), "Person", "a")

	s.indexer.EXPECT().Reindex(gomock.Any(), pub.ID, gomock.Any()).Return(errors.New("solr down")).Times(2)
	s.indexer.EXPECT().Reindex(gomock.Any(), a.ID, gomock.Any()).Return(nil)
	rel := s.fixture.Link(s.T(), registry.SelectedResearchOutput, pub, a)

	s.NotNil(rel)
	s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.ReindexFailures))
}

func TestInMemoryIndexPurgesDeletedItems(t *testing.T) {
	f := graphtest.New(t)
	ctx := context.Background()
	pub := f.Item(t, "Patent", "pub1")
	a := f.Item(t, "Person", "a")
	f.Link(t, registry.SelectedResearchOutput, pub, a)

	if doc := f.Index.Document(a.ID); len(doc) == 0 {
		t.Fatalf("expected an indexed document for %s", a.ID)
	}
	err := f.Graph.Atomically(ctx, "purge", func(ctx context.Context, j *graphsvc.Journal) error {
		return f.Graph.DeleteItem(ctx, j, a.ID)
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc := f.Index.Document(a.ID); len(doc) != 0 {
		t.Fatalf("expected purged document, got %v", doc)
	}
	values, err := f.Index.Field(ctx, pub.ID, "relation.isResearchoutputsSelectedFor")
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 0 {
		t.Fatalf("expected empty field after cascade, got %v", values)
	}
}

func TestTypesSharingAFieldNameFeedOneField(t *testing.T) {
	f := graphtest.New(t)
	ctx := context.Background()
	pub := f.Item(t, "Publication", "pub")
	pat := f.Item(t, "Patent", "pat")
	author := f.Item(t, "Person", "author")

	fromPub := f.Link(t, registry.SelectedResearchOutput, pub, author)
	f.Link(t, registry.SelectedResearchOutput, pat, author)

	rt, err := f.Registry.Lookup(registry.SelectedResearchOutput, "Publication", "Person")
	require.NoError(t, err)
	field := rt.IndexField(models.SideRight)

	values, err := f.Index.Field(ctx, author.ID, field)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{pub.ID.String(), pat.ID.String()}, values)

	err = f.Graph.Atomically(ctx, "unlink", func(ctx context.Context, j *graphsvc.Journal) error {
		return f.Graph.DeleteRelationship(ctx, j, fromPub.ID)
	})
	require.NoError(t, err)

	values, err = f.Index.Field(ctx, author.ID, field)
	require.NoError(t, err)
	require.Equal(t, []string{pat.ID.String()}, values)
}
