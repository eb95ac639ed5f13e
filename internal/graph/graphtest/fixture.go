// Package graphtest builds in-memory graphs seeded with the default
// vocabulary for engine tests.
package graphtest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"concytec/internal/graph/index"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/graph/store"
	"concytec/internal/platform/config"
	id "concytec/pkg/domain"
)

// Fixture is a seeded graph plus the in-memory index it synchronizes.
type Fixture struct {
	Store    *store.InMemory
	Graph    *graphsvc.Graph
	Registry *registry.Registry
	Index    *index.InMemory
	Routing  config.RoutingConfig
	Logger   *slog.Logger
}

// New seeds a fresh in-memory graph. Extra options are applied after the
// defaults, so a test may swap the store's TxRunner or IndexSync.
func New(t testing.TB, opts ...graphsvc.Option) *Fixture {
	t.Helper()
	return NewWithStore(t, store.NewInMemory(), opts...)
}

// NewWithStore is New over a caller supplied store, e.g. one that injects
// faults. The store must be empty.
func NewWithStore(t testing.TB, s graphsvc.Store, opts ...graphsvc.Option) *Fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx := index.NewInMemory()
	sync := index.NewSynchronizer(s, idx, index.WithLogger(logger))

	base := []graphsvc.Option{graphsvc.WithLogger(logger), graphsvc.WithIndexSync(sync)}
	g, err := graphsvc.New(s, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, registry.Seed(ctx, g, registry.DefaultVocabulary()))
	reg, err := registry.Resolve(ctx, g)
	require.NoError(t, err)

	f := &Fixture{
		Graph:    g,
		Registry: reg,
		Index:    idx,
		Routing:  DefaultRouting(),
		Logger:   logger,
	}
	if mem, ok := s.(*store.InMemory); ok {
		f.Store = mem
	}
	return f
}

// Collections used by DefaultRouting.
var (
	InstitutionCollection = id.NewCollectionID()
	DirectorioCollection  = id.NewCollectionID()
	CloneCollection       = id.NewCollectionID()
	ProfileCollection     = id.NewCollectionID()
)

// DefaultRouting shadows InstitutionCollection persons into
// DirectorioCollection and lets Person items be claimed.
func DefaultRouting() config.RoutingConfig {
	return config.RoutingConfig{
		ShadowRoutes: map[id.CollectionID]config.ShadowRoute{
			InstitutionCollection: {TargetCollection: DirectorioCollection, TargetEntityType: "Person"},
		},
		CloneCollections: map[string]id.CollectionID{
			"CvPersonClone":      CloneCollection,
			"CvPublicationClone": CloneCollection,
		},
		ProfileCollection: ProfileCollection,
		ClaimableTypes:    []string{"Person"},
		HiddenFields:      []string{"perucris.identifier.dni"},
		ItemURIBase:       "https://ctivitae.example.org/server/api/core/items",
	}
}

// Item creates an archived, publicly readable item of entityType.
func (f *Fixture) Item(t testing.TB, entityType, title string, mutate ...func(*models.Item)) *models.Item {
	t.Helper()
	item := &models.Item{
		EntityType:   entityType,
		CollectionID: DirectorioCollection,
		Archived:     true,
		Discoverable: true,
		Policies:     []models.Policy{{Action: models.ActionRead, Group: id.Anonymous}},
	}
	item.SetValue(models.FieldTitle, title)
	for _, fn := range mutate {
		fn(item)
	}
	require.NoError(t, f.Graph.Atomically(context.Background(), "fixture_item", func(ctx context.Context, j *graphsvc.Journal) error {
		return f.Graph.CreateItem(ctx, j, item)
	}))
	return item
}

// Link creates a kind relationship between left and right, appended to both
// anchor groups.
func (f *Fixture) Link(t testing.TB, kind registry.Kind, left, right *models.Item) *models.Relationship {
	t.Helper()
	rt, err := f.Registry.Lookup(kind, left.EntityType, right.EntityType)
	require.NoError(t, err)
	var rel *models.Relationship
	require.NoError(t, f.Graph.Atomically(context.Background(), "fixture_link", func(ctx context.Context, j *graphsvc.Journal) error {
		var err error
		rel, err = f.Graph.CreateRelationship(ctx, j, graphsvc.NewRelationship{
			TypeID:     rt.ID,
			Left:       left.ID,
			Right:      right.ID,
			LeftPlace:  models.AppendPlace,
			RightPlace: models.AppendPlace,
		})
		return err
	}))
	return rel
}

// Reload returns the stored state of item.
func (f *Fixture) Reload(t testing.TB, itemID id.ItemID) *models.Item {
	t.Helper()
	item, err := f.Graph.FindItem(context.Background(), itemID)
	require.NoError(t, err)
	return item
}

// Relationships returns every relationship touching item.
func (f *Fixture) Relationships(t testing.TB, itemID id.ItemID) []*models.Relationship {
	t.Helper()
	rels, err := f.Graph.FindRelationships(context.Background(), itemID)
	require.NoError(t, err)
	return rels
}

// Count returns how many kind relationships touch item.
func (f *Fixture) Count(t testing.TB, itemID id.ItemID, kind registry.Kind) int {
	t.Helper()
	n := 0
	for _, rel := range f.Relationships(t, itemID) {
		if f.Registry.Is(rel, kind) {
			n++
		}
	}
	return n
}

// Neighbours returns the items of entityType related to itemID.
func (f *Fixture) Neighbours(t testing.TB, itemID id.ItemID, entityType string) []*models.Item {
	t.Helper()
	var out []*models.Item
	for _, rel := range f.Relationships(t, itemID) {
		other := rel.LeftItem
		if other == itemID {
			other = rel.RightItem
		}
		item := f.Reload(t, other)
		if item.EntityType == entityType {
			out = append(out, item)
		}
	}
	return out
}
