// Package index keeps relationship-derived search fields in step with the graph.
//
// Every committed relationship mutation recomputes the ordered
// relation.<leftwardType> / relation.<rightwardType> fields for the mutated
// endpoints and for every item on the far side of a sibling relationship, then
// pushes the full field set for each affected item to the Indexer. Types that
// share a field name (SelectedResearchOutput from Publication and from Patent)
// feed one field, concatenated in registry order.
package index

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"concytec/internal/graph/models"
	"concytec/internal/platform/metrics"
	id "concytec/pkg/domain"
)

//go:generate mockgen -source=sync.go -destination=mocks/mocks.go -package=mocks Indexer

// Indexer receives the full ordered relation field set of one item.
type Indexer interface {
	Reindex(ctx context.Context, itemID id.ItemID, fields map[string][]string) error
}

// Purger is implemented by indexers that can drop a whole item document.
type Purger interface {
	Purge(ctx context.Context, itemID id.ItemID) error
}

// RelationReader is the read side of the graph needed to recompute fields.
type RelationReader interface {
	FindRelationshipType(ctx context.Context, typeID id.RelationshipTypeID) (*models.RelationshipType, error)
	ListRelationshipTypes(ctx context.Context) ([]*models.RelationshipType, error)
	FindRelationshipsByAnchor(ctx context.Context, itemID id.ItemID, typeID id.RelationshipTypeID, side models.Side) ([]*models.Relationship, error)
}

const defaultConcurrency = 4

// Synchronizer recomputes relation fields after relationship mutations.
type Synchronizer struct {
	reader      RelationReader
	indexer     Indexer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

type Option func(*Synchronizer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithConcurrency bounds parallel Reindex calls within one pass.
func WithConcurrency(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewSynchronizer(reader RelationReader, indexer Indexer, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		reader:      reader,
		indexer:     indexer,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type anchor struct {
	typeID id.RelationshipTypeID
	side   models.Side
}

// feeders maps an index field name to every (type, side) that contributes to
// it, in the order ListRelationshipTypes returns the types.
func (s *Synchronizer) feeders(ctx context.Context) (map[string][]anchor, error) {
	types, err := s.reader.ListRelationshipTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]anchor)
	for _, rt := range types {
		for _, side := range []models.Side{models.SideLeft, models.SideRight} {
			field := rt.IndexField(side)
			out[field] = append(out[field], anchor{typeID: rt.ID, side: side})
		}
	}
	return out, nil
}

// OnRelationshipMutated reindexes every item affected by the mutations and
// waits for all pushes. Failures are logged and never returned.
func (s *Synchronizer) OnRelationshipMutated(ctx context.Context, mutations ...models.Mutation) {
	if len(mutations) == 0 || s.indexer == nil {
		return
	}
	start := time.Now()
	defer s.observe(start)

	docs, err := s.plan(ctx, mutations)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to compute relation index fields",
			"mutations", len(mutations),
			"error", err,
		)
		s.incrementFailure()
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for itemID, fields := range docs {
		g.Go(func() error {
			s.push(gctx, itemID, fields)
			return nil
		})
	}
	_ = g.Wait()
}

// OnItemsDeleted drops the documents of purged items when the indexer
// supports it.
func (s *Synchronizer) OnItemsDeleted(ctx context.Context, itemIDs ...id.ItemID) {
	purger, ok := s.indexer.(Purger)
	if !ok {
		return
	}
	for _, itemID := range itemIDs {
		if err := purger.Purge(ctx, itemID); err != nil {
			s.logger.WarnContext(ctx, "failed to purge index document",
				"item_id", itemID.String(),
				"error", err,
			)
		}
	}
}

// Fields returns the ordered far-side item ids held under field for item,
// which is exactly what the index holds for that field. Every relationship
// type whose IndexField on some side equals field contributes its group.
func (s *Synchronizer) Fields(ctx context.Context, itemID id.ItemID, field string) ([]string, error) {
	feeders, err := s.feeders(ctx)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, itemID, feeders[field])
}

func (s *Synchronizer) collect(ctx context.Context, itemID id.ItemID, anchors []anchor) ([]string, error) {
	values := make([]string, 0)
	for _, a := range anchors {
		group, err := s.reader.FindRelationshipsByAnchor(ctx, itemID, a.typeID, a.side)
		if err != nil {
			return nil, err
		}
		for _, rel := range group {
			values = append(values, rel.Other(a.side).String())
		}
	}
	return values, nil
}

func (s *Synchronizer) plan(ctx context.Context, mutations []models.Mutation) (map[id.ItemID]map[string][]string, error) {
	affected := make(map[id.ItemID]map[string]struct{})
	mark := func(itemID id.ItemID, field string) {
		if affected[itemID] == nil {
			affected[itemID] = make(map[string]struct{})
		}
		affected[itemID][field] = struct{}{}
	}

	types := make(map[id.RelationshipTypeID]*models.RelationshipType)
	for _, m := range mutations {
		rel := m.Relationship
		rt, ok := types[rel.TypeID]
		if !ok {
			var err error
			rt, err = s.reader.FindRelationshipType(ctx, rel.TypeID)
			if err != nil {
				return nil, err
			}
			types[rel.TypeID] = rt
		}
		for _, side := range []models.Side{models.SideLeft, models.SideRight} {
			mark(rel.Anchor(side), rt.IndexField(side))
			siblings, err := s.reader.FindRelationshipsByAnchor(ctx, rel.Anchor(side), rel.TypeID, side)
			if err != nil {
				return nil, err
			}
			for _, sib := range siblings {
				mark(sib.Other(side), rt.IndexField(side.Opposite()))
			}
		}
	}

	feeders, err := s.feeders(ctx)
	if err != nil {
		return nil, err
	}
	docs := make(map[id.ItemID]map[string][]string, len(affected))
	for itemID, names := range affected {
		fields := make(map[string][]string, len(names))
		for field := range names {
			values, err := s.collect(ctx, itemID, feeders[field])
			if err != nil {
				return nil, err
			}
			fields[field] = values
		}
		docs[itemID] = fields
	}
	return docs, nil
}

func (s *Synchronizer) push(ctx context.Context, itemID id.ItemID, fields map[string][]string) {
	err := s.indexer.Reindex(ctx, itemID, fields)
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "reindex failed, retrying once",
		"item_id", itemID.String(),
		"error", err,
	)
	if err = s.indexer.Reindex(ctx, itemID, fields); err == nil {
		return
	}
	s.logger.ErrorContext(ctx, "reindex failed after retry",
		"item_id", itemID.String(),
		"error", err,
	)
	s.incrementFailure()
}

func (s *Synchronizer) incrementFailure() {
	if s.metrics != nil {
		s.metrics.IncrementReindexFailure()
	}
}

func (s *Synchronizer) observe(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveReindex(start)
	}
}
