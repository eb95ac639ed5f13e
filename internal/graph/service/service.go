// Package service enforces the rules of the typed item graph: entity type
// compatibility, cardinality bounds and dense place ordering. Every mutation
// is recorded in a Journal so a failed unit of work can be compensated, and
// committed relationship changes are pushed to the index synchronizer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"concytec/internal/graph/models"
	"concytec/internal/platform/metrics"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	"concytec/pkg/platform/sentinel"
	"concytec/pkg/requestcontext"
)

// Store is the persistence collaborator of the graph.
type Store interface {
	CreateEntityType(ctx context.Context, et *models.EntityType) error
	FindEntityTypeByLabel(ctx context.Context, label string) (*models.EntityType, error)
	ListEntityTypes(ctx context.Context) ([]*models.EntityType, error)
	CreateRelationshipType(ctx context.Context, rt *models.RelationshipType) error
	FindRelationshipType(ctx context.Context, typeID id.RelationshipTypeID) (*models.RelationshipType, error)
	ListRelationshipTypes(ctx context.Context) ([]*models.RelationshipType, error)

	SaveItem(ctx context.Context, item *models.Item) error
	FindItem(ctx context.Context, itemID id.ItemID) (*models.Item, error)
	FindItemsByAuthority(ctx context.Context, field, authority string) ([]*models.Item, error)
	DeleteItem(ctx context.Context, itemID id.ItemID) error

	SaveRelationship(ctx context.Context, rel *models.Relationship) error
	FindRelationship(ctx context.Context, relID id.RelationshipID) (*models.Relationship, error)
	FindRelationshipsByItem(ctx context.Context, itemID id.ItemID) ([]*models.Relationship, error)
	FindRelationshipsByAnchor(ctx context.Context, itemID id.ItemID, typeID id.RelationshipTypeID, side models.Side) ([]*models.Relationship, error)
	DeleteRelationship(ctx context.Context, relID id.RelationshipID) error
}

// TxRunner provides the transactional boundary of a unit of work.
// Implementations may wrap a database transaction; fn receives the context
// that carries it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Savepoint marks a point inside the ambient transaction.
type Savepoint interface {
	// RollbackTo discards every write made since the savepoint.
	RollbackTo(ctx context.Context) error
	Release(ctx context.Context) error
}

// Savepointer is implemented by TxRunners whose transaction can be rolled
// back in part. Savepoint returns nil when no transaction is ambient in ctx.
// A unit of work that fails under a savepoint is undone by the database and
// its journal is discarded rather than replayed, since a failed statement
// leaves the transaction unable to run the compensating writes.
type Savepointer interface {
	Savepoint(ctx context.Context) (Savepoint, error)
}

// IndexSync is notified after a unit of work commits.
type IndexSync interface {
	OnRelationshipMutated(ctx context.Context, mutations ...models.Mutation)
	OnItemsDeleted(ctx context.Context, itemIDs ...id.ItemID)
}

type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Graph is the EntityGraph: typed items and ordered, typed relationships.
type Graph struct {
	store   Store
	tx      TxRunner
	sync    IndexSync
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Graph)

func WithTx(tx TxRunner) Option {
	return func(g *Graph) {
		if tx != nil {
			g.tx = tx
		}
	}
}

func WithIndexSync(sync IndexSync) Option {
	return func(g *Graph) {
		g.sync = sync
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Graph) {
		g.metrics = m
	}
}

// New constructs a Graph over store.
func New(store Store, opts ...Option) (*Graph, error) {
	if store == nil {
		return nil, errors.New("graph store is required")
	}
	g := &Graph{
		store:  store,
		tx:     passthroughTx{},
		logger: slog.Default(),
		tracer: otel.Tracer("concytec/graph"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Atomically runs fn as one unit of work. If fn fails, every write it made is
// undone before the error is returned: by rolling back to a savepoint when the
// TxRunner supports them, otherwise by compensating each recorded step in
// reverse order. If undoing itself fails the graph may be inconsistent and the
// error is escalated with CodeInconsistentGraph. On success the recorded
// relationship mutations are pushed to the index before Atomically returns.
func (g *Graph) Atomically(ctx context.Context, name string, fn func(ctx context.Context, j *Journal) error) error {
	ctx, span := g.tracer.Start(ctx, "graph."+name)
	defer span.End()

	j := NewJournal()
	err := g.tx.RunInTx(ctx, func(ctx context.Context) error {
		scope, err := g.Nest(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, scope.Journal); err != nil {
			if rbErr := scope.Rollback(ctx); rbErr != nil {
				return g.escalate(ctx, name, err, rbErr)
			}
			return err
		}
		return scope.Commit(ctx, j)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.SafeMessage(err))
		return err
	}
	span.SetAttributes(attribute.Int("graph.mutations", len(j.mutations)))
	g.commit(ctx, j)
	return nil
}

// Scope is a unit of work nested in an enclosing one. Its writes are recorded
// in Journal and can be undone without touching what the enclosing unit
// wrote before the scope was opened.
type Scope struct {
	Journal *Journal
	graph   *Graph
	sp      Savepoint
}

// Nest opens a Scope at the current point of the ambient transaction.
func (g *Graph) Nest(ctx context.Context) (*Scope, error) {
	scope := &Scope{Journal: NewJournal(), graph: g}
	if sp, ok := g.tx.(Savepointer); ok {
		point, err := sp.Savepoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("open savepoint: %w", err)
		}
		scope.sp = point
	}
	return scope, nil
}

// Rollback undoes every write made in the scope and empties its journal.
func (s *Scope) Rollback(ctx context.Context) error {
	if s.sp == nil {
		return s.graph.Rollback(ctx, s.Journal)
	}
	s.Journal.reset()
	if err := s.sp.RollbackTo(ctx); err != nil {
		s.graph.incrementRollback("failed")
		return fmt.Errorf("rollback to savepoint: %w", err)
	}
	s.graph.incrementRollback("completed")
	return nil
}

// Commit releases the scope and moves its journal into parent, so its writes
// are undone together with the enclosing unit of work.
func (s *Scope) Commit(ctx context.Context, parent *Journal) error {
	if s.sp != nil {
		if err := s.sp.Release(ctx); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
	}
	parent.Absorb(s.Journal)
	return nil
}

// Rollback replays the inverse of every recorded step, newest first, and
// empties the journal. All steps are attempted; the joined failures are
// returned.
func (g *Graph) Rollback(ctx context.Context, j *Journal) error {
	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		step := j.steps[i]
		if err := step.undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", step.name, err))
		}
	}
	j.reset()
	if len(errs) > 0 {
		g.incrementRollback("failed")
		return errors.Join(errs...)
	}
	g.incrementRollback("completed")
	return nil
}

func (g *Graph) escalate(ctx context.Context, name string, cause, rbErr error) error {
	g.logger.ErrorContext(ctx, "CRITICAL: compensation failed, graph may be inconsistent",
		"operation", name,
		"cause", cause,
		"rollback_error", rbErr,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(errors.Join(cause, rbErr), dErrors.CodeInconsistentGraph,
		fmt.Sprintf("%s: rollback failed", name))
}

func (g *Graph) commit(ctx context.Context, j *Journal) {
	if g.metrics != nil {
		for _, m := range j.mutations {
			g.metrics.IncrementRelationshipMutation(string(m.Kind))
		}
	}
	if g.sync == nil {
		return
	}
	g.sync.OnRelationshipMutated(ctx, j.mutations...)
	if len(j.deleted) > 0 {
		g.sync.OnItemsDeleted(ctx, j.deleted...)
	}
}

func (g *Graph) incrementRollback(outcome string) {
	if g.metrics != nil {
		g.metrics.IncrementRollback(outcome)
	}
}

func translateLoad(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}
