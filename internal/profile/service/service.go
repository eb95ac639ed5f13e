// Package service manages researcher profiles: claiming an existing person
// item, creating, deleting and publishing profiles, and the CV entities a
// profile owns.
package service

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"concytec/internal/concytec/lock"
	concytec "concytec/internal/concytec/service"
	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/platform/config"
	"concytec/internal/platform/metrics"
	profilemodels "concytec/internal/profile/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
	"concytec/pkg/requestcontext"
)

// Graph is the subset of the item graph the profile engine uses.
type Graph interface {
	Atomically(ctx context.Context, name string, fn func(ctx context.Context, j *graphsvc.Journal) error) error
	CreateItem(ctx context.Context, j *graphsvc.Journal, item *models.Item) error
	UpdateItem(ctx context.Context, j *graphsvc.Journal, item *models.Item) error
	DeleteItem(ctx context.Context, j *graphsvc.Journal, itemID id.ItemID) error
	FindItem(ctx context.Context, itemID id.ItemID) (*models.Item, error)
	FindItemsByAuthority(ctx context.Context, field, authority string) ([]*models.Item, error)
	CreateRelationship(ctx context.Context, j *graphsvc.Journal, req graphsvc.NewRelationship) (*models.Relationship, error)
	FindAnchored(ctx context.Context, itemID id.ItemID, typeID id.RelationshipTypeID, side models.Side) ([]*models.Relationship, error)
}

// Workflow is the Concytec workflow collaborator.
type Workflow interface {
	InstitutionSource(ctx context.Context, target *models.Item) (*models.Item, error)
	ResolveInstitutionBackedClaim(ctx context.Context, j *graphsvc.Journal, target, clone *models.Item) (*concytec.MergeResult, error)
	FindClone(ctx context.Context, itemID id.ItemID) (*models.Item, error)
}

type Registry interface {
	Lookup(kind registry.Kind, leftType, rightType string) (*models.RelationshipType, error)
	FindByLeft(kind registry.Kind, leftType string) []*models.RelationshipType
	FindByRight(kind registry.Kind, rightType string) []*models.RelationshipType
}

// Authorizer is consulted before any claim, delete or visibility change.
type Authorizer interface {
	CanRead(ctx context.Context, item *models.Item) bool
	CanManage(ctx context.Context, actor, profileOwner id.EPersonID) bool
}

// ItemResolver turns an external item URI into an item id.
type ItemResolver interface {
	Resolve(ctx context.Context, uri string) (id.ItemID, error)
}

// SourceImporter reads the metadata records of an external source URI.
type SourceImporter interface {
	Import(ctx context.Context, uri string) iter.Seq2[models.MetadataValue, error]
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// AfterDeleteAction runs once a profile item has been deleted, inside the
// same unit of work. Mutations must go through j so they roll back with it.
type AfterDeleteAction interface {
	AfterProfileDeleted(ctx context.Context, j *graphsvc.Journal, profile *profilemodels.ResearcherProfile) error
}

// Service orchestrates researcher profiles.
type Service struct {
	graph          Graph
	workflow       Workflow
	registry       Registry
	routing        config.RoutingConfig
	authz          Authorizer
	locker         lock.Locker
	resolver       ItemResolver
	importer       SourceImporter
	afterDelete    []AfterDeleteAction
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithItemResolver(r ItemResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

func WithSourceImporter(i SourceImporter) Option {
	return func(s *Service) {
		s.importer = i
	}
}

// WithAfterDeleteActions appends hooks run, in order, after a profile is deleted.
func WithAfterDeleteActions(actions ...AfterDeleteAction) Option {
	return func(s *Service) {
		s.afterDelete = append(s.afterDelete, actions...)
	}
}

// New constructs a Service.
func New(graph Graph, workflow Workflow, registry Registry, routing config.RoutingConfig, authz Authorizer, opts ...Option) (*Service, error) {
	switch {
	case graph == nil:
		return nil, errors.New("graph is required")
	case workflow == nil:
		return nil, errors.New("workflow is required")
	case registry == nil:
		return nil, errors.New("relationship registry is required")
	case authz == nil:
		return nil, errors.New("authorizer is required")
	}
	s := &Service{
		graph:    graph,
		workflow: workflow,
		registry: registry,
		routing:  routing,
		authz:    authz,
		locker:   lock.NewSharded(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("concytec/profile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// requireManage checks that the caller may act on behalf of owner.
func (s *Service) requireManage(ctx context.Context, owner id.EPersonID) error {
	if !s.authz.CanManage(ctx, requestcontext.Actor(ctx), owner) {
		return dErrors.New(dErrors.CodeForbidden, "not allowed to manage this profile")
	}
	return nil
}

func (s *Service) withLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to acquire profile lock")
	}
	defer release()
	return fn(ctx)
}

// findProfileItem returns the CvPerson item owned by ePersonID, or nil.
func (s *Service) findProfileItem(ctx context.Context, ePersonID id.EPersonID) (*models.Item, error) {
	items, err := s.graph.FindItemsByAuthority(ctx, models.FieldOwner, ePersonID.String())
	if err != nil {
		return nil, err
	}
	var found *models.Item
	for _, item := range items {
		if item.EntityType != profilemodels.ProfileEntityType {
			continue
		}
		if found != nil {
			return nil, dErrors.Newf(dErrors.CodeInconsistentGraph, "eperson %s owns more than one profile", ePersonID)
		}
		found = item
	}
	return found, nil
}

// anchored returns the far-side items of every kind relationship on side of item.
func (s *Service) anchored(ctx context.Context, item *models.Item, kind registry.Kind, side models.Side) ([]id.ItemID, error) {
	var types []*models.RelationshipType
	if side == models.SideLeft {
		types = s.registry.FindByLeft(kind, item.EntityType)
	} else {
		types = s.registry.FindByRight(kind, item.EntityType)
	}
	var out []id.ItemID
	for _, rt := range types {
		rels, err := s.graph.FindAnchored(ctx, item.ID, rt.ID, side)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			out = append(out, rel.Other(side))
		}
	}
	return out, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, e audit.Event, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
		e.RequestID = requestID
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	e.Action = string(event)
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	if actor := requestcontext.Actor(ctx); !actor.IsNil() {
		e.ActorID = actor.String()
	}
	if err := s.auditPublisher.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to publish profile event", "event", string(event), "error", err)
	}
}

func (s *Service) incrementProfileOperation(operation string) {
	if s.metrics != nil {
		s.metrics.IncrementProfileOperation(operation)
	}
}
