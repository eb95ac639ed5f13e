// Package service implements the Concytec workflow over the item graph:
// shadow copies of archived institutional items into the Directorio, the
// merge resolver used by institution-backed claims, correction items and
// the CTI-Vitae/Directorio lookups.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"concytec/internal/concytec/lock"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/platform/config"
	"concytec/internal/platform/metrics"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
	"concytec/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service orchestrates the Concytec workflow.
type Service struct {
	graph          *graphsvc.Graph
	registry       Registry
	routing        config.RoutingConfig
	locker         lock.Locker
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

// WithLocker replaces the default in-process sharded locker, e.g. with the
// Redis lease locker when several replicas share one graph.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// New constructs a Service. routing is copied; later changes to the caller's
// value do not affect the service.
func New(graph *graphsvc.Graph, registry Registry, routing config.RoutingConfig, opts ...Option) (*Service, error) {
	if graph == nil {
		return nil, errors.New("graph is required")
	}
	if registry == nil {
		return nil, errors.New("relationship registry is required")
	}
	s := &Service{
		graph:    graph,
		registry: registry,
		routing:  routing,
		locker:   lock.NewSharded(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("concytec/workflow"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Graph exposes the underlying graph for collaborating engines.
func (s *Service) Graph() *graphsvc.Graph {
	return s.graph
}

// Routing returns the routing the service was built with.
func (s *Service) Routing() config.RoutingConfig {
	return s.routing
}

// Locker returns the locker serializing workflow mutations.
func (s *Service) Locker() lock.Locker {
	return s.locker
}

func (s *Service) withLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to acquire item lock")
	}
	defer release()
	return fn(ctx)
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
		s.logger.WarnContext(ctx, "failed to publish graph event", "event", string(event), "error", err)
	}
}

func (s *Service) incrementShadowCopy(operation string) {
	if s.metrics != nil {
		s.metrics.IncrementShadowCopy(operation)
	}
}

func (s *Service) incrementMerge(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementMerge(outcome)
	}
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx)
}
