// Package source imports metadata records from external systems (CTI
// Vitae, ORCID, RENIEC style services) and resolves repository item URIs.
package source

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"concytec/internal/graph/models"
)

// Provider streams the metadata of one external record. The sequence is
// finite and single pass; an error ends it.
type Provider interface {
	ID() string
	Handles(u *url.URL) bool
	Records(ctx context.Context, u *url.URL) iter.Seq2[models.MetadataValue, error]
}

// Registry dispatches source URIs to the first provider that handles them.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds p. Provider ids are unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.providers {
		if existing.ID() == p.ID() {
			return fmt.Errorf("source provider %s already registered", p.ID())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

func (r *Registry) providerFor(u *url.URL) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Handles(u) {
			return p
		}
	}
	return nil
}

// Import streams the records behind uri. Failures are yielded once as
// domain errors and end the sequence.
func (r *Registry) Import(ctx context.Context, uri string) iter.Seq2[models.MetadataValue, error] {
	return func(yield func(models.MetadataValue, error) bool) {
		u, err := url.Parse(strings.TrimSpace(uri))
		if err != nil || u.Host == "" {
			yield(models.MetadataValue{}, toDomainError(ErrNoProvider))
			return
		}
		p := r.providerFor(u)
		if p == nil {
			r.logger.WarnContext(ctx, "no source provider for uri", "host", u.Host)
			yield(models.MetadataValue{}, toDomainError(ErrNoProvider))
			return
		}
		for mv, err := range p.Records(ctx, u) {
			if err != nil {
				r.logger.WarnContext(ctx, "source import failed",
					"provider", p.ID(),
					"category", string(CategoryOf(err)),
					"error", err,
				)
				yield(models.MetadataValue{}, toDomainError(err))
				return
			}
			if !yield(mv, nil) {
				return
			}
		}
	}
}
