// Package authz answers the two authorization questions the workflow engines
// ask: may the current actor read an item, and may they manage a profile.
package authz

import (
	"context"
	"log/slog"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
	"concytec/pkg/requestcontext"
)

// Membership lists the groups an EPerson belongs to.
type Membership interface {
	GroupsOf(ctx context.Context, ePersonID id.EPersonID) ([]id.GroupID, error)
}

// PolicyAuthorizer evaluates item resource policies. Site administrators,
// flagged on the request context, pass every check.
type PolicyAuthorizer struct {
	membership Membership
	logger     *slog.Logger
}

type Option func(*PolicyAuthorizer)

func WithMembership(m Membership) Option {
	return func(a *PolicyAuthorizer) {
		a.membership = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *PolicyAuthorizer) {
		a.logger = logger
	}
}

func New(opts ...Option) *PolicyAuthorizer {
	a := &PolicyAuthorizer{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CanRead reports whether the request actor holds READ or ADMIN on item,
// directly or through a group. Anonymous READ grants everyone.
func (a *PolicyAuthorizer) CanRead(ctx context.Context, item *models.Item) bool {
	if item == nil {
		return false
	}
	if requestcontext.IsAdmin(ctx) || item.IsPublic() {
		return true
	}
	actor := requestcontext.Actor(ctx)
	if actor == (id.EPersonID{}) {
		return false
	}
	for _, action := range []models.Action{models.ActionRead, models.ActionAdmin} {
		if item.HasPolicy(models.Policy{Action: action, EPerson: actor}) {
			return true
		}
	}
	return a.readableThroughGroup(ctx, actor, item)
}

// CanManage reports whether actor may act on the profile of profileOwner:
// only the owner themselves or an administrator.
func (a *PolicyAuthorizer) CanManage(ctx context.Context, actor, profileOwner id.EPersonID) bool {
	if requestcontext.IsAdmin(ctx) {
		return true
	}
	if actor == (id.EPersonID{}) {
		return false
	}
	return actor == profileOwner
}

func (a *PolicyAuthorizer) readableThroughGroup(ctx context.Context, actor id.EPersonID, item *models.Item) bool {
	if a.membership == nil {
		return false
	}
	groups, err := a.membership.GroupsOf(ctx, actor)
	if err != nil {
		a.logger.WarnContext(ctx, "group membership lookup failed, denying read",
			"eperson_id", actor.String(),
			"item_id", item.ID.String(),
			"error", err,
		)
		return false
	}
	for _, group := range groups {
		if item.HasPolicy(models.Policy{Action: models.ActionRead, Group: group}) {
			return true
		}
	}
	return false
}
