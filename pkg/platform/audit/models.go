package audit

import (
	"context"
	"time"

	id "concytec/pkg/domain"
)

// EventCategory classifies graph events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that change who owns a researcher
	// identity: claims, merges, profile creation and deletion.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers access-relevant changes and consistency
	// escalations that need an operator.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine synchronization such as shadow copy
	// refreshes. These can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the workflow engines after a unit of work commits.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// EPersonID is the researcher whose profile the event concerns, if any.
	EPersonID id.EPersonID
	// Subject is the primary item of the event.
	Subject string
	Action  string
	// Related lists further items touched by the operation.
	Related   []string
	Outcome   string
	Reason    string
	RequestID string
	// ActorID tracks who performed the action when different from EPersonID.
	ActorID string
}

type AuditEvent string

const (
	// Claim and merge events
	EventClaimCompleted    AuditEvent = "claim_completed"
	EventMergeResolved     AuditEvent = "merge_resolved"
	EventMergeRolledBack   AuditEvent = "merge_rolled_back"
	EventGraphInconsistent AuditEvent = "graph_inconsistent"

	// Shadow copy events
	EventShadowCopyCreated   AuditEvent = "shadow_copy_created"
	EventShadowCopyRefreshed AuditEvent = "shadow_copy_refreshed"
	EventCorrectionCreated   AuditEvent = "correction_created"

	// Profile events
	EventProfileCreated           AuditEvent = "profile_created"
	EventProfileDeleted           AuditEvent = "profile_deleted"
	EventProfileVisibilityChanged AuditEvent = "profile_visibility_changed"
	EventCvEntitiesDeleted        AuditEvent = "cv_entities_deleted"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventClaimCompleted:    CategoryCompliance,
	EventMergeResolved:     CategoryCompliance,
	EventProfileCreated:    CategoryCompliance,
	EventProfileDeleted:    CategoryCompliance,
	EventCvEntitiesDeleted: CategoryCompliance,

	EventMergeRolledBack:          CategorySecurity,
	EventGraphInconsistent:        CategorySecurity,
	EventProfileVisibilityChanged: CategorySecurity,

	EventShadowCopyCreated:   CategoryOperations,
	EventShadowCopyRefreshed: CategoryOperations,
	EventCorrectionCreated:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists or forwards events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister reads back events recorded for one researcher.
type Lister interface {
	ListByEPerson(ctx context.Context, ePersonID id.EPersonID) ([]Event, error)
}
