// Package registry resolves the workflow's well-known relationship kinds to
// the relationship types registered in the graph. Resolution happens once at
// startup; engines look kinds up by (kind, leftType, rightType) afterwards.
package registry

import (
	"context"
	"fmt"
	"slices"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// Kind is a well-known relationship family, identified by its leftward and
// rightward names.
type Kind string

const (
	ShadowCopy             Kind = "shadow_copy"
	Clone                  Kind = "clone"
	Originated             Kind = "originated"
	Merged                 Kind = "merged"
	PersonOwner            Kind = "person_owner"
	CorrectionOf           Kind = "correction_of"
	SelectedResearchOutput Kind = "selected_research_output"
)

// Names are the leftward and rightward type names of a kind.
type Names struct {
	Leftward  string
	Rightward string
}

var kindNames = map[Kind]Names{
	ShadowCopy:             {Leftward: "hasShadowCopy", Rightward: "isShadowCopy"},
	Clone:                  {Leftward: "isCloneOfItem", Rightward: "isClonedByItem"},
	Originated:             {Leftward: "isOriginatedFrom", Rightward: "isOriginOf"},
	Merged:                 {Leftward: "isMergedIn", Rightward: "isMergeOf"},
	PersonOwner:            {Leftward: "isPersonOwner", Rightward: "isOwnedByCvPerson"},
	CorrectionOf:           {Leftward: "isCorrectionOfItem", Rightward: "isCorrectedByItem"},
	SelectedResearchOutput: {Leftward: "isResearchoutputsSelectedFor", Rightward: "hasSelectedResearchoutputs"},
}

// required kinds must resolve to at least one type for the workflow to run.
var required = []Kind{ShadowCopy, Clone, Originated, Merged, PersonOwner}

// NamesOf returns the leftward/rightward names of kind.
func NamesOf(kind Kind) Names {
	return kindNames[kind]
}

// TypeLister lists the registered relationship types.
type TypeLister interface {
	ListRelationshipTypes(ctx context.Context) ([]*models.RelationshipType, error)
}

// Registry maps kinds to relationship types and back.
type Registry struct {
	byKind map[Kind][]*models.RelationshipType
	kinds  map[id.RelationshipTypeID]Kind
}

// Resolve builds the registry from the registered relationship types.
func Resolve(ctx context.Context, lister TypeLister) (*Registry, error) {
	types, err := lister.ListRelationshipTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list relationship types: %w", err)
	}
	r := &Registry{
		byKind: make(map[Kind][]*models.RelationshipType),
		kinds:  make(map[id.RelationshipTypeID]Kind),
	}
	for _, rt := range types {
		for kind, names := range kindNames {
			if rt.LeftwardType == names.Leftward && rt.RightwardType == names.Rightward {
				r.byKind[kind] = append(r.byKind[kind], rt)
				r.kinds[rt.ID] = kind
			}
		}
	}
	for _, kind := range required {
		if len(r.byKind[kind]) == 0 {
			return nil, fmt.Errorf("no relationship type registered for %s (%s/%s)",
				kind, kindNames[kind].Leftward, kindNames[kind].Rightward)
		}
	}
	return r, nil
}

// Lookup returns the type of kind between leftType and rightType.
func (r *Registry) Lookup(kind Kind, leftType, rightType string) (*models.RelationshipType, error) {
	for _, rt := range r.byKind[kind] {
		if rt.LeftType == leftType && rt.RightType == rightType {
			return rt, nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeValidation,
		"no %s relationship type between %s and %s", kindNames[kind].Leftward, leftType, rightType)
}

// FindByRight returns the types of kind whose right side is rightType.
func (r *Registry) FindByRight(kind Kind, rightType string) []*models.RelationshipType {
	var out []*models.RelationshipType
	for _, rt := range r.byKind[kind] {
		if rt.RightType == rightType {
			out = append(out, rt)
		}
	}
	return out
}

// FindByLeft returns the types of kind whose left side is leftType.
func (r *Registry) FindByLeft(kind Kind, leftType string) []*models.RelationshipType {
	var out []*models.RelationshipType
	for _, rt := range r.byKind[kind] {
		if rt.LeftType == leftType {
			out = append(out, rt)
		}
	}
	return out
}

// Types returns every type of kind.
func (r *Registry) Types(kind Kind) []*models.RelationshipType {
	return slices.Clone(r.byKind[kind])
}

// KindOf reports the kind of a relationship type.
func (r *Registry) KindOf(typeID id.RelationshipTypeID) (Kind, bool) {
	kind, ok := r.kinds[typeID]
	return kind, ok
}

// Is reports whether rel is of kind.
func (r *Registry) Is(rel *models.Relationship, kind Kind) bool {
	k, ok := r.kinds[rel.TypeID]
	return ok && k == kind
}
