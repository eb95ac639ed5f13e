package models

import (
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// Unbounded marks a cardinality maximum with no limit.
const Unbounded = -1

// AppendPlace requests that a relationship be placed after its siblings.
const AppendPlace = -1

// EntityType is a unique, immutable label such as Person or CvPersonClone.
type EntityType struct {
	ID    id.EntityTypeID
	Label string
}

// Side selects one end of a relationship.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Cardinality bounds how many relationships of one type an item may anchor
// on one side.
type Cardinality struct {
	Min int
	Max int
}

// Allows reports whether count relationships satisfy the upper bound.
func (c Cardinality) Allows(count int) bool {
	return c.Max == Unbounded || count <= c.Max
}

// Satisfies reports whether count relationships satisfy the lower bound.
func (c Cardinality) Satisfies(count int) bool {
	return count >= c.Min
}

// RelationshipType describes a directed, typed edge between two entity types.
// (LeftType, RightType, LeftwardType, RightwardType) is unique.
type RelationshipType struct {
	ID            id.RelationshipTypeID
	LeftType      string
	RightType     string
	LeftwardType  string
	RightwardType string
	Left          Cardinality
	Right         Cardinality
}

// Validate checks the invariants of a relationship type definition.
func (t *RelationshipType) Validate() error {
	if t.LeftType == "" || t.RightType == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "relationship type requires left and right entity types")
	}
	if t.LeftwardType == "" || t.RightwardType == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "relationship type requires leftward and rightward names")
	}
	for _, c := range []Cardinality{t.Left, t.Right} {
		if c.Min < 0 {
			return dErrors.New(dErrors.CodeInvariantViolation, "cardinality minimum must not be negative")
		}
		if c.Max != Unbounded && c.Max < c.Min {
			return dErrors.New(dErrors.CodeInvariantViolation, "cardinality maximum must not be below minimum")
		}
	}
	return nil
}

// Bounds returns the cardinality of the given anchor side.
func (t *RelationshipType) Bounds(side Side) Cardinality {
	if side == SideLeft {
		return t.Left
	}
	return t.Right
}

// EntityTypeFor returns the entity type required on side.
func (t *RelationshipType) EntityTypeFor(side Side) string {
	if side == SideLeft {
		return t.LeftType
	}
	return t.RightType
}

// IndexField is the search field an anchor on side carries for this type.
// The left item lists its right items under relation.<leftwardType> and the
// right item lists its left items under relation.<rightwardType>.
func (t *RelationshipType) IndexField(side Side) string {
	if side == SideLeft {
		return "relation." + t.LeftwardType
	}
	return "relation." + t.RightwardType
}

// Relationship is one typed edge between two items.
type Relationship struct {
	ID         id.RelationshipID
	TypeID     id.RelationshipTypeID
	LeftItem   id.ItemID
	RightItem  id.ItemID
	LeftPlace  int
	RightPlace int
}

// Anchor returns the item on side.
func (r *Relationship) Anchor(side Side) id.ItemID {
	if side == SideLeft {
		return r.LeftItem
	}
	return r.RightItem
}

// Other returns the item opposite to side.
func (r *Relationship) Other(side Side) id.ItemID {
	return r.Anchor(side.Opposite())
}

// Place returns the ordinal of the relationship within the group anchored on side.
func (r *Relationship) Place(side Side) int {
	if side == SideLeft {
		return r.LeftPlace
	}
	return r.RightPlace
}

// SetPlace updates the ordinal on side.
func (r *Relationship) SetPlace(side Side, place int) {
	if side == SideLeft {
		r.LeftPlace = place
	} else {
		r.RightPlace = place
	}
}

// Touches reports whether item is either endpoint.
func (r *Relationship) Touches(item id.ItemID) bool {
	return r.LeftItem == item || r.RightItem == item
}

// Clone returns a copy.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// ChangeKind classifies a relationship mutation.
type ChangeKind string

const (
	ChangeCreated         ChangeKind = "created"
	ChangePositionUpdated ChangeKind = "position_updated"
	ChangeDeleted         ChangeKind = "deleted"
)

// Mutation records a committed relationship change. Relationship is a
// snapshot taken at mutation time; for deletions it is the removed edge.
type Mutation struct {
	Kind         ChangeKind
	Relationship Relationship
}
