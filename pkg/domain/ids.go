// Package domain defines typed identifiers shared across the graph, workflow
// and profile modules. Each identifier wraps a UUID so an ItemID can never be
// passed where an EPersonID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "concytec/pkg/domain-errors"
)

type (
	// ItemID identifies an archived or in-workflow repository item.
	ItemID uuid.UUID
	// RelationshipID identifies one typed edge between two items.
	RelationshipID uuid.UUID
	// RelationshipTypeID identifies a registered relationship type.
	RelationshipTypeID uuid.UUID
	// EntityTypeID identifies a registered entity type.
	EntityTypeID uuid.UUID
	// EPersonID identifies a repository account. A researcher profile id is
	// the id of its owning EPerson.
	EPersonID uuid.UUID
	// CollectionID identifies the collection that owns an item.
	CollectionID uuid.UUID
	// GroupID identifies an access group referenced by resource policies.
	GroupID uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be nil", kind)
	}
	return u, nil
}

func ParseItemID(s string) (ItemID, error) {
	u, err := parseUUID("item id", s)
	return ItemID(u), err
}

func ParseRelationshipID(s string) (RelationshipID, error) {
	u, err := parseUUID("relationship id", s)
	return RelationshipID(u), err
}

func ParseRelationshipTypeID(s string) (RelationshipTypeID, error) {
	u, err := parseUUID("relationship type id", s)
	return RelationshipTypeID(u), err
}

func ParseEntityTypeID(s string) (EntityTypeID, error) {
	u, err := parseUUID("entity type id", s)
	return EntityTypeID(u), err
}

func ParseEPersonID(s string) (EPersonID, error) {
	u, err := parseUUID("eperson id", s)
	return EPersonID(u), err
}

func ParseCollectionID(s string) (CollectionID, error) {
	u, err := parseUUID("collection id", s)
	return CollectionID(u), err
}

func ParseGroupID(s string) (GroupID, error) {
	u, err := parseUUID("group id", s)
	return GroupID(u), err
}

func NewItemID() ItemID { return ItemID(uuid.New()) }
func NewRelationshipID() RelationshipID { return RelationshipID(uuid.New()) }
func NewRelationshipTypeID() RelationshipTypeID { return RelationshipTypeID(uuid.New()) }
func NewEntityTypeID() EntityTypeID { return EntityTypeID(uuid.New()) }
func NewEPersonID() EPersonID { return EPersonID(uuid.New()) }
func NewCollectionID() CollectionID { return CollectionID(uuid.New()) }

func (id ItemID) String() string { return uuid.UUID(id).String() }
func (id RelationshipID) String() string { return uuid.UUID(id).String() }
func (id RelationshipTypeID) String() string { return uuid.UUID(id).String() }
func (id EntityTypeID) String() string { return uuid.UUID(id).String() }
func (id EPersonID) String() string { return uuid.UUID(id).String() }
func (id CollectionID) String() string { return uuid.UUID(id).String() }
func (id GroupID) String() string { return uuid.UUID(id).String() }

func (id ItemID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RelationshipID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RelationshipTypeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntityTypeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EPersonID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CollectionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id GroupID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Anonymous is the well-known group every unauthenticated caller belongs to.
var Anonymous = GroupID(uuid.MustParse("00000000-0000-0000-0000-00000000a0a0"))
