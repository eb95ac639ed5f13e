package models

import (
	"slices"
	"strings"
	"time"

	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// Well-known metadata fields.
const (
	FieldTitle           = "dc.title"
	FieldEntityType      = "dspace.entity.type"
	FieldOwner           = "cris.owner"
	FieldSourceID        = "cris.sourceId"
	FieldCtiVitaeOwner   = "perucris.ctivitae.owner"
	FieldEmail           = "person.email"
	FieldFamilyName      = "person.familyName"
	FieldGivenName       = "person.givenName"
	FieldIdentifierDNI   = "perucris.identifier.dni"
	FieldIdentifierOrcid = "person.identifier.orcid"
)

// ConfidenceAccepted marks an authority value as confirmed.
const ConfidenceAccepted = 600

// MetadataValue is one ordered value of an item metadata field.
type MetadataValue struct {
	Schema     string
	Element    string
	Qualifier  string
	Value      string
	Authority  string
	Confidence int
	Place      int
}

// Field returns the dotted field name, e.g. "dc.contributor.author".
func (m MetadataValue) Field() string {
	if m.Qualifier == "" {
		return m.Schema + "." + m.Element
	}
	return m.Schema + "." + m.Element + "." + m.Qualifier
}

// NewValue builds a metadata value from a dotted field name.
func NewValue(field, value string) MetadataValue {
	parts := strings.SplitN(field, ".", 3)
	mv := MetadataValue{Value: value}
	switch len(parts) {
	case 3:
		mv.Schema, mv.Element, mv.Qualifier = parts[0], parts[1], parts[2]
	case 2:
		mv.Schema, mv.Element = parts[0], parts[1]
	default:
		mv.Schema = field
	}
	return mv
}

// Action is a resource policy action.
type Action string

const (
	ActionRead  Action = "READ"
	ActionWrite Action = "WRITE"
	ActionAdmin Action = "ADMIN"
)

// Policy grants an action on an item to either an EPerson or a group.
type Policy struct {
	Action  Action
	EPerson id.EPersonID
	Group   id.GroupID
}

// Item is a repository item as seen by the graph.
type Item struct {
	ID           id.ItemID
	EntityType   string
	CollectionID id.CollectionID
	Archived     bool
	Withdrawn    bool
	Discoverable bool
	Metadata     []MetadataValue
	Policies     []Policy
	LastModified time.Time
}

// Values returns the values of field in place order.
func (i *Item) Values(field string) []MetadataValue {
	var out []MetadataValue
	for _, mv := range i.Metadata {
		if mv.Field() == field {
			out = append(out, mv)
		}
	}
	slices.SortStableFunc(out, func(a, b MetadataValue) int { return a.Place - b.Place })
	return out
}

// FirstValue returns the first value of field or "".
func (i *Item) FirstValue(field string) string {
	values := i.Values(field)
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}

// Title is the dc.title of the item.
func (i *Item) Title() string {
	return i.FirstValue(FieldTitle)
}

// AddValue appends a value to field, assigning the next place.
func (i *Item) AddValue(mv MetadataValue) {
	mv.Place = len(i.Values(mv.Field()))
	i.Metadata = append(i.Metadata, mv)
}

// ClearField removes every value of field.
func (i *Item) ClearField(field string) {
	i.Metadata = slices.DeleteFunc(i.Metadata, func(mv MetadataValue) bool {
		return mv.Field() == field
	})
}

// SetValue replaces field with a single value.
func (i *Item) SetValue(field, value string) {
	i.ClearField(field)
	i.AddValue(NewValue(field, value))
}

// SetAuthority replaces field with a single authority-controlled value.
func (i *Item) SetAuthority(field, value, authority string) {
	i.ClearField(field)
	mv := NewValue(field, value)
	mv.Authority = authority
	mv.Confidence = ConfidenceAccepted
	i.AddValue(mv)
}

// Authority returns the authority of the first value of field.
func (i *Item) Authority(field string) string {
	values := i.Values(field)
	if len(values) == 0 {
		return ""
	}
	return values[0].Authority
}

// Clone returns a deep copy so stores never share slices with callers.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Metadata = slices.Clone(i.Metadata)
	cp.Policies = slices.Clone(i.Policies)
	return &cp
}

// HasPolicy reports whether a policy granting action to the group or
// EPerson exists.
func (i *Item) HasPolicy(p Policy) bool {
	return slices.Contains(i.Policies, p)
}

// Grant adds a policy if absent.
func (i *Item) Grant(p Policy) {
	if !i.HasPolicy(p) {
		i.Policies = append(i.Policies, p)
	}
}

// Revoke removes a policy.
func (i *Item) Revoke(p Policy) {
	i.Policies = slices.DeleteFunc(i.Policies, func(existing Policy) bool { return existing == p })
}

// IsPublic reports whether anonymous users can read the item.
func (i *Item) IsPublic() bool {
	return i.HasPolicy(Policy{Action: ActionRead, Group: id.Anonymous})
}

// CanWithdraw checks if the item can be withdrawn.
// Invariant: only archived, not yet withdrawn items can be withdrawn.
func (i *Item) CanWithdraw() error {
	if i.Withdrawn {
		return dErrors.New(dErrors.CodeInvariantViolation, "item is already withdrawn")
	}
	if !i.Archived {
		return dErrors.New(dErrors.CodeInvariantViolation, "only archived items can be withdrawn")
	}
	return nil
}

// ApplyWithdraw withdraws the item, removing it from the archive.
func (i *Item) ApplyWithdraw(now time.Time) error {
	if err := i.CanWithdraw(); err != nil {
		return err
	}
	i.Withdrawn = true
	i.Archived = false
	i.LastModified = now
	return nil
}
