package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

func TestNewValue(t *testing.T) {
	assert.Equal(t, "dc.contributor.author", NewValue("dc.contributor.author", "x").Field())
	assert.Equal(t, "dc.title", NewValue("dc.title", "x").Field())
	mv := NewValue("person.identifier.orcid", "0000")
	assert.Equal(t, "person", mv.Schema)
	assert.Equal(t, "identifier", mv.Element)
	assert.Equal(t, "orcid", mv.Qualifier)
}

func TestItemMetadata(t *testing.T) {
	item := &Item{}
	item.AddValue(NewValue("dc.contributor.author", "Quispe"))
	item.AddValue(NewValue(FieldTitle, "A title"))
	item.AddValue(NewValue("dc.contributor.author", "Mamani"))

	authors := item.Values("dc.contributor.author")
	require.Len(t, authors, 2)
	assert.Equal(t, "Quispe", authors[0].Value)
	assert.Equal(t, 1, authors[1].Place)
	assert.Equal(t, "A title", item.Title())

	item.SetValue("dc.contributor.author", "Huaman")
	assert.Equal(t, []MetadataValue{{Schema: "dc", Element: "contributor", Qualifier: "author", Value: "Huaman"}},
		item.Values("dc.contributor.author"))

	item.SetAuthority(FieldOwner, "Ana Quispe", "owner-id")
	assert.Equal(t, "owner-id", item.Authority(FieldOwner))
	assert.Equal(t, ConfidenceAccepted, item.Values(FieldOwner)[0].Confidence)

	item.ClearField(FieldOwner)
	assert.Empty(t, item.Authority(FieldOwner))
	assert.Empty(t, item.FirstValue("dc.missing"))
}

func TestItemCloneIsDeep(t *testing.T) {
	item := &Item{ID: id.NewItemID()}
	item.SetValue(FieldTitle, "original")
	item.Grant(Policy{Action: ActionRead, Group: id.Anonymous})

	cp := item.Clone()
	cp.SetValue(FieldTitle, "changed")
	cp.Revoke(Policy{Action: ActionRead, Group: id.Anonymous})

	assert.Equal(t, "original", item.Title())
	assert.True(t, item.IsPublic())
	assert.False(t, cp.IsPublic())
	assert.Nil(t, (*Item)(nil).Clone())
}

func TestItemPolicies(t *testing.T) {
	owner := id.NewEPersonID()
	item := &Item{}
	read := Policy{Action: ActionRead, EPerson: owner}

	item.Grant(read)
	item.Grant(read)
	assert.Len(t, item.Policies, 1)
	assert.True(t, item.HasPolicy(read))
	assert.False(t, item.HasPolicy(Policy{Action: ActionWrite, EPerson: owner}))
	assert.False(t, item.IsPublic())

	item.Revoke(read)
	assert.Empty(t, item.Policies)
}

func TestApplyWithdraw(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	item := &Item{Archived: true}
	require.NoError(t, item.ApplyWithdraw(now))
	assert.True(t, item.Withdrawn)
	assert.False(t, item.Archived)
	assert.Equal(t, now, item.LastModified)

	err := item.ApplyWithdraw(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	err = (&Item{}).ApplyWithdraw(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestRelationshipTypeValidate(t *testing.T) {
	valid := RelationshipType{
		LeftType: "CvPersonClone", RightType: "Person",
		LeftwardType: "hasShadowCopy", RightwardType: "isShadowCopy",
		Left: Cardinality{Max: 1}, Right: Cardinality{Max: Unbounded},
	}
	require.NoError(t, valid.Validate())

	tests := map[string]func(rt *RelationshipType){
		"missing left type":   func(rt *RelationshipType) { rt.LeftType = "" },
		"missing name":        func(rt *RelationshipType) { rt.RightwardType = "" },
		"negative minimum":    func(rt *RelationshipType) { rt.Left.Min = -1 },
		"maximum below floor": func(rt *RelationshipType) { rt.Right = Cardinality{Min: 2, Max: 1} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			rt := valid
			mutate(&rt)
			assert.True(t, dErrors.HasCode(rt.Validate(), dErrors.CodeInvariantViolation))
		})
	}
}

func TestCardinality(t *testing.T) {
	one := Cardinality{Min: 1, Max: 1}
	assert.True(t, one.Allows(1))
	assert.False(t, one.Allows(2))
	assert.False(t, one.Satisfies(0))
	assert.True(t, Cardinality{Max: Unbounded}.Allows(1000))
}

func TestRelationshipSides(t *testing.T) {
	left, right := id.NewItemID(), id.NewItemID()
	rel := &Relationship{LeftItem: left, RightItem: right, LeftPlace: 2, RightPlace: 5}

	assert.Equal(t, SideRight, SideLeft.Opposite())
	assert.Equal(t, left, rel.Anchor(SideLeft))
	assert.Equal(t, left, rel.Other(SideRight))
	assert.Equal(t, 5, rel.Place(SideRight))

	rel.SetPlace(SideLeft, 0)
	assert.Equal(t, 0, rel.LeftPlace)
	assert.True(t, rel.Touches(right))
	assert.False(t, rel.Touches(id.NewItemID()))

	cp := rel.Clone()
	cp.RightPlace = 9
	assert.Equal(t, 5, rel.RightPlace)
}
