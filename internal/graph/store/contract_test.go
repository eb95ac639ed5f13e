package store_test

import (
	"context"

	"github.com/stretchr/testify/suite"

	"concytec/internal/graph/models"
	graphsvc "concytec/internal/graph/service"
	id "concytec/pkg/domain"
	"concytec/pkg/platform/sentinel"
)

// StoreContractSuite holds the behaviour every graph store must share. The
// embedding suite sets store before each test.
type StoreContractSuite struct {
	suite.Suite
	ctx   context.Context
	store graphsvc.Store
}

func (s *StoreContractSuite) seedTypes() *models.RelationshipType {
	for _, label := range []string{"Publication", "Person"} {
		s.Require().NoError(s.store.CreateEntityType(s.ctx, &models.EntityType{ID: id.NewEntityTypeID(), Label: label}))
	}
	rt := &models.RelationshipType{
		ID:            id.NewRelationshipTypeID(),
		LeftType:      "Publication",
		RightType:     "Person",
		LeftwardType:  "isAuthorOfPublication",
		RightwardType: "isPublicationOfAuthor",
		Left:          models.Cardinality{Max: models.Unbounded},
		Right:         models.Cardinality{Max: models.Unbounded},
	}
	s.Require().NoError(s.store.CreateRelationshipType(s.ctx, rt))
	return rt
}

func (s *StoreContractSuite) item(entityType, title string) *models.Item {
	item := &models.Item{
		ID:           id.NewItemID(),
		EntityType:   entityType,
		CollectionID: id.NewCollectionID(),
		Archived:     true,
		Discoverable: true,
	}
	item.SetValue(models.FieldTitle, title)
	s.Require().NoError(s.store.SaveItem(s.ctx, item))
	return item
}

func (s *StoreContractSuite) TestTypes() {
	rt := s.seedTypes()

	s.Run("duplicate entity type conflicts", func() {
		err := s.store.CreateEntityType(s.ctx, &models.EntityType{ID: id.NewEntityTypeID(), Label: "Person"})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("duplicate relationship type conflicts", func() {
		dup := *rt
		dup.ID = id.NewRelationshipTypeID()
		s.ErrorIs(s.store.CreateRelationshipType(s.ctx, &dup), sentinel.ErrConflict)
	})

	s.Run("finds and lists", func() {
		et, err := s.store.FindEntityTypeByLabel(s.ctx, "Person")
		s.Require().NoError(err)
		s.Equal("Person", et.Label)

		_, err = s.store.FindEntityTypeByLabel(s.ctx, "Patent")
		s.ErrorIs(err, sentinel.ErrNotFound)

		found, err := s.store.FindRelationshipType(s.ctx, rt.ID)
		s.Require().NoError(err)
		s.Equal(rt, found)

		types, err := s.store.ListRelationshipTypes(s.ctx)
		s.Require().NoError(err)
		s.Len(types, 1)

		ets, err := s.store.ListEntityTypes(s.ctx)
		s.Require().NoError(err)
		s.Len(ets, 2)
	})
}

func (s *StoreContractSuite) TestItems() {
	s.seedTypes()
	owner := id.NewEPersonID()

	item := s.item("Person", "Quispe, Ana")
	item.AddValue(models.NewValue("dc.contributor.author", "first"))
	item.AddValue(models.NewValue("dc.contributor.author", "second"))
	item.SetAuthority(models.FieldOwner, "Ana Quispe", owner.String())
	item.Grant(models.Policy{Action: models.ActionRead, Group: id.Anonymous})
	item.Grant(models.Policy{Action: models.ActionWrite, EPerson: owner})
	s.Require().NoError(s.store.SaveItem(s.ctx, item))

	found, err := s.store.FindItem(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal("Quispe, Ana", found.Title())
	s.Equal([]string{"first", "second"}, values(found.Values("dc.contributor.author")))
	s.Equal(owner.String(), found.Authority(models.FieldOwner))
	s.True(found.IsPublic())
	s.True(found.HasPolicy(models.Policy{Action: models.ActionWrite, EPerson: owner}))

	byOwner, err := s.store.FindItemsByAuthority(s.ctx, models.FieldOwner, owner.String())
	s.Require().NoError(err)
	s.Require().Len(byOwner, 1)
	s.Equal(item.ID, byOwner[0].ID)

	none, err := s.store.FindItemsByAuthority(s.ctx, models.FieldOwner, id.NewEPersonID().String())
	s.Require().NoError(err)
	s.Empty(none)

	s.Require().NoError(s.store.DeleteItem(s.ctx, item.ID))
	_, err = s.store.FindItem(s.ctx, item.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.DeleteItem(s.ctx, item.ID), sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestRelationships() {
	rt := s.seedTypes()
	pub := s.item("Publication", "pub1")
	authors := []*models.Item{s.item("Person", "a1"), s.item("Person", "a2"), s.item("Person", "a3")}

	// saved out of order; the anchor query orders by place
	for _, place := range []int{2, 0, 1} {
		rel := &models.Relationship{
			ID:        id.NewRelationshipID(),
			TypeID:    rt.ID,
			LeftItem:  pub.ID,
			RightItem: authors[place].ID,
			LeftPlace: place,
		}
		s.Require().NoError(s.store.SaveRelationship(s.ctx, rel))
	}

	group, err := s.store.FindRelationshipsByAnchor(s.ctx, pub.ID, rt.ID, models.SideLeft)
	s.Require().NoError(err)
	s.Require().Len(group, 3)
	for place, rel := range group {
		s.Equal(place, rel.LeftPlace)
		s.Equal(authors[place].ID, rel.RightItem)
	}

	s.Run("update moves within the group", func() {
		moved := group[2].Clone()
		moved.LeftPlace = 5
		s.Require().NoError(s.store.SaveRelationship(s.ctx, moved))
		found, err := s.store.FindRelationship(s.ctx, moved.ID)
		s.Require().NoError(err)
		s.Equal(5, found.LeftPlace)
	})

	s.Run("by item covers both sides", func() {
		rels, err := s.store.FindRelationshipsByItem(s.ctx, authors[0].ID)
		s.Require().NoError(err)
		s.Len(rels, 1)
		rels, err = s.store.FindRelationshipsByItem(s.ctx, pub.ID)
		s.Require().NoError(err)
		s.Len(rels, 3)
	})

	s.Run("items with relationships cannot be deleted", func() {
		s.ErrorIs(s.store.DeleteItem(s.ctx, pub.ID), sentinel.ErrConflict)
	})

	s.Run("dangling endpoints are rejected", func() {
		rel := &models.Relationship{ID: id.NewRelationshipID(), TypeID: rt.ID, LeftItem: pub.ID, RightItem: id.NewItemID()}
		s.ErrorIs(s.store.SaveRelationship(s.ctx, rel), sentinel.ErrNotFound)
	})

	s.Run("delete", func() {
		s.Require().NoError(s.store.DeleteRelationship(s.ctx, group[0].ID))
		_, err := s.store.FindRelationship(s.ctx, group[0].ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(s.store.DeleteRelationship(s.ctx, group[0].ID), sentinel.ErrNotFound)

		rest, err := s.store.FindRelationshipsByAnchor(s.ctx, pub.ID, rt.ID, models.SideLeft)
		s.Require().NoError(err)
		s.Len(rest, 2)
	})
}

func values(mvs []models.MetadataValue) []string {
	out := make([]string, 0, len(mvs))
	for _, mv := range mvs {
		out = append(out, mv.Value)
	}
	return out
}
