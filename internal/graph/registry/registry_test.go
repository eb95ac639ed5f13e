package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"concytec/internal/graph/models"
	"concytec/internal/graph/registry"
	graphsvc "concytec/internal/graph/service"
	"concytec/internal/graph/store"
	dErrors "concytec/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	ctx   context.Context
	graph *graphsvc.Graph
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	g, err := graphsvc.New(store.NewInMemory())
	s.Require().NoError(err)
	s.graph = g
}

func (s *RegistrySuite) TestSeedIsIdempotent() {
	v := registry.DefaultVocabulary()
	s.Require().NoError(registry.Seed(s.ctx, s.graph, v))
	first, err := s.graph.ListRelationshipTypes(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(registry.Seed(s.ctx, s.graph, v))
	second, err := s.graph.ListRelationshipTypes(s.ctx)
	s.Require().NoError(err)
	s.Len(second, len(first))
	s.Len(first, len(v.RelationshipTypes))
}

func (s *RegistrySuite) TestResolve() {
	s.Require().NoError(registry.Seed(s.ctx, s.graph, registry.DefaultVocabulary()))
	reg, err := registry.Resolve(s.ctx, s.graph)
	s.Require().NoError(err)

	s.Run("lookup by endpoint types", func() {
		rt, err := reg.Lookup(registry.ShadowCopy, "InstitutionPerson", "Person")
		s.Require().NoError(err)
		s.Equal("hasShadowCopy", rt.LeftwardType)
		s.Equal(1, rt.Left.Max)
		s.Equal("relation.hasShadowCopy", rt.IndexField(models.SideLeft))
		s.Equal("relation.isShadowCopy", rt.IndexField(models.SideRight))

		kind, ok := reg.KindOf(rt.ID)
		s.True(ok)
		s.Equal(registry.ShadowCopy, kind)
		s.True(reg.Is(&models.Relationship{TypeID: rt.ID}, registry.ShadowCopy))
		s.False(reg.Is(&models.Relationship{TypeID: rt.ID}, registry.Clone))
	})

	s.Run("unknown pair is a validation error", func() {
		_, err := reg.Lookup(registry.Clone, "Person", "OrgUnit")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("find by side", func() {
		s.Len(reg.FindByRight(registry.ShadowCopy, "Person"), 2)
		s.Len(reg.FindByLeft(registry.PersonOwner, "CvPerson"), 2)
		s.Empty(reg.FindByLeft(registry.PersonOwner, "Person"))
		s.Len(reg.Types(registry.Merged), 4)
	})

	s.Run("types are copies", func() {
		types := reg.Types(registry.Merged)
		types[0] = nil
		s.NotNil(reg.Types(registry.Merged)[0])
	})
}

func (s *RegistrySuite) TestResolveRequiresWorkflowKinds() {
	partial := registry.Vocabulary{
		EntityTypes: []string{"Person", "InstitutionPerson"},
		RelationshipTypes: []registry.TypeSpec{
			{Kind: registry.ShadowCopy, Left: "InstitutionPerson", Right: "Person"},
		},
	}
	s.Require().NoError(registry.Seed(s.ctx, s.graph, partial))
	_, err := registry.Resolve(s.ctx, s.graph)
	s.Require().Error(err)
	s.Contains(err.Error(), "isCloneOfItem")
}

func (s *RegistrySuite) TestSeedRejectsUnknownKind() {
	v := registry.Vocabulary{
		EntityTypes:       []string{"Person"},
		RelationshipTypes: []registry.TypeSpec{{Kind: "friend_of", Left: "Person", Right: "Person"}},
	}
	s.Error(registry.Seed(s.ctx, s.graph, v))
}

func (s *RegistrySuite) TestLoadVocabulary() {
	path := filepath.Join(s.T().TempDir(), "vocabulary.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
entity_types: [Person, CvPerson]
relationship_types:
  - kind: person_owner
    left: CvPerson
    right: Person
    left_max: 1
    right_max: 1
  - kind: selected_research_output
    left: Person
    right: Person
`), 0o600))

	v, err := registry.LoadVocabulary(path)
	s.Require().NoError(err)
	s.Equal([]string{"Person", "CvPerson"}, v.EntityTypes)
	s.Require().Len(v.RelationshipTypes, 2)
	s.Equal(registry.PersonOwner, v.RelationshipTypes[0].Kind)
	s.Equal(1, *v.RelationshipTypes[0].LeftMax)
	s.Nil(v.RelationshipTypes[1].RightMax)

	s.Require().NoError(registry.Seed(s.ctx, s.graph, v))
	types, err := s.graph.ListRelationshipTypes(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(types, 2)

	_, err = registry.LoadVocabulary(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Error(err)
}
