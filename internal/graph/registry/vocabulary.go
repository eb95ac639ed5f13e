package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"concytec/internal/graph/models"
	dErrors "concytec/pkg/domain-errors"
)

// Vocabulary declares the entity types and relationship types a deployment
// needs. It is seeded idempotently at startup.
type Vocabulary struct {
	EntityTypes       []string   `yaml:"entity_types"`
	RelationshipTypes []TypeSpec `yaml:"relationship_types"`
}

// TypeSpec declares one relationship type. A nil maximum is unbounded.
type TypeSpec struct {
	Kind     Kind   `yaml:"kind"`
	Left     string `yaml:"left"`
	Right    string `yaml:"right"`
	LeftMin  int    `yaml:"left_min"`
	LeftMax  *int   `yaml:"left_max"`
	RightMin int    `yaml:"right_min"`
	RightMax *int   `yaml:"right_max"`
}

func (s TypeSpec) toModel() (*models.RelationshipType, error) {
	names, ok := kindNames[s.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown relationship kind %q", s.Kind)
	}
	bound := func(max *int) int {
		if max == nil {
			return models.Unbounded
		}
		return *max
	}
	return &models.RelationshipType{
		LeftType:      s.Left,
		RightType:     s.Right,
		LeftwardType:  names.Leftward,
		RightwardType: names.Rightward,
		Left:          models.Cardinality{Min: s.LeftMin, Max: bound(s.LeftMax)},
		Right:         models.Cardinality{Min: s.RightMin, Max: bound(s.RightMax)},
	}, nil
}

// LoadVocabulary reads a vocabulary from a YAML file.
func LoadVocabulary(path string) (Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary: %w", err)
	}
	return v, nil
}

// Seeder is the write side of the graph used for seeding.
type Seeder interface {
	CreateEntityType(ctx context.Context, label string) (*models.EntityType, error)
	CreateRelationshipType(ctx context.Context, rt *models.RelationshipType) error
}

// Seed creates every missing entity type and relationship type of v.
// Already registered entries are left untouched.
func Seed(ctx context.Context, seeder Seeder, v Vocabulary) error {
	for _, label := range v.EntityTypes {
		if _, err := seeder.CreateEntityType(ctx, label); err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
			return fmt.Errorf("seed entity type %s: %w", label, err)
		}
	}
	for _, spec := range v.RelationshipTypes {
		rt, err := spec.toModel()
		if err != nil {
			return err
		}
		if err := seeder.CreateRelationshipType(ctx, rt); err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
			return fmt.Errorf("seed relationship type %s %s->%s: %w", rt.LeftwardType, spec.Left, spec.Right, err)
		}
	}
	return nil
}

func one() *int { n := 1; return &n }

// DefaultVocabulary is the Concytec CTI-Vitae / Directorio vocabulary.
func DefaultVocabulary() Vocabulary {
	v := Vocabulary{
		EntityTypes: []string{
			"Person", "CvPerson", "CvPersonClone", "InstitutionPerson",
			"Publication", "CvPublication", "CvPublicationClone", "InstitutionPublication",
			"Patent", "CvPatent", "CvPatentClone", "InstitutionPatent",
			"Project", "CvProject", "CvProjectClone", "InstitutionProject",
			"OrgUnit",
		},
	}
	for _, family := range []string{"Person", "Publication", "Patent", "Project"} {
		clone := "Cv" + family + "Clone"
		institution := "Institution" + family
		v.RelationshipTypes = append(v.RelationshipTypes,
			TypeSpec{Kind: ShadowCopy, Left: clone, Right: family, LeftMax: one(), RightMax: one()},
			TypeSpec{Kind: ShadowCopy, Left: institution, Right: family, LeftMax: one(), RightMax: one()},
			TypeSpec{Kind: Clone, Left: clone, Right: "Cv" + family, LeftMax: one(), RightMax: one()},
			TypeSpec{Kind: Originated, Left: institution, Right: clone, RightMax: one()},
			TypeSpec{Kind: Merged, Left: family, Right: institution, LeftMax: one()},
			TypeSpec{Kind: CorrectionOf, Left: family, Right: family, LeftMax: one(), RightMax: one()},
			TypeSpec{Kind: CorrectionOf, Left: "Cv" + family, Right: "Cv" + family, LeftMax: one(), RightMax: one()},
		)
	}
	v.RelationshipTypes = append(v.RelationshipTypes,
		TypeSpec{Kind: PersonOwner, Left: "CvPerson", Right: "Person", LeftMax: one(), RightMax: one()},
		TypeSpec{Kind: PersonOwner, Left: "CvPerson", Right: "InstitutionPerson", LeftMax: one(), RightMax: one()},
		TypeSpec{Kind: SelectedResearchOutput, Left: "Publication", Right: "Person"},
		TypeSpec{Kind: SelectedResearchOutput, Left: "Patent", Right: "Person"},
	)
	return v
}
