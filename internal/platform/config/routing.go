package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	id "concytec/pkg/domain"
	pstrings "concytec/pkg/platform/strings"
)

// RoutingConfig tells the workflow engines where items go. It is loaded once
// and passed to each engine explicitly.
type RoutingConfig struct {
	// ShadowRoutes maps a source collection to the collection and entity
	// type of its shadow copies.
	ShadowRoutes map[id.CollectionID]ShadowRoute
	// CloneCollections maps a clone entity type (CvPersonClone) to the
	// workflow collection clones are created in.
	CloneCollections map[string]id.CollectionID
	// ProfileCollection holds CvPerson profile items.
	ProfileCollection id.CollectionID
	// ClaimableTypes are the entity types a researcher may claim.
	ClaimableTypes []string
	// HiddenFields are never copied into shadow copies. Stored lowercased.
	HiddenFields []string
	// HardDeleteProfiles purges profile items instead of unlinking them.
	HardDeleteProfiles bool
	// ItemURIBase is the prefix of repository item URIs, e.g.
	// https://ctivitae.concytec.gob.pe/server/api/core/items
	ItemURIBase string
}

// ShadowRoute is the destination of shadow copies for one source collection.
type ShadowRoute struct {
	TargetCollection id.CollectionID
	TargetEntityType string
}

// Claimable reports whether an entity type can be claimed.
func (r RoutingConfig) Claimable(entityType string) bool {
	return slices.Contains(r.ClaimableTypes, entityType)
}

// Hidden reports whether a metadata field must not leave its source item.
// Field names compare case-insensitively.
func (r RoutingConfig) Hidden(field string) bool {
	return slices.Contains(r.HiddenFields, strings.ToLower(field))
}

type routingFile struct {
	ShadowRoutes []struct {
		Source     string `yaml:"source_collection"`
		Target     string `yaml:"target_collection"`
		EntityType string `yaml:"target_entity_type"`
	} `yaml:"shadow_routes"`
	CloneCollections   map[string]string `yaml:"clone_collections"`
	ProfileCollection  string            `yaml:"profile_collection"`
	ClaimableTypes     []string          `yaml:"claimable_types"`
	HiddenFields       []string          `yaml:"hidden_fields"`
	HardDeleteProfiles bool              `yaml:"hard_delete_profiles"`
	ItemURIBase        string            `yaml:"item_uri_base"`
}

// LoadRouting reads a RoutingConfig from a YAML file.
func LoadRouting(path string) (RoutingConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RoutingConfig{}, fmt.Errorf("read routing config: %w", err)
	}
	return ParseRouting(raw)
}

// ParseRouting decodes and validates a YAML routing document.
func ParseRouting(raw []byte) (RoutingConfig, error) {
	var f routingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return RoutingConfig{}, fmt.Errorf("parse routing config: %w", err)
	}

	cfg := RoutingConfig{
		ShadowRoutes:       make(map[id.CollectionID]ShadowRoute, len(f.ShadowRoutes)),
		CloneCollections:   make(map[string]id.CollectionID, len(f.CloneCollections)),
		ClaimableTypes:     pstrings.DedupeAndTrim(f.ClaimableTypes),
		HiddenFields:       pstrings.DedupeAndTrimLower(f.HiddenFields),
		HardDeleteProfiles: f.HardDeleteProfiles,
		ItemURIBase:        f.ItemURIBase,
	}
	for _, route := range f.ShadowRoutes {
		source, err := id.ParseCollectionID(route.Source)
		if err != nil {
			return RoutingConfig{}, fmt.Errorf("shadow route source: %w", err)
		}
		target, err := id.ParseCollectionID(route.Target)
		if err != nil {
			return RoutingConfig{}, fmt.Errorf("shadow route target: %w", err)
		}
		if route.EntityType == "" {
			return RoutingConfig{}, fmt.Errorf("shadow route %s has no target entity type", route.Source)
		}
		cfg.ShadowRoutes[source] = ShadowRoute{TargetCollection: target, TargetEntityType: route.EntityType}
	}
	for entityType, raw := range f.CloneCollections {
		collection, err := id.ParseCollectionID(raw)
		if err != nil {
			return RoutingConfig{}, fmt.Errorf("clone collection for %s: %w", entityType, err)
		}
		cfg.CloneCollections[entityType] = collection
	}
	if f.ProfileCollection != "" {
		profile, err := id.ParseCollectionID(f.ProfileCollection)
		if err != nil {
			return RoutingConfig{}, fmt.Errorf("profile collection: %w", err)
		}
		cfg.ProfileCollection = profile
	}
	return cfg, nil
}
