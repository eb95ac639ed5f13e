package models

import (
	"strings"

	graphmodels "concytec/internal/graph/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

// ProfileEntityType is the entity type of researcher profile items.
const ProfileEntityType = "CvPerson"

// ResearcherProfile is the view of a CvPerson item owned by an EPerson. The
// profile id is the id of the owning EPerson.
type ResearcherProfile struct {
	ID   id.EPersonID
	Item *graphmodels.Item
}

// NewResearcherProfile wraps a profile item. The item must carry the owner
// authority.
func NewResearcherProfile(item *graphmodels.Item) (*ResearcherProfile, error) {
	if item == nil || item.EntityType != ProfileEntityType {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "profile item must be a CvPerson")
	}
	owner, err := id.ParseEPersonID(item.Authority(graphmodels.FieldOwner))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "profile item has no owner")
	}
	return &ResearcherProfile{ID: owner, Item: item}, nil
}

// Visible reports whether anonymous users can read the profile.
func (p *ResearcherProfile) Visible() bool {
	return p.Item.IsPublic()
}

// ClaimRequest binds an EPerson to an existing person item, given either by
// id or by a URI that resolves to one.
type ClaimRequest struct {
	EPersonID id.EPersonID
	Email     string
	FullName  string
	ItemID    id.ItemID
	SourceURI string
}

// Normalize trims the free-text fields.
func (r *ClaimRequest) Normalize() {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.SourceURI = strings.TrimSpace(r.SourceURI)
}

// Validate checks the request shape before anything is loaded.
func (r *ClaimRequest) Validate() error {
	if r.EPersonID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "eperson id is required")
	}
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if r.ItemID.IsNil() && r.SourceURI == "" {
		return dErrors.New(dErrors.CodeValidation, "an item id or a source uri is required")
	}
	return nil
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	// ProfileID equals the claiming EPerson id.
	ProfileID     id.EPersonID
	ProfileItemID id.ItemID
	CloneID       id.ItemID
	// ClaimedItemID is the item the request named, after URI resolution.
	ClaimedItemID id.ItemID
	// ItemID is the backing person item: the claimed item, or the institution
	// item it was merged into.
	ItemID id.ItemID
	Merged bool
	// ProfileCreated is set when the claim created the profile item.
	ProfileCreated bool
}

// CreateRequest creates a profile without claiming an item.
type CreateRequest struct {
	EPersonID id.EPersonID
	Email     string
	FullName  string
	// Sources are external record URIs whose metadata seeds the profile.
	Sources []string
}

func (r *CreateRequest) Normalize() {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
}

func (r *CreateRequest) Validate() error {
	if r.EPersonID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "eperson id is required")
	}
	if r.FullName == "" && r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "a name or email is required")
	}
	return nil
}
