package service

import (
	"context"
	"strings"

	"concytec/internal/concytec/lock"
	"concytec/internal/graph/models"
	graphsvc "concytec/internal/graph/service"
	profilemodels "concytec/internal/profile/models"
	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
	audit "concytec/pkg/platform/audit"
)

// Create creates a profile for an EPerson without claiming an item. The
// metadata of every source URI in the request seeds the profile item.
func (s *Service) Create(ctx context.Context, req profilemodels.CreateRequest) (*profilemodels.ResearcherProfile, error) {
	ctx, span := s.tracer.Start(ctx, "profile.create")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, req.EPersonID); err != nil {
		return nil, err
	}
	seed, err := s.importSources(ctx, req.Sources)
	if err != nil {
		return nil, err
	}

	var item *models.Item
	err = s.withLock(ctx, []string{lock.EPersonKey(req.EPersonID)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "create_profile", func(ctx context.Context, j *graphsvc.Journal) error {
			existing, err := s.findProfileItem(ctx, req.EPersonID)
			if err != nil {
				return err
			}
			if existing != nil {
				return dErrors.New(dErrors.CodeConflict, "a profile is already linked to this user")
			}
			item = &models.Item{Metadata: seed}
			fillProfileItem(item, s.routing.ProfileCollection, req.EPersonID, req.FullName, req.Email)
			return s.graph.CreateItem(ctx, j, item)
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.incrementProfileOperation("created")
	s.logAudit(ctx, audit.EventProfileCreated, audit.Event{
		EPersonID: req.EPersonID,
		Subject:   item.ID.String(),
		Outcome:   "created",
	}, "eperson_id", req.EPersonID, "profile_item_id", item.ID, "sources", len(req.Sources))
	return profilemodels.NewResearcherProfile(item)
}

// FindByID returns the profile of an EPerson.
func (s *Service) FindByID(ctx context.Context, ePersonID id.EPersonID) (*profilemodels.ResearcherProfile, error) {
	item, err := s.findProfileItem(ctx, ePersonID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	if !s.authz.CanRead(ctx, item) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to read this profile")
	}
	return profilemodels.NewResearcherProfile(item)
}

// Delete removes the profile of an EPerson. With hard deletion enabled the
// profile item and its clone are purged and their relationships cascade;
// otherwise only the owner is stripped and relationships are kept. After
// delete actions run in the same unit of work, so a failing action aborts
// the deletion. Deleting a missing profile is a no-op.
func (s *Service) Delete(ctx context.Context, ePersonID id.EPersonID) error {
	ctx, span := s.tracer.Start(ctx, "profile.delete")
	defer span.End()

	if err := s.requireManage(ctx, ePersonID); err != nil {
		return err
	}
	var deleted *profilemodels.ResearcherProfile
	err := s.withLock(ctx, []string{lock.EPersonKey(ePersonID)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "delete_profile", func(ctx context.Context, j *graphsvc.Journal) error {
			item, err := s.findProfileItem(ctx, ePersonID)
			if err != nil || item == nil {
				return err
			}
			profile, err := profilemodels.NewResearcherProfile(item)
			if err != nil {
				return err
			}
			if s.routing.HardDeleteProfiles {
				err = s.purgeProfile(ctx, j, item)
			} else {
				stripped := item.Clone()
				stripped.ClearField(models.FieldOwner)
				err = s.graph.UpdateItem(ctx, j, stripped)
			}
			if err != nil {
				return err
			}
			for _, action := range s.afterDelete {
				if err := action.AfterProfileDeleted(ctx, j, profile); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "after delete action failed")
				}
			}
			deleted = profile
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if deleted == nil {
		return nil
	}
	mode := "soft"
	if s.routing.HardDeleteProfiles {
		mode = "hard"
	}
	s.incrementProfileOperation("deleted_" + mode)
	s.logAudit(ctx, audit.EventProfileDeleted, audit.Event{
		EPersonID: ePersonID,
		Subject:   deleted.Item.ID.String(),
		Outcome:   mode,
	}, "eperson_id", ePersonID, "profile_item_id", deleted.Item.ID, "mode", mode)
	return nil
}

func (s *Service) purgeProfile(ctx context.Context, j *graphsvc.Journal, item *models.Item) error {
	clone, err := s.workflow.FindClone(ctx, item.ID)
	if err != nil {
		return err
	}
	if clone != nil {
		if err := s.graph.DeleteItem(ctx, j, clone.ID); err != nil {
			return err
		}
	}
	return s.graph.DeleteItem(ctx, j, item.ID)
}

// ChangeVisibility publishes or hides a profile together with the CV
// entities it owns. Hiding also makes sure the owner keeps read access.
func (s *Service) ChangeVisibility(ctx context.Context, ePersonID id.EPersonID, visible bool) (*profilemodels.ResearcherProfile, error) {
	if err := s.requireManage(ctx, ePersonID); err != nil {
		return nil, err
	}
	var (
		profile *profilemodels.ResearcherProfile
		changed bool
	)
	err := s.withLock(ctx, []string{lock.EPersonKey(ePersonID)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "change_visibility", func(ctx context.Context, j *graphsvc.Journal) error {
			item, err := s.findProfileItem(ctx, ePersonID)
			if err != nil {
				return err
			}
			if item == nil {
				return dErrors.New(dErrors.CodeNotFound, "profile not found")
			}
			if item.IsPublic() == visible {
				profile, err = profilemodels.NewResearcherProfile(item)
				return err
			}
			entities, err := s.cvEntities(ctx, ePersonID)
			if err != nil {
				return err
			}
			updated := item.Clone()
			for _, target := range append([]*models.Item{updated}, entities...) {
				if target != updated {
					target = target.Clone()
				}
				applyVisibility(target, ePersonID, visible)
				if err := s.graph.UpdateItem(ctx, j, target); err != nil {
					return err
				}
			}
			changed = true
			profile, err = profilemodels.NewResearcherProfile(updated)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.incrementProfileOperation("visibility_changed")
		outcome := "hidden"
		if visible {
			outcome = "visible"
		}
		s.logAudit(ctx, audit.EventProfileVisibilityChanged, audit.Event{
			EPersonID: ePersonID,
			Subject:   profile.Item.ID.String(),
			Outcome:   outcome,
		}, "eperson_id", ePersonID, "visible", visible)
	}
	return profile, nil
}

func applyVisibility(item *models.Item, owner id.EPersonID, visible bool) {
	anonymousRead := models.Policy{Action: models.ActionRead, Group: id.Anonymous}
	if visible {
		item.Grant(anonymousRead)
		return
	}
	item.Revoke(anonymousRead)
	item.Grant(models.Policy{Action: models.ActionRead, EPerson: owner})
}

// CvEntities lists the CV publications, projects and patents owned by an
// EPerson. Profiles and clones are not CV entities.
func (s *Service) CvEntities(ctx context.Context, ePersonID id.EPersonID) ([]*models.Item, error) {
	if err := s.requireManage(ctx, ePersonID); err != nil {
		return nil, err
	}
	return s.cvEntities(ctx, ePersonID)
}

func (s *Service) cvEntities(ctx context.Context, ePersonID id.EPersonID) ([]*models.Item, error) {
	items, err := s.graph.FindItemsByAuthority(ctx, models.FieldOwner, ePersonID.String())
	if err != nil {
		return nil, err
	}
	var out []*models.Item
	for _, item := range items {
		if isCvEntity(item.EntityType) {
			out = append(out, item)
		}
	}
	return out, nil
}

func isCvEntity(entityType string) bool {
	return strings.HasPrefix(entityType, "Cv") &&
		!strings.HasSuffix(entityType, cloneSuffix) &&
		entityType != profilemodels.ProfileEntityType
}

// DeleteCvEntities removes every CV entity of an EPerson together with its
// workflow clone and returns how many entities were removed.
func (s *Service) DeleteCvEntities(ctx context.Context, ePersonID id.EPersonID) (int, error) {
	if err := s.requireManage(ctx, ePersonID); err != nil {
		return 0, err
	}
	var removed int
	err := s.withLock(ctx, []string{lock.EPersonKey(ePersonID)}, func(ctx context.Context) error {
		return s.graph.Atomically(ctx, "delete_cv_entities", func(ctx context.Context, j *graphsvc.Journal) error {
			var err error
			removed, err = s.deleteCvEntities(ctx, j, ePersonID)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logAudit(ctx, audit.EventCvEntitiesDeleted, audit.Event{
			EPersonID: ePersonID,
			Subject:   ePersonID.String(),
			Outcome:   "deleted",
		}, "eperson_id", ePersonID, "count", removed)
	}
	return removed, nil
}

func (s *Service) deleteCvEntities(ctx context.Context, j *graphsvc.Journal, ePersonID id.EPersonID) (int, error) {
	entities, err := s.cvEntities(ctx, ePersonID)
	if err != nil {
		return 0, err
	}
	for _, entity := range entities {
		clone, err := s.workflow.FindClone(ctx, entity.ID)
		if err != nil {
			return 0, err
		}
		if clone != nil {
			if err := s.graph.DeleteItem(ctx, j, clone.ID); err != nil {
				return 0, err
			}
		}
		if err := s.graph.DeleteItem(ctx, j, entity.ID); err != nil {
			return 0, err
		}
	}
	return len(entities), nil
}

// DeleteCvEntitiesAction removes the CV entities of a deleted profile.
type DeleteCvEntitiesAction struct {
	Service *Service
}

func (a DeleteCvEntitiesAction) AfterProfileDeleted(ctx context.Context, j *graphsvc.Journal, profile *profilemodels.ResearcherProfile) error {
	_, err := a.Service.deleteCvEntities(ctx, j, profile.ID)
	return err
}

func (s *Service) importSources(ctx context.Context, sources []string) ([]models.MetadataValue, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	if s.importer == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "no external sources are configured")
	}
	var seed []models.MetadataValue
	for _, uri := range sources {
		for mv, err := range s.importer.Import(ctx, uri) {
			if err != nil {
				return nil, err
			}
			switch mv.Field() {
			case models.FieldOwner, models.FieldEntityType, models.FieldSourceID:
				continue
			}
			seed = append(seed, mv)
		}
	}
	return seed, nil
}

// fillProfileItem turns item into a CvPerson profile of ePersonID. An
// existing title wins, then the imported family and given names, then the
// full name, then the email.
func fillProfileItem(item *models.Item, collection id.CollectionID, ePersonID id.EPersonID, fullName, email string) {
	item.EntityType = profilemodels.ProfileEntityType
	item.CollectionID = collection
	item.Archived = true
	item.Discoverable = true

	title := item.Title()
	if title == "" {
		title = strings.TrimSpace(item.FirstValue(models.FieldFamilyName) + " " + item.FirstValue(models.FieldGivenName))
	}
	if title == "" {
		title = fullName
	}
	if title == "" {
		title = email
	}
	item.SetValue(models.FieldTitle, title)
	item.SetValue(models.FieldSourceID, ePersonID.String())
	item.SetAuthority(models.FieldOwner, title, ePersonID.String())
	if email != "" && item.FirstValue(models.FieldEmail) == "" {
		item.SetValue(models.FieldEmail, email)
	}
	item.Grant(models.Policy{Action: models.ActionRead, EPerson: ePersonID})
	item.Grant(models.Policy{Action: models.ActionWrite, EPerson: ePersonID})
}

func newProfileItem(collection id.CollectionID, ePersonID id.EPersonID, fullName, email string) *models.Item {
	item := &models.Item{}
	fillProfileItem(item, collection, ePersonID, fullName, email)
	return item
}
