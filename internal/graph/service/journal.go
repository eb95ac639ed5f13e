package service

import (
	"context"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
)

type step struct {
	name string
	undo func(ctx context.Context) error
}

// Journal is the compensation list of a unit of work. Each graph mutation
// appends its inverse; Graph.Rollback replays them newest first.
type Journal struct {
	steps     []step
	mutations []models.Mutation
	deleted   []id.ItemID
}

func NewJournal() *Journal {
	return &Journal{}
}

// Len is the number of compensable steps recorded.
func (j *Journal) Len() int {
	return len(j.steps)
}

// Mutations returns the relationship changes recorded so far.
func (j *Journal) Mutations() []models.Mutation {
	return append([]models.Mutation(nil), j.mutations...)
}

// Absorb moves every step of child into j, preserving order, so a nested unit
// that succeeded is compensated together with its parent.
func (j *Journal) Absorb(child *Journal) {
	j.steps = append(j.steps, child.steps...)
	j.mutations = append(j.mutations, child.mutations...)
	j.deleted = append(j.deleted, child.deleted...)
	child.reset()
}

func (j *Journal) record(name string, undo func(ctx context.Context) error) {
	j.steps = append(j.steps, step{name: name, undo: undo})
}

func (j *Journal) mutated(kind models.ChangeKind, rel *models.Relationship) {
	j.mutations = append(j.mutations, models.Mutation{Kind: kind, Relationship: *rel})
}

func (j *Journal) reset() {
	j.steps = nil
	j.mutations = nil
	j.deleted = nil
}
