package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"concytec/internal/graph/models"
	id "concytec/pkg/domain"
	"concytec/pkg/platform/sentinel"
	txcontext "concytec/pkg/platform/tx"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists the item graph in PostgreSQL. Statements join the
// transaction carried in the context when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// withTx runs fn in the ambient transaction, or in a short local one.
func (s *PostgresStore) withTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (s *PostgresStore) CreateEntityType(ctx context.Context, et *models.EntityType) error {
	_, err := s.querier(ctx).ExecContext(ctx,
		`INSERT INTO entity_type (id, label) VALUES ($1, $2)`,
		uuid.UUID(et.ID), et.Label)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("entity type %q: %w", et.Label, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert entity type: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindEntityTypeByLabel(ctx context.Context, label string) (*models.EntityType, error) {
	var raw uuid.UUID
	err := s.querier(ctx).QueryRowContext(ctx,
		`SELECT id FROM entity_type WHERE label = $1`, label).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entity type: %w", err)
	}
	return &models.EntityType{ID: id.EntityTypeID(raw), Label: label}, nil
}

func (s *PostgresStore) ListEntityTypes(ctx context.Context) ([]*models.EntityType, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `SELECT id, label FROM entity_type ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}
	defer rows.Close()
	var out []*models.EntityType
	for rows.Next() {
		var raw uuid.UUID
		et := &models.EntityType{}
		if err := rows.Scan(&raw, &et.Label); err != nil {
			return nil, fmt.Errorf("scan entity type: %w", err)
		}
		et.ID = id.EntityTypeID(raw)
		out = append(out, et)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRelationshipType(ctx context.Context, rt *models.RelationshipType) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO relationship_type (
			id, left_type, right_type, leftward_type, rightward_type,
			left_min, left_max, right_min, right_max
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(rt.ID), rt.LeftType, rt.RightType, rt.LeftwardType, rt.RightwardType,
		rt.Left.Min, rt.Left.Max, rt.Right.Min, rt.Right.Max)
	switch pgCode(err) {
	case pgUniqueViolation:
		return fmt.Errorf("relationship type %s/%s: %w", rt.LeftwardType, rt.RightwardType, sentinel.ErrConflict)
	case pgForeignKeyViolation:
		return fmt.Errorf("relationship type %s/%s entity types: %w", rt.LeftwardType, rt.RightwardType, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert relationship type: %w", err)
	}
	return nil
}

const relationshipTypeColumns = `id, left_type, right_type, leftward_type, rightward_type, left_min, left_max, right_min, right_max`

func scanRelationshipType(scan func(dest ...any) error) (*models.RelationshipType, error) {
	var raw uuid.UUID
	rt := &models.RelationshipType{}
	if err := scan(&raw, &rt.LeftType, &rt.RightType, &rt.LeftwardType, &rt.RightwardType,
		&rt.Left.Min, &rt.Left.Max, &rt.Right.Min, &rt.Right.Max); err != nil {
		return nil, err
	}
	rt.ID = id.RelationshipTypeID(raw)
	return rt, nil
}

func (s *PostgresStore) FindRelationshipType(ctx context.Context, typeID id.RelationshipTypeID) (*models.RelationshipType, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+relationshipTypeColumns+` FROM relationship_type WHERE id = $1`, uuid.UUID(typeID))
	rt, err := scanRelationshipType(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find relationship type: %w", err)
	}
	return rt, nil
}

func (s *PostgresStore) ListRelationshipTypes(ctx context.Context) ([]*models.RelationshipType, error) {
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT `+relationshipTypeColumns+` FROM relationship_type ORDER BY leftward_type, left_type, right_type`)
	if err != nil {
		return nil, fmt.Errorf("list relationship types: %w", err)
	}
	defer rows.Close()
	var out []*models.RelationshipType
	for rows.Next() {
		rt, err := scanRelationshipType(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan relationship type: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// SaveItem upserts the item row and replaces its metadata and policies.
func (s *PostgresStore) SaveItem(ctx context.Context, item *models.Item) error {
	return s.withTx(ctx, func(q querier) error {
		itemID := uuid.UUID(item.ID)
		_, err := q.ExecContext(ctx, `
			INSERT INTO item (id, entity_type, collection_id, archived, withdrawn, discoverable, last_modified)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				entity_type = EXCLUDED.entity_type,
				collection_id = EXCLUDED.collection_id,
				archived = EXCLUDED.archived,
				withdrawn = EXCLUDED.withdrawn,
				discoverable = EXCLUDED.discoverable,
				last_modified = EXCLUDED.last_modified`,
			itemID, item.EntityType, uuid.UUID(item.CollectionID),
			item.Archived, item.Withdrawn, item.Discoverable, item.LastModified)
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("entity type %q: %w", item.EntityType, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("upsert item: %w", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM metadata_value WHERE item_id = $1`, itemID); err != nil {
			return fmt.Errorf("clear metadata: %w", err)
		}
		for _, mv := range item.Metadata {
			_, err := q.ExecContext(ctx, `
				INSERT INTO metadata_value (item_id, field, schema, element, qualifier, value, authority, confidence, place)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				itemID, mv.Field(), mv.Schema, mv.Element, mv.Qualifier, mv.Value, mv.Authority, mv.Confidence, mv.Place)
			if err != nil {
				return fmt.Errorf("insert metadata: %w", err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM resource_policy WHERE item_id = $1`, itemID); err != nil {
			return fmt.Errorf("clear policies: %w", err)
		}
		for _, p := range item.Policies {
			_, err := q.ExecContext(ctx,
				`INSERT INTO resource_policy (item_id, action, eperson_id, group_id) VALUES ($1, $2, $3, $4)`,
				itemID, string(p.Action), nullUUID(uuid.UUID(p.EPerson)), nullUUID(uuid.UUID(p.Group)))
			if err != nil {
				return fmt.Errorf("insert policy: %w", err)
			}
		}
		return nil
	})
}

func nullUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func (s *PostgresStore) FindItem(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	items, err := s.loadItems(ctx, []string{itemID.String()})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return items[0], nil
}

func (s *PostgresStore) FindItemsByAuthority(ctx context.Context, field, authority string) ([]*models.Item, error) {
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT DISTINCT item_id FROM metadata_value WHERE field = $1 AND authority = $2`, field, authority)
	if err != nil {
		return nil, fmt.Errorf("find items by authority: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, raw.String())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.loadItems(ctx, ids)
}

// loadItems fetches items with their metadata and policies in three queries.
func (s *PostgresStore) loadItems(ctx context.Context, ids []string) ([]*models.Item, error) {
	q := s.querier(ctx)
	rows, err := q.QueryContext(ctx, `
		SELECT id, entity_type, collection_id, archived, withdrawn, discoverable, last_modified
		FROM item WHERE id = ANY($1::uuid[]) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Item, len(ids))
	var out []*models.Item
	for rows.Next() {
		var rawID, rawCollection uuid.UUID
		item := &models.Item{}
		if err := rows.Scan(&rawID, &item.EntityType, &rawCollection,
			&item.Archived, &item.Withdrawn, &item.Discoverable, &item.LastModified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.ID = id.ItemID(rawID)
		item.CollectionID = id.CollectionID(rawCollection)
		byID[rawID] = item
		out = append(out, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	mrows, err := q.QueryContext(ctx, `
		SELECT item_id, schema, element, qualifier, value, authority, confidence, place
		FROM metadata_value WHERE item_id = ANY($1::uuid[]) ORDER BY item_id, field, place`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	for mrows.Next() {
		var rawID uuid.UUID
		var mv models.MetadataValue
		if err := mrows.Scan(&rawID, &mv.Schema, &mv.Element, &mv.Qualifier,
			&mv.Value, &mv.Authority, &mv.Confidence, &mv.Place); err != nil {
			mrows.Close()
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		byID[rawID].Metadata = append(byID[rawID].Metadata, mv)
	}
	mrows.Close()
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	prows, err := q.QueryContext(ctx,
		`SELECT item_id, action, eperson_id, group_id FROM resource_policy WHERE item_id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var rawID uuid.UUID
		var action string
		var eperson, group uuid.NullUUID
		if err := prows.Scan(&rawID, &action, &eperson, &group); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		byID[rawID].Policies = append(byID[rawID].Policies, models.Policy{
			Action:  models.Action(action),
			EPerson: id.EPersonID(eperson.UUID),
			Group:   id.GroupID(group.UUID),
		})
	}
	return out, prows.Err()
}

// DeleteItem removes an item. Relationships must be removed first.
func (s *PostgresStore) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	res, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM item WHERE id = $1`, uuid.UUID(itemID))
	if pgCode(err) == pgForeignKeyViolation {
		return fmt.Errorf("item %s still has relationships: %w", itemID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRelationship(ctx context.Context, rel *models.Relationship) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO relationship (id, type_id, left_item, right_item, left_place, right_place)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			type_id = EXCLUDED.type_id,
			left_item = EXCLUDED.left_item,
			right_item = EXCLUDED.right_item,
			left_place = EXCLUDED.left_place,
			right_place = EXCLUDED.right_place`,
		uuid.UUID(rel.ID), uuid.UUID(rel.TypeID), uuid.UUID(rel.LeftItem), uuid.UUID(rel.RightItem),
		rel.LeftPlace, rel.RightPlace)
	if pgCode(err) == pgForeignKeyViolation {
		return fmt.Errorf("relationship %s endpoints: %w", rel.ID, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("upsert relationship: %w", err)
	}
	return nil
}

const relationshipColumns = `id, type_id, left_item, right_item, left_place, right_place`

func scanRelationship(scan func(dest ...any) error) (*models.Relationship, error) {
	var rawID, rawType, rawLeft, rawRight uuid.UUID
	rel := &models.Relationship{}
	if err := scan(&rawID, &rawType, &rawLeft, &rawRight, &rel.LeftPlace, &rel.RightPlace); err != nil {
		return nil, err
	}
	rel.ID = id.RelationshipID(rawID)
	rel.TypeID = id.RelationshipTypeID(rawType)
	rel.LeftItem = id.ItemID(rawLeft)
	rel.RightItem = id.ItemID(rawRight)
	return rel, nil
}

func (s *PostgresStore) queryRelationships(ctx context.Context, query string, args ...any) ([]*models.Relationship, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()
	var out []*models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindRelationship(ctx context.Context, relID id.RelationshipID) (*models.Relationship, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationship WHERE id = $1`, uuid.UUID(relID))
	rel, err := scanRelationship(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find relationship: %w", err)
	}
	return rel, nil
}

func (s *PostgresStore) FindRelationshipsByItem(ctx context.Context, itemID id.ItemID) ([]*models.Relationship, error) {
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM relationship
		WHERE left_item = $1 OR right_item = $1
		ORDER BY type_id, left_place, right_place, id`, uuid.UUID(itemID))
}

func (s *PostgresStore) FindRelationshipsByAnchor(ctx context.Context, itemID id.ItemID, typeID id.RelationshipTypeID, side models.Side) ([]*models.Relationship, error) {
	if side == models.SideLeft {
		return s.queryRelationships(ctx, `
			SELECT `+relationshipColumns+` FROM relationship
			WHERE left_item = $1 AND type_id = $2
			ORDER BY left_place, id`, uuid.UUID(itemID), uuid.UUID(typeID))
	}
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM relationship
		WHERE right_item = $1 AND type_id = $2
		ORDER BY right_place, id`, uuid.UUID(itemID), uuid.UUID(typeID))
}

func (s *PostgresStore) DeleteRelationship(ctx context.Context, relID id.RelationshipID) error {
	res, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM relationship WHERE id = $1`, uuid.UUID(relID))
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
