package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/db/models"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// tableMapping binds a resource kind to its bun models.
type tableMapping[R fhir.Resource] struct {
	resourceType string
	newResource  func() R
	// model returns an empty current-version row for queries.
	model func() models.CurrentRow
	// row returns a current-version row with the indexed columns of res.
	row     func(res R) models.CurrentRow
	history func() models.HistoryRow
	columns map[string]struct{}
}

// BunResourceRepository implements ResourceRepository using Bun ORM
type BunResourceRepository[R fhir.Resource] struct {
	db      *bun.DB
	mapping tableMapping[R]
	now     func() time.Time
}

var (
	_ ResourceRepository[*fhir.Observation] = (*BunResourceRepository[*fhir.Observation])(nil)
	_ ResourceRepository[*fhir.Condition]   = (*BunResourceRepository[*fhir.Condition])(nil)
	_ ResourceRepository[*fhir.Encounter]   = (*BunResourceRepository[*fhir.Encounter])(nil)
)

func newBunResourceRepository[R fhir.Resource](db *bun.DB, mapping tableMapping[R]) *BunResourceRepository[R] {
	return &BunResourceRepository[R]{
		db:      db,
		mapping: mapping,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewBunObservationRepository creates a Bun-based Observation store.
func NewBunObservationRepository(db *bun.DB) *BunResourceRepository[*fhir.Observation] {
	return newBunResourceRepository(db, observationMapping)
}

// NewBunConditionRepository creates a Bun-based Condition store.
func NewBunConditionRepository(db *bun.DB) *BunResourceRepository[*fhir.Condition] {
	return newBunResourceRepository(db, conditionMapping)
}

// NewBunEncounterRepository creates a Bun-based Encounter store.
func NewBunEncounterRepository(db *bun.DB) *BunResourceRepository[*fhir.Encounter] {
	return newBunResourceRepository(db, encounterMapping)
}

func (r *BunResourceRepository[R]) encode(res R) ([]byte, error) {
	doc, err := json.Marshal(res)
	if err != nil {
		return nil, fhirerr.Serialization(err)
	}
	return doc, nil
}

func (r *BunResourceRepository[R]) decode(doc []byte) (R, error) {
	res := r.mapping.newResource()
	if err := json.Unmarshal(doc, res); err != nil {
		var zero R
		return zero, fhirerr.Serialization(fmt.Errorf("decode %s: %w", r.mapping.resourceType, err))
	}
	return res, nil
}

func (r *BunResourceRepository[R]) decodeAll(docs []string) ([]R, error) {
	out := make([]R, 0, len(docs))
	for _, doc := range docs {
		res, err := r.decode([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// stamp sets id and meta on res and returns the serialized document.
func (r *BunResourceRepository[R]) stamp(res R, id string, version int, at time.Time) ([]byte, error) {
	meta := res.ResourceMeta()
	if meta == nil {
		meta = &fhir.Meta{}
	} else {
		cp := *meta
		meta = &cp
	}
	meta.VersionID = strconv.Itoa(version)
	meta.LastUpdated = &at
	res.SetResourceID(id)
	res.SetResourceMeta(meta)
	return r.encode(res)
}

func (r *BunResourceRepository[R]) historyEntry(id string, version int, doc []byte, at time.Time, op models.Operation) models.HistoryRow {
	h := r.mapping.history()
	*h.Entry() = models.ResourceHistory{
		ID:          id,
		VersionID:   version,
		Resource:    doc,
		LastUpdated: at,
		Operation:   op,
	}
	return h
}

// Create inserts version 1 of res and its history entry in one transaction
func (r *BunResourceRepository[R]) Create(ctx context.Context, res R) (R, error) {
	var zero R
	id := res.ResourceID()
	if id == "" {
		id = bunx.NewID()
	}

	now := r.now()
	doc, err := r.stamp(res, id, 1, now)
	if err != nil {
		return zero, err
	}

	row := r.mapping.row(res)
	*row.Base() = models.ResourceRow{ID: id, Resource: doc, VersionID: 1, LastUpdated: now}

	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert %s: %w", r.mapping.resourceType, err)
		}
		hist := r.historyEntry(id, 1, doc, now, models.OperationCreate)
		if _, err := tx.NewInsert().Model(hist).Exec(ctx); err != nil {
			return fmt.Errorf("insert %s history: %w", r.mapping.resourceType, err)
		}
		return nil
	})
	if err != nil {
		return zero, fhirerr.Database(err)
	}
	return res, nil
}

// Get retrieves the current version of a non-deleted resource
func (r *BunResourceRepository[R]) Get(ctx context.Context, id string) (R, error) {
	var zero R
	row := r.mapping.model()
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fhirerr.NotFound(r.mapping.resourceType, id)
		}
		return zero, fhirerr.Database(fmt.Errorf("get %s: %w", r.mapping.resourceType, err))
	}
	return r.decode(row.Base().Resource)
}

// Update writes the next version. The version check in the UPDATE guards
// against a concurrent writer that bumped the version first.
func (r *BunResourceRepository[R]) Update(ctx context.Context, id string, res R) (R, error) {
	var zero R
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := r.mapping.model()
		q := tx.NewSelect().Model(current).Where("id = ?", id)
		if r.db.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fhirerr.NotFound(r.mapping.resourceType, id)
			}
			return fmt.Errorf("load %s: %w", r.mapping.resourceType, err)
		}

		previous := current.Base().VersionID
		version := previous + 1
		now := r.now()
		doc, err := r.stamp(res, id, version, now)
		if err != nil {
			return err
		}

		row := r.mapping.row(res)
		*row.Base() = models.ResourceRow{ID: id, Resource: doc, VersionID: version, LastUpdated: now}

		result, err := tx.NewUpdate().
			Model(row).
			WherePK().
			Where("version_id = ?", previous).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update %s: %w", r.mapping.resourceType, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if affected == 0 {
			return fhirerr.Conflict("%s/%s was modified concurrently", r.mapping.resourceType, id)
		}

		hist := r.historyEntry(id, version, doc, now, models.OperationUpdate)
		if _, err := tx.NewInsert().Model(hist).Exec(ctx); err != nil {
			return fmt.Errorf("insert %s history: %w", r.mapping.resourceType, err)
		}
		return nil
	})
	if err != nil {
		return zero, asDomainError(err)
	}
	return res, nil
}

// Delete marks the current row deleted. History is kept.
func (r *BunResourceRepository[R]) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model(r.mapping.model()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fhirerr.Database(fmt.Errorf("delete %s: %w", r.mapping.resourceType, err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fhirerr.Database(fmt.Errorf("get rows affected: %w", err))
	}
	if affected == 0 {
		return fhirerr.NotFound(r.mapping.resourceType, id)
	}
	return nil
}

// Search returns one page of current resources and the total match count
func (r *BunResourceRepository[R]) Search(ctx context.Context, q SearchQuery) (SearchResult[R], error) {
	sel := r.db.NewSelect().
		Model(r.mapping.model()).
		Column("resource")

	for _, f := range q.Filters {
		var err error
		if sel, err = r.applyFilter(sel, f); err != nil {
			return SearchResult[R]{}, err
		}
	}

	offset := max(q.Offset, 0)
	var docs []string
	total, err := sel.
		OrderExpr("last_updated DESC, id ASC").
		Limit(q.Limit()).
		Offset(offset).
		ScanAndCount(ctx, &docs)
	if err != nil {
		return SearchResult[R]{}, fhirerr.Database(fmt.Errorf("search %s: %w", r.mapping.resourceType, err))
	}

	resources, err := r.decodeAll(docs)
	if err != nil {
		return SearchResult[R]{}, err
	}
	return SearchResult[R]{Resources: resources, Total: total, Offset: offset}, nil
}

func (r *BunResourceRepository[R]) applyFilter(sel *bun.SelectQuery, f SearchFilter) (*bun.SelectQuery, error) {
	if _, ok := r.mapping.columns[f.Column]; !ok {
		return nil, fhirerr.Validation("unsupported search column %q for %s", f.Column, r.mapping.resourceType)
	}
	col := bun.Ident(f.Column)

	switch f.Op {
	case OpEqual:
		return sel.Where("? = ?", col, f.Value), nil
	case OpContains:
		value := strings.ToLower(fmt.Sprint(f.Value))
		return sel.Where("LOWER(?) LIKE ?", col, "%"+value+"%"), nil
	case OpGreaterEqual:
		return sel.Where("? >= ?", col, f.Value), nil
	case OpLessEqual:
		return sel.Where("? <= ?", col, f.Value), nil
	case OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return nil, fhirerr.Validation("filter on %q expects a list of values", f.Column)
		}
		if len(values) == 0 {
			return sel.Where("1 = 0"), nil
		}
		return sel.Where("? IN (?)", col, bun.In(values)), nil
	default:
		return nil, fhirerr.Validation("unsupported filter operator %d", f.Op)
	}
}

// History lists every stored version, newest first
func (r *BunResourceRepository[R]) History(ctx context.Context, id string) ([]R, error) {
	var docs []string
	err := r.db.NewSelect().
		Model(r.mapping.history()).
		Column("resource").
		Where("id = ?", id).
		Order("version_id DESC").
		Scan(ctx, &docs)
	if err != nil {
		return nil, fhirerr.Database(fmt.Errorf("history %s: %w", r.mapping.resourceType, err))
	}
	if len(docs) == 0 {
		return nil, fhirerr.NotFound(r.mapping.resourceType, id)
	}
	return r.decodeAll(docs)
}

// Version retrieves one stored version
func (r *BunResourceRepository[R]) Version(ctx context.Context, id string, version int) (R, error) {
	var zero R
	hist := r.mapping.history()
	err := r.db.NewSelect().
		Model(hist).
		Where("id = ?", id).
		Where("version_id = ?", version).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fhirerr.NotFound(r.mapping.resourceType, fmt.Sprintf("%s/_history/%d", id, version))
		}
		return zero, fhirerr.Database(fmt.Errorf("get %s version: %w", r.mapping.resourceType, err))
	}
	return r.decode(hist.Entry().Resource)
}

// asDomainError passes typed errors through and classifies the rest as
// database failures.
func asDomainError(err error) error {
	var fe *fhirerr.Error
	if errors.As(err, &fe) {
		return fe
	}
	return fhirerr.Database(err)
}
