package repository

import (
	"context"

	"github.com/terraconstructs/fhirapi/internal/db/models"
	"github.com/terraconstructs/fhirapi/internal/fhir"
)

// DefaultSearchCount and MaxSearchCount bound a search page.
const (
	DefaultSearchCount = 100
	MaxSearchCount     = 1000
)

// FilterOp is the comparison applied by a SearchFilter.
type FilterOp int

const (
	OpEqual FilterOp = iota
	// OpContains is a case-insensitive substring match.
	OpContains
	OpGreaterEqual
	OpLessEqual
	OpIn
)

// SearchFilter constrains one indexed column. Column must be one of the
// indexed columns of the table being searched.
type SearchFilter struct {
	Column string
	Op     FilterOp
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) SearchFilter {
	return SearchFilter{Column: column, Op: OpEqual, Value: value}
}

// Contains builds a case-insensitive substring filter.
func Contains(column, value string) SearchFilter {
	return SearchFilter{Column: column, Op: OpContains, Value: value}
}

// In builds a set-membership filter.
func In(column string, values ...string) SearchFilter {
	return SearchFilter{Column: column, Op: OpIn, Value: values}
}

// SearchQuery selects a page of current, non-deleted resources ordered by
// last update, newest first.
type SearchQuery struct {
	Filters []SearchFilter
	Count   int
	Offset  int
}

// Limit returns the effective page size.
func (q SearchQuery) Limit() int {
	switch {
	case q.Count <= 0:
		return DefaultSearchCount
	case q.Count > MaxSearchCount:
		return MaxSearchCount
	default:
		return q.Count
	}
}

// SearchResult is one page of matches plus the total match count.
type SearchResult[R fhir.Resource] struct {
	Resources []R
	Total     int
	Offset    int
}

// ResourceRepository persists one resource kind as versioned documents.
type ResourceRepository[R fhir.Resource] interface {
	// Create stores version 1. An empty id is replaced by a generated one.
	Create(ctx context.Context, res R) (R, error)
	Get(ctx context.Context, id string) (R, error)
	// Update stores the next version of an existing, non-deleted resource.
	Update(ctx context.Context, id string, res R) (R, error)
	// Delete soft-deletes the current version; history is retained.
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q SearchQuery) (SearchResult[R], error)
	// History lists every stored version, newest first.
	History(ctx context.Context, id string) ([]R, error)
	Version(ctx context.Context, id string, version int) (R, error)
}

// PatientRepository adds identifier lookup to the Patient store.
type PatientRepository interface {
	ResourceRepository[*fhir.Patient]
	// FindByIdentifier returns the current patients carrying system|value.
	// An empty system matches any system.
	FindByIdentifier(ctx context.Context, system, value string) ([]*fhir.Patient, error)
}

type (
	ObservationRepository = ResourceRepository[*fhir.Observation]
	ConditionRepository   = ResourceRepository[*fhir.Condition]
	EncounterRepository   = ResourceRepository[*fhir.Encounter]
)

// UserRepository exposes persistence operations for login principals.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.User, error)
}
