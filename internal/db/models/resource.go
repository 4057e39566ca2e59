package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// ResourceRow is the part of every current-version table shared by all
// resource kinds. Resource holds the full JSON document as an object, not a
// quoted string; the indexed columns of each kind are derived from it on
// every write.
type ResourceRow struct {
	ID          string          `bun:"id,pk"`
	Resource    json.RawMessage `bun:"resource,type:jsonb,notnull"`
	VersionID   int             `bun:"version_id,notnull"`
	LastUpdated time.Time       `bun:"last_updated,notnull"`
	DeletedAt   time.Time       `bun:"deleted_at,soft_delete,nullzero"`
}

// CurrentRow is implemented by the per-kind current-version models.
type CurrentRow interface {
	Base() *ResourceRow
}

// Operation records how a history entry was produced.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
)

// ResourceHistory is one immutable version of a resource.
type ResourceHistory struct {
	ID          string          `bun:"id,pk"`
	VersionID   int             `bun:"version_id,pk"`
	Resource    json.RawMessage `bun:"resource,type:jsonb,notnull"`
	LastUpdated time.Time       `bun:"last_updated,notnull"`
	Operation   Operation       `bun:"operation,notnull"`
}

// HistoryRow is implemented by the per-kind history models.
type HistoryRow interface {
	Entry() *ResourceHistory
}

// PatientRow is the current version of a Patient.
type PatientRow struct {
	bun.BaseModel `bun:"table:patients,alias:p"`
	ResourceRow

	Active      *bool   `bun:"active"`
	FamilyName  *string `bun:"family_name"`
	GivenName   *string `bun:"given_name"`
	Gender      *string `bun:"gender"`
	BirthDate   *string `bun:"birth_date"`
	Deceased    *bool   `bun:"deceased"`
	Identifiers string  `bun:"identifiers,notnull,default:''"` // "\n" separated system|value tokens
}

func (r *PatientRow) Base() *ResourceRow { return &r.ResourceRow }

type PatientHistory struct {
	bun.BaseModel `bun:"table:patients_history,alias:ph"`
	ResourceHistory
}

func (h *PatientHistory) Entry() *ResourceHistory { return &h.ResourceHistory }

// ObservationRow is the current version of an Observation.
type ObservationRow struct {
	bun.BaseModel `bun:"table:observations,alias:o"`
	ResourceRow

	Status            string     `bun:"status,notnull"`
	SubjectID         *string    `bun:"subject_id"`
	CategoryCode      *string    `bun:"category_code"`
	CodeCode          *string    `bun:"code_code"`
	CodeSystem        *string    `bun:"code_system"`
	EffectiveDateTime *time.Time `bun:"effective_datetime"`
	Issued            *time.Time `bun:"issued"`
}

func (r *ObservationRow) Base() *ResourceRow { return &r.ResourceRow }

type ObservationHistory struct {
	bun.BaseModel `bun:"table:observations_history,alias:oh"`
	ResourceHistory
}

func (h *ObservationHistory) Entry() *ResourceHistory { return &h.ResourceHistory }

// ConditionRow is the current version of a Condition.
type ConditionRow struct {
	bun.BaseModel `bun:"table:conditions,alias:c"`
	ResourceRow

	SubjectID          string     `bun:"subject_id,notnull"`
	ClinicalStatus     *string    `bun:"clinical_status"`
	VerificationStatus *string    `bun:"verification_status"`
	CategoryCode       *string    `bun:"category_code"`
	CodeCode           *string    `bun:"code_code"`
	CodeSystem         *string    `bun:"code_system"`
	OnsetDateTime      *time.Time `bun:"onset_datetime"`
	RecordedDate       *time.Time `bun:"recorded_date"`
}

func (r *ConditionRow) Base() *ResourceRow { return &r.ResourceRow }

type ConditionHistory struct {
	bun.BaseModel `bun:"table:conditions_history,alias:ch"`
	ResourceHistory
}

func (h *ConditionHistory) Entry() *ResourceHistory { return &h.ResourceHistory }

// EncounterRow is the current version of an Encounter.
type EncounterRow struct {
	bun.BaseModel `bun:"table:encounters,alias:e"`
	ResourceRow

	Status      string     `bun:"status,notnull"`
	ClassCode   *string    `bun:"class_code"`
	SubjectID   *string    `bun:"subject_id"`
	PeriodStart *time.Time `bun:"period_start"`
	PeriodEnd   *time.Time `bun:"period_end"`
}

func (r *EncounterRow) Base() *ResourceRow { return &r.ResourceRow }

type EncounterHistory struct {
	bun.BaseModel `bun:"table:encounters_history,alias:eh"`
	ResourceHistory
}

func (h *EncounterHistory) Entry() *ResourceHistory { return &h.ResourceHistory }
