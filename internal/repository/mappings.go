package repository

import (
	"strings"
	"time"

	"github.com/terraconstructs/fhirapi/internal/db/models"
	"github.com/terraconstructs/fhirapi/internal/fhir"
)

// Indexed column names, usable in SearchFilter.Column.
const (
	ColID                 = "id"
	ColActive             = "active"
	ColFamilyName         = "family_name"
	ColGivenName          = "given_name"
	ColGender             = "gender"
	ColBirthDate          = "birth_date"
	ColDeceased           = "deceased"
	ColIdentifiers        = "identifiers"
	ColStatus             = "status"
	ColSubjectID          = "subject_id"
	ColCategoryCode       = "category_code"
	ColCodeCode           = "code_code"
	ColCodeSystem         = "code_system"
	ColEffectiveDateTime  = "effective_datetime"
	ColIssued             = "issued"
	ColClinicalStatus     = "clinical_status"
	ColVerificationStatus = "verification_status"
	ColOnsetDateTime      = "onset_datetime"
	ColRecordedDate       = "recorded_date"
	ColClassCode          = "class_code"
	ColPeriodStart        = "period_start"
	ColPeriodEnd          = "period_end"
	ColLastUpdated        = "last_updated"
)

func columnSet(cols ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(cols)+1)
	for _, c := range cols {
		set[c] = struct{}{}
	}
	set[ColID] = struct{}{}
	set[ColLastUpdated] = struct{}{}
	return set
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optTime(value string) *time.Time {
	t, ok := fhir.ParseDateTime(value)
	if !ok {
		return nil
	}
	t = t.UTC()
	return &t
}

func firstCode(concepts []fhir.CodeableConcept) *string {
	if len(concepts) == 0 {
		return nil
	}
	coding, _ := concepts[0].FirstCoding()
	return optString(coding.Code)
}

// subjectColumn stores the compartment id of a literal patient reference,
// or the reference verbatim for any other subject.
func subjectColumn(ref *fhir.Reference) *string {
	if ref == nil || ref.Reference == "" {
		return nil
	}
	return optString(fhir.CompartmentID(ref.Reference))
}

// IdentifierToken is the form an identifier takes in the identifiers column.
func IdentifierToken(system, value string) string {
	return system + "|" + value
}

func identifierTokens(ids []fhir.Identifier) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, id := range ids {
		b.WriteString(IdentifierToken(id.System, id.Value))
		b.WriteString("\n")
	}
	return b.String()
}

var patientMapping = tableMapping[*fhir.Patient]{
	resourceType: fhir.TypePatient,
	newResource:  fhir.NewPatient,
	model:        func() models.CurrentRow { return new(models.PatientRow) },
	history:      func() models.HistoryRow { return new(models.PatientHistory) },
	row: func(p *fhir.Patient) models.CurrentRow {
		return &models.PatientRow{
			Active:      p.Active,
			FamilyName:  optString(p.FamilyName()),
			GivenName:   optString(p.GivenName()),
			Gender:      optString(p.Gender),
			BirthDate:   optString(p.BirthDate),
			Deceased:    p.Deceased(),
			Identifiers: identifierTokens(p.Identifier),
		}
	},
	columns: columnSet(ColActive, ColFamilyName, ColGivenName, ColGender, ColBirthDate, ColDeceased, ColIdentifiers),
}

var observationMapping = tableMapping[*fhir.Observation]{
	resourceType: fhir.TypeObservation,
	newResource:  fhir.NewObservation,
	model:        func() models.CurrentRow { return new(models.ObservationRow) },
	history:      func() models.HistoryRow { return new(models.ObservationHistory) },
	row: func(o *fhir.Observation) models.CurrentRow {
		coding, _ := o.Code.FirstCoding()
		return &models.ObservationRow{
			Status:            o.Status,
			SubjectID:         subjectColumn(o.SubjectRef),
			CategoryCode:      firstCode(o.Category),
			CodeCode:          optString(coding.Code),
			CodeSystem:        optString(coding.System),
			EffectiveDateTime: optTime(o.EffectiveDateTime),
			Issued:            optTime(o.Issued),
		}
	},
	columns: columnSet(ColStatus, ColSubjectID, ColCategoryCode, ColCodeCode, ColCodeSystem, ColEffectiveDateTime, ColIssued),
}

var conditionMapping = tableMapping[*fhir.Condition]{
	resourceType: fhir.TypeCondition,
	newResource:  fhir.NewCondition,
	model:        func() models.CurrentRow { return new(models.ConditionRow) },
	history:      func() models.HistoryRow { return new(models.ConditionHistory) },
	row: func(c *fhir.Condition) models.CurrentRow {
		coding, _ := c.Code.FirstCoding()
		var subject string
		if s := subjectColumn(&c.SubjectRef); s != nil {
			subject = *s
		}
		return &models.ConditionRow{
			SubjectID:          subject,
			ClinicalStatus:     optString(c.ClinicalStatusCode()),
			VerificationStatus: optString(c.VerificationStatusCode()),
			CategoryCode:       firstCode(c.Category),
			CodeCode:           optString(coding.Code),
			CodeSystem:         optString(coding.System),
			OnsetDateTime:      optTime(c.OnsetDateTime),
			RecordedDate:       optTime(c.RecordedDate),
		}
	},
	columns: columnSet(ColSubjectID, ColClinicalStatus, ColVerificationStatus, ColCategoryCode, ColCodeCode, ColCodeSystem, ColOnsetDateTime, ColRecordedDate),
}

var encounterMapping = tableMapping[*fhir.Encounter]{
	resourceType: fhir.TypeEncounter,
	newResource:  fhir.NewEncounter,
	model:        func() models.CurrentRow { return new(models.EncounterRow) },
	history:      func() models.HistoryRow { return new(models.EncounterHistory) },
	row: func(e *fhir.Encounter) models.CurrentRow {
		row := &models.EncounterRow{
			Status:    e.Status,
			ClassCode: optString(e.Class.Code),
			SubjectID: subjectColumn(e.SubjectRef),
		}
		if e.Period != nil {
			row.PeriodStart = optTime(e.Period.Start)
			row.PeriodEnd = optTime(e.Period.End)
		}
		return row
	},
	columns: columnSet(ColStatus, ColClassCode, ColSubjectID, ColPeriodStart, ColPeriodEnd),
}
