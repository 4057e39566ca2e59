package validation

import (
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

func checkResourceType(res fhir.Resource, want string) error {
	if got := res.ResourceType(); got != want {
		return fhirerr.InvalidResourceType("expected %s, got '%s'", want, got)
	}
	return nil
}

func conceptHasContent(c *fhir.CodeableConcept) bool {
	return c != nil && (len(c.Coding) > 0 || c.Text != "")
}

// ValidatePatient applies the Patient demographic rules.
func ValidatePatient(p *fhir.Patient) error {
	if err := checkResourceType(p, fhir.TypePatient); err != nil {
		return err
	}

	// A present-but-empty array decodes to a non-nil empty slice.
	if p.Name != nil && len(p.Name) == 0 {
		return fhirerr.Validation("Name array cannot be empty if present")
	}
	for _, name := range p.Name {
		if name.Family == "" && len(name.Given) == 0 && name.Text == "" {
			return fhirerr.Validation("HumanName must have at least family, given, or text")
		}
	}

	if p.Gender != "" && !fhir.ValidCode(fhir.Genders, p.Gender) {
		return fhirerr.Validation("Invalid gender value: '%s'. Must be one of: male, female, other, unknown", p.Gender)
	}

	for _, id := range p.Identifier {
		if id.Value == "" && id.System == "" {
			return fhirerr.Validation("Identifier must have at least a value or system")
		}
	}
	return nil
}

// ValidateObservation applies the Observation rules.
func ValidateObservation(o *fhir.Observation) error {
	if err := checkResourceType(o, fhir.TypeObservation); err != nil {
		return err
	}

	if o.Status == "" {
		return fhirerr.MissingRequiredField("status")
	}
	if !fhir.ValidCode(fhir.ObservationStatuses, o.Status) {
		return fhirerr.Validation("Invalid status value: '%s'", o.Status)
	}

	if !conceptHasContent(&o.Code) {
		return fhirerr.Validation("Observation.code must have at least coding or text")
	}
	if o.HasValue() && o.DataAbsentReason != nil {
		return fhirerr.Validation("Cannot have both value and dataAbsentReason")
	}

	for i := range o.Component {
		c := &o.Component[i]
		if !conceptHasContent(&c.Code) {
			return fhirerr.Validation("Component.code must have at least coding or text")
		}
		if c.HasValue() && c.DataAbsentReason != nil {
			return fhirerr.Validation("Component cannot have both value and dataAbsentReason")
		}
	}
	return nil
}

// ValidateCondition applies the Condition rules.
func ValidateCondition(c *fhir.Condition) error {
	if err := checkResourceType(c, fhir.TypeCondition); err != nil {
		return err
	}

	if c.SubjectRef.Reference == "" && c.SubjectRef.Identifier == nil {
		return fhirerr.MissingRequiredField("subject (must have reference or identifier)")
	}

	if c.ClinicalStatus != nil && len(c.ClinicalStatus.Coding) == 0 {
		return fhirerr.Validation("clinicalStatus must have coding")
	}
	if c.VerificationStatus != nil && len(c.VerificationStatus.Coding) == 0 {
		return fhirerr.Validation("verificationStatus must have coding")
	}

	if c.ClinicalStatus == nil && c.VerificationStatus != nil &&
		c.VerificationStatusCode() != fhir.VerificationEnteredInError {
		return fhirerr.Validation("If clinicalStatus is absent, verificationStatus must be 'entered-in-error'")
	}
	return nil
}

// ValidateEncounter applies the Encounter rules.
func ValidateEncounter(e *fhir.Encounter) error {
	if err := checkResourceType(e, fhir.TypeEncounter); err != nil {
		return err
	}

	if e.Status == "" {
		return fhirerr.MissingRequiredField("status")
	}
	if !fhir.ValidCode(fhir.EncounterStatuses, e.Status) {
		return fhirerr.Validation("Invalid status value: '%s'", e.Status)
	}

	if e.Class.Code == "" && e.Class.Display == "" {
		return fhirerr.Validation("Encounter.class must have at least code or display")
	}

	if e.Period != nil {
		if err := validatePeriod(*e.Period); err != nil {
			return err
		}
	}

	for _, h := range e.StatusHistory {
		if !fhir.ValidCode(fhir.EncounterStatuses, h.Status) {
			return fhirerr.Validation("Invalid status in history: '%s'", h.Status)
		}
		if err := validatePeriod(h.Period); err != nil {
			return err
		}
	}
	return nil
}

func validatePeriod(p fhir.Period) error {
	if p.Start == "" || p.End == "" {
		return nil
	}
	start, okStart := fhir.ParseDateTime(p.Start)
	end, okEnd := fhir.ParseDateTime(p.End)
	if !okStart || !okEnd {
		return fhirerr.Validation("Period has an invalid date: start '%s', end '%s'", p.Start, p.End)
	}
	if end.Before(start) {
		return fhirerr.Validation("Period.end must be after or equal to period.start")
	}
	return nil
}
