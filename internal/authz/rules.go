package authz

import (
	"github.com/terraconstructs/fhirapi/internal/fhir"
)

// Compartmented is implemented by resources that may reference the patient
// they are about.
type Compartmented interface {
	SubjectReference() (string, bool)
}

// CompartmentID returns the patient compartment a resource belongs to.
// References without the "Patient/" prefix are used verbatim, which makes a
// malformed reference fail a patient match instead of erroring.
func CompartmentID(res Compartmented) (string, bool) {
	ref, ok := res.SubjectReference()
	if !ok {
		return "", false
	}
	return fhir.CompartmentID(ref), true
}

// CompartmentRules authorizes a resource kind whose instances live in a
// patient compartment through their subject reference. P is the pointer
// type so callers can pass nil when the resource has not been fetched.
type CompartmentRules[T any, P interface {
	*T
	Compartmented
}] struct {
	resourceType string
	authorizer   Authorizer
}

// NewCompartmentRules binds the generic rule set to resourceType.
func NewCompartmentRules[T any, P interface {
	*T
	Compartmented
}](resourceType string, authorizer Authorizer) CompartmentRules[T, P] {
	return CompartmentRules[T, P]{resourceType: resourceType, authorizer: authorizer}
}

// ResourceType returns the kind these rules guard.
func (r CompartmentRules[T, P]) ResourceType() string { return r.resourceType }

func (r CompartmentRules[T, P]) checkCompartment(sc *SecurityContext, res P, perm Permission) error {
	if res == nil {
		return nil
	}
	patientID, ok := CompartmentID(res)
	if !ok {
		return nil
	}
	return r.authorizer.CheckPatientCompartmentAccess(sc, patientID, perm)
}

// CanCreate checks the Create permission and, when the candidate has a
// subject, access to that subject's compartment.
func (r CompartmentRules[T, P]) CanCreate(sc *SecurityContext, res P) error {
	if err := r.authorizer.CheckPermission(sc, r.resourceType, PermissionCreate); err != nil {
		return err
	}
	return r.checkCompartment(sc, res, PermissionCreate)
}

// CanRead checks instance access and, if res is non-nil, its compartment.
// Callers must pass the fetched resource; a nil res skips the compartment.
func (r CompartmentRules[T, P]) CanRead(sc *SecurityContext, id string, res P) error {
	if err := r.authorizer.CheckResourceAccess(sc, r.resourceType, id, PermissionRead); err != nil {
		return err
	}
	return r.checkCompartment(sc, res, PermissionRead)
}

// CanUpdate checks instance access and the candidate's compartment.
func (r CompartmentRules[T, P]) CanUpdate(sc *SecurityContext, id string, res P) error {
	if err := r.authorizer.CheckResourceAccess(sc, r.resourceType, id, PermissionUpdate); err != nil {
		return err
	}
	return r.checkCompartment(sc, res, PermissionUpdate)
}

// CanDelete mirrors CanRead for the Delete permission.
func (r CompartmentRules[T, P]) CanDelete(sc *SecurityContext, id string, res P) error {
	if err := r.authorizer.CheckResourceAccess(sc, r.resourceType, id, PermissionDelete); err != nil {
		return err
	}
	return r.checkCompartment(sc, res, PermissionDelete)
}

// CanSearch checks the Search permission and, when patientID is non-empty,
// access to that compartment. An unfiltered search is authorized at the
// action level only; narrowing results is the caller's job.
func (r CompartmentRules[T, P]) CanSearch(sc *SecurityContext, patientID string) error {
	if err := r.authorizer.CheckPermission(sc, r.resourceType, PermissionSearch); err != nil {
		return err
	}
	if patientID == "" {
		return nil
	}
	return r.authorizer.CheckPatientCompartmentAccess(sc, patientID, PermissionSearch)
}

type (
	ObservationRules = CompartmentRules[fhir.Observation, *fhir.Observation]
	ConditionRules   = CompartmentRules[fhir.Condition, *fhir.Condition]
	EncounterRules   = CompartmentRules[fhir.Encounter, *fhir.Encounter]
)

// PatientRules authorizes Patient resources, which are their own
// compartment.
type PatientRules struct {
	authorizer Authorizer
}

func NewPatientRules(authorizer Authorizer) PatientRules {
	return PatientRules{authorizer: authorizer}
}

func (r PatientRules) CanCreate(sc *SecurityContext, _ *fhir.Patient) error {
	return r.authorizer.CheckPermission(sc, fhir.TypePatient, PermissionCreate)
}

func (r PatientRules) CanRead(sc *SecurityContext, id string) error {
	return r.authorizer.CheckResourceAccess(sc, fhir.TypePatient, id, PermissionRead)
}

func (r PatientRules) CanUpdate(sc *SecurityContext, id string, _ *fhir.Patient) error {
	return r.authorizer.CheckResourceAccess(sc, fhir.TypePatient, id, PermissionUpdate)
}

func (r PatientRules) CanDelete(sc *SecurityContext, id string) error {
	return r.authorizer.CheckResourceAccess(sc, fhir.TypePatient, id, PermissionDelete)
}

func (r PatientRules) CanSearch(sc *SecurityContext) error {
	return r.authorizer.CheckPermission(sc, fhir.TypePatient, PermissionSearch)
}

func (r PatientRules) CanReadHistory(sc *SecurityContext, id string) error {
	return r.authorizer.CheckResourceAccess(sc, fhir.TypePatient, id, PermissionReadHistory)
}

// Rules bundles the rule sets for every stored resource kind.
type Rules struct {
	Patient     PatientRules
	Observation ObservationRules
	Condition   ConditionRules
	Encounter   EncounterRules
}

// NewRules wires every rule set to authorizer.
func NewRules(authorizer Authorizer) Rules {
	return Rules{
		Patient:     NewPatientRules(authorizer),
		Observation: NewCompartmentRules[fhir.Observation](fhir.TypeObservation, authorizer),
		Condition:   NewCompartmentRules[fhir.Condition](fhir.TypeCondition, authorizer),
		Encounter:   NewCompartmentRules[fhir.Encounter](fhir.TypeEncounter, authorizer),
	}
}

// DefaultRules returns rule sets backed by DefaultAuthorizer.
func DefaultRules() Rules {
	return NewRules(DefaultAuthorizer{})
}
