// Package fhir holds the subset of the FHIR R4 resource model served by the API.
package fhir

import "strings"

// Resource type names as they appear in resourceType and in URLs.
const (
	TypePatient     = "Patient"
	TypeObservation = "Observation"
	TypeCondition   = "Condition"
	TypeEncounter   = "Encounter"
)

// ResourceTypes lists every type the server stores, in routing order.
var ResourceTypes = []string{TypePatient, TypeObservation, TypeCondition, TypeEncounter}

// Resource is implemented by every stored resource.
type Resource interface {
	ResourceType() string
	ResourceID() string
	SetResourceID(id string)
	ResourceMeta() *Meta
	SetResourceMeta(meta *Meta)
}

// SubjectResource is a resource that belongs to a patient compartment
// through its subject reference.
type SubjectResource interface {
	Resource
	Subject() *Reference
}

const patientRefPrefix = TypePatient + "/"

// CompartmentID extracts the patient id from a subject reference. A
// reference without the "Patient/" prefix is returned verbatim.
func CompartmentID(ref string) string {
	if id, ok := strings.CutPrefix(ref, patientRefPrefix); ok {
		return id
	}
	return ref
}

// PatientReference builds a literal reference to a patient.
func PatientReference(id string) string {
	return patientRefPrefix + id
}

// subjectReference is shared by the SubjectReference implementations. An
// explicit empty reference is reported as present so that it fails a
// patient match.
func subjectReference(ref *Reference) (string, bool) {
	return ref.Literal()
}
