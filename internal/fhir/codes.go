package fhir

import "slices"

// Administrative genders.
var Genders = []string{"male", "female", "other", "unknown"}

// Observation statuses.
var ObservationStatuses = []string{
	"registered", "preliminary", "final", "amended",
	"corrected", "cancelled", "entered-in-error", "unknown",
}

// Encounter statuses.
const (
	EncounterPlanned        = "planned"
	EncounterArrived        = "arrived"
	EncounterTriaged        = "triaged"
	EncounterInProgress     = "in-progress"
	EncounterOnLeave        = "onleave"
	EncounterFinished       = "finished"
	EncounterCancelled      = "cancelled"
	EncounterEnteredInError = "entered-in-error"
	EncounterUnknown        = "unknown"
)

var EncounterStatuses = []string{
	EncounterPlanned, EncounterArrived, EncounterTriaged, EncounterInProgress,
	EncounterOnLeave, EncounterFinished, EncounterCancelled, EncounterEnteredInError, EncounterUnknown,
}

// Condition clinical statuses.
const ConditionActive = "active"

var ConditionClinicalStatuses = []string{
	ConditionActive, "recurrence", "relapse", "inactive", "remission", "resolved",
}

// VerificationEnteredInError is the only verification status allowed on a
// condition without a clinical status.
const VerificationEnteredInError = "entered-in-error"

// ValidCode reports whether code is a member of set.
func ValidCode(set []string, code string) bool {
	return slices.Contains(set, code)
}
