package clinical

import (
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
)

// Repositories groups the stores the services run on.
type Repositories struct {
	Patients     repository.PatientRepository
	Observations repository.ObservationRepository
	Conditions   repository.ConditionRepository
	Encounters   repository.EncounterRepository
}

// Services groups the four resource services.
type Services struct {
	Patients     *PatientService
	Observations *ObservationService
	Conditions   *ConditionService
	Encounters   *EncounterService
}

// New wires one service per resource kind.
func New(repos Repositories, rules authz.Rules, v validation.Validator, logger *zap.Logger) *Services {
	return &Services{
		Patients:     NewPatientService(repos.Patients, rules.Patient, v, logger),
		Observations: NewObservationService(repos.Observations, rules.Observation, v, logger),
		Conditions:   NewConditionService(repos.Conditions, rules.Condition, v, logger),
		Encounters:   NewEncounterService(repos.Encounters, rules.Encounter, v, logger),
	}
}
