package clinical

import (
	"context"

	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
)

// ObservationService manages Observation resources.
type ObservationService struct {
	compartmentService[fhir.Observation, *fhir.Observation]
}

// NewObservationService creates an Observation service.
func NewObservationService(repo repository.ObservationRepository, rules authz.ObservationRules, v validation.Validator, logger *zap.Logger) *ObservationService {
	svc := newCompartmentService(fhir.TypeObservation, repo, rules, v, logger)
	svc.encounter = func(o *fhir.Observation) *fhir.Reference { return o.Encounter }
	return &ObservationService{compartmentService: svc}
}

// SearchByCode finds observations coded with code. An empty system matches
// any code system.
func (s *ObservationService) SearchByCode(ctx context.Context, sc *authz.SecurityContext, system, code string, params SearchParams) (Page[*fhir.Observation], error) {
	if code == "" {
		return Page[*fhir.Observation]{}, fhirerr.Validation("code must not be empty")
	}
	params.Filters = withCode(params.Filters, system, code)
	return s.Search(ctx, sc, params)
}

// SearchByPatientAndCode finds one patient's observations coded with code.
func (s *ObservationService) SearchByPatientAndCode(ctx context.Context, sc *authz.SecurityContext, patientID, system, code string, params SearchParams) (Page[*fhir.Observation], error) {
	if patientID == "" {
		return Page[*fhir.Observation]{}, fhirerr.Validation("patient must not be empty")
	}
	params.Patient = patientID
	return s.SearchByCode(ctx, sc, system, code, params)
}

func withCode(filters []repository.SearchFilter, system, code string) []repository.SearchFilter {
	out := append([]repository.SearchFilter(nil), filters...)
	out = append(out, repository.Eq(repository.ColCodeCode, code))
	if system != "" {
		out = append(out, repository.Eq(repository.ColCodeSystem, system))
	}
	return out
}
