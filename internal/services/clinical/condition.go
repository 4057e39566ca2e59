package clinical

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
)

// ConditionService manages Condition resources.
type ConditionService struct {
	compartmentService[fhir.Condition, *fhir.Condition]
}

// NewConditionService creates a Condition service.
func NewConditionService(repo repository.ConditionRepository, rules authz.ConditionRules, v validation.Validator, logger *zap.Logger) *ConditionService {
	svc := newCompartmentService(fhir.TypeCondition, repo, rules, v, logger)
	svc.encounter = func(c *fhir.Condition) *fhir.Reference { return c.Encounter }
	return &ConditionService{compartmentService: svc}
}

// SearchByClinicalStatus finds conditions whose first clinical status
// coding is status.
func (s *ConditionService) SearchByClinicalStatus(ctx context.Context, sc *authz.SecurityContext, status string, params SearchParams) (Page[*fhir.Condition], error) {
	if !fhir.ValidCode(fhir.ConditionClinicalStatuses, status) {
		return Page[*fhir.Condition]{}, fhirerr.Validation("Invalid clinical status: %s. Must be one of: %s",
			status, strings.Join(fhir.ConditionClinicalStatuses, ", "))
	}
	params.Filters = append(append([]repository.SearchFilter(nil), params.Filters...),
		repository.Eq(repository.ColClinicalStatus, status))
	return s.Search(ctx, sc, params)
}

// ActiveConditions lists the active conditions in one patient compartment.
func (s *ConditionService) ActiveConditions(ctx context.Context, sc *authz.SecurityContext, patientID string) ([]*fhir.Condition, error) {
	if patientID == "" {
		return nil, fhirerr.Validation("patient must not be empty")
	}
	page, err := s.SearchByClinicalStatus(ctx, sc, fhir.ConditionActive, SearchParams{
		Patient: patientID,
		Count:   repository.MaxSearchCount,
	})
	if err != nil {
		return nil, err
	}
	return page.Resources, nil
}
