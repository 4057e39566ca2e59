package clinical

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
	"github.com/terraconstructs/fhirapi/internal/telemetry"
)

// EncounterService manages Encounter resources.
type EncounterService struct {
	compartmentService[fhir.Encounter, *fhir.Encounter]
	now func() time.Time
}

// NewEncounterService creates an Encounter service.
func NewEncounterService(repo repository.EncounterRepository, rules authz.EncounterRules, v validation.Validator, logger *zap.Logger) *EncounterService {
	return &EncounterService{
		compartmentService: newCompartmentService(fhir.TypeEncounter, repo, rules, v, logger),
		now:                time.Now,
	}
}

func invalidEncounterStatus(status string) error {
	return fhirerr.Validation("Invalid encounter status: %s. Must be one of: %s",
		status, strings.Join(fhir.EncounterStatuses, ", "))
}

// SearchByStatus finds encounters in status.
func (s *EncounterService) SearchByStatus(ctx context.Context, sc *authz.SecurityContext, status string, params SearchParams) (Page[*fhir.Encounter], error) {
	if !fhir.ValidCode(fhir.EncounterStatuses, status) {
		return Page[*fhir.Encounter]{}, invalidEncounterStatus(status)
	}
	params.Filters = append(append([]repository.SearchFilter(nil), params.Filters...),
		repository.Eq(repository.ColStatus, status))
	return s.Search(ctx, sc, params)
}

// ActiveEncounters lists the in-progress and arrived encounters of one
// patient.
func (s *EncounterService) ActiveEncounters(ctx context.Context, sc *authz.SecurityContext, patientID string) ([]*fhir.Encounter, error) {
	if patientID == "" {
		return nil, fhirerr.Validation("patient must not be empty")
	}
	page, err := s.Search(ctx, sc, SearchParams{
		Patient: patientID,
		Filters: []repository.SearchFilter{
			repository.In(repository.ColStatus, fhir.EncounterInProgress, fhir.EncounterArrived),
		},
		Count: repository.MaxSearchCount,
	})
	if err != nil {
		return nil, err
	}
	return page.Resources, nil
}

// UpdateStatus moves an encounter to status. A change appends the previous
// status to statusHistory, with a period running from the previous update
// to now. Setting the current status again stores a new version only.
func (s *EncounterService) UpdateStatus(ctx context.Context, sc *authz.SecurityContext, id, status string) (out *fhir.Encounter, err error) {
	ctx, span := s.start(ctx, sc, "update_status",
		attribute.String(telemetry.AttrResourceID, id),
		attribute.String("fhir.encounter.status", status),
	)
	defer func() { s.finish(span, "update_status", err) }()

	if !fhir.ValidCode(fhir.EncounterStatuses, status) {
		return nil, invalidEncounterStatus(status)
	}

	enc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, sc, authz.PermissionUpdate, s.rules.CanUpdate(sc, id, enc)); err != nil {
		return nil, err
	}

	if prev := enc.Status; prev != status {
		period := fhir.Period{End: s.now().UTC().Format(time.RFC3339)}
		if meta := enc.ResourceMeta(); meta != nil && meta.LastUpdated != nil {
			period.Start = meta.LastUpdated.UTC().Format(time.RFC3339)
		}
		enc.StatusHistory = append(enc.StatusHistory, fhir.EncounterStatusHistory{Status: prev, Period: period})
		enc.Status = status
	}

	updated, err := s.update(ctx, id, enc)
	if err != nil {
		return nil, err
	}
	s.logger.Info("encounter status updated",
		zap.String("id", id),
		zap.String("status", status),
		zap.String("user_id", sc.UserID()),
	)
	return updated, nil
}
