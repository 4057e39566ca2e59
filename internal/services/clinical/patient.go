package clinical

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
	"github.com/terraconstructs/fhirapi/internal/telemetry"
)

// PatientService manages Patient resources.
type PatientService struct {
	base
	repo  repository.PatientRepository
	rules authz.PatientRules
}

// NewPatientService creates a Patient service.
func NewPatientService(repo repository.PatientRepository, rules authz.PatientRules, v validation.Validator, logger *zap.Logger) *PatientService {
	return &PatientService{
		base:  newBase(fhir.TypePatient, v, logger),
		repo:  repo,
		rules: rules,
	}
}

// Create stores a new patient. A patient carrying an identifier that is
// already on file is rejected with Conflict.
func (s *PatientService) Create(ctx context.Context, sc *authz.SecurityContext, p *fhir.Patient) (out *fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "create")
	defer func() { s.finish(span, "create", err) }()

	if err := s.authorized(ctx, sc, authz.PermissionCreate, s.rules.CanCreate(sc, p)); err != nil {
		return nil, err
	}
	return s.create(ctx, p)
}

func (s *PatientService) create(ctx context.Context, p *fhir.Patient) (*fhir.Patient, error) {
	if err := s.validate(p); err != nil {
		return nil, err
	}
	if err := checkReference("managingOrganization", p.ManagingOrganization); err != nil {
		return nil, err
	}

	p.SetResourceID("")
	if err := s.checkDuplicateIdentifiers(ctx, p); err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("patient created", zap.String("id", created.ID))
	return created, nil
}

func (s *PatientService) checkDuplicateIdentifiers(ctx context.Context, p *fhir.Patient) error {
	for _, id := range p.Identifier {
		if id.Value == "" {
			continue
		}
		existing, err := s.repo.FindByIdentifier(ctx, id.System, id.Value)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID != p.ID && other.HasIdentifier(id.System, id.Value) {
				return fhirerr.Conflict("Patient with identifier %s already exists", identifierLabel(id.System, id.Value))
			}
		}
	}
	return nil
}

// Get returns a patient by id.
func (s *PatientService) Get(ctx context.Context, sc *authz.SecurityContext, id string) (out *fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "get", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "get", err) }()

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, sc, authz.PermissionRead, s.rules.CanRead(sc, id)); err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the current version of a patient.
func (s *PatientService) Update(ctx context.Context, sc *authz.SecurityContext, id string, p *fhir.Patient) (out *fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "update", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "update", err) }()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, sc, authz.PermissionUpdate, s.rules.CanUpdate(sc, id, p)); err != nil {
		return nil, err
	}
	return s.update(ctx, id, p)
}

func (s *PatientService) update(ctx context.Context, id string, p *fhir.Patient) (*fhir.Patient, error) {
	if err := s.bindID(id, p); err != nil {
		return nil, err
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}
	if err := checkReference("managingOrganization", p.ManagingOrganization); err != nil {
		return nil, err
	}
	if err := s.checkDuplicateIdentifiers(ctx, p); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, p)
}

// Delete soft-deletes a patient.
func (s *PatientService) Delete(ctx context.Context, sc *authz.SecurityContext, id string) (err error) {
	ctx, span := s.start(ctx, sc, "delete", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "delete", err) }()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.authorized(ctx, sc, authz.PermissionDelete, s.rules.CanDelete(sc, id)); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("patient deleted", zap.String("id", id), zap.String("user_id", sc.UserID()))
	return nil
}

// Search lists patients. A Patient-role caller only ever sees its own record.
func (s *PatientService) Search(ctx context.Context, sc *authz.SecurityContext, params SearchParams) (page Page[*fhir.Patient], err error) {
	ctx, span := s.start(ctx, sc, "search")
	defer func() { s.finish(span, "search", err) }()

	if err := s.authorized(ctx, sc, authz.PermissionSearch, s.rules.CanSearch(sc)); err != nil {
		return Page[*fhir.Patient]{}, err
	}

	filters := append([]repository.SearchFilter(nil), params.Filters...)
	if restrictedPatient(sc) {
		pid, err := ownCompartment(sc)
		if err != nil {
			return Page[*fhir.Patient]{}, err
		}
		filters = append(filters, repository.Eq(repository.ColID, pid))
	}

	page, err = runSearch[*fhir.Patient](ctx, s.repo, params, filters)
	if err != nil {
		return Page[*fhir.Patient]{}, err
	}
	span.SetAttributes(attribute.Int(telemetry.AttrResultCount, len(page.Resources)))
	return page, nil
}

// SearchByFamily finds patients whose family name contains family,
// ignoring case.
func (s *PatientService) SearchByFamily(ctx context.Context, sc *authz.SecurityContext, family string, params SearchParams) (Page[*fhir.Patient], error) {
	if family == "" {
		return Page[*fhir.Patient]{}, fhirerr.Validation("family name must not be empty")
	}
	params.Filters = append(append([]repository.SearchFilter(nil), params.Filters...),
		repository.Contains(repository.ColFamilyName, family))
	return s.Search(ctx, sc, params)
}

// SearchByIdentifier finds the patients carrying system|value. An empty
// system matches any system.
func (s *PatientService) SearchByIdentifier(ctx context.Context, sc *authz.SecurityContext, system, value string) (out []*fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "search_identifier")
	defer func() { s.finish(span, "search_identifier", err) }()

	return s.findByIdentifier(ctx, sc, system, value)
}

// findByIdentifier runs the identifier lookup under the search rules. A
// Patient-role caller only ever matches its own record.
func (s *PatientService) findByIdentifier(ctx context.Context, sc *authz.SecurityContext, system, value string) ([]*fhir.Patient, error) {
	if err := s.authorized(ctx, sc, authz.PermissionSearch, s.rules.CanSearch(sc)); err != nil {
		return nil, err
	}

	matches, err := s.repo.FindByIdentifier(ctx, system, value)
	if err != nil {
		return nil, err
	}
	if !restrictedPatient(sc) {
		return matches, nil
	}

	pid, err := ownCompartment(sc)
	if err != nil {
		return nil, err
	}
	own := matches[:0]
	for _, p := range matches {
		if p.ID == pid {
			own = append(own, p)
		}
	}
	return own, nil
}

// History returns every version of a patient, newest first.
func (s *PatientService) History(ctx context.Context, sc *authz.SecurityContext, id string) (out []*fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "history", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "history", err) }()

	if err := s.authorized(ctx, sc, authz.PermissionReadHistory, s.rules.CanReadHistory(sc, id)); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// Version returns one stored version of a patient.
func (s *PatientService) Version(ctx context.Context, sc *authz.SecurityContext, id string, version int) (out *fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "version",
		attribute.String(telemetry.AttrResourceID, id),
		attribute.Int("fhir.version_id", version),
	)
	defer func() { s.finish(span, "version", err) }()

	if err := s.authorized(ctx, sc, authz.PermissionReadHistory, s.rules.CanReadHistory(sc, id)); err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, fhirerr.Validation("version must be a positive integer, got %d", version)
	}
	return s.repo.Version(ctx, id, version)
}

// ConditionalCreate creates p only when no patient carries system|value.
func (s *PatientService) ConditionalCreate(ctx context.Context, sc *authz.SecurityContext, p *fhir.Patient, system, value string) (out *fhir.Patient, err error) {
	ctx, span := s.start(ctx, sc, "conditional_create")
	defer func() { s.finish(span, "conditional_create", err) }()

	if err := s.authorized(ctx, sc, authz.PermissionCreate, s.rules.CanCreate(sc, p)); err != nil {
		return nil, err
	}

	matches, err := s.findByIdentifier(ctx, sc, system, value)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return nil, fhirerr.PreconditionFailed("Patient with identifier %s already exists", identifierLabel(system, value))
	}
	return s.create(ctx, p)
}

// ConditionalUpdate updates the single patient carrying system|value, or
// creates p when there is none. created reports which happened. Matches
// are found under the search rules, so the outcome never reveals patients
// the caller cannot search.
func (s *PatientService) ConditionalUpdate(ctx context.Context, sc *authz.SecurityContext, p *fhir.Patient, system, value string) (out *fhir.Patient, created bool, err error) {
	ctx, span := s.start(ctx, sc, "conditional_update")
	defer func() { s.finish(span, "conditional_update", err) }()

	matches, err := s.findByIdentifier(ctx, sc, system, value)
	if err != nil {
		return nil, false, err
	}

	switch len(matches) {
	case 0:
		if err := s.authorized(ctx, sc, authz.PermissionCreate, s.rules.CanCreate(sc, p)); err != nil {
			return nil, false, err
		}
		out, err := s.create(ctx, p)
		return out, err == nil, err
	case 1:
		id := matches[0].ID
		if err := s.authorized(ctx, sc, authz.PermissionUpdate, s.rules.CanUpdate(sc, id, p)); err != nil {
			return nil, false, err
		}
		p.SetResourceID("")
		out, err := s.update(ctx, id, p)
		return out, false, err
	default:
		return nil, false, fhirerr.PreconditionFailed("%d patients match identifier %s", len(matches), identifierLabel(system, value))
	}
}
