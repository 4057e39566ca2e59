package clinical

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
	"github.com/terraconstructs/fhirapi/internal/telemetry"
)

// compartmentResource is a stored resource that lives in a patient
// compartment through its subject.
type compartmentResource[T any] interface {
	*T
	fhir.SubjectResource
	authz.Compartmented
}

// compartmentService implements the operations shared by Observation,
// Condition and Encounter.
type compartmentService[T any, P compartmentResource[T]] struct {
	base
	repo  repository.ResourceRepository[P]
	rules authz.CompartmentRules[T, P]
	// encounter returns the optional encounter reference of a resource.
	encounter func(P) *fhir.Reference
}

func newCompartmentService[T any, P compartmentResource[T]](
	resourceType string,
	repo repository.ResourceRepository[P],
	rules authz.CompartmentRules[T, P],
	v validation.Validator,
	logger *zap.Logger,
) compartmentService[T, P] {
	return compartmentService[T, P]{
		base:  newBase(resourceType, v, logger),
		repo:  repo,
		rules: rules,
	}
}

// checkReferences requires subject and encounter to be literal Type/id
// references when present.
func (s *compartmentService[T, P]) checkReferences(res P) error {
	if err := checkReference("subject", res.Subject()); err != nil {
		return err
	}
	if s.encounter == nil {
		return nil
	}
	return checkReference("encounter", s.encounter(res))
}

// Create authorizes against the candidate's compartment, validates and
// stores res under a fresh id.
func (s *compartmentService[T, P]) Create(ctx context.Context, sc *authz.SecurityContext, res P) (out P, err error) {
	ctx, span := s.start(ctx, sc, "create")
	defer func() { s.finish(span, "create", err) }()

	if err := s.authorized(ctx, sc, authz.PermissionCreate, s.rules.CanCreate(sc, res)); err != nil {
		return nil, err
	}
	if err := s.validate(res); err != nil {
		return nil, err
	}
	if err := s.checkReferences(res); err != nil {
		return nil, err
	}

	res.SetResourceID("")
	return s.repo.Create(ctx, res)
}

// Get fetches the resource and authorizes against its stored compartment.
func (s *compartmentService[T, P]) Get(ctx context.Context, sc *authz.SecurityContext, id string) (out P, err error) {
	ctx, span := s.start(ctx, sc, "get", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "get", err) }()

	res, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, sc, authz.PermissionRead, s.rules.CanRead(sc, id, res)); err != nil {
		return nil, err
	}
	return res, nil
}

// Update replaces the current version of an existing resource.
func (s *compartmentService[T, P]) Update(ctx context.Context, sc *authz.SecurityContext, id string, res P) (out P, err error) {
	ctx, span := s.start(ctx, sc, "update", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "update", err) }()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, sc, authz.PermissionUpdate, s.rules.CanUpdate(sc, id, res)); err != nil {
		return nil, err
	}
	return s.update(ctx, id, res)
}

func (s *compartmentService[T, P]) update(ctx context.Context, id string, res P) (P, error) {
	if err := s.bindID(id, res); err != nil {
		return nil, err
	}
	if err := s.validate(res); err != nil {
		return nil, err
	}
	if err := s.checkReferences(res); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, res)
}

// Delete soft-deletes the resource after authorizing against its stored
// compartment.
func (s *compartmentService[T, P]) Delete(ctx context.Context, sc *authz.SecurityContext, id string) (err error) {
	ctx, span := s.start(ctx, sc, "delete", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "delete", err) }()

	res, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorized(ctx, sc, authz.PermissionDelete, s.rules.CanDelete(sc, id, res)); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("resource deleted", zap.String("id", id), zap.String("user_id", sc.UserID()))
	return nil
}

// Search lists resources. Without a patient parameter a Patient-role
// caller is narrowed to its own compartment.
func (s *compartmentService[T, P]) Search(ctx context.Context, sc *authz.SecurityContext, params SearchParams) (page Page[P], err error) {
	ctx, span := s.start(ctx, sc, "search")
	defer func() { s.finish(span, "search", err) }()

	patientID := fhir.CompartmentID(params.Patient)
	if patientID == "" && restrictedPatient(sc) {
		pid, err := ownCompartment(sc)
		if err != nil {
			return Page[P]{}, s.authorized(ctx, sc, authz.PermissionSearch, err)
		}
		patientID = pid
	}

	if err := s.authorized(ctx, sc, authz.PermissionSearch, s.rules.CanSearch(sc, patientID)); err != nil {
		return Page[P]{}, err
	}

	filters := append([]repository.SearchFilter(nil), params.Filters...)
	if patientID != "" {
		filters = append(filters, repository.Eq(repository.ColSubjectID, patientID))
	}

	page, err = runSearch[P](ctx, s.repo, params, filters)
	if err != nil {
		return Page[P]{}, err
	}
	span.SetAttributes(attribute.Int(telemetry.AttrResultCount, len(page.Resources)))
	return page, nil
}

// SearchByPatient lists the resources in one patient compartment.
func (s *compartmentService[T, P]) SearchByPatient(ctx context.Context, sc *authz.SecurityContext, patientID string, params SearchParams) (Page[P], error) {
	params.Patient = patientID
	return s.Search(ctx, sc, params)
}

// History returns the versions of a resource, newest first. Access follows
// the read rules applied to the newest version, as in Get. Older versions
// filed under a compartment the caller cannot read are left out.
func (s *compartmentService[T, P]) History(ctx context.Context, sc *authz.SecurityContext, id string) (out []P, err error) {
	ctx, span := s.start(ctx, sc, "history", attribute.String(telemetry.AttrResourceID, id))
	defer func() { s.finish(span, "history", err) }()

	versions, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, sc, authz.PermissionRead, s.rules.CanRead(sc, id, versions[0])); err != nil {
		return nil, err
	}

	visible := make([]P, 0, len(versions))
	for _, v := range versions {
		if s.rules.CanRead(sc, id, v) == nil {
			visible = append(visible, v)
		}
	}
	return visible, nil
}
