// Package clinical implements the resource services. Every operation runs
// the authorization rules for its resource kind before touching storage.
package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/metrics"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
	"github.com/terraconstructs/fhirapi/internal/telemetry"
)

const tracerName = "fhirapi/services/clinical"

// SearchParams is a decoded search request.
type SearchParams struct {
	// Patient restricts the search to one patient compartment. It accepts
	// a bare id or a "Patient/id" reference. Ignored by the Patient service.
	Patient string
	Filters []repository.SearchFilter
	Count   int
	Offset  int
	// Filter is a go-bexpr expression evaluated over each matching document.
	Filter string
}

// Page is one page of search results.
type Page[R fhir.Resource] struct {
	Resources []R
	Total     int
	Offset    int
}

// base carries what every resource service shares.
type base struct {
	resourceType string
	validator    validation.Validator
	logger       *zap.Logger
}

func newBase(resourceType string, v validation.Validator, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		resourceType: resourceType,
		validator:    v,
		logger:       logger.With(zap.String("resource_type", resourceType)),
	}
}

// start opens the span for op. Pair it with a deferred finish.
func (b *base) start(ctx context.Context, sc *authz.SecurityContext, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(telemetry.AttrResourceType, b.resourceType),
		attribute.String(telemetry.AttrUserID, sc.UserID()),
		attribute.String(telemetry.AttrRoles, sc.Roles().String()),
	)
	return telemetry.StartSpan(ctx, tracerName, strings.ToLower(b.resourceType)+"."+op, attrs...)
}

func (b *base) finish(span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = fhirerr.KindOf(err).Code()
		telemetry.RecordError(span, err)
		if fhirerr.KindOf(err) == fhirerr.KindUnknown || errors.Is(err, fhirerr.ErrDatabase) {
			b.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
		}
	}
	metrics.RecordResourceOperation(b.resourceType, op, outcome)
	span.End()
}

// authorized records the decision carried by err and returns err unchanged.
func (b *base) authorized(ctx context.Context, sc *authz.SecurityContext, perm authz.Permission, err error) error {
	metrics.RecordAuthzDecision(b.resourceType, perm.String(), sc.Roles().String(), err == nil)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String(telemetry.AttrPermission, perm.String()),
		attribute.Bool(telemetry.AttrAllowed, err == nil),
	)
	if err != nil {
		b.logger.Info("authorization denied",
			zap.String("user_id", sc.UserID()),
			zap.String("permission", perm.String()),
			zap.String("reason", err.Error()),
		)
		telemetry.AddEvent(span, "authz.denied", attribute.String(telemetry.AttrPermission, perm.String()))
	}
	return err
}

func (b *base) validate(res fhir.Resource) error {
	if b.validator == nil {
		return nil
	}
	return b.validator.Validate(res)
}

// bindID makes the URL id authoritative for an update body.
func (b *base) bindID(id string, res fhir.Resource) error {
	if bodyID := res.ResourceID(); bodyID != "" && bodyID != id {
		return fhirerr.Validation("Resource id '%s' does not match URL id '%s'", bodyID, id)
	}
	res.SetResourceID(id)
	return nil
}

// checkReference requires a literal reference to have the form Type/id.
func checkReference(field string, ref *fhir.Reference) error {
	literal, ok := ref.Literal()
	if !ok {
		return nil
	}
	if literal == "" {
		return fhirerr.InvalidReference("%s reference must not be empty", field)
	}
	if _, _, ok := ref.Split(); !ok {
		return fhirerr.InvalidReference("%s must be of the form Type/id, got '%s'", field, ref.Reference)
	}
	return nil
}

// restrictedPatient reports whether sc only sees its own compartment.
func restrictedPatient(sc *authz.SecurityContext) bool {
	return sc.IsPatient() && !sc.IsAdmin() && !sc.IsSystem()
}

// ownCompartment returns the compartment a restricted caller is narrowed to.
func ownCompartment(sc *authz.SecurityContext) (string, error) {
	pid, ok := sc.PatientID()
	if !ok || pid == "" {
		return "", fhirerr.Forbidden("Patient %s is not linked to a patient compartment", sc.UserID())
	}
	return pid, nil
}

// runSearch queries one page, or, when a filter expression is present,
// scans every row matching filters in MaxSearchCount batches, evaluates the
// expression and pages the survivors. Total counts every survivor.
func runSearch[R fhir.Resource](ctx context.Context, repo repository.ResourceRepository[R], params SearchParams, filters []repository.SearchFilter) (Page[R], error) {
	q := repository.SearchQuery{Filters: filters, Count: params.Count, Offset: params.Offset}

	if strings.TrimSpace(params.Filter) == "" {
		result, err := repo.Search(ctx, q)
		if err != nil {
			return Page[R]{}, err
		}
		return Page[R]{Resources: result.Resources, Total: result.Total, Offset: result.Offset}, nil
	}

	filter, err := compileFilter(params.Filter)
	if err != nil {
		return Page[R]{}, err
	}

	offset := max(params.Offset, 0)
	limit := q.Limit()
	page := Page[R]{Resources: make([]R, 0)}

	for scanned := 0; ; {
		result, err := repo.Search(ctx, repository.SearchQuery{
			Filters: filters,
			Count:   repository.MaxSearchCount,
			Offset:  scanned,
		})
		if err != nil {
			return Page[R]{}, err
		}

		for _, res := range result.Resources {
			ok, err := filter.Match(res)
			if err != nil {
				return Page[R]{}, err
			}
			if !ok {
				continue
			}
			if page.Total >= offset && len(page.Resources) < limit {
				page.Resources = append(page.Resources, res)
			}
			page.Total++
		}

		scanned += len(result.Resources)
		if len(result.Resources) == 0 || scanned >= result.Total {
			break
		}
	}

	page.Offset = min(offset, page.Total)
	return page, nil
}

// ParseIdentifier splits a "system|value" search token. A token without a
// bar is a bare value matching any system.
func ParseIdentifier(token string) (system, value string, err error) {
	token = strings.TrimSpace(token)
	if s, v, ok := strings.Cut(token, "|"); ok {
		system, value = s, v
	} else {
		value = token
	}
	if value == "" {
		return "", "", fhirerr.Validation("identifier must have a value: %q", token)
	}
	return system, value, nil
}

func identifierLabel(system, value string) string {
	return fmt.Sprintf("%s|%s", system, value)
}
