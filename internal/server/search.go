package server

import (
	"context"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
)

// searchFunc runs a search from raw query parameters. REST and RPC share it.
type searchFunc[R fhir.Resource] func(ctx context.Context, sc *authz.SecurityContext, values url.Values) (clinical.Page[R], error)

type commonQuery struct {
	Count  int    `mapstructure:"_count"`
	Offset int    `mapstructure:"_offset"`
	Filter string `mapstructure:"_filter"`
}

func (q commonQuery) params() (clinical.SearchParams, error) {
	if q.Count < 0 {
		return clinical.SearchParams{}, fhirerr.Validation("_count must not be negative, got %d", q.Count)
	}
	if q.Offset < 0 {
		return clinical.SearchParams{}, fhirerr.Validation("_offset must not be negative, got %d", q.Offset)
	}
	return clinical.SearchParams{Count: q.Count, Offset: q.Offset, Filter: q.Filter}, nil
}

type patientQuery struct {
	Common     commonQuery `mapstructure:",squash"`
	Family     string      `mapstructure:"family"`
	Given      string      `mapstructure:"given"`
	Gender     string      `mapstructure:"gender"`
	Active     *bool       `mapstructure:"active"`
	Identifier string      `mapstructure:"identifier"`
}

type observationQuery struct {
	Common   commonQuery `mapstructure:",squash"`
	Patient  string      `mapstructure:"patient"`
	Code     string      `mapstructure:"code"`
	Category string      `mapstructure:"category"`
	Status   string      `mapstructure:"status"`
}

type conditionQuery struct {
	Common         commonQuery `mapstructure:",squash"`
	Patient        string      `mapstructure:"patient"`
	Code           string      `mapstructure:"code"`
	ClinicalStatus string      `mapstructure:"clinical-status"`
	Category       string      `mapstructure:"category"`
}

type encounterQuery struct {
	Common  commonQuery `mapstructure:",squash"`
	Patient string      `mapstructure:"patient"`
	Status  string      `mapstructure:"status"`
	Class   string      `mapstructure:"class"`
}

// decodeQuery maps the first value of each parameter onto out. Unknown
// parameters are ignored.
func decodeQuery(values url.Values, out any) error {
	raw := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 && vals[0] != "" {
			raw[key] = vals[0]
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fhirerr.Validation("invalid search parameters: %v", err)
	}
	return nil
}

// codeFilters accepts "code" or "system|code".
func codeFilters(token string) []repository.SearchFilter {
	system, code, ok := strings.Cut(token, "|")
	if !ok {
		return []repository.SearchFilter{repository.Eq(repository.ColCodeCode, token)}
	}
	filters := []repository.SearchFilter{repository.Eq(repository.ColCodeCode, code)}
	if system != "" {
		filters = append(filters, repository.Eq(repository.ColCodeSystem, system))
	}
	return filters
}

func patientSearch(svc *clinical.PatientService) searchFunc[*fhir.Patient] {
	return func(ctx context.Context, sc *authz.SecurityContext, values url.Values) (clinical.Page[*fhir.Patient], error) {
		var q patientQuery
		if err := decodeQuery(values, &q); err != nil {
			return clinical.Page[*fhir.Patient]{}, err
		}
		params, err := q.Common.params()
		if err != nil {
			return clinical.Page[*fhir.Patient]{}, err
		}

		// Identifier lookups confirm the exact system|value match on the
		// documents and ignore the other parameters.
		if q.Identifier != "" {
			system, value, err := clinical.ParseIdentifier(q.Identifier)
			if err != nil {
				return clinical.Page[*fhir.Patient]{}, err
			}
			matches, err := svc.SearchByIdentifier(ctx, sc, system, value)
			if err != nil {
				return clinical.Page[*fhir.Patient]{}, err
			}
			return clinical.Page[*fhir.Patient]{Resources: matches, Total: len(matches)}, nil
		}

		if q.Family != "" {
			params.Filters = append(params.Filters, repository.Contains(repository.ColFamilyName, q.Family))
		}
		if q.Given != "" {
			params.Filters = append(params.Filters, repository.Contains(repository.ColGivenName, q.Given))
		}
		if q.Gender != "" {
			if !fhir.ValidCode(fhir.Genders, q.Gender) {
				return clinical.Page[*fhir.Patient]{}, fhirerr.Validation("Invalid gender value: '%s'", q.Gender)
			}
			params.Filters = append(params.Filters, repository.Eq(repository.ColGender, q.Gender))
		}
		if q.Active != nil {
			params.Filters = append(params.Filters, repository.Eq(repository.ColActive, *q.Active))
		}
		return svc.Search(ctx, sc, params)
	}
}

func observationSearch(svc *clinical.ObservationService) searchFunc[*fhir.Observation] {
	return func(ctx context.Context, sc *authz.SecurityContext, values url.Values) (clinical.Page[*fhir.Observation], error) {
		var q observationQuery
		if err := decodeQuery(values, &q); err != nil {
			return clinical.Page[*fhir.Observation]{}, err
		}
		params, err := q.Common.params()
		if err != nil {
			return clinical.Page[*fhir.Observation]{}, err
		}
		params.Patient = q.Patient

		if q.Code != "" {
			params.Filters = append(params.Filters, codeFilters(q.Code)...)
		}
		if q.Category != "" {
			params.Filters = append(params.Filters, repository.Eq(repository.ColCategoryCode, q.Category))
		}
		if q.Status != "" {
			if !fhir.ValidCode(fhir.ObservationStatuses, q.Status) {
				return clinical.Page[*fhir.Observation]{}, fhirerr.Validation("Invalid status value: '%s'", q.Status)
			}
			params.Filters = append(params.Filters, repository.Eq(repository.ColStatus, q.Status))
		}
		return svc.Search(ctx, sc, params)
	}
}

func conditionSearch(svc *clinical.ConditionService) searchFunc[*fhir.Condition] {
	return func(ctx context.Context, sc *authz.SecurityContext, values url.Values) (clinical.Page[*fhir.Condition], error) {
		var q conditionQuery
		if err := decodeQuery(values, &q); err != nil {
			return clinical.Page[*fhir.Condition]{}, err
		}
		params, err := q.Common.params()
		if err != nil {
			return clinical.Page[*fhir.Condition]{}, err
		}
		params.Patient = q.Patient

		if q.Code != "" {
			params.Filters = append(params.Filters, codeFilters(q.Code)...)
		}
		if q.Category != "" {
			params.Filters = append(params.Filters, repository.Eq(repository.ColCategoryCode, q.Category))
		}
		if q.ClinicalStatus != "" {
			return svc.SearchByClinicalStatus(ctx, sc, q.ClinicalStatus, params)
		}
		return svc.Search(ctx, sc, params)
	}
}

func encounterSearch(svc *clinical.EncounterService) searchFunc[*fhir.Encounter] {
	return func(ctx context.Context, sc *authz.SecurityContext, values url.Values) (clinical.Page[*fhir.Encounter], error) {
		var q encounterQuery
		if err := decodeQuery(values, &q); err != nil {
			return clinical.Page[*fhir.Encounter]{}, err
		}
		params, err := q.Common.params()
		if err != nil {
			return clinical.Page[*fhir.Encounter]{}, err
		}
		params.Patient = q.Patient

		if q.Class != "" {
			params.Filters = append(params.Filters, repository.Eq(repository.ColClassCode, q.Class))
		}
		if q.Status != "" {
			return svc.SearchByStatus(ctx, sc, q.Status, params)
		}
		return svc.Search(ctx, sc, params)
	}
}
