package server

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
)

// resourceService is the operation set every clinical service offers.
type resourceService[R fhir.Resource] interface {
	Create(ctx context.Context, sc *authz.SecurityContext, res R) (R, error)
	Get(ctx context.Context, sc *authz.SecurityContext, id string) (R, error)
	Update(ctx context.Context, sc *authz.SecurityContext, id string, res R) (R, error)
	Delete(ctx context.Context, sc *authz.SecurityContext, id string) error
	Search(ctx context.Context, sc *authz.SecurityContext, params clinical.SearchParams) (clinical.Page[R], error)
	History(ctx context.Context, sc *authz.SecurityContext, id string) ([]R, error)
}

var (
	_ resourceService[*fhir.Patient]     = (*clinical.PatientService)(nil)
	_ resourceService[*fhir.Observation] = (*clinical.ObservationService)(nil)
	_ resourceService[*fhir.Condition]   = (*clinical.ConditionService)(nil)
	_ resourceService[*fhir.Encounter]   = (*clinical.EncounterService)(nil)
)

type dataResponse struct {
	Data any `json:"data"`
}

type searchResponse struct {
	Data   any `json:"data"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// securityContext returns the identity the authn middleware stored.
func securityContext(ctx context.Context) (*authz.SecurityContext, error) {
	sc, ok := auth.SecurityContextFrom(ctx)
	if !ok {
		return nil, fhirerr.Unauthenticated("no authenticated identity")
	}
	return sc, nil
}

// resourceHandlers serves the REST routes of one resource kind.
type resourceHandlers[R fhir.Resource] struct {
	service     resourceService[R]
	newResource func() R
	search      searchFunc[R]
}

func (h *resourceHandlers[R]) create(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	res := h.newResource()
	if err := decodeBody(w, r, res); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.service.Create(r.Context(), sc, res)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: created})
}

func (h *resourceHandlers[R]) get(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.service.Get(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: res})
}

func (h *resourceHandlers[R]) update(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	res := h.newResource()
	if err := decodeBody(w, r, res); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.service.Update(r.Context(), sc, chi.URLParam(r, "id"), res)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: updated})
}

func (h *resourceHandlers[R]) remove(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.Delete(r.Context(), sc, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *resourceHandlers[R]) searchHandler(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.search(r.Context(), sc, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchPage(page))
}

func (h *resourceHandlers[R]) history(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	versions, err := h.service.History(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: versions})
}

// routes registers the routes shared by every resource kind.
func (h *resourceHandlers[R]) routes(r chi.Router) {
	r.Get("/", h.searchHandler)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	r.Get("/{id}/_history", h.history)
}

func searchPage[R fhir.Resource](page clinical.Page[R]) searchResponse {
	data := page.Resources
	if data == nil {
		data = []R{}
	}
	return searchResponse{Data: data, Total: page.Total, Offset: page.Offset, Count: len(data)}
}

// patientHandlers adds conditional create and update and version reads.
type patientHandlers struct {
	resourceHandlers[*fhir.Patient]
	patients *clinical.PatientService
}

// identifierCondition reads the identifier criterion of a conditional
// request, e.g. "identifier=http://hospital.example.org/mrn|MRN-1".
func identifierCondition(query string) (system, value string, err error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fhirerr.Validation("invalid condition %q: %v", query, err)
	}
	token := values.Get("identifier")
	if token == "" {
		return "", "", fhirerr.Validation("conditional requests must specify identifier=system|value")
	}
	return clinical.ParseIdentifier(token)
}

func (h *patientHandlers) create(w http.ResponseWriter, r *http.Request) {
	condition := r.Header.Get("If-None-Exist")
	if condition == "" {
		h.resourceHandlers.create(w, r)
		return
	}

	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	system, value, err := identifierCondition(condition)
	if err != nil {
		writeError(w, err)
		return
	}
	p := fhir.NewPatient()
	if err := decodeBody(w, r, p); err != nil {
		writeError(w, err)
		return
	}

	created, err := h.patients.ConditionalCreate(r.Context(), sc, p, system, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: created})
}

func (h *patientHandlers) conditionalUpdate(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	system, value, err := identifierCondition(r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}
	p := fhir.NewPatient()
	if err := decodeBody(w, r, p); err != nil {
		writeError(w, err)
		return
	}

	out, created, err := h.patients.ConditionalUpdate(r.Context(), sc, p, system, value)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dataResponse{Data: out})
}

func (h *patientHandlers) version(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	vid, err := strconv.Atoi(chi.URLParam(r, "vid"))
	if err != nil {
		writeError(w, fhirerr.Validation("version id must be an integer, got %q", chi.URLParam(r, "vid")))
		return
	}

	p, err := h.patients.Version(r.Context(), sc, chi.URLParam(r, "id"), vid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: p})
}

func (h *patientHandlers) routes(r chi.Router) {
	h.resourceHandlers.routes(r)
	r.Post("/", h.create)
	r.Put("/", h.conditionalUpdate)
	r.Get("/{id}/_history/{vid}", h.version)
}

type conditionHandlers struct {
	resourceHandlers[*fhir.Condition]
	conditions *clinical.ConditionService
}

func (h *conditionHandlers) active(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	conditions, err := h.conditions.ActiveConditions(r.Context(), sc, r.URL.Query().Get("patient"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchPage(clinical.Page[*fhir.Condition]{Resources: conditions, Total: len(conditions)}))
}

func (h *conditionHandlers) routes(r chi.Router) {
	h.resourceHandlers.routes(r)
	r.Post("/", h.create)
	r.Get("/_active", h.active)
}

type encounterHandlers struct {
	resourceHandlers[*fhir.Encounter]
	encounters *clinical.EncounterService
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *encounterHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var body statusRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Status == "" {
		writeError(w, fhirerr.MissingRequiredField("status"))
		return
	}

	enc, err := h.encounters.UpdateStatus(r.Context(), sc, chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: enc})
}

func (h *encounterHandlers) active(w http.ResponseWriter, r *http.Request) {
	sc, err := securityContext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	encounters, err := h.encounters.ActiveEncounters(r.Context(), sc, r.URL.Query().Get("patient"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchPage(clinical.Page[*fhir.Encounter]{Resources: encounters, Total: len(encounters)}))
}

func (h *encounterHandlers) routes(r chi.Router) {
	h.resourceHandlers.routes(r)
	r.Post("/", h.create)
	r.Patch("/{id}/status", h.updateStatus)
	r.Get("/_active", h.active)
}

// mountFHIR registers the REST surface under /fhir.
func mountFHIR(r chi.Router, svc *clinical.Services) {
	patients := &patientHandlers{
		resourceHandlers: resourceHandlers[*fhir.Patient]{
			service:     svc.Patients,
			newResource: fhir.NewPatient,
			search:      patientSearch(svc.Patients),
		},
		patients: svc.Patients,
	}
	observations := &resourceHandlers[*fhir.Observation]{
		service:     svc.Observations,
		newResource: fhir.NewObservation,
		search:      observationSearch(svc.Observations),
	}
	conditions := &conditionHandlers{
		resourceHandlers: resourceHandlers[*fhir.Condition]{
			service:     svc.Conditions,
			newResource: fhir.NewCondition,
			search:      conditionSearch(svc.Conditions),
		},
		conditions: svc.Conditions,
	}
	encounters := &encounterHandlers{
		resourceHandlers: resourceHandlers[*fhir.Encounter]{
			service:     svc.Encounters,
			newResource: fhir.NewEncounter,
			search:      encounterSearch(svc.Encounters),
		},
		encounters: svc.Encounters,
	}

	r.Route("/fhir", func(r chi.Router) {
		r.Route("/"+fhir.TypePatient, patients.routes)
		r.Route("/"+fhir.TypeObservation, func(r chi.Router) {
			observations.routes(r)
			r.Post("/", observations.create)
		})
		r.Route("/"+fhir.TypeCondition, conditions.routes)
		r.Route("/"+fhir.TypeEncounter, encounters.routes)
	})
}
