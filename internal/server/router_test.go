package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/migrations"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
)

const testSecret = "server-test-secret-0123456789abcdefghij"

type testAPI struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB("file:"+uuid.NewString()+"?mode=memory&cache=shared", bunx.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	v, err := validation.NewResourceValidator(validation.DefaultCacheSize)
	require.NoError(t, err)

	services := clinical.New(clinical.Repositories{
		Patients:     repository.NewBunPatientRepository(db),
		Observations: repository.NewBunObservationRepository(db),
		Conditions:   repository.NewBunConditionRepository(db),
		Encounters:   repository.NewBunEncounterRepository(db),
	}, authz.DefaultRules(), v, zap.NewNop())

	issuer := auth.NewTokenIssuer(testSecret, time.Hour)
	authenticator := auth.NewAuthenticator(repository.NewBunUserRepository(db), issuer, zap.NewNop())
	_, err = authenticator.Register(ctx, authz.System(), auth.RegisterRequest{
		Username: "admin",
		Password: "admin123",
		Roles:    []string{"Admin"},
	})
	require.NoError(t, err)

	handler := NewRouter(RouterOptions{
		Services:      services,
		Authenticator: authenticator,
		Verifier:      auth.NewVerifier(testSecret, 64, time.Minute),
	})
	return &testAPI{handler: handler, issuer: issuer}
}

func (a *testAPI) token(t *testing.T, claims auth.Claims) string {
	t.Helper()
	token, _, err := a.issuer.Issue(claims)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type patientEnvelope struct {
	Data fhir.Patient `json:"data"`
}

type patientPage struct {
	Data   []fhir.Patient `json:"data"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Count  int            `json:"count"`
}

func patientBody(family, mrn string) *fhir.Patient {
	p := fhir.NewPatient()
	p.Name = []fhir.HumanName{{Family: family}}
	p.Gender = "female"
	p.Identifier = []fhir.Identifier{{System: "urn:mrn", Value: mrn}}
	return p
}

func TestPublicEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/fhir/Patient", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode[errorBody](t, rec).Error)
}

func TestLoginAndMe(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/auth/login", "", auth.LoginRequest{Username: "admin", Password: "admin123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[auth.LoginResponse](t, rec)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, []string{"Admin"}, login.Roles)

	rec = api.do(t, http.MethodGet, "/auth/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[meResponse](t, rec)
	assert.Equal(t, login.UserID, me.UserID)

	rec = api.do(t, http.MethodPost, "/auth/login", "", auth.LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	t.Run("register requires an administrator", func(t *testing.T) {
		req := auth.RegisterRequest{Username: "doctor", Password: "doctor123", Roles: []string{"Clinician"}, OrganizationID: "org-001"}

		clinician := api.token(t, auth.Claims{Subject: "doc", Roles: []string{"Clinician"}})
		rec := api.do(t, http.MethodPost, "/auth/register", clinician, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = api.do(t, http.MethodPost, "/auth/register", login.Token, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "doctor", decode[registerResponse](t, rec).Username)

		rec = api.do(t, http.MethodPost, "/auth/login", "", auth.LoginRequest{Username: "doctor", Password: "doctor123"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPatientRoutes(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token(t, auth.Claims{Subject: "admin", Roles: []string{"Admin"}})

	rec := api.do(t, http.MethodPost, "/fhir/Patient", admin, patientBody("Smith", "MRN-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	smith := decode[patientEnvelope](t, rec).Data

	rec = api.do(t, http.MethodPost, "/fhir/Patient", admin, patientBody("Jones", "MRN-2"))
	require.Equal(t, http.StatusCreated, rec.Code)
	jones := decode[patientEnvelope](t, rec).Data

	t.Run("get", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/fhir/Patient/"+smith.ID, admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[patientEnvelope](t, rec).Data
		assert.Equal(t, "Smith", got.FamilyName())

		rec = api.do(t, http.MethodGet, "/fhir/Patient/missing", admin, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "NOT_FOUND", body.Error)
		assert.Equal(t, "Resource not found: Patient/missing", body.Message)
	})

	t.Run("search", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/fhir/Patient?_count=1", admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[patientPage](t, rec)
		assert.Equal(t, 2, page.Total)
		assert.Equal(t, 1, page.Count)

		rec = api.do(t, http.MethodGet, "/fhir/Patient?family=jon", admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page = decode[patientPage](t, rec)
		require.Len(t, page.Data, 1)
		assert.Equal(t, jones.ID, page.Data[0].ID)

		rec = api.do(t, http.MethodGet, "/fhir/Patient?identifier=urn:mrn%7CMRN-1", admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page = decode[patientPage](t, rec)
		require.Len(t, page.Data, 1)
		assert.Equal(t, smith.ID, page.Data[0].ID)

		rec = api.do(t, http.MethodGet, "/fhir/Patient?_count=abc", admin, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("patient role is confined to its own record", func(t *testing.T) {
		me := api.token(t, auth.Claims{Subject: "pat", Roles: []string{"Patient"}, PatientID: smith.ID})

		rec := api.do(t, http.MethodGet, "/fhir/Patient/"+jones.ID, me, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "FORBIDDEN", body.Error)
		assert.Equal(t, "Forbidden: Patient pat cannot access Patient resource "+jones.ID, body.Message)

		rec = api.do(t, http.MethodGet, "/fhir/Patient", me, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[patientPage](t, rec)
		require.Len(t, page.Data, 1)
		assert.Equal(t, smith.ID, page.Data[0].ID)
	})

	t.Run("conditional create", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/fhir/Patient", admin, patientBody("Smith", "MRN-1"),
			"If-None-Exist", "identifier=urn:mrn|MRN-1")
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	})

	t.Run("conditional update", func(t *testing.T) {
		body := patientBody("Smith-Jones", "MRN-1")
		rec := api.do(t, http.MethodPut, "/fhir/Patient?identifier=urn:mrn%7CMRN-1", admin, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		updated := decode[patientEnvelope](t, rec).Data
		assert.Equal(t, smith.ID, updated.ID)
		assert.Equal(t, "2", updated.Meta.VersionID)

		rec = api.do(t, http.MethodGet, "/fhir/Patient/"+smith.ID+"/_history/1", admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[patientEnvelope](t, rec).Data
		assert.Equal(t, "Smith", got.FamilyName())

		rec = api.do(t, http.MethodPut, "/fhir/Patient?identifier=urn:mrn%7CMRN-7", admin, patientBody("New", "MRN-7"))
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("clinician cannot delete", func(t *testing.T) {
		doc := api.token(t, auth.Claims{Subject: "doc", Roles: []string{"Clinician"}})
		rec := api.do(t, http.MethodDelete, "/fhir/Patient/"+jones.ID, doc, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, decode[errorBody](t, rec).Message, "does not have permission Delete")

		rec = api.do(t, http.MethodDelete, "/fhir/Patient/"+jones.ID, admin, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestEncounterStatusRoute(t *testing.T) {
	api := newTestAPI(t)
	doc := api.token(t, auth.Claims{Subject: "doc", Roles: []string{"Clinician"}})

	enc := fhir.NewEncounter()
	enc.Status = "planned"
	enc.Class = fhir.Coding{Code: "AMB"}
	enc.SubjectRef = &fhir.Reference{Reference: "Patient/p1"}

	rec := api.do(t, http.MethodPost, "/fhir/Encounter", doc, enc)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data fhir.Encounter `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = api.do(t, http.MethodPatch, "/fhir/Encounter/"+created.Data.ID+"/status", doc, statusRequest{Status: "in-progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		Data fhir.Encounter `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "in-progress", updated.Data.Status)
	require.Len(t, updated.Data.StatusHistory, 1)
	assert.Equal(t, "planned", updated.Data.StatusHistory[0].Status)

	rec = api.do(t, http.MethodGet, "/fhir/Encounter/_active?patient=p1", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[searchResponse](t, rec).Total)

	rec = api.do(t, http.MethodPatch, "/fhir/Encounter/"+created.Data.ID+"/status", doc, statusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/fhir/Encounter?status=in-progress&patient=Patient/p1", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[searchResponse](t, rec).Total)
}

func TestConnectPatientService(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.handler)
	t.Cleanup(srv.Close)

	admin := api.token(t, auth.Claims{Subject: "admin", Roles: []string{"Admin"}})
	create := connect.NewClient[fhir.Patient, fhir.Patient](srv.Client(),
		srv.URL+Procedure(PatientServiceName, "Create"), connect.WithCodec(JSONCodec{}))
	get := connect.NewClient[IDRequest, fhir.Patient](srv.Client(),
		srv.URL+Procedure(PatientServiceName, "Get"), connect.WithCodec(JSONCodec{}))
	history := connect.NewClient[IDRequest, HistoryResponse[fhir.Patient]](srv.Client(),
		srv.URL+Procedure(PatientServiceName, "GetHistory"), connect.WithCodec(JSONCodec{}))
	search := connect.NewClient[SearchRequest, SearchResponse[fhir.Patient]](srv.Client(),
		srv.URL+Procedure(PatientServiceName, "Search"), connect.WithCodec(JSONCodec{}))

	ctx := context.Background()
	req := connect.NewRequest(patientBody("Smith", "MRN-1"))
	req.Header().Set("Authorization", "Bearer "+admin)
	created, err := create.CallUnary(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, created.Msg.ID)

	t.Run("missing token", func(t *testing.T) {
		_, err := get.CallUnary(ctx, connect.NewRequest(&IDRequest{ID: created.Msg.ID}))
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})

	t.Run("forbidden message is preserved", func(t *testing.T) {
		other := api.token(t, auth.Claims{Subject: "pat", Roles: []string{"Patient"}, PatientID: "someone-else"})
		req := connect.NewRequest(&IDRequest{ID: created.Msg.ID})
		req.Header().Set("Authorization", "Bearer "+other)
		_, err := get.CallUnary(ctx, req)
		require.Error(t, err)
		assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
		var cerr *connect.Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "Forbidden: Patient pat cannot access Patient resource "+created.Msg.ID, cerr.Message())
	})

	t.Run("not found", func(t *testing.T) {
		req := connect.NewRequest(&IDRequest{ID: "missing"})
		req.Header().Set("Authorization", "Bearer "+admin)
		_, err := get.CallUnary(ctx, req)
		assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	})

	t.Run("history and search", func(t *testing.T) {
		req := connect.NewRequest(&IDRequest{ID: created.Msg.ID})
		req.Header().Set("Authorization", "Bearer "+admin)
		versions, err := history.CallUnary(ctx, req)
		require.NoError(t, err)
		assert.Len(t, versions.Msg.Versions, 1)

		sreq := connect.NewRequest(&SearchRequest{Query: map[string]string{"family": "smi"}})
		sreq.Header().Set("Authorization", "Bearer "+admin)
		page, err := search.CallUnary(ctx, sreq)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Msg.Total)
	})
}
