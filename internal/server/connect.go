package server

import (
	"context"
	"net/url"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
)

// RPC service names.
const (
	PatientServiceName     = "fhir.v1.PatientService"
	ObservationServiceName = "fhir.v1.ObservationService"
	ConditionServiceName   = "fhir.v1.ConditionService"
	EncounterServiceName   = "fhir.v1.EncounterService"
)

// JSONCodec encodes RPC messages as plain JSON. It replaces connect's
// built-in "json" codec, which only handles protobuf messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// Procedure returns the full procedure path of method on service.
func Procedure(service, method string) string {
	return "/" + service + "/" + method
}

// IDRequest addresses one resource.
type IDRequest struct {
	ID string `json:"id"`
}

// UpdateRequest carries the replacement document for ID.
type UpdateRequest[T any] struct {
	ID       string `json:"id"`
	Resource *T     `json:"resource"`
}

// SearchRequest carries the same parameters as the REST search, e.g.
// {"patient": "p1", "_count": "10"}.
type SearchRequest struct {
	Query map[string]string `json:"query,omitempty"`
}

// SearchResponse is one page of results.
type SearchResponse[T any] struct {
	Resources []*T `json:"resources"`
	Total     int  `json:"total"`
	Offset    int  `json:"offset"`
}

// HistoryResponse lists stored versions, newest first.
type HistoryResponse[T any] struct {
	Versions []*T `json:"versions"`
}

// DeleteResponse is empty.
type DeleteResponse struct{}

// rpcResource ties a message struct to its resource pointer type.
type rpcResource[T any] interface {
	*T
	fhir.Resource
}

var errMissingResource = fhirerr.MissingRequiredField("resource")

func rpcIdentity(ctx context.Context) (*authz.SecurityContext, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	return sc, nil
}

// mountResourceService registers Create, Get, Update, Delete and Search for
// one resource kind, plus GetHistory when withHistory is set.
func mountResourceService[T any, P rpcResource[T]](
	r chi.Router,
	service string,
	svc resourceService[P],
	search searchFunc[P],
	withHistory bool,
	opts ...connect.HandlerOption,
) {
	r.Handle(Procedure(service, "Create"), connect.NewUnaryHandler(Procedure(service, "Create"),
		func(ctx context.Context, req *connect.Request[T]) (*connect.Response[T], error) {
			sc, err := rpcIdentity(ctx)
			if err != nil {
				return nil, err
			}
			out, err := svc.Create(ctx, sc, P(req.Msg))
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse((*T)(out)), nil
		}, opts...))

	r.Handle(Procedure(service, "Get"), connect.NewUnaryHandler(Procedure(service, "Get"),
		func(ctx context.Context, req *connect.Request[IDRequest]) (*connect.Response[T], error) {
			sc, err := rpcIdentity(ctx)
			if err != nil {
				return nil, err
			}
			out, err := svc.Get(ctx, sc, req.Msg.ID)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse((*T)(out)), nil
		}, opts...))

	r.Handle(Procedure(service, "Update"), connect.NewUnaryHandler(Procedure(service, "Update"),
		func(ctx context.Context, req *connect.Request[UpdateRequest[T]]) (*connect.Response[T], error) {
			sc, err := rpcIdentity(ctx)
			if err != nil {
				return nil, err
			}
			if req.Msg.Resource == nil {
				return nil, connectError(errMissingResource)
			}
			out, err := svc.Update(ctx, sc, req.Msg.ID, P(req.Msg.Resource))
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse((*T)(out)), nil
		}, opts...))

	r.Handle(Procedure(service, "Delete"), connect.NewUnaryHandler(Procedure(service, "Delete"),
		func(ctx context.Context, req *connect.Request[IDRequest]) (*connect.Response[DeleteResponse], error) {
			sc, err := rpcIdentity(ctx)
			if err != nil {
				return nil, err
			}
			if err := svc.Delete(ctx, sc, req.Msg.ID); err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(&DeleteResponse{}), nil
		}, opts...))

	r.Handle(Procedure(service, "Search"), connect.NewUnaryHandler(Procedure(service, "Search"),
		func(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse[T]], error) {
			sc, err := rpcIdentity(ctx)
			if err != nil {
				return nil, err
			}
			values := url.Values{}
			for k, v := range req.Msg.Query {
				values.Set(k, v)
			}
			page, err := search(ctx, sc, values)
			if err != nil {
				return nil, connectError(err)
			}
			resp := &SearchResponse[T]{Resources: make([]*T, 0, len(page.Resources)), Total: page.Total, Offset: page.Offset}
			for _, res := range page.Resources {
				resp.Resources = append(resp.Resources, (*T)(res))
			}
			return connect.NewResponse(resp), nil
		}, opts...))

	if !withHistory {
		return
	}
	r.Handle(Procedure(service, "GetHistory"), connect.NewUnaryHandler(Procedure(service, "GetHistory"),
		func(ctx context.Context, req *connect.Request[IDRequest]) (*connect.Response[HistoryResponse[T]], error) {
			sc, err := rpcIdentity(ctx)
			if err != nil {
				return nil, err
			}
			versions, err := svc.History(ctx, sc, req.Msg.ID)
			if err != nil {
				return nil, connectError(err)
			}
			resp := &HistoryResponse[T]{Versions: make([]*T, 0, len(versions))}
			for _, v := range versions {
				resp.Versions = append(resp.Versions, (*T)(v))
			}
			return connect.NewResponse(resp), nil
		}, opts...))
}

// MountConnectHandlers mounts the four resource services on r.
func MountConnectHandlers(r chi.Router, svc *clinical.Services, interceptors ...connect.Interceptor) {
	opts := []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(interceptors...),
	}

	mountResourceService[fhir.Patient, *fhir.Patient](r, PatientServiceName, svc.Patients, patientSearch(svc.Patients), true, opts...)
	mountResourceService[fhir.Observation, *fhir.Observation](r, ObservationServiceName, svc.Observations, observationSearch(svc.Observations), false, opts...)
	mountResourceService[fhir.Condition, *fhir.Condition](r, ConditionServiceName, svc.Conditions, conditionSearch(svc.Conditions), false, opts...)
	mountResourceService[fhir.Encounter, *fhir.Encounter](r, EncounterServiceName, svc.Encounters, encounterSearch(svc.Encounters), false, opts...)
}
