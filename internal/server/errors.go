package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/goccy/go-json"

	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// maxBodyBytes bounds request bodies on the REST surface.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func httpStatus(kind fhirerr.Kind) int {
	switch kind {
	case fhirerr.KindValidation, fhirerr.KindInvalidResourceType,
		fhirerr.KindMissingRequiredField, fhirerr.KindInvalidReference:
		return http.StatusBadRequest
	case fhirerr.KindNotFound:
		return http.StatusNotFound
	case fhirerr.KindConflict:
		return http.StatusConflict
	case fhirerr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case fhirerr.KindUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case fhirerr.KindForbidden:
		return http.StatusForbidden
	case fhirerr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func connectCode(kind fhirerr.Kind) connect.Code {
	switch kind {
	case fhirerr.KindValidation, fhirerr.KindInvalidResourceType, fhirerr.KindMissingRequiredField,
		fhirerr.KindInvalidReference, fhirerr.KindUnprocessableEntity:
		return connect.CodeInvalidArgument
	case fhirerr.KindNotFound:
		return connect.CodeNotFound
	case fhirerr.KindConflict:
		return connect.CodeAlreadyExists
	case fhirerr.KindPreconditionFailed:
		return connect.CodeFailedPrecondition
	case fhirerr.KindForbidden:
		return connect.CodePermissionDenied
	case fhirerr.KindUnauthenticated:
		return connect.CodeUnauthenticated
	default:
		return connect.CodeInternal
	}
}

// writeError is the only place REST errors are rendered.
func writeError(w http.ResponseWriter, err error) {
	kind := fhirerr.KindOf(err)
	writeJSON(w, httpStatus(kind), errorBody{Error: kind.Code(), Message: err.Error()})
}

// connectError is the only place RPC errors are mapped. The message is kept
// verbatim.
func connectError(err error) error {
	return connect.NewError(connectCode(fhirerr.KindOf(err)), err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fhirerr.Validation("invalid JSON body: %v", err)
	}
	return nil
}
