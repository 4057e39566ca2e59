package server

import (
	"net/http"

	"github.com/terraconstructs/fhirapi/internal/auth"
)

type registerResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type meResponse struct {
	UserID         string   `json:"user_id"`
	Roles          []string `json:"roles"`
	PatientID      string   `json:"patient_id,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
}

// HandleLogin handles POST /auth/login.
func HandleLogin(authenticator *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.LoginRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}

		resp, err := authenticator.Login(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleRegister handles POST /auth/register. Only Admin and System callers
// may create users.
func HandleRegister(authenticator *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := securityContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		var req auth.RegisterRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}

		user, err := authenticator.Register(r.Context(), sc, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, registerResponse{
			UserID:   user.ID,
			Username: user.Username,
			Message:  "User created",
		})
	}
}

// HandleMe handles GET /auth/me.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := securityContext(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		resp := meResponse{UserID: sc.UserID(), Roles: sc.Roles().Names()}
		if pid, ok := sc.PatientID(); ok {
			resp.PatientID = pid
		}
		if org, ok := sc.OrganizationID(); ok {
			resp.OrganizationID = org
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
