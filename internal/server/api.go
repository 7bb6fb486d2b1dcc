package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/request"
	"github.com/wardenhq/warden/internal/routing"
)

const maxAPIBody = 256 << 10

type invokeRequest struct {
	Project string            `json:"project"`
	Intent  string            `json:"intent"`
	Payload map[string]string `json:"payload"`
}

type invokeResponse struct {
	RequestID string   `json:"request_id"`
	SessionID string   `json:"session_id"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	Response  string   `json:"response"`
	Warnings  []string `json:"warnings,omitempty"`
}

// requireAPIKey guards the /api subtree. Keys arrive as a bearer token
// or an X-Api-Key header and compare in constant time. No configured
// keys means the API surface is off.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APIKeys) == 0 {
			respondError(w, http.StatusServiceUnavailable, "api access is not configured")
			return
		}
		key := apiKey(r)
		if key == "" {
			respondError(w, http.StatusUnauthorized, "api key required")
			return
		}
		for _, known := range s.cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(known)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		respondError(w, http.StatusUnauthorized, "invalid api key")
	})
}

func apiKey(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		parts := strings.Fields(authz)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var in invokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody)).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(in.Project) == "" || strings.TrimSpace(in.Intent) == "" {
		respondError(w, http.StatusBadRequest, "project and intent are required")
		return
	}

	proj, err := s.deps.Projects.Load(in.Project)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	req := request.New(request.ChannelAPI, "", proj.Name, in.Intent)
	for k, v := range in.Payload {
		req.Payload[k] = v
	}

	ctx := logger.WithTraceID(r.Context(), req.ID)
	req.Trust = s.deps.Trust.Classify(ctx, req, proj)

	role, _, err := routing.Route(req, proj)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	out, err := s.deps.Invoker.Invoke(ctx, proj, role, req)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respond(w, http.StatusOK, invokeResponse{
		RequestID: req.ID,
		SessionID: out.Session.ID,
		Role:      role.Name,
		Status:    out.Session.Status,
		Response:  out.Response,
		Warnings:  out.Warnings,
	})
}
