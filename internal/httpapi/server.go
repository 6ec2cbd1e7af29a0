// Package httpapi exposes the hub's shared state and the claim flows to
// local UI surfaces over HTTP. Handlers are read-only observers of the
// registry; every mutation of shared state still goes through the
// notification apply path.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/authstate"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/claim"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/observability"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/registry"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/store"
)

type Server struct {
	registry  *registry.Registry
	claims    *claim.Client
	repo      *store.Repository
	jwtSecret string
}

func NewServer(reg *registry.Registry, claims *claim.Client, repo *store.Repository, jwtSecret string) *Server {
	return &Server{registry: reg, claims: claims, repo: repo, jwtSecret: jwtSecret}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/api/pairing", func(r chi.Router) {
		if s.jwtSecret != "" {
			r.Use(JWTAuth(s.jwtSecret))
		}
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}/auth", s.handleAuthState)
		r.Delete("/devices/{id}/auth", s.handleDismissAuth)
		r.Get("/discover", s.handleDiscover)
		r.Post("/claim", s.handleClaim)
		r.Post("/autopair", s.handleAutoPair)
		r.Get("/connection", s.handleConnection)
		r.Post("/connection/reconnect", s.handleReconnect)
	})
	return r
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.repo != nil {
		devices, err := s.repo.List(r.Context())
		if err != nil {
			slog.Error("device list failed", "error", err)
			writeError(w, http.StatusInternalServerError, "store_error", "could not list devices")
			return
		}
		writeJSON(w, http.StatusOK, devices)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.DeviceStatuses())
}

type authStateView struct {
	authstate.State
	Stale bool `json:"stale"`
}

func (s *Server) handleAuthState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	st, ok := s.registry.AuthState(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "idle", "no authentication flow for this device")
		return
	}
	writeJSON(w, http.StatusOK, authStateView{State: st, Stale: s.registry.StaleAuth(st)})
}

func (s *Server) handleDismissAuth(w http.ResponseWriter, r *http.Request) {
	s.registry.DismissAuth(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	scope := claim.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = claim.ScopeLocal
	}
	devices, err := s.claims.DiscoverUnpaired(r.Context(), scope)
	if err != nil {
		slog.Error("discovery failed", "scope", scope, "error", err)
		writeError(w, http.StatusBadGateway, "discovery_failed", err.Error())
		return
	}
	if devices == nil {
		devices = []claim.UnpairedDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type claimRequest struct {
	PairingCode string `json:"pairingCode"`
	DeviceName  string `json:"deviceName"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.DeviceName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "deviceName is required")
		return
	}
	dev, err := s.claims.ClaimByCode(r.Context(), req.PairingCode, req.DeviceName)
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

type autoPairRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
}

func (s *Server) handleAutoPair(w http.ResponseWriter, r *http.Request) {
	var req autoPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "deviceId is required")
		return
	}
	dev, err := s.claims.AutoPairLocal(r.Context(), claim.UnpairedDevice{ID: req.DeviceID, Name: req.DeviceName})
	if err != nil {
		s.writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// writeClaimError keeps the three server-side failure modes distinct all the
// way to the UI copy.
func (s *Server) writeClaimError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, claim.ErrMalformedCode):
		writeError(w, http.StatusBadRequest, "malformed_code", err.Error())
	case errors.Is(err, claim.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "invalid_code", err.Error())
	case errors.Is(err, claim.ErrCodeExpired):
		writeError(w, http.StatusBadRequest, "code_expired", err.Error())
	case errors.Is(err, claim.ErrCodeClaimed):
		writeError(w, http.StatusConflict, "already_claimed", err.Error())
	default:
		slog.Error("claim failed", "error", err)
		writeError(w, http.StatusBadGateway, "claim_failed", "claim request failed")
	}
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ConnectionState())
}

func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	s.registry.Reconnect()
	writeJSON(w, http.StatusAccepted, s.registry.ConnectionState())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
