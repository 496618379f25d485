package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kilianp07/fluxgo/core/gateway"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req gateway.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, gateway.RegistrationResponse{Success: false, Error: "invalid registration body"})
		return
	}
	resp, err := s.eng.Registry().Register(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	s.auditPlugin(r, req.Manifest.Name, fmt.Sprintf("registered %s at %s", req.Manifest.Version, req.CallbackURL))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.mutate(w, s.eng.Registry().Unregister(name)) {
		return
	}
	s.auditPlugin(r, name, "unregistered")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.mutate(w, s.eng.Registry().Enable(name)) {
		return
	}
	s.auditPlugin(r, name, "enabled by operator")
	s.writeHandle(w, name)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.mutate(w, s.eng.Registry().Disable(name)) {
		return
	}
	s.auditPlugin(r, name, "disabled by operator")
	s.writeHandle(w, name)
}

type priorityRequest struct {
	Priority *int `json:"priority"`
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Priority == nil {
		http.Error(w, "body must be {\"priority\": 0..100}", http.StatusBadRequest)
		return
	}
	if *req.Priority < 0 || *req.Priority > 100 {
		http.Error(w, "priority must be within 0..100", http.StatusBadRequest)
		return
	}
	if !s.mutate(w, s.eng.Registry().SetPriority(name, uint8(*req.Priority))) {
		return
	}
	s.auditPlugin(r, name, fmt.Sprintf("priority set to %d", *req.Priority))
	s.writeHandle(w, name)
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Registry().Snapshot())
}

// mutate maps a registry error to a response and reports whether the
// request succeeded.
func (s *Server) mutate(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, gateway.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusConflict)
	}
	return false
}

func (s *Server) writeHandle(w http.ResponseWriter, name string) {
	h, err := s.eng.Registry().Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
