package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/panel"
	"github.com/panelbridge/panelbridge-go/internal/status"
	"github.com/panelbridge/panelbridge-go/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Internal errors
// never leak their text to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, panel.ErrAuth):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, panel.ErrServerNotFound),
		errors.Is(err, storage.ErrTenantNotFound),
		errors.Is(err, storage.ErrPinnedNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, panel.ErrTimeout):
		writeJSON(w, http.StatusRequestTimeout, map[string]string{"error": err.Error()})
	case errors.Is(err, panel.ErrNotConfigured):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "panel not configured, run setup first"})
	case errors.Is(err, panel.ErrConnection):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PanelURL string `json:"panel_url"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil || req.PanelURL == "" || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "panel_url, username and password are required"})
		return
	}

	protocol, err := s.sessions.Setup(r.Context(), chi.URLParam(r, "tenant"), req.PanelURL, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"protocol": string(protocol)})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Disconnect(chi.URLParam(r, "tenant")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.sessions.ListServers(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.sessions.GetServer(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// handleAction adapts the three lifecycle operations onto one handler.
func (s *Server) handleAction(action func(ctx context.Context, tenantID, serverID string) (panel.ActionResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := action(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListPins(w http.ResponseWriter, r *http.Request) {
	pins, err := s.store.ListPinned(chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pins": pins})
}

func (s *Server) handleAddPin(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var req struct {
		ServerID string `json:"server_id"`
	}
	if err := decode(r, &req); err != nil || req.ServerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "server_id is required"})
		return
	}

	// Validate against the panel and capture the display name.
	server, err := s.sessions.GetServer(r.Context(), tenant, req.ServerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpsertPinned(&storage.PinnedServerRecord{
		TenantID:   tenant,
		ServerID:   server.ID,
		ServerName: server.Name,
	}); err != nil {
		writeError(w, err)
		return
	}

	s.refreshTenant(tenant)
	writeJSON(w, http.StatusOK, map[string]string{"server_id": server.ID, "server_name": server.Name})
}

func (s *Server) handleRemovePin(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	serverID := chi.URLParam(r, "id")

	// Best-effort card cleanup before the pin disappears.
	if pin, err := s.store.GetPinned(tenant, serverID); err == nil && pin.MessageID != nil {
		if record, terr := s.store.GetTenant(tenant); terr == nil && record.StatusTarget != nil {
			if derr := s.publisher.Delete(r.Context(), *record.StatusTarget, *pin.MessageID); derr != nil {
				s.logger.Debug("failed to delete status card on unpin", zap.Error(derr))
			}
		}
	}

	if err := s.store.DeletePinned(tenant, serverID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStatusTarget(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var req struct {
		Target *string `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.Target != nil && *req.Target == "" {
		req.Target = nil
	}

	if err := s.store.UpdateStatusTarget(tenant, req.Target); err != nil {
		writeError(w, err)
		return
	}
	if req.Target != nil {
		s.refreshTenant(tenant)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFields(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetTenant(chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}

	fields := make(map[string]bool, len(status.Fields))
	for _, f := range status.Fields {
		fields[f.Key] = true
		if enabled, ok := record.FieldPrefs[f.Key]; ok {
			fields[f.Key] = enabled
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (s *Server) handleSetFields(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var req struct {
		Fields map[string]bool `json:"fields"`
	}
	if err := decode(r, &req); err != nil || req.Fields == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fields map is required"})
		return
	}

	// Unknown keys are dropped rather than rejected.
	known := status.KnownFieldKeys()
	prefs := make(map[string]bool, len(req.Fields))
	for key, enabled := range req.Fields {
		if known[key] {
			prefs[key] = enabled
		}
	}

	if err := s.store.UpdateFieldPrefs(tenant, prefs); err != nil {
		writeError(w, err)
		return
	}
	s.refreshTenant(tenant)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatusSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no local status snapshot"})
		return
	}
	record, err := s.store.GetTenant(chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	if record.StatusTarget == nil {
		writeJSON(w, http.StatusOK, map[string]any{"artifacts": []*status.Artifact{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": s.snapshots.Snapshot(*record.StatusTarget)})
}

// refreshTenant nudges the updater after a command changed what should be
// displayed. Failures are the next sweep's problem.
func (s *Server) refreshTenant(tenant string) {
	if s.updater == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancel()
		if err := s.updater.UpdateTenant(ctx, tenant); err != nil {
			s.logger.Debug("post-command refresh failed", zap.String("tenant", tenant), zap.Error(err))
		}
	}()
}
