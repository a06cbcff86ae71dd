package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/config"
	"github.com/panelbridge/panelbridge-go/internal/panel"
	"github.com/panelbridge/panelbridge-go/internal/session"
	"github.com/panelbridge/panelbridge-go/internal/status"
	"github.com/panelbridge/panelbridge-go/internal/storage"
	"github.com/panelbridge/panelbridge-go/internal/vault"
)

type apiFixture struct {
	panel     *fakePanel
	store     *storage.BoltStore
	publisher *status.MemoryPublisher
	api       *httptest.Server
}

// fakePanel speaks the connect protocol.
type fakePanel struct {
	srv *httptest.Server

	mu      sync.Mutex
	servers []map[string]any
}

func newFakePanel(t *testing.T) *fakePanel {
	f := &fakePanel{
		servers: []map[string]any{
			{"id": "s1", "name": "alpha", "status": "SERVER_STATUS_RUNNING", "playerCount": 2, "maxPlayers": 10},
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		servers := f.servers
		f.mu.Unlock()
		switch r.URL.Path {
		case "/discopanel.v1.AuthService/Login":
			var creds struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds.Password != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok"})
		case "/discopanel.v1.ServerService/ListServers":
			_ = json.NewEncoder(w).Encode(map[string]any{"servers": servers})
		case "/discopanel.v1.ServerService/StartServer",
			"/discopanel.v1.ServerService/StopServer",
			"/discopanel.v1.ServerService/RestartServer":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := newFakePanel(t)

	store, err := storage.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		MultiTenant:        true,
		TokenRefreshBuffer: 300 * time.Second,
		StatusInterval:     time.Hour,
		RemovedGraceDelay:  10 * time.Millisecond,
		ListenAddr:         ":0",
	}

	v, err := vault.New(bytes.Repeat([]byte{0x07}, vault.KeySize))
	require.NoError(t, err)

	client := panel.NewClient(time.Second, zap.NewNop())
	sessions := session.NewManager(cfg, store, v, client, zap.NewNop())
	publisher := status.NewMemoryPublisher()
	updater := status.NewUpdater(cfg, store, sessions, publisher, nil, zap.NewNop())

	server := NewServer(cfg, sessions, store, updater, publisher, publisher, nil, zap.NewNop())
	api := httptest.NewServer(server.Router())
	t.Cleanup(api.Close)

	return &apiFixture{panel: f, store: store, publisher: publisher, api: api}
}

func (fx *apiFixture) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, fx.api.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func (fx *apiFixture) setup(t *testing.T) {
	t.Helper()
	resp, _ := fx.request(t, http.MethodPost, "/api/v1/tenants/g1/setup", map[string]string{
		"panel_url": fx.panel.srv.URL, "username": "admin", "password": "pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetupEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	resp, body := fx.request(t, http.MethodPost, "/api/v1/tenants/g1/setup", map[string]string{
		"panel_url": fx.panel.srv.URL, "username": "admin", "password": "pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "connect", out["protocol"])

	record, err := fx.store.GetTenant("g1")
	require.NoError(t, err)
	assert.Equal(t, panel.ProtocolConnect, record.Protocol)
}

func TestSetupRejectsBadCredentials(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.request(t, http.MethodPost, "/api/v1/tenants/g1/setup", map[string]string{
		"panel_url": fx.panel.srv.URL, "username": "admin", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSetupValidatesBody(t *testing.T) {
	fx := newAPIFixture(t)

	resp, _ := fx.request(t, http.MethodPost, "/api/v1/tenants/g1/setup", map[string]string{
		"panel_url": fx.panel.srv.URL,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownTenantIsConflict(t *testing.T) {
	fx := newAPIFixture(t)

	resp, body := fx.request(t, http.MethodGet, "/api/v1/tenants/nobody/servers", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "setup")
}

func TestServersEndpoints(t *testing.T) {
	fx := newAPIFixture(t)
	fx.setup(t)

	resp, body := fx.request(t, http.MethodGet, "/api/v1/tenants/g1/servers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Servers []panel.Server `json:"servers"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Len(t, listing.Servers, 1)
	assert.Equal(t, panel.StatusRunning, listing.Servers[0].Status)

	resp, body = fx.request(t, http.MethodGet, "/api/v1/tenants/g1/servers/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var server panel.Server
	require.NoError(t, json.Unmarshal(body, &server))
	assert.Equal(t, "alpha", server.Name)

	resp, _ = fx.request(t, http.MethodGet, "/api/v1/tenants/g1/servers/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, action := range []string{"start", "stop", "restart"} {
		resp, body = fx.request(t, http.MethodPost, "/api/v1/tenants/g1/servers/s1/"+action, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, action)
		var result panel.ActionResult
		require.NoError(t, json.Unmarshal(body, &result))
		assert.True(t, result.Success)
	}
}

func TestPinLifecycle(t *testing.T) {
	fx := newAPIFixture(t)
	fx.setup(t)

	resp, _ := fx.request(t, http.MethodPut, "/api/v1/tenants/g1/pins", map[string]string{"server_id": "s1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Pinning an unknown server is rejected up front.
	resp, _ = fx.request(t, http.MethodPut, "/api/v1/tenants/g1/pins", map[string]string{"server_id": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := fx.request(t, http.MethodGet, "/api/v1/tenants/g1/pins", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pins struct {
		Pins []storage.PinnedServerRecord `json:"pins"`
	}
	require.NoError(t, json.Unmarshal(body, &pins))
	require.Len(t, pins.Pins, 1)
	assert.Equal(t, "alpha", pins.Pins[0].ServerName)

	resp, _ = fx.request(t, http.MethodDelete, "/api/v1/tenants/g1/pins/s1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = fx.request(t, http.MethodGet, "/api/v1/tenants/g1/pins", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &pins))
	assert.Empty(t, pins.Pins)
}

func TestStatusTargetAndSnapshot(t *testing.T) {
	fx := newAPIFixture(t)
	fx.setup(t)

	resp, _ := fx.request(t, http.MethodPut, "/api/v1/tenants/g1/status-target", map[string]string{"target": "chan-1"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = fx.request(t, http.MethodPut, "/api/v1/tenants/g1/pins", map[string]string{"server_id": "s1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The post-command refresh is asynchronous.
	assert.Eventually(t, func() bool {
		_, body := fx.request(t, http.MethodGet, "/api/v1/tenants/g1/status", nil)
		var snapshot struct {
			Artifacts []status.Artifact `json:"artifacts"`
		}
		if err := json.Unmarshal(body, &snapshot); err != nil {
			return false
		}
		return len(snapshot.Artifacts) == 1 && snapshot.Artifacts[0].Kind == status.KindStatus
	}, time.Second, 10*time.Millisecond)
}

func TestFieldPreferences(t *testing.T) {
	fx := newAPIFixture(t)
	fx.setup(t)

	resp, body := fx.request(t, http.MethodGet, "/api/v1/tenants/g1/fields", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fields struct {
		Fields map[string]bool `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.True(t, fields.Fields["cpu"])

	resp, _ = fx.request(t, http.MethodPut, "/api/v1/tenants/g1/fields", map[string]any{
		"fields": map[string]bool{"cpu": false, "bogus": true},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = fx.request(t, http.MethodGet, "/api/v1/tenants/g1/fields", nil)
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.False(t, fields.Fields["cpu"])
	// Unknown keys never round-trip.
	_, present := fields.Fields["bogus"]
	assert.False(t, present)
}

func TestDisconnectEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	fx.setup(t)

	resp, _ := fx.request(t, http.MethodDelete, "/api/v1/tenants/g1/", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := fx.store.GetTenant("g1")
	assert.ErrorIs(t, err, storage.ErrTenantNotFound)
}

func TestHealthz(t *testing.T) {
	fx := newAPIFixture(t)
	resp, body := fx.request(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{panel.ErrAuth, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", panel.ErrServerNotFound), http.StatusNotFound},
		{storage.ErrTenantNotFound, http.StatusNotFound},
		{panel.ErrTimeout, http.StatusRequestTimeout},
		{panel.ErrNotConfigured, http.StatusConflict},
		{panel.ErrConnection, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}

	// Internal errors stay internal.
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("disk on fire"))
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}
