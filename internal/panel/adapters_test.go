package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePanel is an httptest-backed panel speaking either protocol.
type fakePanel struct {
	t           *testing.T
	srv         *httptest.Server
	protocol    Protocol
	username    string
	password    string
	token       string
	servers     []map[string]any
	loginCalls  atomic.Int64
	failLogin   bool
	stallLogin  time.Duration
	stallServer time.Duration
}

func newFakePanel(t *testing.T, protocol Protocol) *fakePanel {
	f := &fakePanel{
		t:        t,
		protocol: protocol,
		username: "admin",
		password: "hunter2",
		token:    "tok-1",
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePanel) url() string { return f.srv.URL }

func (f *fakePanel) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case f.protocol == ProtocolConnect && r.URL.Path == connectLoginPath,
		f.protocol == ProtocolRest && r.URL.Path == restLoginPath:
		f.handleLogin(w, r)
	case f.protocol == ProtocolConnect && r.URL.Path == connectListPath:
		f.requireAuth(w, r, func() {
			if f.stallServer > 0 {
				time.Sleep(f.stallServer)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"servers": f.servers})
		})
	case f.protocol == ProtocolConnect && (r.URL.Path == connectStartPath || r.URL.Path == connectStopPath || r.URL.Path == connectRestartPath):
		f.requireAuth(w, r, func() {
			w.WriteHeader(http.StatusOK)
		})
	case f.protocol == ProtocolRest && r.URL.Path == restServersPath:
		f.requireAuth(w, r, func() {
			_ = json.NewEncoder(w).Encode(f.servers)
		})
	case f.protocol == ProtocolRest && len(r.URL.Path) > len(restServersPath):
		f.requireAuth(w, r, func() {
			id := r.URL.Path[len(restServersPath)+1:]
			for _, s := range f.servers {
				if s["id"] == id {
					_ = json.NewEncoder(w).Encode(s)
					return
				}
				if action, ok := cutActionPath(id); ok && s["id"] == action {
					w.WriteHeader(http.StatusOK)
					return
				}
			}
			http.NotFound(w, r)
		})
	default:
		http.NotFound(w, r)
	}
}

// cutActionPath turns "s1/start" into ("s1", true).
func cutActionPath(rest string) (string, bool) {
	for i := range rest {
		if rest[i] == '/' {
			return rest[:i], true
		}
	}
	return "", false
}

func (f *fakePanel) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.loginCalls.Add(1)
	if f.stallLogin > 0 {
		time.Sleep(f.stallLogin)
	}
	if f.failLogin {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&creds)
	if creds.Username != f.username || creds.Password != f.password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.protocol == ProtocolConnect {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": f.token})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"token": f.token})
}

func (f *fakePanel) requireAuth(w http.ResponseWriter, r *http.Request, next func()) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	next()
}

func (f *fakePanel) conn() Connection {
	return Connection{URL: f.url(), Token: f.token, Protocol: f.protocol}
}

func TestConnectAuthenticate(t *testing.T) {
	f := newFakePanel(t, ProtocolConnect)
	a := NewConnectAdapter(time.Second, zap.NewNop())

	res, err := a.Authenticate(context.Background(), f.url(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, ProtocolConnect, res.Protocol)
	assert.Nil(t, res.ExpiresAt)
}

func TestConnectAuthenticateRejected(t *testing.T) {
	f := newFakePanel(t, ProtocolConnect)
	a := NewConnectAdapter(time.Second, zap.NewNop())

	_, err := a.Authenticate(context.Background(), f.url(), "admin", "wrong")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestConnectTimeoutIsDistinct(t *testing.T) {
	f := newFakePanel(t, ProtocolConnect)
	f.stallLogin = 300 * time.Millisecond
	a := NewConnectAdapter(50*time.Millisecond, zap.NewNop())

	_, err := a.Authenticate(context.Background(), f.url(), "admin", "hunter2")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrConnection)
}

func TestConnectConnectionError(t *testing.T) {
	a := NewConnectAdapter(time.Second, zap.NewNop())

	// Nothing listens here.
	_, err := a.Authenticate(context.Background(), "http://127.0.0.1:1", "admin", "hunter2")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestConnectListAndGetServer(t *testing.T) {
	f := newFakePanel(t, ProtocolConnect)
	f.servers = []map[string]any{
		{"id": "s1", "name": "alpha", "status": "SERVER_STATUS_RUNNING", "playerCount": 4, "maxPlayers": 20},
		{"id": "s2", "name": "beta", "status": "SERVER_STATUS_STOPPED"},
	}
	a := NewConnectAdapter(time.Second, zap.NewNop())

	servers, err := a.ListServers(context.Background(), f.conn())
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, StatusRunning, servers[0].Status)
	require.NotNil(t, servers[0].PlayersOnline)
	assert.Equal(t, 4, *servers[0].PlayersOnline)

	got, err := a.GetServer(context.Background(), f.conn(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Name)

	_, err = a.GetServer(context.Background(), f.conn(), "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestDecodeConnectListEnvelopes(t *testing.T) {
	bare := json.RawMessage(`[{"id":"a","name":"a","status":"RUNNING"}]`)
	wrapped := json.RawMessage(`{"servers":[{"id":"b","name":"b","status":"RUNNING"}]}`)
	items := json.RawMessage(`{"items":[{"id":"c","name":"c","status":"RUNNING"}]}`)

	assert.Len(t, decodeConnectList(bare), 1)
	assert.Equal(t, "b", decodeConnectList(wrapped)[0].ID)
	assert.Equal(t, "c", decodeConnectList(items)[0].ID)
	assert.Nil(t, decodeConnectList(json.RawMessage(`"nope"`)))
}

func TestConnectActions(t *testing.T) {
	f := newFakePanel(t, ProtocolConnect)
	a := NewConnectAdapter(time.Second, zap.NewNop())

	for _, action := range []func(context.Context, Connection, string) (ActionResult, error){
		a.StartServer, a.StopServer, a.RestartServer,
	} {
		res, err := action(context.Background(), f.conn(), "s1")
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
}

func TestRestGetServerNotFound(t *testing.T) {
	f := newFakePanel(t, ProtocolRest)
	f.servers = []map[string]any{
		{"id": "s1", "name": "alpha", "status": "running"},
	}
	a := NewRestAdapter(time.Second, zap.NewNop())

	got, err := a.GetServer(context.Background(), f.conn(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, StatusRunning, got.Status)

	_, err = a.GetServer(context.Background(), f.conn(), "gone")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestRestListServers(t *testing.T) {
	f := newFakePanel(t, ProtocolRest)
	f.servers = []map[string]any{
		{"id": "s1", "name": "alpha", "status": "online", "playersOnline": 3, "playersMax": 10},
	}
	a := NewRestAdapter(time.Second, zap.NewNop())

	servers, err := a.ListServers(context.Background(), f.conn())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, StatusRunning, servers[0].Status)
	require.NotNil(t, servers[0].PlayersMax)
	assert.Equal(t, 10, *servers[0].PlayersMax)
}

func TestRestAuthError(t *testing.T) {
	f := newFakePanel(t, ProtocolRest)
	a := NewRestAdapter(time.Second, zap.NewNop())

	conn := f.conn()
	conn.Token = "stale"
	_, err := a.ListServers(context.Background(), conn)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestDetectPrefersConnect(t *testing.T) {
	f := newFakePanel(t, ProtocolConnect)
	c := NewClient(time.Second, zap.NewNop())

	res, err := c.Detect(context.Background(), f.url(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ProtocolConnect, res.Protocol)
}

func TestDetectFallsBackToRest(t *testing.T) {
	f := newFakePanel(t, ProtocolRest)
	c := NewClient(time.Second, zap.NewNop())

	res, err := c.Detect(context.Background(), f.url(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ProtocolRest, res.Protocol)
	assert.Equal(t, "tok-1", res.Token)
}

func TestDetectCombinedFailure(t *testing.T) {
	f := newFakePanel(t, ProtocolRest)
	f.failLogin = true
	c := NewClient(time.Second, zap.NewNop())

	_, err := c.Detect(context.Background(), f.url(), "admin", "hunter2")
	require.ErrorIs(t, err, ErrAuth)
	// The combined error names neither low-level failure.
	assert.NotContains(t, err.Error(), "401")
}

func TestAdapterSelection(t *testing.T) {
	c := NewClient(time.Second, zap.NewNop())

	assert.IsType(t, &ConnectAdapter{}, c.Adapter(ProtocolConnect))
	assert.IsType(t, &RestAdapter{}, c.Adapter(ProtocolRest))
	assert.IsType(t, &ConnectAdapter{}, c.Adapter(ProtocolAuto))
}
