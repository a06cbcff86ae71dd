// Package session owns authenticated panel sessions per tenant: token
// caching, expiry-driven refresh, credential caching for silent re-login,
// and the retry-once policy when a panel rejects a token mid-flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/config"
	"github.com/panelbridge/panelbridge-go/internal/observability"
	"github.com/panelbridge/panelbridge-go/internal/panel"
	"github.com/panelbridge/panelbridge-go/internal/storage"
	"github.com/panelbridge/panelbridge-go/internal/vault"
)

type credentials struct {
	username string
	password string
}

// session is the in-memory view of one tenant's live panel session.
type session struct {
	conn      panel.Connection
	expiresAt *int64 // seconds since epoch; nil = no known expiry
}

// Manager mediates every panel call. Callers never see tokens; they ask the
// manager to run an operation and the manager supplies a fresh connection,
// refreshing behind a per-tenant lock when the cached token is close to
// expiry.
type Manager struct {
	store   *storage.BoltStore
	vault   *vault.Vault // nil when no encryption key is configured
	client  *panel.Client
	logger  *zap.Logger
	metrics *observability.Metrics

	refreshBuffer time.Duration
	now           func() time.Time

	// fixed is set in single-tenant mode; every tenant id maps onto the
	// one panel configured through the environment.
	fixed    *credentials
	fixedURL string

	mu       sync.Mutex
	sessions map[string]*session
	creds    map[string]credentials
	locks    map[string]*sync.Mutex
}

// NewManager wires the session layer. In single-tenant mode the config's
// panel credentials become the fixed credentials for lazy setup.
func NewManager(cfg *config.Config, store *storage.BoltStore, v *vault.Vault, client *panel.Client, logger *zap.Logger) *Manager {
	m := &Manager{
		store:         store,
		vault:         v,
		client:        client,
		logger:        logger,
		refreshBuffer: cfg.TokenRefreshBuffer,
		now:           time.Now,
		sessions:      make(map[string]*session),
		creds:         make(map[string]credentials),
		locks:         make(map[string]*sync.Mutex),
	}
	if !cfg.MultiTenant {
		m.fixed = &credentials{username: cfg.PanelUsername, password: cfg.PanelPassword}
		m.fixedURL = cfg.PanelURL
	}
	return m
}

// SetMetrics attaches the metric set. Safe to skip in tests.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Setup authenticates against a panel, detects its protocol, persists the
// tenant and caches the credentials so later refreshes happen silently. The
// returned protocol is what detection settled on.
func (m *Manager) Setup(ctx context.Context, tenantID, url, username, password string) (panel.Protocol, error) {
	url = strings.TrimRight(url, "/")

	result, err := m.client.Detect(ctx, url, username, password)
	if err != nil {
		return "", err
	}

	expiresAt := result.ExpiresAt
	if expiresAt == nil {
		expiresAt = inferExpiry(result.Token)
	}

	record := &storage.TenantRecord{
		ID:             tenantID,
		PanelURL:       url,
		Protocol:       result.Protocol,
		Username:       username,
		TokenExpiresAt: expiresAt,
	}
	if m.vault != nil {
		sealed, err := m.vault.Encrypt(result.Token)
		if err != nil {
			return "", err
		}
		record.EncryptedToken = &sealed
	}
	if err := m.store.UpsertTenant(record); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.creds[tenantID] = credentials{username: username, password: password}
	m.sessions[tenantID] = &session{
		conn:      panel.Connection{URL: url, Token: result.Token, Protocol: result.Protocol},
		expiresAt: expiresAt,
	}
	m.mu.Unlock()

	m.logger.Info("panel session established",
		zap.String("tenant", tenantID),
		zap.String("protocol", string(result.Protocol)))
	return result.Protocol, nil
}

// EnsureSetup makes sure a tenant has a usable session. In single-tenant
// mode an unknown tenant is set up lazily from the fixed credentials; in
// multi-tenant mode an unknown tenant is a hard ErrNotConfigured.
func (m *Manager) EnsureSetup(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	_, live := m.sessions[tenantID]
	m.mu.Unlock()
	if live {
		return nil
	}

	if _, err := m.store.GetTenant(tenantID); err == nil {
		return nil
	}

	if m.fixed == nil {
		return fmt.Errorf("%w: tenant %s has no panel configured", panel.ErrNotConfigured, tenantID)
	}
	_, err := m.Setup(ctx, tenantID, m.fixedURL, m.fixed.username, m.fixed.password)
	return err
}

// Disconnect drops a tenant's session, cached credentials and persisted
// state, pins included.
func (m *Manager) Disconnect(tenantID string) error {
	m.mu.Lock()
	delete(m.sessions, tenantID)
	delete(m.creds, tenantID)
	m.mu.Unlock()
	return m.store.DeleteTenant(tenantID)
}

// Connection returns a connection with a token that is fresh for at least
// the refresh buffer. It loads persisted state on first use and refreshes
// when the cached token is missing or close to expiry.
func (m *Manager) Connection(ctx context.Context, tenantID string) (panel.Connection, error) {
	sess, err := m.loadSession(tenantID)
	if err != nil {
		return panel.Connection{}, err
	}
	if sess.conn.Token == "" || m.needsRefresh(sess.expiresAt) {
		sess, err = m.refresh(ctx, tenantID, sess.conn.Token)
		if err != nil {
			return panel.Connection{}, err
		}
	}
	return sess.conn, nil
}

// loadSession returns the in-memory session, falling back to the persisted
// record. A record whose token cannot be decrypted yields an empty token so
// the caller forces a fresh login instead of failing hard.
func (m *Manager) loadSession(tenantID string) (*session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[tenantID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	record, err := m.store.GetTenant(tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: tenant %s has no panel configured", panel.ErrNotConfigured, tenantID)
		}
		return nil, err
	}

	sess := &session{
		conn:      panel.Connection{URL: record.PanelURL, Protocol: record.Protocol},
		expiresAt: record.TokenExpiresAt,
	}
	if record.EncryptedToken != nil && m.vault != nil {
		token, err := m.vault.Decrypt(*record.EncryptedToken)
		if err != nil {
			m.logger.Warn("stored token failed to decrypt, forcing re-login",
				zap.String("tenant", tenantID), zap.Error(err))
		} else {
			sess.conn.Token = token
		}
	}

	m.mu.Lock()
	m.sessions[tenantID] = sess
	m.mu.Unlock()
	return sess, nil
}

// needsRefresh reports whether a token expiring at the given epoch second
// is within the refresh buffer. Non-expiring tokens never refresh early.
func (m *Manager) needsRefresh(expiresAt *int64) bool {
	if expiresAt == nil {
		return false
	}
	return time.Unix(*expiresAt, 0).Sub(m.now()) < m.refreshBuffer
}

// tenantLock returns the mutex serializing refreshes for one tenant.
func (m *Manager) tenantLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[tenantID] = lock
	}
	return lock
}

// refresh logs in again with the cached credentials. staleToken is the
// token the caller found wanting, empty if it had none. Refreshes for one
// tenant are serialized: waiters re-check the session after acquiring the
// lock, and a token that already changed since the caller read it means
// someone else just logged in, so a burst of stale callers produces exactly
// one login.
func (m *Manager) refresh(ctx context.Context, tenantID, staleToken string) (*session, error) {
	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[tenantID]
	m.mu.Unlock()
	if ok && sess.conn.Token != "" && sess.conn.Token != staleToken && !m.needsRefresh(sess.expiresAt) {
		return sess, nil
	}

	record, err := m.store.GetTenant(tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: tenant %s has no panel configured", panel.ErrNotConfigured, tenantID)
		}
		return nil, err
	}

	creds, ok := m.credentials(tenantID)
	if !ok {
		return nil, fmt.Errorf("%w: session expired, run setup again", panel.ErrAuth)
	}

	// Multi-tenant refreshes stick to the protocol detection settled on;
	// single-tenant mode re-probes so a panel migration heals itself.
	var result panel.AuthResult
	if m.fixed != nil {
		result, err = m.client.Detect(ctx, record.PanelURL, creds.username, creds.password)
		if err == nil && result.Protocol != record.Protocol {
			if perr := m.store.UpdateTenantProtocol(tenantID, result.Protocol); perr != nil {
				return nil, perr
			}
			record.Protocol = result.Protocol
		}
	} else {
		result, err = m.client.Adapter(record.Protocol).Authenticate(ctx, record.PanelURL, creds.username, creds.password)
	}
	m.metrics.ObserveTokenRefresh(err)
	if err != nil {
		return nil, err
	}

	expiresAt := result.ExpiresAt
	if expiresAt == nil {
		expiresAt = inferExpiry(result.Token)
	}

	var sealed *string
	if m.vault != nil {
		blob, err := m.vault.Encrypt(result.Token)
		if err != nil {
			return nil, err
		}
		sealed = &blob
	}
	if err := m.store.UpdateTenantToken(tenantID, sealed, expiresAt); err != nil {
		return nil, err
	}

	sess = &session{
		conn:      panel.Connection{URL: record.PanelURL, Token: result.Token, Protocol: record.Protocol},
		expiresAt: expiresAt,
	}
	m.mu.Lock()
	m.sessions[tenantID] = sess
	m.mu.Unlock()

	m.logger.Info("refreshed panel session", zap.String("tenant", tenantID))
	return sess, nil
}

// credentials returns the login credentials for a tenant: the fixed pair in
// single-tenant mode, otherwise whatever Setup cached this process.
func (m *Manager) credentials(tenantID string) (credentials, bool) {
	if m.fixed != nil {
		return *m.fixed, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	creds, ok := m.creds[tenantID]
	return creds, ok
}

// inferExpiry pulls the exp claim out of a JWT without verifying it. Panels
// that omit an explicit expiry in the login response usually issue JWTs, so
// the claim is the next best signal for scheduling refreshes.
func inferExpiry(token string) *int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	at := exp.Unix()
	return &at
}

// call runs one panel operation with a fresh connection. A token rejected
// mid-flight triggers exactly one forced re-login and one retry; a second
// auth failure surfaces to the caller.
func call[T any](ctx context.Context, m *Manager, tenantID, op string, fn func(panel.Adapter, panel.Connection) (T, error)) (T, error) {
	var zero T

	conn, err := m.Connection(ctx, tenantID)
	if err != nil {
		return zero, err
	}

	out, err := fn(m.client.Adapter(conn.Protocol), conn)
	m.metrics.ObservePanelRequest(conn.Protocol, op, err)
	if err == nil || !errors.Is(err, panel.ErrAuth) {
		return out, err
	}

	m.logger.Debug("token rejected mid-flight, re-authenticating", zap.String("tenant", tenantID))
	sess, err := m.refresh(ctx, tenantID, conn.Token)
	if err != nil {
		return zero, err
	}
	out, err = fn(m.client.Adapter(sess.conn.Protocol), sess.conn)
	m.metrics.ObservePanelRequest(sess.conn.Protocol, op, err)
	return out, err
}

// ListServers lists the tenant's servers in normalized form.
func (m *Manager) ListServers(ctx context.Context, tenantID string) ([]panel.Server, error) {
	return call(ctx, m, tenantID, "list_servers", func(a panel.Adapter, c panel.Connection) ([]panel.Server, error) {
		return a.ListServers(ctx, c)
	})
}

// GetServer fetches one server's normalized status.
func (m *Manager) GetServer(ctx context.Context, tenantID, serverID string) (panel.Server, error) {
	return call(ctx, m, tenantID, "get_server", func(a panel.Adapter, c panel.Connection) (panel.Server, error) {
		return a.GetServer(ctx, c, serverID)
	})
}

// StartServer asks the panel to start a server.
func (m *Manager) StartServer(ctx context.Context, tenantID, serverID string) (panel.ActionResult, error) {
	return call(ctx, m, tenantID, "start_server", func(a panel.Adapter, c panel.Connection) (panel.ActionResult, error) {
		return a.StartServer(ctx, c, serverID)
	})
}

// StopServer asks the panel to stop a server.
func (m *Manager) StopServer(ctx context.Context, tenantID, serverID string) (panel.ActionResult, error) {
	return call(ctx, m, tenantID, "stop_server", func(a panel.Adapter, c panel.Connection) (panel.ActionResult, error) {
		return a.StopServer(ctx, c, serverID)
	})
}

// RestartServer asks the panel to restart a server.
func (m *Manager) RestartServer(ctx context.Context, tenantID, serverID string) (panel.ActionResult, error) {
	return call(ctx, m, tenantID, "restart_server", func(a panel.Adapter, c panel.Connection) (panel.ActionResult, error) {
		return a.RestartServer(ctx, c, serverID)
	})
}
