package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// REST-protocol endpoints.
const (
	restLoginPath   = "/api/v1/auth/login"
	restServersPath = "/api/v1/servers"
)

// RestAdapter speaks the resource-style protocol. Unlike connect, its
// payloads are strictly typed and a missing server is a real 404.
type RestAdapter struct {
	hc      *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewRestAdapter creates a REST adapter with the given per-request timeout.
func NewRestAdapter(timeout time.Duration, logger *zap.Logger) *RestAdapter {
	return &RestAdapter{
		hc:      &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

type restServer struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	MCVersion     *string  `json:"mcVersion"`
	ModLoader     *string  `json:"modLoader"`
	PlayersOnline *int     `json:"playersOnline"`
	PlayersMax    *int     `json:"playersMax"`
	CPUUsage      *float64 `json:"cpuUsage"`
	MemoryUsage   *float64 `json:"memoryUsage"`
	Uptime        *int64   `json:"uptime"`
}

func (r *restServer) normalize() Server {
	return Server{
		ID:            r.ID,
		Name:          r.Name,
		Status:        normalizeStatus(r.Status, ""),
		Version:       r.MCVersion,
		ModLoader:     r.ModLoader,
		PlayersOnline: r.PlayersOnline,
		PlayersMax:    r.PlayersMax,
		CPUUsage:      r.CPUUsage,
		MemoryUsage:   r.MemoryUsage,
		UptimeSeconds: r.Uptime,
	}
}

// Authenticate logs in with username/password and returns the issued token.
func (a *RestAdapter) Authenticate(ctx context.Context, url, username, password string) (AuthResult, error) {
	var resp struct {
		Token     string `json:"token"`
		ExpiresAt *int64 `json:"expiresAt"`
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body := map[string]string{"username": username, "password": password}
	if err := doJSON(ctx, a.hc, http.MethodPost, url+restLoginPath, "", body, &resp); err != nil {
		return AuthResult{}, mapRestError(err, "")
	}

	return AuthResult{Token: resp.Token, ExpiresAt: resp.ExpiresAt, Protocol: ProtocolRest}, nil
}

// ListServers fetches and normalizes all servers visible to the session.
func (a *RestAdapter) ListServers(ctx context.Context, conn Connection) ([]Server, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw json.RawMessage
	if err := doJSON(ctx, a.hc, http.MethodGet, conn.URL+restServersPath, conn.Token, nil, &raw); err != nil {
		return nil, mapRestError(err, "")
	}

	var list []restServer
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			Servers []restServer `json:"servers"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: decode server list: %v", ErrConnection, err)
		}
		list = wrapped.Servers
	}

	a.logger.Debug("listed servers via rest protocol", zap.Int("count", len(list)))

	servers := make([]Server, 0, len(list))
	for i := range list {
		servers = append(servers, list[i].normalize())
	}
	return servers, nil
}

// GetServer fetches a single server; the panel answers 404 for unknown ids.
func (a *RestAdapter) GetServer(ctx context.Context, conn Connection, serverID string) (Server, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw restServer
	if err := doJSON(ctx, a.hc, http.MethodGet, conn.URL+restServersPath+"/"+serverID, conn.Token, nil, &raw); err != nil {
		return Server{}, mapRestError(err, serverID)
	}
	return raw.normalize(), nil
}

// StartServer asks the panel to start a server.
func (a *RestAdapter) StartServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error) {
	return a.action(ctx, conn, serverID, "start")
}

// StopServer asks the panel to stop a server.
func (a *RestAdapter) StopServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error) {
	return a.action(ctx, conn, serverID, "stop")
}

// RestartServer asks the panel to restart a server.
func (a *RestAdapter) RestartServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error) {
	return a.action(ctx, conn, serverID, "restart")
}

func (a *RestAdapter) action(ctx context.Context, conn Connection, serverID, action string) (ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	url := conn.URL + restServersPath + "/" + serverID + "/" + action
	if err := doJSON(ctx, a.hc, http.MethodPost, url, conn.Token, nil, nil); err != nil {
		return ActionResult{}, mapRestError(err, serverID)
	}
	return ActionResult{Success: true}, nil
}

// mapRestError upgrades a 404 status into the authoritative not-found
// error; other failures pass through unchanged.
func mapRestError(err error, serverID string) error {
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		if serverID != "" {
			return fmt.Errorf("%w: %q", ErrServerNotFound, serverID)
		}
		return fmt.Errorf("%w", ErrServerNotFound)
	}
	return err
}
