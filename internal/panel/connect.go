package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Connect-protocol endpoints. Every operation is a POST to an RPC path.
const (
	connectLoginPath   = "/discopanel.v1.AuthService/Login"
	connectListPath    = "/discopanel.v1.ServerService/ListServers"
	connectStartPath   = "/discopanel.v1.ServerService/StartServer"
	connectStopPath    = "/discopanel.v1.ServerService/StopServer"
	connectRestartPath = "/discopanel.v1.ServerService/RestartServer"

	connectStatusPrefix = "SERVER_STATUS_"
)

// ConnectAdapter speaks the RPC-style protocol. Its server payloads are
// loosely typed: most numeric fields arrive under one of several aliased
// keys, and memory may be a stringified number.
type ConnectAdapter struct {
	hc      *http.Client
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewConnectAdapter creates a connect adapter with the given per-request
// timeout.
func NewConnectAdapter(timeout time.Duration, logger *zap.Logger) *ConnectAdapter {
	return &ConnectAdapter{
		hc:      &http.Client{},
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// connectServer mirrors the wire payload with every known field alias. The
// first present alias wins, in this declaration order.
type connectServer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`

	MCVersion     *string `json:"mcVersion"`
	ServerVersion *string `json:"serverVersion"`
	ModLoader     *string `json:"modLoader"`

	PlayersOnline *int `json:"playersOnline"`
	Players       *int `json:"players"`
	PlayerCount   *int `json:"playerCount"`
	Online        *int `json:"online"`

	MaxPlayers  *int `json:"maxPlayers"`
	PlayersMax  *int `json:"playersMax"`
	PlayerLimit *int `json:"playerLimit"`
	Slots       *int `json:"slots"`

	CPUPercent *float64 `json:"cpuPercent"`
	CPU        *float64 `json:"cpu"`
	CPUUsage   *float64 `json:"cpuUsage"`

	MemoryUsage *string  `json:"memoryUsage"`
	Memory      *float64 `json:"memory"`
	RAM         *float64 `json:"ram"`

	LastStarted *string  `json:"lastStarted"`
	TPS         *float64 `json:"tps"`

	DiskUsage *string `json:"diskUsage"`
	DiskTotal *string `json:"diskTotal"`
}

func (a *ConnectAdapter) normalize(raw *connectServer) Server {
	status := normalizeStatus(raw.Status, connectStatusPrefix)

	playersOnline := firstInt(raw.PlayersOnline, raw.Players, raw.PlayerCount, raw.Online)
	playersMax := firstInt(raw.MaxPlayers, raw.PlayersMax, raw.PlayerLimit, raw.Slots)

	// A running server that reports a capacity but no player count is
	// treated as empty rather than unknown.
	if playersOnline == nil && status == StatusRunning && playersMax != nil {
		zero := 0
		playersOnline = &zero
	}

	memory := parseFloat(raw.MemoryUsage)
	if memory == nil {
		memory = firstFloat(raw.Memory, raw.RAM)
	}

	return Server{
		ID:            raw.ID,
		Name:          raw.Name,
		Status:        status,
		Version:       firstString(raw.MCVersion, raw.ServerVersion),
		ModLoader:     normalizeModLoader(raw.ModLoader),
		PlayersOnline: playersOnline,
		PlayersMax:    playersMax,
		CPUUsage:      firstFloat(raw.CPUPercent, raw.CPU, raw.CPUUsage),
		MemoryUsage:   memory,
		UptimeSeconds: uptimeSince(raw.LastStarted, a.now()),
		TPS:           raw.TPS,
		DiskUsed:      parseFloat(raw.DiskUsage),
		DiskTotal:     parseFloat(raw.DiskTotal),
	}
}

// Authenticate logs in with username/password and returns the issued token.
func (a *ConnectAdapter) Authenticate(ctx context.Context, url, username, password string) (AuthResult, error) {
	var resp struct {
		Token     string `json:"token"`
		ExpiresAt *int64 `json:"expires_at"`
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body := map[string]string{"username": username, "password": password}
	if err := doJSON(ctx, a.hc, http.MethodPost, url+connectLoginPath, "", body, &resp); err != nil {
		return AuthResult{}, err
	}

	return AuthResult{Token: resp.Token, ExpiresAt: resp.ExpiresAt, Protocol: ProtocolConnect}, nil
}

// ListServers fetches and normalizes all servers visible to the session.
func (a *ConnectAdapter) ListServers(ctx context.Context, conn Connection) ([]Server, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw json.RawMessage
	if err := doJSON(ctx, a.hc, http.MethodPost, conn.URL+connectListPath, conn.Token, map[string]string{}, &raw); err != nil {
		return nil, err
	}

	list := decodeConnectList(raw)
	a.logger.Debug("listed servers via connect protocol", zap.Int("count", len(list)))

	servers := make([]Server, 0, len(list))
	for i := range list {
		servers = append(servers, a.normalize(&list[i]))
	}
	return servers, nil
}

// decodeConnectList accepts a bare array or an object wrapping the array
// under "servers" or "items"; panel builds disagree on the envelope.
func decodeConnectList(raw json.RawMessage) []connectServer {
	var list []connectServer
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var wrapped struct {
		Servers []connectServer `json:"servers"`
		Items   []connectServer `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Servers != nil {
			return wrapped.Servers
		}
		return wrapped.Items
	}
	return nil
}

// GetServer filters the listing; the connect protocol has no single-server
// endpoint.
func (a *ConnectAdapter) GetServer(ctx context.Context, conn Connection, serverID string) (Server, error) {
	servers, err := a.ListServers(ctx, conn)
	if err != nil {
		return Server{}, err
	}
	for i := range servers {
		if servers[i].ID == serverID {
			return servers[i], nil
		}
	}
	return Server{}, fmt.Errorf("%w: %q", ErrServerNotFound, serverID)
}

// StartServer asks the panel to start a server.
func (a *ConnectAdapter) StartServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error) {
	return a.action(ctx, conn, connectStartPath, serverID)
}

// StopServer asks the panel to stop a server.
func (a *ConnectAdapter) StopServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error) {
	return a.action(ctx, conn, connectStopPath, serverID)
}

// RestartServer asks the panel to restart a server.
func (a *ConnectAdapter) RestartServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error) {
	return a.action(ctx, conn, connectRestartPath, serverID)
}

func (a *ConnectAdapter) action(ctx context.Context, conn Connection, path, serverID string) (ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := doJSON(ctx, a.hc, http.MethodPost, conn.URL+path, conn.Token, map[string]string{"id": serverID}, nil); err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true}, nil
}
