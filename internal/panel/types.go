package panel

import "context"

// Protocol identifies which wire protocol a panel instance speaks.
type Protocol string

const (
	// ProtocolConnect is the RPC-style protocol (POST per operation).
	ProtocolConnect Protocol = "connect"
	// ProtocolRest is the resource-style protocol.
	ProtocolRest Protocol = "rest"
	// ProtocolAuto means not yet detected.
	ProtocolAuto Protocol = "auto"
)

// Status is the canonical server state.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusStopping Status = "stopping"
	StatusUnknown  Status = "unknown"
)

// Server is the normalized status model. Optional fields are nil when the
// source protocol does not supply them; they are never fabricated.
type Server struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Status        Status   `json:"status"`
	Version       *string  `json:"version,omitempty"`
	ModLoader     *string  `json:"mod_loader,omitempty"`
	PlayersOnline *int     `json:"players_online,omitempty"`
	PlayersMax    *int     `json:"players_max,omitempty"`
	CPUUsage      *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage   *float64 `json:"memory_usage,omitempty"`
	UptimeSeconds *int64   `json:"uptime_seconds,omitempty"`
	TPS           *float64 `json:"tps,omitempty"`
	DiskUsed      *float64 `json:"disk_used,omitempty"`
	DiskTotal     *float64 `json:"disk_total,omitempty"`
}

// AuthResult is a successful login.
type AuthResult struct {
	Token string
	// ExpiresAt is seconds since epoch; nil means the panel reported no
	// expiry.
	ExpiresAt *int64
	Protocol  Protocol
}

// Connection is everything an adapter needs to call the panel on behalf of
// an authenticated tenant.
type Connection struct {
	URL      string
	Token    string
	Protocol Protocol
}

// ActionResult acknowledges a start/stop/restart command. Success means the
// panel accepted the command, not that the action completed.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Adapter is the capability contract implemented by each protocol variant.
type Adapter interface {
	Authenticate(ctx context.Context, url, username, password string) (AuthResult, error)
	ListServers(ctx context.Context, conn Connection) ([]Server, error)
	GetServer(ctx context.Context, conn Connection, serverID string) (Server, error)
	StartServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error)
	StopServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error)
	RestartServer(ctx context.Context, conn Connection, serverID string) (ActionResult, error)
}
