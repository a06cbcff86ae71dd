package storage

import (
	"encoding/json"
	"time"

	"github.com/panelbridge/panelbridge-go/internal/panel"
)

// Bucket names for the bbolt database.
const (
	TenantsBucket = "tenants"
	PinnedBucket  = "pinned_servers"
	MetaBucket    = "meta"
)

// Meta keys.
const SchemaVersionKey = "schema"

// CurrentSchemaVersion is bumped when record layouts change.
const CurrentSchemaVersion = 1

// TenantRecord is the persisted configuration of one tenant. The token is
// stored only in its encrypted form; the store never inspects it.
type TenantRecord struct {
	ID             string          `json:"id"`
	PanelURL       string          `json:"panel_url"`
	Protocol       panel.Protocol  `json:"protocol"`
	Username       string          `json:"username"`
	EncryptedToken *string         `json:"encrypted_token,omitempty"`
	TokenExpiresAt *int64          `json:"token_expires_at,omitempty"` // seconds since epoch; nil = non-expiring
	StatusTarget   *string         `json:"status_target,omitempty"`
	FieldPrefs     map[string]bool `json:"field_prefs,omitempty"`
	Created        time.Time       `json:"created"`
	Updated        time.Time       `json:"updated"`
}

// PinnedServerRecord is one server a tenant monitors.
type PinnedServerRecord struct {
	TenantID   string    `json:"tenant_id"`
	ServerID   string    `json:"server_id"`
	ServerName string    `json:"server_name"`
	MessageID  *string   `json:"message_id,omitempty"`
	Created    time.Time `json:"created"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (t *TenantRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (t *TenantRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *PinnedServerRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *PinnedServerRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}
