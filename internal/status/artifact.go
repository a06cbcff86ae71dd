package status

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panelbridge/panelbridge-go/internal/panel"
)

// ErrMessageNotFound is returned by publishers when a message id no longer
// resolves; the updater reacts by publishing a fresh artifact.
var ErrMessageNotFound = errors.New("status message not found")

// Kind classifies a display artifact.
type Kind string

const (
	// KindStatus is a live status card for a reachable server.
	KindStatus Kind = "status"
	// KindUnreachable marks a server whose panel could not be queried.
	KindUnreachable Kind = "unreachable"
	// KindRemoved marks a server that vanished from the panel listing.
	KindRemoved Kind = "removed"
)

// Display colors, Discord-style RGB integers.
const (
	colorOnline      = 0x57F287
	colorOffline     = 0xED4245
	colorTransition  = 0xFEE75C
	colorUnreachable = 0xE67E22
	colorRemoved     = 0x99AAB5
)

// ArtifactField is one rendered name/value line.
type ArtifactField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Artifact is a protocol-neutral status card. Publishers map it onto their
// own wire format (webhook embed, in-memory snapshot entry).
type Artifact struct {
	Kind        Kind            `json:"kind"`
	ServerID    string          `json:"server_id"`
	ServerName  string          `json:"server_name"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Color       int             `json:"color"`
	Fields      []ArtifactField `json:"fields,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BuildStatus renders a live status artifact, honoring the tenant's field
// preferences. Fields without data are omitted entirely.
func BuildStatus(server *panel.Server, prefs map[string]bool, now time.Time) *Artifact {
	a := &Artifact{
		Kind:       KindStatus,
		ServerID:   server.ID,
		ServerName: server.Name,
		Title:      server.Name,
		Color:      statusColor(server.Status),
		UpdatedAt:  now,
	}
	for _, f := range Fields {
		if !fieldEnabled(prefs, f.Key) {
			continue
		}
		if value := f.Extract(server); value != nil {
			a.Fields = append(a.Fields, ArtifactField{Name: f.Label, Value: *value})
		}
	}
	return a
}

// BuildUnreachable renders the placeholder shown while the panel cannot be
// queried. The last known name keeps the card identifiable.
func BuildUnreachable(serverID, serverName string, now time.Time) *Artifact {
	return &Artifact{
		Kind:        KindUnreachable,
		ServerID:    serverID,
		ServerName:  serverName,
		Title:       serverName,
		Description: "Panel unreachable, status unavailable.",
		Color:       colorUnreachable,
		UpdatedAt:   now,
	}
}

// BuildRemoved renders the farewell card for a server that disappeared
// from the panel.
func BuildRemoved(serverID, serverName string, now time.Time) *Artifact {
	return &Artifact{
		Kind:        KindRemoved,
		ServerID:    serverID,
		ServerName:  serverName,
		Title:       serverName,
		Description: "This server was removed from the panel.",
		Color:       colorRemoved,
		UpdatedAt:   now,
	}
}

func statusColor(s panel.Status) int {
	switch s {
	case panel.StatusRunning:
		return colorOnline
	case panel.StatusStopped:
		return colorOffline
	case panel.StatusStarting, panel.StatusStopping:
		return colorTransition
	default:
		return colorRemoved
	}
}

// Publisher delivers artifacts to a display target. A target is whatever
// the implementation needs to address the surface: a webhook URL, a channel
// id, a snapshot bucket name.
type Publisher interface {
	Publish(ctx context.Context, target string, a *Artifact) (string, error)
	Update(ctx context.Context, target, messageID string, a *Artifact) error
	Delete(ctx context.Context, target, messageID string) error
}

// MemoryPublisher keeps artifacts in memory keyed by generated message ids.
// It backs the HTTP status snapshot and the test suite.
type MemoryPublisher struct {
	mu      sync.Mutex
	targets map[string]map[string]*Artifact
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{targets: make(map[string]map[string]*Artifact)}
}

// Publish stores the artifact under a fresh uuid message id.
func (p *MemoryPublisher) Publish(_ context.Context, target string, a *Artifact) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	if p.targets[target] == nil {
		p.targets[target] = make(map[string]*Artifact)
	}
	p.targets[target][id] = a
	return id, nil
}

// Update replaces an existing artifact in place.
func (p *MemoryPublisher) Update(_ context.Context, target, messageID string, a *Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.targets[target][messageID]; !ok {
		return ErrMessageNotFound
	}
	p.targets[target][messageID] = a
	return nil
}

// Delete removes an artifact.
func (p *MemoryPublisher) Delete(_ context.Context, target, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.targets[target][messageID]; !ok {
		return ErrMessageNotFound
	}
	delete(p.targets[target], messageID)
	return nil
}

// Snapshot returns a target's artifacts sorted by server id.
func (p *MemoryPublisher) Snapshot(target string) []*Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	artifacts := make([]*Artifact, 0, len(p.targets[target]))
	for _, a := range p.targets[target] {
		artifacts = append(artifacts, a)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ServerID < artifacts[j].ServerID })
	return artifacts
}
