package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelbridge/panelbridge-go/internal/panel"
)

func intRef(n int) *int           { return &n }
func int64Ref(n int64) *int64     { return &n }
func floatRef(f float64) *float64 { return &f }

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0m"},
		{59, "0m"},
		{60, "1m"},
		{3600, "1h 0m"},
		{3780, "1h 3m"},
		{90000, "1d 1h 0m"},
		{93784, "1d 2h 3m"},
		{-5, "0m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.seconds))
	}
}

func TestFormatMemoryHeuristic(t *testing.T) {
	// At or below 100 the panel reported a percentage.
	assert.Equal(t, "63.4%", FormatMemory(63.4))
	assert.Equal(t, "100.0%", FormatMemory(100))
	// Above 100 it reported megabytes.
	assert.Equal(t, "2.0 GB", FormatMemory(2048))
	assert.Equal(t, "0.5 GB", FormatMemory(512))
}

func TestFormatPlayers(t *testing.T) {
	assert.Equal(t, "4/20", FormatPlayers(4, intRef(20)))
	assert.Equal(t, "4", FormatPlayers(4, nil))
}

func TestFormatVersion(t *testing.T) {
	forge := "Forge"
	vanilla := "Vanilla"
	assert.Equal(t, "1.21.4 (Forge)", FormatVersion("1.21.4", &forge))
	assert.Equal(t, "1.21.4", FormatVersion("1.21.4", &vanilla))
	assert.Equal(t, "1.21.4", FormatVersion("1.21.4", nil))
}

func TestFormatStorage(t *testing.T) {
	assert.Equal(t, "1.0 GB / 10.0 GB", FormatStorage(1<<30, floatRef(10*(1<<30))))
	assert.Equal(t, "512.0 MB", FormatStorage(512*(1<<20), nil))
	assert.Equal(t, "100 B", FormatStorage(100, nil))
}

func TestBuildStatusOmitsMissingFields(t *testing.T) {
	server := &panel.Server{
		ID:     "s1",
		Name:   "alpha",
		Status: panel.StatusRunning,
	}
	a := BuildStatus(server, nil, time.Now())

	assert.Equal(t, KindStatus, a.Kind)
	assert.Equal(t, colorOnline, a.Color)
	// Only the status line has data.
	require.Len(t, a.Fields, 1)
	assert.Equal(t, "Status", a.Fields[0].Name)
	assert.Equal(t, "Online", a.Fields[0].Value)
}

func TestBuildStatusFullCard(t *testing.T) {
	version := "1.21.4"
	loader := "Fabric"
	server := &panel.Server{
		ID:            "s1",
		Name:          "alpha",
		Status:        panel.StatusRunning,
		Version:       &version,
		ModLoader:     &loader,
		PlayersOnline: intRef(4),
		PlayersMax:    intRef(20),
		CPUUsage:      floatRef(12.5),
		MemoryUsage:   floatRef(2048),
		UptimeSeconds: int64Ref(3780),
		TPS:           floatRef(19.9),
	}
	a := BuildStatus(server, nil, time.Now())

	byName := map[string]string{}
	for _, f := range a.Fields {
		byName[f.Name] = f.Value
	}
	assert.Equal(t, "Online", byName["Status"])
	assert.Equal(t, "4/20", byName["Players"])
	assert.Equal(t, "12.5%", byName["CPU"])
	assert.Equal(t, "2.0 GB", byName["Memory"])
	assert.Equal(t, "1h 3m", byName["Uptime"])
	assert.Equal(t, "1.21.4 (Fabric)", byName["Version"])
	assert.Equal(t, "19.9", byName["TPS"])
}

func TestBuildStatusHonorsPrefs(t *testing.T) {
	server := &panel.Server{
		ID:       "s1",
		Name:     "alpha",
		Status:   panel.StatusRunning,
		CPUUsage: floatRef(12.5),
		TPS:      floatRef(20),
	}
	prefs := map[string]bool{
		"cpu":       false,
		"not-a-key": false, // unknown keys are ignored
	}
	a := BuildStatus(server, prefs, time.Now())

	for _, f := range a.Fields {
		assert.NotEqual(t, "CPU", f.Name)
	}
	// TPS has no preference entry, so the default (enabled) applies.
	found := false
	for _, f := range a.Fields {
		if f.Name == "TPS" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStatusColors(t *testing.T) {
	assert.Equal(t, colorOnline, statusColor(panel.StatusRunning))
	assert.Equal(t, colorOffline, statusColor(panel.StatusStopped))
	assert.Equal(t, colorTransition, statusColor(panel.StatusStarting))
	assert.Equal(t, colorTransition, statusColor(panel.StatusStopping))
	assert.Equal(t, colorRemoved, statusColor(panel.StatusUnknown))
}

func TestKnownFieldKeys(t *testing.T) {
	keys := KnownFieldKeys()
	for _, key := range []string{"online", "players", "cpu", "ram", "uptime", "version", "tps", "storage"} {
		assert.True(t, keys[key], key)
	}
	assert.False(t, keys["bogus"])
}
