// Package status turns normalized server state into display artifacts and
// keeps them reconciled with the panel through a background updater.
package status

import (
	"fmt"
	"strings"

	"github.com/panelbridge/panelbridge-go/internal/panel"
)

// DisplayField is one line of a status artifact. Extract returns nil when
// the server does not carry the underlying value; the field is then omitted
// rather than rendered with a placeholder.
type DisplayField struct {
	Key     string
	Label   string
	Extract func(s *panel.Server) *string
}

// Fields is the display registry in render order. Every field defaults to
// enabled; tenants disable individual keys through their preference map.
var Fields = []DisplayField{
	{Key: "online", Label: "Status", Extract: extractOnline},
	{Key: "players", Label: "Players", Extract: extractPlayers},
	{Key: "cpu", Label: "CPU", Extract: extractCPU},
	{Key: "ram", Label: "Memory", Extract: extractMemory},
	{Key: "uptime", Label: "Uptime", Extract: extractUptime},
	{Key: "version", Label: "Version", Extract: extractVersion},
	{Key: "tps", Label: "TPS", Extract: extractTPS},
	{Key: "storage", Label: "Storage", Extract: extractStorage},
}

// KnownFieldKeys reports whether a preference key names a real field.
func KnownFieldKeys() map[string]bool {
	keys := make(map[string]bool, len(Fields))
	for _, f := range Fields {
		keys[f.Key] = true
	}
	return keys
}

// fieldEnabled applies a tenant's preference map. Missing keys mean the
// field's default, which is enabled; unknown keys in the map are ignored.
func fieldEnabled(prefs map[string]bool, key string) bool {
	if prefs == nil {
		return true
	}
	enabled, ok := prefs[key]
	if !ok {
		return true
	}
	return enabled
}

func strRef(s string) *string { return &s }

func extractOnline(s *panel.Server) *string {
	switch s.Status {
	case panel.StatusRunning:
		return strRef("Online")
	case panel.StatusStopped:
		return strRef("Offline")
	case panel.StatusStarting:
		return strRef("Starting")
	case panel.StatusStopping:
		return strRef("Stopping")
	default:
		return strRef("Unknown")
	}
}

func extractPlayers(s *panel.Server) *string {
	if s.PlayersOnline == nil {
		return nil
	}
	return strRef(FormatPlayers(*s.PlayersOnline, s.PlayersMax))
}

func extractCPU(s *panel.Server) *string {
	if s.CPUUsage == nil {
		return nil
	}
	return strRef(FormatCPU(*s.CPUUsage))
}

func extractMemory(s *panel.Server) *string {
	if s.MemoryUsage == nil {
		return nil
	}
	return strRef(FormatMemory(*s.MemoryUsage))
}

func extractUptime(s *panel.Server) *string {
	if s.UptimeSeconds == nil {
		return nil
	}
	return strRef(FormatUptime(*s.UptimeSeconds))
}

func extractVersion(s *panel.Server) *string {
	if s.Version == nil {
		return nil
	}
	return strRef(FormatVersion(*s.Version, s.ModLoader))
}

func extractTPS(s *panel.Server) *string {
	if s.TPS == nil {
		return nil
	}
	return strRef(fmt.Sprintf("%.1f", *s.TPS))
}

func extractStorage(s *panel.Server) *string {
	if s.DiskUsed == nil {
		return nil
	}
	return strRef(FormatStorage(*s.DiskUsed, s.DiskTotal))
}

// FormatPlayers renders "on/max", or just the count when capacity is
// unknown.
func FormatPlayers(online int, max *int) string {
	if max == nil {
		return fmt.Sprintf("%d", online)
	}
	return fmt.Sprintf("%d/%d", online, *max)
}

// FormatCPU renders a cpu load percentage.
func FormatCPU(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// FormatMemory renders a memory reading. Panels disagree on the unit: some
// report a percentage, some report megabytes. Values at or below 100 are
// treated as a percentage, anything larger as MB and shown in GB.
func FormatMemory(v float64) string {
	if v <= 100 {
		return fmt.Sprintf("%.1f%%", v)
	}
	return fmt.Sprintf("%.1f GB", v/1024)
}

// FormatUptime renders whole days, hours and minutes, dropping leading
// zero units: "1d 2h 3m", "2h 0m", "5m".
func FormatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if days > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	parts = append(parts, fmt.Sprintf("%dm", minutes))
	return strings.Join(parts, " ")
}

// FormatVersion renders "1.21.4 (Forge)". Vanilla is the assumed default
// and is not repeated.
func FormatVersion(version string, modLoader *string) string {
	if modLoader == nil || *modLoader == "" || *modLoader == "Vanilla" {
		return version
	}
	return fmt.Sprintf("%s (%s)", version, *modLoader)
}

// FormatStorage renders "used / total" in humanized byte units, or just
// the used figure when the total is unknown.
func FormatStorage(used float64, total *float64) string {
	if total == nil {
		return humanBytes(used)
	}
	return fmt.Sprintf("%s / %s", humanBytes(used), humanBytes(*total))
}

func humanBytes(v float64) string {
	switch {
	case v >= 1<<30:
		return fmt.Sprintf("%.1f GB", v/(1<<30))
	case v >= 1<<20:
		return fmt.Sprintf("%.1f MB", v/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.1f KB", v/(1<<10))
	default:
		return fmt.Sprintf("%.0f B", v)
	}
}
