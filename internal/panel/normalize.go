package panel

import (
	"strconv"
	"strings"
	"time"
)

// modLoaderLabels maps provider identifiers (after prefix stripping) to
// human labels. Unknown identifiers pass through with the prefix stripped.
var modLoaderLabels = map[string]string{
	"AUTO_CURSEFORGE": "CurseForge",
	"FORGE":           "Forge",
	"FABRIC":          "Fabric",
	"NEOFORGE":        "NeoForge",
	"PAPER":           "Paper",
	"SPIGOT":          "Spigot",
	"VANILLA":         "Vanilla",
	"QUILT":           "Quilt",
}

// normalizeStatus case-folds a raw status string, stripping an optional
// protocol-specific prefix first. Anything outside the canonical set
// becomes StatusUnknown.
func normalizeStatus(raw, prefix string) Status {
	cleaned := raw
	if prefix != "" && len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
		cleaned = raw[len(prefix):]
	}
	switch strings.ToLower(cleaned) {
	case "running", "online":
		return StatusRunning
	case "stopped", "offline":
		return StatusStopped
	case "starting":
		return StatusStarting
	case "stopping":
		return StatusStopping
	default:
		return StatusUnknown
	}
}

// normalizeModLoader strips the MOD_LOADER_ prefix and maps the identifier
// to its display label.
func normalizeModLoader(raw *string) *string {
	if raw == nil || *raw == "" {
		return nil
	}
	cleaned := *raw
	const prefix = "MOD_LOADER_"
	if len(cleaned) >= len(prefix) && strings.EqualFold(cleaned[:len(prefix)], prefix) {
		cleaned = cleaned[len(prefix):]
	}
	if label, ok := modLoaderLabels[strings.ToUpper(cleaned)]; ok {
		return &label
	}
	return &cleaned
}

// uptimeSince derives whole seconds of uptime from a "last started"
// timestamp. An unparseable timestamp or a start time in the future yields
// nil, never a negative value.
func uptimeSince(lastStarted *string, now time.Time) *int64 {
	if lastStarted == nil || *lastStarted == "" {
		return nil
	}
	started, err := parseTimestamp(*lastStarted)
	if err != nil {
		return nil
	}
	seconds := int64(now.Sub(started) / time.Second)
	if seconds < 0 {
		return nil
	}
	return &seconds
}

func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	// Bare epoch seconds, which some panel builds emit.
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, strconv.ErrSyntax
}

// parseFloat returns nil when the string is empty or not a number.
func parseFloat(v *string) *float64 {
	if v == nil || *v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*v), 64)
	if err != nil {
		return nil
	}
	return &f
}

// firstInt returns the first non-nil alias, honoring the source's priority
// order.
func firstInt(candidates ...*int) *int {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstFloat(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstString(candidates ...*string) *string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return c
		}
	}
	return nil
}
