package panel

import "errors"

// Error taxonomy for panel calls. Callers classify with errors.Is; the
// concrete network or HTTP detail is carried by wrapping.
var (
	// ErrAuth is returned on a 401-equivalent response or rejected
	// credentials. The session manager reinterprets it into one
	// refresh-and-retry before surfacing it.
	ErrAuth = errors.New("panel authentication failed")

	// ErrTimeout is returned when a request deadline expires. Transient;
	// safe to retry on a later tick.
	ErrTimeout = errors.New("panel request timed out")

	// ErrConnection covers every other transport or HTTP failure.
	ErrConnection = errors.New("panel connection failed")

	// ErrServerNotFound is the authoritative "gone" signal that drives
	// unpinning.
	ErrServerNotFound = errors.New("server not found on panel")

	// ErrNotConfigured means no panel has been set up for the tenant.
	ErrNotConfigured = errors.New("panel is not configured for this tenant")
)
