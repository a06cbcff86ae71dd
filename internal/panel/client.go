package panel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Client bundles both protocol adapters and the detector. Adapter selection
// happens once per tenant (at setup) and the result is persisted; per-call
// dispatch is a plain map lookup on the stored protocol kind.
type Client struct {
	connect *ConnectAdapter
	rest    *RestAdapter
	logger  *zap.Logger
}

// NewClient creates a client whose adapters share one request timeout.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		connect: NewConnectAdapter(timeout, logger.Named("connect")),
		rest:    NewRestAdapter(timeout, logger.Named("rest")),
		logger:  logger,
	}
}

// Adapter returns the adapter for a stored protocol kind. ProtocolAuto
// falls back to connect, mirroring the detection order.
func (c *Client) Adapter(p Protocol) Adapter {
	if p == ProtocolRest {
		return c.rest
	}
	return c.connect
}

// Detect probes the panel with both protocols in a fixed order: connect
// first, then rest. The first successful authentication wins and its
// protocol kind should be persisted so later calls skip detection. When
// both fail the combined error is a single ErrAuth; the per-attempt
// failures are only logged.
func (c *Client) Detect(ctx context.Context, url, username, password string) (AuthResult, error) {
	result, err := c.connect.Authenticate(ctx, url, username, password)
	if err == nil {
		c.logger.Info("panel speaks the connect protocol", zap.String("url", url))
		return result, nil
	}
	c.logger.Debug("connect protocol probe failed", zap.String("url", url), zap.Error(err))

	result, err = c.rest.Authenticate(ctx, url, username, password)
	if err == nil {
		c.logger.Info("panel speaks the rest protocol", zap.String("url", url))
		return result, nil
	}
	c.logger.Debug("rest protocol probe failed", zap.String("url", url), zap.Error(err))

	return AuthResult{}, fmt.Errorf("%w: neither the connect nor the rest protocol responded; verify the panel URL and credentials", ErrAuth)
}
