package server

import (
	"context"
	"fmt"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
)

// pollInterval is how often the two push-less transports (native, http)
// re-check tip height and watched-address status in lieu of a
// persistent notification socket.
const pollInterval = 10 * time.Second

// New constructs the Client selected by cfg.Transport, connecting (and
// for the push-capable jsonrpc transport, starting its reconnect loop)
// before returning.
func New(ctx context.Context, cfg config.Config) (Client, error) {
	switch cfg.Transport {
	case config.TransportNative:
		c := NewNativeClient(cfg)
		c.StartPolling(ctx, pollInterval)
		return c, nil
	case config.TransportJSONRPC:
		return NewJSONRPCClient(ctx, cfg)
	case config.TransportHTTP:
		c := NewHTTPClient(cfg)
		c.StartPolling(ctx, pollInterval)
		return c, nil
	default:
		return nil, fmt.Errorf("server: unknown transport kind %q", cfg.Transport)
	}
}
