// Package gateway defines the contract every Fokal entry point implements.
// The serve command treats gateways uniformly: each runs in its own
// goroutine and is stopped in reverse order on shutdown.
package gateway

import "context"

// Gateway is one way requests reach the action pipeline, either the
// interactive CLI or the studio-facing HTTP API.
type Gateway interface {
	// Name identifies the gateway in logs ("cli", "http").
	Name() string

	// Start runs the gateway until it exits on its own or the context is
	// canceled. A nil return means a clean exit.
	Start(ctx context.Context) error

	// Stop drains in-flight requests and shuts the gateway down. The
	// context deadline bounds the grace period.
	Stop(ctx context.Context) error
}
