package health

import (
	"context"
	"fmt"
	"time"
)

// DefaultUpstreamTimeout bounds a single upstream check.
const DefaultUpstreamTimeout = 3 * time.Second

// Pinger is anything that can tell whether a remote service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UpstreamChecker implements health checking for the social API.
type UpstreamChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewUpstreamChecker creates a checker that pings p within timeout.
// timeout <= 0 uses DefaultUpstreamTimeout.
func NewUpstreamChecker(name string, p Pinger, timeout time.Duration) *UpstreamChecker {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &UpstreamChecker{name: name, pinger: p, timeout: timeout}
}

// HealthCheck pings the upstream service.
func (u *UpstreamChecker) HealthCheck(ctx context.Context) error {
	if u.pinger == nil {
		return fmt.Errorf("%s not configured", u.name)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	if err := u.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%s unhealthy: %w", u.name, err)
	}
	return nil
}
