// Package coordination provides the mutual exclusion that keeps exactly one
// scheduler process firing schedules and reclaiming orphans at a time.
package coordination

import (
	"context"
)

// Coordinator hands out leader elections.
type Coordinator interface {
	// NewElection creates an election instance for a named campaign.
	NewElection(name string) Election

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign blocks until leadership is acquired or an error occurs.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}
