package store

import (
	"context"
	"time"
)

// Channel is a persisted channel definition. Membership and execution scope
// are runtime state and are never stored.
type Channel struct {
	Name         string
	PasswordHash string // empty for open channels
	CreatedAt    time.Time
}

// ChannelStore persists channel definitions across restarts.
type ChannelStore interface {
	// SaveChannel records a channel. Saving a name that already exists is a
	// no-op: the first definition wins. Returns true if the row was inserted.
	SaveChannel(ctx context.Context, name, passwordHash string) (bool, error)

	// ListChannels returns all stored channels ordered by creation.
	ListChannels(ctx context.Context) ([]Channel, error)

	// Close releases the underlying resources.
	Close() error
}
