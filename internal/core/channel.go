package core

import (
	"sync"

	"github.com/vovakirdan/scopechat-server/internal/auth"
	"github.com/vovakirdan/scopechat-server/internal/proto"
	"github.com/vovakirdan/scopechat-server/internal/script"
)

// Channel groups clients subscribed to the same name and owns the
// execution scope that injected code runs in.
type Channel struct {
	Name  string
	Scope script.Scope

	// passwordHash is fixed at construction; empty means open.
	passwordHash string

	mu      sync.RWMutex
	members map[*Client]struct{}
}

// NewChannel constructs a channel protected by password (empty for none).
func NewChannel(name, password string, scope script.Scope) (*Channel, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return restoreChannel(name, hash, scope), nil
}

// restoreChannel builds a channel from an already hashed password.
func restoreChannel(name, passwordHash string, scope script.Scope) *Channel {
	return &Channel{
		Name:         name,
		Scope:        scope,
		passwordHash: passwordHash,
		members:      make(map[*Client]struct{}),
	}
}

// PasswordHash returns the stored bcrypt hash, empty for open channels.
func (ch *Channel) PasswordHash() string {
	return ch.passwordHash
}

// Protected reports whether joining requires a password.
func (ch *Channel) Protected() bool {
	return ch.passwordHash != ""
}

// CheckPassword reports whether password would be accepted by Join.
func (ch *Channel) CheckPassword(password string) bool {
	return auth.CheckPassword(ch.passwordHash, password)
}

// Join adds c if password matches. A wrong password never changes membership.
func (ch *Channel) Join(c *Client, password string) error {
	if !ch.CheckPassword(password) {
		return ErrWrongPassword
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	// Checked under the lock so a concurrent kick cannot be undone.
	if c.Kicked() {
		return ErrClientGone
	}
	if _, exists := ch.members[c]; exists {
		return ErrAlreadyJoined
	}
	ch.members[c] = struct{}{}
	return nil
}

// Leave removes c. Returns ErrNotInChannel if c was not a member.
func (ch *Channel) Leave(c *Client) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, exists := ch.members[c]; !exists {
		return ErrNotInChannel
	}
	delete(ch.members, c)
	return nil
}

// IsMember reports whether c is currently subscribed.
func (ch *Channel) IsMember(c *Client) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.members[c]
	return ok
}

// Members returns a snapshot of the membership set.
func (ch *Channel) Members() []*Client {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	out := make([]*Client, 0, len(ch.members))
	for c := range ch.members {
		out = append(out, c)
	}
	return out
}

// Len returns the number of members.
func (ch *Channel) Len() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// Broadcast delivers msg to the membership as of the snapshot. Returns how
// many members accepted it and how many were dropped (slow or gone).
func (ch *Channel) Broadcast(msg proto.ChatMessage) (delivered, dropped int) {
	for _, c := range ch.Members() {
		if err := c.Send(msg); err != nil {
			dropped++
			continue
		}
		delivered++
	}
	return delivered, dropped
}
