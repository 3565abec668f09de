package core

import (
	"sync/atomic"

	"github.com/vovakirdan/scopechat-server/internal/proto"
)

// Conn is the outbound side of a connected peer.
type Conn interface {
	// Send queues a chat message for delivery. It must not block.
	Send(msg proto.ChatMessage) error
	// Close tears down the transport. Safe to call more than once.
	Close() error
}

// Client is a chat participant as seen by the core layer.
type Client struct {
	ID   string
	Name string
	Addr string

	conn   Conn
	kicked atomic.Bool
}

// NewClient binds a registered name to a transport.
func NewClient(id, name, addr string, conn Conn) *Client {
	return &Client{
		ID:   id,
		Name: name,
		Addr: addr,
		conn: conn,
	}
}

// Send delivers msg to the client's transport.
func (c *Client) Send(msg proto.ChatMessage) error {
	if c.kicked.Load() {
		return ErrClientGone
	}
	return c.conn.Send(msg)
}

// Kicked reports whether the client has been removed from the server.
func (c *Client) Kicked() bool {
	return c.kicked.Load()
}
