// Package tcp serves the scopechat protocol over raw TCP streams.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/scopechat-server/internal/core"
	"github.com/vovakirdan/scopechat-server/internal/proto"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBufferFull is returned when the outbound queue cannot take another
	// frame; the frame is dropped for this peer only.
	ErrBufferFull = errors.New("send buffer full")
)

// Dispatcher is the slice of the router a connection talks to.
type Dispatcher interface {
	Register(c *core.Client) error
	Submit(ctx context.Context, c *core.Client, env proto.Envelope)
	Deregister(c *core.Client, reason error)
}

// Options tunes connection handling.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendQueueSize    int
	MaxFrameSize     int
	MaxNameLength    int
	ReadBufferSize   int
}

const (
	defaultSendQueueSize  = 64
	defaultMaxFrameSize   = 4 << 20
	defaultMaxNameLength  = 64
	defaultReadBufferSize = 4096
)

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = defaultMaxFrameSize
	}
	if o.MaxNameLength <= 0 {
		o.MaxNameLength = defaultMaxNameLength
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = defaultReadBufferSize
	}
	return o
}

// Conn is one client's transport: it performs the handshake, feeds inbound
// bytes through a Reassembler to the dispatcher and drains outbound frames.
type Conn struct {
	id         string
	raw        net.Conn
	dispatcher Dispatcher
	opts       Options
	log        zerolog.Logger

	sendMsg   chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(raw net.Conn, d Dispatcher, opts Options, logger *zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:         id,
		raw:        raw,
		dispatcher: d,
		opts:       opts,
		log:        logger.With().Str("conn_id", id).Str("addr", raw.RemoteAddr().String()).Logger(),
		sendMsg:    make(chan []byte, opts.SendQueueSize),
		done:       make(chan struct{}),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote address.
func (c *Conn) Addr() string {
	return c.raw.RemoteAddr().String()
}

// Run handles the connection until the peer leaves, a malformed frame
// arrives, the connection is closed or ctx is canceled. The returned error
// is nil for ordinary disconnects.
func (c *Conn) Run(ctx context.Context) error {
	defer c.Close()

	name, err := c.handshake()
	if err != nil {
		c.log.Warn().Err(err).Msg("handshake failed")
		return err
	}

	client := core.NewClient(c.id, name, c.Addr(), c)
	if err := c.dispatcher.Register(client); err != nil {
		c.log.Warn().Err(err).Str("client", name).Msg("registration rejected")
		return err
	}

	group, child := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.readLoop(child, client)
	})
	group.Go(func() error {
		return c.writeLoop(child)
	})
	group.Go(func() error {
		select {
		case <-child.Done():
		case <-c.done:
		}
		_ = c.Close()
		return nil
	})

	reason := disconnectReason(group.Wait())
	c.dispatcher.Deregister(client, reason)
	return reason
}

func (c *Conn) handshake() (string, error) {
	if t := c.opts.HandshakeTimeout; t > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(t))
	}
	name, err := proto.ReadHandshake(c.raw, c.opts.MaxNameLength)
	_ = c.raw.SetReadDeadline(time.Time{})
	if err != nil {
		return "", fmt.Errorf("handshake: %w", err)
	}
	return name, nil
}

// readLoop never returns nil so that a peer hang-up cancels the group.
func (c *Conn) readLoop(ctx context.Context, client *core.Client) error {
	reasm := proto.NewReassembler(c.opts.MaxFrameSize)
	buf := make([]byte, c.opts.ReadBufferSize)

	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			envs, ferr := reasm.Feed(buf[:n])
			for _, env := range envs {
				c.dispatcher.Submit(ctx, client, env)
			}
			if ferr != nil {
				c.log.Warn().Err(ferr).Str("client", client.Name).Msg("closing connection on malformed frame")
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case data := <-c.sendMsg:
			if t := c.opts.WriteTimeout; t > 0 {
				_ = c.raw.SetWriteDeadline(time.Now().Add(t))
			}
			if _, err := c.raw.Write(data); err != nil {
				c.log.Debug().Err(err).Msg("write error")
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// Send implements core.Conn. It never blocks: when the queue is full the
// message is dropped for this peer and ErrBufferFull is returned.
func (c *Conn) Send(msg proto.ChatMessage) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := proto.Encode(proto.MessageEnvelope(msg))
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close closes the transport. Safe to call multiple times and from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// disconnectReason keeps only errors that say something about the peer;
// hang-ups, local closes and cancellation map to nil.
func disconnectReason(err error) error {
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}
