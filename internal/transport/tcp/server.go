package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Server accepts TCP connections and runs a Conn for each of them.
type Server struct {
	listener   net.Listener
	dispatcher Dispatcher
	opts       Options
	log        *zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
	conns    map[*Conn]struct{}
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string, d Dispatcher, opts Options, logger *zerolog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewServer(l, d, opts, logger), nil
}

// NewServer wraps an existing listener.
func NewServer(l net.Listener, d Dispatcher, opts Options, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		listener:   l,
		dispatcher: d,
		opts:       opts.withDefaults(),
		log:        logger,
		conns:      make(map[*Conn]struct{}),
	}
}

// Serve accepts connections until ctx is canceled or Close is called, then
// closes every open connection and waits for their handlers. A clean
// shutdown returns nil.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info().Str("addr", s.listener.Addr().String()).Msg("tcp server started")

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if s.isShutdown() {
				s.drain()
				s.log.Info().Str("addr", s.listener.Addr().String()).Msg("tcp server stopped")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept error")
			s.drain()
			return fmt.Errorf("accept: %w", err)
		}

		if tcpConn, ok := raw.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		conn := newConn(raw, s.dispatcher, s.opts, s.log)
		conn.log.Debug().Msg("accepted connection")
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			_ = conn.Run(ctx)
		}()
	}
}

// Close stops accepting connections. Serve then tears down open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// drain closes open connections, including ones still in the handshake,
// and waits for their handlers to return.
func (s *Server) drain() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
