// Package mllp accepts MLLP/TCP connections carrying HL7v2 messages. Each
// accepted connection becomes a Client session goroutine; its collected
// messages are handed to the disconnect callback when the session ends.
package mllp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errMessageTooLarge = errors.New("mllp: message exceeds maximum size")

// Config carries the listener and session settings.
type Config struct {
	Addr              string
	MaxConnections    int
	IdleTimeout       time.Duration
	BufferSize        int
	MaxMessageSize    int
	MaxProtocolErrors int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 10240
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	if c.MaxProtocolErrors <= 0 {
		c.MaxProtocolErrors = 5
	}
	return c
}

// Server listens for clinical-message connections.
type Server struct {
	cfg          Config
	logger       zerolog.Logger
	onDisconnect DisconnectFunc

	listener net.Listener
	mu       sync.Mutex
	clients  map[uuid.UUID]*Client
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server that dispatches finished sessions to onDisconnect.
func NewServer(cfg Config, logger zerolog.Logger, onDisconnect DisconnectFunc) *Server {
	return &Server{
		cfg:          cfg.withDefaults(),
		logger:       logger.With().Str("component", "mllp").Logger(),
		onDisconnect: onDisconnect,
		clients:      make(map[uuid.UUID]*Client),
		done:         make(chan struct{}),
	}
}

// Start begins listening for connections. It is non-blocking: the accept loop
// runs in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mllp: failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for HL7 connections")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Stop closes the listener, ends every active session, and waits for all
// session goroutines to finish. Sessions still deliver their disconnect
// callbacks before Stop returns.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			err = s.listener.Close()
		}

		s.mu.Lock()
		for _, client := range s.clients {
			client.Close()
		}
		s.mu.Unlock()
	})

	s.wg.Wait()
	return err
}

// Addr returns the listener address string. This is especially useful when the
// server was started with port 0 (OS-assigned port).
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// ActiveConnections reports the number of sessions currently open.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) acceptLoop() {
	for {
		if !s.waitUntilAvailable() {
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error().Err(err).Msg("accept error")
			return
		}

		client := newClient(conn, s.cfg, s.logger)
		s.track(client, true)
		s.logger.Info().Str("client_id", client.ID().String()).Str("remote", conn.RemoteAddr().String()).Msg("client connected")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(client, false)
			client.run(s.onDisconnect)
		}()
	}
}

// waitUntilAvailable blocks new accepts while the connection limit is
// reached. It returns false when the server is shutting down.
func (s *Server) waitUntilAvailable() bool {
	waited := 0
	for s.ActiveConnections() >= s.cfg.MaxConnections {
		if waited%25 == 0 {
			s.logger.Warn().Int("max", s.cfg.MaxConnections).Msg("connection limit reached, holding new connections")
		}
		waited++
		select {
		case <-s.done:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Server) track(client *Client, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.clients[client.ID()] = client
	} else {
		delete(s.clients, client.ID())
	}
}
