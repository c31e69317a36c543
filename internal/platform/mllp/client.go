package mllp

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/hl7v2"
)

// Result summarizes a finished session. Messages holds every unit that was
// parsed and acknowledged, in arrival order.
type Result struct {
	Messages []*hl7v2.Message
	Errors   []error
	Clean    bool
}

// DisconnectFunc is called exactly once when a session ends, whether the peer
// closed, the idle timeout fired, or the server shut down.
type DisconnectFunc func(clientID uuid.UUID, remoteAddr string, result Result)

// Client is a single clinical-message session on an accepted connection.
type Client struct {
	id     uuid.UUID
	conn   net.Conn
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	messages []*hl7v2.Message
	errs     []error

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn net.Conn, cfg Config, logger zerolog.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("client_id", id.String()).Str("remote", conn.RemoteAddr().String()).Logger(),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier, which is also the payload bucket key for
// every message received on this connection.
func (c *Client) ID() uuid.UUID { return c.id }

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// run reads MLLP frames until the peer disconnects, the idle timeout fires,
// or the server stops. It always ends by invoking onDisconnect exactly once.
func (c *Client) run(onDisconnect DisconnectFunc) {
	clean := true
	consecutiveErrs := 0

	buf := make([]byte, 0, c.cfg.BufferSize)
	readBuf := make([]byte, c.cfg.BufferSize)

loop:
	for {
		select {
		case <-c.done:
			break loop
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		n, err := c.conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			if len(buf) > c.cfg.MaxMessageSize {
				c.recordError(errMessageTooLarge)
				c.logger.Warn().Int("buffered", len(buf)).Msg("message exceeds maximum size, closing session")
				clean = false
				break loop
			}

			for {
				raw, rest, found := hl7v2.UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest

				if ok := c.handleFrame(raw); ok {
					consecutiveErrs = 0
					continue
				}

				clean = false
				consecutiveErrs++
				if consecutiveErrs >= c.cfg.MaxProtocolErrors {
					c.logger.Warn().Int("errors", consecutiveErrs).Msg("too many consecutive protocol errors, closing session")
					break loop
				}
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.logger.Debug().Msg("session idle timeout")
				break loop
			}
			// EOF or reset: the peer is gone.
			break loop
		}
	}

	if len(buf) > 0 {
		// A partial frame at disconnect is dropped, never dispatched.
		c.logger.Warn().Int("bytes", len(buf)).Msg("discarding partial frame at disconnect")
		clean = false
	}

	c.Close()

	c.mu.Lock()
	result := Result{
		Messages: c.messages,
		Errors:   c.errs,
		Clean:    clean && len(c.errs) == 0,
	}
	c.mu.Unlock()

	c.logger.Info().Int("messages", len(result.Messages)).Bool("clean", result.Clean).Msg("session ended")
	onDisconnect(c.id, c.conn.RemoteAddr().String(), result)
}

// handleFrame parses one unframed message, replies with an ACK or NAK, and
// reports whether the frame was accepted.
func (c *Client) handleFrame(raw []byte) bool {
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		c.recordError(err)
		c.logger.Warn().Err(err).Msg("rejecting unparsable message")
		c.reply(hl7v2.GenerateNAK(hl7v2.AckCodeError))
		return false
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	c.logger.Debug().Str("type", msg.Type).Str("control_id", msg.ControlID).Msg("message received")
	c.reply(hl7v2.GenerateACK(msg, hl7v2.AckCodeAccept))
	return true
}

func (c *Client) reply(ack *hl7v2.Message) {
	framed := hl7v2.FrameMessage(hl7v2.SerializeMessage(ack))
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(framed); err != nil {
		c.recordError(err)
		c.logger.Warn().Err(err).Msg("failed to write acknowledgment")
	}
}

func (c *Client) recordError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}
