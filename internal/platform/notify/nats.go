package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const publishFlushTimeout = 5 * time.Second

// NATSNotifier publishes events to a NATS subject.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSNotifier connects to the broker. The connection reconnects
// indefinitely; publishes during an outage fail and are handled by the
// caller's retry policy.
func NewNATSNotifier(url, subject string, logger zerolog.Logger) (*NATSNotifier, error) {
	log := logger.With().Str("component", "notifier").Logger()

	conn, err := nats.Connect(url,
		nats.Name("medgate-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from broker")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to broker")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("broker connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	return &NATSNotifier{conn: conn, subject: subject, logger: log}, nil
}

// NotifyWorkflowRequest publishes the event and flushes so delivery failures
// surface to the caller.
func (n *NATSNotifier) NotifyWorkflowRequest(ctx context.Context, ev WorkflowRequestEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal workflow request event: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish workflow request: %w", err)
	}
	if err := n.conn.FlushTimeout(publishFlushTimeout); err != nil {
		return fmt.Errorf("flush workflow request: %w", err)
	}

	n.logger.Info().
		Str("subject", n.subject).
		Str("payload_id", ev.PayloadID.String()).
		Int("files", ev.FileCount).
		Msg("workflow request published")
	return nil
}

// Close drains the connection so queued publishes are delivered.
func (n *NATSNotifier) Close() {
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn().Err(err).Msg("drain failed, closing connection")
		n.conn.Close()
	}
}
