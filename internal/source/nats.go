package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"crm-forwarder/internal/config"
	"crm-forwarder/internal/models"
)

// NATSSource consumes change events published by the CRM dispatcher on a
// NATS subject. This is the inbound trigger when the forwarder runs outside
// the platform's own plugin host.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Logger
}

// NewNATSSource connects to NATS.
func NewNATSSource(cfg config.NATSConfig, logger *logrus.Logger) (*NATSSource, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", cfg.URL)

	return &NATSSource{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Run subscribes and hands each decoded event to emit until the context is
// cancelled. Messages that do not decode are logged and dropped.
func (s *NATSSource) Run(ctx context.Context, emit func(*models.ChangeEvent)) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		var event models.ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Errorf("Failed to decode change event: %v", err)
			return
		}
		emit(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	s.logger.Infof("Listening for change events on %s", s.subject)
	<-ctx.Done()
	return nil
}

// Close closes the NATS connection.
func (s *NATSSource) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
