package persistence

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spec-kit/patient-inbox/internal/config"
)

// NATS wraps the connection shared by the outbound sender and the event forwarder.
type NATS struct {
	Conn *nats.Conn
}

// NewNATS connects when a URL is configured; otherwise it returns an empty wrapper.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if !cfg.Enabled() {
		logger.Warn("NATS_URL not provided; using log sender and skipping event forwarding")
		return &NATS{}, nil
	}

	opts := []nats.Option{
		nats.Name("patient-inbox"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(10 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from nats", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to nats", zap.String("url", conn.ConnectedUrl()))
	return &NATS{Conn: conn}, nil
}

// Enabled reports whether a connection was opened.
func (n *NATS) Enabled() bool {
	return n != nil && n.Conn != nil
}

// Ping reports whether the connection is currently up.
func (n *NATS) Ping() error {
	if !n.Enabled() {
		return errors.New("nats not configured")
	}
	if !n.Conn.IsConnected() {
		return errors.New("nats disconnected")
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	if n.Enabled() {
		_ = n.Conn.Drain()
	}
}
