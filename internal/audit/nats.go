package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/presenced/internal/config"
)

const defaultSubject = "presenced.audit"

// NATSMirror publishes audit records to a NATS subject so fleet tooling can
// consume attendance activity without polling desktops. Delivery is
// fire-and-forget: the durable record of truth stays in SQLite.
type NATSMirror struct {
	conn    *nats.Conn
	subject string
}

// NewNATSMirror connects to the configured NATS server.
func NewNATSMirror(cfg *config.NATSConfig) (*NATSMirror, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("audit NATS mirror is disabled")
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}

	slog.Info("Audit NATS mirror connected", "url", cfg.URL, "subject", subject)
	return &NATSMirror{conn: conn, subject: subject}, nil
}

// Publish sends one record to the configured subject.
func (m *NATSMirror) Publish(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := m.conn.Publish(m.subject, data); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (m *NATSMirror) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
