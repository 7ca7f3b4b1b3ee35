// Package notify forwards data-change events from the served address space
// to NATS subjects, one subject per point, so downstream consumers can react
// to point updates without holding an OPC UA session of their own.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/opcbridge/opcua"
)

// DefaultSubjectPrefix is the subject root used when none is configured.
const DefaultSubjectPrefix = "opcbridge.points"

// Conn is the slice of the NATS connection the publisher uses. Satisfied by
// *nats.Conn.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Config holds the publisher settings.
type Config struct {
	// SubjectPrefix roots every published subject. The browse name of the
	// changed node is appended as the final token.
	SubjectPrefix string
}

// Publisher forwards change events to NATS. Publishing is fire-and-forget:
// it runs on the address-space delivery path and must never block it, so a
// failed publish is logged and dropped.
type Publisher struct {
	prefix string
	conn   Conn
	logger *slog.Logger
}

// New builds a Publisher. A nil conn yields a disabled publisher whose
// Publish is a no-op, so callers need not branch on whether NATS is
// configured.
func New(cfg Config, conn Conn, logger *slog.Logger) *Publisher {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{prefix: prefix, conn: conn, logger: logger}
}

// Enabled reports whether events will actually be published.
func (p *Publisher) Enabled() bool { return p.conn != nil }

// Publish forwards one change event. Never blocks and never returns an error
// to the delivery path.
func (p *Publisher) Publish(ev opcua.ChangeEvent) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("drop change event: marshal failed", "node", ev.NodeID.String(), "error", err)
		return
	}

	subject := p.subjectFor(ev.BrowseName)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("drop change event: publish failed", "subject", subject, "error", err)
	}
}

// Attach registers the publisher on the server's data-change hook.
func (p *Publisher) Attach(srv *opcua.Server) {
	srv.Watch(p.Publish)
}

// subjectFor maps a browse name onto a valid NATS subject token.
func (p *Publisher) subjectFor(browseName string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '_'
		default:
			return r
		}
	}, browseName)
	if token == "" {
		token = "unnamed"
	}
	return p.prefix + "." + token
}

// Connect dials NATS with the reconnect behavior a long-running bridge wants.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("opcbridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
