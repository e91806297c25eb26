// Package notify alerts the human team when a conversation is escalated.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Alert is the payload published for an escalation.
type Alert struct {
	EscalationID   string    `json:"escalation_id"`
	ConversationID string    `json:"conversation_id"`
	WorkspaceID    string    `json:"workspace_id"`
	Topic          string    `json:"topic"`
	Reason         string    `json:"reason"`
	CustomerText   string    `json:"customer_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notifier delivers escalation alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Noop drops every alert. It is used when no broker is configured.
type Noop struct{}

func (Noop) Notify(context.Context, Alert) error { return nil }

// NATS publishes alerts on <prefix>.<workspace>.
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials url and returns a publisher. The connection reconnects
// forever; a broker outage only loses alerts, never cycles.
func Connect(url, prefix string, log *slog.Logger) (*NATS, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "notify")

	nc, err := nats.Connect(url,
		nats.Name("inboxpilot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("NATS error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: nc, prefix: prefix, log: log}, nil
}

// Subject returns the subject alerts of workspaceID are published on.
func Subject(prefix, workspaceID string) string {
	ws := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(workspaceID)
	return strings.TrimSuffix(prefix, ".") + "." + ws
}

func (n *NATS) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	subject := Subject(n.prefix, a.WorkspaceID)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish alert on %s: %w", subject, err)
	}
	n.log.DebugContext(ctx, "Escalation alert published", "subject", subject, "conversation_id", a.ConversationID)
	return nil
}

// Close flushes pending alerts and closes the connection.
func (n *NATS) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.FlushTimeout(2 * time.Second); err != nil {
		n.log.Warn("Error flushing NATS connection", "error", err)
	}
	n.conn.Close()
}
