// Package bus publishes alert history events to NATS so other systems can
// follow notifications without polling the store.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mr-karan/promalert/pkg/models"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "promalert.history"

// HistoryEvent is the message body published for every history entry.
type HistoryEvent struct {
	Type    string               `json:"type"`
	SentAt  time.Time            `json:"sent_at"`
	History *models.HistoryEntry `json:"history"`
}

type Options struct {
	URL     string
	Subject string
	Logger  *slog.Logger
}

// Publisher sends history events on a core NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

// NewPublisher connects to NATS. The connection reconnects on its own; a
// failed initial connect is returned.
func NewPublisher(opts Options) (*Publisher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "history_bus")

	subject := opts.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name("promalert"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %q: %w", opts.URL, err)
	}
	return &Publisher{nc: nc, subject: subject, log: logger}, nil
}

// PublishHistory publishes h and flushes so the caller learns about a dead
// connection.
func (p *Publisher) PublishHistory(ctx context.Context, h *models.HistoryEntry) error {
	body, err := json.Marshal(HistoryEvent{Type: "alert.history", SentAt: time.Now().UTC(), History: h})
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = body
	msg.Header.Set("Promalert-Rule-Id", strconv.FormatInt(int64(h.RuleID), 10))
	msg.Header.Set("Nats-Msg-Id", "history-"+strconv.FormatInt(int64(h.ID), 10))

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish history event: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush history event: %w", err)
	}
	p.log.Debug("history event published", "subject", p.subject, "history_id", h.ID)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
