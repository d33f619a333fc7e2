package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/storydesk/internal/domain"
)

// DefaultSubjectPrefix is the subject root for relayed changes. A change to
// a story is published on "storydesk.changes.story".
const DefaultSubjectPrefix = "storydesk.changes"

// Envelope is the wire form of a relayed change.
type Envelope struct {
	Node      string        `json:"node"`
	Change    domain.Change `json:"change"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
}

const envelopeVersion = "1"

// Connect dials NATS with reconnects that never give up, logging connection
// state changes.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS connection lost", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// publishConn is the part of *nats.Conn the publisher needs.
type publishConn interface {
	Publish(subject string, data []byte) error
}

// Publisher is an Observer that relays local changes to other nodes.
// Changes that arrived from NATS are not published again.
type Publisher struct {
	conn   publishConn
	prefix string
	node   string
	now    func() time.Time
}

// NewPublisher creates a Publisher for node using conn.
func NewPublisher(conn publishConn, prefix, node string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, node: node, now: time.Now}
}

// Name implements Observer.
func (p *Publisher) Name() string { return "nats" }

// Refresh implements Observer.
func (p *Publisher) Refresh(_ context.Context, changes []domain.Change) error {
	for _, c := range changes {
		if c.Origin != "" {
			continue
		}
		data, err := json.Marshal(Envelope{Node: p.node, Change: c, Timestamp: p.now().UTC(), Version: envelopeVersion})
		if err != nil {
			return fmt.Errorf("encode change %s: %w", c.Key(), err)
		}
		if err := p.conn.Publish(p.prefix+"."+string(c.Entity), data); err != nil {
			return fmt.Errorf("publish change %s: %w", c.Key(), err)
		}
	}
	return nil
}

// Relay injects changes published by other nodes into a local bus.
type Relay struct {
	bus    *Bus
	node   string
	logger *slog.Logger
}

// NewRelay creates a Relay for node. Messages from node itself are ignored.
func NewRelay(b *Bus, node string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{bus: b, node: node, logger: logger.With("component", "relay")}
}

// Subscribe listens on every entity subject under prefix.
func (r *Relay) Subscribe(nc *nats.Conn, prefix string) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	sub, err := nc.Subscribe(prefix+".>", r.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", prefix, err)
	}
	return sub, nil
}

// Handle is the NATS message handler.
func (r *Relay) Handle(msg *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn("dropping malformed change", "subject", msg.Subject, "error", err)
		return
	}
	if env.Node == r.node {
		return
	}
	if env.Change.Entity == "" || env.Change.ID == "" {
		r.logger.Warn("dropping change without identity", "subject", msg.Subject, "node", env.Node)
		return
	}
	c := env.Change
	c.Origin = env.Node
	r.bus.Notify(c)
}
