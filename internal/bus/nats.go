package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// QueueGroup spreads parse jobs across every worker process.
const QueueGroup = "coverage-parser-workers"

const drainTimeout = 30 * time.Second

// NATSBus implements EventBus on NATS core subjects. Subscribers join
// QueueGroup, so a job published once is handled by one worker.
type NATSBus struct {
	mu     sync.Mutex
	conn   *nats.Conn
	subs   map[string]*nats.Subscription
	closed bool
}

type natsSubscription struct {
	bus   *NATSBus
	id    string
	topic string
}

// NewNATSBus connects to cfg.NATSUrl. The initial connect is retried
// NATSMaxReconnects times with a linearly growing pause.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("coverage-parser"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			st := nc.Stats()
			slog.Info("NATS connection closed",
				"in_msgs", st.InMsgs,
				"out_msgs", st.OutMsgs,
				"reconnects", st.Reconnects,
			)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			slog.Error("NATS error", attrs...)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		if conn, err = nats.Connect(cfg.NATSUrl, opts...); err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(time.Duration(attempt) * wait / 2)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)
	return &NATSBus{conn: conn, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish sends the message envelope to the tenant's subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if b.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(newMessage(ctx, tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := b.conn.Publish(subject(tenantID, topic), data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Subscribe joins QueueGroup on the tenant's subject. The handler runs
// on the subscription's delivery goroutine with ctx.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s, err := b.conn.QueueSubscribe(subject(tenantID, topic), QueueGroup, func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping undecodable NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"trace_id", msg.Metadata[MetaTraceID],
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	id := uuid.NewString()
	b.subs[id] = s
	return &natsSubscription{bus: b, id: id, topic: topic}, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains the connection so handlers already running finish, then
// closes it. Drain is bounded by drainTimeout.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain NATS: %w", err)
	}
	return nil
}

func (b *NATSBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// subject prefixes the topic with the tenant, e.g.
// "coverage.tenant-1.coverage.parse.requested".
func subject(tenantID, topic string) string {
	return fmt.Sprintf("coverage.%s.%s", tenantID, topic)
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	sub, ok := s.bus.subs[s.id]
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
