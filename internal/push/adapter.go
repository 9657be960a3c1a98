package push

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/logger"
)

// Event topics published by the backend. The push channel does not replay
// missed events; every reconnect is followed by a resync poll.
const (
	TopicTransactionCreated = "transaction.created"
	TopicTransactionStatus  = "transaction.status"
	TopicStakeUpdated       = "stake.updated"
	TopicRewardsEarned      = "rewards.earned"
	TopicAdminStats         = "admin.stats"
)

const (
	DEFAULT_WORKER_POOL_SIZE  = 8
	DEFAULT_WORKER_QUEUE_SIZE = 1024

	// Reconnect backoff grows exponentially up to this ceiling, then holds
	// there indefinitely until the connection succeeds.
	RECONNECT_BASE_DELAY    = time.Second
	RECONNECT_DELAY_CEILING = 30 * time.Second
)

// fragmentTopics lists the topics whose payloads are TrackedItem fragments
var fragmentTopics = []string{
	TopicTransactionCreated,
	TopicTransactionStatus,
	TopicStakeUpdated,
	TopicRewardsEarned,
}

// Config holds the configuration for the push adapter
type Config struct {
	URL             string
	ConnectionName  string
	MaxReconnects   int // -1 retries forever
	WorkerPoolSize  int
	WorkerQueueSize int
}

// Sink accepts fragments for reconciliation
type Sink interface {
	Enqueue(ctx context.Context, frag *domain.Fragment) error
}

// Signals carries the adapter's outbound callbacks: connection state and
// event freshness feed the health monitor, Resync asks for an immediate
// poll snapshot after a reconnect, AdminStats forwards backend-computed
// aggregate fragments.
type Signals struct {
	Connected  func(bool)
	Event      func()
	Resync     func()
	AdminStats func(domain.AggregateSnapshot)
}

// Adapter maintains one logical subscription to the backend's push topics
// and turns incoming payloads into reconciler fragments.
type Adapter struct {
	config Config
	nats   adapter.Nats
	json   adapter.JSON
	clock  adapter.Clock
	sink   Sink
	signal Signals

	conn    adapter.NatsConn
	pool    pond.Pool
	running atomic.Bool
}

// NewAdapter creates a push adapter
func NewAdapter(cfg Config, natsConnector adapter.Nats, jsonAdapter adapter.JSON, clock adapter.Clock, sink Sink, signals Signals) *Adapter {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DEFAULT_WORKER_POOL_SIZE
	}
	if cfg.WorkerQueueSize <= 0 {
		cfg.WorkerQueueSize = DEFAULT_WORKER_QUEUE_SIZE
	}
	return &Adapter{
		config: cfg,
		nats:   natsConnector,
		json:   jsonAdapter,
		clock:  clock,
		sink:   sink,
		signal: signals,
	}
}

// Run connects, subscribes to all topics and blocks until the context is
// cancelled. Reconnects are handled by the connection with exponential
// backoff held at the ceiling; subscriptions survive reconnects.
func (a *Adapter) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("push adapter already running")
	}
	defer a.running.Store(false)

	a.pool = pond.NewPool(
		a.config.WorkerPoolSize,
		pond.WithQueueSize(a.config.WorkerQueueSize),
		pond.WithContext(ctx),
	)
	defer a.pool.StopAndWait()

	opts := []nats.Option{
		nats.Name(a.config.ConnectionName),
		nats.MaxReconnects(a.config.MaxReconnects),
		nats.CustomReconnectDelay(reconnectDelay),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Push channel disconnected"))
			} else {
				logger.Info("Push channel disconnected")
			}
			a.notifyConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Push channel reconnected", zap.String("url", nc.ConnectedUrl()))
			a.notifyConnected(true)
			// The push channel does not replay missed events; ask for a
			// fresh snapshot immediately.
			if a.signal.Resync != nil {
				a.signal.Resync()
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("Push channel connection closed")
			a.notifyConnected(false)
		}),
	}

	conn, err := a.connect(ctx, opts)
	if err != nil {
		return err
	}
	a.conn = conn
	a.notifyConnected(true)

	for _, topic := range fragmentTopics {
		if _, err := conn.Subscribe(topic, a.handleFragment(ctx, topic)); err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, domain.ErrSubscriptionFailed)
		}
	}
	if _, err := conn.Subscribe(TopicAdminStats, a.handleAdminStats(ctx)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", TopicAdminStats, domain.ErrSubscriptionFailed)
	}

	logger.InfoCtx(ctx, "Push adapter subscribed",
		zap.Strings("topics", append(append([]string{}, fragmentTopics...), TopicAdminStats)),
		zap.String("url", conn.ConnectedUrl()),
	)

	<-ctx.Done()

	// Drain in-flight messages before closing so no handler fires after
	// the pool stops.
	if err := conn.Drain(); err != nil {
		logger.WarnCtx(ctx, "Failed to drain push connection", zap.Error(err))
		conn.Close()
	}
	a.notifyConnected(false)
	return ctx.Err()
}

// connect dials the push endpoint with exponential backoff up to the
// ceiling, holding there until success or cancellation
func (a *Adapter) connect(ctx context.Context, opts []nats.Option) (adapter.NatsConn, error) {
	delay := RECONNECT_BASE_DELAY
	attempt := 0
	for {
		conn, err := a.nats.Connect(a.config.URL, opts...)
		if err == nil {
			return conn, nil
		}
		attempt++
		logger.WarnCtx(ctx, "Push channel connect failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.clock.After(delay):
		}
		delay *= 2
		if delay > RECONNECT_DELAY_CEILING {
			delay = RECONNECT_DELAY_CEILING
		}
	}
}

// handleFragment returns the message handler for a TrackedItem topic
func (a *Adapter) handleFragment(ctx context.Context, topic string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		data := msg.Data
		a.pool.Submit(func() {
			var frag domain.Fragment
			if err := a.json.Unmarshal(data, &frag); err != nil {
				logger.WarnCtx(ctx, "Dropping undecodable push payload",
					zap.String("topic", topic), zap.Error(err))
				return
			}
			frag.Origin = domain.OriginPush

			a.notifyEvent()
			if err := a.sink.Enqueue(ctx, &frag); err != nil {
				logger.WarnCtx(ctx, "Failed to enqueue push fragment",
					zap.String("topic", topic),
					zap.String("id", frag.ID),
					zap.Error(err))
			}
		})
	}
}

// handleAdminStats returns the message handler for backend-computed
// aggregate snapshots
func (a *Adapter) handleAdminStats(ctx context.Context) nats.MsgHandler {
	return func(msg *nats.Msg) {
		data := msg.Data
		a.pool.Submit(func() {
			var snap domain.AggregateSnapshot
			if err := a.json.Unmarshal(data, &snap); err != nil {
				logger.WarnCtx(ctx, "Dropping undecodable admin stats payload", zap.Error(err))
				return
			}
			a.notifyEvent()
			if a.signal.AdminStats != nil {
				a.signal.AdminStats(snap)
			}
		})
	}
}

func (a *Adapter) notifyConnected(connected bool) {
	if a.signal.Connected != nil {
		a.signal.Connected(connected)
	}
}

func (a *Adapter) notifyEvent() {
	if a.signal.Event != nil {
		a.signal.Event()
	}
}

// reconnectDelay implements exponential backoff for the connection's own
// reconnect loop, capped at the ceiling and held there indefinitely
func reconnectDelay(attempts int) time.Duration {
	delay := RECONNECT_BASE_DELAY << uint(attempts)
	if delay <= 0 || delay > RECONNECT_DELAY_CEILING {
		return RECONNECT_DELAY_CEILING
	}
	return delay
}
