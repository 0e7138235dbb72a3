// Package notify publishes order events to RabbitMQ.
package notify

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/order"
)

// DefaultQueue receives OrderPlaced events.
const DefaultQueue = "orders.placed"

const eventOrderPlaced = "OrderPlaced"

var _ order.Notifier = (*Publisher)(nil)

// Config configures the publisher.
type Config struct {
	URL   string
	Queue string
	// PublishTimeout bounds a single publish. Defaults to 3s.
	PublishTimeout time.Duration
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// channel is the part of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// connector opens a channel with the queue declared. The returned closer
// releases the connection behind it.
type connector func() (channel, io.Closer, error)

var errPublisherClosed = errors.New("publisher closed")

// Publisher sends OrderPlaced events to a durable queue through a circuit
// breaker. A channel closed by the broker is dropped and reopened on the
// next publish the breaker lets through.
type Publisher struct {
	connect connector
	queue   string
	cfg     Config
	cb      *gobreaker.CircuitBreaker[struct{}]
	lg      *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	ch     channel
	conn   io.Closer
	closed bool
}

// Dial connects to RabbitMQ and declares the queue.
func Dial(cfg Config, lg *zap.Logger) (*Publisher, error) {
	cfg.setDefaults()

	p := newPublisher(dialer(cfg), cfg, lg)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialer(cfg Config) connector {
	return func() (channel, io.Closer, error) {
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "dial amqp")
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, errors.Wrap(err, "open channel")
		}
		if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, nil, errors.Wrapf(err, "declare %s", cfg.Queue)
		}
		return ch, conn, nil
	}
}

func newPublisher(connect connector, cfg Config, lg *zap.Logger) *Publisher {
	cfg.setDefaults()
	if lg == nil {
		lg = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "amqp:" + cfg.Queue,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Publisher{
		connect: connect,
		queue:   cfg.Queue,
		cfg:     cfg,
		cb:      cb,
		lg:      lg,
		now:     time.Now,
	}
}

// connectLocked opens a fresh channel and watches it for closure.
func (p *Publisher) connectLocked() error {
	ch, conn, err := p.connect()
	if err != nil {
		return err
	}
	p.ch, p.conn = ch, conn

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go p.watch(ch, closed)
	return nil
}

func (p *Publisher) watch(ch channel, closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	p.lg.Warn("AMQP channel closed",
		zap.String("queue", p.queue),
		zap.Int("code", amqpErr.Code),
		zap.String("reason", amqpErr.Reason),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.dropLocked()
	}
}

// dropLocked forgets the current channel so the next publish reconnects.
func (p *Publisher) dropLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *Publisher) publish(ctx context.Context, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errPublisherClosed
	}
	if p.ch == nil {
		if err := p.connectLocked(); err != nil {
			return errors.Wrap(err, "reconnect")
		}
		p.lg.Info("AMQP channel reopened", zap.String("queue", p.queue))
	}

	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.dropLocked()
	}
	return err
}

// OrderPlaced publishes the event for o. While the breaker is open it
// returns gobreaker.ErrOpenState without touching the broker.
func (p *Publisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	ts := p.now().UTC()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    o.ID,
		Timestamp:    ts,
		Type:         eventOrderPlaced,
		Body:         encodeOrderPlaced(o, ts),
	}

	_, err := p.cb.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
		return struct{}{}, p.publish(ctx, msg)
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", eventOrderPlaced)
	}
	return nil
}

// Close closes the channel and the connection. Later publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	p.ch, p.conn = nil, nil
	return err
}

// encodeOrderPlaced renders the event body. Money is encoded as fixed
// two-decimal strings so consumers never see float rounding.
func encodeOrderPlaced(o *order.Order, ts time.Time) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("eventType", func(e *jx.Encoder) { e.Str(eventOrderPlaced) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		if o.User != nil {
			e.Field("email", func(e *jx.Encoder) { e.Str(o.User.Email) })
			e.Field("name", func(e *jx.Encoder) { e.Str(o.User.Name) })
		}
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.StringFixed(2)) })
		e.Field("discountRate", func(e *jx.Encoder) { e.Str(o.DiscountRate.String()) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		e.Field("tax", func(e *jx.Encoder) { e.Str(o.Tax.StringFixed(2)) })
		e.Field("totalAmount", func(e *jx.Encoder) { e.Str(o.TotalAmount.StringFixed(2)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(it.Product.SKU) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Str(it.Price.StringFixed(2)) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("timestamp", func(e *jx.Encoder) { e.Str(ts.Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
