// Package amqp is a change feed over a RabbitMQ topic exchange. Writers
// publish one message per change with the table name as routing key; each
// subscription consumes from its own exclusive, auto-deleted queue.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"fintrack/internal/log"
	"fintrack/internal/store"
)

const (
	maxBackoff = 30 * time.Second
)

type subscription struct {
	handle   store.Handle
	filters  []store.Filter
	onSignal func(store.Signal)
	channel  *amqp091.Channel
	tag      string
}

// Feed implements store.Feed.
type Feed struct {
	url      string
	exchange string
	origin   string
	logger   *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	pub     *amqp091.Channel
	subs    map[string]*subscription
	closed  bool
	closing chan struct{}
}

var _ store.Feed = (*Feed)(nil)

// Dial connects, declares the exchange and starts watching the connection
// so it can be re-established after a broker restart.
func Dial(url, exchange string, logger *log.Logger) (*Feed, error) {
	f := &Feed{
		url:      url,
		exchange: exchange,
		origin:   uuid.NewString(),
		logger:   log.OrNop(logger).WithComponent(log.ComponentAMQP),
		subs:     make(map[string]*subscription),
		closing:  make(chan struct{}),
	}
	if err := f.connect(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Feed) connect() error {
	conn, err := amqp091.Dial(f.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(pub, f.exchange); err != nil {
		conn.Close()
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.pub = pub
	f.mu.Unlock()

	go f.watch(conn.NotifyClose(make(chan *amqp091.Error, 1)))
	return nil
}

func declareExchange(ch *amqp091.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// Publish sends a change to every subscribed process.
func (f *Feed) Publish(ctx context.Context, c store.Change) error {
	body, err := NewChangeMessage(c, f.origin).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f.mu.Lock()
	pub := f.pub
	f.mu.Unlock()
	if pub == nil {
		return errors.New("publish: not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = pub.PublishWithContext(
		ctx,
		f.exchange,      // exchange
		string(c.Table), // routing key
		false,           // mandatory
		false,           // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	f.logger.DebugContext(ctx, "Published change", log.FieldTable, c.Table, log.FieldOperation, c.Op)
	return nil
}

func (f *Feed) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, onSignal func(store.Signal)) (store.Handle, error) {
	if err := ctx.Err(); err != nil {
		return store.Handle{}, err
	}
	sub := &subscription{
		handle:   store.Handle{ID: uuid.NewString(), Table: table, Filter: store.FilterString(filters)},
		filters:  append([]store.Filter(nil), filters...),
		onSignal: onSignal,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return store.Handle{}, errors.New("subscribe: feed closed")
	}
	if err := f.consume(sub); err != nil {
		return store.Handle{}, err
	}
	f.subs[sub.handle.ID] = sub
	f.logger.Debug("Subscription opened", log.FieldTable, table, log.FieldFilter, sub.handle.Filter, log.FieldHandle, sub.handle.ID)
	return sub.handle, nil
}

// consume opens a channel and exclusive queue for sub. Callers hold f.mu.
func (f *Feed) consume(sub *subscription) error {
	if f.conn == nil || f.conn.IsClosed() {
		return errors.New("subscribe: not connected")
	}
	ch, err := f.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, string(sub.handle.Table), f.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	tag := "fintrack-" + sub.handle.ID
	deliveries, err := ch.Consume(
		q.Name, // queue
		tag,    // consumer
		true,   // auto-ack; signals are advisory
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("start consuming: %w", err)
	}
	sub.channel = ch
	sub.tag = tag

	go func() {
		for d := range deliveries {
			f.deliver(sub, d.Body)
		}
	}()
	return nil
}

func (f *Feed) deliver(sub *subscription, body []byte) {
	msg, err := ChangeMessageFromJSON(body)
	if err != nil {
		f.logger.Error("Failed to unmarshal message", log.FieldError, err, log.FieldHandle, sub.handle.ID)
		return
	}
	if msg.Change.Matches(sub.handle.Table, sub.filters) {
		sub.onSignal(store.Signal{Table: sub.handle.Table})
	}
}

func (f *Feed) Unsubscribe(h store.Handle) error {
	f.mu.Lock()
	sub, ok := f.subs[h.ID]
	delete(f.subs, h.ID)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return closeSubscription(sub)
}

func closeSubscription(sub *subscription) error {
	if sub.channel == nil {
		return nil
	}
	if err := sub.channel.Cancel(sub.tag, false); err != nil && !isConnectionError(err) {
		return fmt.Errorf("cancel consumer: %w", err)
	}
	if err := sub.channel.Close(); err != nil && !isConnectionError(err) {
		return fmt.Errorf("close channel: %w", err)
	}
	return nil
}

// watch re-establishes the connection after an unexpected close and
// re-opens every subscription. Subscribers are signalled once afterwards
// because changes published while disconnected were lost.
func (f *Feed) watch(closed <-chan *amqp091.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return // graceful close
	}
	f.logger.Warn("Connection lost", log.FieldError, amqpErr)

	for attempt := 0; ; attempt++ {
		select {
		case <-f.closing:
			return
		case <-time.After(exponentialBackoff(attempt)):
		}
		err := f.connect()
		if err == nil {
			break
		}
		f.logger.Warn("Reconnect failed", log.FieldAttempt, attempt+1, log.FieldError, err)
		if !isConnectionError(err) {
			return
		}
	}

	f.mu.Lock()
	var resumed []*subscription
	for id, sub := range f.subs {
		if err := f.consume(sub); err != nil {
			f.logger.Error("Failed to resume subscription", log.FieldHandle, id, log.FieldError, err)
			continue
		}
		resumed = append(resumed, sub)
	}
	f.mu.Unlock()

	f.logger.Info("Connection re-established", "subscriptions", len(resumed))
	for _, sub := range resumed {
		sub.onSignal(store.Signal{Table: sub.handle.Table})
	}
}

func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.closing)
	subs := f.subs
	f.subs = make(map[string]*subscription)
	conn := f.conn
	f.mu.Unlock()

	for _, sub := range subs {
		_ = closeSubscription(sub)
	}
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "connection closed", "closed network connection", "broken pipe", "eof", "i/o timeout", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
