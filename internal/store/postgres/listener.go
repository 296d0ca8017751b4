package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fintrack/internal/log"
	"fintrack/internal/store"
)

const (
	// ChannelName is the NOTIFY channel written by the table triggers.
	ChannelName  = "fintrack_changes"
	pingInterval = 90 * time.Second
)

// Listener turns NOTIFY payloads into store.Change values and publishes
// them to a hub.
type Listener struct {
	dsn    string
	hub    *store.Hub
	logger *log.Logger

	listener   *pq.Listener
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewListener(dsn string, hub *store.Hub, logger *log.Logger) *Listener {
	return &Listener{
		dsn:        dsn,
		hub:        hub,
		logger:     log.OrNop(logger).WithComponent(log.ComponentStore),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start opens the listening connection and begins dispatching in the
// background. pq.Listener reconnects on its own; a reconnect is reported
// as a nil notification.
func (l *Listener) Start(ctx context.Context) error {
	l.listener = pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Info("Connected to notification channel", log.FieldChannel, ChannelName)
		case pq.ListenerEventDisconnected:
			l.logger.Warn("Disconnected from notification channel", log.FieldChannel, ChannelName, log.FieldError, err)
		case pq.ListenerEventReconnected:
			l.logger.Info("Reconnected to notification channel", log.FieldChannel, ChannelName)
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("Notification connection attempt failed", log.FieldError, err)
		}
	})
	if err := l.listener.Listen(ChannelName); err != nil {
		l.listener.Close()
		return fmt.Errorf("listen on %s: %w", ChannelName, err)
	}
	go l.run(ctx)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer l.listener.Close()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Notifications may have been lost while reconnecting;
				// every subscriber re-fetches.
				l.hub.SignalAll()
				continue
			}
			l.handle(ctx, n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.logger.Warn("Listener ping failed", log.FieldError, err)
				}
			}()
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	c, err := ParsePayload(payload)
	if err != nil {
		l.logger.Error("Failed to parse notification payload", log.FieldError, err)
		return
	}
	if err := l.hub.Publish(ctx, c); err != nil {
		l.logger.Warn("Failed to dispatch change", log.FieldTable, c.Table, log.FieldError, err)
	}
}

// Stop shuts the listener down and waits for the dispatch loop to exit.
func (l *Listener) Stop() {
	select {
	case <-l.shutdownCh:
	default:
		close(l.shutdownCh)
	}
	<-l.done
}

// ParsePayload decodes a trigger payload.
func ParsePayload(payload string) (store.Change, error) {
	var raw struct {
		Table string         `json:"table"`
		Op    store.ChangeOp `json:"op"`
		Old   store.Row      `json:"old"`
		New   store.Row      `json:"new"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return store.Change{}, err
	}
	table, err := store.ParseTable(raw.Table)
	if err != nil {
		return store.Change{}, err
	}
	return store.Change{Table: table, Op: raw.Op, Old: raw.Old, New: raw.New}, nil
}
