// Package realtime turns the backend's change channels on orders and
// tables into typed events.
//
// A Watcher holds exactly two live queries while enabled: INSERT on
// orders, and INSERT plus UPDATE on tables. Both are released on Disable
// or Close; a live query left open keeps a subscription alive on the
// server. There is no retry: a dropped connection closes the channels and
// the watcher goes quiet. Events from the two channels are not ordered
// relative to each other.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kuppel/kuppel.go/internal/codec"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/constants"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"github.com/kuppel/kuppel.go/pkg/models"
)

var ErrClosed = errors.New("realtime: watcher closed")

// Source opens and releases change channels. *kuppel.DB satisfies it.
type Source interface {
	Live(ctx context.Context, table string, actions ...connection.Action) (string, error)
	Kill(ctx context.Context, liveQueryID string) error
	LiveNotifications(liveQueryID string) (chan connection.Notification, error)
	Unmarshaler() codec.Unmarshaler
}

type Watcher struct {
	src    Source
	logger logger.Logger

	mu       sync.Mutex
	enabled  bool
	closed   bool
	ordersID string
	tablesID string
	stop     chan struct{}
	wg       sync.WaitGroup

	events chan Event
}

type Option func(w *Watcher)

func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithBuffer sets the capacity of the events channel.
func WithBuffer(n int) Option {
	return func(w *Watcher) { w.events = make(chan Event, n) }
}

func New(src Source, opts ...Option) *Watcher {
	w := &Watcher{
		src:    src,
		logger: logger.Nop(),
		events: make(chan Event, constants.NotificationBufferSize),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Events is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Enable opens both channels. If the tables channel cannot be opened the
// orders channel is released again. Enabling twice is a no-op.
func (w *Watcher) Enable(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.enabled {
		return nil
	}

	ordersID, orders, err := w.open(ctx, constants.TableOrders, connection.InsertAction)
	if err != nil {
		return fmt.Errorf("realtime: open orders channel: %w", err)
	}
	tablesID, tables, err := w.open(ctx, constants.TableTables, connection.InsertAction, connection.UpdateAction)
	if err != nil {
		if kerr := w.src.Kill(ctx, ordersID); kerr != nil {
			w.logger.Warn("failed to release orders channel", "id", ordersID, "error", kerr)
		}
		return fmt.Errorf("realtime: open tables channel: %w", err)
	}

	w.ordersID, w.tablesID = ordersID, tablesID
	w.stop = make(chan struct{})
	w.enabled = true

	w.wg.Add(2)
	go w.forward(orders, w.stop)
	go w.forward(tables, w.stop)

	w.logger.Debug("realtime enabled", "orders", ordersID, "tables", tablesID)
	return nil
}

func (w *Watcher) open(ctx context.Context, table string, actions ...connection.Action) (string, chan connection.Notification, error) {
	id, err := w.src.Live(ctx, table, actions...)
	if err != nil {
		return "", nil, err
	}
	ch, err := w.src.LiveNotifications(id)
	if err != nil {
		if kerr := w.src.Kill(ctx, id); kerr != nil {
			w.logger.Warn("failed to release channel", "table", table, "id", id, "error", kerr)
		}
		return "", nil, err
	}
	return id, ch, nil
}

// Disable releases both channels and waits for the forwarding goroutines.
// Both releases are attempted; the first error is returned.
func (w *Watcher) Disable(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disableLocked(ctx)
}

func (w *Watcher) disableLocked(ctx context.Context) error {
	if !w.enabled {
		return nil
	}

	var errs []error
	for _, id := range []string{w.ordersID, w.tablesID} {
		if err := w.src.Kill(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("realtime: release %s: %w", id, err))
		}
	}

	close(w.stop)
	w.wg.Wait()

	w.enabled = false
	w.ordersID, w.tablesID = "", ""
	w.logger.Debug("realtime disabled")
	return errors.Join(errs...)
}

// Close disables the watcher and closes Events. A closed watcher cannot
// be enabled again.
func (w *Watcher) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.disableLocked(ctx)
	w.closed = true
	close(w.events)
	return err
}

// Run dispatches events to h until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, h Handlers) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-w.events:
			if !ok {
				return nil
			}
			h.Dispatch(e)
		}
	}
}

func (w *Watcher) forward(ch chan connection.Notification, stop chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-stop:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			e, ok := w.translate(n)
			if !ok {
				continue
			}
			select {
			case w.events <- e:
			case <-stop:
				return
			}
		}
	}
}

// translate maps a notification to its event. Undecodable payloads and
// table updates that keep the status are dropped.
func (w *Watcher) translate(n connection.Notification) (Event, bool) {
	u := w.src.Unmarshaler()

	switch {
	case n.Table == constants.TableOrders && n.Action == connection.InsertAction:
		var order models.Order
		if err := u.Unmarshal(n.Result, &order); err != nil {
			w.logger.Error("undecodable order notification", "error", err)
			return nil, false
		}
		return OrderInserted{Order: order}, true

	case n.Table == constants.TableTables && n.Action == connection.InsertAction:
		var table models.Table
		if err := u.Unmarshal(n.Result, &table); err != nil {
			w.logger.Error("undecodable table notification", "error", err)
			return nil, false
		}
		return TableCreated{Table: table}, true

	case n.Table == constants.TableTables && n.Action == connection.UpdateAction:
		var table models.Table
		if err := u.Unmarshal(n.Result, &table); err != nil {
			w.logger.Error("undecodable table notification", "error", err)
			return nil, false
		}
		var previous models.TableStatus
		if len(n.Before) > 0 {
			var before models.Table
			if err := u.Unmarshal(n.Before, &before); err != nil {
				w.logger.Error("undecodable previous table", "error", err)
				return nil, false
			}
			previous = before.Status
		}
		if previous == table.Status {
			return nil, false
		}
		return TableStatusChanged{Table: table, Previous: previous}, true
	}

	w.logger.Debug("ignored notification", "table", n.Table, "action", string(n.Action))
	return nil, false
}
