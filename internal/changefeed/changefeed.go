// Package changefeed publishes row changes reported by the update hook to
// a message broker, one message per change.
//
// Topics are "<prefix>/<database>/<table>". Payloads are canonical JSON:
//
//	{"database":"main","op":"INSERT","row":{...},"rowId":3,"seq":17,"table":"users"}
//
// row is omitted for deletes. seq increases by one per published change
// and is shared by every database attached to the same Feed.
//
// Handle only queues the event. One goroutine per Feed publishes in queue
// order, off the host loop that delivers update callbacks.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/roach88/sqlbridge/internal/queue"
	"github.com/roach88/sqlbridge/internal/reactive"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// DefaultTopicPrefix is used when Options.TopicPrefix is empty.
const DefaultTopicPrefix = "sqlbridge/changes"

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("changefeed: closed")

// Publisher delivers one payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
	Close() error
}

// Sequencer numbers published changes.
type Sequencer interface {
	Next() int64
}

// Counter is the default Sequencer. The first call to Next returns 1.
type Counter struct {
	n atomic.Int64
}

// Next returns the next sequence number.
func (c *Counter) Next() int64 {
	return c.n.Add(1)
}

// Source installs an update callback for a named database.
// *bridge.Bridge satisfies it.
type Source interface {
	UpdateHook(ctx context.Context, name string, fn reactive.UpdateFunc) error
}

// Options configures a Feed.
type Options struct {
	TopicPrefix string
	QoS         byte
	Sequencer   Sequencer
	Logger      *slog.Logger
}

// Feed turns update events into published messages.
type Feed struct {
	pub    Publisher
	prefix string
	qos    byte
	seq    Sequencer
	logger *slog.Logger

	pending *queue.Queue[reactive.UpdateEvent]
	done    chan struct{}

	closed    atomic.Bool
	published atomic.Int64
	failed    atomic.Int64
}

// New creates a Feed publishing through pub and starts its publishing
// goroutine. Close stops it.
func New(pub Publisher, opts Options) *Feed {
	f := &Feed{
		pub:     pub,
		prefix:  strings.TrimSuffix(opts.TopicPrefix, "/"),
		qos:     opts.QoS,
		seq:     opts.Sequencer,
		logger:  opts.Logger,
		pending: queue.New[reactive.UpdateEvent](),
		done:    make(chan struct{}),
	}
	if f.prefix == "" {
		f.prefix = DefaultTopicPrefix
	}
	if f.seq == nil {
		f.seq = &Counter{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	go f.run()
	return f
}

// Attach routes the update events of database name into the feed. It
// replaces any update callback already installed on that database.
func (f *Feed) Attach(ctx context.Context, src Source, name string) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if err := src.UpdateHook(ctx, name, f.Handle); err != nil {
		return fmt.Errorf("attach changefeed to %s: %w", name, err)
	}
	f.logger.Info("changefeed attached", "name", name, "prefix", f.prefix)
	return nil
}

// Detach removes the update callback of database name.
func (f *Feed) Detach(ctx context.Context, src Source, name string) error {
	return src.UpdateHook(ctx, name, nil)
}

// Handle queues ev for publishing and returns without waiting for the
// broker. Events handled after Close are dropped.
func (f *Feed) Handle(ev reactive.UpdateEvent) {
	if f.closed.Load() {
		return
	}
	f.pending.Enqueue(ev)
}

// Pending returns the number of queued events not yet published.
func (f *Feed) Pending() int { return f.pending.Len() }

func (f *Feed) run() {
	defer close(f.done)
	for {
		if ev, ok := f.pending.TryDequeue(); ok {
			f.publish(ev)
			continue
		}
		if f.pending.Closed() {
			for _, ev := range f.pending.Drain() {
				f.publish(ev)
			}
			return
		}
		<-f.pending.Wait()
	}
}

// publish sends ev. Failures are logged and counted, never returned: the
// write that produced ev has already happened.
func (f *Feed) publish(ev reactive.UpdateEvent) {
	payload, err := Encode(ev, f.seq.Next())
	if err != nil {
		f.failed.Add(1)
		f.logger.Warn("changefeed encode failed", "table", ev.Table, "row_id", ev.RowID, "error", err)
		return
	}

	topic := f.Topic(ev.Database, ev.Table)
	if err := f.pub.Publish(topic, payload, f.qos); err != nil {
		f.failed.Add(1)
		f.logger.Warn("changefeed publish failed", "topic", topic, "error", err)
		return
	}
	f.published.Add(1)
	f.logger.Debug("changefeed published", "topic", topic, "bytes", len(payload))
}

// Topic returns the topic changes of table in database are published to.
func (f *Feed) Topic(database, table string) string {
	if database == "" {
		database = "main"
	}
	return f.prefix + "/" + topicSegment(database) + "/" + topicSegment(table)
}

// topicSegment strips characters with special meaning in MQTT topics.
func topicSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}

// Stats reports how many changes were published and how many failed.
func (f *Feed) Stats() (published, failed int64) {
	return f.published.Load(), f.failed.Load()
}

// Close stops accepting events, publishes what is already queued and
// closes the publisher. Idempotent.
func (f *Feed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.pending.Close()
	<-f.done
	return f.pub.Close()
}

// Encode renders ev as the canonical JSON payload with sequence number seq.
func Encode(ev reactive.UpdateEvent, seq int64) ([]byte, error) {
	msg := Message(ev)
	msg["seq"] = seq
	return value.MarshalCanonical(msg)
}

// Message is the payload of ev without a sequence number, in a form
// value.MarshalCanonical accepts.
func Message(ev reactive.UpdateEvent) map[string]any {
	msg := map[string]any{
		"database": ev.Database,
		"table":    ev.Table,
		"op":       string(ev.Operation),
		"rowId":    ev.RowID,
	}
	if ev.Row != nil && ev.Operation != store.OpDelete {
		msg["row"] = rowObject(*ev.Row)
	}
	return msg
}

func rowObject(r store.Row) map[string]any {
	out := make(map[string]any, r.Len())
	vals := r.Values()
	for i, name := range r.Columns() {
		if _, dup := out[name]; dup {
			continue
		}
		out[name] = vals[i]
	}
	return out
}
