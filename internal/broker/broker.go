// Package broker adapts the engine's stream consumption/production
// contract (spec.md §4.2) onto Redis streams and pub/sub, following the
// go-redis usage in rishavpaul-system-design/rate-limiter/gateway and the
// original Rust engine's redis_manager.rs (XADD/XREAD/XREADGROUP/XACK,
// plus a dedicated publisher connection for responses).
package broker

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Entry is one broker stream record. ID is monotonically increasing and
// lexicographically comparable (spec.md §4.2); Data is the inner JSON
// string carried in the entry's "data" field (spec.md §6).
type Entry struct {
	ID   string
	Data string
}

// Broker is the engine-facing contract. Both plain-offset and
// consumer-group modes are supported; the engine picks one at startup
// (spec.md §4.2) and this package normalizes to plain-offset by default.
type Broker struct {
	conn      *redis.Client
	publisher *redis.Client

	retryBackoff time.Duration
}

// New dials Redis twice — once for stream reads, once for publishing
// responses — mirroring the original engine's split connection,
// which keeps a blocking XREAD from starving response delivery.
func New(addr string, db int, retryBackoff time.Duration) *Broker {
	opts := &redis.Options{Addr: addr, DB: db}
	return &Broker{
		conn:         redis.NewClient(opts),
		publisher:    redis.NewClient(opts),
		retryBackoff: retryBackoff,
	}
}

// Close releases both connections.
func (b *Broker) Close() error {
	err1 := b.conn.Close()
	err2 := b.publisher.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// ReadNext returns up to max entries strictly after lastID, blocking up
// to block if none are available (spec.md §4.2). A lastID of "" or "$"
// means "only new entries from now on". Transient Redis errors are
// retried by the caller (processing loop); ReadNext itself does not
// retry, it simply returns the error.
func (b *Broker) ReadNext(ctx context.Context, stream, lastID string, max int64, block time.Duration) ([]Entry, error) {
	if lastID == "" {
		lastID = "$"
	}

	res, err := b.conn.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   max,
		Block:   block,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, streamResult := range res {
		for _, msg := range streamResult.Messages {
			entries = append(entries, Entry{ID: msg.ID, Data: extractData(msg.Values)})
		}
	}
	return entries, nil
}

// Append appends one entry to stream and returns the assigned id
// (spec.md §4.2). The body is wrapped as {"data": body} to match the
// wire shape spec.md §6 specifies for every stream.
func (b *Broker) Append(ctx context.Context, stream, body string) (string, error) {
	return b.conn.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": body},
	}).Result()
}

// Publish delivers a fire-and-forget response on the orderId's logical
// channel (spec.md §6 "Response channels").
func (b *Broker) Publish(ctx context.Context, channel, body string) error {
	return b.publisher.Publish(ctx, channel, body).Err()
}

// EnsureGroup creates a consumer group at the current tail of stream.
// Creation is idempotent: a BUSYGROUP error (group already exists) is
// swallowed (spec.md §4.2).
func (b *Broker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.conn.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// ReadGroup reads via a consumer group (optional mode, spec.md §4.2).
func (b *Broker) ReadGroup(ctx context.Context, stream, group, consumer string, max int64, block time.Duration) ([]Entry, error) {
	res, err := b.conn.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    max,
		Block:    block,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, streamResult := range res {
		for _, msg := range streamResult.Messages {
			entries = append(entries, Entry{ID: msg.ID, Data: extractData(msg.Values)})
		}
	}
	return entries, nil
}

// Ack acknowledges delivered ids in consumer-group mode.
func (b *Broker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.conn.XAck(ctx, stream, group, ids...).Err()
}

// RetryBackoff exposes the configured transient-error backoff
// (spec.md §4.2, §7 BrokerTransient) so the processing loop can sleep
// consistently with how this adapter was configured.
func (b *Broker) RetryBackoff() time.Duration {
	return b.retryBackoff
}

func extractData(values map[string]any) string {
	v, ok := values["data"]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		log.Warn().Msg("broker: entry 'data' field was not a string")
		return ""
	}
	return s
}
