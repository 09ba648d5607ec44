package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides run-scoped Redis operations for the ledger.
// All keys and channels are automatically namespaced with the run name.
// The client is thread-safe and can be used concurrently from multiple
// workers.
type Client struct {
	rdb     *redis.Client
	runName string
}

// NewClient creates a new ledger client for the specified run.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - runName: reconciliation run identifier (must not be empty)
//
// Returns an error if runName is empty.
func NewClient(redisOpts *redis.Options, runName string) (*Client, error) {
	if runName == "" {
		return nil, fmt.Errorf("run name cannot be empty")
	}

	return &Client{
		rdb:     redis.NewClient(redisOpts),
		runName: runName,
	}, nil
}

// RunName returns the run this client is scoped to.
func (c *Client) RunName() string {
	return c.runName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for preflight checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AppendReportRow validates and writes a report row, then appends its ID to
// the run's append-only row index. Rows are never updated or deleted; calling
// this twice with the same row ID overwrites the hash with identical content
// but appends a duplicate index entry, so callers must consult IsProcessed
// before emitting a row for a client.
func (c *Client) AppendReportRow(ctx context.Context, row *ReportRow) error {
	if err := row.Validate(); err != nil {
		return fmt.Errorf("invalid report row: %w", err)
	}

	hash, err := RowToHash(row)
	if err != nil {
		return fmt.Errorf("failed to serialize report row: %w", err)
	}

	key := ReportRowKey(c.runName, row.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write report row to Redis: %w", err)
	}

	if err := c.rdb.RPush(ctx, RowIndexKey(c.runName), row.ID).Err(); err != nil {
		return fmt.Errorf("failed to index report row: %w", err)
	}

	return nil
}

// ReportRows returns all report rows for the run in append order.
func (c *Client) ReportRows(ctx context.Context) ([]*ReportRow, error) {
	ids, err := c.rdb.LRange(ctx, RowIndexKey(c.runName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read row index: %w", err)
	}

	rows := make([]*ReportRow, 0, len(ids))
	for _, id := range ids {
		hash, err := c.rdb.HGetAll(ctx, ReportRowKey(c.runName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read report row %s: %w", id, err)
		}
		if len(hash) == 0 {
			// Index references a missing hash - skip rather than fail the dump
			continue
		}
		row, err := HashToRow(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize report row %s: %w", id, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// MarkProcessed adds a client to a staff member's processed set. Membership is
// monotonic for the lifetime of the run: there is no corresponding remove
// operation. Marking before attempting recovery is what prevents infinite
// retry loops on a poisoned client record.
func (c *Client) MarkProcessed(ctx context.Context, staffName, clientName string) error {
	key := ProcessedSetKey(c.runName, staffName)
	if err := c.rdb.SAdd(ctx, key, clientName).Err(); err != nil {
		return fmt.Errorf("failed to mark client processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a client has already been processed for the
// given staff member in this run.
func (c *Client) IsProcessed(ctx context.Context, staffName, clientName string) (bool, error) {
	key := ProcessedSetKey(c.runName, staffName)
	member, err := c.rdb.SIsMember(ctx, key, clientName).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed membership: %w", err)
	}
	return member, nil
}

// ProcessedClients returns every client marked processed for a staff member.
func (c *Client) ProcessedClients(ctx context.Context, staffName string) ([]string, error) {
	key := ProcessedSetKey(c.runName, staffName)
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processed set: %w", err)
	}
	return members, nil
}

// AppendCoverage validates and writes a coverage entry and appends its ID to
// the coverage index.
func (c *Client) AppendCoverage(ctx context.Context, entry *CoverageEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid coverage entry: %w", err)
	}

	key := CoverageEntryKey(c.runName, entry.ID)
	if err := c.rdb.HSet(ctx, key, CoverageToHash(entry)).Err(); err != nil {
		return fmt.Errorf("failed to write coverage entry to Redis: %w", err)
	}

	if err := c.rdb.RPush(ctx, CoverageIndexKey(c.runName), entry.ID).Err(); err != nil {
		return fmt.Errorf("failed to index coverage entry: %w", err)
	}

	return nil
}

// CoverageEntries returns all coverage entries for the run in append order.
func (c *Client) CoverageEntries(ctx context.Context) ([]*CoverageEntry, error) {
	ids, err := c.rdb.LRange(ctx, CoverageIndexKey(c.runName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage index: %w", err)
	}

	entries := make([]*CoverageEntry, 0, len(ids))
	for _, id := range ids {
		hash, err := c.rdb.HGetAll(ctx, CoverageEntryKey(c.runName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read coverage entry %s: %w", id, err)
		}
		if len(hash) == 0 {
			continue
		}
		entry, err := HashToCoverage(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize coverage entry %s: %w", id, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// IncrCounter atomically increments a named run counter by delta.
func (c *Client) IncrCounter(ctx context.Context, counter string, delta int64) error {
	key := CounterKey(c.runName, counter)
	if err := c.rdb.IncrBy(ctx, key, delta).Err(); err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", counter, err)
	}
	return nil
}

// Counters returns the current value of every known run counter. Counters
// that were never incremented read as zero.
func (c *Client) Counters(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(CounterNames))
	for _, name := range CounterNames {
		val, err := c.rdb.Get(ctx, CounterKey(c.runName, name)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to read counter %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

// PublishProgress publishes a progress event for this run. Delivery is
// at-most-once; events are for operator display only.
func (c *Client) PublishProgress(ctx context.Context, event *ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	channel := ProgressEventsChannel(c.runName)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// ProgressSubscription represents an active Pub/Sub subscription to progress
// events. Caller must call Close() when done to clean up resources.
type ProgressSubscription struct {
	events <-chan *ProgressEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of progress events. The channel is closed when
// the subscription is closed or the context is cancelled.
func (s *ProgressSubscription) Events() <-chan *ProgressEvent {
	return s.events
}

// Errors returns the channel of subscription errors. Errors are non-fatal:
// the subscription continues and the bad message is skipped.
func (s *ProgressSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *ProgressSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeProgress subscribes to progress events for this run.
// Caller must call subscription.Close() when done. Context cancellation also
// stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// A slow subscriber may miss events (Redis Pub/Sub is at-most-once).
func (c *Client) SubscribeProgress(ctx context.Context) (*ProgressSubscription, error) {
	channel := ProgressEventsChannel(c.runName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *ProgressEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal progress event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ProgressSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
