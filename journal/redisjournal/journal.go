// Package redisjournal persists item lifecycle records in Redis, one hash per
// item plus an insertion-order index list. Suited for inspecting queue and
// pool activity from outside the process.
package redisjournal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/isokit/isokit/core"
)

// Journal is a Redis-backed core.Journal.
type Journal struct {
	rdb *redis.Client

	prefix string
	// ttl applies to per-item hashes; the index list does not expire.
	ttl time.Duration
}

var _ core.Journal = (*Journal)(nil)

// Option configures the journal.
type Option func(*Journal)

// WithPrefix overrides the default "isokit:journal" key prefix.
func WithPrefix(prefix string) Option {
	return func(j *Journal) {
		j.prefix = strings.Trim(prefix, ":")
	}
}

// WithTTL sets the expiry of per-item hashes. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(j *Journal) { j.ttl = d }
}

// New creates a journal on top of an existing Redis client.
func New(rdb *redis.Client, opts ...Option) *Journal {
	j := &Journal{
		rdb:    rdb,
		prefix: "isokit:journal",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) itemKey(id uuid.UUID) string {
	return j.prefix + ":item:" + id.String()
}

func (j *Journal) indexKey() string {
	return j.prefix + ":items"
}

func (j *Journal) RecordEnqueued(ctx context.Context, record core.ItemRecord) error {
	if record.Status == "" {
		record.Status = core.ItemStatusPending
	}
	if record.EnqueuedAt.IsZero() {
		record.EnqueuedAt = time.Now()
	}

	key := j.itemKey(record.ID)

	pipe := j.rdb.Pipeline()
	pipe.HSet(ctx, key,
		"label", record.Label,
		"component", record.Component,
		"status", string(record.Status),
		"enqueued_at", record.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if j.ttl > 0 {
		pipe.Expire(ctx, key, j.ttl)
	}
	pipe.RPush(ctx, j.indexKey(), record.ID.String())

	_, err := pipe.Exec(ctx)
	return err
}

func (j *Journal) RecordStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return j.rdb.HSet(ctx, j.itemKey(id),
		"status", string(core.ItemStatusRunning),
		"started_at", at.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (j *Journal) RecordFinished(ctx context.Context, id uuid.UUID, status core.ItemStatus, errMsg string, at time.Time) error {
	return j.rdb.HSet(ctx, j.itemKey(id),
		"status", string(status),
		"error", errMsg,
		"finished_at", at.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (j *Journal) Get(ctx context.Context, id uuid.UUID) (core.ItemRecord, error) {
	fields, err := j.rdb.HGetAll(ctx, j.itemKey(id)).Result()
	if err != nil {
		return core.ItemRecord{}, err
	}
	if len(fields) == 0 {
		return core.ItemRecord{}, core.ErrItemNotFound
	}
	return recordFromFields(id, fields), nil
}

func (j *Journal) List(ctx context.Context, filter core.ItemFilter) ([]core.ItemRecord, error) {
	ids, err := j.rdb.LRange(ctx, j.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]core.ItemRecord, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue // stale index entry
		}
		fields, err := j.rdb.HGetAll(ctx, j.itemKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue // hash expired, index entry remains
		}
		rec := recordFromFields(id, fields)
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Clear removes the index and all journaled items. Intended for tests and
// operational resets.
func (j *Journal) Clear(ctx context.Context) error {
	ids, err := j.rdb.LRange(ctx, j.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := j.rdb.Pipeline()
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		pipe.Del(ctx, j.itemKey(id))
	}
	pipe.Del(ctx, j.indexKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

func recordFromFields(id uuid.UUID, fields map[string]string) core.ItemRecord {
	rec := core.ItemRecord{
		ID:        id,
		Label:     fields["label"],
		Component: fields["component"],
		Status:    core.ItemStatus(fields["status"]),
		Error:     fields["error"],
	}
	rec.EnqueuedAt = parseTime(fields["enqueued_at"])
	rec.StartedAt = parseTime(fields["started_at"])
	rec.FinishedAt = parseTime(fields["finished_at"])
	return rec
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
