package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"qerplunk/ride-share/types"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix    = "presence:"
	defaultTTL   = 10 * time.Minute
	queueSize    = 1024
	writeTimeout = 2 * time.Second
)

// Subset of the redis client used by the mirror
type hashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

type member struct {
	room          string
	participantID string
}

type op struct {
	room          string
	participantID string
	record        *types.LocationRecord
}

// RedisMirror copies last known locations into one redis hash per room.
// Writes go through a single worker goroutine so the event path never waits on redis
// and the per-room order of writes is kept.
// A full queue drops location writes, but evictions are kept aside and applied once
// the queue drains, so departed participants never linger in a room's hash.
type RedisMirror struct {
	client hashClient
	ttl    time.Duration
	queue  chan op
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	pendingMu sync.Mutex
	pending   map[member]struct{}
}

// Dial connects to redis and checks the connection with a PING.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisMirror starts a mirror writing to client. Room hashes expire after ten idle minutes.
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return newRedisMirror(client, defaultTTL, queueSize)
}

func newRedisMirror(client hashClient, ttl time.Duration, size int) *RedisMirror {
	m := &RedisMirror{
		client:  client,
		ttl:     ttl,
		queue:   make(chan op, size),
		done:    make(chan struct{}),
		pending: make(map[member]struct{}),
	}
	go m.run()
	return m
}

func roomKey(room string) string {
	return keyPrefix + room
}

// Record queues a location write. Dropped when the queue is full.
func (m *RedisMirror) Record(room string, rec types.LocationRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	// A newer write supersedes an eviction still waiting for the queue
	m.pendingMu.Lock()
	delete(m.pending, member{room: room, participantID: rec.ParticipantID})
	m.pendingMu.Unlock()

	select {
	case m.queue <- op{room: room, participantID: rec.ParticipantID, record: &rec}:
	default:
		slog.Warn("presence mirror queue full, dropping location",
			slog.String("room", room),
			slog.String("participant", rec.ParticipantID),
		)
	}
}

// Evict queues the removal of a participant from a room's hash.
// When the queue is full the eviction waits until the queue drains.
func (m *RedisMirror) Evict(room, participantID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	select {
	case m.queue <- op{room: room, participantID: participantID}:
	default:
		slog.Warn("presence mirror queue full, deferring eviction",
			slog.String("room", room),
			slog.String("participant", participantID),
		)
		m.pendingMu.Lock()
		m.pending[member{room: room, participantID: participantID}] = struct{}{}
		m.pendingMu.Unlock()
	}
}

func (m *RedisMirror) run() {
	defer close(m.done)

	for o := range m.queue {
		m.write(o)

		// Deferred evictions go after every write queued before them
		if len(m.queue) == 0 {
			m.flushEvictions()
		}
	}
	m.flushEvictions()
}

func (m *RedisMirror) flushEvictions() {
	m.pendingMu.Lock()
	pending := m.pending
	m.pending = make(map[member]struct{})
	m.pendingMu.Unlock()

	for mb := range pending {
		m.write(op{room: mb.room, participantID: mb.participantID})
	}
}

func (m *RedisMirror) write(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := m.apply(ctx, o); err != nil {
		slog.Error("presence mirror write failed",
			slog.String("room", o.room),
			slog.String("error", err.Error()),
		)
	}
}

func (m *RedisMirror) apply(ctx context.Context, o op) error {
	key := roomKey(o.room)

	if o.record == nil {
		return m.client.HDel(ctx, key, o.participantID).Err()
	}

	if err := m.client.HSet(ctx, key, o.participantID, *o.record).Err(); err != nil {
		return err
	}
	return m.client.Expire(ctx, key, m.ttl).Err()
}

// Locations reads the mirrored positions of a room, ordered by participant id.
func (m *RedisMirror) Locations(ctx context.Context, room string) ([]types.LocationRecord, error) {
	values, err := m.client.HGetAll(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("read room %q: %w", room, err)
	}

	records := make([]types.LocationRecord, 0, len(values))
	for participantID, raw := range values {
		var rec types.LocationRecord
		if err := rec.UnmarshalBinary([]byte(raw)); err != nil {
			slog.Warn("skipping malformed mirrored location",
				slog.String("room", room),
				slog.String("participant", participantID),
			)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ParticipantID < records[j].ParticipantID
	})
	return records, nil
}

// Close stops accepting writes and waits for queued ones to finish.
func (m *RedisMirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	<-m.done
}
