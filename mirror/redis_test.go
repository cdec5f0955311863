package mirror

import (
	"context"
	"errors"
	"qerplunk/ride-share/types"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeHashes keeps redis hashes in memory
type fakeHashes struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	expires map[string]time.Duration
	failSet bool

	// when set, HSet signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func newFakeHashes() *fakeHashes {
	return &fakeHashes{
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeHashes) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSet {
		return redis.NewIntResult(0, errors.New("boom"))
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		field := values[i].(string)
		data, err := values[i+1].(types.LocationRecord).MarshalBinary()
		if err != nil {
			return redis.NewIntResult(0, err)
		}
		f.hashes[key][field] = string(data)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeHashes) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	if len(f.hashes[key]) == 0 {
		delete(f.hashes, key)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (f *fakeHashes) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeHashes) HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewStringStringMapResult(out, nil)
}

func TestRecordAndEvict(t *testing.T) {
	store := newFakeHashes()
	m := newRedisMirror(store, time.Minute, queueSize)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.Record("ride", types.LocationRecord{ParticipantID: "b", Latitude: 3, Longitude: 4, Timestamp: now})
	m.Record("ride", types.LocationRecord{ParticipantID: "a", Latitude: 1, Longitude: 2, Timestamp: now})
	m.Record("other", types.LocationRecord{ParticipantID: "c", Latitude: 5, Longitude: 6, Timestamp: now})
	m.Evict("other", "c")
	m.Close()

	records, err := m.Locations(context.Background(), "ride")
	if err != nil {
		t.Fatalf("Locations: %v", err)
	}
	if len(records) != 2 || records[0].ParticipantID != "a" || records[1].ParticipantID != "b" {
		t.Fatalf("records = %+v", records)
	}
	if records[1].Latitude != 3 || !records[1].Timestamp.Equal(now) {
		t.Errorf("record b = %+v", records[1])
	}
	if store.expires[roomKey("ride")] != time.Minute {
		t.Errorf("ttl not applied: %v", store.expires)
	}

	other, err := m.Locations(context.Background(), "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("evicted participant still mirrored: %+v", other)
	}
}

func TestWriteErrorsDoNotStopWorker(t *testing.T) {
	store := newFakeHashes()
	store.failSet = true
	m := newRedisMirror(store, time.Minute, queueSize)

	m.Record("ride", types.LocationRecord{ParticipantID: "a"})
	m.Close()

	records, err := m.Locations(context.Background(), "ride")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("failed write produced records: %+v", records)
	}
}

func TestWritesAfterCloseAreIgnored(t *testing.T) {
	m := newRedisMirror(newFakeHashes(), time.Minute, queueSize)
	m.Close()
	m.Close()

	// must not panic on the closed queue
	m.Record("ride", types.LocationRecord{ParticipantID: "a"})
	m.Evict("ride", "a")
}

func TestEvictionsSurviveFullQueue(t *testing.T) {
	store := newFakeHashes()
	store.entered = make(chan struct{}, 8)
	store.release = make(chan struct{})
	m := newRedisMirror(store, time.Minute, 1)

	// the worker holds "a" in a blocked write, "b" fills the queue
	m.Record("ride", types.LocationRecord{ParticipantID: "a"})
	<-store.entered
	m.Record("ride", types.LocationRecord{ParticipantID: "b"})

	m.Evict("ride", "a")
	m.Evict("ride", "c")

	close(store.release)
	m.Close()

	records, err := m.Locations(context.Background(), "ride")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ParticipantID != "b" {
		t.Fatalf("records = %+v", records)
	}
}

func TestRecordCancelsDeferredEviction(t *testing.T) {
	store := newFakeHashes()
	store.entered = make(chan struct{}, 8)
	store.release = make(chan struct{})
	m := newRedisMirror(store, time.Minute, 1)

	m.Record("ride", types.LocationRecord{ParticipantID: "a", Latitude: 1})
	<-store.entered
	m.Record("ride", types.LocationRecord{ParticipantID: "b"})

	// "a" leaves and comes back while the queue is still full
	m.Evict("ride", "a")
	m.Record("ride", types.LocationRecord{ParticipantID: "a", Latitude: 2})

	close(store.release)
	m.Close()

	records, err := m.Locations(context.Background(), "ride")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ParticipantID != "a" {
		t.Fatalf("rejoined participant was evicted: %+v", records)
	}
}

func TestRoomKey(t *testing.T) {
	if got := roomKey("ride-1"); got != "presence:ride-1" {
		t.Errorf("roomKey = %q", got)
	}
}
