package handler_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/handler"
	"github.com/courtbook/relay/internal/payload"
)

// memStore is an in-memory ObjectStore for handler tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", domain.ErrJobNotFound
	}
	return data, m.types[key], nil
}

func (m *memStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStore) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcKey]
	if !ok {
		return domain.ErrJobNotFound
	}
	m.objects[dstKey] = data
	m.types[dstKey] = m.types[srcKey]
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func mediaJob() domain.Job {
	return domain.Job{ID: "job-1", Queue: domain.QueueMediaMove}
}

func TestMediaMover_MovesObjects(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "staging/lst-1/a.jpg", []byte("aaa"), "image/jpeg"))
	require.NoError(t, store.Put(ctx, "staging/lst-1/b.jpg", []byte("bbb"), "image/jpeg"))

	h := handler.NewMediaMover(store, zap.NewNop())
	p := &payload.MediaMove{
		ListingID:  "lst-1",
		SourceKeys: []string{"staging/lst-1/a.jpg", "staging/lst-1/b.jpg"},
		DestPrefix: "listings/lst-1",
	}

	result, err := h.Handle(ctx, mediaJob(), p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"moved":2,"skipped":0}`, string(result))

	assert.True(t, store.has("listings/lst-1/a.jpg"))
	assert.True(t, store.has("listings/lst-1/b.jpg"))
	assert.False(t, store.has("staging/lst-1/a.jpg"), "source must be removed after the move")
}

func TestMediaMover_RedeliveryIsNoOp(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "staging/lst-1/a.jpg", []byte("aaa"), "image/jpeg"))

	h := handler.NewMediaMover(store, zap.NewNop())
	p := &payload.MediaMove{
		ListingID:  "lst-1",
		SourceKeys: []string{"staging/lst-1/a.jpg"},
		DestPrefix: "listings/lst-1",
	}

	_, err := h.Handle(ctx, mediaJob(), p)
	require.NoError(t, err)

	// Second delivery of the same job: the object is already moved.
	result, err := h.Handle(ctx, mediaJob(), p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"moved":0,"skipped":1}`, string(result))
	assert.True(t, store.has("listings/lst-1/a.jpg"))
}

func TestMediaMover_FinishesPartialMove(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	// An earlier attempt copied but crashed before deleting the source.
	require.NoError(t, store.Put(ctx, "staging/lst-1/a.jpg", []byte("aaa"), "image/jpeg"))
	require.NoError(t, store.Put(ctx, "listings/lst-1/a.jpg", []byte("aaa"), "image/jpeg"))

	h := handler.NewMediaMover(store, zap.NewNop())
	p := &payload.MediaMove{
		ListingID:  "lst-1",
		SourceKeys: []string{"staging/lst-1/a.jpg"},
		DestPrefix: "listings/lst-1",
	}

	_, err := h.Handle(ctx, mediaJob(), p)
	require.NoError(t, err)
	assert.False(t, store.has("staging/lst-1/a.jpg"), "leftover source must be cleaned up")
	assert.True(t, store.has("listings/lst-1/a.jpg"))
}

func TestMediaMover_MissingEverywhereIsTerminal(t *testing.T) {
	store := newMemStore()
	h := handler.NewMediaMover(store, zap.NewNop())
	p := &payload.MediaMove{
		ListingID:  "lst-1",
		SourceKeys: []string{"staging/lst-1/gone.jpg"},
		DestPrefix: "listings/lst-1",
	}

	_, err := h.Handle(context.Background(), mediaJob(), p)
	require.Error(t, err)
	assert.True(t, domain.IsTerminal(err), "a vanished object cannot be cured by retrying")
}
