package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-mirror/internal/registry"
)

var (
	wallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func newMemoryStore(t *testing.T, persist Persister) *Store {
	t.Helper()
	seen, err := NewMemorySeen(16)
	require.NoError(t, err)
	return New(seen, persist, zerolog.Nop())
}

func TestMarkSeenIsCheckAndSet(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t, nil)

	seen, err := s.HasSeen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := s.MarkSeen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkSeen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, again)

	seen, err = s.HasSeen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemorySeenEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemorySeen(2)
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		added, err := m.Add(ctx, k)
		require.NoError(t, err)
		assert.True(t, added)
	}
	has, _ := m.Contains(ctx, "a")
	assert.False(t, has)
	has, _ = m.Contains(ctx, "c")
	assert.True(t, has)
}

func TestDirectionSuppression(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t, nil)

	assert.False(t, s.AlreadyMirrored(wallet, token, registry.ActionBuy))

	require.NoError(t, s.RecordMirror(ctx, wallet, token, registry.ActionBuy, true))
	assert.True(t, s.AlreadyMirrored(wallet, token, registry.ActionBuy))
	assert.False(t, s.AlreadyMirrored(wallet, token, registry.ActionSell), "direction change must mirror")

	require.NoError(t, s.RecordMirror(ctx, wallet, token, registry.ActionSell, false))
	assert.False(t, s.AlreadyMirrored(wallet, token, registry.ActionSell), "failed attempt must not suppress")

	rec, ok := s.MirrorRecord(wallet, token)
	require.True(t, ok)
	assert.Equal(t, registry.ActionSell, rec.LastAction)
	assert.False(t, rec.Mirrored)
}

type memPersister struct {
	rows    []MirrorRecord
	failPut bool
}

func (m *memPersister) UpsertMirrorRecord(ctx context.Context, rec MirrorRecord) error {
	if m.failPut {
		return errors.New("db down")
	}
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memPersister) LoadMirrorRecords(ctx context.Context) ([]MirrorRecord, error) {
	return m.rows, nil
}

func TestLoadAndPersist(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{rows: []MirrorRecord{{Wallet: wallet, Token: token, LastAction: registry.ActionBuy, Mirrored: true}}}
	s := newMemoryStore(t, p)

	n, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, s.AlreadyMirrored(wallet, token, registry.ActionBuy))

	require.NoError(t, s.RecordMirror(ctx, wallet, token, registry.ActionSell, true))
	assert.Len(t, p.rows, 2)
	rec, ok := s.MirrorRecord(wallet, token)
	require.True(t, ok)
	assert.Equal(t, registry.ActionSell, rec.LastAction)

	p.failPut = true
	err = s.RecordMirror(ctx, wallet, token, registry.ActionBuy, true)
	assert.Error(t, err)
	assert.True(t, s.AlreadyMirrored(wallet, token, registry.ActionBuy), "memory updated despite persistence error")
}

type fakeRedis struct {
	keys map[string]time.Duration
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisSeen(t *testing.T) {
	ctx := context.Background()
	fr := &fakeRedis{keys: map[string]time.Duration{}}
	r := NewRedisSeen(fr, "", time.Hour)

	added, err := r.Add(ctx, "w:BUY:0x1")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, time.Hour, fr.keys["mirrorbot:seen:w:BUY:0x1"])

	added, err = r.Add(ctx, "w:BUY:0x1")
	require.NoError(t, err)
	assert.False(t, added)

	has, err := r.Contains(ctx, "w:BUY:0x1")
	require.NoError(t, err)
	assert.True(t, has)
}
