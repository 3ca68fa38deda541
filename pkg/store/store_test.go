package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/treesync/pkg/markup"
)

func sampleSnapshot(t *testing.T) (*markup.Node, *Snapshot) {
	t.Helper()
	root := markup.MustParse(`<main class="a"><p>hello</p><!--c--><input disabled></main>`)
	return root, NewSnapshot("file:///index.html", root)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	root, snap := sampleSnapshot(t)
	require.NoError(t, s.Save(ctx, "k", snap))

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	tree, err := got.Tree()
	require.NoError(t, err)
	assert.Equal(t, root.ID(), tree.ID())
	assert.Equal(t, markup.OuterHTML(root), markup.OuterHTML(tree))

	// Loaded snapshots are independent copies.
	got.Root.ChildNodes = nil
	again, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, again.Root.ChildNodes)
}

func TestMemoryStoreMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, snap := sampleSnapshot(t)
	require.NoError(t, s.Save(ctx, "k", snap))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMemoryTTL(20*time.Millisecond), WithCleanupInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })

	_, snap := sampleSnapshot(t)
	require.NoError(t, s.Save(ctx, "k", snap))
	_, err := s.Load(ctx, "k")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Count() == 0 }, time.Second, 5*time.Millisecond)
	_, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, snap := sampleSnapshot(t)
	assert.ErrorIs(t, s.Save(ctx, "k", snap), ErrClosed)
	_, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeRejectsOtherVersions(t *testing.T) {
	_, err := Decode([]byte(`{"url":"x","root":{"kind":1},"version":99}`))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func newRedisStore(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStoreFromClient(client, opts...)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedisStore(t, WithPrefix("test:"))

	root, snap := sampleSnapshot(t)
	require.NoError(t, s.Save(ctx, "k", snap))
	assert.True(t, mr.Exists(s.Key("k")), "snapshot key should be set in Redis")
	assert.Contains(t, s.Key("k"), "test:")

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	tree, err := got.Tree()
	require.NoError(t, err)
	assert.True(t, markup.Equivalent(root, tree))
	assert.Equal(t, root.Children()[0].ID(), tree.Children()[0].ID())

	require.NoError(t, s.Delete(ctx, "k"))
	assert.False(t, mr.Exists(s.Key("k")), "snapshot key should be removed")
	_, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedisStore(t, WithTTL(time.Minute))

	_, snap := sampleSnapshot(t)
	require.NoError(t, s.Save(ctx, "k", snap))
	assert.Equal(t, time.Minute, mr.TTL(s.Key("k")))

	mr.FastForward(2 * time.Minute)
	_, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreBackendError(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedisStore(t)
	mr.SetError("LOADING")

	_, err := s.Load(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStorePing(t *testing.T) {
	ctx := context.Background()
	mr, s := newRedisStore(t)
	require.NoError(t, s.Ping(ctx))

	mr.Close()
	assert.Error(t, s.Ping(ctx))
}
