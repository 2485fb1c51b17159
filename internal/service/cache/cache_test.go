package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/projecthub/internal/realtime"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

func TestGetTyped(t *testing.T) {
	m := metrics.New("test")
	s := New("projects", Config{TTL: time.Minute, CleanupInterval: time.Minute}, m)

	_, ok := Get[[]string](s, "list")
	assert.False(t, ok)

	s.Set("list", []string{"a", "b"})
	got, ok := Get[[]string](s, "list")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	_, ok = Get[int](s, "list")
	assert.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheRequests.WithLabelValues("projects", "hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheRequests.WithLabelValues("projects", "miss")))
}

func TestFollowFlushesOnMatchingCollection(t *testing.T) {
	feed := realtime.NewLocalFeed(4, nil)
	defer feed.Close()
	s := New("tasks", DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Follow(ctx, feed, "tasks", nil))

	s.Set("list", 1)
	require.NoError(t, feed.Publish(ctx, realtime.ChangeEvent{Collection: "projects", ID: "p"}))
	require.NoError(t, feed.Publish(ctx, realtime.ChangeEvent{Collection: "tasks", ID: "t"}))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSetIfCurrentRefusesReadsOlderThanFlush(t *testing.T) {
	s := New("tasks", DefaultConfig(), nil)

	gen := s.Generation()
	s.Flush()
	assert.False(t, s.SetIfCurrent(gen, "list", 1))
	assert.Equal(t, 0, s.Len())

	gen = s.Generation()
	assert.True(t, s.SetIfCurrent(gen, "list", 2))
	got, ok := Get[int](s, "list")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestFollowFlushesOnResync(t *testing.T) {
	feed := realtime.NewLocalFeed(4, nil)
	defer feed.Close()
	s := New("tasks", DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Follow(ctx, feed, "tasks", nil))

	s.Set("list", 1)
	require.NoError(t, feed.Publish(ctx, realtime.ChangeEvent{Kind: realtime.ChangeResync}))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}
