package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/application/retrieval"
	wfmodel "z-novel-writer/internal/workflow/model"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestCache_GetOrLoadSafe(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewCache(c)
	ctx := context.Background()

	var loads atomic.Int32
	loader := func() (interface{}, error) {
		loads.Add(1)
		return []retrieval.Hit{{ID: "a", Text: "雾城常年下雨"}}, nil
	}

	raw, err := cache.GetOrLoadSafe(ctx, "search:knowledge:1:abc", time.Minute, loader)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","source":"","text":"雾城常年下雨","score":0}]`, string(raw))

	raw2, err := cache.GetOrLoadSafe(ctx, "search:knowledge:1:abc", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
	assert.Equal(t, int32(1), loads.Load())
	assert.True(t, mr.Exists("search:knowledge:1:abc"))
}

func TestCache_GetOrLoadSafe_ConcurrentLoadersShare(t *testing.T) {
	c, _ := newTestClient(t)
	cache := NewCache(c)

	var loads atomic.Int32
	release := make(chan struct{})
	loader := func() (interface{}, error) {
		loads.Add(1)
		<-release
		return []string{"x"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrLoadSafe(context.Background(), "expand:k", time.Minute, loader)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(5))
	assert.GreaterOrEqual(t, loads.Load(), int32(1))
}

func TestCache_LoaderErrorNotCached(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewCache(c)

	_, err := cache.GetOrLoadSafe(context.Background(), "k", time.Minute, func() (interface{}, error) {
		return nil, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, mr.Exists("k"))
}

func TestCache_InvalidatePartition(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewCache(c)
	ctx := context.Background()

	knowledgeKey := retrieval.SearchCacheKey(wfmodel.PartitionKnowledge, "钟楼", 5)
	projectKey := retrieval.SearchCacheKey(wfmodel.PartitionProject, "钟楼", 5)
	require.NoError(t, mr.Set(knowledgeKey, "[]"))
	require.NoError(t, mr.Set(projectKey, "[]"))

	require.NoError(t, cache.InvalidatePartition(ctx, wfmodel.PartitionKnowledge))
	assert.False(t, mr.Exists(knowledgeKey))
	assert.True(t, mr.Exists(projectKey))
}

func TestCachedExpander(t *testing.T) {
	c, _ := newTestClient(t)
	var calls atomic.Int32
	next := expanderFunc(func(_ context.Context, q string) ([]string, error) {
		calls.Add(1)
		return []string{q + "的下落", "寻找" + q}, nil
	})
	e := retrieval.NewCachedExpander(next, NewCache(c), time.Minute)

	for i := 0; i < 3; i++ {
		got, err := e.Expand(context.Background(), "黑猫")
		require.NoError(t, err)
		assert.Equal(t, []string{"黑猫的下落", "寻找黑猫"}, got)
	}
	assert.Equal(t, int32(1), calls.Load())
}

type expanderFunc func(ctx context.Context, q string) ([]string, error)

func (f expanderFunc) Expand(ctx context.Context, q string) ([]string, error) { return f(ctx, q) }
