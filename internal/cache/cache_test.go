package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRU[int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	c.Set("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRUTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewLRU[string](8, time.Minute)
	c.now = func() time.Time { return now }
	c.Set("k", "Europe/Berlin")

	now = now.Add(59 * time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "Europe/Berlin", v)

	now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUDisabled(t *testing.T) {
	c := NewLRU[int](0, time.Minute)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUConcurrent(t *testing.T) {
	c := NewLRU[int](64, time.Minute)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 500; i++ {
				k := fmt.Sprintf("%d:%d", g, i%100)
				c.Set(k, i)
				c.Get(k)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.LessOrEqual(t, c.Len(), 64)
}

type result struct {
	Zone  string `json:"zone"`
	Found bool   `json:"found"`
}

func TestLayeredWithoutRedis(t *testing.T) {
	ctx := context.Background()
	l := NewLayered[result](16, time.Minute, nil, "tz")
	_, ok := l.Get(ctx, "standard:1:2")
	assert.False(t, ok)

	l.Set(ctx, "standard:1:2", result{Zone: "Asia/Tokyo", Found: true})
	v, ok := l.Get(ctx, "standard:1:2")
	require.True(t, ok)
	assert.Equal(t, "Asia/Tokyo", v.Zone)

	l.SetGeneration("2")
	_, ok = l.Get(ctx, "standard:1:2")
	assert.False(t, ok, "generation switch drops local entries")
	assert.Equal(t, "tz:2:k", l.redisKey("k"))
}

func TestLayeredSetAtStaleGeneration(t *testing.T) {
	ctx := context.Background()
	l := NewLayered[result](16, time.Minute, nil, "tz")
	l.SetGeneration("a1")
	gen := l.Generation()
	assert.Equal(t, "a1", gen)

	// 计算期间数据集被替换
	l.SetGeneration("b2")
	assert.False(t, l.SetAt(ctx, gen, "standard:1:2", result{Zone: "Europe/Berlin", Found: true}))
	_, ok := l.Get(ctx, "standard:1:2")
	assert.False(t, ok, "answer computed on the old dataset is dropped")

	assert.True(t, l.SetAt(ctx, l.Generation(), "standard:1:2", result{Zone: "Europe/Paris", Found: true}))
	v, ok := l.Get(ctx, "standard:1:2")
	require.True(t, ok)
	assert.Equal(t, "Europe/Paris", v.Zone)
	assert.Equal(t, "tz:b2:k", l.redisKey("k"))
}
