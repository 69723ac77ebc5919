package rag

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterReplaceUnregister(t *testing.T) {
	r := NewRegistry(nil)

	_, ok := r.Lookup("s1")
	assert.False(t, ok)

	h1 := &staticRetriever{name: "H1"}
	h2 := &staticRetriever{name: "H2"}
	r.Register("s1", h1)
	got, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Same(t, h1, got)

	r.Register("s1", h2)
	got, ok = r.Lookup("s1")
	require.True(t, ok)
	assert.Same(t, h2, got, "替换后查找应返回新句柄")

	r.Unregister("s1")
	_, ok = r.Lookup("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryGenerationIncreases(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("s1", &staticRetriever{})
	first, _ := r.current("s1")
	r.Register("s2", &staticRetriever{})
	r.Register("s1", &staticRetriever{})
	second, _ := r.current("s1")
	assert.Greater(t, second.generation, first.generation)
}

func TestRegistryOnChange(t *testing.T) {
	r := NewRegistry(nil)
	var mu sync.Mutex
	var changed []string
	r.OnChange(func(id string) {
		mu.Lock()
		changed = append(changed, id)
		mu.Unlock()
	})

	r.Register("s1", &staticRetriever{})
	r.Unregister("s1")
	r.Unregister("missing")

	assert.Equal(t, []string{"s1", "s1"}, changed)
}

func TestRegistryAwaitAlreadyRegistered(t *testing.T) {
	r := NewRegistry(nil)
	h := &staticRetriever{}
	r.Register("s1", h)

	start := time.Now()
	got, ok := r.Await(context.Background(), "s1", 5, time.Second)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRegistryAwaitWakesOnRegister(t *testing.T) {
	r := NewRegistry(nil)
	h := &staticRetriever{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Register("other", &staticRetriever{})
		r.Register("s1", h)
	}()

	start := time.Now()
	got, ok := r.Await(context.Background(), "s1", 5, time.Second)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Less(t, time.Since(start), time.Second, "注册后应立即唤醒，而不是等到超时")
}

func TestRegistryAwaitTimesOut(t *testing.T) {
	r := NewRegistry(nil)
	start := time.Now()
	_, ok := r.Await(context.Background(), "never", 3, 10*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRegistryAwaitCancelled(t *testing.T) {
	r := NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok := r.Await(ctx, "never", 5, time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistryConcurrentSessions(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			h := &staticRetriever{name: id}
			r.Register(id, h)
			got, ok := r.Lookup(id)
			assert.True(t, ok)
			assert.Same(t, h, got)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestRegistryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "resumechat")
	r := NewRegistry(m)

	r.Register("s1", &staticRetriever{})
	r.Register("s2", &staticRetriever{})
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RegisteredSessions))

	r.Unregister("s1")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegisteredSessions))
}
