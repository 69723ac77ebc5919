package rag

import (
	"context"
	"fmt"
	"resume-chat-go/pkg/log"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// ChainCache 为每个会话缓存至多一条链，并在句柄变化时失效。
// 空闲超过 idleTTL 的链会被自动清理，下次请求时重新构建。
type ChainCache struct {
	registry *Registry
	factory  *ChainFactory
	chains   *cache.Cache
	group    singleflight.Group
	metrics  *Metrics
}

// NewChainCache 创建链缓存，并订阅 registry 的变更以驱逐旧链。idleTTL <= 0 表示永不过期。
func NewChainCache(registry *Registry, factory *ChainFactory, idleTTL time.Duration, metrics *Metrics) *ChainCache {
	expiration, cleanup := cache.NoExpiration, time.Duration(0)
	if idleTTL > 0 {
		expiration, cleanup = idleTTL, idleTTL
	}
	c := &ChainCache{
		registry: registry,
		factory:  factory,
		chains:   cache.New(expiration, cleanup),
		metrics:  metrics,
	}
	registry.OnChange(c.Evict)
	return c
}

// GetOrBuild 返回绑定在会话当前句柄上的链；缓存缺失或已过期时重新构建。
// 会话没有注册句柄时返回 ErrNoRetriever。
func (c *ChainCache) GetOrBuild(ctx context.Context, sessionID string) (*Chain, error) {
	h, ok := c.registry.current(sessionID)
	if !ok {
		c.Evict(sessionID)
		return nil, ErrNoRetriever
	}

	if chain, ok := c.lookup(sessionID); ok && chain.generation == h.generation {
		// 重新写入以刷新空闲过期时间
		c.chains.Set(sessionID, chain, cache.DefaultExpiration)
		return chain, nil
	}

	// 同一会话、同一句柄版本的并发构建只执行一次
	key := fmt.Sprintf("%s#%d", sessionID, h.generation)
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		chain := c.factory.build(context.WithoutCancel(ctx), sessionID, h)
		c.metrics.incChainBuilds()
		// 构建期间句柄可能已被替换，此时不写入缓存
		if cur, ok := c.registry.current(sessionID); ok && cur.generation == h.generation {
			c.chains.Set(sessionID, chain, cache.DefaultExpiration)
		}
		log.Infof("[ChainCache] 已构建会话链, sessionID: %s, generation: %d", sessionID, h.generation)
		return chain, nil
	})
	return v.(*Chain), nil
}

// Peek 返回仍然有效的缓存链，不触发构建。
func (c *ChainCache) Peek(sessionID string) (*Chain, bool) {
	chain, ok := c.lookup(sessionID)
	if !ok {
		return nil, false
	}
	h, registered := c.registry.current(sessionID)
	if !registered || h.generation != chain.generation {
		return nil, false
	}
	return chain, true
}

// Evict 删除会话的缓存链。
func (c *ChainCache) Evict(sessionID string) {
	c.chains.Delete(sessionID)
}

// Len 返回缓存中的链数量（包含尚未被清理的过期项）。
func (c *ChainCache) Len() int {
	return c.chains.ItemCount()
}

func (c *ChainCache) lookup(sessionID string) (*Chain, bool) {
	v, ok := c.chains.Get(sessionID)
	if !ok {
		return nil, false
	}
	chain, ok := v.(*Chain)
	return chain, ok
}
