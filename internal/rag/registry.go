// Package rag 实现按会话隔离的检索增强问答编排：
// 检索句柄注册表、会话链缓存以及流式问答的 Orchestrator。
package rag

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoRetriever 表示会话尚未注册检索句柄（用户还没有上传简历），属于正常状态。
var ErrNoRetriever = errors.New("no retriever registered for session")

// Retriever 是绑定到单个会话索引的检索能力，按相关度降序返回文本片段。
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// handle 是注册表中的一项。generation 在每次 Register 时单调递增，
// 用于判断缓存的链是否仍绑定在当前句柄上。
type handle struct {
	retriever  Retriever
	generation uint64
}

// Registry 维护 sessionID -> 检索句柄 的映射。所有方法均可并发调用。
// 同一 key 上的操作是线性一致的；锁只覆盖内存中的 map 读写。
type Registry struct {
	mu         sync.RWMutex
	handles    map[string]handle
	generation uint64
	// changed 在每次 Register 时被关闭并替换，用于唤醒等待中的 Await。
	changed   chan struct{}
	listeners []func(sessionID string)
	metrics   *Metrics
}

// NewRegistry 创建一个空的注册表。metrics 可以为 nil。
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		handles: make(map[string]handle),
		changed: make(chan struct{}),
		metrics: metrics,
	}
}

// OnChange 注册一个回调，在某个会话的句柄被替换或移除后调用（在锁外执行）。
func (r *Registry) OnChange(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register 安装或替换会话的检索句柄，并使该会话的缓存链失效。
func (r *Registry) Register(sessionID string, retriever Retriever) {
	r.mu.Lock()
	r.generation++
	r.handles[sessionID] = handle{retriever: retriever, generation: r.generation}
	close(r.changed)
	r.changed = make(chan struct{})
	listeners := append([]func(string){}, r.listeners...)
	size := len(r.handles)
	r.mu.Unlock()

	r.metrics.setRegistered(size)
	for _, fn := range listeners {
		fn(sessionID)
	}
}

// Lookup 非阻塞地返回会话当前的检索句柄。
func (r *Registry) Lookup(sessionID string) (Retriever, bool) {
	h, ok := r.current(sessionID)
	if !ok {
		return nil, false
	}
	return h.retriever, true
}

// Unregister 移除会话的检索句柄，同时通过 OnChange 回调移除对应的链。
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	_, existed := r.handles[sessionID]
	delete(r.handles, sessionID)
	listeners := append([]func(string){}, r.listeners...)
	size := len(r.handles)
	r.mu.Unlock()

	if !existed {
		return
	}
	r.metrics.setRegistered(size)
	for _, fn := range listeners {
		fn(sessionID)
	}
}

// Len 返回已注册的会话数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Registry) current(sessionID string) (handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[sessionID]
	return h, ok
}

// Await 等待会话注册检索句柄，总等待时间不超过 attempts × delay。
// 不做固定间隔轮询：每次 Register 都会唤醒等待者重新检查，上传完成后立即可见。
// ctx 取消时立即返回 false。
func (r *Registry) Await(ctx context.Context, sessionID string, attempts int, delay time.Duration) (Retriever, bool) {
	if attempts < 1 {
		attempts = 1
	}
	deadline := time.NewTimer(time.Duration(attempts) * delay)
	defer deadline.Stop()

	for {
		r.mu.RLock()
		h, ok := r.handles[sessionID]
		changed := r.changed
		r.mu.RUnlock()
		if ok {
			return h.retriever, true
		}

		select {
		case <-changed:
		case <-deadline.C:
			// 最后再确认一次，避免与 Register 恰好同时发生时漏判
			return r.Lookup(sessionID)
		case <-ctx.Done():
			return nil, false
		}
	}
}
