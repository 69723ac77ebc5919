package rag

import (
	"context"
	"errors"
	"resume-chat-go/internal/config"
	"resume-chat-go/internal/model"
	"resume-chat-go/pkg/llm"
	"sync"
	"time"
)

type staticRetriever struct {
	name      string
	fragments []string
	err       error

	mu      sync.Mutex
	queries []string
}

func (r *staticRetriever) Search(_ context.Context, query string, k int) ([]string, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if k < len(r.fragments) {
		return r.fragments[:k], nil
	}
	return r.fragments, nil
}

func (r *staticRetriever) searched() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// scriptedLLM 按顺序回放 chunks，可在第 failAfter 个片段之后返回错误。
type scriptedLLM struct {
	chunks    []string
	failAfter int
	err       error
	// gate 非空时，每发送一个片段前都要等待 gate 放行
	gate chan struct{}

	mu       sync.Mutex
	prompts  [][]llm.Message
	released chan struct{}
}

func (l *scriptedLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams, onChunk llm.ChunkHandler) error {
	l.mu.Lock()
	l.prompts = append(l.prompts, messages)
	l.mu.Unlock()
	defer func() {
		if l.released != nil {
			close(l.released)
		}
	}()

	for i, c := range l.chunks {
		if l.err != nil && i == l.failAfter {
			return l.err
		}
		if l.gate != nil {
			select {
			case <-l.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := onChunk(c); err != nil {
			return err
		}
	}
	if l.err != nil && l.failAfter >= len(l.chunks) {
		return l.err
	}
	return nil
}

func (l *scriptedLLM) ChatMessages(_ context.Context, _ []llm.Message, _ *llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func (l *scriptedLLM) lastPrompt() []llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.prompts) == 0 {
		return nil
	}
	return l.prompts[len(l.prompts)-1]
}

type memoryHistory struct {
	mu    sync.Mutex
	turns map[string][]model.ChatTurn
	loads int
}

func (h *memoryHistory) Load(_ context.Context, sessionID string) ([]model.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads++
	return append([]model.ChatTurn(nil), h.turns[sessionID]...), nil
}

func newTestOrchestrator(client llm.Client, history HistoryLoader) (*Orchestrator, *Registry, *ChainCache) {
	registry := NewRegistry(nil)
	factory := NewChainFactory(client, NewPromptTemplate(config.LLMPromptConfig{}), history, ChainOptions{TopK: 3, MemoryTurns: 4})
	chains := NewChainCache(registry, factory, time.Minute, nil)
	orch := NewOrchestrator(registry, chains, Options{ReadyAttempts: 3, ReadyDelay: 10 * time.Millisecond}, nil)
	return orch, registry, chains
}

func collect(ch <-chan Fragment) []Fragment {
	var out []Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func answerText(fragments []Fragment) string {
	var s string
	for _, f := range fragments {
		if f.Kind == FragmentAnswer {
			s += f.Text
		}
	}
	return s
}
