package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"resume-chat-go/internal/config"
	"resume-chat-go/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskNotReadyAfterBoundedWait(t *testing.T) {
	orch, _, _ := newTestOrchestrator(&scriptedLLM{}, nil)

	start := time.Now()
	fragments := collect(orch.Ask(context.Background(), "s2", "hello?"))

	require.Len(t, fragments, 1)
	assert.Equal(t, FragmentNotReady, fragments[0].Kind)
	assert.Equal(t, "No resume data found. Please upload a resume first.", fragments[0].Text)
	assert.True(t, fragments[0].Terminal())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAskWaitsForLateRegistration(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"Staff ", "Engineer"}}
	registry := NewRegistry(nil)
	factory := NewChainFactory(llm, NewPromptTemplate(config.LLMPromptConfig{}), nil, ChainOptions{TopK: 3})
	chains := NewChainCache(registry, factory, time.Minute, nil)
	orch := NewOrchestrator(registry, chains, Options{ReadyAttempts: 5, ReadyDelay: time.Second}, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		registry.Register("s1", &staticRetriever{fragments: []string{"Staff Engineer at Acme"}})
	}()

	start := time.Now()
	fragments := collect(orch.Ask(context.Background(), "s1", "Title?"))
	assert.Equal(t, "Staff Engineer", answerText(fragments))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAskEmptyContext(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"never"}}
	orch, registry, _ := newTestOrchestrator(llm, nil)
	registry.Register("s1", &staticRetriever{})

	fragments := collect(orch.Ask(context.Background(), "s1", "Hobbies?"))
	require.Len(t, fragments, 1)
	assert.Equal(t, FragmentNoContext, fragments[0].Kind)
	assert.Equal(t, NoContextMessage, fragments[0].Text)
	assert.Nil(t, llm.lastPrompt(), "检索为空时不应调用模型")
}

func TestAskPreservesGenerationOrder(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"The ", "", "most ", "recent ", "", "title ", "is ", "CTO."}}
	orch, registry, _ := newTestOrchestrator(llm, nil)
	registry.Register("s1", &staticRetriever{fragments: []string{"CTO at Initech, 2021-present"}})

	fragments := collect(orch.Ask(context.Background(), "s1", "What is the candidate's most recent job title?"))

	var texts []string
	for _, f := range fragments {
		require.Equal(t, FragmentAnswer, f.Kind)
		texts = append(texts, f.Text)
	}
	assert.Equal(t, []string{"The ", "most ", "recent ", "title ", "is ", "CTO."}, texts)
}

func TestAskRetrievalFailure(t *testing.T) {
	orch, registry, _ := newTestOrchestrator(&scriptedLLM{}, nil)
	registry.Register("s1", &staticRetriever{err: errors.New("index unavailable")})

	fragments := collect(orch.Ask(context.Background(), "s1", "q"))
	require.Len(t, fragments, 1)
	assert.Equal(t, FragmentFailure, fragments[0].Kind)
	assert.Contains(t, fragments[0].Text, "index unavailable")
}

func TestAskGenerationFailureAfterPartialAnswer(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"a", "b", "c"}, failAfter: 2, err: errors.New("stream broken")}
	orch, registry, _ := newTestOrchestrator(llm, nil)
	registry.Register("s1", &staticRetriever{fragments: []string{"ctx"}})

	fragments := collect(orch.Ask(context.Background(), "s1", "q"))
	require.Len(t, fragments, 3)
	assert.Equal(t, "ab", answerText(fragments))
	last := fragments[2]
	assert.Equal(t, FragmentFailure, last.Kind)
	assert.Equal(t, OutcomeError, last.Outcome())
	assert.Contains(t, last.Text, "stream broken")
}

func TestAskSessionIsolation(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"ok"}}
	orch, registry, _ := newTestOrchestrator(llm, nil)
	a := &staticRetriever{fragments: []string{"Alice worked at Acme"}}
	b := &staticRetriever{fragments: []string{"Bob worked at Globex"}}
	registry.Register("sa", a)
	registry.Register("sb", b)

	collect(orch.Ask(context.Background(), "sa", "Where?"))
	promptA := llm.lastPrompt()[0].Content
	collect(orch.Ask(context.Background(), "sb", "Where?"))
	promptB := llm.lastPrompt()[0].Content

	assert.Contains(t, promptA, "Acme")
	assert.NotContains(t, promptA, "Globex")
	assert.Contains(t, promptB, "Globex")
	assert.NotContains(t, promptB, "Acme")
	assert.Equal(t, 1, a.searched())
	assert.Equal(t, 1, b.searched())
}

func TestAskUsesReplacedHandle(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"ok"}}
	orch, registry, _ := newTestOrchestrator(llm, nil)
	h1 := &staticRetriever{fragments: []string{"Resume A: Acme"}}
	h2 := &staticRetriever{fragments: []string{"Resume B: Globex"}}

	registry.Register("s1", h1)
	collect(orch.Ask(context.Background(), "s1", "Where?"))
	registry.Register("s1", h2)
	collect(orch.Ask(context.Background(), "s1", "Where?"))

	assert.Equal(t, 1, h1.searched())
	assert.Equal(t, 1, h2.searched())
	assert.Contains(t, llm.lastPrompt()[0].Content, "Globex")
	assert.NotContains(t, llm.lastPrompt()[0].Content, "Acme")
}

func TestAskCancellationReleasesStream(t *testing.T) {
	gate := make(chan struct{}, 1)
	llm := &scriptedLLM{
		chunks:   []string{"one", "two", "three"},
		gate:     gate,
		released: make(chan struct{}),
	}
	orch, registry, _ := newTestOrchestrator(llm, nil)
	registry.Register("s1", &staticRetriever{fragments: []string{"ctx"}})

	ctx, cancel := context.WithCancel(context.Background())
	stream := orch.Ask(ctx, "s1", "q")

	gate <- struct{}{}
	first, ok := <-stream
	require.True(t, ok)
	assert.Equal(t, "one", first.Text)

	cancel()
	select {
	case <-llm.released:
	case <-time.After(time.Second):
		t.Fatal("取消后模型流没有被释放")
	}
	for f := range stream {
		assert.NotEqual(t, FragmentFailure, f.Kind, "取消不应产生错误片段")
	}
}

func TestAskRememberFeedsNextPrompt(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"Acme"}}
	orch, registry, _ := newTestOrchestrator(llm, &memoryHistory{})
	registry.Register("s1", &staticRetriever{fragments: []string{"ctx"}})

	answer := answerText(collect(orch.Ask(context.Background(), "s1", "Employer?")))
	orch.Remember("s1", model.ChatTurn{Question: "Employer?", Answer: answer, Timestamp: time.Now()})
	collect(orch.Ask(context.Background(), "s1", "Since when?"))

	prompt := llm.lastPrompt()
	require.Len(t, prompt, 4)
	assert.Equal(t, "Employer?", prompt[1].Content)
	assert.Equal(t, "Acme", prompt[2].Content)
	assert.True(t, strings.HasSuffix(prompt[3].Content, "Since when?"))
}

func TestAskMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "resumechat")
	registry := NewRegistry(m)
	factory := NewChainFactory(&scriptedLLM{chunks: []string{"x", "y"}}, NewPromptTemplate(config.LLMPromptConfig{}), nil, ChainOptions{})
	chains := NewChainCache(registry, factory, time.Minute, m)
	orch := NewOrchestrator(registry, chains, Options{ReadyAttempts: 1, ReadyDelay: 5 * time.Millisecond}, m)

	collect(orch.Ask(context.Background(), "missing", "q"))
	registry.Register("s1", &staticRetriever{fragments: []string{"ctx"}})
	collect(orch.Ask(context.Background(), "s1", "q"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AskTotal.WithLabelValues(string(OutcomeNotReady))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AskTotal.WithLabelValues(string(OutcomeFinished))))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Fragments))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChainBuilds))
}
