package rag

import (
	"context"
	"errors"
	"fmt"
	"resume-chat-go/internal/model"
	"resume-chat-go/pkg/log"
	"time"
)

const (
	// NotReadyMessage 在等待超时后仍没有检索句柄时返回。
	NotReadyMessage = "No resume data found. Please upload a resume first."
	// NoContextMessage 在检索结果为空时返回。
	NoContextMessage = "I couldn't find any relevant information in your resume to answer that question."
)

// Outcome 是一次 ask 的结束状态。
type Outcome string

const (
	OutcomeFinished  Outcome = "finished"
	OutcomeNotReady  Outcome = "not_ready"
	OutcomeNoContext Outcome = "no_context"
	OutcomeError     Outcome = "error"
	OutcomeStopped   Outcome = "stopped"
)

// FragmentKind 区分答案片段与终止提示。
type FragmentKind int

const (
	FragmentAnswer FragmentKind = iota
	FragmentNotReady
	FragmentNoContext
	FragmentFailure
)

// Fragment 是流中的一个元素。除 FragmentAnswer 外，其余类型都是流的最后一个元素。
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Terminal 报告该片段是否是终止提示。
func (f Fragment) Terminal() bool {
	return f.Kind != FragmentAnswer
}

// Outcome 返回终止提示对应的结束状态；答案片段返回 OutcomeFinished。
func (f Fragment) Outcome() Outcome {
	switch f.Kind {
	case FragmentNotReady:
		return OutcomeNotReady
	case FragmentNoContext:
		return OutcomeNoContext
	case FragmentFailure:
		return OutcomeError
	default:
		return OutcomeFinished
	}
}

// Options 控制 Orchestrator 的就绪等待。
type Options struct {
	ReadyAttempts int
	ReadyDelay    time.Duration
}

// Orchestrator 对外提供流式问答。
type Orchestrator struct {
	registry *Registry
	chains   *ChainCache
	opts     Options
	metrics  *Metrics
}

// NewOrchestrator 创建 Orchestrator。
func NewOrchestrator(registry *Registry, chains *ChainCache, opts Options, metrics *Metrics) *Orchestrator {
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = 5
	}
	if opts.ReadyDelay <= 0 {
		opts.ReadyDelay = time.Second
	}
	return &Orchestrator{registry: registry, chains: chains, opts: opts, metrics: metrics}
}

// Ask 针对会话的简历回答问题，返回逐片段产出的流。
//
// 流总是会被关闭：正常结束、以一个终止提示结束，或在 ctx 取消后直接关闭。
// 调用方应持续读取直到通道关闭，或取消 ctx 后停止读取；取消后模型的流式请求会被尽快中止。
func (o *Orchestrator) Ask(ctx context.Context, sessionID, question string) <-chan Fragment {
	out := make(chan Fragment)
	go o.run(ctx, sessionID, question, out)
	return out
}

// Remember 把一轮完整问答写入会话当前链的记忆。链已失效或尚未构建时忽略。
func (o *Orchestrator) Remember(sessionID string, turn model.ChatTurn) {
	if chain, ok := o.chains.Peek(sessionID); ok {
		chain.Remember(turn)
	}
}

func (o *Orchestrator) run(ctx context.Context, sessionID, question string, out chan<- Fragment) {
	defer close(out)

	outcome := OutcomeStopped
	defer func() { o.metrics.observeAsk(outcome) }()

	send := func(f Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		outcome = OutcomeError
		send(Fragment{Kind: FragmentFailure, Text: fmt.Sprintf("Sorry, an error occurred while generating the answer: %v", err)})
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Orchestrator] 问答过程发生 panic, sessionID: %s, panic: %v", sessionID, r)
			fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	start := time.Now()
	_, ready := o.registry.Await(ctx, sessionID, o.opts.ReadyAttempts, o.opts.ReadyDelay)
	o.metrics.observeWait(time.Since(start))
	if ctx.Err() != nil {
		return
	}
	if !ready {
		log.Infof("[Orchestrator] 会话尚未上传简历, sessionID: %s", sessionID)
		outcome = OutcomeNotReady
		send(Fragment{Kind: FragmentNotReady, Text: NotReadyMessage})
		return
	}

	chain, err := o.chains.GetOrBuild(ctx, sessionID)
	if err != nil {
		// 等待结束后句柄又被移除（会话被删除）
		if errors.Is(err, ErrNoRetriever) {
			outcome = OutcomeNotReady
			send(Fragment{Kind: FragmentNotReady, Text: NotReadyMessage})
			return
		}
		log.Errorf("[Orchestrator] 获取会话链失败, sessionID: %s, error: %v", sessionID, err)
		fail(err)
		return
	}

	contexts, err := chain.Retrieve(ctx, question)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Errorf("[Orchestrator] 检索失败, sessionID: %s, error: %v", sessionID, err)
		fail(err)
		return
	}
	if len(contexts) == 0 {
		outcome = OutcomeNoContext
		send(Fragment{Kind: FragmentNoContext, Text: NoContextMessage})
		return
	}

	err = chain.Stream(ctx, chain.Messages(question, contexts), func(chunk string) error {
		if chunk == "" {
			return nil
		}
		if !send(Fragment{Kind: FragmentAnswer, Text: chunk}) {
			return ctx.Err()
		}
		o.metrics.incFragments()
		return nil
	})
	if ctx.Err() != nil {
		log.Infof("[Orchestrator] 调用方已取消, 停止生成, sessionID: %s", sessionID)
		return
	}
	if err != nil {
		log.Errorf("[Orchestrator] 生成失败, sessionID: %s, error: %v", sessionID, err)
		fail(err)
		return
	}
	outcome = OutcomeFinished
}
