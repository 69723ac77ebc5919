package rag

import (
	"context"
	"resume-chat-go/internal/model"
	"resume-chat-go/pkg/llm"
	"resume-chat-go/pkg/log"
	"time"
)

// HistoryLoader 读取会话已持久化的问答记录，用于初始化链的会话记忆。
type HistoryLoader interface {
	Load(ctx context.Context, sessionID string) ([]model.ChatTurn, error)
}

// Chain 绑定了一个会话的检索句柄、固定模板、模型客户端和会话记忆。
// 只有当它绑定的句柄仍是注册表中的当前句柄时才有效。
type Chain struct {
	sessionID  string
	generation uint64
	retriever  Retriever
	prompt     PromptTemplate
	client     llm.Client
	gen        *llm.GenerationParams
	memory     *Memory
	topK       int
	builtAt    time.Time
}

// SessionID 返回链所属的会话。
func (c *Chain) SessionID() string { return c.sessionID }

// Generation 返回链绑定的句柄版本号。
func (c *Chain) Generation() uint64 { return c.generation }

// Retrieve 从绑定的句柄检索 topK 个片段。
func (c *Chain) Retrieve(ctx context.Context, question string) ([]string, error) {
	return c.retriever.Search(ctx, question, c.topK)
}

// Messages 用模板与当前记忆组装提示。
func (c *Chain) Messages(question string, contexts []string) []llm.Message {
	return c.prompt.Messages(contexts, c.memory.Turns(), question)
}

// Stream 调用模型的流式接口。
func (c *Chain) Stream(ctx context.Context, messages []llm.Message, onChunk llm.ChunkHandler) error {
	return c.client.StreamChatMessages(ctx, messages, c.gen, onChunk)
}

// Remember 把一轮完整的问答写入会话记忆。
func (c *Chain) Remember(turn model.ChatTurn) {
	c.memory.Append(turn)
}

// ChainOptions 控制链的构建参数。
type ChainOptions struct {
	TopK        int
	MemoryTurns int
	Generation  *llm.GenerationParams
}

// ChainFactory 负责构建链。构建成本主要是读取一次会话历史。
type ChainFactory struct {
	client  llm.Client
	prompt  PromptTemplate
	history HistoryLoader
	opts    ChainOptions
}

// NewChainFactory 创建链工厂。history 可以为 nil，此时链以空记忆开始。
func NewChainFactory(client llm.Client, prompt PromptTemplate, history HistoryLoader, opts ChainOptions) *ChainFactory {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &ChainFactory{client: client, prompt: prompt, history: history, opts: opts}
}

func (f *ChainFactory) build(ctx context.Context, sessionID string, h handle) *Chain {
	var seed []model.ChatTurn
	if f.history != nil {
		turns, err := f.history.Load(ctx, sessionID)
		if err != nil {
			// 历史读取失败不影响问答，只是没有上下文记忆
			log.Warnf("[ChainFactory] 读取会话历史失败, sessionID: %s, error: %v", sessionID, err)
		} else {
			seed = turns
		}
	}
	return &Chain{
		sessionID:  sessionID,
		generation: h.generation,
		retriever:  h.retriever,
		prompt:     f.prompt,
		client:     f.client,
		gen:        f.opts.Generation,
		memory:     NewMemory(f.opts.MemoryTurns, seed),
		topK:       f.opts.TopK,
		builtAt:    time.Now(),
	}
}
