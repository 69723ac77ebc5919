package rag

import (
	"fmt"
	"resume-chat-go/internal/config"
	"resume-chat-go/internal/model"
	"resume-chat-go/pkg/llm"
	"strings"
)

const (
	defaultRules    = "Answer the question based only on the following context from the candidate's resume. If the context does not contain the answer, say that you don't know."
	defaultRefStart = "<<RESUME>>"
	defaultRefEnd   = "<<END>>"
)

// PromptTemplate 是固定的问答模板：指令 + 检索到的简历上下文 + 历史轮次 + 问题。
type PromptTemplate struct {
	Rules    string
	RefStart string
	RefEnd   string
}

// NewPromptTemplate 从配置构建模板，未配置的部分使用默认值。
func NewPromptTemplate(cfg config.LLMPromptConfig) PromptTemplate {
	p := PromptTemplate{Rules: cfg.Rules, RefStart: cfg.RefStart, RefEnd: cfg.RefEnd}
	if p.Rules == "" {
		p.Rules = defaultRules
	}
	if p.RefStart == "" {
		p.RefStart = defaultRefStart
	}
	if p.RefEnd == "" {
		p.RefEnd = defaultRefEnd
	}
	return p
}

// systemMessage 按检索返回的顺序拼接上下文。
func (p PromptTemplate) systemMessage(contexts []string) string {
	var sys strings.Builder
	sys.WriteString(p.Rules)
	sys.WriteString("\n\n")
	sys.WriteString(p.RefStart)
	sys.WriteString("\n")
	for i, c := range contexts {
		sys.WriteString(fmt.Sprintf("[%d] %s\n", i+1, strings.TrimSpace(c)))
	}
	sys.WriteString(p.RefEnd)
	return sys.String()
}

// Messages 组装发送给模型的消息序列。
func (p PromptTemplate) Messages(contexts []string, history []model.ChatTurn, question string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)*2+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: p.systemMessage(contexts)})
	for _, turn := range history {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: turn.Question},
			llm.Message{Role: "assistant", Content: turn.Answer},
		)
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: "Question: " + question})
	return msgs
}
