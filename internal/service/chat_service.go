// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/repository"
	"resume-chat-go/pkg/log"
	"strings"
	"time"
)

// PersistPolicy 决定哪些问答会写入聊天记录。
type PersistPolicy string

const (
	// PersistSuccess 只保存完整生成的答案。
	PersistSuccess PersistPolicy = "success"
	// PersistAlways 同时保存未就绪、无上下文和出错时的提示。
	PersistAlways PersistPolicy = "always"
	// PersistNever 不保存任何记录。
	PersistNever PersistPolicy = "never"
)

const persistTimeout = 5 * time.Second

// FrameWriter 是向客户端发送 JSON 帧的通道，通常是一个 websocket 连接。
type FrameWriter interface {
	WriteJSON(v interface{}) error
}

// Asker 提供流式问答，并接收成功问答写回会话记忆。
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) <-chan rag.Fragment
	Remember(sessionID string, turn model.ChatTurn)
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, sessionID, question string, w FrameWriter) (rag.Outcome, error)
}

type chatService struct {
	asker       Asker
	historyRepo repository.HistoryRepository
	policy      PersistPolicy
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(asker Asker, historyRepo repository.HistoryRepository, policy PersistPolicy) ChatService {
	if policy == "" {
		policy = PersistSuccess
	}
	return &chatService{asker: asker, historyRepo: historyRepo, policy: policy}
}

// StreamResponse 把问答流逐片段包装为 {"chunk":"..."} 写给客户端，最后发送完成通知。
// ctx 被取消（客户端停止或断开）时结果为 stopped，且不保存记录。
// 返回的 error 只表示写帧失败，此时连接应被关闭。
func (s *chatService) StreamResponse(ctx context.Context, sessionID, question string, w FrameWriter) (rag.Outcome, error) {
	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var answer strings.Builder
	var last *rag.Fragment
	var writeErr error
	for frag := range s.asker.Ask(askCtx, sessionID, question) {
		if writeErr != nil {
			// 写失败后继续读完，让生成协程尽快退出
			continue
		}
		if err := w.WriteJSON(map[string]string{"chunk": frag.Text}); err != nil {
			log.Warnf("[ChatService] 写入分块失败, 停止生成, sessionID: %s, error: %v", sessionID, err)
			writeErr = err
			cancel()
			continue
		}
		answer.WriteString(frag.Text)
		f := frag
		last = &f
	}

	outcome := rag.OutcomeFinished
	switch {
	case writeErr != nil || ctx.Err() != nil:
		outcome = rag.OutcomeStopped
	case last != nil && last.Terminal():
		outcome = last.Outcome()
	}

	if writeErr == nil {
		if err := sendCompletion(w, outcome); err != nil {
			writeErr = err
		}
	}

	turn := model.ChatTurn{Question: question, Answer: answer.String(), Timestamp: time.Now()}
	if outcome == rag.OutcomeFinished {
		s.asker.Remember(sessionID, turn)
	}
	if s.shouldPersist(outcome) {
		s.persist(ctx, sessionID, turn)
	}
	log.Infof("[ChatService] 问答结束, sessionID: %s, status: %s, 答案长度: %d", sessionID, outcome, len(turn.Answer))
	return outcome, writeErr
}

func (s *chatService) shouldPersist(outcome rag.Outcome) bool {
	switch s.policy {
	case PersistNever:
		return false
	case PersistAlways:
		return outcome != rag.OutcomeStopped
	default:
		return outcome == rag.OutcomeFinished
	}
}

func (s *chatService) persist(ctx context.Context, sessionID string, turn model.ChatTurn) {
	// 客户端可能已经断开，保存不跟随请求的取消
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.historyRepo.Append(saveCtx, sessionID, turn); err != nil {
		// 只记录错误，答案已经发给客户端
		log.Errorf("[ChatService] 保存聊天记录失败, sessionID: %s, error: %v", sessionID, err)
	}
}

var completionMessages = map[rag.Outcome]string{
	rag.OutcomeFinished:  "响应已完成",
	rag.OutcomeNotReady:  "尚未上传简历",
	rag.OutcomeNoContext: "简历中没有相关内容",
	rag.OutcomeError:     "生成回答时出错",
	rag.OutcomeStopped:   "响应已停止",
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(w FrameWriter, outcome rag.Outcome) error {
	now := time.Now()
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    string(outcome),
		"message":   completionMessages[outcome],
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
	if err := w.WriteJSON(notif); err != nil {
		return fmt.Errorf("发送完成通知失败: %w", err)
	}
	return nil
}
