package rag

import (
	"resume-chat-go/internal/model"
	"sync"
)

// Memory 是链的会话记忆：按时间顺序保存最近 limit 轮问答。
type Memory struct {
	mu    sync.Mutex
	turns []model.ChatTurn
	limit int
}

// NewMemory 用已持久化的历史初始化记忆，只保留最后 limit 轮。limit <= 0 表示不限制。
func NewMemory(limit int, seed []model.ChatTurn) *Memory {
	m := &Memory{limit: limit}
	m.turns = append(m.turns, seed...)
	m.trim()
	return m
}

// Append 追加一轮完整问答。
func (m *Memory) Append(turn model.ChatTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	m.trim()
}

// Turns 返回记忆的副本。
func (m *Memory) Turns() []model.ChatTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ChatTurn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Memory) trim() {
	if m.limit > 0 && len(m.turns) > m.limit {
		m.turns = append([]model.ChatTurn(nil), m.turns[len(m.turns)-m.limit:]...)
	}
}
