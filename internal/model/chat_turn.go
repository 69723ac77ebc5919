// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatTurn 代表一次完整的问答交互，按会话存储。
type ChatTurn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}
