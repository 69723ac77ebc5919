// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"resume-chat-go/internal/model"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrInvalidSessionID 表示会话 ID 不能安全地作为存储键。
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// HistoryRepository 按会话保存聊天记录。每次追加都读出完整记录再整体写回。
type HistoryRepository interface {
	Load(ctx context.Context, sessionID string) ([]model.ChatTurn, error)
	Append(ctx context.Context, sessionID string, turn model.ChatTurn) error
	Delete(ctx context.Context, sessionID string) error
}

// ValidSessionID 报告 id 是否是合法的会话 ID。
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisHistoryRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisHistoryRepository 创建基于 Redis 的聊天记录存储，每个会话一个 JSON 数组。
func NewRedisHistoryRepository(redisClient *redis.Client, ttl time.Duration) HistoryRepository {
	return &redisHistoryRepository{redisClient: redisClient, ttl: ttl}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("chat_history:%s", sessionID)
}

func (r *redisHistoryRepository) Load(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	return r.load(ctx, r.redisClient, sessionID)
}

func (r *redisHistoryRepository) load(ctx context.Context, c stringGetter, sessionID string) ([]model.ChatTurn, error) {
	jsonData, err := c.Get(ctx, historyKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatTurn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	var turns []model.ChatTurn
	if err := json.Unmarshal([]byte(jsonData), &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat history: %w", err)
	}
	return turns, nil
}

// Append 在 WATCH 事务中完成读-改-写，同一会话的并发追加不会互相覆盖。
func (r *redisHistoryRepository) Append(ctx context.Context, sessionID string, turn model.ChatTurn) error {
	key := historyKey(sessionID)
	for i := 0; i < 5; i++ {
		err := r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
			turns, err := r.load(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			jsonData, err := json.Marshal(append(turns, turn))
			if err != nil {
				return fmt.Errorf("failed to marshal chat history: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, jsonData, r.ttl)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set chat history: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to set chat history: too much contention on %s", key)
}

func (r *redisHistoryRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.redisClient.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete chat history: %w", err)
	}
	return nil
}

// fileHistory 是文件存储的格式：{"session_id": ..., "messages": [...]}。
type fileHistory struct {
	SessionID string        `json:"session_id"`
	Messages  []fileMessage `json:"messages"`
}

type fileMessage struct {
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Timestamp   time.Time `json:"timestamp"`
}

type fileHistoryRepository struct {
	dir   string
	locks sync.Map // sessionID -> *sync.Mutex
}

// NewFileHistoryRepository 创建基于本地文件的聊天记录存储，每个会话一个 <dir>/<session>.json。
func NewFileHistoryRepository(dir string) (HistoryRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建聊天记录目录失败: %w", err)
	}
	return &fileHistoryRepository{dir: dir}, nil
}

func (r *fileHistoryRepository) path(sessionID string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(r.dir, sessionID+".json"), nil
}

func (r *fileHistoryRepository) lock(sessionID string) func() {
	v, _ := r.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *fileHistoryRepository) Load(_ context.Context, sessionID string) ([]model.ChatTurn, error) {
	p, err := r.path(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := r.lock(sessionID)
	defer unlock()
	return r.read(p)
}

func (r *fileHistoryRepository) read(p string) ([]model.ChatTurn, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return []model.ChatTurn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取聊天记录失败: %w", err)
	}
	var h fileHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("解析聊天记录失败: %w", err)
	}
	turns := make([]model.ChatTurn, 0, len(h.Messages))
	for _, m := range h.Messages {
		turns = append(turns, model.ChatTurn{Question: m.UserMessage, Answer: m.AIResponse, Timestamp: m.Timestamp})
	}
	return turns, nil
}

func (r *fileHistoryRepository) Append(_ context.Context, sessionID string, turn model.ChatTurn) error {
	p, err := r.path(sessionID)
	if err != nil {
		return err
	}
	unlock := r.lock(sessionID)
	defer unlock()

	turns, err := r.read(p)
	if err != nil {
		return err
	}
	turns = append(turns, turn)

	h := fileHistory{SessionID: sessionID, Messages: make([]fileMessage, 0, len(turns))}
	for _, t := range turns {
		h.Messages = append(h.Messages, fileMessage{UserMessage: t.Question, AIResponse: t.Answer, Timestamp: t.Timestamp})
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化聊天记录失败: %w", err)
	}

	// 先写临时文件再改名，写入中途失败不会损坏已有记录
	tmp, err := os.CreateTemp(r.dir, sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("写入聊天记录失败: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("写入聊天记录失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("写入聊天记录失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("写入聊天记录失败: %w", err)
	}
	return nil
}

func (r *fileHistoryRepository) Delete(_ context.Context, sessionID string) error {
	p, err := r.path(sessionID)
	if err != nil {
		return err
	}
	unlock := r.lock(sessionID)
	defer unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除聊天记录失败: %w", err)
	}
	r.locks.Delete(sessionID)
	return nil
}
