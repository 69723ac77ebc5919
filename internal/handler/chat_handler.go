// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"resume-chat-go/internal/repository"
	"resume-chat-go/internal/service"
	"resume-chat-go/pkg/log"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 连接上排队等待回答的问题数上限
const pendingQuestions = 16

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// wsWriter 串行化对连接的写入，gorilla 的连接不支持并发写。
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// controlMessage 是客户端发来的控制指令，如 {"type":"stop"}。
type controlMessage struct {
	Type string `json:"type"`
}

// Handle 处理一个传入的 WebSocket 连接。每条文本消息是一个问题，按到达顺序逐个回答。
func (h *ChatHandler) Handle(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !repository.ValidSessionID(sessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的会话 ID", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，sessionID: %s", sessionID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	w := &wsWriter{conn: conn}
	var (
		stopMu      sync.Mutex
		stopCurrent context.CancelFunc
	)
	questions := make(chan string, pendingQuestions)

	// 读协程：连接断开时取消正在进行的回答
	go func() {
		defer close(questions)
		defer cancel()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warnf("从 WebSocket 读取消息失败: %v", err)
				}
				return
			}

			if isStopCommand(message) {
				stopMu.Lock()
				if stopCurrent != nil {
					stopCurrent()
				}
				stopMu.Unlock()
				log.Infof("收到停止指令，正在中断流式响应, sessionID: %s", sessionID)
				_ = w.WriteJSON(map[string]interface{}{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": time.Now().UnixMilli(),
					"date":      time.Now().Format("2006-01-02T15:04:05"),
				})
				continue
			}

			question := strings.TrimSpace(string(message))
			if question == "" {
				continue
			}
			select {
			case questions <- question:
			case <-ctx.Done():
				return
			}
		}
	}()

	for question := range questions {
		askCtx, askCancel := context.WithCancel(ctx)
		stopMu.Lock()
		stopCurrent = askCancel
		stopMu.Unlock()

		log.Infof("收到问题, sessionID: %s, 长度: %d", sessionID, len(question))
		_, err := h.chatService.StreamResponse(askCtx, sessionID, question, w)

		stopMu.Lock()
		stopCurrent = nil
		stopMu.Unlock()
		askCancel()

		if err != nil {
			log.Warnf("发送响应失败，关闭连接, sessionID: %s, error: %v", sessionID, err)
			return
		}
	}
	log.Infof("WebSocket 连接已关闭，sessionID: %s", sessionID)
}

func isStopCommand(message []byte) bool {
	if len(message) == 0 || message[0] != '{' {
		return false
	}
	var ctrl controlMessage
	if err := json.Unmarshal(message, &ctrl); err != nil {
		return false
	}
	return ctrl.Type == "stop"
}
