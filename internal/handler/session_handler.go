package handler

import (
	"errors"
	"net/http"
	"resume-chat-go/internal/repository"
	"resume-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责会话的创建、删除与查询。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Create 创建一个空会话。
func (h *SessionHandler) Create(c *gin.Context) {
	id := h.sessionService.Create()
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": gin.H{"session_id": id}})
}

// Delete 删除会话。检索句柄立即失效，存储的数据在后台清理。
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessionService.Delete(c.Param("sessionId")); err != nil {
		fail(c, sessionErrorStatus(err), "Delete: 删除会话失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话已删除", "data": nil})
}

// History 返回会话的聊天记录。
func (h *SessionHandler) History(c *gin.Context) {
	turns, err := h.sessionService.History(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		fail(c, sessionErrorStatus(err), "History: 获取聊天记录失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": turns})
}

// Resume 返回会话最新简历的下载链接。
func (h *SessionHandler) Resume(c *gin.Context) {
	url, err := h.sessionService.ResumeURL(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		fail(c, sessionErrorStatus(err), "Resume: 生成下载链接失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoResume):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
