package handler

import (
	"errors"
	"net/http"
	"resume-chat-go/internal/repository"
	"resume-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ScoreHandler 负责岗位匹配度评分。
type ScoreHandler struct {
	scoreService service.ScoreService
}

// NewScoreHandler 创建一个新的 ScoreHandler。
func NewScoreHandler(scoreService service.ScoreService) *ScoreHandler {
	return &ScoreHandler{scoreService: scoreService}
}

// Score 按岗位要求为简历打分。
func (h *ScoreHandler) Score(c *gin.Context) {
	var req service.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	res, err := h.scoreService.Score(req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, repository.ErrInvalidSessionID):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrNoResumeText):
			status = http.StatusNotFound
		}
		fail(c, status, "Score: 评分失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": res})
}
