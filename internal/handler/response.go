package handler

import (
	"net/http"
	"resume-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// fail 以统一格式返回错误；服务器内部错误只记录日志，不向客户端暴露细节。
func fail(c *gin.Context, status int, op string, err error) {
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error(op, err)
		message = "服务器内部错误"
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// Index 返回欢迎信息。
func Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Upload-and-Chat with Your Resume API!"})
}
