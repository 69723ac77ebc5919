package handler

import (
	"errors"
	"net/http"
	"resume-chat-go/internal/repository"
	"resume-chat-go/internal/service"
	"resume-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责处理所有与简历上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 处理简历上传。会话 ID 取自表单字段 session_id 或请求头 X-Session-ID，均为空时创建新会话。
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件", "data": nil})
		return
	}
	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		sessionID = c.GetHeader("X-Session-ID")
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: 打开上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误", "data": nil})
		return
	}
	defer file.Close()

	res, err := h.uploadService.Upload(c.Request.Context(), sessionID, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		fail(c, uploadErrorStatus(err), "Upload: 上传简历失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "上传成功，简历处理中", "data": res})
}

// Status 返回会话最近一次上传的处理状态。
func (h *UploadHandler) Status(c *gin.Context) {
	sessionID := c.Query("session_id")
	st, err := h.uploadService.Status(sessionID)
	if err != nil {
		fail(c, uploadErrorStatus(err), "Status: 查询上传状态失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": st})
}

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnsupportedFileType),
		errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, repository.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
