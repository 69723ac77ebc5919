package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/repository"
	"resume-chat-go/pkg/log"
	"resume-chat-go/pkg/storage"
	"resume-chat-go/pkg/tasks"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedFileType 表示文件扩展名不在允许列表中。
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrFileTooLarge 表示文件超过大小限制。
	ErrFileTooLarge = errors.New("file too large")
	// ErrEmptyFile 表示上传的文件没有内容。
	ErrEmptyFile = errors.New("empty file")
)

// ObjectWriter 保存上传的原始文件。
type ObjectWriter interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// TaskPublisher 投递简历索引任务。
type TaskPublisher interface {
	PublishResumeTask(ctx context.Context, task tasks.ResumeIndexTask) error
}

// UploadResult 是上传接口的返回内容。
type UploadResult struct {
	SessionID string `json:"session_id"`
	FileMD5   string `json:"file_md5"`
	FileName  string `json:"file_name"`
	Status    string `json:"status"`
}

// UploadStatus 描述会话最近一次上传以及能否开始问答。
type UploadStatus struct {
	SessionID string              `json:"session_id"`
	Ready     bool                `json:"ready"`
	Upload    *model.ResumeUpload `json:"upload"`
}

// UploadOptions 控制上传校验。
type UploadOptions struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// UploadService 接口定义了简历上传相关的业务操作。
type UploadService interface {
	Upload(ctx context.Context, sessionID, fileName string, size int64, file io.Reader) (*UploadResult, error)
	Status(sessionID string) (*UploadStatus, error)
}

type uploadService struct {
	uploadRepo repository.UploadRepository
	objects    ObjectWriter
	publisher  TaskPublisher
	registry   *rag.Registry
	opts       UploadOptions
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(uploadRepo repository.UploadRepository, objects ObjectWriter, publisher TaskPublisher, registry *rag.Registry, opts UploadOptions) UploadService {
	return &uploadService{
		uploadRepo: uploadRepo,
		objects:    objects,
		publisher:  publisher,
		registry:   registry,
		opts:       opts,
	}
}

// Upload 校验并保存简历，写入上传记录后投递索引任务。sessionID 为空时创建新会话。
func (s *uploadService) Upload(ctx context.Context, sessionID, fileName string, size int64, file io.Reader) (*UploadResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if !repository.ValidSessionID(sessionID) {
		return nil, repository.ErrInvalidSessionID
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if !s.allowed(ext) {
		log.Warnf("[UploadService] 不支持的文件类型, sessionID: %s, fileName: %s", sessionID, fileName)
		return nil, ErrUnsupportedFileType
	}
	if s.opts.MaxFileSize > 0 && size > s.opts.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	// 多读一个字节，用于发现声明大小与实际内容不符的情况
	limit := s.opts.MaxFileSize
	if limit <= 0 {
		limit = size
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	sum := md5.Sum(data)
	fileMD5 := hex.EncodeToString(sum[:])
	objectName := storage.ResumeObjectName(sessionID, fileMD5, ext)
	log.Infof("[UploadService] 开始上传简历, sessionID: %s, fileName: %s, MD5: %s, 大小: %d", sessionID, fileName, fileMD5, len(data))

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.objects.Put(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		log.Errorf("[UploadService] 上传文件到对象存储失败, object: %s, error: %v", objectName, err)
		return nil, fmt.Errorf("保存文件失败: %w", err)
	}

	record := &model.ResumeUpload{
		SessionID:  sessionID,
		FileMD5:    fileMD5,
		FileName:   fileName,
		ObjectName: objectName,
		TotalSize:  int64(len(data)),
		Status:     model.UploadStatusProcessing,
	}
	if err := s.uploadRepo.Create(record); err != nil {
		log.Errorf("[UploadService] 创建上传记录失败, sessionID: %s, error: %v", sessionID, err)
		return nil, fmt.Errorf("创建上传记录失败: %w", err)
	}

	task := tasks.ResumeIndexTask{
		UploadID:   record.ID,
		SessionID:  sessionID,
		FileMD5:    fileMD5,
		FileName:   fileName,
		ObjectName: objectName,
	}
	if err := s.publisher.PublishResumeTask(ctx, task); err != nil {
		log.Errorf("[UploadService] 投递索引任务失败, sessionID: %s, error: %v", sessionID, err)
		if markErr := s.uploadRepo.MarkFailed(record.ID); markErr != nil {
			log.Errorf("[UploadService] 标记上传失败状态出错, uploadID: %d, error: %v", record.ID, markErr)
		}
		return nil, fmt.Errorf("投递索引任务失败: %w", err)
	}
	log.Infof("[UploadService] 简历已提交处理, sessionID: %s, uploadID: %d", sessionID, record.ID)

	return &UploadResult{SessionID: sessionID, FileMD5: fileMD5, FileName: fileName, Status: "processing"}, nil
}

// Status 返回会话最近一次上传的记录和就绪状态。
func (s *uploadService) Status(sessionID string) (*UploadStatus, error) {
	if !repository.ValidSessionID(sessionID) {
		return nil, repository.ErrInvalidSessionID
	}
	latest, err := s.uploadRepo.LatestBySession(sessionID)
	if err != nil {
		return nil, err
	}
	_, ready := s.registry.Lookup(sessionID)
	return &UploadStatus{SessionID: sessionID, Ready: ready, Upload: latest}, nil
}

func (s *uploadService) allowed(ext string) bool {
	for _, e := range s.opts.AllowedExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
