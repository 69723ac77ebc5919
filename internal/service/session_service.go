package service

import (
	"context"
	"errors"
	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/repository"
	"resume-chat-go/pkg/log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoResume 表示会话还没有上传过简历。
var ErrNoResume = errors.New("no resume uploaded for session")

const (
	cleanupTimeout = time.Minute
	resumeURLTTL   = time.Hour
)

// ResumeObjects 是会话简历文件所在的对象存储。
type ResumeObjects interface {
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	RemoveSession(ctx context.Context, sessionID string) error
}

// SessionChunks 是会话分块所在的检索索引。
type SessionChunks interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionService 管理会话的生命周期。
type SessionService interface {
	Create() string
	Delete(sessionID string) error
	History(ctx context.Context, sessionID string) ([]model.ChatTurn, error)
	ResumeURL(ctx context.Context, sessionID string) (string, error)
	// Wait 阻塞直到所有后台清理结束。
	Wait()
}

type sessionService struct {
	registry      *rag.Registry
	historyRepo   repository.HistoryRepository
	uploadRepo    repository.UploadRepository
	docVectorRepo repository.DocumentVectorRepository
	chunks        SessionChunks
	objects       ResumeObjects
	wg            sync.WaitGroup
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(
	registry *rag.Registry,
	historyRepo repository.HistoryRepository,
	uploadRepo repository.UploadRepository,
	docVectorRepo repository.DocumentVectorRepository,
	chunks SessionChunks,
	objects ResumeObjects,
) SessionService {
	return &sessionService{
		registry:      registry,
		historyRepo:   historyRepo,
		uploadRepo:    uploadRepo,
		docVectorRepo: docVectorRepo,
		chunks:        chunks,
		objects:       objects,
	}
}

func (s *sessionService) Create() string {
	id := uuid.NewString()
	log.Infof("[SessionService] 创建会话, sessionID: %s", id)
	return id
}

// Delete 立即注销会话的检索句柄，其余数据在后台清理。
func (s *sessionService) Delete(sessionID string) error {
	if !repository.ValidSessionID(sessionID) {
		return repository.ErrInvalidSessionID
	}
	s.registry.Unregister(sessionID)
	log.Infof("[SessionService] 会话已注销, 开始后台清理, sessionID: %s", sessionID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cleanup(sessionID)
	}()
	return nil
}

func (s *sessionService) cleanup(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	// 各项清理互不依赖，一项失败不影响其他项
	var g errgroup.Group
	g.Go(func() error { return s.historyRepo.Delete(ctx, sessionID) })
	g.Go(func() error { return s.chunks.DeleteSession(ctx, sessionID) })
	g.Go(func() error { return s.objects.RemoveSession(ctx, sessionID) })
	g.Go(func() error {
		if err := s.docVectorRepo.DeleteBySession(sessionID); err != nil {
			return err
		}
		return s.uploadRepo.DeleteBySession(sessionID)
	})
	if err := g.Wait(); err != nil {
		log.Warnf("[SessionService] 会话数据清理不完整, sessionID: %s, error: %v", sessionID, err)
		return
	}
	log.Infof("[SessionService] 会话数据清理完成, sessionID: %s", sessionID)
}

func (s *sessionService) History(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	if !repository.ValidSessionID(sessionID) {
		return nil, repository.ErrInvalidSessionID
	}
	return s.historyRepo.Load(ctx, sessionID)
}

// ResumeURL 返回会话最新简历的临时下载链接。
func (s *sessionService) ResumeURL(ctx context.Context, sessionID string) (string, error) {
	if !repository.ValidSessionID(sessionID) {
		return "", repository.ErrInvalidSessionID
	}
	latest, err := s.uploadRepo.LatestBySession(sessionID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", ErrNoResume
	}
	return s.objects.PresignedURL(ctx, latest.ObjectName, resumeURLTTL)
}

func (s *sessionService) Wait() {
	s.wg.Wait()
}
