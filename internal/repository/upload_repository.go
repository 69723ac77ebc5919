package repository

import (
	"errors"
	"resume-chat-go/internal/model"
	"time"

	"gorm.io/gorm"
)

// UploadRepository 定义了简历上传记录的持久化操作。
type UploadRepository interface {
	Create(record *model.ResumeUpload) error
	FindByID(id uint) (*model.ResumeUpload, error)
	// LatestBySession 返回会话最近一次上传；没有记录时返回 (nil, nil)。
	LatestBySession(sessionID string) (*model.ResumeUpload, error)
	// LatestIndexedBySession 返回会话最近一次索引成功的上传；没有记录时返回 (nil, nil)。
	LatestIndexedBySession(sessionID string) (*model.ResumeUpload, error)
	// LatestIndexedPerSession 返回每个会话最近一次索引成功的上传，用于重启后恢复检索句柄。
	LatestIndexedPerSession() ([]model.ResumeUpload, error)
	MarkIndexed(id uint, chunkCount int) error
	MarkFailed(id uint) error
	DeleteBySession(sessionID string) error
}

type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

// Create 创建一条上传记录。
func (r *uploadRepository) Create(record *model.ResumeUpload) error {
	return r.db.Create(record).Error
}

// FindByID 根据主键查找上传记录。
func (r *uploadRepository) FindByID(id uint) (*model.ResumeUpload, error) {
	var record model.ResumeUpload
	if err := r.db.First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *uploadRepository) LatestBySession(sessionID string) (*model.ResumeUpload, error) {
	return r.latest(r.db.Where("session_id = ?", sessionID))
}

func (r *uploadRepository) LatestIndexedBySession(sessionID string) (*model.ResumeUpload, error) {
	return r.latest(r.db.Where("session_id = ? AND status = ?", sessionID, model.UploadStatusIndexed))
}

func (r *uploadRepository) latest(q *gorm.DB) (*model.ResumeUpload, error) {
	var record model.ResumeUpload
	err := q.Order("id DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *uploadRepository) LatestIndexedPerSession() ([]model.ResumeUpload, error) {
	var records []model.ResumeUpload
	latestIDs := r.db.Model(&model.ResumeUpload{}).
		Select("MAX(id)").
		Where("status = ?", model.UploadStatusIndexed).
		Group("session_id")
	err := r.db.Where("id IN (?)", latestIDs).Order("id").Find(&records).Error
	return records, err
}

// MarkIndexed 将上传记录标记为已索引。
func (r *uploadRepository) MarkIndexed(id uint, chunkCount int) error {
	now := time.Now()
	return r.db.Model(&model.ResumeUpload{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      model.UploadStatusIndexed,
		"chunk_count": chunkCount,
		"indexed_at":  &now,
	}).Error
}

// MarkFailed 将上传记录标记为处理失败。
func (r *uploadRepository) MarkFailed(id uint) error {
	return r.db.Model(&model.ResumeUpload{}).Where("id = ?", id).Update("status", model.UploadStatusFailed).Error
}

// DeleteBySession 删除会话的全部上传记录。
func (r *uploadRepository) DeleteBySession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&model.ResumeUpload{}).Error
}
