package repository

import (
	"resume-chat-go/internal/model"

	"gorm.io/gorm"
)

// DocumentVectorRepository 定义了对 document_vectors 表的数据操作接口。
type DocumentVectorRepository interface {
	// ReplaceForFile 在一个事务中删除该会话该文件的旧分块并写入新分块，重复处理同一任务是幂等的。
	ReplaceForFile(sessionID, fileMD5 string, vectors []*model.DocumentVector) error
	// FindByFile 按 chunk_id 升序返回分块。
	FindByFile(sessionID, fileMD5 string) ([]*model.DocumentVector, error)
	// DeleteStale 删除会话中不属于 keepFileMD5 的分块。
	DeleteStale(sessionID, keepFileMD5 string) error
	DeleteBySession(sessionID string) error
}

type documentVectorRepository struct {
	db *gorm.DB
}

// NewDocumentVectorRepository 创建一个新的 DocumentVectorRepository 实例。
func NewDocumentVectorRepository(db *gorm.DB) DocumentVectorRepository {
	return &documentVectorRepository{db: db}
}

func (r *documentVectorRepository) ReplaceForFile(sessionID, fileMD5 string, vectors []*model.DocumentVector) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ? AND file_md5 = ?", sessionID, fileMD5).Delete(&model.DocumentVector{}).Error; err != nil {
			return err
		}
		if len(vectors) == 0 {
			return nil
		}
		return tx.CreateInBatches(vectors, 100).Error // 每100条记录一批
	})
}

func (r *documentVectorRepository) FindByFile(sessionID, fileMD5 string) ([]*model.DocumentVector, error) {
	var vectors []*model.DocumentVector
	err := r.db.Where("session_id = ? AND file_md5 = ?", sessionID, fileMD5).Order("chunk_id ASC").Find(&vectors).Error
	return vectors, err
}

func (r *documentVectorRepository) DeleteStale(sessionID, keepFileMD5 string) error {
	return r.db.Where("session_id = ? AND file_md5 <> ?", sessionID, keepFileMD5).Delete(&model.DocumentVector{}).Error
}

func (r *documentVectorRepository) DeleteBySession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&model.DocumentVector{}).Error
}
