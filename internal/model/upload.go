package model

import "time"

// 上传记录的处理状态。
const (
	UploadStatusProcessing = 0
	UploadStatusIndexed    = 1
	UploadStatusFailed     = 2
)

// ResumeUpload 定义了 resume_uploads 表的 ORM 模型。
// 每次上传一条记录；同一会话重复上传时，最新一条为当前生效的简历。
type ResumeUpload struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string     `gorm:"type:varchar(64);not null;index" json:"sessionId"`
	FileMD5    string     `gorm:"type:varchar(32);not null" json:"fileMd5"`
	FileName   string     `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectName string     `gorm:"type:varchar(255);not null" json:"objectName"`
	TotalSize  int64      `gorm:"not null" json:"totalSize"`
	Status     int        `gorm:"type:tinyint;not null;default:0" json:"status"` // 0: processing, 1: indexed, 2: failed
	ChunkCount int        `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	IndexedAt  *time.Time `gorm:"default:null" json:"indexedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ResumeUpload) TableName() string {
	return "resume_uploads"
}
