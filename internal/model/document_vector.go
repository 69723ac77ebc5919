package model

// DocumentVector 对应于数据库中的 document_vectors 表，保存切块后的简历文本。
type DocumentVector struct {
	VectorID     uint   `gorm:"primaryKey;autoIncrement;column:vector_id"`
	SessionID    string `gorm:"type:varchar(64);not null;index;column:session_id"`
	FileMD5      string `gorm:"type:varchar(32);not null;index;column:file_md5"`
	ChunkID      int    `gorm:"not null;column:chunk_id"`
	TextContent  string `gorm:"type:text;column:text_content"`
	ModelVersion string `gorm:"type:varchar(50);column:model_version"`
}

func (DocumentVector) TableName() string {
	return "document_vectors"
}
