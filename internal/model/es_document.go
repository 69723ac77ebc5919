package model

// EsDocument 定义了存储在 Elasticsearch 中的文档结构。
type EsDocument struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：sessionID_fileMd5_chunkId
	SessionID    string    `json:"session_id"`
	FileMD5      string    `json:"file_md5"`
	ChunkID      int       `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
}
