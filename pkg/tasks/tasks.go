// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ResumeIndexTask asks the indexing pipeline to parse, chunk, embed and index one uploaded resume.
type ResumeIndexTask struct {
	UploadID   uint   `json:"upload_id"`
	SessionID  string `json:"session_id"`
	FileMD5    string `json:"file_md5"`
	FileName   string `json:"file_name"`
	ObjectName string `json:"object_name"`
}

// AttemptKey is the Redis key counting failed attempts of this task.
func (t ResumeIndexTask) AttemptKey() string {
	return "kafka:attempts:" + t.SessionID + ":" + t.FileMD5
}
