package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadFixture struct {
	svc       UploadService
	uploads   *memoryUploads
	objects   *memoryObjects
	publisher *recordingPublisher
	registry  *rag.Registry
}

func newUploadFixture() *uploadFixture {
	f := &uploadFixture{
		uploads:   &memoryUploads{},
		objects:   newMemoryObjects(),
		publisher: &recordingPublisher{},
		registry:  rag.NewRegistry(nil),
	}
	f.svc = NewUploadService(f.uploads, f.objects, f.publisher, f.registry, UploadOptions{
		MaxFileSize:       64,
		AllowedExtensions: []string{".pdf", ".txt"},
	})
	return f
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestUploadStoresAndPublishes(t *testing.T) {
	f := newUploadFixture()
	content := "Jane Doe, Go engineer"

	res, err := f.svc.Upload(context.Background(), "s1", "CV.TXT", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, md5Hex(content), res.FileMD5)
	assert.Equal(t, "processing", res.Status)

	object := "resumes/s1/" + md5Hex(content) + ".txt"
	assert.Equal(t, []byte(content), f.objects.objects[object])

	require.Len(t, f.publisher.tasks, 1)
	task := f.publisher.tasks[0]
	assert.Equal(t, "s1", task.SessionID)
	assert.Equal(t, object, task.ObjectName)

	rec, err := f.uploads.FindByID(task.UploadID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusProcessing, rec.Status)
	assert.Equal(t, int64(len(content)), rec.TotalSize)
}

func TestUploadCreatesSession(t *testing.T) {
	f := newUploadFixture()
	res, err := f.svc.Upload(context.Background(), "", "cv.pdf", 3, strings.NewReader("pdf"))
	require.NoError(t, err)
	assert.True(t, repository.ValidSessionID(res.SessionID))
	assert.Len(t, res.SessionID, 36)
}

func TestUploadValidation(t *testing.T) {
	f := newUploadFixture()
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "s1", "cv.exe", 3, strings.NewReader("bin"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = f.svc.Upload(ctx, "s1", "cv.txt", 100, strings.NewReader(strings.Repeat("x", 100)))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	// 声明的大小小于实际内容
	_, err = f.svc.Upload(ctx, "s1", "cv.txt", 10, strings.NewReader(strings.Repeat("x", 100)))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = f.svc.Upload(ctx, "s1", "cv.txt", 0, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = f.svc.Upload(ctx, "../etc", "cv.txt", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, repository.ErrInvalidSessionID)

	assert.Empty(t, f.publisher.tasks)
	assert.Empty(t, f.uploads.records)
}

func TestUploadPublishFailureMarksFailed(t *testing.T) {
	f := newUploadFixture()
	f.publisher.err = errors.New("kafka unavailable")

	_, err := f.svc.Upload(context.Background(), "s1", "cv.txt", 2, strings.NewReader("hi"))
	require.Error(t, err)
	require.Len(t, f.uploads.records, 1)
	assert.Equal(t, model.UploadStatusFailed, f.uploads.records[0].Status)
}

func TestUploadStatus(t *testing.T) {
	f := newUploadFixture()

	st, err := f.svc.Status("s1")
	require.NoError(t, err)
	assert.False(t, st.Ready)
	assert.Nil(t, st.Upload)

	_, err = f.svc.Upload(context.Background(), "s1", "cv.txt", 2, strings.NewReader("hi"))
	require.NoError(t, err)
	st, err = f.svc.Status("s1")
	require.NoError(t, err)
	assert.False(t, st.Ready)
	require.NotNil(t, st.Upload)
	assert.Equal(t, "cv.txt", st.Upload.FileName)

	f.registry.Register("s1", nopRetriever{})
	st, err = f.svc.Status("s1")
	require.NoError(t, err)
	assert.True(t, st.Ready)

	_, err = f.svc.Status("bad id")
	assert.ErrorIs(t, err, repository.ErrInvalidSessionID)
}
