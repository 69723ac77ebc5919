// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"resume-chat-go/internal/config"
	"resume-chat-go/pkg/log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// ResumeObjectName 返回会话简历在存储桶中的对象名：resumes/<session>/<md5><ext>。
func ResumeObjectName(sessionID, fileMD5, ext string) string {
	return SessionPrefix(sessionID) + fileMD5 + ext
}

// SessionPrefix 返回会话所有对象共享的前缀。
func SessionPrefix(sessionID string) string {
	return fmt.Sprintf("resumes/%s/", sessionID)
}

// PutObject 上传一个对象。
func PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := MinioClient.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// GetObject 读取整个对象内容。
func GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	object, err := MinioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	return data, nil
}

// RemovePrefix 删除前缀下的所有对象，返回删除的数量。
func RemovePrefix(ctx context.Context, bucketName, prefix string) (int, error) {
	objects := MinioClient.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	removed := 0
	for errResult := range MinioClient.RemoveObjects(ctx, bucketName, countObjects(objects, &removed), minio.RemoveObjectsOptions{}) {
		if errResult.Err != nil {
			return removed, fmt.Errorf("删除对象 %s 失败: %w", errResult.ObjectName, errResult.Err)
		}
	}
	return removed, nil
}

func countObjects(in <-chan minio.ObjectInfo, n *int) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for obj := range in {
			if obj.Err != nil {
				log.Warnf("列举对象失败: %v", obj.Err)
				continue
			}
			*n++
			out <- obj
		}
	}()
	return out
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// Bucket 把对象操作绑定到一个存储桶。
type Bucket struct {
	Name string
}

func (b Bucket) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	return PutObject(ctx, b.Name, objectName, reader, size, contentType)
}

func (b Bucket) Get(ctx context.Context, objectName string) ([]byte, error) {
	return GetObject(ctx, b.Name, objectName)
}

func (b Bucket) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return GetPresignedURL(ctx, b.Name, objectName, expiry)
}

// RemoveSession 删除会话的全部对象。
func (b Bucket) RemoveSession(ctx context.Context, sessionID string) error {
	_, err := RemovePrefix(ctx, b.Name, SessionPrefix(sessionID))
	return err
}
