// Package pipeline 定义了简历索引的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/repository"
	"resume-chat-go/pkg/embedding"
	"resume-chat-go/pkg/log"
	"resume-chat-go/pkg/tasks"
	"time"
	"unicode/utf8"
)

// ObjectStore 读取上传的原始文件。
type ObjectStore interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// TextExtractor 从文件中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// ChunkIndex 是分块的检索索引。
type ChunkIndex interface {
	Index(ctx context.Context, docs []model.EsDocument) error
	DeleteStale(ctx context.Context, sessionID, keepFileMD5 string) error
}

// RetrieverFactory 为会话的一份简历创建检索句柄。
type RetrieverFactory func(sessionID, fileMD5 string) rag.Retriever

// Options 控制切块参数。
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// Processor 封装了简历索引的所有依赖和逻辑。
type Processor struct {
	store           ObjectStore
	extractor       TextExtractor
	embeddingClient embedding.Client
	index           ChunkIndex
	uploadRepo      repository.UploadRepository
	docVectorRepo   repository.DocumentVectorRepository
	registry        *rag.Registry
	newRetriever    RetrieverFactory
	opts            Options
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	store ObjectStore,
	extractor TextExtractor,
	embeddingClient embedding.Client,
	index ChunkIndex,
	uploadRepo repository.UploadRepository,
	docVectorRepo repository.DocumentVectorRepository,
	registry *rag.Registry,
	newRetriever RetrieverFactory,
	opts Options,
) *Processor {
	return &Processor{
		store:           store,
		extractor:       extractor,
		embeddingClient: embeddingClient,
		index:           index,
		uploadRepo:      uploadRepo,
		docVectorRepo:   docVectorRepo,
		registry:        registry,
		newRetriever:    newRetriever,
		opts:            opts,
	}
}

// Process 是简历处理的主函数。成功后会话的检索句柄被注册（或替换）为这份简历。
func (p *Processor) Process(ctx context.Context, task tasks.ResumeIndexTask) error {
	log.Infof("[Processor] 开始处理简历, sessionID: %s, FileMD5: %s, FileName: %s", task.SessionID, task.FileMD5, task.FileName)

	// 会话可能已被删除，或者已经有更新的上传，此时任务作废
	if current, err := p.isCurrent(task); err != nil {
		return err
	} else if !current {
		log.Infof("[Processor] 上传记录已过期或已删除, 跳过, sessionID: %s, uploadID: %d", task.SessionID, task.UploadID)
		return nil
	}

	// 1. 从对象存储下载文件
	data, err := p.store.Get(ctx, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 下载文件失败, Object: %s, Error: %v", task.ObjectName, err)
		return err
	}
	if len(data) == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return errors.New("文件内容为空")
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", len(data))

	// 2. 提取文本
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), task.FileName)
	if err != nil {
		log.Errorf("[Processor] 提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		return fmt.Errorf("提取文本失败: %w", err)
	}
	if text == "" {
		log.Warnf("[Processor] 提取的文本内容为空, 处理中止, FileName: %s", task.FileName)
		return errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 3. 文本切块
	chunks := SplitText(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return errors.New("未生成任何文本分块")
	}
	log.Infof("[Processor] 步骤3: 文本分块完成, chunkSize: %d, chunkOverlap: %d, 共 %d 个分块", p.opts.ChunkSize, p.opts.ChunkOverlap, len(chunks))

	// 4. 分块文本写入数据库（重复处理时整体替换）
	dbVectors := make([]*model.DocumentVector, 0, len(chunks))
	for i, chunk := range chunks {
		dbVectors = append(dbVectors, &model.DocumentVector{
			SessionID:    task.SessionID,
			FileMD5:      task.FileMD5,
			ChunkID:      i,
			TextContent:  chunk,
			ModelVersion: p.embeddingClient.Model(),
		})
	}
	if err := p.docVectorRepo.ReplaceForFile(task.SessionID, task.FileMD5, dbVectors); err != nil {
		log.Errorf("[Processor] 保存文本分块到数据库失败, Error: %v", err)
		return fmt.Errorf("保存文本分块失败: %w", err)
	}

	// 5. 向量化
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, chunks)
	if err != nil {
		log.Errorf("[Processor] 向量化失败, Error: %v", err)
		return fmt.Errorf("向量化失败: %w", err)
	}
	log.Infof("[Processor] 步骤5: 向量化完成, 共 %d 个向量", len(vectors))

	// 6. 写入检索索引
	docs := make([]model.EsDocument, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, model.EsDocument{
			VectorID:     fmt.Sprintf("%s_%s_%d", task.SessionID, task.FileMD5, i),
			SessionID:    task.SessionID,
			FileMD5:      task.FileMD5,
			ChunkID:      i,
			TextContent:  chunk,
			Vector:       vectors[i],
			ModelVersion: p.embeddingClient.Model(),
		})
	}
	if err := p.index.Index(ctx, docs); err != nil {
		log.Errorf("[Processor] 索引分块失败, Error: %v", err)
		return fmt.Errorf("索引分块失败: %w", err)
	}

	if err := p.uploadRepo.MarkIndexed(task.UploadID, len(chunks)); err != nil {
		log.Errorf("[Processor] 更新上传状态失败, uploadID: %d, Error: %v", task.UploadID, err)
		return fmt.Errorf("更新上传状态失败: %w", err)
	}

	// 7. 注册检索句柄；索引期间可能又有新的上传，只有最新的上传才能注册
	if current, err := p.isCurrent(task); err != nil {
		return err
	} else if !current {
		log.Infof("[Processor] 处理期间出现了更新的上传, 不注册旧简历, sessionID: %s", task.SessionID)
		return nil
	}
	p.registry.Register(task.SessionID, p.newRetriever(task.SessionID, task.FileMD5))
	log.Infof("[Processor] 简历处理完成并已注册检索句柄, sessionID: %s, FileMD5: %s", task.SessionID, task.FileMD5)

	// 8. 后台清理该会话旧简历的分块，检索已按 file_md5 过滤，不影响问答
	go p.cleanupStale(task.SessionID, task.FileMD5)
	return nil
}

// GiveUp 在任务多次失败后把上传标记为失败。
func (p *Processor) GiveUp(_ context.Context, task tasks.ResumeIndexTask, err error) {
	log.Errorf("[Processor] 简历处理最终失败, sessionID: %s, uploadID: %d, error: %v", task.SessionID, task.UploadID, err)
	if markErr := p.uploadRepo.MarkFailed(task.UploadID); markErr != nil {
		log.Errorf("[Processor] 标记上传失败状态出错, uploadID: %d, error: %v", task.UploadID, markErr)
	}
}

// Restore 为每个已有索引成功简历的会话重新注册检索句柄，在服务启动时调用。
func (p *Processor) Restore() (int, error) {
	records, err := p.uploadRepo.LatestIndexedPerSession()
	if err != nil {
		return 0, fmt.Errorf("查询已索引的上传记录失败: %w", err)
	}
	for _, rec := range records {
		p.registry.Register(rec.SessionID, p.newRetriever(rec.SessionID, rec.FileMD5))
	}
	log.Infof("[Processor] 已恢复 %d 个会话的检索句柄", len(records))
	return len(records), nil
}

func (p *Processor) isCurrent(task tasks.ResumeIndexTask) (bool, error) {
	latest, err := p.uploadRepo.LatestBySession(task.SessionID)
	if err != nil {
		return false, fmt.Errorf("查询上传记录失败: %w", err)
	}
	return latest != nil && latest.ID == task.UploadID, nil
}

func (p *Processor) cleanupStale(sessionID, keepFileMD5 string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := p.index.DeleteStale(ctx, sessionID, keepFileMD5); err != nil {
		log.Warnf("[Processor] 清理旧索引分块失败, sessionID: %s, error: %v", sessionID, err)
	}
	if err := p.docVectorRepo.DeleteStale(sessionID, keepFileMD5); err != nil {
		log.Warnf("[Processor] 清理旧数据库分块失败, sessionID: %s, error: %v", sessionID, err)
	}
}
