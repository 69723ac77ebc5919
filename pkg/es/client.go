// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"resume-chat-go/internal/config"
	"resume-chat-go/internal/model"
	"resume-chat-go/pkg/log"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保索引存在。
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, esCfg.Dims)
}

// indexMapping 返回简历分块索引的映射。session_id 与 file_md5 用于检索时的隔离过滤。
func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"session_id": { "type": "keyword" },
				"file_md5": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"text_content": { "type": "text", "analyzer": "english" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	created, err := ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer created.Body.Close()
	if created.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, created.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocuments 通过 bulk 接口写入一份简历的全部分块，写入完成后刷新索引使其立即可检索。
func IndexDocuments(ctx context.Context, indexName string, docs []model.EsDocument) error {
	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:  ESClient,
		Index:   indexName,
		Refresh: "true",
	})
	if err != nil {
		return fmt.Errorf("创建 bulk indexer 失败: %w", err)
	}

	var (
		mu       sync.Mutex
		failures []string
	)
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		err = indexer.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.VectorID,
			Body:       bytes.NewReader(body),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, fmt.Sprintf("%s: %v", item.DocumentID, err))
					return
				}
				failures = append(failures, fmt.Sprintf("%s: %s", item.DocumentID, res.Error.Reason))
			},
		})
		if err != nil {
			return fmt.Errorf("添加 bulk 条目失败: %w", err)
		}
	}
	if err := indexer.Close(ctx); err != nil {
		return fmt.Errorf("bulk 写入失败: %w", err)
	}
	if len(failures) > 0 {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", strings.Join(failures, "; "))
		return fmt.Errorf("%d 个分块索引失败", len(failures))
	}
	return nil
}

// DeleteBySession 删除会话的全部分块。keepFileMD5 非空时保留该文件的分块（用于重新上传后清理旧简历）。
func DeleteBySession(ctx context.Context, indexName, sessionID, keepFileMD5 string) (int, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"session_id": sessionID}},
				},
			},
		},
	}
	if keepFileMD5 != "" {
		query["query"].(map[string]interface{})["bool"].(map[string]interface{})["must_not"] = []map[string]interface{}{
			{"term": map[string]interface{}{"file_md5": keepFileMD5}},
		}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, err
	}

	res, err := ESClient.DeleteByQuery(
		[]string{indexName},
		&buf,
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithConflicts("proceed"),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete_by_query 请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("delete_by_query 返回错误: %s %s", res.Status(), string(body))
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("解析 delete_by_query 响应失败: %w", err)
	}
	return out.Deleted, nil
}

// ChunkIndex 把简历分块索引绑定到一个具体的索引名。
type ChunkIndex struct {
	IndexName string
}

// Index 写入分块。
func (c ChunkIndex) Index(ctx context.Context, docs []model.EsDocument) error {
	return IndexDocuments(ctx, c.IndexName, docs)
}

// DeleteStale 删除会话中不属于 keepFileMD5 的分块。
func (c ChunkIndex) DeleteStale(ctx context.Context, sessionID, keepFileMD5 string) error {
	n, err := DeleteBySession(ctx, c.IndexName, sessionID, keepFileMD5)
	if err == nil && n > 0 {
		log.Infof("已清理会话旧简历分块, sessionID: %s, 数量: %d", sessionID, n)
	}
	return err
}

// DeleteSession 删除会话的全部分块。
func (c ChunkIndex) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := DeleteBySession(ctx, c.IndexName, sessionID, "")
	return err
}
