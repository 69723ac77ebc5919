package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"resume-chat-go/internal/model"
	"resume-chat-go/pkg/embedding"
	"resume-chat-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// SessionRetriever 是绑定到单个会话、单份简历的检索句柄。
// 所有查询都带 session_id 与 file_md5 过滤，不会读到其他会话或旧简历的分块。
type SessionRetriever struct {
	client    *elasticsearch.Client
	embedder  embedding.Client
	indexName string
	sessionID string
	fileMD5   string
}

// NewSessionRetriever 创建检索句柄。
func NewSessionRetriever(client *elasticsearch.Client, embedder embedding.Client, indexName, sessionID, fileMD5 string) *SessionRetriever {
	return &SessionRetriever{
		client:    client,
		embedder:  embedder,
		indexName: indexName,
		sessionID: sessionID,
		fileMD5:   fileMD5,
	}
}

// Search 执行 kNN 召回 + BM25 重排的混合检索，按相关度降序返回最多 k 个分块文本。
func (r *SessionRetriever) Search(ctx context.Context, query string, k int) ([]string, error) {
	queryVector, err := r.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildHybridQuery(r.sessionID, r.fileMD5, normalizeQuery(query), queryVector, k)); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.indexName),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[SessionRetriever] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	fragments := make([]string, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		if strings.TrimSpace(hit.Source.TextContent) == "" {
			continue
		}
		fragments = append(fragments, hit.Source.TextContent)
	}
	log.Infof("[SessionRetriever] 检索完成, sessionID: %s, 命中: %d", r.sessionID, len(fragments))
	return fragments, nil
}

// buildHybridQuery 构建带会话过滤的两阶段查询：kNN 召回候选，再用 BM25 重排。
func buildHybridQuery(sessionID, fileMD5, normalized string, vector []float32, k int) map[string]interface{} {
	if k <= 0 {
		k = 3
	}
	recall := k * 10
	filter := []map[string]interface{}{
		{"term": map[string]interface{}{"session_id": sessionID}},
		{"term": map[string]interface{}{"file_md5": fileMD5}},
	}

	q := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              recall,
			"num_candidates": recall,
			"filter":         filter,
		},
		"_source": []string{"chunk_id", "text_content"},
		"size":    k,
	}
	if normalized == "" {
		return q
	}

	q["query"] = map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": filter,
			"should": []map[string]interface{}{
				{"match": map[string]interface{}{"text_content": normalized}},
				{"match_phrase": map[string]interface{}{
					"text_content": map[string]interface{}{"query": normalized, "boost": 3.0},
				}},
			},
		},
	}
	q["rescore"] = map[string]interface{}{
		"window_size": recall,
		"query": map[string]interface{}{
			"rescore_query": map[string]interface{}{
				"match": map[string]interface{}{"text_content": normalized},
			},
			"query_weight":         0.2,
			"rescore_query_weight": 1.0,
		},
	}
	return q
}

// normalizeQuery 去掉标点和多余空白，供 BM25 匹配使用。
func normalizeQuery(q string) string {
	kept := reKeep.ReplaceAllString(strings.ToLower(q), " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}
