package service

import (
	"errors"
	"resume-chat-go/internal/pipeline"
	"resume-chat-go/internal/repository"
	"strings"
)

// ErrNoResumeText 表示既没有提供简历文本，会话也没有已索引的简历。
var ErrNoResumeText = errors.New("no resume text available")

const scoreAnalysis = "Score calculated based on matching skills, experience, and education."

// RoleCriteria 是岗位要求。
type RoleCriteria struct {
	Skills     []string `json:"skills"`
	Experience string   `json:"experience"`
	Education  string   `json:"education"`
}

// ScoreRequest 是评分请求。ResumeText 为空时使用会话已索引的简历。
type ScoreRequest struct {
	ResumeText   string       `json:"resume_text"`
	SessionID    string       `json:"session_id"`
	RoleCriteria RoleCriteria `json:"role_criteria"`
}

// ScoreDetails 说明评分依据。
type ScoreDetails struct {
	Analysis      string   `json:"analysis"`
	MatchedSkills []string `json:"matched_skills"`
}

// ScoreResult 是评分结果。
type ScoreResult struct {
	Score   float64      `json:"score"`
	Details ScoreDetails `json:"details"`
}

// ScoreService 计算简历与岗位要求的匹配度。
type ScoreService interface {
	Score(req ScoreRequest) (*ScoreResult, error)
}

type scoreService struct {
	uploadRepo    repository.UploadRepository
	docVectorRepo repository.DocumentVectorRepository
	chunkOverlap  int
}

// NewScoreService 创建一个新的 ScoreService 实例。chunkOverlap 需与切块时一致，用于还原全文。
func NewScoreService(uploadRepo repository.UploadRepository, docVectorRepo repository.DocumentVectorRepository, chunkOverlap int) ScoreService {
	return &scoreService{uploadRepo: uploadRepo, docVectorRepo: docVectorRepo, chunkOverlap: chunkOverlap}
}

func (s *scoreService) Score(req ScoreRequest) (*ScoreResult, error) {
	text := req.ResumeText
	if strings.TrimSpace(text) == "" {
		var err error
		if text, err = s.sessionText(req.SessionID); err != nil {
			return nil, err
		}
	}
	score, matched := ScoreResume(text, req.RoleCriteria)
	return &ScoreResult{
		Score:   score,
		Details: ScoreDetails{Analysis: scoreAnalysis, MatchedSkills: matched},
	}, nil
}

// sessionText 用会话最近一次索引成功的分块还原简历全文。
func (s *scoreService) sessionText(sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrNoResumeText
	}
	if !repository.ValidSessionID(sessionID) {
		return "", repository.ErrInvalidSessionID
	}
	latest, err := s.uploadRepo.LatestIndexedBySession(sessionID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", ErrNoResumeText
	}
	vectors, err := s.docVectorRepo.FindByFile(sessionID, latest.FileMD5)
	if err != nil {
		return "", err
	}
	chunks := make([]string, 0, len(vectors))
	for _, v := range vectors {
		chunks = append(chunks, v.TextContent)
	}
	text := pipeline.JoinChunks(chunks, s.chunkOverlap)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoResumeText
	}
	return text, nil
}

// ScoreResume 按关键词包含关系打分。每类给出的要求占相同权重：
// 技能每命中一项加 1/n，经历、学历各自命中加 1/n，n 为给出的要求类别数。
func ScoreResume(resumeText string, criteria RoleCriteria) (float64, []string) {
	text := strings.ToLower(resumeText)
	total := 0
	if len(criteria.Skills) > 0 {
		total++
	}
	if criteria.Experience != "" {
		total++
	}
	if criteria.Education != "" {
		total++
	}
	if total == 0 {
		return 0, []string{}
	}

	var score float64
	matched := []string{}
	for _, skill := range criteria.Skills {
		if skill != "" && strings.Contains(text, strings.ToLower(skill)) {
			matched = append(matched, skill)
		}
	}
	score += float64(len(matched)) / float64(total)
	if criteria.Experience != "" && strings.Contains(text, strings.ToLower(criteria.Experience)) {
		score += 1.0 / float64(total)
	}
	if criteria.Education != "" && strings.Contains(text, strings.ToLower(criteria.Education)) {
		score += 1.0 / float64(total)
	}
	return score, matched
}
