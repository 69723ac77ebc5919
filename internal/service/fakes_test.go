package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/pkg/tasks"
)

// scriptedAsker 按顺序产出给定片段；block 为真时在片段之后阻塞到 ctx 取消。
type scriptedAsker struct {
	fragments []rag.Fragment
	block     bool

	mu         sync.Mutex
	remembered []model.ChatTurn
	done       chan struct{}
}

func newScriptedAsker(block bool, fragments ...rag.Fragment) *scriptedAsker {
	return &scriptedAsker{fragments: fragments, block: block, done: make(chan struct{})}
}

func (a *scriptedAsker) Ask(ctx context.Context, _, _ string) <-chan rag.Fragment {
	out := make(chan rag.Fragment)
	go func() {
		defer close(a.done)
		defer close(out)
		for _, f := range a.fragments {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if a.block {
			<-ctx.Done()
		}
	}()
	return out
}

func (a *scriptedAsker) Remember(_ string, turn model.ChatTurn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remembered = append(a.remembered, turn)
}

func answer(text string) rag.Fragment { return rag.Fragment{Kind: rag.FragmentAnswer, Text: text} }

// recordingWriter 记录写出的帧；failAt > 0 时第 failAt 次写入失败。
type recordingWriter struct {
	mu      sync.Mutex
	frames  []interface{}
	failAt  int
	onWrite func(n int)
}

func (w *recordingWriter) WriteJSON(v interface{}) error {
	w.mu.Lock()
	n := len(w.frames) + 1
	if w.failAt > 0 && n >= w.failAt {
		w.mu.Unlock()
		return errors.New("connection closed")
	}
	w.frames = append(w.frames, v)
	hook := w.onWrite
	w.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (w *recordingWriter) chunks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, f := range w.frames {
		if m, ok := f.(map[string]string); ok {
			out = append(out, m["chunk"])
		}
	}
	return out
}

func (w *recordingWriter) completion() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.frames {
		if m, ok := f.(map[string]interface{}); ok && m["type"] == "completion" {
			return m
		}
	}
	return nil
}

type memoryHistory struct {
	mu      sync.Mutex
	turns   map[string][]model.ChatTurn
	deleted []string
	err     error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{turns: map[string][]model.ChatTurn{}}
}

func (h *memoryHistory) Load(_ context.Context, sessionID string) ([]model.ChatTurn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.ChatTurn{}, h.turns[sessionID]...), nil
}

func (h *memoryHistory) Append(ctx context.Context, sessionID string, turn model.ChatTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[sessionID] = append(h.turns[sessionID], turn)
	return nil
}

func (h *memoryHistory) Delete(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, sessionID)
	h.deleted = append(h.deleted, sessionID)
	return nil
}

func (h *memoryHistory) saved(sessionID string) []model.ChatTurn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turns[sessionID]
}

type memoryUploads struct {
	mu      sync.Mutex
	records []model.ResumeUpload
	deleted []string
}

func (f *memoryUploads) Create(r *model.ResumeUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uint(len(f.records) + 1)
	r.CreatedAt = time.Now()
	f.records = append(f.records, *r)
	return nil
}

func (f *memoryUploads) FindByID(id uint) (*model.ResumeUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *memoryUploads) latest(sessionID string, indexedOnly bool) (*model.ResumeUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.SessionID == sessionID && (!indexedOnly || r.Status == model.UploadStatusIndexed) {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *memoryUploads) LatestBySession(sessionID string) (*model.ResumeUpload, error) {
	return f.latest(sessionID, false)
}

func (f *memoryUploads) LatestIndexedBySession(sessionID string) (*model.ResumeUpload, error) {
	return f.latest(sessionID, true)
}

func (f *memoryUploads) LatestIndexedPerSession() ([]model.ResumeUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := map[string]int{}
	var order []string
	for i, r := range f.records {
		if r.Status != model.UploadStatusIndexed {
			continue
		}
		if _, ok := latest[r.SessionID]; !ok {
			order = append(order, r.SessionID)
		}
		latest[r.SessionID] = i
	}
	out := make([]model.ResumeUpload, 0, len(order))
	for _, id := range order {
		out = append(out, f.records[latest[id]])
	}
	return out, nil
}

func (f *memoryUploads) setStatus(id uint, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Status = status
		}
	}
}

func (f *memoryUploads) MarkIndexed(id uint, _ int) error {
	f.setStatus(id, model.UploadStatusIndexed)
	return nil
}

func (f *memoryUploads) MarkFailed(id uint) error {
	f.setStatus(id, model.UploadStatusFailed)
	return nil
}

func (f *memoryUploads) DeleteBySession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type memoryVectors struct {
	mu      sync.Mutex
	byFile  map[string][]*model.DocumentVector
	deleted []string
}

func (f *memoryVectors) ReplaceForFile(sessionID, fileMD5 string, vectors []*model.DocumentVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byFile == nil {
		f.byFile = map[string][]*model.DocumentVector{}
	}
	f.byFile[sessionID+"/"+fileMD5] = vectors
	return nil
}

func (f *memoryVectors) FindByFile(sessionID, fileMD5 string) ([]*model.DocumentVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byFile[sessionID+"/"+fileMD5], nil
}

func (f *memoryVectors) DeleteStale(string, string) error { return nil }

func (f *memoryVectors) DeleteBySession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	removed []string
	putErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (o *memoryObjects) Put(_ context.Context, name string, r io.Reader, _ int64, contentType string) error {
	if o.putErr != nil {
		return o.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[name] = data
	o.types[name] = contentType
	return nil
}

func (o *memoryObjects) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://minio.local/resumes/" + name + "?X-Amz-Signature=test", nil
}

func (o *memoryObjects) RemoveSession(_ context.Context, sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, sessionID)
	return nil
}

type memoryChunks struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (c *memoryChunks) DeleteSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, sessionID)
	return c.err
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []tasks.ResumeIndexTask
	err   error
}

func (p *recordingPublisher) PublishResumeTask(_ context.Context, task tasks.ResumeIndexTask) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

type nopRetriever struct{}

func (nopRetriever) Search(context.Context, string, int) ([]string, error) { return nil, nil }
