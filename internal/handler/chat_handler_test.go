package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resume-chat-go/internal/model"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoAsker 把问题拆成两个片段作为答案；hold 为真时在第一个片段后阻塞到取消。
type echoAsker struct {
	hold bool
}

func (a echoAsker) Ask(ctx context.Context, _, question string) <-chan rag.Fragment {
	out := make(chan rag.Fragment)
	go func() {
		defer close(out)
		for i, part := range []string{"echo: ", question} {
			if i == 1 && a.hold {
				<-ctx.Done()
				return
			}
			select {
			case out <- rag.Fragment{Kind: rag.FragmentAnswer, Text: part}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (echoAsker) Remember(string, model.ChatTurn) {}

type nopHistory struct{}

func (nopHistory) Load(context.Context, string) ([]model.ChatTurn, error) { return nil, nil }
func (nopHistory) Append(context.Context, string, model.ChatTurn) error   { return nil }
func (nopHistory) Delete(context.Context, string) error                   { return nil }

func newChatServer(t *testing.T, asker service.Asker) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/chat/:sessionId", NewChatHandler(service.NewChatService(asker, nopHistory{}, service.PersistSuccess)).Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestChatStreamsChunksThenCompletion(t *testing.T) {
	conn := dial(t, newChatServer(t, echoAsker{}), "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("What are her skills?")))
	assert.Equal(t, "echo: ", readFrame(t, conn)["chunk"])
	assert.Equal(t, "What are her skills?", readFrame(t, conn)["chunk"])
	completion := readFrame(t, conn)
	assert.Equal(t, "completion", completion["type"])
	assert.Equal(t, "finished", completion["status"])

	// 同一连接上的下一个问题
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("next")))
	assert.Equal(t, "echo: ", readFrame(t, conn)["chunk"])
	assert.Equal(t, "next", readFrame(t, conn)["chunk"])
	assert.Equal(t, "finished", readFrame(t, conn)["status"])
}

func TestChatStopCommand(t *testing.T) {
	conn := dial(t, newChatServer(t, echoAsker{hold: true}), "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("long question")))
	assert.Equal(t, "echo: ", readFrame(t, conn)["chunk"])
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))

	var sawAck bool
	var status interface{}
	for !sawAck || status == nil {
		frame := readFrame(t, conn)
		switch frame["type"] {
		case "stop":
			sawAck = true
		case "completion":
			status = frame["status"]
		}
	}
	assert.Equal(t, "stopped", status)
}

func TestChatRejectsInvalidSessionID(t *testing.T) {
	srv := newChatServer(t, echoAsker{})
	resp, err := http.Get(srv.URL + "/chat/bad%20id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIsStopCommand(t *testing.T) {
	assert.True(t, isStopCommand([]byte(`{"type":"stop"}`)))
	assert.False(t, isStopCommand([]byte(`{"type":"question"}`)))
	assert.False(t, isStopCommand([]byte(`stop`)))
	assert.False(t, isStopCommand([]byte(`{not json`)))
}
