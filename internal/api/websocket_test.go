package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialSession(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil 读取消息直到 match 返回 true
func readUntil(t *testing.T, conn *websocket.Conn, match func(raw string) bool) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "等待消息超时")
		if match(string(data)) {
			return string(data)
		}
	}
}

// readEvent 读取下一条指定类型的事件，跳过其他事件
func readEvent(t *testing.T, conn *websocket.Conn, eventType string) services.SessionEvent {
	t.Helper()
	raw := readUntil(t, conn, func(raw string) bool {
		return strings.Contains(raw, `"type":"`+eventType+`"`)
	})
	var event services.SessionEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return event
}

func TestSessionWebSocketReceivesUpdates(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	id := env.story.CreateSession().ID
	conn := dialSession(t, server, id)

	welcome := readEvent(t, conn, "connected")
	assert.Equal(t, id, welcome.SessionID)

	require.Eventually(t, func() bool {
		return env.handler.WebSocketHandler.hub.ClientCount(id) == 1
	}, time.Second, 10*time.Millisecond)

	_, err := env.story.Advance(context.Background(), id)
	require.NoError(t, err)

	event := readEvent(t, conn, services.EventSessionUpdated)
	assert.Equal(t, id, event.SessionID)

	// 客户端发起的重启同样以事件形式返回
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "restart"}))
	readUntil(t, conn, func(raw string) bool {
		return strings.Contains(raw, `"type":"`+services.EventSessionUpdated+`"`) &&
			strings.Contains(raw, `"current_stage":1`)
	})

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	raw := readUntil(t, conn, func(raw string) bool {
		return strings.Contains(raw, `"type":"error"`)
	})
	assert.Contains(t, raw, "bogus")
}

func TestSessionWebSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSessionClosesSockets(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	id := env.story.CreateSession().ID
	conn := dialSession(t, server, id)
	readEvent(t, conn, "connected")

	require.NoError(t, env.story.DeleteSession(id))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool {
		return env.handler.WebSocketHandler.hub.ClientCount(id) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribeProgressStreamsUntilDone(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	id := env.story.CreateSession().ID
	resp, err := http.Post(server.URL+"/api/sessions/"+id+"/advance?async=true", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		Data struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.NotEmpty(t, accepted.Data.TaskID)

	stream, err := http.Get(server.URL + "/api/progress/" + accepted.Data.TaskID)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	var last services.ProgressUpdate
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "task_id") {
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
		}
	}

	assert.Equal(t, services.TaskStatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)

	resp, err = http.Get(server.URL + "/api/progress/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
