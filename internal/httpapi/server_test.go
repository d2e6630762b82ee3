package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gmarchetti/donna/internal/agent"
	"github.com/gmarchetti/donna/internal/config"
	"github.com/gmarchetti/donna/internal/conversation"
	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/notify"
	"github.com/gmarchetti/donna/internal/tasks"
)

type testEnv struct {
	server     *httptest.Server
	executor   *tasks.Executor
	dispatcher *notify.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{AllowAnyOrigin: true}
	executor := tasks.NewExecutor(tasks.NewMemStore(events.NewMemOutbox()), events.NewTaskPublisher(), nil)
	manager := conversation.NewManager(conversation.NewMemStore(), executor, agent.NewRulePlanner(executor), nil, 50)
	dispatcher := notify.NewDispatcher(8, nil, nil)

	srv := New(cfg, manager, executor, dispatcher)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, executor: executor, dispatcher: dispatcher}
}

func postChat(t *testing.T, env *testEnv, owner string, req conversation.Request) (*http.Response, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if owner != "" {
		httpReq.Header.Set("X-Owner-ID", owner)
	}
	res, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("chat request error = %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	return res, decoded
}

func TestChatAddAndList(t *testing.T) {
	env := newTestEnv(t)

	res, decoded := postChat(t, env, "alice", conversation.Request{Instruction: "add buy milk"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if decoded["status"] != "ok" {
		t.Fatalf("status = %v, reply = %v", decoded["status"], decoded["reply"])
	}
	convID, _ := decoded["conversation_id"].(string)
	if convID == "" {
		t.Fatalf("missing conversation_id: %+v", decoded)
	}

	res, decoded = postChat(t, env, "alice", conversation.Request{
		ConversationID: convID,
		Instruction:    "list my tasks",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", res.StatusCode)
	}
	reply, _ := decoded["reply"].(string)
	if !strings.Contains(reply, "buy milk") {
		t.Fatalf("reply = %q, should mention the added task", reply)
	}
	if decoded["conversation_id"] != convID {
		t.Fatalf("conversation id changed across turns")
	}
}

func TestChatRequiresOwner(t *testing.T) {
	env := newTestEnv(t)

	res, _ := postChat(t, env, "", conversation.Request{Instruction: "add x"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

// downStore fails every operation the way an unreachable database would.
type downStore struct{}

var errStoreDown = errors.New("dial tcp db-internal:5432: connect: connection refused")

func (downStore) CreateConversation(context.Context, conversation.Conversation) error {
	return errStoreDown
}

func (downStore) GetConversation(context.Context, string, string) (conversation.Conversation, error) {
	return conversation.Conversation{}, errStoreDown
}

func (downStore) TouchConversation(context.Context, string, string) error { return errStoreDown }
func (downStore) AppendMessage(context.Context, conversation.Message) error {
	return errStoreDown
}

func (downStore) Messages(context.Context, string, string, int) ([]conversation.Message, error) {
	return nil, errStoreDown
}

func (downStore) Close() error { return nil }

func TestChatStorageFailureIsInternalError(t *testing.T) {
	cfg := config.Config{AllowAnyOrigin: true}
	executor := tasks.NewExecutor(tasks.NewMemStore(events.NewMemOutbox()), events.NewTaskPublisher(), nil)
	manager := conversation.NewManager(downStore{}, executor, agent.NewRulePlanner(executor), nil, 50)
	dispatcher := notify.NewDispatcher(8, nil, nil)

	ts := httptest.NewServer(New(cfg, manager, executor, dispatcher).Router())
	t.Cleanup(ts.Close)
	env := &testEnv{server: ts, executor: executor, dispatcher: dispatcher}

	res, decoded := postChat(t, env, "alice", conversation.Request{Instruction: "add buy milk"})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if decoded["code"] != "internal" {
		t.Fatalf("code = %v, want internal", decoded["code"])
	}
	msg, _ := decoded["error"].(string)
	if strings.Contains(msg, "db-internal") || strings.Contains(msg, "connection refused") {
		t.Fatalf("error message leaks backend details: %q", msg)
	}
}

func TestChatMissingInstructionIsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	res, decoded := postChat(t, env, "alice", conversation.Request{Instruction: "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if decoded["code"] != "invalid_request" {
		t.Fatalf("code = %v, want invalid_request", decoded["code"])
	}
}

func TestChatRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/chat", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("X-Owner-ID", "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestListTasksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.executor.Add(ctx, "alice", tasks.AddRequest{Title: "alpha"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	done, err := env.executor.Add(ctx, "alice", tasks.AddRequest{Title: "beta"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := env.executor.Complete(ctx, "alice", done.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/v1/tasks?filter=pending", nil)
	req.Header.Set("X-Owner-ID", "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var decoded struct {
		Tasks []tasks.Task `json:"tasks"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(decoded.Tasks) != 1 || decoded.Tasks[0].Title != "alpha" {
		t.Fatalf("tasks = %+v, want only the pending one", decoded.Tasks)
	}
}

func TestListTasksRejectsUnknownFilter(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/v1/tasks?filter=bogus", nil)
	req.Header.Set("X-Owner-ID", "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}
}

func TestEventsWebSocketReceivesOwnerEvents(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/events/ws?owner_id=alice"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	// Registration with the dispatcher happens server-side just after the
	// upgrade; give the handler a moment before pushing the event.
	time.Sleep(100 * time.Millisecond)
	if err := env.dispatcher.Handle(context.Background(), events.NewEnvelope(events.TopicTaskCreated, "alice", "t1", map[string]string{"title": "x"})); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.Topic != events.TopicTaskCreated || got.OwnerID != "alice" {
		t.Fatalf("received envelope = %+v", got)
	}
}

func TestEventsWebSocketRequiresOwner(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/events/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial without owner should fail")
	}
	if res != nil {
		defer res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
		}
	}
}
