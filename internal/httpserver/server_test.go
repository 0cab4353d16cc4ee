package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ANTHZKN/karenasistente/internal/assistant"
	"github.com/ANTHZKN/karenasistente/internal/audio"
	"github.com/ANTHZKN/karenasistente/internal/dispatch"
	"github.com/ANTHZKN/karenasistente/internal/gemini"
	"github.com/ANTHZKN/karenasistente/internal/store"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, history []gemini.Message) (string, []dispatch.ToolResult) {
	if len(history) == 0 {
		return "sin historial", nil
	}
	return "eco: " + history[len(history)-1].Text, nil
}

type nopSpeaker struct{}

func (nopSpeaker) Say(string) {}
func (nopSpeaker) Stop()      {}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	a := assistant.New(audio.NewCapture(), nil, echoDispatcher{}, nopSpeaker{}, nil, st, 0)
	return New(a, st), st
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestState(t *testing.T) {
	srv, st := newTestServer(t)
	if _, err := st.CreateProject("Skynet", "red global"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp stateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != assistant.StateIdle {
		t.Fatalf("expected idle state, got %s", resp.State)
	}
	if len(resp.Projects) != 1 || resp.Projects[0].Name != "Skynet" {
		t.Fatalf("projects missing: %+v", resp.Projects)
	}
}

func TestChat(t *testing.T) {
	srv, st := newTestServer(t)

	body := strings.NewReader(`{"text":"hola karen"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "eco: hola karen" {
		t.Fatalf("unexpected reply: %q", resp.Reply)
	}

	chat, err := st.Chat()
	if err != nil || len(chat) != 2 {
		t.Fatalf("history not recorded: %v %+v", err, chat)
	}
}

func TestChatRejectsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestQuizResultUnknownSubject(t *testing.T) {
	srv, _ := newTestServer(t)
	body := strings.NewReader(`{"subject":"fantasma","score":90}`)
	r := httptest.NewRequest(http.MethodPost, "/api/quiz/result", body)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestQuizResultScoreOutOfRange(t *testing.T) {
	srv, st := newTestServer(t)
	if _, err := st.CreateSubject("Química"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, payload := range []string{
		`{"subject":"Química","score":150}`,
		`{"subject":"Química","score":-1}`,
	} {
		r := httptest.NewRequest(http.MethodPost, "/api/quiz/result", strings.NewReader(payload))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, w.Code)
		}
	}
}

func TestQuizResultPass(t *testing.T) {
	srv, st := newTestServer(t)
	sub, err := st.CreateSubject("Química")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.CreateTopic(sub.ID, "Enlaces", 1, "basico"); err != nil {
		t.Fatalf("seed topic: %v", err)
	}

	body := strings.NewReader(`{"subject":"Química","score":100}`)
	r := httptest.NewRequest(http.MethodPost, "/api/quiz/result", body)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	loaded, err := st.SubjectByName(sub.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Topics[0].Status != store.TopicMastered {
		t.Fatalf("topic not promoted: %+v", loaded.Topics[0])
	}
}

func TestVoiceStopWithoutSession(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/voice/stop", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}
