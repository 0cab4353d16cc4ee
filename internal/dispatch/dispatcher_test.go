package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ANTHZKN/karenasistente/internal/gemini"
	"github.com/ANTHZKN/karenasistente/internal/store"
)

type fakeModel struct {
	result  *gemini.Result
	err     error
	lastReq *gemini.Request
}

func (f *fakeModel) GenerateContent(_ context.Context, req *gemini.Request) (*gemini.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestDispatcher(t *testing.T, model Model) (*Dispatcher, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	registry := NewRegistry(st, nil)
	return New(model, st, registry), st
}

func TestDispatch_TwoToolsInOrder(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{FunctionCalls: []gemini.FunctionCall{
		{Name: "add_study_subject", Args: map[string]any{"name": "Física"}},
		{Name: "add_study_topic", Args: map[string]any{
			"subject_name": "Física", "topic_name": "Termodinámica",
			"quarter": float64(1), "difficulty": "basico",
		}},
	}}}
	d, st := newTestDispatcher(t, model)

	reply, results := d.Dispatch(context.Background(), []gemini.Message{
		{Role: "user", Text: "crea la materia Física y agrega el tema Termodinámica a Física"},
	})

	if len(results) != 2 || results[0].Name != "add_study_subject" || results[1].Name != "add_study_topic" {
		t.Fatalf("unexpected results: %+v", results)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s failed: %v", r.Name, r.Err)
		}
	}
	subjectIdx := strings.Index(reply, "Física")
	topicIdx := strings.Index(reply, "Termodinámica")
	if subjectIdx < 0 || topicIdx < 0 || topicIdx < subjectIdx {
		t.Fatalf("confirmations missing or out of order: %q", reply)
	}

	sub, err := st.SubjectByName("Física")
	if err != nil {
		t.Fatalf("subject not created: %v", err)
	}
	if len(sub.Topics) != 1 || sub.Topics[0].Name != "Termodinámica" {
		t.Fatalf("topic not created: %+v", sub.Topics)
	}
}

func TestDispatch_PartialFailureAggregates(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{FunctionCalls: []gemini.FunctionCall{
		{Name: "delete_project", Args: map[string]any{"project_identifier": "fantasma"}},
		{Name: "add_project", Args: map[string]any{"name": "Skynet", "description": "red global"}},
	}}}
	d, st := newTestDispatcher(t, model)

	reply, results := d.Dispatch(context.Background(), nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !errors.Is(results[0].Err, store.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("second call should have succeeded: %v", results[1].Err)
	}
	if !strings.Contains(reply, "Skynet") {
		t.Fatalf("reply lost the success confirmation: %q", reply)
	}
	if !strings.Contains(reply, partialFailureReply) {
		t.Fatalf("reply lost the failure notice: %q", reply)
	}

	if _, err := st.Projects(); err != nil {
		t.Fatalf("projects: %v", err)
	}
}

func TestDispatch_AllCallsFailed(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{FunctionCalls: []gemini.FunctionCall{
		{Name: "delete_project", Args: map[string]any{"project_identifier": "nada"}},
	}}}
	d, _ := newTestDispatcher(t, model)

	reply, _ := d.Dispatch(context.Background(), nil)
	if reply != allFailedReply {
		t.Fatalf("expected %q, got %q", allFailedReply, reply)
	}
}

func TestDispatch_UnknownToolSkipped(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{FunctionCalls: []gemini.FunctionCall{
		{Name: "launch_missiles", Args: map[string]any{}},
		{Name: "add_project", Args: map[string]any{"name": "Defensa", "description": "x"}},
	}}}
	d, _ := newTestDispatcher(t, model)

	reply, results := d.Dispatch(context.Background(), nil)
	if results[0].Err == nil {
		t.Fatalf("unknown tool should be recorded as failure")
	}
	if !strings.Contains(reply, "Defensa") {
		t.Fatalf("known tool result lost: %q", reply)
	}
}

func TestDispatch_InvalidEnumRejectedBeforeHandler(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{FunctionCalls: []gemini.FunctionCall{
		{Name: "update_project_status", Args: map[string]any{
			"project_identifier": "Alfa", "status": "pausado",
		}},
	}}}
	d, st := newTestDispatcher(t, model)
	if _, err := st.CreateProject("Alfa", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, results := d.Dispatch(context.Background(), nil)
	if results[0].Err == nil {
		t.Fatalf("expected enum validation error")
	}
	p, err := st.UpdateProjectStatus("Alfa", store.StatusInProgress)
	if err != nil || p.Status != store.StatusInProgress {
		t.Fatalf("project state corrupted: %+v %v", p, err)
	}
}

func TestDispatch_MissingRequiredArg(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{FunctionCalls: []gemini.FunctionCall{
		{Name: "add_project", Args: map[string]any{"name": "SinDescripcion"}},
	}}}
	d, _ := newTestDispatcher(t, model)

	_, results := d.Dispatch(context.Background(), nil)
	if results[0].Err == nil {
		t.Fatalf("expected missing-argument error")
	}
}

func TestDispatch_ModelErrorDegradesToApology(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	d, _ := newTestDispatcher(t, model)

	reply, results := d.Dispatch(context.Background(), nil)
	if reply != connectionLostReply {
		t.Fatalf("expected fixed apology, got %q", reply)
	}
	if results != nil {
		t.Fatalf("no tools should have run")
	}
}

func TestDispatch_PlainTextPassesThrough(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{Text: "Hola Anthony, todo en orden."}}
	d, _ := newTestDispatcher(t, model)

	reply, _ := d.Dispatch(context.Background(), nil)
	if reply != "Hola Anthony, todo en orden." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestDispatch_EmptyResponseFallback(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{}}
	d, _ := newTestDispatcher(t, model)

	reply, _ := d.Dispatch(context.Background(), nil)
	if reply != emptyResponseReply {
		t.Fatalf("expected fallback, got %q", reply)
	}
}

func TestDispatch_SystemDirectiveCarriesStateAndTools(t *testing.T) {
	model := &fakeModel{result: &gemini.Result{Text: "ok"}}
	d, st := newTestDispatcher(t, model)
	if _, err := st.CreateProject("Skynet", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d.Dispatch(context.Background(), []gemini.Message{{Role: "user", Text: "hola"}})

	if model.lastReq == nil {
		t.Fatalf("model never called")
	}
	if !strings.Contains(model.lastReq.SystemInstruction, "Skynet") {
		t.Fatalf("directive missing state snapshot")
	}
	if !strings.Contains(model.lastReq.SystemInstruction, "KAREN") {
		t.Fatalf("directive missing persona")
	}
	if len(model.lastReq.Tools) != 6 {
		t.Fatalf("expected 6 tool declarations, got %d", len(model.lastReq.Tools))
	}
}

func TestRegistry_StartQuizResolvesSubject(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if _, err := st.CreateSubject("Química"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.CreateTopic("Química", "Enlaces", 1, "basico"); err != nil {
		t.Fatalf("seed topic: %v", err)
	}

	var launched store.Subject
	registry := NewRegistry(st, func(sub store.Subject) { launched = sub })
	tool, ok := registry.Lookup("start_quiz")
	if !ok {
		t.Fatalf("start_quiz not registered")
	}

	reply, err := tool.Handler(map[string]any{"subject_name": "química"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if launched.Name != "Química" {
		t.Fatalf("quiz launched for %q", launched.Name)
	}
	if !strings.Contains(reply, "Química") {
		t.Fatalf("confirmation missing subject: %q", reply)
	}

	if _, err := tool.Handler(map[string]any{"subject_name": "Historia"}); !errors.Is(err, store.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestRegistry_StartQuizWithoutTopicsRefuses(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if _, err := st.CreateSubject("Historia"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	launched := false
	registry := NewRegistry(st, func(store.Subject) { launched = true })
	tool, _ := registry.Lookup("start_quiz")

	reply, err := tool.Handler(map[string]any{"subject_name": "Historia"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if launched {
		t.Fatalf("quiz launched for subject without topics")
	}
	if !strings.Contains(reply, "no tiene temas") {
		t.Fatalf("expected refusal, got %q", reply)
	}
}
