// Package dispatch turns finalized utterances into tool executions. It sends
// the conversation to the model with the tool registry attached, runs any
// returned function calls in order against the store, and folds the outcomes
// into one spoken reply.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ANTHZKN/karenasistente/internal/gemini"
	"github.com/ANTHZKN/karenasistente/internal/store"
)

// Model is the slice of the gemini client the dispatcher needs.
type Model interface {
	GenerateContent(ctx context.Context, req *gemini.Request) (*gemini.Result, error)
}

// Fixed replies for degraded outcomes.
const (
	connectionLostReply = "Anthony, he perdido conexión momentáneamente con mis servidores centrales. Por favor, inténtalo de nuevo."
	emptyResponseReply  = "Lo siento Anthony, hubo un error en mi núcleo de procesamiento."
	allFailedReply      = "Lo siento Anthony, no pude completar esa acción."
	partialFailureReply = "Sin embargo, no pude completar todas las acciones, Anthony."
)

// ToolResult records one executed (or attempted) function call.
type ToolResult struct {
	Name string
	Text string
	Err  error
}

// Dispatcher routes conversations through the model and executes tool calls.
type Dispatcher struct {
	model    Model
	st       *store.Store
	registry *Registry
}

// New builds a Dispatcher over model, st and registry.
func New(model Model, st *store.Store, registry *Registry) *Dispatcher {
	return &Dispatcher{model: model, st: st, registry: registry}
}

// Dispatch sends history to the model and executes whatever it asks for.
// The returned string is always speakable; model failures degrade to a fixed
// apology rather than an error so the conversation survives for retry.
func (d *Dispatcher) Dispatch(ctx context.Context, history []gemini.Message) (string, []ToolResult) {
	req := &gemini.Request{
		SystemInstruction: d.systemDirective(),
		Messages:          history,
		Tools:             d.registry.Declarations(),
	}

	result, err := d.model.GenerateContent(ctx, req)
	if err != nil {
		log.Printf("dispatch: model call failed: %v", err)
		return connectionLostReply, nil
	}

	if len(result.FunctionCalls) == 0 {
		if strings.TrimSpace(result.Text) == "" {
			return emptyResponseReply, nil
		}
		return result.Text, nil
	}

	results := d.execute(result.FunctionCalls)
	return synthesize(results), results
}

// execute runs calls sequentially in model order. A failed call never stops
// the ones after it.
func (d *Dispatcher) execute(calls []gemini.FunctionCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		tool, ok := d.registry.Lookup(call.Name)
		if !ok {
			log.Printf("dispatch: model requested unknown tool %q, skipping", call.Name)
			results = append(results, ToolResult{Name: call.Name, Err: fmt.Errorf("unknown tool %q", call.Name)})
			continue
		}
		if err := validateArgs(tool.Decl, call.Args); err != nil {
			log.Printf("dispatch: %s: invalid arguments: %v", call.Name, err)
			results = append(results, ToolResult{Name: call.Name, Err: err})
			continue
		}
		text, err := tool.Handler(call.Args)
		if err != nil {
			log.Printf("dispatch: %s: %v", call.Name, err)
			results = append(results, ToolResult{Name: call.Name, Err: err})
			continue
		}
		results = append(results, ToolResult{Name: call.Name, Text: text})
	}
	return results
}

// synthesize folds execution outcomes into one spoken confirmation.
func synthesize(results []ToolResult) string {
	var ok []string
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		ok = append(ok, r.Text)
	}
	switch {
	case failed == 0:
		return strings.Join(ok, " ")
	case len(ok) == 0:
		return allFailedReply
	default:
		return strings.Join(ok, " ") + " " + partialFailureReply
	}
}

func (d *Dispatcher) systemDirective() string {
	var b strings.Builder
	b.WriteString(`Eres KAREN, una asistente personal de alta tecnología creada por Anthony.
Personalidad: Protectora, inteligente, eficiente y cálida.
Idioma: Siempre en español.
Importante: Refiérete al usuario siempre como 'Anthony'.
Tu objetivo principal es gestionar sus proyectos y su plan de estudios, y ser su brazo derecho digital.

`)
	b.WriteString(d.st.Snapshot())
	b.WriteString(`
CAPACIDADES:
1. Agregar proyecto: Usa 'add_project'.
2. Eliminar proyecto: Usa 'delete_project'.
3. Actualizar estado: Usa 'update_project_status'.
4. Registrar materia: Usa 'add_study_subject'.
5. Agregar tema de estudio: Usa 'add_study_topic'.
6. Iniciar evaluación: Usa 'start_quiz'.
7. Listar proyectos: Si Anthony pide ver sus proyectos, responde con una lista numerada dividida exactamente así:
   [EN PROGRESO]
   1. Nombre del proyecto...

   [COMPLETADOS]
   1. Nombre del proyecto...

Si Anthony pide varias acciones en una sola frase, emite todas las llamadas a funciones necesarias, en el orden en que las pidió.

Tono: Profesional, futurista pero cercano. Siempre confirma las acciones realizadas.`)
	return b.String()
}
