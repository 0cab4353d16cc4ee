package dispatch

import (
	"fmt"
	"log"

	"github.com/ANTHZKN/karenasistente/internal/gemini"
	"github.com/ANTHZKN/karenasistente/internal/store"
)

// Handler executes one tool call and returns the spoken confirmation.
type Handler func(args map[string]any) (string, error)

// Tool pairs a function declaration with its handler.
type Tool struct {
	Decl    gemini.FunctionDeclaration
	Handler Handler
}

// Registry holds the tools exposed to the model, in declaration order.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry builds the assistant's tool set over st. onQuiz is invoked when
// the model requests a quiz; it receives the resolved subject.
func NewRegistry(st *store.Store, onQuiz func(subject store.Subject)) *Registry {
	r := &Registry{index: make(map[string]int)}

	r.add(Tool{
		Decl: gemini.FunctionDeclaration{
			Name:        "add_project",
			Description: "Crea un nuevo proyecto en el sistema de Anthony.",
			Parameters: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"name":        {Type: "string", Description: "El nombre descriptivo del proyecto."},
					"description": {Type: "string", Description: "Una breve descripción de qué trata el proyecto."},
				},
				Required: []string{"name", "description"},
			},
		},
		Handler: func(args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			description, _ := args["description"].(string)
			p, err := st.CreateProject(name, description)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Entendido Anthony. El proyecto %q ha sido inicializado en el mapa global.", p.Name), nil
		},
	})

	r.add(Tool{
		Decl: gemini.FunctionDeclaration{
			Name:        "delete_project",
			Description: "Elimina un proyecto existente basado en su nombre o ID.",
			Parameters: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"project_identifier": {Type: "string", Description: "El nombre exacto o ID del proyecto a eliminar."},
				},
				Required: []string{"project_identifier"},
			},
		},
		Handler: func(args map[string]any) (string, error) {
			identifier, _ := args["project_identifier"].(string)
			p, err := st.DeleteProject(identifier)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Protocolo de eliminación ejecutado, Anthony. El proyecto %q ha sido purgado de mis registros.", p.Name), nil
		},
	})

	r.add(Tool{
		Decl: gemini.FunctionDeclaration{
			Name:        "update_project_status",
			Description: "Cambia el estado de un proyecto (en progreso o completado).",
			Parameters: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"project_identifier": {Type: "string", Description: "El nombre o ID del proyecto."},
					"status": {
						Type:        "string",
						Enum:        []string{store.StatusInProgress, store.StatusCompleted},
						Description: "El nuevo estado del proyecto.",
					},
				},
				Required: []string{"project_identifier", "status"},
			},
		},
		Handler: func(args map[string]any) (string, error) {
			identifier, _ := args["project_identifier"].(string)
			status, _ := args["status"].(string)
			p, err := st.UpdateProjectStatus(identifier, status)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Estado actualizado, Anthony. El proyecto %q ahora figura como %q.", p.Name, p.Status), nil
		},
	})

	r.add(Tool{
		Decl: gemini.FunctionDeclaration{
			Name:        "add_study_subject",
			Description: "Registra una nueva materia en el plan de estudios de Anthony.",
			Parameters: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"name": {Type: "string", Description: "El nombre de la materia."},
				},
				Required: []string{"name"},
			},
		},
		Handler: func(args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			sub, err := st.CreateSubject(name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Materia %q registrada en tu plan de estudios, Anthony.", sub.Name), nil
		},
	})

	r.add(Tool{
		Decl: gemini.FunctionDeclaration{
			Name:        "add_study_topic",
			Description: "Agrega un tema a una materia existente del plan de estudios.",
			Parameters: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"subject_name": {Type: "string", Description: "El nombre de la materia."},
					"topic_name":   {Type: "string", Description: "El nombre del tema a agregar."},
					"quarter": {
						Type:        "integer",
						Description: "El trimestre planificado (1 a 3).",
					},
					"difficulty": {
						Type:        "string",
						Enum:        []string{"basico", "intermedio", "avanzado"},
						Description: "La dificultad estimada del tema.",
					},
				},
				Required: []string{"subject_name", "topic_name", "quarter", "difficulty"},
			},
		},
		Handler: func(args map[string]any) (string, error) {
			subject, _ := args["subject_name"].(string)
			topic, _ := args["topic_name"].(string)
			difficulty, _ := args["difficulty"].(string)
			quarter := intArg(args["quarter"])
			t, err := st.CreateTopic(subject, topic, quarter, difficulty)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Tema %q agregado al trimestre %d, Anthony.", t.Name, t.Quarter), nil
		},
	})

	r.add(Tool{
		Decl: gemini.FunctionDeclaration{
			Name:        "start_quiz",
			Description: "Inicia una evaluación sobre los temas de una materia.",
			Parameters: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"subject_name": {Type: "string", Description: "El nombre de la materia a evaluar."},
				},
				Required: []string{"subject_name"},
			},
		},
		Handler: func(args map[string]any) (string, error) {
			name, _ := args["subject_name"].(string)
			sub, err := st.SubjectByName(name)
			if err != nil {
				return "", err
			}
			if len(sub.Topics) == 0 {
				return fmt.Sprintf("La materia %s no tiene temas registrados todavía, Anthony. Agrega temas antes de iniciar una evaluación.", sub.Name), nil
			}
			if onQuiz != nil {
				onQuiz(sub)
			}
			return fmt.Sprintf("Iniciando protocolo de evaluación para %s, Anthony.", sub.Name), nil
		},
	})

	return r
}

func (r *Registry) add(t Tool) {
	r.index[t.Decl.Name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Declarations returns the function declarations in registration order.
func (r *Registry) Declarations() []gemini.FunctionDeclaration {
	out := make([]gemini.FunctionDeclaration, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Decl
	}
	return out
}

// Lookup returns the tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	i, ok := r.index[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// validateArgs checks required parameters and enum membership before the
// handler runs. Model-produced arguments are untrusted.
func validateArgs(decl gemini.FunctionDeclaration, args map[string]any) error {
	if decl.Parameters == nil {
		return nil
	}
	for _, req := range decl.Parameters.Required {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("missing required argument %q", req)
		}
	}
	for name, schema := range decl.Parameters.Properties {
		if len(schema.Enum) == 0 {
			continue
		}
		raw, ok := args[name]
		if !ok {
			continue
		}
		val, ok := raw.(string)
		if !ok {
			return fmt.Errorf("argument %q is not a string", name)
		}
		found := false
		for _, allowed := range schema.Enum {
			if val == allowed {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("argument %q has invalid value %q", name, val)
		}
	}
	return nil
}

// intArg coerces a JSON-decoded numeric argument. JSON numbers arrive as
// float64; some models send integers as strings of digits too.
func intArg(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var out int
		if _, err := fmt.Sscanf(n, "%d", &out); err != nil {
			log.Printf("dispatch: non-numeric integer argument %q", n)
			return 0
		}
		return out
	default:
		return 0
	}
}
