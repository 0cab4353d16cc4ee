// Package quiz generates multiple-choice evaluations over a subject's topics
// using structured model output, and scores the outcome.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ANTHZKN/karenasistente/internal/gemini"
)

// QuestionCount and OptionCount are fixed by the quiz format.
const (
	QuestionCount = 5
	OptionCount   = 4
)

// PassScore is the percentage at or above which a subject counts as mastered.
const PassScore = 80.0

// ErrMalformed indicates the model's structured output did not satisfy the
// quiz shape. Callers treat it as total failure with no partial state.
var ErrMalformed = errors.New("quiz: malformed model output")

// Question is one multiple-choice question.
type Question struct {
	ID                 string   `json:"id"`
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
}

// Quiz is a generated evaluation for one subject.
type Quiz struct {
	SubjectName string     `json:"subjectName"`
	Questions   []Question `json:"questions"`
}

// Model is the slice of the gemini client the generator needs.
type Model interface {
	GenerateContent(ctx context.Context, req *gemini.Request) (*gemini.Result, error)
}

// Generator produces quizzes through the model.
type Generator struct {
	model Model
}

// NewGenerator builds a Generator over model.
func NewGenerator(model Model) *Generator {
	return &Generator{model: model}
}

var responseSchema = &gemini.Schema{
	Type: "object",
	Properties: map[string]*gemini.Schema{
		"questions": {
			Type: "array",
			Items: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"id":                 {Type: "string"},
					"question":           {Type: "string"},
					"options":            {Type: "array", Items: &gemini.Schema{Type: "string"}},
					"correctAnswerIndex": {Type: "integer"},
					"explanation":        {Type: "string"},
				},
				Required: []string{"id", "question", "options", "correctAnswerIndex", "explanation"},
			},
		},
	},
	Required: []string{"questions"},
}

// Generate requests a quiz for subject covering topics. Any deviation from
// the expected shape returns ErrMalformed with a nil quiz.
func (g *Generator) Generate(ctx context.Context, subject string, topics []string) (*Quiz, error) {
	prompt := fmt.Sprintf(
		"Genera un examen de exactamente %d preguntas de opción múltiple sobre la materia %q, "+
			"cubriendo estos temas: %s. Cada pregunta debe tener exactamente %d opciones, "+
			"el índice de la respuesta correcta y una breve explicación. Todo en español.",
		QuestionCount, subject, strings.Join(topics, ", "), OptionCount,
	)

	result, err := g.model.GenerateContent(ctx, &gemini.Request{
		Messages:       []gemini.Message{{Role: "user", Text: prompt}},
		ResponseSchema: responseSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("quiz: generate: %w", err)
	}

	var q Quiz
	if err := json.Unmarshal([]byte(result.Text), &q); err != nil {
		return nil, ErrMalformed
	}
	q.SubjectName = subject
	if err := validate(&q); err != nil {
		return nil, ErrMalformed
	}
	return &q, nil
}

func validate(q *Quiz) error {
	if len(q.Questions) != QuestionCount {
		return fmt.Errorf("expected %d questions, got %d", QuestionCount, len(q.Questions))
	}
	for i, question := range q.Questions {
		if strings.TrimSpace(question.Question) == "" {
			return fmt.Errorf("question %d is empty", i)
		}
		if len(question.Options) != OptionCount {
			return fmt.Errorf("question %d has %d options", i, len(question.Options))
		}
		if question.CorrectAnswerIndex < 0 || question.CorrectAnswerIndex >= OptionCount {
			return fmt.Errorf("question %d answer index %d out of range", i, question.CorrectAnswerIndex)
		}
		if strings.TrimSpace(question.Explanation) == "" {
			return fmt.Errorf("question %d explanation is empty", i)
		}
	}
	return nil
}

// Score returns the percentage of correct answers. answers holds the chosen
// option index per question, aligned with q.Questions.
func Score(q *Quiz, answers []int) float64 {
	if len(q.Questions) == 0 {
		return 0
	}
	correct := 0
	for i, question := range q.Questions {
		if i < len(answers) && answers[i] == question.CorrectAnswerIndex {
			correct++
		}
	}
	return float64(correct) / float64(len(q.Questions)) * 100
}

// Passed reports whether score meets the mastery bar.
func Passed(score float64) bool { return score >= PassScore }
