// Package store holds the assistant's mutable application state: projects,
// study subjects with their topics, and chat history. Tool handlers mutate it;
// the dispatcher reads a snapshot of it for model grounding.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrEntityNotFound indicates a named project/subject/topic could not be
// resolved. Handlers surface it as a partial dispatch failure.
var ErrEntityNotFound = errors.New("store: entity not found")

// Project statuses mirror the two states the voice commands can set.
const (
	StatusInProgress = "en progreso"
	StatusCompleted  = "completado"
)

// Topic lifecycle states.
const (
	TopicPending  = "pendiente"
	TopicStudying = "estudiando"
	TopicMastered = "dominado"
)

// Project is one tracked project with its own conversation thread.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	Chat        []ChatMessage `json:"chat"`
}

// Subject is one study subject with its planned topics.
type Subject struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Topics []Topic `json:"topics"`
}

// Topic is one planned study topic.
type Topic struct {
	ID         string `json:"id"`
	SubjectID  string `json:"subjectId"`
	Name       string `json:"name"`
	Quarter    int    `json:"quarter"`
	Difficulty string `json:"difficulty"`
	Status     string `json:"status"`
}

// ChatMessage is one role-tagged turn of the general conversation.
type ChatMessage struct {
	Role string    `json:"role"` // "user" or "model"
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
}

// Store is the sqlite-backed state store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS topics (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	quarter    INTEGER NOT NULL,
	difficulty TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chat (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT, -- NULL for the general conversation
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	at         TIMESTAMP NOT NULL
);
`

// Open opens (and if needed creates) the store at path. ":memory:" gives an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateProject registers a new project in "en progreso" state.
func (s *Store) CreateProject(name, description string) (Project, error) {
	p := Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Status:      StatusInProgress,
		CreatedAt:   time.Now(),
	}
	if p.Name == "" {
		return Project{}, fmt.Errorf("store: project name is empty")
	}
	_, err := s.db.Exec(
		`INSERT INTO projects (id, name, description, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Status, p.CreatedAt,
	)
	if err != nil {
		return Project{}, fmt.Errorf("store: insert project: %w", err)
	}
	seed := fmt.Sprintf("He inicializado el entorno de trabajo para %q, Anthony. Aquí registraremos los avances.", p.Name)
	if err := s.AppendProjectChat(p.ID, "model", seed); err != nil {
		return Project{}, err
	}
	p.Chat = []ChatMessage{{Role: "model", Text: seed, At: p.CreatedAt}}
	return p, nil
}

// resolveProject matches case-insensitively on name, falling back to exact id.
// First match (oldest) wins.
func (s *Store) resolveProject(identifier string) (Project, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, status, created_at FROM projects
		 WHERE lower(name) = lower(?) OR id = ?
		 ORDER BY CASE WHEN lower(name) = lower(?) THEN 0 ELSE 1 END, created_at
		 LIMIT 1`,
		identifier, identifier, identifier,
	)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrEntityNotFound
		}
		return Project{}, fmt.Errorf("store: resolve project: %w", err)
	}
	return p, nil
}

// DeleteProject removes the project matching identifier.
func (s *Store) DeleteProject(identifier string) (Project, error) {
	p, err := s.resolveProject(identifier)
	if err != nil {
		return Project{}, err
	}
	if _, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, p.ID); err != nil {
		return Project{}, fmt.Errorf("store: delete project: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM chat WHERE project_id = ?`, p.ID); err != nil {
		return Project{}, fmt.Errorf("store: delete project chat: %w", err)
	}
	return p, nil
}

// UpdateProjectStatus sets the status of the project matching identifier.
func (s *Store) UpdateProjectStatus(identifier, status string) (Project, error) {
	if status != StatusInProgress && status != StatusCompleted {
		return Project{}, fmt.Errorf("store: invalid project status %q", status)
	}
	p, err := s.resolveProject(identifier)
	if err != nil {
		return Project{}, err
	}
	if _, err := s.db.Exec(`UPDATE projects SET status = ? WHERE id = ?`, status, p.ID); err != nil {
		return Project{}, fmt.Errorf("store: update project: %w", err)
	}
	p.Status = status
	return p, nil
}

// Projects lists all projects oldest first.
func (s *Store) Projects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT id, name, description, status, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		chat, err := s.projectChat(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Chat = chat
	}
	return out, nil
}

// CreateSubject registers a new study subject.
func (s *Store) CreateSubject(name string) (Subject, error) {
	sub := Subject{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	if sub.Name == "" {
		return Subject{}, fmt.Errorf("store: subject name is empty")
	}
	_, err := s.db.Exec(
		`INSERT INTO subjects (id, name, created_at) VALUES (?, ?, ?)`,
		sub.ID, sub.Name, time.Now(),
	)
	if err != nil {
		return Subject{}, fmt.Errorf("store: insert subject: %w", err)
	}
	return sub, nil
}

// resolveSubject matches case-insensitively on name, falling back to exact id.
func (s *Store) resolveSubject(identifier string) (Subject, error) {
	row := s.db.QueryRow(
		`SELECT id, name FROM subjects
		 WHERE lower(name) = lower(?) OR id = ?
		 ORDER BY CASE WHEN lower(name) = lower(?) THEN 0 ELSE 1 END, created_at
		 LIMIT 1`,
		identifier, identifier, identifier,
	)
	var sub Subject
	if err := row.Scan(&sub.ID, &sub.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subject{}, ErrEntityNotFound
		}
		return Subject{}, fmt.Errorf("store: resolve subject: %w", err)
	}
	return sub, nil
}

// SubjectByName returns the subject matching identifier with topics loaded.
func (s *Store) SubjectByName(identifier string) (Subject, error) {
	sub, err := s.resolveSubject(identifier)
	if err != nil {
		return Subject{}, err
	}
	topics, err := s.topicsOf(sub.ID)
	if err != nil {
		return Subject{}, err
	}
	sub.Topics = topics
	return sub, nil
}

func (s *Store) topicsOf(subjectID string) ([]Topic, error) {
	rows, err := s.db.Query(
		`SELECT id, subject_id, name, quarter, difficulty, status FROM topics
		 WHERE subject_id = ? ORDER BY created_at`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.Name, &t.Quarter, &t.Difficulty, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Subjects lists all subjects with topics, oldest first.
func (s *Store) Subjects() ([]Subject, error) {
	rows, err := s.db.Query(`SELECT id, name FROM subjects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list subjects: %w", err)
	}
	defer rows.Close()
	var out []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Name); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		topics, err := s.topicsOf(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Topics = topics
	}
	return out, nil
}

// CreateTopic adds a topic under the subject matching subjectIdentifier.
func (s *Store) CreateTopic(subjectIdentifier, name string, quarter int, difficulty string) (Topic, error) {
	if quarter < 1 || quarter > 3 {
		return Topic{}, fmt.Errorf("store: invalid quarter %d", quarter)
	}
	switch difficulty {
	case "basico", "intermedio", "avanzado":
	default:
		return Topic{}, fmt.Errorf("store: invalid difficulty %q", difficulty)
	}
	sub, err := s.resolveSubject(subjectIdentifier)
	if err != nil {
		return Topic{}, err
	}
	t := Topic{
		ID:         uuid.NewString(),
		SubjectID:  sub.ID,
		Name:       strings.TrimSpace(name),
		Quarter:    quarter,
		Difficulty: difficulty,
		Status:     TopicPending,
	}
	if t.Name == "" {
		return Topic{}, fmt.Errorf("store: topic name is empty")
	}
	_, err = s.db.Exec(
		`INSERT INTO topics (id, subject_id, name, quarter, difficulty, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubjectID, t.Name, t.Quarter, t.Difficulty, t.Status, time.Now(),
	)
	if err != nil {
		return Topic{}, fmt.Errorf("store: insert topic: %w", err)
	}
	return t, nil
}

// MarkSubjectMastered promotes every topic of the subject to "dominado".
// Called after a quiz score at or above the mastery bar.
func (s *Store) MarkSubjectMastered(subjectID string) error {
	_, err := s.db.Exec(`UPDATE topics SET status = ? WHERE subject_id = ?`, TopicMastered, subjectID)
	if err != nil {
		return fmt.Errorf("store: mark mastered: %w", err)
	}
	return nil
}

// AppendChat records one general-chat turn.
func (s *Store) AppendChat(role, text string) error {
	_, err := s.db.Exec(`INSERT INTO chat (project_id, role, text, at) VALUES (NULL, ?, ?, ?)`, role, text, time.Now())
	if err != nil {
		return fmt.Errorf("store: append chat: %w", err)
	}
	return nil
}

// AppendProjectChat records one turn of a project's own thread.
func (s *Store) AppendProjectChat(projectID, role, text string) error {
	_, err := s.db.Exec(`INSERT INTO chat (project_id, role, text, at) VALUES (?, ?, ?, ?)`, projectID, role, text, time.Now())
	if err != nil {
		return fmt.Errorf("store: append project chat: %w", err)
	}
	return nil
}

// Chat returns the general conversation oldest first.
func (s *Store) Chat() ([]ChatMessage, error) {
	return s.chatRows(`SELECT role, text, at FROM chat WHERE project_id IS NULL ORDER BY seq`)
}

func (s *Store) projectChat(projectID string) ([]ChatMessage, error) {
	return s.chatRows(`SELECT role, text, at FROM chat WHERE project_id = ? ORDER BY seq`, projectID)
}

func (s *Store) chatRows(query string, args ...any) ([]ChatMessage, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list chat: %w", err)
	}
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.Role, &m.Text, &m.At); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Snapshot renders a human-readable summary of current state for grounding
// the model's entity resolution.
func (s *Store) Snapshot() string {
	var b strings.Builder

	projects, err := s.Projects()
	if err == nil && len(projects) > 0 {
		b.WriteString("PROYECTOS ACTUALES:\n")
		for _, p := range projects {
			fmt.Fprintf(&b, "- %s (Estado: %s)\n", p.Name, p.Status)
		}
	} else {
		b.WriteString("Ningún proyecto registrado actualmente.\n")
	}

	subjects, err := s.Subjects()
	if err == nil && len(subjects) > 0 {
		b.WriteString("MATERIAS DE ESTUDIO:\n")
		for _, sub := range subjects {
			fmt.Fprintf(&b, "- %s (%d temas)\n", sub.Name, len(sub.Topics))
		}
	} else {
		b.WriteString("Ninguna materia registrada actualmente.\n")
	}

	return b.String()
}
