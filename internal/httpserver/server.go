// Package httpserver exposes the assistant over HTTP: state and chat
// endpoints plus a websocket event stream carrying transcripts, replies and
// live waveform bins.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ANTHZKN/karenasistente/internal/assistant"
	"github.com/ANTHZKN/karenasistente/internal/audio"
	"github.com/ANTHZKN/karenasistente/internal/store"
	"github.com/ANTHZKN/karenasistente/internal/transcript"
)

// Server bundles the router and its dependencies.
type Server struct {
	echo *echo.Echo
	a    *assistant.Assistant
	st   *store.Store
}

// New constructs the HTTP server with routes.
func New(a *assistant.Assistant, st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{echo: e, a: a, st: st}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/state", s.handleState)
	e.POST("/api/chat", s.handleChat)
	e.POST("/api/voice/start", s.handleVoiceStart)
	e.POST("/api/voice/stop", s.handleVoiceStop)
	e.POST("/api/quiz/result", s.handleQuizResult)
	e.GET("/api/voice/events", s.handleEvents)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

type stateResponse struct {
	State    assistant.State     `json:"state"`
	Projects []store.Project     `json:"projects"`
	Subjects []store.Subject     `json:"subjects"`
	Chat     []store.ChatMessage `json:"chat"`
}

func (s *Server) handleState(c echo.Context) error {
	projects, err := s.st.Projects()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	subjects, err := s.st.Subjects()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	chat, err := s.st.Chat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stateResponse{
		State:    s.a.State(),
		Projects: projects,
		Subjects: subjects,
		Chat:     chat,
	})
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()
	reply := s.a.HandleText(ctx, req.Text)
	return c.JSON(http.StatusOK, chatResponse{Reply: reply})
}

func (s *Server) handleVoiceStart(c echo.Context) error {
	if err := s.a.StartVoice(); err != nil {
		switch {
		case errors.Is(err, transcript.ErrUnsupportedPlatform):
			return echo.NewHTTPError(http.StatusNotImplemented, "speech recognition is not available")
		case errors.Is(err, audio.ErrMicAccessDenied):
			return echo.NewHTTPError(http.StatusForbidden, "microphone access denied")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleVoiceStop(c echo.Context) error {
	s.a.StopVoice()
	return c.NoContent(http.StatusNoContent)
}

type quizResultRequest struct {
	Subject string  `json:"subject"`
	Score   float64 `json:"score"`
}

func (s *Server) handleQuizResult(c echo.Context) error {
	var req quizResultRequest
	if err := c.Bind(&req); err != nil || req.Subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject is required")
	}
	if req.Score < 0 || req.Score > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "score must be between 0 and 100")
	}
	reply, err := s.a.CompleteQuiz(req.Subject, req.Score)
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown subject")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, chatResponse{Reply: reply})
}
