package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ANTHZKN/karenasistente/internal/assistant"
	"github.com/ANTHZKN/karenasistente/internal/audio"
	"github.com/ANTHZKN/karenasistente/internal/config"
	"github.com/ANTHZKN/karenasistente/internal/dispatch"
	"github.com/ANTHZKN/karenasistente/internal/gemini"
	"github.com/ANTHZKN/karenasistente/internal/httpserver"
	"github.com/ANTHZKN/karenasistente/internal/quiz"
	"github.com/ANTHZKN/karenasistente/internal/speech"
	"github.com/ANTHZKN/karenasistente/internal/store"
	"github.com/ANTHZKN/karenasistente/internal/transcript"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	model := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModelID)

	sink, err := speech.NewPortaudioSink()
	if err != nil {
		log.Fatalf("open audio output: %v", err)
	}
	defer sink.Close()
	engine := speech.NewDeepgramEngine(cfg.DeepgramAPIKey, sink)
	synth := speech.NewSynthesizer(engine, cfg.VoiceName)

	capture := audio.NewCapture()
	engines := func() transcript.Engine {
		return transcript.NewStreamEngine(cfg.SpeechWSURL, cfg.SpeechAPIKey, cfg.SpeechLang)
	}

	var a *assistant.Assistant
	registry := dispatch.NewRegistry(st, func(sub store.Subject) { a.LaunchQuiz(sub) })
	dispatcher := dispatch.New(model, st, registry)
	quizzes := quiz.NewGenerator(model)

	a = assistant.New(capture, engines, dispatcher, synth, quizzes, st, cfg.SilenceThreshold)

	srv := httpserver.New(a, st)

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	a.StopVoice()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
