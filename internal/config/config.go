package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	GeminiAPIKey  string
	GeminiModelID string

	SpeechWSURL  string
	SpeechAPIKey string
	SpeechLang   string

	DeepgramAPIKey string
	VoiceName      string

	SQLitePath string

	SilenceThreshold time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - dispatch and quiz generation will not work")
	}
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-3-flash-preview"
	}

	speechURL := os.Getenv("SPEECH_WS_URL")
	if speechURL == "" {
		speechURL = "wss://streaming.assemblyai.com/v3/ws"
	}
	speechKey := os.Getenv("SPEECH_API_KEY")
	if speechKey == "" {
		log.Println("Warning: SPEECH_API_KEY not set - transcription will not work")
	}
	speechLang := os.Getenv("SPEECH_LANGUAGE")
	if speechLang == "" {
		speechLang = "es-ES"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "karen.db"
	}

	silence := 1900 * time.Millisecond
	if v := os.Getenv("SILENCE_THRESHOLD_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			silence = time.Duration(ms) * time.Millisecond
		} else {
			log.Printf("Warning: invalid SILENCE_THRESHOLD_MS %q, using default", v)
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s model=%s lang=%s", addr, geminiModel, speechLang)
	return Config{
		HTTPAddress:      addr,
		GeminiAPIKey:     geminiKey,
		GeminiModelID:    geminiModel,
		SpeechWSURL:      speechURL,
		SpeechAPIKey:     speechKey,
		SpeechLang:       speechLang,
		DeepgramAPIKey:   deepgramKey,
		VoiceName:        os.Getenv("VOICE_NAME"),
		SQLitePath:       sqlitePath,
		SilenceThreshold: silence,
	}
}
