package transcript

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamEngine is a websocket streaming recognition engine. It speaks the
// realtime protocol of the hosted recognizer: a Begin handshake, incremental
// Turn messages carrying the running transcript, and a Termination or Error
// message when the stream ends.
type StreamEngine struct {
	baseURL string
	apiKey  string
	lang    string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	events    chan Event
	audioData chan []byte
	stopCh    chan struct{}
	closeOnce sync.Once
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn     bool   `json:"end_of_turn,omitempty"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewStreamEngine creates an engine for the given endpoint, key and spoken
// language tag.
func NewStreamEngine(baseURL, apiKey, lang string) *StreamEngine {
	return &StreamEngine{
		baseURL:   baseURL,
		apiKey:    apiKey,
		lang:      lang,
		events:    make(chan Event, 100),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the reader and
// audio writer loops.
func (e *StreamEngine) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected {
		return nil
	}
	if e.apiKey == "" {
		return fmt.Errorf("transcript: recognition api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	params.Set("language", e.lang)

	wsURL := fmt.Sprintf("%s?%s", e.baseURL, params.Encode())
	headers := map[string][]string{"Authorization": {e.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("transcript: connection failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("transcript: connect: %w", err)
	}

	e.conn = conn
	e.connected = true

	go e.readLoop()
	go e.writeLoop()

	log.Printf("transcript: connected to recognition stream (%s)", e.lang)
	return nil
}

// SendAudio queues PCM (16kHz s16le mono) for delivery to the recognizer.
func (e *StreamEngine) SendAudio(pcm []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.connected {
		return fmt.Errorf("transcript: not connected")
	}
	select {
	case e.audioData <- pcm:
	default:
		log.Println("transcript: audio buffer full, dropping packet")
	}
	return nil
}

// Events returns the engine event stream. Closed when the stream ends.
func (e *StreamEngine) Events() <-chan Event { return e.events }

// Close terminates the stream and releases the connection. Idempotent.
func (e *StreamEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		close(e.stopCh)
		if e.conn != nil {
			_ = e.conn.WriteJSON(map[string]string{"type": "Terminate"})
			_ = e.conn.Close()
			e.conn = nil
		}
		e.connected = false
		// Closed under the lock so emit cannot send on the closed channel.
		close(e.events)
		e.mu.Unlock()
	})
	return nil
}

func (e *StreamEngine) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transcript: recovered in readLoop: %v", r)
		}
	}()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}
		e.mu.RLock()
		conn := e.conn
		e.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-e.stopCh:
			default:
				// remote closed unexpectedly; surface as stream end
				e.emit(Event{Ended: true})
			}
			return
		}
		e.processMessage(message)
	}
}

func (e *StreamEngine) processMessage(message []byte) {
	var base map[string]interface{}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("transcript: bad message: %v", err)
		return
	}
	msgType, _ := base["type"].(string)
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("transcript: stream began id=%s expires=%s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript != "" {
			e.emit(Event{Transcript: msg.Transcript, Final: msg.EndOfTurn})
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("transcript: stream terminated after %.2fs audio", msg.AudioDurationSeconds)
		e.emit(Event{Ended: true})
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		e.emit(Event{ErrCode: msg.Error})
	default:
		log.Printf("transcript: unknown message type %q", msgType)
	}
}

func (e *StreamEngine) emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.connected {
		return
	}
	select {
	case e.events <- ev:
	default:
	}
}

func (e *StreamEngine) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transcript: recovered in writeLoop: %v", r)
		}
	}()
	for {
		select {
		case <-e.stopCh:
			return
		case pcm := <-e.audioData:
			e.mu.RLock()
			conn := e.conn
			e.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("transcript: send audio: %v", err)
				return
			}
		}
	}
}
