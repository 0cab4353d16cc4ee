package httpserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ANTHZKN/karenasistente/internal/assistant"
)

// waveformInterval paces frequency-bin frames to roughly display rate.
const waveformInterval = 50 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventFrame is one websocket message. Exactly one payload field is set.
type eventFrame struct {
	assistant.Notification
	Waveform []byte `json:"waveform,omitempty"`
}

// handleEvents streams assistant notifications and waveform bins until the
// client goes away.
func (s *Server) handleEvents(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	notifications, unsubscribe := s.a.Subscribe()
	defer unsubscribe()

	// Reads only serve to detect the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(waveformInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if err := writeFrame(ws, eventFrame{Notification: n}); err != nil {
				return nil
			}
		case <-ticker.C:
			analyzer := s.a.Analyzer()
			if analyzer == nil {
				continue
			}
			frame := eventFrame{
				Notification: assistant.Notification{Kind: "waveform"},
				Waveform:     analyzer.FrequencyBins(),
			}
			if err := writeFrame(ws, frame); err != nil {
				return nil
			}
		}
	}
}

func writeFrame(ws *websocket.Conn, frame eventFrame) error {
	if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if err := ws.WriteJSON(frame); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Printf("httpserver: event write: %v", err)
		}
		return err
	}
	return nil
}
