package httpserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestEventsStreamDeliversResponses(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/voice/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Trigger a reply after the subscription is live.
	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.a.HandleText(context.Background(), "hola")
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var frame eventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Kind == "response" {
			if frame.Text != "eco: hola" {
				t.Fatalf("unexpected response frame: %+v", frame)
			}
			return
		}
		// waveform or state frames may interleave
		if time.Now().After(deadline) {
			t.Fatalf("response frame never arrived")
		}
	}
}
