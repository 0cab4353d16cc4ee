package speech

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// PlaybackRate is the PCM sample rate the engine produces.
const PlaybackRate = 48000

// Sink plays a stream of little-endian 16-bit mono PCM at PlaybackRate.
type Sink interface {
	Play(ctx context.Context, pcm <-chan []byte) error
	Close() error
}

// DeepgramEngine synthesizes speech over the Deepgram speak websocket and
// plays it through a Sink.
type DeepgramEngine struct {
	apiKey string
	sink   Sink
}

// NewDeepgramEngine builds an engine speaking through sink.
func NewDeepgramEngine(apiKey string, sink Sink) *DeepgramEngine {
	return &DeepgramEngine{apiKey: apiKey, sink: sink}
}

// auraVoices is the fixed Spanish-capable slice of the Aura 2 catalog.
var auraVoices = []Voice{
	{Name: "Javier", Model: "aura-2-javier-es", Language: "es-MX"},
	{Name: "Celeste", Model: "aura-2-celeste-es", Language: "es-CO"},
	{Name: "Estrella", Model: "aura-2-estrella-es", Language: "es-MX"},
	{Name: "Carina", Model: "aura-2-carina-es", Language: "es-ES"},
	{Name: "Diana", Model: "aura-2-diana-es", Language: "es-ES"},
	{Name: "Selena", Model: "aura-2-selena-es", Language: "es-ES"},
	{Name: "Nestor", Model: "aura-2-nestor-es", Language: "es-ES"},
	{Name: "Thalia", Model: "aura-2-thalia-en", Language: "en-US"},
}

// Voices returns the engine catalog in stable order.
func (d *DeepgramEngine) Voices() []Voice {
	out := make([]Voice, len(auraVoices))
	copy(out, auraVoices)
	return out
}

// Speak streams text through the speak websocket into the sink. It returns
// when playback drains or ctx is canceled.
func (d *DeepgramEngine) Speak(ctx context.Context, text string, profile Profile) error {
	if d.apiKey == "" {
		return fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return nil
	}

	model := profile.Voice.Model
	if model == "" {
		model = auraVoices[0].Model
	}

	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go d.stream(ctx, model, text, pcmCh, errCh)

	playErr := d.sink.Play(ctx, pcmCh)
	streamErr := <-errCh
	if streamErr != nil {
		return streamErr
	}
	return playErr
}

func (d *DeepgramEngine) stream(ctx context.Context, model, text string, pcmCh chan []byte, errCh chan error) {
	defer close(pcmCh)
	defer close(errCh)

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: PlaybackRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		b := make([]byte, len(data))
		copy(b, data)
		select {
		case pcmCh <- b:
		default:
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
		return
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		errCh <- fmt.Errorf("deepgram: connect failed")
		return
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stopClient()
		case <-done:
		}
	}()

	if err := dg.SpeakWithText(text); err != nil {
		errCh <- fmt.Errorf("deepgram: speak text: %w", err)
		close(done)
		return
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// The websocket never signals end-of-stream for a single utterance, so
	// treat a quiet gap after first audio as completion.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			stopClient()
			close(done)
			return
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					stopClient()
					close(done)
					return
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				close(done)
				return
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
