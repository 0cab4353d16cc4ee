package transcript

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeEngine struct {
	events chan Event

	mu        sync.Mutex
	connected bool
	closed    bool
	audio     [][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan Event, 16)}
}

func (f *fakeEngine) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeEngine) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeEngine) Events() <-chan Event { return f.events }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitClosed(t *testing.T, f *fakeEngine) {
	t.Helper()
	deadline := time.Now().Add(waitWindow)
	for !f.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("engine never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type quietMic struct{}

func (quietMic) RecentlyDetectedVoice(time.Duration) bool { return false }

type loudMic struct{ until time.Time }

func (m *loudMic) RecentlyDetectedVoice(time.Duration) bool { return time.Now().Before(m.until) }

const testThreshold = 120 * time.Millisecond

// waitWindow comfortably covers threshold plus stabilization grace.
const waitWindow = 2 * time.Second

func startSession(t *testing.T, engine Engine, voice VoiceActivity) *Session {
	t.Helper()
	s := NewSession(engine, voice, testThreshold)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSilenceFiresOnceWithAccumulatedText(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{Transcript: "crea el proyecto alfa"}

	select {
	case got := <-s.Silence():
		if got != "crea el proyecto alfa" {
			t.Fatalf("unexpected utterance: %q", got)
		}
	case <-time.After(waitWindow):
		t.Fatalf("silence never fired")
	}

	// No further signal without new transcript text.
	select {
	case got, ok := <-s.Silence():
		if ok {
			t.Fatalf("unexpected second signal: %q", got)
		}
	case <-time.After(waitWindow):
	}
}

func TestNewFragmentResetsTimer(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{Transcript: "crea el"}
	time.Sleep(testThreshold / 2)
	engine.events <- Event{Transcript: "crea el proyecto"}
	time.Sleep(testThreshold / 2)
	engine.events <- Event{Transcript: "crea el proyecto skynet"}

	select {
	case got := <-s.Silence():
		if got != "crea el proyecto skynet" {
			t.Fatalf("expected full accumulated text, got %q", got)
		}
	case <-time.After(waitWindow):
		t.Fatalf("silence never fired")
	}
}

func TestSecondUtteranceDeliversOnlyDelta(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{Transcript: "borra el proyecto alfa"}
	first := <-s.Silence()
	if first != "borra el proyecto alfa" {
		t.Fatalf("first utterance: %q", first)
	}

	engine.events <- Event{Transcript: "borra el proyecto alfa crea el proyecto beta"}
	select {
	case second := <-s.Silence():
		if second != "crea el proyecto beta" {
			t.Fatalf("expected delta only, got %q", second)
		}
	case <-time.After(waitWindow):
		t.Fatalf("second silence never fired")
	}
}

func TestContinuationWordExtendsWindow(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{Transcript: "crea el proyecto alfa y"}

	// Within the base threshold plus a margin the signal must not fire yet;
	// the trailing conjunction extends the window.
	select {
	case got := <-s.Silence():
		t.Fatalf("fired during continuation extension: %q", got)
	case <-time.After(testThreshold + 300*time.Millisecond):
	}

	select {
	case got := <-s.Silence():
		if got != "crea el proyecto alfa y" {
			t.Fatalf("unexpected text: %q", got)
		}
	case <-time.After(waitWindow):
		t.Fatalf("silence never fired after extension")
	}
}

func TestActiveVoiceHoldsTimerOpen(t *testing.T) {
	engine := newFakeEngine()
	mic := &loudMic{until: time.Now().Add(testThreshold + 400*time.Millisecond)}
	s := startSession(t, engine, mic)

	engine.events <- Event{Transcript: "dame un momento"}

	select {
	case got := <-s.Silence():
		t.Fatalf("fired while voice still active: %q", got)
	case <-time.After(testThreshold + 200*time.Millisecond):
	}

	select {
	case got := <-s.Silence():
		if got != "dame un momento" {
			t.Fatalf("unexpected text: %q", got)
		}
	case <-time.After(waitWindow):
		t.Fatalf("silence never fired after voice stopped")
	}
}

func TestInterimUtterancesStreamed(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{Transcript: "hola", Final: false}
	engine.events <- Event{Transcript: "hola karen", Final: true}

	first := <-s.Utterances()
	if first.Text != "hola" || first.Final {
		t.Fatalf("unexpected first: %+v", first)
	}
	second := <-s.Utterances()
	if second.Text != "hola karen" || !second.Final {
		t.Fatalf("unexpected second: %+v", second)
	}
}

func TestEngineFaultSurfacesError(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{ErrCode: "network"}

	select {
	case err := <-s.Errors():
		var recErr *RecognitionError
		if !errors.As(err, &recErr) || recErr.Code != "network" {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(waitWindow):
		t.Fatalf("error never surfaced")
	}
	waitClosed(t, engine)
}

func TestEngineEndedStopsSessionAndFlushes(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})

	engine.events <- Event{Transcript: "apaga las luces"}
	engine.events <- Event{Ended: true}

	select {
	case got, ok := <-s.Silence():
		if !ok {
			t.Fatalf("channel closed before pending text was flushed")
		}
		if got != "apaga las luces" {
			t.Fatalf("unexpected flush: %q", got)
		}
	case <-time.After(waitWindow):
		t.Fatalf("pending text never flushed")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, engine, quietMic{})
	s.Stop()
	s.Stop()
	waitClosed(t, engine)
}

func TestStartWithoutEngine(t *testing.T) {
	s := NewSession(nil, nil, 0)
	if err := s.Start(); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

type flakyEngine struct {
	*fakeEngine
	failMu   sync.Mutex
	failures int
	attempts int
}

func (f *flakyEngine) Connect() error {
	f.failMu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.failMu.Unlock()
	if fail {
		return errors.New("dial refused")
	}
	return f.fakeEngine.Connect()
}

func (f *flakyEngine) connectAttempts() int {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	return f.attempts
}

func TestStartRetriesAfterFailedConnect(t *testing.T) {
	engine := &flakyEngine{fakeEngine: newFakeEngine(), failures: 1}
	s := NewSession(engine, quietMic{}, testThreshold)

	if err := s.Start(); err == nil {
		t.Fatalf("expected connect error")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("retry after failed connect: %v", err)
	}
	if got := engine.connectAttempts(); got != 2 {
		t.Fatalf("expected 2 connect attempts, got %d", got)
	}

	// the retried session is live, not a zombie
	engine.events <- Event{Transcript: "hola"}
	select {
	case u := <-s.Utterances():
		if u.Text != "hola" {
			t.Fatalf("unexpected utterance: %q", u.Text)
		}
	case <-time.After(waitWindow):
		t.Fatalf("no utterance after successful retry")
	}
	s.Stop()
}
