package transcript

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultSilenceThreshold is the inactivity window required before an
// utterance is considered complete. Conservative to avoid cutting the user
// mid-sentence.
const DefaultSilenceThreshold = 1900 * time.Millisecond

// continuationExtension is added to the silence threshold when the last word
// suggests the user will continue the sentence (e.g. "y", "porque", "si").
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late engine updates after the silence window
// elapses, before finalizing.
const stabilizationGrace = 250 * time.Millisecond

// ErrUnsupportedPlatform indicates no recognition engine is available.
var ErrUnsupportedPlatform = errors.New("transcript: no recognition engine available")

// RecognitionError wraps an engine-reported fault code.
type RecognitionError struct {
	Code string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("transcript: recognition error: %s", e.Code)
}

// Utterance is one incremental transcript event. Interim utterances are
// superseded by later ones until Final is set.
type Utterance struct {
	Text  string
	Final bool
	At    time.Time
}

// Event is one notification from the recognition engine.
type Event struct {
	Transcript string
	Final      bool
	ErrCode    string // non-empty on engine fault
	Ended      bool   // engine closed the stream on its side
}

// Engine is the continuous recognition engine boundary. Implementations must
// deliver events in receipt order and close the events channel after Ended or
// a fault.
type Engine interface {
	Connect() error
	SendAudio(pcm []byte) error
	Events() <-chan Event
	Close() error
}

// VoiceActivity reports recent microphone voice energy; used to hold the
// silence timer open while the user is still audibly speaking even if the
// engine has not produced text yet.
type VoiceActivity interface {
	RecentlyDetectedVoice(window time.Duration) bool
}

// Session wraps a continuous recognition engine: it relays interim and final
// transcripts, arms a resettable silence timer, and signals end-of-utterance
// once the user stops talking.
type Session struct {
	engine    Engine
	voice     VoiceActivity
	threshold time.Duration

	utterances chan Utterance
	silenceCh  chan string
	errCh      chan error
	stopCh     chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	latest    string
	committed string
	lastEvent time.Time
	timer     *time.Timer
}

// NewSession constructs a session over the given engine. voice may be nil.
// threshold <= 0 selects DefaultSilenceThreshold.
func NewSession(engine Engine, voice VoiceActivity, threshold time.Duration) *Session {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	return &Session{
		engine:     engine,
		voice:      voice,
		threshold:  threshold,
		utterances: make(chan Utterance, 100),
		silenceCh:  make(chan string, 4),
		errCh:      make(chan error, 1),
		stopCh:     make(chan struct{}),
	}
}

// Utterances streams interim and final transcript fragments.
func (s *Session) Utterances() <-chan Utterance { return s.utterances }

// Silence signals one completed utterance per sustained silence window,
// carrying the text accumulated since the previous completion.
func (s *Session) Silence() <-chan string { return s.silenceCh }

// Errors surfaces at most one fatal recognition error; the session is stopped
// once it fires.
func (s *Session) Errors() <-chan error { return s.errCh }

// Start begins continuous listening and arms the silence timer.
func (s *Session) Start() error {
	if s.engine == nil {
		return ErrUnsupportedPlatform
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// started is only set once the engine is up so a failed connect can be
	// retried with another Start call.
	if err := s.engine.Connect(); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.lastEvent = time.Now()
	s.mu.Unlock()

	s.resetTimer(s.threshold)
	go s.consume()
	return nil
}

// SendAudio forwards captured PCM to the engine.
func (s *Session) SendAudio(pcm []byte) error {
	return s.engine.SendAudio(pcm)
}

// consume processes engine events until the stream ends or the session stops.
func (s *Session) consume() {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.engine.Events():
			if !ok {
				// Engine-side stream end while we believe ourselves active:
				// some platforms bound continuous recognition duration, so
				// treat as a normal stop.
				s.Stop()
				return
			}
			switch {
			case ev.ErrCode != "":
				select {
				case s.errCh <- &RecognitionError{Code: ev.ErrCode}:
				default:
				}
				s.Stop()
				return
			case ev.Ended:
				s.Stop()
				return
			case ev.Transcript != "":
				s.onTranscript(ev.Transcript, ev.Final)
			}
		}
	}
}

// onTranscript records the newest transcript and re-arms the silence timer.
func (s *Session) onTranscript(text string, final bool) {
	now := time.Now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.latest = text
	s.lastEvent = now
	// Sent under the lock so Stop cannot close the channel mid-send.
	select {
	case s.utterances <- Utterance{Text: text, Final: final, At: now}:
	default:
	}
	s.mu.Unlock()
	s.resetTimer(s.threshold)
}

func (s *Session) resetTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.silenceElapsed)
	} else {
		s.timer.Stop()
		s.timer.Reset(d)
	}
}

// silenceElapsed fires after the inactivity window. It validates that both
// the engine and the microphone have actually been quiet long enough, waits a
// short grace for late updates, then emits the accumulated delta.
func (s *Session) silenceElapsed() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.mu.Lock()
	threshold := s.threshold
	if isContinuationLikely(s.latest) {
		threshold += continuationExtension
	}
	sinceText := time.Since(s.lastEvent)
	s.mu.Unlock()

	if sinceText < threshold {
		s.resetTimer(threshold - sinceText)
		return
	}
	if s.voice != nil && s.voice.RecentlyDetectedVoice(threshold) {
		s.resetTimer(threshold)
		return
	}

	s.mu.Lock()
	lastEventAt := s.lastEvent
	s.mu.Unlock()

	time.Sleep(stabilizationGrace)

	s.mu.Lock()
	if s.lastEvent.After(lastEventAt) {
		// late update arrived during grace; push the deadline forward
		s.mu.Unlock()
		s.resetTimer(threshold)
		return
	}
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delta := deltaSince(s.latest, s.committed)
	s.committed = s.latest
	if strings.TrimSpace(delta) != "" {
		select {
		case s.silenceCh <- delta:
		default:
			log.Printf("transcript: silence channel full, dropping utterance")
		}
	}
	s.mu.Unlock()
}

// Stop cancels the silence timer and releases the engine. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	if err := s.engine.Close(); err != nil {
		log.Printf("transcript: engine close: %v", err)
	}
	s.flushPending()
	s.mu.Lock()
	close(s.utterances)
	close(s.silenceCh)
	s.mu.Unlock()
}

// flushPending emits any uncommitted delta so last words are not lost.
func (s *Session) flushPending() {
	s.mu.Lock()
	delta := deltaSince(s.latest, s.committed)
	s.committed = s.latest
	s.mu.Unlock()
	if strings.TrimSpace(delta) == "" {
		return
	}
	select {
	case s.silenceCh <- delta:
	case <-time.After(200 * time.Millisecond):
		log.Printf("transcript: timed out delivering final delta")
	}
}

// deltaSince strips the already-committed prefix from the latest running
// transcript.
func deltaSince(latest, committed string) string {
	delta := strings.TrimSpace(strings.TrimPrefix(latest, committed))
	if delta == "" && committed != "" {
		if idx := strings.LastIndex(latest, committed); idx >= 0 {
			delta = strings.TrimSpace(latest[idx+len(committed):])
		}
	}
	return delta
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// conjunctions
	"y": {}, "o": {}, "pero": {}, "ni": {}, "si": {}, "porque": {},
	"aunque": {}, "cuando": {}, "mientras": {}, "hasta": {}, "entonces": {},
	// discourse markers / fillers
	"también": {}, "tambien": {}, "además": {}, "ademas": {}, "luego": {},
	"eh": {}, "em": {}, "este": {}, "pues": {},
	// prepositions that are awkward sentence endings
	"de": {}, "a": {}, "en": {}, "con": {}, "para": {}, "por": {}, "sobre": {},
}
