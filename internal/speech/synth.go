package speech

import (
	"context"
	"log"
	"sync"
	"time"
)

// settleDelay gives the engine time to tear down a canceled utterance before
// the next one starts. Some backends glitch when the gap is zero.
const settleDelay = 100 * time.Millisecond

// Engine synthesizes one utterance, blocking until playback finishes or ctx
// is canceled.
type Engine interface {
	Voices() []Voice
	Speak(ctx context.Context, text string, profile Profile) error
}

// Synthesizer serializes speech through an Engine. Say cancels whatever is
// currently being spoken; only the newest utterance ever reaches the engine.
type Synthesizer struct {
	engine  Engine
	profile Profile

	mu      sync.Mutex
	speakMu sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
}

// NewSynthesizer picks a voice from engine's catalog (honoring preferred) and
// returns a ready Synthesizer.
func NewSynthesizer(engine Engine, preferred string) *Synthesizer {
	voice, ok := SelectVoice(engine.Voices(), preferred)
	if !ok {
		log.Printf("speech: engine offers no voices, synthesis will fail")
	} else {
		log.Printf("speech: selected voice %q (%s)", voice.Name, voice.Language)
	}
	return &Synthesizer{engine: engine, profile: DefaultProfile(voice)}
}

// Profile returns the active speaking profile.
func (s *Synthesizer) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Say speaks text, preempting any utterance in flight. It returns immediately;
// playback happens on its own goroutine.
func (s *Synthesizer) Say(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	profile := s.profile
	s.mu.Unlock()

	go func() {
		time.Sleep(settleDelay)

		// Serialize engine access so a canceled utterance has fully
		// stopped before the replacement starts.
		s.speakMu.Lock()
		defer s.speakMu.Unlock()

		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}

		if err := s.engine.Speak(ctx, text, profile); err != nil && ctx.Err() == nil {
			log.Printf("speech: speak failed: %v", err)
		}
	}()
}

// Stop cancels the current utterance without starting a new one.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}
