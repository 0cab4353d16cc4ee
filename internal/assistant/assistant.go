// Package assistant wires capture, transcription, segmentation, dispatch and
// speech into the voice command loop.
package assistant

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ANTHZKN/karenasistente/internal/audio"
	"github.com/ANTHZKN/karenasistente/internal/dispatch"
	"github.com/ANTHZKN/karenasistente/internal/gemini"
	"github.com/ANTHZKN/karenasistente/internal/quiz"
	"github.com/ANTHZKN/karenasistente/internal/segmenter"
	"github.com/ANTHZKN/karenasistente/internal/store"
	"github.com/ANTHZKN/karenasistente/internal/transcript"
)

// State is the assistant's lifecycle phase.
type State string

const (
	StateIdle            State = "idle"
	StateListening       State = "listening"
	StateAwaitingSilence State = "awaiting_silence"
	StateDispatching     State = "dispatching"
)

// Speaker is the audible-output boundary.
type Speaker interface {
	Say(text string)
	Stop()
}

// Dispatcher routes one conversation through the model.
type Dispatcher interface {
	Dispatch(ctx context.Context, history []gemini.Message) (string, []dispatch.ToolResult)
}

// QuizGenerator produces a quiz for a subject's topics.
type QuizGenerator interface {
	Generate(ctx context.Context, subject string, topics []string) (*quiz.Quiz, error)
}

// EngineFactory creates a fresh recognition engine per voice session.
type EngineFactory func() transcript.Engine

// Notification is one observable assistant event, fanned out to subscribers.
type Notification struct {
	Kind  string     `json:"kind"` // "state", "transcript", "utterance", "response", "quiz", "error"
	Text  string     `json:"text,omitempty"`
	Final bool       `json:"final,omitempty"`
	Quiz  *quiz.Quiz `json:"quiz,omitempty"`
}

const quizApologyReply = "Lo siento Anthony, no pude generar la evaluación. Inténtalo de nuevo."

const recognitionErrorReply = "Lo siento Anthony, mi sistema de reconocimiento de voz falló. Inténtalo de nuevo."

// Assistant owns the voice pipeline and the conversation state.
type Assistant struct {
	capture    *audio.Capture
	engines    EngineFactory
	dispatcher Dispatcher
	speaker    Speaker
	quizzes    QuizGenerator
	st         *store.Store
	threshold  time.Duration

	mu       sync.Mutex
	state    State
	session  *transcript.Session
	stopPump chan struct{}
	gen      uint64

	subMu   sync.Mutex
	subs    map[int]chan Notification
	nextSub int
}

// New assembles an Assistant. threshold <= 0 selects the transcript default.
func New(capture *audio.Capture, engines EngineFactory, dispatcher Dispatcher, speaker Speaker, quizzes QuizGenerator, st *store.Store, threshold time.Duration) *Assistant {
	return &Assistant{
		capture:    capture,
		engines:    engines,
		dispatcher: dispatcher,
		speaker:    speaker,
		quizzes:    quizzes,
		st:         st,
		threshold:  threshold,
		state:      StateIdle,
		subs:       make(map[int]chan Notification),
	}
}

// State returns the current lifecycle phase.
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Analyzer exposes the capture-side frequency analyzer, nil when not listening.
func (a *Assistant) Analyzer() *audio.Analyzer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return a.capture.Analyzer()
}

// Subscribe registers a notification channel. The returned func unsubscribes.
func (a *Assistant) Subscribe() (<-chan Notification, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.nextSub
	a.nextSub++
	ch := make(chan Notification, 64)
	a.subs[id] = ch
	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
}

func (a *Assistant) notify(n Notification) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (a *Assistant) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.notify(Notification{Kind: "state", Text: string(s)})
}

// StartVoice opens the microphone and begins continuous recognition.
// Idempotent while a session is live.
func (a *Assistant) StartVoice() error {
	a.mu.Lock()
	if a.session != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if _, err := a.capture.Start(); err != nil {
		if errors.Is(err, audio.ErrUnsupportedPlatform) {
			return transcript.ErrUnsupportedPlatform
		}
		return err
	}

	session := transcript.NewSession(a.engines(), a.capture, a.threshold)
	if err := session.Start(); err != nil {
		a.capture.Stop()
		return fmt.Errorf("assistant: start recognition: %w", err)
	}

	stopPump := make(chan struct{})
	a.mu.Lock()
	a.session = session
	a.stopPump = stopPump
	a.mu.Unlock()
	a.setState(StateListening)

	go a.pumpAudio(session, stopPump)
	go a.consume(session)
	return nil
}

// StopVoice tears down the live session and silences any pending reply.
func (a *Assistant) StopVoice() {
	a.mu.Lock()
	session := a.session
	stopPump := a.stopPump
	a.session = nil
	a.stopPump = nil
	a.gen++
	a.mu.Unlock()

	if session == nil {
		return
	}
	close(stopPump)
	session.Stop()
	a.capture.Stop()
	a.speaker.Stop()
	a.setState(StateIdle)
}

// pumpAudio forwards microphone frames to the recognition engine.
func (a *Assistant) pumpAudio(session *transcript.Session, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-a.capture.Frames():
			if !ok {
				return
			}
			if err := session.SendAudio(encodePCM(frame)); err != nil {
				log.Printf("assistant: send audio: %v", err)
			}
		}
	}
}

// consume reacts to recognition output until the session ends.
func (a *Assistant) consume(session *transcript.Session) {
	utterances := session.Utterances()
	silences := session.Silence()
	errs := session.Errors()
	for utterances != nil || silences != nil {
		select {
		case u, ok := <-utterances:
			if !ok {
				utterances = nil
				continue
			}
			a.notify(Notification{Kind: "transcript", Text: u.Text, Final: u.Final})
			// Transcript text is pending; the silence timer decides when
			// the utterance is complete.
			if a.State() == StateListening {
				a.setState(StateAwaitingSilence)
			}
		case text, ok := <-silences:
			if !ok {
				silences = nil
				continue
			}
			a.handleUtterance(text)
		case err := <-errs:
			if err != nil {
				// Raw code goes to the log; the user hears a generic apology.
				log.Printf("assistant: recognition error: %v", err)
				a.notify(Notification{Kind: "error", Text: recognitionErrorReply})
				a.StopVoice()
				a.speaker.Say(recognitionErrorReply)
				return
			}
		}
	}
}

// handleUtterance runs one finalized utterance through dispatch and speaks
// the reply. A newer utterance or a session stop makes the result stale.
func (a *Assistant) handleUtterance(text string) {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	segments := segmenter.Split(text)
	if len(segments) > 1 {
		log.Printf("assistant: utterance carries %d intents: %q", len(segments), segments)
	}
	a.notify(Notification{Kind: "utterance", Text: text, Final: true})

	a.setState(StateDispatching)
	reply := a.converse(context.Background(), text)

	a.mu.Lock()
	stale := gen != a.gen
	live := a.session != nil
	a.mu.Unlock()
	if stale {
		log.Printf("assistant: discarding stale reply for %q", text)
		return
	}

	a.speaker.Say(reply)
	a.notify(Notification{Kind: "response", Text: reply})
	if live {
		a.setState(StateListening)
	} else {
		a.setState(StateIdle)
	}
}

// HandleText runs one typed message through the same dispatch path and
// returns the reply. The reply is also spoken.
func (a *Assistant) HandleText(ctx context.Context, text string) string {
	reply := a.converse(ctx, text)
	a.speaker.Say(reply)
	a.notify(Notification{Kind: "response", Text: reply})
	return reply
}

// converse appends the user turn, dispatches the full history, and records
// the reply. The user turn stays in history even when dispatch degrades.
func (a *Assistant) converse(ctx context.Context, text string) string {
	if err := a.st.AppendChat("user", text); err != nil {
		log.Printf("assistant: record user turn: %v", err)
	}
	reply, _ := a.dispatcher.Dispatch(ctx, a.history())
	if err := a.st.AppendChat("model", reply); err != nil {
		log.Printf("assistant: record model turn: %v", err)
	}
	return reply
}

func (a *Assistant) history() []gemini.Message {
	turns, err := a.st.Chat()
	if err != nil {
		log.Printf("assistant: load history: %v", err)
		return nil
	}
	out := make([]gemini.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, gemini.Message{Role: t.Role, Text: t.Text})
	}
	return out
}

// LaunchQuiz generates a quiz for sub in the background. Failure degrades to
// a spoken apology with no quiz state created.
func (a *Assistant) LaunchQuiz(sub store.Subject) {
	go func() {
		topics := make([]string, len(sub.Topics))
		for i, t := range sub.Topics {
			topics[i] = t.Name
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		q, err := a.quizzes.Generate(ctx, sub.Name, topics)
		if err != nil {
			log.Printf("assistant: quiz generation for %q: %v", sub.Name, err)
			a.speaker.Say(quizApologyReply)
			return
		}
		a.notify(Notification{Kind: "quiz", Quiz: q})
	}()
}

// CompleteQuiz records a finished quiz score and speaks the verdict. A pass
// promotes every topic of the subject to mastered.
func (a *Assistant) CompleteQuiz(subjectIdentifier string, score float64) (string, error) {
	sub, err := a.st.SubjectByName(subjectIdentifier)
	if err != nil {
		return "", err
	}
	var reply string
	if quiz.Passed(score) {
		if err := a.st.MarkSubjectMastered(sub.ID); err != nil {
			return "", err
		}
		reply = fmt.Sprintf("Felicidades Anthony. Has dominado %s con un %.0f por ciento.", sub.Name, score)
	} else {
		reply = fmt.Sprintf("Obtuviste un %.0f por ciento en %s, Anthony. Te sugiero repasar los temas pendientes.", score, sub.Name)
	}
	a.speaker.Say(reply)
	a.notify(Notification{Kind: "response", Text: reply})
	return reply, nil
}

// encodePCM converts capture samples to the little-endian byte layout the
// recognition engine expects.
func encodePCM(frame []int16) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
