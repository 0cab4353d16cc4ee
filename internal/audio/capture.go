package audio

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	// SampleRate is the capture rate expected by the recognition engine.
	SampleRate = 16000

	// framesPerBuffer is the portaudio read size: 512 samples = 32ms at 16kHz.
	framesPerBuffer = 512
)

var (
	// ErrUnsupportedPlatform indicates no usable audio host is available.
	ErrUnsupportedPlatform = errors.New("audio: platform does not support capture")
	// ErrMicAccessDenied indicates the input device could not be opened.
	ErrMicAccessDenied = errors.New("audio: microphone access denied")
)

// micStream is the minimal surface of an open input stream. portaudio
// satisfies it in production; tests substitute a fake via the opener hook.
type micStream interface {
	Read() error
	Stop() error
	Close() error
}

// openMic opens the platform input device writing into buffer. It returns the
// stream and a release func tearing down the host API.
type openMic func(buffer []int16) (micStream, func(), error)

func openPortaudio(buffer []int16) (micStream, func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, nil, ErrUnsupportedPlatform
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(SampleRate), len(buffer), buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, nil, ErrMicAccessDenied
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, nil, ErrMicAccessDenied
	}
	return stream, func() { _ = portaudio.Terminate() }, nil
}

// Capture owns the microphone stream and its analysis graph. At most one
// capture is active per instance; Start while active returns the existing
// analyzer instead of opening a second stream.
type Capture struct {
	open openMic

	mu       sync.Mutex
	active   bool
	stream   micStream
	release  func()
	analyzer *Analyzer
	detector *Detector
	frames   chan []int16
	stopCh   chan struct{}

	voiceMu       sync.Mutex
	lastVoiceTime time.Time
}

// NewCapture constructs an idle Capture. The stream is opened on Start.
func NewCapture() *Capture {
	return &Capture{open: openPortaudio}
}

// Start requests the default input device and builds the analysis graph.
// It is idempotent: if a capture is already active the existing analyzer is
// returned and no second stream is opened. On failure nothing is left open.
func (c *Capture) Start() (*Analyzer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return c.analyzer, nil
	}

	buffer := make([]int16, framesPerBuffer)
	stream, release, err := c.open(buffer)
	if err != nil {
		return nil, err
	}

	detector, err := NewDetector(SampleRate)
	if err != nil {
		// VAD is an enhancement for silence tracking; capture still works.
		log.Printf("audio: voice detector unavailable: %v", err)
	}

	c.stream = stream
	c.release = release
	c.analyzer = NewAnalyzer()
	c.detector = detector
	c.frames = make(chan []int16, 100)
	c.stopCh = make(chan struct{})
	c.active = true

	go c.captureLoop(stream, buffer, c.frames, c.stopCh)

	return c.analyzer, nil
}

// Analyzer returns the live frequency analyzer, nil while inactive.
func (c *Capture) Analyzer() *Analyzer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	return c.analyzer
}

// captureLoop reads from the stream until stopped, feeding the analyzer, the
// voice detector and the downstream frame channel.
func (c *Capture) captureLoop(stream micStream, buffer []int16, frames chan<- []int16, stop <-chan struct{}) {
	c.mu.Lock()
	analyzer := c.analyzer
	detector := c.detector
	c.mu.Unlock()

	// The loop owns the detector: closing it here guarantees no read races
	// a concurrent Stop.
	if detector != nil {
		defer detector.Close()
	}

	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			select {
			case <-stop:
			default:
				log.Printf("audio: stream read: %v", err)
			}
			return
		}

		samples := make([]int16, len(buffer))
		copy(samples, buffer)

		analyzer.Push(samples)
		if detector != nil && detector.HasVoice(samples) {
			c.voiceMu.Lock()
			c.lastVoiceTime = time.Now()
			c.voiceMu.Unlock()
		}

		select {
		case frames <- samples:
		default:
			// drop rather than stall the device read path
		}
	}
}

// Frames returns the channel of captured PCM frames (16kHz mono int16).
// Nil when not started.
func (c *Capture) Frames() <-chan []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// RecentlyDetectedVoice reports whether voice energy was observed within the
// given window.
func (c *Capture) RecentlyDetectedVoice(window time.Duration) bool {
	c.voiceMu.Lock()
	last := c.lastVoiceTime
	c.voiceMu.Unlock()
	return time.Since(last) <= window
}

// Active reports whether a capture session is running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stop releases the microphone stream and tears down the analysis graph.
// Safe to call when not started.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	close(c.stopCh)
	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.detector = nil
	c.analyzer = nil
	c.frames = nil
	c.active = false
}
