package audio

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// vadMode is the WebRTC VAD aggressiveness (0-3). 2 filters background noise
// without clipping quiet speech.
const vadMode = 2

// Detector wraps WebRTC VAD for 16kHz mono int16 frames.
type Detector struct {
	vad        *webrtcvad.VAD
	sampleRate int
}

// NewDetector creates a detector for the given sample rate. WebRTC VAD only
// accepts 8/16/32/48kHz.
func NewDetector(sampleRate int) (*Detector, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("audio: unsupported vad sample rate %d", sampleRate)
	}
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("audio: create vad: %w", err)
	}
	if err := vad.SetMode(vadMode); err != nil {
		return nil, fmt.Errorf("audio: set vad mode: %w", err)
	}
	return &Detector{vad: vad, sampleRate: sampleRate}, nil
}

// HasVoice reports whether any 10ms frame within samples contains speech.
func (d *Detector) HasVoice(samples []int16) bool {
	frameSize := d.sampleRate / 100
	for off := 0; off+frameSize <= len(samples); off += frameSize {
		frame := samples[off : off+frameSize]
		buf := make([]byte, frameSize*2)
		for i, s := range frame {
			buf[i*2] = byte(s)
			buf[i*2+1] = byte(s >> 8)
		}
		active, err := d.vad.Process(d.sampleRate, buf)
		if err != nil {
			return false
		}
		if active {
			return true
		}
	}
	return false
}

// Close releases resources. WebRTC VAD needs no explicit cleanup; kept for
// lifecycle symmetry with the capture stream.
func (d *Detector) Close() {}
