package speech

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const playbackFrames = 960 // 20ms at 48kHz

// PortaudioSink plays PCM through the default output device.
type PortaudioSink struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	buf       []int16
	terminate func()
}

// NewPortaudioSink opens the default output device at PlaybackRate.
func NewPortaudioSink() (*PortaudioSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("speech: initialize audio: %w", err)
	}
	buf := make([]int16, playbackFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, PlaybackRate, len(buf), &buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("speech: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("speech: start output stream: %w", err)
	}
	return &PortaudioSink{stream: stream, buf: buf, terminate: func() { _ = portaudio.Terminate() }}, nil
}

// Play writes the PCM stream to the device until pcm closes or ctx cancels.
// Chunks are little-endian 16-bit mono samples.
func (s *PortaudioSink) Play(ctx context.Context, pcm <-chan []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []int16
	for {
		select {
		case <-ctx.Done():
			// Drain without playing so the producer can finish.
			for range pcm {
			}
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				return s.flush(pending)
			}
			pending = append(pending, decodePCM(chunk)...)
			for len(pending) >= len(s.buf) {
				copy(s.buf, pending[:len(s.buf)])
				pending = pending[len(s.buf):]
				if err := s.stream.Write(); err != nil {
					return fmt.Errorf("speech: write output: %w", err)
				}
			}
		}
	}
}

func (s *PortaudioSink) flush(pending []int16) error {
	if len(pending) == 0 {
		return nil
	}
	for i := range s.buf {
		if i < len(pending) {
			s.buf[i] = pending[i]
		} else {
			s.buf[i] = 0
		}
	}
	if err := s.stream.Write(); err != nil {
		return fmt.Errorf("speech: write output: %w", err)
	}
	return nil
}

// Close stops the stream and releases the device.
func (s *PortaudioSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	if s.terminate != nil {
		s.terminate()
	}
	return err
}

func decodePCM(chunk []byte) []int16 {
	out := make([]int16, len(chunk)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
	}
	return out
}
