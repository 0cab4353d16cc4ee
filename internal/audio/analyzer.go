package audio

import (
	"math"
	"math/cmplx"
	"sync"
)

// FFTSize is the fixed transform size of the analysis graph.
const FFTSize = 256

// BinCount is the number of frequency bins exposed to visualizers.
const BinCount = FFTSize / 2

// Analyzer keeps the most recent FFTSize samples and computes frequency-bin
// magnitudes on demand. Consumers poll FrequencyBins at their own cadence
// (typically once per display frame); nothing is pushed.
type Analyzer struct {
	mu     sync.Mutex
	window [FFTSize]int16
	pos    int
}

// NewAnalyzer returns an analyzer with an empty window.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Push appends captured samples to the rolling window.
func (a *Analyzer) Push(samples []int16) {
	a.mu.Lock()
	for _, s := range samples {
		a.window[a.pos] = s
		a.pos = (a.pos + 1) % FFTSize
	}
	a.mu.Unlock()
}

// FrequencyBins computes the magnitude spectrum of the current window and
// returns BinCount bytes scaled to 0..255, mirroring what waveform widgets
// expect from a byte-frequency read.
func (a *Analyzer) FrequencyBins() []byte {
	a.mu.Lock()
	in := make([]complex128, FFTSize)
	for i := 0; i < FFTSize; i++ {
		// Hann window over the chronologically ordered samples.
		s := float64(a.window[(a.pos+i)%FFTSize]) / 32768.0
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(FFTSize-1)))
		in[i] = complex(s*w, 0)
	}
	a.mu.Unlock()

	out := fft(in)
	bins := make([]byte, BinCount)
	for i := 0; i < BinCount; i++ {
		mag := cmplx.Abs(out[i]) / float64(FFTSize/4)
		if mag > 1 {
			mag = 1
		}
		bins[i] = byte(mag * 255)
	}
	return bins
}

// fft is an iterative radix-2 Cooley-Tukey transform. len(x) must be a power
// of two; the analyzer always passes FFTSize.
func fft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	copy(out, x)

	// bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			out[i], out[j] = out[j], out[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < size/2; k++ {
				w := cmplx.Exp(complex(0, step*float64(k)))
				even := out[start+k]
				odd := out[start+k+size/2] * w
				out[start+k] = even + odd
				out[start+k+size/2] = even - odd
			}
		}
	}
	return out
}
