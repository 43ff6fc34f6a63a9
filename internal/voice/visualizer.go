package voice

import (
	"math"
	"sync"

	"github.com/ErDashrath/EchoLearn-sub001/internal/audio"
)

const (
	// FrequencyBins is the size of a frequency snapshot.
	FrequencyBins = 128
	// WaveformSamples is the size of a waveform snapshot.
	WaveformSamples = 256

	vizWindow = 2 * FrequencyBins // DFT input window
	vizRing   = 4096
)

// Visualizer exposes pull-based frequency and waveform snapshots derived
// from the live capture stream. It is purely observational: it never
// touches the state machine or the capture lifecycle, and both accessors
// return nil while no capture is active.
type Visualizer struct {
	mu     sync.Mutex
	ring   [vizRing]float32
	pos    int
	filled int
	active bool
}

func NewVisualizer() *Visualizer { return &Visualizer{} }

func (v *Visualizer) attach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = true
	v.pos = 0
	v.filled = 0
}

func (v *Visualizer) detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = false
}

// Push feeds raw PCM16LE capture bytes into the sample ring.
func (v *Visualizer) Push(pcm16le []byte) {
	samples := audio.PCM16LEToFloat32(pcm16le)

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}
	for _, s := range samples {
		v.ring[v.pos] = s
		v.pos = (v.pos + 1) % vizRing
		if v.filled < vizRing {
			v.filled++
		}
	}
}

// FrequencyData returns FrequencyBins magnitude bytes (0-255) computed by a
// DFT over the most recent window, or nil when no capture is active.
func (v *Visualizer) FrequencyData() []byte {
	window := v.latest(vizWindow)
	if window == nil {
		return nil
	}
	out := make([]byte, FrequencyBins)
	n := len(window)
	for k := 0; k < FrequencyBins; k++ {
		var re, im float64
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += float64(window[t]) * math.Cos(angle)
			im += float64(window[t]) * math.Sin(angle)
		}
		mag := math.Sqrt(re*re+im*im) / float64(n) * 4
		if mag > 1 {
			mag = 1
		}
		out[k] = byte(mag * 255)
	}
	return out
}

// WaveformData returns WaveformSamples time-domain bytes centered on 128,
// or nil when no capture is active.
func (v *Visualizer) WaveformData() []byte {
	window := v.latest(WaveformSamples)
	if window == nil {
		return nil
	}
	out := make([]byte, WaveformSamples)
	offset := WaveformSamples - len(window)
	for i := 0; i < offset; i++ {
		out[i] = 128 // pad the head with silence until the ring warms up
	}
	for i, s := range window {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[offset+i] = byte(int(s*127) + 128)
	}
	return out
}

// latest copies the most recent n ring samples; nil when inactive or empty.
func (v *Visualizer) latest(n int) []float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active || v.filled == 0 {
		return nil
	}
	if n > v.filled {
		n = v.filled
	}
	out := make([]float32, n)
	start := (v.pos - n + vizRing) % vizRing
	for i := 0; i < n; i++ {
		out[i] = v.ring[(start+i)%vizRing]
	}
	return out
}
