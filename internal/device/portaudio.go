package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

// ErrBusy is returned when a second capture is requested while a stream is
// open. The gateway enforces exclusive microphone access.
var ErrBusy = errors.New("device: capture already open")

// Gateway opens the default input device through portaudio. The library is
// initialized lazily on first acquisition and torn down by Close.
type Gateway struct {
	mu     sync.Mutex
	inited bool
	open   bool
}

func NewGateway() *Gateway { return &Gateway{} }

// Acquire opens an exclusive mono int16 stream at the preferred rate and
// pushes PCM16LE chunks to onChunk at the requested cadence until the
// stream is released.
func (g *Gateway) Acquire(ctx context.Context, params voice.CaptureParams, onChunk func([]byte)) (voice.DeviceStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return nil, ErrBusy
	}
	if !g.inited {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("device: init portaudio: %w", err)
		}
		g.inited = true
	}

	rate := params.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	period := params.ChunkPeriod
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	frames := int(float64(rate) * period.Seconds())
	if frames <= 0 {
		frames = rate / 10
	}

	buf := make([]int16, frames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("device: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start input stream: %w", err)
	}

	g.open = true
	s := &micStream{gateway: g, stream: stream, buf: buf, rate: rate, stop: make(chan struct{})}
	go s.loop(onChunk)
	return s, nil
}

// Close releases portaudio itself. Call once at shutdown, after any open
// stream has been released.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.inited {
		return nil
	}
	g.inited = false
	return portaudio.Terminate()
}

type micStream struct {
	gateway *Gateway
	stream  *portaudio.Stream
	buf     []int16
	rate    int
	stop    chan struct{}
	once    sync.Once
}

func (s *micStream) SampleRate() int { return s.rate }

// Release stops the device tracks. Idempotent and safe while the read loop
// is blocked in stream.Read.
func (s *micStream) Release() {
	s.once.Do(func() {
		close(s.stop)
		s.stream.Stop()
		s.stream.Close()
		s.gateway.mu.Lock()
		s.gateway.open = false
		s.gateway.mu.Unlock()
	})
}

func (s *micStream) loop(onChunk func([]byte)) {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			// Read fails once the stream is stopped underneath us.
			select {
			case <-s.stop:
			default:
				s.Release()
			}
			return
		}
		select {
		case <-s.stop:
			return
		default:
		}
		chunk := make([]byte, len(s.buf)*2)
		for i, sample := range s.buf {
			chunk[i*2] = byte(sample)
			chunk[i*2+1] = byte(sample >> 8)
		}
		onChunk(chunk)
	}
}
