package voice

import (
	"sync"
	"time"
)

// captureSession accumulates raw device chunks for one utterance. At most
// one exists while the controller is listening; stopListening consumes and
// destroys it.
type captureSession struct {
	mu        sync.Mutex
	stream    DeviceStream
	rate      int
	chunks    [][]byte
	byteCount int
	startedAt time.Time
}

func newCaptureSession() *captureSession {
	return &captureSession{startedAt: time.Now()}
}

func (c *captureSession) attach(stream DeviceStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
	c.rate = stream.SampleRate()
}

func (c *captureSession) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, buf)
	c.byteCount += len(buf)
}

// pcm joins the accumulated chunks into one raw PCM16LE buffer and reports
// the rate the device delivered them at.
func (c *captureSession) pcm() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, 0, c.byteCount)
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}
	rate := c.rate
	if rate <= 0 {
		rate = 16000
	}
	return out, rate
}

// release stops the device stream if one is attached. Idempotent.
func (c *captureSession) release() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream != nil {
		stream.Release()
	}
}
