package playback

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"

	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

// mixRate is the speaker mixer rate; every asset is resampled onto it so the
// device is initialized exactly once.
const mixRate = beep.SampleRate(44100)

// resampleQuality trades CPU for interpolation accuracy; 4 is transparent
// for speech.
const resampleQuality = 4

// Player renders synthesized assets through the system speaker. One asset
// plays at a time; starting a new one while another is audible mixes them,
// so callers cancel the previous handle first.
type Player struct {
	initOnce sync.Once
	initErr  error
}

func NewPlayer() *Player { return &Player{} }

// Play decodes the asset, applies speed and volume, and starts playback.
// done fires exactly once with nil on natural completion or the stream
// error; Cancel on the returned handle stops the audio and suppresses done.
func (p *Player) Play(asset voice.Asset, speed, volume float64, done func(error)) (voice.Playback, error) {
	streamer, format, err := decode(asset)
	if err != nil {
		return nil, err
	}

	p.initOnce.Do(func() {
		p.initErr = speaker.Init(mixRate, mixRate.N(time.Second/10))
	})
	if p.initErr != nil {
		streamer.Close()
		return nil, fmt.Errorf("playback: speaker init: %w", p.initErr)
	}

	if speed <= 0 {
		speed = 1
	}
	ratio := float64(format.SampleRate) / float64(mixRate) * speed
	resampled := beep.ResampleRatio(resampleQuality, ratio, streamer)

	vol := &effects.Volume{
		Streamer: resampled,
		Base:     2,
		Silent:   volume <= 0,
	}
	if volume > 0 {
		vol.Volume = math.Log2(volume)
	}

	h := &handle{streamer: streamer, done: done}
	speaker.Play(beep.Seq(vol, beep.Callback(func() {
		err := streamer.Err()
		streamer.Close()
		h.fire(err)
	})))
	return h, nil
}

type handle struct {
	streamer beep.StreamSeekCloser
	done     func(error)

	mu        sync.Mutex
	cancelled bool
	fired     bool
}

// Cancel silences the asset immediately. The done callback will not fire.
func (h *handle) Cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	fired := h.fired
	h.mu.Unlock()

	speaker.Clear()
	if !fired {
		h.streamer.Close()
	}
}

func (h *handle) fire(err error) {
	h.mu.Lock()
	if h.cancelled || h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	done := h.done
	h.mu.Unlock()

	if done != nil {
		done(err)
	}
}

// decode picks the streamer for the asset's container format.
func decode(asset voice.Asset) (beep.StreamSeekCloser, beep.Format, error) {
	if len(asset.Audio) == 0 {
		return nil, beep.Format{}, fmt.Errorf("playback: empty asset")
	}
	body := io.NopCloser(bytes.NewReader(asset.Audio))
	switch asset.Format {
	case "mp3":
		s, format, err := mp3.Decode(body)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode mp3: %w", err)
		}
		return s, format, nil
	case "ogg":
		s, format, err := vorbis.Decode(body)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode ogg: %w", err)
		}
		return s, format, nil
	case "wav", "":
		s, format, err := wav.Decode(body)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("playback: decode wav: %w", err)
		}
		return s, format, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("playback: unsupported format %q", asset.Format)
	}
}
