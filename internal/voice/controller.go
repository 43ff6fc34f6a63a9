package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ErDashrath/EchoLearn-sub001/internal/audio"
	"github.com/ErDashrath/EchoLearn-sub001/internal/observability"
)

const (
	// SpeakTextLimit bounds synthesis latency and memory; longer speak text
	// is truncated to this many runes.
	SpeakTextLimit = 500

	// DefaultMinUtteranceBytes is the raw-capture size under which an
	// utterance is treated as an accidental tap and skips inference
	// (~250 ms of mono PCM16 at 16 kHz).
	DefaultMinUtteranceBytes = 8000
)

// Options wires a Controller to its engines and devices.
type Options struct {
	Device      CaptureDevice
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Player      Player

	Metrics *observability.Metrics
	Stages  *observability.StageWindow

	CaptureParams     CaptureParams // zero value selects DefaultCaptureParams
	MinUtteranceBytes int           // zero selects DefaultMinUtteranceBytes
	DefaultConfig     Config        // zero voice/speed/volume get defaults
}

// Controller owns the voice pipeline: it serializes every state transition
// under one mutex, publishes snapshots to subscribers, and is the only
// component allowed to touch the microphone, the loaded models, or the
// playback slot. A speak generation counter and capture-session identity
// checks drop engine completions that arrive for a superseded call.
type Controller struct {
	device      CaptureDevice
	stt         Recognizer
	tts         Synthesizer
	player      Player
	metrics     *observability.Metrics
	stages      *observability.StageWindow
	viz         *Visualizer
	captureOpts CaptureParams
	minBytes    int

	mu       sync.Mutex
	state    State
	cfg      Config
	subs     map[int]func(State)
	nextSub  int
	disposed bool

	capture *captureSession

	speakGen  int64
	playing   Playback
	speakDone func(error)

	initOK       bool
	initInFlight chan struct{}
}

func NewController(opts Options) *Controller {
	params := opts.CaptureParams
	if params.SampleRate <= 0 {
		params = DefaultCaptureParams()
	}
	minBytes := opts.MinUtteranceBytes
	if minBytes <= 0 {
		minBytes = DefaultMinUtteranceBytes
	}
	cfg := opts.DefaultConfig
	if cfg.Voice.ID == "" {
		cfg.Voice = DefaultProfile()
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	if cfg.Volume == 0 {
		cfg.Volume = 1.0
	}

	return &Controller{
		device:      opts.Device,
		stt:         opts.Recognizer,
		tts:         opts.Synthesizer,
		player:      opts.Player,
		metrics:     opts.Metrics,
		stages:      opts.Stages,
		viz:         NewVisualizer(),
		captureOpts: params,
		minBytes:    minBytes,
		cfg:         cfg.clamped(),
		state:       State{Status: StatusIdle},
		subs:        make(map[int]func(State)),
	}
}

// Subscribe registers a listener that receives the current snapshot
// immediately and every subsequent state change. The returned function
// unsubscribes; calling it during a notification is safe.
func (c *Controller) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	if c.disposed {
		snap := c.state
		c.mu.Unlock()
		fn(snap)
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	snap := c.state
	c.mu.Unlock()

	fn(snap)
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state by value.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetConfig returns a copy of the session config; mutating it does not
// affect the controller.
func (c *Controller) GetConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the session config. Unknown voice ids fall back to the
// catalog default; speed and volume are clamped to their valid ranges. The
// new config applies from the next speak call.
func (c *Controller) SetConfig(cfg Config) {
	if cfg.Voice.ID == "" {
		cfg.Voice = DefaultProfile()
	} else if known, ok := ProfileByID(cfg.Voice.ID); ok {
		cfg.Voice = known
	}
	cfg = cfg.clamped()

	c.mu.Lock()
	if !c.disposed {
		c.cfg = cfg
	}
	c.mu.Unlock()
}

// FrequencyData returns a frequency snapshot of the live capture, nil when
// not listening.
func (c *Controller) FrequencyData() []byte { return c.viz.FrequencyData() }

// WaveformData returns a waveform snapshot of the live capture, nil when
// not listening.
func (c *Controller) WaveformData() []byte { return c.viz.WaveformData() }

// Initialize loads the STT and TTS engines concurrently and reports whether
// both are usable. It is idempotent: once both engines loaded, it returns
// immediately, and concurrent callers share a single in-flight load.
func (c *Controller) Initialize(ctx context.Context) bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	if c.initOK {
		c.mu.Unlock()
		return true
	}
	if ch := c.initInFlight; ch != nil {
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
		c.mu.Lock()
		ok := c.initOK
		c.mu.Unlock()
		return ok
	}
	ch := make(chan struct{})
	c.initInFlight = ch
	c.state.Status = StatusLoadingSTT
	c.state.Err = ""
	c.state.LoadProgress = 0
	profile := c.cfg.Voice
	fns, snap := c.listenersLocked()
	c.mu.Unlock()
	notify(fns, snap)

	var sttErr, ttsErr error
	g := new(errgroup.Group)
	g.Go(func() error {
		start := time.Now()
		sttErr = c.stt.Load(ctx, c.reportLoadProgress)
		if sttErr == nil {
			c.metrics.ObserveModelLoad("stt", time.Since(start))
			c.publish(func(s *State) {
				s.STTLoaded = true
				if s.Status == StatusLoadingSTT {
					s.Status = StatusLoadingTTS
				}
			})
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		ttsErr = c.tts.Warmup(ctx, profile)
		if ttsErr == nil {
			c.metrics.ObserveModelLoad("tts", time.Since(start))
		}
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	c.initInFlight = nil
	close(ch)
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	c.state.STTLoaded = sttErr == nil
	c.state.TTSLoaded = ttsErr == nil
	ok := sttErr == nil && ttsErr == nil
	if ok {
		c.initOK = true
		c.state.Status = StatusReady
		c.state.LoadProgress = 100
		c.state.Err = ""
	} else {
		c.state.Status = StatusError
		c.state.Err = initErrMessage(sttErr, ttsErr)
	}
	fns, snap = c.listenersLocked()
	c.mu.Unlock()

	if sttErr != nil {
		c.metrics.EngineError("stt", "model_load")
	}
	if ttsErr != nil {
		c.metrics.EngineError("tts", "model_load")
	}
	c.metrics.Event("initialized")
	notify(fns, snap)
	return ok
}

// StartListening opens a capture session. It reports false when the STT
// model cannot be loaded, the device cannot be acquired, or a capture
// session already exists.
func (c *Controller) StartListening(ctx context.Context) bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	if c.capture != nil {
		c.state.Err = "capture session already active"
		fns, snap := c.listenersLocked()
		c.mu.Unlock()
		notify(fns, snap)
		return false
	}
	// Reserve the capture slot before suspending on model load or the
	// permission prompt so a concurrent call cannot open a second session.
	sess := newCaptureSession()
	c.capture = sess
	needLoad := !c.state.STTLoaded
	if needLoad {
		c.state.Status = StatusLoadingSTT
	}
	fns, snap := c.listenersLocked()
	c.mu.Unlock()
	notify(fns, snap)

	if needLoad {
		if err := c.stt.Load(ctx, c.reportLoadProgress); err != nil {
			c.metrics.EngineError("stt", "model_load")
			c.abortCapture(sess, (&ModelLoadError{Engine: "stt", Err: err}).Error())
			return false
		}
		c.publish(func(s *State) { s.STTLoaded = true })
	}

	stream, err := c.device.Acquire(ctx, c.captureOpts, func(chunk []byte) {
		c.mu.Lock()
		ok := c.capture == sess
		c.mu.Unlock()
		if !ok {
			return
		}
		sess.append(chunk)
		c.viz.Push(chunk)
	})
	if err != nil {
		c.metrics.EngineError("device", "acquire")
		c.abortCapture(sess, (&DeviceAccessError{Err: err}).Error())
		return false
	}

	c.mu.Lock()
	if c.disposed || c.capture != sess {
		// Disposed or superseded while the device was being acquired.
		c.mu.Unlock()
		stream.Release()
		return false
	}
	sess.attach(stream)
	c.viz.attach()
	playing, prevDone := c.cancelSpeechLocked()
	c.state.Listening = true
	c.state.Status = StatusListening
	c.state.Err = ""
	fns, snap = c.listenersLocked()
	c.mu.Unlock()

	if playing != nil {
		playing.Cancel()
	}
	if prevDone != nil {
		prevDone(ErrCancelled)
	}
	c.metrics.SetListening(true)
	c.metrics.Event("listen_start")
	notify(fns, snap)
	return true
}

// StopListening closes the capture session and resolves its transcript.
// When no session is open it fails soft, returning the prior transcript.
// Captures below the minimum byte threshold skip inference and resolve to
// an empty transcript.
func (c *Controller) StopListening(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return "", nil
	}
	sess := c.capture
	if sess == nil {
		prior := c.state.Transcript
		c.mu.Unlock()
		return prior, nil
	}
	c.capture = nil
	c.state.Listening = false
	c.state.Transcribing = true
	c.state.Status = StatusTranscribing
	fns, snap := c.listenersLocked()
	c.mu.Unlock()

	c.metrics.SetListening(false)
	notify(fns, snap)

	sess.release()
	c.viz.detach()
	c.stages.Observe("capture", time.Since(sess.startedAt))

	pcm, rate := sess.pcm()
	text := ""
	var err error
	if len(pcm) >= c.minBytes {
		text, err = c.transcribe(ctx, pcm, rate)
	} else {
		c.metrics.Event("capture_below_threshold")
	}

	if err != nil {
		terr := &TranscriptionError{Err: err}
		c.metrics.EngineError("stt", "transcribe")
		c.publish(func(s *State) {
			s.Transcribing = false
			s.Status = StatusError
			s.Err = terr.Error()
			s.Transcript = ""
		})
		return "", terr
	}

	c.publish(func(s *State) {
		s.Transcribing = false
		s.Transcript = text
		s.Err = ""
		if s.Status == StatusTranscribing {
			s.Status = StatusReady
		}
	})
	c.metrics.Event("utterance_transcribed")
	return text, nil
}

// SpeakOptions carries one speak request. OnDone, when set, is invoked
// exactly once: nil after complete playback, ErrCancelled when superseded
// or stopped, or the synthesis/playback failure.
type SpeakOptions struct {
	Text   string
	OnDone func(error)
}

// Speak synthesizes text with the configured voice and plays it. Blank
// text is a no-op. Any in-flight speech is cancelled first; text beyond
// SpeakTextLimit runes is truncated before synthesis.
func (c *Controller) Speak(ctx context.Context, opts SpeakOptions) error {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > SpeakTextLimit {
		text = string(runes[:SpeakTextLimit])
	}
	done := onceCallback(opts.OnDone)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		done(ErrDisposed)
		return ErrDisposed
	}
	playing, prevDone := c.cancelSpeechLocked()
	gen := c.speakGen
	// Mutual exclusion with listening: an open capture is discarded, not
	// transcribed.
	sess := c.capture
	if sess != nil {
		c.capture = nil
		c.state.Listening = false
	}
	c.state.Speaking = true
	c.state.Status = StatusSpeaking
	c.state.Err = ""
	profile := c.cfg.Voice
	speed, volume := c.cfg.Speed, c.cfg.Volume
	fns, snap := c.listenersLocked()
	c.mu.Unlock()

	if playing != nil {
		playing.Cancel()
	}
	if prevDone != nil {
		prevDone(ErrCancelled)
	}
	if sess != nil {
		sess.release()
		c.viz.detach()
		c.metrics.SetListening(false)
	}
	notify(fns, snap)

	synthStart := time.Now()
	asset, err := c.tts.Synthesize(ctx, text, profile)
	if err != nil {
		serr := &SynthesisError{Err: err}
		c.metrics.EngineError("tts", "synthesize")
		c.failSpeak(gen, serr)
		done(serr)
		return serr
	}
	c.stages.Observe("synthesize", time.Since(synthStart))

	c.mu.Lock()
	if c.disposed || c.speakGen != gen {
		// Superseded while synthesis was in flight: the asset arrives for a
		// cancelled utterance and must never reach playback.
		c.mu.Unlock()
		c.metrics.Event("stale_synthesis_dropped")
		done(ErrCancelled)
		return ErrCancelled
	}
	c.mu.Unlock()

	playback, err := c.player.Play(asset, speed, volume, func(playErr error) {
		c.mu.Lock()
		current := !c.disposed && c.speakGen == gen
		if current {
			c.playing = nil
			c.speakDone = nil
		}
		c.mu.Unlock()
		if !current {
			done(ErrCancelled)
			return
		}
		if playErr != nil {
			perr := &PlaybackError{Err: playErr}
			c.metrics.EngineError("playback", "play")
			c.publish(func(s *State) {
				s.Speaking = false
				s.Status = StatusReady
				s.Err = perr.Error()
			})
			done(perr)
			return
		}
		c.publish(func(s *State) {
			s.Speaking = false
			if s.Status == StatusSpeaking {
				s.Status = StatusReady
			}
		})
		c.metrics.Event("speech_completed")
		done(nil)
	})
	if err != nil {
		perr := &PlaybackError{Err: err}
		c.metrics.EngineError("playback", "start")
		c.failSpeak(gen, perr)
		done(perr)
		return perr
	}

	c.mu.Lock()
	if c.disposed || c.speakGen != gen {
		c.mu.Unlock()
		playback.Cancel()
		done(ErrCancelled)
		return ErrCancelled
	}
	c.playing = playback
	c.speakDone = done
	c.mu.Unlock()
	c.metrics.Event("speech_started")
	return nil
}

// StopSpeaking cancels any in-flight speech. Idempotent; safe while not
// speaking.
func (c *Controller) StopSpeaking() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	playing, done := c.cancelSpeechLocked()
	fns, snap := c.listenersLocked()
	c.mu.Unlock()

	if playing != nil {
		playing.Cancel()
	}
	if done != nil {
		done(ErrCancelled)
	}
	notify(fns, snap)
}

// Reset clears the current transcript and error without touching the
// engines.
func (c *Controller) Reset() {
	c.publish(func(s *State) {
		s.Transcript = ""
		s.Err = ""
	})
}

// Dispose tears the session down: playback cancelled, capture released,
// model references dropped, subscribers cleared. Every later public call
// no-ops. Safe to call more than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	playing := c.playing
	done := c.speakDone
	c.playing = nil
	c.speakDone = nil
	c.speakGen++
	sess := c.capture
	c.capture = nil
	c.subs = make(map[int]func(State))
	c.state = State{Status: StatusIdle}
	c.mu.Unlock()

	if playing != nil {
		playing.Cancel()
	}
	if done != nil {
		done(ErrCancelled)
	}
	if sess != nil {
		sess.release()
	}
	c.viz.detach()
	c.metrics.SetListening(false)
	_ = c.stt.Close()
	c.metrics.Event("disposed")
}

// transcribe wraps the raw capture in its container, runs the decode and
// resample stage, and hands the canonical samples to the recognizer.
func (c *Controller) transcribe(ctx context.Context, pcm []byte, rate int) (string, error) {
	blob, err := audio.EncodeWAVPCM16LE(pcm, rate)
	if err != nil {
		return "", err
	}
	decodeStart := time.Now()
	samples, err := audio.DecodeToMono16k(blob)
	if err != nil {
		return "", err
	}
	c.stages.Observe("decode", time.Since(decodeStart))
	c.metrics.ObserveStage("decode", time.Since(decodeStart))

	sttStart := time.Now()
	text, err := c.stt.Transcribe(ctx, samples)
	if err != nil {
		return "", err
	}
	c.stages.Observe("transcribe", time.Since(sttStart))
	c.metrics.ObserveStage("transcribe", time.Since(sttStart))
	return strings.TrimSpace(text), nil
}

// cancelSpeechLocked supersedes the current speak generation and clears the
// speaking flags. Callers cancel the returned playback and invoke the
// returned callback (with ErrCancelled) after releasing the lock.
func (c *Controller) cancelSpeechLocked() (Playback, func(error)) {
	c.speakGen++
	playing := c.playing
	done := c.speakDone
	c.playing = nil
	c.speakDone = nil
	c.state.Speaking = false
	if c.state.Status == StatusSpeaking {
		c.state.Status = StatusReady
	}
	return playing, done
}

// abortCapture rolls back a reserved capture slot after a failed listen.
func (c *Controller) abortCapture(sess *captureSession, errMsg string) {
	c.mu.Lock()
	if c.capture == sess {
		c.capture = nil
	}
	if c.disposed {
		c.mu.Unlock()
		sess.release()
		return
	}
	c.state.Listening = false
	c.state.Status = StatusError
	c.state.Err = errMsg
	fns, snap := c.listenersLocked()
	c.mu.Unlock()

	sess.release()
	notify(fns, snap)
}

// failSpeak returns the state machine to ready after a failed synthesis or
// playback start, unless the speak call was already superseded.
func (c *Controller) failSpeak(gen int64, err error) {
	c.mu.Lock()
	if c.disposed || c.speakGen != gen {
		c.mu.Unlock()
		return
	}
	c.state.Speaking = false
	c.state.Status = StatusReady
	c.state.Err = err.Error()
	fns, snap := c.listenersLocked()
	c.mu.Unlock()
	notify(fns, snap)
}

func (c *Controller) reportLoadProgress(pct int) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	c.publish(func(s *State) {
		if pct > s.LoadProgress {
			s.LoadProgress = pct
		}
	})
}

// publish applies one mutation under the lock and notifies subscribers
// outside it. No-op after dispose.
func (c *Controller) publish(mutate func(*State)) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	mutate(&c.state)
	fns, snap := c.listenersLocked()
	c.mu.Unlock()
	notify(fns, snap)
}

func (c *Controller) listenersLocked() ([]func(State), State) {
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	return fns, c.state
}

func notify(fns []func(State), snap State) {
	for _, fn := range fns {
		fn(snap)
	}
}

func onceCallback(fn func(error)) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			if fn != nil {
				fn(err)
			}
		})
	}
}

func initErrMessage(sttErr, ttsErr error) string {
	switch {
	case sttErr != nil && ttsErr != nil:
		return (&ModelLoadError{Engine: "stt", Err: sttErr}).Error() + "; " +
			(&ModelLoadError{Engine: "tts", Err: ttsErr}).Error()
	case sttErr != nil:
		return (&ModelLoadError{Engine: "stt", Err: sttErr}).Error()
	case ttsErr != nil:
		return (&ModelLoadError{Engine: "tts", Err: ttsErr}).Error()
	default:
		return ""
	}
}
