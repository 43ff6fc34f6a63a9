package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	rate     int
	mu       sync.Mutex
	released int
}

func (s *fakeStream) SampleRate() int { return s.rate }

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *fakeStream) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeDevice struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	stream     *fakeStream
	onChunk    func([]byte)
}

func (d *fakeDevice) Acquire(_ context.Context, params CaptureParams, onChunk func([]byte)) (DeviceStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	d.acquired++
	rate := params.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	d.stream = &fakeStream{rate: rate}
	d.onChunk = onChunk
	return d.stream, nil
}

func (d *fakeDevice) push(chunk []byte) {
	d.mu.Lock()
	fn := d.onChunk
	d.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

type fakeRecognizer struct {
	mu         sync.Mutex
	loadCalls  int
	loadErr    error
	loadGate   chan struct{}
	loaded     bool
	text       string
	err        error
	gotSamples int
	closed     int
}

func (r *fakeRecognizer) Load(_ context.Context, onProgress func(int)) error {
	r.mu.Lock()
	r.loadCalls++
	gate := r.loadGate
	err := r.loadErr
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *fakeRecognizer) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *fakeRecognizer) Transcribe(_ context.Context, samples []float32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gotSamples = len(samples)
	return r.text, r.err
}

func (r *fakeRecognizer) Close() error {
	r.mu.Lock()
	r.closed++
	r.loaded = false
	r.mu.Unlock()
	return nil
}

func (r *fakeRecognizer) stats() (loads, samples, closes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadCalls, r.gotSamples, r.closed
}

type fakeSynth struct {
	mu      sync.Mutex
	warmErr error
	err     error
	gate    chan struct{}
	texts   []string
}

func (s *fakeSynth) Warmup(context.Context, Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warmErr
}

func (s *fakeSynth) Synthesize(_ context.Context, text string, profile Profile) (Asset, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	gate := s.gate
	err := s.err
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return Asset{}, err
	}
	return Asset{Audio: []byte("audio"), Format: "wav", Text: text, Profile: profile}, nil
}

func (s *fakeSynth) lastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

func (s *fakeSynth) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type fakePlayback struct {
	mu        sync.Mutex
	cancelled bool
	done      func(error)
}

func (h *fakePlayback) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

func (h *fakePlayback) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *fakePlayback) finish(err error) { h.done(err) }

type fakePlayer struct {
	mu    sync.Mutex
	err   error
	plays []*fakePlayback
}

func (p *fakePlayer) Play(_ Asset, _, _ float64, done func(error)) (Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	h := &fakePlayback{done: done}
	p.plays = append(p.plays, h)
	return h, nil
}

func (p *fakePlayer) last() *fakePlayback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.plays) == 0 {
		return nil
	}
	return p.plays[len(p.plays)-1]
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

type testRig struct {
	ctrl   *Controller
	device *fakeDevice
	stt    *fakeRecognizer
	tts    *fakeSynth
	player *fakePlayer
}

func newTestRig(minBytes int) *testRig {
	device := &fakeDevice{}
	recognizer := &fakeRecognizer{text: "hello"}
	synth := &fakeSynth{}
	player := &fakePlayer{}
	ctrl := NewController(Options{
		Device:            device,
		Recognizer:        recognizer,
		Synthesizer:       synth,
		Player:            player,
		MinUtteranceBytes: minBytes,
	})
	return &testRig{ctrl: ctrl, device: device, stt: recognizer, tts: synth, player: player}
}

func TestInitializeIdempotent(t *testing.T) {
	rig := newTestRig(0)
	ctx := context.Background()

	if !rig.ctrl.Initialize(ctx) {
		t.Fatal("first Initialize returned false")
	}
	if !rig.ctrl.Initialize(ctx) {
		t.Fatal("second Initialize returned false")
	}
	loads, _, _ := rig.stt.stats()
	if loads != 1 {
		t.Fatalf("model loaded %d times, want 1", loads)
	}

	state := rig.ctrl.Snapshot()
	if state.Status != StatusReady || !state.STTLoaded || !state.TTSLoaded {
		t.Fatalf("state after init = %+v", state)
	}
	if state.LoadProgress != 100 {
		t.Fatalf("load progress = %d, want 100", state.LoadProgress)
	}
}

func TestInitializeConcurrentCallersShareOneLoad(t *testing.T) {
	rig := newTestRig(0)
	rig.stt.loadGate = make(chan struct{})
	ctx := context.Background()

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- rig.ctrl.Initialize(ctx) }()
	}
	time.Sleep(50 * time.Millisecond)
	close(rig.stt.loadGate)

	for i := 0; i < 2; i++ {
		if ok := <-results; !ok {
			t.Fatal("concurrent Initialize returned false")
		}
	}
	loads, _, _ := rig.stt.stats()
	if loads != 1 {
		t.Fatalf("model loaded %d times, want 1", loads)
	}
}

func TestInitializeModelLoadFailure(t *testing.T) {
	rig := newTestRig(0)
	rig.stt.loadErr = errors.New("download refused")

	if rig.ctrl.Initialize(context.Background()) {
		t.Fatal("Initialize succeeded with failing model load")
	}
	state := rig.ctrl.Snapshot()
	if state.Status != StatusError {
		t.Fatalf("status = %s, want error", state.Status)
	}
	if !strings.Contains(state.Err, "stt model load") {
		t.Fatalf("state error = %q", state.Err)
	}

	// Recovery: clear the fault and re-initialize.
	rig.stt.mu.Lock()
	rig.stt.loadErr = nil
	rig.stt.mu.Unlock()
	if !rig.ctrl.Initialize(context.Background()) {
		t.Fatal("re-Initialize after clearing fault failed")
	}
	if s := rig.ctrl.Snapshot(); s.Status != StatusReady {
		t.Fatalf("status after recovery = %s", s.Status)
	}
}

func TestStartListeningIsExclusive(t *testing.T) {
	rig := newTestRig(0)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)

	if !rig.ctrl.StartListening(ctx) {
		t.Fatal("first StartListening failed")
	}
	if rig.ctrl.StartListening(ctx) {
		t.Fatal("second StartListening succeeded with an open capture")
	}

	state := rig.ctrl.Snapshot()
	if !state.Listening {
		t.Fatal("first capture was disturbed by the rejected second call")
	}
	rig.device.mu.Lock()
	acquired := rig.device.acquired
	rig.device.mu.Unlock()
	if acquired != 1 {
		t.Fatalf("device acquired %d times, want 1", acquired)
	}
}

func TestStartListeningLazyLoadsModel(t *testing.T) {
	rig := newTestRig(0)

	if !rig.ctrl.StartListening(context.Background()) {
		t.Fatal("StartListening failed")
	}
	loads, _, _ := rig.stt.stats()
	if loads != 1 {
		t.Fatalf("model loaded %d times, want 1", loads)
	}
	state := rig.ctrl.Snapshot()
	if !state.STTLoaded || state.Status != StatusListening {
		t.Fatalf("state = %+v", state)
	}
}

func TestStartListeningDeviceDenied(t *testing.T) {
	rig := newTestRig(0)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)
	rig.device.acquireErr = errors.New("permission denied")

	if rig.ctrl.StartListening(ctx) {
		t.Fatal("StartListening succeeded without a device")
	}
	state := rig.ctrl.Snapshot()
	if state.Listening {
		t.Fatal("listening flag set after device denial")
	}
	if !strings.Contains(state.Err, "audio device access") {
		t.Fatalf("state error = %q", state.Err)
	}

	// The failure is not fatal to the session.
	rig.device.mu.Lock()
	rig.device.acquireErr = nil
	rig.device.mu.Unlock()
	if !rig.ctrl.StartListening(ctx) {
		t.Fatal("StartListening after recovery failed")
	}
}

func TestStopListeningBelowThresholdSkipsInference(t *testing.T) {
	rig := newTestRig(8000)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)
	rig.ctrl.StartListening(ctx)

	// ~100ms of 16kHz mono PCM16, well under the 8000 byte floor.
	rig.device.push(make([]byte, 3200))

	text, err := rig.ctrl.StopListening(ctx)
	if err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	if text != "" {
		t.Fatalf("transcript = %q, want empty", text)
	}
	_, samples, _ := rig.stt.stats()
	if samples != 0 {
		t.Fatal("recognizer ran on a sub-threshold capture")
	}
	state := rig.ctrl.Snapshot()
	if state.Status != StatusReady || state.Transcript != "" {
		t.Fatalf("state = %+v", state)
	}
}

func TestStopListeningTranscribes(t *testing.T) {
	rig := newTestRig(100)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)
	rig.ctrl.StartListening(ctx)

	rig.stt.mu.Lock()
	rig.stt.text = "  hello there  "
	rig.stt.mu.Unlock()
	rig.device.push(make([]byte, 3200))

	text, err := rig.ctrl.StopListening(ctx)
	if err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("transcript = %q", text)
	}
	_, samples, _ := rig.stt.stats()
	if samples != 1600 {
		t.Fatalf("recognizer got %d samples, want 1600", samples)
	}
	state := rig.ctrl.Snapshot()
	if state.Transcript != "hello there" || state.Status != StatusReady || state.Transcribing {
		t.Fatalf("state = %+v", state)
	}
	if rig.device.stream.releaseCount() == 0 {
		t.Fatal("device stream not released")
	}
}

func TestStopListeningFailsSoftWhenNotListening(t *testing.T) {
	rig := newTestRig(100)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)
	rig.ctrl.StartListening(ctx)
	rig.device.push(make([]byte, 3200))
	if _, err := rig.ctrl.StopListening(ctx); err != nil {
		t.Fatalf("StopListening: %v", err)
	}

	text, err := rig.ctrl.StopListening(ctx)
	if err != nil {
		t.Fatalf("second StopListening: %v", err)
	}
	if text != "hello" {
		t.Fatalf("prior transcript = %q, want %q", text, "hello")
	}
}

func TestStopListeningTranscriptionError(t *testing.T) {
	rig := newTestRig(100)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)
	rig.ctrl.StartListening(ctx)
	rig.stt.mu.Lock()
	rig.stt.err = errors.New("inference blew up")
	rig.stt.mu.Unlock()
	rig.device.push(make([]byte, 3200))

	text, err := rig.ctrl.StopListening(ctx)
	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TranscriptionError", err)
	}
	if text != "" {
		t.Fatalf("transcript = %q, want empty", text)
	}
	state := rig.ctrl.Snapshot()
	if state.Status != StatusError || state.Transcript != "" {
		t.Fatalf("state = %+v", state)
	}

	rig.ctrl.Reset()
	if s := rig.ctrl.Snapshot(); s.Err != "" {
		t.Fatalf("error survived Reset: %q", s.Err)
	}
}

func TestSpeakBlankIsNoop(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())

	called := false
	err := rig.ctrl.Speak(context.Background(), SpeakOptions{
		Text:   "   \n\t ",
		OnDone: func(error) { called = true },
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if rig.tts.calls() != 0 {
		t.Fatal("blank text reached the synthesizer")
	}
	if called {
		t.Fatal("done callback fired for a no-op speak")
	}
	if s := rig.ctrl.Snapshot(); s.Speaking {
		t.Fatal("speaking flag set for a no-op speak")
	}
}

func TestSpeakTruncatesLongText(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())

	long := strings.Repeat("é", SpeakTextLimit+37)
	if err := rig.ctrl.Speak(context.Background(), SpeakOptions{Text: long}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	got := rig.tts.lastText()
	if n := len([]rune(got)); n != SpeakTextLimit {
		t.Fatalf("synthesized %d runes, want %d", n, SpeakTextLimit)
	}
}

func TestSpeakCompletion(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())

	var doneErr error
	doneCalls := 0
	err := rig.ctrl.Speak(context.Background(), SpeakOptions{
		Text:   "good evening",
		OnDone: func(e error) { doneCalls++; doneErr = e },
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if s := rig.ctrl.Snapshot(); !s.Speaking || s.Status != StatusSpeaking {
		t.Fatalf("state during playback = %+v", s)
	}

	rig.player.last().finish(nil)

	if doneCalls != 1 || doneErr != nil {
		t.Fatalf("done calls = %d err = %v", doneCalls, doneErr)
	}
	if s := rig.ctrl.Snapshot(); s.Speaking || s.Status != StatusReady {
		t.Fatalf("state after playback = %+v", s)
	}
}

func TestSpeakSupersedesPrevious(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())
	ctx := context.Background()

	var errA error
	callsA := 0
	if err := rig.ctrl.Speak(ctx, SpeakOptions{Text: "first", OnDone: func(e error) { callsA++; errA = e }}); err != nil {
		t.Fatalf("Speak A: %v", err)
	}
	playA := rig.player.last()

	var errB error
	if err := rig.ctrl.Speak(ctx, SpeakOptions{Text: "second", OnDone: func(e error) { errB = e }}); err != nil {
		t.Fatalf("Speak B: %v", err)
	}

	if !playA.isCancelled() {
		t.Fatal("first playback not cancelled by second speak")
	}
	if callsA != 1 || !errors.Is(errA, ErrCancelled) {
		t.Fatalf("first done: calls=%d err=%v, want one ErrCancelled", callsA, errA)
	}

	rig.player.last().finish(nil)
	if errB != nil {
		t.Fatalf("second done err = %v", errB)
	}
	if s := rig.ctrl.Snapshot(); s.Status != StatusReady {
		t.Fatalf("status = %s", s.Status)
	}
}

func TestSpeakStaleSynthesisDiscarded(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())
	rig.tts.mu.Lock()
	rig.tts.gate = make(chan struct{})
	rig.tts.mu.Unlock()

	var doneErr error
	result := make(chan error, 1)
	go func() {
		result <- rig.ctrl.Speak(context.Background(), SpeakOptions{
			Text:   "interrupted mid-synthesis",
			OnDone: func(e error) { doneErr = e },
		})
	}()

	time.Sleep(50 * time.Millisecond)
	rig.ctrl.StopSpeaking()
	close(rig.tts.gate)

	if err := <-result; !errors.Is(err, ErrCancelled) {
		t.Fatalf("Speak returned %v, want ErrCancelled", err)
	}
	if !errors.Is(doneErr, ErrCancelled) {
		t.Fatalf("done err = %v, want ErrCancelled", doneErr)
	}
	if rig.player.count() != 0 {
		t.Fatal("stale synthesis result reached the player")
	}
}

func TestSpeakSynthesisFailure(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())
	rig.tts.mu.Lock()
	rig.tts.err = errors.New("server unreachable")
	rig.tts.mu.Unlock()

	var doneErr error
	err := rig.ctrl.Speak(context.Background(), SpeakOptions{Text: "hi", OnDone: func(e error) { doneErr = e }})
	var serr *SynthesisError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want SynthesisError", err)
	}
	if !errors.As(doneErr, &serr) {
		t.Fatalf("done err = %v, want SynthesisError", doneErr)
	}
	state := rig.ctrl.Snapshot()
	if state.Speaking || state.Status != StatusReady || state.Err == "" {
		t.Fatalf("state = %+v", state)
	}
}

func TestListeningAndSpeakingAreMutuallyExclusive(t *testing.T) {
	rig := newTestRig(0)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)

	// Speak while listening discards the capture.
	rig.ctrl.StartListening(ctx)
	if err := rig.ctrl.Speak(ctx, SpeakOptions{Text: "over the capture"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	state := rig.ctrl.Snapshot()
	if state.Listening {
		t.Fatal("listening and speaking at the same time")
	}
	if !state.Speaking {
		t.Fatal("speak did not take over")
	}
	if rig.device.stream.releaseCount() == 0 {
		t.Fatal("capture stream kept across speak")
	}

	// Listening while speaking cancels the playback.
	playback := rig.player.last()
	if !rig.ctrl.StartListening(ctx) {
		t.Fatal("StartListening during speech failed")
	}
	state = rig.ctrl.Snapshot()
	if state.Speaking {
		t.Fatal("speaking and listening at the same time")
	}
	if !playback.isCancelled() {
		t.Fatal("playback kept across listen")
	}
}

func TestStopSpeakingIdempotent(t *testing.T) {
	rig := newTestRig(0)
	rig.ctrl.Initialize(context.Background())

	rig.ctrl.StopSpeaking()
	rig.ctrl.StopSpeaking()

	if err := rig.ctrl.Speak(context.Background(), SpeakOptions{Text: "something"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	playback := rig.player.last()
	rig.ctrl.StopSpeaking()
	rig.ctrl.StopSpeaking()

	if !playback.isCancelled() {
		t.Fatal("playback not cancelled")
	}
	if s := rig.ctrl.Snapshot(); s.Speaking || s.Status != StatusReady {
		t.Fatalf("state = %+v", s)
	}
}

func TestSubscribeSnapshotAndUnsubscribe(t *testing.T) {
	rig := newTestRig(0)

	updates := 0
	var unsub func()
	unsub = rig.ctrl.Subscribe(func(State) {
		updates++
		if updates == 2 {
			// Unsubscribing from inside a notification must not deadlock.
			unsub()
		}
	})
	if updates != 1 {
		t.Fatalf("immediate snapshot missing, updates = %d", updates)
	}

	rig.ctrl.Reset() // second update, triggers unsubscribe
	rig.ctrl.Reset()
	rig.ctrl.Reset()
	if updates != 2 {
		t.Fatalf("updates after unsubscribe = %d, want 2", updates)
	}
}

func TestDisposeTearsDownAndLaterCallsNoop(t *testing.T) {
	rig := newTestRig(0)
	ctx := context.Background()
	rig.ctrl.Initialize(ctx)

	var doneErr error
	if err := rig.ctrl.Speak(ctx, SpeakOptions{Text: "goodbye", OnDone: func(e error) { doneErr = e }}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	playback := rig.player.last()

	rig.ctrl.Dispose()

	if !playback.isCancelled() {
		t.Fatal("playback survived Dispose")
	}
	if !errors.Is(doneErr, ErrCancelled) {
		t.Fatalf("done err = %v, want ErrCancelled", doneErr)
	}
	_, _, closes := rig.stt.stats()
	if closes != 1 {
		t.Fatalf("recognizer closed %d times, want 1", closes)
	}
	if s := rig.ctrl.Snapshot(); s.Transcript != "" || s.Listening || s.Speaking {
		t.Fatalf("state after dispose = %+v", s)
	}

	// Every later public call is a no-op.
	if rig.ctrl.Initialize(ctx) {
		t.Fatal("Initialize succeeded after Dispose")
	}
	if rig.ctrl.StartListening(ctx) {
		t.Fatal("StartListening succeeded after Dispose")
	}
	if text, err := rig.ctrl.StopListening(ctx); text != "" || err != nil {
		t.Fatalf("StopListening after dispose = %q, %v", text, err)
	}
	if err := rig.ctrl.Speak(ctx, SpeakOptions{Text: "hi"}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Speak after dispose = %v, want ErrDisposed", err)
	}
	rig.ctrl.Dispose() // second dispose is safe
}

func TestConfigClampingAndCopy(t *testing.T) {
	rig := newTestRig(0)

	rig.ctrl.SetConfig(Config{
		Voice:  Profile{ID: "no-such-voice"},
		Speed:  5,
		Volume: -2,
	})
	cfg := rig.ctrl.GetConfig()
	if cfg.Speed != 2.0 {
		t.Fatalf("speed = %v, want clamped 2.0", cfg.Speed)
	}
	if cfg.Volume != 0 {
		t.Fatalf("volume = %v, want clamped 0", cfg.Volume)
	}
	if cfg.Voice.ID != DefaultProfile().ID {
		t.Fatalf("unknown voice resolved to %q", cfg.Voice.ID)
	}

	// Mutating the returned copy must not leak back in.
	cfg.Speed = 0.75
	cfg.Voice.Name = "tampered"
	again := rig.ctrl.GetConfig()
	if again.Speed != 2.0 || again.Voice.Name == "tampered" {
		t.Fatalf("config copy leaked: %+v", again)
	}
}

func TestLoadProgressIsMonotonic(t *testing.T) {
	rig := newTestRig(0)

	var progress []int
	rig.ctrl.Subscribe(func(s State) { progress = append(progress, s.LoadProgress) })
	rig.ctrl.Initialize(context.Background())

	last := -1
	for _, p := range progress {
		if p < last {
			t.Fatalf("load progress regressed: %v", progress)
		}
		last = p
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}
