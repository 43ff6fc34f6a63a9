package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// DefaultModelBaseURL hosts the ggml whisper model files.
const DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Config describes the recognizer. ModelPath is a local ggml file; when it
// does not exist the engine downloads it from ModelBaseURL on first load.
type Config struct {
	ModelPath    string
	ModelBaseURL string
	Language     string // "" or "auto" enables detection
	Threads      int    // <=0 uses NumCPU
	BeamSize     int    // 0 keeps greedy decoding
}

// Engine is a lazily loaded whisper.cpp recognizer. The model is fetched
// and instantiated at most once per Engine lifetime; a successful load is
// cached, a failed one may be retried.
type Engine struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	model    whisper.Model
	inflight chan struct{}
}

func New(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("stt: model path required")
	}
	if cfg.ModelBaseURL == "" {
		cfg.ModelBaseURL = DefaultModelBaseURL
	}
	return &Engine{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// Loaded reports whether the model is resident.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil
}

// Load downloads the model file if missing and instantiates it, reporting
// progress in [0,100]. Concurrent callers share one load; repeated calls
// after success return immediately.
func (e *Engine) Load(ctx context.Context, onProgress func(pct int)) error {
	for {
		e.mu.Lock()
		if e.model != nil {
			e.mu.Unlock()
			report(onProgress, 100)
			return nil
		}
		if ch := e.inflight; ch != nil {
			e.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		ch := make(chan struct{})
		e.inflight = ch
		e.mu.Unlock()

		err := e.load(ctx, onProgress)

		e.mu.Lock()
		e.inflight = nil
		close(ch)
		e.mu.Unlock()
		return err
	}
}

func (e *Engine) load(ctx context.Context, onProgress func(pct int)) error {
	report(onProgress, 0)
	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stt: stat model: %w", err)
		}
		if err := e.download(ctx, onProgress); err != nil {
			return err
		}
	}
	// Download accounts for the first 90 points; instantiation is the rest.
	report(onProgress, 90)

	model, err := whisper.New(e.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("stt: load model: %w", err)
	}

	e.mu.Lock()
	e.model = model
	e.mu.Unlock()
	report(onProgress, 100)
	return nil
}

// download fetches the ggml file to a temp path and renames it into place,
// mapping received bytes onto progress points 0..90.
func (e *Engine) download(ctx context.Context, onProgress func(pct int)) error {
	url := strings.TrimRight(e.cfg.ModelBaseURL, "/") + "/" + filepath.Base(e.cfg.ModelPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("stt: model request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("stt: fetch model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stt: fetch model: HTTP %d from %s", resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(e.cfg.ModelPath), 0o755); err != nil {
		return fmt.Errorf("stt: model dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(e.cfg.ModelPath), ".model-*")
	if err != nil {
		return fmt.Errorf("stt: temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var written int64
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return fmt.Errorf("stt: write model: %w", werr)
			}
			written += int64(n)
			if resp.ContentLength > 0 {
				report(onProgress, int(written*90/resp.ContentLength))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			return fmt.Errorf("stt: read model: %w", rerr)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stt: close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.cfg.ModelPath); err != nil {
		return fmt.Errorf("stt: place model: %w", err)
	}
	return nil
}

// Transcribe runs inference over one utterance of mono 16 kHz samples.
// Long audio is processed in overlapping windows; the joined text is
// returned. Empty text is a valid result.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	e.mu.Lock()
	model := e.model
	e.mu.Unlock()
	if model == nil {
		return "", errors.New("stt: model not loaded")
	}
	if len(samples) == 0 {
		return "", nil
	}

	var parts []string
	for _, sp := range windowPlan(len(samples), whisper.SampleRate) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.processWindow(ctx, model, samples[sp.start:sp.end])
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (e *Engine) processWindow(ctx context.Context, model whisper.Model, samples []float32) (string, error) {
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("stt: new context: %w", err)
	}

	lang := e.cfg.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("stt: set language: %w", err)
	}
	threads := e.cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	if e.cfg.BeamSize > 0 {
		wctx.SetBeamSize(e.cfg.BeamSize)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("stt: process: %w", err)
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stt: next segment: %w", err)
		}
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(strings.TrimSpace(seg.Text))
	}
	return text.String(), nil
}

// Close drops the model reference. The engine can be loaded again afterward.
func (e *Engine) Close() error {
	e.mu.Lock()
	model := e.model
	e.model = nil
	e.mu.Unlock()
	if model != nil {
		return model.Close()
	}
	return nil
}

func report(onProgress func(int), pct int) {
	if onProgress == nil {
		return
	}
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	onProgress(pct)
}
