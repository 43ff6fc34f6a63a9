package playback

import (
	"testing"

	"github.com/ErDashrath/EchoLearn-sub001/internal/audio"
	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

func wavAsset(t *testing.T) voice.Asset {
	t.Helper()
	data, err := audio.EncodeWAV(make([]float32, 1600), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return voice.Asset{Audio: data, Format: "wav"}
}

func TestDecodeWAVAsset(t *testing.T) {
	streamer, format, err := decode(wavAsset(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer streamer.Close()
	if format.SampleRate != 16000 {
		t.Fatalf("sample rate = %d", format.SampleRate)
	}
	if streamer.Len() != 1600 {
		t.Fatalf("frames = %d", streamer.Len())
	}
}

func TestDecodeDefaultsToWAV(t *testing.T) {
	asset := wavAsset(t)
	asset.Format = ""
	streamer, _, err := decode(asset)
	if err != nil {
		t.Fatalf("decode with empty format: %v", err)
	}
	streamer.Close()
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, _, err := decode(voice.Asset{}); err == nil {
		t.Fatal("empty asset decoded")
	}
	if _, _, err := decode(voice.Asset{Audio: []byte("nonsense"), Format: "wav"}); err == nil {
		t.Fatal("garbage wav decoded")
	}
	if _, _, err := decode(voice.Asset{Audio: []byte("x"), Format: "flac"}); err == nil {
		t.Fatal("unsupported format decoded")
	}
}

type nopStreamer struct{}

func (nopStreamer) Stream([][2]float64) (int, bool) { return 0, false }
func (nopStreamer) Err() error                      { return nil }
func (nopStreamer) Len() int                        { return 0 }
func (nopStreamer) Position() int                   { return 0 }
func (nopStreamer) Seek(int) error                  { return nil }
func (nopStreamer) Close() error                    { return nil }

func TestHandleFireOnceAndCancelSuppresses(t *testing.T) {
	fired := 0
	h := &handle{streamer: nopStreamer{}, done: func(error) { fired++ }}

	h.fire(nil)
	h.fire(nil)
	if fired != 1 {
		t.Fatalf("done fired %d times", fired)
	}

	h2 := &handle{streamer: nopStreamer{}, done: func(error) { fired++ }}
	h2.Cancel()
	h2.Cancel()
	h2.fire(nil)
	if fired != 1 {
		t.Fatalf("cancelled handle fired done, count = %d", fired)
	}
}
