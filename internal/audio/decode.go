package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// CanonicalRate is the sample rate the recognizer expects.
const CanonicalRate = 16000

var ErrUnsupportedContainer = errors.New("unsupported audio container")

// DecodeToMono16k decodes an encoded audio blob to mono float32 samples at
// exactly CanonicalRate. The container is sniffed from the leading bytes
// (RIFF/WAVE, Ogg, MP3); anything else is rejected. Multi-channel input is
// downmixed; the output length is ceil(duration_seconds * 16000) regardless
// of the source rate.
func DecodeToMono16k(blob []byte) ([]float32, error) {
	samples, rate, err := decodeNative(blob)
	if err != nil {
		return nil, err
	}
	if rate != CanonicalRate {
		samples = Resample(samples, rate, CanonicalRate)
	}
	return samples, nil
}

// decodeNative decodes to mono floats at the container's native rate.
func decodeNative(blob []byte) ([]float32, int, error) {
	if len(blob) < 4 {
		return nil, 0, fmt.Errorf("%w: blob too short", ErrUnsupportedContainer)
	}
	switch {
	case bytes.HasPrefix(blob, []byte("RIFF")):
		return decodeWAV(blob)
	case bytes.HasPrefix(blob, []byte("OggS")):
		return decodeOggVorbis(blob)
	case looksLikeMP3(blob):
		return decodeMP3(blob)
	default:
		return nil, 0, fmt.Errorf("%w: magic %q", ErrUnsupportedContainer, blob[:4])
	}
}

func looksLikeMP3(blob []byte) bool {
	if bytes.HasPrefix(blob, []byte("ID3")) {
		return true
	}
	// Frame sync: 11 set bits.
	return blob[0] == 0xFF && blob[1]&0xE0 == 0xE0
}

func decodeWAV(blob []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(blob))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav stream")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read wav pcm: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, 0, errors.New("empty wav stream")
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	x := intsToFloat32(pb.Data, bitDepth)

	channels, rate := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}
	return DownmixInterleaved(x, channels), rate, nil
}

func decodeMP3(blob []byte) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(blob))
	if err != nil {
		return nil, 0, fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3 pcm: %w", err)
	}
	// go-mp3 always emits interleaved stereo PCM16LE.
	x := DownmixInterleaved(PCM16LEToFloat32(raw), 2)
	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	return x, rate, nil
}

func decodeOggVorbis(blob []byte) ([]float32, int, error) {
	pcm, format, err := oggvorbis.ReadAll(bytes.NewReader(blob))
	if err != nil {
		return nil, 0, fmt.Errorf("read ogg/vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, errors.New("invalid ogg/vorbis stream")
	}
	return DownmixInterleaved(pcm, format.Channels), format.SampleRate, nil
}

// DownmixInterleaved averages interleaved channels into mono.
func DownmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts in from inRate to outRate by linear interpolation.
// The output holds ceil(len(in) * outRate/inRate) samples, so duration is
// preserved without truncation.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(src - float64(i0))
		out[i] = in[i0]*(1-frac) + in[i0+1]*frac
	}
	return out
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		f := float64(v) * scale
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		out[i] = float32(f)
	}
	return out
}
