package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// encodeTestWAV builds a PCM16LE WAV with an arbitrary channel count, which
// the production encoder (mono only) cannot produce.
func encodeTestWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func sineFrames(frames, channels int) []byte {
	pcm := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*float64(i)/64))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*channels+c)*2:], uint16(v))
		}
	}
	return pcm
}

func TestDecodeToMono16kDurationPreserved(t *testing.T) {
	cases := []struct {
		name     string
		rate     int
		channels int
	}{
		{"8k mono", 8000, 1},
		{"16k mono", 16000, 1},
		{"22k stereo", 22050, 2},
		{"44k mono", 44100, 1},
		{"44k stereo", 44100, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frames := tc.rate / 4 // 250ms
			blob := encodeTestWAV(sineFrames(frames, tc.channels), tc.rate, tc.channels)

			got, err := DecodeToMono16k(blob)
			if err != nil {
				t.Fatalf("DecodeToMono16k: %v", err)
			}
			want := int(math.Ceil(float64(frames) * float64(CanonicalRate) / float64(tc.rate)))
			if len(got) != want {
				t.Fatalf("got %d samples, want %d", len(got), want)
			}
		})
	}
}

func TestDecodeToMono16kRejectsUnknownContainer(t *testing.T) {
	_, err := DecodeToMono16k([]byte("ABCD not audio at all"))
	if !errors.Is(err, ErrUnsupportedContainer) {
		t.Fatalf("err = %v, want ErrUnsupportedContainer", err)
	}
	_, err = DecodeToMono16k([]byte{0x01})
	if !errors.Is(err, ErrUnsupportedContainer) {
		t.Fatalf("short blob err = %v, want ErrUnsupportedContainer", err)
	}
}

func TestDownmixInterleavedAverages(t *testing.T) {
	in := []float32{1, 0, 0.5, 0.5, -1, 1}
	got := DownmixInterleaved(in, 2)
	want := []float32{0.5, 0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResampleLengthLaw(t *testing.T) {
	in := make([]float32, 1001)
	got := Resample(in, 44100, 16000)
	want := int(math.Ceil(1001 * 16000.0 / 44100.0))
	if len(got) != want {
		t.Fatalf("len = %d, want %d", len(got), want)
	}

	same := Resample(in, 16000, 16000)
	if len(same) != len(in) {
		t.Fatalf("identity resample changed length: %d", len(same))
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]float32, CanonicalRate/10)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*float64(i)/32))
	}
	blob, err := EncodeWAV(samples, CanonicalRate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	got, err := DecodeToMono16k(blob)
	if err != nil {
		t.Fatalf("DecodeToMono16k: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if math.Abs(float64(got[i]-samples[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], samples[i])
		}
	}
}

func TestPCM16ConversionClamps(t *testing.T) {
	pcm := Float32ToPCM16LE([]float32{2, -2, 0})
	if v := int16(binary.LittleEndian.Uint16(pcm[0:])); v != 32767 {
		t.Fatalf("positive clamp = %d, want 32767", v)
	}
	if v := int16(binary.LittleEndian.Uint16(pcm[2:])); v != -32768 {
		t.Fatalf("negative clamp = %d, want -32768", v)
	}
	if v := int16(binary.LittleEndian.Uint16(pcm[4:])); v != 0 {
		t.Fatalf("zero = %d, want 0", v)
	}
}
