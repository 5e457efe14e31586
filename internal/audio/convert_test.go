package audio

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/eleven-am/voice-live/internal/shared"
)

func TestDownsample_SameRate(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	output := Downsample(input, 16000, 16000)
	if len(output) != len(input) {
		t.Fatalf("expected same length %d, got %d", len(input), len(output))
	}
	if &output[0] != &input[0] {
		t.Error("expected pass-through of the input slice")
	}
}

func TestDownsample_AveragesWindow(t *testing.T) {
	input := []float32{0.3, 0.6, 0.9, -0.3, -0.6, -0.9, 0.5}
	output := Downsample(input, 48000, 16000)
	if len(output) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(output))
	}

	want := []float32{0.6, -0.6, 0.5}
	for i := range want {
		if math.Abs(float64(output[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: expected %f, got %f", i, want[i], output[i])
		}
	}
}

func TestDownsample_OutputLength(t *testing.T) {
	rates := []int{16000, 22050, 32000, 44100, 48000, 96000}
	for _, rate := range rates {
		ratio := float64(rate) / 16000
		for n := 0; n <= 4096; n += 97 {
			input := make([]float32, n)
			got := len(Downsample(input, rate, InputSampleRate))
			want := int(math.Ceil(float64(n) / ratio))
			if got != want {
				t.Errorf("rate %d, n %d: expected length %d, got %d", rate, n, want, got)
			}
		}
	}
}

func TestDownsample_LowerRateInterpolates(t *testing.T) {
	input := []float32{0.0, 1.0}
	output := Downsample(input, 8000, 16000)
	if len(output) != 4 {
		t.Fatalf("expected length 4, got %d", len(output))
	}
	if math.Abs(float64(output[1]-0.5)) > 0.01 {
		t.Errorf("expected interpolated midpoint ~0.5, got %f", output[1])
	}
}

func TestDownsample_EmptyInput(t *testing.T) {
	output := Downsample([]float32{}, 48000, 16000)
	if len(output) != 0 {
		t.Errorf("expected empty output, got length %d", len(output))
	}
}

func TestQuantize(t *testing.T) {
	input := []float32{0.0, 1.0, -1.0, 0.5, -0.5, 2.0, -2.0}
	want := []int16{0, 32767, -32768, 16383, -16384, 32767, -32768}

	got := Quantize(input)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d (%f): expected %d, got %d", i, input[i], want[i], got[i])
		}
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	got := EncodePCM16([]int16{0, 32767, -32768, 1})
	want := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80, 0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPCMBytesToInt16(t *testing.T) {
	samples := PCMBytesToInt16([]byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80})
	want := []int16{0, 32767, -32768}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], samples[i])
		}
	}
}

func TestInt16ToFloat32(t *testing.T) {
	result := Int16ToFloat32([]int16{0, -32768, 16384})
	if result[0] != 0 {
		t.Errorf("sample 0: expected 0, got %f", result[0])
	}
	if result[1] != -1 {
		t.Errorf("sample 1: expected -1, got %f", result[1])
	}
	if result[2] != 0.5 {
		t.Errorf("sample 2: expected 0.5, got %f", result[2])
	}
}

func TestDecodePCM16(t *testing.T) {
	buf, err := DecodePCM16(EncodePCM16(make([]int16, 2400)), OutputSampleRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Duration() != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %v", buf.Duration())
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	_, err := DecodePCM16([]byte{0x00, 0x00, 0xFF}, OutputSampleRate)
	if !errors.Is(err, shared.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestBase64_LeftInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 300; n++ {
		b := make([]byte, n)
		rng.Read(b)

		decoded, err := DecodeBase64(EncodeBase64(b))
		if err != nil {
			t.Fatalf("length %d: unexpected error: %v", n, err)
		}
		if !bytes.Equal(decoded, b) {
			t.Fatalf("length %d: round trip mismatch", n)
		}
	}
}

func TestDecodeBase64_Malformed(t *testing.T) {
	_, err := DecodeBase64("not*base64!")
	if !errors.Is(err, shared.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestEncodeBlob(t *testing.T) {
	blob := EncodeBlob([]float32{0, 1, -1})
	if blob.MIMEType != InputMIMEType {
		t.Errorf("expected mime %q, got %q", InputMIMEType, blob.MIMEType)
	}

	raw, err := DecodeBase64(blob.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	if !bytes.Equal(raw, want) {
		t.Errorf("expected %v, got %v", want, raw)
	}
}

func TestBlob_Decode(t *testing.T) {
	blob := Blob{MIMEType: "audio/pcm;rate=24000", Data: EncodeBase64(EncodePCM16([]int16{16384, -32768}))}
	buf, err := blob.Decode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Errorf("expected rate 24000, got %d", buf.SampleRate)
	}
	if buf.Samples[0] != 0.5 || buf.Samples[1] != -1 {
		t.Errorf("unexpected samples %v", buf.Samples)
	}
}

func TestBlob_SampleRate(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=16000", 16000},
		{"audio/pcm; rate=8000", 8000},
		{"audio/pcm", OutputSampleRate},
		{"audio/pcm;rate=abc", OutputSampleRate},
	}
	for _, tt := range tests {
		if got := (Blob{MIMEType: tt.mime}).SampleRate(); got != tt.want {
			t.Errorf("%q: expected %d, got %d", tt.mime, tt.want, got)
		}
	}
}

func TestVolume(t *testing.T) {
	if v := Volume(nil); v != 0 {
		t.Errorf("expected 0 for empty block, got %f", v)
	}
	if v := Volume([]float32{0.1, -0.1, 0.1, -0.1}); math.Abs(v-0.5) > 1e-6 {
		t.Errorf("expected 0.5, got %f", v)
	}
	if v := Volume([]float32{0.9, -0.9}); v != 1 {
		t.Errorf("expected clamp to 1, got %f", v)
	}
}
