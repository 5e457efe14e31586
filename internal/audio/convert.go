package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/eleven-am/voice-live/internal/shared"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000

	InputMIMEType  = "audio/pcm;rate=16000"
	OutputMIMEType = "audio/pcm;rate=24000"
)

// Downsample converts input captured at inputRate to targetRate by averaging
// every input sample that falls inside each output sample's window. Rates
// below the target fall back to linear interpolation since a window would be
// empty.
func Downsample(input []float32, inputRate, targetRate int) []float32 {
	if inputRate == targetRate || inputRate <= 0 || targetRate <= 0 {
		return input
	}
	if inputRate < targetRate {
		return Resample(input, inputRate, targetRate)
	}

	ratio := float64(inputRate) / float64(targetRate)
	outputLen := int(math.Ceil(float64(len(input)) / ratio))
	output := make([]float32, outputLen)

	for i := range output {
		start := int(math.Floor(float64(i) * ratio))
		end := int(math.Floor(float64(i+1) * ratio))
		if end > len(input) {
			end = len(input)
		}

		var sum float32
		count := 0
		for j := start; j < end; j++ {
			sum += input[j]
			count++
		}
		if count > 0 {
			output[i] = sum / float32(count)
		}
	}
	return output
}

// Resample performs linear interpolation between rates.
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return input
	}

	ratio := float64(toRate) / float64(fromRate)
	outputLen := int(math.Ceil(float64(len(input)) * ratio))
	output := make([]float32, outputLen)

	for i := range output {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(input) {
			output[i] = input[srcIdx]*(1-frac) + input[srcIdx+1]*frac
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}
	return output
}

// Quantize clamps each sample to [-1, 1] and scales it asymmetrically so that
// -1 maps to -32768 and 1 maps to 32767.
func Quantize(samples []float32) []int16 {
	result := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			result[i] = int16(s * 0x8000)
		} else {
			result[i] = int16(s * 0x7FFF)
		}
	}
	return result
}

func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func PCMBytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func Int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / 32768.0
	}
	return result
}

// Buffer is decoded mono audio ready for scheduling.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// DecodePCM16 reinterprets raw little-endian 16-bit bytes as normalized samples.
func DecodePCM16(data []byte, sampleRate int) (Buffer, error) {
	if len(data)%2 != 0 {
		return Buffer{}, fmt.Errorf("pcm payload has odd length %d: %w", len(data), shared.ErrDecode)
	}
	return Buffer{
		Samples:    Int16ToFloat32(PCMBytesToInt16(data)),
		SampleRate: sampleRate,
	}, nil
}

// Volume estimates loudness of a capture block for visualizers. The RMS is
// amplified by five and capped at one.
func Volume(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(rms*5, 1)
}
