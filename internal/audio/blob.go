package audio

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/eleven-am/voice-live/internal/shared"
)

// Blob is the wire envelope for raw PCM: base64 data paired with a MIME tag.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// EncodeBlob quantizes 16 kHz samples and wraps them for the transport.
func EncodeBlob(samples []float32) Blob {
	return Blob{
		MIMEType: InputMIMEType,
		Data:     EncodeBase64(EncodePCM16(Quantize(samples))),
	}
}

func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64 payload: %w: %v", shared.ErrDecode, err)
	}
	return b, nil
}

// Decode unwraps an inbound blob into a playable buffer. The sample rate is
// taken from the MIME tag when present and defaults to 24 kHz.
func (b Blob) Decode() (Buffer, error) {
	raw, err := DecodeBase64(b.Data)
	if err != nil {
		return Buffer{}, err
	}
	return DecodePCM16(raw, b.SampleRate())
}

func (b Blob) SampleRate() int {
	for _, param := range strings.Split(b.MIMEType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || key != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return OutputSampleRate
}

// IsAudio reports whether the MIME tag describes raw PCM audio.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(b.MIMEType), "audio/pcm")
}
