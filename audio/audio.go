package audio

import (
	"context"
	"encoding/binary"
	"strings"
)

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// softwareGain is applied to captured samples when CaptureConfig.AutoGain is set.
const softwareGain = 8

type DataCallback func(data []byte, frameCount uint32)

// CaptureConfig describes the requested capture format. The processing
// hints are applied where the backend supports them and ignored otherwise.
type CaptureConfig struct {
	SampleRate    uint32
	Channels      uint32
	EchoCancel    bool
	NoiseSuppress bool
	AutoGain      bool
}

type PlaybackConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(config PlaybackConfig) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// PlaybackDevice renders interleaved signed 16-bit samples.
type PlaybackDevice interface {
	// Play blocks until every sample has been handed to the device, ctx is
	// done, or the device fails. tap, if non-nil, is called with each buffer
	// as it is rendered.
	Play(ctx context.Context, samples []int16, tap func([]int16)) error
	Close()
}

// amplify writes src into dst as little-endian PCM, scaled by gain and clamped.
func amplify(dst []byte, src []int16, gain int32) {
	for i, s := range src {
		amplified := int32(s) * gain
		if amplified > 32767 {
			amplified = 32767
		} else if amplified < -32768 {
			amplified = -32768
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(amplified)))
	}
}

// BytesToSamples decodes little-endian 16-bit PCM.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
