package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// PCM is decoded, interleaved 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate uint32
	Channels   uint32
}

// Duration in seconds.
func (p PCM) Seconds() float64 {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.Channels) / float64(p.SampleRate)
}

// DecodeFlac decodes a complete FLAC stream to interleaved 16-bit PCM.
func DecodeFlac(data []byte) (PCM, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("opening flac stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	out := PCM{SampleRate: info.SampleRate, Channels: uint32(info.NChannels)}
	shift := int(info.BitsPerSample) - 16

	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return PCM{}, fmt.Errorf("parsing flac frame: %w", err)
		}
		for i := 0; i < int(f.BlockSize); i++ {
			for _, sf := range f.Subframes {
				s := sf.Samples[i]
				if shift > 0 {
					s >>= shift
				} else if shift < 0 {
					s <<= -shift
				}
				out.Samples = append(out.Samples, int16(s))
			}
		}
	}
	return out, nil
}
