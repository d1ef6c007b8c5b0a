package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"viva/audio"
	"viva/encoder"
)

var errUnknownFormat = errors.New("unrecognized audio payload")

const (
	formatWAV  = "wav"
	formatFLAC = "flac"
	formatMP3  = "mp3"
)

// sniff identifies a payload by its leading bytes.
func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return formatWAV
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return formatFLAC
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return formatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return formatMP3
	}
	return ""
}

// Decode turns a synthesized speech payload into interleaved 16-bit PCM.
func Decode(data []byte) (encoder.PCM, error) {
	switch sniff(data) {
	case formatWAV:
		return decodeWAV(data)
	case formatFLAC:
		return encoder.DecodeFlac(data)
	case formatMP3:
		return decodeMP3(data)
	}
	return encoder.PCM{}, errUnknownFormat
}

func decodeMP3(data []byte) (encoder.PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return encoder.PCM{}, fmt.Errorf("opening mp3 stream: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return encoder.PCM{}, fmt.Errorf("decoding mp3: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	return encoder.PCM{
		Samples:    audio.BytesToSamples(raw),
		SampleRate: uint32(dec.SampleRate()),
		Channels:   2,
	}, nil
}

func decodeWAV(data []byte) (encoder.PCM, error) {
	var out encoder.PCM
	var bits uint16
	haveFmt := false

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := data[pos+8:]
		if size < 0 || size > len(body) {
			size = len(body) // streamed WAVs leave the size unset
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return encoder.PCM{}, fmt.Errorf("wav: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 && format != 0xFFFE {
				return encoder.PCM{}, fmt.Errorf("wav: unsupported encoding %d", format)
			}
			out.Channels = uint32(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return encoder.PCM{}, fmt.Errorf("wav: data before fmt")
			}
			if bits != 16 {
				return encoder.PCM{}, fmt.Errorf("wav: %d-bit samples not supported", bits)
			}
			out.Samples = audio.BytesToSamples(body[:len(body)&^1])
			return out, nil
		}

		pos += 8 + size + size&1
	}
	return encoder.PCM{}, fmt.Errorf("wav: no data chunk")
}
