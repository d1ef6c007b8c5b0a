// Package encoder turns 16-bit mono PCM into the FLAC payloads uploaded for
// transcription and decodes FLAC speech returned by the service.
package encoder

const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
	// BlockSize is one 100ms chunk at SampleRate.
	BlockSize = SampleRate / 10
)
