package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder accumulates a FLAC stream in memory. It is safe for one writer
// and concurrent readers of its counters.
type FlacEncoder struct {
	rate uint32
	buf  bytes.Buffer
	enc  *flac.Encoder

	mu      sync.Mutex
	samples uint64
	spent   time.Duration
	closed  bool
}

// NewFlac returns a mono 16-bit encoder. Blocks may be any size up to
// sampleRate/10; only the last one should be shorter.
func NewFlac(sampleRate uint32) (*FlacEncoder, error) {
	if sampleRate == 0 {
		sampleRate = SampleRate
	}
	maxBlock := uint16(sampleRate / 10)
	e := &FlacEncoder{rate: sampleRate}
	enc, err := flac.NewEncoder(&e.buf, &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  maxBlock,
		SampleRate:    sampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

// EncodeBlock writes one frame. Empty blocks are skipped.
func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	t0 := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("writing flac frame: encoder closed")
	}

	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    e.rate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.samples += uint64(len(block))
	e.spent += time.Since(t0)
	return nil
}

// Close flushes the stream. Further blocks are rejected.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.enc.Close()
}

// Bytes returns the stream written so far. It is only complete after Close.
func (e *FlacEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

// Duration is the length of audio encoded so far.
func (e *FlacEncoder) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.samples) * time.Second / time.Duration(e.rate)
}

// EncodeTime is the wall time spent inside EncodeBlock.
func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spent
}
