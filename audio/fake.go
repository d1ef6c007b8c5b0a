package audio

import (
	"context"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays PCM as microphone input and records playback.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// CaptureErr, when set, is returned by NewCapture.
	CaptureErr error
	// PlaybackErr, when set, is returned by every Play call.
	PlaybackErr error
	// RealtimePlayback makes Play take as long as the audio would.
	RealtimePlayback bool

	mu       sync.Mutex
	played   [][]int16
	captures int
}

// NewFakeContext loads a 16-bit mono WAV file as capture input.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

// NewFakeContextPCM uses raw little-endian 16-bit mono PCM as capture input.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	f.mu.Lock()
	f.captures++
	f.mu.Unlock()
	rate := config.SampleRate
	if rate == 0 {
		rate = 16000
	}
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, rate: rate, audioDone: make(chan struct{})}, nil
}

// Captures reports how many capture devices have been opened.
func (f *FakeContext) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *FakeContext) NewPlayback(config PlaybackConfig) (PlaybackDevice, error) {
	return &FakePlayback{ctx: f, config: config}, nil
}

// Played returns a copy of every buffer passed to Play.
func (f *FakeContext) Played() [][]int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]int16, len(f.played))
	copy(out, f.played)
	return out
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	rate      uint32
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {}

type FakePlayback struct {
	ctx    *FakeContext
	config PlaybackConfig
}

func (p *FakePlayback) Play(ctx context.Context, samples []int16, tap func([]int16)) error {
	if p.ctx.PlaybackErr != nil {
		return p.ctx.PlaybackErr
	}
	buf := make([]int16, len(samples))
	copy(buf, samples)
	p.ctx.mu.Lock()
	p.ctx.played = append(p.ctx.played, buf)
	p.ctx.mu.Unlock()

	channels := max(p.config.Channels, 1)
	chunk := fakeFrameSize * int(channels)
	var interval time.Duration
	if p.ctx.RealtimePlayback && p.config.SampleRate > 0 {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(p.config.SampleRate)
	}
	for pos := 0; pos < len(samples); pos += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(pos+chunk, len(samples))
		if tap != nil {
			tap(samples[pos:end])
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return nil
}

func (p *FakePlayback) Close() {}
