// Package capture owns the microphone for one recording at a time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"viva/audio"
	"viva/encoder"
	"viva/log"
	"viva/meter"
)

var ErrDeviceUnavailable = errors.New("microphone unavailable")

const DefaultChunkInterval = 100 * time.Millisecond

// backlogBlocks is how many unencoded blocks may pile up before a warning.
const backlogBlocks = 50

var backlogWarn = rate.Sometimes{First: 1, Interval: 5 * time.Second}

type Config struct {
	Device        *audio.DeviceInfo
	SampleRate    uint32
	EchoCancel    bool
	NoiseSuppress bool
	AutoGain      bool
	ChunkInterval time.Duration
	Meter         meter.Config
}

func DefaultConfig() Config {
	return Config{
		SampleRate:    encoder.SampleRate,
		EchoCancel:    true,
		NoiseSuppress: true,
		AutoGain:      true,
		ChunkInterval: DefaultChunkInterval,
	}
}

// Session records from one device. Each Start creates a fresh recording
// (device, encoder, meter) that the matching Stop tears down.
type Session struct {
	actx audio.Context
	cfg  Config
	sink atomic.Pointer[func([]byte)]

	level atomic.Pointer[meter.Meter]

	mu  sync.Mutex
	dev audio.CaptureDevice
	rec *recording
}

func New(actx audio.Context, cfg Config) *Session {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	return &Session{actx: actx, cfg: cfg}
}

// SetSink registers fn to receive raw PCM while recording. fn runs on the
// audio callback and must not block.
func (s *Session) SetSink(fn func(pcm []byte)) {
	if fn == nil {
		s.sink.Store(nil)
		return
	}
	s.sink.Store(&fn)
}

// Start opens the microphone. It is a no-op while already recording.
// Failures to open or start the device wrap ErrDeviceUnavailable.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		return nil
	}

	enc, err := encoder.NewFlac(s.cfg.SampleRate)
	if err != nil {
		return err
	}

	dev, err := s.actx.NewCapture(s.cfg.Device, audio.CaptureConfig{
		SampleRate:    s.cfg.SampleRate,
		Channels:      encoder.Channels,
		EchoCancel:    s.cfg.EchoCancel,
		NoiseSuppress: s.cfg.NoiseSuppress,
		AutoGain:      s.cfg.AutoGain,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	rec := &recording{
		enc:       enc,
		tap:       meter.NewTap(),
		meter:     meter.New(s.cfg.Meter),
		blockSize: int(s.cfg.SampleRate / 10),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	dev.SetCallback(func(data []byte, _ uint32) {
		rec.write(data)
		if fn := s.sink.Load(); fn != nil {
			(*fn)(data)
		}
	})
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	rec.meter.Start(rec.tap)
	go rec.flushLoop(s.cfg.ChunkInterval)

	s.dev = dev
	s.rec = rec
	s.level.Store(rec.meter)
	log.Infof("capture started: %d Hz, echo_cancel=%v noise_suppress=%v auto_gain=%v",
		s.cfg.SampleRate, s.cfg.EchoCancel, s.cfg.NoiseSuppress, s.cfg.AutoGain)
	return nil
}

// Stop releases the device and returns the recording as a FLAC payload, or
// nil when nothing was captured. Safe to call when not recording.
func (s *Session) Stop() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	rec, dev := s.rec, s.dev
	s.rec, s.dev = nil, nil
	s.level.Store(nil)

	rec.meter.Stop()
	dev.ClearCallback()
	dev.Stop()
	dev.Close()

	payload := rec.finish()
	log.Infof("capture stopped: %.2fs audio, %d chunks, %d bytes, encode %dms",
		rec.enc.Duration().Seconds(), rec.chunks, len(payload), rec.enc.EncodeTime().Milliseconds())
	return payload
}

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

// Level is the live microphone level, 0 when not recording.
func (s *Session) Level() float64 {
	if m := s.level.Load(); m != nil {
		return m.Sample()
	}
	return 0
}

type recording struct {
	enc       *encoder.FlacEncoder
	tap       *meter.Tap
	meter     *meter.Meter
	blockSize int
	startedAt time.Time

	mu      sync.Mutex
	pending []int16
	chunks  int
	err     error

	stop chan struct{}
	done chan struct{}
}

func (r *recording) write(data []byte) {
	samples := audio.BytesToSamples(data)
	r.tap.Write(samples)
	r.mu.Lock()
	r.pending = append(r.pending, samples...)
	backlog := len(r.pending) / r.blockSize
	r.mu.Unlock()
	if backlog > backlogBlocks {
		backlogWarn.Do(func() {
			log.Warnf("capture: encoder falling behind, %d blocks pending", backlog)
		})
	}
}

func (r *recording) flushLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.flush(false)
		}
	}
}

// flush encodes whole blocks, and the trailing partial block when final is set.
func (r *recording) flush(final bool) {
	r.mu.Lock()
	n := len(r.pending) / r.blockSize * r.blockSize
	if final {
		n = len(r.pending)
	}
	blocks := r.pending[:n]
	r.pending = append([]int16(nil), r.pending[n:]...)
	r.mu.Unlock()

	if len(blocks) == 0 {
		return
	}
	for i := 0; i < len(blocks); i += r.blockSize {
		if err := r.enc.EncodeBlock(blocks[i:min(i+r.blockSize, len(blocks))]); err != nil {
			r.mu.Lock()
			if r.err == nil {
				r.err = err
			}
			r.mu.Unlock()
			return
		}
		r.mu.Lock()
		r.chunks++
		r.mu.Unlock()
	}
}

func (r *recording) finish() []byte {
	close(r.stop)
	<-r.done
	r.flush(true)

	if err := r.enc.Close(); err != nil {
		log.Warnf("capture: closing encoder: %v", err)
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		log.Warnf("capture: encoding: %v", r.err)
		return nil
	}
	if r.chunks == 0 {
		return nil
	}
	out := make([]byte, len(r.enc.Bytes()))
	copy(out, r.enc.Bytes())
	return out
}
