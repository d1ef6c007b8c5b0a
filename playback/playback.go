// Package playback speaks the interviewer's lines: it synthesizes text,
// plays the audio and meters the output while it plays.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"viva/audio"
	"viva/log"
	"viva/meter"
	"viva/metrics"
	"viva/remote"
)

var ErrSynthesisFailed = errors.New("speech synthesis failed")

const (
	DefaultVoice      = "en-US-naomi"
	DefaultRate       = 0.95
	DefaultSampleRate = 24000
)

type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req remote.SpeechRequest) (*remote.Audio, error)
}

type Config struct {
	Voice      string
	Rate       float64
	Format     string
	SampleRate int
	Meter      meter.Config
}

func DefaultConfig() Config {
	return Config{
		Voice:      DefaultVoice,
		Rate:       DefaultRate,
		Format:     "mp3",
		SampleRate: DefaultSampleRate,
	}
}

type Session struct {
	actx    audio.Context
	synth   Synthesizer
	cfg     Config
	metrics *metrics.Metrics

	level atomic.Pointer[meter.Meter]

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

func New(actx audio.Context, synth Synthesizer, cfg Config, m *metrics.Metrics) *Session {
	return &Session{actx: actx, synth: synth, cfg: cfg, metrics: m}
}

// Speak synthesizes and plays text, returning when playback ends. It never
// blocks the caller on a failure: any error is logged and returned wrapped in
// ErrSynthesisFailed, and the caller may carry on as if speech had finished.
// A Stop during playback returns nil.
func (s *Session) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()
	defer s.release(gen, cancel)

	err := s.speak(ctx, text)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		log.Debugf("speech interrupted: %v", err)
		return nil
	}
	log.Warnf("speech failed: %v", err)
	return fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
}

func (s *Session) speak(ctx context.Context, text string) error {
	t0 := time.Now()
	payload, err := s.synth.SynthesizeSpeech(ctx, remote.SpeechRequest{
		Text:       text,
		VoiceID:    s.cfg.Voice,
		Rate:       s.cfg.Rate,
		Format:     s.cfg.Format,
		SampleRate: s.cfg.SampleRate,
	})
	if err != nil {
		return err
	}
	pcm, err := Decode(payload.Data)
	if err != nil {
		return fmt.Errorf("%w (content-type %q)", err, payload.ContentType)
	}
	if len(pcm.Samples) == 0 {
		return nil
	}
	synthDur := time.Since(t0)

	dev, err := s.actx.NewPlayback(audio.PlaybackConfig{SampleRate: pcm.SampleRate, Channels: pcm.Channels})
	if err != nil {
		return fmt.Errorf("opening playback device: %w", err)
	}
	defer dev.Close()

	tap := meter.NewTap()
	m := meter.New(s.cfg.Meter)
	m.Start(tap)
	s.level.Store(m)
	defer func() {
		s.level.CompareAndSwap(m, nil)
		m.Stop()
	}()

	channels := int(max(pcm.Channels, 1))
	var mono []int16
	feed := func(chunk []int16) {
		if channels == 1 {
			tap.Write(chunk)
			return
		}
		mono = mono[:0]
		for i := 0; i+channels <= len(chunk); i += channels {
			var sum int32
			for c := range channels {
				sum += int32(chunk[i+c])
			}
			mono = append(mono, int16(sum/int32(channels)))
		}
		tap.Write(mono)
	}

	t1 := time.Now()
	err = dev.Play(ctx, pcm.Samples, feed)
	played := time.Since(t1)
	s.metrics.RecordSpeech(played)
	log.Infof("speech: %d chars, %.1fs audio at %d Hz, synth %dms, played %dms",
		len(text), pcm.Seconds(), pcm.SampleRate, synthDur.Milliseconds(), played.Milliseconds())
	return err
}

func (s *Session) release(gen uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	if s.gen == gen {
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Stop cancels any speech in progress and stops its meter. Safe to call with
// nothing playing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	if m := s.level.Swap(nil); m != nil {
		m.Stop()
	}
}

func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Level is the live output level, 0 when nothing is playing.
func (s *Session) Level() float64 {
	if m := s.level.Load(); m != nil {
		return m.Sample()
	}
	return 0
}
