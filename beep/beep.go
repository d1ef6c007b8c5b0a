// Package beep plays short audible cues through the playback device.
package beep

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"viva/audio"
	"viva/log"
)

const (
	sampleRate = 44100

	// Listening cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End cue: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// No-speech cue: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	playTimeout = 2 * time.Second
)

// Player implements the interview cues. Sounds play asynchronously, one at a time.
type Player struct {
	actx     audio.Context
	disabled atomic.Bool

	startSamples []int16
	endSamples   []int16
	errorSamples []int16

	mu sync.Mutex
	wg sync.WaitGroup
}

func New(actx audio.Context) *Player {
	return &Player{
		actx:         actx,
		startSamples: generateTick(sampleRate, startFreq, 0.2, startVolume, startDecay),
		endSamples:   generateTick(sampleRate, endFreq, 0.2, endVolume, endDecay),
		errorSamples: generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay),
	}
}

func (p *Player) Disable() { p.disabled.Store(true) }

func (p *Player) Listening() { p.play(p.startSamples) }
func (p *Player) NoSpeech()  { p.play(p.errorSamples) }
func (p *Player) Ended()     { p.play(p.endSamples) }

// Wait blocks until queued cues have finished.
func (p *Player) Wait() { p.wg.Wait() }

func (p *Player) play(samples []int16) {
	if p.disabled.Load() || p.actx == nil || len(samples) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.mu.Lock()
		defer p.mu.Unlock()

		dev, err := p.actx.NewPlayback(audio.PlaybackConfig{SampleRate: sampleRate, Channels: 2})
		if err != nil {
			log.Warnf("beep: %v", err)
			return
		}
		defer dev.Close()
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		if err := dev.Play(ctx, samples, nil); err != nil {
			log.Warnf("beep: %v", err)
		}
	}()
}

// generateTick renders an exponentially decaying sine as interleaved stereo.
func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur)*2)
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}
