// Package meter turns a live PCM stream into a normalized loudness value.
//
// The analysis mirrors a browser AnalyserNode with fftSize 256: a Blackman
// window over the latest 256 samples, 128 magnitude bins smoothed over time,
// mapped to bytes between -100 dB and -30 dB. The level is the mean bin value
// divided by 128 and clamped to [0,1].
package meter

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	FFTSize = 256
	Bins    = FFTSize / 2

	// DefaultInterval is roughly one animation frame.
	DefaultInterval = 16 * time.Millisecond

	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8

	// referenceCeiling is the mean byte value that maps to a level of 1.
	referenceCeiling = 128.0
)

// Source supplies the most recent FFTSize samples, oldest first, scaled to [-1,1].
type Source interface {
	Window(dst []float64)
}

type Config struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Meter samples a Source on a fixed interval. A Meter runs at most once:
// Start after Stop is a no-op.
type Meter struct {
	interval time.Duration
	clock    clock.Clock

	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
	bins     []uint8

	level atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func New(cfg Config) *Meter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Meter{
		interval: cfg.Interval,
		clock:    cfg.Clock,
		fft:      fourier.NewFFT(FFTSize),
		window:   blackman(FFTSize),
		frame:    make([]float64, FFTSize),
		coeffs:   make([]complex128, FFTSize/2+1),
		smoothed: make([]float64, Bins),
		bins:     make([]uint8, Bins),
	}
}

// Start begins periodic sampling of src.
func (m *Meter) Start(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	ticker := m.clock.Ticker(m.interval)
	go func() {
		defer close(m.done)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.update(src)
			}
		}
	}()
}

// Sample returns the latest level in [0,1].
func (m *Meter) Sample() float64 {
	return math.Float64frombits(m.level.Load())
}

// Stop ends sampling and zeroes the level. Safe to call repeatedly and before Start.
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.started {
		close(m.stop)
		<-m.done
	}
	m.level.Store(0)
}

func (m *Meter) update(src Source) {
	src.Window(m.frame)
	for i := range m.frame {
		m.frame[i] *= m.window[i]
	}
	m.fft.Coefficients(m.coeffs, m.frame)

	for k := 0; k < Bins; k++ {
		mag := cmplxAbs(m.coeffs[k]) / FFTSize
		m.smoothed[k] = smoothing*m.smoothed[k] + (1-smoothing)*mag
		m.bins[k] = toByte(m.smoothed[k])
	}
	m.level.Store(math.Float64bits(Normalize(m.bins)))
}

// Normalize maps byte-scaled frequency bins to a level: mean/128 clamped to [0,1].
func Normalize(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return math.Min(float64(sum)/float64(len(bins))/referenceCeiling, 1)
}

func toByte(mag float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := math.Floor(255 / (maxDecibels - minDecibels) * (db - minDecibels))
	switch {
	case scaled < 0:
		return 0
	case scaled > 255:
		return 255
	}
	return uint8(scaled)
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}
