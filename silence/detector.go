// Package silence decides when a speaker has finished a turn.
//
// A Detector is armed once per turn and fed normalized levels. It fires a
// single Event when the smoothed level has crossed the threshold and then
// stayed below it for SilenceDuration, or when MaxDuration elapses since
// arming, whichever happens first.
package silence

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultThreshold       = 0.25
	DefaultSmoothing       = 0.3
	DefaultSilenceDuration = 1000 * time.Millisecond
	DefaultMaxDuration     = 13 * time.Second
)

type State int

const (
	Inactive State = iota
	Armed
	Speaking
	TrailingSilence
	Fired
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Armed:
		return "armed"
	case Speaking:
		return "speaking"
	case TrailingSilence:
		return "trailing_silence"
	case Fired:
		return "fired"
	}
	return "unknown"
}

type Reason int

const (
	ReasonSilence Reason = iota + 1
	ReasonMaxDuration
)

func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	}
	return "unknown"
}

// Event is the terminal signal of a turn.
type Event struct {
	Turn      uint64
	Reason    Reason
	At        time.Time
	Elapsed   time.Duration // since Arm
	Smoothed  float64
	HasSpoken bool
}

type Config struct {
	// Threshold is a fixed level in (0,1) the smoothed signal must exceed to count as speech.
	Threshold float64
	// Smoothing is the EWMA weight given to each new sample.
	Smoothing       float64
	SilenceDuration time.Duration
	// MaxDuration bounds a turn. Zero disables the ceiling.
	MaxDuration time.Duration
	Clock       clock.Clock
}

func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		Smoothing:       DefaultSmoothing,
		SilenceDuration: DefaultSilenceDuration,
		MaxDuration:     DefaultMaxDuration,
	}
}

type Detector struct {
	cfg   Config
	clock clock.Clock

	mu           sync.Mutex
	state        State
	turn         uint64
	armedAt      time.Time
	smoothed     float64
	hasSpoken    bool
	silenceStart time.Time
	maxTimer     *clock.Timer
	events       chan Event
}

// New returns an inactive detector. Zero fields in cfg take their defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Detector{cfg: cfg, clock: cfg.Clock}
}

func (d *Detector) Config() Config {
	return d.cfg
}

// Arm starts a new turn and returns a channel that receives at most one
// Event. The channel is closed after the event, or without one when the turn
// is disarmed. Arming implicitly disarms the previous turn.
func (d *Detector) Arm() <-chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetLocked()
	d.turn++
	turn := d.turn
	d.events = make(chan Event, 1)
	d.state = Armed
	d.armedAt = d.clock.Now()
	if d.cfg.MaxDuration > 0 {
		d.maxTimer = d.clock.AfterFunc(d.cfg.MaxDuration, func() { d.expire(turn) })
	}
	return d.events
}

// Disarm ends the current turn without firing. Samples and timers that
// arrive afterwards are ignored.
func (d *Detector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Observe feeds one level sample.
func (d *Detector) Observe(level float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Inactive || d.state == Fired {
		return
	}
	now := d.clock.Now()
	d.smoothed = d.smoothed*(1-d.cfg.Smoothing) + level*d.cfg.Smoothing

	if d.smoothed > d.cfg.Threshold {
		d.hasSpoken = true
		d.silenceStart = time.Time{}
		d.state = Speaking
		return
	}
	if !d.hasSpoken {
		return
	}
	if d.silenceStart.IsZero() {
		d.silenceStart = now
		d.state = TrailingSilence
	}
	if now.Sub(d.silenceStart) >= d.cfg.SilenceDuration {
		d.fireLocked(ReasonSilence, now)
	}
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) Smoothed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.smoothed
}

func (d *Detector) HasSpoken() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasSpoken
}

func (d *Detector) expire(turn uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if turn != d.turn || d.state == Inactive || d.state == Fired {
		return
	}
	d.fireLocked(ReasonMaxDuration, d.clock.Now())
}

func (d *Detector) fireLocked(reason Reason, now time.Time) {
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
	ev := Event{
		Turn:      d.turn,
		Reason:    reason,
		At:        now,
		Elapsed:   now.Sub(d.armedAt),
		Smoothed:  d.smoothed,
		HasSpoken: d.hasSpoken,
	}
	d.state = Fired
	d.hasSpoken = false
	d.silenceStart = time.Time{}
	if d.events != nil {
		d.events <- ev
		close(d.events)
		d.events = nil
	}
}

func (d *Detector) resetLocked() {
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
	if d.events != nil {
		close(d.events)
		d.events = nil
	}
	d.state = Inactive
	d.smoothed = 0
	d.hasSpoken = false
	d.silenceStart = time.Time{}
}
