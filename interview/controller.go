// Package interview runs the turn-taking loop of a voice interview: it asks
// a question, listens until the candidate falls silent, submits the answer
// and speaks the service's reply, until the service ends the session.
package interview

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"viva/log"
	"viva/meter"
	"viva/metrics"
	"viva/remote"
	"viva/silence"
)

type State int

const (
	Idle State = iota
	Listening
	Processing
	Speaking
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	case Ended:
		return "ended"
	}
	return "unknown"
}

const (
	DefaultRestartDelay = 1000 * time.Millisecond
	DefaultRearmDelay   = 500 * time.Millisecond
	DefaultPollInterval = meter.DefaultInterval
)

type Recorder interface {
	Start(ctx context.Context) error
	Stop() []byte
	Level() float64
}

type Listener interface {
	Start(ctx context.Context) error
	Stop(payload []byte) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
	Level() float64
}

type Service interface {
	SubmitAnswer(ctx context.Context, sessionID, answer string) (*remote.Reply, error)
	EndInterview(ctx context.Context, sessionID string) (*remote.Summary, error)
}

type Detector interface {
	Arm() <-chan silence.Event
	Observe(level float64)
	Disarm()
}

// EventSink receives controller events on the controller goroutine.
// Implementations must not block.
type EventSink interface {
	StateChanged(s State)
	TranscriptAppended(e Entry)
	Notice(n Notice)
	Finished(summary *remote.Summary, transcript []Entry)
}

// Cues plays short audible signals.
type Cues interface {
	Listening()
	NoSpeech()
}

type Deps struct {
	Recorder Recorder
	Listener Listener
	Speaker  Speaker
	Service  Service
	Detector Detector
	Sink     EventSink
	Cues     Cues
	Metrics  *metrics.Metrics
}

type Config struct {
	// RestartDelay precedes a new turn after no speech or a device failure.
	RestartDelay time.Duration
	// RearmDelay precedes a new turn after a question has been spoken.
	RearmDelay   time.Duration
	PollInterval time.Duration
	Clock        clock.Clock
}

func DefaultConfig() Config {
	return Config{
		RestartDelay: DefaultRestartDelay,
		RearmDelay:   DefaultRearmDelay,
		PollInterval: DefaultPollInterval,
	}
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeResubmit
	outcomeContinue
	outcomeEnd
)

var levelTrace = rate.Sometimes{Interval: 2 * time.Second}

// Controller owns whose turn it is. All turn state lives on the goroutine
// running Run; other goroutines only read State and the transcript or call End.
type Controller struct {
	sessionID string
	first     string
	d         Deps
	cfg       Config
	clock     clock.Clock

	transcript Transcript
	endReq     chan struct{}
	turn       int

	mu    sync.Mutex
	state State
}

func New(sessionID, firstQuestion string, d Deps, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.RearmDelay <= 0 {
		cfg.RearmDelay = def.RearmDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if d.Sink == nil {
		d.Sink = nopSink{}
	}
	if d.Cues == nil {
		d.Cues = nopCues{}
	}
	return &Controller{
		sessionID: sessionID,
		first:     firstQuestion,
		d:         d,
		cfg:       cfg,
		clock:     cfg.Clock,
		endReq:    make(chan struct{}, 1),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Transcript() []Entry { return c.transcript.Entries() }

// MicLevel and SpeakerLevel expose the two meters for display.
func (c *Controller) MicLevel() float64     { return c.d.Recorder.Level() }
func (c *Controller) SpeakerLevel() float64 { return c.d.Speaker.Level() }

// End asks the controller to finalize the session. It is honored while
// listening or idle, which covers the wait between failed turns and a failed
// finalize. While an answer is processed or a question spoken it is ignored
// and End reports false. An accepted request is kept until the controller
// acts on it.
func (c *Controller) End() bool {
	c.mu.Lock()
	ok := c.state == Listening || c.state == Idle
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case c.endReq <- struct{}{}:
	default:
	}
	return true
}

// Run drives the interview until it is finalized or ctx is cancelled. It
// returns nil after a successful finalize and ctx.Err() otherwise. Turn
// failures never end Run.
func (c *Controller) Run(ctx context.Context) error {
	defer c.stopAll()

	c.record(RoleQuestion, c.first)
	c.setState(Speaking)
	c.speak(ctx, c.first)
	c.setState(Processing)

	next := c.cfg.RearmDelay
	for {
		ended, err := c.sleep(ctx, next)
		if err != nil {
			return err
		}
		if ended {
			log.Info("end requested between turns")
			return c.finalize(ctx)
		}
		out, err := c.runTurn(ctx)
		if err != nil {
			return err
		}
		switch out {
		case outcomeRetry:
			next = c.cfg.RestartDelay
		case outcomeResubmit:
			next = 0
		case outcomeContinue:
			next = c.cfg.RearmDelay
		case outcomeEnd:
			return c.finalize(ctx)
		}
	}
}

func (c *Controller) runTurn(ctx context.Context) (outcome, error) {
	c.turn++
	tm := log.TurnMetrics{Turn: c.turn, TurnID: uuid.NewString()}
	log.TurnStart(tm.Turn, tm.TurnID)
	finish := func(out outcome, name string) (outcome, error) {
		tm.Outcome = name
		log.TurnEnd(tm)
		c.d.Metrics.RecordTurn(name)
		return out, nil
	}

	if err := c.d.Recorder.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.setState(Idle)
		c.notify(DeviceUnavailable, err)
		return finish(outcomeRetry, "device_unavailable")
	}
	if err := c.d.Listener.Start(ctx); err != nil {
		log.Warnf("listening failed to start: %v", err)
	}

	events := c.d.Detector.Arm()
	c.setState(Listening)
	c.d.Cues.Listening()
	listenStart := c.clock.Now()

	ev, ended, err := c.listen(ctx, events)
	c.d.Detector.Disarm()
	if err != nil {
		return 0, err
	}
	tm.ListenMs = float64(c.clock.Since(listenStart).Milliseconds())
	if ended {
		tm.Reason = "user"
		return finish(outcomeEnd, "ended")
	}

	c.setState(Processing)
	tm.Reason = ev.Reason.String()
	log.SilenceFired(tm.Reason, ev.Smoothed, ev.Elapsed)
	c.d.Metrics.RecordSilence(tm.Reason)

	payload := c.d.Recorder.Stop()
	text, terr := c.d.Listener.Stop(payload)
	tm.PayloadKB = float64(len(payload)) / 1024
	c.d.Metrics.RecordCapture(len(payload))

	answer := strings.TrimSpace(text)
	if answer == "" {
		c.setState(Idle)
		c.notify(NoSpeechDetected, terr)
		c.d.Cues.NoSpeech()
		return finish(outcomeRetry, "no_speech")
	}
	tm.AnswerLen = len(answer)
	c.record(RoleAnswer, answer)

	t0 := c.clock.Now()
	reply, err := c.d.Service.SubmitAnswer(ctx, c.sessionID, answer)
	tm.SubmitMs = float64(c.clock.Since(t0).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.setState(Idle)
		c.notify(SubmissionFailed, err)
		return finish(outcomeResubmit, "submit_failed")
	}

	if reply.IsEnd() {
		c.d.Speaker.Stop()
		c.setState(Speaking)
		t1 := c.clock.Now()
		c.speak(ctx, reply.Text)
		tm.SpeakMs = float64(c.clock.Since(t1).Milliseconds())
		return finish(outcomeEnd, "ended")
	}

	c.record(RoleQuestion, reply.Text)
	c.setState(Speaking)
	t1 := c.clock.Now()
	c.speak(ctx, reply.Text)
	tm.SpeakMs = float64(c.clock.Since(t1).Milliseconds())
	c.setState(Processing)
	return finish(outcomeContinue, "answered")
}

// listen feeds microphone levels to the detector until it fires, the user
// ends the session, or ctx is cancelled.
func (c *Controller) listen(ctx context.Context, events <-chan silence.Event) (silence.Event, bool, error) {
	ticker := c.clock.Ticker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return silence.Event{}, false, ctx.Err()
		case <-c.endReq:
			return silence.Event{}, true, nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			return ev, false, nil
		case <-ticker.C:
			level := c.d.Recorder.Level()
			c.d.Detector.Observe(level)
			levelTrace.Do(func() { log.Debugf("mic level %.3f", level) })
		}
	}
}

// finalize ends the session with the service. Capture, listening and speech
// are stopped first whatever the outcome. A failure leaves the controller
// idle until End is called again.
func (c *Controller) finalize(ctx context.Context) error {
	for {
		c.stopAll()
		c.setState(Processing)

		summary, err := c.d.Service.EndInterview(ctx, c.sessionID)
		if err == nil {
			c.d.Metrics.RecordFinalize(true)
			log.SessionEnd(c.sessionID, c.turn, nil)
			c.setState(Ended)
			c.d.Sink.Finished(summary, c.transcript.Entries())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.d.Metrics.RecordFinalize(false)
		log.SessionEnd(c.sessionID, c.turn, err)

		c.drainEnd()
		c.setState(Idle)
		c.notify(SessionFinalizeFailed, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.endReq:
		}
		log.Info("retrying finalize")
	}
}

func (c *Controller) stopAll() {
	c.d.Detector.Disarm()
	c.d.Recorder.Stop()
	if _, err := c.d.Listener.Stop(nil); err != nil {
		log.Warnf("stopping listener: %v", err)
	}
	c.d.Speaker.Stop()
}

func (c *Controller) speak(ctx context.Context, text string) {
	if err := c.d.Speaker.Speak(ctx, text); err != nil {
		c.notify(SynthesisFailed, err)
	}
}

func (c *Controller) record(role Role, text string) {
	e := Entry{Role: role, Text: text, At: c.clock.Now()}
	c.transcript.add(e)
	log.TranscriptEntry(c.sessionID, string(role), text)
	c.d.Sink.TranscriptAppended(e)
}

func (c *Controller) notify(kind Kind, err error) {
	e := &Error{Kind: kind, Err: err}
	log.Warnf("turn %d: %v", c.turn, e)
	c.d.Sink.Notice(newNotice(kind, e))
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.d.Sink.StateChanged(s)
	}
}

func (c *Controller) drainEnd() {
	select {
	case <-c.endReq:
	default:
	}
}

// sleep waits d between turns. It reports true when End was requested
// before or during the wait.
func (c *Controller) sleep(ctx context.Context, d time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	select {
	case <-c.endReq:
		return true, nil
	default:
	}
	if d <= 0 {
		return false, nil
	}
	t := c.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.endReq:
		return true, nil
	case <-t.C:
		return false, nil
	}
}

type nopSink struct{}

func (nopSink) StateChanged(State)                {}
func (nopSink) TranscriptAppended(Entry)          {}
func (nopSink) Notice(Notice)                     {}
func (nopSink) Finished(*remote.Summary, []Entry) {}

type nopCues struct{}

func (nopCues) Listening() {}
func (nopCues) NoSpeech()  {}
