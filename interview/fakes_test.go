package interview

import (
	"context"
	"errors"
	"sync"
	"time"

	"viva/remote"
	"viva/silence"
)

type fakeRecorder struct {
	mu        sync.Mutex
	startErrs []error
	onStart   func()
	starts    int
	stops     int
	active    bool
}

func (r *fakeRecorder) Start(context.Context) error {
	if r.onStart != nil {
		r.onStart()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.startErrs) > 0 {
		err := r.startErrs[0]
		r.startErrs = r.startErrs[1:]
		if err != nil {
			return err
		}
	}
	r.starts++
	r.active = true
	return nil
}

func (r *fakeRecorder) Stop() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	r.active = false
	r.stops++
	return []byte("fLaC")
}

func (r *fakeRecorder) Level() float64 { return 0 }

func (r *fakeRecorder) counts() (starts int, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.active
}

type fakeListener struct {
	mu       sync.Mutex
	texts    []string
	payloads [][]byte
	starts   int
	active   bool
}

func (l *fakeListener) Start(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	l.active = true
	return nil
}

func (l *fakeListener) Stop(payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return "", nil
	}
	l.active = false
	l.payloads = append(l.payloads, payload)
	if len(l.texts) == 0 {
		return "", nil
	}
	text := l.texts[0]
	l.texts = l.texts[1:]
	return text, nil
}

func (l *fakeListener) counts() (starts int, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts, l.active
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	err    error
	stops  int
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.err
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSpeaker) Level() float64 { return 0 }

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type reply struct {
	r   *remote.Reply
	err error
}

type fakeService struct {
	mu       sync.Mutex
	replies  []reply
	endErrs  []error
	answers  []string
	endCalls int
}

func (f *fakeService) SubmitAnswer(_ context.Context, _ string, answer string) (*remote.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer)
	if len(f.replies) == 0 {
		return &remote.Reply{Action: remote.ActionContinue, Text: "Next question?"}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.r, r.err
}

func (f *fakeService) EndInterview(context.Context, string) (*remote.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	if len(f.endErrs) > 0 {
		err := f.endErrs[0]
		f.endErrs = f.endErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &remote.Summary{AvgScores: map[string]float64{"overall": 4}}, nil
}

func (f *fakeService) snapshot() (answers []string, endCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...), f.endCalls
}

// fakeDetector hands each armed turn's channel to the test, which fires it.
type fakeDetector struct {
	armed    chan chan silence.Event
	preload  *silence.Event // already fired when armed
	mu       sync.Mutex
	disarms  int
	observed int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{armed: make(chan chan silence.Event, 16)}
}

func (d *fakeDetector) Arm() <-chan silence.Event {
	ch := make(chan silence.Event, 1)
	if d.preload != nil {
		ch <- *d.preload
	}
	d.armed <- ch
	return ch
}

func (d *fakeDetector) Observe(float64) {
	d.mu.Lock()
	d.observed++
	d.mu.Unlock()
}

func (d *fakeDetector) Disarm() {
	d.mu.Lock()
	d.disarms++
	d.mu.Unlock()
}

var errTimeout = errors.New("timed out waiting for turn")

// waitArmed returns the next armed turn's event channel.
func (d *fakeDetector) waitArmed() (chan silence.Event, error) {
	select {
	case ch := <-d.armed:
		return ch, nil
	case <-time.After(2 * time.Second):
		return nil, errTimeout
	}
}

type recordingSink struct {
	mu       sync.Mutex
	states   []State
	entries  []Entry
	notices  []Notice
	finished chan *remote.Summary
}

func newRecordingSink() *recordingSink {
	return &recordingSink{finished: make(chan *remote.Summary, 1)}
}

func (s *recordingSink) StateChanged(st State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) TranscriptAppended(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *recordingSink) Notice(n Notice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
}

func (s *recordingSink) Finished(summary *remote.Summary, _ []Entry) {
	s.finished <- summary
}

func (s *recordingSink) noticeKinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []Kind
	for _, n := range s.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type countingCues struct {
	mu                  sync.Mutex
	listening, noSpeech int
}

func (c *countingCues) Listening() {
	c.mu.Lock()
	c.listening++
	c.mu.Unlock()
}

func (c *countingCues) NoSpeech() {
	c.mu.Lock()
	c.noSpeech++
	c.mu.Unlock()
}
