package interview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viva/remote"
	"viva/silence"
)

type harness struct {
	rec   *fakeRecorder
	lis   *fakeListener
	spk   *fakeSpeaker
	svc   *fakeService
	det   *fakeDetector
	sink  *recordingSink
	cues  *countingCues
	ctrl  *Controller
	done  chan error
	abort context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec:  &fakeRecorder{},
		lis:  &fakeListener{},
		spk:  &fakeSpeaker{},
		svc:  &fakeService{},
		det:  newFakeDetector(),
		sink: newRecordingSink(),
		cues: &countingCues{},
		done: make(chan error, 1),
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.ctrl = New("s1", "Tell me about yourself.", Deps{
		Recorder: h.rec,
		Listener: h.lis,
		Speaker:  h.spk,
		Service:  h.svc,
		Detector: h.det,
		Sink:     h.sink,
		Cues:     h.cues,
	}, Config{
		RestartDelay: 5 * time.Millisecond,
		RearmDelay:   2 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.abort = cancel
	t.Cleanup(cancel)
	go func() { h.done <- h.ctrl.Run(ctx) }()
}

// fire waits for the next armed turn and ends it with a silence event.
func (h *harness) fire(t *testing.T) {
	t.Helper()
	ch, err := h.det.waitArmed()
	require.NoError(t, err)
	ch <- silence.Event{Reason: silence.ReasonSilence, HasSpoken: true}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func roles(entries []Entry) []Role {
	var out []Role
	for _, e := range entries {
		out = append(out, e.Role)
	}
	return out
}

func TestInitialTurnSpeaksFirstQuestion(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.det.waitArmed()
	require.NoError(t, err)

	assert.Equal(t, []string{"Tell me about yourself."}, h.spk.said())
	starts, active := h.rec.counts()
	assert.Equal(t, 1, starts)
	assert.True(t, active)
	lstarts, _ := h.lis.counts()
	assert.Equal(t, 1, lstarts)
	assert.Eventually(t, func() bool { return h.ctrl.State() == Listening }, time.Second, time.Millisecond)

	entries := h.ctrl.Transcript()
	require.Len(t, entries, 1)
	assert.Equal(t, RoleQuestion, entries[0].Role)
}

func TestEndActionFinalizesOnce(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"I built a compiler."}
	h.svc.replies = []reply{{r: &remote.Reply{Action: remote.ActionEnd, Text: "Thanks"}}}
	h.start(t)

	h.fire(t)
	require.NoError(t, h.wait(t))

	select {
	case summary := <-h.sink.finished:
		assert.Equal(t, 4.0, summary.Overall())
	default:
		t.Fatal("Finished not delivered")
	}

	assert.Equal(t, []string{"Tell me about yourself.", "Thanks"}, h.spk.said())
	answers, endCalls := h.svc.snapshot()
	assert.Equal(t, []string{"I built a compiler."}, answers)
	assert.Equal(t, 1, endCalls)

	starts, active := h.rec.counts()
	assert.Equal(t, 1, starts, "capture must not be re-armed after end")
	assert.False(t, active)
	_, lactive := h.lis.counts()
	assert.False(t, lactive)
	assert.Equal(t, Ended, h.ctrl.State())
	assert.Equal(t, []Role{RoleQuestion, RoleAnswer}, roles(h.ctrl.Transcript()))

	select {
	case <-h.det.armed:
		t.Fatal("detector re-armed after end")
	default:
	}
}

func TestContinueActionAsksNextQuestion(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"first", "second"}
	h.svc.replies = []reply{
		{r: &remote.Reply{Action: remote.ActionContinue, Text: "Why Go?"}},
		{r: &remote.Reply{Action: remote.ActionEnd, Text: "Bye"}},
	}
	h.start(t)

	h.fire(t)
	h.fire(t)
	require.NoError(t, h.wait(t))

	assert.Equal(t, []string{"Tell me about yourself.", "Why Go?", "Bye"}, h.spk.said())
	assert.Equal(t, []Role{RoleQuestion, RoleAnswer, RoleQuestion, RoleAnswer}, roles(h.ctrl.Transcript()))
	starts, _ := h.rec.counts()
	assert.Equal(t, 2, starts)
}

func TestSubmitRejectedRestartsCapture(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"my answer", "my second try"}
	h.svc.replies = []reply{
		{err: errors.New("502 bad gateway")},
		{r: &remote.Reply{Action: remote.ActionEnd, Text: "Thanks"}},
	}
	h.start(t)

	h.fire(t)
	ch, err := h.det.waitArmed()
	require.NoError(t, err)

	starts, active := h.rec.counts()
	assert.Equal(t, 2, starts)
	assert.True(t, active)
	lstarts, lactive := h.lis.counts()
	assert.Equal(t, 2, lstarts)
	assert.True(t, lactive)

	entries := h.ctrl.Transcript()
	assert.Equal(t, []Role{RoleQuestion, RoleAnswer}, roles(entries))
	assert.Equal(t, "my answer", entries[1].Text)
	assert.Contains(t, h.sink.noticeKinds(), SubmissionFailed)

	ch <- silence.Event{Reason: silence.ReasonSilence}
	require.NoError(t, h.wait(t))

	entries = h.ctrl.Transcript()
	assert.Equal(t, []Role{RoleQuestion, RoleAnswer, RoleAnswer}, roles(entries))
	assert.Equal(t, "my second try", entries[2].Text)
}

func TestNoSpeechRestartsWithoutSubmitting(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"   "}
	h.start(t)

	h.fire(t)
	_, err := h.det.waitArmed()
	require.NoError(t, err)

	answers, _ := h.svc.snapshot()
	assert.Empty(t, answers)
	assert.Equal(t, []Kind{NoSpeechDetected}, h.sink.noticeKinds())
	assert.Equal(t, 1, h.ctrl.transcript.Len())
	starts, _ := h.rec.counts()
	assert.Equal(t, 2, starts)
	assert.Eventually(t, func() bool {
		h.cues.mu.Lock()
		defer h.cues.mu.Unlock()
		return h.cues.noSpeech == 1 && h.cues.listening == 2
	}, time.Second, time.Millisecond)
}

func TestDeviceUnavailableRetries(t *testing.T) {
	h := newHarness(t)
	h.rec.startErrs = []error{errors.New("permission denied")}
	h.start(t)

	_, err := h.det.waitArmed()
	require.NoError(t, err)
	assert.Equal(t, []Kind{DeviceUnavailable}, h.sink.noticeKinds())
	starts, active := h.rec.counts()
	assert.Equal(t, 1, starts)
	assert.True(t, active)
}

func TestEndWhileDeviceUnavailable(t *testing.T) {
	h := newHarness(t)
	for range 1000 {
		h.rec.startErrs = append(h.rec.startErrs, errors.New("no input device"))
	}
	h.start(t)

	require.Eventually(t, func() bool {
		return len(h.sink.noticeKinds()) > 0
	}, time.Second, time.Millisecond)
	require.Eventually(t, h.ctrl.End, time.Second, time.Millisecond)
	require.NoError(t, h.wait(t))

	select {
	case summary := <-h.sink.finished:
		assert.Equal(t, 4.0, summary.Overall())
	default:
		t.Fatal("Finished not delivered")
	}
	_, endCalls := h.svc.snapshot()
	assert.Equal(t, 1, endCalls)
	assert.Equal(t, Ended, h.ctrl.State())
	starts, _ := h.rec.counts()
	assert.Zero(t, starts)
	for _, k := range h.sink.noticeKinds() {
		assert.Equal(t, DeviceUnavailable, k)
	}
}

func TestEndRacingSilenceIsKept(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"an answer"}
	h.det.preload = &silence.Event{Reason: silence.ReasonSilence, HasSpoken: true}
	// An End accepted while listening, landing together with the silence event.
	h.rec.onStart = func() {
		select {
		case h.ctrl.endReq <- struct{}{}:
		default:
		}
	}
	h.start(t)
	require.NoError(t, h.wait(t))

	_, endCalls := h.svc.snapshot()
	assert.Equal(t, 1, endCalls)
	assert.Equal(t, Ended, h.ctrl.State())
	assert.Len(t, h.det.armed, 1, "no second turn after End")
}

func TestAnswerPayloadGoesToListener(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"done"}
	h.svc.replies = []reply{{r: &remote.Reply{Action: remote.ActionEnd, Text: "Thanks"}}}
	h.start(t)

	h.fire(t)
	require.NoError(t, h.wait(t))

	h.lis.mu.Lock()
	defer h.lis.mu.Unlock()
	require.Len(t, h.lis.payloads, 1)
	assert.Equal(t, []byte("fLaC"), h.lis.payloads[0])
}

func TestSleepReportsPendingEnd(t *testing.T) {
	c := New("s1", "q", Deps{}, Config{})
	ended, err := c.sleep(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ended)

	assert.True(t, c.End())
	ended, err = c.sleep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, ended)
}

func TestSynthesisFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.spk.err = errors.New("tts down")
	h.start(t)

	_, err := h.det.waitArmed()
	require.NoError(t, err)
	assert.Equal(t, []Kind{SynthesisFailed}, h.sink.noticeKinds())
	assert.Eventually(t, func() bool { return h.ctrl.State() == Listening }, time.Second, time.Millisecond)
}

func TestFinalizeFailureWaitsForRetry(t *testing.T) {
	h := newHarness(t)
	h.lis.texts = []string{"done"}
	h.svc.replies = []reply{{r: &remote.Reply{Action: remote.ActionEnd, Text: "Thanks"}}}
	h.svc.endErrs = []error{errors.New("timeout")}
	h.start(t)

	h.fire(t)
	require.Eventually(t, func() bool {
		return len(h.sink.noticeKinds()) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, []Kind{SessionFinalizeFailed}, h.sink.noticeKinds())

	h.sink.mu.Lock()
	assert.True(t, h.sink.notices[0].Persistent)
	h.sink.mu.Unlock()

	select {
	case err := <-h.done:
		t.Fatalf("Run returned after failed finalize: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	_, active := h.rec.counts()
	assert.False(t, active, "capture stopped even though finalize failed")

	require.Eventually(t, h.ctrl.End, time.Second, time.Millisecond)
	require.NoError(t, h.wait(t))

	_, endCalls := h.svc.snapshot()
	assert.Equal(t, 2, endCalls)
	assert.Equal(t, Ended, h.ctrl.State())
}

func TestUserEndWhileListening(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.det.waitArmed()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ctrl.State() == Listening }, time.Second, time.Millisecond)

	assert.True(t, h.ctrl.End())
	require.NoError(t, h.wait(t))

	answers, endCalls := h.svc.snapshot()
	assert.Empty(t, answers)
	assert.Equal(t, 1, endCalls)
	_, active := h.rec.counts()
	assert.False(t, active)
}

func TestEndAcceptedByState(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{Idle, true},
		{Listening, true},
		{Processing, false},
		{Speaking, false},
		{Ended, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			c := New("s1", "q", Deps{}, Config{})
			c.setState(tt.state)
			assert.Equal(t, tt.want, c.End())
		})
	}
}

func TestCancelStopsEverything(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.det.waitArmed()
	require.NoError(t, err)
	h.abort()

	assert.ErrorIs(t, h.wait(t), context.Canceled)
	_, active := h.rec.counts()
	assert.False(t, active)
	_, lactive := h.lis.counts()
	assert.False(t, lactive)
}

func TestErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: SubmissionFailed, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "submission_failed: boom", err.Error())
	assert.True(t, newNotice(SessionFinalizeFailed, err).Persistent)
	assert.False(t, newNotice(NoSpeechDetected, nil).Persistent)
}
