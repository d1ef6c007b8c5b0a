package interview

import "fmt"

// Kind classifies a turn-level failure.
type Kind int

const (
	DeviceUnavailable Kind = iota + 1
	NoSpeechDetected
	SubmissionFailed
	SynthesisFailed
	SessionFinalizeFailed
)

func (k Kind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device_unavailable"
	case NoSpeechDetected:
		return "no_speech"
	case SubmissionFailed:
		return "submission_failed"
	case SynthesisFailed:
		return "synthesis_failed"
	case SessionFinalizeFailed:
		return "finalize_failed"
	}
	return "unknown"
}

// Error is a classified turn failure. It unwraps to its cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Notice is a user-visible message about a failure. Persistent notices stay
// on screen until the condition is resolved.
type Notice struct {
	Kind       Kind
	Title      string
	Message    string
	Persistent bool
	Err        error
}

func newNotice(kind Kind, err error) Notice {
	n := Notice{Kind: kind, Err: err}
	switch kind {
	case DeviceUnavailable:
		n.Title = "Microphone unavailable"
		n.Message = "Check microphone access; retrying."
	case NoSpeechDetected:
		n.Title = "No speech detected"
		n.Message = "Please speak your answer clearly."
	case SubmissionFailed:
		n.Title = "Error"
		n.Message = "Failed to submit answer. Please try again."
	case SynthesisFailed:
		n.Title = "Speech unavailable"
		n.Message = "Could not play the interviewer's voice."
	case SessionFinalizeFailed:
		n.Title = "Error"
		n.Message = "Failed to end interview properly. Press e to retry."
		n.Persistent = true
	}
	return n
}
