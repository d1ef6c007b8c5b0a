package transcriber

import "viva/encoder"

type SessionConfig struct {
	Stream     bool
	Language   string
	SampleRate uint32 // PCM rate fed to the session; defaults to encoder.SampleRate
}

func (c SessionConfig) rate() uint32 {
	if c.SampleRate == 0 {
		return encoder.SampleRate
	}
	return c.SampleRate
}

type BatchStats struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	ConnWaitMs       float64
	TTFBMs           float64
	TotalTimeMs      float64
	ConnReused       bool
	APIDurationS     float64
}

type StreamStats struct {
	ConnectMs    float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	CommitEvents int
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
}

type SessionResult struct {
	Text      string
	NoSpeech  bool
	RateLimit string       // "remaining/limit" or empty
	Batch     *BatchStats  // non-nil for batch sessions
	Stream    *StreamStats // non-nil for stream sessions
}

// logFields flattens the session stats for the diagnostics log.
func (r SessionResult) logFields() map[string]any {
	f := map[string]any{}
	if b := r.Batch; b != nil {
		f["audio_s"] = b.AudioLengthS
		f["raw_kb"] = b.RawSizeKB
		f["flac_kb"] = b.CompressedSizeKB
		f["conn_wait_ms"] = b.ConnWaitMs
		f["ttfb_ms"] = b.TTFBMs
		f["total_ms"] = b.TotalTimeMs
		f["conn_reused"] = b.ConnReused
		if b.APIDurationS > 0 {
			f["api_dur_s"] = b.APIDurationS
		}
	}
	if s := r.Stream; s != nil {
		f["audio_s"] = s.AudioS
		f["connect_ms"] = s.ConnectMs
		f["sent_chunks"] = s.SentChunks
		f["sent_kb"] = s.SentKB
		f["recv_final"] = s.RecvFinal
		f["recv_interim"] = s.RecvInterim
		f["commits"] = s.CommitEvents
		f["finalize_ms"] = s.FinalizeMs
		f["total_ms"] = s.TotalMs
	}
	return f
}

// Session transcribes one utterance. Feed may be called from an audio
// callback. Close finishes the session and returns the final text; payload
// is the encoded utterance from capture, which streaming sessions ignore.
type Session interface {
	Feed(pcm []byte)
	Updates() <-chan string
	Close(payload []byte) (SessionResult, error)
}
