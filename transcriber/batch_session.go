package transcriber

import (
	"context"
	"strings"
	"sync"
)

type transcribeFunc func(ctx context.Context, audio []byte, format string) (*Result, error)

// batchSession uploads the capture payload on Close. Feed only accounts for
// the PCM so the stats can report audio length without a second encoder.
type batchSession struct {
	ctx        context.Context
	cfg        SessionConfig
	transcribe transcribeFunc
	updates    chan string

	mu  sync.Mutex
	fed uint64
}

func newBatchSession(ctx context.Context, cfg SessionConfig, transcribe transcribeFunc) *batchSession {
	return &batchSession{
		ctx:        ctx,
		cfg:        cfg,
		transcribe: transcribe,
		updates:    make(chan string),
	}
}

func (bs *batchSession) Feed(pcm []byte) {
	bs.mu.Lock()
	bs.fed += uint64(len(pcm))
	bs.mu.Unlock()
}

func (bs *batchSession) Updates() <-chan string {
	return bs.updates
}

// Close uploads payload as FLAC. An empty payload means nothing was
// captured and skips the request.
func (bs *batchSession) Close(payload []byte) (SessionResult, error) {
	close(bs.updates)
	if len(payload) == 0 {
		return SessionResult{NoSpeech: true}, nil
	}

	result, err := bs.transcribe(bs.ctx, payload, "flac")
	if err != nil {
		return SessionResult{}, err
	}

	bs.mu.Lock()
	fed := bs.fed
	bs.mu.Unlock()

	stats := &BatchStats{
		AudioLengthS:     float64(fed) / float64(bs.cfg.rate()*2),
		RawSizeKB:        float64(fed) / 1024,
		CompressedSizeKB: float64(len(payload)) / 1024,
		APIDurationS:     result.Duration,
	}
	if m := result.Metrics; m != nil {
		stats.ConnWaitMs = float64(m.ConnWait.Milliseconds())
		stats.TTFBMs = float64(m.TTFB.Milliseconds())
		stats.TotalTimeMs = float64(m.Sum().Milliseconds())
		stats.ConnReused = m.ConnReused
	}

	text := strings.TrimSpace(result.Text)
	return SessionResult{
		Text:      text,
		NoSpeech:  text == "",
		RateLimit: result.RateLimit,
		Batch:     stats,
	}, nil
}
