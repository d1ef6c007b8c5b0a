package transcriber

import (
	"context"
	"strings"
	"sync"
	"time"

	"viva/log"
)

// Listener runs one transcription session per turn on top of a Transcriber.
// Start opens a session and Feed forwards microphone PCM. Stop hands the
// capture payload to the session and returns its final text.
type Listener struct {
	tr  Transcriber
	cfg SessionConfig

	onUpdate func(text string)

	mu      sync.RWMutex
	sess    Session
	drained chan struct{}
	started time.Time
}

func NewListener(tr Transcriber, cfg SessionConfig) *Listener {
	return &Listener{tr: tr, cfg: cfg}
}

// OnUpdate registers a callback for interim text. It must be set before Start.
func (l *Listener) OnUpdate(fn func(text string)) {
	l.onUpdate = fn
}

// Start is a no-op while a session is open.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess != nil {
		return nil
	}
	sess, err := l.tr.NewSession(ctx, l.cfg)
	if err != nil {
		return err
	}
	l.sess = sess
	l.started = time.Now()
	l.drained = make(chan struct{})

	go func(updates <-chan string, done chan struct{}) {
		defer close(done)
		for text := range updates {
			if l.onUpdate != nil {
				l.onUpdate(text)
			}
		}
	}(sess.Updates(), l.drained)
	return nil
}

func (l *Listener) Feed(pcm []byte) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.sess != nil {
		l.sess.Feed(pcm)
	}
}

// Stop closes the open session with the captured payload, which may be nil.
// It returns "" and no error when not listening.
func (l *Listener) Stop(payload []byte) (string, error) {
	l.mu.Lock()
	sess, drained, started := l.sess, l.drained, l.started
	l.sess = nil
	l.mu.Unlock()
	if sess == nil {
		return "", nil
	}

	res, err := sess.Close(payload)
	<-drained
	if err != nil {
		log.Warnf("transcription failed (%s): %v", l.tr.Name(), err)
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	log.Transcription(l.tr.Name(), time.Since(started), len(text), res.RateLimit, res.logFields())
	return text, nil
}
