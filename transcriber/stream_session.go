package transcriber

import (
	"strings"
	"sync"
	"time"

	"viva/log"
)

const (
	streamChunkMs      = 200
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
	streamDrainMax     = 2 * time.Second
)

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

func (u streamUpdate) final() bool {
	return u.IsFinal || u.SpeechFinal || u.FromFinalize
}

// streamSession forwards PCM to a live socket in fixed chunks and publishes
// committed text plus the current interim hypothesis as it arrives. The
// socket is dialled in the background so Feed never waits on the network.
type streamSession struct {
	ws         rawStreamSession
	sampleRate uint32
	chunkBytes int
	startedAt  time.Time

	audioCh   chan []byte
	updates   chan string
	connected chan struct{}
	sendDone  chan struct{}
	recvDone  chan struct{}
	finalized chan struct{}
	finalOnce sync.Once

	pendMu  sync.Mutex
	pending []byte

	mu        sync.Mutex
	err       error
	closing   bool
	committed string
	stats     StreamStats
	connectAt time.Duration
}

func newStreamSession(sampleRate uint32, dial func() (rawStreamSession, error)) *streamSession {
	s := &streamSession{
		sampleRate: sampleRate,
		chunkBytes: int(sampleRate) * 2 * streamChunkMs / 1000,
		startedAt:  time.Now(),
		audioCh:    make(chan []byte, 128),
		updates:    make(chan string, 16),
		connected:  make(chan struct{}),
		sendDone:   make(chan struct{}),
		recvDone:   make(chan struct{}),
		finalized:  make(chan struct{}),
	}
	go s.connect(dial)
	return s
}

func (s *streamSession) connect(dial func() (rawStreamSession, error)) {
	defer close(s.connected)
	ws, err := dial()
	s.mu.Lock()
	s.connectAt = time.Since(s.startedAt)
	s.mu.Unlock()
	if err != nil {
		s.fail(err)
		close(s.sendDone)
		close(s.recvDone)
		return
	}
	s.ws = ws
	go s.send()
	go s.receive()
}

func (s *streamSession) Feed(pcm []byte) {
	if s.failed() != nil {
		return
	}
	s.pendMu.Lock()
	s.pending = append(s.pending, pcm...)
	var chunks [][]byte
	for len(s.pending) >= s.chunkBytes {
		chunks = append(chunks, append([]byte(nil), s.pending[:s.chunkBytes]...))
		s.pending = s.pending[s.chunkBytes:]
	}
	s.pendMu.Unlock()

	for _, c := range chunks {
		s.audioCh <- c
	}
}

func (s *streamSession) Updates() <-chan string {
	return s.updates
}

// Close flushes the tail, asks the server to finalize and returns the
// committed text. The payload is unused; the audio has already been sent.
func (s *streamSession) Close([]byte) (SessionResult, error) {
	<-s.connected
	if err := s.failed(); err != nil {
		s.abandon()
		return SessionResult{NoSpeech: true}, err
	}

	s.pendMu.Lock()
	tail := s.pending
	s.pending = nil
	s.pendMu.Unlock()
	if len(tail) > 0 {
		s.audioCh <- tail
	}
	close(s.audioCh)
	finalizeStart := time.Now()
	<-s.sendDone

	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-time.After(streamFinalizeMax):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(streamDrainMax):
		log.Warn("stream receiver drain timeout")
	}

	s.mu.Lock()
	text := strings.TrimSpace(s.committed)
	stats := s.stats
	stats.ConnectMs = float64(s.connectAt.Milliseconds())
	stats.FinalizeMs = float64(time.Since(finalizeStart).Milliseconds())
	stats.TotalMs = float64(time.Since(s.startedAt).Milliseconds())
	stats.AudioS = stats.SentKB * 1024 / float64(s.sampleRate*2)
	err := s.err
	s.mu.Unlock()

	// the last non-blocking publish may have been dropped
	if text != "" {
		s.publish(text)
	}
	close(s.updates)

	return SessionResult{Text: text, NoSpeech: text == "", Stream: &stats}, err
}

// abandon tears down a session whose socket never came up.
func (s *streamSession) abandon() {
	go func() {
		for range s.audioCh {
		}
	}()
	s.pendMu.Lock()
	s.pending = nil
	s.pendMu.Unlock()
	close(s.audioCh)
	<-s.sendDone
	<-s.recvDone
	close(s.updates)
}

func (s *streamSession) send() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.fail(err)
			for range s.audioCh {
			}
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentKB += float64(len(chunk)) / 1024
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.fail(err)
	}
}

func (s *streamSession) receive() {
	defer close(s.recvDone)
	for {
		u, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.fail(err)
			}
			return
		}
		if u.FromFinalize {
			s.finalOnce.Do(func() { close(s.finalized) })
		}
		if text, ok := s.apply(u); ok {
			s.publish(text)
		}
	}
}

// apply folds one server update into the committed text and returns the
// text to show, if any.
func (s *streamSession) apply(u streamUpdate) (string, bool) {
	t := strings.TrimSpace(u.Transcript)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.RecvMessages++
	if !u.final() {
		s.stats.RecvInterim++
		return joinText(s.committed, t), t != ""
	}
	s.stats.RecvFinal++
	if t == "" {
		return "", false
	}
	s.committed = joinText(s.committed, t)
	s.stats.CommitEvents++
	return s.committed, true
}

func (s *streamSession) publish(text string) {
	select {
	case s.updates <- text:
	default:
	}
}

func joinText(committed, next string) string {
	switch {
	case committed == "":
		return next
	case next == "":
		return committed
	}
	return committed + " " + next
}

func (s *streamSession) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records the first error and closes the socket.
func (s *streamSession) fail(err error) {
	s.mu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()
	if first && s.ws != nil {
		s.ws.Close()
	}
}
