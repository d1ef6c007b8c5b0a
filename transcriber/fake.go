package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeTranscriber returns scripted text, one entry per session. The last
// entry repeats once the script runs out.
type FakeTranscriber struct {
	mu       sync.Mutex
	script   []string
	err      error
	lang     string
	sessions int
	fed      int
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{script: []string{text}, err: err}
}

func NewScripted(texts ...string) *FakeTranscriber {
	if len(texts) == 0 {
		texts = []string{""}
	}
	return &FakeTranscriber{script: texts}
}

func (f *FakeTranscriber) Name() string           { return "fake" }
func (f *FakeTranscriber) SetLanguage(lang string) { f.lang = lang }
func (f *FakeTranscriber) GetLanguage() string     { return f.lang }

// Sessions reports how many sessions have been opened.
func (f *FakeTranscriber) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

// Fed reports the total PCM bytes fed across sessions.
func (f *FakeTranscriber) Fed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fed
}

func (f *FakeTranscriber) NewSession(_ context.Context, cfg SessionConfig) (Session, error) {
	f.mu.Lock()
	text := f.script[min(f.sessions, len(f.script)-1)]
	f.sessions++
	f.mu.Unlock()

	s := &fakeSession{
		owner:   f,
		text:    text,
		err:     f.err,
		updates: make(chan string, 1),
		sent:    make(chan struct{}),
	}
	if cfg.Stream && text != "" {
		go func() {
			defer close(s.sent)
			time.Sleep(10 * time.Millisecond)
			s.updates <- text
		}()
	} else {
		close(s.sent)
	}
	return s, nil
}

type fakeSession struct {
	owner   *FakeTranscriber
	text    string
	err     error
	updates chan string
	sent    chan struct{}
}

func (s *fakeSession) Feed(pcm []byte) {
	s.owner.mu.Lock()
	s.owner.fed += len(pcm)
	s.owner.mu.Unlock()
}

func (s *fakeSession) Updates() <-chan string { return s.updates }

func (s *fakeSession) Close([]byte) (SessionResult, error) {
	<-s.sent
	close(s.updates)
	if s.err != nil {
		return SessionResult{}, fmt.Errorf("fake transcriber error: %w", s.err)
	}
	return SessionResult{
		Text:     s.text,
		NoSpeech: s.text == "",
		Batch: &BatchStats{
			AudioLengthS: 1.0,
			TotalTimeMs:  10,
		},
	}, nil
}
