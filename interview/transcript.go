package interview

import (
	"sync"
	"time"
)

type Role string

const (
	RoleQuestion Role = "question"
	RoleAnswer   Role = "answer"
)

type Entry struct {
	Role Role      `json:"type"`
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
}

// Transcript is an append-only record of the interview. Readers get copies.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

func (t *Transcript) add(e Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
