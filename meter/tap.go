package meter

import "sync"

// Tap keeps the last FFTSize samples written to it. Writers are audio
// callbacks; the reader is a Meter.
type Tap struct {
	mu   sync.Mutex
	ring [FFTSize]float64
	pos  int
}

func NewTap() *Tap {
	return &Tap{}
}

func (t *Tap) Write(samples []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(samples) > FFTSize {
		samples = samples[len(samples)-FFTSize:]
	}
	for _, s := range samples {
		t.ring[t.pos] = float64(s) / 32768
		t.pos = (t.pos + 1) % FFTSize
	}
}

func (t *Tap) Window(dst []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(dst, t.ring[t.pos:])
	copy(dst[n:], t.ring[:t.pos])
}
