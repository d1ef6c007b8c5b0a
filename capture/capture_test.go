package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"viva/audio"
	"viva/encoder"
)

func noisePCM(n int, amplitude float64) []byte {
	r := rand.New(rand.NewPCG(7, 7))
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16((r.Float64() - 0.5) * 2 * amplitude * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkInterval = 10 * time.Millisecond
	return cfg
}

func TestStartStopReturnsPayload(t *testing.T) {
	const n = encoder.SampleRate*2 + 500
	actx := audio.NewFakeContextPCM(noisePCM(n, 0.3), false)
	s := New(actx, testConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Recording() {
		t.Fatal("expected recording after Start")
	}
	payload := s.Stop()
	if payload == nil {
		t.Fatal("expected payload")
	}
	if s.Recording() {
		t.Fatal("still recording after Stop")
	}

	pcm, err := encoder.DecodeFlac(payload)
	if err != nil {
		t.Fatalf("DecodeFlac: %v", err)
	}
	if len(pcm.Samples) != n {
		t.Errorf("payload has %d samples, want %d", len(pcm.Samples), n)
	}
	if pcm.SampleRate != encoder.SampleRate {
		t.Errorf("payload rate = %d, want %d", pcm.SampleRate, encoder.SampleRate)
	}
}

func TestStopWhenNotRecording(t *testing.T) {
	s := New(audio.NewFakeContextPCM(nil, false), testConfig())
	if got := s.Stop(); got != nil {
		t.Errorf("Stop before Start = %d bytes, want nil", len(got))
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if got := s.Stop(); got != nil {
		t.Errorf("second Stop = %d bytes, want nil", len(got))
	}
}

func TestStopWithNoAudio(t *testing.T) {
	s := New(audio.NewFakeContextPCM(nil, false), testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Stop(); got != nil {
		t.Errorf("expected nil payload for empty capture, got %d bytes", len(got))
	}
}

func TestStartDeviceUnavailable(t *testing.T) {
	actx := audio.NewFakeContextPCM(nil, false)
	actx.CaptureErr = errors.New("permission denied")
	s := New(actx, testConfig())

	err := s.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.Recording() {
		t.Error("recording after failed Start")
	}
	if got := s.Stop(); got != nil {
		t.Error("Stop after failed Start returned a payload")
	}
}

func TestStartCancelledContext(t *testing.T) {
	s := New(audio.NewFakeContextPCM(nil, false), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	actx := audio.NewFakeContextPCM(noisePCM(1000, 0.1), false)
	s := New(actx, testConfig())
	for range 3 {
		if err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := actx.Captures(); got != 1 {
		t.Errorf("opened %d devices, want 1", got)
	}
	s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if got := actx.Captures(); got != 2 {
		t.Errorf("opened %d devices after restart, want 2", got)
	}
}

func TestSinkReceivesPCM(t *testing.T) {
	pcm := noisePCM(4096, 0.2)
	s := New(audio.NewFakeContextPCM(pcm, false), testConfig())

	var mu sync.Mutex
	got := 0
	s.SetSink(func(data []byte) {
		mu.Lock()
		got += len(data)
		mu.Unlock()
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if got != len(pcm) {
		t.Errorf("sink saw %d bytes, want %d", got, len(pcm))
	}
}

func TestLevelFollowsRecording(t *testing.T) {
	actx := audio.NewFakeContextPCM(noisePCM(encoder.SampleRate*5, 0.5), true)
	s := New(actx, testConfig())

	if got := s.Level(); got != 0 {
		t.Fatalf("level before Start = %v, want 0", got)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Level() == 0 {
		if time.Now().After(deadline) {
			s.Stop()
			t.Fatal("level never rose while recording loud input")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	if got := s.Level(); got != 0 {
		t.Errorf("level after Stop = %v, want 0", got)
	}
}
