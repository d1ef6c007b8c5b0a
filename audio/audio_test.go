package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestAmplifyClamps(t *testing.T) {
	dst := make([]byte, 6)
	amplify(dst, []int16{100, 10000, -10000}, softwareGain)
	got := BytesToSamples(dst)
	want := []int16{800, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Built-in Microphone", false},
		{"Jabra Evolve 65", true},
		{"USB Audio BT adapter", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBluetooth(tt.name); got != tt.want {
				t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestFakeCaptureFeedsAllPCM(t *testing.T) {
	pcm := pcmOf(make([]int16, 3000)...)
	ctx := NewFakeContextPCM(pcm, false)
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 24000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	total := 0
	dev.SetCallback(func(data []byte, frames uint32) {
		mu.Lock()
		total += int(frames)
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	<-dev.(*FakeCapture).AudioDone()
	dev.Stop()
	dev.Stop()

	if total != 3000 {
		t.Errorf("fed %d frames, want 3000", total)
	}
	if ctx.Captures() != 1 {
		t.Errorf("captures = %d, want 1", ctx.Captures())
	}
}

func TestFakeCaptureError(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	ctx.CaptureErr = errors.New("permission denied")
	if _, err := ctx.NewCapture(nil, CaptureConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFakePlaybackTapAndCancel(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	dev, err := ctx.NewPlayback(PlaybackConfig{SampleRate: 24000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	samples := make([]int16, 5000)
	tapped := 0
	if err := dev.Play(context.Background(), samples, func(buf []int16) { tapped += len(buf) }); err != nil {
		t.Fatal(err)
	}
	if tapped != len(samples) {
		t.Errorf("tapped %d samples, want %d", tapped, len(samples))
	}
	if n := len(ctx.Played()); n != 1 {
		t.Errorf("played %d buffers, want 1", n)
	}

	ctx.RealtimePlayback = true
	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = dev.Play(cctx, make([]int16, 24000*5), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled playback took %v", elapsed)
	}
}

func TestFindDevice(t *testing.T) {
	actx := NewFakeContextPCM(nil, false)
	d, err := FindDevice(actx, "FAK")
	if err != nil || d.Name != "fake" {
		t.Fatalf("FindDevice = %v, %v", d, err)
	}
	if _, err := FindDevice(actx, "usb mic"); err == nil {
		t.Error("expected no match")
	}
}

func TestPickDevice(t *testing.T) {
	devices := []DeviceInfo{{ID: "a", Name: "Built-in"}, {ID: "b", Name: "USB"}, {ID: "c", Name: "AirPods"}}
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"enter", "\r", 0, false},
		{"down arrow", "\x1b[B\r", 1, false},
		{"vim keys", "jjk\r", 1, false},
		{"clamped", "\x1b[B\x1b[B\x1b[B\x1b[B\r", 2, false},
		{"up at top", "\x1b[A\r", 0, false},
		{"ctrl-c", "\x03", 0, true},
		{"eof", "j", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := pickDevice(devices, strings.NewReader(tt.input), &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("picked %d, want %d", got, tt.want)
			}
		})
	}
}
