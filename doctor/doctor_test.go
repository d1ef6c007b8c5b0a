package doctor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"viva/audio"
)

func TestRunChecksReportsInOrder(t *testing.T) {
	var out bytes.Buffer
	checks := []check{
		{"first", func(context.Context) (string, error) { return "ok one", nil }},
		{"second", func(context.Context) (string, error) { return "", errors.New("broken") }},
		{"third", func(context.Context) (string, error) { return "ok three", nil }},
	}
	if runChecks(context.Background(), checks, &out) {
		t.Fatal("expected failure")
	}
	got := out.String()
	for _, want := range []string{"[1/3] first", "PASS: ok one", "[2/3] second", "FAIL: broken", "[3/3] third"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "first") > strings.Index(got, "third") {
		t.Error("results out of order")
	}
}

func TestCheckCaptureWithFake(t *testing.T) {
	pcm := make([]byte, 24000*2)
	actx := audio.NewFakeContextPCM(pcm, false)
	msg, err := checkCapture(context.Background(), actx, nil)
	if err != nil {
		t.Fatalf("checkCapture: %v", err)
	}
	if !strings.Contains(msg, "1 device") {
		t.Errorf("msg = %q", msg)
	}
}

func TestCheckCaptureDeviceError(t *testing.T) {
	actx := audio.NewFakeContextPCM(nil, false)
	actx.CaptureErr = errors.New("permission denied")
	if _, err := checkCapture(context.Background(), actx, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckPlayback(t *testing.T) {
	actx := audio.NewFakeContextPCM(nil, false)
	if _, err := checkPlayback(context.Background(), actx); err != nil {
		t.Fatalf("checkPlayback: %v", err)
	}
	actx.PlaybackErr = errors.New("no sink")
	if _, err := checkPlayback(context.Background(), actx); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	msg, err := checkService(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("checkService: %v", err)
	}
	if !strings.Contains(msg, "404") {
		t.Errorf("msg = %q", msg)
	}
	if _, err := checkService(context.Background(), ""); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := checkService(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Error("expected error for closed port")
	}
}

func TestCheckSTT(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("DEEPGRAM_API_KEY", "")
	if _, err := checkSTT(""); err == nil {
		t.Fatal("expected error without keys")
	}
	t.Setenv("GROQ_API_KEY", "k")
	msg, err := checkSTT("")
	if err != nil || !strings.Contains(msg, "groq") {
		t.Fatalf("checkSTT = %q, %v", msg, err)
	}
}
