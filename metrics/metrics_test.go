package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	m := New("")
	m.RecordTurn("answered")
	m.RecordTurn("answered")
	m.RecordTurn("no_speech")

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("answered")); got != 2 {
		t.Errorf("answered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("no_speech")); got != 1 {
		t.Errorf("no_speech = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTurn("answered")
	m.RecordSilence("silence")
	m.RecordRemote("answer", "200", time.Second)
	m.RecordSpeech(time.Second)
	m.RecordCapture(10)
	m.RecordFinalize(true)
}

func TestHandlerExposesSeries(t *testing.T) {
	m := New("viva")
	m.RecordSilence("max_duration")
	m.RecordRemote("start", "200", 150*time.Millisecond)
	m.RecordFinalize(false)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`viva_silence_events_total{reason="max_duration"} 1`,
		`viva_remote_requests_total{op="start",status="200"} 1`,
		`viva_sessions_finalized_total{result="failed"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q", want)
		}
	}
}
