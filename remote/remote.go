// Package remote is the client for the interview service: session start,
// answer submission, finalize and speech synthesis.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"viva/log"
	"viva/metrics"
	"viva/nettrace"
)

var ErrStatus = errors.New("interview service returned an error status")

// StatusError is a non-2xx response. It matches ErrStatus with errors.Is.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Detail)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

const (
	pathStart  = "/api/interview/start"
	pathAnswer = "/api/interview/answer"
	pathEnd    = "/api/interview/end"
	pathTTS    = "/api/tts"

	defaultTimeout = 60 * time.Second
)

type Client struct {
	base    string
	http    *nettrace.Client
	metrics *metrics.Metrics
}

// New returns a client for the service at baseURL. m may be nil.
func New(baseURL string, m *metrics.Metrics) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		base:    base,
		http:    nettrace.New(base+"/", defaultTimeout),
		metrics: m,
	}
}

// Warm pre-opens a connection to the service.
func (c *Client) Warm() time.Duration { return c.http.Warm() }

func (c *Client) StartInterview(ctx context.Context, setup Setup) (*Start, error) {
	var out Start
	if err := c.postJSON(ctx, "start", pathStart, setup, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("start: response has no session id")
	}
	return &out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, sessionID, answer string) (*Reply, error) {
	req := struct {
		SessionID string `json:"session_id"`
		Answer    string `json:"answer"`
	}{sessionID, answer}

	var out Reply
	if err := c.postJSON(ctx, "answer", pathAnswer, req, &out); err != nil {
		return nil, err
	}
	if out.Action == "" {
		out.Action = ActionContinue
	}
	return &out, nil
}

func (c *Client) EndInterview(ctx context.Context, sessionID string) (*Summary, error) {
	req := struct {
		SessionID string `json:"session_id"`
	}{sessionID}

	var out Summary
	if err := c.postJSON(ctx, "end", pathEnd, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SynthesizeSpeech(ctx context.Context, sr SpeechRequest) (*Audio, error) {
	resp, err := c.post(ctx, "tts", pathTTS, sr)
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("tts: empty audio payload")
	}
	return &Audio{Data: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	resp, err := c.post(ctx, op, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, in any) (*nettrace.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	rm := log.RemoteMetrics{Op: op, RequestID: requestID, TotalMs: float64(elapsed.Milliseconds())}
	if err != nil {
		log.RemoteCall(rm, err)
		c.metrics.RecordRemote(op, "error", elapsed)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rm.Status = resp.StatusCode
	rm.BytesIn = len(resp.Body)
	if m := resp.Metrics; m != nil {
		rm.DNSTimeMs = float64(m.DNS.Milliseconds())
		rm.TLSTimeMs = float64(m.TLS.Milliseconds())
		rm.TTFBMs = float64(m.TTFB.Milliseconds())
		rm.ConnReused = m.ConnReused
	}
	c.metrics.RecordRemote(op, strconv.Itoa(resp.StatusCode), elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Op: op, Code: resp.StatusCode, Detail: errorDetail(resp.Body)}
		log.RemoteCall(rm, serr)
		return nil, serr
	}
	log.RemoteCall(rm, nil)
	return resp, nil
}

// errorDetail pulls "detail" out of a JSON error body, falling back to the
// trimmed raw body.
func errorDetail(body []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(e.Detail)
		return string(b)
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
