package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"viva/audio"
	"viva/capture"
	"viva/nettrace"
	"viva/shutdown"
	"viva/transcriber"
)

type Options struct {
	ServiceURL string
	STT        string
	Device     *audio.DeviceInfo
	// Audio is created from the platform backend when nil.
	Audio audio.Context
	Out   io.Writer
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type result struct {
	msg string
	err error
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()

	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	out := opts.Out
	fmt.Fprintln(out, "viva doctor - system diagnostics")
	fmt.Fprintln(out, "================================")

	if opts.Audio == nil {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Fprintf(out, "\n  FAIL: cannot connect to audio: %v\n", err)
			return 1
		}
		defer actx.Close()
		opts.Audio = actx
	}

	checks := []check{
		{"Capture devices", func(ctx context.Context) (string, error) { return checkCapture(ctx, opts.Audio, opts.Device) }},
		{"Playback", func(ctx context.Context) (string, error) { return checkPlayback(ctx, opts.Audio) }},
		{"Interview service", func(ctx context.Context) (string, error) { return checkService(ctx, opts.ServiceURL) }},
		{"Speech recognition key", func(context.Context) (string, error) { return checkSTT(opts.STT) }},
	}

	sigCtx, stop := shutdown.Context(context.Background())
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, 15*time.Second)
	defer cancel()
	allPass := runChecks(ctx, checks, out)

	fmt.Fprintln(out)
	if sigCtx.Err() != nil {
		fmt.Fprintln(out, "Interrupted")
		return 1
	}
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

// runChecks runs every check concurrently and prints the results in order.
func runChecks(ctx context.Context, checks []check, out io.Writer) bool {
	results := make([]result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			msg, err := c.run(gctx)
			results[i] = result{msg: msg, err: err}
			return nil
		})
	}
	g.Wait()

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if r := results[i]; r.err != nil {
			fmt.Fprintf(out, "  FAIL: %v\n", r.err)
			allPass = false
		} else {
			fmt.Fprintf(out, "  PASS: %s\n", r.msg)
		}
	}
	return allPass
}

func checkCapture(ctx context.Context, actx audio.Context, device *audio.DeviceInfo) (string, error) {
	devices, err := actx.Devices()
	if err != nil {
		return "", fmt.Errorf("cannot list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no capture devices found")
	}

	cfg := capture.DefaultConfig()
	cfg.Device = device
	sess := capture.New(actx, cfg)
	if err := sess.Start(ctx); err != nil {
		return "", err
	}
	var peak float64
	deadline := time.After(time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-tick.C:
			peak = max(peak, sess.Level())
		}
	}
	payload := sess.Stop()
	return fmt.Sprintf("%d device(s), recorded %.1f KB, peak level %.2f", len(devices), float64(len(payload))/1024, peak), nil
}

func checkPlayback(ctx context.Context, actx audio.Context) (string, error) {
	const rate = 24000
	dev, err := actx.NewPlayback(audio.PlaybackConfig{SampleRate: rate, Channels: 1})
	if err != nil {
		return "", fmt.Errorf("cannot open playback: %w", err)
	}
	defer dev.Close()
	silence := make([]int16, rate/10)
	if err := dev.Play(ctx, silence, nil); err != nil {
		return "", fmt.Errorf("playback failed: %w", err)
	}
	return "output device accepted audio", nil
}

func checkService(ctx context.Context, baseURL string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("service URL not configured (set VIVA_SERVICE_URL)")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := nettrace.New(baseURL, 5*time.Second).Do(req)
	if err != nil {
		return "", fmt.Errorf("%s unreachable: %w", baseURL, err)
	}
	return fmt.Sprintf("%s answered %d in %dms", baseURL, resp.StatusCode, resp.Metrics.Total.Milliseconds()), nil
}

func checkSTT(provider string) (string, error) {
	tr, err := transcriber.New(provider)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("using %s", tr.Name()), nil
}
