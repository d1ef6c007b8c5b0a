package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"viva/audio"
	"viva/beep"
	"viva/capture"
	"viva/clipboard"
	"viva/config"
	"viva/doctor"
	"viva/interview"
	"viva/log"
	"viva/metrics"
	"viva/playback"
	"viva/remote"
	"viva/shutdown"
	"viva/silence"
	"viva/transcriber"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func headerLineText(cfg *config.Config, tr transcriber.Transcriber, stream bool) string {
	providerLabel := tr.Name()
	if lang := tr.GetLanguage(); lang != "" {
		providerLabel += " (" + lang + ")"
	}
	if stream {
		providerLabel += " (stream)"
	}
	return fmt.Sprintf("[%s | %s | %s]", cfg.Role, cfg.Difficulty, providerLabel)
}

// resolveDevice maps -device and -setup to a capture device. nil means the
// system default.
func resolveDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	if name != "" {
		return audio.FindDevice(actx, name)
	}
	if !setup {
		return nil, nil
	}
	dev, err := audio.SelectDevice(actx)
	if errors.Is(err, audio.ErrSelectionCancelled) {
		return nil, nil
	}
	return dev, err
}

func setupCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func run() int {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg := config.Default()
	cfg.ApplyEnv()

	flag.StringVar(&cfg.Role, "role", cfg.Role, "Role to interview for (e.g., \"Backend Engineer\")")
	flag.StringVar(&cfg.Branch, "branch", cfg.Branch, "Field or branch of study")
	flag.StringVar(&cfg.Specialization, "specialization", cfg.Specialization, "Specialization within the role")
	flag.StringVar(&cfg.Difficulty, "difficulty", cfg.Difficulty, "Interview difficulty: easy, medium or hard")
	flag.StringVar(&cfg.ServiceURL, "service", cfg.ServiceURL, "Interview service base URL")
	flag.StringVar(&cfg.STT, "stt", cfg.STT, "Speech-to-text provider: groq or deepgram (default: whichever key is set)")
	flag.StringVar(&cfg.Language, "lang", cfg.Language, "Language code for transcription (e.g., en, es, fr). Empty = auto-detect")
	flag.BoolVar(&cfg.Stream, "stream", cfg.Stream, "Stream audio to the transcriber while listening")
	flag.StringVar(&cfg.Device, "device", cfg.Device, "Use named microphone device")
	flag.StringVar(&cfg.Voice, "voice", cfg.Voice, "Interviewer voice id")
	flag.Float64Var(&cfg.SpeechRate, "rate", cfg.SpeechRate, "Interviewer speech rate")
	flag.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Speech level threshold (0-1)")
	flag.DurationVar(&cfg.SilenceDuration, "silence", cfg.SilenceDuration, "Trailing silence that ends an answer")
	flag.DurationVar(&cfg.MaxDuration, "maxanswer", cfg.MaxDuration, "Longest answer before capture stops")
	flag.StringVar(&cfg.LogPath, "logpath", cfg.LogPath, "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g., localhost:9090)")
	flag.StringVar(&cfg.ReportPath, "report", cfg.ReportPath, "Write the final report to this file (.json, .yaml)")
	flag.BoolVar(&cfg.CopyReport, "copy", cfg.CopyReport, "Copy the final report to the clipboard")
	noBeepFlag := flag.Bool("nobeep", false, "Disable audio cues")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *noBeepFlag {
		cfg.Beep = false
	}

	if *versionFlag {
		fmt.Printf("viva %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	} else {
		setupCrashLog()
	}

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	dev, err := resolveDevice(actx, cfg.Device, *setupFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\nFalling back to default device\n", err)
		dev = nil
	}

	if *doctorFlag {
		return doctor.Run(doctor.Options{
			ServiceURL: cfg.ServiceURL,
			STT:        cfg.STT,
			Device:     dev,
			Audio:      actx,
		})
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 2
	}

	tr, err := transcriber.New(cfg.STT)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Language != "" {
		tr.SetLanguage(cfg.Language)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	m := metrics.New("viva")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warnf("metrics server: %v", err)
			}
		}()
	}

	client := remote.New(cfg.ServiceURL, m)
	go func() {
		if d := client.Warm(); d > 0 {
			log.Debugf("service connection warmed in %v", d)
		}
	}()

	fmt.Printf("Starting %s interview for %s...\n", cfg.Difficulty, cfg.Role)
	start, err := client.StartInterview(ctx, cfg.InterviewSetup())
	if err != nil {
		log.Errorf("start interview: %v", err)
		fmt.Fprintf(os.Stderr, "Error: could not start the interview: %v\n", err)
		return 1
	}

	sessCfg := cfg.SessionConfig(tr.Name())
	log.SessionStart(start.SessionID, cfg.Role, cfg.Difficulty, tr.Name())

	sink := newTUISink()

	listener := transcriber.NewListener(tr, sessCfg)
	listener.OnUpdate(sink.LiveText)

	capCfg := cfg.CaptureConfig()
	capCfg.Device = dev
	rec := capture.New(actx, capCfg)
	rec.SetSink(listener.Feed)

	cues := beep.New(actx)
	if !cfg.Beep {
		cues.Disable()
	}

	ctrl := interview.New(start.SessionID, start.FirstQuestion, interview.Deps{
		Recorder: rec,
		Listener: listener,
		Speaker:  playback.New(actx, client, cfg.PlaybackConfig(), m),
		Service:  client,
		Detector: silence.New(cfg.SilenceConfig()),
		Sink:     sink,
		Cues:     cues,
		Metrics:  m,
	}, cfg.InterviewConfig())

	p := NewTUIProgram(newTUIModel(ctrl, headerLineText(&cfg, tr, sessCfg.Stream), deviceLineText(dev)))
	sink.Attach(p)

	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(ctx)
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	cancel()
	err = <-runErr
	sink.Close()
	cues.Ended()
	cues.Wait()

	summary, entries, finished := sink.Result()
	if !finished {
		entries = ctrl.Transcript()
	}
	answers := 0
	for _, e := range entries {
		if e.Role == interview.RoleAnswer {
			answers++
		}
	}
	if !finished {
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		log.SessionEnd(start.SessionID, answers, err)
	}

	return finishReport(&cfg, Report{
		SessionID:  start.SessionID,
		Setup:      cfg.InterviewSetup(),
		Summary:    summary,
		Transcript: entries,
		FinishedAt: time.Now(),
	}, finished)
}

// finishReport prints the feedback and saves or copies it as configured.
func finishReport(cfg *config.Config, r Report, finished bool) int {
	if !finished {
		fmt.Println("Interview ended before feedback was generated.")
	}
	text := reportText(r)
	if finished {
		fmt.Print(text)
	}
	code := 0
	if cfg.ReportPath != "" && len(r.Transcript) > 0 {
		if err := writeReport(cfg.ReportPath, r); err != nil {
			log.Errorf("report: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			code = 1
		} else {
			fmt.Printf("Report saved to %s\n", cfg.ReportPath)
		}
	}
	if cfg.CopyReport && finished {
		if err := clipboard.Copy(text); err != nil {
			log.Warnf("clipboard: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: could not copy report: %v\n", err)
		} else {
			fmt.Println("Report copied to clipboard.")
		}
	}
	return code
}
