package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"viva/interview"
	"viva/log"
	"viva/remote"
)

// TUI message types
type stateMsg struct{ State interview.State }
type entryMsg struct{ Entry interview.Entry }
type noticeMsg struct{ Notice interview.Notice }
type liveTextMsg struct{ Text string }
type finishedMsg struct {
	Summary    *remote.Summary
	Transcript []interview.Entry
}
type tickMsg time.Time

// session is the part of the controller the TUI reads from.
type session interface {
	State() interview.State
	MicLevel() float64
	SpeakerLevel() float64
	End() bool
}

type keyMap struct {
	End  key.Binding
	Quit key.Binding
	Done key.Binding
}

var keys = keyMap{
	End:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "end interview")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	Done: key.NewBinding(key.WithKeys("q", "enter", "esc"), key.WithHelp("q", "close")),
}

type tuiModel struct {
	sess          session
	state         interview.State
	frame         int
	audioLevel    float64
	listenStart   time.Time
	now           time.Time
	width, height int
	headerLine    string // "backend engineer | medium | deepgram"
	deviceLine    string
	entries       []interview.Entry
	live          string
	notice        *interview.Notice
	summary       *remote.Summary
	finished      bool
	vp            viewport.Model
	vpReady       bool
}

// Pre-computed pixel styles to avoid allocations in render loop
var (
	pixelColorsRec  = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"}
	pixelColorsIdle = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"}
	pixelStylesRec  [16]lipgloss.Style
	pixelStylesIdle [16]lipgloss.Style
	pixelBgRec      [16][16]lipgloss.Style
	pixelBgIdle     [16][16]lipgloss.Style
)

var (
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	liveStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	alertStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func init() {
	for i, c := range pixelColorsRec {
		if c != "" {
			pixelStylesRec[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, c := range pixelColorsIdle {
		if c != "" {
			pixelStylesIdle[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, fg := range pixelColorsRec {
		for j, bg := range pixelColorsRec {
			if fg != "" && bg != "" {
				pixelBgRec[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
	for i, fg := range pixelColorsIdle {
		for j, bg := range pixelColorsIdle {
			if fg != "" && bg != "" {
				pixelBgIdle[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
}

func newTUIModel(sess session, headerLine, deviceLine string) tuiModel {
	return tuiModel{
		sess:       sess,
		headerLine: headerLine,
		deviceLine: deviceLine,
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.panelSize()
		if !m.vpReady {
			m.vp = viewport.New(w, h)
			m.vpReady = true
		} else {
			m.vp.Width = w
			m.vp.Height = h
		}
		m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case m.finished && key.Matches(msg, keys.Done):
			return m, tea.Quit
		case key.Matches(msg, keys.End):
			if m.sess != nil && !m.finished {
				m.sess.End()
			}
			return m, nil
		}
		if m.vpReady {
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case tea.MouseMsg:
		if m.vpReady {
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		m.audioLevel = m.audioLevel*0.6 + m.pollLevel()*0.4
		return m, tuiTick()

	case stateMsg:
		if msg.State == interview.Listening && m.state != interview.Listening {
			m.listenStart = time.Now()
			m.live = ""
		}
		m.state = msg.State
		if m.notice != nil && !m.notice.Persistent && msg.State == interview.Speaking {
			m.notice = nil
		}
		if m.notice != nil && m.notice.Persistent && msg.State != interview.Idle {
			m.notice = nil
		}
		m.refresh()

	case entryMsg:
		m.entries = append(m.entries, msg.Entry)
		if msg.Entry.Role == interview.RoleAnswer {
			m.live = ""
		}
		m.refresh()

	case liveTextMsg:
		if m.state == interview.Listening {
			m.live = msg.Text
			m.refresh()
		}

	case noticeMsg:
		n := msg.Notice
		m.notice = &n

	case finishedMsg:
		m.finished = true
		m.summary = msg.Summary
		if len(msg.Transcript) > 0 {
			m.entries = msg.Transcript
		}
		m.notice = nil
		m.refresh()
		if m.vpReady {
			m.vp.GotoTop()
		}
	}
	return m, nil
}

// pollLevel reads the level of whichever side currently has the floor.
func (m tuiModel) pollLevel() float64 {
	if m.sess == nil {
		return 0
	}
	switch m.state {
	case interview.Listening:
		return m.sess.MicLevel()
	case interview.Speaking:
		return m.sess.SpeakerLevel()
	}
	return 0
}

const eyeWidth = 45

func (m tuiModel) panelSize() (int, int) {
	w := m.width - eyeWidth - 2
	if w < 20 {
		w = 20
	}
	h := m.height - 2
	if h < 5 {
		h = 5
	}
	return w, h
}

func (m *tuiModel) refresh() {
	if !m.vpReady {
		return
	}
	wrapWidth := m.vp.Width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}
	atBottom := m.vp.AtBottom()
	if m.finished {
		m.vp.SetContent(strings.Join(summaryLines(m.summary, m.entries, wrapWidth), "\n"))
		return
	}
	m.vp.SetContent(renderTranscript(m.entries, m.live, wrapWidth))
	if atBottom {
		m.vp.GotoBottom()
	}
}

func renderTranscript(entries []interview.Entry, live string, width int) string {
	if len(entries) == 0 && live == "" {
		return dimStyle.Render("Waiting for the first question...")
	}
	var b strings.Builder
	q := 0
	for _, e := range entries {
		var label string
		style := answerStyle
		if e.Role == interview.RoleQuestion {
			q++
			label = fmt.Sprintf("Q%d", q)
			style = questionStyle
		} else {
			label = "You"
		}
		b.WriteString(labelStyle.Render(label) + "\n")
		for _, line := range wrapText(e.Text, width) {
			b.WriteString(style.Render(line) + "\n")
		}
		b.WriteString("\n")
	}
	if live != "" {
		b.WriteString(labelStyle.Render("You") + "\n")
		for _, line := range wrapText(live, width) {
			b.WriteString(liveStyle.Render(line) + "\n")
		}
	}
	return b.String()
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	active := m.state == interview.Listening || m.state == interview.Speaking
	level := m.audioLevel
	if !active {
		level = 0
	}

	eye := renderHALEye(m.frame, level, active)

	var infoLines []string
	infoLines = append(infoLines, m.statusLine())

	if m.headerLine != "" {
		infoLines = append(infoLines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Render(m.headerLine))
	}
	if m.deviceLine != "" {
		infoLines = append(infoLines, dimStyle.Render(m.deviceLine))
	}

	if m.notice != nil {
		infoLines = append(infoLines, "")
		style := warnStyle
		if m.notice.Persistent {
			style = alertStyle
		}
		infoLines = append(infoLines, style.Render("⚠ "+m.notice.Title))
		for _, line := range wrapText(m.notice.Message, eyeWidth-4) {
			infoLines = append(infoLines, warnStyle.Render("  "+line))
		}
	}

	infoLines = append(infoLines, "")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	hint := keys.End.Help()
	if m.finished {
		hint = keys.Done.Help()
	}
	infoLines = append(infoLines, boldStyle.Render(hint.Key)+helpStyle.Render(" to "+hint.Desc))
	infoLines = append(infoLines, helpStyle.Render("viva "+version))

	for _, line := range infoLines {
		eye += line + "\n"
	}
	eyeLines := strings.Split(eye, "\n")

	title := "Interview"
	if m.finished {
		title = "Feedback"
	}
	var right strings.Builder
	right.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Render(title) + "\n\n")
	if m.vpReady {
		right.WriteString(m.vp.View())
	}

	logWidth, _ := m.panelSize()
	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right.String())

	// Pad eye panel to full height (eye at top)
	eyePadded := make([]string, m.height)
	for i := range eyePadded {
		if i < len(eyeLines) {
			eyePadded[i] = eyeLines[i]
		} else {
			eyePadded[i] = strings.Repeat(" ", eyeWidth-1)
		}
	}

	eyePanel := lipgloss.NewStyle().
		Width(eyeWidth - 1).
		Height(m.height).
		Render(strings.Join(eyePadded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, logPanel)
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case interview.Listening:
		elapsed := 0.0
		if !m.listenStart.IsZero() && m.now.After(m.listenStart) {
			elapsed = m.now.Sub(m.listenStart).Seconds()
		}
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Render(fmt.Sprintf("● LISTENING %.1fs", elapsed))
	case interview.Processing:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("◌ THINKING")
	case interview.Speaking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Render("◉ SPEAKING")
	case interview.Ended:
		return dimStyle.Render("■ ENDED")
	}
	return dimStyle.Render("○ STANDBY")
}

func renderHALEye(frame int, level float64, active bool) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	// Voice-reactive breathing
	var breathe float64
	if active {
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*4.0 - 0.05
	} else {
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
	}

	type ring struct {
		radius     float64
		breatheAmt float64
		colorIdx   int
	}

	rings := []ring{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},  // red rings: high reactivity
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{6.5, 0.03, 9},
		{7.2, 0.0, 10},
		{8.0, 0.0, 11},
		{10.0, 0.0, 12},
		{12.0, 0.0, 13},
	}

	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				radius := r.radius + breathe*r.breatheAmt*20
				if radius > 10.0 {
					radius = 10.0
				}
				if dist < radius {
					pixels[y][x] = r.colorIdx
					break
				}
			}
		}
	}

	// Glass reflections
	type spot struct {
		ox, oy float64
		radius float64
		color  int
	}
	dSide := 9.0
	dSide2 := 7.2
	dTop := 10.0
	dTop2 := 8.2
	spots := []spot{
		{-dSide * 0.707, -dSide * 0.707, 0.7, 14},
		{-dSide2 * 0.707, -dSide2 * 0.707, 0.4, 15},
		{0, -dTop, 0.8, 14},
		{0, -dTop2, 0.6, 15},
		{dSide * 0.707, -dSide * 0.707, 0.7, 14},
		{dSide2 * 0.707, -dSide2 * 0.707, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			px := float64(x) - centerX
			py := float64(y) - centerY
			for _, s := range spots {
				dx := px - s.ox
				dy := py - s.oy
				rLen := math.Sqrt(s.ox*s.ox + s.oy*s.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -s.oy/rLen, s.ox/rLen
				dt := dx*tx + dy*ty
				dn := dx*(-ty) + dy*tx
				if (dt*dt)/9.0+dn*dn < s.radius*s.radius {
					pixels[y][x] = s.color
				}
			}
		}
	}

	// Use pre-computed styles based on whether anyone has the floor
	var styles *[16]lipgloss.Style
	var bgStyles *[16][16]lipgloss.Style
	if active {
		styles = &pixelStylesRec
		bgStyles = &pixelBgRec
	} else {
		styles = &pixelStylesIdle
		bgStyles = &pixelBgIdle
	}

	var result strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			topY := cy * 2
			botY := cy*2 + 1
			top := 0
			bot := 0
			if topY < pixH {
				top = pixels[topY][cx]
			}
			if botY < pixH {
				bot = pixels[botY][cx]
			}
			if top == 0 && bot == 0 {
				result.WriteString(" ")
			} else if top == bot {
				result.WriteString(styles[top].Render("█"))
			} else if top != 0 && bot == 0 {
				result.WriteString(styles[top].Render("▀"))
			} else if top == 0 && bot != 0 {
				result.WriteString(styles[bot].Render("▄"))
			} else {
				result.WriteString(bgStyles[top][bot].Render("▀"))
			}
		}
		result.WriteString("\n")
	}
	return result.String()
}

// tuiSink forwards controller events to the program in order without
// blocking the controller. Events queue until Attach is called.
type tuiSink struct {
	ch   chan tea.Msg
	done chan struct{}

	mu         sync.Mutex
	summary    *remote.Summary
	transcript []interview.Entry
	finished   bool
}

func newTUISink() *tuiSink {
	return &tuiSink{ch: make(chan tea.Msg, 64), done: make(chan struct{})}
}

// Attach starts delivering queued and future events to p.
func (s *tuiSink) Attach(p *tea.Program) {
	go func() {
		defer close(s.done)
		for msg := range s.ch {
			p.Send(msg)
		}
	}()
}

func (s *tuiSink) send(msg tea.Msg) {
	select {
	case s.ch <- msg:
	default:
		log.Warnf("tui event dropped: %T", msg)
	}
}

func (s *tuiSink) StateChanged(st interview.State)      { s.send(stateMsg{State: st}) }
func (s *tuiSink) TranscriptAppended(e interview.Entry) { s.send(entryMsg{Entry: e}) }
func (s *tuiSink) Notice(n interview.Notice)            { s.send(noticeMsg{Notice: n}) }
func (s *tuiSink) LiveText(text string)                 { s.send(liveTextMsg{Text: text}) }

func (s *tuiSink) Finished(summary *remote.Summary, transcript []interview.Entry) {
	s.mu.Lock()
	s.summary = summary
	s.transcript = transcript
	s.finished = true
	s.mu.Unlock()
	s.send(finishedMsg{Summary: summary, Transcript: transcript})
}

// Result returns what Finished delivered, if it was called.
func (s *tuiSink) Result() (*remote.Summary, []interview.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, s.transcript, s.finished
}

// Close stops forwarding once queued events have been delivered. It must
// follow Attach.
func (s *tuiSink) Close() {
	close(s.ch)
	<-s.done
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
