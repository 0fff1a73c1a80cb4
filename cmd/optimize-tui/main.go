// Command optimize-tui is a terminal front end for watching one optimization
// session live. It drives the session controller against a running optimizer
// API and renders the event stream as it arrives: stage progress, gatekeeper
// verdicts, pauses, and the final result. In manual mode the pipeline stops at
// each round boundary until the operator presses enter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"optimizer-backend/internal/optimizations"
)

type appConfig struct {
	apiURL      string
	token       string
	documentID  string
	role        string
	location    string
	manual      bool
	altScreen   bool
	idleSeconds int
}

func parseFlags() appConfig {
	cfg := appConfig{}
	flag.StringVar(&cfg.apiURL, "api", envOr("OPTIMIZER_API_URL", "http://localhost:8080"), "Optimizer API base URL")
	flag.StringVar(&cfg.token, "token", envOr("OPTIMIZER_API_TOKEN", ""), "Bearer token for the optimizer API")
	flag.StringVar(&cfg.documentID, "doc", "", "Document id of the uploaded resume")
	flag.StringVar(&cfg.role, "role", "", "Target role to optimize toward")
	flag.StringVar(&cfg.location, "location", "", "Optional target location")
	flag.BoolVar(&cfg.manual, "manual", envOrBool("OPTIMIZER_TUI_MANUAL", false), "Pause at each round boundary for operator approval")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "Run in the terminal alternate screen")
	flag.IntVar(&cfg.idleSeconds, "idle-timeout", envOrInt("STREAM_IDLE_TIMEOUT_SECONDS", 0), "Stream idle timeout in seconds (0 uses the controller default)")
	flag.Parse()
	return cfg
}

type sessionEventMsg struct {
	event optimizations.Event
}

// runDoneMsg arrives when a Start or ContinueSession call returns, which
// happens on a manual pause, a terminal event, or a transport failure. Auto
// continues are consumed inside the call and never surface here.
type runDoneMsg struct {
	err error
}

type tickMsg time.Time

type uiTheme struct {
	root         lipgloss.Style
	header       lipgloss.Style
	title        lipgloss.Style
	badgeLive    lipgloss.Style
	badgePaused  lipgloss.Style
	badgeDone    lipgloss.Style
	badgeError   lipgloss.Style
	panel        lipgloss.Style
	panelTitle   lipgloss.Style
	footer       lipgloss.Style
	status       lipgloss.Style
	errorStatus  lipgloss.Style
	helpText     lipgloss.Style
	stepLabel    lipgloss.Style
	eventDone    lipgloss.Style
	gatePass     lipgloss.Style
	gateFail     lipgloss.Style
	gateBlocked  lipgloss.Style
	pauseLine    lipgloss.Style
	completeLine lipgloss.Style
	errorLine    lipgloss.Style
	muted        lipgloss.Style
	scoreGood    lipgloss.Style
	scoreWeak    lipgloss.Style
}

func newTheme() uiTheme {
	amber := lipgloss.Color("#ffb454")
	cyan := lipgloss.Color("#59c2ff")
	green := lipgloss.Color("#aad94c")
	red := lipgloss.Color("#f07178")
	bg := lipgloss.Color("#0b0e14")
	panelBg := lipgloss.Color("#11151f")
	text := lipgloss.Color("#e6e1cf")
	muted := lipgloss.Color("#6c7380")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(cyan).
			Padding(0, 1),
		title: lipgloss.NewStyle().
			Foreground(amber).
			Bold(true),
		badgeLive: lipgloss.NewStyle().
			Background(cyan).
			Foreground(bg).
			Bold(true).
			Padding(0, 1),
		badgePaused: lipgloss.NewStyle().
			Background(amber).
			Foreground(bg).
			Bold(true).
			Padding(0, 1),
		badgeDone: lipgloss.NewStyle().
			Background(green).
			Foreground(bg).
			Bold(true).
			Padding(0, 1),
		badgeError: lipgloss.NewStyle().
			Background(red).
			Foreground(bg).
			Bold(true).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(cyan).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		status:       lipgloss.NewStyle().Foreground(cyan).Bold(true),
		errorStatus:  lipgloss.NewStyle().Foreground(red).Bold(true),
		helpText:     lipgloss.NewStyle().Foreground(muted),
		stepLabel:    lipgloss.NewStyle().Foreground(cyan),
		eventDone:    lipgloss.NewStyle().Foreground(text),
		gatePass:     lipgloss.NewStyle().Foreground(green).Bold(true),
		gateFail:     lipgloss.NewStyle().Foreground(amber).Bold(true),
		gateBlocked:  lipgloss.NewStyle().Foreground(red).Bold(true),
		pauseLine:    lipgloss.NewStyle().Foreground(amber),
		completeLine: lipgloss.NewStyle().Foreground(green).Bold(true),
		errorLine:    lipgloss.NewStyle().Foreground(red),
		muted:        lipgloss.NewStyle().Foreground(muted),
		scoreGood:    lipgloss.NewStyle().Foreground(green).Bold(true),
		scoreWeak:    lipgloss.NewStyle().Foreground(amber).Bold(true),
	}
}

type model struct {
	cfg    appConfig
	ctrl   *optimizations.Controller
	target optimizations.Target
	// inbound carries controller events from the driving goroutine into the
	// update loop. The OnEvent hook is the only writer.
	inbound chan tea.Msg

	snap       optimizations.Snapshot
	lines      []string
	statusLine string
	inflight   bool
	finished   bool
	quitting   bool
	startedAt  time.Time

	width    int
	height   int
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme
}

func newModel(cfg appConfig) model {
	theme := newTheme()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#59c2ff"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 2

	inbound := make(chan tea.Msg, 64)
	client := optimizations.NewClient(cfg.apiURL, cfg.token)
	ctrl := optimizations.NewController(client)
	ctrl.IdleTimeout = time.Duration(cfg.idleSeconds) * time.Second
	ctrl.OnEvent = func(ev optimizations.Event) {
		inbound <- sessionEventMsg{event: ev}
	}

	return model{
		cfg:  cfg,
		ctrl: ctrl,
		target: optimizations.Target{
			DocumentID: cfg.documentID,
			Role:       cfg.role,
			Location:   cfg.location,
			Manual:     cfg.manual,
		},
		inbound:    inbound,
		snap:       ctrl.Snapshot(),
		statusLine: "starting session...",
		inflight:   true,
		startedAt:  time.Now(),
		timeline:   timeline,
		spinner:    sp,
		theme:      theme,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startCmd(), waitEvent(m.inbound), tickEvery())
}

func (m model) startCmd() tea.Cmd {
	ctrl := m.ctrl
	target := m.target
	return func() tea.Msg {
		return runDoneMsg{err: ctrl.Start(context.Background(), target)}
	}
}

func (m model) continueCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return runDoneMsg{err: ctrl.ContinueSession(context.Background())}
	}
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case sessionEventMsg:
		m.snap = m.ctrl.Snapshot()
		m.appendEvent(msg.event)
		cmds = append(cmds, waitEvent(m.inbound))
	case runDoneMsg:
		m.inflight = false
		m.snap = m.ctrl.Snapshot()
		switch {
		case m.finished:
			// A cancel already settled the session; the late return of the
			// driving call carries nothing new.
		case msg.err != nil:
			m.statusLine = "session failed: " + compactLine(msg.err.Error(), 160)
			m.finished = true
		case m.snap.Status == optimizations.StatusAwaitingContinue:
			m.statusLine = "paused for review · enter continues, x cancels"
		case m.snap.Status == optimizations.StatusComplete:
			m.statusLine = fmt.Sprintf("complete · %d round(s) in %s", resultRounds(m.snap.Result), elapsed(m.startedAt))
			m.finished = true
		case m.snap.Status == optimizations.StatusError:
			m.statusLine = "session ended with an error"
			m.finished = true
		default:
			m.statusLine = "session stopped in state " + m.snap.Status
			m.finished = true
		}
		m.renderTimeline()
	case tickMsg:
		cmds = append(cmds, tickEvery())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.ctrl.Cancel()
			m.quitting = true
			return m, tea.Quit
		case "q", "esc":
			if !m.finished && !m.quitting {
				m.ctrl.Cancel()
			}
			m.quitting = true
			return m, tea.Quit
		case "enter", "c":
			if m.snap.Status == optimizations.StatusAwaitingContinue && !m.inflight {
				m.inflight = true
				m.statusLine = "continuing..."
				cmds = append(cmds, m.continueCmd())
			}
		case "x":
			if !m.finished {
				m.ctrl.Cancel()
				m.snap = m.ctrl.Snapshot()
				m.statusLine = "session cancelled"
				m.inflight = false
				m.finished = true
				m.renderTimeline()
			}
		default:
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *model) appendEvent(ev optimizations.Event) {
	line := m.renderEvent(ev)
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
	m.renderTimeline()
}

func (m *model) renderEvent(ev optimizations.Event) string {
	stamp := m.theme.muted.Render(time.Now().Format("15:04:05"))
	switch ev.Type {
	case optimizations.EventProgress:
		label := m.theme.stepLabel.Render(padStep(ev.Step))
		return fmt.Sprintf("%s %s %s", stamp, label, ev.Message)
	case optimizations.EventResearcherDone:
		return fmt.Sprintf("%s %s checklist ready (%d items)", stamp,
			m.theme.eventDone.Render(padStep(optimizations.StepResearcher)), len(ev.Checklist))
	case optimizations.EventWriterDone:
		return fmt.Sprintf("%s %s draft revised (round %d)", stamp,
			m.theme.eventDone.Render(padStep(optimizations.StepWriter)), ev.Round)
	case optimizations.EventCriticDone:
		score := "-"
		if ev.Scorecard != nil {
			score = strconv.Itoa(ev.Scorecard.Overall)
		}
		return fmt.Sprintf("%s %s scored %s (round %d)", stamp,
			m.theme.eventDone.Render(padStep(optimizations.StepCritic)), score, ev.Round)
	case optimizations.EventDesignerDone:
		return fmt.Sprintf("%s %s output rendered", stamp,
			m.theme.eventDone.Render(padStep(optimizations.StepDesigner)))
	case optimizations.EventGatekeeperPass:
		line := m.theme.gatePass.Render("gate PASS")
		if ev.Forced {
			line = m.theme.gateFail.Render("gate PASS (forced at round ceiling)")
		}
		if len(ev.Evidence) > 0 {
			line += m.theme.muted.Render(" · " + compactLine(strings.Join(ev.Evidence, "; "), 100))
		}
		return fmt.Sprintf("%s %s", stamp, line)
	case optimizations.EventGatekeeperFail:
		return fmt.Sprintf("%s %s another round needed (round %d)", stamp,
			m.theme.gateFail.Render("gate FAIL"), ev.Round)
	case optimizations.EventGatekeeperBlocked:
		line := m.theme.gateBlocked.Render("gate BLOCKED")
		if len(ev.BlockingIssues) > 0 {
			line += m.theme.errorLine.Render(" · " + compactLine(strings.Join(ev.BlockingIssues, "; "), 120))
		}
		return fmt.Sprintf("%s %s", stamp, line)
	case optimizations.EventAwaitUserContinue:
		return fmt.Sprintf("%s %s next: %s (round %d)", stamp,
			m.theme.pauseLine.Render("paused"), ev.NextStep, ev.Round)
	case optimizations.EventAutoContinue:
		return fmt.Sprintf("%s %s next: %s (round %d)", stamp,
			m.theme.stepLabel.Render("auto continue"), ev.NextStep, ev.Round)
	case optimizations.EventComplete:
		parts := []string{m.theme.completeLine.Render("complete")}
		if ev.Optimization != nil {
			parts = append(parts, fmt.Sprintf("rounds=%d", ev.Optimization.RoundsCompleted))
			if len(ev.Optimization.ForcedSteps) > 0 {
				parts = append(parts, "forced="+strings.Join(ev.Optimization.ForcedSteps, ","))
			}
		}
		return fmt.Sprintf("%s %s", stamp, strings.Join(parts, " "))
	case optimizations.EventError:
		msg := ev.Message
		if msg == "" {
			msg = "stream error"
		}
		return fmt.Sprintf("%s %s", stamp, m.theme.errorLine.Render(compactLine(msg, 160)))
	default:
		return fmt.Sprintf("%s %s %s", stamp, m.theme.muted.Render(string(ev.Type)), ev.Message)
	}
}

func (m *model) resize() {
	panelWidth := maxInt(40, m.width-4)
	panelHeight := maxInt(6, m.height-11)
	m.timeline.Width = maxInt(20, panelWidth-2)
	m.timeline.Height = panelHeight
}

func (m *model) renderTimeline() {
	if len(m.lines) == 0 {
		m.timeline.SetContent(m.theme.muted.Render("waiting for the first event..."))
		return
	}
	m.timeline.SetContent(strings.Join(m.lines, "\n"))
	m.timeline.GotoBottom()
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	header := m.renderHeader()
	score := m.renderScoreStrip()
	panel := m.theme.panel.Width(maxInt(40, m.width-4)).Render(
		m.theme.panelTitle.Render("Session Timeline") + "\n" + m.timeline.View(),
	)
	status := m.renderStatus()
	footer := m.renderFooter()
	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, score, panel, status, footer))
}

func (m model) renderHeader() string {
	badge := m.theme.badgeLive.Render("LIVE")
	switch m.snap.Status {
	case optimizations.StatusAwaitingContinue:
		badge = m.theme.badgePaused.Render("PAUSED")
	case optimizations.StatusComplete:
		badge = m.theme.badgeDone.Render("DONE")
	case optimizations.StatusError:
		badge = m.theme.badgeError.Render("ERROR")
	case optimizations.StatusIdle:
		badge = m.theme.badgePaused.Render("IDLE")
	}
	meta := fmt.Sprintf("doc=%s role=%s", m.cfg.documentID, m.cfg.role)
	if m.snap.SessionID != "" {
		meta += " session=" + m.snap.SessionID
	}
	round := fmt.Sprintf("round %d · %d complete", m.snap.Round, m.snap.CompletedRounds)
	joined := lipgloss.JoinHorizontal(lipgloss.Left,
		m.theme.title.Render("Optimizer"), "  ", badge, "  ",
		m.theme.helpText.Render(meta), "  ", m.theme.helpText.Render(round),
	)
	return m.theme.header.Width(maxInt(40, m.width-4)).Render(joined)
}

func (m model) renderScoreStrip() string {
	if m.snap.Scorecard == nil {
		return m.theme.muted.Render("  no scorecard yet")
	}
	sc := m.snap.Scorecard
	style := m.theme.scoreWeak
	if sc.Overall >= optimizations.DefaultPassScore {
		style = m.theme.scoreGood
	}
	line := fmt.Sprintf("  overall %s · ats %d · keywords %d · clarity %d",
		style.Render(strconv.Itoa(sc.Overall)), sc.ATSFitness, sc.KeywordCoverage, sc.Clarity)
	if n := len(sc.RequiredEdits); n > 0 {
		line += m.theme.muted.Render(fmt.Sprintf(" · %d edit(s) required", n))
	}
	if n := len(sc.TruthViolations); n > 0 {
		line += m.theme.errorStatus.Render(fmt.Sprintf(" · %d truth violation(s)", n))
	}
	return line
}

func (m model) renderStatus() string {
	style := m.theme.status
	if m.snap.Status == optimizations.StatusError {
		style = m.theme.errorStatus
	}
	line := m.statusLine
	if m.snap.Status == optimizations.StatusError && m.snap.ErrorMessage != "" {
		line = m.snap.ErrorMessage
		if m.snap.ErrorCode != "" {
			line = m.snap.ErrorCode + ": " + line
		}
	}
	if m.inflight {
		return "  " + m.spinner.View() + " " + style.Render(compactLine(line, 140))
	}
	return "  " + style.Render(compactLine(line, 140))
}

func (m model) renderFooter() string {
	keys := "q quit · x cancel · up/down scroll"
	if m.snap.Status == optimizations.StatusAwaitingContinue {
		keys = "enter continue · " + keys
	}
	return m.theme.footer.Width(maxInt(40, m.width-4)).Render(keys)
}

func padStep(step string) string {
	if len(step) >= 10 {
		return step
	}
	return step + strings.Repeat(" ", 10-len(step))
}

func resultRounds(result *optimizations.Result) int {
	if result == nil {
		return 0
	}
	return result.RoundsCompleted
}

func elapsed(since time.Time) string {
	return time.Since(since).Truncate(time.Second).String()
}

func compactLine(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit > 0 && len(text) > limit {
		return text[:limit-3] + "..."
	}
	return text
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func main() {
	cfg := parseFlags()
	if strings.TrimSpace(cfg.documentID) == "" || strings.TrimSpace(cfg.role) == "" {
		fmt.Fprintln(os.Stderr, "usage: optimize-tui -doc <document-id> -role <target role> [-location ...] [-manual]")
		os.Exit(2)
	}
	if strings.TrimSpace(cfg.token) == "" {
		fmt.Fprintln(os.Stderr, "missing -token (or OPTIMIZER_API_TOKEN)")
		os.Exit(2)
	}
	p := tea.NewProgram(newModel(cfg), tea.WithMouseCellMotion())
	if cfg.altScreen {
		p = tea.NewProgram(newModel(cfg), tea.WithAltScreen(), tea.WithMouseCellMotion())
	}
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "optimize-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
