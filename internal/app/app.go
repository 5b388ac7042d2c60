// Package app renders pipeline progress in the terminal with bubbletea.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/tenderscan/internal/orchestrator"
)

var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle  = lipgloss.NewStyle().Padding(0, 1)
	tenderHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)

	stageStyle = map[string]lipgloss.Style{
		orchestrator.StageQueued:      lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		orchestrator.StageAcquiring:   lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		orchestrator.StageDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		orchestrator.StageExtracting:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		orchestrator.StageMatching:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		orchestrator.StagePersisting:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		orchestrator.StageUploading:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
	outcomeStyle = map[orchestrator.Outcome]lipgloss.Style{
		orchestrator.OutcomeSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		orchestrator.OutcomeSkipped:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		orchestrator.OutcomeLocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		orchestrator.OutcomeFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// TenderProgress is the latest known state of one tender.
type TenderProgress struct {
	Key     string
	Worker  string
	Stage   string
	Detail  string
	Outcome orchestrator.Outcome
	ErrMsg  string
	Start   time.Time
	Elapsed time.Duration
}

// AppModel is the bubbletea model of a pipeline run.
type AppModel struct {
	State            AppState
	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int

	tenders     map[string]*TenderProgress
	tenderOrder []string
	total       int
	done        int
	counts      map[orchestrator.Outcome]int
	startTime   time.Time

	summary   *orchestrator.Summary
	lastError error
	Quitting  bool

	termWidth  int
	termHeight int

	uiMsgChan chan tea.Msg
	cancel    context.CancelFunc
}

// NewAppModel builds a model for total tenders. Messages arrive on uiMsgChan;
// cancel stops the run when the user quits.
func NewAppModel(total int, uiMsgChan chan tea.Msg, cancel context.CancelFunc) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &AppModel{
		State:           Running,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		tenders:         make(map[string]*TenderProgress),
		total:           total,
		counts:          make(map[orchestrator.Outcome]int),
		startTime:       time.Now(),
		termWidth:       100,
		termHeight:      30,
		uiMsgChan:       uiMsgChan,
		cancel:          cancel,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForActivityCmd())
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.State == Running && m.cancel != nil {
				m.cancel()
			}
			m.Quitting = true
			m.State = Exiting
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-4)
		m.overallProgress.Width = m.progressBarWidth
	case TenderProgressMsg:
		cmds = append(cmds, m.applyProgress(msg), m.waitForActivityCmd())
	case RunFinishedMsg:
		s := msg.Summary
		m.summary = &s
		m.State = Finished
		if msg.Err != nil {
			m.lastError = msg.Err
			m.State = ShowError
		}
		return m, tea.Quit
	case GeneralErrorMsg:
		m.lastError = msg.Err
		m.State = ShowError
		cmds = append(cmds, m.waitForActivityCmd())
	case spinner.TickMsg:
		if m.State == Running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.overallProgress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.overallProgress = newModel
			cmds = append(cmds, frameCmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *AppModel) applyProgress(msg TenderProgressMsg) tea.Cmd {
	tp, ok := m.tenders[msg.Key]
	if !ok {
		tp = &TenderProgress{Key: msg.Key}
		m.tenders[msg.Key] = tp
		m.tenderOrder = append(m.tenderOrder, msg.Key)
	}
	if msg.Worker != "" {
		tp.Worker = msg.Worker
	}
	tp.Stage = msg.Stage
	tp.Detail = msg.Detail
	if tp.Start.IsZero() && msg.Stage != orchestrator.StageQueued {
		tp.Start = msg.At
	}
	if msg.Stage != orchestrator.StageDone || msg.Report == nil {
		return nil
	}

	tp.Outcome = msg.Report.Outcome
	tp.Elapsed = msg.Report.Duration
	if msg.Report.Err != nil {
		tp.ErrMsg = msg.Report.Err.Error()
	}
	m.done++
	m.counts[msg.Report.Outcome]++
	var percent float64
	if m.total > 0 {
		percent = float64(m.done) / float64(m.total)
	}
	return m.overallProgress.SetPercent(percent)
}

func (m *AppModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- tenderscan ---"))
	b.WriteString("\n\n")

	switch m.State {
	case Running, Exiting:
		b.WriteString(m.viewProgress())
	case Finished:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(m.viewSummary())
	case ShowError:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(m.viewError())
	}

	b.WriteString("\n\n")
	switch m.State {
	case Running:
		b.WriteString(infoStyle.Render("Run in progress... 'q' or Ctrl+C to stop."))
	case Exiting:
		b.WriteString(infoStyle.Render("Stopping..."))
	}
	return b.String()
}

func (m *AppModel) viewProgress() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Tenders: %d/%d  succeeded %d, skipped %d, failed %d, locked %d\n",
		m.spinner.View(), m.done, m.total,
		m.counts[orchestrator.OutcomeSucceeded], m.counts[orchestrator.OutcomeSkipped],
		m.counts[orchestrator.OutcomeFailed], m.counts[orchestrator.OutcomeLocked])
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	b.WriteString("\n\n")

	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(m.tenderOrder) > maxLines {
		startIdx = len(m.tenderOrder) - maxLines
	}
	if len(m.tenderOrder) == 0 {
		return b.String()
	}

	b.WriteString(tenderHeaderStyle.Render(fmt.Sprintf("%-16s | %-12s | %-14s | %-10s | %s", "Tender", "Worker", "Stage", "Elapsed", "Detail")))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", m.termWidth))
	b.WriteString("\n")
	for _, key := range m.tenderOrder[startIdx:] {
		tp := m.tenders[key]
		status := tp.Stage
		style, ok := stageStyle[tp.Stage]
		if tp.Outcome != "" {
			status = string(tp.Outcome)
			style, ok = outcomeStyle[tp.Outcome]
		}
		if !ok {
			style = infoStyle
		}
		elapsed := ""
		switch {
		case tp.Elapsed > 0:
			elapsed = tp.Elapsed.Round(time.Millisecond).String()
		case !tp.Start.IsZero():
			elapsed = time.Since(tp.Start).Round(time.Second).String() + "..."
		}
		line := fmt.Sprintf("%-16s | %-12s | %-14s | %-10s | %s", key, tp.Worker, style.Render(fmt.Sprintf("%-14s", status)), elapsed, tp.Detail)
		b.WriteString(truncateLine(line, m.termWidth))
		if tp.ErrMsg != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(truncateLine("  -> Error: "+tp.ErrMsg, m.termWidth)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *AppModel) viewSummary() string {
	if m.summary == nil {
		return ""
	}
	s := m.summary
	return fmt.Sprintf("Run finished in %s: %d tenders, %d succeeded, %d skipped, %d failed, %d already locked.",
		time.Since(m.startTime).Round(time.Millisecond), s.Total, s.Succeeded, s.Skipped, s.Failed, s.Locked)
}

func (m *AppModel) viewError() string {
	var b strings.Builder
	b.WriteString(errorStyle.Render("An error occurred:"))
	b.WriteString("\n\n")
	if m.lastError != nil {
		b.WriteString(wrapText(m.lastError.Error(), m.termWidth-4))
	} else {
		b.WriteString("Unknown error.")
	}
	b.WriteString("\n")
	return b.String()
}

func (m *AppModel) waitForActivityCmd() tea.Cmd {
	if m.uiMsgChan == nil {
		return nil
	}
	ch := m.uiMsgChan
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// Task is a pipeline run reporting progress through observe.
type Task func(ctx context.Context, observe orchestrator.Observer) (orchestrator.Summary, error)

// Run drives task behind the progress view and returns its result once both
// the task and the UI have stopped. Quitting the UI cancels the task.
func Run(ctx context.Context, logger *slog.Logger, total int, task Task, opts ...tea.ProgramOption) (orchestrator.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	uiMsgChan := make(chan tea.Msg, 64)
	uiDone := make(chan struct{})
	send := func(msg tea.Msg) {
		select {
		case uiMsgChan <- msg:
		case <-uiDone:
		}
	}

	var (
		summary  orchestrator.Summary
		runErr   error
		finished = make(chan struct{})
	)
	go func() {
		defer close(finished)
		start := time.Now()
		summary, runErr = task(ctx, func(p orchestrator.Progress) { send(NewTenderProgress(p)) })
		send(NewRunFinished(summary, start, runErr))
		logger.Debug("Pipeline task finished, UI notified.")
	}()

	model := NewAppModel(total, uiMsgChan, cancel)
	_, uiErr := tea.NewProgram(model, opts...).Run()
	close(uiDone)
	cancel()
	<-finished

	if uiErr != nil {
		return summary, errors.Join(runErr, fmt.Errorf("progress view failed: %w", uiErr))
	}
	return summary, runErr
}

func truncateLine(s string, width int) string {
	if width <= 1 {
		return s
	}
	r := []rune(s)
	if len(r) < width {
		return s
	}
	return string(r[:width-1])
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
