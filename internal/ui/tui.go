package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxBoardRows caps how many topic rows the board shows at once.
const maxBoardRows = 8

// TUIRenderer draws the run board with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	board   *Board
	model   *boardModel
	program *tea.Program
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}

	board := NewBoard()
	model := newBoardModel(board, cfg.LibraryPath)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{cfg: cfg, board: board, model: model, done: make(chan struct{})}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.board.Apply(event)
	r.send(refreshMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.board.Fail(event)
	r.send(refreshMsg{})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.board.Apply(ProgressEvent{Stage: StageComplete})
	r.send(finishedMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type refreshMsg struct{}
type finishedMsg CompletionStats
type tickMsg time.Time

// boardModel is the bubbletea model for a reindex run.
type boardModel struct {
	board    *Board
	library  string
	width    int
	height   int
	aborted  bool
	finished bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newBoardModel(board *Board, library string) *boardModel {
	s := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &boardModel{
		board:   board,
		library: library,
		width:   80,
		height:  24,
		spinner: s,
		bar:     progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(40), progress.WithoutPercentage()),
		styles:  DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "ctrl+c" || s == "q" {
			m.aborted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar.Width = max(msg.Width-30, 20)
	case finishedMsg:
		m.finished = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *boardModel) View() string {
	switch {
	case m.aborted:
		return "Interrupted; indices already saved are kept.\n"
	case m.finished:
		return m.summaryView()
	}

	snap := m.board.Snapshot()
	width := max(m.width-4, 40)

	title := "shelf index"
	if m.library != "" {
		title += " • " + m.library
	}

	body := []string{m.stageLine(snap), ""}
	body = append(body, m.topicRows(snap, width)...)
	if snap.Topic != "" {
		body = append(body, "", m.currentLine(snap, width))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width).
		Render(strings.Join(body, "\n"))

	return m.styles.Header.Render(title) + "\n" + panel + "\n" + m.footer(snap)
}

func (m *boardModel) stageLine(snap BoardSnapshot) string {
	line := m.spinner.View() + " " + m.styles.Active.Render(snap.Stage.String())
	if snap.Message != "" && snap.Topic == "" {
		line += m.styles.Dim.Render("  " + snap.Message)
	}
	return line
}

// topicRows lists topics seen so far, keeping the newest when there are many.
func (m *boardModel) topicRows(snap BoardSnapshot, width int) []string {
	topics := snap.Topics
	var rows []string
	if hidden := len(topics) - maxBoardRows; hidden > 0 {
		rows = append(rows, m.styles.Dim.Render(fmt.Sprintf("  … %d earlier topics", hidden)))
		topics = topics[hidden:]
	}
	idWidth := min(width/3, 28)
	for _, t := range topics {
		var mark string
		style := m.styles.Label
		switch t.State {
		case TopicDone:
			mark, style = "✓", m.styles.Success
		case TopicQueued:
			mark, style = "·", m.styles.Dim
		default:
			mark, style = m.spinner.View(), m.styles.Active
		}
		detail := fmt.Sprintf("%d/%d books  %d chunks", t.Read, t.Books, t.Chunks)
		if t.Failed > 0 {
			detail += m.styles.Error.Render(fmt.Sprintf("  %d failed", t.Failed))
		}
		rows = append(rows, fmt.Sprintf("%s %s  %s",
			mark, style.Render(fmt.Sprintf("%-*s", idWidth, truncate(t.ID, idWidth))), m.styles.Label.Render(detail)))
	}
	return rows
}

func (m *boardModel) currentLine(snap BoardSnapshot, width int) string {
	frac := snap.Fraction()
	line := m.bar.ViewAs(frac) + " " + m.styles.Active.Render(fmt.Sprintf("%3.0f%%", frac*100))
	if snap.BookSize > 0 {
		line += m.styles.Label.Render(fmt.Sprintf("  %d / %d chunks", snap.BookDone, snap.BookSize))
	}
	if snap.File != "" {
		line += "\n" + m.styles.Dim.Render(truncateFilePath(snap.File, width-2))
	}
	return line
}

func (m *boardModel) footer(snap BoardSnapshot) string {
	parts := []string{
		m.styles.Speed.Render(fmt.Sprintf("%d chunks  %.1f/s", snap.Chunks, snap.Rate())),
		m.styles.Label.Render(fmt.Sprintf("%d topics done", snap.Done())),
		m.styles.Label.Render(formatDuration(snap.Elapsed)),
	}
	if snap.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d", snap.WarnCount)))
	}
	if snap.ErrCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d", snap.ErrCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q quits"))
	return strings.Join(parts, m.styles.Dim.Render(" │ "))
}

func (m *boardModel) summaryView() string {
	s := m.stats
	headline := "✓ Library indexed"
	if s.DryRun {
		headline = "✓ Dry run, nothing written"
	}
	if s.Topics == 0 && !s.DryRun {
		headline = "✓ Library already up to date"
	}

	lines := []string{m.styles.Success.Render(headline), ""}
	field := func(label, value string) {
		lines = append(lines, m.styles.Label.Render(fmt.Sprintf("%-10s", label))+m.styles.Active.Render(value))
	}
	field("Topics", fmt.Sprintf("%d changed, %d unchanged", s.Topics, s.Skipped))
	field("Books", fmt.Sprintf("%d embedded, %d removed", s.Books, s.Removed))
	field("Chunks", fmt.Sprint(s.Chunks))
	if s.Stages.Embed > 0 && s.Chunks > 0 {
		field("Embed", fmt.Sprintf("%s (%.1f chunks/s)", formatDuration(s.Stages.Embed), float64(s.Chunks)/s.Stages.Embed.Seconds()))
	}
	field("Took", formatDuration(s.Duration))
	if s.Embedder.Model != "" {
		field("Model", fmt.Sprintf("%s, %d dims", s.Embedder.Model, s.Embedder.Dimensions))
	}

	for _, e := range m.board.Errors() {
		lines = append(lines, m.styles.Error.Render("✗ "+describe(e)))
	}
	if s.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", s.Warnings)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

func describe(e ErrorEvent) string {
	if e.File == "" {
		return e.Err.Error()
	}
	return e.File + ": " + e.Err.Error()
}

// formatDuration rounds to seconds and drops zero minor units.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, mnt, sec := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, mnt)
	case mnt > 0 && sec == 0:
		return fmt.Sprintf("%dm", mnt)
	case mnt > 0:
		return fmt.Sprintf("%dm %ds", mnt, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// truncateFilePath drops leading folders until p fits in n bytes.
func truncateFilePath(p string, n int) string {
	if len(p) <= n {
		return p
	}
	segs := strings.Split(p, "/")
	for i := 1; i < len(segs); i++ {
		if s := ".../" + strings.Join(segs[i:], "/"); len(s) <= n {
			return s
		}
	}
	if n <= 3 {
		return "..."[:max(n, 0)]
	}
	base := segs[len(segs)-1]
	return "..." + base[len(base)-(n-3):]
}

var _ Renderer = (*TUIRenderer)(nil)
