package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// PullView is everything the live display needs about the task in
// flight.
type PullView struct {
	Task  string
	Title string
	Stats Stats
}

type tickMsg struct{}
type stopMsg struct{}

type pullModel struct {
	viewFn func() PullView
	view   PullView
}

func (m pullModel) Init() tea.Cmd { return nil }

func (m pullModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			os.Exit(130)
		}
	case tickMsg:
		m.view = m.viewFn()
		return m, nil
	case stopMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m pullModel) View() string {
	return renderPull(m.view)
}

func renderPull(v PullView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pulling %s", v.Task)
	if v.Title != "" {
		fmt.Fprintf(&b, "  (%s)", v.Title)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "stage: %s", v.Stats.Stage)
	if v.Stats.Attempt > 1 {
		fmt.Fprintf(&b, " (attempt %d)", v.Stats.Attempt)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s\n", formatTransferLine(v.Stats))
	return b.String()
}

func formatTransferLine(s Stats) string {
	line := fmt.Sprintf("%s / %s (%.1f%%)  chunks %d/%d",
		formatBytes(s.BytesDone), formatBytes(s.Total), s.Percent,
		s.ChunksDone, s.ChunksTotal)
	if s.RateBps > 0 {
		line += fmt.Sprintf("  %s/s", formatBytes(int64(s.RateBps)))
	}
	if s.ETA > 0 {
		line += fmt.Sprintf("  eta %s", s.ETA.Round(time.Second))
	}
	return line
}

func formatBytes(n int64) string {
	const (
		kib = 1024
		mib = 1024 * kib
		gib = 1024 * mib
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2fGiB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.1fMiB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.1fKiB", float64(n)/kib)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// RenderPull runs the live display until the returned stop function is
// called. On a TTY it drives a bubbletea program; otherwise it prints a
// plain line once per second so logs stay readable.
func RenderPull(ctx context.Context, w io.Writer, view func() PullView) func() {
	if IsTTY(w) {
		return renderPullTea(ctx, w, view)
	}
	return renderPullPlain(ctx, w, view)
}

func renderPullTea(ctx context.Context, w io.Writer, view func() PullView) func() {
	program := tea.NewProgram(pullModel{viewFn: view, view: view()}, tea.WithOutput(w))
	go func() {
		_, _ = program.Run()
	}()
	ticker := time.NewTicker(250 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				program.Send(stopMsg{})
				return
			case <-stop:
				program.Send(stopMsg{})
				return
			case <-ticker.C:
				program.Send(tickMsg{})
			}
		}
	}()
	return func() {
		close(stop)
		ticker.Stop()
		program.Send(tickMsg{})
		program.Send(stopMsg{})
	}
}

func renderPullPlain(ctx context.Context, w io.Writer, view func() PullView) func() {
	ticker := time.NewTicker(time.Second)
	stop := make(chan struct{})
	renderOnce := func() {
		v := view()
		fmt.Fprintf(w, "%s stage=%s %s\n", v.Task, v.Stats.Stage, formatTransferLine(v.Stats))
	}
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				renderOnce()
			}
		}
	}()
	return func() {
		close(stop)
		renderOnce()
	}
}
