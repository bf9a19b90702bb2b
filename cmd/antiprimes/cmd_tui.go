package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/e7canasta/antiprimes"
)

const (
	tuiSubscriberID = "tui"
	tuiRefresh      = 500 * time.Millisecond
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Step through the sequence interactively",
	Long: `tui shows the tail of the sequence and the worker state.

Keys: n next, r reset, s restart a stopped worker, q quit.`,
	RunE: runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seq := newSequence(cfg)
	if err := seq.Start(ctx); err != nil {
		return fmt.Errorf("start sequence: %w", err)
	}
	defer seq.Stop()

	events := make(chan antiprimes.Event, cfg.Notify.SubscriberBuffer)
	if err := seq.Subscribe(tuiSubscriberID, events); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = seq.Unsubscribe(tuiSubscriberID) }()

	m := newSequenceModel(ctx, seq, events, cfg.Sequence.HistoryWindow)
	_, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}

// eventMsg carries one append from the sequence.
type eventMsg antiprimes.Event

// submitMsg reports the outcome of a ComputeNext call.
type submitMsg struct {
	result antiprimes.SubmitResult
	err    error
}

type tickMsg time.Time

// keyMap is the tui key bindings; it implements help.KeyMap.
type keyMap struct {
	Next    key.Binding
	Reset   key.Binding
	Restart key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Reset, k.Restart, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Next: key.NewBinding(
		key.WithKeys("n", " ", "enter"),
		key.WithHelp("n", "next"),
	),
	Reset: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reset"),
	),
	Restart: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "restart worker"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// sequenceModel is the bubbletea model behind the tui command.
type sequenceModel struct {
	ctx    context.Context
	seq    antiprimes.Sequence
	events <-chan antiprimes.Event
	window int

	items   []antiprimes.AntiPrime
	stats   antiprimes.Stats
	status  string
	lastErr error
	help    help.Model

	quitting bool
}

func newSequenceModel(ctx context.Context, seq antiprimes.Sequence, events <-chan antiprimes.Event, window int) sequenceModel {
	if window <= 0 {
		window = 10
	}
	m := sequenceModel{
		ctx:    ctx,
		seq:    seq,
		events: events,
		window: window,
		status: "ready",
		help:   help.New(),
	}
	m.refresh()
	return m
}

func (m sequenceModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func (m sequenceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Next):
			m.status = "submitting..."
			return m, computeNext(m.ctx, m.seq)
		case key.Matches(msg, keys.Reset):
			m.seq.Reset()
			m.lastErr = nil
			m.status = fmt.Sprintf("reset (epoch %d)", m.seq.Epoch())
			m.refresh()
		case key.Matches(msg, keys.Restart):
			if err := m.seq.Restart(m.ctx); err != nil {
				m.lastErr = err
			} else {
				m.lastErr = nil
				m.status = "worker running"
			}
			m.refresh()
		}

	case submitMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.status = "submit failed"
		} else {
			m.lastErr = nil
			m.status = "request " + msg.result.String()
		}

	case eventMsg:
		m.status = fmt.Sprintf("appended #%d = %s", msg.Index, msg.Value)
		m.refresh()
		return m, waitForEvent(m.events)

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	return m, nil
}

func (m *sequenceModel) refresh() {
	items, err := m.seq.LastK(m.window)
	if err == nil {
		m.items = items
	}
	m.stats = m.seq.Stats()
}

func (m sequenceModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Antiprimes"))
	b.WriteString(statsStyle.Render(fmt.Sprintf("  length %d · epoch %d · worker %s",
		m.stats.Length, m.stats.Epoch, m.stats.Worker.State)))
	b.WriteString("\n\n")

	first := m.stats.Length - len(m.items)
	for i, it := range m.items {
		line := fmt.Sprintf("%6d  %20d  %4d divisors", first+i, it.Value, it.Divisors)
		if i == len(m.items)-1 {
			b.WriteString(lastStyle.Render(line))
		} else {
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statsStyle.Render(fmt.Sprintf("computations %d · coalesced %d · mean %v",
		m.stats.Worker.Computations,
		m.stats.Mailbox.Coalesced,
		m.stats.Worker.Latency.Mean.Round(time.Microsecond))))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(errorStyle.Render("error: " + m.lastErr.Error()))
	} else {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n\n")

	b.WriteString(m.help.View(keys))
	b.WriteString("\n")

	return b.String()
}

func waitForEvent(events <-chan antiprimes.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

func computeNext(ctx context.Context, seq antiprimes.Sequence) tea.Cmd {
	return func() tea.Msg {
		_, result, err := seq.ComputeNext(ctx)
		return submitMsg{result: result, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tuiRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	lastStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)
