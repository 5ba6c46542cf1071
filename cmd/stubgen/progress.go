package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/wippyai/wasm-rpc-stubgen/workspace"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type eventMsg workspace.Event

type finishedMsg struct{}

// progressModel lists the steps of a workspace run with their live status.
type progressModel struct {
	spinner     spinner.Model
	events      <-chan workspace.Event
	steps       []workspace.Step
	status      map[string]workspace.Status
	errs        map[string]error
	runID       string
	done        bool
	interrupted bool
}

func newProgressModel(p *workspace.Plan, events <-chan workspace.Event) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = pathStyle
	return progressModel{
		spinner: s,
		events:  events,
		steps:   p.Steps,
		status:  make(map[string]workspace.Status, len(p.Steps)),
		errs:    make(map[string]error),
	}
}

func waitEvent(events <-chan workspace.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return finishedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitEvent(m.events))
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.interrupted = true
			return m, tea.Quit
		}
	case eventMsg:
		m.runID = msg.RunID
		m.status[msg.Step] = msg.Status
		if msg.Err != nil {
			m.errs[msg.Step] = msg.Err
		}
		return m, waitEvent(m.events)
	case finishedMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	title := "building workspace"
	if m.runID != "" {
		title += " " + dimStyle.Render(m.runID)
	}
	b.WriteString(title + "\n\n")
	for _, s := range m.steps {
		st, seen := m.status[s.Name]
		var mark string
		switch {
		case !seen:
			mark = dimStyle.Render("·")
		case st == workspace.StatusStarted:
			mark = m.spinner.View()
		case st == workspace.StatusSucceeded:
			mark = okStyle.Render("✓")
		case st == workspace.StatusFailed:
			mark = errorStyle.Render("✗")
		default:
			mark = skipStyle.Render("-")
		}
		fmt.Fprintf(&b, "%s %s %s\n", mark, s.Name, dimStyle.Render(s.Kind.String()))
		if err, ok := m.errs[s.Name]; ok {
			line, _, _ := strings.Cut(err.Error(), "\n")
			fmt.Fprintf(&b, "    %s\n", errorStyle.Render(line))
		}
	}
	if !m.done && !m.interrupted {
		b.WriteString(dimStyle.Render("\nctrl+c to cancel") + "\n")
	}
	return b.String()
}
