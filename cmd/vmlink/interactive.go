package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/vmlink/vmlink/guest/guesttest"
	"github.com/vmlink/vmlink/vm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	targetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectTarget modelState = iota
	stateInputPayload
	stateShowResult
)

type demoTarget struct {
	name string
	hint string
}

type interactiveModel struct {
	vm   *vm.VM
	fake *guesttest.PinningFake
	log  *zap.Logger

	targets  []demoTarget
	selected int
	async    bool
	input    textinput.Model
	state    modelState

	result string
	err    error
}

type startedMsg struct {
	err error
}

type callResultMsg struct {
	async  bool
	result string
	err    error
}

func newInteractiveModel(logger *zap.Logger) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "integer or empty"
	ti.Prompt = "payload: "
	ti.Width = 24

	return &interactiveModel{
		log:   logger,
		input: ti,
		targets: []demoTarget{
			{name: "increment", hint: "shared counter, ignores payload"},
			{name: "compute", hint: "integer in, 3n+1 out"},
			{name: "boom", hint: "always raises"},
		},
		state: stateSelectTarget,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.start
}

// start brings the scripted guest through the full lifecycle in Threaded
// mode so every call from the TUI goes through the worker queue.
func (m *interactiveModel) start() tea.Msg {
	ctx := context.Background()

	fake, _ := newDemoGuest()
	v, err := vm.New(fake, vm.WithLogger(m.log))
	if err != nil {
		return startedMsg{err: err}
	}
	if err := v.SetMode(vm.ModeThreaded); err != nil {
		return startedMsg{err: err}
	}
	if err := v.Initialize(ctx, nil); err != nil {
		return startedMsg{err: err}
	}
	if err := v.Load(ctx, []byte("scripted guest")); err != nil {
		return startedMsg{err: err}
	}
	if err := v.StartWorker(); err != nil {
		return startedMsg{err: err}
	}

	m.vm = v
	m.fake = fake
	return startedMsg{}
}

func (m *interactiveModel) teardown() {
	ctx := context.Background()
	if m.vm == nil {
		return
	}
	if m.vm.WorkerRunning() {
		m.vm.StopWorker() //nolint:errcheck
	}
	m.vm.Destroy(ctx) //nolint:errcheck
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.teardown()
			return m, tea.Quit
		}

		switch m.state {
		case stateSelectTarget:
			switch msg.String() {
			case "q":
				m.teardown()
				return m, tea.Quit

			case "up", "k":
				if m.selected > 0 {
					m.selected--
				}

			case "down", "j":
				if m.selected < len(m.targets)-1 {
					m.selected++
				}

			case "enter":
				m.async = false
				m.prepareInput()

			case "a":
				m.async = true
				m.prepareInput()

			case "p":
				if m.vm != nil {
					m.vm.Pump()
				}
			}

		case stateInputPayload:
			switch msg.String() {
			case "enter":
				return m, m.callTarget

			case "esc":
				m.state = stateSelectTarget
				m.input.Blur()

			default:
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				return m, cmd
			}

		case stateShowResult:
			switch msg.String() {
			case "q":
				m.teardown()
				return m, tea.Quit
			case "enter", "esc":
				m.state = stateSelectTarget
				m.result = ""
				m.err = nil
			}
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = stateShowResult
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	return m, nil
}

func (m *interactiveModel) prepareInput() {
	m.input.SetValue("")
	m.input.Focus()
	m.state = stateInputPayload
}

// callTarget runs the selected call against the worker. The asynchronous
// path still resolves to a single message: the completion callback feeds a
// channel this command waits on, so the TUI sees exactly one outcome.
func (m *interactiveModel) callTarget() tea.Msg {
	ctx := context.Background()
	target := m.targets[m.selected].name

	payload, err := parsePayload(strings.TrimSpace(m.input.Value()))
	if err != nil {
		return callResultMsg{err: err}
	}

	if !m.async {
		result, err := m.vm.CallSync(ctx, target, payload)
		return callResultMsg{result: fmt.Sprintf("%v", result), err: err}
	}

	done := make(chan callResultMsg, 1)
	err = m.vm.CallAsync(ctx, target, payload, func(result any, err error) {
		done <- callResultMsg{async: true, result: fmt.Sprintf("%v", result), err: err}
	})
	if err != nil {
		return callResultMsg{async: true, err: err}
	}
	return <-done
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("vmlink demo guest"))
	b.WriteString("\n\n")

	if m.vm != nil {
		s := m.vm.Stats()
		b.WriteString(statsStyle.Render(fmt.Sprintf(
			"state=%s mode=%s worker=%s queue=%d/%d executed=%d pumps=%d",
			s.State, s.Mode, s.Worker, s.QueueDepth, s.QueueCapacity, s.Executed, s.Pumps)))
		b.WriteString("\n")
		if lastErr := m.vm.LastError(); lastErr != "" {
			b.WriteString(errorStyle.Render("last error: " + lastErr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	switch m.state {
	case stateSelectTarget:
		b.WriteString("Select a guest target:\n\n")
		for i, t := range m.targets {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + t.name))
			} else {
				b.WriteString("  " + targetStyle.Render(t.name))
			}
			b.WriteString("  " + helpStyle.Render(t.hint))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter sync call • a async call • p pump • q quit"))

	case stateInputPayload:
		kind := "sync"
		if m.async {
			kind = "async"
		}
		b.WriteString(fmt.Sprintf("%s call to %s\n\n", kind, targetStyle.Render(m.targets[m.selected].name)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			label := "Result"
			if m.async {
				label = "Async result"
			}
			b.WriteString(fmt.Sprintf("%s: %s", label, resultStyle.Render(m.result)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(logger *zap.Logger) error {
	p := tea.NewProgram(newInteractiveModel(logger), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
