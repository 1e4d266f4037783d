package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/toolwave/dispatch/internal/call"
	"github.com/toolwave/dispatch/internal/scheduler"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = map[call.Status]lipgloss.Style{
		call.StatusQueued:           lipgloss.NewStyle().Faint(true),
		call.StatusAwaitingApproval: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		call.StatusApproved:         lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		call.StatusExecuting:        lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		call.StatusSuccess:          lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		call.StatusError:            lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		call.StatusCancelled:        lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	hintStyle = lipgloss.NewStyle().Faint(true)
)

// Bubble Tea messages delivered from the scheduler goroutines.
type (
	eventMsg   struct{ ev call.Event }
	confirmMsg struct{}
	doneMsg    struct{}
)

// channelConfirmer bridges the scheduler's blocking confirmation and edit
// calls into the console's event loop, the same request/response channel
// shape the approval prompt needs on both sides.
type channelConfirmer struct {
	mu      sync.Mutex
	pending *pendingPrompt

	// notify pokes the console when a new prompt is waiting.
	notify func()
}

type pendingPrompt struct {
	// Exactly one of these is active per prompt.
	confirm *scheduler.ConfirmationRequest
	edit    *editRequest

	outcomeC chan call.Outcome
	editC    chan editResult
}

type editRequest struct {
	toolName string
	args     map[string]any
}

type editResult struct {
	args map[string]any
	err  error
}

func newChannelConfirmer() *channelConfirmer {
	return &channelConfirmer{}
}

// Confirm implements scheduler.Confirmer.
func (c *channelConfirmer) Confirm(ctx context.Context, req scheduler.ConfirmationRequest) (call.Outcome, error) {
	p := &pendingPrompt{confirm: &req, outcomeC: make(chan call.Outcome, 1)}
	c.post(p)
	select {
	case outcome := <-p.outcomeC:
		return outcome, nil
	case <-ctx.Done():
		c.clear(p)
		return "", ctx.Err()
	}
}

// EditArgs implements scheduler.ArgEditor.
func (c *channelConfirmer) EditArgs(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	p := &pendingPrompt{
		edit:  &editRequest{toolName: toolName, args: args},
		editC: make(chan editResult, 1),
	}
	c.post(p)
	select {
	case res := <-p.editC:
		return res.args, res.err
	case <-ctx.Done():
		c.clear(p)
		return nil, ctx.Err()
	}
}

func (c *channelConfirmer) post(p *pendingPrompt) {
	c.mu.Lock()
	c.pending = p
	notify := c.notify
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (c *channelConfirmer) take() *pendingPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *channelConfirmer) clear(p *pendingPrompt) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// row is one tool call's line in the progress table.
type row struct {
	callID string
	name   string
	status call.Status
	pid    int
	note   string
}

// console is the Bubble Tea model for the approval console.
type console struct {
	rows      []row
	rowIndex  map[string]int
	confirmer *channelConfirmer

	prompt *pendingPrompt
	input  textinput.Model
	errMsg string
	done   bool
}

func newConsole(requests []call.Request, _ <-chan call.Event, confirmer *channelConfirmer) *console {
	rows := make([]row, 0, len(requests))
	index := make(map[string]int, len(requests))
	for i, req := range requests {
		rows = append(rows, row{callID: req.CallID, name: req.Name, status: call.StatusQueued})
		index[req.CallID] = i
	}
	ti := textinput.New()
	ti.Prompt = "args> "
	ti.CharLimit = 0
	return &console{rows: rows, rowIndex: index, confirmer: confirmer, input: ti}
}

func (m *console) Init() tea.Cmd { return nil }

func (m *console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(msg.ev)
		return m, nil

	case confirmMsg:
		m.prompt = m.confirmer.take()
		m.errMsg = ""
		if m.prompt != nil && m.prompt.edit != nil {
			data, _ := json.Marshal(m.prompt.edit.args)
			m.input.SetValue(string(data))
			m.input.Focus()
			return m, textinput.Blink
		}
		return m, nil

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *console) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.prompt == nil {
		return m, nil
	}

	// Edit mode: the textinput owns the keyboard until enter or esc.
	if m.prompt.edit != nil {
		switch msg.Type {
		case tea.KeyEnter:
			var args map[string]any
			if err := json.Unmarshal([]byte(m.input.Value()), &args); err != nil {
				m.errMsg = fmt.Sprintf("invalid JSON: %v", err)
				return m, nil
			}
			m.prompt.editC <- editResult{args: args}
			m.prompt = nil
			m.input.Blur()
			return m, nil
		case tea.KeyEsc:
			m.prompt.editC <- editResult{err: fmt.Errorf("edit cancelled")}
			m.prompt = nil
			m.input.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "y":
		m.resolve(call.OutcomeAllowOnce)
	case "a":
		m.resolve(call.OutcomeAllowAlways)
	case "n":
		m.resolve(call.OutcomeDeny)
	case "e":
		m.resolve(call.OutcomeModify)
	}
	return m, nil
}

func (m *console) resolve(outcome call.Outcome) {
	if m.prompt != nil && m.prompt.confirm != nil {
		m.prompt.outcomeC <- outcome
		m.prompt = nil
	}
}

func (m *console) apply(ev call.Event) {
	upd, ok := ev.(call.UpdateEvent)
	if !ok {
		return
	}
	snap := upd.Call
	i, ok := m.rowIndex[snap.Request.CallID]
	if !ok {
		m.rows = append(m.rows, row{callID: snap.Request.CallID, name: snap.Request.Name})
		i = len(m.rows) - 1
		m.rowIndex[snap.Request.CallID] = i
	}
	m.rows[i].status = snap.Status
	m.rows[i].pid = snap.PID
	if snap.Response != nil && snap.Response.ErrorMessage != "" {
		m.rows[i].note = snap.Response.ErrorMessage
	}
}

func (m *console) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("dispatch"))
	b.WriteString("\n\n")

	for _, r := range m.rows {
		style, ok := statusStyle[r.status]
		if !ok {
			style = lipgloss.NewStyle()
		}
		line := fmt.Sprintf("%-24s %s", r.name, style.Render(r.status.String()))
		if r.pid > 0 && r.status == call.StatusExecuting {
			line += hintStyle.Render(fmt.Sprintf("  pid %d", r.pid))
		}
		if r.note != "" {
			line += hintStyle.Render("  " + r.note)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if m.prompt != nil {
		b.WriteByte('\n')
		b.WriteString(m.renderPrompt())
		b.WriteByte('\n')
	}
	if m.done {
		b.WriteString(hintStyle.Render("\nAll calls completed.\n"))
	}
	return b.String()
}

func (m *console) renderPrompt() string {
	if m.prompt.edit != nil {
		var lines []string
		lines = append(lines, titleStyle.Render(fmt.Sprintf("Edit arguments for %s", m.prompt.edit.toolName)))
		lines = append(lines, m.input.View())
		if m.errMsg != "" {
			lines = append(lines, statusStyle[call.StatusError].Render(m.errMsg))
		}
		lines = append(lines, hintStyle.Render("Enter: apply  Esc: keep original"))
		return boxStyle.Render(strings.Join(lines, "\n"))
	}

	req := m.prompt.confirm
	lines := []string{
		titleStyle.Render("Approval required"),
		req.Description,
		hintStyle.Render("y: allow once  a: allow always  n: deny  e: edit args"),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
