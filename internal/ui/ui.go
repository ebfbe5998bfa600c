package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"daycap/internal/config"
	"daycap/internal/rollover"
	"daycap/internal/schedule"
	"daycap/internal/undo"
)

type mode int

const (
	modeList mode = iota
	modeAdd
	modeEdit
)

type pane int

const (
	paneToday pane = iota
	paneBacklog
)

type tickMsg struct{}

type rolloverMsg struct {
	res rollover.TickResult
	err error
}

type Model struct {
	sched *schedule.Scheduler
	job   *rollover.Job
	cfg   config.Config

	today   []schedule.Task
	backlog []schedule.Task
	pane    pane
	cursor  int

	mode         mode
	input        textinput.Model
	addToBacklog bool
	editID       string

	confirmPurge bool
	pendingPurge *schedule.Task

	status  string
	focused bool
	ticking bool
}

// New builds the model. job may be nil, in which case no rollover runs
// from the UI.
func New(sched *schedule.Scheduler, job *rollover.Job, cfg config.Config) Model {
	ti := textinput.New()
	ti.Placeholder = "Task"
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		sched:   sched,
		job:     job,
		cfg:     cfg,
		input:   ti,
		mode:    modeList,
		focused: true,
		ticking: job != nil,
		status:  fmt.Sprintf("Press '%s' to add for today, '%s' for the backlog.", cfg.Keys.Add, cfg.Keys.AddBacklog),
	}
	m.reload()
	return m
}

func Run(sched *schedule.Scheduler, job *rollover.Job, cfg config.Config) error {
	program := tea.NewProgram(New(sched, job, cfg), tea.WithReportFocus())
	_, err := program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	if m.job == nil {
		return nil
	}
	return tea.Batch(m.rolloverCmd(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	interval := m.cfg.Rollover.Interval.Duration
	if interval <= 0 {
		interval = rollover.DefaultInterval
	}
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) rolloverCmd() tea.Cmd {
	job := m.job
	return func() tea.Msg {
		res, err := job.Tick()
		return rolloverMsg{res: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.confirmPurge {
			return m.updatePurgeConfirm(msg.String())
		}
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	case tea.FocusMsg:
		return m.setFocus(true)
	case tea.BlurMsg:
		return m.setFocus(false)
	case tickMsg:
		if m.job == nil || !m.focused {
			m.ticking = false
			return m, nil
		}
		return m, tea.Batch(m.rolloverCmd(), m.tickCmd())
	case rolloverMsg:
		return m.handleRollover(msg)
	}
	return m, nil
}

// setFocus pauses the rollover tick while the terminal is in the
// background and catches up as soon as it comes back.
func (m Model) setFocus(focused bool) (tea.Model, tea.Cmd) {
	m.focused = focused
	if m.job == nil {
		return m, nil
	}
	m.job.SetVisible(focused)
	if !focused {
		return m, nil
	}
	m.reload()
	if m.ticking {
		return m, m.rolloverCmd()
	}
	m.ticking = true
	return m, tea.Batch(m.rolloverCmd(), m.tickCmd())
}

func (m Model) handleRollover(msg rolloverMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		log.Error().Err(msg.err).Msg("rollover from ui failed")
		m.status = "Rollover failed; it will be retried."
		return m, nil
	}
	if n := len(msg.res.MovedIDs); n > 0 {
		m.reload()
		m.status = fmt.Sprintf("Moved %d unfinished %s from %s to the backlog.",
			n, plural(n, "task", "tasks"), msg.res.Day.Format(m.sched.Location()))
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeAdd, modeEdit:
		return m.updateInputMode(key, msg)
	}
	return m.updateListMode(key)
}

func (m Model) updateInputMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.leaveInput()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.status = schedule.UserMessage(schedule.ErrInvalid)
			return m, nil
		}
		var err error
		if m.mode == modeAdd {
			today := m.sched.Today()
			date := &today
			if m.addToBacklog {
				date = nil
			}
			_, err = m.sched.Add(text, date, schedule.Flags{})
		} else {
			err = m.sched.SetText(m.editID, text)
		}
		if err != nil {
			m.status = schedule.UserMessage(err)
			return m, nil
		}
		if m.mode == modeAdd {
			m.status = "Added task"
		} else {
			m.status = "Saved"
		}
		m.leaveInput()
		m.reload()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) leaveInput() {
	m.mode = modeList
	m.input.SetValue("")
	m.input.Blur()
	m.editID = ""
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	k := m.cfg.Keys
	switch key {
	case "ctrl+c", k.Quit:
		return m, tea.Quit
	case k.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(m.visible()))
	case k.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(m.visible()))
	case k.SwitchPane:
		if m.pane == paneToday {
			m.pane = paneBacklog
		} else {
			m.pane = paneToday
		}
		m.cursor = clampCursor(m.cursor, len(m.visible()))
	case k.Add, k.AddBacklog:
		m.mode = modeAdd
		m.addToBacklog = key == k.AddBacklog
		m.input.Placeholder = "Task for today"
		if m.addToBacklog {
			m.input.Placeholder = "Task for the backlog"
		}
		m.input.Focus()
		m.status = "Type a task and press Enter"
	case k.Undo:
		label, err := m.sched.Undo()
		m.status = ledgerStatus("Undid", label, err)
		m.reload()
	case k.Redo:
		label, err := m.sched.Redo()
		m.status = ledgerStatus("Redid", label, err)
		m.reload()
	case k.Retry:
		if err := m.sched.Flush(); err != nil {
			m.status = schedule.UserMessage(err)
		} else {
			m.status = "Saved"
		}
	default:
		return m.updateSelection(key)
	}
	return m, nil
}

// updateSelection handles keys that act on the task under the cursor.
func (m Model) updateSelection(key string) (tea.Model, tea.Cmd) {
	k := m.cfg.Keys
	task, ok := m.selected()
	if !ok {
		return m, nil
	}
	var err error
	switch key {
	case k.Toggle:
		if task.State == schedule.StateCompleted {
			err = m.sched.Uncomplete(task.ID)
			m.status = "Reopened task"
		} else {
			err = m.sched.Complete(task.ID)
			m.status = "Completed task"
		}
	case k.Move:
		if task.InBacklog() {
			today := m.sched.Today()
			err = m.sched.SetDate(task.ID, &today)
			m.status = "Scheduled for today"
		} else {
			err = m.sched.ClearDate(task.ID)
			m.status = "Moved to backlog"
		}
	case k.Edit:
		if task.State == schedule.StateCompleted {
			m.status = schedule.UserMessage(schedule.ErrCompletedImmutable)
			return m, nil
		}
		m.mode = modeEdit
		m.editID = task.ID
		m.input.SetValue(task.Text)
		m.input.Focus()
		m.status = "Edit the task and press Enter"
		return m, nil
	case k.Urgent, k.Important:
		flags := task.Flags
		if key == k.Urgent {
			flags.Urgent = !flags.Urgent
		} else {
			flags.Important = !flags.Important
		}
		err = m.sched.SetFlags(task.ID, flags)
		m.status = "Priority: " + schedule.QuadrantOf(flags).String()
	case k.Delete:
		err = m.sched.SoftDelete(task.ID)
		m.status = fmt.Sprintf("Deleted. Press '%s' to undo.", k.Undo)
	case k.Purge:
		m.confirmPurge = true
		m.pendingPurge = &task
		m.status = fmt.Sprintf("Delete %q permanently? y/n", task.Text)
		return m, nil
	default:
		return m, nil
	}
	if err != nil {
		m.status = schedule.UserMessage(err)
	}
	m.reload()
	return m, nil
}

func (m Model) updatePurgeConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", m.cfg.Keys.Cancel:
		m.status = "Delete cancelled"
	case "y", "Y":
		if m.pendingPurge == nil {
			m.status = "Nothing to delete"
			break
		}
		if err := m.sched.Purge(m.pendingPurge.ID); err != nil {
			m.status = schedule.UserMessage(err)
		} else {
			m.status = "Deleted task permanently"
		}
		m.reload()
	default:
		return m, nil
	}
	m.confirmPurge = false
	m.pendingPurge = nil
	return m, nil
}

func ledgerStatus(verb, label string, err error) string {
	switch {
	case err == nil:
		return verb + ": " + label
	case errors.Is(err, undo.ErrExpired):
		return "Too late to undo that."
	case errors.Is(err, undo.ErrEmpty), errors.Is(err, undo.ErrAlreadyApplied):
		if verb == "Undid" {
			return "Nothing to undo"
		}
		return "Nothing to redo"
	default:
		return schedule.UserMessage(err)
	}
}

func (m *Model) reload() {
	m.today = m.sched.ListByDay(m.sched.Today())
	m.backlog = m.sched.ListBacklog()
	m.cursor = clampCursor(m.cursor, len(m.visible()))
}

func (m Model) visible() []schedule.Task {
	if m.pane == paneBacklog {
		return m.backlog
	}
	return m.today
}

func (m Model) selected() (schedule.Task, bool) {
	tasks := m.visible()
	if len(tasks) == 0 {
		return schedule.Task{}, false
	}
	return tasks[clampCursor(m.cursor, len(tasks))], true
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
