package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"daycap/internal/config"
	"daycap/internal/schedule"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5E7EB"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#93C5FD"))

	inactiveHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	fullStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Strikethrough(true)

	faintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	flagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#B91C1C")).
			Padding(0, 1)
)

func (m Model) View() string {
	var b strings.Builder
	loc := m.sched.Location()

	b.WriteString(titleStyle.Render("daycap · " + m.sched.Today().Time(loc).Format("Mon 2006-01-02")))
	b.WriteString("\n")
	if err := m.sched.PersistErr(); err != nil {
		b.WriteString(bannerStyle.Render(fmt.Sprintf("%s Press '%s' to retry.", schedule.UserMessage(err), m.cfg.Keys.Retry)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderHeader(paneToday, m.todayTitle()))
	b.WriteString("\n")
	if len(m.today) == 0 {
		b.WriteString(faintStyle.Render("  Nothing planned today."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTaskList(paneToday, m.today))
	}
	b.WriteString("\n")

	b.WriteString(m.renderHeader(paneBacklog, fmt.Sprintf("Backlog (%d)", len(m.backlog))))
	b.WriteString("\n")
	if len(m.backlog) == 0 {
		b.WriteString(faintStyle.Render("  Backlog is empty."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTaskList(paneBacklog, m.backlog))
	}

	b.WriteString("\n---\n")
	if m.mode != modeList {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(faintStyle.Render(renderHelp(m.cfg.Keys)))

	return b.String()
}

func (m Model) todayTitle() string {
	title := fmt.Sprintf("Today %d/%d", len(m.today), m.sched.Cap())
	if len(m.today) >= m.sched.Cap() {
		title += " " + fullStyle.Render("full")
	}
	return title
}

func (m Model) renderHeader(p pane, title string) string {
	if m.pane == p {
		return headerStyle.Render(title)
	}
	return inactiveHeaderStyle.Render(title)
}

func (m Model) renderTaskList(p pane, tasks []schedule.Task) string {
	loc := m.sched.Location()
	var b strings.Builder
	for i, t := range tasks {
		cursor := " "
		if m.pane == p && m.cursor == i && m.mode == modeList {
			cursor = ">"
		}

		checkbox := "[ ]"
		text := t.Text
		if t.State == schedule.StateCompleted {
			checkbox = "[x]"
			text = doneStyle.Render(text)
		}

		body := fmt.Sprintf("%s %s %s", cursor, checkbox, text)
		if marks := flagMarks(t.Flags); marks != "" {
			body += " " + flagStyle.Render(marks)
		}
		if t.RolledFromDate != nil {
			body += " " + faintStyle.Render("from "+t.RolledFromDate.Format(loc))
		} else if t.ReplacedByID != "" {
			body += " " + faintStyle.Render("bumped")
		}

		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func flagMarks(f schedule.Flags) string {
	var s string
	if f.Urgent {
		s += "!"
	}
	if f.Important {
		s += "*"
	}
	return s
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s switch • %s add • %s backlog add • %s toggle • %s today/backlog • %s edit • %s delete • %s purge • %s undo • %s redo • %s quit",
		k.Up, k.Down, k.SwitchPane, k.Add, k.AddBacklog, keyName(k.Toggle), k.Move, k.Edit, k.Delete, k.Purge, k.Undo, k.Redo, k.Quit)
}

func keyName(k string) string {
	if k == " " {
		return "space"
	}
	return k
}
