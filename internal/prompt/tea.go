package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func chooseTea(ctx context.Context, in io.Reader, out io.Writer, title string, options []string) (int, error) {
	model := newListModel(title, options, newListTheme(supportsColor(out)))
	prog := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithContext(ctx))

	final, err := prog.Run()
	if err != nil {
		return 0, fmt.Errorf("run selection ui: %w", err)
	}
	m, ok := final.(*listModel)
	if !ok {
		return 0, fmt.Errorf("run selection ui: unexpected model")
	}
	if m.aborted {
		return 0, ErrAborted
	}
	return m.cursor, nil
}

type listTheme struct {
	color          bool
	title          lipgloss.Style
	option         lipgloss.Style
	optionActive   lipgloss.Style
	help           lipgloss.Style
	prefixActive   string
	prefixInactive string
}

func newListTheme(color bool) listTheme {
	if !color {
		return listTheme{
			color:          false,
			title:          lipgloss.NewStyle().Bold(true),
			option:         lipgloss.NewStyle().PaddingLeft(2),
			optionActive:   lipgloss.NewStyle().PaddingLeft(2).Bold(true),
			help:           lipgloss.NewStyle().Faint(true),
			prefixActive:   ">",
			prefixInactive: " ",
		}
	}

	accent := lipgloss.Color("#58a6ff")
	muted := lipgloss.Color("#9fb3c8")
	return listTheme{
		color:          true,
		title:          lipgloss.NewStyle().Foreground(accent).Bold(true),
		option:         lipgloss.NewStyle().PaddingLeft(2),
		optionActive:   lipgloss.NewStyle().PaddingLeft(2).Foreground(accent).Bold(true),
		help:           lipgloss.NewStyle().Faint(true),
		prefixActive:   lipgloss.NewStyle().Foreground(accent).Render("❯"),
		prefixInactive: lipgloss.NewStyle().Foreground(muted).Render(" "),
	}
}

type listModel struct {
	theme   listTheme
	title   string
	options []string
	cursor  int
	done    bool
	aborted bool
}

func newListModel(title string, options []string, theme listTheme) *listModel {
	return &listModel{theme: theme, title: title, options: options}
}

func (m *listModel) Init() tea.Cmd {
	return nil
}

func (m *listModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch strings.ToLower(msg.String()) {
		case "ctrl+c", "esc", "q":
			m.aborted = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.options)-1 {
				m.cursor++
			}
		case "enter":
			m.done = true
			return m, tea.Quit
		default:
			key := msg.String()
			if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
				idx := int(key[0] - '1')
				if idx < len(m.options) {
					m.cursor = idx
					m.done = true
					return m, tea.Quit
				}
			}
		}
	case tea.QuitMsg:
		return m, nil
	}
	return m, nil
}

func (m *listModel) View() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(m.theme.title.Render(m.title))
	b.WriteString("\n\n")
	for i, option := range m.options {
		prefix := m.theme.prefixInactive
		style := m.theme.option
		if i == m.cursor {
			prefix = m.theme.prefixActive
			style = m.theme.optionActive
		}
		b.WriteString(prefix)
		b.WriteString(style.Render(fmt.Sprintf("%d. %s", i+1, option)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.theme.help.Render("↑/↓ move · enter select · esc cancel"))
	b.WriteString("\n")
	return b.String()
}
