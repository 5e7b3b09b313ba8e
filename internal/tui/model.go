package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"quizzify/internal/models"
	"quizzify/internal/quiz"
)

type keyMap struct {
	Prev   key.Binding
	Next   key.Binding
	Choose key.Binding
	Submit key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Prev, k.Next, k.Choose, k.Submit, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Prev:   key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "previous")),
	Next:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next")),
	Choose: key.NewBinding(key.WithKeys("a", "b", "c", "d", "1", "2", "3", "4"), key.WithHelp("a-d", "choose")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

// choiceFor maps a pressed key to a choice key
var choiceFor = map[string]string{
	"a": "A", "b": "B", "c": "C", "d": "D",
	"1": "A", "2": "B", "3": "C", "4": "D",
}

// Model is the Bubble Tea model walking a quiz bank one question at a time.
type Model struct {
	nav      *quiz.Navigator
	help     help.Model
	selected map[int]string
	answered map[int]bool
	status   string
}

// New creates the model over a non-empty bank
func New(bank *models.QuizBank) (Model, error) {
	nav, err := quiz.NewNavigator(bank)
	if err != nil {
		return Model{}, err
	}
	return Model{
		nav:      nav,
		help:     help.New(),
		selected: make(map[int]string),
		answered: make(map[int]bool),
		status:   "Choose an answer with a-d, submit with enter.",
	}, nil
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Prev):
			m.nav.Advance(-1)
			m.status = ""
		case key.Matches(msg, keys.Next):
			m.nav.Advance(+1)
			m.status = ""
		case key.Matches(msg, keys.Choose):
			idx := m.nav.Index()
			m.selected[idx] = choiceFor[msg.String()]
			delete(m.answered, idx)
			m.status = ""
		case key.Matches(msg, keys.Submit):
			idx := m.nav.Index()
			choice, ok := m.selected[idx]
			if !ok {
				m.status = "Pick an answer first."
				return m, nil
			}
			correct := m.nav.Evaluate(choice)
			m.answered[idx] = correct
			if correct {
				m.status = "Correct!"
			} else {
				m.status = "Incorrect!"
			}
		}
	}
	return m, nil
}

// Score returns the number of correct submissions and the bank size
func (m Model) Score() (int, int) {
	correct := 0
	for _, ok := range m.answered {
		if ok {
			correct++
		}
	}
	return correct, m.nav.Len()
}

func (m Model) View() string {
	idx := m.nav.Index()
	q := m.nav.Current()
	correct, total := m.Score()

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  (%d/%d)", m.nav.Bank().Topic, idx+1, total)))
	b.WriteString(scoreStyle.Render(fmt.Sprintf("  score %d/%d", correct, total)))
	b.WriteString("\n\n")
	b.WriteString(questionStyle.Render(q.Question))
	b.WriteString("\n\n")

	_, submitted := m.answered[idx]
	for _, c := range q.Choices {
		marker := "  "
		if m.selected[idx] == c.Key {
			marker = "> "
		}
		line := fmt.Sprintf("%s%s) %s", marker, c.Key, c.Value)
		switch {
		case submitted && c.Key == q.Answer:
			line = correctStyle.Render(line)
		case submitted && m.selected[idx] == c.Key:
			line = wrongStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	if submitted {
		b.WriteString("\n" + explanationStyle.Render(q.Explanation) + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.help.View(keys))
	return b.String()
}

var (
	headerStyle      = lipgloss.NewStyle().Bold(true)
	scoreStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	questionStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	correctStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	wrongStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	explanationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
