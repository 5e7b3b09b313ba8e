package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"quizzify/internal/models"
)

func testBank() *models.QuizBank {
	choices := []models.Choice{{Key: "A", Value: "Light"}, {Key: "B", Value: "Sound"}, {Key: "C", Value: "Heat"}, {Key: "D", Value: "Wind"}}
	return &models.QuizBank{
		Topic:          "Photosynthesis",
		RequestedCount: 3,
		Questions: []models.Question{
			{Question: "Q one?", Choices: choices, Answer: "A", Explanation: "Because one."},
			{Question: "Q two?", Choices: choices, Answer: "B", Explanation: "Because two."},
			{Question: "Q three?", Choices: choices, Answer: "C", Explanation: "Because three."},
		},
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
	}
	return m, cmd
}

func TestNewRejectsEmptyBank(t *testing.T) {
	if _, err := New(&models.QuizBank{}); !errors.Is(err, models.ErrEmptyBank) {
		t.Fatalf("expected ErrEmptyBank, got %v", err)
	}
}

func TestNavigationWraps(t *testing.T) {
	m, err := New(testBank())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	if m.nav.Index() != 2 {
		t.Fatalf("left from first should wrap to last, got %d", m.nav.Index())
	}
	m, _ = send(t, m, runes("l"), tea.KeyMsg{Type: tea.KeyRight}, runes("l"))
	if m.nav.Index() != 2 {
		t.Fatalf("three steps forward should return to 2, got %d", m.nav.Index())
	}
	m, _ = send(t, m, runes("h"))
	if !strings.Contains(m.View(), "Q two?") {
		t.Errorf("view should show the second question:\n%s", m.View())
	}
}

func TestSubmitEvaluatesSelection(t *testing.T) {
	m, _ := New(testBank())

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.status != "Pick an answer first." {
		t.Errorf("status = %q", m.status)
	}

	m, _ = send(t, m, runes("b"), tea.KeyMsg{Type: tea.KeyEnter})
	if m.status != "Incorrect!" || m.answered[0] {
		t.Errorf("B should be wrong for the first question, status %q", m.status)
	}

	m, _ = send(t, m, runes("1"), tea.KeyMsg{Type: tea.KeyEnter})
	if m.status != "Correct!" || !m.answered[0] {
		t.Errorf("1 selects A which is correct, status %q", m.status)
	}
	if !strings.Contains(m.View(), "Because one.") {
		t.Errorf("explanation should be shown after submit")
	}
	if correct, total := m.Score(); correct != 1 || total != 3 {
		t.Errorf("score = %d/%d", correct, total)
	}
}

func TestQuit(t *testing.T) {
	m, _ := New(testBank())
	_, cmd := send(t, m, runes("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("expected tea.QuitMsg")
	}
}
