package quiz

import "quizzify/internal/models"

// Navigator is a cursor over a non-empty bank. Advancing wraps at both ends.
// It is owned by a single session and is not safe for concurrent use.
type Navigator struct {
	bank    *models.QuizBank
	current int
}

func NewNavigator(bank *models.QuizBank) (*Navigator, error) {
	if bank.Len() == 0 {
		return nil, models.ErrEmptyBank
	}
	return &Navigator{bank: bank}, nil
}

// Advance moves by direction steps modulo the bank size and returns the new index
func (n *Navigator) Advance(direction int) int {
	size := len(n.bank.Questions)
	// reduce before adding so extreme directions cannot overflow
	d := direction % size
	n.current = ((n.current+d)%size + size) % size
	return n.current
}

func (n *Navigator) Current() models.Question {
	return n.bank.Questions[n.current]
}

// Evaluate reports whether key is the answer key of the current question
func (n *Navigator) Evaluate(key string) bool {
	return key == n.Current().Answer
}

func (n *Navigator) Index() int { return n.current }

func (n *Navigator) Len() int { return len(n.bank.Questions) }

func (n *Navigator) Bank() *models.QuizBank { return n.bank }
