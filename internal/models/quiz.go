package models

// ChoiceKeys is the fixed alphabet of choice keys, in order
var ChoiceKeys = [4]string{"A", "B", "C", "D"}

// Choice is a single multiple-choice option
type Choice struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Question is a validated multiple-choice quiz question
type Question struct {
	Question    string   `json:"question"`
	Choices     []Choice `json:"choices"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

// Choice returns the choice with the given key
func (q Question) Choice(key string) (Choice, bool) {
	for _, c := range q.Choices {
		if c.Key == key {
			return c, true
		}
	}
	return Choice{}, false
}

// QuizBank is the complete question set of one quiz session.
// A bank is only ever handed out with len(Questions) == RequestedCount.
type QuizBank struct {
	Topic          string     `json:"topic"`
	RequestedCount int        `json:"requested_count"`
	Questions      []Question `json:"questions"`
}

// Len returns the number of questions in the bank
func (b *QuizBank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Questions)
}
