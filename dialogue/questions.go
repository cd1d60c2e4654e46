package dialogue

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question is an opening question with the concepts a good answer covers.
type Question struct {
	Text     string   `yaml:"question" json:"question"`
	Concepts []string `yaml:"concepts" json:"concepts,omitempty"`
}

// QuestionBank maps a subject to its pool of opening questions.
type QuestionBank struct {
	Default  string                `yaml:"default"`
	Subjects map[string][]Question `yaml:"subjects"`
}

// Selector picks an index in [0, n). Tests inject a fixed one.
type Selector func(n int) int

// RandomSelector picks uniformly at random.
func RandomSelector(n int) int { return rand.IntN(n) }

// DefaultBank is the built-in DSA pool.
func DefaultBank() *QuestionBank {
	return &QuestionBank{
		Default: "DSA",
		Subjects: map[string][]Question{
			"DSA": {
				{Text: "Let's start with something fundamental. Can you explain what a linked list is?",
					Concepts: []string{"node", "pointer", "head"}},
				{Text: "Tell me about the difference between a stack and a queue.",
					Concepts: []string{"LIFO", "FIFO", "push", "pop"}},
				{Text: "Let's begin with arrays. How does dynamic array resizing work?",
					Concepts: []string{"capacity", "copy", "amortized"}},
				{Text: "Explain to me what time complexity means and why we care about it.",
					Concepts: []string{"input size", "big o", "growth"}},
				{Text: "Start by telling me about binary search trees.",
					Concepts: []string{"left subtree", "right subtree", "log n"}},
			},
		},
	}
}

// LoadQuestionBank reads a YAML bank. Subjects missing from the file fall
// back to the built-in pool at selection time.
func LoadQuestionBank(path string) (*QuestionBank, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var bank QuestionBank
	if err := yaml.Unmarshal(b, &bank); err != nil {
		return nil, fmt.Errorf("decode question bank %s: %w", path, err)
	}
	seen := map[string]string{}
	for subject, qs := range bank.Subjects {
		key := strings.ToLower(subject)
		if other, ok := seen[key]; ok {
			return nil, fmt.Errorf("question bank %s: subjects %q and %q differ only in case", path, other, subject)
		}
		seen[key] = subject
		kept := qs[:0]
		for _, q := range qs {
			if strings.TrimSpace(q.Text) != "" {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("question bank %s: subject %q has no questions", path, subject)
		}
		bank.Subjects[subject] = kept
	}
	return &bank, nil
}

// Pool returns the questions for subject, matching exactly and then
// case-insensitively, then the bank default, then the built-in pool.
func (b *QuestionBank) Pool(subject string) []Question {
	if b != nil {
		subject = strings.TrimSpace(subject)
		if qs := b.Subjects[subject]; len(qs) > 0 {
			return qs
		}
		var names []string
		for name := range b.Subjects {
			if strings.EqualFold(name, subject) {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			slices.Sort(names)
			return b.Subjects[names[0]]
		}
		if qs := b.Subjects[b.Default]; len(qs) > 0 {
			return qs
		}
	}
	return DefaultBank().Subjects["DSA"]
}

// Opening picks one opening question for subject.
func (b *QuestionBank) Opening(subject string, pick Selector) Question {
	pool := b.Pool(subject)
	if pick == nil {
		pick = RandomSelector
	}
	i := pick(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}
