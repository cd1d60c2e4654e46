// Package dialogue produces the interviewer's next utterance.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/viva-pipeline/knowledge"
	"github.com/maastricht-university/viva-pipeline/logging"
	"github.com/maastricht-university/viva-pipeline/memory"
)

// ErrGeneration means the language model failed or returned no text.
var ErrGeneration = errors.New("generation failed")

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever answers top-k similarity queries over the knowledge base.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]knowledge.Match, error)
}

type Options struct {
	TopK            int
	MaxContextChars int
	Bank            *QuestionBank
	Select          Selector
	Log             logrus.FieldLogger
}

type Engine struct {
	gen   Generator
	index Retriever
	opts  Options
	log   logrus.FieldLogger
}

// New returns an engine. index may be nil, in which case replies are ungrounded.
func New(gen Generator, index Retriever, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 4000
	}
	if opts.Bank == nil {
		opts.Bank = DefaultBank()
	}
	if opts.Select == nil {
		opts.Select = RandomSelector
	}
	return &Engine{gen: gen, index: index, opts: opts, log: logging.Component(opts.Log, "dialogue")}
}

type Request struct {
	Subject    string
	Difficulty string
	// First is true for the session's first utterance.
	First   bool
	History []memory.Exchange
	// Question is the interviewer utterance the candidate is answering.
	Question  string
	Utterance string
}

type Reply struct {
	Text string
	// Context is the retrieved grounding, most relevant first.
	Context []string
	// Concepts are expected in the answer to Text, when known.
	Concepts []string
}

// Respond produces the next interviewer utterance. It does not record the
// exchange; the caller commits it once the whole unit has succeeded.
func (e *Engine) Respond(ctx context.Context, req Request) (Reply, error) {
	if req.First {
		q := e.opts.Bank.Opening(req.Subject, e.opts.Select)
		return Reply{Text: q.Text, Concepts: q.Concepts}, nil
	}

	var grounding []string
	if e.index != nil {
		matches, err := e.index.Query(ctx, req.Utterance, e.opts.TopK)
		if err != nil {
			e.log.WithError(err).Warn("retrieval failed, replying ungrounded")
		}
		for _, m := range matches {
			grounding = append(grounding, m.Text)
		}
	}

	prompt := BuildPrompt(req, grounding, e.opts.MaxContextChars)
	if e.gen == nil {
		return Reply{}, fmt.Errorf("%w: no generator configured", ErrGeneration)
	}
	text, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: empty reply", ErrGeneration)
	}
	return Reply{Text: text, Context: grounding}, nil
}
