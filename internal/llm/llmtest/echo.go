// Package llmtest provides a deterministic stand-in for the chat model.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/bull/repo-runner/internal/llm"
)

// EchoGenerator answers with the text of the passages it was given.
type EchoGenerator struct {
	mu        sync.Mutex
	err       error
	questions []string
	passages  [][]llm.Passage
}

// FailWith makes subsequent calls return err.
func (g *EchoGenerator) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Questions returns the questions asked so far.
func (g *EchoGenerator) Questions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.questions...)
}

// LastPassages returns the passages of the most recent call.
func (g *EchoGenerator) LastPassages() []llm.Passage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.passages) == 0 {
		return nil
	}
	return g.passages[len(g.passages)-1]
}

func (g *EchoGenerator) Answer(ctx context.Context, question string, passages []llm.Passage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.questions = append(g.questions, question)
	g.passages = append(g.passages, passages)

	if len(passages) == 0 {
		return "I could not find that in the repository.", nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	return "From the repository: " + strings.Join(texts, "\n"), nil
}
