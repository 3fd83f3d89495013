package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/bull/repo-runner/internal/embedding"
)

// DefaultMaxContextTokens is the retrieved-context budget before truncation (in tokens).
const DefaultMaxContextTokens = 16000

// ErrEmptyCompletion is returned when the model answers with no choices.
var ErrEmptyCompletion = errors.New("model returned no completion")

const systemPrompt = `You are Repo Runner, an assistant that answers questions about a source code repository.
Answer using only the provided context. Quote identifiers and values exactly as they appear.
If the context does not contain the answer, say that you could not find it in the repository.`

// Passage is one retrieved piece of repository text handed to the model.
type Passage struct {
	Path    string
	Section string
	Text    string
}

// Generator answers questions with a chat model.
type Generator struct {
	client    *openai.Client
	settings  Settings
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a Generator on the shared OpenAI client.
func NewGenerator(client *embedding.Client, settings Settings, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		settings:  settings,
		maxTokens: DefaultMaxContextTokens,
		logger:    logger,
	}
	if client != nil {
		g.client = client.Client()
	}
	return g
}

// Answer asks the chat model question, grounded on passages.
func (g *Generator) Answer(ctx context.Context, question string, passages []Passage) (string, error) {
	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:",
		g.truncateContent(formatContext(passages)), question)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Model:               openai.ChatModel(g.settings.ChatModel),
		Temperature:         openai.Float(g.settings.Temperature),
		MaxCompletionTokens: openai.Int(int64(g.settings.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func formatContext(passages []Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "File: %s\n", p.Path)
		if p.Section != "" {
			fmt.Fprintf(&b, "Section: %s\n", p.Section)
		}
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	if len(content) <= maxChars {
		return content
	}

	g.logger.Warn("truncating retrieved context",
		"from_chars", len(content),
		"to_chars", maxChars,
		"estimated_tokens", g.maxTokens)

	// back off to a rune boundary so multi-byte text stays valid UTF-8
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
