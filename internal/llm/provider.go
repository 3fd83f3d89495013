package llm

import (
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/option"

	"github.com/bull/repo-runner/internal/config"
	"github.com/bull/repo-runner/internal/embedding"
)

// Provider holds one OpenAI client and the embedder and generator built on it.
type Provider struct {
	settings  Settings
	embedder  *embedding.Embedder
	generator *Generator
}

// NewProvider creates the OpenAI client from cfg and wires both model
// handles with settings. It holds no global state, so building one per
// request is as valid as sharing one.
func NewProvider(cfg config.OpenAIConfig, settings Settings, logger *slog.Logger, opts ...option.RequestOption) (*Provider, error) {
	client, err := embedding.NewClient(cfg.APIKey, cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OpenAI client: %w", err)
	}

	embedder := embedding.NewEmbedder(client, embedding.Config{
		Model:     settings.EmbeddingModel,
		Dimension: settings.EmbeddingDimension,
		BatchSize: settings.EmbeddingBatchSize,
	})

	return &Provider{
		settings:  settings,
		embedder:  embedder,
		generator: NewGenerator(client, settings, logger),
	}, nil
}

func (p *Provider) Settings() Settings { return p.settings }

func (p *Provider) Embedder() *embedding.Embedder { return p.embedder }

func (p *Provider) Generator() *Generator { return p.generator }
