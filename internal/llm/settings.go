// Package llm configures the hosted language and embedding models and
// generates answers from retrieved repository context.
package llm

import (
	"github.com/bull/repo-runner/internal/config"
	"github.com/bull/repo-runner/internal/embedding"
)

// Settings selects the models used for one process. It is a plain value:
// callers build it once and hand it to NewProvider.
type Settings struct {
	ChatModel          string
	Temperature        float64
	MaxTokens          int
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingBatchSize int
}

// DefaultSettings returns low-temperature settings suited to retrieval answers.
func DefaultSettings() Settings {
	return Settings{
		ChatModel:          "gpt-4o-mini",
		Temperature:        0.1,
		MaxTokens:          2048,
		EmbeddingModel:     embedding.DefaultModel,
		EmbeddingDimension: embedding.DefaultDimension,
		EmbeddingBatchSize: embedding.DefaultBatchSize,
	}
}

// SettingsFromConfig overlays the configured values on DefaultSettings.
// Temperature is taken as is, since 0 is a valid setting; config.Load
// supplies the default.
func SettingsFromConfig(cfg config.OpenAIConfig) Settings {
	s := DefaultSettings()
	if cfg.ChatModel != "" {
		s.ChatModel = cfg.ChatModel
	}
	s.Temperature = cfg.Temperature
	if cfg.MaxTokens > 0 {
		s.MaxTokens = cfg.MaxTokens
	}
	if cfg.EmbeddingModel != "" {
		s.EmbeddingModel = cfg.EmbeddingModel
	}
	if cfg.EmbeddingDimension > 0 {
		s.EmbeddingDimension = cfg.EmbeddingDimension
	}
	if cfg.BatchSize > 0 {
		s.EmbeddingBatchSize = cfg.BatchSize
	}
	return s
}
