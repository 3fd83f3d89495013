// Package config loads Repo Runner configuration from defaults, an optional
// config file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port        string       `mapstructure:"port"`
	DatabaseURL string       `mapstructure:"database_url"`
	Server      ServerConfig `mapstructure:"server"`
	Qdrant      QdrantConfig `mapstructure:"qdrant"`
	OpenAI      OpenAIConfig `mapstructure:"openai"`
	GitHub      GitHubConfig `mapstructure:"github"`
	Ingest      IngestConfig `mapstructure:"ingest"`
	Query       QueryConfig  `mapstructure:"query"`
	Log         LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	EnableMCP         bool          `mapstructure:"enable_mcp"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

type OpenAIConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	BaseURL            string  `mapstructure:"base_url"`
	ChatModel          string  `mapstructure:"chat_model"`
	EmbeddingModel     string  `mapstructure:"embedding_model"`
	EmbeddingDimension int     `mapstructure:"embedding_dimension"`
	Temperature        float64 `mapstructure:"temperature"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	BatchSize          int     `mapstructure:"batch_size"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// IngestConfig bounds what a single ingestion job may read and how many jobs
// run at once.
type IngestConfig struct {
	WorkDir         string        `mapstructure:"workdir"`
	KeepWorkdir     bool          `mapstructure:"keep_workdir"`
	CloneDepth      int           `mapstructure:"clone_depth"`
	MaxFiles        int           `mapstructure:"max_files"`
	MaxFileBytes    int64         `mapstructure:"max_file_bytes"`
	MaxTotalBytes   int64         `mapstructure:"max_total_bytes"`
	Extensions      []string      `mapstructure:"extensions"`
	ExcludeDirs     []string      `mapstructure:"exclude_dirs"`
	ExcludePatterns []string      `mapstructure:"exclude_patterns"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type QueryConfig struct {
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultExtensions is the document allow-list used when none is configured.
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".jsx", ".tsx", ".md", ".java", ".html", ".css",
	".go", ".rs", ".rb", ".c", ".h", ".cpp", ".cs", ".kt", ".swift", ".scss",
	".json", ".yaml", ".yml", ".toml", ".txt", ".rst", ".sh", ".sql",
}

// DefaultExcludeDirs are never descended into.
var DefaultExcludeDirs = []string{
	".git", "node_modules", "vendor", "dist", "build", "target",
	"__pycache__", ".venv", "venv", ".idea", ".vscode",
}

// DefaultExcludePatterns are matched against slash-separated relative paths.
var DefaultExcludePatterns = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/*.map",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")

	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.enable_mcp", true)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.use_tls", false)
	v.SetDefault("qdrant.collection", "repo-runner")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.embedding_dimension", 1536)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.max_tokens", 2048)
	v.SetDefault("openai.batch_size", 500)

	v.SetDefault("github.token", "")

	v.SetDefault("ingest.workdir", "./temp_repos")
	v.SetDefault("ingest.keep_workdir", false)
	v.SetDefault("ingest.clone_depth", 1)
	v.SetDefault("ingest.max_files", 5000)
	v.SetDefault("ingest.max_file_bytes", int64(1<<20))
	v.SetDefault("ingest.max_total_bytes", int64(64<<20))
	v.SetDefault("ingest.extensions", DefaultExtensions)
	v.SetDefault("ingest.exclude_dirs", DefaultExcludeDirs)
	v.SetDefault("ingest.exclude_patterns", DefaultExcludePatterns)
	v.SetDefault("ingest.max_concurrent", 2)
	v.SetDefault("ingest.timeout", 30*time.Minute)

	v.SetDefault("query.top_k", 5)
	v.SetDefault("query.timeout", 2*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, the optional file at path and the
// environment. Nested keys map to upper-case variables with "." replaced by
// "_", so qdrant.api_key is read from QDRANT_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.OpenAI.APIKey == "" {
		warnings = append(warnings, "OPENAI_API_KEY is not set; embedding and chat calls will fail")
	}
	if c.Qdrant.APIKey == "" && c.Qdrant.Host != "localhost" && c.Qdrant.Host != "127.0.0.1" {
		warnings = append(warnings, fmt.Sprintf("QDRANT_API_KEY is not set for remote host %s", c.Qdrant.Host))
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("openai temperature %.2f is outside recommended range [0.0, 2.0]", c.OpenAI.Temperature))
	}
	if c.OpenAI.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("openai max_tokens %d is negative", c.OpenAI.MaxTokens))
	}
	if c.Query.TopK <= 0 {
		warnings = append(warnings, fmt.Sprintf("query top_k %d is not positive; using 5", c.Query.TopK))
	}

	return warnings
}

// RequireVectorStoreKey returns an error when the vector database API key is
// missing. Only the standalone CLI treats this as fatal.
func (c *Config) RequireVectorStoreKey() error {
	if c.Qdrant.APIKey == "" {
		return fmt.Errorf("QDRANT_API_KEY not found in environment variables")
	}
	return nil
}
