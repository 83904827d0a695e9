package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	rerrors "podcastrag/internal/errors"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how transcripts are split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeneratorConfig configures the chat-completions generator.
type GeneratorConfig struct {
	Type        string  `yaml:"type"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// RetrievalConfig holds ranking defaults.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	MinScore            float64 `yaml:"min_score"`
	Diversity           bool    `yaml:"diversity"`
	MaxPerGuest         int     `yaml:"max_per_guest"`
	PreferenceThreshold float64 `yaml:"preference_threshold"`
}

// ConversationConfig bounds session history.
type ConversationConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// PromptConfig configures context assembly and the system prompt.
type PromptConfig struct {
	MaxContextChars  int    `yaml:"max_context_chars"`
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// SpeakerConfig is one gazetteer entry.
type SpeakerConfig struct {
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label,omitempty"`
}

// PreprocessConfig overrides the built-in follow-up and speaker rules.
// Empty lists keep the defaults.
type PreprocessConfig struct {
	Speakers         []SpeakerConfig `yaml:"speakers,omitempty"`
	FollowUpPatterns []string        `yaml:"follow_up_patterns,omitempty"`
	ExemptPrefixes   []string        `yaml:"exempt_prefixes,omitempty"`
	ShortQueryWords  int             `yaml:"short_query_words,omitempty"`
}

// StorageConfig locates the local database and the episodes source.
type StorageConfig struct {
	Dir          string `yaml:"dir"`
	EpisodesFile string `yaml:"episodes_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// SummarizerConfig configures per-episode summaries computed at ingest.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder     EmbedderConfig     `yaml:"embedder"`
	Chunker      ChunkerConfig      `yaml:"chunker"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Conversation ConversationConfig `yaml:"conversation"`
	Prompt       PromptConfig       `yaml:"prompt"`
	Preprocess   PreprocessConfig   `yaml:"preprocess"`
	Storage      StorageConfig      `yaml:"storage"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Summarizer   SummarizerConfig   `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := baseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, rerrors.NewConfigurationf("parse config: %v", err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/podcastrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/podcastrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports sizing and selection mistakes as configuration errors.
func (c *AppConfig) Validate() error {
	if c.Chunker.ChunkSize <= 0 {
		return rerrors.NewConfigurationf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return rerrors.NewConfigurationf("chunker.overlap must be in [0, %d), got %d", c.Chunker.ChunkSize, c.Chunker.Overlap)
	}
	switch c.Embedder.Type {
	case "tfidf":
	case "openai":
		if c.Embedder.OpenAI == nil {
			return rerrors.NewConfiguration("embedder.openai section missing")
		}
	default:
		return rerrors.NewConfigurationf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return rerrors.NewConfiguration("vector_store.qdrant.url is required")
		}
	default:
		return rerrors.NewConfigurationf("unknown vector store: %s", c.VectorStore.Type)
	}
	switch c.Generator.Type {
	case "openai", "groq", "extractive":
	default:
		return rerrors.NewConfigurationf("unknown generator: %s", c.Generator.Type)
	}
	if c.Retrieval.TopK <= 0 {
		return rerrors.NewConfigurationf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxPerGuest <= 0 {
		return rerrors.NewConfigurationf("retrieval.max_per_guest must be positive, got %d", c.Retrieval.MaxPerGuest)
	}
	if c.Conversation.MaxTurns <= 0 {
		return rerrors.NewConfigurationf("conversation.max_turns must be positive, got %d", c.Conversation.MaxTurns)
	}
	return nil
}

// DBPath is the SQLite file holding episodes and sessions.
func (c *AppConfig) DBPath() string {
	return filepath.Join(c.Storage.Dir, "podcastrag.db")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "podcastrag", "config.yaml"), nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".podcastrag"
	}
	return filepath.Join(home, ".podcastrag")
}

// baseConfig holds the defaults that do not depend on a provider. Provider fields stay
// empty until applyConfigDefaults sees the final types.
func baseConfig() *AppConfig {
	return &AppConfig{
		Embedder:     EmbedderConfig{Type: "tfidf"},
		Chunker:      ChunkerConfig{ChunkSize: 2000, Overlap: 200},
		VectorStore:  VectorStoreConfig{Type: "memory"},
		Generator:    GeneratorConfig{Type: "groq"},
		Retrieval:    RetrievalConfig{TopK: 3, Diversity: true, MaxPerGuest: 2, PreferenceThreshold: 0.6},
		Conversation: ConversationConfig{MaxTurns: 20},
		Prompt:       PromptConfig{MaxContextChars: 3000},
		Storage:      StorageConfig{Dir: defaultStorageDir(), EpisodesFile: filepath.Join("data", "episodes.json")},
		Server:       ServerConfig{Addr: ":8080"},
		Log:          LogConfig{Level: "info"},
		Summarizer:   SummarizerConfig{MaxSentences: 3},
	}
}

func defaultConfig() *AppConfig {
	cfg := baseConfig()
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "wtf_podcast"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	g := &cfg.Generator
	switch g.Type {
	case "groq":
		if g.BaseURL == "" {
			g.BaseURL = "https://api.groq.com/openai/v1"
		}
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "GROQ_API_KEY"
		}
		if g.Model == "" {
			g.Model = "llama-3.3-70b-versatile"
		}
	case "openai":
		if g.BaseURL == "" {
			g.BaseURL = "https://api.openai.com/v1"
		}
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "OPENAI_API_KEY"
		}
		if g.Model == "" {
			g.Model = "gpt-4o-mini"
		}
	}
	if g.Temperature == 0 {
		g.Temperature = 0.7
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 1000
	}
	if g.TimeoutSecs == 0 {
		g.TimeoutSecs = 60
	}
	if cfg.Prompt.MaxContextChars == 0 {
		cfg.Prompt.MaxContextChars = 3000
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
}
