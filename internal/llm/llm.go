package llm

import (
	"time"

	"podcastrag/internal/config"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/summarizer"
)

// New builds the generator selected by cfg. The extractive generator summarizes with
// maxSentences sentences per excerpt.
func New(cfg config.GeneratorConfig, maxSentences int) (domain.Generator, error) {
	switch cfg.Type {
	case "openai", "groq":
		c, err := NewChatClient(ChatConfig{
			BaseURL:     cfg.BaseURL,
			APIKeyEnv:   cfg.APIKeyEnv,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "extractive":
		return NewExtractive(summarizer.NewFrequencySummarizer(), maxSentences), nil
	default:
		return nil, rerrors.NewConfigurationf("unknown generator: %s", cfg.Type)
	}
}
