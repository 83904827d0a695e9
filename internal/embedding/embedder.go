package embedding

import (
	"time"

	"podcastrag/internal/config"
	"podcastrag/internal/domain"
	"podcastrag/internal/embedding/openai"
	"podcastrag/internal/embedding/tfidf"
	rerrors "podcastrag/internal/errors"
)

// New builds the embedder selected by cfg.
func New(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, rerrors.NewConfiguration("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, rerrors.NewConfigurationf("unknown embedder: %s", cfg.Type)
	}
}
