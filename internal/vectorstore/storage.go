package vectorstore

import (
	"time"

	"podcastrag/internal/config"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/vectorstore/memory"
	"podcastrag/internal/vectorstore/qdrant"
)

// New builds the vector store selected by cfg.
func New(cfg config.VectorStoreConfig) (domain.VectorStore, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, rerrors.NewConfiguration("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, rerrors.NewConfigurationf("unknown vector store: %s", cfg.Type)
	}
}

// Persistent reports whether the store keeps vectors across process restarts.
func Persistent(cfg config.VectorStoreConfig) bool {
	return cfg.Type == "qdrant"
}
