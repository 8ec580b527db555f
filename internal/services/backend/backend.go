package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Backend represents a model-execution runtime
type Backend interface {
	// Name identifies the runtime kind ("llama" or "transformer")
	Name() string
	// Warmup checks that the runtime is up and the model is loaded
	Warmup(ctx context.Context) error
	// GenerateStream streams generated text fragments for the given
	// conversation. The text channel is closed when generation ends; the
	// error channel then yields exactly one value (possibly nil).
	GenerateStream(ctx context.Context, messages []models.Message) (<-chan string, <-chan error)
}

// Select inspects the model identifier and picks the matching runtime.
// Quantized GGUF builds go to the llama.cpp-style server, everything else
// to the standard transformer runtime.
func Select(cfg *config.ModelConfig, logger *logrus.Logger) (Backend, error) {
	if strings.Contains(strings.ToLower(cfg.ID), "gguf") {
		if cfg.Llama.BaseURL == "" {
			return nil, fmt.Errorf("model %s requires a llama runtime base url", cfg.ID)
		}
		logger.WithFields(logrus.Fields{
			"model_id": cfg.ID,
			"backend":  "llama",
			"base_url": cfg.Llama.BaseURL,
		}).Info("Selected quantized runtime")
		return NewLlamaBackend(cfg, logger), nil
	}

	if cfg.Transformer.BaseURL == "" {
		return nil, fmt.Errorf("model %s requires a transformer runtime base url", cfg.ID)
	}
	logger.WithFields(logrus.Fields{
		"model_id": cfg.ID,
		"backend":  "transformer",
		"base_url": cfg.Transformer.BaseURL,
	}).Info("Selected transformer runtime")
	return NewTransformerBackend(cfg, logger), nil
}
