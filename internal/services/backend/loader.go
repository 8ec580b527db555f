package backend

import (
	"context"
	"sync"
	"time"

	"github.com/modelserve-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Loader owns the process-wide backend instance and its readiness flag.
// The backend is constructed once at startup; warmup runs asynchronously
// and every request reads the flag.
type Loader struct {
	backend Backend
	modelID string
	warmup  config.WarmupConfig
	logger  *logrus.Logger

	mu      sync.RWMutex
	ready   bool
	lastErr error
}

// NewLoader creates a loader for the selected backend
func NewLoader(b Backend, cfg *config.ModelConfig, logger *logrus.Logger) *Loader {
	return &Loader{
		backend: b,
		modelID: cfg.ID,
		warmup:  cfg.Warmup,
		logger:  logger,
	}
}

// Start launches the warmup loop in the background
func (l *Loader) Start(ctx context.Context) {
	go l.warmupLoop(ctx)
}

func (l *Loader) warmupLoop(ctx context.Context) {
	for attempt := 1; attempt <= l.warmup.MaxAttempts; attempt++ {
		err := l.backend.Warmup(ctx)
		if err == nil {
			l.mu.Lock()
			l.ready = true
			l.lastErr = nil
			l.mu.Unlock()

			l.logger.WithFields(logrus.Fields{
				"model_id": l.modelID,
				"backend":  l.backend.Name(),
				"attempts": attempt,
			}).Info("Model runtime ready")
			return
		}

		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()

		l.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"model_id": l.modelID,
		}).Warn("Model runtime not ready, retrying...")

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.warmup.Interval):
		}
	}

	l.logger.WithField("model_id", l.modelID).Error("Model runtime never became ready")
}

// Ready reports whether the model runtime has been warmed up
func (l *Loader) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// LastError returns the most recent warmup failure, if any
func (l *Loader) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// Backend returns the process-wide backend instance
func (l *Loader) Backend() Backend {
	return l.backend
}

// ModelID returns the served model identifier
func (l *Loader) ModelID() string {
	return l.modelID
}
