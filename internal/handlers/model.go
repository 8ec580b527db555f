package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelserve-go/internal/i18n"
	"github.com/modelserve-go/internal/middleware"
	"github.com/modelserve-go/internal/services/backend"
	"github.com/sirupsen/logrus"
)

// ModelHandler serves the readiness endpoints
type ModelHandler struct {
	loader    *backend.Loader
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewModelHandler creates a new model handler
func NewModelHandler(loader *backend.Loader, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger) *ModelHandler {
	return &ModelHandler{
		loader:    loader,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

type loadingStatus struct {
	ModelID string `json:"model_id"`
	Loaded  bool   `json:"loaded"`
	Detail  string `json:"detail"`
	Error   string `json:"error,omitempty"`
}

// LoadingStatus handles GET /model/loading-status: an SSE stream ticking
// until the runtime is ready or the client goes away.
func (h *ModelHandler) LoadingStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lang := h.localizer.FromRequest(r)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if done := h.emitStatus(w, flusher, lang); done {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// emitStatus writes one status frame and reports whether the stream is done
func (h *ModelHandler) emitStatus(w http.ResponseWriter, flusher http.Flusher, lang string) bool {
	ready := h.loader.Ready()
	h.metrics.SetModelReady(ready)

	status := loadingStatus{
		ModelID: h.loader.ModelID(),
		Loaded:  ready,
	}
	if ready {
		status.Detail = h.localizer.Get(lang, i18n.MsgModelReady, nil)
	} else {
		status.Detail = h.localizer.Get(lang, i18n.MsgModelLoading, nil)
		if err := h.loader.LastError(); err != nil {
			status.Error = err.Error()
		}
	}

	data, err := json.Marshal(status)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal loading status")
		return true
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()

	return ready
}

// Health handles GET /health
func (h *ModelHandler) Health(w http.ResponseWriter, r *http.Request) {
	ready := h.loader.Ready()
	h.metrics.SetModelReady(ready)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"model_id":     h.loader.ModelID(),
		"model_loaded": ready,
		"backend":      h.loader.Backend().Name(),
	})
}
