package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/modelserve-go/internal/auth"
	"github.com/modelserve-go/internal/i18n"
	"github.com/modelserve-go/internal/middleware"
	"github.com/modelserve-go/internal/models"
	"github.com/modelserve-go/internal/services/generation"
	"github.com/modelserve-go/internal/services/storage"
	applog "github.com/modelserve-go/pkg/logger"
	"github.com/modelserve-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// ChatHandler serves the chat CRUD and generation endpoints
type ChatHandler struct {
	storage     *storage.Manager
	pipeline    *generation.Pipeline
	rateLimiter middleware.RateLimiter
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	storageManager *storage.Manager,
	pipeline *generation.Pipeline,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *ChatHandler {
	return &ChatHandler{
		storage:     storageManager,
		pipeline:    pipeline,
		rateLimiter: rateLimiter,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
	}
}

type messageRequest struct {
	Prompt string `json:"prompt"`
}

// CreateChat handles POST /chats
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	doc, err := h.storage.CreateChat(r.Context(), identity.UserID, identity.ModelID)
	if err != nil {
		h.metrics.RecordStorageOperation("create", "error")
		h.logger.WithError(err).Error("Failed to create chat")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.metrics.RecordStorageOperation("create", "success")
	h.metrics.RecordChatCreated()

	writeJSON(w, http.StatusCreated, doc)
}

// ListChats handles GET /chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	chats, err := h.storage.ListChats(r.Context(), identity.UserID, identity.ModelID)
	if err != nil {
		h.metrics.RecordStorageOperation("list", "error")
		h.logger.WithError(err).Error("Failed to list chats")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.metrics.RecordStorageOperation("list", "success")

	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

// GetChat handles GET /chat/{chatID}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	chatID := mux.Vars(r)["chatID"]

	doc, err := h.storage.GetChat(r.Context(), identity.UserID, chatID)
	if err != nil {
		h.respondStorageError(w, r, err, "get")
		return
	}
	h.metrics.RecordStorageOperation("get", "success")

	writeJSON(w, http.StatusOK, doc)
}

// DeleteChat handles DELETE /chat/{chatID}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	chatID := mux.Vars(r)["chatID"]

	if err := h.storage.SoftDeleteChat(r.Context(), identity.UserID, chatID); err != nil {
		h.respondStorageError(w, r, err, "delete")
		return
	}
	h.metrics.RecordStorageOperation("delete", "success")

	lang := h.localizer.FromRequest(r)
	writeJSON(w, http.StatusOK, map[string]string{
		"detail": h.localizer.Get(lang, i18n.MsgChatDeleted, map[string]interface{}{"ChatID": chatID}),
	})
}

// ExportChat handles GET /chat/{chatID}/export, returning an HTML transcript
func (h *ChatHandler) ExportChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	chatID := mux.Vars(r)["chatID"]

	doc, err := h.storage.GetChat(r.Context(), identity.UserID, chatID)
	if err != nil {
		h.respondStorageError(w, r, err, "get")
		return
	}
	h.metrics.RecordStorageOperation("get", "success")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, markdown.RenderTranscript(doc))
}

// SendMessage handles POST /chat/{chatID}: runs the generation pipeline
// and streams the answer as server-sent events.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	chatID := mux.Vars(r)["chatID"]
	lang := h.localizer.FromRequest(r)

	if !h.rateLimiter.Allow(identity.UserID) {
		h.metrics.RecordRateLimitExceeded(identity.UserID)
		writeError(w, http.StatusTooManyRequests, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil))
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt cannot be empty")
		return
	}

	events, err := h.pipeline.Run(r.Context(), identity.UserID, chatID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrModelNotLoaded):
			writeError(w, http.StatusServiceUnavailable, h.localizer.Get(lang, i18n.MsgModelLoading, nil))
		case errors.Is(err, storage.ErrChatNotFound):
			writeError(w, http.StatusNotFound, h.localizer.Get(lang, i18n.MsgChatNotFound, nil))
		default:
			h.logger.WithError(err).Error("Failed to start generation")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	applog.WithRequest(h.logger, identity.UserID, chatID).Debug("Generation stream started")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	start := time.Now()
	status := "success"
	for event := range events {
		if event.Type == models.EventError {
			status = "error"
		}
		if event.Type == models.EventChunk {
			h.metrics.RecordChunkStreamed()
		}
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.WithError(err).Error("Failed to marshal stream event")
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	h.metrics.RecordGeneration(h.pipeline.BackendName(), status, time.Since(start))
}

func (h *ChatHandler) respondStorageError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	if errors.Is(err, storage.ErrChatNotFound) {
		h.metrics.RecordStorageOperation(operation, "not_found")
		lang := h.localizer.FromRequest(r)
		writeError(w, http.StatusNotFound, h.localizer.Get(lang, i18n.MsgChatNotFound, nil))
		return
	}

	h.metrics.RecordStorageOperation(operation, "error")
	h.logger.WithError(err).WithField("operation", operation).Error("Storage operation failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}
