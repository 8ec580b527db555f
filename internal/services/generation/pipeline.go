package generation

import (
	"context"
	"errors"
	"time"

	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/models"
	"github.com/modelserve-go/internal/services/backend"
	"github.com/modelserve-go/internal/services/cache"
	"github.com/modelserve-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// ErrModelNotLoaded is returned when generation is requested before the
// model runtime finished warming up.
var ErrModelNotLoaded = errors.New("model is not loaded yet")

// Pipeline builds prompts from chat history, streams backend output as
// sentence-ish chunks and persists the final exchange.
type Pipeline struct {
	loader  *backend.Loader
	storage *storage.Manager
	cache   cache.Service
	cfg     *config.GenerationConfig
	logger  *logrus.Logger
}

// NewPipeline creates a new generation pipeline
func NewPipeline(
	loader *backend.Loader,
	storageManager *storage.Manager,
	cacheService cache.Service,
	cfg *config.GenerationConfig,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		loader:  loader,
		storage: storageManager,
		cache:   cacheService,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run generates a streamed answer for prompt within the given chat. The
// returned channel carries chunk events followed by a single done or error
// event, then closes. Generation failures become error events, they are
// never propagated as Go errors past this point.
func (p *Pipeline) Run(ctx context.Context, userID, chatID, prompt string) (<-chan models.StreamEvent, error) {
	if !p.loader.Ready() {
		return nil, ErrModelNotLoaded
	}

	doc, err := p.storage.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	go p.run(ctx, doc, prompt, events)
	return events, nil
}

func (p *Pipeline) run(ctx context.Context, doc *models.ChatDocument, prompt string, events chan<- models.StreamEvent) {
	defer close(events)

	log := p.logger.WithFields(logrus.Fields{
		"user_id": doc.UserID,
		"chat_id": doc.ChatID,
		"model":   doc.ModelID,
	})

	// Identical prompts within the cache TTL skip the backend entirely
	if answer, found := p.cache.Get(ctx, prompt, doc.ModelID); found {
		events <- models.StreamEvent{Type: models.EventChunk, Content: answer}
		p.persistExchange(doc, prompt, answer, log)
		events <- models.StreamEvent{Type: models.EventDone, ChatID: doc.ChatID}
		return
	}

	messages := p.buildMessages(doc, prompt)

	start := time.Now()
	fragments, errCh := p.loader.Backend().GenerateStream(ctx, messages)

	chunker := NewChunker(p.cfg.MinChunkLength)
	var full string
	for fragment := range fragments {
		full += fragment
		for _, chunk := range chunker.Feed(fragment) {
			events <- models.StreamEvent{Type: models.EventChunk, Content: chunk}
		}
	}

	if err := <-errCh; err != nil {
		log.WithError(err).Error("Generation failed")
		events <- models.StreamEvent{Type: models.EventError, Error: err.Error()}
		return
	}

	if rest := chunker.Flush(); rest != "" {
		events <- models.StreamEvent{Type: models.EventChunk, Content: rest}
	}

	log.WithFields(logrus.Fields{
		"duration": time.Since(start),
		"length":   len(full),
	}).Info("Generation complete")

	p.persistExchange(doc, prompt, full, log)
	p.cache.Set(ctx, prompt, doc.ModelID, full)

	events <- models.StreamEvent{Type: models.EventDone, ChatID: doc.ChatID}
}

// buildMessages assembles the fixed system instruction, the last few
// history messages and the new user prompt.
func (p *Pipeline) buildMessages(doc *models.ChatDocument, prompt string) []models.Message {
	history := doc.Messages
	if len(history) > p.cfg.MaxHistory {
		history = history[len(history)-p.cfg.MaxHistory:]
	}

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{
		Role:    models.RoleSystem,
		Content: p.cfg.SystemPrompt,
	})
	messages = append(messages, history...)
	messages = append(messages, models.Message{
		Role:    models.RoleUser,
		Content: prompt,
	})

	return messages
}

// persistExchange appends the user and assistant messages. Writes happen
// after the stream finished; a failure here is logged, the client already
// has the answer.
func (p *Pipeline) persistExchange(doc *models.ChatDocument, prompt, answer string, log *logrus.Entry) {
	// Persistence must not be cut short by a client disconnect
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.storage.AppendMessage(ctx, doc.UserID, doc.ChatID, models.RoleUser, prompt); err != nil {
		log.WithError(err).Error("Failed to persist user message")
		return
	}
	if err := p.storage.AppendMessage(ctx, doc.UserID, doc.ChatID, models.RoleAssistant, answer); err != nil {
		log.WithError(err).Error("Failed to persist assistant message")
	}
}

// BackendName identifies the runtime behind this pipeline
func (p *Pipeline) BackendName() string {
	return p.loader.Backend().Name()
}
