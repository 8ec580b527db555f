package storage

import (
	"context"
	"sync"
	"time"

	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryStorage implements storage using in-memory cache. Intended for
// local development and tests.
type MemoryStorage struct {
	chats  *cache.Cache
	mu     sync.Mutex
	logger *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		chats:  cache.New(cache.NoExpiration, cfg.Storage.Memory.CleanupInterval),
		logger: logger,
	}
}

func (m *MemoryStorage) CreateChat(ctx context.Context, userID, modelID string) (*models.ChatDocument, error) {
	doc := newChatDocument(userID, modelID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats.Set(chatKey(userID, doc.ChatID), doc, cache.NoExpiration)

	return cloneChat(doc), nil
}

func (m *MemoryStorage) GetChat(ctx context.Context, userID, chatID string) (*models.ChatDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.getLocked(userID, chatID)
	if err != nil {
		return nil, err
	}
	return cloneChat(doc), nil
}

func (m *MemoryStorage) ListChats(ctx context.Context, userID, modelID string) ([]models.ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := chatKey(userID, "")
	summaries := []models.ChatSummary{}
	for key, item := range m.chats.Items() {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		doc := item.Object.(*models.ChatDocument)
		if !doc.Active || doc.ModelID != modelID {
			continue
		}
		summaries = append(summaries, summarize(doc))
	}

	return summaries, nil
}

func (m *MemoryStorage) AppendMessage(ctx context.Context, userID, chatID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.getLocked(userID, chatID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.Messages = append(doc.Messages, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	doc.LastUpdated = now
	m.chats.Set(chatKey(userID, chatID), doc, cache.NoExpiration)

	return nil
}

func (m *MemoryStorage) SoftDeleteChat(ctx context.Context, userID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.getLocked(userID, chatID)
	if err != nil {
		return err
	}

	doc.Active = false
	doc.LastUpdated = time.Now().UTC()
	m.chats.Set(chatKey(userID, chatID), doc, cache.NoExpiration)

	return nil
}

func (m *MemoryStorage) getLocked(userID, chatID string) (*models.ChatDocument, error) {
	val, found := m.chats.Get(chatKey(userID, chatID))
	if !found {
		return nil, ErrChatNotFound
	}
	doc := val.(*models.ChatDocument)
	if !doc.Active {
		return nil, ErrChatNotFound
	}
	return doc, nil
}

func cloneChat(doc *models.ChatDocument) *models.ChatDocument {
	out := *doc
	out.Messages = make([]models.Message, len(doc.Messages))
	copy(out.Messages, doc.Messages)
	return &out
}
