package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrChatNotFound is returned when no active chat document exists for a key
var ErrChatNotFound = errors.New("chat not found")

// Storage interface defines chat document operations
type Storage interface {
	CreateChat(ctx context.Context, userID, modelID string) (*models.ChatDocument, error)
	GetChat(ctx context.Context, userID, chatID string) (*models.ChatDocument, error)
	ListChats(ctx context.Context, userID, modelID string) ([]models.ChatSummary, error)
	AppendMessage(ctx context.Context, userID, chatID, role, content string) error
	SoftDeleteChat(ctx context.Context, userID, chatID string) error
}

// Manager manages different storage backends
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	redisClient *redis.Client // Store redis client reference
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{
		logger: logger,
	}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		// Store redis client reference
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return manager, nil
}

// Delegate methods to underlying storage
func (m *Manager) CreateChat(ctx context.Context, userID, modelID string) (*models.ChatDocument, error) {
	return m.storage.CreateChat(ctx, userID, modelID)
}

func (m *Manager) GetChat(ctx context.Context, userID, chatID string) (*models.ChatDocument, error) {
	return m.storage.GetChat(ctx, userID, chatID)
}

func (m *Manager) ListChats(ctx context.Context, userID, modelID string) ([]models.ChatSummary, error) {
	return m.storage.ListChats(ctx, userID, modelID)
}

func (m *Manager) AppendMessage(ctx context.Context, userID, chatID, role, content string) error {
	return m.storage.AppendMessage(ctx, userID, chatID, role, content)
}

func (m *Manager) SoftDeleteChat(ctx context.Context, userID, chatID string) error {
	return m.storage.SoftDeleteChat(ctx, userID, chatID)
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

var chatIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// newChatID builds the composite chat identity: user, sanitized model and
// a short random suffix.
func newChatID(userID, modelID string) string {
	sanitized := chatIDSanitizer.ReplaceAllString(modelID, "-")
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", userID, sanitized, suffix)
}

func newChatDocument(userID, modelID string) *models.ChatDocument {
	now := time.Now().UTC()
	return &models.ChatDocument{
		ChatID:      newChatID(userID, modelID),
		UserID:      userID,
		ModelID:     modelID,
		CreatedAt:   now,
		LastUpdated: now,
		Active:      true,
		Messages:    []models.Message{},
	}
}

func summarize(doc *models.ChatDocument) models.ChatSummary {
	return models.ChatSummary{
		ChatID:       doc.ChatID,
		CreatedAt:    doc.CreatedAt,
		LastUpdated:  doc.LastUpdated,
		MessageCount: len(doc.Messages),
	}
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func chatKey(userID, chatID string) string {
	return fmt.Sprintf("chat:%s:%s", userID, chatID)
}

func (r *RedisStorage) CreateChat(ctx context.Context, userID, modelID string) (*models.ChatDocument, error) {
	doc := newChatDocument(userID, modelID)
	if err := r.saveChat(ctx, doc); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"chat_id": doc.ChatID,
	}).Debug("Chat created")

	return doc, nil
}

func (r *RedisStorage) GetChat(ctx context.Context, userID, chatID string) (*models.ChatDocument, error) {
	data, err := r.client.Get(ctx, chatKey(userID, chatID)).Result()
	if err == redis.Nil {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc models.ChatDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, err
	}
	if !doc.Active {
		return nil, ErrChatNotFound
	}

	return &doc, nil
}

func (r *RedisStorage) ListChats(ctx context.Context, userID, modelID string) ([]models.ChatSummary, error) {
	pattern := fmt.Sprintf("chat:%s:*", userID)
	summaries := []models.ChatSummary{}

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}

		var doc models.ChatDocument
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			r.logger.WithError(err).WithField("key", iter.Val()).Warn("Skipping unreadable chat document")
			continue
		}
		if !doc.Active || doc.ModelID != modelID {
			continue
		}
		summaries = append(summaries, summarize(&doc))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *RedisStorage) AppendMessage(ctx context.Context, userID, chatID, role, content string) error {
	doc, err := r.GetChat(ctx, userID, chatID)
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

	return r.saveChat(ctx, doc)
}

func (r *RedisStorage) SoftDeleteChat(ctx context.Context, userID, chatID string) error {
	doc, err := r.GetChat(ctx, userID, chatID)
	if err != nil {
		return err
	}

	doc.Active = false
	doc.LastUpdated = time.Now().UTC()

	return r.saveChat(ctx, doc)
}

func (r *RedisStorage) saveChat(ctx context.Context, doc *models.ChatDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	// Documents are never physically deleted, no expiration
	return r.client.Set(ctx, chatKey(doc.UserID, doc.ChatID), data, 0).Err()
}
