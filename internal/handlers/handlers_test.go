package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/modelserve-go/internal/auth"
	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/i18n"
	"github.com/modelserve-go/internal/middleware"
	"github.com/modelserve-go/internal/models"
	"github.com/modelserve-go/internal/services/backend"
	"github.com/modelserve-go/internal/services/cache"
	"github.com/modelserve-go/internal/services/generation"
	"github.com/modelserve-go/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelID = "mistral-7b-instruct"

type fakeBackend struct {
	fragments []string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Warmup(ctx context.Context) error { return nil }

func (f *fakeBackend) GenerateStream(ctx context.Context, messages []models.Message) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		for _, fragment := range f.fragments {
			out <- fragment
		}
		errCh <- nil
	}()
	return out, errCh
}

type testServer struct {
	router  *mux.Router
	tokens  *auth.TokenManager
	storage *storage.Manager
	loader  *backend.Loader
}

type serverOptions struct {
	fragments  []string
	startModel bool
	rpm        int
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{}
	cfg.Model.ID = testModelID
	cfg.Model.Warmup = config.WarmupConfig{MaxAttempts: 3, Interval: time.Millisecond}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Storage.Type = "memory"
	cfg.Storage.Memory.CleanupInterval = time.Minute
	cfg.I18n.DefaultLanguage = "en"
	cfg.Generation = config.GenerationConfig{
		SystemPrompt:   "You are a helpful assistant.",
		MaxHistory:     4,
		MinChunkLength: 1,
	}
	if opts.rpm > 0 {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = opts.rpm
		cfg.RateLimit.Burst = 1
	}

	storageManager, err := storage.NewManager(cfg, logger)
	require.NoError(t, err)

	loader := backend.NewLoader(&fakeBackend{fragments: opts.fragments}, &cfg.Model, logger)
	if opts.startModel {
		loader.Start(context.Background())
		require.Eventually(t, loader.Ready, time.Second, time.Millisecond)
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	require.NoError(t, err)

	metrics := middleware.NewMetrics()
	tokenManager := auth.NewTokenManager(cfg, logger)
	pipeline := generation.NewPipeline(loader, storageManager, cache.NewCache(cfg, logger), &cfg.Generation, logger)

	tokenHandler := NewTokenHandler(tokenManager, logger)
	chatHandler := NewChatHandler(storageManager, pipeline, middleware.NewRateLimiter(cfg, logger), localizer, metrics, logger)
	modelHandler := NewModelHandler(loader, localizer, metrics, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", modelHandler.Health).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/token", tokenHandler.IssueToken).Methods("POST")
	api.HandleFunc("/model/loading-status", modelHandler.LoadingStatus).Methods("GET")

	protected := api.NewRoute().Subrouter()
	protected.Use(auth.Middleware(tokenManager, logger))
	protected.HandleFunc("/chats", chatHandler.CreateChat).Methods("POST")
	protected.HandleFunc("/chats", chatHandler.ListChats).Methods("GET")
	protected.HandleFunc("/chat/{chatID}", chatHandler.GetChat).Methods("GET")
	protected.HandleFunc("/chat/{chatID}", chatHandler.SendMessage).Methods("POST")
	protected.HandleFunc("/chat/{chatID}", chatHandler.DeleteChat).Methods("DELETE")
	protected.HandleFunc("/chat/{chatID}/export", chatHandler.ExportChat).Methods("GET")

	return &testServer{
		router:  router,
		tokens:  tokenManager,
		storage: storageManager,
		loader:  loader,
	}
}

func (s *testServer) authToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.tokens.Issue(userID, testModelID)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeSSE(t *testing.T, body string) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event models.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
	}
	return events
}

func TestHealthReportsModelState(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: true})

	rec := server.do(t, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, testModelID, body["model_id"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, "fake", body["backend"])
}

func TestIssueTokenForServedModel(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	rec := server.do(t, "POST", "/api/v1/token", "", `{"user_id":"alice","model_id":"`+testModelID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "bearer", body["token_type"])
}

func TestIssueTokenRefusesOtherModel(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	rec := server.do(t, "POST", "/api/v1/token", "", `{"user_id":"alice","model_id":"some-other-model"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIssueTokenRejectsBadPayload(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	rec := server.do(t, "POST", "/api/v1/token", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	for _, tc := range []struct{ method, path string }{
		{"POST", "/api/v1/chats"},
		{"GET", "/api/v1/chats"},
		{"GET", "/api/v1/chat/some-chat"},
		{"DELETE", "/api/v1/chat/some-chat"},
	} {
		rec := server.do(t, tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestChatLifecycle(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: true})
	token := server.authToken(t, "alice")

	// Create
	rec := server.do(t, "POST", "/api/v1/chats", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc models.ChatDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "alice", doc.UserID)
	assert.Equal(t, testModelID, doc.ModelID)
	require.NotEmpty(t, doc.ChatID)

	// Get
	rec = server.do(t, "GET", "/api/v1/chat/"+doc.ChatID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// List
	rec = server.do(t, "GET", "/api/v1/chats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Chats, 1)
	assert.Equal(t, doc.ChatID, listing.Chats[0].ChatID)

	// Delete
	rec = server.do(t, "DELETE", "/api/v1/chat/"+doc.ChatID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Gone afterwards
	rec = server.do(t, "GET", "/api/v1/chat/"+doc.ChatID, token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = server.do(t, "GET", "/api/v1/chats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Empty(t, listing.Chats)
}

func TestGetMissingChatReturnsNotFound(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: true})
	token := server.authToken(t, "alice")

	rec := server.do(t, "GET", "/api/v1/chat/does-not-exist", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageStreamsAnswer(t *testing.T) {
	server := newTestServer(t, serverOptions{
		fragments:  []string{"Hello", " there. All", " good."},
		startModel: true,
	})
	token := server.authToken(t, "alice")

	rec := server.do(t, "POST", "/api/v1/chats", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var doc models.ChatDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	rec = server.do(t, "POST", "/api/v1/chat/"+doc.ChatID, token, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := decodeSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventDone, events[len(events)-1].Type)

	var answer string
	for _, event := range events[:len(events)-1] {
		require.Equal(t, models.EventChunk, event.Type)
		answer += event.Content
	}
	assert.Equal(t, "Hello there. All good.", answer)

	// The exchange shows up in the exported transcript
	rec = server.do(t, "GET", "/api/v1/chat/"+doc.ChatID+"/export", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Hello there. All good.")
}

func TestSendMessageRejectsEmptyPrompt(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: true})
	token := server.authToken(t, "alice")

	rec := server.do(t, "POST", "/api/v1/chats", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var doc models.ChatDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	rec = server.do(t, "POST", "/api/v1/chat/"+doc.ChatID, token, `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageToMissingChat(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: true})
	token := server.authToken(t, "alice")

	rec := server.do(t, "POST", "/api/v1/chat/does-not-exist", token, `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageWhileModelLoading(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: false})
	token := server.authToken(t, "alice")

	rec := server.do(t, "POST", "/api/v1/chat/any-chat", token, `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendMessageRateLimited(t *testing.T) {
	server := newTestServer(t, serverOptions{
		fragments:  []string{"ok."},
		startModel: true,
		rpm:        1,
	})
	token := server.authToken(t, "alice")

	rec := server.do(t, "POST", "/api/v1/chats", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var doc models.ChatDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	rec = server.do(t, "POST", "/api/v1/chat/"+doc.ChatID, token, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Burst of one, the second request within the same minute is refused
	rec = server.do(t, "POST", "/api/v1/chat/"+doc.ChatID, token, `{"prompt":"hi again"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoadingStatusStreamEndsWhenReady(t *testing.T) {
	server := newTestServer(t, serverOptions{startModel: true})

	rec := server.do(t, "GET", "/api/v1/model/loading-status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var statuses []loadingStatus
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var status loadingStatus
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &status))
		statuses = append(statuses, status)
	}

	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.True(t, last.Loaded)
	assert.Equal(t, testModelID, last.ModelID)
}
