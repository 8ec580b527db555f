package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestSelectPicksLlamaForGGUF(t *testing.T) {
	cfg := &config.ModelConfig{
		ID:    "TheBloke/Mistral-7B-Instruct-GGUF",
		Llama: config.RuntimeConfig{BaseURL: "http://localhost:8080"},
	}

	b, err := Select(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "llama", b.Name())
}

func TestSelectPicksTransformerOtherwise(t *testing.T) {
	cfg := &config.ModelConfig{
		ID:          "mistral-7b-instruct",
		Transformer: config.RuntimeConfig{BaseURL: "http://localhost:8001/v1"},
	}

	b, err := Select(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "transformer", b.Name())
}

func TestSelectRequiresRuntimeURL(t *testing.T) {
	_, err := Select(&config.ModelConfig{ID: "model-gguf"}, testLogger())
	assert.Error(t, err)

	_, err = Select(&config.ModelConfig{ID: "plain-model"}, testLogger())
	assert.Error(t, err)
}

func TestTransformerGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	cfg := &config.ModelConfig{
		ID:          "mistral-7b-instruct",
		MaxTokens:   64,
		Temperature: 0.7,
		Transformer: config.RuntimeConfig{BaseURL: server.URL},
	}
	b := NewTransformerBackend(cfg, testLogger())

	out, errCh := b.GenerateStream(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	})

	var got string
	for fragment := range out {
		got += fragment
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "Hello world.", got)
}

func TestTransformerGenerateStreamServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := &config.ModelConfig{
		ID:          "mistral-7b-instruct",
		Transformer: config.RuntimeConfig{BaseURL: server.URL},
	}
	b := NewTransformerBackend(cfg, testLogger())

	out, errCh := b.GenerateStream(context.Background(), nil)
	for range out {
	}
	assert.Error(t, <-errCh)
}

func TestLlamaGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/completion", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"Once\",\"stop\":false}\n\n")
		fmt.Fprint(w, "data: {\"content\":\" upon a time.\",\"stop\":true}\n\n")
	}))
	defer server.Close()

	cfg := &config.ModelConfig{
		ID:        "mistral-7b-gguf",
		MaxTokens: 64,
		Llama:     config.RuntimeConfig{BaseURL: server.URL},
	}
	b := NewLlamaBackend(cfg, testLogger())

	out, errCh := b.GenerateStream(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "tell me a story"},
	})

	var got string
	for fragment := range out {
		got += fragment
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "Once upon a time.", got)
}

func TestFlattenPrompt(t *testing.T) {
	prompt := FlattenPrompt([]models.Message{
		{Role: models.RoleSystem, Content: "be helpful"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	})

	assert.Equal(t, "System: be helpful\nUser: hi\nAssistant: hello\nAssistant:", prompt)
}

func TestLoaderBecomesReady(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &config.ModelConfig{
		ID:     "mistral-7b-gguf",
		Llama:  config.RuntimeConfig{BaseURL: server.URL},
		Warmup: config.WarmupConfig{MaxAttempts: 10, Interval: 10 * time.Millisecond},
	}
	b := NewLlamaBackend(cfg, testLogger())
	loader := NewLoader(b, cfg, testLogger())

	assert.False(t, loader.Ready())
	loader.Start(context.Background())

	require.Eventually(t, loader.Ready, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, loader.LastError())
}
