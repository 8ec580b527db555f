package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/models"
	"github.com/sirupsen/logrus"
)

// LlamaBackend talks to a llama.cpp-compatible server running a quantized
// GGUF build of the model.
type LlamaBackend struct {
	modelID     string
	baseURL     string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *logrus.Logger
}

// NewLlamaBackend creates a new quantized runtime client
func NewLlamaBackend(cfg *config.ModelConfig, logger *logrus.Logger) *LlamaBackend {
	return &LlamaBackend{
		modelID:     cfg.ID,
		baseURL:     strings.TrimSuffix(cfg.Llama.BaseURL, "/"),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			// No overall timeout, streaming responses can run for minutes
			Timeout: 0,
		},
		logger: logger,
	}
}

func (b *LlamaBackend) Name() string {
	return "llama"
}

// Warmup verifies the llama server health endpoint
func (b *LlamaBackend) Warmup(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", b.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create warmup request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llama runtime not reachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama runtime returned status %d", resp.StatusCode)
	}

	return nil
}

// GenerateStream streams completion fragments from the llama server
func (b *LlamaBackend) GenerateStream(ctx context.Context, messages []models.Message) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)

		reqBody := map[string]interface{}{
			"prompt":      FlattenPrompt(messages),
			"n_predict":   b.maxTokens,
			"temperature": b.temperature,
			"stream":      true,
			"stop":        []string{"User:", "System:"},
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errCh <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		url := b.baseURL + "/completion"
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
		if err != nil {
			errCh <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			errCh <- fmt.Errorf("failed to send request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errCh <- fmt.Errorf("generation request failed with status %d: %s", resp.StatusCode, string(body))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var chunk struct {
				Content string `json:"content"`
				Stop    bool   `json:"stop"`
				Error   struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				b.logger.WithError(err).Debug("Skipping unparsable stream line")
				continue
			}
			if chunk.Error.Message != "" {
				errCh <- fmt.Errorf("runtime error: %s", chunk.Error.Message)
				return
			}
			if chunk.Content != "" {
				select {
				case out <- chunk.Content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			if chunk.Stop {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("failed to read stream: %w", err)
			return
		}

		errCh <- nil
	}()

	return out, errCh
}

// FlattenPrompt renders a message list as the plain-text prompt the llama
// completion endpoint expects.
func FlattenPrompt(messages []models.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			sb.WriteString("System: ")
		case models.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("Assistant:")
	return sb.String()
}
