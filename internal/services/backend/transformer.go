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

// TransformerBackend talks to an OpenAI-compatible transformer runtime
type TransformerBackend struct {
	modelID     string
	baseURL     string
	apiKey      string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *logrus.Logger
}

// NewTransformerBackend creates a new transformer runtime client
func NewTransformerBackend(cfg *config.ModelConfig, logger *logrus.Logger) *TransformerBackend {
	return &TransformerBackend{
		modelID:     cfg.ID,
		baseURL:     strings.TrimSuffix(cfg.Transformer.BaseURL, "/"),
		apiKey:      cfg.Transformer.APIKey,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			// No overall timeout, streaming responses can run for minutes
			Timeout: 0,
		},
		logger: logger,
	}
}

func (b *TransformerBackend) Name() string {
	return "transformer"
}

// Warmup verifies that the runtime answers its model listing endpoint
func (b *TransformerBackend) Warmup(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", b.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create warmup request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transformer runtime not reachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transformer runtime returned status %d", resp.StatusCode)
	}

	return nil
}

// GenerateStream streams completion deltas from the chat completions endpoint
func (b *TransformerBackend) GenerateStream(ctx context.Context, messages []models.Message) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)

		// Convert messages to OpenAI format
		openAIMessages := make([]map[string]string, len(messages))
		for i, msg := range messages {
			openAIMessages[i] = map[string]string{
				"role":    msg.Role,
				"content": msg.Content,
			}
		}

		reqBody := map[string]interface{}{
			"model":       b.modelID,
			"messages":    openAIMessages,
			"max_tokens":  b.maxTokens,
			"temperature": b.temperature,
			"stream":      true,
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errCh <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		url := b.baseURL + "/chat/completions"
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
		if err != nil {
			errCh <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		b.setHeaders(req)

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
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
				Error struct {
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
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				select {
				case out <- content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
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

func (b *TransformerBackend) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.apiKey))
	}
}
