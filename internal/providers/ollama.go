package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/pkg/resilience"
)

// OllamaClient implements both ChatProvider and Embedder against a local or
// remote Ollama server's REST API. The teacher's generated-protobuf
// embedding client (ml/proto/wessley/ml/v1) has no corresponding package
// anywhere in this module's dependency pack, so this talks to Ollama over
// plain HTTP instead of assuming that stub exists. Calls run through a
// token-bucket limiter since a single local model server has far less
// request headroom than the managed providers.
type OllamaClient struct {
	baseURL      string
	chatModel    string
	embedModel   string
	httpClient   *http.Client
	limiter      *resilience.Limiter
}

func NewOllamaClient(baseURL, chatModel, embedModel string) *OllamaClient {
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    resilience.NewLimiter(resilience.LimiterOpts{Rate: 2, Burst: 4}),
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

// Complete implements providers.ChatProvider.
func (c *OllamaClient) Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (ChatResult, error) {
	msgs := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.chatModel,
		Messages: msgs,
		Stream:   false,
		Options:  map[string]any{"num_predict": maxTokens},
	})
	if err != nil {
		return ChatResult{}, ingesterr.Terminal("encode_error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, ingesterr.Terminal("request_build_error", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return ChatResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatResult{}, ingesterr.Transient("network_error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ChatResult{}, ingesterr.Transient("upstream_5xx", fmt.Errorf("ollama: chat status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return ChatResult{}, ingesterr.Terminal("upstream_4xx", fmt.Errorf("ollama: chat status %d", resp.StatusCode))
	}

	var cr ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return ChatResult{}, ingesterr.Terminal("decode_error", err)
	}
	return ChatResult{
		Text:             cr.Message.Content,
		PromptTokens:     cr.PromptEvalCount,
		CompletionTokens: cr.EvalCount,
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements providers.Embedder.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.embedModel, Prompt: text})
	if err != nil {
		return nil, ingesterr.Terminal("encode_error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, ingesterr.Terminal("request_build_error", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ingesterr.Transient("network_error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, ingesterr.Transient("upstream_5xx", fmt.Errorf("ollama: embed status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, ingesterr.Terminal("upstream_4xx", fmt.Errorf("ollama: embed status %d", resp.StatusCode))
	}

	var er ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, ingesterr.Terminal("decode_error", err)
	}
	return er.Embedding, nil
}
