package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/logger"
)

// Variant names a remote backend flavor. All variants speak the same
// OpenAI-compatible chat-completion contract; only defaults differ, and
// those differences stay inside this adapter.
type Variant string

const (
	VariantOpenAI   Variant = "openai"
	VariantLMStudio Variant = "lmstudio"
	VariantOllama   Variant = "ollama"
)

// defaultBaseURL returns the conventional endpoint for a variant.
func (v Variant) defaultBaseURL() string {
	switch v {
	case VariantLMStudio:
		return "http://localhost:1234/v1"
	case VariantOllama:
		return "http://localhost:11434/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// requiresKey reports whether the variant needs a credential. Loopback
// servers accept unauthenticated requests.
func (v Variant) requiresKey() bool {
	return v == VariantOpenAI
}

// RemoteConfig configures a RemoteProvider.
type RemoteConfig struct {
	Variant Variant
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RemoteProvider adapts any OpenAI-compatible chat-completion endpoint to
// the Provider contract.
type RemoteProvider struct {
	cfg        RemoteConfig
	baseURL    string
	httpClient *http.Client
}

// NewRemoteProvider creates a remote adapter. Missing fields are filled
// from the variant's conventions.
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cfg.Variant.defaultBaseURL()
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &RemoteProvider{
		cfg:     cfg,
		baseURL: baseURL,
		// A whole-request Timeout would cut off long streams mid-body,
		// so only the wait for headers is bounded here
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

// Name returns the variant name.
func (p *RemoteProvider) Name() string {
	return string(p.cfg.Variant)
}

// Model returns the configured model identifier.
func (p *RemoteProvider) Model() string {
	return p.cfg.Model
}

// Prepare validates the adapter's configuration without a network round
// trip: the base URL must parse and variants that need credentials must
// have one.
func (p *RemoteProvider) Prepare(ctx context.Context) error {
	u, err := url.Parse(p.baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Errorf(KindNotLoaded, "invalid base URL %q", p.baseURL)
	}
	if p.cfg.Variant.requiresKey() && p.cfg.APIKey == "" {
		return Errorf(KindAuthRejected, "no API key configured for %s", p.cfg.Variant)
	}
	if p.cfg.Model == "" {
		return Errorf(KindNotLoaded, "no model configured for %s", p.cfg.Variant)
	}
	return nil
}

// wire types for the chat-completion contract

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireDelta struct {
	Content string `json:"content"`
}

type wireChoice struct {
	Delta        wireDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type wireChunk struct {
	Choices []wireChoice `json:"choices"`
}

type wireModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Generate sends a streaming chat-completion request and returns the
// ordered chunk channel. The reader goroutine owns the response body and
// always closes the channel.
func (p *RemoteProvider) Generate(ctx context.Context, req Request) (<-chan Chunk, error) {
	body := wireRequest{
		Model:       p.cfg.Model,
		Messages:    toWireMessages(req.Messages),
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fail(classifyTransport(err)), nil
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return fail(classifyHTTP(resp.StatusCode, resp.Header, string(errBody))), nil
	}

	chunks := make(chan Chunk, chunkBuffer)
	go p.readStream(ctx, resp.Body, chunks)
	return chunks, nil
}

// readStream parses SSE lines from the response body into chunks.
func (p *RemoteProvider) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- Chunk) {
	defer close(chunks)
	defer body.Close()

	// Every send races against cancellation. A consumer that stops
	// draining after its own ctx.Done must not strand this goroutine in
	// a channel send with the body still open.
	send := func(c Chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			send(Chunk{Done: true, Err: NewError(KindCancelled, ctx.Err())})
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if payload == "[DONE]" {
			send(Chunk{Done: true})
			return
		}

		var wc wireChunk
		if err := json.Unmarshal([]byte(payload), &wc); err != nil {
			logger.Warn("skipping malformed stream chunk: %v", err)
			continue
		}
		if len(wc.Choices) == 0 {
			continue
		}

		choice := wc.Choices[0]
		if choice.Delta.Content != "" {
			if !send(Chunk{Content: choice.Delta.Content}) {
				return
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			send(Chunk{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(Chunk{Done: true, Err: classifyTransport(err)})
		return
	}

	// Stream ended without an explicit terminator; treat as complete
	send(Chunk{Done: true})
}

// ListModels queries the normalized model-listing endpoint.
func (p *RemoteProvider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, classifyHTTP(resp.StatusCode, resp.Header, string(errBody))
	}

	var list wireModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func toWireMessages(messages []chat.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, wireMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
