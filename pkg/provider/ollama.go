package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quilllabs/quill/pkg/chat"
	"github.com/quilllabs/quill/pkg/logger"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

// OllamaConfig configures the native ollama adapter.
type OllamaConfig struct {
	ServerURL string
	Model     string
}

// OllamaProvider speaks ollama's native API through langchaingo rather
// than the openai-compat shim, which keeps model management endpoints
// available. Downstream it honors the same Provider contract as everyone
// else.
type OllamaProvider struct {
	cfg OllamaConfig
	llm *ollama.LLM
}

// NewOllamaProvider creates a native ollama adapter.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:11434"
	}
	return &OllamaProvider{cfg: cfg}
}

// Name identifies the backend kind.
func (p *OllamaProvider) Name() string {
	return "ollama-native"
}

// Model returns the configured model identifier.
func (p *OllamaProvider) Model() string {
	return p.cfg.Model
}

// Prepare validates configuration and constructs the client. No network
// round trip happens here.
func (p *OllamaProvider) Prepare(ctx context.Context) error {
	if p.llm != nil {
		return nil
	}

	u, err := url.Parse(p.cfg.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Errorf(KindNotLoaded, "invalid ollama server URL %q", p.cfg.ServerURL)
	}
	if p.cfg.Model == "" {
		return Errorf(KindNotLoaded, "no model configured for ollama")
	}

	llm, err := ollama.New(
		ollama.WithServerURL(p.cfg.ServerURL),
		ollama.WithModel(p.cfg.Model),
	)
	if err != nil {
		return NewError(KindNotLoaded, fmt.Errorf("failed to create ollama client: %w", err))
	}

	p.llm = llm
	return nil
}

// Generate streams a response through langchaingo's streaming callback,
// adapted to the ordered chunk channel contract.
func (p *OllamaProvider) Generate(ctx context.Context, req Request) (<-chan Chunk, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}

	content := toLangchainMessages(req.Messages)
	chunks := make(chan Chunk, chunkBuffer)

	go func() {
		defer close(chunks)

		opts := []llms.CallOption{
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case chunks <- Chunk{Content: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		}
		if req.Temperature > 0 {
			opts = append(opts, llms.WithTemperature(req.Temperature))
		}
		if req.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
		}

		_, err := p.llm.GenerateContent(ctx, content, opts...)

		// The terminal send also races against an abandoned consumer
		terminal := Chunk{Done: true}
		if err != nil {
			logger.Debug("ollama generation ended with error: %v", err)
			terminal.Err = classifyOllama(err)
		}
		select {
		case chunks <- terminal:
		case <-ctx.Done():
		}
	}()

	return chunks, nil
}

// ListModels enumerates locally pulled models via ollama's native tags
// endpoint, which the openai-compat surface does not expose.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(p.cfg.ServerURL, "/")+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, Errorf(KindConnectionFailed, "tags endpoint returned %s", resp.Status)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}

	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// classifyOllama maps langchaingo error strings onto the taxonomy. The
// library does not expose typed errors, so this goes by message.
func classifyOllama(err error) *Error {
	if kindErr := classifyTransport(err); kindErr.Kind != KindUnknown {
		return kindErr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "model") && (strings.Contains(msg, "not found") || strings.Contains(msg, "missing")):
		return NewError(KindModelNotLoaded, err)
	case looksLikeContextOverflow(msg):
		return NewError(KindContextTooLarge, err)
	default:
		return NewError(KindUnknown, err)
	}
}

func toLangchainMessages(messages []chat.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		messageType := schema.ChatMessageTypeHuman
		switch msg.Role {
		case chat.RoleSystem:
			messageType = schema.ChatMessageTypeSystem
		case chat.RoleAssistant:
			messageType = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(messageType, msg.Content))
	}
	return out
}
