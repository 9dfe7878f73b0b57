package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/quilllabs/quill/pkg/gguf"
	"github.com/quilllabs/quill/pkg/logger"
)

// LocalConfig configures the local weights backend.
type LocalConfig struct {
	ModelPath      string
	ContextLength  int
	GPULayers      int
	ServerBin      string
	Port           int
	StartupTimeout time.Duration
}

// LocalProvider serves generation from a single-file GGUF weights
// artifact. The file is validated and the serving runtime booted lazily on
// first use, not at construction. Loading is single-flight: concurrent
// callers block on the one in-flight load instead of starting another.
//
// Generation itself goes through the same normalized chat-completion
// contract as the remote adapters, aimed at the runtime's loopback port.
type LocalProvider struct {
	cfg    LocalConfig
	remote *RemoteProvider

	mu      sync.Mutex
	loaded  bool
	loading chan struct{}
	lastErr error
	info    *gguf.Info
	cmd     *exec.Cmd

	// start boots the serving runtime; replaced in tests
	start func(ctx context.Context) error
}

// NewLocalProvider creates a local adapter. Nothing is loaded until the
// first Prepare or Generate call.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	if cfg.ServerBin == "" {
		cfg.ServerBin = "llama-server"
	}
	if cfg.Port == 0 {
		cfg.Port = 8188
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 60 * time.Second
	}

	p := &LocalProvider{
		cfg: cfg,
		remote: NewRemoteProvider(RemoteConfig{
			Variant: VariantLMStudio, // loopback contract, no credentials
			BaseURL: fmt.Sprintf("http://127.0.0.1:%d/v1", cfg.Port),
			Model:   filepath.Base(cfg.ModelPath),
		}),
	}
	p.start = p.startServer
	return p
}

// Name identifies the backend kind.
func (p *LocalProvider) Name() string {
	return "local"
}

// Model returns the loaded model's name, falling back to the file name
// before the first load.
func (p *LocalProvider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info != nil && p.info.Name != "" {
		return p.info.Name
	}
	return filepath.Base(p.cfg.ModelPath)
}

// Info returns the parsed model metadata, if loaded.
func (p *LocalProvider) Info() *gguf.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Prepare loads the model if it is not loaded yet. Idempotent; concurrent
// callers join the in-flight load. A failed load is not cached; the next
// Prepare tries again.
func (p *LocalProvider) Prepare(ctx context.Context) error {
	p.mu.Lock()
	if p.loaded {
		p.mu.Unlock()
		return nil
	}
	if p.loading != nil {
		ch := p.loading
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return NewError(KindCancelled, ctx.Err())
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.loaded {
			return nil
		}
		return p.lastErr
	}

	ch := make(chan struct{})
	p.loading = ch
	p.mu.Unlock()

	err := p.load(ctx)

	p.mu.Lock()
	p.loading = nil
	p.lastErr = err
	p.loaded = err == nil
	p.mu.Unlock()
	close(ch)

	return err
}

// load validates the weights file and boots the serving runtime.
func (p *LocalProvider) load(ctx context.Context) error {
	if p.cfg.ModelPath == "" {
		return Errorf(KindNotLoaded, "no model path configured")
	}
	if _, err := os.Stat(p.cfg.ModelPath); err != nil {
		return NewError(KindNotLoaded, fmt.Errorf("model file not found: %w", err))
	}

	info, err := gguf.ParseFile(p.cfg.ModelPath)
	if err != nil {
		return NewError(KindLoadFailure, err)
	}

	p.mu.Lock()
	p.info = info
	p.mu.Unlock()

	logger.Info("loading local model: %s", info.Describe())

	if err := p.start(ctx); err != nil {
		return NewError(KindLoadFailure, err)
	}
	return nil
}

// startServer launches the llama-server style runtime and waits for its
// loopback endpoint to become ready.
func (p *LocalProvider) startServer(ctx context.Context) error {
	ctxLen := p.cfg.ContextLength
	if ctxLen == 0 {
		p.mu.Lock()
		if p.info != nil && p.info.ContextLength > 0 {
			ctxLen = p.info.ContextLength
		}
		p.mu.Unlock()
	}

	args := []string{
		"--model", p.cfg.ModelPath,
		"--port", strconv.Itoa(p.cfg.Port),
		"--n-gpu-layers", strconv.Itoa(p.cfg.GPULayers),
	}
	if ctxLen > 0 {
		args = append(args, "--ctx-size", strconv.Itoa(ctxLen))
	}

	cmd := exec.Command(p.cfg.ServerBin, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.cfg.ServerBin, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	if err := p.waitReady(ctx); err != nil {
		p.stopServer()
		return err
	}

	logger.Info("local model runtime ready on port %d", p.cfg.Port)
	return nil
}

// waitReady polls the runtime's model-listing endpoint until it answers.
func (p *LocalProvider) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(p.cfg.StartupTimeout)
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/v1/models", p.cfg.Port)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}

	return fmt.Errorf("runtime did not become ready within %s", p.cfg.StartupTimeout)
}

func (p *LocalProvider) stopServer() {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// Generate streams a response from the loaded model, loading it first if
// needed. A second call cannot begin while a load is in flight; it joins
// the load like every other caller.
func (p *LocalProvider) Generate(ctx context.Context, req Request) (<-chan Chunk, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	return p.remote.Generate(ctx, req)
}

// Close shuts down the serving runtime.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
	p.stopServer()
	return nil
}
