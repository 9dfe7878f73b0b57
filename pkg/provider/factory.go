package provider

import (
	"fmt"

	"github.com/quilllabs/quill/pkg/config"
)

// FromConfig builds the provider selected by configuration. The backend
// kind is an explicit setting; nothing is inferred from response shapes.
func FromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalProvider(LocalConfig{
			ModelPath:     cfg.Local.ModelPath,
			ContextLength: cfg.Local.ContextLength,
			GPULayers:     cfg.Local.GPULayers,
			ServerBin:     cfg.Local.ServerBin,
			Port:          cfg.Local.Port,
		}), nil
	case "openai", "lmstudio":
		return NewRemoteProvider(RemoteConfig{
			Variant: Variant(cfg.Provider),
			BaseURL: cfg.Remote.BaseURL,
			APIKey:  cfg.Remote.APIKey,
			Model:   cfg.Remote.Model,
			Timeout: cfg.Remote.Timeout,
		}), nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			ServerURL: cfg.Remote.BaseURL,
			Model:     cfg.Remote.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
