package provider

import (
	"testing"

	"github.com/quilllabs/quill/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		provider string
		expected string
	}{
		{"local", "local"},
		{"openai", "openai"},
		{"lmstudio", "lmstudio"},
		{"ollama", "ollama-native"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.Config{Provider: tt.provider}
			p, err := FromConfig(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.Name())
		})
	}
}

func TestFromConfigUnknown(t *testing.T) {
	_, err := FromConfig(&config.Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
