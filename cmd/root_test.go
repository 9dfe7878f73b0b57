package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSnippets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.py")
	require.NoError(t, os.WriteFile(path, []byte("print('hi')\n"), 0644))

	snippets, err := loadSnippets([]string{path})
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, path, snippets[0].Label)
	assert.Equal(t, "print('hi')\n", snippets[0].Content)

	_, err = loadSnippets([]string{filepath.Join(dir, "missing.py")})
	assert.Error(t, err)
}

func TestModelsCommandRegistered(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "models")
}
