package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(&Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, openai.SmallEmbedding3, c.model)
	assert.Equal(t, 1536, c.Dimensions())
}

func TestNewClientModelOverride(t *testing.T) {
	c, err := NewClient(&Config{
		APIKey:     "sk-test",
		Model:      "text-embedding-3-large",
		Dimensions: 3072,
	})
	require.NoError(t, err)
	assert.Equal(t, openai.LargeEmbedding3, c.model)
	assert.Equal(t, 3072, c.Dimensions())
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}
