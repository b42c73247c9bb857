package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		tier       Tier
		maxResults int
		maxConvs   int
	}{
		{TierFree, 3, 5},
		{TierPro, 5, 20},
		{TierEnterprise, 8, 50},
		{Tier("unknown"), 3, 5}, // unknown tiers fall back to free
	}
	for _, tt := range tests {
		limits := LimitsFor(tt.tier)
		assert.Equal(t, tt.maxResults, limits.MaxResults)
		assert.Equal(t, tt.maxConvs, limits.MaxConversations)
	}
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(TierPro)
	limits, err := r.Resolve(context.Background(), "any-owner")
	require.NoError(t, err)
	assert.Equal(t, TierPro, limits.Tier)
	assert.Equal(t, 5, limits.MaxResults)
}
