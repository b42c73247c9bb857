// Package plan exposes the per-owner limits handed down by the upstream
// plan/quota service. The core never enforces quotas itself; it only sizes
// retrieval and retention to the limits the resolver returns.
package plan

import "context"

// Tier names a subscription tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Limits selects the budget and retrieval configuration for one owner.
type Limits struct {
	// Tier is the owner's subscription tier.
	Tier Tier

	// MaxConversations bounds how many recent conversation documents the
	// retrieval engine fetches as candidates.
	MaxConversations int

	// MaxResults is the per-query top-K after ranking.
	MaxResults int

	// RetentionDays bounds how long conversation vectors are retained.
	RetentionDays int
}

// Resolver resolves the limits for an owner. Implemented upstream; the
// static resolver below serves as default and test double.
type Resolver interface {
	Resolve(ctx context.Context, ownerID string) (Limits, error)
}

// StaticResolver resolves every owner to a fixed tier's limits.
type StaticResolver struct {
	limits Limits
}

// NewStaticResolver creates a resolver pinned to the given tier.
func NewStaticResolver(tier Tier) *StaticResolver {
	return &StaticResolver{limits: LimitsFor(tier)}
}

func (r *StaticResolver) Resolve(ctx context.Context, ownerID string) (Limits, error) {
	return r.limits, nil
}

// LimitsFor returns the built-in limits for a tier. Unknown tiers fall back
// to free limits, keeping the core functional when the quota service hands
// back something unexpected.
func LimitsFor(tier Tier) Limits {
	switch tier {
	case TierEnterprise:
		return Limits{Tier: tier, MaxConversations: 50, MaxResults: 8, RetentionDays: 365}
	case TierPro:
		return Limits{Tier: tier, MaxConversations: 20, MaxResults: 5, RetentionDays: 90}
	default:
		return Limits{Tier: TierFree, MaxConversations: 5, MaxResults: 3, RetentionDays: 30}
	}
}
