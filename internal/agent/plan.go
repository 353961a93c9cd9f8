package agent

import (
	"omnimem/internal/config"
	"omnimem/internal/types"
)

// Profile names a consumption posture for external tools.
type Profile string

const (
	ProfileBalanced       Profile = "balanced"
	ProfileLowQuota       Profile = "low_quota"
	ProfileDeepResearch   Profile = "deep_research"
	ProfileHighThroughput Profile = "high_throughput"
)

// PlanRequest carries the observations the resolver adjusts from.
type PlanRequest struct {
	Profile                  Profile   `json:"profile"`
	QuotaMode                types.QuotaMode `json:"quota_mode"`
	BudgetTokens             int       `json:"budget_tokens"`
	RetrieveLimit            int       `json:"retrieve_limit"`
	PromptTokensEstimate     int       `json:"prompt_tokens_estimate"`
	RecentTransientFailures  int       `json:"recent_transient_failures"`
	RecentContextUtilization float64   `json:"recent_context_utilization"`
}

// Plan is the resolved context allowance for one turn.
type Plan struct {
	Budget       int       `json:"budget"`
	Limit        int       `json:"limit"`
	PreferDelta  bool      `json:"prefer_delta"`
	StablePrefix bool      `json:"stable_prefix"`
	Quota        types.QuotaMode `json:"quota"`
}

// Budget multipliers per profile, with a parallel table for the retrieve
// limit (research digs wider, throughput keeps packs lean).
var profileBudgetMul = map[Profile]float64{
	ProfileBalanced:       1.0,
	ProfileLowQuota:       0.72,
	ProfileDeepResearch:   1.35,
	ProfileHighThroughput: 0.88,
}

var profileLimitMul = map[Profile]float64{
	ProfileBalanced:       1.0,
	ProfileLowQuota:       0.75,
	ProfileDeepResearch:   1.25,
	ProfileHighThroughput: 0.90,
}

var quotaMul = map[types.QuotaMode]float64{
	types.QuotaNormal:   1.0,
	types.QuotaLow:      0.82,
	types.QuotaCritical: 0.62,
}

// ResolvePlan turns the observed turn conditions into a budget, a retrieve
// limit, and the delta/stable-prefix preferences. Auto quota derives the
// mode from prompt size, then promotes it on transient-failure streaks and
// high recent utilization; low_quota never runs better than low.
func ResolvePlan(req PlanRequest) Plan {
	profile := req.Profile
	if _, ok := profileBudgetMul[profile]; !ok {
		profile = ProfileBalanced
	}

	quota := req.QuotaMode
	if quota == types.QuotaAuto || quota == "" {
		quota = autoQuota(req)
	}
	if profile == ProfileLowQuota && quota == types.QuotaNormal {
		quota = types.QuotaLow
	}

	budget := float64(req.BudgetTokens) * profileBudgetMul[profile] * quotaMul[quota]
	limit := float64(req.RetrieveLimit) * profileLimitMul[profile] * quotaMul[quota]

	return Plan{
		Budget:       clampInt(int(budget), config.MinTokenBudget, config.MaxTokenBudget),
		Limit:        clampInt(int(limit), config.MinPlanLimit, config.MaxPlanLimit),
		PreferDelta:  quota != types.QuotaNormal,
		StablePrefix: quota == types.QuotaCritical || profile == ProfileHighThroughput,
		Quota:        quota,
	}
}

// autoQuota derives the quota mode from observed pressure.
func autoQuota(req PlanRequest) types.QuotaMode {
	mode := types.QuotaNormal
	switch {
	case req.PromptTokensEstimate >= 1200:
		mode = types.QuotaCritical
	case req.PromptTokensEstimate >= 520:
		mode = types.QuotaLow
	}
	switch {
	case req.RecentTransientFailures >= 7:
		mode = types.QuotaCritical
	case req.RecentTransientFailures >= 3:
		mode = worseOf(mode, types.QuotaLow)
	}
	switch {
	case req.RecentContextUtilization >= 0.96:
		mode = types.QuotaCritical
	case req.RecentContextUtilization >= 0.88:
		mode = worseOf(mode, types.QuotaLow)
	}
	return mode
}

func quotaRank(m types.QuotaMode) int {
	switch m {
	case types.QuotaCritical:
		return 2
	case types.QuotaLow:
		return 1
	default:
		return 0
	}
}

func worseOf(a, b types.QuotaMode) types.QuotaMode {
	if quotaRank(b) > quotaRank(a) {
		return b
	}
	return a
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
