package agent

import (
	"testing"

	"omnimem/internal/config"
	"omnimem/internal/types"
)

func TestResolvePlanAutoEscalation(t *testing.T) {
	tests := []struct {
		name string
		req  PlanRequest
		want types.QuotaMode
	}{
		{"calm defaults to normal",
			PlanRequest{QuotaMode: types.QuotaAuto, PromptTokensEstimate: 100},
			types.QuotaNormal},
		{"long prompt goes low",
			PlanRequest{QuotaMode: types.QuotaAuto, PromptTokensEstimate: 600},
			types.QuotaLow},
		{"huge prompt goes critical",
			PlanRequest{QuotaMode: types.QuotaAuto, PromptTokensEstimate: 1600},
			types.QuotaCritical},
		{"failure streak goes critical",
			PlanRequest{QuotaMode: types.QuotaAuto, RecentTransientFailures: 7},
			types.QuotaCritical},
		{"some failures go low",
			PlanRequest{QuotaMode: types.QuotaAuto, RecentTransientFailures: 3},
			types.QuotaLow},
		{"hot context goes low",
			PlanRequest{QuotaMode: types.QuotaAuto, RecentContextUtilization: 0.90},
			types.QuotaLow},
		{"saturated context goes critical",
			PlanRequest{QuotaMode: types.QuotaAuto, RecentContextUtilization: 0.97},
			types.QuotaCritical},
		{"signals never downgrade each other",
			PlanRequest{QuotaMode: types.QuotaAuto, PromptTokensEstimate: 1600, RecentTransientFailures: 3},
			types.QuotaCritical},
		{"explicit mode wins over observations",
			PlanRequest{QuotaMode: types.QuotaNormal, PromptTokensEstimate: 5000},
			types.QuotaNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Profile = ProfileBalanced
			tt.req.BudgetTokens = 800
			tt.req.RetrieveLimit = 10
			plan := ResolvePlan(tt.req)
			if plan.Quota != tt.want {
				t.Errorf("quota = %s, want %s", plan.Quota, tt.want)
			}
		})
	}
}

func TestResolvePlanBudgetScaling(t *testing.T) {
	base := PlanRequest{
		Profile: ProfileBalanced, QuotaMode: types.QuotaNormal,
		BudgetTokens: 800, RetrieveLimit: 10,
	}

	normal := ResolvePlan(base)
	if normal.Budget != 800 || normal.Limit != 10 {
		t.Errorf("balanced/normal = %d/%d, want passthrough 800/10", normal.Budget, normal.Limit)
	}
	if normal.PreferDelta || normal.StablePrefix {
		t.Error("normal quota should not prefer delta or stable prefix")
	}

	deep := base
	deep.Profile = ProfileDeepResearch
	p := ResolvePlan(deep)
	if p.Budget != 1080 {
		t.Errorf("deep research budget = %d, want 1080", p.Budget)
	}
	if p.Limit != 12 {
		t.Errorf("deep research limit = %d, want 12", p.Limit)
	}

	critical := base
	critical.QuotaMode = types.QuotaCritical
	p = ResolvePlan(critical)
	if p.Budget != 496 {
		t.Errorf("critical budget = %d, want 496", p.Budget)
	}
	if !p.PreferDelta || !p.StablePrefix {
		t.Error("critical quota should prefer delta and pin the stable prefix")
	}
}

func TestResolvePlanLowQuotaFloor(t *testing.T) {
	p := ResolvePlan(PlanRequest{
		Profile: ProfileLowQuota, QuotaMode: types.QuotaNormal,
		BudgetTokens: 800, RetrieveLimit: 10,
	})
	if p.Quota != types.QuotaLow {
		t.Errorf("quota = %s, low_quota profile never runs at normal", p.Quota)
	}
	if !p.PreferDelta {
		t.Error("low quota should prefer delta packs")
	}
}

func TestResolvePlanClamps(t *testing.T) {
	small := ResolvePlan(PlanRequest{
		Profile: ProfileLowQuota, QuotaMode: types.QuotaCritical,
		BudgetTokens: 200, RetrieveLimit: 4,
	})
	if small.Budget != config.MinTokenBudget {
		t.Errorf("budget = %d, want floored at %d", small.Budget, config.MinTokenBudget)
	}
	if small.Limit != config.MinPlanLimit {
		t.Errorf("limit = %d, want floored at %d", small.Limit, config.MinPlanLimit)
	}

	big := ResolvePlan(PlanRequest{
		Profile: ProfileDeepResearch, QuotaMode: types.QuotaNormal,
		BudgetTokens: 5000, RetrieveLimit: 50,
	})
	if big.Budget != config.MaxTokenBudget {
		t.Errorf("budget = %d, want capped at %d", big.Budget, config.MaxTokenBudget)
	}
	if big.Limit != config.MaxPlanLimit {
		t.Errorf("limit = %d, want capped at %d", big.Limit, config.MaxPlanLimit)
	}
}

func TestResolvePlanUnknownProfileFallsBack(t *testing.T) {
	p := ResolvePlan(PlanRequest{
		Profile: Profile("mystery"), QuotaMode: types.QuotaNormal,
		BudgetTokens: 800, RetrieveLimit: 10,
	})
	if p.Budget != 800 {
		t.Errorf("unknown profile budget = %d, want balanced 800", p.Budget)
	}
}

func TestHighThroughputPinsStablePrefix(t *testing.T) {
	p := ResolvePlan(PlanRequest{
		Profile: ProfileHighThroughput, QuotaMode: types.QuotaNormal,
		BudgetTokens: 800, RetrieveLimit: 10,
	})
	if !p.StablePrefix {
		t.Error("high throughput should pin the stable prefix even at normal quota")
	}
	if p.PreferDelta {
		t.Error("normal quota should not prefer delta")
	}
}
