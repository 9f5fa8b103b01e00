package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

func TestSociety_OnboardingTransitions(t *testing.T) {
	ready := billing.Readiness{HasPolicy: true, HeadingCount: 2}

	tests := []struct {
		name  string
		from  billing.OnboardingState
		to    billing.OnboardingState
		ready billing.Readiness
		ok    bool
	}{
		{"draft to configuring", billing.StateDraft, billing.StateConfiguring, billing.Readiness{}, true},
		{"draft cannot skip to active", billing.StateDraft, billing.StateActive, ready, false},
		{"configuring to active when ready", billing.StateConfiguring, billing.StateActive, ready, true},
		{"configuring to active without policy", billing.StateConfiguring, billing.StateActive, billing.Readiness{HeadingCount: 1}, false},
		{"configuring to active without headings", billing.StateConfiguring, billing.StateActive, billing.Readiness{HasPolicy: true}, false},
		{"active back to configuring", billing.StateActive, billing.StateConfiguring, billing.Readiness{}, true},
		{"active cannot return to draft", billing.StateActive, billing.StateDraft, ready, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := billing.Society{ID: "soc-1", State: tt.from}
			err := s.Transition(tt.to, tt.ready)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, s.State)
				return
			}
			var te *billing.TransitionError
			require.ErrorAs(t, err, &te)
			assert.ErrorIs(t, err, generic.ErrInvalidTransition)
			assert.Equal(t, tt.from, s.State, "state must not change on refusal")
		})
	}
}

func TestSociety_RequireActive(t *testing.T) {
	assert.NoError(t, billing.Society{State: billing.StateActive}.RequireActive())

	err := billing.Society{ID: "soc-1", State: billing.StateDraft}.RequireActive()
	var se *billing.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, generic.OutcomeValidationFailed, generic.Classify(err))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, basePolicy().Validate())

	tests := []struct {
		name   string
		mutate func(p *billing.PolicyConfiguration)
	}{
		{"due offset zero", func(p *billing.PolicyConfiguration) { p.PaymentDueDateOffsetDays = 0 }},
		{"due offset too long", func(p *billing.PolicyConfiguration) { p.PaymentDueDateOffsetDays = 31 }},
		{"grace too long", func(p *billing.PolicyConfiguration) { p.GracePeriodDays = 45 }},
		{"rate above 100", func(p *billing.PolicyConfiguration) { p.InterestRatePercentPerAnnum = pct("120") }},
		{"unknown interest period", func(p *billing.PolicyConfiguration) { p.InterestPeriod = "weekly" }},
		{"unknown order", func(p *billing.PolicyConfiguration) { p.CreditAdjustmentOrder = "random" }},
		{"bad frequency", func(p *billing.PolicyConfiguration) { p.BillFrequencyMonths = 5 }},
		{"bad rebate type", func(p *billing.PolicyConfiguration) { p.RebateApply = true; p.RebateType = "gift" }},
		{"negative penalty", func(p *billing.PolicyConfiguration) {
			p.PenaltyApply = true
			p.PenaltyFixedAmount = money("-1")
		}},
		{"missing effective date", func(p *billing.PolicyConfiguration) { p.EffectiveFrom = generic.TimePoint{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePolicy()
			tt.mutate(&p)
			err := p.Validate()
			var ce *billing.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.ErrorIs(t, err, generic.ErrConfiguration)
		})
	}
}
