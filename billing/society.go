package billing

import (
	"fmt"

	"github.com/warp/society-billing/generic"
)

// =============================================================================
// SOCIETY ONBOARDING - Explicit state machine
// =============================================================================
//
//	draft --> configuring --> active
//	              ^             |
//	              +-------------+   (reconfigure)
//
// Only active societies can be billed. Going active needs a policy and at
// least one heading.

type OnboardingState string

const (
	StateDraft       OnboardingState = "draft"
	StateConfiguring OnboardingState = "configuring"
	StateActive      OnboardingState = "active"
)

var onboardingTransitions = map[OnboardingState][]OnboardingState{
	StateDraft:       {StateConfiguring},
	StateConfiguring: {StateActive},
	StateActive:      {StateConfiguring},
}

// IsValid checks if the state is known.
func (s OnboardingState) IsValid() bool {
	_, ok := onboardingTransitions[s]
	return ok
}

// Readiness is what the guards on transitions look at.
type Readiness struct {
	HasPolicy    bool
	HeadingCount int
}

// TransitionError explains why a transition was refused.
type TransitionError struct {
	From   OnboardingState
	To     OnboardingState
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move society from %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return generic.ErrInvalidTransition }

// CanTransition returns nil if from -> to is allowed given r.
func CanTransition(from, to OnboardingState, r Readiness) error {
	allowed := false
	for _, next := range onboardingTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &TransitionError{From: from, To: to, Reason: "transition not allowed"}
	}
	if to == StateActive {
		if !r.HasPolicy {
			return &TransitionError{From: from, To: to, Reason: "no billing policy configured"}
		}
		if r.HeadingCount == 0 {
			return &TransitionError{From: from, To: to, Reason: "no headings defined"}
		}
	}
	return nil
}

// Transition moves the society to the given state.
func (s *Society) Transition(to OnboardingState, r Readiness) error {
	if err := CanTransition(s.State, to, r); err != nil {
		return err
	}
	s.State = to
	return nil
}

// RequireActive returns a *StateError unless the society can be billed.
func (s Society) RequireActive() error {
	if s.State != StateActive {
		return &StateError{SocietyID: s.ID, State: s.State, Need: StateActive}
	}
	return nil
}
