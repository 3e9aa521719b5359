package buq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/buq-engine/buq"
)

// =============================================================================
// PREDICATE TESTS
// =============================================================================

func TestStatus_Predicates(t *testing.T) {
	cases := []struct {
		status          buq.Status
		duringApproval  bool
		isPreAuthorize  bool
		isPostSubmitted bool
		inApprovalPhase bool
		isTerminal      bool
	}{
		{buq.StatusDraft, false, true, false, false, false},
		{buq.StatusSubmitted, false, true, true, false, false},
		{buq.StatusAuthorized, false, false, true, false, false},
		{buq.StatusApprovedByDP, true, false, true, true, false},
		{buq.StatusApprovedByRP, true, false, true, true, false},
		{buq.StatusApprovedByNQT, true, false, true, false, true},
		// Outside the ordinal ladder: every ordinal predicate is false,
		// but IN_APPROVAL still sits in the approval phase.
		{buq.StatusInApproval, false, false, false, true, false},
		{buq.StatusRejected, false, false, false, false, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.duringApproval, tc.status.DuringApproval(), "DuringApproval")
			assert.Equal(t, tc.isPreAuthorize, tc.status.IsPreAuthorize(), "IsPreAuthorize")
			assert.Equal(t, tc.isPostSubmitted, tc.status.IsPostSubmitted(), "IsPostSubmitted")
			assert.Equal(t, tc.inApprovalPhase, tc.status.InApprovalPhase(), "InApprovalPhase")
			assert.Equal(t, tc.isTerminal, tc.status.IsTerminal(), "IsTerminal")
		})
	}
}

func TestStatus_Ordinals(t *testing.T) {
	// GIVEN: The six mainline states
	// THEN: Their ordinals are strictly increasing 1..6
	mainline := []buq.Status{
		buq.StatusDraft,
		buq.StatusSubmitted,
		buq.StatusAuthorized,
		buq.StatusApprovedByDP,
		buq.StatusApprovedByRP,
		buq.StatusApprovedByNQT,
	}
	for i, s := range mainline {
		ordinal, ok := s.Ordinal()
		require.True(t, ok, "%s should carry an ordinal", s)
		assert.Equal(t, i+1, ordinal)
	}

	// AND: The non-ordinal states carry none
	for _, s := range []buq.Status{buq.StatusInApproval, buq.StatusRejected} {
		_, ok := s.Ordinal()
		assert.False(t, ok, "%s should not carry an ordinal", s)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range buq.AllStatuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, buq.Status("APPROVED").Valid())
	assert.False(t, buq.Status("").Valid())
}

// =============================================================================
// TRANSITION LEGALITY
// =============================================================================

func TestCheckTransition_LegalitySweep(t *testing.T) {
	// Every (status, action) pair against the full transition table.
	legal := map[buq.Action][]buq.Status{
		buq.ActionSubmit:    {buq.StatusDraft, buq.StatusRejected},
		buq.ActionAuthorize: {buq.StatusSubmitted, buq.StatusRejected},
		buq.ActionApprove:   {buq.StatusAuthorized, buq.StatusInApproval, buq.StatusApprovedByDP, buq.StatusApprovedByRP},
		buq.ActionReject:    {buq.StatusAuthorized, buq.StatusInApproval, buq.StatusApprovedByDP, buq.StatusApprovedByRP},
	}

	for action, allowed := range legal {
		for _, status := range buq.AllStatuses {
			shouldPass := false
			for _, s := range allowed {
				if s == status {
					shouldPass = true
				}
			}

			err := buq.CheckTransition(status, action)
			if shouldPass {
				assert.NoError(t, err, "%s from %s", action, status)
				continue
			}

			require.Error(t, err, "%s from %s", action, status)
			var tErr *buq.InvalidTransitionError
			require.ErrorAs(t, err, &tErr)
			assert.Equal(t, status, tErr.Current)
			assert.Equal(t, action, tErr.Action)
			assert.NotEmpty(t, tErr.Key)
		}
	}
}

func TestCheckTransition_StableKeys(t *testing.T) {
	cases := []struct {
		action buq.Action
		from   buq.Status
		key    string
	}{
		{buq.ActionSubmit, buq.StatusAuthorized, "mustBeDraftOrRejectedToBeSubmitted"},
		{buq.ActionAuthorize, buq.StatusDraft, "mustBeSubmittedOrRejectedToBeAuthorized"},
		{buq.ActionApprove, buq.StatusDraft, "mustBeAuthorizedOrInApprovalToBeApproved"},
		{buq.ActionReject, buq.StatusSubmitted, "mustBeAuthorizedOrInApprovalToBeRejected"},
	}

	for _, tc := range cases {
		err := buq.CheckTransition(tc.from, tc.action)
		require.Error(t, err)
		assert.Equal(t, tc.key, buq.Key(err))
	}
}

func TestNextApprovalTier_LinearProgression(t *testing.T) {
	next, terminal := buq.NextApprovalTier(buq.StatusAuthorized)
	assert.Equal(t, buq.StatusApprovedByDP, next)
	assert.False(t, terminal)

	next, terminal = buq.NextApprovalTier(buq.StatusInApproval)
	assert.Equal(t, buq.StatusApprovedByDP, next)
	assert.False(t, terminal)

	next, terminal = buq.NextApprovalTier(buq.StatusApprovedByDP)
	assert.Equal(t, buq.StatusApprovedByRP, next)
	assert.False(t, terminal)

	next, terminal = buq.NextApprovalTier(buq.StatusApprovedByRP)
	assert.Equal(t, buq.StatusApprovedByNQT, next)
	assert.True(t, terminal)
}
