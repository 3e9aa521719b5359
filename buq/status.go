/*
status.go - Quantification workflow states and transition policy

PURPOSE:

	Defines the closed set of workflow states a Bottom-Up Quantification
	moves through, and the policy deciding which transitions are legal.
	All legality checks live here so the workflow service never compares
	raw status values itself.

STATE MACHINE:

	DRAFT ──submit──▶ SUBMITTED ──authorize──▶ AUTHORIZED
	                                                │
	                            ┌───────approve─────┘
	                            ▼
	      APPROVED_BY_DP ──approve──▶ APPROVED_BY_RP ──approve──▶ APPROVED_BY_NQT
	            │                           │                        (terminal)
	            └────────reject─────────────┴──▶ REJECTED
	                                                │
	                        submit / authorize ◀────┘ (resubmission loop)

	AUTHORIZED and every non-terminal approval tier can also be rejected.
	A REJECTED quantification re-enters the flow via submit or authorize,
	depending on where it was rejected from.

ORDINALS:

	The six mainline states carry ordinals 1..6 used by the derived
	predicates (DuringApproval, IsPreAuthorize, IsPostSubmitted).
	IN_APPROVAL and REJECTED are named states without an ordinal; the
	predicates treat them as outside the ordinal ladder rather than
	comparing magic numbers.

SEE ALSO:
  - workflow.go: Applies this policy before mutating the aggregate
  - errors.go: InvalidTransitionError returned on illegal transitions
*/
package buq

// Status is a workflow state of a Bottom-Up Quantification.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSubmitted     Status = "SUBMITTED"
	StatusAuthorized    Status = "AUTHORIZED"
	StatusInApproval    Status = "IN_APPROVAL"
	StatusApprovedByDP  Status = "APPROVED_BY_DP"
	StatusApprovedByRP  Status = "APPROVED_BY_RP"
	StatusApprovedByNQT Status = "APPROVED_BY_NQT"
	StatusRejected      Status = "REJECTED"
)

// Action is a workflow operation requested against a quantification.
type Action string

const (
	ActionPrepare   Action = "prepare"
	ActionSubmit    Action = "submit"
	ActionAuthorize Action = "authorize"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
)

// AllStatuses lists every representable state, mainline ordinals first.
var AllStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusAuthorized,
	StatusApprovedByDP,
	StatusApprovedByRP,
	StatusApprovedByNQT,
	StatusInApproval,
	StatusRejected,
}

// ordinals of the six mainline states. IN_APPROVAL and REJECTED are
// deliberately absent: they have no position on the ladder.
var statusOrdinals = map[Status]int{
	StatusDraft:         1,
	StatusSubmitted:     2,
	StatusAuthorized:    3,
	StatusApprovedByDP:  4,
	StatusApprovedByRP:  5,
	StatusApprovedByNQT: 6,
}

// Ordinal returns the mainline position of s and whether s has one.
func (s Status) Ordinal() (int, bool) {
	o, ok := statusOrdinals[s]
	return o, ok
}

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// DuringApproval reports whether s is at or past the first approval tier.
func (s Status) DuringApproval() bool {
	o, ok := s.Ordinal()
	return ok && o >= 4
}

// IsPreAuthorize reports whether s precedes authorization.
func (s Status) IsPreAuthorize() bool {
	return s == StatusDraft || s == StatusSubmitted
}

// IsPostSubmitted reports whether s is at or past submission.
func (s Status) IsPostSubmitted() bool {
	o, ok := s.Ordinal()
	return ok && o >= 2
}

// InApprovalPhase reports whether s sits between authorization and the
// terminal approval: the states from which approve and reject remain legal
// after the initial AUTHORIZED step.
func (s Status) InApprovalPhase() bool {
	return s == StatusInApproval || s == StatusApprovedByDP || s == StatusApprovedByRP
}

// IsTerminal reports whether s is the final approval tier.
func (s Status) IsTerminal() bool {
	return s == StatusApprovedByNQT
}

// =============================================================================
// TRANSITION POLICY
// =============================================================================

// transition legality, keyed by action. Approve and reject share the
// authorized-or-in-approval set.
var allowedFrom = map[Action][]Status{
	ActionSubmit:    {StatusDraft, StatusRejected},
	ActionAuthorize: {StatusSubmitted, StatusRejected},
	ActionApprove:   approveRejectSources(),
	ActionReject:    approveRejectSources(),
}

// approveRejectSources is AUTHORIZED plus every state in the approval
// phase, in AllStatuses order.
func approveRejectSources() []Status {
	from := []Status{StatusAuthorized}
	for _, s := range AllStatuses {
		if s.InApprovalPhase() {
			from = append(from, s)
		}
	}
	return from
}

// transitionKeys are the stable machine-readable keys carried by
// InvalidTransitionError, one per action.
var transitionKeys = map[Action]string{
	ActionSubmit:    "mustBeDraftOrRejectedToBeSubmitted",
	ActionAuthorize: "mustBeSubmittedOrRejectedToBeAuthorized",
	ActionApprove:   "mustBeAuthorizedOrInApprovalToBeApproved",
	ActionReject:    "mustBeAuthorizedOrInApprovalToBeRejected",
}

// AllowedFrom returns the set of states the given action may start from.
func AllowedFrom(action Action) []Status {
	from := allowedFrom[action]
	out := make([]Status, len(from))
	copy(out, from)
	return out
}

// CheckTransition validates that action is legal from current.
// Returns an *InvalidTransitionError identifying the current state, the
// attempted action and the allowed set when it is not.
func CheckTransition(current Status, action Action) error {
	for _, s := range allowedFrom[action] {
		if s == current {
			return nil
		}
	}
	return &InvalidTransitionError{
		Current: current,
		Action:  action,
		Allowed: AllowedFrom(action),
		Key:     transitionKeys[action],
	}
}

// NextApprovalTier returns the state approve advances to from current.
// The progression is linear: AUTHORIZED (or bare IN_APPROVAL) enters the
// first tier, then DP → RP → NQT. The second return is true when the
// resulting state is the terminal approval.
func NextApprovalTier(current Status) (Status, bool) {
	var next Status
	switch current {
	case StatusAuthorized, StatusInApproval:
		next = StatusApprovedByDP
	case StatusApprovedByDP:
		next = StatusApprovedByRP
	case StatusApprovedByRP:
		next = StatusApprovedByNQT
	default:
		// Callers run CheckTransition first; this is unreachable for legal input.
		return current, false
	}
	return next, next.IsTerminal()
}
