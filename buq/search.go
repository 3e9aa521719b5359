/*
search.go - Filtered, paginated retrieval of quantifications

PURPOSE:

	Parameter and result types for the three search surfaces: general
	listing, the approval queue, and the cost-calculation-ready subset.
	The queries themselves live in the store implementations.

FILTER SEMANTICS:
  - Empty status set means no status filter, not "match nothing".
  - Empty facility id means no facility filter.
  - Default sort is CreatedDate ascending when none is requested.

APPROVAL QUEUE GUARD:

	SearchApprovable only returns a quantification when its most recent
	AUTHORIZED status change is the latest AUTHORIZED change on file for
	it. Duplicate authorize events would otherwise produce ambiguous
	queue entries.
*/
package buq

// SearchParams filters the general listing.
type SearchParams struct {
	// Statuses restricts results to these states. Empty = no filter.
	Statuses []Status

	// FacilityID restricts results to one facility. Empty = no filter.
	FacilityID string
}

// ProgramNodePair routes approval-queue membership.
type ProgramNodePair struct {
	ProgramID         string
	SupervisoryNodeID string
}

// PageRequest is a zero-based page specification.
type PageRequest struct {
	Number int
	Size   int

	// SortBy is a whitelisted column name; empty means the default
	// CreatedDate ascending.
	SortBy string
	Desc   bool
}

// Limit returns the page size, defaulting when unset.
func (p PageRequest) Limit() int {
	if p.Size <= 0 {
		return 20
	}
	return p.Size
}

// Offset returns the row offset of the page.
func (p PageRequest) Offset() int {
	if p.Number < 0 {
		return 0
	}
	return p.Number * p.Limit()
}

// PageResult is one page of quantifications plus the unpaged total.
type PageResult struct {
	Items      []BottomUpQuantification
	TotalCount int64
	Number     int
	Size       int
}

// ApprovableStatuses are the states eligible for the approval queue.
func ApprovableStatuses() []Status {
	return []Status{StatusAuthorized, StatusInApproval, StatusApprovedByDP, StatusApprovedByRP}
}
