/*
store.go - Persistence interfaces for the quantification core

PURPOSE:

	Defines the interface between the workflow and the database. The core
	never touches SQL; implementations live in store/sqlite (production)
	and buq/store (in-memory, for tests).

APPEND-ONLY CONTRACT:

	StatusChanges are persisted append-only: an Update writes new rows for
	newly appended changes and never rewrites or removes existing ones.
	The single exception is cascade delete of the whole aggregate.

ATOMICITY:

	One workflow operation is one transaction. WithTx gives the workflow a
	Store whose writes commit together or not at all; a status mutation
	without its StatusChange row must be impossible to observe.

OPTIMISTIC CONCURRENCY:

	Update checks the aggregate's Version against the stored row and fails
	with ErrConcurrentModification on mismatch. The core surfaces the
	error; it never retries.

SEE ALSO:
  - store/sqlite/sqlite.go: production implementation
  - buq/store/memory.go: in-memory implementation
*/
package buq

import (
	"context"
	"time"
)

// =============================================================================
// QUANTIFICATION STORE
// =============================================================================

// QuantificationStore persists the aggregate and answers search queries.
type QuantificationStore interface {
	// Create persists a new aggregate. Fails with
	// DuplicatePeriodFacilityError when one already exists for the same
	// (facility, processing period) pair.
	Create(ctx context.Context, q *BottomUpQuantification) error

	// Get loads the full aggregate (line items, status changes, funding).
	// Fails with NotFoundError when absent.
	Get(ctx context.Context, id string) (*BottomUpQuantification, error)

	// Update persists the aggregate: line items replaced wholesale, new
	// status changes appended, funding upserted. Fails with
	// ErrConcurrentModification when q.Version is stale.
	Update(ctx context.Context, q *BottomUpQuantification) error

	// Delete cascades removal of the aggregate and everything it owns.
	// Fails with NotFoundError when absent.
	Delete(ctx context.Context, id string) error

	// Search returns a page filtered by status set and facility.
	Search(ctx context.Context, params SearchParams, page PageRequest) (*PageResult, error)

	// SearchApprovable returns the approval queue for the given
	// (program, supervisory node) pairs.
	SearchApprovable(ctx context.Context, pairs []ProgramNodePair, page PageRequest) (*PageResult, error)

	// SearchCostCalculationReady returns terminally approved
	// quantifications for a period and node pairs.
	SearchCostCalculationReady(ctx context.Context, processingPeriodID string, pairs []ProgramNodePair, page PageRequest) (*PageResult, error)
}

// RejectionStore persists rejections, 1:1 with their status changes.
type RejectionStore interface {
	// SaveRejection fails with DuplicateRejectionError when the status
	// change already carries one.
	SaveRejection(ctx context.Context, r *Rejection) error

	// RejectionByStatusChange fails with NotFoundError when absent.
	RejectionByStatusChange(ctx context.Context, statusChangeID string) (*Rejection, error)

	// LatestRejection returns the rejection tied to the most recent
	// rejecting status change of the quantification, or NotFoundError if
	// it has never been rejected.
	LatestRejection(ctx context.Context, quantificationID string) (*Rejection, error)

	// DeleteRejectionsByStatusChangeIDs bulk-removes rejections. Used
	// only when status-change history is pruned.
	DeleteRejectionsByStatusChangeIDs(ctx context.Context, statusChangeIDs []string) error
}

// ReferenceStore persists the independent reference entities.
type ReferenceStore interface {
	CreateRemark(ctx context.Context, r *Remark) error
	ListRemarks(ctx context.Context) ([]Remark, error)
	DeleteRemark(ctx context.Context, id string) error

	CreateSourceOfFund(ctx context.Context, s *SourceOfFund) error
	ListSourcesOfFunds(ctx context.Context) ([]SourceOfFund, error)

	CreateProductGroup(ctx context.Context, g *ProductGroup) error
	ListProductGroups(ctx context.Context) ([]ProductGroup, error)
}

// Store is the full persistence surface the workflow depends on.
type Store interface {
	QuantificationStore
	RejectionStore
	ReferenceStore
}

// TxStore wraps Store with transaction support. Workflow operations that
// touch more than one table run inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within one transaction. fn's error rolls back,
	// nil commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CHANGE LOG - external field-level audit collaborator
// =============================================================================

// ChangeEntry is one "field changed from X to Y" fact.
type ChangeEntry struct {
	EntityType string
	EntityID   string
	Field      string
	OldValue   string
	NewValue   string
	AuthorID   string
	OccurredAt time.Time
}

// ChangeLog is the append-only external audit log the core writes
// status-change facts into. The diffing/storage mechanism behind it is
// not this core's business.
type ChangeLog interface {
	Record(ctx context.Context, entry ChangeEntry) error
	History(ctx context.Context, entityType, entityID string) ([]ChangeEntry, error)
}
