/*
rejection.go - Rejection recording and retrieval

PURPOSE:

	Tracks the reason/comment pair attached to each rejecting status
	change. Each rejecting StatusChange carries at most ONE Rejection;
	a quantification rejected twice has two StatusChanges, each with its
	own Rejection, and "latest rejection" means the one tied to the most
	recent of them.

SEE ALSO:
  - workflow.go: Reject() records through this tracker
  - store.go: RejectionStore enforces the 1:1 invariant at the row level
*/
package buq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RejectionPayload is the caller-supplied content of a rejection.
type RejectionPayload struct {
	RejectionReasons []string
	GeneralComments  string
}

// RejectionTracker records and retrieves rejections.
type RejectionTracker struct {
	store RejectionStore
}

// NewRejectionTracker builds a tracker over the given store.
func NewRejectionTracker(store RejectionStore) *RejectionTracker {
	return &RejectionTracker{store: store}
}

// Record persists a Rejection tied to exactly one status change. Fails
// with DuplicateRejectionError when that status change already has one.
func (t *RejectionTracker) Record(ctx context.Context, quantificationID string, statusChange *StatusChange, payload RejectionPayload, now time.Time) (*Rejection, error) {
	rejection := &Rejection{
		ID:               uuid.NewString(),
		StatusChangeID:   statusChange.ID,
		QuantificationID: quantificationID,
		RejectionReasons: payload.RejectionReasons,
		GeneralComments:  payload.GeneralComments,
		CreatedDate:      now,
	}
	if err := t.store.SaveRejection(ctx, rejection); err != nil {
		return nil, err
	}
	return rejection, nil
}

// FindByStatusChange returns the rejection for one status change, or
// NotFoundError if it has none.
func (t *RejectionTracker) FindByStatusChange(ctx context.Context, statusChangeID string) (*Rejection, error) {
	return t.store.RejectionByStatusChange(ctx, statusChangeID)
}

// Latest returns the rejection tied to the quantification's most recent
// rejecting status change, or NotFoundError if it was never rejected.
func (t *RejectionTracker) Latest(ctx context.Context, quantificationID string) (*Rejection, error) {
	return t.store.LatestRejection(ctx, quantificationID)
}

// PruneByStatusChangeIDs bulk-removes rejections for pruned status
// changes. Not exercised by the normal workflow.
func (t *RejectionTracker) PruneByStatusChangeIDs(ctx context.Context, statusChangeIDs []string) error {
	return t.store.DeleteRejectionsByStatusChangeIDs(ctx, statusChangeIDs)
}
