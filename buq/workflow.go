/*
workflow.go - Quantification lifecycle orchestration

PURPOSE:

	The central service owning the BottomUpQuantification aggregate.
	Validates and executes transitions (prepare, submit, authorize,
	approve, reject), maintains the append-only status-change history,
	and recomputes derived figures at the right points.

OPERATION SHAPE:

	Every state-changing operation:
	1. Loads the aggregate (or builds it, for Prepare)
	2. Asks the transition policy (status.go) whether the action is legal
	3. Appends exactly ONE StatusChange and updates ModifiedDate
	4. Persists atomically - the status mutation, the StatusChange append
	   and any Rejection/Funding write commit together or not at all
	5. Emits a change-log fact and a transition metric, and logs

ACTING USER:

	The actor's id is an explicit argument on every operation. There is
	no ambient "current user" state inside the core; resolving the caller
	is the boundary layer's job.

DERIVED FIGURES:

	Prepare computes each line item's annual adjusted consumption from
	the facility's requisition history. The terminal approval recomputes
	funding totals (forecasted cost from line items, projected fund from
	funding sources, and their gap) before finalizing.

SEE ALSO:
  - status.go: transition legality
  - funding.go, consumption.go, packs.go: the calculators invoked here
  - store.go: atomicity and concurrency contract
*/
package buq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransitionObserver receives workflow outcome notifications, e.g. for
// metrics. Implementations must be non-blocking.
type TransitionObserver interface {
	TransitionApplied(action Action, to Status)
	TransitionDenied(action Action, key string)
}

type nopObserver struct{}

func (nopObserver) TransitionApplied(Action, Status) {}
func (nopObserver) TransitionDenied(Action, string)  {}

// SaveRequest is the caller-supplied update payload. A nil LineItems
// slice leaves the collection untouched; a non-nil one replaces it
// wholesale. Same for SourcesOfFunds.
type SaveRequest struct {
	ID             string
	LineItems      []LineItem
	SourcesOfFunds []SourceOfFundEntry
}

// Workflow orchestrates the quantification lifecycle.
type Workflow struct {
	Store    TxStore
	RefData  ReferenceData
	Changes  ChangeLog
	Observer TransitionObserver
	Logger   *zap.Logger

	// Currency anchors all monetary calculation. Single-currency by
	// configuration; mixing is a fatal precondition violation.
	Currency string

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// NewWorkflow builds a workflow with production defaults.
func NewWorkflow(store TxStore, refData ReferenceData, changes ChangeLog, logger *zap.Logger, currency string) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		Store:    store,
		RefData:  refData,
		Changes:  changes,
		Observer: nopObserver{},
		Logger:   logger,
		Currency: currency,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Rejections returns a tracker bound to the workflow's store, for
// read-side rejection queries.
func (w *Workflow) Rejections() *RejectionTracker {
	return NewRejectionTracker(w.Store)
}

// =============================================================================
// PREPARE
// =============================================================================

// Prepare creates a new quantification for a facility, program and
// processing period, with one line item per approved product and the
// initial DRAFT status change.
func (w *Workflow) Prepare(ctx context.Context, facilityID, programID, processingPeriodID, actorID string) (*BottomUpQuantification, error) {
	var missing []string
	if facilityID == "" {
		missing = append(missing, "facilityId")
	}
	if programID == "" {
		missing = append(missing, "programId")
	}
	if processingPeriodID == "" {
		missing = append(missing, "processingPeriodId")
	}
	if len(missing) > 0 {
		return nil, &MissingParametersError{Fields: missing}
	}

	now := w.Now()

	facility, err := w.RefData.FindFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if _, err := w.RefData.FindProgram(ctx, programID); err != nil {
		return nil, err
	}
	period, err := w.RefData.FindProcessingPeriod(ctx, processingPeriodID)
	if err != nil {
		return nil, err
	}
	if !facility.SupportsProgram(programID, now) {
		return nil, &FacilityProgramMismatchError{FacilityID: facilityID, ProgramID: programID}
	}

	products, err := w.RefData.GetApprovedProducts(ctx, facilityID, programID)
	if err != nil {
		return nil, err
	}
	history, err := w.RefData.GetRequisitionHistory(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	q := &BottomUpQuantification{
		ID:                 w.NewID(),
		FacilityID:         facilityID,
		ProgramID:          programID,
		ProcessingPeriodID: processingPeriodID,
		SupervisoryNodeID:  facility.SupervisoryNodeID,
		TargetYear:         period.EndDate.Year(),
		LineItems:          w.buildLineItems(products, history, *period),
		CreatedDate:        now,
		ModifiedDate:       now,
	}
	q.AppendStatusChange(w.NewID(), StatusDraft, actorID, now)

	if err := w.Store.Create(ctx, q); err != nil {
		return nil, err
	}

	w.recordStatusFact(ctx, q, "", StatusDraft, actorID, now)
	w.Observer.TransitionApplied(ActionPrepare, StatusDraft)
	w.Logger.Info("quantification prepared",
		zap.String("id", q.ID),
		zap.String("facilityId", facilityID),
		zap.String("programId", programID),
		zap.String("processingPeriodId", processingPeriodID),
		zap.Int("lineItems", len(q.LineItems)),
		zap.String("actor", actorID))
	return q, nil
}

// buildLineItems creates one line item per approved product. Annual
// adjusted consumption is computed from requisition history when the
// facility has any rows for the orderable; otherwise it stays nil
// (not yet computed, distinct from computed zero).
func (w *Workflow) buildLineItems(products []ApprovedProduct, history []HistoricalLineItem, period Period) []LineItem {
	byOrderable := make(map[string][]HistoricalLineItem)
	for _, h := range history {
		byOrderable[h.OrderableID] = append(byOrderable[h.OrderableID], h)
	}

	items := make([]LineItem, 0, len(products))
	for _, p := range products {
		item := LineItem{ID: w.NewID(), OrderableID: p.OrderableID}
		if rows, ok := byOrderable[p.OrderableID]; ok {
			consumption := CalculateAnnualAdjustedConsumption(rows, period)
			item.AnnualAdjustedConsumption = &consumption
		}
		items = append(items, item)
	}
	return items
}

// =============================================================================
// SAVE
// =============================================================================

// Save replaces the aggregate's line items (and funding sources, when
// supplied) wholesale. It never changes status.
func (w *Workflow) Save(ctx context.Context, update SaveRequest, targetID string) (*BottomUpQuantification, error) {
	q, err := w.load(ctx, update, targetID)
	if err != nil {
		return nil, err
	}

	now := w.Now()
	w.applySave(q, update, now)

	if err := w.Store.Update(ctx, q); err != nil {
		return nil, err
	}
	w.Logger.Info("quantification saved",
		zap.String("id", q.ID),
		zap.Int("lineItems", len(q.LineItems)))
	return q, nil
}

func (w *Workflow) applySave(q *BottomUpQuantification, update SaveRequest, now time.Time) {
	if update.LineItems != nil {
		items := make([]LineItem, len(update.LineItems))
		copy(items, update.LineItems)
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = w.NewID()
			}
		}
		q.ReplaceLineItems(items, now)
	}
	if update.SourcesOfFunds != nil {
		if q.FundingDetails == nil {
			q.FundingDetails = &FundingDetails{
				ID:                  w.NewID(),
				QuantificationID:    q.ID,
				TotalProjectedFund:  ZeroMoney(w.Currency),
				TotalForecastedCost: ZeroMoney(w.Currency),
				Gap:                 ZeroMoney(w.Currency),
			}
		}
		entries := make([]SourceOfFundEntry, len(update.SourcesOfFunds))
		copy(entries, update.SourcesOfFunds)
		for i := range entries {
			if entries[i].ID == "" {
				entries[i].ID = w.NewID()
			}
		}
		q.FundingDetails.SourcesOfFunds = entries
		q.ModifiedDate = now
	}
}

// =============================================================================
// SUBMIT / AUTHORIZE
// =============================================================================

// Submit moves a draft (or rejected) quantification to SUBMITTED,
// applying the update payload first.
func (w *Workflow) Submit(ctx context.Context, update SaveRequest, targetID, actorID string) (*BottomUpQuantification, error) {
	return w.advance(ctx, update, targetID, actorID, ActionSubmit, StatusSubmitted)
}

// Authorize moves a submitted (or rejected) quantification to
// AUTHORIZED, applying the update payload first.
func (w *Workflow) Authorize(ctx context.Context, update SaveRequest, targetID, actorID string) (*BottomUpQuantification, error) {
	return w.advance(ctx, update, targetID, actorID, ActionAuthorize, StatusAuthorized)
}

func (w *Workflow) advance(ctx context.Context, update SaveRequest, targetID, actorID string, action Action, to Status) (*BottomUpQuantification, error) {
	q, err := w.load(ctx, update, targetID)
	if err != nil {
		return nil, err
	}
	if err := w.check(q, action); err != nil {
		return nil, err
	}

	now := w.Now()
	from := q.Status
	w.applySave(q, update, now)
	q.AppendStatusChange(w.NewID(), to, actorID, now)

	if err := w.Store.Update(ctx, q); err != nil {
		return nil, err
	}
	w.finishTransition(ctx, q, action, from, to, actorID, now)
	return q, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve advances an authorized or in-approval quantification to the
// next approval tier. The terminal approval recomputes funding totals
// before finalizing.
func (w *Workflow) Approve(ctx context.Context, targetID, actorID string) (*BottomUpQuantification, error) {
	q, err := w.Store.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := w.check(q, ActionApprove); err != nil {
		return nil, err
	}

	now := w.Now()
	from := q.Status
	next, terminal := NextApprovalTier(q.Status)

	if terminal {
		if err := w.recalculateFunding(ctx, q); err != nil {
			return nil, err
		}
	}
	q.AppendStatusChange(w.NewID(), next, actorID, now)

	if err := w.Store.Update(ctx, q); err != nil {
		return nil, err
	}
	w.finishTransition(ctx, q, ActionApprove, from, next, actorID, now)
	return q, nil
}

// recalculateFunding derives the forecasted cost from line items and
// packaging/price data, then aggregates funding sources against it.
func (w *Workflow) recalculateFunding(ctx context.Context, q *BottomUpQuantification) error {
	products, err := w.RefData.GetApprovedProducts(ctx, q.FacilityID, q.ProgramID)
	if err != nil {
		return err
	}
	costings := make(map[string]ProductCosting, len(products))
	for _, p := range products {
		costings[p.OrderableID] = ProductCosting{Packaging: p.Packaging, PricePerPack: p.PricePerPack}
	}

	cost, err := CalculateForecastedCost(q.LineItems, costings, w.Currency)
	if err != nil {
		return err
	}

	var entries []SourceOfFundEntry
	if q.FundingDetails != nil {
		entries = q.FundingDetails.SourcesOfFunds
	}
	totals, err := CalculateFunding(entries, cost, w.Currency)
	if err != nil {
		return err
	}

	if q.FundingDetails == nil {
		q.FundingDetails = &FundingDetails{ID: w.NewID(), QuantificationID: q.ID}
	}
	q.FundingDetails.TotalProjectedFund = totals.TotalProjectedFund
	q.FundingDetails.TotalForecastedCost = totals.TotalForecastedCost
	q.FundingDetails.Gap = totals.Gap
	return nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject records a rejection-tagged status change and the Rejection
// carrying its reasons. Both writes commit in one transaction.
func (w *Workflow) Reject(ctx context.Context, targetID string, payload RejectionPayload, actorID string) (*BottomUpQuantification, error) {
	q, err := w.Store.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := w.check(q, ActionReject); err != nil {
		return nil, err
	}

	now := w.Now()
	from := q.Status
	change := q.AppendStatusChange(w.NewID(), StatusRejected, actorID, now)

	err = w.Store.WithTx(ctx, func(s Store) error {
		if err := s.Update(ctx, q); err != nil {
			return err
		}
		_, err := NewRejectionTracker(s).Record(ctx, q.ID, change, payload, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.finishTransition(ctx, q, ActionReject, from, StatusRejected, actorID, now)
	return q, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes the aggregate and everything it owns: line items,
// status changes, funding details and the rejections hanging off the
// pruned status changes.
func (w *Workflow) Delete(ctx context.Context, targetID string) error {
	q, err := w.Store.Get(ctx, targetID)
	if err != nil {
		return err
	}

	changeIDs := make([]string, len(q.StatusChanges))
	for i, sc := range q.StatusChanges {
		changeIDs[i] = sc.ID
	}

	err = w.Store.WithTx(ctx, func(s Store) error {
		if err := s.DeleteRejectionsByStatusChangeIDs(ctx, changeIDs); err != nil {
			return err
		}
		return s.Delete(ctx, q.ID)
	})
	if err != nil {
		return err
	}
	w.Logger.Info("quantification deleted", zap.String("id", q.ID))
	return nil
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

// load fetches the target aggregate, first rejecting payloads whose id
// disagrees with the path id.
func (w *Workflow) load(ctx context.Context, update SaveRequest, targetID string) (*BottomUpQuantification, error) {
	if update.ID != "" && update.ID != targetID {
		return nil, &IDMismatchError{PayloadID: update.ID, TargetID: targetID}
	}
	return w.Store.Get(ctx, targetID)
}

func (w *Workflow) check(q *BottomUpQuantification, action Action) error {
	err := CheckTransition(q.Status, action)
	if err == nil {
		return nil
	}
	var tErr *InvalidTransitionError
	if errors.As(err, &tErr) {
		w.Observer.TransitionDenied(action, tErr.Key)
		w.Logger.Warn("transition denied",
			zap.String("id", q.ID),
			zap.String("action", string(action)),
			zap.String("status", string(q.Status)),
			zap.String("key", tErr.Key))
	}
	return err
}

func (w *Workflow) finishTransition(ctx context.Context, q *BottomUpQuantification, action Action, from, to Status, actorID string, now time.Time) {
	w.recordStatusFact(ctx, q, from, to, actorID, now)
	w.Observer.TransitionApplied(action, to)
	w.Logger.Info("transition applied",
		zap.String("id", q.ID),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actorID))
}

// recordStatusFact emits the status-change fact to the external change
// log. The log is advisory display data; a failure to record is logged
// and does not fail the committed operation.
func (w *Workflow) recordStatusFact(ctx context.Context, q *BottomUpQuantification, from, to Status, actorID string, now time.Time) {
	if w.Changes == nil {
		return
	}
	err := w.Changes.Record(ctx, ChangeEntry{
		EntityType: "bottomUpQuantification",
		EntityID:   q.ID,
		Field:      "status",
		OldValue:   string(from),
		NewValue:   string(to),
		AuthorID:   actorID,
		OccurredAt: now,
	})
	if err != nil {
		w.Logger.Warn("change log write failed", zap.String("id", q.ID), zap.Error(err))
	}
}
