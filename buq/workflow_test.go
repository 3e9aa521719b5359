package buq_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openforecast/buq-engine/buq"
	"github.com/openforecast/buq-engine/buq/store"
	"github.com/openforecast/buq-engine/refdata"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	workflow *buq.Workflow
	refData  *refdata.Static
	store    *store.Memory
	changes  *store.MemoryChangeLog
	observer *recordingObserver
	now      time.Time
}

// recordingObserver captures transition notifications for assertions.
type recordingObserver struct {
	applied []string
	denied  []string
}

func (o *recordingObserver) TransitionApplied(action buq.Action, to buq.Status) {
	o.applied = append(o.applied, string(action)+"->"+string(to))
}

func (o *recordingObserver) TransitionDenied(action buq.Action, key string) {
	o.denied = append(o.denied, string(action)+":"+key)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	refData := refdata.NewStatic()
	refData.Programs["program-1"] = buq.Program{ID: "program-1", Name: "Essential Medicines"}
	refData.Facilities["facility-1"] = buq.Facility{
		ID:                "facility-1",
		Name:              "District Hospital",
		SupervisoryNodeID: "node-1",
		SupportedPrograms: []buq.SupportedProgram{{
			ProgramID:        "program-1",
			Active:           true,
			SupportActive:    true,
			SupportStartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	refData.Periods["period-1"] = buq.Period{
		ID:        "period-1",
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	refData.ApprovedProducts["facility-1/program-1"] = []buq.ApprovedProduct{
		{
			OrderableID:  "orderable-1",
			Packaging:    buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			PricePerPack: usd("10.00"),
		},
		{
			OrderableID:  "orderable-2",
			Packaging:    buq.Packaging{NetContent: 20, PackRoundingThreshold: 10},
			PricePerPack: usd("5.00"),
		},
	}
	refData.History["facility-1"] = []buq.HistoricalLineItem{
		// Two contained rows for orderable-1, summing to 15.
		{OrderableID: "orderable-1", AdjustedConsumption: int64p(6),
			StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)},
		{OrderableID: "orderable-1", AdjustedConsumption: int64p(9),
			StartDate: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)},
		// Straddles the period start: must not count.
		{OrderableID: "orderable-1", AdjustedConsumption: int64p(100),
			StartDate: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)},
		// No rows at all for orderable-2.
	}

	memory := store.NewMemory()
	changes := store.NewMemoryChangeLog()
	workflow := buq.NewWorkflow(memory, refData, changes, zap.NewNop(), "USD")

	observer := &recordingObserver{}
	workflow.Observer = observer

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	workflow.Now = func() time.Time { return now }

	var seq int
	workflow.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	return &testEnv{
		workflow: workflow,
		refData:  refData,
		store:    memory,
		changes:  changes,
		observer: observer,
		now:      now,
	}
}

func (e *testEnv) prepare(t *testing.T) *buq.BottomUpQuantification {
	t.Helper()
	q, err := e.workflow.Prepare(context.Background(), "facility-1", "program-1", "period-1", "user-1")
	require.NoError(t, err)
	return q
}

// =============================================================================
// PREPARE
// =============================================================================

func TestWorkflow_Prepare_BuildsDraftWithComputedConsumption(t *testing.T) {
	// GIVEN: A facility with two approved products, history for one
	env := newTestEnv(t)

	// WHEN: Preparing a quantification
	q := env.prepare(t)

	// THEN: A DRAFT with one status change and facility routing data
	assert.Equal(t, buq.StatusDraft, q.Status)
	require.Len(t, q.StatusChanges, 1)
	assert.Equal(t, buq.StatusDraft, q.StatusChanges[0].Status)
	assert.Equal(t, "user-1", q.StatusChanges[0].AuthorID)
	assert.Equal(t, "node-1", q.SupervisoryNodeID)
	assert.Equal(t, 2026, q.TargetYear)

	// AND: One line item per approved product
	require.Len(t, q.LineItems, 2)

	// AND: Consumption computed only over fully contained history rows
	byOrderable := map[string]buq.LineItem{}
	for _, item := range q.LineItems {
		byOrderable[item.OrderableID] = item
	}
	require.NotNil(t, byOrderable["orderable-1"].AnnualAdjustedConsumption)
	assert.Equal(t, int64(15), *byOrderable["orderable-1"].AnnualAdjustedConsumption)
	// No history rows: stays nil, distinct from computed zero.
	assert.Nil(t, byOrderable["orderable-2"].AnnualAdjustedConsumption)

	// AND: It is persisted
	stored, err := env.store.Get(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, buq.StatusDraft, stored.Status)
}

func TestWorkflow_Prepare_MissingParameters(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.workflow.Prepare(context.Background(), "", "program-1", "", "user-1")
	require.Error(t, err)
	assert.Equal(t, "missingParameters", buq.Key(err))
	assert.True(t, buq.IsValidation(err))

	var mErr *buq.MissingParametersError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, []string{"facilityId", "processingPeriodId"}, mErr.Fields)
}

func TestWorkflow_Prepare_UnknownFacility(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.workflow.Prepare(context.Background(), "facility-nope", "program-1", "period-1", "user-1")
	require.Error(t, err)
	assert.True(t, buq.IsNotFound(err))
	assert.Equal(t, "facilityNotFound", buq.Key(err))
}

func TestWorkflow_Prepare_FacilityDoesNotSupportProgram(t *testing.T) {
	env := newTestEnv(t)
	env.refData.Programs["program-2"] = buq.Program{ID: "program-2", Name: "Vaccines"}

	_, err := env.workflow.Prepare(context.Background(), "facility-1", "program-2", "period-1", "user-1")
	require.Error(t, err)
	assert.Equal(t, "facilityDoesNotSupportProgram", buq.Key(err))
}

func TestWorkflow_Prepare_DuplicatePeriodFacility(t *testing.T) {
	// GIVEN: A quantification already exists for the pair
	env := newTestEnv(t)
	env.prepare(t)

	// WHEN: Preparing again for the same facility and period
	_, err := env.workflow.Prepare(context.Background(), "facility-1", "program-1", "period-1", "user-1")

	// THEN: Conflict with the stable key
	require.Error(t, err)
	assert.True(t, buq.IsConflict(err))
	assert.Equal(t, "quantificationAlreadyExists", buq.Key(err))
}

func TestWorkflow_Prepare_ReferenceDataUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.refData.FailLookups["requisitionHistory"] = true

	_, err := env.workflow.Prepare(context.Background(), "facility-1", "program-1", "period-1", "user-1")
	require.Error(t, err)
	assert.True(t, buq.IsReferenceDataUnavailable(err))
	assert.Equal(t, "referenceDataUnavailable", buq.Key(err))
}

// =============================================================================
// SAVE
// =============================================================================

func TestWorkflow_Save_ReplacesLineItemsWholesale(t *testing.T) {
	env := newTestEnv(t)
	q := env.prepare(t)

	// WHEN: Saving a single-item payload
	saved, err := env.workflow.Save(context.Background(), buq.SaveRequest{
		LineItems: []buq.LineItem{
			{OrderableID: "orderable-1", ForecastedDemand: int64p(251)},
		},
	}, q.ID)
	require.NoError(t, err)

	// THEN: The previous two rows are gone, not merged
	require.Len(t, saved.LineItems, 1)
	assert.Equal(t, "orderable-1", saved.LineItems[0].OrderableID)
	assert.NotEmpty(t, saved.LineItems[0].ID)
	assert.Equal(t, buq.StatusDraft, saved.Status, "save never changes status")
	require.Len(t, saved.StatusChanges, 1)
}

func TestWorkflow_Save_NilCollectionsLeaveStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	q := env.prepare(t)

	saved, err := env.workflow.Save(context.Background(), buq.SaveRequest{}, q.ID)
	require.NoError(t, err)
	assert.Len(t, saved.LineItems, 2)
}

func TestWorkflow_Save_IDMismatch(t *testing.T) {
	env := newTestEnv(t)
	q := env.prepare(t)

	_, err := env.workflow.Save(context.Background(), buq.SaveRequest{ID: "other-id"}, q.ID)
	require.Error(t, err)
	assert.Equal(t, "idMismatch", buq.Key(err))
	assert.True(t, buq.IsValidation(err))
}

// =============================================================================
// FULL WORKFLOW WALK
// =============================================================================

func TestWorkflow_FullApprovalWalk(t *testing.T) {
	// GIVEN: A draft with demand and a funding source
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.prepare(t)

	update := buq.SaveRequest{
		LineItems: []buq.LineItem{
			// 251 units in packs of 100 (threshold 50) -> 3 packs @ 10.00
			{OrderableID: "orderable-1", ForecastedDemand: int64p(251)},
		},
		SourcesOfFunds: []buq.SourceOfFundEntry{{
			SourceOfFundID:                "source-gov",
			AmountUsedInLastFinancialYear: usd("20.00"),
			ProjectedFund:                 usd("100.00"),
		}},
	}

	// WHEN: Walking submit -> authorize -> approve x3
	q2, err := env.workflow.Submit(ctx, update, q.ID, "user-submitter")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusSubmitted, q2.Status)

	q3, err := env.workflow.Authorize(ctx, buq.SaveRequest{}, q.ID, "user-authorizer")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusAuthorized, q3.Status)

	q4, err := env.workflow.Approve(ctx, q.ID, "user-dp")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusApprovedByDP, q4.Status)

	q5, err := env.workflow.Approve(ctx, q.ID, "user-rp")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusApprovedByRP, q5.Status)

	q6, err := env.workflow.Approve(ctx, q.ID, "user-nqt")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusApprovedByNQT, q6.Status)

	// THEN: Exactly one status change per step, in order
	require.Len(t, q6.StatusChanges, 6)
	wantOrder := []buq.Status{
		buq.StatusDraft, buq.StatusSubmitted, buq.StatusAuthorized,
		buq.StatusApprovedByDP, buq.StatusApprovedByRP, buq.StatusApprovedByNQT,
	}
	for i, sc := range q6.StatusChanges {
		assert.Equal(t, wantOrder[i], sc.Status)
	}

	// AND: Terminal approval recomputed funding: 3 packs x 10.00 = 30.00
	require.NotNil(t, q6.FundingDetails)
	assert.True(t, q6.FundingDetails.TotalForecastedCost.Equal(usd("30.00")),
		"cost = %s", q6.FundingDetails.TotalForecastedCost.Amount)
	assert.True(t, q6.FundingDetails.TotalProjectedFund.Equal(usd("100.00")))
	assert.True(t, q6.FundingDetails.Gap.Equal(usd("70.00")),
		"gap = %s", q6.FundingDetails.Gap.Amount)

	// AND: The observer saw every applied transition
	assert.Equal(t, []string{
		"prepare->DRAFT",
		"submit->SUBMITTED",
		"authorize->AUTHORIZED",
		"approve->APPROVED_BY_DP",
		"approve->APPROVED_BY_RP",
		"approve->APPROVED_BY_NQT",
	}, env.observer.applied)

	// AND: The change log carries one status fact per transition
	facts, err := env.changes.History(ctx, "bottomUpQuantification", q.ID)
	require.NoError(t, err)
	require.Len(t, facts, 6)
	assert.Equal(t, "", facts[0].OldValue)
	assert.Equal(t, string(buq.StatusDraft), facts[0].NewValue)
	assert.Equal(t, string(buq.StatusApprovedByRP), facts[5].OldValue)
	assert.Equal(t, string(buq.StatusApprovedByNQT), facts[5].NewValue)
}

func TestWorkflow_IllegalTransitionsDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.prepare(t)

	// Approve straight from DRAFT
	_, err := env.workflow.Approve(ctx, q.ID, "user-1")
	require.Error(t, err)
	assert.True(t, buq.IsInvalidTransition(err))
	assert.Equal(t, "mustBeAuthorizedOrInApprovalToBeApproved", buq.Key(err))

	// Double submit
	_, err = env.workflow.Submit(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	_, err = env.workflow.Submit(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.Error(t, err)
	assert.Equal(t, "mustBeDraftOrRejectedToBeSubmitted", buq.Key(err))

	// Denials reached the observer
	assert.Equal(t, []string{
		"approve:mustBeAuthorizedOrInApprovalToBeApproved",
		"submit:mustBeDraftOrRejectedToBeSubmitted",
	}, env.observer.denied)

	// Nothing illegal was persisted
	stored, err := env.store.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, buq.StatusSubmitted, stored.Status)
	assert.Len(t, stored.StatusChanges, 2)
}

// =============================================================================
// REJECT AND RESUBMISSION
// =============================================================================

func TestWorkflow_RejectRecordsReasons(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.prepare(t)

	_, err := env.workflow.Submit(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	_, err = env.workflow.Authorize(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)

	// WHEN: Rejecting with reasons
	rejected, err := env.workflow.Reject(ctx, q.ID, buq.RejectionPayload{
		RejectionReasons: []string{"consumption figures implausible"},
		GeneralComments:  "re-check orderable-1",
	}, "user-reviewer")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusRejected, rejected.Status)

	// THEN: The rejection hangs off the rejecting status change
	rejection, err := env.workflow.Rejections().Latest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, rejection.QuantificationID)
	assert.Equal(t, rejected.CurrentStatusChange().ID, rejection.StatusChangeID)
	assert.Equal(t, []string{"consumption figures implausible"}, rejection.RejectionReasons)
	assert.Equal(t, "re-check orderable-1", rejection.GeneralComments)
}

func TestWorkflow_RejectedReentersViaSubmitAndAuthorize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.prepare(t)

	_, err := env.workflow.Submit(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	_, err = env.workflow.Authorize(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	_, err = env.workflow.Reject(ctx, q.ID, buq.RejectionPayload{RejectionReasons: []string{"first pass"}}, "user-1")
	require.NoError(t, err)

	// WHEN: Resubmitting from REJECTED
	resubmitted, err := env.workflow.Submit(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, buq.StatusSubmitted, resubmitted.Status)

	// AND: Authorizing and rejecting a second time
	_, err = env.workflow.Authorize(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	second, err := env.workflow.Reject(ctx, q.ID, buq.RejectionPayload{RejectionReasons: []string{"second pass"}}, "user-1")
	require.NoError(t, err)

	// THEN: Two distinct rejections exist; Latest is the second
	latest, err := env.workflow.Rejections().Latest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"second pass"}, latest.RejectionReasons)
	assert.Equal(t, second.CurrentStatusChange().ID, latest.StatusChangeID)

	// The first rejection is still retrievable by its status change.
	firstChange := second.StatusChanges[3] // DRAFT, SUBMITTED, AUTHORIZED, REJECTED, ...
	require.Equal(t, buq.StatusRejected, firstChange.Status)
	first, err := env.workflow.Rejections().FindByStatusChange(ctx, firstChange.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first pass"}, first.RejectionReasons)
}

// =============================================================================
// DELETE
// =============================================================================

func TestWorkflow_DeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := env.prepare(t)

	_, err := env.workflow.Submit(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	_, err = env.workflow.Authorize(ctx, buq.SaveRequest{}, q.ID, "user-1")
	require.NoError(t, err)
	rejected, err := env.workflow.Reject(ctx, q.ID, buq.RejectionPayload{RejectionReasons: []string{"x"}}, "user-1")
	require.NoError(t, err)
	changeID := rejected.CurrentStatusChange().ID

	// WHEN: Deleting the quantification
	require.NoError(t, env.workflow.Delete(ctx, q.ID))

	// THEN: The aggregate and its rejections are gone
	_, err = env.store.Get(ctx, q.ID)
	assert.True(t, buq.IsNotFound(err))
	_, err = env.workflow.Rejections().FindByStatusChange(ctx, changeID)
	assert.True(t, buq.IsNotFound(err))

	// AND: The (facility, period) slot is free again
	_, err = env.workflow.Prepare(ctx, "facility-1", "program-1", "period-1", "user-1")
	assert.NoError(t, err)
}

func TestWorkflow_DeleteUnknown(t *testing.T) {
	env := newTestEnv(t)
	err := env.workflow.Delete(context.Background(), "nope")
	assert.True(t, buq.IsNotFound(err))
}
