// Package store provides in-memory Store implementations for tests and
// demo mode.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/openforecast/buq-engine/buq"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements buq.TxStore entirely in memory. A single mutex
// serializes writers, which also gives WithTx its atomicity: state is
// snapshotted before fn runs and restored when fn fails.
type Memory struct {
	mu               sync.RWMutex
	quantifications  map[string]*buq.BottomUpQuantification
	byPeriodFacility map[periodFacility]string
	rejections       map[string]*buq.Rejection // keyed by status-change id
	remarks          map[string]buq.Remark
	sourcesOfFunds   map[string]buq.SourceOfFund
	productGroups    map[string]buq.ProductGroup
}

type periodFacility struct {
	FacilityID         string
	ProcessingPeriodID string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		quantifications:  make(map[string]*buq.BottomUpQuantification),
		byPeriodFacility: make(map[periodFacility]string),
		rejections:       make(map[string]*buq.Rejection),
		remarks:          make(map[string]buq.Remark),
		sourcesOfFunds:   make(map[string]buq.SourceOfFund),
		productGroups:    make(map[string]buq.ProductGroup),
	}
}

// =============================================================================
// QUANTIFICATIONS
// =============================================================================

func (m *Memory) Create(_ context.Context, q *buq.BottomUpQuantification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := periodFacility{FacilityID: q.FacilityID, ProcessingPeriodID: q.ProcessingPeriodID}
	if _, exists := m.byPeriodFacility[key]; exists {
		return &buq.DuplicatePeriodFacilityError{
			FacilityID:         q.FacilityID,
			ProcessingPeriodID: q.ProcessingPeriodID,
		}
	}

	stored := cloneQuantification(q)
	stored.Version = 1
	m.quantifications[q.ID] = stored
	m.byPeriodFacility[key] = q.ID
	q.Version = 1
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*buq.BottomUpQuantification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.quantifications[id]
	if !ok {
		return nil, &buq.NotFoundError{Kind: "quantification", ID: id}
	}
	return cloneQuantification(stored), nil
}

func (m *Memory) Update(_ context.Context, q *buq.BottomUpQuantification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.quantifications[q.ID]
	if !ok {
		return &buq.NotFoundError{Kind: "quantification", ID: q.ID}
	}
	if stored.Version != q.Version {
		return buq.ErrConcurrentModification
	}

	next := cloneQuantification(q)
	next.Version = stored.Version + 1
	m.quantifications[q.ID] = next
	q.Version = next.Version
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.quantifications[id]
	if !ok {
		return &buq.NotFoundError{Kind: "quantification", ID: id}
	}
	delete(m.quantifications, id)
	delete(m.byPeriodFacility, periodFacility{
		FacilityID:         stored.FacilityID,
		ProcessingPeriodID: stored.ProcessingPeriodID,
	})
	return nil
}

// =============================================================================
// SEARCH
// =============================================================================

func (m *Memory) Search(_ context.Context, params buq.SearchParams, page buq.PageRequest) (*buq.PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := m.collect(func(q *buq.BottomUpQuantification) bool {
		if params.FacilityID != "" && q.FacilityID != params.FacilityID {
			return false
		}
		if len(params.Statuses) > 0 && !containsStatus(params.Statuses, q.Status) {
			return false
		}
		return true
	})
	return paginate(matches, page), nil
}

func (m *Memory) SearchApprovable(_ context.Context, pairs []buq.ProgramNodePair, page buq.PageRequest) (*buq.PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	approvable := buq.ApprovableStatuses()
	matches := m.collect(func(q *buq.BottomUpQuantification) bool {
		if !containsStatus(approvable, q.Status) {
			return false
		}
		// Queue entries must trace back to an authorize event.
		if q.LatestStatusChangeOf(buq.StatusAuthorized) == nil {
			return false
		}
		return matchesPair(pairs, q)
	})
	return paginate(matches, page), nil
}

func (m *Memory) SearchCostCalculationReady(_ context.Context, processingPeriodID string, pairs []buq.ProgramNodePair, page buq.PageRequest) (*buq.PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := m.collect(func(q *buq.BottomUpQuantification) bool {
		if q.Status != buq.StatusApprovedByNQT {
			return false
		}
		if q.ProcessingPeriodID != processingPeriodID {
			return false
		}
		return matchesPair(pairs, q)
	})
	return paginate(matches, page), nil
}

func (m *Memory) collect(match func(*buq.BottomUpQuantification) bool) []buq.BottomUpQuantification {
	var out []buq.BottomUpQuantification
	for _, q := range m.quantifications {
		if match(q) {
			out = append(out, *cloneQuantification(q))
		}
	}
	return out
}

func containsStatus(set []buq.Status, s buq.Status) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

func matchesPair(pairs []buq.ProgramNodePair, q *buq.BottomUpQuantification) bool {
	for _, p := range pairs {
		if p.ProgramID == q.ProgramID && p.SupervisoryNodeID == q.SupervisoryNodeID {
			return true
		}
	}
	return false
}

// paginate sorts by the requested column (CreatedDate ascending by
// default) and slices out the requested page.
func paginate(matches []buq.BottomUpQuantification, page buq.PageRequest) *buq.PageResult {
	sort.SliceStable(matches, func(i, j int) bool {
		var less bool
		switch page.SortBy {
		case "modifiedDate":
			less = matches[i].ModifiedDate.Before(matches[j].ModifiedDate)
		default:
			less = matches[i].CreatedDate.Before(matches[j].CreatedDate)
		}
		if page.Desc {
			return !less
		}
		return less
	})

	total := int64(len(matches))
	start := page.Offset()
	if start > len(matches) {
		start = len(matches)
	}
	end := start + page.Limit()
	if end > len(matches) {
		end = len(matches)
	}

	return &buq.PageResult{
		Items:      matches[start:end],
		TotalCount: total,
		Number:     page.Number,
		Size:       page.Limit(),
	}
}

// =============================================================================
// REJECTIONS
// =============================================================================

func (m *Memory) SaveRejection(_ context.Context, r *buq.Rejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rejections[r.StatusChangeID]; exists {
		return &buq.DuplicateRejectionError{StatusChangeID: r.StatusChangeID}
	}
	clone := *r
	m.rejections[r.StatusChangeID] = &clone
	return nil
}

func (m *Memory) RejectionByStatusChange(_ context.Context, statusChangeID string) (*buq.Rejection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rejections[statusChangeID]
	if !ok {
		return nil, &buq.NotFoundError{Kind: "rejection", ID: statusChangeID}
	}
	clone := *r
	return &clone, nil
}

func (m *Memory) LatestRejection(_ context.Context, quantificationID string) (*buq.Rejection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quantifications[quantificationID]
	if !ok {
		return nil, &buq.NotFoundError{Kind: "quantification", ID: quantificationID}
	}
	for i := len(q.StatusChanges) - 1; i >= 0; i-- {
		if q.StatusChanges[i].Status != buq.StatusRejected {
			continue
		}
		if r, ok := m.rejections[q.StatusChanges[i].ID]; ok {
			clone := *r
			return &clone, nil
		}
	}
	return nil, &buq.NotFoundError{Kind: "rejection", ID: quantificationID}
}

func (m *Memory) DeleteRejectionsByStatusChangeIDs(_ context.Context, statusChangeIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range statusChangeIDs {
		delete(m.rejections, id)
	}
	return nil
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

func (m *Memory) CreateRemark(_ context.Context, r *buq.Remark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.remarks {
		if existing.Name == r.Name {
			return &buq.DuplicateNameError{Kind: "remark", Name: r.Name}
		}
	}
	m.remarks[r.ID] = *r
	return nil
}

func (m *Memory) ListRemarks(_ context.Context) ([]buq.Remark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]buq.Remark, 0, len(m.remarks))
	for _, r := range m.remarks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteRemark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.remarks[id]; !ok {
		return &buq.NotFoundError{Kind: "remark", ID: id}
	}
	delete(m.remarks, id)
	return nil
}

func (m *Memory) CreateSourceOfFund(_ context.Context, s *buq.SourceOfFund) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sourcesOfFunds {
		if existing.Name == s.Name {
			return &buq.DuplicateNameError{Kind: "sourceOfFund", Name: s.Name}
		}
	}
	m.sourcesOfFunds[s.ID] = *s
	return nil
}

func (m *Memory) ListSourcesOfFunds(_ context.Context) ([]buq.SourceOfFund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]buq.SourceOfFund, 0, len(m.sourcesOfFunds))
	for _, s := range m.sourcesOfFunds {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateProductGroup(_ context.Context, g *buq.ProductGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.productGroups {
		if existing.Code == g.Code {
			return &buq.DuplicateNameError{Kind: "productGroup", Name: g.Code}
		}
	}
	m.productGroups[g.ID] = *g
	return nil
}

func (m *Memory) ListProductGroups(_ context.Context) ([]buq.ProductGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]buq.ProductGroup, 0, len(m.productGroups))
	for _, g := range m.productGroups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx snapshots the whole store, runs fn, and restores the snapshot
// when fn fails. Adequate for tests; the SQLite store uses real
// database transactions.
func (m *Memory) WithTx(_ context.Context, fn func(buq.Store) error) error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restoreLocked(snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	quantifications  map[string]*buq.BottomUpQuantification
	byPeriodFacility map[periodFacility]string
	rejections       map[string]*buq.Rejection
}

func (m *Memory) snapshotLocked() memorySnapshot {
	snap := memorySnapshot{
		quantifications:  make(map[string]*buq.BottomUpQuantification, len(m.quantifications)),
		byPeriodFacility: make(map[periodFacility]string, len(m.byPeriodFacility)),
		rejections:       make(map[string]*buq.Rejection, len(m.rejections)),
	}
	for id, q := range m.quantifications {
		snap.quantifications[id] = cloneQuantification(q)
	}
	for k, v := range m.byPeriodFacility {
		snap.byPeriodFacility[k] = v
	}
	for id, r := range m.rejections {
		clone := *r
		snap.rejections[id] = &clone
	}
	return snap
}

func (m *Memory) restoreLocked(snap memorySnapshot) {
	m.quantifications = snap.quantifications
	m.byPeriodFacility = snap.byPeriodFacility
	m.rejections = snap.rejections
}

// cloneQuantification deep-copies the aggregate so callers never share
// slices with stored state.
func cloneQuantification(q *buq.BottomUpQuantification) *buq.BottomUpQuantification {
	clone := *q
	clone.LineItems = append([]buq.LineItem(nil), q.LineItems...)
	for i := range clone.LineItems {
		clone.LineItems[i].AnnualAdjustedConsumption = cloneInt64(q.LineItems[i].AnnualAdjustedConsumption)
		clone.LineItems[i].VerifiedAnnualAdjustedConsumption = cloneInt64(q.LineItems[i].VerifiedAnnualAdjustedConsumption)
		clone.LineItems[i].ForecastedDemand = cloneInt64(q.LineItems[i].ForecastedDemand)
	}
	clone.StatusChanges = append([]buq.StatusChange(nil), q.StatusChanges...)
	if q.FundingDetails != nil {
		fd := *q.FundingDetails
		fd.SourcesOfFunds = append([]buq.SourceOfFundEntry(nil), q.FundingDetails.SourcesOfFunds...)
		clone.FundingDetails = &fd
	}
	return &clone
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// =============================================================================
// CHANGE LOG - In-memory external audit collaborator
// =============================================================================

// MemoryChangeLog is an append-only in-memory buq.ChangeLog.
type MemoryChangeLog struct {
	mu      sync.RWMutex
	entries []buq.ChangeEntry
}

// NewMemoryChangeLog returns an empty change log.
func NewMemoryChangeLog() *MemoryChangeLog {
	return &MemoryChangeLog{}
}

func (l *MemoryChangeLog) Record(_ context.Context, entry buq.ChangeEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryChangeLog) History(_ context.Context, entityType, entityID string) ([]buq.ChangeEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []buq.ChangeEntry
	for _, e := range l.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
