/*
static.go - Fixture-backed reference data

PURPOSE:

	A buq.ReferenceData implementation over in-memory fixtures, used by
	tests and by demo mode when no reference-data service is configured.
	Lookups behave exactly like the HTTP client's: unknown ids return the
	entity NotFoundError, and any record listed in FailLookups returns
	ReferenceDataError (for exercising unavailable-collaborator paths).
*/
package refdata

import (
	"context"
	"errors"

	"github.com/openforecast/buq-engine/buq"
)

// Static serves reference data from fixtures.
type Static struct {
	Facilities       map[string]buq.Facility
	Programs         map[string]buq.Program
	Periods          map[string]buq.Period
	ApprovedProducts map[string][]buq.ApprovedProduct // keyed facilityID+"/"+programID
	History          map[string][]buq.HistoricalLineItem
	User             buq.User

	// FailLookups forces named lookups ("facility", "program", ...) to
	// fail as unavailable.
	FailLookups map[string]bool
}

// NewStatic returns an empty fixture set with a default user.
func NewStatic() *Static {
	return &Static{
		Facilities:       make(map[string]buq.Facility),
		Programs:         make(map[string]buq.Program),
		Periods:          make(map[string]buq.Period),
		ApprovedProducts: make(map[string][]buq.ApprovedProduct),
		History:          make(map[string][]buq.HistoricalLineItem),
		User:             buq.User{ID: "user-demo", Username: "demo"},
		FailLookups:      make(map[string]bool),
	}
}

func (s *Static) fail(lookup string) error {
	if s.FailLookups[lookup] {
		return &buq.ReferenceDataError{Lookup: lookup, Err: errors.New("forced failure")}
	}
	return nil
}

func (s *Static) FindFacility(_ context.Context, id string) (*buq.Facility, error) {
	if err := s.fail("facility"); err != nil {
		return nil, err
	}
	f, ok := s.Facilities[id]
	if !ok {
		return nil, &buq.NotFoundError{Kind: "facility", ID: id}
	}
	return &f, nil
}

func (s *Static) FindProgram(_ context.Context, id string) (*buq.Program, error) {
	if err := s.fail("program"); err != nil {
		return nil, err
	}
	p, ok := s.Programs[id]
	if !ok {
		return nil, &buq.NotFoundError{Kind: "program", ID: id}
	}
	return &p, nil
}

func (s *Static) FindProcessingPeriod(_ context.Context, id string) (*buq.Period, error) {
	if err := s.fail("period"); err != nil {
		return nil, err
	}
	p, ok := s.Periods[id]
	if !ok {
		return nil, &buq.NotFoundError{Kind: "period", ID: id}
	}
	return &p, nil
}

func (s *Static) GetApprovedProducts(_ context.Context, facilityID, programID string) ([]buq.ApprovedProduct, error) {
	if err := s.fail("approvedProducts"); err != nil {
		return nil, err
	}
	return s.ApprovedProducts[facilityID+"/"+programID], nil
}

func (s *Static) GetRequisitionHistory(_ context.Context, facilityID string) ([]buq.HistoricalLineItem, error) {
	if err := s.fail("requisitionHistory"); err != nil {
		return nil, err
	}
	return s.History[facilityID], nil
}

func (s *Static) CurrentUser(_ context.Context) (*buq.User, error) {
	if err := s.fail("user"); err != nil {
		return nil, err
	}
	u := s.User
	return &u, nil
}
