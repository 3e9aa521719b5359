/*
collaborators.go - External reference-data collaborators

PURPOSE:

	The interfaces and opaque record types the core needs from the
	surrounding system: facilities, programs, processing periods, approved
	products, users and requisition history. The core treats all of these
	as synchronous single-attempt lookups; a failed call surfaces
	immediately as ReferenceDataError, never retried here.

IMPLEMENTATIONS:
  - refdata.Client: resty HTTP client against the reference-data service
  - refdata.Static: fixture-backed, for tests and demo mode
*/
package buq

import (
	"context"
	"time"
)

// SupportedProgram is one program a facility supports.
type SupportedProgram struct {
	ProgramID        string
	Active           bool
	SupportActive    bool
	SupportStartDate time.Time
}

// Facility is an opaque facility record.
type Facility struct {
	ID                string
	Name              string
	SupervisoryNodeID string
	SupportedPrograms []SupportedProgram
}

// SupportsProgram reports whether the facility actively supports the
// program as of now.
func (f *Facility) SupportsProgram(programID string, now time.Time) bool {
	for _, sp := range f.SupportedPrograms {
		if sp.ProgramID != programID {
			continue
		}
		if !sp.Active || !sp.SupportActive {
			return false
		}
		return !sp.SupportStartDate.After(now)
	}
	return false
}

// Program is an opaque program record.
type Program struct {
	ID   string
	Name string
}

// User is an opaque user record.
type User struct {
	ID       string
	Username string
}

// ApprovedProduct is one orderable approved for a facility/program pair,
// with the packaging and price data costing needs.
type ApprovedProduct struct {
	OrderableID  string
	Packaging    Packaging
	PricePerPack Money
}

// ReferenceData is the full lookup surface the workflow consumes.
type ReferenceData interface {
	FindFacility(ctx context.Context, id string) (*Facility, error)
	FindProgram(ctx context.Context, id string) (*Program, error)
	FindProcessingPeriod(ctx context.Context, id string) (*Period, error)
	GetApprovedProducts(ctx context.Context, facilityID, programID string) ([]ApprovedProduct, error)
	GetRequisitionHistory(ctx context.Context, facilityID string) ([]HistoricalLineItem, error)
	CurrentUser(ctx context.Context) (*User, error)
}
