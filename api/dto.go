/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	Defines the JSON structures for API communication. These types
	decouple the internal domain model from the external API contract.
	Exporting an aggregate to its DTO and importing it back produces a
	value-equal aggregate for all fields except server-assigned
	timestamps and versions.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:

	Validation is done in handlers and the workflow, not in DTOs. DTOs
	are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openforecast/buq-engine/buq"
)

// =============================================================================
// QUANTIFICATION
// =============================================================================

// QuantificationDTO is the transport representation of the aggregate.
type QuantificationDTO struct {
	ID                 string             `json:"id"`
	FacilityID         string             `json:"facilityId"`
	ProgramID          string             `json:"programId"`
	ProcessingPeriodID string             `json:"processingPeriodId"`
	SupervisoryNodeID  string             `json:"supervisoryNodeId"`
	TargetYear         int                `json:"targetYear"`
	Status             string             `json:"status"`
	LineItems          []LineItemDTO      `json:"lineItems"`
	StatusChanges      []StatusChangeDTO  `json:"statusChanges"`
	FundingDetails     *FundingDetailsDTO `json:"fundingDetails,omitempty"`
	CreatedDate        string             `json:"createdDate,omitempty"`
	ModifiedDate       string             `json:"modifiedDate,omitempty"`
}

// LineItemDTO is one product row.
type LineItemDTO struct {
	ID                                string `json:"id,omitempty"`
	OrderableID                       string `json:"orderableId"`
	AnnualAdjustedConsumption         *int64 `json:"annualAdjustedConsumption"`
	VerifiedAnnualAdjustedConsumption *int64 `json:"verifiedAnnualAdjustedConsumption"`
	ForecastedDemand                  *int64 `json:"forecastedDemand"`
}

// StatusChangeDTO is one transition audit record.
type StatusChangeDTO struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AuthorID     string `json:"authorId"`
	OccurredDate string `json:"occurredDate"`
}

// MoneyDTO carries a fixed-point amount with its currency.
type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// FundingDetailsDTO is the funding sub-aggregate.
type FundingDetailsDTO struct {
	ID                  string                 `json:"id,omitempty"`
	TotalProjectedFund  MoneyDTO               `json:"totalProjectedFund"`
	TotalForecastedCost MoneyDTO               `json:"totalForecastedCost"`
	Gap                 MoneyDTO               `json:"gap"`
	SourcesOfFunds      []SourceOfFundEntryDTO `json:"sourcesOfFunds"`
}

// SourceOfFundEntryDTO is one funding source's contribution.
type SourceOfFundEntryDTO struct {
	ID                            string   `json:"id,omitempty"`
	SourceOfFundID                string   `json:"sourceOfFundId"`
	AmountUsedInLastFinancialYear MoneyDTO `json:"amountUsedInLastFinancialYear"`
	ProjectedFund                 MoneyDTO `json:"projectedFund"`
}

// SaveQuantificationRequest is the update payload for save/submit/
// authorize. Nil collections leave the stored ones untouched.
type SaveQuantificationRequest struct {
	ID             string                 `json:"id,omitempty"`
	LineItems      []LineItemDTO          `json:"lineItems"`
	SourcesOfFunds []SourceOfFundEntryDTO `json:"sourcesOfFunds"`
}

// RejectRequest carries the rejection payload.
type RejectRequest struct {
	RejectionReasons []string `json:"rejectionReasons"`
	GeneralComments  string   `json:"generalComments"`
}

// PageDTO is one page of quantifications.
type PageDTO struct {
	Content       []QuantificationDTO `json:"content"`
	TotalElements int64               `json:"totalElements"`
	Number        int                 `json:"number"`
	Size          int                 `json:"size"`
}

// RejectionDTO is a recorded rejection.
type RejectionDTO struct {
	ID               string   `json:"id"`
	StatusChangeID   string   `json:"statusChangeId"`
	QuantificationID string   `json:"quantificationId"`
	RejectionReasons []string `json:"rejectionReasons"`
	GeneralComments  string   `json:"generalComments"`
	CreatedDate      string   `json:"createdDate"`
}

// ChangeEntryDTO is one field-level audit fact.
type ChangeEntryDTO struct {
	Field      string `json:"field"`
	OldValue   string `json:"oldValue"`
	NewValue   string `json:"newValue"`
	AuthorID   string `json:"authorId"`
	OccurredAt string `json:"occurredAt"`
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

type RemarkDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SourceOfFundDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ProductGroupDTO struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ErrorDTO is the uniform error body: a stable key for clients to match
// on plus a human-readable message.
type ErrorDTO struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// =============================================================================
// MAPPING - domain to transport
// =============================================================================

// ToQuantificationDTO exports an aggregate.
func ToQuantificationDTO(q *buq.BottomUpQuantification) QuantificationDTO {
	dto := QuantificationDTO{
		ID:                 q.ID,
		FacilityID:         q.FacilityID,
		ProgramID:          q.ProgramID,
		ProcessingPeriodID: q.ProcessingPeriodID,
		SupervisoryNodeID:  q.SupervisoryNodeID,
		TargetYear:         q.TargetYear,
		Status:             string(q.Status),
		LineItems:          make([]LineItemDTO, len(q.LineItems)),
		StatusChanges:      make([]StatusChangeDTO, len(q.StatusChanges)),
		CreatedDate:        q.CreatedDate.UTC().Format(time.RFC3339Nano),
		ModifiedDate:       q.ModifiedDate.UTC().Format(time.RFC3339Nano),
	}
	for i, item := range q.LineItems {
		dto.LineItems[i] = LineItemDTO{
			ID:                                item.ID,
			OrderableID:                       item.OrderableID,
			AnnualAdjustedConsumption:         item.AnnualAdjustedConsumption,
			VerifiedAnnualAdjustedConsumption: item.VerifiedAnnualAdjustedConsumption,
			ForecastedDemand:                  item.ForecastedDemand,
		}
	}
	for i, sc := range q.StatusChanges {
		dto.StatusChanges[i] = StatusChangeDTO{
			ID:           sc.ID,
			Status:       string(sc.Status),
			AuthorID:     sc.AuthorID,
			OccurredDate: sc.OccurredDate.UTC().Format(time.RFC3339Nano),
		}
	}
	if q.FundingDetails != nil {
		fd := toFundingDTO(q.FundingDetails)
		dto.FundingDetails = &fd
	}
	return dto
}

func toFundingDTO(fd *buq.FundingDetails) FundingDetailsDTO {
	dto := FundingDetailsDTO{
		ID:                  fd.ID,
		TotalProjectedFund:  toMoneyDTO(fd.TotalProjectedFund),
		TotalForecastedCost: toMoneyDTO(fd.TotalForecastedCost),
		Gap:                 toMoneyDTO(fd.Gap),
		SourcesOfFunds:      make([]SourceOfFundEntryDTO, len(fd.SourcesOfFunds)),
	}
	for i, entry := range fd.SourcesOfFunds {
		dto.SourcesOfFunds[i] = SourceOfFundEntryDTO{
			ID:                            entry.ID,
			SourceOfFundID:                entry.SourceOfFundID,
			AmountUsedInLastFinancialYear: toMoneyDTO(entry.AmountUsedInLastFinancialYear),
			ProjectedFund:                 toMoneyDTO(entry.ProjectedFund),
		}
	}
	return dto
}

func toMoneyDTO(m buq.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Amount.String(), Currency: m.Currency}
}

// ToRejectionDTO exports a rejection.
func ToRejectionDTO(r *buq.Rejection) RejectionDTO {
	return RejectionDTO{
		ID:               r.ID,
		StatusChangeID:   r.StatusChangeID,
		QuantificationID: r.QuantificationID,
		RejectionReasons: r.RejectionReasons,
		GeneralComments:  r.GeneralComments,
		CreatedDate:      r.CreatedDate.UTC().Format(time.RFC3339Nano),
	}
}

// =============================================================================
// MAPPING - transport to domain
// =============================================================================

// FromQuantificationDTO imports a transport representation back into an
// aggregate. Server-assigned timestamps and versions are not restored.
func FromQuantificationDTO(dto QuantificationDTO) (*buq.BottomUpQuantification, error) {
	q := &buq.BottomUpQuantification{
		ID:                 dto.ID,
		FacilityID:         dto.FacilityID,
		ProgramID:          dto.ProgramID,
		ProcessingPeriodID: dto.ProcessingPeriodID,
		SupervisoryNodeID:  dto.SupervisoryNodeID,
		TargetYear:         dto.TargetYear,
		Status:             buq.Status(dto.Status),
		LineItems:          fromLineItemDTOs(dto.LineItems),
	}
	for _, sc := range dto.StatusChanges {
		occurred, err := time.Parse(time.RFC3339Nano, sc.OccurredDate)
		if err != nil {
			return nil, err
		}
		q.StatusChanges = append(q.StatusChanges, buq.StatusChange{
			ID:           sc.ID,
			Status:       buq.Status(sc.Status),
			AuthorID:     sc.AuthorID,
			OccurredDate: occurred,
		})
	}
	if dto.FundingDetails != nil {
		fd, err := fromFundingDTO(*dto.FundingDetails, dto.ID)
		if err != nil {
			return nil, err
		}
		q.FundingDetails = fd
	}
	return q, nil
}

func fromLineItemDTOs(dtos []LineItemDTO) []buq.LineItem {
	if dtos == nil {
		return nil
	}
	items := make([]buq.LineItem, len(dtos))
	for i, dto := range dtos {
		items[i] = buq.LineItem{
			ID:                                dto.ID,
			OrderableID:                       dto.OrderableID,
			AnnualAdjustedConsumption:         dto.AnnualAdjustedConsumption,
			VerifiedAnnualAdjustedConsumption: dto.VerifiedAnnualAdjustedConsumption,
			ForecastedDemand:                  dto.ForecastedDemand,
		}
	}
	return items
}

func fromFundingDTO(dto FundingDetailsDTO, quantificationID string) (*buq.FundingDetails, error) {
	projected, err := fromMoneyDTO(dto.TotalProjectedFund)
	if err != nil {
		return nil, err
	}
	cost, err := fromMoneyDTO(dto.TotalForecastedCost)
	if err != nil {
		return nil, err
	}
	gap, err := fromMoneyDTO(dto.Gap)
	if err != nil {
		return nil, err
	}

	fd := &buq.FundingDetails{
		ID:                  dto.ID,
		QuantificationID:    quantificationID,
		TotalProjectedFund:  projected,
		TotalForecastedCost: cost,
		Gap:                 gap,
	}
	for _, entryDTO := range dto.SourcesOfFunds {
		used, err := fromMoneyDTO(entryDTO.AmountUsedInLastFinancialYear)
		if err != nil {
			return nil, err
		}
		fund, err := fromMoneyDTO(entryDTO.ProjectedFund)
		if err != nil {
			return nil, err
		}
		fd.SourcesOfFunds = append(fd.SourcesOfFunds, buq.SourceOfFundEntry{
			ID:                            entryDTO.ID,
			SourceOfFundID:                entryDTO.SourceOfFundID,
			AmountUsedInLastFinancialYear: used,
			ProjectedFund:                 fund,
		})
	}
	return fd, nil
}

func fromMoneyDTO(dto MoneyDTO) (buq.Money, error) {
	amount, err := decimal.NewFromString(dto.Amount)
	if err != nil {
		return buq.Money{}, err
	}
	return buq.Money{Amount: amount, Currency: dto.Currency}, nil
}

func fromSourceOfFundEntryDTOs(dtos []SourceOfFundEntryDTO) ([]buq.SourceOfFundEntry, error) {
	if dtos == nil {
		return nil, nil
	}
	entries := make([]buq.SourceOfFundEntry, len(dtos))
	for i, dto := range dtos {
		used, err := fromMoneyDTO(dto.AmountUsedInLastFinancialYear)
		if err != nil {
			return nil, err
		}
		fund, err := fromMoneyDTO(dto.ProjectedFund)
		if err != nil {
			return nil, err
		}
		entries[i] = buq.SourceOfFundEntry{
			ID:                            dto.ID,
			SourceOfFundID:                dto.SourceOfFundID,
			AmountUsedInLastFinancialYear: used,
			ProjectedFund:                 fund,
		}
	}
	return entries, nil
}
