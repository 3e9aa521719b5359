/*
client.go - HTTP reference-data client

PURPOSE:

	Implements buq.ReferenceData against the reference-data service over
	HTTP. Every lookup is a single attempt with a short timeout: a 404
	maps to the entity-specific NotFoundError, anything else (transport
	failure, 5xx) surfaces as ReferenceDataError. No retries, no backoff;
	that is the collaborator's business, not this core's.

WIRE FORMAT:

	Dates travel as "2006-01-02", monetary amounts as decimal strings
	with a currency code. Parsing failures surface as ReferenceDataError:
	a malformed upstream payload is an unavailable collaborator, not bad
	client input.

SEE ALSO:
  - buq/collaborators.go: the interface and record types
  - static.go: fixture-backed implementation for tests/demo
*/
package refdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/openforecast/buq-engine/buq"
)

const dateLayout = "2006-01-02"

// Client is a resty-backed buq.ReferenceData implementation.
type Client struct {
	http *resty.Client
}

// NewClient builds a reference-data client for the given base URL.
// token may be empty for unauthenticated deployments.
func NewClient(baseURL, token string) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type facilityJSON struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	SupervisoryNodeID string `json:"supervisoryNodeId"`
	SupportedPrograms []struct {
		ProgramID        string `json:"programId"`
		Active           bool   `json:"active"`
		SupportActive    bool   `json:"supportActive"`
		SupportStartDate string `json:"supportStartDate"`
	} `json:"supportedPrograms"`
}

type programJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type periodJSON struct {
	ID        string `json:"id"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type approvedProductJSON struct {
	OrderableID           string `json:"orderableId"`
	NetContent            int64  `json:"netContent"`
	PackRoundingThreshold int64  `json:"packRoundingThreshold"`
	RoundToZero           bool   `json:"roundToZero"`
	PricePerPack          string `json:"pricePerPack"`
	Currency              string `json:"currency"`
}

type historicalLineItemJSON struct {
	OrderableID         string `json:"orderableId"`
	AdjustedConsumption *int64 `json:"adjustedConsumption"`
	StartDate           string `json:"startDate"`
	EndDate             string `json:"endDate"`
}

type userJSON struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (c *Client) FindFacility(ctx context.Context, id string) (*buq.Facility, error) {
	var body facilityJSON
	if err := c.get(ctx, "facility", id, fmt.Sprintf("/api/facilities/%s", id), &body); err != nil {
		return nil, err
	}

	facility := &buq.Facility{
		ID:                body.ID,
		Name:              body.Name,
		SupervisoryNodeID: body.SupervisoryNodeID,
	}
	for _, sp := range body.SupportedPrograms {
		start, err := parseDate("facility", sp.SupportStartDate)
		if err != nil {
			return nil, err
		}
		facility.SupportedPrograms = append(facility.SupportedPrograms, buq.SupportedProgram{
			ProgramID:        sp.ProgramID,
			Active:           sp.Active,
			SupportActive:    sp.SupportActive,
			SupportStartDate: start,
		})
	}
	return facility, nil
}

func (c *Client) FindProgram(ctx context.Context, id string) (*buq.Program, error) {
	var body programJSON
	if err := c.get(ctx, "program", id, fmt.Sprintf("/api/programs/%s", id), &body); err != nil {
		return nil, err
	}
	return &buq.Program{ID: body.ID, Name: body.Name}, nil
}

func (c *Client) FindProcessingPeriod(ctx context.Context, id string) (*buq.Period, error) {
	var body periodJSON
	if err := c.get(ctx, "period", id, fmt.Sprintf("/api/processingPeriods/%s", id), &body); err != nil {
		return nil, err
	}

	start, err := parseDate("period", body.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("period", body.EndDate)
	if err != nil {
		return nil, err
	}
	return &buq.Period{ID: body.ID, StartDate: start, EndDate: end}, nil
}

func (c *Client) GetApprovedProducts(ctx context.Context, facilityID, programID string) ([]buq.ApprovedProduct, error) {
	var body []approvedProductJSON
	path := fmt.Sprintf("/api/facilities/%s/approvedProducts?programId=%s", facilityID, programID)
	if err := c.get(ctx, "approvedProducts", facilityID, path, &body); err != nil {
		return nil, err
	}

	products := make([]buq.ApprovedProduct, 0, len(body))
	for _, p := range body {
		price, err := decimal.NewFromString(p.PricePerPack)
		if err != nil {
			return nil, &buq.ReferenceDataError{Lookup: "approvedProducts", Err: fmt.Errorf("malformed price %q: %w", p.PricePerPack, err)}
		}
		products = append(products, buq.ApprovedProduct{
			OrderableID: p.OrderableID,
			Packaging: buq.Packaging{
				NetContent:            p.NetContent,
				PackRoundingThreshold: p.PackRoundingThreshold,
				RoundToZero:           p.RoundToZero,
			},
			PricePerPack: buq.Money{Amount: price, Currency: p.Currency},
		})
	}
	return products, nil
}

func (c *Client) GetRequisitionHistory(ctx context.Context, facilityID string) ([]buq.HistoricalLineItem, error) {
	var body []historicalLineItemJSON
	path := fmt.Sprintf("/api/facilities/%s/requisitionLineItems", facilityID)
	if err := c.get(ctx, "requisitionHistory", facilityID, path, &body); err != nil {
		return nil, err
	}

	items := make([]buq.HistoricalLineItem, 0, len(body))
	for _, h := range body {
		start, err := parseDate("requisitionHistory", h.StartDate)
		if err != nil {
			return nil, err
		}
		end, err := parseDate("requisitionHistory", h.EndDate)
		if err != nil {
			return nil, err
		}
		items = append(items, buq.HistoricalLineItem{
			OrderableID:         h.OrderableID,
			AdjustedConsumption: h.AdjustedConsumption,
			StartDate:           start,
			EndDate:             end,
		})
	}
	return items, nil
}

func (c *Client) CurrentUser(ctx context.Context) (*buq.User, error) {
	var body userJSON
	if err := c.get(ctx, "user", "current", "/api/users/current", &body); err != nil {
		return nil, err
	}
	return &buq.User{ID: body.ID, Username: body.Username}, nil
}

// =============================================================================
// PLUMBING
// =============================================================================

// get performs one GET. 404 becomes the entity NotFoundError; any other
// failure becomes ReferenceDataError.
func (c *Client) get(ctx context.Context, lookup, id, path string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return &buq.ReferenceDataError{Lookup: lookup, Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return &buq.NotFoundError{Kind: lookup, ID: id}
	}
	if resp.IsError() {
		return &buq.ReferenceDataError{Lookup: lookup, Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return nil
}

func parseDate(lookup, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &buq.ReferenceDataError{Lookup: lookup, Err: fmt.Errorf("malformed date %q: %w", value, err)}
	}
	return t, nil
}
