/*
handlers.go - HTTP API handlers for the quantification engine

PURPOSE:

	Exposes the Bottom-Up Quantification workflow via REST API. Handles
	HTTP request/response, JSON serialization, and delegates every
	decision to the domain logic.

ENDPOINTS:

	Quantifications:
	  POST   /api/bottomUpQuantifications/prepare       Create draft
	  GET    /api/bottomUpQuantifications               Search (status/facility filters)
	  GET    /api/bottomUpQuantifications/forApproval   Approval queue
	  GET    /api/bottomUpQuantifications/costCalculation Terminally approved set
	  GET    /api/bottomUpQuantifications/{id}          Get full aggregate
	  PUT    /api/bottomUpQuantifications/{id}          Save line items / funding sources
	  POST   /api/bottomUpQuantifications/{id}/submit   DRAFT|REJECTED -> SUBMITTED
	  POST   /api/bottomUpQuantifications/{id}/authorize SUBMITTED|REJECTED -> AUTHORIZED
	  POST   /api/bottomUpQuantifications/{id}/approve  Next approval tier
	  POST   /api/bottomUpQuantifications/{id}/reject   -> REJECTED with reasons
	  DELETE /api/bottomUpQuantifications/{id}          Cascade delete
	  GET    /api/bottomUpQuantifications/{id}/rejection Latest rejection
	  GET    /api/bottomUpQuantifications/{id}/audit    Status-change facts

	Reference entities:
	  GET/POST /api/remarks, DELETE /api/remarks/{id}
	  GET/POST /api/sourcesOfFunds
	  GET/POST /api/productGroups

ACTING USER:

	The actor is taken from the X-User-Id header when present, otherwise
	resolved through the reference-data service's current-user lookup.

ERROR HANDLING:

	Errors are returned as JSON {key, message} with appropriate status:
	- 400: Validation errors, illegal transitions
	- 404: Entity not found
	- 409: Duplicate pair/rejection, concurrent modification
	- 502: Reference-data collaborator unavailable
	- 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - buq/workflow.go: The logic these handlers delegate to
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openforecast/buq-engine/buq"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Workflow *buq.Workflow
	Store    buq.TxStore
	Changes  buq.ChangeLog
	RefData  buq.ReferenceData
	Logger   *zap.Logger

	// NewID is injectable for tests.
	NewID func() string
}

// NewHandler creates a handler around a fully wired workflow.
func NewHandler(workflow *buq.Workflow, changes buq.ChangeLog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Workflow: workflow,
		Store:    workflow.Store,
		Changes:  changes,
		RefData:  workflow.RefData,
		Logger:   logger,
		NewID:    uuid.NewString,
	}
}

// actor resolves the acting user: the X-User-Id header wins, then the
// reference-data current-user lookup.
func (h *Handler) actor(r *http.Request) (string, error) {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id, nil
	}
	user, err := h.RefData.CurrentUser(r.Context())
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// =============================================================================
// QUANTIFICATION LIFECYCLE
// =============================================================================

// Prepare handles POST /api/bottomUpQuantifications/prepare.
func (h *Handler) Prepare(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	q, err := h.Workflow.Prepare(r.Context(),
		r.URL.Query().Get("facilityId"),
		r.URL.Query().Get("programId"),
		r.URL.Query().Get("processingPeriodId"),
		actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ToQuantificationDTO(q))
}

// Get handles GET /api/bottomUpQuantifications/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	q, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToQuantificationDTO(q))
}

// Save handles PUT /api/bottomUpQuantifications/{id}.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	update, ok := h.decodeSave(w, r)
	if !ok {
		return
	}
	q, err := h.Workflow.Save(r.Context(), update, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToQuantificationDTO(q))
}

// Submit handles POST /api/bottomUpQuantifications/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.Workflow.Submit)
}

// Authorize handles POST /api/bottomUpQuantifications/{id}/authorize.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.Workflow.Authorize)
}

// advance is the shared submit/authorize shape: resolve actor, decode
// the optional update payload, run the transition.
func (h *Handler) advance(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, update buq.SaveRequest, targetID, actorID string) (*buq.BottomUpQuantification, error)) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	update, ok := h.decodeSave(w, r)
	if !ok {
		return
	}

	q, err := op(r.Context(), update, chi.URLParam(r, "id"), actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToQuantificationDTO(q))
}

// Approve handles POST /api/bottomUpQuantifications/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q, err := h.Workflow.Approve(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToQuantificationDTO(q))
}

// Reject handles POST /api/bottomUpQuantifications/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.actor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadJSON(w, err)
		return
	}

	q, err := h.Workflow.Reject(r.Context(), chi.URLParam(r, "id"), buq.RejectionPayload{
		RejectionReasons: body.RejectionReasons,
		GeneralComments:  body.GeneralComments,
	}, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToQuantificationDTO(q))
}

// Delete handles DELETE /api/bottomUpQuantifications/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Workflow.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SEARCH
// =============================================================================

// Search handles GET /api/bottomUpQuantifications.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := buq.SearchParams{FacilityID: r.URL.Query().Get("facilityId")}
	for _, raw := range r.URL.Query()["status"] {
		status := buq.Status(raw)
		if !status.Valid() {
			h.writeJSON(w, http.StatusBadRequest, ErrorDTO{
				Key:     "invalidStatus",
				Message: "unknown status: " + raw,
			})
			return
		}
		params.Statuses = append(params.Statuses, status)
	}

	result, err := h.Store.Search(r.Context(), params, pageRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPageDTO(result))
}

// ForApproval handles GET /api/bottomUpQuantifications/forApproval.
func (h *Handler) ForApproval(w http.ResponseWriter, r *http.Request) {
	pairs, ok := h.decodePairs(w, r)
	if !ok {
		return
	}
	result, err := h.Store.SearchApprovable(r.Context(), pairs, pageRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPageDTO(result))
}

// CostCalculation handles GET /api/bottomUpQuantifications/costCalculation.
func (h *Handler) CostCalculation(w http.ResponseWriter, r *http.Request) {
	periodID := r.URL.Query().Get("processingPeriodId")
	if periodID == "" {
		h.writeError(w, &buq.MissingParametersError{Fields: []string{"processingPeriodId"}})
		return
	}
	pairs, ok := h.decodePairs(w, r)
	if !ok {
		return
	}
	result, err := h.Store.SearchCostCalculationReady(r.Context(), periodID, pairs, pageRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPageDTO(result))
}

// decodePairs parses repeated pair=<programId>,<supervisoryNodeId>
// query parameters.
func (h *Handler) decodePairs(w http.ResponseWriter, r *http.Request) ([]buq.ProgramNodePair, bool) {
	var pairs []buq.ProgramNodePair
	for _, raw := range r.URL.Query()["pair"] {
		parts := strings.SplitN(raw, ",", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			h.writeJSON(w, http.StatusBadRequest, ErrorDTO{
				Key:     "invalidPair",
				Message: "pair must be <programId>,<supervisoryNodeId>: " + raw,
			})
			return nil, false
		}
		pairs = append(pairs, buq.ProgramNodePair{ProgramID: parts[0], SupervisoryNodeID: parts[1]})
	}
	return pairs, true
}

// =============================================================================
// REJECTION AND AUDIT READS
// =============================================================================

// LatestRejection handles GET /api/bottomUpQuantifications/{id}/rejection.
func (h *Handler) LatestRejection(w http.ResponseWriter, r *http.Request) {
	rejection, err := h.Workflow.Rejections().Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToRejectionDTO(rejection))
}

// Audit handles GET /api/bottomUpQuantifications/{id}/audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Changes.History(r.Context(), "bottomUpQuantification", chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]ChangeEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ChangeEntryDTO{
			Field:      e.Field,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			AuthorID:   e.AuthorID,
			OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		}
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

// ListRemarks handles GET /api/remarks.
func (h *Handler) ListRemarks(w http.ResponseWriter, r *http.Request) {
	remarks, err := h.Store.ListRemarks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]RemarkDTO, len(remarks))
	for i, remark := range remarks {
		dtos[i] = RemarkDTO{ID: remark.ID, Name: remark.Name, Description: remark.Description}
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// CreateRemark handles POST /api/remarks.
func (h *Handler) CreateRemark(w http.ResponseWriter, r *http.Request) {
	var body RemarkDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadJSON(w, err)
		return
	}
	if body.Name == "" {
		h.writeError(w, &buq.MissingParametersError{Fields: []string{"name"}})
		return
	}

	remark := &buq.Remark{ID: h.NewID(), Name: body.Name, Description: body.Description}
	if err := h.Store.CreateRemark(r.Context(), remark); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, RemarkDTO{ID: remark.ID, Name: remark.Name, Description: remark.Description})
}

// DeleteRemark handles DELETE /api/remarks/{id}.
func (h *Handler) DeleteRemark(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRemark(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSourcesOfFunds handles GET /api/sourcesOfFunds.
func (h *Handler) ListSourcesOfFunds(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.ListSourcesOfFunds(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]SourceOfFundDTO, len(sources))
	for i, s := range sources {
		dtos[i] = SourceOfFundDTO{ID: s.ID, Name: s.Name}
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// CreateSourceOfFund handles POST /api/sourcesOfFunds.
func (h *Handler) CreateSourceOfFund(w http.ResponseWriter, r *http.Request) {
	var body SourceOfFundDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadJSON(w, err)
		return
	}
	if body.Name == "" {
		h.writeError(w, &buq.MissingParametersError{Fields: []string{"name"}})
		return
	}

	source := &buq.SourceOfFund{ID: h.NewID(), Name: body.Name}
	if err := h.Store.CreateSourceOfFund(r.Context(), source); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, SourceOfFundDTO{ID: source.ID, Name: source.Name})
}

// ListProductGroups handles GET /api/productGroups.
func (h *Handler) ListProductGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListProductGroups(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]ProductGroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = ProductGroupDTO{ID: g.ID, Code: g.Code, Name: g.Name}
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// CreateProductGroup handles POST /api/productGroups.
func (h *Handler) CreateProductGroup(w http.ResponseWriter, r *http.Request) {
	var body ProductGroupDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeBadJSON(w, err)
		return
	}
	var missing []string
	if body.Code == "" {
		missing = append(missing, "code")
	}
	if body.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		h.writeError(w, &buq.MissingParametersError{Fields: missing})
		return
	}

	group := &buq.ProductGroup{ID: h.NewID(), Code: body.Code, Name: body.Name}
	if err := h.Store.CreateProductGroup(r.Context(), group); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ProductGroupDTO{ID: group.ID, Code: group.Code, Name: group.Name})
}

// =============================================================================
// PLUMBING
// =============================================================================

// decodeSave parses the update payload. An empty body is a valid empty
// update (submit/authorize without changes).
func (h *Handler) decodeSave(w http.ResponseWriter, r *http.Request) (buq.SaveRequest, bool) {
	var body SaveQuantificationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeBadJSON(w, err)
		return buq.SaveRequest{}, false
	}
	sources, err := fromSourceOfFundEntryDTOs(body.SourcesOfFunds)
	if err != nil {
		h.writeBadJSON(w, err)
		return buq.SaveRequest{}, false
	}
	return buq.SaveRequest{
		ID:             body.ID,
		LineItems:      fromLineItemDTOs(body.LineItems),
		SourcesOfFunds: sources,
	}, true
}

func pageRequest(r *http.Request) buq.PageRequest {
	page := buq.PageRequest{
		SortBy: r.URL.Query().Get("sort"),
		Desc:   r.URL.Query().Get("order") == "desc",
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page.Number = n
	}
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		page.Size = s
	}
	return page
}

func toPageDTO(result *buq.PageResult) PageDTO {
	dto := PageDTO{
		Content:       make([]QuantificationDTO, len(result.Items)),
		TotalElements: result.TotalCount,
		Number:        result.Number,
		Size:          result.Size,
	}
	for i := range result.Items {
		dto.Content[i] = ToQuantificationDTO(&result.Items[i])
	}
	return dto
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Warn("response encoding failed", zap.Error(err))
	}
}

func (h *Handler) writeBadJSON(w http.ResponseWriter, err error) {
	h.writeJSON(w, http.StatusBadRequest, ErrorDTO{Key: "malformedBody", Message: err.Error()})
}

// writeError maps domain errors to HTTP statuses. The body always
// carries the stable key so clients match on it, never on the message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case buq.IsInvalidTransition(err), buq.IsValidation(err):
		status = http.StatusBadRequest
	case buq.IsNotFound(err):
		status = http.StatusNotFound
	case buq.IsConflict(err):
		status = http.StatusConflict
	case buq.IsReferenceDataUnavailable(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("unhandled error", zap.Error(err))
	}

	key := buq.Key(err)
	if key == "" {
		key = "internalError"
	}
	h.writeJSON(w, status, ErrorDTO{Key: key, Message: err.Error()})
}
