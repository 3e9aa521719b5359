/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:

	Implements buq.TxStore and buq.ChangeLog using SQLite. In production,
	the same patterns apply to PostgreSQL - only minor SQL dialect
	differences.

APPEND-ONLY ENFORCEMENT:

	status_changes rows are inserted, never updated. An aggregate Update
	only adds rows for newly appended changes; the sole delete path is
	the cascade when the aggregate itself is removed.

KEY TABLES:

	quantifications:  aggregate roots, one per (facility, period)
	line_items:       owned product rows, replaced wholesale on update
	status_changes:   append-only transition audit
	rejections:       1:1 with rejecting status changes
	funding_details:  1:1 funding sub-aggregate, plus funding_sources
	remarks / sources_of_funds / product_groups: reference entities
	change_log:       field-level audit facts

CONSTRAINTS:
  - UNIQUE(facility_id, processing_period_id) on quantifications
  - UNIQUE(status_change_id) on rejections (the 1:1 invariant)
  - UNIQUE(name) on remarks and sources_of_funds, UNIQUE(code) on
    product_groups
  - version column drives optimistic concurrency: updates match on the
    loaded version and fail as ErrConcurrentModification when stale

WAL MODE:

	Opened with WAL and foreign keys on: readers don't block, one writer
	at a time, cascade deletes enforced by the engine.

USAGE:

	store, err := sqlite.New("./data/buq.db")
	defer store.Close()
	workflow := buq.NewWorkflow(store, refData, store, logger, "USD")

SEE ALSO:
  - buq/store.go: interface definitions and atomicity contract
  - buq/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/openforecast/buq-engine/buq"
)

// Store implements buq.TxStore and buq.ChangeLog over SQLite.
type Store struct {
	db *sql.DB
	tx *sql.Tx
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quantifications (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		processing_period_id TEXT NOT NULL,
		supervisory_node_id TEXT NOT NULL DEFAULT '',
		target_year INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_date TEXT NOT NULL,
		modified_date TEXT NOT NULL,
		version INTEGER NOT NULL,
		UNIQUE(facility_id, processing_period_id)
	);

	CREATE INDEX IF NOT EXISTS idx_quantifications_status
		ON quantifications(status);
	CREATE INDEX IF NOT EXISTS idx_quantifications_program_node
		ON quantifications(program_id, supervisory_node_id);
	CREATE INDEX IF NOT EXISTS idx_quantifications_created
		ON quantifications(created_date);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		quantification_id TEXT NOT NULL REFERENCES quantifications(id) ON DELETE CASCADE,
		orderable_id TEXT NOT NULL,
		annual_adjusted_consumption INTEGER,
		verified_annual_adjusted_consumption INTEGER,
		forecasted_demand INTEGER,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_quantification
		ON line_items(quantification_id);

	-- Append-only transition audit. No UPDATE path exists for this table.
	CREATE TABLE IF NOT EXISTS status_changes (
		id TEXT PRIMARY KEY,
		quantification_id TEXT NOT NULL REFERENCES quantifications(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		author_id TEXT NOT NULL,
		occurred_date TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_changes_quantification
		ON status_changes(quantification_id, position);
	CREATE INDEX IF NOT EXISTS idx_status_changes_status
		ON status_changes(quantification_id, status);

	CREATE TABLE IF NOT EXISTS rejections (
		id TEXT PRIMARY KEY,
		status_change_id TEXT NOT NULL UNIQUE REFERENCES status_changes(id) ON DELETE CASCADE,
		quantification_id TEXT NOT NULL,
		reasons_json TEXT NOT NULL,
		general_comments TEXT NOT NULL,
		created_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rejections_quantification
		ON rejections(quantification_id);

	CREATE TABLE IF NOT EXISTS funding_details (
		id TEXT PRIMARY KEY,
		quantification_id TEXT NOT NULL UNIQUE REFERENCES quantifications(id) ON DELETE CASCADE,
		total_projected_fund TEXT NOT NULL,
		total_forecasted_cost TEXT NOT NULL,
		gap TEXT NOT NULL,
		currency TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS funding_sources (
		id TEXT PRIMARY KEY,
		funding_details_id TEXT NOT NULL REFERENCES funding_details(id) ON DELETE CASCADE,
		source_of_fund_id TEXT NOT NULL,
		amount_used_last_year TEXT NOT NULL,
		projected_fund TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_funding_sources_details
		ON funding_sources(funding_details_id);

	CREATE TABLE IF NOT EXISTS remarks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sources_of_funds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS product_groups (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		author_id TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_change_log_entity
		ON change_log(entity_type, entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// q returns the active query target: the open transaction when inside
// WithTx, the pool otherwise.
func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside one database transaction. Nested calls reuse
// the enclosing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(buq.Store) error) error {
	return s.runTx(ctx, func(tx *Store) error { return fn(tx) })
}

// runTx is WithTx typed to the concrete store, for internal
// multi-statement operations.
func (s *Store) runTx(ctx context.Context, fn func(*Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	child := &Store{db: s.db, tx: tx}
	if err := fn(child); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// QUANTIFICATIONS
// =============================================================================

// Create persists a new aggregate with everything it owns.
func (s *Store) Create(ctx context.Context, q *buq.BottomUpQuantification) error {
	return s.runTx(ctx, func(tx *Store) error {
		_, err := tx.q().ExecContext(ctx, `
			INSERT INTO quantifications
				(id, facility_id, program_id, processing_period_id, supervisory_node_id,
				 target_year, status, created_date, modified_date, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			q.ID, q.FacilityID, q.ProgramID, q.ProcessingPeriodID, q.SupervisoryNodeID,
			q.TargetYear, string(q.Status), formatTime(q.CreatedDate), formatTime(q.ModifiedDate))
		if err != nil {
			if isUniqueViolation(err, "quantifications") {
				return &buq.DuplicatePeriodFacilityError{
					FacilityID:         q.FacilityID,
					ProcessingPeriodID: q.ProcessingPeriodID,
				}
			}
			return fmt.Errorf("insert quantification: %w", err)
		}
		if err := tx.writeLineItems(ctx, q); err != nil {
			return err
		}
		if err := tx.appendStatusChanges(ctx, q, 0); err != nil {
			return err
		}
		if err := tx.writeFunding(ctx, q); err != nil {
			return err
		}
		q.Version = 1
		return nil
	})
}

// Get loads the full aggregate.
func (s *Store) Get(ctx context.Context, id string) (*buq.BottomUpQuantification, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, facility_id, program_id, processing_period_id, supervisory_node_id,
		       target_year, status, created_date, modified_date, version
		FROM quantifications WHERE id = ?`, id)

	q, err := scanQuantification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &buq.NotFoundError{Kind: "quantification", ID: id}
		}
		return nil, err
	}
	if err := s.loadOwned(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Update persists line items (wholesale replace), newly appended status
// changes and funding, guarded by the optimistic version check.
func (s *Store) Update(ctx context.Context, q *buq.BottomUpQuantification) error {
	return s.runTx(ctx, func(tx *Store) error {
		res, err := tx.q().ExecContext(ctx, `
			UPDATE quantifications
			SET status = ?, modified_date = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			string(q.Status), formatTime(q.ModifiedDate), q.ID, q.Version)
		if err != nil {
			return fmt.Errorf("update quantification: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists int
			row := tx.q().QueryRowContext(ctx, `SELECT COUNT(1) FROM quantifications WHERE id = ?`, q.ID)
			if err := row.Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return &buq.NotFoundError{Kind: "quantification", ID: q.ID}
			}
			return buq.ErrConcurrentModification
		}

		// Line items: full overwrite, orphans discarded.
		if _, err := tx.q().ExecContext(ctx, `DELETE FROM line_items WHERE quantification_id = ?`, q.ID); err != nil {
			return fmt.Errorf("clear line items: %w", err)
		}
		if err := tx.writeLineItems(ctx, q); err != nil {
			return err
		}

		// Status changes: append only the rows beyond what is stored.
		var stored int
		row := tx.q().QueryRowContext(ctx, `SELECT COUNT(1) FROM status_changes WHERE quantification_id = ?`, q.ID)
		if err := row.Scan(&stored); err != nil {
			return err
		}
		if err := tx.appendStatusChanges(ctx, q, stored); err != nil {
			return err
		}

		if err := tx.writeFunding(ctx, q); err != nil {
			return err
		}
		q.Version++
		return nil
	})
}

// Delete cascades removal of the aggregate.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.q().ExecContext(ctx, `DELETE FROM quantifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete quantification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &buq.NotFoundError{Kind: "quantification", ID: id}
	}
	return nil
}

func (s *Store) writeLineItems(ctx context.Context, q *buq.BottomUpQuantification) error {
	for i, item := range q.LineItems {
		_, err := s.q().ExecContext(ctx, `
			INSERT INTO line_items
				(id, quantification_id, orderable_id, annual_adjusted_consumption,
				 verified_annual_adjusted_consumption, forecasted_demand, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, q.ID, item.OrderableID,
			nullableInt(item.AnnualAdjustedConsumption),
			nullableInt(item.VerifiedAnnualAdjustedConsumption),
			nullableInt(item.ForecastedDemand), i)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	return nil
}

func (s *Store) appendStatusChanges(ctx context.Context, q *buq.BottomUpQuantification, from int) error {
	for i := from; i < len(q.StatusChanges); i++ {
		sc := q.StatusChanges[i]
		_, err := s.q().ExecContext(ctx, `
			INSERT INTO status_changes (id, quantification_id, status, author_id, occurred_date, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sc.ID, q.ID, string(sc.Status), sc.AuthorID, formatTime(sc.OccurredDate), i)
		if err != nil {
			return fmt.Errorf("append status change: %w", err)
		}
	}
	return nil
}

func (s *Store) writeFunding(ctx context.Context, q *buq.BottomUpQuantification) error {
	if q.FundingDetails == nil {
		return nil
	}
	fd := q.FundingDetails
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO funding_details (id, quantification_id, total_projected_fund, total_forecasted_cost, gap, currency)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(quantification_id) DO UPDATE SET
			total_projected_fund = excluded.total_projected_fund,
			total_forecasted_cost = excluded.total_forecasted_cost,
			gap = excluded.gap,
			currency = excluded.currency`,
		fd.ID, q.ID,
		fd.TotalProjectedFund.Amount.String(),
		fd.TotalForecastedCost.Amount.String(),
		fd.Gap.Amount.String(),
		fd.TotalProjectedFund.Currency)
	if err != nil {
		return fmt.Errorf("upsert funding details: %w", err)
	}

	if _, err := s.q().ExecContext(ctx, `DELETE FROM funding_sources WHERE funding_details_id = ?`, fd.ID); err != nil {
		return fmt.Errorf("clear funding sources: %w", err)
	}
	for i, entry := range fd.SourcesOfFunds {
		_, err := s.q().ExecContext(ctx, `
			INSERT INTO funding_sources (id, funding_details_id, source_of_fund_id, amount_used_last_year, projected_fund, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, fd.ID, entry.SourceOfFundID,
			entry.AmountUsedInLastFinancialYear.Amount.String(),
			entry.ProjectedFund.Amount.String(), i)
		if err != nil {
			return fmt.Errorf("insert funding source: %w", err)
		}
	}
	return nil
}

func (s *Store) loadOwned(ctx context.Context, q *buq.BottomUpQuantification) error {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, orderable_id, annual_adjusted_consumption,
		       verified_annual_adjusted_consumption, forecasted_demand
		FROM line_items WHERE quantification_id = ? ORDER BY position`, q.ID)
	if err != nil {
		return fmt.Errorf("load line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item buq.LineItem
		var aac, vaac, demand sql.NullInt64
		if err := rows.Scan(&item.ID, &item.OrderableID, &aac, &vaac, &demand); err != nil {
			return err
		}
		item.AnnualAdjustedConsumption = fromNullInt(aac)
		item.VerifiedAnnualAdjustedConsumption = fromNullInt(vaac)
		item.ForecastedDemand = fromNullInt(demand)
		q.LineItems = append(q.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	scRows, err := s.q().QueryContext(ctx, `
		SELECT id, status, author_id, occurred_date
		FROM status_changes WHERE quantification_id = ? ORDER BY position`, q.ID)
	if err != nil {
		return fmt.Errorf("load status changes: %w", err)
	}
	defer scRows.Close()
	for scRows.Next() {
		var sc buq.StatusChange
		var status, occurred string
		if err := scRows.Scan(&sc.ID, &status, &sc.AuthorID, &occurred); err != nil {
			return err
		}
		sc.Status = buq.Status(status)
		if sc.OccurredDate, err = parseTime(occurred); err != nil {
			return err
		}
		q.StatusChanges = append(q.StatusChanges, sc)
	}
	if err := scRows.Err(); err != nil {
		return err
	}

	return s.loadFunding(ctx, q)
}

func (s *Store) loadFunding(ctx context.Context, q *buq.BottomUpQuantification) error {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, total_projected_fund, total_forecasted_cost, gap, currency
		FROM funding_details WHERE quantification_id = ?`, q.ID)

	var fd buq.FundingDetails
	var projected, cost, gap, currency string
	err := row.Scan(&fd.ID, &projected, &cost, &gap, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load funding details: %w", err)
	}
	fd.QuantificationID = q.ID
	if fd.TotalProjectedFund, err = parseMoney(projected, currency); err != nil {
		return err
	}
	if fd.TotalForecastedCost, err = parseMoney(cost, currency); err != nil {
		return err
	}
	if fd.Gap, err = parseMoney(gap, currency); err != nil {
		return err
	}

	rows, err := s.q().QueryContext(ctx, `
		SELECT id, source_of_fund_id, amount_used_last_year, projected_fund
		FROM funding_sources WHERE funding_details_id = ? ORDER BY position`, fd.ID)
	if err != nil {
		return fmt.Errorf("load funding sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry buq.SourceOfFundEntry
		var used, fund string
		if err := rows.Scan(&entry.ID, &entry.SourceOfFundID, &used, &fund); err != nil {
			return err
		}
		if entry.AmountUsedInLastFinancialYear, err = parseMoney(used, currency); err != nil {
			return err
		}
		if entry.ProjectedFund, err = parseMoney(fund, currency); err != nil {
			return err
		}
		fd.SourcesOfFunds = append(fd.SourcesOfFunds, entry)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	q.FundingDetails = &fd
	return nil
}

// =============================================================================
// SEARCH
// =============================================================================

// Search filters by status set and facility, default sort created_date
// ascending.
func (s *Store) Search(ctx context.Context, params buq.SearchParams, page buq.PageRequest) (*buq.PageResult, error) {
	var where []string
	var args []any
	if len(params.Statuses) > 0 {
		placeholders := make([]string, len(params.Statuses))
		for i, st := range params.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if params.FacilityID != "" {
		where = append(where, "facility_id = ?")
		args = append(args, params.FacilityID)
	}
	return s.pageQuery(ctx, where, args, page)
}

// SearchApprovable returns the approval queue: authorized/in-approval
// quantifications matching a (program, supervisory node) pair, whose
// most recent AUTHORIZED status change is the latest one on file.
func (s *Store) SearchApprovable(ctx context.Context, pairs []buq.ProgramNodePair, page buq.PageRequest) (*buq.PageResult, error) {
	where, args := pairFilter(pairs)

	statuses := buq.ApprovableStatuses()
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")

	// Guard against duplicate authorize events: the entry must trace to
	// the max-dated AUTHORIZED change of its own history.
	where = append(where, `EXISTS (
		SELECT 1 FROM status_changes sc
		WHERE sc.quantification_id = quantifications.id AND sc.status = 'AUTHORIZED'
		  AND sc.occurred_date = (
			SELECT MAX(sc2.occurred_date) FROM status_changes sc2
			WHERE sc2.quantification_id = quantifications.id AND sc2.status = 'AUTHORIZED'))`)

	return s.pageQuery(ctx, where, args, page)
}

// SearchCostCalculationReady returns terminally approved quantifications
// for one period and the given node pairs.
func (s *Store) SearchCostCalculationReady(ctx context.Context, processingPeriodID string, pairs []buq.ProgramNodePair, page buq.PageRequest) (*buq.PageResult, error) {
	where, args := pairFilter(pairs)
	where = append(where, "processing_period_id = ?", "status = ?")
	args = append(args, processingPeriodID, string(buq.StatusApprovedByNQT))
	return s.pageQuery(ctx, where, args, page)
}

func pairFilter(pairs []buq.ProgramNodePair) ([]string, []any) {
	if len(pairs) == 0 {
		// No pairs means no queue membership at all.
		return []string{"1 = 0"}, nil
	}
	clauses := make([]string, len(pairs))
	var args []any
	for i, p := range pairs {
		clauses[i] = "(program_id = ? AND supervisory_node_id = ?)"
		args = append(args, p.ProgramID, p.SupervisoryNodeID)
	}
	return []string{"(" + strings.Join(clauses, " OR ") + ")"}, args
}

func (s *Store) pageQuery(ctx context.Context, where []string, args []any, page buq.PageRequest) (*buq.PageResult, error) {
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	row := s.q().QueryRowContext(ctx, "SELECT COUNT(1) FROM quantifications"+clause, args...)
	if err := row.Scan(&total); err != nil {
		return nil, fmt.Errorf("count quantifications: %w", err)
	}

	order := "created_date"
	switch page.SortBy {
	case "modifiedDate":
		order = "modified_date"
	case "status":
		order = "status"
	}
	if page.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	query := "SELECT id FROM quantifications" + clause +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := s.q().QueryContext(ctx, query, append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("search quantifications: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &buq.PageResult{TotalCount: total, Number: page.Number, Size: page.Limit()}
	for _, id := range ids {
		q, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *q)
	}
	return result, nil
}

// =============================================================================
// REJECTIONS
// =============================================================================

func (s *Store) SaveRejection(ctx context.Context, r *buq.Rejection) error {
	reasons, err := json.Marshal(r.RejectionReasons)
	if err != nil {
		return fmt.Errorf("marshal rejection reasons: %w", err)
	}
	_, err = s.q().ExecContext(ctx, `
		INSERT INTO rejections (id, status_change_id, quantification_id, reasons_json, general_comments, created_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.StatusChangeID, r.QuantificationID, string(reasons), r.GeneralComments, formatTime(r.CreatedDate))
	if err != nil {
		if isUniqueViolation(err, "rejections") {
			return &buq.DuplicateRejectionError{StatusChangeID: r.StatusChangeID}
		}
		return fmt.Errorf("insert rejection: %w", err)
	}
	return nil
}

func (s *Store) RejectionByStatusChange(ctx context.Context, statusChangeID string) (*buq.Rejection, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, status_change_id, quantification_id, reasons_json, general_comments, created_date
		FROM rejections WHERE status_change_id = ?`, statusChangeID)
	r, err := scanRejection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &buq.NotFoundError{Kind: "rejection", ID: statusChangeID}
	}
	return r, err
}

func (s *Store) LatestRejection(ctx context.Context, quantificationID string) (*buq.Rejection, error) {
	var exists int
	row := s.q().QueryRowContext(ctx, `SELECT COUNT(1) FROM quantifications WHERE id = ?`, quantificationID)
	if err := row.Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, &buq.NotFoundError{Kind: "quantification", ID: quantificationID}
	}

	row = s.q().QueryRowContext(ctx, `
		SELECT r.id, r.status_change_id, r.quantification_id, r.reasons_json, r.general_comments, r.created_date
		FROM rejections r
		JOIN status_changes sc ON sc.id = r.status_change_id
		WHERE r.quantification_id = ?
		ORDER BY sc.position DESC LIMIT 1`, quantificationID)
	r, err := scanRejection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &buq.NotFoundError{Kind: "rejection", ID: quantificationID}
	}
	return r, err
}

func (s *Store) DeleteRejectionsByStatusChangeIDs(ctx context.Context, statusChangeIDs []string) error {
	if len(statusChangeIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(statusChangeIDs))
	args := make([]any, len(statusChangeIDs))
	for i, id := range statusChangeIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.q().ExecContext(ctx,
		"DELETE FROM rejections WHERE status_change_id IN ("+strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return fmt.Errorf("delete rejections: %w", err)
	}
	return nil
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

func (s *Store) CreateRemark(ctx context.Context, r *buq.Remark) error {
	_, err := s.q().ExecContext(ctx,
		`INSERT INTO remarks (id, name, description) VALUES (?, ?, ?)`,
		r.ID, r.Name, r.Description)
	if isUniqueViolation(err, "remarks") {
		return &buq.DuplicateNameError{Kind: "remark", Name: r.Name}
	}
	return err
}

func (s *Store) ListRemarks(ctx context.Context) ([]buq.Remark, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT id, name, description FROM remarks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []buq.Remark
	for rows.Next() {
		var r buq.Remark
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRemark(ctx context.Context, id string) error {
	res, err := s.q().ExecContext(ctx, `DELETE FROM remarks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &buq.NotFoundError{Kind: "remark", ID: id}
	}
	return nil
}

func (s *Store) CreateSourceOfFund(ctx context.Context, src *buq.SourceOfFund) error {
	_, err := s.q().ExecContext(ctx,
		`INSERT INTO sources_of_funds (id, name) VALUES (?, ?)`, src.ID, src.Name)
	if isUniqueViolation(err, "sources_of_funds") {
		return &buq.DuplicateNameError{Kind: "sourceOfFund", Name: src.Name}
	}
	return err
}

func (s *Store) ListSourcesOfFunds(ctx context.Context) ([]buq.SourceOfFund, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT id, name FROM sources_of_funds ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []buq.SourceOfFund
	for rows.Next() {
		var src buq.SourceOfFund
		if err := rows.Scan(&src.ID, &src.Name); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) CreateProductGroup(ctx context.Context, g *buq.ProductGroup) error {
	_, err := s.q().ExecContext(ctx,
		`INSERT INTO product_groups (id, code, name) VALUES (?, ?, ?)`, g.ID, g.Code, g.Name)
	if isUniqueViolation(err, "product_groups") {
		return &buq.DuplicateNameError{Kind: "productGroup", Name: g.Code}
	}
	return err
}

func (s *Store) ListProductGroups(ctx context.Context) ([]buq.ProductGroup, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT id, code, name FROM product_groups ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []buq.ProductGroup
	for rows.Next() {
		var g buq.ProductGroup
		if err := rows.Scan(&g.ID, &g.Code, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// =============================================================================
// CHANGE LOG
// =============================================================================

// Record appends a field-level change fact. Implements buq.ChangeLog.
func (s *Store) Record(ctx context.Context, entry buq.ChangeEntry) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO change_log (entity_type, entity_id, field, old_value, new_value, author_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EntityType, entry.EntityID, entry.Field, entry.OldValue, entry.NewValue,
		entry.AuthorID, formatTime(entry.OccurredAt))
	return err
}

// History returns the recorded facts for one entity, oldest first.
func (s *Store) History(ctx context.Context, entityType, entityID string) ([]buq.ChangeEntry, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT entity_type, entity_id, field, old_value, new_value, author_id, occurred_at
		FROM change_log WHERE entity_type = ? AND entity_id = ? ORDER BY id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []buq.ChangeEntry
	for rows.Next() {
		var e buq.ChangeEntry
		var occurred string
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.Field, &e.OldValue, &e.NewValue, &e.AuthorID, &occurred); err != nil {
			return nil, err
		}
		if e.OccurredAt, err = parseTime(occurred); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func scanQuantification(row *sql.Row) (*buq.BottomUpQuantification, error) {
	var q buq.BottomUpQuantification
	var status, created, modified string
	err := row.Scan(&q.ID, &q.FacilityID, &q.ProgramID, &q.ProcessingPeriodID,
		&q.SupervisoryNodeID, &q.TargetYear, &status, &created, &modified, &q.Version)
	if err != nil {
		return nil, err
	}
	q.Status = buq.Status(status)
	if q.CreatedDate, err = parseTime(created); err != nil {
		return nil, err
	}
	if q.ModifiedDate, err = parseTime(modified); err != nil {
		return nil, err
	}
	return &q, nil
}

func scanRejection(row *sql.Row) (*buq.Rejection, error) {
	var r buq.Rejection
	var reasons, created string
	err := row.Scan(&r.ID, &r.StatusChangeID, &r.QuantificationID, &reasons, &r.GeneralComments, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reasons), &r.RejectionReasons); err != nil {
		return nil, fmt.Errorf("unmarshal rejection reasons: %w", err)
	}
	if r.CreatedDate, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

func isUniqueViolation(err error, table string) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), table+".")
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}

// storedTimeFormat keeps nanoseconds fixed-width so lexicographic ordering
// of stored timestamps matches chronological ordering. RFC3339Nano trims
// trailing zeros, which would sort "…:00Z" after "…:00.5Z".
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseMoney(amount, currency string) (buq.Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return buq.Money{}, fmt.Errorf("malformed stored amount %q: %w", amount, err)
	}
	return buq.Money{Amount: d, Currency: currency}, nil
}
