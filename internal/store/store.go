// Package store is the durable state layer for verifications, their
// inputs, per-agent results, and UBO linkage. Postgres with JSONB
// payloads; every JSON payload is date-string normalized before it is
// written.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/veriflow/backend/internal/core"
)

type Store struct {
	db *sql.DB
}

// New opens a Postgres connection pool and verifies connectivity.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	slog.Info("Postgres connected")
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// Ping reports store connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// =============================================================================
// Verifications
// =============================================================================

// CreateVerification inserts a new verification row in state queued.
// Exactly one of userID / businessID must be non-empty.
func (s *Store) CreateVerification(ctx context.Context, id, userID, businessID string) (*core.Verification, error) {
	if (userID == "") == (businessID == "") {
		return nil, fmt.Errorf("exactly one of user_id and business_id must be set")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, user_id, business_id, status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $5)`,
		id, userID, businessID, core.StatusQueued, now)
	if err != nil {
		return nil, fmt.Errorf("insert verification: %w", err)
	}
	return &core.Verification{
		ID:         id,
		UserID:     userID,
		BusinessID: businessID,
		Status:     core.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// UpdateVerificationStatus moves a verification through its lifecycle.
// Terminal states (completed and failed alike) set completed_at; it is
// a terminality marker, not a success marker. Result and reason are
// only written when non-empty.
func (s *Store) UpdateVerificationStatus(ctx context.Context, id string, status core.VerificationStatus, result, reason string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE verifications
		SET status = $2,
		    result = COALESCE(NULLIF($3, ''), result),
		    reason = COALESCE(NULLIF($4, ''), reason),
		    completed_at = COALESCE($5, completed_at),
		    updated_at = $6
		WHERE id = $1`,
		id, status, result, reason, completedAt, now)
	if err != nil {
		return fmt.Errorf("update verification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("verification not found: %s", id)
	}
	return nil
}

const verificationColumns = `id, COALESCE(user_id, ''), COALESCE(business_id, ''), status,
	COALESCE(result, ''), COALESCE(reason, ''), created_at, updated_at, completed_at`

func scanVerification(row interface{ Scan(...interface{}) error }) (*core.Verification, error) {
	var v core.Verification
	var completedAt sql.NullTime
	err := row.Scan(&v.ID, &v.UserID, &v.BusinessID, &v.Status,
		&v.Result, &v.Reason, &v.CreatedAt, &v.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		v.CompletedAt = &t
	}
	return &v, nil
}

// GetVerification looks up a verification by id. Returns (nil, nil)
// when no row exists.
func (s *Store) GetVerification(ctx context.Context, id string) (*core.Verification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE id = $1`, id)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification %s: %w", id, err)
	}
	return v, nil
}

// LatestByUser returns the most recent verification for a user id, or
// (nil, nil) when none exists.
func (s *Store) LatestByUser(ctx context.Context, userID string) (*core.Verification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest verification for user %s: %w", userID, err)
	}
	return v, nil
}

// LatestByBusiness returns the most recent verification for a business
// id, or (nil, nil) when none exists.
func (s *Store) LatestByBusiness(ctx context.Context, businessID string) (*core.Verification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications
		 WHERE business_id = $1 ORDER BY created_at DESC LIMIT 1`, businessID)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest verification for business %s: %w", businessID, err)
	}
	return v, nil
}

// ListFilter narrows ListVerifications. Kind selects the subject
// column: "individual" requires user_id, "business" requires
// business_id, empty matches both.
type ListFilter struct {
	Kind   string
	Status core.VerificationStatus
	Skip   int
	Limit  int
}

// ListVerifications returns a created_at-descending page plus the
// total count matching the filter.
func (s *Store) ListVerifications(ctx context.Context, f ListFilter) ([]*core.Verification, int, error) {
	where := "TRUE"
	switch f.Kind {
	case "individual":
		where = "user_id IS NOT NULL"
	case "business":
		where = "business_id IS NOT NULL"
	}
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	countQ := `SELECT COUNT(*) FROM verifications WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count verifications: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Skip)
	q := `SELECT ` + verificationColumns + ` FROM verifications WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []*core.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// =============================================================================
// Verification inputs
// =============================================================================

// AppendInput writes one input payload for a verification. The payload
// is date-normalized and stored as JSONB.
func (s *Store) AppendInput(ctx context.Context, verificationID, dataType string, data map[string]interface{}) error {
	payload, err := json.Marshal(core.NormalizeDateMap(data))
	if err != nil {
		return fmt.Errorf("marshal %s input: %w", dataType, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_data (verification_id, data_type, data, created_at)
		VALUES ($1, $2, $3, $4)`,
		verificationID, dataType, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert %s input for %s: %w", dataType, verificationID, err)
	}
	return nil
}

// ListInputs loads input rows for a verification, optionally filtered
// by data type, oldest first.
func (s *Store) ListInputs(ctx context.Context, verificationID, dataType string) ([]*core.VerificationInput, error) {
	q := `SELECT id, verification_id, data_type, data, created_at
	      FROM verification_data WHERE verification_id = $1`
	args := []interface{}{verificationID}
	if dataType != "" {
		q += ` AND data_type = $2`
		args = append(args, dataType)
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list inputs for %s: %w", verificationID, err)
	}
	defer rows.Close()

	var out []*core.VerificationInput
	for rows.Next() {
		var in core.VerificationInput
		var raw []byte
		if err := rows.Scan(&in.ID, &in.VerificationID, &in.DataType, &raw, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in.Data); err != nil {
				return nil, fmt.Errorf("decode input %d: %w", in.ID, err)
			}
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// =============================================================================
// Agent results
// =============================================================================

// AppendAgentResult appends one agent result row. Append order within
// a verification reflects completion order.
func (s *Store) AppendAgentResult(ctx context.Context, r *core.AgentResult) error {
	checks, err := json.Marshal(r.Checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}
	extras, err := json.Marshal(core.NormalizeDateMap(r.Extras))
	if err != nil {
		return fmt.Errorf("marshal extras: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_results (verification_id, agent_type, status, details, checks, extras, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.VerificationID, r.AgentType, r.Status, r.Details, checks, extras, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert %s result for %s: %w", r.AgentType, r.VerificationID, err)
	}
	return nil
}

// ListAgentResults returns all agent results for a verification in
// append order.
func (s *Store) ListAgentResults(ctx context.Context, verificationID string) ([]*core.AgentResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, verification_id, agent_type, status, COALESCE(details, ''), checks, extras, created_at
		FROM verification_results WHERE verification_id = $1 ORDER BY id ASC`,
		verificationID)
	if err != nil {
		return nil, fmt.Errorf("list results for %s: %w", verificationID, err)
	}
	defer rows.Close()

	var out []*core.AgentResult
	for rows.Next() {
		var r core.AgentResult
		var checks, extras []byte
		if err := rows.Scan(&r.ID, &r.VerificationID, &r.AgentType, &r.Status, &r.Details, &checks, &extras, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(checks) > 0 {
			if err := json.Unmarshal(checks, &r.Checks); err != nil {
				return nil, fmt.Errorf("decode checks for result %d: %w", r.ID, err)
			}
		}
		if len(extras) > 0 && string(extras) != "null" {
			if err := json.Unmarshal(extras, &r.Extras); err != nil {
				return nil, fmt.Errorf("decode extras for result %d: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// UBO links
// =============================================================================

// AddUboLink records that childVerificationID was created for the UBO
// uboUserID of the given parent business verification. Committed
// before the child job is enqueued so crash-recovery tooling can find
// orphans.
func (s *Store) AddUboLink(ctx context.Context, parentVerificationID, uboUserID, childVerificationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ubo_verifications (parent_verification_id, ubo_user_id, child_verification_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		parentVerificationID, uboUserID, childVerificationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert ubo link %s -> %s: %w", parentVerificationID, childVerificationID, err)
	}
	return nil
}

// ListUboLinks returns the UBO links for a parent verification.
func (s *Store) ListUboLinks(ctx context.Context, parentVerificationID string) ([]*core.UboLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_verification_id, ubo_user_id, child_verification_id, created_at
		FROM ubo_verifications WHERE parent_verification_id = $1 ORDER BY id ASC`,
		parentVerificationID)
	if err != nil {
		return nil, fmt.Errorf("list ubo links for %s: %w", parentVerificationID, err)
	}
	defer rows.Close()

	var out []*core.UboLink
	for rows.Next() {
		var l core.UboLink
		if err := rows.Scan(&l.ID, &l.ParentVerificationID, &l.UboUserID, &l.ChildVerificationID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ubo link: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
