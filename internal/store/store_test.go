package store

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/veriflow/backend/internal/core"
)

func TestCreateVerificationSubjectExclusivity(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	if _, err := s.CreateVerification(context.Background(), "v1", "", ""); err == nil {
		t.Fatal("expected error when neither subject is set")
	}
	if _, err := s.CreateVerification(context.Background(), "v1", "u1", "b1"); err == nil {
		t.Fatal("expected error when both subjects are set")
	}
}

func TestCreateVerificationQueued(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectExec("INSERT INTO verifications").
		WithArgs("v1", "u1", "", string(core.StatusQueued), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	v, err := s.CreateVerification(context.Background(), "v1", "u1", "")
	if err != nil {
		t.Fatalf("CreateVerification: %v", err)
	}
	if v.Status != core.StatusQueued {
		t.Errorf("status = %s, want queued", v.Status)
	}
	if v.CompletedAt != nil {
		t.Error("new verification must not have completed_at")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateVerificationStatusTerminalSetsCompletedAt(t *testing.T) {
	for _, status := range []core.VerificationStatus{core.StatusCompleted, core.StatusFailed} {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		s := NewWithDB(db)

		// completed_at (arg 5) must be a time, not nil, for both
		// terminal states.
		mock.ExpectExec("UPDATE verifications").
			WithArgs("v1", string(status), "passed", "ok", timeArg{}, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := s.UpdateVerificationStatus(context.Background(), "v1", status, "passed", "ok"); err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("%s: unmet expectations: %v", status, err)
		}
		db.Close()
	}
}

func TestUpdateVerificationStatusProcessingNoCompletedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectExec("UPDATE verifications").
		WithArgs("v1", string(core.StatusProcessing), "", "", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateVerificationStatus(context.Background(), "v1", core.StatusProcessing, "", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendInputNormalizesDates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectExec("INSERT INTO verification_data").
		WithArgs("v1", core.DataTypeBusiness, jsonWith{"incorporation_date", "2021-06-01"}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	data := map[string]interface{}{
		"name":               "Acme LLC",
		"incorporation_date": time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.AppendInput(context.Background(), "v1", core.DataTypeBusiness, data); err != nil {
		t.Fatalf("AppendInput: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListAgentResultsDecodesChecks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)

	rows := sqlmock.NewRows([]string{"id", "verification_id", "agent_type", "status", "details", "checks", "extras", "created_at"}).
		AddRow(1, "v1", core.AgentDataAcquisition, "success", "ok", []byte(`[]`), []byte(`null`), time.Now()).
		AddRow(2, "v1", core.AgentOfacVerification, "success", "",
			[]byte(`[{"name":"OFAC SDN List Check","status":"passed","details":"no matches"}]`),
			[]byte(`null`), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM verification_results").
		WithArgs("v1").WillReturnRows(rows)

	results, err := s.ListAgentResults(context.Background(), "v1")
	if err != nil {
		t.Fatalf("ListAgentResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].AgentType != core.AgentDataAcquisition {
		t.Errorf("append order not preserved: first is %s", results[0].AgentType)
	}
	if len(results[1].Checks) != 1 || results[1].Checks[0].Name != "OFAC SDN List Check" {
		t.Errorf("checks not decoded: %+v", results[1].Checks)
	}
}

// timeArg matches any non-nil time passed as a driver value.
type timeArg struct{}

func (timeArg) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// jsonWith matches a JSON byte payload whose key has a string value
// starting with the given prefix.
type jsonWith struct {
	key, prefix string
}

func (j jsonWith) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	return strings.Contains(string(b), `"`+j.key+`":"`+j.prefix)
}
