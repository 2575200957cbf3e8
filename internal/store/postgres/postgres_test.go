package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// flowRowColumns is the column list for scanFlow results.
var flowRowColumns = []string{
	"id", "name", "flow_data", "type", "deployed", "is_public", "category",
	"workspace_id", "organization_id", "created_by", "created_date", "updated_date",
}

// flowWithTotalColumns is the column list for queryListFlows results.
var flowWithTotalColumns = append([]string{"total_count"}, flowRowColumns...)

// addFlowWithTotalRow adds a minimal flow row with a leading total_count to a sqlmock.Rows.
func addFlowWithTotalRow(rows *sqlmock.Rows, total int, id, name, typ string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		total,
		id, name, model.EmptyFlowData, typ, false, false, nil,
		"ws-1", nil, nil, now, now,
	)
}

func TestParseSortClause(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  string
	}{
		{"", "updated_date DESC"},
		{"name", "name ASC"},
		{"-name", "name DESC"},
		{"createdDate", "created_date ASC"},
		{"-updatedDate", "updated_date DESC"},
		{"evil_column", "updated_date DESC"},
		{"-flow_data; DROP TABLE flows", "updated_date DESC"},
	} {
		if got := parseSortClause(tc.input); got != tc.want {
			t.Errorf("parseSortClause(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
}

func TestErrNotFoundIsErrNoRows(t *testing.T) {
	if !errors.Is(fmt.Errorf("wrap: %w", sql.ErrNoRows), store.ErrNotFound) {
		t.Fatal("store.ErrNotFound should match sql.ErrNoRows")
	}
}

func TestQueryCreateFlow(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	flow := &model.Flow{
		ID: "cf-test1", Name: "Support bot", FlowData: model.EmptyFlowData,
		Type: model.FlowTypeAgentflow, WorkspaceID: "ws-1", CreatedBy: "alice",
	}
	mock.ExpectQuery("INSERT INTO flows").
		WithArgs(
			"cf-test1", "Support bot", model.EmptyFlowData, "AGENTFLOW", false, false, nil,
			"ws-1", nil, "alice",
		).
		WillReturnRows(sqlmock.NewRows([]string{"created_date", "updated_date"}).AddRow(now, now))

	if err := queryCreateFlow(context.Background(), db, flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flow.CreatedDate.Equal(now) || !flow.UpdatedDate.Equal(now) {
		t.Fatalf("timestamps not populated: %v %v", flow.CreatedDate, flow.UpdatedDate)
	}
}

func TestQueryGetFlow(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(flowRowColumns).AddRow(
		"cf-test1", "Support bot", `{"nodes":[{"id":"startAgentflow_0"}],"edges":[]}`, "AGENTFLOW", true, false, "support",
		"ws-1", "org-1", nil, now, now,
	)
	mock.ExpectQuery("SELECT .+ FROM flows WHERE id = \\$1").WithArgs("cf-test1").WillReturnRows(rows)

	flow, err := queryGetFlow(context.Background(), db, "cf-test1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.ID != "cf-test1" || flow.Name != "Support bot" || flow.Type != model.FlowTypeAgentflow {
		t.Fatalf("got id=%q name=%q type=%q", flow.ID, flow.Name, flow.Type)
	}
	if !flow.Deployed || flow.Category != "support" || flow.OrganizationID != "org-1" || flow.CreatedBy != "" {
		t.Fatalf("unexpected flags/columns: %+v", flow)
	}
	g, err := flow.Graph()
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(g.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(g.Nodes))
	}
}

func TestQueryGetFlow_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM flows WHERE id = \\$1").WithArgs("nonexistent").WillReturnError(sql.ErrNoRows)

	_, err := queryGetFlow(context.Background(), db, "nonexistent")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestQueryUpdateFlow(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	flow := &model.Flow{ID: "cf-test1", Name: "Renamed", FlowData: model.EmptyFlowData, Type: model.FlowTypeChatflow}
	mock.ExpectQuery("UPDATE flows SET").
		WithArgs("cf-test1", "Renamed", model.EmptyFlowData, "CHATFLOW", false, false, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_date", "updated_date"}).AddRow(now.Add(-time.Hour), now))

	if err := queryUpdateFlow(context.Background(), db, flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flow.UpdatedDate.Equal(now) {
		t.Fatalf("updated_date = %v, want %v", flow.UpdatedDate, now)
	}
}

func TestQueryUpdateFlow_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	flow := &model.Flow{ID: "nonexistent", Name: "x", Type: model.FlowTypeChatflow}
	mock.ExpectQuery("UPDATE flows SET").
		WithArgs("nonexistent", "x", "", "CHATFLOW", false, false, nil).
		WillReturnError(sql.ErrNoRows)

	if err := queryUpdateFlow(context.Background(), db, flow); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryDeleteFlow(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM flows WHERE id = \\$1").WithArgs("cf-del1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryDeleteFlow(context.Background(), db, "cf-del1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryDeleteFlow_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM flows WHERE id = \\$1").WithArgs("nonexistent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryDeleteFlow(context.Background(), db, "nonexistent"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryCountFlows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM flows").
		WithArgs("AGENTFLOW", "ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := queryCountFlows(context.Background(), db, model.FlowTypeAgentflow, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}

func TestQueryListFlows(t *testing.T) {
	now := time.Now().UTC()

	for _, tc := range []struct {
		name      string
		filter    model.FlowFilter
		queryPat  string
		args      []driver.Value
		wantCount int
		wantTotal int
	}{
		{
			name:      "NoFilter",
			filter:    model.FlowFilter{},
			queryPat:  "SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM flows ORDER BY updated_date DESC",
			wantCount: 2,
			wantTotal: 2,
		},
		{
			name:      "FilterByType",
			filter:    model.FlowFilter{Type: []model.FlowType{model.FlowTypeAgentflow, model.FlowTypeMultiAgent}},
			queryPat:  "SELECT .+ FROM flows WHERE type IN \\(\\$1, \\$2\\) ORDER BY",
			args:      []driver.Value{"AGENTFLOW", "MULTIAGENT"},
			wantCount: 1,
			wantTotal: 1,
		},
		{
			name:      "FilterByScope",
			filter:    model.FlowFilter{WorkspaceID: "ws-1", OrganizationID: "org-1"},
			queryPat:  "SELECT .+ FROM flows WHERE workspace_id = \\$1 AND organization_id = \\$2 ORDER BY",
			args:      []driver.Value{"ws-1", "org-1"},
			wantCount: 1,
			wantTotal: 1,
		},
		{
			name:      "FilterBySearch",
			filter:    model.FlowFilter{Search: "support"},
			queryPat:  "SELECT .+ FROM flows WHERE \\(name ILIKE .+\\) ORDER BY",
			args:      []driver.Value{"support"},
			wantCount: 1,
			wantTotal: 1,
		},
		{
			name:      "WithLimitAndOffset",
			filter:    model.FlowFilter{Limit: 10, Offset: 5},
			queryPat:  "SELECT .+ FROM flows ORDER BY .+ LIMIT \\$1 OFFSET \\$2",
			args:      []driver.Value{10, 5},
			wantCount: 1,
			wantTotal: 20,
		},
		{
			name:     "WithSort",
			filter:   model.FlowFilter{Sort: "name"},
			queryPat: "SELECT .+ FROM flows ORDER BY name ASC",
		},
		{
			name:      "CombinedFilters",
			filter:    model.FlowFilter{Type: []model.FlowType{model.FlowTypeChatflow}, WorkspaceID: "ws-2", Limit: 5},
			queryPat:  "SELECT .+ FROM flows WHERE type IN \\(\\$1\\) AND workspace_id = \\$2 ORDER BY .+ LIMIT \\$3",
			args:      []driver.Value{"CHATFLOW", "ws-2", 5},
			wantCount: 1,
			wantTotal: 3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			eq := mock.ExpectQuery(tc.queryPat)
			if len(tc.args) > 0 {
				eq.WithArgs(tc.args...)
			}
			r := sqlmock.NewRows(flowWithTotalColumns)
			for i := range tc.wantCount {
				addFlowWithTotalRow(r, tc.wantTotal, fmt.Sprintf("cf-%d", i+1), "Flow", "CHATFLOW", now)
			}
			eq.WillReturnRows(r)

			flows, total, err := queryListFlows(context.Background(), db, tc.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(flows) != tc.wantCount {
				t.Fatalf("expected %d flows, got %d", tc.wantCount, len(flows))
			}
			if total != tc.wantTotal {
				t.Fatalf("expected total=%d, got %d", tc.wantTotal, total)
			}
			for _, f := range flows {
				if f.WorkspaceID != "ws-1" || f.Category != "" {
					t.Fatalf("nullable columns not applied: %+v", f)
				}
			}
		})
	}
}

func TestQueryRecordEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	event := &model.Event{
		Topic: "flows.flow.created", FlowID: "cf-a", Actor: "alice",
		Payload: json.RawMessage(`{"flow":{"id":"cf-a"}}`),
	}
	mock.ExpectQuery("INSERT INTO events").
		WithArgs("flows.flow.created", "cf-a", "alice", []byte(`{"flow":{"id":"cf-a"}}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))

	if err := queryRecordEvent(context.Background(), db, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID != 1 {
		t.Fatalf("expected id=1, got %d", event.ID)
	}
}

func TestQueryRecordEvent_EmptyPayload(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO events").
		WithArgs("flows.flow.deleted", "cf-a", nil, []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))

	if err := queryRecordEvent(context.Background(), db, &model.Event{Topic: "flows.flow.deleted", FlowID: "cf-a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetEvents(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "topic", "flow_id", "actor", "payload", "created_at"}).
		AddRow(1, "flows.flow.created", "cf-a", "alice", []byte(`{}`), now).
		AddRow(2, "flows.canvas.saved", "cf-a", nil, []byte(`{}`), now)
	mock.ExpectQuery("SELECT .+ FROM events WHERE flow_id = \\$1").WithArgs("cf-a").WillReturnRows(rows)

	evts, err := queryGetEvents(context.Background(), db, "cf-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].Actor != "alice" || evts[1].Actor != "" {
		t.Fatalf("got actors=%q %q", evts[0].Actor, evts[1].Actor)
	}
}

func TestRunInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM flows WHERE id = \\$1").WithArgs("cf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO events").
		WithArgs("flows.flow.deleted", "cf-1", nil, []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		if err := tx.DeleteFlow(context.Background(), "cf-1"); err != nil {
			return err
		}
		return tx.RecordEvent(context.Background(), &model.Event{Topic: "flows.flow.deleted", FlowID: "cf-1"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM flows WHERE id = \\$1").WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteFlow(context.Background(), "ghost")
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
