package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// flowNulls holds the nullable flow columns during a scan.
type flowNulls struct {
	category       sql.NullString
	workspaceID    sql.NullString
	organizationID sql.NullString
	createdBy      sql.NullString
}

func (n *flowNulls) dest(f *model.Flow) []any {
	return []any{
		&f.ID,
		&f.Name,
		&f.FlowData,
		&f.Type,
		&f.Deployed,
		&f.IsPublic,
		&n.category,
		&n.workspaceID,
		&n.organizationID,
		&n.createdBy,
		&f.CreatedDate,
		&f.UpdatedDate,
	}
}

func (n *flowNulls) apply(f *model.Flow) {
	f.Category = n.category.String
	f.WorkspaceID = n.workspaceID.String
	f.OrganizationID = n.organizationID.String
	f.CreatedBy = n.createdBy.String
}

// scanFlow scans a single row into a model.Flow.
// The row must contain columns in the order defined by flowColumns.
func scanFlow(row scannable) (*model.Flow, error) {
	var f model.Flow
	var n flowNulls
	if err := row.Scan(n.dest(&f)...); err != nil {
		return nil, err
	}
	n.apply(&f)
	return &f, nil
}

// scanFlowWithTotal scans a row that has a leading total_count column
// followed by the standard flow columns. Used by queryListFlows with
// COUNT(*) OVER().
func scanFlowWithTotal(row scannable) (*model.Flow, int, error) {
	var total int
	var f model.Flow
	var n flowNulls
	if err := row.Scan(append([]any{&total}, n.dest(&f)...)...); err != nil {
		return nil, 0, err
	}
	n.apply(&f)
	return &f, total, nil
}

// scanEvent scans a single row into a model.Event.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		actor   sql.NullString
		payload []byte
	)
	err := row.Scan(&e.ID, &e.Topic, &e.FlowID, &actor, &payload, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Actor = actor.String
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
