package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// flowColumns is the column list used for SELECT statements on the flows table.
const flowColumns = `id, name, flow_data, type, deployed, is_public, category,
	workspace_id, organization_id, created_by, created_date, updated_date`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateFlow(ctx context.Context, db executor, f *model.Flow) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO flows (
			id, name, flow_data, type, deployed, is_public, category,
			workspace_id, organization_id, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10
		)
		RETURNING created_date, updated_date`,
		f.ID,
		f.Name,
		f.FlowData,
		string(f.Type),
		f.Deployed,
		f.IsPublic,
		nullString(f.Category),
		nullString(f.WorkspaceID),
		nullString(f.OrganizationID),
		nullString(f.CreatedBy),
	).Scan(&f.CreatedDate, &f.UpdatedDate)
}

func queryGetFlow(ctx context.Context, db executor, id string) (*model.Flow, error) {
	row := db.QueryRowContext(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id)
	return scanFlow(row)
}

func queryListFlows(ctx context.Context, db executor, filter model.FlowFilter) ([]*model.Flow, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Type) > 0 {
		placeholders := make([]string, len(filter.Type))
		for i, t := range filter.Type {
			placeholders[i] = nextArg()
			args = append(args, string(t))
		}
		whereClauses = append(whereClauses, "type IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.WorkspaceID != "" {
		whereClauses = append(whereClauses, "workspace_id = "+nextArg())
		args = append(args, filter.WorkspaceID)
	}

	if filter.OrganizationID != "" {
		whereClauses = append(whereClauses, "organization_id = "+nextArg())
		args = append(args, filter.OrganizationID)
	}

	if filter.Search != "" {
		p := nextArg()
		whereClauses = append(whereClauses,
			fmt.Sprintf("(name ILIKE '%%' || %s || '%%' OR category ILIKE '%%' || %s || '%%')", p, p))
		args = append(args, filter.Search)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + flowColumns + " FROM flows" + whereSQL + " ORDER BY " + parseSortClause(filter.Sort)

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []*model.Flow
	var total int
	for rows.Next() {
		f, t, err := scanFlowWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan flows: %w", err)
		}
		total = t
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan flows: %w", err)
	}

	return flows, total, nil
}

// queryUpdateFlow overwrites the stored flow. Concurrent writers are not
// detected; the last write wins.
func queryUpdateFlow(ctx context.Context, db executor, f *model.Flow) error {
	return db.QueryRowContext(ctx, `
		UPDATE flows SET
			name = $2,
			flow_data = $3,
			type = $4,
			deployed = $5,
			is_public = $6,
			category = $7,
			updated_date = NOW()
		WHERE id = $1
		RETURNING created_date, updated_date`,
		f.ID,
		f.Name,
		f.FlowData,
		string(f.Type),
		f.Deployed,
		f.IsPublic,
		nullString(f.Category),
	).Scan(&f.CreatedDate, &f.UpdatedDate)
}

func queryDeleteFlow(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func queryCountFlows(ctx context.Context, db executor, flowType model.FlowType, workspaceID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM flows
		WHERE ($1 = '' OR type = $1) AND ($2 = '' OR workspace_id = $2)`,
		string(flowType), workspaceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count flows: %w", err)
	}
	return n, nil
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO events (topic, flow_id, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.Topic, e.FlowID, nullString(e.Actor), payload,
	).Scan(&e.ID, &e.CreatedAt)
}

func queryGetEvents(ctx context.Context, db executor, flowID string) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, topic, flow_id, actor, payload, created_at
		FROM events
		WHERE flow_id = $1
		ORDER BY created_at ASC`,
		flowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// sortColumns maps API sort keys to columns.
var sortColumns = map[string]string{
	"name":        "name",
	"type":        "type",
	"createdDate": "created_date",
	"updatedDate": "updated_date",
}

func parseSortClause(sort string) string {
	if sort == "" {
		return "updated_date DESC"
	}
	desc := strings.HasPrefix(sort, "-")
	col, ok := sortColumns[strings.TrimPrefix(sort, "-")]
	if !ok {
		return "updated_date DESC"
	}
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}
