package nodes

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// dbExecutor runs SQL against the configured database. SELECT-shaped
// statements return rows; everything else returns the affected count.
type dbExecutor struct {
	db *sql.DB
}

func dbFactory(db *sql.DB) catalog.Factory {
	return func(catalog.ExecContext) (catalog.NodeExecutor, error) {
		if db == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "no database configured")
		}
		return &dbExecutor{db: db}, nil
	}
}

func (e *dbExecutor) Execute(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty SQL statement")
	}
	var args []any
	if _, ok := params["args"]; ok {
		if args, err = sequenceParam(params, "args"); err != nil {
			return nil, err
		}
	}

	if isQuery(query) {
		rows, err := e.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, dbError(query, err)
		}
		defer rows.Close()
		result, err := scanRows(rows)
		if err != nil {
			return nil, dbError(query, err)
		}
		return map[string]any{"rows": result, "rows_affected": 0}, nil
	}

	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(query, err)
	}
	affected, _ := res.RowsAffected()
	return map[string]any{"rows": []any{}, "rows_affected": affected}, nil
}

func isQuery(query string) bool {
	head := strings.ToUpper(strings.Fields(strings.TrimSpace(query))[0])
	switch head {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN":
		return true
	}
	return false
}

func scanRows(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// dbError classifies database failures: busy and locked conditions retry,
// SQL mistakes do not.
func dbError(query string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return schema.NewErrorf(schema.ErrCodeTransientIO, "database busy: %s", err.Error()).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodePermanentIO, "statement failed: %s", err.Error()).WithCause(err)
}
