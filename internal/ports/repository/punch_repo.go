package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TransactionRepository reads punches from a BioTime PostgreSQL database.
type TransactionRepository struct {
	DB *sql.DB
}

// NewTransactionRepository create new instance
func NewTransactionRepository(db *sql.DB) PunchRepository {
	return &TransactionRepository{DB: db}
}

// ListPunches reads the whole transaction log.
func (r *TransactionRepository) ListPunches(ctx context.Context, terminalSN string) ([]PunchRow, error) {
	query := `SELECT emp_code, punch_time, punch_state, verify_type, terminal_sn
              FROM iclock_transaction`
	args := []any{}
	if terminalSN != "" {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.serialNumber", terminalSN))
		query += ` WHERE terminal_sn = $1`
		args = append(args, terminalSN)
	}
	query += ` ORDER BY punch_time, id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying iclock_transaction: %w", err)
	}
	defer rows.Close()

	var out []PunchRow
	for rows.Next() {
		var (
			row        PunchRow
			state      sql.NullString
			verify     sql.NullInt64
			terminalSN sql.NullString
		)
		if err := rows.Scan(&row.EmpCode, &row.PunchTime, &state, &verify, &terminalSN); err != nil {
			return nil, fmt.Errorf("scanning iclock_transaction row: %w", err)
		}
		row.PunchState = state.String
		if verify.Valid {
			row.VerifyType = fmt.Sprintf("%d", verify.Int64)
		}
		row.TerminalSN = terminalSN.String
		out = append(out, row)
	}
	return out, rows.Err()
}
