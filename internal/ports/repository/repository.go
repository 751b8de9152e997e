package repository

import (
	"context"
	"time"
)

// PunchRow is one row of the BioTime iclock_transaction table.
type PunchRow struct {
	EmpCode    string
	PunchTime  time.Time
	PunchState string
	VerifyType string
	TerminalSN string
}

// PunchRepository contract
type PunchRepository interface {
	// ListPunches returns every stored punch, oldest first. An empty
	// terminalSN returns punches from all terminals.
	ListPunches(ctx context.Context, terminalSN string) ([]PunchRow, error)
}
