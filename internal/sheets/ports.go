package sheets

import (
	"context"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
)

// Ports for outbound export adapters.
type (
	// ChargeExporter appends one charge revision and returns a reference to
	// where it landed.
	ChargeExporter interface {
		ExportCharge(ctx context.Context, c core.Charge) (ref string, err error)
	}

	// BalanceExporter writes a snapshot of a group's balances.
	BalanceExporter interface {
		ExportBalances(ctx context.Context, groupID core.GroupID, sheet ledger.BalanceSheet) error
	}

	Exporter interface {
		ChargeExporter
		BalanceExporter
	}
)
