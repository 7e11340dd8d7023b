package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Attempt statuses.
const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// MirrorAttempt is one audited mirror attempt. Amounts are raw token units.
type MirrorAttempt struct {
	ID          int64
	Wallet      string
	Token       string
	Action      string
	SourceTx    string
	BlockNumber uint64
	MirrorTx    *string
	ApprovalTx  *string
	AmountIn    decimal.Decimal
	MinOut      decimal.Decimal
	GasPriceWei decimal.Decimal
	Status      string
	Error       *string
	CreatedAt   time.Time
}
