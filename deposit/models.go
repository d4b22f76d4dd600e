package deposit

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusRefunded is reserved; nothing moves a deposit there yet.
	StatusRefunded Status = "refunded"
)

// Open reports whether the deposit can still settle.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

// Deposit is an upfront payment against an accepted bid. Amount is in cents.
type Deposit struct {
	ID              string
	ProjectID       string
	ContractorID    string
	BidID           string
	PayerID         string
	Amount          int64
	Currency        string
	Status          Status
	PaymentIntentID string
	ChargeID        *string
	Description     string
	DueDate         time.Time
	PaidAt          *time.Time
	RefundedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type InitiateParams struct {
	BidID        string
	ProjectID    string
	ContractorID string
	PayerID      string
	Description  string
	// Amount is an optional client-side expectation in whole currency units.
	// The server always computes the amount itself; a nonzero mismatch is
	// rejected.
	Amount  int64
	ActorID string
}

type InitiateResult struct {
	ClientSecret string
	DepositID    string
	Amount       int64
}

type ConfirmParams struct {
	PaymentIntentID string
	DepositID       string
	ActorID         string
}
