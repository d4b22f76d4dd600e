package project

import "time"

type Status string

const (
	StatusPosted     Status = "posted"
	StatusBidding    Status = "bidding"
	StatusAwarded    Status = "awarded"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// DefaultDepositPercentage applies when a project does not set its own.
const DefaultDepositPercentage = 25

// AcceptsBids reports whether contractors may still bid.
func (s Status) AcceptsBids() bool {
	return s == StatusPosted || s == StatusBidding
}

// AwardedOrLater reports whether a contractor has been chosen.
func (s Status) AwardedOrLater() bool {
	return s == StatusAwarded || s == StatusInProgress || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPosted, StatusBidding, StatusAwarded, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Project struct {
	ID                string
	OwnerID           string
	Title             string
	Description       string
	Category          string
	BudgetMin         *int64
	BudgetMax         *int64
	Timeline          *string
	Location          string
	Status            Status
	DepositPercentage int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type CreateParams struct {
	OwnerID           string
	Title             string
	Description       string
	Category          string
	BudgetMin         *int64
	BudgetMax         *int64
	Timeline          *string
	Location          string
	DepositPercentage int
}

// UpdateParams changes project details. Status is deliberately absent: it is
// owned by the bid and deposit workflows.
type UpdateParams struct {
	ProjectID         string
	ActorID           string
	Title             *string
	Description       *string
	Category          *string
	BudgetMin         *int64
	BudgetMax         *int64
	Timeline          *string
	Location          *string
	DepositPercentage *int
}

type Filters struct {
	OwnerID   string
	Status    Status
	Category  string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}
