package bid

import (
	"time"

	"bidflow/project"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Bid is a contractor's priced proposal against a project. Amount is in whole
// currency units.
type Bid struct {
	ID           string
	ProjectID    string
	ContractorID string
	Amount       int64
	Timeline     string
	Description  *string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SubmitParams struct {
	ProjectID    string
	ContractorID string
	Amount       int64
	Timeline     string
	Description  *string
	ActorID      string
}

type SetStatusParams struct {
	BidID   string
	Status  Status
	ActorID string
}

// ContractorSummary is the contractor side of a project bid listing.
type ContractorSummary struct {
	ID          string
	CompanyName string
	Rating      float64
	ReviewCount int
	Specialties []string
	UserID      string
	FirstName   string
	LastName    string
	Username    string
}

// ProjectListing is a bid as shown to the project owner.
type ProjectListing struct {
	Bid        Bid
	Contractor ContractorSummary
}

type ProjectSummary struct {
	ID       string
	OwnerID  string
	Title    string
	Category string
	Location string
	Status   project.Status
}

// ContractorListing is a bid as shown to the contractor who placed it.
type ContractorListing struct {
	Bid     Bid
	Project ProjectSummary
}
