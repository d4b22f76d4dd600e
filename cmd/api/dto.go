package main

import (
	"time"

	"bidflow/auth"
	"bidflow/bid"
	"bidflow/contractor"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/project"
	"bidflow/timeline"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type userResponse struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	UserType  string  `json:"userType"`
	Phone     *string `json:"phone,omitempty"`
	Location  *string `json:"location,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		UserType:  string(u.Role),
		Phone:     u.Phone,
		Location:  u.Location,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type contractorRequest struct {
	CompanyName     *string  `json:"companyName"`
	Description     *string  `json:"description"`
	Specialties     []string `json:"specialties"`
	ExperienceYears *int     `json:"experienceYears"`
	Licenses        []string `json:"licenses"`
	Insured         *bool    `json:"insured"`
}

type contractorResponse struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	CompanyName     string        `json:"companyName"`
	Description     *string       `json:"description,omitempty"`
	Specialties     []string      `json:"specialties"`
	ExperienceYears *int          `json:"experienceYears,omitempty"`
	Rating          float64       `json:"rating"`
	ReviewCount     int           `json:"reviewCount"`
	Licenses        []string      `json:"licenses"`
	Insured         bool          `json:"insured"`
	CreatedAt       string        `json:"createdAt"`
	User            *userResponse `json:"user,omitempty"`
}

func toContractorResponse(p contractor.Profile) contractorResponse {
	return contractorResponse{
		ID:              p.ID,
		UserID:          p.UserID,
		CompanyName:     p.CompanyName,
		Description:     p.Description,
		Specialties:     nonNil(p.Specialties),
		ExperienceYears: p.ExperienceYears,
		Rating:          p.Rating,
		ReviewCount:     p.ReviewCount,
		Licenses:        nonNil(p.Licenses),
		Insured:         p.Insured,
		CreatedAt:       formatTime(p.CreatedAt),
	}
}

type projectRequest struct {
	Title             *string `json:"title"`
	Description       *string `json:"description"`
	Category          *string `json:"category"`
	BudgetMin         *int64  `json:"budgetMin"`
	BudgetMax         *int64  `json:"budgetMax"`
	Timeline          *string `json:"timeline"`
	Location          *string `json:"location"`
	DepositPercentage *int    `json:"depositPercentage"`
}

type projectResponse struct {
	ID                string  `json:"id"`
	HomeownerID       string  `json:"homeownerId"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	Category          string  `json:"category"`
	BudgetMin         *int64  `json:"budgetMin"`
	BudgetMax         *int64  `json:"budgetMax"`
	Timeline          *string `json:"timeline"`
	Location          string  `json:"location"`
	Status            string  `json:"status"`
	DepositPercentage int     `json:"depositPercentage"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

func toProjectResponse(p project.Project) projectResponse {
	return projectResponse{
		ID:                p.ID,
		HomeownerID:       p.OwnerID,
		Title:             p.Title,
		Description:       p.Description,
		Category:          p.Category,
		BudgetMin:         p.BudgetMin,
		BudgetMax:         p.BudgetMax,
		Timeline:          p.Timeline,
		Location:          p.Location,
		Status:            string(p.Status),
		DepositPercentage: p.DepositPercentage,
		CreatedAt:         formatTime(p.CreatedAt),
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
}

type submitBidRequest struct {
	ProjectID    string  `json:"projectId"`
	ContractorID string  `json:"contractorId"`
	Amount       int64   `json:"amount"`
	Timeline     string  `json:"timeline"`
	Description  *string `json:"description"`
}

type setBidStatusRequest struct {
	Status string `json:"status"`
}

type bidResponse struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projectId"`
	ContractorID string  `json:"contractorId"`
	Amount       int64   `json:"amount"`
	Timeline     string  `json:"timeline"`
	Description  *string `json:"description"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
}

func toBidResponse(b bid.Bid) bidResponse {
	return bidResponse{
		ID:           b.ID,
		ProjectID:    b.ProjectID,
		ContractorID: b.ContractorID,
		Amount:       b.Amount,
		Timeline:     b.Timeline,
		Description:  b.Description,
		Status:       string(b.Status),
		CreatedAt:    formatTime(b.CreatedAt),
	}
}

type bidContractorResponse struct {
	ID          string   `json:"id"`
	CompanyName string   `json:"companyName"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"reviewCount"`
	Specialties []string `json:"specialties"`
	User        struct {
		ID        string `json:"id"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Username  string `json:"username"`
	} `json:"user"`
}

type projectBidResponse struct {
	bidResponse
	Contractor bidContractorResponse `json:"contractor"`
}

func toProjectBidResponse(l bid.ProjectListing) projectBidResponse {
	out := projectBidResponse{bidResponse: toBidResponse(l.Bid)}
	c := l.Contractor
	out.Contractor.ID = c.ID
	out.Contractor.CompanyName = c.CompanyName
	out.Contractor.Rating = c.Rating
	out.Contractor.ReviewCount = c.ReviewCount
	out.Contractor.Specialties = nonNil(c.Specialties)
	out.Contractor.User.ID = c.UserID
	out.Contractor.User.FirstName = c.FirstName
	out.Contractor.User.LastName = c.LastName
	out.Contractor.User.Username = c.Username
	return out
}

type contractorBidResponse struct {
	bidResponse
	Project struct {
		ID          string `json:"id"`
		HomeownerID string `json:"homeownerId"`
		Title       string `json:"title"`
		Category    string `json:"category"`
		Location    string `json:"location"`
		Status      string `json:"status"`
	} `json:"project"`
}

func toContractorBidResponse(l bid.ContractorListing) contractorBidResponse {
	out := contractorBidResponse{bidResponse: toBidResponse(l.Bid)}
	out.Project.ID = l.Project.ID
	out.Project.HomeownerID = l.Project.OwnerID
	out.Project.Title = l.Project.Title
	out.Project.Category = l.Project.Category
	out.Project.Location = l.Project.Location
	out.Project.Status = string(l.Project.Status)
	return out
}

type createIntentRequest struct {
	BidID        string `json:"bidId"`
	ProjectID    string `json:"projectId"`
	ContractorID string `json:"contractorId"`
	Amount       int64  `json:"amount"`
	Description  string `json:"description"`
}

type createIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	DepositID    string `json:"depositId"`
	Amount       int64  `json:"amount"`
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	DepositID       string `json:"depositId"`
}

type confirmPaymentResponse struct {
	Success bool             `json:"success"`
	Deposit *depositResponse `json:"deposit,omitempty"`
	Message string           `json:"message,omitempty"`
}

type depositResponse struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"projectId"`
	ContractorID    string  `json:"contractorId"`
	BidID           string  `json:"bidId"`
	PayerID         string  `json:"payerId"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	PaymentIntentID string  `json:"stripePaymentIntentId"`
	ChargeID        *string `json:"stripeChargeId"`
	Description     string  `json:"description"`
	DueDate         string  `json:"dueDate"`
	PaidAt          *string `json:"paidAt"`
	CreatedAt       string  `json:"createdAt"`
}

func toDepositResponse(d deposit.Deposit) depositResponse {
	return depositResponse{
		ID:              d.ID,
		ProjectID:       d.ProjectID,
		ContractorID:    d.ContractorID,
		BidID:           d.BidID,
		PayerID:         d.PayerID,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Status:          string(d.Status),
		PaymentIntentID: d.PaymentIntentID,
		ChargeID:        d.ChargeID,
		Description:     d.Description,
		DueDate:         formatTime(d.DueDate),
		PaidAt:          formatTimePtr(d.PaidAt),
		CreatedAt:       formatTime(d.CreatedAt),
	}
}

type postMessageRequest struct {
	ProjectID  string `json:"projectId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type messageResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	IsRead     bool   `json:"isRead"`
	CreatedAt  string `json:"createdAt"`
}

func toMessageResponse(m message.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		IsRead:     m.IsRead,
		CreatedAt:  formatTime(m.CreatedAt),
	}
}

type participantResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type threadResponse struct {
	messageResponse
	Sender   participantResponse `json:"sender"`
	Receiver participantResponse `json:"receiver"`
}

func toThreadResponse(t message.Thread) threadResponse {
	return threadResponse{
		messageResponse: toMessageResponse(t.Message),
		Sender:          participantResponse(t.Sender),
		Receiver:        participantResponse(t.Receiver),
	}
}

type timelineEventResponse struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	ActorID   *string        `json:"actorId"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"createdAt"`
}

func toTimelineEventResponse(e timeline.Event) timelineEventResponse {
	return timelineEventResponse{
		ID:        e.ID,
		Type:      e.Type,
		ActorID:   e.ActorID,
		Payload:   e.Payload,
		CreatedAt: formatTime(e.CreatedAt),
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
