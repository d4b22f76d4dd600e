package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"bidflow/apperr"
	"bidflow/auth"
	"bidflow/bid"
	"bidflow/contractor"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/payment"
	"bidflow/project"
	"bidflow/ratelimit"
)

type stubContractorRepo struct {
	profile  contractor.Profile
	profiles []contractor.Profile
	err      error
}

func (s *stubContractorRepo) Create(_ context.Context, params contractor.CreateParams) (contractor.Profile, error) {
	return contractor.Profile{ID: "c-new", UserID: params.UserID, CompanyName: params.CompanyName}, s.err
}

func (s *stubContractorRepo) GetByID(_ context.Context, _ string) (contractor.Profile, error) {
	return s.profile, s.err
}

func (s *stubContractorRepo) GetByUserID(_ context.Context, _ string) (contractor.Profile, error) {
	return s.profile, s.err
}

func (s *stubContractorRepo) List(_ context.Context, limit int) ([]contractor.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit <= 0 || limit > len(s.profiles) {
		limit = len(s.profiles)
	}
	out := make([]contractor.Profile, limit)
	copy(out, s.profiles[:limit])
	return out, nil
}

func (s *stubContractorRepo) Update(_ context.Context, _ contractor.UpdateParams) (contractor.Profile, error) {
	return s.profile, s.err
}

type stubProjectService struct {
	ownerID  string
	projects []project.Project
}

func (s *stubProjectService) Create(_ context.Context, _ project.CreateParams) (project.Project, error) {
	return project.Project{}, errors.New("not implemented")
}

func (s *stubProjectService) GetByID(_ context.Context, _ string) (project.Project, error) {
	return project.Project{}, project.ErrNotFound
}

func (s *stubProjectService) List(_ context.Context, _ project.Filters) (project.ListResult, error) {
	return project.ListResult{Items: s.projects, Total: len(s.projects)}, nil
}

func (s *stubProjectService) ListByOwner(_ context.Context, ownerID string) ([]project.Project, error) {
	s.ownerID = ownerID
	return s.projects, nil
}

func (s *stubProjectService) UpdateDetails(_ context.Context, _ project.UpdateParams) (project.Project, error) {
	return project.Project{}, errors.New("not implemented")
}

type stubBidService struct {
	submitted   bid.SubmitParams
	submitBid   bid.Bid
	submitErr   error
	statusCall  bid.SetStatusParams
	statusBid   bid.Bid
	statusErr   error
	projectBids []bid.ProjectListing
	listErr     error
}

func (s *stubBidService) Submit(_ context.Context, params bid.SubmitParams) (bid.Bid, error) {
	s.submitted = params
	return s.submitBid, s.submitErr
}

func (s *stubBidService) SetStatus(_ context.Context, params bid.SetStatusParams) (bid.Bid, error) {
	s.statusCall = params
	return s.statusBid, s.statusErr
}

func (s *stubBidService) ListForProject(_ context.Context, _ string) ([]bid.ProjectListing, error) {
	return s.projectBids, s.listErr
}

func (s *stubBidService) ListForContractor(_ context.Context, _ string) ([]bid.ContractorListing, error) {
	return nil, s.listErr
}

type stubDepositService struct {
	initiated     deposit.InitiateParams
	initiateRes   deposit.InitiateResult
	initiateErr   error
	confirmDep    deposit.Deposit
	confirmErr    error
	webhookEvents []payment.Event
}

func (s *stubDepositService) Initiate(_ context.Context, params deposit.InitiateParams) (deposit.InitiateResult, error) {
	s.initiated = params
	return s.initiateRes, s.initiateErr
}

func (s *stubDepositService) Confirm(_ context.Context, _ deposit.ConfirmParams) (deposit.Deposit, error) {
	return s.confirmDep, s.confirmErr
}

func (s *stubDepositService) HandleWebhook(_ context.Context, ev payment.Event) error {
	s.webhookEvents = append(s.webhookEvents, ev)
	return nil
}

func (s *stubDepositService) ListForProject(_ context.Context, _ string) ([]deposit.Deposit, error) {
	return nil, nil
}

func (s *stubDepositService) ListForContractor(_ context.Context, _ string) ([]deposit.Deposit, error) {
	return nil, nil
}

func (s *stubDepositService) ListForPayer(_ context.Context, _ string) ([]deposit.Deposit, error) {
	return nil, nil
}

type stubMessageService struct {
	posted int
}

func (s *stubMessageService) Post(_ context.Context, params message.PostParams) (message.Message, error) {
	s.posted++
	return message.Message{ID: "m1", ProjectID: params.ProjectID, SenderID: params.SenderID, ReceiverID: params.ReceiverID, Content: params.Content}, nil
}

func (s *stubMessageService) MarkRead(_ context.Context, id string) (message.Message, error) {
	return message.Message{ID: id, IsRead: true}, nil
}

func (s *stubMessageService) ListForProject(_ context.Context, _ string) ([]message.Thread, error) {
	return nil, nil
}

func (s *stubMessageService) Conversation(_ context.Context, _, _ string) ([]message.Thread, error) {
	return nil, nil
}

type stubAuthService struct{}

func (stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return nil, errors.New("not implemented")
}

func (stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{}, errors.New("not implemented")
}

func (stubAuthService) GetUserByID(_ context.Context, _ string) (*auth.User, error) {
	return nil, apperr.New(apperr.ErrNotFound, "user not found")
}

func (stubAuthService) VerifyToken(token string) (string, auth.Role, error) {
	if token != "good" {
		return "", "", apperr.New(apperr.ErrUnauthorized, "invalid token")
	}
	return "u1", auth.RoleHomeowner, nil
}

func withUser(req *http.Request, userID string, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleGetContractor_NotFound(t *testing.T) {
	server := &Server{
		authService:       stubAuthService{},
		contractorService: contractor.NewService(&stubContractorRepo{err: contractor.ErrNotFound}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/contractors/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	server.handleGetContractor(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleListContractors_Limit(t *testing.T) {
	server := &Server{
		contractorService: contractor.NewService(&stubContractorRepo{
			profiles: []contractor.Profile{
				{ID: "c1", CompanyName: "Alpha Build"},
				{ID: "c2", CompanyName: "Beta Build"},
			},
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/contractors?limit=1", nil)
	rec := httptest.NewRecorder()

	server.handleListContractors(rec, withUser(req, "u1", auth.RoleHomeowner))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []contractorResponse `json:"items"`
		Total int                  `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].ID != "c1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Items[0].Specialties == nil {
		t.Fatalf("expected empty specialties array, got null")
	}
}

func TestHandleListContractors_BadLimit(t *testing.T) {
	server := &Server{contractorService: contractor.NewService(&stubContractorRepo{})}

	req := httptest.NewRequest(http.MethodGet, "/api/contractors?limit=abc", nil)
	rec := httptest.NewRecorder()

	server.handleListContractors(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmitBid_ForbidHomeowner(t *testing.T) {
	server := &Server{}

	body := strings.NewReader(`{"projectId":"p1","amount":32000,"timeline":"6 weeks"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bids", body)
	rec := httptest.NewRecorder()

	server.handleSubmitBid(rec, withUser(req, "u1", auth.RoleHomeowner))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleSubmitBid_UsesSessionContractor(t *testing.T) {
	bids := &stubBidService{submitBid: bid.Bid{ID: "b1", ProjectID: "p1", ContractorID: "c1", Amount: 32000, Status: bid.StatusPending}}
	server := &Server{
		contractorService: contractor.NewService(&stubContractorRepo{profile: contractor.Profile{ID: "c1", UserID: "u2"}}),
		bidService:        bids,
	}

	body := strings.NewReader(`{"projectId":"p1","amount":32000,"timeline":"6 weeks"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bids", body)
	rec := httptest.NewRecorder()

	server.handleSubmitBid(rec, withUser(req, "u2", auth.RoleContractor))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if bids.submitted.ContractorID != "c1" || bids.submitted.ActorID != "u2" {
		t.Fatalf("unexpected submit params: %+v", bids.submitted)
	}
	var resp bidResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "b1" || resp.Status != "pending" {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
}

func TestHandleSubmitBid_OtherContractor(t *testing.T) {
	server := &Server{
		contractorService: contractor.NewService(&stubContractorRepo{profile: contractor.Profile{ID: "c1", UserID: "u2"}}),
		bidService:        &stubBidService{},
	}

	body := strings.NewReader(`{"projectId":"p1","contractorId":"c9","amount":32000,"timeline":"6 weeks"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bids", body)
	rec := httptest.NewRecorder()

	server.handleSubmitBid(rec, withUser(req, "u2", auth.RoleContractor))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleSubmitBid_ValidationError(t *testing.T) {
	server := &Server{
		contractorService: contractor.NewService(&stubContractorRepo{profile: contractor.Profile{ID: "c1", UserID: "u2"}}),
		bidService:        &stubBidService{submitErr: apperr.Validation("bid: amount must be positive")},
	}

	body := strings.NewReader(`{"projectId":"p1","amount":0,"timeline":"6 weeks"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bids", body)
	rec := httptest.NewRecorder()

	server.handleSubmitBid(rec, withUser(req, "u2", auth.RoleContractor))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSetBidStatus_InvalidTransition(t *testing.T) {
	bids := &stubBidService{statusErr: bid.ErrAlreadyAccepted}
	server := &Server{bidService: bids}

	req := httptest.NewRequest(http.MethodPut, "/api/bids/b2", strings.NewReader(`{"status":"accepted"}`))
	req.SetPathValue("id", "b2")
	rec := httptest.NewRecorder()

	server.handleSetBidStatus(rec, withUser(req, "owner-1", auth.RoleHomeowner))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if bids.statusCall.BidID != "b2" || bids.statusCall.ActorID != "owner-1" || bids.statusCall.Status != bid.StatusAccepted {
		t.Fatalf("unexpected set-status params: %+v", bids.statusCall)
	}
}

func TestHandleCreatePaymentIntent_ProcessorFailure(t *testing.T) {
	deposits := &stubDepositService{initiateErr: apperr.New(apperr.ErrExternalService, "stripe unavailable")}
	server := &Server{depositService: deposits}

	body := strings.NewReader(`{"bidId":"b1","projectId":"p1","contractorId":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/deposits/create-payment-intent", body)
	rec := httptest.NewRecorder()

	server.handleCreatePaymentIntent(rec, withUser(req, "owner-1", auth.RoleHomeowner))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if deposits.initiated.PayerID != "owner-1" {
		t.Fatalf("expected payer to be the session user, got %q", deposits.initiated.PayerID)
	}
}

func TestHandleConfirmPayment_Declined(t *testing.T) {
	server := &Server{
		depositService: &stubDepositService{
			confirmDep: deposit.Deposit{ID: "d1", Status: deposit.StatusFailed},
			confirmErr: deposit.ErrPaymentNotCompleted,
		},
	}

	body := strings.NewReader(`{"paymentIntentId":"pi_1","depositId":"d1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/deposits/confirm-payment", body)
	rec := httptest.NewRecorder()

	server.handleConfirmPayment(rec, withUser(req, "owner-1", auth.RoleHomeowner))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp confirmPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Message != "Payment not completed" || resp.Deposit != nil {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
}

func TestHandleConfirmPayment_Success(t *testing.T) {
	paidAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	server := &Server{
		depositService: &stubDepositService{
			confirmDep: deposit.Deposit{ID: "d1", Status: deposit.StatusCompleted, Amount: 800000, PaidAt: &paidAt},
		},
	}

	body := strings.NewReader(`{"paymentIntentId":"pi_1","depositId":"d1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/deposits/confirm-payment", body)
	rec := httptest.NewRecorder()

	server.handleConfirmPayment(rec, withUser(req, "owner-1", auth.RoleHomeowner))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp confirmPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Deposit == nil || resp.Deposit.Status != "completed" {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.Deposit.PaidAt == nil || *resp.Deposit.PaidAt != "2024-03-01T12:00:00Z" {
		t.Fatalf("unexpected paidAt: %v", resp.Deposit.PaidAt)
	}
}

func TestHandleStripeWebhook_BadSignature(t *testing.T) {
	deposits := &stubDepositService{}
	server := &Server{
		depositService: deposits,
		webhooks:       payment.NewWebhookVerifier("whsec_test"),
	}

	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()

	server.handleStripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(deposits.webhookEvents) != 0 {
		t.Fatalf("expected no events to reach the deposit service")
	}
}

func TestHandlePostMessage_RateLimited(t *testing.T) {
	messages := &stubMessageService{}
	server := &Server{
		messageService: messages,
		limiter:        ratelimit.NewMemory(),
	}

	var last int
	for i := 0; i < messageRateLimit+1; i++ {
		body := strings.NewReader(`{"projectId":"p1","receiverId":"u2","content":"hello"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/messages", body)
		rec := httptest.NewRecorder()
		server.handlePostMessage(rec, withUser(req, "u1", auth.RoleHomeowner))
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last)
	}
	if messages.posted != messageRateLimit {
		t.Fatalf("expected %d messages posted, got %d", messageRateLimit, messages.posted)
	}
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	server := &Server{authService: stubAuthService{}}
	handler := server.routes()

	cases := map[string]string{
		"missing": "",
		"invalid": "Bearer nope",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/projects/p1", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: expected a request id header", name)
		}
	}
}

func TestHandleProjectBids_Golden(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	server := &Server{
		bidService: &stubBidService{
			projectBids: []bid.ProjectListing{{
				Bid: bid.Bid{
					ID:           "b1",
					ProjectID:    "p1",
					ContractorID: "c1",
					Amount:       32000,
					Timeline:     "6 weeks",
					Status:       bid.StatusPending,
					CreatedAt:    created,
				},
				Contractor: bid.ContractorSummary{
					ID:          "c1",
					CompanyName: "Oakline Builders",
					Rating:      4.5,
					ReviewCount: 12,
					Specialties: []string{"kitchens", "decks"},
					UserID:      "u1",
					FirstName:   "Dana",
					LastName:    "Reyes",
					Username:    "dreyes",
				},
			}},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/bids", nil)
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()

	server.handleProjectBids(rec, withUser(req, "owner-1", auth.RoleHomeowner))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "project_bids", rec.Body.Bytes())
}

func TestHandleUserProjects_BareArray(t *testing.T) {
	projects := &stubProjectService{projects: []project.Project{
		{ID: "p1", OwnerID: "owner-1", Title: "Deck", Status: project.StatusPosted},
		{ID: "p2", OwnerID: "owner-1", Title: "Roof", Status: project.StatusAwarded},
	}}
	server := &Server{authService: stubAuthService{}, projectService: projects}

	req := httptest.NewRequest(http.MethodGet, "/api/users/owner-1/projects", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if projects.ownerID != "owner-1" {
		t.Fatalf("expected owner filter owner-1, got %q", projects.ownerID)
	}
	var resp []projectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected a bare array: %v", err)
	}
	if len(resp) != 2 || resp[0].ID != "p1" || resp[1].ID != "p2" {
		t.Fatalf("unexpected projects: %+v", resp)
	}
}

func TestListings_RenderBareArrays(t *testing.T) {
	server := &Server{
		bidService:     &stubBidService{},
		depositService: &stubDepositService{},
		messageService: &stubMessageService{},
	}
	cases := map[string]struct {
		handler http.HandlerFunc
		path    map[string]string
	}{
		"project bids":        {server.handleProjectBids, map[string]string{"id": "p1"}},
		"project messages":    {server.handleProjectMessages, map[string]string{"id": "p1"}},
		"conversation":        {server.handleConversation, map[string]string{"a": "u1", "b": "u2"}},
		"deposits by project": {server.handleDepositsByProject, map[string]string{"id": "p1"}},
		"deposits by payer":   {server.handleDepositsByPayer, map[string]string{"id": "u1"}},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range tc.path {
			req.SetPathValue(k, v)
		}
		rec := httptest.NewRecorder()

		tc.handler(rec, withUser(req, "u1", auth.RoleHomeowner))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Fatalf("%s: expected empty bare array, got %s", name, got)
		}
	}
}

func TestHandleGetProject_MissingIsNotFound(t *testing.T) {
	server := &Server{authService: stubAuthService{}, projectService: &stubProjectService{}}

	req := httptest.NewRequest(http.MethodGet, "/api/projects/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()

	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{bid.ErrAlreadyAccepted, http.StatusBadRequest},
		{deposit.ErrNotFound, http.StatusNotFound},
		{deposit.ErrDuplicateIntent, http.StatusConflict},
		{apperr.New(apperr.ErrForbidden, "nope"), http.StatusForbidden},
		{apperr.New(apperr.ErrExternalService, "down"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
