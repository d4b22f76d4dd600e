package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"bidflow/apperr"
	"bidflow/auth"
	"bidflow/bid"
	"bidflow/contractor"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/project"
)

const maxWebhookBody = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Auth

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

// Contractors

func (s *Server) handleListContractors(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	profiles, err := s.contractorService.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": mapSlice(profiles, toContractorResponse),
		"total": len(profiles),
	})
}

func (s *Server) handleCreateContractor(w http.ResponseWriter, r *http.Request) {
	if roleFromContext(r.Context()) != auth.RoleContractor {
		writeError(w, http.StatusForbidden, "only contractor accounts can create a contractor profile")
		return
	}
	var req contractorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	params := contractor.CreateParams{
		UserID:          userIDFromContext(r.Context()),
		Description:     req.Description,
		Specialties:     req.Specialties,
		ExperienceYears: req.ExperienceYears,
		Licenses:        req.Licenses,
	}
	if req.CompanyName != nil {
		params.CompanyName = *req.CompanyName
	}
	if req.Insured != nil {
		params.Insured = *req.Insured
	}
	profile, err := s.contractorService.Create(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractorResponse(profile))
}

func (s *Server) handleGetContractor(w http.ResponseWriter, r *http.Request) {
	profile, err := s.contractorService.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := toContractorResponse(profile)
	user, err := s.authService.GetUserByID(r.Context(), profile.UserID)
	switch {
	case err == nil:
		u := toUserResponse(*user)
		resp.User = &u
	case !errors.Is(err, apperr.ErrNotFound):
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateContractor(w http.ResponseWriter, r *http.Request) {
	var req contractorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	profile, err := s.contractorService.Update(r.Context(), userIDFromContext(r.Context()), contractor.UpdateParams{
		ID:              r.PathValue("id"),
		CompanyName:     req.CompanyName,
		Description:     req.Description,
		Specialties:     req.Specialties,
		ExperienceYears: req.ExperienceYears,
		Licenses:        req.Licenses,
		Insured:         req.Insured,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractorResponse(profile))
}

func (s *Server) handleContractorBids(w http.ResponseWriter, r *http.Request) {
	listings, err := s.bidService.ListForContractor(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(listings, toContractorBidResponse))
}

// Projects

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(r, "page")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.projectService.List(r.Context(), project.Filters{
		OwnerID:   q.Get("homeownerId"),
		Status:    project.Status(q.Get("status")),
		Category:  q.Get("category"),
		Page:      page,
		PageSize:  pageSize,
		SortKey:   q.Get("sortKey"),
		SortOrder: q.Get("sortOrder"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": mapSlice(res.Items, toProjectResponse),
		"total": res.Total,
	})
}

func (s *Server) handleUserProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projectService.ListByOwner(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(projects, toProjectResponse))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if roleFromContext(r.Context()) != auth.RoleHomeowner {
		writeError(w, http.StatusForbidden, "only homeowners can post projects")
		return
	}
	var req projectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	params := project.CreateParams{
		OwnerID:   userIDFromContext(r.Context()),
		BudgetMin: req.BudgetMin,
		BudgetMax: req.BudgetMax,
		Timeline:  req.Timeline,
	}
	params.Title = deref(req.Title)
	params.Description = deref(req.Description)
	params.Category = deref(req.Category)
	params.Location = deref(req.Location)
	if req.DepositPercentage != nil {
		params.DepositPercentage = *req.DepositPercentage
	}

	p, err := s.projectService.Create(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projectService.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	p, err := s.projectService.UpdateDetails(r.Context(), project.UpdateParams{
		ProjectID:         r.PathValue("id"),
		ActorID:           userIDFromContext(r.Context()),
		Title:             req.Title,
		Description:       req.Description,
		Category:          req.Category,
		BudgetMin:         req.BudgetMin,
		BudgetMax:         req.BudgetMax,
		Timeline:          req.Timeline,
		Location:          req.Location,
		DepositPercentage: req.DepositPercentage,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (s *Server) handleProjectBids(w http.ResponseWriter, r *http.Request) {
	listings, err := s.bidService.ListForProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(listings, toProjectBidResponse))
}

func (s *Server) handleProjectMessages(w http.ResponseWriter, r *http.Request) {
	threads, err := s.messageService.ListForProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(threads, toThreadResponse))
}

func (s *Server) handleProjectTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.timeline.ListByProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toTimelineEventResponse))
}

// Bids

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	if roleFromContext(r.Context()) != auth.RoleContractor {
		writeError(w, http.StatusForbidden, "only contractors can submit bids")
		return
	}
	var req submitBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	userID := userIDFromContext(r.Context())
	profile, err := s.contractorService.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusForbidden, "a contractor profile is required to bid")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	if req.ContractorID != "" && req.ContractorID != profile.ID {
		writeError(w, http.StatusForbidden, "cannot bid on behalf of another contractor")
		return
	}

	b, err := s.bidService.Submit(r.Context(), bid.SubmitParams{
		ProjectID:    req.ProjectID,
		ContractorID: profile.ID,
		Amount:       req.Amount,
		Timeline:     req.Timeline,
		Description:  req.Description,
		ActorID:      userID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBidResponse(b))
}

func (s *Server) handleSetBidStatus(w http.ResponseWriter, r *http.Request) {
	var req setBidStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	b, err := s.bidService.SetStatus(r.Context(), bid.SetStatusParams{
		BidID:   r.PathValue("id"),
		Status:  bid.Status(req.Status),
		ActorID: userIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBidResponse(b))
}

// Deposits

func (s *Server) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.depositService.Initiate(r.Context(), deposit.InitiateParams{
		BidID:        req.BidID,
		ProjectID:    req.ProjectID,
		ContractorID: req.ContractorID,
		PayerID:      userIDFromContext(r.Context()),
		Description:  req.Description,
		Amount:       req.Amount,
		ActorID:      userIDFromContext(r.Context()),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrExternalService) {
			s.log().ErrorContext(r.Context(), "create payment intent", "err", err)
			writeError(w, http.StatusInternalServerError, "Error creating payment intent: "+apperr.Message(err))
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createIntentResponse{
		ClientSecret: res.ClientSecret,
		DepositID:    res.DepositID,
		Amount:       res.Amount,
	})
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	d, err := s.depositService.Confirm(r.Context(), deposit.ConfirmParams{
		PaymentIntentID: req.PaymentIntentID,
		DepositID:       req.DepositID,
		ActorID:         userIDFromContext(r.Context()),
	})
	switch {
	case err == nil:
		resp := toDepositResponse(d)
		writeJSON(w, http.StatusOK, confirmPaymentResponse{Success: true, Deposit: &resp})
	case errors.Is(err, deposit.ErrPaymentNotCompleted):
		writeJSON(w, http.StatusBadRequest, confirmPaymentResponse{Success: false, Message: apperr.Message(err)})
	case errors.Is(err, apperr.ErrExternalService):
		s.log().ErrorContext(r.Context(), "confirm payment", "err", err)
		writeError(w, http.StatusInternalServerError, "Error confirming payment: "+apperr.Message(err))
	default:
		s.writeServiceError(w, r, err)
	}
}

func (s *Server) handleDepositsByProject(w http.ResponseWriter, r *http.Request) {
	s.writeDeposits(w, r, s.depositService.ListForProject)
}

func (s *Server) handleDepositsByContractor(w http.ResponseWriter, r *http.Request) {
	s.writeDeposits(w, r, s.depositService.ListForContractor)
}

func (s *Server) handleDepositsByPayer(w http.ResponseWriter, r *http.Request) {
	s.writeDeposits(w, r, s.depositService.ListForPayer)
}

func (s *Server) writeDeposits(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, id string) ([]deposit.Deposit, error)) {
	deposits, err := list(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(deposits, toDepositResponse))
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	ev, err := s.webhooks.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.Message(err))
		return
	}
	if err := s.depositService.HandleWebhook(r.Context(), ev); err != nil {
		s.log().ErrorContext(r.Context(), "handle webhook", "event_id", ev.ID, "type", ev.Type, "err", err)
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleSandboxSettle stands in for the hosted payment page when the server
// runs without a real processor.
func (s *Server) handleSandboxSettle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Succeeded bool `json:"succeeded"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := s.sandbox.Settle(id, req.Succeeded); err != nil {
		writeError(w, http.StatusNotFound, apperr.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "succeeded": req.Succeeded})
}

// Messages

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	senderID := userIDFromContext(r.Context())
	if s.limiter != nil {
		key := fmt.Sprintf("messages:%s:%s", req.ProjectID, senderID)
		if !s.limiter.Allow(r.Context(), key, messageRateLimit, messageRateWindow) {
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
	}
	m, err := s.messageService.Post(r.Context(), message.PostParams{
		ProjectID:  req.ProjectID,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

func (s *Server) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	m, err := s.messageService.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	threads, err := s.messageService.Conversation(r.Context(), r.PathValue("a"), r.PathValue("b"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(threads, toThreadResponse))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validationf("invalid value of %q query parameter: %s", key, raw)
	}
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
