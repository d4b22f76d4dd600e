package main

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"bidflow/auth"
	"bidflow/bid"
	"bidflow/contractor"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/payment"
	"bidflow/project"
	"bidflow/ratelimit"
	"bidflow/timeline"
)

type ctxKey string

const (
	ctxKeyUserID    ctxKey = "userID"
	ctxKeyRole      ctxKey = "role"
	ctxKeyRequestID ctxKey = "requestID"
)

const (
	messageRateLimit  = 5
	messageRateWindow = 10 * time.Second
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type contractorService interface {
	Create(ctx context.Context, params contractor.CreateParams) (contractor.Profile, error)
	GetByID(ctx context.Context, id string) (contractor.Profile, error)
	GetByUserID(ctx context.Context, userID string) (contractor.Profile, error)
	List(ctx context.Context, limit int) ([]contractor.Profile, error)
	Update(ctx context.Context, actorID string, params contractor.UpdateParams) (contractor.Profile, error)
}

type projectService interface {
	Create(ctx context.Context, params project.CreateParams) (project.Project, error)
	GetByID(ctx context.Context, id string) (project.Project, error)
	List(ctx context.Context, filters project.Filters) (project.ListResult, error)
	ListByOwner(ctx context.Context, ownerID string) ([]project.Project, error)
	UpdateDetails(ctx context.Context, params project.UpdateParams) (project.Project, error)
}

type bidService interface {
	Submit(ctx context.Context, params bid.SubmitParams) (bid.Bid, error)
	SetStatus(ctx context.Context, params bid.SetStatusParams) (bid.Bid, error)
	ListForProject(ctx context.Context, projectID string) ([]bid.ProjectListing, error)
	ListForContractor(ctx context.Context, contractorID string) ([]bid.ContractorListing, error)
}

type depositService interface {
	Initiate(ctx context.Context, params deposit.InitiateParams) (deposit.InitiateResult, error)
	Confirm(ctx context.Context, params deposit.ConfirmParams) (deposit.Deposit, error)
	HandleWebhook(ctx context.Context, ev payment.Event) error
	ListForProject(ctx context.Context, projectID string) ([]deposit.Deposit, error)
	ListForContractor(ctx context.Context, contractorID string) ([]deposit.Deposit, error)
	ListForPayer(ctx context.Context, payerID string) ([]deposit.Deposit, error)
}

type messageService interface {
	Post(ctx context.Context, params message.PostParams) (message.Message, error)
	MarkRead(ctx context.Context, id string) (message.Message, error)
	ListForProject(ctx context.Context, projectID string) ([]message.Thread, error)
	Conversation(ctx context.Context, userA, userB string) ([]message.Thread, error)
}

type timelineReader interface {
	ListByProject(ctx context.Context, projectID string) ([]timeline.Event, error)
}

type webhookParser interface {
	Parse(payload []byte, signatureHeader string) (payment.Event, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService       authService
	contractorService contractorService
	projectService    projectService
	bidService        bidService
	depositService    depositService
	messageService    messageService
	timeline          timelineReader
	webhooks          webhookParser
	limiter           ratelimit.Limiter
	sandbox           *payment.Sandbox
	logger            *slog.Logger
	requestTimeout    time.Duration
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/stripe-webhook", s.handleStripeWebhook)

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireAuth(h))
	}

	protected("GET /api/users/{id}", s.handleGetUser)
	protected("GET /api/users/{id}/projects", s.handleUserProjects)
	protected("GET /api/users/{a}/messages/{b}", s.handleConversation)

	protected("GET /api/contractors", s.handleListContractors)
	protected("POST /api/contractors", s.handleCreateContractor)
	protected("GET /api/contractors/{id}", s.handleGetContractor)
	protected("PUT /api/contractors/{id}", s.handleUpdateContractor)
	protected("GET /api/contractors/{id}/bids", s.handleContractorBids)

	protected("GET /api/projects", s.handleListProjects)
	protected("POST /api/projects", s.handleCreateProject)
	protected("GET /api/projects/{id}", s.handleGetProject)
	protected("PUT /api/projects/{id}", s.handleUpdateProject)
	protected("GET /api/projects/{id}/bids", s.handleProjectBids)
	protected("GET /api/projects/{id}/messages", s.handleProjectMessages)
	protected("GET /api/projects/{id}/timeline", s.handleProjectTimeline)

	protected("POST /api/bids", s.handleSubmitBid)
	protected("PUT /api/bids/{id}", s.handleSetBidStatus)

	protected("POST /api/deposits/create-payment-intent", s.handleCreatePaymentIntent)
	protected("POST /api/deposits/confirm-payment", s.handleConfirmPayment)
	protected("GET /api/deposits/project/{id}", s.handleDepositsByProject)
	protected("GET /api/deposits/contractor/{id}", s.handleDepositsByContractor)
	protected("GET /api/deposits/payer/{id}", s.handleDepositsByPayer)

	if s.sandbox != nil {
		protected("POST /api/sandbox/payment-intents/{id}/settle", s.handleSandboxSettle)
	}

	protected("POST /api/messages", s.handlePostMessage)
	protected("PUT /api/messages/{id}/read", s.handleMarkMessageRead)

	var h http.Handler = mux
	h = s.withTimeout(h)
	h = s.withRecover(h)
	h = s.withRequestLog(h)
	return h
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.requestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log().ErrorContext(r.Context(), "panic in handler", "panic", rec, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.log().InfoContext(ctx, "http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func userIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func roleFromContext(ctx context.Context) auth.Role {
	v, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return v
}
