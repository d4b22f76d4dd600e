package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/auth"
	"bidflow/bid"
	"bidflow/contractor"
	"bidflow/db"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/outbox"
	"bidflow/payment"
	"bidflow/project"
	"bidflow/timeline"
)

// ErrNoDatabase means neither a DSN, docker nor a local Postgres is available.
var ErrNoDatabase = errors.New("no postgres available")

// Harness owns the database for a test run and the services wired over it,
// using the in-memory sandbox as payment processor.
type Harness struct {
	Pool        *pgxpool.Pool
	DSN         string
	Sandbox     *payment.Sandbox
	Auth        *auth.Service
	Contractors *contractor.Service
	Projects    *project.Service
	Bids        *bid.Service
	Deposits    *deposit.Service
	Messages    *message.Service
	Timeline    *timeline.Store
	Relay       *outbox.Relay

	container *PGContainer
	teardown  func(context.Context) error
}

// NewHarness picks a database in this order: dsn, STRESS_TEST_PG_DSN, a
// docker container, a local server.
func NewHarness(ctx context.Context, dsn string, maxConns int32) (*Harness, error) {
	h := &Harness{}
	shared := false

	switch {
	case dsn != "":
		shared = true
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		shared = true
	case DockerAvailable(ctx):
		c, containerDSN, err := StartPostgres16(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
		h.container, dsn = c, containerDSN
	default:
		localDSN, err := InitLocalDatabase(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDatabase, err)
		}
		dsn = localDSN
	}

	scoped, teardown, err := PrepareSchema(ctx, dsn, shared)
	if err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("prepare schema: %w", err)
	}
	h.DSN, h.teardown = scoped, teardown

	pool, err := db.NewPool(ctx, scoped, db.PoolOptions{MaxConns: maxConns})
	if err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}
	h.Pool = pool
	h.wire()
	return h, nil
}

func (h *Harness) wire() {
	h.Sandbox = payment.NewSandbox()
	h.Timeline = timeline.NewStore(h.Pool)
	writer := outbox.NewWriter()
	projects := project.NewRepository(h.Pool)
	bids := bid.NewRepository(h.Pool)

	h.Auth = auth.NewService(auth.NewRepository(h.Pool), "stress-secret")
	h.Contractors = contractor.NewService(contractor.NewRepository(h.Pool))
	h.Projects = project.NewService(h.Pool, projects, h.Timeline)
	h.Bids = bid.NewService(h.Pool, bids, projects, h.Timeline, writer)
	h.Deposits = deposit.NewService(h.Pool, deposit.NewRepository(h.Pool), bids, projects, h.Sandbox, h.Timeline, writer)
	h.Messages = message.NewService(message.NewRepository(h.Pool))
	h.Relay = outbox.NewRelay(h.Pool, outbox.LogPublisher{Logger: slog.Default()}, slog.Default())
}

// Reset empties every mutable table.
func (h *Harness) Reset(ctx context.Context) error {
	_, err := h.Pool.Exec(ctx, `TRUNCATE TABLE webhook_events, outbox, timeline_events, messages, deposits, bids, projects, contractors, users CASCADE`)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Close tears down the pool, the isolated schema and the container.
func (h *Harness) Close(ctx context.Context) {
	if h.Pool != nil {
		h.Pool.Close()
	}
	if h.teardown != nil {
		if err := h.teardown(ctx); err != nil {
			slog.Warn("stress teardown", "err", err)
		}
	}
	_ = h.container.Terminate(ctx)
}
