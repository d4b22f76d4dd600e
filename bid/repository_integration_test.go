package bid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
)

// TestAcceptedIndex_Integration connects to a migrated PostgreSQL via
// DATABASE_URL and checks that the store itself refuses a second accepted bid.
func TestAcceptedIndex_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "bids") {
		t.Skip("database schema missing; run: bidflow migrate up")
	}

	stamp := time.Now().UnixNano()
	var ownerID, contractorUserID, contractorID, projectID string
	seed := func(dst *string, query string, args ...any) {
		t.Helper()
		if err := pool.QueryRow(ctx, query, args...).Scan(dst); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(&ownerID, `INSERT INTO users (username, email, first_name, last_name, password_hash, user_type)
        VALUES ($1, $2, 'Ida', 'Owner', 'x', 'homeowner') RETURNING id`,
		fmt.Sprintf("owner%d", stamp), fmt.Sprintf("owner+%d@example.com", stamp))
	seed(&contractorUserID, `INSERT INTO users (username, email, first_name, last_name, password_hash, user_type)
        VALUES ($1, $2, 'Cal', 'Builder', 'x', 'contractor') RETURNING id`,
		fmt.Sprintf("builder%d", stamp), fmt.Sprintf("builder+%d@example.com", stamp))
	seed(&contractorID, `INSERT INTO contractors (user_id, company_name) VALUES ($1, 'Cal Builds') RETURNING id`, contractorUserID)
	seed(&projectID, `INSERT INTO projects (owner_id, title, description, category, location)
        VALUES ($1, 'Roof', 'Replace shingles', 'roofing', 'Denver') RETURNING id`, ownerID)

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM bids WHERE project_id = $1`, projectID)
		pool.Exec(ctx2, `DELETE FROM projects WHERE id = $1`, projectID)
		pool.Exec(ctx2, `DELETE FROM contractors WHERE id = $1`, contractorID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, ownerID, contractorUserID)
	})

	repo := NewRepository(pool)
	create := func(amount int64) Bid {
		t.Helper()
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback(ctx)
		b, err := repo.Create(ctx, tx, Bid{ProjectID: projectID, ContractorID: contractorID, Amount: amount, Timeline: "3 weeks", Status: StatusPending})
		if err != nil {
			t.Fatalf("create bid: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		return b
	}
	first, second := create(9000), create(9500)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, tx, first.ID, StatusPending, StatusAccepted); err != nil {
		t.Fatalf("accept first: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit first: %v", err)
	}

	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = repo.UpdateStatus(ctx, tx, second.ID, StatusPending, StatusAccepted)
	tx.Rollback(ctx)
	if !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}

	// MarkAccepted on the already accepted bid is a no-op.
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	got, changed, err := repo.MarkAccepted(ctx, tx, first.ID)
	tx.Rollback(ctx)
	if err != nil || changed || got.Status != StatusAccepted {
		t.Fatalf("unexpected MarkAccepted result: bid=%+v changed=%v err=%v", got, changed, err)
	}

	reloaded, err := repo.GetByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("reload second: %v", err)
	}
	if reloaded.Status != StatusPending {
		t.Fatalf("expected second bid to stay pending, got %s", reloaded.Status)
	}
}

// TestMalformedIDs_Integration checks that ids PostgreSQL cannot parse read
// as missing rows or bad input instead of surfacing as store failures.
func TestMalformedIDs_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "bids") {
		t.Skip("database schema missing; run: bidflow migrate up")
	}

	repo := NewRepository(pool)
	if _, err := repo.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
	listed, err := repo.ListForProject(ctx, "not-a-uuid")
	if err != nil || len(listed) != 0 {
		t.Fatalf("expected empty listing, got %v, %v", listed, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	_, err = repo.Create(ctx, tx, Bid{ProjectID: "abc", ContractorID: "def", Amount: 100, Timeline: "1 week", Status: StatusPending})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for malformed references, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
