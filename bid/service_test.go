package bid

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidflow/apperr"
	"bidflow/outbox"
	"bidflow/project"
	"bidflow/timeline"
)

func TestSubmit_CreatesPendingBid(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", OwnerID: "owner", Status: project.StatusPosted}

	b, err := env.svc.Submit(context.Background(), SubmitParams{
		ProjectID:    "p1",
		ContractorID: "c1",
		Amount:       32000,
		Timeline:     " 6 weeks ",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, "6 weeks", b.Timeline)
	assert.Equal(t, project.StatusPosted, env.projects.items["p1"].Status, "submitting must not move the project")
	assert.True(t, env.pool.tx.committed)
	assert.Equal(t, []string{timeline.EventBidSubmitted}, env.timeline.events)
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", Status: project.StatusBidding}

	cases := map[string]SubmitParams{
		"zero amount":      {ProjectID: "p1", ContractorID: "c1", Amount: 0, Timeline: "2w"},
		"negative amount":  {ProjectID: "p1", ContractorID: "c1", Amount: -5, Timeline: "2w"},
		"blank timeline":   {ProjectID: "p1", ContractorID: "c1", Amount: 10, Timeline: "   "},
		"missing project":  {ProjectID: "nope", ContractorID: "c1", Amount: 10, Timeline: "2w"},
		"blank contractor": {ProjectID: "p1", Amount: 10, Timeline: "2w"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Submit(context.Background(), params)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestSubmit_ClosedProject(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", Status: project.StatusAwarded}

	_, err := env.svc.Submit(context.Background(), SubmitParams{ProjectID: "p1", ContractorID: "c1", Amount: 10, Timeline: "2w"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Empty(t, env.repo.bids)
}

func TestSetStatus_AcceptAwardsProject(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", OwnerID: "owner", Status: project.StatusBidding}
	env.repo.bids["b1"] = Bid{ID: "b1", ProjectID: "p1", ContractorID: "c1", Amount: 100, Status: StatusPending}

	b, err := env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: StatusAccepted, ActorID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, b.Status)
	assert.Equal(t, project.StatusAwarded, env.projects.items["p1"].Status)
	assert.True(t, env.pool.tx.committed)
	assert.Equal(t, []string{timeline.EventBidAccepted}, env.timeline.events)
	assert.Equal(t, []string{outbox.TopicBidAccepted}, env.outbox.topics)
}

func TestSetStatus_RejectLeavesProject(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", OwnerID: "owner", Status: project.StatusBidding}
	env.repo.bids["b1"] = Bid{ID: "b1", ProjectID: "p1", Status: StatusPending}

	b, err := env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, b.Status)
	assert.Equal(t, project.StatusBidding, env.projects.items["p1"].Status)
	assert.Empty(t, env.outbox.topics)
}

func TestSetStatus_OnlyFromPending(t *testing.T) {
	for _, from := range []Status{StatusAccepted, StatusRejected} {
		for _, to := range []Status{StatusAccepted, StatusRejected} {
			env := newTestEnv()
			env.projects.items["p1"] = project.Project{ID: "p1", Status: project.StatusAwarded}
			env.repo.bids["b1"] = Bid{ID: "b1", ProjectID: "p1", Status: from}

			_, err := env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: to})
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s -> %s", from, to)
			assert.Equal(t, from, env.repo.bids["b1"].Status)
			assert.False(t, env.pool.tx.committed)
		}
	}
}

func TestSetStatus_SecondAcceptRejected(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", OwnerID: "owner", Status: project.StatusBidding}
	env.repo.bids["b1"] = Bid{ID: "b1", ProjectID: "p1", Status: StatusPending}
	env.repo.bids["b2"] = Bid{ID: "b2", ProjectID: "p1", Status: StatusPending}

	_, err := env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: StatusAccepted})
	require.NoError(t, err)

	_, err = env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b2", Status: StatusAccepted})
	assert.ErrorIs(t, err, ErrAlreadyAccepted)
	assert.Equal(t, StatusPending, env.repo.bids["b2"].Status, "siblings are not auto-rejected")
}

func TestSetStatus_Errors(t *testing.T) {
	env := newTestEnv()
	env.projects.items["p1"] = project.Project{ID: "p1", OwnerID: "owner", Status: project.StatusBidding}
	env.repo.bids["b1"] = Bid{ID: "b1", ProjectID: "p1", Status: StatusPending}

	_, err := env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: "withdrawn"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "missing", Status: StatusAccepted})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: StatusAccepted, ActorID: "stranger"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, StatusPending, env.repo.bids["b1"].Status)
}

func TestSetStatus_StrangerCannotSeeDecidedStatus(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusAccepted, StatusRejected} {
		env := newTestEnv()
		env.projects.items["p1"] = project.Project{ID: "p1", OwnerID: "owner", Status: project.StatusAwarded}
		env.repo.bids["b1"] = Bid{ID: "b1", ProjectID: "p1", Status: from}

		_, err := env.svc.SetStatus(context.Background(), SetStatusParams{BidID: "b1", Status: StatusRejected, ActorID: "stranger"})
		assert.ErrorIs(t, err, ErrNotProjectOwner, "from %s", from)
		assert.NotErrorIs(t, err, apperr.ErrInvalidTransition, "from %s", from)
		assert.NotContains(t, apperr.Message(err), string(from))
	}
}

func TestListForProject_UnknownProject(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.ListForProject(context.Background(), "ghost")
	assert.ErrorIs(t, err, project.ErrNotFound)
}

type testEnv struct {
	svc      *Service
	pool     *fakePool
	repo     *fakeRepo
	projects *fakeProjects
	timeline *fakeTimeline
	outbox   *fakeOutbox
}

func newTestEnv() *testEnv {
	env := &testEnv{
		pool:     &fakePool{},
		repo:     &fakeRepo{bids: map[string]Bid{}},
		projects: &fakeProjects{items: map[string]project.Project{}},
		timeline: &fakeTimeline{},
		outbox:   &fakeOutbox{},
	}
	env.svc = NewService(env.pool, env.repo, env.projects, env.timeline, env.outbox)
	n := 0
	env.svc.WithIDGenerator(func() string {
		n++
		return "generated-" + string(rune('a'+n))
	})
	return env
}

type fakeRepo struct {
	bids map[string]Bid
}

func (f *fakeRepo) Create(_ context.Context, _ pgx.Tx, b Bid) (Bid, error) {
	f.bids[b.ID] = b
	return b, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (Bid, error) {
	b, ok := f.bids[id]
	if !ok {
		return Bid{}, ErrNotFound
	}
	return b, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Bid, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRepo) HasAccepted(_ context.Context, _ pgx.Tx, projectID string) (bool, error) {
	for _, b := range f.bids {
		if b.ProjectID == projectID && b.Status == StatusAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, from, to Status) (Bid, error) {
	b, ok := f.bids[id]
	if !ok || b.Status != from {
		return Bid{}, ErrStaleStatus
	}
	b.Status = to
	f.bids[id] = b
	return b, nil
}

func (f *fakeRepo) ListForProject(_ context.Context, projectID string) ([]ProjectListing, error) {
	var out []ProjectListing
	for _, b := range f.bids {
		if b.ProjectID == projectID {
			out = append(out, ProjectListing{Bid: b})
		}
	}
	return out, nil
}

func (f *fakeRepo) ListForContractor(_ context.Context, contractorID string) ([]ContractorListing, error) {
	var out []ContractorListing
	for _, b := range f.bids {
		if b.ContractorID == contractorID {
			out = append(out, ContractorListing{Bid: b})
		}
	}
	return out, nil
}

type fakeProjects struct {
	items map[string]project.Project
}

func (f *fakeProjects) GetByID(_ context.Context, id string) (project.Project, error) {
	p, ok := f.items[id]
	if !ok {
		return project.Project{}, project.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjects) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (project.Project, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeProjects) MarkAwarded(_ context.Context, _ pgx.Tx, id string) (project.Project, bool, error) {
	p, ok := f.items[id]
	if !ok {
		return project.Project{}, false, project.ErrNotFound
	}
	if !p.Status.AcceptsBids() {
		return p, false, nil
	}
	p.Status = project.StatusAwarded
	f.items[id] = p
	return p, true, nil
}

type fakeTimeline struct {
	events []string
}

func (f *fakeTimeline) Append(_ context.Context, _ pgx.Tx, _, eventType, _ string, _ map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
