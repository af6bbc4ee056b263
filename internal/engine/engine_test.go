package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/identity"
	"signoff/internal/migrate"
	"signoff/internal/notify"
	"signoff/internal/policy"
	"signoff/internal/query"
	"signoff/internal/repo"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Dispatch(_ context.Context, approverID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, approverID+"/"+requestID)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Dir    *identity.Directory
	Sent   *recorder
	clock  time.Time
}

func (env *testEnv) advance(d time.Duration) { env.clock = env.clock.Add(d) }

func (env *testEnv) person(t *testing.T, id string) domain.Identity {
	t.Helper()
	p, ok := env.Dir.Lookup(id)
	require.True(t, ok, "unknown person %s", id)
	return p
}

func newTestEnv(t *testing.T, store repo.Store) *testEnv {
	t.Helper()
	if store == nil {
		conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		if err := migrate.Migrate(context.Background(), conn, dialect); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		store = repo.Repo{DB: conn, Dialect: dialect}
	}
	cfg := config.Default()
	dir := identity.NewDirectory(cfg.Directory.People, cfg.Directory.Departments)
	env := &testEnv{
		Ctx:   context.Background(),
		Dir:   dir,
		Sent:  &recorder{},
		clock: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	env.Engine = engine.Engine{
		Store:    store,
		Policy:   policy.FromConfig(cfg, dir),
		Notifier: env.Sent,
		Cooldown: notify.NewCooldown(time.Hour),
		Views:    query.Selector{AllRoles: cfg.Views.AllRoles},
		Now:      func() time.Time { return env.clock },
	}
	return env
}

func (env *testEnv) leave(t *testing.T, title string) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateOptions{
		Type:        domain.TypeLeaveRequest,
		Title:       title,
		Description: "Family trip",
		Requester:   env.person(t, "emp-1"),
		Fields:      domain.Fields{StartDate: "2024-04-01", EndDate: "2024-04-05"},
	})
	require.NoError(t, err)
	return req
}

func (env *testEnv) equipment(t *testing.T, title string) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateOptions{
		Type:        domain.TypeEquipmentRequest,
		Title:       title,
		Description: "Hardware refresh",
		Requester:   env.person(t, "emp-2"),
		Urgency:     domain.UrgencyHigh,
	})
	require.NoError(t, err)
	return req
}

func todoIDs(t *testing.T, env *testEnv, viewer string) []string {
	t.Helper()
	p := env.person(t, viewer)
	res, err := env.Engine.ListRequests(env.Ctx, engine.ListOptions{
		Query: query.Query{ViewerID: p.ID, ViewerRole: p.Role, View: query.ViewTodo},
	})
	require.NoError(t, err)
	var ids []string
	for _, r := range res.Items {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestLeaveRequestLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	req := env.leave(t, "Spring break")
	require.Len(t, req.Chain, 2)
	assert.Equal(t, domain.StepPending, req.Chain[0].Status)
	assert.Equal(t, domain.StepWaiting, req.Chain[1].Status)
	assert.Equal(t, domain.RequestPending, req.Status())
	assert.Equal(t, "mgr-1", req.CurrentApprover().ID)
	assert.Equal(t, []string{"mgr-1/" + req.ID}, env.Sent.all())

	env.advance(43 * time.Hour)
	req, err := env.Engine.ApproveStep(env.Ctx, req.ID, req.Chain[0].ID, "mgr-1", "enjoy")
	require.NoError(t, err)
	assert.Equal(t, domain.StepPending, req.Chain[1].Status)
	require.NotNil(t, req.Chain[1].AssignedAt)
	assert.Equal(t, domain.RequestPending, req.Status())
	assert.Equal(t, "hr-1", req.CurrentApprover().ID)
	assert.Equal(t, int64(2), req.Version)
	assert.Contains(t, env.Sent.all(), "hr-1/"+req.ID)

	env.advance(time.Hour)
	req, err = env.Engine.RejectStep(env.Ctx, req.ID, req.Chain[1].ID, "hr-1", "budget")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestRejected, req.Status())
	assert.Nil(t, req.CurrentApprover())
	assert.Equal(t, "budget", req.Chain[1].Comments)

	stored, err := env.Engine.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestRejected, stored.Status())
	taken, ok := stored.Chain[0].TimeTaken()
	require.True(t, ok)
	assert.Equal(t, 43*time.Hour, taken)

	hr := env.person(t, "hr-1")
	done, err := env.Engine.ListRequests(env.Ctx, engine.ListOptions{
		Query: query.Query{ViewerID: hr.ID, ViewerRole: hr.Role, View: query.ViewDone},
	})
	require.NoError(t, err)
	require.Len(t, done.Items, 1)
	assert.Equal(t, req.ID, done.Items[0].ID)

	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range history {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		domain.EventRequestCreated,
		domain.EventStepApproved,
		domain.EventStepActivated,
		domain.EventStepRejected,
		domain.EventRequestRejected,
	}, types)
}

func TestSingleStepApprovalCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.equipment(t, "Laptop")
	require.Len(t, req.Chain, 1)

	req, err := env.Engine.ApproveStep(env.Ctx, req.ID, req.Chain[0].ID, "mgr-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestApproved, req.Status())
	assert.Nil(t, req.CurrentApprover())

	// approving twice is not idempotent
	_, err = env.Engine.ApproveStep(env.Ctx, req.ID, req.Chain[0].ID, "mgr-1", "")
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.StepApproved, invalid.From)
}

func TestTodoEmptiesAfterApprovals(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.equipment(t, "Monitor")
	env.advance(time.Minute)
	b := env.leave(t, "Long weekend")
	env.advance(time.Minute)
	other := env.equipment(t, "Headset")

	assert.ElementsMatch(t, []string{a.ID, b.ID, other.ID}, todoIDs(t, env, "mgr-1"))
	assert.Empty(t, todoIDs(t, env, "hr-1"))

	for _, r := range []domain.Request{a, b, other} {
		_, err := env.Engine.ApproveStep(env.Ctx, r.ID, r.Chain[0].ID, "mgr-1", "ok")
		require.NoError(t, err)
	}
	assert.Empty(t, todoIDs(t, env, "mgr-1"))
	assert.Equal(t, []string{b.ID}, todoIDs(t, env, "hr-1"))
}

func TestSearchWithinView(t *testing.T) {
	env := newTestEnv(t, nil)
	laptop := env.equipment(t, "New LAPTOP")
	env.equipment(t, "Desk lamp")
	mgr := env.person(t, "mgr-1")

	res, err := env.Engine.ListRequests(env.Ctx, engine.ListOptions{Query: query.Query{
		ViewerID: mgr.ID, ViewerRole: mgr.Role, View: query.ViewTodo,
		Filters: query.Filters{Search: "laptop"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, laptop.ID, res.Items[0].ID)
	assert.Equal(t, query.ViewTodo, res.View)
}

func TestWrongActorIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.leave(t, "Conference")

	_, err := env.Engine.ApproveStep(env.Ctx, req.ID, req.Chain[0].ID, "hr-1", "")
	var unauthorized domain.UnauthorizedActorError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, "hr-1", unauthorized.ActorID)

	_, err = env.Engine.RejectStep(env.Ctx, req.ID, req.Chain[0].ID, "emp-1", "nope")
	require.ErrorAs(t, err, &unauthorized)

	stored, err := env.Engine.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version, "failed actions must not write")
}

func TestActionErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.leave(t, "Errands")
	var nf domain.NotFoundError

	_, err := env.Engine.ApproveStep(env.Ctx, "missing", req.Chain[0].ID, "mgr-1", "")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "request", nf.Kind)

	_, err = env.Engine.ApproveStep(env.Ctx, req.ID, "missing", "mgr-1", "")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "step", nf.Kind)

	// waiting step: transition error wins over the actor check
	_, err = env.Engine.ApproveStep(env.Ctx, req.ID, req.Chain[1].ID, "mgr-1", "")
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.StepWaiting, invalid.From)

	_, err = env.Engine.RejectStep(env.Ctx, req.ID, req.Chain[0].ID, "mgr-1", "  ")
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Fields[0].Field)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Engine.CreateRequest(env.Ctx, engine.CreateOptions{
		Type:      domain.TypeLeaveRequest,
		Requester: env.person(t, "emp-1"),
		Fields:    domain.Fields{StartDate: "2024-04-05", EndDate: "2024-04-01"},
	})
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["title"])
	assert.True(t, fields["description"])
	assert.True(t, fields["end_date"])

	// admin has no manager, so the chain cannot resolve
	_, err = env.Engine.CreateRequest(env.Ctx, engine.CreateOptions{
		Type:        domain.TypeEquipmentRequest,
		Title:       "Chair",
		Description: "Broken",
		Requester:   env.person(t, "adm-1"),
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Fields[0].Field)
	assert.Empty(t, env.Sent.all())
}

func TestSendReminder(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.leave(t, "Holiday")
	step := req.Chain[0]

	rem, err := env.Engine.SendReminder(env.Ctx, req.ID, step.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", rem.ApproverID)
	assert.Equal(t, []string{"mgr-1/" + req.ID, "mgr-1/" + req.ID}, env.Sent.all())

	env.advance(10 * time.Minute)
	_, err = env.Engine.SendReminder(env.Ctx, req.ID, step.ID, "emp-1")
	var cooldown domain.CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 50*time.Minute, cooldown.RetryAfter)

	_, err = env.Engine.SendReminder(env.Ctx, req.ID, req.Chain[1].ID, "emp-1")
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "remind", invalid.Action)

	_, err = env.Engine.SendReminder(env.Ctx, req.ID, "nope", "emp-1")
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	env.advance(time.Hour)
	_, err = env.Engine.SendReminder(env.Ctx, req.ID, step.ID, "emp-1")
	require.NoError(t, err)

	history, err := env.Engine.History(env.Ctx, req.ID)
	require.NoError(t, err)
	reminded := 0
	for _, e := range history {
		if e.Type == domain.EventStepReminded {
			reminded++
		}
	}
	assert.Equal(t, 2, reminded)
}

// racingStore lets another writer commit between the engine's read and write.
type racingStore struct {
	repo.Store
	once   sync.Once
	before func()
}

func (s *racingStore) Update(ctx context.Context, req *domain.Request, evts ...domain.Event) error {
	s.once.Do(s.before)
	return s.Store.Update(ctx, req, evts...)
}

func TestConcurrentDecisionIsStale(t *testing.T) {
	mem := repo.NewMemoryStore()
	racer := &racingStore{Store: mem}
	env := newTestEnv(t, racer)
	req := env.leave(t, "Race")

	racer.before = func() {
		other, err := mem.Get(env.Ctx, req.ID)
		require.NoError(t, err)
		other.Chain[0].Status = domain.StepRejected
		other.Chain[0].Comments = "first"
		require.NoError(t, mem.Update(env.Ctx, &other))
	}
	_, err := env.Engine.ApproveStep(env.Ctx, req.ID, req.Chain[0].ID, "mgr-1", "second")
	var stale domain.StaleStateError
	require.ErrorAs(t, err, &stale)

	stored, err := mem.Get(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Chain[0].Comments)
	assert.Equal(t, []string{"mgr-1/" + req.ID}, env.Sent.all(), "no activation after a lost race")
}

func TestHistoryUnknownRequest(t *testing.T) {
	env := newTestEnv(t, repo.NewMemoryStore())
	_, err := env.Engine.History(env.Ctx, "ghost")
	var nf domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
