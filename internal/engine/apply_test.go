package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/state"
)

func TestApply_CreateChainResolvesReferences(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	producer := testResource("producer", map[string]any{"x": "1"})
	consumer := testResource("consumer", map[string]any{
		"source": "ref://null_resource.producer/id",
	})
	cfg := &ir.Config{Resources: []*ir.Resource{producer, consumer}}

	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.NotEmpty(t, report.RunID)

	producerRec, ok := tx.Get("null_resource.producer")
	require.True(t, ok)
	assert.Equal(t, 1, producerRec.Serial)

	consumerRec, ok := tx.Get("null_resource.consumer")
	require.True(t, ok)
	assert.Equal(t, 1, consumerRec.Serial)
	assert.Equal(t, producerRec.Attributes["id"], consumerRec.Attributes["source"],
		"unknown reference must resolve to the producer's applied id")

	assert.Len(t, fake.operations(), 2)
}

func TestApply_FailureSkipsDependents(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tx := newTestTx(t)

	broken := testResource("broken", map[string]any{"fail": true})
	dependent := testResource("dependent", map[string]any{"x": "1"})
	dependent.DependsOn = []string{"null_resource.broken"}
	transitive := testResource("transitive", map[string]any{"x": "1"})
	transitive.DependsOn = []string{"null_resource.dependent"}
	unrelated := testResource("unrelated", map[string]any{"x": "1"})
	cfg := &ir.Config{Resources: []*ir.Resource{broken, dependent, transitive, unrelated}}

	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Applied, "unrelated resource must still apply")
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Skipped, "skip must propagate transitively")
	require.Error(t, report.Err())

	statuses := make(map[string]OutcomeStatus)
	for _, o := range report.Outcomes {
		statuses[o.Address] = o.Status
	}
	assert.Equal(t, StatusFailed, statuses["null_resource.broken"])
	assert.Equal(t, StatusSkipped, statuses["null_resource.dependent"])
	assert.Equal(t, StatusSkipped, statuses["null_resource.transitive"])
	assert.Equal(t, StatusApplied, statuses["null_resource.unrelated"])

	_, ok := tx.Get("null_resource.broken")
	assert.False(t, ok, "a failed create must not be recorded")
}

func TestApply_UpdateBumpsSerial(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tx := newTestTx(t)

	// Seed state through the transaction so serials are real.
	seed := testRecord("a", 0, map[string]any{"x": "1", "id": "fake-1"})
	_, err := tx.Write(context.Background(), seed, 0)
	require.NoError(t, err)

	cfg := &ir.Config{Resources: []*ir.Resource{
		testResource("a", map[string]any{"x": "2"}),
	}}
	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, tx.State())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	require.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	rec, ok := tx.Get("null_resource.a")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Serial)
	assert.Equal(t, "2", rec.Attributes["x"])
	assert.Equal(t, "fake-1", rec.Attributes["id"], "id must survive in-place update")
}

func TestApply_DestroyRunsInReverseDependencyOrder(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	db := &ir.Record{Address: "db.main", Type: "db", Name: "main", Provider: "test",
		Attributes: map[string]any{"id": "db-1"}}
	app := &ir.Record{Address: "app.web", Type: "app", Name: "web", Provider: "test",
		Attributes:   map[string]any{"id": "app-1"},
		Dependencies: []string{"db.main"}}
	_, err := tx.Write(context.Background(), db, 0)
	require.NoError(t, err)
	_, err = tx.Write(context.Background(), app, 0)
	require.NoError(t, err)

	plan, err := NewPlanner(reg).Plan(context.Background(), &ir.Config{}, tx.State())
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	ops := fake.operations()
	require.Equal(t, []string{"delete app", "delete db"}, ops,
		"dependents must be destroyed before their dependencies")

	_, ok := tx.Get("db.main")
	assert.False(t, ok)
	_, ok = tx.Get("app.web")
	assert.False(t, ok)
}

func TestApply_ReplaceDestroyThenCreate(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	seed := testRecord("a", 0, map[string]any{"immutable": "old", "id": "seed-1"})
	_, err := tx.Write(context.Background(), seed, 0)
	require.NoError(t, err)

	cfg := &ir.Config{Resources: []*ir.Resource{
		testResource("a", map[string]any{"immutable": "new"}),
	}}
	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, tx.State())
	require.NoError(t, err)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	require.Equal(t, ir.DestroyThenCreate, plan.Changes[0].ReplaceOrder)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{"delete null_resource", "create null_resource"}, fake.operations())

	// The original's record was removed with it, so the successor is a
	// brand-new record with a restarted serial.
	rec, ok := tx.Get("null_resource.a")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Serial)
	assert.Equal(t, "new", rec.Attributes["immutable"])
	assert.NotEqual(t, "seed-1", rec.Attributes["id"], "replacement must carry a fresh id")
}

func TestApply_ReplaceDestroyHalfFailsCreateKeepsRecord(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	seed := testRecord("a", 0, map[string]any{"immutable": "old", "id": "fake-1"})
	_, err := tx.Write(context.Background(), seed, 0)
	require.NoError(t, err)

	res := testResource("a", map[string]any{"immutable": "new", "fail": true})
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, tx.State())
	require.NoError(t, err)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	require.Equal(t, ir.DestroyThenCreate, plan.Changes[0].ReplaceOrder)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	assert.Equal(t, []string{"delete null_resource"}, fake.operations())

	// The original was destroyed before the create half failed, so its
	// record must be gone: state describes only objects that exist.
	_, ok := tx.Get("null_resource.a")
	assert.False(t, ok, "state must not claim the destroyed original still exists")
}

func TestApply_ReplaceCreateHalfSucceedsDestroyFailsKeepsSuccessor(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	seed := testRecord("a", 0, map[string]any{"immutable": "old", "id": "seed-1", "fail_delete": true})
	_, err := tx.Write(context.Background(), seed, 0)
	require.NoError(t, err)

	res := testResource("a", map[string]any{"immutable": "new"})
	res.Lifecycle = &ir.Lifecycle{CreateBeforeDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, tx.State())
	require.NoError(t, err)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	require.Equal(t, ir.CreateThenDestroy, plan.Changes[0].ReplaceOrder)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	assert.Equal(t, []string{"create null_resource"}, fake.operations())

	// The successor was created and recorded before the destroy half
	// failed; the record must describe the new object, not the original.
	rec, ok := tx.Get("null_resource.a")
	require.True(t, ok)
	assert.Equal(t, "new", rec.Attributes["immutable"])
	assert.NotEqual(t, "seed-1", rec.Attributes["id"])
	assert.Equal(t, 2, rec.Serial)
}

func TestApply_ReplaceCreateBeforeDestroy(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	seed := testRecord("a", 0, map[string]any{"immutable": "old", "id": "fake-1"})
	_, err := tx.Write(context.Background(), seed, 0)
	require.NoError(t, err)

	res := testResource("a", map[string]any{"immutable": "new"})
	res.Lifecycle = &ir.Lifecycle{CreateBeforeDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, tx.State())
	require.NoError(t, err)
	require.Equal(t, ir.CreateThenDestroy, plan.Changes[0].ReplaceOrder)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{"create null_resource", "delete null_resource"}, fake.operations())
}

func TestApply_TimeoutReportsUnknownOutcome(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tx := newTestTx(t)

	res := testResource("slow", map[string]any{"sleep": "5s"})
	res.Timeout = "50ms"
	cfg := &ir.Config{Resources: []*ir.Resource{res}}

	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	exec := NewExecutor(reg)
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)

	require.Equal(t, 1, report.Failed)
	require.Error(t, report.Outcomes[0].Error)
	assert.Contains(t, report.Outcomes[0].Error.Error(), "outcome unknown",
		"a timed-out operation must be flagged for manual verification")
}

func TestApply_InterruptDuringOperationStillPersists(t *testing.T) {
	reg, _ := newTestRegistry(t)

	backend := &ctxBackend{}
	store := state.NewStore(backend)
	tx, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Close(context.Background()) })

	res := testResource("slow", map[string]any{"sleep": "100ms"})
	cfg := &ir.Config{Resources: []*ir.Resource{res}}
	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	// Cancel while the provider call is in flight. The call must finish
	// and its state write must go through the cancellation-aware backend.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec := NewExecutor(reg)
	report, err := exec.Apply(ctx, plan, tx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied, "in-flight operation must settle as applied")

	rec, ok := tx.Get("null_resource.slow")
	require.True(t, ok, "completed work must be persisted despite the interrupt")
	assert.Equal(t, 1, rec.Serial)
}

func TestApply_CancelledContextSchedulesNothing(t *testing.T) {
	reg, fake := newTestRegistry(t)
	tx := newTestTx(t)

	cfg := &ir.Config{Resources: []*ir.Resource{
		testResource("a", map[string]any{"x": "1"}),
		testResource("b", map[string]any{"x": "1"}),
	}}
	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(reg)
	report, err := exec.Apply(ctx, plan, tx, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Cancelled)
	assert.Empty(t, fake.operations())
	require.Error(t, report.Err())
}

func TestApply_EventsStreamPerNode(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tx := newTestTx(t)

	cfg := &ir.Config{Resources: []*ir.Resource{
		testResource("a", map[string]any{"x": "1"}),
	}}
	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	var events []ApplyEvent
	exec := NewExecutor(reg, WithParallelism(1))
	report, err := exec.Apply(context.Background(), plan, tx, func(ev ApplyEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "applied", events[1].Status)
	assert.Equal(t, "null_resource.a", events[0].Address)
}

func TestApply_ProviderLocksStampRecords(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tx := newTestTx(t)

	cfg := &ir.Config{Resources: []*ir.Resource{
		testResource("a", map[string]any{"x": "1"}),
	}}
	plan, err := NewPlanner(reg).Plan(context.Background(), cfg, &ir.State{FormatVersion: 1})
	require.NoError(t, err)

	exec := NewExecutor(reg, WithProviderLocks(map[string]*ir.LockEntry{
		"test": {Version: "1.0.0"},
	}))
	report, err := exec.Apply(context.Background(), plan, tx, nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	rec, ok := tx.Get("null_resource.a")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", rec.ProviderVersion)
}
