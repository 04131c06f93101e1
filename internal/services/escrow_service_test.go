package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/metrics"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/freelance-escrow/backend/internal/repositories"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	client     models.Identity = "C"
	freelancer models.Identity = "F"
	stranger   models.Identity = "X"
)

// fakeAuth accepts every claim except the identities listed in reject.
type fakeAuth struct {
	reject map[models.Identity]bool
}

func (f fakeAuth) Authenticate(_ context.Context, id models.Identity) error {
	if f.reject[id] {
		return errors.New("signature rejected")
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stream != events.StreamEscrow {
		return errors.New("unexpected stream " + stream)
	}
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (a *fakeAuditor) Log(_ context.Context, e models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAuditor) GetByEntity(_ context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type fixture struct {
	svc     *EscrowService
	store   *repositories.MemoryStore
	pub     *recordingPublisher
	auditor *fakeAuditor
	metrics *metrics.Recorder
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, authn fakeAuth) *fixture {
	t.Helper()
	f := &fixture{
		store:   repositories.NewMemoryStore(),
		pub:     &recordingPublisher{},
		auditor: &fakeAuditor{},
		metrics: metrics.NewRecorder(),
	}
	cfg := &config.Config{
		EscrowTTLThreshold: 500 * time.Second,
		EscrowTTLExtendTo:  500 * time.Second,
	}
	core, logs := observer.New(zap.InfoLevel)
	f.logs = logs
	f.svc = NewEscrowService(f.store, authn, f.pub, f.auditor, f.metrics, cfg, zap.New(core))
	return f
}

func (f *fixture) create(t *testing.T, id models.AgreementID) {
	t.Helper()
	ok, err := f.svc.CreateEscrow(context.Background(), client, freelancer, models.NewAmount(100), id)
	if err != nil || !ok {
		t.Fatalf("CreateEscrow(%s) = %v, %v", id, ok, err)
	}
}

func (f *fixture) view(t *testing.T, id models.AgreementID) models.EscrowRecord {
	t.Helper()
	rec, err := f.svc.ViewEscrow(context.Background(), id)
	if err != nil {
		t.Fatalf("ViewEscrow(%s): %v", id, err)
	}
	return rec
}

func (f *fixture) count(t *testing.T) uint32 {
	t.Helper()
	n, err := f.svc.EscrowCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestScenario_BothApprovalsComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")

	rec := f.view(t, "A1")
	if rec.IsCompleted || rec.ClientApproved || rec.FreelancerApproved || rec.IsRefunded {
		t.Fatalf("fresh escrow has flags set: %+v", rec)
	}

	done, err := f.svc.ApproveCompletion(ctx, "A1", client)
	if err != nil || done {
		t.Fatalf("client approve = %v, %v; want false, nil", done, err)
	}
	rec = f.view(t, "A1")
	if !rec.ClientApproved || rec.IsCompleted {
		t.Fatalf("after client approve: %+v", rec)
	}

	done, err = f.svc.ApproveCompletion(ctx, "A1", freelancer)
	if err != nil || !done {
		t.Fatalf("freelancer approve = %v, %v; want true, nil", done, err)
	}
	rec = f.view(t, "A1")
	if !rec.IsCompleted || !rec.ClientApproved || !rec.FreelancerApproved {
		t.Fatalf("after both approvals: %+v", rec)
	}
}

func TestScenario_RefundIsRepeatable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A2")

	if ok, err := f.svc.RefundEscrow(ctx, "A2", client); err != nil || !ok {
		t.Fatalf("refund = %v, %v", ok, err)
	}
	rec := f.view(t, "A2")
	if !rec.IsRefunded || rec.IsCompleted {
		t.Fatalf("after refund: %+v", rec)
	}

	if ok, err := f.svc.RefundEscrow(ctx, "A2", client); err != nil || !ok {
		t.Fatalf("second refund = %v, %v; want true, nil", ok, err)
	}
	if got := f.view(t, "A2"); !got.Equal(rec) {
		t.Errorf("second refund changed record: %+v", got)
	}
}

func TestScenario_RefundAfterCompletionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A3")
	_, _ = f.svc.ApproveCompletion(ctx, "A3", client)
	if done, _ := f.svc.ApproveCompletion(ctx, "A3", freelancer); !done {
		t.Fatal("escrow should be completed")
	}
	before := f.view(t, "A3")

	ok, err := f.svc.RefundEscrow(ctx, "A3", client)
	if !errors.Is(err, ErrInvalidState) || ok {
		t.Fatalf("refund completed = %v, %v; want ErrInvalidState", ok, err)
	}
	if after := f.view(t, "A3"); !after.Equal(before) {
		t.Errorf("record changed: before %+v after %+v", before, after)
	}
}

func TestScenario_ApproveMissing(t *testing.T) {
	f := newFixture(t, fakeAuth{})
	_, err := f.svc.ApproveCompletion(context.Background(), "missing_id", client)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})

	if _, err := f.svc.RefundEscrow(ctx, "nope", client); !errors.Is(err, ErrNotFound) {
		t.Errorf("refund: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.ViewEscrow(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("view: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.History(ctx, "nope", 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("history: err = %v, want ErrNotFound", err)
	}
}

func TestApprove_StrangerIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")
	_, _ = f.svc.ApproveCompletion(ctx, "A1", client)
	before := f.view(t, "A1")

	done, err := f.svc.ApproveCompletion(ctx, "A1", stranger)
	if !errors.Is(err, ErrUnauthorized) || done {
		t.Fatalf("stranger approve = %v, %v; want ErrUnauthorized", done, err)
	}
	if after := f.view(t, "A1"); !after.Equal(before) {
		t.Errorf("record changed: before %+v after %+v", before, after)
	}
}

func TestApprove_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")

	first, err := f.svc.ApproveCompletion(ctx, "A1", freelancer)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.ApproveCompletion(ctx, "A1", freelancer)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || second {
		t.Errorf("approve twice = %v then %v, want false both times", first, second)
	}
	rec := f.view(t, "A1")
	if !rec.FreelancerApproved || rec.ClientApproved {
		t.Errorf("flags = %+v", rec)
	}
}

func TestApprove_AfterRefundIsAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")
	_, _ = f.svc.RefundEscrow(ctx, "A1", client)

	_, _ = f.svc.ApproveCompletion(ctx, "A1", client)
	done, err := f.svc.ApproveCompletion(ctx, "A1", freelancer)
	if err != nil || !done {
		t.Fatalf("approve refunded escrow = %v, %v; want true, nil", done, err)
	}
	rec := f.view(t, "A1")
	if !rec.IsRefunded || !rec.IsCompleted {
		t.Errorf("flags = %+v, want refunded and completed", rec)
	}
}

func TestApprove_SameIdentityBothRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	if _, err := f.svc.CreateEscrow(ctx, client, client, models.NewAmount(1), "SELF"); err != nil {
		t.Fatal(err)
	}
	done, err := f.svc.ApproveCompletion(ctx, "SELF", client)
	if err != nil || !done {
		t.Fatalf("approve = %v, %v; want true, nil", done, err)
	}
}

func TestRefund_OnlyClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")

	for _, id := range []models.Identity{freelancer, stranger} {
		ok, err := f.svc.RefundEscrow(ctx, "A1", id)
		if !errors.Is(err, ErrUnauthorized) || ok {
			t.Errorf("refund by %s = %v, %v; want ErrUnauthorized", id, ok, err)
		}
	}
	if rec := f.view(t, "A1"); rec.IsRefunded {
		t.Error("escrow refunded by non-client")
	}
}

func TestAuthenticationRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{reject: map[models.Identity]bool{client: true}})

	if _, err := f.svc.CreateEscrow(ctx, client, freelancer, models.NewAmount(5), "A1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("create: err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.ViewEscrow(ctx, "A1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rejected create persisted a record: %v", err)
	}
	if n := f.count(t); n != 0 {
		t.Errorf("counter = %d, want 0", n)
	}

	// seed a record directly so approve and refund reach the auth check
	tx, _ := f.store.Begin(ctx)
	_ = tx.Put(ctx, "A2", models.NewEscrowRecord(client, freelancer, models.NewAmount(5)))
	_ = tx.Commit(ctx)

	if _, err := f.svc.ApproveCompletion(ctx, "A2", client); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("approve: err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.RefundEscrow(ctx, "A2", client); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("refund: err = %v, want ErrUnauthorized", err)
	}
	if rec := f.view(t, "A2"); rec.ClientApproved || rec.IsRefunded {
		t.Errorf("rejected calls mutated record: %+v", rec)
	}
	if len(f.pub.types()) != 0 {
		t.Errorf("events published for rejected calls: %v", f.pub.types())
	}
}

func TestCreate_OverwritesExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")
	_, _ = f.svc.ApproveCompletion(ctx, "A1", client)
	_, _ = f.svc.ApproveCompletion(ctx, "A1", freelancer)

	// Re-creating under the same id silently discards the previous state.
	if _, err := f.svc.CreateEscrow(ctx, client, "F2", models.NewAmount(7), "A1"); err != nil {
		t.Fatal(err)
	}
	want := models.NewEscrowRecord(client, "F2", models.NewAmount(7))
	if got := f.view(t, "A1"); !got.Equal(want) {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if n := f.count(t); n != 2 {
		t.Errorf("counter = %d, want 2", n)
	}

	warns := f.logs.FilterMessage("escrow overwritten").All()
	if len(warns) != 1 {
		t.Fatalf("overwrite warnings = %d, want 1", len(warns))
	}
	fields := warns[0].ContextMap()
	if fields["previous_status"] != models.EscrowStatusCompleted || fields["previous_terminal"] != true {
		t.Errorf("overwrite fields = %v", fields)
	}
}

func TestCreate_CounterAndTTL(t *testing.T) {
	f := newFixture(t, fakeAuth{})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.store.SetNowFunc(func() time.Time { return now })

	f.create(t, "A1")
	f.create(t, "A2")
	if n := f.count(t); n != 2 {
		t.Errorf("counter = %d, want 2", n)
	}
	until, ok := f.store.LiveUntil("A1")
	if !ok || !until.Equal(now.Add(500*time.Second)) {
		t.Errorf("live until = %v, %v; want %v", until, ok, now.Add(500*time.Second))
	}
	if got := testutil.ToFloat64(f.metrics.Operations().WithLabelValues(OpCreate, metrics.OutcomeOK)); got != 2 {
		t.Errorf("create ok metric = %v, want 2", got)
	}
}

func TestCreate_NegativeAmountAccepted(t *testing.T) {
	f := newFixture(t, fakeAuth{})
	amt, _ := models.ParseAmount("-170141183460469231731687303715884105728")
	if _, err := f.svc.CreateEscrow(context.Background(), client, freelancer, amt, "NEG"); err != nil {
		t.Fatal(err)
	}
	if rec := f.view(t, "NEG"); !rec.Amount.Equal(amt) {
		t.Errorf("amount = %s, want %s", rec.Amount, amt)
	}
	if n := f.logs.FilterMessage("escrow amount is not positive").Len(); n != 1 {
		t.Errorf("non-positive amount warnings = %d, want 1", n)
	}
	f.create(t, "POS")
	if n := f.logs.FilterMessage("escrow amount is not positive").Len(); n != 1 {
		t.Errorf("positive amount was flagged")
	}
}

func TestViewReturnsCopy(t *testing.T) {
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")
	rec := f.view(t, "A1")
	rec.IsRefunded = true
	if f.view(t, "A1").IsRefunded {
		t.Error("mutating the returned record changed the store")
	}
}

func TestEventsAfterCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")
	_, _ = f.svc.ApproveCompletion(ctx, "A1", client)
	_, _ = f.svc.ApproveCompletion(ctx, "A1", freelancer)
	_, _ = f.svc.ApproveCompletion(ctx, "A1", freelancer)
	_, _ = f.svc.RefundEscrow(ctx, "A1", client) // fails, no event

	want := []string{
		events.EventEscrowCreated,
		events.EventEscrowApproved,
		events.EventEscrowApproved,
		events.EventEscrowCompleted,
		events.EventEscrowApproved,
	}
	got := f.pub.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	p := f.pub.events[0].Payload
	if p["agreement_id"] != "A1" || p["client"] != "C" || p["freelancer"] != "F" || p["amount"] != "100" {
		t.Errorf("created payload = %v", p)
	}
}

func TestSideEffectFailuresIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.pub.err = errors.New("redis down")
	f.auditor.err = errors.New("pg down")

	f.create(t, "A1")
	if _, err := f.svc.RefundEscrow(ctx, "A1", client); err != nil {
		t.Fatalf("refund failed because of side effects: %v", err)
	}
	if !f.view(t, "A1").IsRefunded {
		t.Error("refund not persisted")
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeAuth{})
	f.create(t, "A1")
	f.create(t, "B1")
	_, _ = f.svc.ApproveCompletion(ctx, "A1", client)
	_, _ = f.svc.RefundEscrow(ctx, "A1", client)

	logs, err := f.svc.History(ctx, "A1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantActions := []string{
		models.AuditActionEscrowRefunded,
		models.AuditActionEscrowApproved,
		models.AuditActionEscrowCreated,
	}
	if len(logs) != len(wantActions) {
		t.Fatalf("history = %+v", logs)
	}
	for i, a := range wantActions {
		if logs[i].Action != a {
			t.Errorf("history[%d] = %s, want %s", i, logs[i].Action, a)
		}
		if logs[i].Actor != client || logs[i].ActorType != models.AuditActorWallet {
			t.Errorf("history[%d] actor = %s/%s", i, logs[i].Actor, logs[i].ActorType)
		}
	}

	page, _ := f.svc.History(ctx, "A1", 1, 1)
	if len(page) != 1 || page[0].Action != models.AuditActionEscrowApproved {
		t.Errorf("page = %+v", page)
	}
}

func TestHistory_NoAuditor(t *testing.T) {
	store := repositories.NewMemoryStore()
	svc := NewEscrowService(store, fakeAuth{}, nil, nil, nil, &config.Config{}, zap.NewNop())
	if _, err := svc.CreateEscrow(context.Background(), client, freelancer, models.NewAmount(1), "A1"); err != nil {
		t.Fatal(err)
	}
	logs, err := svc.History(context.Background(), "A1", 10, 0)
	if err != nil || len(logs) != 0 {
		t.Errorf("history = %v, %v; want empty", logs, err)
	}
}

// failingStore injects an error into ExtendTTL to prove aborted operations
// leave nothing behind.
type failingStore struct {
	*repositories.MemoryStore
}

func (s failingStore) Begin(ctx context.Context) (repositories.AgreementTx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{tx}, nil
}

type failingTx struct {
	repositories.AgreementTx
}

func (failingTx) ExtendTTL(context.Context, models.AgreementID, time.Duration, time.Duration) error {
	return errors.New("ttl unavailable")
}

func TestStoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := repositories.NewMemoryStore()
	rec := metrics.NewRecorder()
	svc := NewEscrowService(failingStore{mem}, fakeAuth{}, &recordingPublisher{}, nil, rec, &config.Config{}, zap.NewNop())

	if _, err := svc.CreateEscrow(ctx, client, freelancer, models.NewAmount(1), "A1"); err == nil {
		t.Fatal("expected error")
	}

	tx, _ := mem.Begin(ctx)
	defer tx.Rollback(ctx)
	if _, ok, _ := tx.Get(ctx, "A1"); ok {
		t.Error("record persisted despite failure")
	}
	if n, _ := tx.Counter(ctx); n != 0 {
		t.Errorf("counter = %d, want 0", n)
	}
	if got := testutil.ToFloat64(rec.Operations().WithLabelValues(OpCreate, metrics.OutcomeError)); got != 1 {
		t.Errorf("create error metric = %v, want 1", got)
	}
}

// fullCounterStore reports the creation counter as exhausted.
type fullCounterStore struct {
	*repositories.MemoryStore
}

func (s fullCounterStore) Begin(ctx context.Context) (repositories.AgreementTx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return fullCounterTx{tx}, nil
}

type fullCounterTx struct {
	repositories.AgreementTx
}

func (fullCounterTx) IncrementCounter(context.Context) (uint32, error) {
	return 0, repositories.ErrCounterOverflow
}

func TestCreate_CounterOverflowAborts(t *testing.T) {
	ctx := context.Background()
	mem := repositories.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := NewEscrowService(fullCounterStore{mem}, fakeAuth{}, pub, nil, nil, &config.Config{}, zap.NewNop())

	_, err := svc.CreateEscrow(ctx, client, freelancer, models.NewAmount(1), "A1")
	if !errors.Is(err, repositories.ErrCounterOverflow) {
		t.Fatalf("err = %v, want ErrCounterOverflow", err)
	}

	tx, _ := mem.Begin(ctx)
	defer tx.Rollback(ctx)
	if _, ok, _ := tx.Get(ctx, "A1"); ok {
		t.Error("record persisted despite counter overflow")
	}
	if len(pub.events) != 0 {
		t.Errorf("published %d events, want 0", len(pub.events))
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.OutcomeOK},
		{ErrNotFound, metrics.OutcomeNotFound},
		{errors.Join(errors.New("x"), ErrUnauthorized), metrics.OutcomeUnauthorized},
		{ErrInvalidState, metrics.OutcomeInvalidState},
		{errors.New("boom"), metrics.OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
