package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func boolPtr(v bool) *bool        { return &v }
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func createTestQueue(t *testing.T, ctx context.Context, st *Store) models.QueueInstance {
	t.Helper()
	queue, err := st.CreateQueue(ctx, store.CreateQueueInput{
		OwnerID:      uuid.NewString(),
		BusinessName: "Fresh Cuts",
		QueueCode:    "code-" + uuid.NewString()[:8],
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	return queue
}

func allocate(t *testing.T, ctx context.Context, st *Store, queueID, sessionID string) models.Token {
	t.Helper()
	token, err := st.AllocateToken(ctx, store.AllocateInput{
		QueueID:   queueID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("allocate token: %v", err)
	}
	return token
}

func TestAllocateTokenConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)

	const customers = 50
	var wg sync.WaitGroup
	numbers := make(chan int, customers)
	for i := 0; i < customers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := st.AllocateToken(ctx, store.AllocateInput{
				QueueID:   queue.QueueID,
				SessionID: uuid.NewString(),
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			numbers <- token.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("number %d issued twice", number)
		}
		seen[number] = true
	}
	if len(seen) != customers {
		t.Fatalf("issued %d numbers, want %d", len(seen), customers)
	}
	for n := 1; n <= customers; n++ {
		if !seen[n] {
			t.Fatalf("number %d missing from 1..%d", n, customers)
		}
	}
}

func TestAllocateTokenIdempotentRequestID(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	requestID := uuid.NewString()

	input := store.AllocateInput{
		QueueID:   queue.QueueID,
		SessionID: "sess-1",
		RequestID: requestID,
		CreatedAt: time.Now().UTC(),
	}
	first, err := st.AllocateToken(ctx, input)
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	second, err := st.AllocateToken(ctx, input)
	if err != nil {
		t.Fatalf("retried allocate: %v", err)
	}
	if first.TokenID != second.TokenID || first.Number != second.Number {
		t.Fatalf("retry issued a different token: %+v vs %+v", first, second)
	}

	var count int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = 'token.issued'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 token.issued event, got %d", count)
	}
}

func TestAllocateTokenClosedQueue(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	if _, err := st.ToggleOpen(ctx, queue.QueueID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	_, err := st.AllocateToken(ctx, store.AllocateInput{QueueID: queue.QueueID, SessionID: "sess-1"})
	if !errors.Is(err, store.ErrQueueClosed) {
		t.Fatalf("allocate on closed queue = %v, want ErrQueueClosed", err)
	}
}

func TestAllocateTokenCapacity(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	if _, err := st.UpdateQueuePolicy(ctx, queue.QueueID, store.PolicyUpdate{
		CapacityEnabled: boolPtr(true),
		DailyCapacity:   intPtr(2),
	}); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	allocate(t, ctx, st, queue.QueueID, "sess-1")
	allocate(t, ctx, st, queue.QueueID, "sess-2")

	_, err := st.AllocateToken(ctx, store.AllocateInput{QueueID: queue.QueueID, SessionID: "sess-3"})
	if !errors.Is(err, store.ErrCapacityExceeded) {
		t.Fatalf("allocate past capacity = %v, want ErrCapacityExceeded", err)
	}
}

func TestAdvanceStrictSweep(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	if _, err := st.UpdateQueuePolicy(ctx, queue.QueueID, store.PolicyUpdate{
		StrictMissedPolicy: boolPtr(true),
	}); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	allocate(t, ctx, st, queue.QueueID, "sess-1")
	allocate(t, ctx, st, queue.QueueID, "sess-2")
	allocate(t, ctx, st, queue.QueueID, "sess-3")

	first, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID})
	if err != nil {
		t.Fatalf("advance 1: %v", err)
	}
	if first.Served == nil || first.Served.Number != 1 {
		t.Fatalf("first advance served %+v, want number 1", first.Served)
	}

	// Served tokens may return to active even under strict policy; the next
	// advance sweeps them back to missed.
	if _, err := st.Requeue(ctx, queue.QueueID, 1); err != nil {
		t.Fatalf("requeue served token: %v", err)
	}

	second, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID})
	if err != nil {
		t.Fatalf("advance 2: %v", err)
	}
	if second.Missed != 1 {
		t.Fatalf("sweep marked %d tokens, want 1", second.Missed)
	}

	swept, err := st.GetToken(ctx, queue.QueueID, 1)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if swept.Status != models.StatusMissed {
		t.Fatalf("token 1 status %q, want missed", swept.Status)
	}

	// Re-running the sweep changes nothing: missed is terminal for it.
	if _, err := st.Requeue(ctx, queue.QueueID, 1); !errors.Is(err, store.ErrPolicyViolation) {
		t.Fatalf("requeue missed under strict = %v, want ErrPolicyViolation", err)
	}
}

func TestAdvancePastLastIssued(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	allocate(t, ctx, st, queue.QueueID, "sess-1")

	if _, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	_, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID})
	if !errors.Is(err, store.ErrNoTokenWaiting) {
		t.Fatalf("advance past last issued = %v, want ErrNoTokenWaiting", err)
	}
}

func TestRequeueLenientPolicy(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	if _, err := st.UpdateQueuePolicy(ctx, queue.QueueID, store.PolicyUpdate{
		StrictMissedPolicy: boolPtr(true),
	}); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	allocate(t, ctx, st, queue.QueueID, "sess-1")
	allocate(t, ctx, st, queue.QueueID, "sess-2")
	allocate(t, ctx, st, queue.QueueID, "sess-3")

	// Requeue 1 back to active, then advance twice: the sweep misses it.
	if _, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := st.Requeue(ctx, queue.QueueID, 1); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if _, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Under the lenient policy the missed token may come back.
	if _, err := st.UpdateQueuePolicy(ctx, queue.QueueID, store.PolicyUpdate{
		StrictMissedPolicy: boolPtr(false),
	}); err != nil {
		t.Fatalf("update policy: %v", err)
	}
	token, err := st.Requeue(ctx, queue.QueueID, 1)
	if err != nil {
		t.Fatalf("lenient requeue: %v", err)
	}
	if token.Status != models.StatusActive {
		t.Fatalf("requeued status %q, want active", token.Status)
	}
}

func TestRequeueDisabled(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	if _, err := st.UpdateQueuePolicy(ctx, queue.QueueID, store.PolicyUpdate{
		RequeueEnabled: boolPtr(false),
	}); err != nil {
		t.Fatalf("update policy: %v", err)
	}
	allocate(t, ctx, st, queue.QueueID, "sess-1")

	_, err := st.Requeue(ctx, queue.QueueID, 1)
	if !errors.Is(err, store.ErrPolicyViolation) {
		t.Fatalf("requeue while disabled = %v, want ErrPolicyViolation", err)
	}
}

func TestResetCounters(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	allocate(t, ctx, st, queue.QueueID, "sess-1")
	allocate(t, ctx, st, queue.QueueID, "sess-2")
	if _, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	reset, err := st.ResetCounters(ctx, queue.QueueID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Serving != 0 || reset.NextNumber != 1 {
		t.Fatalf("reset pointers serving=%d next=%d, want 0 and 1", reset.Serving, reset.NextNumber)
	}
	if reset.LastResetDate == nil {
		t.Fatal("last_reset_date not stamped")
	}

	// Numbering restarts at 1 and by-number reads resolve the fresh token,
	// not the pre-reset row with the same number.
	fresh := allocate(t, ctx, st, queue.QueueID, "sess-3")
	if fresh.Number != 1 {
		t.Fatalf("post-reset number %d, want 1", fresh.Number)
	}
	got, err := st.GetToken(ctx, queue.QueueID, 1)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.TokenID != fresh.TokenID || got.Status != models.StatusActive {
		t.Fatalf("by-number read resolved %+v, want the fresh token", got)
	}

	// The pre-reset active token expired; the served one stayed history.
	prior, found, err := st.GetSessionToken(ctx, queue.QueueID, "sess-2")
	if err != nil || !found {
		t.Fatalf("session token: found=%v err=%v", found, err)
	}
	if prior.Status != models.StatusExpired {
		t.Fatalf("pre-reset active token status %q, want expired", prior.Status)
	}
}

func TestBusyMorningScenario(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	if _, err := st.UpdateQueuePolicy(ctx, queue.QueueID, store.PolicyUpdate{
		StrictMissedPolicy:   boolPtr(true),
		EstimatedWaitEnabled: boolPtr(true),
		AvgServiceSeconds:    floatPtr(120),
	}); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	for i := 1; i <= 5; i++ {
		token := allocate(t, ctx, st, queue.QueueID, uuid.NewString())
		if token.Number != i {
			t.Fatalf("allocation %d got number %d", i, token.Number)
		}
	}

	var result store.AdvanceResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID})
		if err != nil {
			t.Fatalf("advance %d: %v", i+1, err)
		}
	}
	if result.Queue.Serving != 3 {
		t.Fatalf("serving = %d, want 3", result.Queue.Serving)
	}
	if result.Queue.PeopleWaiting() != 2 {
		t.Fatalf("people waiting = %d, want 2", result.Queue.PeopleWaiting())
	}
	wait, ok := result.Queue.EstimatedWaitSeconds()
	if !ok || wait != 240 {
		t.Fatalf("estimated wait = (%v, %v), want (240, true)", wait, ok)
	}

	events, err := st.ListOutboxEvents(ctx, store.Offset{LastEventTime: time.Unix(0, 0).UTC()}, 100)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	var types []string
	for _, event := range events {
		types = append(types, event.Type)
	}
	want := []string{
		"queue.updated",
		"token.issued", "token.issued", "token.issued", "token.issued", "token.issued",
		"queue.advanced", "queue.advanced", "queue.advanced",
	}
	if len(types) != len(want) {
		t.Fatalf("outbox has %d events, want %d: %v", len(types), len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestTokenEventChain(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	allocate(t, ctx, st, queue.QueueID, "sess-1")
	if _, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := st.Requeue(ctx, queue.QueueID, 1); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	events, err := st.ListTokenEvents(ctx, queue.QueueID, 1)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("chain has %d events, want 3", len(events))
	}
	if err := store.VerifyTokenEvents(events); err != nil {
		t.Fatalf("chain verification: %v", err)
	}
}

func TestDuplicateQueueCode(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ownerID := uuid.NewString()
	input := store.CreateQueueInput{OwnerID: ownerID, BusinessName: "Fresh Cuts", QueueCode: "fresh-cuts"}
	if _, err := st.CreateQueue(ctx, input); err != nil {
		t.Fatalf("create queue: %v", err)
	}

	// Codes are case-insensitive: FRESH-CUTS and fresh-cuts collide.
	input.QueueCode = "FRESH-CUTS"
	_, err := st.CreateQueue(ctx, input)
	if !errors.Is(err, store.ErrDuplicateCode) {
		t.Fatalf("duplicate create = %v, want ErrDuplicateCode", err)
	}
}

func TestCountersLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createTestQueue(t, ctx, st)
	counter, err := st.CreateCounter(ctx, queue.QueueID, "Window A")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}

	allocate(t, ctx, st, queue.QueueID, "sess-1")
	result, err := st.AdvanceServing(ctx, store.AdvanceInput{QueueID: queue.QueueID, CounterID: counter.CounterID})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Served == nil || result.Served.CounterID == nil || *result.Served.CounterID != counter.CounterID {
		t.Fatalf("served token not stamped with counter: %+v", result.Served)
	}

	counters, err := st.ListCounters(ctx, queue.QueueID)
	if err != nil {
		t.Fatalf("list counters: %v", err)
	}
	if len(counters) != 1 || counters[0].CurrentToken == nil || *counters[0].CurrentToken != 1 {
		t.Fatalf("counter state %+v, want current_token 1", counters)
	}

	if err := st.DeleteCounter(ctx, queue.QueueID, counter.CounterID); err != nil {
		t.Fatalf("delete counter: %v", err)
	}
	if err := st.DeleteCounter(ctx, queue.QueueID, counter.CounterID); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("second delete = %v, want ErrCounterNotFound", err)
	}
}
