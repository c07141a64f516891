package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

// fakeEngine answers with a canned reply, or fails while fail is set.
type fakeEngine struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (e *fakeEngine) Respond(ctx context.Context, prompt string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return "", errors.New("completion backend unavailable")
	}
	return "reply to: " + prompt, nil
}

func (e *fakeEngine) setFail(fail bool) {
	e.mu.Lock()
	e.fail = fail
	e.mu.Unlock()
}

// fakeMessenger records deliveries.
type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *fakeEngine, *fakeMessenger) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := &fakeEngine{}
	messenger := &fakeMessenger{}
	s, err := New(DefaultConfig(), st, engine, messenger, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, st, engine, messenger
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec  string
		valid bool
	}{
		{"0 8 * * *", true},
		{"*/5 * * * *", true},
		{"0 0 1 1 *", true},
		{"30 14 * * 1-5", true},
		{"0 30 14 * * *", true}, // seconds field
		{"@daily", true},
		{"@hourly", true},
		{"@every 1m", true},
		{"@every 1h30m", true},
		{"", false},
		{"drink water", false},
		{"61 * * * *", false},
		{"* * * *", false},
		{"@every snail", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.spec, func(t *testing.T) {
			t.Parallel()
			err := ValidateSpec(tt.spec)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateSpec(%q) = %v, want valid=%v", tt.spec, err, tt.valid)
			}
		})
	}
}

func TestStartLoadsPersistedTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)

	id1, _ := st.CreateTask(ctx, "@daily", "morning digest", "", 1)
	id2, _ := st.CreateTask(ctx, "@every 1h", "hourly check", "", 2)
	// An unschedulable row must not fail startup.
	id3, _ := st.CreateTask(ctx, "not a cron", "broken", "", 3)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	ids := s.Registered()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != id1 || ids[1] != id2 {
		t.Fatalf("Registered = %v, want [%d %d] (and not %d)", ids, id1, id2, id3)
	}
}

func TestStartWithZeroTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _, _, _ := newTestScheduler(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start with empty table failed: %v", err)
	}
	defer s.Stop()

	if ids := s.Registered(); len(ids) != 0 {
		t.Fatalf("Registered = %v, want empty", ids)
	}
}

func TestSyncAddsOnlyNewTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)

	id1, _ := st.CreateTask(ctx, "@daily", "a", "", 1)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	entryBefore := s.jobs[id1]

	// A row inserted after startup is picked up by the next sync.
	id2, _ := st.CreateTask(ctx, "@hourly", "b", "", 2)
	s.Sync(ctx)

	if _, ok := s.jobs[id2]; !ok {
		t.Fatalf("sync did not register task %d", id2)
	}
	if s.jobs[id1] != entryBefore {
		t.Error("sync restarted an already-registered job")
	}
}

func TestSyncIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)

	st.CreateTask(ctx, "@daily", "a", "", 1)
	st.CreateTask(ctx, "@hourly", "b", "", 2)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.Sync(ctx)
	before := make(map[int64]any)
	s.mu.Lock()
	for id, entry := range s.jobs {
		before[id] = entry
	}
	s.mu.Unlock()

	// Second sync with no new rows must not add, remove, or restart anything.
	s.Sync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) != len(before) {
		t.Fatalf("registry size changed: %d -> %d", len(before), len(s.jobs))
	}
	for id, entry := range s.jobs {
		if before[id] != entry {
			t.Errorf("task %d entry changed across idempotent sync", id)
		}
	}
}

func TestDeletedRowLeavesJobRunning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)

	id, _ := st.CreateTask(ctx, "@daily", "a", "", 1)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	// Sync only adds jobs; a deleted row's live job stays registered until
	// the process restarts.
	if err := st.DeleteTask(ctx, id, 1); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	s.Sync(ctx)

	if _, ok := s.jobs[id]; !ok {
		t.Error("live job was removed after its row was deleted; expected orphaned job")
	}
}

func TestStopSubset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)

	id1, _ := st.CreateTask(ctx, "@daily", "a", "", 1)
	id2, _ := st.CreateTask(ctx, "@hourly", "b", "", 2)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.Stop(id1)

	if _, ok := s.jobs[id1]; ok {
		t.Errorf("task %d still registered after Stop(%d)", id1, id1)
	}
	if _, ok := s.jobs[id2]; !ok {
		t.Errorf("task %d removed by Stop(%d)", id2, id1)
	}
}

func TestRunTaskFailureIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, st, engine, messenger := newTestScheduler(t)

	id, _ := st.CreateTask(ctx, "@every 1m", "check the levels", "", 9)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	task := store.Task{ID: id, Cron: "@every 1m", Prompt: "check the levels", ChatID: 9}

	// First firing fails inside the engine; the run must absorb the error.
	engine.setFail(true)
	s.runTask(task)
	if messenger.count() != 0 {
		t.Fatalf("failed run delivered a message")
	}

	// The next firing of the same job succeeds.
	engine.setFail(false)
	s.runTask(task)
	if messenger.count() != 1 {
		t.Fatalf("recovered run delivered %d messages, want 1", messenger.count())
	}
}

func TestRunTaskPanicContained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _, _, _ := newTestScheduler(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.engine = panicEngine{}

	// Must not propagate the panic.
	s.runTask(store.Task{ID: 1, Prompt: "boom", ChatID: 1})
}

type panicEngine struct{}

func (panicEngine) Respond(ctx context.Context, prompt string) (string, error) {
	panic("engine exploded")
}

func TestInvalidTimezoneRejected(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	if _, err := New(cfg, st, &fakeEngine{}, &fakeMessenger{}, nil); err == nil {
		t.Fatal("New with bogus timezone = nil error, want error")
	}
}
