package session

import (
	"context"
	"testing"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/kvstore"
)

func newTestManager(t *testing.T) (*Manager, *kvstore.MemoryStore) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	return NewManager(kv, nil), kv
}

func TestGetAbsentSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)

	sess, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get(absent) error = %v, want nil", err)
	}
	if sess != nil {
		t.Fatalf("Get(absent) = %+v, want nil", sess)
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)

	in := New(42, "/createtask", StateAwaitingCron)
	if err := m.Put(ctx, in, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	out, err := m.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out == nil {
		t.Fatal("Get returned nil after Put")
	}
	if out.Command != "/createtask" || out.State != StateAwaitingCron || out.ChatID != 42 {
		t.Errorf("round-trip mismatch: %+v", out)
	}
	if out.CreatedAt == 0 {
		t.Error("CreatedAt not set")
	}

	if err := m.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if out, _ := m.Get(ctx, 42); out != nil {
		t.Fatalf("Get after Delete = %+v, want nil", out)
	}

	// Idempotent delete.
	if err := m.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete(absent) = %v, want nil", err)
	}
}

func TestCorruptSessionTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, kv := newTestManager(t)

	if err := kv.Set(ctx, "session_7", []byte("{not json"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	sess, err := m.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get(corrupt) error = %v, want nil", err)
	}
	if sess != nil {
		t.Fatalf("Get(corrupt) = %+v, want nil", sess)
	}
}

func TestScanChatIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, kv := newTestManager(t)

	for _, chatID := range []int64{10, 20} {
		if err := m.Put(ctx, New(chatID, "/createtask", StateAwaitingCron), 0); err != nil {
			t.Fatalf("Put(%d) failed: %v", chatID, err)
		}
	}
	// Conversation keys and garbage keys must not leak into the result.
	kv.Set(ctx, "conversation_10", []byte("{}"), 0)
	kv.Set(ctx, "session_abc", []byte("{}"), 0)

	ids, err := m.ScanChatIDs(ctx)
	if err != nil {
		t.Fatalf("ScanChatIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ScanChatIDs = %v, want 2 ids", ids)
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[10] || !seen[20] {
		t.Errorf("ScanChatIDs = %v, want {10, 20}", ids)
	}
}

func TestReapExpiredSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, kv := newTestManager(t)

	old := New(1, "/createtask", StateAwaitingCron)
	old.CreatedAt = time.Now().Add(-10 * time.Minute).Unix()
	if err := m.Put(ctx, old, 0); err != nil {
		t.Fatalf("Put(old) failed: %v", err)
	}

	fresh := New(2, "/startconversation", StateConversing)
	if err := m.Put(ctx, fresh, 0); err != nil {
		t.Fatalf("Put(fresh) failed: %v", err)
	}

	// A record without a creation timestamp is skipped, not reaped.
	kv.Set(ctx, "session_3", []byte(`{"chat_id":3,"command":"/ask"}`), 0)

	reaped, err := m.Reap(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("Reap failed: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("Reap = %d, want 1", reaped)
	}

	if sess, _ := m.Get(ctx, 1); sess != nil {
		t.Error("expired session survived the reaper")
	}
	if sess, _ := m.Get(ctx, 2); sess == nil {
		t.Error("fresh session was reaped")
	}
	if sess, _ := m.Get(ctx, 3); sess == nil {
		t.Error("session without created_at was reaped")
	}
}

// Session updates are a get-then-put, not a conditional write: two
// near-simultaneous messages for the same chat can interleave and the later
// Put wins wholesale. Telegram delivers one message per chat at a time in
// practice, so the race is accepted rather than guarded. This test pins the
// last-writer-wins outcome.
func TestConcurrentPutLastWriterWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestManager(t)

	first := New(1, "/createtask", StateAwaitingCron)
	second := New(1, "/createtask", StateAwaitingPrompt)
	second.Cron = "@daily"

	if err := m.Put(ctx, first, 0); err != nil {
		t.Fatalf("Put(first) failed: %v", err)
	}
	if err := m.Put(ctx, second, 0); err != nil {
		t.Fatalf("Put(second) failed: %v", err)
	}

	sess, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.State != StateAwaitingPrompt || sess.Cron != "@daily" {
		t.Errorf("session = %+v, want the second write intact", sess)
	}
}
