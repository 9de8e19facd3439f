package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarmd.db")
	st, err := NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSwarmCreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	swarm := model.Swarm{SwarmID: "swarm-1", Name: "test swarm", MasterID: "alice", CreatedAt: time.Now()}
	if err := st.CreateSwarm(ctx, swarm); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetSwarm(ctx, "swarm-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "test swarm" || got.MasterID != "alice" {
		t.Fatalf("unexpected swarm: %+v", got)
	}
}

func TestGetSwarmNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetSwarm(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemberLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	member := model.Member{SwarmID: "swarm-1", AgentID: "bob", Endpoint: "https://bob.example", Status: model.MemberStatusActive, JoinedAt: time.Now()}
	if err := st.AddMember(ctx, member); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetMember(ctx, "swarm-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.MemberStatusActive {
		t.Fatalf("expected active member, got %+v", got)
	}

	if err := st.SetMemberStatus(ctx, "swarm-1", "bob", model.MemberStatusKicked); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetMember(ctx, "swarm-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.MemberStatusKicked {
		t.Fatalf("expected kicked member, got %+v", got)
	}
}

func TestListMembers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob", "carol"} {
		if err := st.AddMember(ctx, model.Member{SwarmID: "swarm-1", AgentID: id, Status: model.MemberStatusActive, JoinedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	members, err := st.ListMembers(ctx, "swarm-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
}

func TestMuteAndIsMuted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	muted, err := st.IsMuted(ctx, "swarm-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if muted {
		t.Fatal("expected bob to not be muted initially")
	}

	if err := st.AddMute(ctx, model.Mute{SwarmID: "swarm-1", AgentID: "bob", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	muted, err = st.IsMuted(ctx, "swarm-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !muted {
		t.Fatal("expected bob to be muted after AddMute")
	}

	if err := st.RemoveMute(ctx, "swarm-1", "bob"); err != nil {
		t.Fatal(err)
	}
	muted, err = st.IsMuted(ctx, "swarm-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if muted {
		t.Fatal("expected bob to be unmuted after RemoveMute")
	}
}

func TestInsertInboxIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := model.InboxEntry{
		MessageID:  "dup-1",
		SwarmID:    "swarm-1",
		Sender:     "alice",
		Type:       model.MessageTypeMessage,
		Content:    "hello",
		Status:     model.InboxStatusUnread,
		ReceivedAt: time.Now(),
	}

	inserted, err := st.InsertInbox(ctx, entry)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("expected the first insert to succeed")
	}

	inserted, err = st.InsertInbox(ctx, entry)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatal("expected a duplicate message_id insert to be ignored")
	}
}

func TestOutboxEnqueueAndBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := model.OutboxEntry{
		CursorID:    "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Envelope:    model.Envelope{MessageID: "m1", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"},
		TargetURL:   "https://bob.example",
		Status:      model.OutboxStatusPending,
		NextAttempt: time.Now().Add(-time.Minute),
	}
	if err := st.EnqueueOutbox(ctx, entry); err != nil {
		t.Fatal(err)
	}

	batch, err := st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 || batch[0].TargetURL != "https://bob.example" {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	if err := st.MarkOutboxDelivered(ctx, batch[0].ID); err != nil {
		t.Fatal(err)
	}
	batch, err = st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected delivered entry to drop out of the batch, got %+v", batch)
	}
}

func TestOutboxMarkFailedReschedulesUntilTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := model.OutboxEntry{
		CursorID:    "01ARZ3NDEKTSV4RRFFQ69G5FAW",
		Envelope:    model.Envelope{MessageID: "m2", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"},
		TargetURL:   "https://bob.example",
		Status:      model.OutboxStatusPending,
		NextAttempt: time.Now().Add(-time.Minute),
	}
	if err := st.EnqueueOutbox(ctx, entry); err != nil {
		t.Fatal(err)
	}
	batch, err := st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	id := batch[0].ID

	// A future next-attempt time reschedules the entry rather than failing it.
	if err := st.MarkOutboxFailed(ctx, id, "temporary failure", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	batch, err = st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected entry scheduled an hour out to not be due yet, got %+v", batch)
	}

	// A zero next-attempt means retries are exhausted; the entry should not
	// resurface even once its (never-arriving) reschedule time would pass.
	if err := st.MarkOutboxFailed(ctx, id, "gave up", time.Time{}); err != nil {
		t.Fatal(err)
	}
	batch, err = st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected terminally failed entry to be excluded from future batches, got %+v", batch)
	}
}

func TestPublicKeyCacheRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := model.PublicKeyCacheEntry{
		AgentID:   "bob",
		PublicKey: "base64key==",
		FetchedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := st.PutPublicKeyCache(ctx, entry); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetPublicKeyCache(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got.PublicKey != "base64key==" {
		t.Fatalf("unexpected cache entry: %+v", got)
	}
}

func TestIssuedTokenUseCountAndRevoke(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tok := model.IssuedToken{
		TokenID:   "tok-1",
		SwarmID:   "swarm-1",
		MaxUses:   2,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	if err := st.RecordIssuedToken(ctx, tok); err != nil {
		t.Fatal(err)
	}

	if err := st.IncrementTokenUse(ctx, "tok-1"); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetIssuedToken(ctx, "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UseCount != 1 {
		t.Fatalf("expected use count 1, got %d", got.UseCount)
	}

	if err := st.RevokeToken(ctx, "tok-1"); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetIssuedToken(ctx, "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Revoked {
		t.Fatal("expected token to be revoked")
	}
}
