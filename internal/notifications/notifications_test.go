package notifications

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

type fakeSender struct {
	err  error
	sent int
}

func (f *fakeSender) Send(ctx context.Context, env model.Envelope, targetURL string) error {
	f.sent++
	return f.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarmd.db")
	st, err := store.NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func generateKeypair(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func TestNotifyRecordsEmittedNoticeInLocalInbox(t *testing.T) {
	st := newTestStore(t)
	sender := &fakeSender{}
	n := New(sender, st, generateKeypair(t), "alice")

	n.Notify(context.Background(), "swarm-1", EventKicked, "bob", model.Member{AgentID: "bob", Endpoint: "https://bob.example"})

	if sender.sent != 1 {
		t.Fatalf("expected one immediate delivery attempt, got %d", sender.sent)
	}

	batch, err := st.NextOutboxBatch(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected no outbox fallback on successful delivery, got %+v", batch)
	}

	inbox, err := st.ListInbox(context.Background(), "swarm-1", 10, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected the emitted notice in the local inbox, got %d entries", len(inbox))
	}
}

func TestNotifyFallsBackToOutboxOnDeliveryFailure(t *testing.T) {
	st := newTestStore(t)
	sender := &fakeSender{err: errors.New("connection refused")}
	n := New(sender, st, generateKeypair(t), "alice")

	n.Notify(context.Background(), "swarm-1", EventKicked, "bob", model.Member{AgentID: "bob", Endpoint: "https://bob.example"})

	batch, err := st.NextOutboxBatch(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected the failed notice to fall back to the outbox, got %+v", batch)
	}
	if batch[0].TargetURL != "https://bob.example" {
		t.Fatalf("unexpected outbox target: %+v", batch[0])
	}
}

func TestNotifyContentIsMachineParseableJSON(t *testing.T) {
	st := newTestStore(t)
	sender := &fakeSender{}
	n := New(sender, st, generateKeypair(t), "alice")

	n.Notify(context.Background(), "swarm-1", EventKicked, "bob", model.Member{AgentID: "bob", Endpoint: "https://bob.example"})

	inbox, err := st.ListInbox(context.Background(), "swarm-1", 10, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected one recorded notice in the sender's own inbox, got %d", len(inbox))
	}

	var content model.SystemContent
	if err := json.Unmarshal([]byte(inbox[0].Content), &content); err != nil {
		t.Fatalf("expected notification content to be valid JSON, got %q: %v", inbox[0].Content, err)
	}
	if content.Action != model.SystemActionMemberKicked {
		t.Fatalf("expected action %q, got %q", model.SystemActionMemberKicked, content.Action)
	}
	if content.SwarmID != "swarm-1" || content.AgentID != "bob" {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestBroadcastSkipsSelf(t *testing.T) {
	st := newTestStore(t)
	sender := &fakeSender{}
	n := New(sender, st, generateKeypair(t), "alice")

	members := []model.Member{
		{AgentID: "alice", Endpoint: "https://alice.example"},
		{AgentID: "bob", Endpoint: "https://bob.example"},
		{AgentID: "carol", Endpoint: "https://carol.example"},
	}
	n.Broadcast(context.Background(), "swarm-1", EventMemberLeft, "alice", members)

	if sender.sent != 2 {
		t.Fatalf("expected broadcast to skip the emitting agent, got %d sends", sender.sent)
	}
}
