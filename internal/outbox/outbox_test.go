package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
	"github.com/finml-sage/agent-swarm-protocol/internal/transport"
)

type fakeSender struct {
	fail func(env model.Envelope) error
	sent []model.Envelope
}

func (f *fakeSender) Send(ctx context.Context, env model.Envelope, targetURL string) error {
	f.sent = append(f.sent, env)
	if f.fail != nil {
		return f.fail(env)
	}
	return nil
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

func TestEnqueueStampsCursorAndPersists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	env := model.Envelope{MessageID: "m1", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"}
	if err := Enqueue(ctx, st, env, "https://bob.example"); err != nil {
		t.Fatal(err)
	}

	batch, err := st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected one enqueued entry, got %d", len(batch))
	}
	if batch[0].CursorID == "" {
		t.Fatal("expected Enqueue to stamp a non-empty cursor id")
	}
}

func TestSweeperMarksDeliveredOnSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	env := model.Envelope{MessageID: "m1", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"}
	if err := Enqueue(ctx, st, env, "https://bob.example"); err != nil {
		t.Fatal(err)
	}

	sender := &fakeSender{}
	sweeper := NewSweeper(st, sender, zerolog.Nop(), time.Hour, 10)
	sweeper.sweepOnce(ctx)

	batch, err := st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected delivered entry to leave the pending batch, got %+v", batch)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", len(sender.sent))
	}
}

func TestSweeperReschedulesOnRetryableFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	env := model.Envelope{MessageID: "m1", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"}
	if err := Enqueue(ctx, st, env, "https://bob.example"); err != nil {
		t.Fatal(err)
	}

	sender := &fakeSender{fail: func(model.Envelope) error {
		return &transport.DeliveryError{Retryable: true, Err: errors.New("recipient unreachable")}
	}}
	sweeper := NewSweeper(st, sender, zerolog.Nop(), time.Hour, 10)
	sweeper.sweepOnce(ctx)

	// Immediately after one retryable failure the entry is scheduled for a
	// future retry, so it should not be due yet.
	batch, err := st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected the entry to be rescheduled into the future, got %+v", batch)
	}
}

func TestSweeperGivesUpOnNonRetryableFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	env := model.Envelope{MessageID: "m1", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"}
	if err := Enqueue(ctx, st, env, "https://bob.example"); err != nil {
		t.Fatal(err)
	}

	sender := &fakeSender{fail: func(model.Envelope) error {
		return &transport.DeliveryError{Retryable: false, Err: errors.New("recipient rejected: 400")}
	}}
	sweeper := NewSweeper(st, sender, zerolog.Nop(), time.Hour, 10)
	sweeper.sweepOnce(ctx)

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one delivery attempt for a non-retryable failure, got %d", len(sender.sent))
	}
	batch, err := st.NextOutboxBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected the entry to be terminally failed, not requeued, got %+v", batch)
	}
}
