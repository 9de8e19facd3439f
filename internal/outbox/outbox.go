// Package outbox queues envelopes that could not be delivered immediately
// and sweeps them on a retry schedule, so a transient failure or an
// offline recipient never drops a message the way a bare fire-and-forget
// POST would.
package outbox

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/finml-sage/agent-swarm-protocol/internal/metrics"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
	"github.com/finml-sage/agent-swarm-protocol/internal/transport"
)

// Sender delivers an envelope, returning a *transport.DeliveryError on
// failure so the sweep knows whether to retry.
type Sender interface {
	Send(ctx context.Context, env model.Envelope, targetURL string) error
}

// Enqueue records env for delivery to targetURL, stamping it with a
// monotonic ULID cursor so a consumer can page through the outbox in
// insertion order even across entries sharing a timestamp.
func Enqueue(ctx context.Context, st store.Store, env model.Envelope, targetURL string) error {
	return st.EnqueueOutbox(ctx, model.OutboxEntry{
		CursorID:    ulid.Make().String(),
		Envelope:    env,
		TargetURL:   targetURL,
		Status:      model.OutboxStatusPending,
		NextAttempt: time.Now(),
	})
}

// Sweeper periodically retries pending outbox entries whose NextAttempt has
// arrived, applying transport's exponential backoff between attempts.
type Sweeper struct {
	store    store.Store
	sender   Sender
	logger   zerolog.Logger
	interval time.Duration
	batch    int
}

// NewSweeper builds a Sweeper polling every interval for up to batch due
// entries at a time.
func NewSweeper(st store.Store, sender Sender, logger zerolog.Logger, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{store: st, sender: sender, logger: logger, interval: interval, batch: batch}
}

// Run blocks, sweeping on Sweeper's interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	entries, err := s.store.NextOutboxBatch(ctx, s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing due outbox entries")
		return
	}
	for _, entry := range entries {
		s.deliver(ctx, entry)
	}
}

func (s *Sweeper) deliver(ctx context.Context, entry model.OutboxEntry) {
	err := s.sender.Send(ctx, entry.Envelope, entry.TargetURL)
	if err == nil {
		metrics.OutboxDeliveries.WithLabelValues("delivered").Inc()
		if markErr := s.store.MarkOutboxDelivered(ctx, entry.ID); markErr != nil {
			s.logger.Error().Err(markErr).Int64("outbox_id", entry.ID).Msg("marking outbox entry delivered")
		}
		return
	}

	attempt := entry.Attempts + 1
	retryAfter := time.Duration(0)
	if delErr, ok := err.(*transport.DeliveryError); ok && !delErr.Retryable {
		attempt = transport.MaxAttempts // force terminal on next check
	} else if ok {
		retryAfter = delErr.RetryAfter
	}

	metrics.OutboxDeliveries.WithLabelValues("failed").Inc()

	if attempt >= transport.MaxAttempts {
		if markErr := s.store.MarkOutboxFailed(ctx, entry.ID, err.Error(), time.Time{}); markErr != nil {
			s.logger.Error().Err(markErr).Int64("outbox_id", entry.ID).Msg("marking outbox entry failed")
		}
		s.logger.Warn().Str("message_id", entry.Envelope.MessageID).Msg("outbox entry exhausted retries")
		return
	}

	next := time.Now().Add(transport.NextBackoff(attempt, retryAfter))
	if markErr := s.store.MarkOutboxFailed(ctx, entry.ID, err.Error(), next); markErr != nil {
		s.logger.Error().Err(markErr).Int64("outbox_id", entry.ID).Msg("rescheduling outbox entry")
	}
}
