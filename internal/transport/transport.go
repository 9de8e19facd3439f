// Package transport delivers signed envelopes to remote swarm members over
// HTTP, and supplies the exponential backoff schedule the outbox sweeper
// retries with and a public-key fetch-and-cache helper — grounded on the reference Go client's doRequest/
// signRequest pattern (clients/go/aicq/client.go in the retrieval pack).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

// ErrJoinPending is returned by RequestJoin when the master accepted the
// request but the swarm requires approval (§4.5): the caller is now a
// pending member, not yet active.
var ErrJoinPending = errors.New("join request accepted, pending master approval")

// Retry policy constants (§4.6): 500ms initial backoff doubling to a 30s
// cap, five attempts before the outbox sweeper gives up and marks the entry
// failed, after which it is not swept again.
const (
	InitialBackoff = 500 * time.Millisecond
	MaxBackoff     = 30 * time.Second
	MaxAttempts    = 5
)

// Transport sends signed envelopes to remote node endpoints.
type Transport struct {
	httpClient *http.Client
	selfID     string
}

// New builds a Transport with the given per-request timeout. selfID is sent
// on every outbound request as X-Agent-ID so the recipient's receive
// pipeline can authorize it (§4.7 step 1/6).
func New(timeout time.Duration, selfID string) *Transport {
	return &Transport{httpClient: &http.Client{Timeout: timeout}, selfID: selfID}
}

// Send POSTs env as JSON to targetURL + "/swarm/message".
func (t *Transport) Send(ctx context.Context, env model.Envelope, targetURL string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/swarm/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", t.selfID)
	req.Header.Set("X-Swarm-Protocol", model.ProtocolVersion)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &DeliveryError{Retryable: true, RetryAfter: retryAfter(resp), Err: fmt.Errorf("rate limited by recipient")}
	case resp.StatusCode >= 500:
		return &DeliveryError{Retryable: true, Err: fmt.Errorf("recipient returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &DeliveryError{Retryable: false, Err: fmt.Errorf("recipient rejected envelope: %d", resp.StatusCode)}
	}
	return nil
}

// RequestJoin POSTs a self-attested model.JoinRequest to targetURL +
// "/swarm/join" — the actual wire call a joining agent makes to a remote
// swarm's master (§4.5). A 200 response decodes the joined swarm; a 202
// response means the join is pending master approval (ErrJoinPending); any
// other status is a generic join failure.
func (t *Transport) RequestJoin(ctx context.Context, req model.JoinRequest, targetURL string) (*model.Swarm, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling join request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/swarm/join", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Agent-ID", t.selfID)
	httpReq.Header.Set("X-Swarm-Protocol", model.ProtocolVersion)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("join request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var swarm model.Swarm
		if err := json.NewDecoder(resp.Body).Decode(&swarm); err != nil {
			return nil, fmt.Errorf("decoding join response: %w", err)
		}
		return &swarm, nil
	case resp.StatusCode == http.StatusAccepted:
		return nil, ErrJoinPending
	default:
		return nil, fmt.Errorf("join request rejected: %d", resp.StatusCode)
	}
}

// retryAfter parses X-RateLimit-Reset or Retry-After from a 429 response.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(unix, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

// DeliveryError carries whether a failed Send should be retried and, if the
// recipient signaled a specific backoff, how long to wait before the next
// attempt.
type DeliveryError struct {
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string { return e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

// NextBackoff computes the delay before attempt number `attempt` (1-based),
// doubling from InitialBackoff and capping at MaxBackoff, honoring a
// recipient-specified retryAfter when longer.
func NextBackoff(attempt int, retryAfter time.Duration) time.Duration {
	backoff := InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
			break
		}
	}
	if retryAfter > backoff {
		return retryAfter
	}
	return backoff
}
