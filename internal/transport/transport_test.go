package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

func TestSendSetsRequiredHeaders(t *testing.T) {
	var gotAgentID, gotProtocol, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgentID = r.Header.Get("X-Agent-ID")
		gotProtocol = r.Header.Get("X-Swarm-Protocol")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "alice")
	env := model.Envelope{MessageID: "m1", SwarmID: "swarm-1", Sender: "alice", Type: model.MessageTypeMessage, Content: "hi"}
	if err := tr.Send(context.Background(), env, srv.URL); err != nil {
		t.Fatal(err)
	}
	if gotAgentID != "alice" {
		t.Fatalf("expected X-Agent-ID alice, got %q", gotAgentID)
	}
	if gotProtocol == "" {
		t.Fatal("expected X-Swarm-Protocol header to be set")
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
}

func TestSendTreats429AsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "alice")
	err := tr.Send(context.Background(), model.Envelope{MessageID: "m1"}, srv.URL)
	delErr, ok := err.(*DeliveryError)
	if !ok {
		t.Fatalf("expected *DeliveryError, got %T", err)
	}
	if !delErr.Retryable || delErr.RetryAfter != 5*time.Second {
		t.Fatalf("unexpected delivery error: %+v", delErr)
	}
}

func TestSendTreats400AsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "alice")
	err := tr.Send(context.Background(), model.Envelope{MessageID: "m1"}, srv.URL)
	delErr, ok := err.(*DeliveryError)
	if !ok {
		t.Fatalf("expected *DeliveryError, got %T", err)
	}
	if delErr.Retryable {
		t.Fatal("expected a 400 response to be non-retryable")
	}
}

func TestNextBackoffDoublesUpToCap(t *testing.T) {
	if got := NextBackoff(1, 0); got != InitialBackoff {
		t.Fatalf("expected first attempt to use InitialBackoff, got %v", got)
	}
	if got := NextBackoff(2, 0); got != InitialBackoff*2 {
		t.Fatalf("expected second attempt to double, got %v", got)
	}
	if got := NextBackoff(20, 0); got != MaxBackoff {
		t.Fatalf("expected backoff to cap at MaxBackoff, got %v", got)
	}
}

func TestNextBackoffHonorsLongerRetryAfter(t *testing.T) {
	if got := NextBackoff(1, time.Minute); got != time.Minute {
		t.Fatalf("expected retryAfter to win when longer than backoff, got %v", got)
	}
}

func TestRequestJoinDecodesSwarmOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swarm/join" {
			t.Fatalf("expected POST to /swarm/join, got %s", r.URL.Path)
		}
		var req model.JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.AgentID != "bob" {
			t.Fatalf("expected join request body to carry agent_id bob, got %+v", req)
		}
		_ = json.NewEncoder(w).Encode(model.Swarm{SwarmID: "swarm-1", Name: "test"})
	}))
	defer srv.Close()

	tr := New(5*time.Second, "bob")
	swarm, err := tr.RequestJoin(context.Background(), model.JoinRequest{AgentID: "bob"}, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if swarm.SwarmID != "swarm-1" {
		t.Fatalf("unexpected swarm: %+v", swarm)
	}
}

func TestRequestJoinReturnsErrJoinPendingOn202(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "bob")
	_, err := tr.RequestJoin(context.Background(), model.JoinRequest{AgentID: "bob"}, srv.URL)
	if err != ErrJoinPending {
		t.Fatalf("expected ErrJoinPending, got %v", err)
	}
}

func TestRequestJoinReturnsErrorOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := New(5*time.Second, "bob")
	_, err := tr.RequestJoin(context.Background(), model.JoinRequest{AgentID: "bob"}, srv.URL)
	if err == nil {
		t.Fatal("expected an error for a rejected join request")
	}
}

func TestFetchPublicKeyCachesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"agent_id": "bob", "public_key": "bobkey=="})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "swarmd.db")
	st, err := store.NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	tr := New(5*time.Second, "alice")
	entry, err := tr.FetchPublicKey(context.Background(), st, srv.URL, "bob", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if entry.PublicKey != "bobkey==" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	cached, err := st.GetPublicKeyCache(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if cached.PublicKey != "bobkey==" {
		t.Fatalf("expected FetchPublicKey to cache the result, got %+v", cached)
	}
}
