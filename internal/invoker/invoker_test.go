package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNoopAlwaysSucceeds(t *testing.T) {
	if err := (Noop{}).Invoke(context.Background(), WakeSignal{MessageID: "m1"}); err != nil {
		t.Fatalf("expected Noop to never error, got %v", err)
	}
}

func TestWebhookPostsSignalJSON(t *testing.T) {
	var received WakeSignal
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sig := WakeSignal{MessageID: "m1", SwarmID: "swarm-1", SenderID: "alice", NotificationLevel: "urgent"}
	err := (Webhook{URL: srv.URL}).Invoke(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if received != sig {
		t.Fatalf("expected %+v, got %+v", sig, received)
	}
}

func TestWebhookErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := (Webhook{URL: srv.URL}).Invoke(context.Background(), WakeSignal{MessageID: "m1"})
	if err == nil {
		t.Fatal("expected error for a 500 response")
	}
}

type fakeConn struct {
	written []byte
	closed  bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.written = append(c.written, p...)
	return len(p), nil
}
func (c *fakeConn) Close() error { c.closed = true; return nil }

func TestSDKWritesSignalOverDial(t *testing.T) {
	conn := &fakeConn{}
	s := SDK{
		SocketPath: "/tmp/agent.sock",
		Dial: func(ctx context.Context, network, addr string) (interface {
			Write([]byte) (int, error)
			Close() error
		}, error) {
			if network != "unix" || addr != "/tmp/agent.sock" {
				t.Fatalf("unexpected dial target: %s %s", network, addr)
			}
			return conn, nil
		},
	}

	sig := WakeSignal{MessageID: "m1"}
	if err := s.Invoke(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	want, _ := json.Marshal(sig)
	if !bytes.Equal(conn.written, want) {
		t.Fatalf("expected written payload %s, got %s", want, conn.written)
	}
	if !conn.closed {
		t.Fatal("expected connection to be closed after Invoke")
	}
}

func TestSDKErrorsWithoutDialFunc(t *testing.T) {
	s := SDK{SocketPath: "/tmp/agent.sock"}
	if err := s.Invoke(context.Background(), WakeSignal{}); err == nil {
		t.Fatal("expected error when no Dial function is configured")
	}
}
