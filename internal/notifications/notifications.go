// Package notifications emits the fire-and-forget system envelopes the
// swarm's members expect on membership-lifecycle events.
package notifications

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/envelope"
	"github.com/finml-sage/agent-swarm-protocol/internal/model"
	"github.com/finml-sage/agent-swarm-protocol/internal/outbox"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

// Event names the lifecycle notification being emitted; it maps directly
// onto a model.SystemAction for the envelope's machine-parseable content,
// except for EventKicked, which is the kicked agent's own personal notice
// for the member_kicked action rather than a distinct action of its own.
type Event string

const (
	EventMemberJoined   Event = "member_joined"
	EventMemberLeft     Event = "member_left"
	EventMemberKicked   Event = "member_kicked"
	EventMasterChanged  Event = "master_changed"
	EventSwarmDissolved Event = "swarm_dissolved"
	EventMemberApproved Event = "member_approved" // sent to the newly-approved agent
	EventKicked         Event = "kicked"          // sent to the kicked agent itself
)

func (e Event) action() model.SystemAction {
	if e == EventKicked {
		return model.SystemActionMemberKicked
	}
	return model.SystemAction(e)
}

// Sender delivers a signed system envelope to recipient; implemented by
// internal/transport.Transport.
type Sender interface {
	Send(ctx context.Context, env model.Envelope, targetURL string) error
}

// Notifier builds and fans out lifecycle system messages. Per §4.11, every
// emitted notice is recorded in the local inbox (the node's own durable
// record that the event happened) and, when immediate delivery to a remote
// member fails, handed to the outbox for the sweeper to retry rather than
// dropped.
type Notifier struct {
	sender Sender
	store  store.Store
	priv   ed25519.PrivateKey
	selfID string
}

// New builds a Notifier signing as selfID with priv.
func New(sender Sender, st store.Store, priv ed25519.PrivateKey, selfID string) *Notifier {
	return &Notifier{sender: sender, store: st, priv: priv, selfID: selfID}
}

func (n *Notifier) emit(ctx context.Context, swarmID string, event Event, subjectAgentID string, recipient model.Member) {
	body, err := json.Marshal(model.SystemContent{
		Action:  event.action(),
		SwarmID: swarmID,
		AgentID: subjectAgentID,
	})
	if err != nil {
		return
	}

	env, err := envelope.New(n.priv, swarmID, n.selfID, recipient.AgentID, model.MessageTypeSystem, string(body), nil, "")
	if err != nil {
		return
	}

	_, _ = n.store.InsertInbox(ctx, model.InboxEntry{
		MessageID:  env.MessageID,
		SwarmID:    env.SwarmID,
		Sender:     env.Sender,
		Recipient:  env.Recipient,
		Type:       env.Type,
		Content:    env.Content,
		Status:     model.InboxStatusUnread,
		ReceivedAt: time.Now(),
	})

	if err := n.sender.Send(ctx, env, recipient.Endpoint); err != nil {
		_ = outbox.Enqueue(ctx, n.store, env, recipient.Endpoint)
	}
}

// Broadcast emits event to every member in recipients, retrying through the
// outbox on immediate-delivery failure instead of swallowing the error.
// subjectAgentID is the agent_id the lifecycle event is about (§4.5).
func (n *Notifier) Broadcast(ctx context.Context, swarmID string, event Event, subjectAgentID string, recipients []model.Member) {
	for _, member := range recipients {
		if member.AgentID == n.selfID {
			continue
		}
		n.emit(ctx, swarmID, event, subjectAgentID, member)
	}
}

// Notify sends a single system envelope to one member, e.g. informing a
// kicked agent directly. subjectAgentID is the agent_id the event is about.
func (n *Notifier) Notify(ctx context.Context, swarmID string, event Event, subjectAgentID string, recipient model.Member) {
	n.emit(ctx, swarmID, event, subjectAgentID, recipient)
}
