// Package waketrigger decides, for each received envelope, whether to wake
// the local agent immediately, queue it silently, or skip it — and if
// waking, POSTs to the configured wake endpoint. Preference evaluation is
// grounded on the reference implementation's NotificationPreferences, but
// follows this protocol's normative first-match-wins rule ordering (§4.8)
// rather than the reference's max-across-all-conditions evaluation.
package waketrigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

// WakeCondition enumerates the rule types a preference set can enable.
type WakeCondition string

const (
	AnyMessage         WakeCondition = "any_message"
	DirectMention      WakeCondition = "direct_mention"
	HighPriority       WakeCondition = "high_priority"
	FromSpecificAgent  WakeCondition = "from_specific_agent"
	KeywordMatch       WakeCondition = "keyword_match"
	SwarmSystemMessage WakeCondition = "swarm_system_message"
)

// NotificationLevel is the richer three-tier internal representation
// (reference implementation's SILENT/NORMAL/URGENT) that feeds the wake
// POST's notification_level field; the protocol's outward Decision stays
// WAKE/QUEUE/SKIP.
type NotificationLevel int

const (
	LevelSilent NotificationLevel = iota
	LevelNormal
	LevelUrgent
)

func (l NotificationLevel) String() string {
	switch l {
	case LevelUrgent:
		return "urgent"
	case LevelNormal:
		return "normal"
	default:
		return "silent"
	}
}

// Decision is the outward WAKE/QUEUE/SKIP verdict for a message.
type Decision string

const (
	DecisionWake  Decision = "wake"
	DecisionQueue Decision = "queue"
	DecisionSkip  Decision = "skip"
)

// Preferences controls when a message should wake the local agent.
type Preferences struct {
	Enabled         bool
	DefaultLevel    NotificationLevel
	WakeConditions  []WakeCondition // evaluated in order; first match wins
	WatchedAgents   map[string]bool
	WatchedKeywords []string
	MutedSwarms     map[string]bool
	QuietHoursStart int // -1 disables quiet hours
	QuietHoursEnd   int
}

// DefaultPreferences mirrors the reference implementation's dataclass
// defaults: enabled, NORMAL default level, wakes on any message.
func DefaultPreferences() Preferences {
	return Preferences{
		Enabled:         true,
		DefaultLevel:    LevelNormal,
		WakeConditions:  []WakeCondition{AnyMessage},
		WatchedAgents:   map[string]bool{},
		MutedSwarms:     map[string]bool{},
		QuietHoursStart: -1,
		QuietHoursEnd:   -1,
	}
}

func (p Preferences) isQuietHours(hour int) bool {
	if p.QuietHoursStart < 0 {
		return false
	}
	start, end := p.QuietHoursStart, p.QuietHoursEnd
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (p Preferences) matchesKeyword(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range p.WatchedKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MessageContext carries the facts Evaluate needs about a received
// envelope beyond the envelope's own fields.
type MessageContext struct {
	IsSenderMuted bool
	IsSwarmMuted  bool
	CurrentHour   int
	SelfAgentID   string // this node's own agent_id, for DIRECT_MENTION (§4.8)
}

// Evaluate applies Preferences to env and ctx, returning the WAKE/QUEUE/SKIP
// decision and the NotificationLevel that would accompany a wake. Rules are
// evaluated in WakeConditions order; the first matching condition decides
// the level and evaluation stops there — this protocol's explicit
// first-match-wins fix to the reference implementation's max-across-all
// evaluation.
func Evaluate(p Preferences, env model.Envelope, ctx MessageContext) (Decision, NotificationLevel) {
	if !p.Enabled {
		return DecisionSkip, LevelSilent
	}
	if ctx.IsSenderMuted || ctx.IsSwarmMuted || p.MutedSwarms[env.SwarmID] {
		return DecisionSkip, LevelSilent
	}

	isHighPriority := env.Priority == model.PriorityHigh
	isSystem := env.Type == model.MessageTypeSystem
	isDirectMention := ctx.SelfAgentID != "" && env.Recipient == ctx.SelfAgentID

	if p.isQuietHours(ctx.CurrentHour) && !isHighPriority {
		return DecisionQueue, LevelSilent
	}

	for _, cond := range p.WakeConditions {
		switch cond {
		case AnyMessage:
			return DecisionWake, p.DefaultLevel
		case DirectMention:
			if isDirectMention {
				return DecisionWake, LevelUrgent
			}
		case HighPriority:
			if isHighPriority {
				return DecisionWake, LevelUrgent
			}
		case FromSpecificAgent:
			if p.WatchedAgents[env.Sender] {
				return DecisionWake, LevelUrgent
			}
		case KeywordMatch:
			if p.matchesKeyword(env.Content) {
				return DecisionWake, LevelUrgent
			}
		case SwarmSystemMessage:
			if isSystem {
				return DecisionWake, LevelUrgent
			}
		}
	}

	return DecisionQueue, LevelSilent
}

// Trigger POSTs the wake payload to the configured endpoint when Evaluate
// returns DecisionWake.
type Trigger struct {
	endpoint     string
	sharedSecret string
	httpClient   *http.Client
	callbacks    []func(context.Context, model.Envelope, Decision, NotificationLevel)
}

// New builds a Trigger targeting endpoint with the given request timeout.
func New(endpoint, sharedSecret string, timeout time.Duration) *Trigger {
	return &Trigger{
		endpoint:     endpoint,
		sharedSecret: sharedSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// OnWake registers a callback invoked after every Process call, regardless
// of decision — mirroring the reference implementation's notify_callbacks.
func (t *Trigger) OnWake(cb func(context.Context, model.Envelope, Decision, NotificationLevel)) {
	t.callbacks = append(t.callbacks, cb)
}

type wakePayload struct {
	MessageID         string `json:"message_id"`
	SwarmID           string `json:"swarm_id"`
	SenderID          string `json:"sender_id"`
	NotificationLevel string `json:"notification_level"`
}

// Process evaluates env against prefs and, on DecisionWake, POSTs to the
// wake endpoint. It returns the decision to the caller; the receive pipeline
// counts it in its metrics and does not store it on the inbox entry.
func (t *Trigger) Process(ctx context.Context, prefs Preferences, env model.Envelope, msgCtx MessageContext) (Decision, error) {
	decision, level := Evaluate(prefs, env, msgCtx)

	var triggerErr error
	if decision == DecisionWake {
		triggerErr = t.post(ctx, env, level)
	}

	for _, cb := range t.callbacks {
		cb(ctx, env, decision, level)
	}

	return decision, triggerErr
}

func (t *Trigger) post(ctx context.Context, env model.Envelope, level NotificationLevel) error {
	body, err := json.Marshal(wakePayload{
		MessageID:         env.MessageID,
		SwarmID:           env.SwarmID,
		SenderID:          env.Sender,
		NotificationLevel: level.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.sharedSecret != "" {
		req.Header.Set("X-Wake-Secret", t.sharedSecret)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wake endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("wake endpoint returned %d", resp.StatusCode)
	}
	return nil
}
