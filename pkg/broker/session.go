package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callbroker/internal/observe"
	"github.com/MrWong99/callbroker/pkg/types"
)

// ErrInvalidRole is returned when a caller supplies a role other than
// types.RoleOperator or types.RoleScammer.
var ErrInvalidRole = errors.New("broker: invalid role")

// ErrRoleAlreadyAttached is returned by Attach when the role's leg is
// currently live (not draining).
var ErrRoleAlreadyAttached = errors.New("broker: role already attached")

// ErrSessionEnded is returned by any operation on a session past CallEnded.
var ErrSessionEnded = errors.New("broker: session has ended")

// AudioObserver is notified of every audio chunk relayed through a session,
// as received from the leg and before any normalisation. The streaming
// transcriber subscribes one per leg.
type AudioObserver func(role types.Role, payload AudioPayload)

// SessionOption configures a [Session] at construction time.
type SessionOption func(*Session)

// WithEgressQueueCapacity overrides the bounded per-leg egress queue
// capacity every leg of this session is built with. Default
// [DefaultEgressQueueCapacity].
func WithEgressQueueCapacity(n int) SessionOption {
	return func(s *Session) { s.egressCapacity = n }
}

// Session is one live call: its two legs, lifecycle state, and session log.
// All exported methods are safe for concurrent use.
type Session struct {
	id types.CallID

	mu             sync.Mutex
	state          types.CallState
	legs           map[types.Role]*Leg
	startedAt      time.Time
	lastActivity   time.Time
	transcript     []types.TranscriptEntry
	intel          types.IntelligenceSnapshot
	drainTimer     *time.Timer
	reconnectGrace time.Duration
	egressCapacity int
	wasActive      bool

	audioObservers []AudioObserver
	endListeners   []func()

	onEnded func(types.CallID)
}

// NewSession creates a session in CallForming state with no legs attached.
func NewSession(id types.CallID, reconnectGrace time.Duration, onEnded func(types.CallID), opts ...SessionOption) *Session {
	if reconnectGrace <= 0 {
		reconnectGrace = DefaultReconnectGrace
	}
	s := &Session{
		id:             id,
		state:          types.CallForming,
		legs:           make(map[types.Role]*Leg),
		startedAt:      time.Now(),
		lastActivity:   time.Now(),
		reconnectGrace: reconnectGrace,
		onEnded:        onEnded,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the call identifier.
func (s *Session) ID() types.CallID { return s.id }

// OnAudio registers an observer invoked for every audio frame relayed
// through the session, for as long as the session is active. Must be called
// before the producing leg starts sending audio to avoid missing frames.
func (s *Session) OnAudio(obs AudioObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioObservers = append(s.audioObservers, obs)
}

// OnEndCall registers fn to run once the session reaches CallEnded, after
// the registry's own eviction callback. The analysis dispatcher uses this to
// release its per-call goroutines and accumulators; fn must not block.
func (s *Session) OnEndCall(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endListeners = append(s.endListeners, fn)
}

// Attach binds transport as role's leg. Transitions CallForming->CallActive
// once both legs are present, or cancels a pending drain and returns to
// CallActive if role is reattaching within its grace period. Emits
// "connected" to the first leg to attach and "peer_joined" to both legs once
// the second attaches.
func (s *Session) Attach(role types.Role, transport Transport) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	s.mu.Lock()

	if s.state == types.CallEnded {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if existing, ok := s.legs[role]; ok && s.state != types.CallDraining {
		_ = existing
		s.mu.Unlock()
		return ErrRoleAlreadyAttached
	}

	leg := NewLeg(role, transport, s.egressCapacity)
	leg.OnSlowConsumer(func() { s.endSlowConsumer(role) })
	s.legs[role] = leg
	s.lastActivity = time.Now()

	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}

	firstLeg := len(s.legs) == 1
	bothLegsPresent := len(s.legs) == 2
	if bothLegsPresent {
		s.state = types.CallActive
		s.wasActive = true
	} else {
		s.state = types.CallForming
	}

	var peer *Leg
	if bothLegsPresent {
		peer = s.legs[otherRole(role)]
	}
	state := s.state
	s.mu.Unlock()

	slog.Info("broker: leg attached", "call_id", s.id, "role", role, "state", state)

	ctx := context.Background()
	m := observe.DefaultMetrics()
	m.ActiveLegs.Add(ctx, 1)
	switch {
	case firstLeg:
		_ = leg.Send(ctx, Envelope{Kind: KindConnected})
	case bothLegsPresent:
		m.ActiveCalls.Add(ctx, 1)
		_ = leg.Send(ctx, Envelope{Kind: KindPeerJoined, Peer: &PeerPayload{Role: otherRole(role)}})
		if peer != nil {
			_ = peer.Send(ctx, Envelope{Kind: KindPeerJoined, Peer: &PeerPayload{Role: role}})
		}
	}
	return nil
}

// Detach removes role's leg. Unless the call has already ended, the session
// enters CallDraining and starts the reconnect grace timer, even when no leg
// remains; a surviving leg is notified with "peer_left". If the timer
// expires before the role reattaches, the call ends with reason "timeout".
func (s *Session) Detach(role types.Role) {
	s.mu.Lock()

	leg, ok := s.legs[role]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.legs, role)
	_ = leg.Close()

	if s.state == types.CallEnded {
		s.mu.Unlock()
		return
	}

	s.state = types.CallDraining
	grace := s.reconnectGrace
	survivor := s.legs[otherRole(role)]
	s.drainTimer = time.AfterFunc(grace, func() {
		s.mu.Lock()
		stillDraining := s.state == types.CallDraining
		s.mu.Unlock()
		if stillDraining {
			slog.Info("broker: reconnect grace expired, ending call", "call_id", s.id, "role", role)
			s.End(CallEndTimeout)
		}
	})
	s.mu.Unlock()

	observe.DefaultMetrics().ActiveLegs.Add(context.Background(), -1)

	if survivor != nil {
		_ = survivor.Send(context.Background(), Envelope{Kind: KindPeerLeft, Peer: &PeerPayload{Role: role}})
	}

	slog.Info("broker: leg detached", "call_id", s.id, "role", role)
}

// endSlowConsumer is wired as the slow-consumer handler on every leg this
// session creates. It ends the call with reason "slow_consumer"; the
// call_ended notification naturally reaches only the surviving leg, since
// the slow leg's own queue is what failed to drain.
func (s *Session) endSlowConsumer(role types.Role) {
	slog.Warn("broker: leg declared slow consumer, ending call", "call_id", s.id, "role", role)
	s.End(CallEndSlowConsumer)
}

// RelayAudio forwards payload from the given leg's role to the other leg (if
// attached) and fans it out to every registered AudioObserver.
func (s *Session) RelayAudio(ctx context.Context, from types.Role, payload AudioPayload) error {
	s.mu.Lock()
	other := otherRole(from)
	dest, destOK := s.legs[other]
	observers := append([]AudioObserver(nil), s.audioObservers...)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	for _, obs := range observers {
		obs(from, payload)
	}

	if !destOK {
		return nil
	}
	if err := dest.Send(ctx, Envelope{Kind: KindAudio, Audio: &payload}); err != nil {
		return fmt.Errorf("broker: relay audio: %w", err)
	}
	return nil
}

// SendTo delivers env to role's leg, if attached. A missing leg is not an
// error — callers may address a leg that disconnected mid-stage.
func (s *Session) SendTo(ctx context.Context, role types.Role, env Envelope) error {
	s.mu.Lock()
	leg, ok := s.legs[role]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return leg.Send(ctx, env)
}

// AppendTranscript records a committed transcript entry on the session log
// and forwards it to the operator leg.
func (s *Session) AppendTranscript(ctx context.Context, entry types.TranscriptEntry) {
	s.mu.Lock()
	s.transcript = append(s.transcript, entry)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	_ = s.SendTo(ctx, types.RoleOperator, Envelope{Kind: KindTranscript, Transcript: &entry})
}

// UpdateIntelligence merges snap into the session's running intelligence
// snapshot (the caller is expected to have already computed the monotone
// merge) and forwards it to the operator leg.
func (s *Session) UpdateIntelligence(ctx context.Context, snap types.IntelligenceSnapshot) {
	s.mu.Lock()
	s.intel = snap
	s.mu.Unlock()

	_ = s.SendTo(ctx, types.RoleOperator, Envelope{Kind: KindIntel, Intel: &snap})
}

// Intelligence returns the current intelligence snapshot.
func (s *Session) Intelligence() types.IntelligenceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intel
}

// Transcript returns a copy of the session's transcript log so far.
func (s *Session) Transcript() []types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Status returns a CallStatus snapshot suitable for the call_status RPC.
func (s *Session) Status() types.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := make([]types.Role, 0, len(s.legs))
	for r := range s.legs {
		roles = append(roles, r)
	}
	return types.CallStatus{
		CallID:       s.id,
		State:        s.state,
		LegsPresent:  roles,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() types.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// End transitions the session to CallEnded for the given reason, notifies
// every remaining leg with a "call_ended" envelope, closes their transports,
// and invokes the registry eviction callback. Safe to call more than once;
// only the first call has any effect.
func (s *Session) End(reason CallEndReason) {
	s.mu.Lock()
	if s.state == types.CallEnded {
		s.mu.Unlock()
		return
	}
	s.state = types.CallEnded
	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}
	durationMs := time.Since(s.startedAt).Milliseconds()
	legs := s.legs
	s.legs = make(map[types.Role]*Leg)
	listeners := s.endListeners
	s.endListeners = nil
	wasActive := s.wasActive
	s.mu.Unlock()

	payload := &CallEndedPayload{Reason: reason, DurationMs: durationMs}
	ctx := context.Background()
	for _, leg := range legs {
		_ = leg.Send(ctx, Envelope{Kind: KindCallEnded, CallEnded: payload})
		_ = leg.Close()
		observe.DefaultMetrics().ActiveLegs.Add(ctx, -1)
	}
	if wasActive {
		observe.DefaultMetrics().RecordCallEnded(ctx, string(reason), time.Duration(durationMs*int64(time.Millisecond)).Seconds())
		observe.DefaultMetrics().ActiveCalls.Add(ctx, -1)
	}

	slog.Info("broker: call ended", "call_id", s.id, "reason", reason, "duration_ms", durationMs)
	if s.onEnded != nil {
		s.onEnded(s.id)
	}
	for _, fn := range listeners {
		fn()
	}
}

func otherRole(r types.Role) types.Role {
	if r == types.RoleOperator {
		return types.RoleScammer
	}
	return types.RoleOperator
}
