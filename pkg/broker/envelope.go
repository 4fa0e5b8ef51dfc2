// Package broker implements the call registry and per-call state machine at
// the heart of the live call broker: it owns the two legs of a call, relays
// audio between them, and fans transcripts and intelligence updates out to
// the analysis pipeline.
package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/callbroker/pkg/types"
)

// Kind discriminates the closed set of envelope variants carried on the
// duplex leg connection.
type Kind string

const (
	// KindAudio carries a chunk of leg audio, either direction.
	KindAudio Kind = "audio"

	// KindTranscript carries a committed transcript entry, broker→leg only.
	KindTranscript Kind = "transcript"

	// KindCoaching carries a streamed coaching suggestion fragment,
	// broker→operator leg only.
	KindCoaching Kind = "coaching"

	// KindIntel carries an intelligence snapshot update, broker→operator
	// leg only.
	KindIntel Kind = "intel"

	// KindStatus carries a CallStatus response to a status request.
	KindStatus Kind = "status"

	// KindControl carries a control-plane request, leg→broker (e.g.
	// "call_status", "end_call").
	KindControl Kind = "control"

	// KindError carries a closed-set error notification, broker→leg.
	KindError Kind = "error"

	// KindConnected is sent broker→leg the moment that leg's transport
	// attaches, before its peer has joined.
	KindConnected Kind = "connected"

	// KindPing is a leg→broker keepalive; the broker answers with KindPong.
	KindPing Kind = "ping"

	// KindPong answers a KindPing, broker→leg.
	KindPong Kind = "pong"

	// KindPeerJoined is sent broker→leg to both legs once the second leg of
	// a call attaches.
	KindPeerJoined Kind = "peer_joined"

	// KindPeerLeft is sent broker→leg to the surviving leg when the other
	// leg disconnects.
	KindPeerLeft Kind = "peer_left"

	// KindEnd is a leg→broker request to end the call immediately.
	KindEnd Kind = "end"

	// KindCallEnded is sent broker→leg to every remaining leg once the call
	// has fully ended.
	KindCallEnded Kind = "call_ended"
)

// Envelope is the tagged-variant wire message exchanged over a leg
// connection. Exactly one of the payload fields is populated, matching Kind;
// kinds that carry no data (connected, ping, pong, end) populate none.
type Envelope struct {
	Kind Kind `json:"kind"`

	Audio      *AudioPayload                `json:"audio,omitempty"`
	Transcript *types.TranscriptEntry       `json:"transcript,omitempty"`
	Coaching   *types.CoachingSuggestion    `json:"coaching,omitempty"`
	Intel      *types.IntelligenceSnapshot  `json:"intel,omitempty"`
	Status     *types.CallStatus            `json:"status,omitempty"`
	Control    *ControlPayload              `json:"control,omitempty"`
	Error      *ErrorPayload                `json:"error,omitempty"`
	Peer       *PeerPayload                 `json:"peer,omitempty"`
	CallEnded  *CallEndedPayload            `json:"call_ended,omitempty"`
}

// PeerPayload names the role a peer_joined/peer_left transition concerns.
type PeerPayload struct {
	Role types.Role `json:"role"`
}

// CallEndReason is the closed set of reasons a call_ended envelope may
// report.
type CallEndReason string

const (
	// CallEndRequested means a leg (or the control plane) explicitly asked
	// to end the call.
	CallEndRequested CallEndReason = "requested"

	// CallEndTimeout means the reconnect grace period expired while the
	// call was draining.
	CallEndTimeout CallEndReason = "timeout"

	// CallEndSlowConsumer means a leg's egress queue stayed blocked past
	// the sustained-block threshold and was forcibly disconnected.
	CallEndSlowConsumer CallEndReason = "slow_consumer"

	// CallEndInternalError means the call was torn down due to an
	// unrecoverable internal failure.
	CallEndInternalError CallEndReason = "internal_error"
)

// CallEndedPayload carries the reason and total duration of a completed call.
type CallEndedPayload struct {
	Reason     CallEndReason `json:"reason"`
	DurationMs int64         `json:"duration_ms"`
}

// AudioPayload carries one chunk of leg audio.
type AudioPayload struct {
	// Codec names the wire encoding of Data (see pkg/audio.Codec).
	Codec string `json:"codec"`

	// SampleRate and Channels describe Data before normalisation.
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`

	// Data is the raw (possibly container-wrapped) audio bytes.
	Data []byte `json:"data"`

	// Timestamp is relative to leg attach.
	Timestamp time.Duration `json:"timestamp"`
}

// ControlPayload carries a control-plane request from a leg to the broker.
type ControlPayload struct {
	// Op is the requested operation: "call_status" or "end_call".
	Op string `json:"op"`
}

// ErrorKind is the closed set of error categories surfaced to a leg.
type ErrorKind string

const (
	// ErrKindProtocol indicates a malformed or out-of-sequence envelope.
	ErrKindProtocol ErrorKind = "protocol"

	// ErrKindCollaboratorTransient indicates a retryable collaborator
	// failure; the call continues.
	ErrKindCollaboratorTransient ErrorKind = "collaborator_transient"

	// ErrKindCollaboratorFatal indicates a collaborator lane has been
	// disabled for the remainder of the call.
	ErrKindCollaboratorFatal ErrorKind = "collaborator_fatal"

	// ErrKindCallEnded indicates the call has ended and the leg should
	// disconnect.
	ErrKindCallEnded ErrorKind = "call_ended"
)

// ErrorPayload carries a closed-set error notification to a leg.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Encode marshals e to its wire JSON representation.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("broker: encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals a wire message into an Envelope and validates
// that Kind names one of the defined variants.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("broker: decode envelope: %w", err)
	}
	switch e.Kind {
	case KindAudio, KindTranscript, KindCoaching, KindIntel, KindStatus, KindControl, KindError,
		KindConnected, KindPing, KindPong, KindPeerJoined, KindPeerLeft, KindEnd, KindCallEnded:
	default:
		return Envelope{}, fmt.Errorf("broker: unknown envelope kind %q", e.Kind)
	}
	return e, nil
}
