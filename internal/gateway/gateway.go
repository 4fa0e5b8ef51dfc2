// Package gateway wires the broker registry to HTTP: the websocket-accept
// route each leg dials into, plus plain JSON endpoints for call status.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/callbroker/internal/framing"
	"github.com/MrWong99/callbroker/pkg/broker"
	"github.com/MrWong99/callbroker/pkg/types"
)

// Gateway owns the call registry and the HTTP surface operators and the
// scammer-side capture client use to join a call.
type Gateway struct {
	registry *broker.Registry

	// OnLegAttached is invoked after a leg successfully attaches to a
	// session, with the session and the role that just joined. The
	// dispatcher wiring (transcriber/intel/coach) subscribes here to start
	// per-call analysis the first time a session goes active.
	OnLegAttached func(sess *broker.Session, role types.Role)
}

// New creates a Gateway backed by registry.
func New(registry *broker.Registry) *Gateway {
	return &Gateway{registry: registry}
}

// Routes registers the gateway's handlers on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/call/", g.handleCall)
	mux.HandleFunc("/v1/calls", g.handleListCalls)
}

// handleCall upgrades the request to a websocket and attaches it as the
// requested role's leg of the named call, creating the call if this is the
// first leg to join.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	callID := types.CallID(strings.TrimPrefix(r.URL.Path, "/v1/call/"))
	if callID == "" {
		http.Error(w, "missing call_id", http.StatusBadRequest)
		return
	}

	role := types.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		http.Error(w, "role must be \"operator\" or \"scammer\"", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"callbroker.v1"},
	})
	if err != nil {
		slog.Error("gateway: websocket accept failed", "call_id", callID, "role", role, "err", err)
		return
	}

	transport := framing.NewWSTransport(conn)
	sess := g.registry.GetOrCreate(callID)

	if err := sess.Attach(role, transport); err != nil {
		slog.Warn("gateway: attach failed", "call_id", callID, "role", role, "err", err)
		_ = transport.CloseWithError(err.Error())
		return
	}
	slog.Info("gateway: leg joined", "call_id", callID, "role", role, "state", sess.State())

	if g.OnLegAttached != nil {
		g.OnLegAttached(sess, role)
	}

	g.serveLeg(r.Context(), sess, role, transport)
}

// serveLeg runs the read loop for one leg's transport until it disconnects
// or the request context is cancelled, relaying audio and dispatching
// control-plane requests.
func (g *Gateway) serveLeg(ctx context.Context, sess *broker.Session, role types.Role, transport *framing.WSTransport) {
	defer func() {
		sess.Detach(role)
		_ = transport.Close()
	}()

	for {
		env, err := transport.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("gateway: leg recv ended", "call_id", sess.ID(), "role", role, "err", err)
			}
			return
		}

		switch env.Kind {
		case broker.KindAudio:
			if env.Audio == nil {
				continue
			}
			if err := sess.RelayAudio(ctx, role, *env.Audio); err != nil {
				slog.Warn("gateway: relay audio failed", "call_id", sess.ID(), "role", role, "err", err)
			}
		case broker.KindControl:
			g.handleControl(ctx, sess, role, env)
		case broker.KindPing:
			_ = sess.SendTo(ctx, role, broker.Envelope{Kind: broker.KindPong})
		case broker.KindEnd:
			sess.End(broker.CallEndRequested)
		default:
			slog.Debug("gateway: ignoring leg->broker envelope kind", "kind", env.Kind)
		}
	}
}

// handleControl services a leg->broker control-plane request.
func (g *Gateway) handleControl(ctx context.Context, sess *broker.Session, role types.Role, env broker.Envelope) {
	if env.Control == nil {
		return
	}
	switch env.Control.Op {
	case "call_status":
		status := sess.Status()
		_ = sess.SendTo(ctx, role, broker.Envelope{Kind: broker.KindStatus, Status: &status})
	case "end_call":
		sess.End(broker.CallEndRequested)
	default:
		_ = sess.SendTo(ctx, role, broker.Envelope{Kind: broker.KindError, Error: &broker.ErrorPayload{
			Kind:    broker.ErrKindProtocol,
			Message: "unknown control op: " + env.Control.Op,
		}})
	}
}

// handleListCalls serves a JSON snapshot of every live call.
func (g *Gateway) handleListCalls(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.registry.List()); err != nil {
		slog.Error("gateway: encode call list failed", "err", err)
	}
}
