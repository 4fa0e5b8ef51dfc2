// Package dispatcher wires per-call transcription, intelligence extraction,
// and coaching together. It owns no transport or lifecycle logic of its
// own — it reacts to a gateway.Gateway's OnLegAttached hook and drives the
// rest of the analysis pipeline off the broker.Session it is handed.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/callbroker/internal/coach"
	"github.com/MrWong99/callbroker/internal/intel"
	"github.com/MrWong99/callbroker/internal/observe"
	"github.com/MrWong99/callbroker/internal/transcriber"
	"github.com/MrWong99/callbroker/pkg/broker"
	"github.com/MrWong99/callbroker/pkg/provider/llm"
	"github.com/MrWong99/callbroker/pkg/provider/persistence"
	"github.com/MrWong99/callbroker/pkg/provider/stt"
	"github.com/MrWong99/callbroker/pkg/provider/tts"
	"github.com/MrWong99/callbroker/pkg/provider/urlscan"
	"github.com/MrWong99/callbroker/pkg/provider/vad"
	"github.com/MrWong99/callbroker/pkg/types"
)

// defaultIntelConcurrency bounds concurrent analysis work for a call when
// Config.IntelConcurrency is left zero.
const defaultIntelConcurrency = 4

// audioQueueDepth is the per-leg buffered audio channel depth. A leg that
// falls this far behind its own VAD/STT processing has each newly arriving
// frame dropped while the queue is full, rather than blocking the audio
// relay path.
const audioQueueDepth = 64

// urlScanTimeout bounds how long a single asynchronous URL-reputation probe
// may run; a slow or hung scanner must never hold up a call's analysis path.
const urlScanTimeout = 10 * time.Second

// persistTimeout bounds each best-effort persistence call.
const persistTimeout = 5 * time.Second

// Config supplies the collaborators and tuning values a Dispatcher needs to
// stand up the analysis pipeline for each call.
type Config struct {
	// STT transcribes VAD-gated utterance windows for both legs.
	STT stt.Provider

	// VAD gates raw audio into utterance windows per leg.
	VAD vad.Engine

	// Coach is the LLM backing operator coaching suggestions.
	Coach llm.Provider

	// Extractor, when non-nil, enables stage B (model-assisted) intelligence
	// extraction alongside stage A's deterministic patterns. Nil disables
	// stage B; stage A always runs.
	Extractor llm.Provider

	// TTS, when non-nil, synthesises audio for each streamed coaching
	// suggestion. Nil leaves suggestions text-only.
	TTS tts.Provider

	// URLScan, when non-nil, is asked to score the reputation of every
	// distinct URL entity the first time it is observed in a call.
	URLScan urlscan.Provider

	// Persistence, when non-nil, durably records each committed transcript
	// entry and intelligence snapshot on a best-effort basis; failures are
	// logged and never interrupt the live call.
	Persistence persistence.Provider

	// IntelConcurrency bounds concurrent intelligence-extraction and
	// coaching work per call. Zero selects defaultIntelConcurrency.
	IntelConcurrency int64

	// Keywords are STT vocabulary hints applied to every leg (e.g. "OTP",
	// "UPI", "IFSC").
	Keywords []string

	// LanguageHint is the BCP-47 language hint passed to the STT provider.
	LanguageHint string
}

// Dispatcher drives the analysis pipeline for every call the gateway hands
// it. One Dispatcher serves the whole broker; it tracks per-call state
// internally and is safe for concurrent use.
type Dispatcher struct {
	cfg   Config
	coach *coach.Coach

	mu      sync.Mutex
	started map[types.CallID]struct{}
}

// New constructs a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	if cfg.IntelConcurrency <= 0 {
		cfg.IntelConcurrency = defaultIntelConcurrency
	}
	var coachOpts []coach.Option
	if cfg.TTS != nil {
		coachOpts = append(coachOpts, coach.WithTTS(cfg.TTS))
	}
	return &Dispatcher{
		cfg:     cfg,
		coach:   coach.New(cfg.Coach, coachOpts...),
		started: make(map[types.CallID]struct{}),
	}
}

// OnLegAttached starts the call's analysis pipeline the moment both legs are
// present, and is a no-op on every other attach (the first leg's attach, and
// any reattach after that). Assign this method directly to
// gateway.Gateway.OnLegAttached.
func (d *Dispatcher) OnLegAttached(sess *broker.Session, _ types.Role) {
	if sess.State() != types.CallActive {
		return
	}

	d.mu.Lock()
	if _, ok := d.started[sess.ID()]; ok {
		d.mu.Unlock()
		return
	}
	d.started[sess.ID()] = struct{}{}
	d.mu.Unlock()

	d.startCall(sess)
}

// callState tracks the in-flight coaching job for one call, so that a fresh
// scammer transcript can cancel a stale suggestion still being generated
// against older context.
type callState struct {
	mu         sync.Mutex
	cancelPrev context.CancelFunc
}

// startCall builds one transcriber.Leg per role, an intelligence accumulator
// for the call, and wires committed transcripts into extraction and
// coaching. It registers cleanup against the session's end so the per-leg
// goroutines it starts do not outlive the call.
func (d *Dispatcher) startCall(sess *broker.Session) {
	acc := intel.NewAccumulator()

	var extractorOpts []intel.ExtractorOption
	if d.cfg.Extractor != nil {
		extractorOpts = append(extractorOpts, intel.WithLLM(d.cfg.Extractor))
	}
	extractor := intel.NewExtractor(extractorOpts...)
	sem := semaphore.NewWeighted(d.cfg.IntelConcurrency)
	cs := &callState{}

	if d.cfg.URLScan != nil {
		acc.OnNewEntity(func(e types.Entity) {
			if e.Type != types.EntityURL {
				return
			}
			go d.scanURL(sess, acc, e)
		})
	}

	onTranscript := func(ctx context.Context, entry types.TranscriptEntry) {
		sess.AppendTranscript(ctx, entry)
		if d.cfg.Persistence != nil {
			go d.persistTranscript(sess.ID(), entry)
		}
		d.analyze(ctx, sess, extractor, acc, sem, cs, entry)
	}

	var stopFns []func()
	for _, role := range []types.Role{types.RoleOperator, types.RoleScammer} {
		leg, err := transcriber.NewLeg(role, d.cfg.STT, d.cfg.VAD, onTranscript,
			transcriber.WithKeywords(d.cfg.Keywords),
			transcriber.WithLanguageHint(d.cfg.LanguageHint),
		)
		if err != nil {
			slog.Error("dispatcher: new transcriber leg failed", "call_id", sess.ID(), "role", role, "err", err)
			continue
		}
		stopFns = append(stopFns, d.attachLeg(sess, role, leg))
	}

	sess.OnEndCall(func() {
		d.mu.Lock()
		delete(d.started, sess.ID())
		d.mu.Unlock()
		cs.mu.Lock()
		if cs.cancelPrev != nil {
			cs.cancelPrev()
		}
		cs.mu.Unlock()
		for _, stop := range stopFns {
			stop()
		}
	})
}

// attachLeg subscribes leg to sess's audio for role via a single per-leg
// goroutine, so that leg.HandleAudio's synchronous STT call never blocks the
// audio relay path. Returns a function that stops the goroutine.
func (d *Dispatcher) attachLeg(sess *broker.Session, role types.Role, leg *transcriber.Leg) func() {
	frames := make(chan broker.AudioPayload, audioQueueDepth)
	done := make(chan struct{})

	go func() {
		for payload := range frames {
			leg.HandleAudio(context.Background(), role, payload)
		}
		close(done)
	}()

	sess.OnAudio(func(from types.Role, payload broker.AudioPayload) {
		if from != role {
			return
		}
		select {
		case frames <- payload:
		default:
			slog.Warn("dispatcher: audio queue full, dropping frame", "call_id", sess.ID(), "role", role)
		}
	})

	return func() {
		close(frames)
		<-done
	}
}

// analyze runs entry through the call's intelligence extractor, pushes the
// merged snapshot back onto the session, persists it on a best-effort basis,
// and — for scammer-leg entries — asks the coach for a fresh suggestion.
// Acquisition of sem bounds how much of this work runs concurrently for one
// call.
func (d *Dispatcher) analyze(ctx context.Context, sess *broker.Session, extractor *intel.Extractor, acc *intel.Accumulator, sem *semaphore.Weighted, cs *callState, entry types.TranscriptEntry) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	snap := extractor.Process(ctx, entry, acc)
	sess.UpdateIntelligence(ctx, snap)

	if d.cfg.Persistence != nil {
		go d.persistIntelligence(sess.ID(), snap)
	}

	if entry.Role != types.RoleScammer {
		return
	}
	d.startSuggest(ctx, sess, cs, snap)
}

// startSuggest cancels any coaching job still in flight for this call and
// starts a fresh one against snap and the call's latest transcript.
// Intelligence extraction is never cancelled — only the coaching lane
// coalesces onto the newest scammer transcript.
func (d *Dispatcher) startSuggest(ctx context.Context, sess *broker.Session, cs *callState, snap types.IntelligenceSnapshot) {
	suggestCtx, cancel := context.WithCancel(ctx)

	cs.mu.Lock()
	if cs.cancelPrev != nil {
		cs.cancelPrev()
	}
	cs.cancelPrev = cancel
	cs.mu.Unlock()

	d.suggest(suggestCtx, sess, snap)
}

// suggest asks the coach for a suggestion given the call's transcript and
// snap, and forwards each streamed fragment to the operator leg as it
// arrives. Returns early and silently if ctx is cancelled mid-stream — that
// is the expected outcome of a newer scammer transcript coalescing onto a
// fresh coaching job.
func (d *Dispatcher) suggest(ctx context.Context, sess *broker.Session, snap types.IntelligenceSnapshot) {
	ch, err := d.coach.Suggest(ctx, sess.Transcript(), snap)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("dispatcher: coach suggest failed", "call_id", sess.ID(), "err", err)
		return
	}
	for suggestion := range ch {
		if err := sess.SendTo(ctx, types.RoleOperator, broker.Envelope{Kind: broker.KindCoaching, Coaching: &suggestion}); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("dispatcher: send coaching suggestion failed", "call_id", sess.ID(), "err", err)
		}
	}
}

// scanURL submits e's URL to the configured URL-reputation provider and, if
// it comes back suspicious or malicious, folds a TacticMaliciousURL tactic
// into acc and pushes the updated snapshot. Runs on its own goroutine per
// newly observed URL so it never blocks the primary transcript/envelope
// path.
func (d *Dispatcher) scanURL(sess *broker.Session, acc *intel.Accumulator, e types.Entity) {
	ctx, cancel := context.WithTimeout(context.Background(), urlScanTimeout)
	defer cancel()

	start := time.Now()
	result, err := d.cfg.URLScan.Scan(ctx, e.Value)
	observe.DefaultMetrics().URLScanDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "urlscan", "scan")
		slog.Warn("dispatcher: url scan failed", "call_id", sess.ID(), "url", e.Value, "err", err)
		return
	}
	if result.Verdict != urlscan.VerdictSuspicious && result.Verdict != urlscan.VerdictMalicious {
		return
	}

	snap := acc.Merge(nil, []types.ThreatTactic{types.TacticMaliciousURL}, e.FirstSeen)
	sess.UpdateIntelligence(ctx, snap)
}

// persistTranscript best-effort archives entry for callID. Failures are
// logged and otherwise ignored — persistence must never affect a live call.
func (d *Dispatcher) persistTranscript(callID types.CallID, entry types.TranscriptEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.cfg.Persistence.AppendTranscript(ctx, callID, entry); err != nil {
		slog.Warn("dispatcher: persist transcript failed", "call_id", callID, "err", err)
	}
}

// persistIntelligence best-effort archives snap for callID.
func (d *Dispatcher) persistIntelligence(callID types.CallID, snap types.IntelligenceSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.cfg.Persistence.UpdateIntelligence(ctx, callID, snap); err != nil {
		slog.Warn("dispatcher: persist intelligence failed", "call_id", callID, "err", err)
	}
}
