package intel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/callbroker/internal/observe"
	"github.com/MrWong99/callbroker/pkg/types"
)

// scorePerEntity and scorePerTactic weight how much each newly observed,
// previously-unseen signal adds to a call's threat score, capped at
// maxThreatScore. Two entities and two tactics give 2*8 + 2*15 = 46, just
// under the midpoint of the 0-100 scale.
const (
	scorePerEntity = 8
	scorePerTactic = 15
	maxThreatScore = 100
)

// Accumulator holds the running, monotone-non-decreasing intelligence view
// for a single call. The zero value is not usable; use [NewAccumulator].
//
// Safe for concurrent use — a call's transcriber and intel stages may run on
// independent goroutines, both merging into the same Accumulator.
type Accumulator struct {
	mu          sync.Mutex
	entities    map[string]types.Entity
	tactics     map[types.ThreatTactic]struct{}
	score       int
	onNewEntity func(types.Entity)
}

// OnNewEntity registers fn to run, once per call, the first time each
// distinct entity is merged in. The dispatcher uses this to fire an
// asynchronous URL-reputation probe the moment a Url entity is first seen,
// without re-scanning it on every subsequent mention. fn is invoked after
// the accumulator's lock is released and must not block.
func (a *Accumulator) OnNewEntity(fn func(types.Entity)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onNewEntity = fn
}

// NewAccumulator returns an empty Accumulator ready to merge.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		entities: make(map[string]types.Entity),
		tactics:  make(map[types.ThreatTactic]struct{}),
	}
}

// Merge folds newly observed entities and tactics into the accumulator and
// returns the updated snapshot. Entities are deduplicated by [types.Entity.Key];
// an entity already known keeps its original FirstSeen. The threat score
// only ever increases.
func (a *Accumulator) Merge(entities []types.Entity, tactics []types.ThreatTactic, now time.Duration) types.IntelligenceSnapshot {
	a.mu.Lock()

	var newlySeen []types.Entity
	var newTactics []types.ThreatTactic
	for _, e := range entities {
		if _, exists := a.entities[e.Key()]; !exists {
			a.entities[e.Key()] = e
			a.score += scorePerEntity
			newlySeen = append(newlySeen, e)
		}
	}
	for _, t := range tactics {
		if _, exists := a.tactics[t]; !exists {
			a.tactics[t] = struct{}{}
			a.score += scorePerTactic
			newTactics = append(newTactics, t)
		}
	}
	if a.score > maxThreatScore {
		a.score = maxThreatScore
	}

	snap := a.snapshotLocked(now)
	cb := a.onNewEntity
	a.mu.Unlock()

	ctx := context.Background()
	m := observe.DefaultMetrics()
	for _, e := range newlySeen {
		m.RecordEntityExtracted(ctx, string(e.Type), e.Source)
	}
	for _, t := range newTactics {
		m.RecordTacticDetected(ctx, string(t))
	}

	if cb != nil {
		for _, e := range newlySeen {
			cb(e)
		}
	}
	return snap
}

// Snapshot returns the current intelligence snapshot without merging
// anything new.
func (a *Accumulator) Snapshot(now time.Duration) types.IntelligenceSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(now)
}

func (a *Accumulator) snapshotLocked(now time.Duration) types.IntelligenceSnapshot {
	entities := make([]types.Entity, 0, len(a.entities))
	for _, e := range a.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Key() < entities[j].Key() })

	tactics := make([]types.ThreatTactic, 0, len(a.tactics))
	for t := range a.tactics {
		tactics = append(tactics, t)
	}
	sort.Slice(tactics, func(i, j int) bool { return tactics[i] < tactics[j] })

	return types.IntelligenceSnapshot{
		Entities:    entities,
		Tactics:     tactics,
		ThreatScore: a.score,
		UpdatedAt:   now,
	}
}
