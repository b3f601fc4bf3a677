package pit

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/samber/lo"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/processing"
	"github.com/redmist-racing/timing-session-manager/pkg/session"
	"github.com/redmist-racing/timing-session-manager/pkg/utils/cache"
	"github.com/redmist-racing/timing-session-manager/pkg/utils/cache/loadercache"
)

const SourceName = "pit"

// LoopLookup maps loop id to its configured metadata for one event.
type LoopLookup map[int]model.LoopMetadata

// LoopSource provides the configured loop roles for an event.
type LoopSource func(ctx context.Context, eventID int) ([]model.LoopMetadata, error)

// Processor derives per-car pit status from transponder loop passings.
// It also keeps the per-car set of lap numbers during which a pit visit
// occurred so a just-completed lap can be marked pit-inclusive even when
// the lap counter advanced before the exit passing arrived.
type Processor struct {
	sessionCtx *session.Context
	eventID    int
	loops      cache.Cache[int, LoopLookup]
	l          *log.Logger

	// pitLaps is read by the lap logger from another goroutine
	mu            sync.Mutex
	pitLaps       map[string]map[int]struct{}
	lastSessionID int
}

type Option func(*Processor)

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.l = l }
}

// WithLoopSource wires the loop metadata loader backing the refreshable
// per-event cache.
func WithLoopSource(src LoopSource) Option {
	return func(p *Processor) {
		p.loops = loadercache.New(
			loadercache.WithLoader(
				func(ctx context.Context, eventID int) (*LoopLookup, error) {
					items, err := src(ctx, eventID)
					if err != nil {
						return nil, err
					}
					lookup := make(LoopLookup, len(items))
					for _, item := range items {
						lookup[item.LoopID] = item
					}
					return &lookup, nil
				}),
			loadercache.WithExpiration[int, LoopLookup](time.Hour),
			loadercache.WithLogger[int, LoopLookup](log.Default().Named("pit.loops")),
		)
	}
}

func NewProcessor(sessionCtx *session.Context, eventID int, opts ...Option) *Processor {
	p := &Processor{
		sessionCtx: sessionCtx,
		eventID:    eventID,
		pitLaps:    make(map[string]map[int]struct{}),
		l:          log.Default().Named("processing.pit"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loops == nil {
		p.loops = loadercache.New[int, LoopLookup]()
	}
	return p
}

func (p *Processor) Process(ctx context.Context, msg *model.TimingMessage) (
	*processing.SessionStateUpdate, error,
) {
	switch msg.Tag {
	case model.TagEventChanged:
		p.processEventChanged(ctx, msg)
		return nil, nil
	case model.TagLoopPassing:
		return p.processPassings(ctx, msg)
	default:
		return nil, nil
	}
}

// event-changed is a configuration reload trigger, never a state patch
func (p *Processor) processEventChanged(ctx context.Context, msg *model.TimingMessage) {
	eventID, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload)))
	if err != nil {
		p.l.Warn("unparsable event-changed payload",
			log.String("payload", string(msg.Payload)))
		return
	}
	if eventID != p.eventID {
		return
	}
	p.loops.Invalidate(ctx, p.eventID)
	if _, err := p.loops.Get(ctx, p.eventID); err != nil {
		p.l.Error("loop metadata refresh failed", log.ErrorField(err))
	}
}

//nolint:funlen,gocognit // single pass over the deduped passings
func (p *Processor) processPassings(ctx context.Context, msg *model.TimingMessage) (
	*processing.SessionStateUpdate, error,
) {
	var passings []model.Passing
	if err := oj.Unmarshal(msg.Payload, &passings); err != nil {
		p.l.Warn("unparsable passings payload", log.ErrorField(err))
		return nil, nil
	}
	if len(passings) == 0 {
		return nil, nil
	}
	latest := latestPerTransponder(passings)

	transponders, err := p.sessionCtx.TransponderLookup(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := p.sessionCtx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p.resetOnSessionChange(snap.SessionID)
	lookup := p.loopLookup(ctx)

	update := &processing.SessionStateUpdate{Source: SourceName}
	for _, passing := range latest {
		number := transponders[passing.TransponderID]
		if number == "" {
			// transponder of a car we don't know, skip without error
			continue
		}
		car := snap.CarByNumber(number)
		if car == nil {
			continue
		}
		meta, haveMeta := lookup[passing.LoopID]

		inPit := passing.IsInPit || meta.Role.IsPitAdjacent()
		patch := &processing.PitPatch{Number: number, Stamp: msg.Timestamp}
		patch.IsInPit = diff(car.IsInPit, inPit)
		patch.IsEnteredPit = diff(car.IsEnteredPit, meta.Role == model.LoopRolePitIn)
		patch.IsExitedPit = diff(car.IsExitedPit, meta.Role == model.LoopRolePitExit)
		patch.IsPitStartFinish = diff(car.IsPitStartFinish,
			meta.Role == model.LoopRolePitStartFinish)
		if haveMeta && meta.Role == model.LoopRoleOther {
			name := meta.Name
			if name == car.LastLoopName {
				// same loop again: clear, signaling no change event this cycle
				name = ""
			}
			patch.LastLoopName = diff(car.LastLoopName, name)
		}
		if inPit && !car.IsInPit {
			pitLap := car.LastLapCompleted + 1
			p.recordPitLap(number, pitLap)
			patch.PitStopCount = diff(car.PitStopCount, car.PitStopCount+1)
			patch.LastLapPitted = diff(car.LastLapPitted, pitLap)
		}
		if patch.IsInPit != nil || patch.IsEnteredPit != nil ||
			patch.IsExitedPit != nil || patch.IsPitStartFinish != nil ||
			patch.LastLoopName != nil || patch.PitStopCount != nil ||
			patch.LastLapPitted != nil {
			update.Patches = append(update.Patches, patch)
		}
	}
	if update.Empty() {
		return nil, nil
	}
	return update, nil
}

func (p *Processor) loopLookup(ctx context.Context) LoopLookup {
	lookup, err := p.loops.Get(ctx, p.eventID)
	if err != nil {
		// degrade to no metadata, the raw pit flags still work
		p.l.Warn("loop metadata unavailable", log.ErrorField(err))
		return LoopLookup{}
	}
	return *lookup
}

func (p *Processor) resetOnSessionChange(sessionID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sessionID != p.lastSessionID {
		p.pitLaps = make(map[string]map[int]struct{})
		p.lastSessionID = sessionID
	}
}

func (p *Processor) recordPitLap(number string, lap int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	laps, ok := p.pitLaps[number]
	if !ok {
		laps = make(map[int]struct{})
		p.pitLaps[number] = laps
	}
	laps[lap] = struct{}{}
}

// DecorateForLog returns a copy of car with LapIncludedPit resolved
// against the pit-lap set: explicitly true when the car's current lap saw
// a pit visit, explicitly false otherwise, even when it was true before.
func (p *Processor) DecorateForLog(car *model.CarPosition) *model.CarPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	dup := car.Clone()
	_, included := p.pitLaps[car.Number][car.LastLapCompleted]
	dup.LapIncludedPit = included
	return dup
}

// latestPerTransponder keeps the most recent passing per transponder,
// ordered by transponder id for deterministic patch order.
func latestPerTransponder(passings []model.Passing) []model.Passing {
	byTransponder := make(map[int]model.Passing)
	for _, passing := range passings {
		cur, ok := byTransponder[passing.TransponderID]
		if !ok || passing.TimestampUTC.After(cur.TimestampUTC) {
			byTransponder[passing.TransponderID] = passing
		}
	}
	ids := lo.Keys(byTransponder)
	sort.Ints(ids)
	return lo.Map(ids, func(id int, _ int) model.Passing {
		return byTransponder[id]
	})
}

func diff[T comparable](cur, val T) *T {
	if cur == val {
		return nil
	}
	return &val
}
