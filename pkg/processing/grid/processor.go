package grid

import (
	"context"
	"sort"
	"sync"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/session"
)

// startingLapWindow brackets a rolling or standing start: laps 0..4 are
// enough to find the lap before the first green flag.
const startingLapWindow = 4

// minLapsForReconstruction guards against reconstructing from data that
// is too fresh to be reliable.
const minLapsForReconstruction = 3

// LapStore loads historic per-lap records.
type LapStore interface {
	LoadByMaxLap(ctx context.Context, eventID, sessionID, maxLap int) (
		[]*model.LapRecord, error)
}

// Processor reconstructs the starting grid from historic per-lap records
// when the live green-flag capture was missed.
type Processor struct {
	sessionCtx *session.Context
	eventID    int
	store      LapStore
	l          *log.Logger

	mu        sync.Mutex
	attempted map[int]bool
}

type Option func(*Processor)

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.l = l }
}

func NewProcessor(sessionCtx *session.Context, eventID int, store LapStore,
	opts ...Option,
) *Processor {
	p := &Processor{
		sessionCtx: sessionCtx,
		eventID:    eventID,
		store:      store,
		attempted:  make(map[int]bool),
		l:          log.Default().Named("processing.grid"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetLapNumberPriorToGreen finds the earliest lap at which any car's
// recorded flag is green and returns the lap before it. Returns -1 when
// no green flag exists or green first appears on lap 0.
func GetLapNumberPriorToGreen(laps []*model.LapRecord) int {
	firstGreen := -1
	for _, lap := range laps {
		if lap.Flag != model.FlagGreen {
			continue
		}
		if firstGreen == -1 || lap.LapNumber < firstGreen {
			firstGreen = lap.LapNumber
		}
	}
	if firstGreen <= 0 {
		return -1
	}
	return firstGreen - 1
}

// LoadStartingLaps loads the historic records of laps 0..4 for a session.
func (p *Processor) LoadStartingLaps(ctx context.Context, sessionID int) (
	[]*model.LapRecord, error,
) {
	return p.store.LoadByMaxLap(ctx, p.eventID, sessionID, startingLapWindow)
}

// UpdateStartingPositionsFromHistoricLaps takes each car's overall
// position at the lap before the first green flag as its starting
// position. Returns false when no historic laps or no qualifying
// green-flag lap exist.
func (p *Processor) UpdateStartingPositionsFromHistoricLaps(ctx context.Context,
	sessionID int,
) (bool, error) {
	laps, err := p.LoadStartingLaps(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(laps) == 0 {
		return false, nil
	}
	gridLap := GetLapNumberPriorToGreen(laps)
	if gridLap < 0 {
		return false, nil
	}

	type slot struct {
		position int
		class    string
	}
	slots := make(map[string]slot)
	for _, lap := range laps {
		if lap.LapNumber != gridLap || lap.Position == nil {
			continue
		}
		if lap.Position.OverallPosition <= 0 {
			continue
		}
		slots[lap.CarNumber] = slot{
			position: lap.Position.OverallPosition,
			class:    lap.Position.Class,
		}
	}
	if len(slots) == 0 {
		return false, nil
	}

	overall := make(map[string]int, len(slots))
	numbers := make([]string, 0, len(slots))
	for num, s := range slots {
		overall[num] = s.position
		numbers = append(numbers, num)
	}
	sort.Slice(numbers, func(i, j int) bool {
		return slots[numbers[i]].position < slots[numbers[j]].position
	})
	inClass := make(map[string]int, len(slots))
	classRank := make(map[string]int)
	for _, num := range numbers {
		classRank[slots[num].class]++
		inClass[num] = classRank[slots[num].class]
	}

	if err := p.sessionCtx.SetStartingPositions(ctx, overall, inClass); err != nil {
		return false, err
	}
	p.l.Info("starting grid reconstructed from historic laps",
		log.Int("sessionId", sessionID), log.Int("gridLap", gridLap),
		log.Int("cars", len(overall)))
	return true, nil
}

// CheckHistoricLapStartingPositions is the guarded periodic entry point.
// It is a no-op returning true while positions are already populated, the
// race is too young, or the flag is not a racing flag. The reconstruction
// itself runs at most once per session id; failures surface as false, not
// as an error.
//
//nolint:gocognit // guard chain
func (p *Processor) CheckHistoricLapStartingPositions(ctx context.Context) bool {
	populated, err := p.sessionCtx.StartingPositionsPopulated(ctx)
	if err != nil {
		p.l.Warn("starting position check aborted", log.ErrorField(err))
		return false
	}
	if populated {
		return true
	}
	snap, err := p.sessionCtx.Snapshot(ctx)
	if err != nil {
		p.l.Warn("starting position check aborted", log.ErrorField(err))
		return false
	}
	if !anyCarBeyondLap(snap.CarPositions, minLapsForReconstruction) {
		return true
	}
	if !snap.CurrentFlag.IsRacingFlag() {
		return true
	}

	p.mu.Lock()
	if p.attempted[snap.SessionID] {
		p.mu.Unlock()
		return true
	}
	p.attempted[snap.SessionID] = true
	p.mu.Unlock()

	ok, err := p.UpdateStartingPositionsFromHistoricLaps(ctx, snap.SessionID)
	if err != nil {
		p.l.Error("starting grid reconstruction failed",
			log.Int("sessionId", snap.SessionID), log.ErrorField(err))
		return false
	}
	if !ok {
		p.l.Warn("no usable historic laps for starting grid",
			log.Int("sessionId", snap.SessionID))
		return false
	}
	return true
}

func anyCarBeyondLap(cars []*model.CarPosition, lap int) bool {
	for _, car := range cars {
		if car.LastLapCompleted > lap {
			return true
		}
	}
	return false
}
