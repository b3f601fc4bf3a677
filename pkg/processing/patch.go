package processing

import (
	"time"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Patch fields are pointers: nil means "leave untouched", a non-nil value
// is applied even when it clears a field. This keeps "explicitly cleared"
// distinguishable from "unchanged".

// assign sets *dst from src when present and different.
func assign[T comparable](dst *T, src *T) bool {
	if src == nil || *dst == *src {
		return false
	}
	*dst = *src
	return true
}

// HeartbeatPatch carries session-wide clock/flag/laps-remaining state.
type HeartbeatPatch struct {
	LapsToGo        *int
	TimeToGo        *string
	LocalTimeOfDay  *string
	RunningRaceTime *string
	Flag            *model.Flag
}

func (p *HeartbeatPatch) Area() string { return "session" }

func (p *HeartbeatPatch) Apply(state *model.SessionState) bool {
	changed := assign(&state.LapsToGo, p.LapsToGo)
	changed = assign(&state.TimeToGo, p.TimeToGo) || changed
	changed = assign(&state.LocalTimeOfDay, p.LocalTimeOfDay) || changed
	changed = assign(&state.RunningRaceTime, p.RunningRaceTime) || changed
	changed = assign(&state.CurrentFlag, p.Flag) || changed
	return changed
}

// CompetitorPatch updates the entry list and the car's static attributes.
type CompetitorPatch struct {
	Number        string
	Name          *string
	Team          *string
	Class         *string
	TransponderID *int
	Stamp         time.Time
}

func (p *CompetitorPatch) Area() string { return "entries" }

func (p *CompetitorPatch) Apply(state *model.SessionState) bool {
	if p.Number == "" {
		return false
	}
	entry := state.EntryByNumber(p.Number)
	if entry == nil {
		entry = &model.EventEntry{Number: p.Number}
		state.EventEntries = append(state.EventEntries, entry)
	}
	changed := assign(&entry.Name, p.Name)
	changed = assign(&entry.Team, p.Team) || changed
	changed = assign(&entry.Class, p.Class) || changed

	car := state.EnsureCar(p.Number)
	changed = assign(&car.Class, p.Class) || changed
	changed = assign(&car.TransponderID, p.TransponderID) || changed
	if changed {
		touch(car, p.Stamp)
	}
	return changed
}

// RaceInfoPatch carries position/lap/race-time data from grid records.
type RaceInfoPatch struct {
	Number          string
	OverallPosition *int
	Laps            *int
	TotalTime       *string
	Stamp           time.Time
}

func (p *RaceInfoPatch) Area() string { return "carPositions" }

func (p *RaceInfoPatch) Apply(state *model.SessionState) bool {
	if p.Number == "" {
		return false
	}
	car := state.EnsureCar(p.Number)
	changed := assign(&car.OverallPosition, p.OverallPosition)
	changed = assign(&car.LastLapCompleted, p.Laps) || changed
	changed = assign(&car.TotalTime, p.TotalTime) || changed
	if changed {
		touch(car, p.Stamp)
	}
	return changed
}

// BestTimePatch carries best-lap data from practice/qualifying records.
type BestTimePatch struct {
	Number   string
	BestLap  *int
	BestTime *string
	Stamp    time.Time
}

func (p *BestTimePatch) Area() string { return "carPositions" }

func (p *BestTimePatch) Apply(state *model.SessionState) bool {
	if p.Number == "" {
		return false
	}
	car := state.EnsureCar(p.Number)
	changed := assign(&car.BestLap, p.BestLap)
	changed = assign(&car.BestTime, p.BestTime) || changed
	if changed {
		touch(car, p.Stamp)
	}
	return changed
}

// LapTimePatch carries last-lap/total time from passing records.
type LapTimePatch struct {
	Number      string
	LastLapTime *string
	TotalTime   *string
	Stamp       time.Time
}

func (p *LapTimePatch) Area() string { return "carPositions" }

func (p *LapTimePatch) Apply(state *model.SessionState) bool {
	if p.Number == "" {
		return false
	}
	car := state.EnsureCar(p.Number)
	changed := assign(&car.LastLapTime, p.LastLapTime)
	changed = assign(&car.TotalTime, p.TotalTime) || changed
	if changed {
		touch(car, p.Stamp)
	}
	return changed
}

// PitPatch carries per-car pit status derived from loop passings.
type PitPatch struct {
	Number           string
	IsInPit          *bool
	IsEnteredPit     *bool
	IsExitedPit      *bool
	IsPitStartFinish *bool
	LastLoopName     *string
	PitStopCount     *int
	LastLapPitted    *int
	Stamp            time.Time
}

func (p *PitPatch) Area() string { return "carPositions" }

func (p *PitPatch) Apply(state *model.SessionState) bool {
	if p.Number == "" {
		return false
	}
	car := state.CarByNumber(p.Number)
	if car == nil {
		// passing for a car we have no position data for yet
		return false
	}
	changed := assign(&car.IsInPit, p.IsInPit)
	changed = assign(&car.IsEnteredPit, p.IsEnteredPit) || changed
	changed = assign(&car.IsExitedPit, p.IsExitedPit) || changed
	changed = assign(&car.IsPitStartFinish, p.IsPitStartFinish) || changed
	changed = assign(&car.LastLoopName, p.LastLoopName) || changed
	changed = assign(&car.PitStopCount, p.PitStopCount) || changed
	changed = assign(&car.LastLapPitted, p.LastLapPitted) || changed
	if changed {
		touch(car, p.Stamp)
	}
	return changed
}

func touch(car *model.CarPosition, stamp time.Time) {
	if !stamp.IsZero() && stamp.After(car.LastUpdated) {
		car.LastUpdated = stamp
	}
}
