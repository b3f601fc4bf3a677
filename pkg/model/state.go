package model

import (
	"time"

	"github.com/samber/lo"
)

// InvalidPosition marks position information that is not available.
const InvalidPosition = -999

// EventEntry is a signed up competitor as reported by the timing system.
// Entries may differ from the cars that actually show up on track.
type EventEntry struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Team   string `json:"team"`
	Class  string `json:"class"`
}

// CarPosition is the per-car status within a session.
// Gap/Difference and the time columns are kept as formatted strings since
// that is the precision the upstream feeds provide.
type CarPosition struct {
	Number                       string    `json:"number"`
	TransponderID                int       `json:"transponderId"`
	Class                        string    `json:"class"`
	BestTime                     string    `json:"bestTime"`
	BestLap                      int       `json:"bestLap"`
	IsBestTime                   bool      `json:"isBestTime"`
	IsBestTimeClass              bool      `json:"isBestTimeClass"`
	InClassGap                   string    `json:"inClassGap"`
	InClassDifference            string    `json:"inClassDifference"`
	OverallGap                   string    `json:"overallGap"`
	OverallDifference            string    `json:"overallDifference"`
	TotalTime                    string    `json:"totalTime"`
	LastLapTime                  string    `json:"lastLapTime"`
	LastLapCompleted             int       `json:"lastLapCompleted"`
	PitStopCount                 int       `json:"pitStopCount"`
	LastLapPitted                int       `json:"lastLapPitted"`
	OverallPosition              int       `json:"overallPosition"`
	ClassPosition                int       `json:"classPosition"`
	OverallStartingPosition      int       `json:"overallStartingPosition"`
	OverallPositionsGained       int       `json:"overallPositionsGained"`
	InClassStartingPosition      int       `json:"inClassStartingPosition"`
	InClassPositionsGained       int       `json:"inClassPositionsGained"`
	IsOverallMostPositionsGained bool      `json:"isOverallMostPositionsGained"`
	IsClassMostPositionsGained   bool      `json:"isClassMostPositionsGained"`
	PenaltyLaps                  int       `json:"penaltyLaps"`
	PenaltyWarnings              int       `json:"penaltyWarnings"`
	BlackFlags                   int       `json:"blackFlags"`
	IsEnteredPit                 bool      `json:"isEnteredPit"`
	IsPitStartFinish             bool      `json:"isPitStartFinish"`
	IsExitedPit                  bool      `json:"isExitedPit"`
	IsInPit                      bool      `json:"isInPit"`
	LapIncludedPit               bool      `json:"lapIncludedPit"`
	LastLoopName                 string    `json:"lastLoopName"`
	IsStale                      bool      `json:"isStale"`
	TrackFlag                    Flag      `json:"trackFlag"`
	DriverName                   string    `json:"driverName"`
	DriverID                     string    `json:"driverId"`
	CurrentStatus                string    `json:"currentStatus"`
	LastUpdated                  time.Time `json:"lastUpdated"`
}

func (c *CarPosition) Clone() *CarPosition {
	dup := *c
	return &dup
}

// FlagDuration is one interval of the session's flag ledger.
// EndTime is nil while the flag is still active.
type FlagDuration struct {
	Flag      Flag       `json:"flag"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
}

func (f *FlagDuration) Clone() *FlagDuration {
	dup := *f
	if f.EndTime != nil {
		end := *f.EndTime
		dup.EndTime = &end
	}
	return &dup
}

// Announcement is a message to convey to teams, drivers or spectators.
type Announcement struct {
	Timestamp time.Time `json:"timestamp"`
	Priority  string    `json:"priority"`
	Text      string    `json:"text"`
}

// SessionState is the overall state of a race session at any given time.
// It is owned by a session.Context and only mutated while holding its
// write lock.
type SessionState struct {
	EventID              int               `json:"eventId"`
	EventName            string            `json:"eventName"`
	SessionID            int               `json:"sessionId"`
	SessionName          string            `json:"sessionName"`
	CurrentFlag          Flag              `json:"currentFlag"`
	LapsToGo             int               `json:"lapsToGo"`
	TimeToGo             string            `json:"timeToGo"`
	LocalTimeOfDay       string            `json:"localTimeOfDay"`
	RunningRaceTime      string            `json:"runningRaceTime"`
	IsPracticeQualifying bool              `json:"isPracticeQualifying"`
	SessionStartTime     time.Time         `json:"sessionStartTime"`
	SessionEndTime       time.Time         `json:"sessionEndTime"`
	LocalTimeZoneOffset  float64           `json:"localTimeZoneOffset"`
	IsLive               bool              `json:"isLive"`
	EventEntries         []*EventEntry     `json:"eventEntries"`
	CarPositions         []*CarPosition    `json:"carPositions"`
	FlagDurations        []*FlagDuration   `json:"flagDurations"`
	ClassColors          map[string]string `json:"classColors"`
	Announcements        []*Announcement   `json:"announcements"`
	LastUpdated          time.Time         `json:"lastUpdated"`
}

// Clone returns a deep copy. Used to hand out snapshots without keeping
// the read lock.
func (s *SessionState) Clone() *SessionState {
	dup := *s
	dup.EventEntries = lo.Map(s.EventEntries,
		func(e *EventEntry, _ int) *EventEntry { c := *e; return &c })
	dup.CarPositions = lo.Map(s.CarPositions,
		func(c *CarPosition, _ int) *CarPosition { return c.Clone() })
	dup.FlagDurations = lo.Map(s.FlagDurations,
		func(f *FlagDuration, _ int) *FlagDuration { return f.Clone() })
	dup.Announcements = lo.Map(s.Announcements,
		func(a *Announcement, _ int) *Announcement { c := *a; return &c })
	dup.ClassColors = lo.Assign(map[string]string{}, s.ClassColors)
	return &dup
}

// CarByNumber returns the car position for num or nil.
func (s *SessionState) CarByNumber(num string) *CarPosition {
	for _, c := range s.CarPositions {
		if c.Number == num {
			return c
		}
	}
	return nil
}

// EnsureCar returns the car position for num, creating it when absent.
func (s *SessionState) EnsureCar(num string) *CarPosition {
	if c := s.CarByNumber(num); c != nil {
		return c
	}
	c := &CarPosition{
		Number:                 num,
		OverallPositionsGained: InvalidPosition,
		InClassPositionsGained: InvalidPosition,
	}
	s.CarPositions = append(s.CarPositions, c)
	return c
}

// EntryByNumber returns the event entry for num or nil.
func (s *SessionState) EntryByNumber(num string) *EventEntry {
	for _, e := range s.EventEntries {
		if e.Number == num {
			return e
		}
	}
	return nil
}
