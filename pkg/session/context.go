package session

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Context owns the session state for one event and the lock guarding it.
// All mutation happens while holding the write lock; readers take the
// read lock and work on snapshots.
type Context struct {
	lifetime context.Context
	lock     *RWLock
	state    *model.SessionState
	// per-session caches, reset on session change
	startingPositions map[string]int
	transponders      map[int]string
	l                 *log.Logger
}

type Option func(*Context)

func WithLogger(l *log.Logger) Option {
	return func(c *Context) { c.l = l }
}

// NewContext creates the state container for an event. The lifetime
// context acts as the session's cancellation token: pending lock
// acquisitions abort when it fires.
func NewContext(lifetime context.Context, eventID int, eventName string,
	opts ...Option,
) *Context {
	c := &Context{
		lifetime: lifetime,
		lock:     NewRWLock(),
		state: &model.SessionState{
			EventID:     eventID,
			EventName:   eventName,
			ClassColors: make(map[string]string),
		},
		startingPositions: make(map[string]int),
		transponders:      make(map[int]string),
		l:                 log.Default().Named("session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) mergedCtx(ctx context.Context) (context.Context, func()) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.lifetime, cancel)
	return merged, func() { stop(); cancel() }
}

// AcquireReadLock blocks until the read lock is held or either ctx or the
// session lifetime is cancelled.
func (c *Context) AcquireReadLock(ctx context.Context) (func(), error) {
	merged, done := c.mergedCtx(ctx)
	defer done()
	return c.lock.AcquireRead(merged)
}

// AcquireWriteLock blocks until exclusive access is held or either ctx or
// the session lifetime is cancelled.
func (c *Context) AcquireWriteLock(ctx context.Context) (func(), error) {
	merged, done := c.mergedCtx(ctx)
	defer done()
	return c.lock.AcquireWrite(merged)
}

// State returns the mutable state. The caller must hold a lock.
func (c *Context) State() *model.SessionState {
	return c.state
}

// Snapshot returns a deep copy of the current state taken under the
// read lock.
func (c *Context) Snapshot(ctx context.Context) (*model.SessionState, error) {
	release, err := c.AcquireReadLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.state.Clone(), nil
}

// NewSession switches the context to a new session id. Per-session caches
// and session-scoped state are reset when the id actually changes. The
// caller must hold the write lock, which makes the reset atomic with
// respect to concurrent readers.
func (c *Context) NewSession(id int, name string) {
	if id == c.state.SessionID {
		if name != "" && name != c.state.SessionName {
			c.state.SessionName = name
			c.state.IsPracticeQualifying = isPracticeQualifying(name)
		}
		return
	}
	c.l.Info("session change",
		log.Int("previous", c.state.SessionID), log.Int("current", id),
		log.String("name", name))
	c.startingPositions = make(map[string]int)
	c.transponders = make(map[int]string)

	now := time.Now().UTC()
	if c.state.SessionID != 0 {
		c.state.SessionEndTime = now
	}
	c.state.SessionID = id
	c.state.SessionName = name
	c.state.IsPracticeQualifying = isPracticeQualifying(name)
	c.state.SessionStartTime = now
	c.state.SessionEndTime = time.Time{}
	c.state.CurrentFlag = model.FlagUnknown
	c.state.LapsToGo = 0
	c.state.TimeToGo = ""
	c.state.RunningRaceTime = ""
	c.state.CarPositions = nil
	c.state.FlagDurations = nil
	c.state.Announcements = nil
}

// the session name is the only hint we get from the timing system
func isPracticeQualifying(name string) bool {
	lowered := strings.ToLower(name)
	return strings.Contains(lowered, "practice") ||
		strings.Contains(lowered, "qual")
}

// RefreshTransponders rebuilds the transponder lookup from the current
// car list. The caller must hold the write lock.
func (c *Context) RefreshTransponders() {
	c.transponders = make(map[int]string)
	for _, car := range c.state.CarPositions {
		if car.TransponderID != 0 {
			c.transponders[car.TransponderID] = car.Number
		}
	}
}

// TransponderLookup returns a copy of the transponder to car-number map.
func (c *Context) TransponderLookup(ctx context.Context) (map[int]string, error) {
	release, err := c.AcquireReadLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	lookup := make(map[int]string, len(c.transponders))
	for k, v := range c.transponders {
		lookup[k] = v
	}
	return lookup, nil
}

// StartingPositionsPopulated reports whether a starting grid is known for
// the current session.
func (c *Context) StartingPositionsPopulated(ctx context.Context) (bool, error) {
	release, err := c.AcquireReadLock(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return len(c.startingPositions) > 0, nil
}

// StartingPositionsKnown reports whether a starting grid is known. The
// caller must hold a lock; use StartingPositionsPopulated otherwise.
func (c *Context) StartingPositionsKnown() bool {
	return len(c.startingPositions) > 0
}

// CaptureStartingGrid records the current running order as the starting
// grid. The caller must hold the write lock.
func (c *Context) CaptureStartingGrid() {
	ranked := activeByPosition(c.state.CarPositions)
	classRank := make(map[string]int)
	for _, car := range ranked {
		c.startingPositions[car.Number] = car.OverallPosition
		car.OverallStartingPosition = car.OverallPosition
		classRank[car.Class]++
		car.InClassStartingPosition = classRank[car.Class]
	}
	c.l.Info("starting grid captured", log.Int("cars", len(ranked)))
}

// SetStartingPositions installs a reconstructed starting grid.
func (c *Context) SetStartingPositions(ctx context.Context,
	overall map[string]int, inClass map[string]int,
) error {
	release, err := c.AcquireWriteLock(ctx)
	if err != nil {
		return err
	}
	defer release()
	c.startingPositions = make(map[string]int, len(overall))
	for num, pos := range overall {
		c.startingPositions[num] = pos
		if car := c.state.CarByNumber(num); car != nil {
			car.OverallStartingPosition = pos
			if icp, ok := inClass[num]; ok {
				car.InClassStartingPosition = icp
			}
		}
	}
	return nil
}

func activeByPosition(cars []*model.CarPosition) []*model.CarPosition {
	ranked := make([]*model.CarPosition, 0, len(cars))
	for _, car := range cars {
		if car.OverallPosition > 0 {
			ranked = append(ranked, car)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].OverallPosition < ranked[j].OverallPosition
	})
	return ranked
}
