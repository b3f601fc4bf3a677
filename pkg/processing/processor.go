package processing

import (
	"context"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Processor turns one raw timing message into typed state patches.
// Implementations are pure with respect to the session state: they may
// read snapshots but never mutate state themselves.
//
// A nil update with a nil error means the message produced no state
// change (heartbeat without news, configuration reload, ...).
type Processor interface {
	Process(ctx context.Context, msg *model.TimingMessage) (*SessionStateUpdate, error)
}

// StatePatch is a single typed change to the session state.
// Apply reports whether it actually changed anything, enabling no-op
// suppression in the pipeline.
type StatePatch interface {
	// Area names the state sub-tree this patch touches
	// ("session", "entries", "carPositions").
	Area() string
	Apply(state *model.SessionState) bool
}

// SessionChange announces that the timing system switched to another
// session (new race, practice, qualifying run).
type SessionChange struct {
	SessionID   int
	SessionName string
}

// SessionStateUpdate is the unit flowing from a processor into the
// pipeline's apply stage.
type SessionStateUpdate struct {
	Source        string
	SessionChange *SessionChange
	Patches       []StatePatch
}

func (u *SessionStateUpdate) Empty() bool {
	return u == nil || (u.SessionChange == nil && len(u.Patches) == 0)
}
