package model

import (
	"time"

	"github.com/google/uuid"
)

// Known protocol tags. The pipeline dispatches on these, never on the
// payload itself.
const (
	TagLineProtocol = "rmonitor"
	TagLoopPassing  = "passing"
	TagEventChanged = "event-changed"
)

// TimingMessage is the unit arriving from a feed adapter. Immutable once
// posted; messages of the same tag are processed in arrival order.
type TimingMessage struct {
	ID        uuid.UUID `json:"id"`
	Tag       string    `json:"tag"`
	Payload   []byte    `json:"payload"`
	SessionID int       `json:"sessionId"`
	Timestamp time.Time `json:"timestampUtc"`
}

// Passing is a single transponder detection reported by a timing loop.
//
//nolint:tagliatelle // upstream wire format
type Passing struct {
	TransponderID  int       `json:"TransponderId"`
	LoopID         int       `json:"LoopId"`
	IsInPit        bool      `json:"IsInPit"`
	Hits           int       `json:"Hits"`
	TimestampUTC   time.Time `json:"TimestampUtc"`
	TimestampLocal time.Time `json:"TimestampLocal"`
}

// LoopRole describes where a timing loop sits relative to the pit lane.
type LoopRole int32

const (
	LoopRoleOther LoopRole = iota
	LoopRolePitIn
	LoopRolePitExit
	LoopRolePitStartFinish
	LoopRolePitOther
)

func (r LoopRole) String() string {
	switch r {
	case LoopRolePitIn:
		return "PitIn"
	case LoopRolePitExit:
		return "PitExit"
	case LoopRolePitStartFinish:
		return "PitStartFinish"
	case LoopRolePitOther:
		return "PitOther"
	case LoopRoleOther:
		return "Other"
	}
	return "Other"
}

func ParseLoopRole(arg string) LoopRole {
	switch arg {
	case "PitIn":
		return LoopRolePitIn
	case "PitExit":
		return LoopRolePitExit
	case "PitStartFinish":
		return LoopRolePitStartFinish
	case "PitOther":
		return LoopRolePitOther
	default:
		return LoopRoleOther
	}
}

// IsPitAdjacent reports whether a passing at this loop implies the car is
// in the pit lane regardless of the raw pit flag.
func (r LoopRole) IsPitAdjacent() bool {
	switch r {
	case LoopRolePitIn, LoopRolePitExit, LoopRolePitStartFinish:
		return true
	default:
		return false
	}
}

// LoopMetadata is the configured role of a timing loop for one event.
type LoopMetadata struct {
	LoopID int      `json:"loopId"`
	Role   LoopRole `json:"role"`
	Name   string   `json:"name"`
}

// RelayResetRequest asks the upstream feed relay to reinitialize its
// connection and optionally discard buffered timing data.
type RelayResetRequest struct {
	EventID              int  `json:"eventId"`
	ForceTimingDataReset bool `json:"forceTimingDataReset"`
}

// LapRecord is one per-car per-lap log entry: the flag under which the lap
// was completed plus a snapshot of the car's position at that moment.
type LapRecord struct {
	EventID     int          `json:"eventId"`
	SessionID   int          `json:"sessionId"`
	CarNumber   string       `json:"carNumber"`
	LapNumber   int          `json:"lapNumber"`
	Flag        Flag         `json:"flag"`
	Position    *CarPosition `json:"position"`
	RecordStamp time.Time    `json:"recordStamp"`
}
