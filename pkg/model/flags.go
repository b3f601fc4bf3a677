package model

import "strings"

// Flag is the race control state governing on-track behavior.
type Flag int32

const (
	FlagUnknown Flag = iota
	FlagGreen
	FlagYellow
	FlagRed
	FlagWhite
	FlagCheckered
	FlagBlack
	FlagPurple35
)

func (f Flag) String() string {
	switch f {
	case FlagGreen:
		return "Green"
	case FlagYellow:
		return "Yellow"
	case FlagRed:
		return "Red"
	case FlagWhite:
		return "White"
	case FlagCheckered:
		return "Checkered"
	case FlagBlack:
		return "Black"
	case FlagPurple35:
		return "Purple35"
	case FlagUnknown:
		return "Unknown"
	}
	return "Unknown"
}

// ParseFlag maps the flag-status string of heartbeat records.
// Orbits sends values like "Green " with trailing blanks.
func ParseFlag(arg string) Flag {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "green":
		return FlagGreen
	case "yellow":
		return FlagYellow
	case "red":
		return FlagRed
	case "white":
		return FlagWhite
	case "finish":
		return FlagCheckered
	default:
		return FlagUnknown
	}
}

// IsRacingFlag reports whether cars are expected to produce meaningful
// position data under this flag.
func (f Flag) IsRacingFlag() bool {
	switch f {
	case FlagGreen, FlagYellow, FlagRed, FlagPurple35:
		return true
	default:
		return false
	}
}
