package types

import "strings"

// ParseEdge converts a config string to an Edge.
// Accepts "rising", "falling", "both", "none" (case-insensitive).
func ParseEdge(s string) Edge {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising":
		return EdgeRising
	case "falling":
		return EdgeFalling
	case "both":
		return EdgeBoth
	default:
		return EdgeNone
	}
}

// ParsePull converts a config string to a Pull.
func ParsePull(s string) Pull {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "pullup":
		return PullUp
	case "down", "pulldown":
		return PullDown
	default:
		return PullNone
	}
}

// LevelOf maps a raw 0/1 sample to a PinValue.
func LevelOf(v int) PinValue {
	if v != 0 {
		return High
	}
	return Low
}
