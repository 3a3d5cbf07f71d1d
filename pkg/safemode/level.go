// Safe-mode fork monitoring for the node
package safemode

// Level classifies how dangerous the currently known competing forks are.
// The order is deliberate: an Unknown fork carries enough work to matter but
// has not been validated at all, which outranks a fork we proved invalid.
type Level int

const (
	LevelNone Level = iota
	LevelValid
	LevelInvalid
	LevelUnknown
)

// String returns the canonical upper-case name of the level
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelValid:
		return "VALID"
	case LevelInvalid:
		return "INVALID"
	case LevelUnknown:
		return "UNKNOWN"
	default:
		return "NONE"
	}
}

// Max returns the more severe of the two levels
func (l Level) Max(other Level) Level {
	if other > l {
		return other
	}
	return l
}
