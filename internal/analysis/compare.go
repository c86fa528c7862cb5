package analysis

import "strings"

// CanCompare reports whether two analyses describe the same kind of stroke or
// delivery: same player type, and for batsmen the same shot type and batter
// side, for bowlers the same bowler type and bowler side.
func CanCompare(a, b HistoryItem) bool {
	if a.PlayerType != b.PlayerType {
		return false
	}
	switch a.PlayerType {
	case PlayerBatsman:
		return sameValue(a.ShotType, b.ShotType) && sameValue(a.BatterSide, b.BatterSide)
	case PlayerBowler:
		return sameValue(a.BowlerType, b.BowlerType) && sameValue(a.BowlerSide, b.BowlerSide)
	default:
		return true
	}
}

func sameValue(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
