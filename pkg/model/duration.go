package model

import "fmt"

// PermanentHours is the duration sentinel for a permanent ban.
const PermanentHours = 8760

// FormatDuration renders a ban length in hours as a human label:
//
//	8760 -> "Permanent"
//	<24  -> "N hour(s)"
//	<168 -> "N day(s)"
//	<720 -> "N week(s)"
//	else -> "N month(s)"
//
// Unit counts are floored. The label is lossy and has no parse counterpart.
func FormatDuration(hours int) string {
	switch {
	case hours == PermanentHours:
		return "Permanent"
	case hours < 24:
		return plural(hours, "hour")
	case hours < 168:
		return plural(hours/24, "day")
	case hours < 720:
		return plural(hours/168, "week")
	default:
		return plural(hours/720, "month")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
