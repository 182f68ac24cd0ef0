package pipeline

import (
	"time"

	"github.com/jonathan/fewknow/internal/reddit"
)

// DefaultNarrowWindowDays is the largest earnings age that still uses the narrow Reddit window
const DefaultNarrowWindowDays = 30

// ChooseWindow picks the Reddit search window for an earnings date.
// Earnings within narrowDays of now (inclusive) use the month window, older ones the year window.
func ChooseWindow(earnings, now time.Time, narrowDays int) reddit.Window {
	if narrowDays <= 0 {
		narrowDays = DefaultNarrowWindowDays
	}
	if daysBetween(earnings, now) <= narrowDays {
		return reddit.WindowMonth
	}
	return reddit.WindowYear
}

// daysBetween counts whole calendar days from a to b in UTC
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
