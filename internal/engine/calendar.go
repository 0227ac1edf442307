package engine

import "time"

// MarketHours is the regular US equity session.
type MarketHours struct {
	Location *time.Location
	Open     time.Duration // offset from midnight
	Close    time.Duration
}

func DefaultMarketHours(loc *time.Location) MarketHours {
	if loc == nil {
		loc = time.UTC
	}
	return MarketHours{
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
	}
}

// IsOpen reports whether t falls inside the session on a weekday. Exchange
// holidays are not modeled.
func (h MarketHours) IsOpen(t time.Time) bool {
	local := t.In(h.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.Location)
	offset := local.Sub(midnight)
	return offset >= h.Open && offset < h.Close
}
