package domain

import "time"

// Window is a sliding time interval over which features are aggregated.
type Window struct {
	ID     string
	Length time.Duration
}

// DefaultWindows are the trailing windows maintained per trader.
var DefaultWindows = []Window{
	{ID: "24h", Length: 24 * time.Hour},
	{ID: "7d", Length: 7 * 24 * time.Hour},
	{ID: "30d", Length: 30 * 24 * time.Hour},
}

// WindowByID looks up a window in the given set. Returns false if absent.
func WindowByID(windows []Window, id string) (Window, bool) {
	for _, w := range windows {
		if w.ID == id {
			return w, true
		}
	}
	return Window{}, false
}
