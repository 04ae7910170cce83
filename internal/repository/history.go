package repository

import (
	"finance-coach/internal/domain"
)

const (
	defaultListLimit = 30
	maxListLimit     = 200
	maxListWindow    = 400
)

// normalizeLimit applies the history listing bounds.
func normalizeLimit(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// listWindow is how many raw rows are read to find limit distinct sessions
// on backends that cannot group by session.
func listWindow(limit int) int {
	w := limit * 5
	if w > maxListWindow {
		return maxListWindow
	}
	return w
}

// latestPerSession keeps the first entry seen for each session. entries must
// be sorted newest first.
func latestPerSession(entries []domain.HistoryEntry, limit int) []domain.HistoryEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.HistoryEntry, 0, limit)
	for _, e := range entries {
		if _, ok := seen[e.SessionID]; ok {
			continue
		}
		seen[e.SessionID] = struct{}{}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}
