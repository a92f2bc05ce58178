// Package aggregate folds per-snapshot observations into per-person presence summaries.
package aggregate

import (
	"math"
	"sort"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

const daysPerYear = 365.25

// Aggregate groups observations by exact name. Each summary spans the earliest to the latest
// capture of that name, is active when any observation was, and lists every distinct source URL in
// the order first seen. University, department and URL come from the first observation.
// The result is sorted by name.
func Aggregate(observations []tracker.Observation) []tracker.PersonSummary {
	index := make(map[string]int)
	var out []tracker.PersonSummary
	seen := make(map[string]map[string]struct{})

	for _, obs := range observations {
		i, ok := index[obs.Name]
		if !ok {
			i = len(out)
			index[obs.Name] = i
			out = append(out, tracker.PersonSummary{
				Name:       obs.Name,
				University: obs.University,
				Department: obs.Department,
				URL:        tracker.CanonicalURL(obs.SourceURL),
				StartDate:  obs.CapturedAt,
				EndDate:    obs.CapturedAt,
				Snapshots:  []string{},
			})
			seen[obs.Name] = make(map[string]struct{})
		}
		s := &out[i]
		if obs.CapturedAt.Before(s.StartDate.Time) {
			s.StartDate = obs.CapturedAt
		}
		if obs.CapturedAt.After(s.EndDate.Time) {
			s.EndDate = obs.CapturedAt
		}
		s.Active = s.Active || obs.Active
		if _, dup := seen[obs.Name][obs.SourceURL]; !dup {
			seen[obs.Name][obs.SourceURL] = struct{}{}
			s.Snapshots = append(s.Snapshots, obs.SourceURL)
		}
	}

	for i := range out {
		out[i].Years = Years(out[i].StartDate, out[i].EndDate)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Years is the number of whole days between start and end divided by 365.25.
func Years(start, end tracker.Date) float64 {
	days := math.Floor(end.Sub(start.Time).Hours() / 24)
	return days / daysPerYear
}
