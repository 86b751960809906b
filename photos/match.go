/*
	Travelog
	Copyright (c) 2019 the Travelog authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package photos

import (
	"math"
	"sort"
	"time"

	"github.com/travelog/travelog/geo"
	"github.com/travelog/travelog/travel"
)

// MatchScore grades how well a photo fits one visit. Scores are
// computed on demand and never persisted; reprocessing the timeline
// can change the visits underneath without leaving stale matches.
type MatchScore struct {
	VisitID       string  `json:"visit_id"`
	TimeScore     float64 `json:"time_score"`     // [0, 1]
	DistanceScore float64 `json:"distance_score"` // [0, 1]
	Total         float64 `json:"total"`          // [0, 2]
}

// Matcher scores photos against visits. The zero value uses the
// defaults; fields are only ever read.
type Matcher struct {
	// TimeHalfLife is how far outside the visit window the photo's
	// timestamp must drift for the time score to halve.
	TimeHalfLife time.Duration

	// FullDistanceMeters is the radius around the visit center that
	// still counts as a perfect location match; ZeroDistanceMeters is
	// where the location score reaches zero.
	FullDistanceMeters float64
	ZeroDistanceMeters float64
}

func (m Matcher) timeHalfLife() time.Duration {
	if m.TimeHalfLife <= 0 {
		return 30 * time.Minute
	}
	return m.TimeHalfLife
}

func (m Matcher) fullDistance() float64 {
	if m.FullDistanceMeters <= 0 {
		return 50
	}
	return m.FullDistanceMeters
}

func (m Matcher) zeroDistance() float64 {
	if m.ZeroDistanceMeters <= m.fullDistance() {
		return 1000
	}
	return m.ZeroDistanceMeters
}

// TimeScore is 1.0 while the photo's timestamp falls inside the visit
// and halves for every half-life it sits outside the nearest boundary.
// Photos without a timestamp score 0: time can't corroborate them.
func (m Matcher) TimeScore(taken time.Time, v travel.PlaceVisit) float64 {
	if taken.IsZero() {
		return 0
	}
	if v.Contains(taken) {
		return 1
	}

	var outside time.Duration
	if taken.Before(v.Start) {
		outside = v.Start.Sub(taken)
	} else {
		outside = taken.Sub(v.End)
	}
	return math.Pow(0.5, float64(outside)/float64(m.timeHalfLife()))
}

// DistanceScore is 1.0 within the full-match radius of the visit
// center and decays linearly to 0 at the zero radius. Photos without
// GPS tags score 0 here; the time score alone can still rank them.
func (m Matcher) DistanceScore(loc *geo.Coordinate, v travel.PlaceVisit) float64 {
	if loc == nil {
		return 0
	}
	d := geo.Distance(*loc, v.Center)
	full, zero := m.fullDistance(), m.zeroDistance()
	switch {
	case d <= full:
		return 1
	case d >= zero:
		return 0
	default:
		return (zero - d) / (zero - full)
	}
}

// Score grades one photo against one visit.
func (m Matcher) Score(photo PhotoMeta, v travel.PlaceVisit) MatchScore {
	ts := m.TimeScore(photo.Taken, v)
	ds := m.DistanceScore(photo.Location, v)
	return MatchScore{
		VisitID:       v.ID,
		TimeScore:     ts,
		DistanceScore: ds,
		Total:         ts + ds,
	}
}

// Rank scores the photo against every candidate visit, best first.
// Ties break on visit ID so the ranking is deterministic.
func (m Matcher) Rank(photo PhotoMeta, visits []travel.PlaceVisit) []MatchScore {
	scores := make([]MatchScore, len(visits))
	for i, v := range visits {
		scores[i] = m.Score(photo, v)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].VisitID < scores[j].VisitID
	})
	return scores
}

// BestMatch returns the highest-scoring visit for the photo, if any
// candidate scores above zero at all.
func (m Matcher) BestMatch(photo PhotoMeta, visits []travel.PlaceVisit) (MatchScore, bool) {
	ranked := m.Rank(photo, visits)
	if len(ranked) == 0 || ranked[0].Total <= 0 {
		return MatchScore{}, false
	}
	return ranked[0], true
}
