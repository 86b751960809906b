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

package travel

import (
	"time"

	"github.com/golang/geo/s2"
	"github.com/travelog/travelog/geo"
)

// Level 17 S2 cells are roughly building-sized (50-120 m across), so
// repeat visits to the same place share a key without any geocoding.
const placeCellLevel = 17

// PlaceKey returns a stable token identifying the place a coordinate
// belongs to. Visits whose centers fall in the same cell are treated as
// visits to the same place.
func PlaceKey(c geo.Coordinate) string {
	ll := s2.LatLngFromDegrees(c.Latitude, c.Longitude)
	return s2.CellIDFromLatLng(ll).Parent(placeCellLevel).ToToken()
}

// homePlaceKey picks the place the user demonstrably lives at: the cell
// with the largest total dwell time across their visit history. Returns
// "" when there is no meaningful history.
func homePlaceKey(visits []PlaceVisit) string {
	totals := make(map[string]time.Duration)
	for _, v := range visits {
		totals[v.PlaceKey] += v.Duration()
	}

	var best string
	var bestTotal time.Duration
	for key, total := range totals {
		switch {
		case total > bestTotal:
			best, bestTotal = key, total
		case total == bestTotal && bestTotal > 0 && key < best:
			best = key // tie-break on the token for determinism
		}
	}
	return best
}
