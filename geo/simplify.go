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

package geo

import "math"

// Simplify reduces a path to its shape-defining points using the
// Ramer-Douglas-Peucker algorithm. A point survives only if it deviates
// from the chord between its neighbors by at least epsilonMeters. The
// first and last points always survive. Paths shorter than 3 points,
// or a non-positive epsilon, return the input unchanged. The input
// slice is never modified.
func Simplify(path []Coordinate, epsilonMeters float64) []Coordinate {
	if len(path) < 3 || epsilonMeters <= 0 {
		return path
	}
	return simplifyRDP(path, epsilonMeters)
}

// simplifyRDP requires len(path) >= 2 and always returns fresh slices,
// so the recursion never aliases (and never writes into) the input.
func simplifyRDP(path []Coordinate, epsilon float64) []Coordinate {
	if len(path) == 2 {
		return []Coordinate{path[0], path[1]}
	}

	ch := newChord(path[0], path[len(path)-1])
	maxIdx, maxDist := 1, -1.0
	for i := 1; i < len(path)-1; i++ {
		if d := ch.deviation(path[i]); d > maxDist {
			maxIdx, maxDist = i, d
		}
	}

	if maxDist < epsilon {
		return []Coordinate{path[0], path[len(path)-1]}
	}

	left := simplifyRDP(path[:maxIdx+1], epsilon)
	right := simplifyRDP(path[maxIdx:], epsilon)
	return append(left[:len(left)-1], right...)
}

// chord is the straight reference segment a candidate point is measured
// against, projected onto a local plane scaled to meters.
type chord struct {
	start, end Coordinate
	cosLat     float64
}

func newChord(start, end Coordinate) chord {
	mean := degreesToRadians((start.Latitude + end.Latitude) / 2)
	return chord{start: start, end: end, cosLat: math.Cos(mean)}
}

// project maps pt into meters east/north of the chord's start.
func (c chord) project(pt Coordinate) (x, y float64) {
	x = wrapDegrees(pt.Longitude-c.start.Longitude) * c.cosLat * metersPerDegree
	y = (pt.Latitude - c.start.Latitude) * metersPerDegree
	return
}

// deviation is the perpendicular distance in meters from pt to the
// chord. A degenerate (zero-length) chord degrades to the distance from
// pt to the chord's start.
func (c chord) deviation(pt Coordinate) float64 {
	ex, ey := c.project(c.end)
	px, py := c.project(pt)
	den := math.Hypot(ex, ey)
	if den == 0 {
		return math.Hypot(px, py)
	}
	return math.Abs(ex*py-ey*px) / den
}
