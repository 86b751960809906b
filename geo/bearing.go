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

// BearingAlgorithm selects which heading between two coordinates is
// computed. All variants return degrees clockwise from true north,
// normalized to [0, 360).
type BearingAlgorithm int

const (
	// BearingInitial is the forward azimuth at the start of the great
	// circle; it changes continuously along the route.
	BearingInitial BearingAlgorithm = iota

	// BearingFinal is the azimuth on arrival: the initial bearing of the
	// reversed pair, rotated a half turn.
	BearingFinal

	// BearingRhumb is the constant loxodrome heading that reaches the
	// destination without ever turning.
	BearingRhumb
)

func (alg BearingAlgorithm) String() string {
	switch alg {
	case BearingFinal:
		return "final"
	case BearingRhumb:
		return "rhumb"
	default:
		return "initial"
	}
}

// Between returns the bearing in degrees from one coordinate toward the
// other. Identical coordinates yield 0.
func (alg BearingAlgorithm) Between(from, to Coordinate) float64 {
	switch alg {
	case BearingFinal:
		return normalizeBearing(initialBearing(to, from) + 180)
	case BearingRhumb:
		return rhumbBearing(from, to)
	default:
		return initialBearing(from, to)
	}
}

func initialBearing(from, to Coordinate) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lat2 := degreesToRadians(to.Latitude)
	dLon := degreesToRadians(wrapDegrees(to.Longitude - from.Longitude))

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return normalizeBearing(radiansToDegrees(math.Atan2(y, x)))
}

func rhumbBearing(from, to Coordinate) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lat2 := degreesToRadians(to.Latitude)
	dLon := degreesToRadians(wrapDegrees(to.Longitude - from.Longitude))

	// stretched-latitude difference on the Mercator projection
	dPsi := math.Log(math.Tan(math.Pi/4+lat2/2) / math.Tan(math.Pi/4+lat1/2))
	return normalizeBearing(radiansToDegrees(math.Atan2(dLon, dPsi)))
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 360 { // rounding can land exactly on the open bound
		deg = 0
	}
	return deg
}
