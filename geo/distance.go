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

// DistanceAlgorithm selects how distance between two coordinates is
// computed. The variants trade accuracy for cost; Haversine is the
// default everywhere distances feed decisions.
type DistanceAlgorithm int

const (
	// DistanceHaversine is the spherical great-circle distance.
	DistanceHaversine DistanceAlgorithm = iota

	// DistanceSimple is the equirectangular approximation; cheap and
	// accurate enough below a few kilometers.
	DistanceSimple

	// DistanceVincenty is the WGS-84 ellipsoidal inverse. It is the most
	// accurate of the three but iterative; near-antipodal pairs that
	// defeat the iteration fall back to the spherical answer so the
	// result stays finite.
	DistanceVincenty
)

func (alg DistanceAlgorithm) String() string {
	switch alg {
	case DistanceSimple:
		return "simple"
	case DistanceVincenty:
		return "vincenty"
	default:
		return "haversine"
	}
}

// Between returns the distance in meters from one coordinate to the
// other. It is symmetric and returns 0 for identical coordinates.
func (alg DistanceAlgorithm) Between(from, to Coordinate) float64 {
	switch alg {
	case DistanceSimple:
		return equirectangular(from, to)
	case DistanceVincenty:
		return vincenty(from, to)
	default:
		return haversine(from, to)
	}
}

// Distance is the great-circle (haversine) distance in meters between
// two coordinates.
func Distance(from, to Coordinate) float64 { return haversine(from, to) }

func haversine(from, to Coordinate) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lat2 := degreesToRadians(to.Latitude)
	dLat := lat2 - lat1
	dLon := degreesToRadians(wrapDegrees(to.Longitude - from.Longitude))

	h := haversin(dLat) + math.Cos(lat1)*math.Cos(lat2)*haversin(dLon)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}

func haversin(theta float64) float64 { return 0.5 * (1 - math.Cos(theta)) }

func equirectangular(from, to Coordinate) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lat2 := degreesToRadians(to.Latitude)
	x := degreesToRadians(wrapDegrees(to.Longitude-from.Longitude)) * math.Cos((lat1+lat2)/2)
	y := lat2 - lat1
	return earthRadius * math.Hypot(x, y)
}

// WGS-84 ellipsoid
const (
	wgs84MajorAxis  = 6378137.0
	wgs84MinorAxis  = 6356752.314245
	wgs84Flattening = 1 / 298.257223563
)

// vincenty solves the inverse geodesic problem on the WGS-84 ellipsoid.
// The lambda iteration does not converge for near-antipodal points; after
// the iteration budget is spent the spherical distance is returned instead,
// which is within half a percent and always finite.
func vincenty(from, to Coordinate) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lat2 := degreesToRadians(to.Latitude)
	dLon := degreesToRadians(wrapDegrees(to.Longitude - from.Longitude))

	u1 := math.Atan((1 - wgs84Flattening) * math.Tan(lat1))
	u2 := math.Atan((1 - wgs84Flattening) * math.Tan(lat2))
	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)

	lambda := dLon
	for i := 0; i < 100; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma := math.Hypot(cosU2*sinLambda, cosU1*sinU2-sinU1*cosU2*cosLambda)
		if sinSigma == 0 {
			return 0 // coincident points
		}
		cosSigma := sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma := math.Atan2(sinSigma, cosSigma)

		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha := 1 - sinAlpha*sinAlpha
		cos2SigmaM := 0.0 // equatorial geodesic
		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		}

		c := wgs84Flattening / 16 * cosSqAlpha * (4 + wgs84Flattening*(4-3*cosSqAlpha))
		prev := lambda
		lambda = dLon + (1-c)*wgs84Flattening*sinAlpha*
			(sigma+c*sinSigma*(cos2SigmaM+c*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))

		if math.Abs(lambda-prev) < 1e-12 {
			uSq := cosSqAlpha * (wgs84MajorAxis*wgs84MajorAxis - wgs84MinorAxis*wgs84MinorAxis) /
				(wgs84MinorAxis * wgs84MinorAxis)
			a := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
			b := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
			deltaSigma := b * sinSigma * (cos2SigmaM + b/4*
				(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
					b/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
			return wgs84MinorAxis * a * (sigma - deltaSigma)
		}
	}

	return haversine(from, to)
}
