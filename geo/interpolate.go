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

// InterpolationAlgorithm selects how intermediate points between two
// coordinates are produced.
type InterpolationAlgorithm int

const (
	// InterpolateLinear blends latitude and longitude independently.
	// Fine for short hops, visibly wrong over oceans.
	InterpolateLinear InterpolationAlgorithm = iota

	// InterpolateSpherical follows the great circle (slerp), so paths
	// cross oceans and poles the way aircraft do.
	InterpolateSpherical

	// InterpolateCubic applies a smoothstep ease to the linear blend:
	// slow out of the start, slow into the end, monotonic in both axes.
	InterpolateCubic
)

func (alg InterpolationAlgorithm) String() string {
	switch alg {
	case InterpolateSpherical:
		return "spherical"
	case InterpolateCubic:
		return "cubic"
	default:
		return "linear"
	}
}

// Point returns the coordinate a fraction t of the way from one
// coordinate to the other. t outside [0, 1] (or NaN) clamps to the
// nearer endpoint, so the endpoints are always exact.
func (alg InterpolationAlgorithm) Point(from, to Coordinate, t float64) Coordinate {
	if t <= 0 || math.IsNaN(t) {
		return from
	}
	if t >= 1 {
		return to
	}
	switch alg {
	case InterpolateSpherical:
		return slerp(from, to, t)
	case InterpolateCubic:
		return lerp(from, to, t*t*(3-2*t))
	default:
		return lerp(from, to, t)
	}
}

// Path returns the start point, steps evenly spaced intermediates, and
// the end point: always exactly steps+2 coordinates. steps <= 0 yields
// just the endpoints.
func (alg InterpolationAlgorithm) Path(from, to Coordinate, steps int) []Coordinate {
	if steps < 0 {
		steps = 0
	}
	path := make([]Coordinate, 0, steps+2)
	path = append(path, from)
	for i := 1; i <= steps; i++ {
		path = append(path, alg.Point(from, to, float64(i)/float64(steps+1)))
	}
	return append(path, to)
}

func lerp(from, to Coordinate, t float64) Coordinate {
	lat := from.Latitude + (to.Latitude-from.Latitude)*t
	lon := wrapDegrees(from.Longitude + wrapDegrees(to.Longitude-from.Longitude)*t)
	return Coordinate{Latitude: lat, Longitude: lon}
}

type vec3 struct{ x, y, z float64 }

func sphereVec(c Coordinate) vec3 {
	lat := degreesToRadians(c.Latitude)
	lon := degreesToRadians(c.Longitude)
	return vec3{
		x: math.Cos(lat) * math.Cos(lon),
		y: math.Cos(lat) * math.Sin(lon),
		z: math.Sin(lat),
	}
}

func vecCoordinate(v vec3) Coordinate {
	z := v.z
	if z > 1 {
		z = 1
	} else if z < -1 {
		z = -1
	}
	return Coordinate{
		Latitude:  radiansToDegrees(math.Asin(z)),
		Longitude: radiansToDegrees(math.Atan2(v.y, v.x)),
	}
}

func slerp(from, to Coordinate, t float64) Coordinate {
	a := sphereVec(from)
	b := sphereVec(to)

	dot := a.x*b.x + a.y*b.y + a.z*b.z
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	omega := math.Acos(dot)
	if math.Sin(omega) < 1e-12 {
		if dot > 0 {
			return from // coincident
		}
		// Antipodal points lie on infinitely many great circles; any
		// midpoint is as good as another, so detour via a waypoint
		// orthogonal to the start.
		w := orthogonalTo(a)
		if t == 0.5 {
			return vecCoordinate(w)
		}
		if t < 0.5 {
			return vecCoordinate(slerpVec(a, w, 2*t, math.Pi/2))
		}
		return vecCoordinate(slerpVec(w, b, 2*t-1, math.Pi/2))
	}
	return vecCoordinate(slerpVec(a, b, t, omega))
}

// slerpVec blends two unit vectors separated by angle omega; omega must
// not be 0 or π here (the caller has already peeled those off).
func slerpVec(a, b vec3, t, omega float64) vec3 {
	sinOmega := math.Sin(omega)
	wa := math.Sin((1-t)*omega) / sinOmega
	wb := math.Sin(t*omega) / sinOmega
	return vec3{
		x: wa*a.x + wb*b.x,
		y: wa*a.y + wb*b.y,
		z: wa*a.z + wb*b.z,
	}
}

func orthogonalTo(a vec3) vec3 {
	// cross with whichever axis a is least aligned with
	ax := vec3{x: 1}
	if math.Abs(a.x) > math.Abs(a.z) {
		ax = vec3{z: 1}
	}
	c := vec3{
		x: a.y*ax.z - a.z*ax.y,
		y: a.z*ax.x - a.x*ax.z,
		z: a.x*ax.y - a.y*ax.x,
	}
	n := math.Sqrt(c.x*c.x + c.y*c.y + c.z*c.z)
	return vec3{x: c.x / n, y: c.y / n, z: c.z / n}
}
