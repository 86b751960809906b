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

// Package geo implements the geodesic math the rest of the program is
// built on: coordinates, distance, bearing, interpolation, and path
// simplification. Everything in this package is pure and total; degenerate
// input yields finite numbers, never panics.
package geo

import (
	"fmt"
	"math"
)

const (
	// mean earth radius, meters
	earthRadius = 6371000.0

	metersPerDegree = earthRadius * math.Pi / 180
)

// Coordinate is a point on the earth's surface in decimal degrees.
// The zero value (0, 0) is a valid coordinate in the Gulf of Guinea;
// use NewCoordinate to reject out-of-range input.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate returns a validated coordinate. Latitude beyond ±90 or
// longitude beyond ±180 (or any NaN) is an error, not a clamp.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("latitude out of range [-90, 90]: %v", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("longitude out of range [-180, 180]: %v", lon)
	}
	return Coordinate{Latitude: lat, Longitude: lon}, nil
}

// Valid reports whether the coordinate is within range.
func (c Coordinate) Valid() bool {
	_, err := NewCoordinate(c.Latitude, c.Longitude)
	return err == nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.7f,%.7f", c.Latitude, c.Longitude)
}

// LongitudeDelta returns the shortest signed difference in degrees from
// one longitude to another, crossing the antimeridian when that way is
// shorter. The result is in (-180, 180].
func LongitudeDelta(from, to float64) float64 { return wrapDegrees(to - from) }

func degreesToRadians(d float64) float64 { return d * math.Pi / 180 }

func radiansToDegrees(r float64) float64 { return r * 180 / math.Pi }

// wrapDegrees reduces a longitude difference to (-180, 180] so that
// deltas across the antimeridian take the short way around.
func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}
