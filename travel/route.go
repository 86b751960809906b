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
	"math"

	"github.com/travelog/travelog/geo"
)

// assembleRoute turns a run of travel samples into a RouteSegment.
// Distance and speed come from the original sample sequence; only the
// stored path is simplified. The run must be non-empty and time-ordered.
func assembleRoute(userID string, run []LocationSample, cfg Config) RouteSegment {
	first, last := run[0], run[len(run)-1]

	path := make([]geo.Coordinate, len(run))
	var distance float64
	for i, s := range run {
		path[i] = s.Coordinate
		if i > 0 {
			distance += geo.Distance(path[i-1], path[i])
		}
	}

	elapsed := last.Timestamp.Sub(first.Timestamp)
	var avgKmh float64
	if elapsed > 0 {
		avgKmh = distance / elapsed.Seconds() * 3.6
	}

	simplified := geo.Simplify(path, cfg.SimplifyEpsilonMeters)
	if len(simplified) < 2 {
		// a one-sample run still yields a drawable segment
		simplified = []geo.Coordinate{path[0], path[len(path)-1]}
	}

	return RouteSegment{
		ID:              routeID(userID, first.Timestamp, simplified),
		UserID:          userID,
		Start:           first.Timestamp,
		End:             last.Timestamp,
		Path:            simplified,
		DistanceMeters:  distance,
		AverageSpeedKmh: avgKmh,
		Transport: classifyTransport(
			avgKmh,
			tortuosity(distance, path[0], path[len(path)-1]),
			altitudeGain(run),
			cfg,
		),
	}
}

// classifyTransport maps an average speed to a transport mode. Rail and
// air are never inferred from speed alone: trains additionally need a
// rail-like (nearly straight) path or a speed beyond road traffic, and
// planes need cruise speed or a serious climb at speed. Boats are only
// ever set by external flags, never inferred here.
func classifyTransport(avgKmh, tortuosity, altitudeGain float64, cfg Config) TransportType {
	switch {
	case avgKmh <= 0 || math.IsNaN(avgKmh):
		return TransportUnknown
	case avgKmh >= cfg.PlaneMinKmh,
		avgKmh >= cfg.CarMaxKmh && altitudeGain >= cfg.PlaneMinAltitudeGain:
		return TransportPlane
	case avgKmh >= cfg.CarMaxKmh:
		return TransportTrain
	case avgKmh < cfg.WalkMaxKmh:
		return TransportWalk
	case avgKmh < cfg.BikeMaxKmh:
		return TransportBike
	case avgKmh >= cfg.TrainMinKmh && tortuosity <= cfg.TrainMaxTortuosity:
		return TransportTrain
	default:
		return TransportCar
	}
}

// tortuosity is the ratio of distance actually traveled to the straight
// line between the endpoints: 1.0 is dead straight, higher is windier.
// Closed loops (endpoints nearly coincide) are maximally winding.
func tortuosity(traveled float64, start, end geo.Coordinate) float64 {
	straight := geo.Distance(start, end)
	if straight < 1 {
		if traveled < 1 {
			return 1
		}
		return math.MaxFloat64
	}
	return traveled / straight
}

// altitudeGain is the spread between the lowest and highest altitude
// reported along the run; runs with fewer than two reports gain nothing.
func altitudeGain(run []LocationSample) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, s := range run {
		if s.Altitude == nil {
			continue
		}
		n++
		if *s.Altitude < lo {
			lo = *s.Altitude
		}
		if *s.Altitude > hi {
			hi = *s.Altitude
		}
	}
	if n < 2 || hi <= lo {
		return 0
	}
	return hi - lo
}
