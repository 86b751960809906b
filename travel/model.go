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
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/travelog/travelog/geo"
	"github.com/zeebo/blake3"
)

// SampleSource identifies which positioning system produced a sample.
type SampleSource string

const (
	SourceGPS               SampleSource = "GPS"
	SourceNetwork           SampleSource = "NETWORK"
	SourceVisit             SampleSource = "VISIT"
	SourceSignificantChange SampleSource = "SIGNIFICANT_CHANGE"
)

// LocationSample is a single raw position report. Samples are immutable
// once ingested; processing only ever reads them and stamps attribution
// (visit, route, trip membership) alongside.
type LocationSample struct {
	ID             int64
	UserID         string
	Timestamp      time.Time
	Coordinate     geo.Coordinate
	AccuracyMeters float64
	Speed          *float64 // m/s, when the sensor reported one
	Bearing        *float64 // degrees clockwise from north
	Altitude       *float64 // meters above sea level
	Source         SampleSource
	TripID         string // filled by trip assembly
}

// Valid reports whether the sample can participate in processing.
// Invalid samples are skipped with a log line, never an error.
func (s LocationSample) Valid() bool {
	return !s.Timestamp.IsZero() && s.Coordinate.Valid()
}

// PlaceVisit is a dwell at one place: a cluster of samples that stayed
// within the spatial threshold for at least the minimum duration.
// City and Country arrive later from reverse geocoding; everything else
// is fixed once the visit is formed.
type PlaceVisit struct {
	ID           string
	UserID       string
	Start        time.Time
	End          time.Time // never before Start
	Center       geo.Coordinate
	RadiusMeters float64 // max distance from Center to any member sample
	Confidence   float64 // [0, 1]
	SampleCount  int
	PlaceKey     string // cell token shared by visits to the same place
	City         string
	Country      string
	TripID       string
}

// Duration is how long the visit lasted.
func (v PlaceVisit) Duration() time.Duration { return v.End.Sub(v.Start) }

// Contains reports whether t falls inside the visit's interval.
func (v PlaceVisit) Contains(t time.Time) bool {
	return !t.Before(v.Start) && !t.After(v.End)
}

// TransportType classifies how a route segment was traveled.
type TransportType string

const (
	TransportWalk    TransportType = "WALK"
	TransportBike    TransportType = "BIKE"
	TransportCar     TransportType = "CAR"
	TransportTrain   TransportType = "TRAIN"
	TransportPlane   TransportType = "PLANE"
	TransportBoat    TransportType = "BOAT" // only ever set by external flags
	TransportUnknown TransportType = "UNKNOWN"
)

// RouteSegment is the movement between two visits. Path is simplified
// for storage but always keeps the original first and last points;
// DistanceMeters is summed over the original samples, not the
// simplified path.
type RouteSegment struct {
	ID              string
	UserID          string
	Start           time.Time
	End             time.Time
	Path            []geo.Coordinate
	DistanceMeters  float64
	AverageSpeedKmh float64
	Transport       TransportType
	FromVisitID     string
	ToVisitID       string
	TripID          string
}

// Duration is the elapsed travel time.
func (r RouteSegment) Duration() time.Duration { return r.End.Sub(r.Start) }

// ItemKind distinguishes the two kinds of timeline items a trip holds.
type ItemKind string

const (
	ItemVisit ItemKind = "visit"
	ItemRoute ItemKind = "route"
)

// TripItem references one visit or route inside a trip day.
type TripItem struct {
	Kind  ItemKind
	ID    string
	Start time.Time
	End   time.Time
}

// TripDay is one local calendar day of a trip with its items in
// chronological order.
type TripDay struct {
	Date  string // YYYY-MM-DD in the day's local timezone
	Items []TripItem
}

// Trip is a contiguous stretch of time away from the home place,
// broken into calendar days.
type Trip struct {
	ID     string
	UserID string
	Start  time.Time
	End    time.Time
	Days   []TripDay
}

// Entity IDs are derived from content, so reprocessing the same sample
// window reproduces the same IDs and persistence becomes an idempotent
// upsert. The namespaces keep visit/route/trip IDs from colliding even
// on identical inputs.
var (
	visitNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("visit.travelog.dev"))
	routeNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("route.travelog.dev"))
	tripNamespace  = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("trip.travelog.dev"))
)

func visitID(userID string, start, end time.Time, center geo.Coordinate) string {
	var buf [8]byte
	h := blake3.New()
	h.Write([]byte(userID))
	binary.BigEndian.PutUint64(buf[:], uint64(start.UnixMilli()))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(end.UnixMilli()))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(coordE7(center.Latitude)))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(coordE7(center.Longitude)))
	h.Write(buf[:])
	return uuid.NewSHA1(visitNamespace, h.Sum(nil)).String()
}

func routeID(userID string, start time.Time, path []geo.Coordinate) string {
	var buf [8]byte
	h := blake3.New()
	h.Write([]byte(userID))
	binary.BigEndian.PutUint64(buf[:], uint64(start.UnixMilli()))
	h.Write(buf[:])
	for _, p := range path {
		binary.BigEndian.PutUint64(buf[:], uint64(coordE7(p.Latitude)))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(coordE7(p.Longitude)))
		h.Write(buf[:])
	}
	return uuid.NewSHA1(routeNamespace, h.Sum(nil)).String()
}

func tripID(userID string, start time.Time) string {
	var buf [8]byte
	h := blake3.New()
	h.Write([]byte(userID))
	binary.BigEndian.PutUint64(buf[:], uint64(start.UnixMilli()))
	h.Write(buf[:])
	return uuid.NewSHA1(tripNamespace, h.Sum(nil)).String()
}

// coordE7 stores a degree value as an integer with 1e7 precision,
// which is finer than any consumer GPS resolves.
func coordE7(deg float64) int64 { return int64(math.Round(deg * 1e7)) }

func clamp01(f float64) float64 {
	switch {
	case f < 0 || math.IsNaN(f):
		return 0
	case f > 1:
		return 1
	}
	return f
}

func float64Ptr(f float64) *float64 { return &f }
