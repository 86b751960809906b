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

// Package gpx implements an ingestion source for GPS Exchange Format
// files (https://en.wikipedia.org/wiki/GPS_Exchange_Format).
package gpx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/travelog/travelog/geo"
	"github.com/travelog/travelog/sources"
	"github.com/travelog/travelog/travel"
	gpx "github.com/twpayne/go-gpx"
	"go.uber.org/zap"
)

func init() {
	err := sources.Register(sources.Source{
		Name:        "gpx",
		Title:       "GPS Exchange",
		Description: "A .gpx file or folder of .gpx files containing location tracks",
		Extensions:  []string{".gpx"},
		NewReader: func(file io.Reader, _ sources.ReaderOptions) (sources.SampleReader, error) {
			return NewReader(file)
		},
	})
	if err != nil {
		travel.Log.Fatal("registering source", zap.Error(err))
	}
}

// nominal GPS user range error in meters; HDOP scales it into a
// horizontal accuracy estimate
const rangeErrorMeters = 5

// Reader streams the track points of one GPX document in document
// order.
type Reader struct {
	points []*gpx.WptType

	// used for points that carry no timestamp of their own
	metadataTime time.Time
}

// NewReader parses the GPX document in file.
func NewReader(file io.Reader) (*Reader, error) {
	doc, err := gpx.Read(file)
	if err != nil {
		return nil, fmt.Errorf("parsing gpx document: %w", err)
	}

	r := new(Reader)
	if doc.Metadata != nil {
		r.metadataTime = doc.Metadata.Time
	}
	for _, trk := range doc.Trk {
		for _, seg := range trk.TrkSeg {
			r.points = append(r.points, seg.TrkPt...)
		}
	}

	return r, nil
}

// NextSample returns the next track point as a location sample, or
// (nil, nil) when the document is exhausted.
func (r *Reader) NextSample(ctx context.Context) (*travel.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(r.points) == 0 {
		return nil, nil
	}

	p := r.points[0]
	r.points = r.points[1:]

	timestamp := p.Time
	if timestamp.IsZero() {
		timestamp = r.metadataTime
	}

	s := &travel.LocationSample{
		Timestamp:  timestamp,
		Coordinate: geo.Coordinate{Latitude: p.Lat, Longitude: p.Lon},
		Source:     travel.SourceGPS,
	}
	if p.HDOP > 0 {
		s.AccuracyMeters = p.HDOP * rangeErrorMeters
	}
	if p.Ele != 0 {
		ele := p.Ele
		s.Altitude = &ele
	}
	if p.Speed > 0 {
		spd := p.Speed
		s.Speed = &spd
	}
	if p.Course > 0 {
		crs := p.Course
		s.Bearing = &crs
	}

	return s, nil
}
