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

// Package nmea0183 implements an ingestion source for NMEA 0183
// sentence logs, the line protocol spoken by GPS receivers, radios,
// and other marine electronics. Only RMC and GGA sentences carry
// usable positions; everything else is skipped.
package nmea0183

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/travelog/travelog/geo"
	"github.com/travelog/travelog/sources"
	"github.com/travelog/travelog/travel"
	"go.uber.org/zap"
)

func init() {
	err := sources.Register(sources.Source{
		Name:        "nmea0183",
		Title:       "NMEA-0183",
		Description: "Sentence logs from GPS receivers, radios, and other marine electronics",
		Extensions:  []string{".nme", ".nmea"},
		NewReader: func(file io.Reader, opt sources.ReaderOptions) (sources.SampleReader, error) {
			return NewReader(file, opt.ReferenceYear), nil
		},
	})
	if err != nil {
		travel.Log.Fatal("registering source", zap.Error(err))
	}
}

// Reader streams samples out of an NMEA sentence log. Receivers
// customarily emit RMC/GGA pairs describing the same instant; the pair
// is merged into one sample so speed (RMC) and altitude (GGA) land
// together instead of producing near-duplicate points.
type Reader struct {
	scanner  *bufio.Scanner
	refYear  int
	lastDate nmea.Date
	log      *zap.Logger

	held *travel.LocationSample
	done bool
}

// NewReader returns a Reader for the NMEA log in file. NMEA dates have
// two-digit years; refYear anchors their century, and zero means the
// current year.
func NewReader(file io.Reader, refYear int) *Reader {
	if refYear <= 0 {
		refYear = time.Now().UTC().Year()
	}

	scanner := bufio.NewScanner(file)
	// some radios produce carriage-return-only line endings, which the
	// default split function does not recognize
	scanner.Split(scanLines)

	return &Reader{
		scanner: scanner,
		refYear: refYear,
		log:     travel.Log.Named("nmea"),
	}
}

// NextSample returns the next fix as a location sample, or (nil, nil)
// at the end of the log.
func (r *Reader) NextSample(ctx context.Context) (*travel.LocationSample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.done {
			out := r.held
			r.held = nil
			return out, nil
		}

		cur, err := r.nextFix(ctx)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			r.done = true
			continue // flush the held sample before reporting the end
		}
		if r.held == nil {
			r.held = cur
			continue
		}
		if cur.Timestamp.Equal(r.held.Timestamp) && cur.Coordinate == r.held.Coordinate {
			merge(r.held, cur)
			continue
		}

		out := r.held
		r.held = cur
		return out, nil
	}
}

// nextFix returns the next per-sentence fix from the log.
func (r *Reader) nextFix(ctx context.Context) (*travel.LocationSample, error) {
	for r.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("parsing line: %w", err)
		}

		switch s := sentence.(type) {
		case nmea.RMC:
			if s.Date.Valid {
				r.lastDate = s.Date // GGA sentences carry no date of their own
			}
			if s.Validity != nmea.ValidRMC {
				continue // the receiver itself disowns void fixes
			}

			sample := &travel.LocationSample{
				Timestamp:  nmea.DateTime(r.refYear, s.Date, s.Time),
				Coordinate: geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude},
				Source:     travel.SourceGPS,
			}
			if s.Speed > 0 {
				spd := s.Speed * metersPerSecondPerKnot
				sample.Speed = &spd
			}
			if s.Course > 0 {
				crs := s.Course
				sample.Bearing = &crs
			}
			return sample, nil

		case nmea.GGA:
			if s.FixQuality == nmea.Invalid {
				continue
			}
			if !r.lastDate.Valid {
				// GGA has no date field; before the first RMC there is
				// no day to place the time on, so the point is unusable
				r.log.Warn("GGA sentence before any sentence with a date; dropping point",
					zap.String("raw", s.Raw))
				continue
			}

			sample := &travel.LocationSample{
				Timestamp:  nmea.DateTime(r.refYear, r.lastDate, s.Time),
				Coordinate: geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude},
				Source:     travel.SourceGPS,
			}
			if s.HDOP > 0 {
				sample.AccuracyMeters = s.HDOP * rangeErrorMeters
			}
			if s.Altitude != 0 {
				alt := s.Altitude
				sample.Altitude = &alt
			}
			return sample, nil

		default:
			// other sentence types carry nothing we don't already get
			// from RMC and GGA
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	return nil, nil
}

// merge copies onto dst whatever src knows that dst does not.
func merge(dst, src *travel.LocationSample) {
	if dst.AccuracyMeters == 0 {
		dst.AccuracyMeters = src.AccuracyMeters
	}
	if dst.Speed == nil {
		dst.Speed = src.Speed
	}
	if dst.Bearing == nil {
		dst.Bearing = src.Bearing
	}
	if dst.Altitude == nil {
		dst.Altitude = src.Altitude
	}
}

// scanLines is a bufio.SplitFunc that tolerates variable newlines:
// \n, \r\n, and carriage-return only.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			// line terminated by single newline
			return i + 1, data[0:i], nil
		}
		// line terminated by carriage return at the end of the buffer
		if !atEOF && len(data) == i+1 {
			return 0, nil, nil
		}
		advance = i + 1
		if len(data) > i+1 && data[i+1] == '\n' {
			advance++
		}
		return advance, data[0:i], nil
	}
	// at EOF with a final, non-terminated line
	if atEOF {
		return len(data), data, nil
	}
	// request more data
	return 0, nil, nil
}

// 1 knot is this many m/s
const metersPerSecondPerKnot = 0.514444

// nominal GPS user range error in meters; HDOP scales it into a
// horizontal accuracy estimate
const rangeErrorMeters = 5
