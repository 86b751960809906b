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
	"context"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/travelog/travelog/geo"
	"go.uber.org/zap"
)

// GenerateDemo synthesizes a plausible movement history for the user
// and stores it: days of home/work routine plus one multi-day trip,
// so a single processing pass yields visits, routes, and a trip. The
// same seed yields the same history.
func (tl *Timeline) GenerateDemo(ctx context.Context, userID string, days int, seed uint64) (int, error) {
	if days <= 0 {
		days = 14
	}
	faker := gofakeit.New(seed)

	// somewhere in the European mainland, where timezone lookups and
	// reverse geocoding both behave
	home := geo.Coordinate{
		Latitude:  faker.Float64Range(38, 55),
		Longitude: faker.Float64Range(-8, 24),
	}
	work := offsetCoord(home, faker.Float64Range(2500, 8000), faker.Float64Range(0, 360))
	cafe := offsetCoord(home, faker.Float64Range(400, 1200), faker.Float64Range(0, 360))
	hotel := offsetCoord(home, faker.Float64Range(120000, 220000), faker.Float64Range(0, 360))

	startDay := tl.now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	var samples []LocationSample
	emit := func(c geo.Coordinate, at time.Time, speedMS float64) {
		s := LocationSample{
			UserID:         userID,
			Timestamp:      at,
			Coordinate:     jitterCoord(faker, c, 12),
			AccuracyMeters: faker.Float64Range(4, 28),
			Source:         SourceGPS,
		}
		if speedMS > 0 {
			s.Speed = float64Ptr(speedMS + faker.Float64Range(-0.4, 0.4))
		}
		samples = append(samples, s)
	}

	dwell := func(c geo.Coordinate, from time.Time, d time.Duration) time.Time {
		for at := from; at.Before(from.Add(d)); at = at.Add(5 * time.Minute) {
			emit(c, at, 0)
		}
		return from.Add(d)
	}

	travelTo := func(from, to geo.Coordinate, at time.Time, speedKmh float64) time.Time {
		dist := geo.Distance(from, to)
		dur := time.Duration(dist / (speedKmh / 3.6) * float64(time.Second))
		steps := int(dur / time.Minute)
		if steps < 1 {
			steps = 1
		}
		path := geo.InterpolateSpherical.Path(from, to, steps)
		for i, p := range path {
			frac := float64(i) / float64(len(path)-1)
			emit(p, at.Add(time.Duration(frac*float64(dur))), speedKmh/3.6)
		}
		return at.Add(dur)
	}

	tripStart := days / 2 // a long weekend in the middle of the history
	for day := 0; day < days; day++ {
		morning := startDay.AddDate(0, 0, day).Add(7 * time.Hour)

		if day >= tripStart && day < tripStart+3 {
			switch day - tripStart {
			case 0:
				at := dwell(home, morning, 90*time.Minute)
				at = travelTo(home, hotel, at, 95)
				dwell(hotel, at, 10*time.Hour)
			case 1:
				sight := offsetCoord(hotel, faker.Float64Range(1500, 5000), faker.Float64Range(0, 360))
				at := dwell(hotel, morning, 2*time.Hour)
				at = travelTo(hotel, sight, at, 4.5)
				at = dwell(sight, at, 3*time.Hour)
				at = travelTo(sight, hotel, at, 4.5)
				dwell(hotel, at, 8*time.Hour)
			case 2:
				at := dwell(hotel, morning, 2*time.Hour)
				at = travelTo(hotel, home, at, 95)
				dwell(home, at, 10*time.Hour)
			}
			continue
		}

		at := dwell(home, morning, 75*time.Minute)
		at = travelTo(home, work, at, 16)
		at = dwell(work, at, 8*time.Hour+30*time.Minute)
		at = travelTo(work, home, at, 16)

		if faker.Bool() {
			at = dwell(home, at, time.Hour)
			at = travelTo(home, cafe, at, 4.5)
			at = dwell(cafe, at, 80*time.Minute)
			at = travelTo(cafe, home, at, 4.5)
		}
		dwell(home, at, 3*time.Hour)
	}

	n, err := tl.StoreSamples(ctx, samples)
	if err != nil {
		return 0, err
	}

	Log.Info("generated demo history",
		zap.String("user_id", userID),
		zap.Int("days", days),
		zap.Int("samples", n))
	return n, nil
}

// offsetCoord displaces a coordinate by meters along a bearing using a
// flat-earth approximation, which is plenty for synthesizing tracks.
func offsetCoord(c geo.Coordinate, meters, bearingDeg float64) geo.Coordinate {
	rad := bearingDeg * math.Pi / 180
	north := meters * math.Cos(rad)
	east := meters * math.Sin(rad)
	lat := c.Latitude + north/111320
	lon := c.Longitude + east/(111320*math.Cos(c.Latitude*math.Pi/180))
	return geo.Coordinate{Latitude: lat, Longitude: lon}
}

func jitterCoord(faker *gofakeit.Faker, c geo.Coordinate, maxMeters float64) geo.Coordinate {
	return offsetCoord(c, faker.Float64Range(0, maxMeters), faker.Float64Range(0, 360))
}
