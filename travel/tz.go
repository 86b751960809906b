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
	"fmt"
	"sync"
	"time"

	"github.com/ringsaturn/tzf"
	"github.com/travelog/travelog/geo"
	"go.uber.org/zap"
)

// timezoneResolver maps a coordinate to its local timezone. Trip days
// are calendar days where the traveler actually was, not UTC days.
type timezoneResolver interface {
	resolve(c geo.Coordinate) *time.Location
}

// tzResolver resolves timezones entirely offline from an embedded
// boundary index; nothing here touches the network.
type tzResolver struct {
	finder tzf.F

	mu    sync.Mutex
	cache map[string]*time.Location
}

func newTzResolver() (*tzResolver, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("loading timezone index: %w", err)
	}
	return &tzResolver{
		finder: finder,
		cache:  make(map[string]*time.Location),
	}, nil
}

func (r *tzResolver) resolve(c geo.Coordinate) *time.Location {
	name := r.finder.GetTimezoneName(c.Longitude, c.Latitude)
	if name == "" {
		return time.UTC
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if loc, ok := r.cache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		Log.Named("tz").Warn("unknown timezone name from index",
			zap.String("name", name), zap.Error(err))
		loc = time.UTC
	}
	r.cache[name] = loc
	return loc
}

// utcResolver pins every coordinate to UTC; used when the timezone
// index is unavailable and in tests that need fixed day boundaries.
type utcResolver struct{}

func (utcResolver) resolve(geo.Coordinate) *time.Location { return time.UTC }

// localDate formats the calendar date of t at the given place.
func localDate(t time.Time, c geo.Coordinate, tz timezoneResolver) string {
	loc := time.UTC
	if tz != nil {
		if l := tz.resolve(c); l != nil {
			loc = l
		}
	}
	return t.In(loc).Format("2006-01-02")
}
