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
	"sort"
	"time"

	"github.com/travelog/travelog/geo"
)

// tripEntry is one visit or route flattened for trip assembly, with
// back-references into the source slices so trip membership can be
// stamped onto the originals.
type tripEntry struct {
	kind       ItemKind
	id         string
	start, end time.Time
	coord      geo.Coordinate // where the item happened, for timezone lookup
	homeStay   bool
	idx        int // index into the visits or routes slice
}

// assembleTrips groups a user's visits and routes into trips. A trip is
// a contiguous stretch of the timeline away from home: it closes when
// the user settles back at the home place for longer than the
// configured threshold, or when tracking goes silent longer than the
// inactivity gap. Closing home stays belong to no trip. The TripID
// fields of the passed-in visits and routes are updated in place.
func assembleTrips(userID string, visits []PlaceVisit, routes []RouteSegment, homeKey string, tz timezoneResolver, cfg Config) []Trip {
	entries := make([]tripEntry, 0, len(visits)+len(routes))
	for i, v := range visits {
		entries = append(entries, tripEntry{
			kind:     ItemVisit,
			id:       v.ID,
			start:    v.Start,
			end:      v.End,
			coord:    v.Center,
			homeStay: homeKey != "" && v.PlaceKey == homeKey && v.Duration() >= cfg.HomeStayClose,
			idx:      i,
		})
	}
	for i, r := range routes {
		coord := geo.Coordinate{}
		if len(r.Path) > 0 {
			coord = r.Path[0]
		}
		entries = append(entries, tripEntry{
			kind:  ItemRoute,
			id:    r.ID,
			start: r.Start,
			end:   r.End,
			coord: coord,
			idx:   i,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].start.Equal(entries[j].start) {
			return entries[i].start.Before(entries[j].start)
		}
		if entries[i].kind != entries[j].kind {
			return entries[i].kind == ItemVisit
		}
		return entries[i].id < entries[j].id
	})

	var trips []Trip
	var open []tripEntry
	var prevEnd time.Time

	closeTrip := func() {
		if len(open) == 0 {
			return
		}
		trip := buildTrip(userID, open, tz)
		for _, e := range open {
			if e.kind == ItemVisit {
				visits[e.idx].TripID = trip.ID
			} else {
				routes[e.idx].TripID = trip.ID
			}
		}
		trips = append(trips, trip)
		open = nil
	}

	for _, e := range entries {
		if len(open) > 0 && e.start.Sub(prevEnd) > cfg.TripInactivityGap {
			closeTrip()
		}
		if e.homeStay {
			closeTrip()
			prevEnd = e.end
			continue
		}
		open = append(open, e)
		if e.end.After(prevEnd) {
			prevEnd = e.end
		}
	}
	closeTrip()

	return trips
}

// buildTrip groups the entries of one trip into local calendar days.
// An item belongs to the day it started, in the timezone of the place
// where it started; overnight items are not split.
func buildTrip(userID string, entries []tripEntry, tz timezoneResolver) Trip {
	trip := Trip{
		ID:     tripID(userID, entries[0].start),
		UserID: userID,
		Start:  entries[0].start,
		End:    entries[len(entries)-1].end,
	}

	for _, e := range entries {
		date := localDate(e.start, e.coord, tz)
		if len(trip.Days) == 0 || trip.Days[len(trip.Days)-1].Date != date {
			trip.Days = append(trip.Days, TripDay{Date: date})
		}
		day := &trip.Days[len(trip.Days)-1]
		day.Items = append(day.Items, TripItem{Kind: e.kind, ID: e.id, Start: e.start, End: e.end})
	}

	return trip
}
