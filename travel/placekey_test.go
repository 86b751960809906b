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
	"testing"
	"time"

	"github.com/travelog/travelog/geo"
)

func TestPlaceKeyStable(t *testing.T) {
	paris := geo.Coordinate{Latitude: 48.8566, Longitude: 2.3522}
	lyon := geo.Coordinate{Latitude: 45.7640, Longitude: 4.8357}

	if PlaceKey(paris) != PlaceKey(paris) {
		t.Error("same coordinate yielded different keys")
	}
	if PlaceKey(paris) == PlaceKey(lyon) {
		t.Error("different cities share a place key")
	}
	if PlaceKey(paris) == "" {
		t.Error("empty place key")
	}
}

func TestHomePlaceKey(t *testing.T) {
	day := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	stay := func(key string, hours int) PlaceVisit {
		return PlaceVisit{PlaceKey: key, Start: day, End: day.Add(time.Duration(hours) * time.Hour)}
	}

	for _, tc := range []struct {
		name   string
		visits []PlaceVisit
		want   string
	}{
		{"no history", nil, ""},
		{"single place", []PlaceVisit{stay("a", 8)}, "a"},
		{"most dwell wins", []PlaceVisit{stay("a", 8), stay("b", 40), stay("a", 3)}, "b"},
		{"accumulates across visits", []PlaceVisit{stay("a", 8), stay("a", 8), stay("b", 10)}, "a"},
		{"tie breaks on token", []PlaceVisit{stay("z", 5), stay("m", 5)}, "m"},
	} {
		if got := homePlaceKey(tc.visits); got != tc.want {
			t.Errorf("%s: homePlaceKey = %q, want %q", tc.name, got, tc.want)
		}
	}
}
