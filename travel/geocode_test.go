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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/travelog/travelog/geo"
)

type fakeGeocoder struct {
	place Place
	err   error
	calls int
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, _ geo.Coordinate) (Place, error) {
	f.calls++
	return f.place, f.err
}

func seedVisits(t *testing.T, tl *Timeline, visits []PlaceVisit) {
	t.Helper()
	res := Result{Visits: visits}
	if err := tl.replaceDerived(context.Background(), visits[0].UserID, res, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEnrichVisitsUsesCacheForRecurringPlaces(t *testing.T) {
	tl := openTestTimeline(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	lyon := geo.Coordinate{Latitude: 45.7640, Longitude: 4.8357}

	seedVisits(t, tl, []PlaceVisit{
		{ID: "v1", UserID: "alice", Start: base, End: base.Add(time.Hour), Center: lyon, PlaceKey: "cell1"},
		{ID: "v2", UserID: "alice", Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour), Center: lyon, PlaceKey: "cell1"},
	})

	fake := &fakeGeocoder{place: Place{City: "Lyon", Country: "France"}}
	enriched, err := tl.EnrichVisits(ctx, fake, 10)
	if err != nil {
		t.Fatal(err)
	}
	if enriched != 2 {
		t.Errorf("enriched %d visits, want 2", enriched)
	}
	if fake.calls != 1 {
		t.Errorf("geocoder called %d times for one place, want 1", fake.calls)
	}

	visits, err := tl.ListVisits(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range visits {
		if v.City != "Lyon" || v.Country != "France" {
			t.Errorf("visit %s not enriched: %q, %q", v.ID, v.City, v.Country)
		}
	}
}

func TestEnrichVisitsLeavesFailuresForLater(t *testing.T) {
	tl := openTestTimeline(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	lyon := geo.Coordinate{Latitude: 45.7640, Longitude: 4.8357}

	seedVisits(t, tl, []PlaceVisit{
		{ID: "v1", UserID: "alice", Start: base, End: base.Add(time.Hour), Center: lyon, PlaceKey: "cell1"},
	})

	fake := &fakeGeocoder{err: errors.New("service unavailable")}
	enriched, err := tl.EnrichVisits(ctx, fake, 10)
	if err != nil {
		t.Fatalf("a lookup failure must not fail the sweep: %v", err)
	}
	if enriched != 0 {
		t.Errorf("enriched %d visits despite the failure", enriched)
	}

	visits, err := tl.ListVisits(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if visits[0].City != "" || visits[0].Country != "" {
		t.Error("failed lookup still wrote place fields")
	}

	// the next sweep retries and succeeds
	fake.err = nil
	fake.place = Place{City: "Lyon", Country: "France"}
	enriched, err = tl.EnrichVisits(ctx, fake, 10)
	if err != nil {
		t.Fatal(err)
	}
	if enriched != 1 {
		t.Errorf("retry enriched %d visits, want 1", enriched)
	}
}

func TestNominatimReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("request carries no User-Agent")
		}
		switch r.URL.Query().Get("lat") {
		case "45.764000":
			w.Write([]byte(`{"address":{"city":"Lyon","country":"France"}}`))
		case "47.216700":
			// smaller places come back as town or village
			w.Write([]byte(`{"address":{"town":"Cholet","country":"France"}}`))
		default:
			w.Write([]byte(`{"error":"Unable to geocode"}`))
		}
	}))
	defer srv.Close()

	ng := NewNominatimGeocoder(srv.URL, 100)
	ctx := context.Background()

	place, err := ng.ReverseGeocode(ctx, geo.Coordinate{Latitude: 45.7640, Longitude: 4.8357})
	if err != nil {
		t.Fatal(err)
	}
	if place.City != "Lyon" || place.Country != "France" {
		t.Errorf("got %+v", place)
	}

	place, err = ng.ReverseGeocode(ctx, geo.Coordinate{Latitude: 47.2167, Longitude: -0.8833})
	if err != nil {
		t.Fatal(err)
	}
	if place.City != "Cholet" {
		t.Errorf("town fallback failed: %+v", place)
	}

	// open ocean resolves to nowhere, which is an answer, not an error
	place, err = ng.ReverseGeocode(ctx, geo.Coordinate{Latitude: 0, Longitude: -140})
	if err != nil {
		t.Fatal(err)
	}
	if place != (Place{}) {
		t.Errorf("expected an empty place, got %+v", place)
	}
}
