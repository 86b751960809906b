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
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/travelog/travelog/geo"
)

// storeCommuteDay stores a morning stay, a ride, and an afternoon stay.
func storeCommuteDay(t *testing.T, tl *Timeline, userID string, base time.Time) {
	t.Helper()
	a := geo.Coordinate{Latitude: 52.5200, Longitude: 13.4050}
	b := geo.Coordinate{Latitude: 52.5200, Longitude: 13.4300}

	samples := dwell(userID, a, base, 5, 5*time.Minute)
	for i, lon := range []float64{13.4100, 13.4150, 13.4200, 13.4250} {
		samples = append(samples, LocationSample{
			UserID:     userID,
			Timestamp:  base.Add(25*time.Minute + time.Duration(i)*5*time.Minute),
			Coordinate: geo.Coordinate{Latitude: 52.5200, Longitude: lon},
		})
	}
	samples = append(samples, dwell(userID, b, base.Add(45*time.Minute), 5, 5*time.Minute)...)

	if _, err := tl.StoreSamples(context.Background(), samples); err != nil {
		t.Fatal(err)
	}
}

func TestRunPassEndToEnd(t *testing.T) {
	tl := openTestTimeline(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }

	storeCommuteDay(t, tl, "alice", base)

	res, err := tl.RunPass(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != string(passSucceeded) {
		t.Fatalf("pass status = %s, want succeeded", res.Status)
	}
	if res.Visits != 2 || res.Routes != 1 || res.Trips != 1 {
		t.Fatalf("pass found %d visits, %d routes, %d trips; want 2, 1, 1",
			res.Visits, res.Routes, res.Trips)
	}

	visits, err := tl.ListVisits(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	routes, err := tl.ListRoutes(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	trips, err := tl.ListTrips(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(visits) != 2 || len(routes) != 1 || len(trips) != 1 {
		t.Fatalf("stored %d visits, %d routes, %d trips", len(visits), len(routes), len(trips))
	}
	if routes[0].FromVisitID != visits[0].ID || routes[0].ToVisitID != visits[1].ID {
		t.Error("route endpoints lost in storage")
	}
	if trips[0].ID == "" || len(trips[0].Days) == 0 {
		t.Errorf("trip came back hollow: %+v", trips[0])
	}
}

func TestRunPassSkipsUnchangedInputs(t *testing.T) {
	tl := openTestTimeline(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }

	storeCommuteDay(t, tl, "alice", base)

	first, err := tl.RunPass(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != string(passSucceeded) {
		t.Fatalf("first pass status = %s", first.Status)
	}

	// nothing changed, even though the clock moved
	tl.now = func() time.Time { return base.Add(3 * time.Hour) }
	second, err := tl.RunPass(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != string(passSkipped) {
		t.Errorf("unchanged inputs reprocessed: status = %s", second.Status)
	}

	// new samples invalidate the skip
	storeCommuteDay(t, tl, "alice", base.Add(24*time.Hour))
	tl.now = func() time.Time { return base.Add(26 * time.Hour) }
	third, err := tl.RunPass(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if third.Status != string(passSucceeded) {
		t.Errorf("new samples did not trigger a pass: status = %s", third.Status)
	}
	if third.Visits != 4 {
		t.Errorf("expected 4 visits after the second day, got %d", third.Visits)
	}
}

func TestRunPassReproducesSameIDs(t *testing.T) {
	tl := openTestTimeline(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }

	storeCommuteDay(t, tl, "alice", base)
	if _, err := tl.RunPass(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	before, err := tl.ListVisits(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}

	// force a reprocess of the same window by tweaking the config
	tl.cfg.SimplifyEpsilonMeters = 16
	if _, err := tl.RunPass(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	after, err := tl.ListVisits(ctx, "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}

	if len(before) != len(after) {
		t.Fatalf("visit count changed: %d != %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Errorf("visit %d changed identity: %s != %s", i, before[i].ID, after[i].ID)
		}
	}
}

func TestRunPassNoSamples(t *testing.T) {
	tl := openTestTimeline(t)

	res, err := tl.RunPass(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != string(passSkipped) {
		t.Errorf("status = %s, want skipped", res.Status)
	}

	if _, err := tl.RunPass(context.Background(), ""); err == nil {
		t.Error("expected an error for an empty user ID")
	}
}

func TestRunPassCanceledByCaller(t *testing.T) {
	tl := openTestTimeline(t)
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	storeCommuteDay(t, tl, "alice", base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// an interrupt from the caller is not a supersession; the error
	// and the pass status must say what actually happened
	res, err := tl.RunPass(ctx, "alice")
	if errors.Is(err, ErrPassSuperseded) {
		t.Error("caller cancellation misreported as supersession")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if res.Status != string(passCanceled) {
		t.Errorf("status = %s, want canceled", res.Status)
	}
}

func TestRunPassSupersededByNewerRequest(t *testing.T) {
	tl := openTestTimeline(t)
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }
	storeCommuteDay(t, tl, "alice", base)

	// hold the user's pass lock so the pass registers itself and blocks
	tl.passLocks.Lock("alice")

	done := make(chan struct{})
	var res PassResult
	var err error
	go func() {
		defer close(done)
		res, err = tl.RunPass(context.Background(), "alice")
	}()

	for {
		tl.activePassesMu.Lock()
		ap, ok := tl.activePasses["alice"]
		tl.activePassesMu.Unlock()
		if ok {
			ap.supersede() // what a newer request for the same user does
			break
		}
		time.Sleep(time.Millisecond)
	}

	tl.passLocks.Unlock("alice")
	<-done

	if !errors.Is(err, ErrPassSuperseded) {
		t.Errorf("expected ErrPassSuperseded, got %v", err)
	}
	if res.Status != string(passSuperseded) {
		t.Errorf("status = %s, want superseded", res.Status)
	}
}

func TestRunPassCancelsPreviousHolder(t *testing.T) {
	tl := openTestTimeline(t)
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }
	storeCommuteDay(t, tl, "alice", base)

	cancelled := false
	tl.activePassesMu.Lock()
	tl.activePasses["alice"] = &activePass{cancel: func() { cancelled = true }}
	tl.activePassesMu.Unlock()

	if _, err := tl.RunPass(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if !cancelled {
		t.Error("a new pass must cancel the previous holder")
	}

	tl.activePassesMu.Lock()
	_, stillThere := tl.activePasses["alice"]
	tl.activePassesMu.Unlock()
	if stillThere {
		t.Error("finished pass left itself registered")
	}
}

func TestRunAllPasses(t *testing.T) {
	tl := openTestTimeline(t)
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }

	storeCommuteDay(t, tl, "alice", base)
	storeCommuteDay(t, tl, "bob", base)

	results, err := tl.RunAllPasses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != string(passSucceeded) {
			t.Errorf("user %s: status %s", res.UserID, res.Status)
		}
	}
}

func TestPassInputDigest(t *testing.T) {
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	window := sampleWindowStats{Count: 100, MinTime: base, MaxTime: base.Add(time.Hour), MaxID: 100}
	cfg := DefaultConfig()

	if !bytes.Equal(passInputDigest("alice", window, cfg), passInputDigest("alice", window, cfg)) {
		t.Error("same inputs, different digests")
	}

	grown := window
	grown.Count, grown.MaxID = 101, 101
	if bytes.Equal(passInputDigest("alice", window, cfg), passInputDigest("alice", grown, cfg)) {
		t.Error("a grown window digests the same")
	}

	if bytes.Equal(passInputDigest("alice", window, cfg), passInputDigest("bob", window, cfg)) {
		t.Error("different users digest the same")
	}

	tuned := cfg
	tuned.SpatialThresholdMeters = 99
	if bytes.Equal(passInputDigest("alice", window, cfg), passInputDigest("alice", window, tuned)) {
		t.Error("a config change digests the same")
	}
}
