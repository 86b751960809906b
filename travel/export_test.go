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
	"encoding/json"
	"testing"
	"time"

	"github.com/travelog/travelog/geo"
)

func TestPathRoundTrip(t *testing.T) {
	path := []geo.Coordinate{
		{Latitude: 52.5200, Longitude: 13.4050},
		{Latitude: 52.5210, Longitude: 13.4150},
		{Latitude: 52.5220, Longitude: 13.4250},
	}

	data, err := encodePath(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodePath(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(path) {
		t.Fatalf("round trip changed length: %d != %d", len(got), len(path))
	}
	for i := range path {
		if got[i] != path[i] {
			t.Errorf("point %d: %v != %v", i, got[i], path[i])
		}
	}
}

func TestDecodePathRejectsWrongGeometry(t *testing.T) {
	if _, err := decodePath([]byte(`{"type":"Point","coordinates":[13.4,52.5]}`)); err == nil {
		t.Error("a Point decoded as a path")
	}
	if _, err := decodePath([]byte(`not json`)); err == nil {
		t.Error("garbage decoded as a path")
	}
}

func TestExportGeoJSON(t *testing.T) {
	tl := openTestTimeline(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	tl.now = func() time.Time { return base.Add(2 * time.Hour) }

	storeCommuteDay(t, tl, "alice", base)
	if _, err := tl.RunPass(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := tl.ExportGeoJSON(ctx, &buf, "alice", time.Time{}, time.Time{}); err != nil {
		t.Fatal(err)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(buf.Bytes(), &fc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %q", fc.Type)
	}
	if len(fc.Features) != 3 { // two visits, one route
		t.Fatalf("expected 3 features, got %d", len(fc.Features))
	}

	points, lines := 0, 0
	for _, f := range fc.Features {
		switch f.Geometry.Type {
		case "Point":
			points++
			if f.Properties["kind"] != "visit" {
				t.Errorf("point feature has kind %v", f.Properties["kind"])
			}
		case "LineString":
			lines++
			if f.Properties["kind"] != "route" {
				t.Errorf("line feature has kind %v", f.Properties["kind"])
			}
			if f.Properties["transport"] == "" {
				t.Error("route feature lost its transport")
			}
		default:
			t.Errorf("unexpected geometry %q", f.Geometry.Type)
		}
	}
	if points != 2 || lines != 1 {
		t.Errorf("got %d points and %d lines, want 2 and 1", points, lines)
	}
}
