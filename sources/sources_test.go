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

package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/travelog/travelog/geo"
	"github.com/travelog/travelog/travel"
)

// The tests ingest a line-delimited JSON format: one
// {"t": unixMilli, "lat": ..., "lon": ...} object per line.
type jsonlPoint struct {
	T   int64   `json:"t"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type jsonlReader struct {
	dec *json.Decoder
}

func (r *jsonlReader) NextSample(ctx context.Context) (*travel.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p jsonlPoint
	err := r.dec.Decode(&p)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &travel.LocationSample{
		Timestamp:  time.UnixMilli(p.T).UTC(),
		Coordinate: geo.Coordinate{Latitude: p.Lat, Longitude: p.Lon},
		Source:     travel.SourceGPS,
	}, nil
}

func init() {
	err := Register(Source{
		Name:        "jsonl",
		Title:       "JSON Lines (test)",
		Description: "line-delimited JSON points for tests",
		Extensions:  []string{".jsonl"},
		NewReader: func(file io.Reader, _ ReaderOptions) (SampleReader, error) {
			return &jsonlReader{dec: json.NewDecoder(file)}, nil
		},
	})
	if err != nil {
		panic(err)
	}
}

func openTestTimeline(t *testing.T) *travel.Timeline {
	t.Helper()
	tl, err := travel.Open(context.Background(), t.TempDir(), travel.Config{})
	if err != nil {
		t.Fatalf("opening repository: %v", err)
	}
	t.Cleanup(func() { tl.Close() })
	return tl
}

func writeJSONL(t *testing.T, path string, points []jsonlPoint) {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		if err := enc.Encode(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterValidation(t *testing.T) {
	valid := func() Source {
		return Source{
			Name:  "validation_probe",
			Title: "Probe",
			NewReader: func(io.Reader, ReaderOptions) (SampleReader, error) {
				return nil, nil
			},
		}
	}

	src := valid()
	src.Name = ""
	if err := Register(src); err == nil {
		t.Error("expected error for missing name")
	}

	src = valid()
	src.Title = ""
	if err := Register(src); err == nil {
		t.Error("expected error for missing title")
	}

	src = valid()
	src.NewReader = nil
	if err := Register(src); err == nil {
		t.Error("expected error for missing reader constructor")
	}

	src = valid()
	src.Name = "jsonl" // registered by this test package
	if err := Register(src); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestByName(t *testing.T) {
	src, err := ByName("jsonl")
	if err != nil {
		t.Fatalf("ByName(jsonl): %v", err)
	}
	if src.Title != "JSON Lines (test)" {
		t.Errorf("Title = %q", src.Title)
	}

	if _, err := ByName("no_such_source"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestAllSorted(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("expected at least one registered source")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("sources out of order: %s before %s", all[i-1].Name, all[i].Name)
		}
	}
}

func TestSourceClaims(t *testing.T) {
	src := Source{Extensions: []string{".gpx"}}

	for filename, want := range map[string]bool{
		"track.gpx":     true,
		"TRACK.GPX":     true,
		"dir/track.gpx": true,
		"track.gpx.bak": false,
		"track.jsonl":   false,
		"gpx":           false,
	} {
		if got := src.claims(filename); got != want {
			t.Errorf("claims(%q) = %v, want %v", filename, got, want)
		}
	}
}

func TestRecognize(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jsonl", "b.jsonl", "c.jsonl", "notes.txt", ".hidden.jsonl"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := Recognize(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d recognitions, want 1", len(recs))
	}
	if recs[0].Source.Name != "jsonl" {
		t.Errorf("top recognition = %s, want jsonl", recs[0].Source.Name)
	}
	// 3 of the 4 visible files match; the hidden one must not count
	if got, want := recs[0].Confidence, 0.75; got != want {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestRecognizeSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walk.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	recs, err := Recognize(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Confidence != 1 {
		t.Fatalf("recognitions = %+v, want jsonl at confidence 1", recs)
	}
}

func TestNewIngesterValidation(t *testing.T) {
	if _, err := NewIngester(nil, "user-1", ReaderOptions{}); err == nil {
		t.Error("expected error for nil repository")
	}

	tl := openTestTimeline(t)
	if _, err := NewIngester(tl, "", ReaderOptions{}); err == nil {
		t.Error("expected error for empty user ID")
	}
}

func TestIngestPathStoresSamples(t *testing.T) {
	tl := openTestTimeline(t)
	dir := t.TempDir()

	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	var points []jsonlPoint
	for i := 0; i < 10; i++ {
		points = append(points, jsonlPoint{
			T:   base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Lat: 48.8566 + float64(i)*0.001,
			Lon: 2.3522,
		})
	}
	writeJSONL(t, filepath.Join(dir, "walk.jsonl"), points)

	src, err := ByName("jsonl")
	if err != nil {
		t.Fatal(err)
	}
	ing, err := NewIngester(tl, "user-1", ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ing.IngestPath(context.Background(), src, dir); err != nil {
		t.Fatal(err)
	}

	stats := ing.Stats()
	if stats.FilesRead != 1 {
		t.Errorf("FilesRead = %d, want 1", stats.FilesRead)
	}
	if stats.Stored != 10 {
		t.Errorf("Stored = %d, want 10", stats.Stored)
	}
	if len(stats.Rejected) != 0 {
		t.Errorf("Rejected = %v, want none", stats.Rejected)
	}

	users, err := tl.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != "user-1" {
		t.Errorf("users = %v, want [user-1]", users)
	}
}

func TestIngesterFiltering(t *testing.T) {
	tl := openTestTimeline(t)
	dir := t.TempDir()

	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	at := func(d time.Duration) int64 { return base.Add(d).UnixMilli() }

	writeJSONL(t, filepath.Join(dir, "noisy.jsonl"), []jsonlPoint{
		{T: at(0), Lat: 48.8566, Lon: 2.3522},
		{T: at(2 * time.Second), Lat: 48.8566, Lon: 2.3522},   // same coords inside the window
		{T: at(3 * time.Second), Lat: 48.85662, Lon: 2.3522},  // ~2 m away inside the window
		{T: at(10 * time.Second), Lat: 48.85662, Lon: 2.3522}, // outside the window, kept
		{T: at(20 * time.Second), Lat: 54.0, Lon: 2.3522},     // ~570 km in 10 s
		{T: at(30 * time.Second), Lat: 95.0, Lon: 2.3522},     // latitude out of range
	})

	src, err := ByName("jsonl")
	if err != nil {
		t.Fatal(err)
	}
	ing, err := NewIngester(tl, "user-1", ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ing.IngestPath(context.Background(), src, dir); err != nil {
		t.Fatal(err)
	}

	stats := ing.Stats()
	if stats.Stored != 2 {
		t.Errorf("Stored = %d, want 2", stats.Stored)
	}
	for reason, want := range map[string]int{
		"duplicate":         2,
		"implausible_speed": 1,
		"invalid":           1,
	} {
		if got := stats.Rejected[reason]; got != want {
			t.Errorf("Rejected[%s] = %d, want %d", reason, got, want)
		}
	}
}

func TestIngestDedupesAcrossFiles(t *testing.T) {
	tl := openTestTimeline(t)
	dir := t.TempDir()

	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	writeJSONL(t, filepath.Join(dir, "leg1.jsonl"), []jsonlPoint{
		{T: base.UnixMilli(), Lat: 48.8566, Lon: 2.3522},
	})
	writeJSONL(t, filepath.Join(dir, "leg2.jsonl"), []jsonlPoint{
		{T: base.Add(2 * time.Second).UnixMilli(), Lat: 48.8566, Lon: 2.3522}, // repeats leg1's last point
		{T: base.Add(time.Minute).UnixMilli(), Lat: 48.8600, Lon: 2.3522},
	})

	src, err := ByName("jsonl")
	if err != nil {
		t.Fatal(err)
	}
	ing, err := NewIngester(tl, "user-1", ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ing.IngestPath(context.Background(), src, dir); err != nil {
		t.Fatal(err)
	}

	stats := ing.Stats()
	if stats.FilesRead != 2 {
		t.Errorf("FilesRead = %d, want 2", stats.FilesRead)
	}
	if stats.Stored != 2 {
		t.Errorf("Stored = %d, want 2", stats.Stored)
	}
	if got := stats.Rejected["duplicate"]; got != 1 {
		t.Errorf("Rejected[duplicate] = %d, want 1", got)
	}
}
