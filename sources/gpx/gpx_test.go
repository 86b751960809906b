package gpx

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/travelog/travelog/sources"
	"github.com/travelog/travelog/travel"
)

const rideDoc = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="travelog-test" xmlns="http://www.topografix.com/GPX/1/1">
  <metadata><time>2023-05-01T09:59:00Z</time></metadata>
  <trk>
    <name>Morning ride</name>
    <trkseg>
      <trkpt lat="45.5231" lon="-122.6765"><ele>15.2</ele><time>2023-05-01T10:00:00Z</time><speed>4.2</speed><hdop>1.2</hdop></trkpt>
      <trkpt lat="45.5240" lon="-122.6770"><ele>16.0</ele><time>2023-05-01T10:01:00Z</time></trkpt>
    </trkseg>
    <trkseg>
      <trkpt lat="45.5252" lon="-122.6775"></trkpt>
    </trkseg>
  </trk>
</gpx>`

func readAll(t *testing.T, r *Reader) []*travel.LocationSample {
	t.Helper()
	var samples []*travel.LocationSample
	for {
		s, err := r.NextSample(context.Background())
		if err != nil {
			t.Fatalf("NextSample: %v", err)
		}
		if s == nil {
			return samples
		}
		samples = append(samples, s)
	}
}

func TestReadTrack(t *testing.T) {
	r, err := NewReader(strings.NewReader(rideDoc))
	if err != nil {
		t.Fatal(err)
	}

	samples := readAll(t, r)
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}

	first := samples[0]
	if !first.Timestamp.Equal(time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", first.Timestamp)
	}
	if first.Coordinate.Latitude != 45.5231 || first.Coordinate.Longitude != -122.6765 {
		t.Errorf("coordinate = %+v", first.Coordinate)
	}
	if first.Altitude == nil || *first.Altitude != 15.2 {
		t.Errorf("altitude = %v, want 15.2", first.Altitude)
	}
	if first.Speed == nil || *first.Speed != 4.2 {
		t.Errorf("speed = %v, want 4.2", first.Speed)
	}
	if first.AccuracyMeters != 1.2*rangeErrorMeters {
		t.Errorf("accuracy = %v, want %v", first.AccuracyMeters, 1.2*rangeErrorMeters)
	}
	if first.Source != travel.SourceGPS {
		t.Errorf("source = %s", first.Source)
	}

	second := samples[1]
	if second.Speed != nil {
		t.Errorf("second sample speed = %v, want nil", second.Speed)
	}
	if second.AccuracyMeters != 0 {
		t.Errorf("second sample accuracy = %v, want 0", second.AccuracyMeters)
	}

	// the last point carries no timestamp; the document's metadata
	// time stands in
	third := samples[2]
	if !third.Timestamp.Equal(time.Date(2023, 5, 1, 9, 59, 0, 0, time.UTC)) {
		t.Errorf("fallback timestamp = %v", third.Timestamp)
	}
	if third.Altitude != nil {
		t.Errorf("third sample altitude = %v, want nil", third.Altitude)
	}
}

func TestReadEmptyDocument(t *testing.T) {
	doc := `<?xml version="1.0"?><gpx version="1.1" creator="t" xmlns="http://www.topografix.com/GPX/1/1"></gpx>`
	r, err := NewReader(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.NextSample(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Errorf("got sample %+v from empty document", s)
	}
}

func TestReadMalformed(t *testing.T) {
	if _, err := NewReader(strings.NewReader("this is not a gpx document")); err == nil {
		t.Error("expected an error")
	}
}

func TestRegistered(t *testing.T) {
	src, err := sources.ByName("gpx")
	if err != nil {
		t.Fatal(err)
	}
	if src.Title != "GPS Exchange" {
		t.Errorf("Title = %q", src.Title)
	}
	if !slices.Contains(src.Extensions, ".gpx") {
		t.Errorf("Extensions = %v, want .gpx claimed", src.Extensions)
	}
}
