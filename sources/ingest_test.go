package sources

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mholt/archives"
)

func TestIngestZipArchive(t *testing.T) {
	tl := openTestTimeline(t)
	dir := t.TempDir()

	base := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	for i, name := range []string{"tracks/a.jsonl", "tracks/b.jsonl"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		p := jsonlPoint{
			T:   base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Lat: 48.0 + float64(i)*0.01,
			Lon: 2.0,
		}
		if err := json.NewEncoder(w).Encode(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(dir, "tracks.zip")
	if err := os.WriteFile(zipPath, zbuf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := ByName("jsonl")
	if err != nil {
		t.Fatal(err)
	}
	ing, err := NewIngester(tl, "user-1", ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ing.IngestPath(context.Background(), src, zipPath); err != nil {
		t.Fatal(err)
	}

	stats := ing.Stats()
	if stats.FilesRead != 2 {
		t.Errorf("FilesRead = %d, want 2", stats.FilesRead)
	}
	if stats.Stored != 2 {
		t.Errorf("Stored = %d, want 2", stats.Stored)
	}
}

func TestCollectFilesNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"track10.jsonl", "track2.jsonl", "track1.jsonl", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	fsys, err := archives.FileSystem(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	src, err := ByName("jsonl")
	if err != nil {
		t.Fatal(err)
	}

	files, err := collectFiles(context.Background(), fsys, src, dir)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, f := range files {
		got = append(got, f.name)
	}
	want := []string{"track1.jsonl", "track2.jsonl", "track10.jsonl"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("walk order = %v, want %v", got, want)
	}
}
