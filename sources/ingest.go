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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/mholt/archives"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/travelog/travelog/geo"
	"github.com/travelog/travelog/travel"
	"go.uber.org/zap"
)

var (
	metricSamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "samples_rejected_total",
		Help:      "Location samples dropped before storage, by reason.",
	}, []string{"reason"})

	metricFilesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "ingest_files_total",
		Help:      "Files read by ingest runs, by source.",
	}, []string{"source"})
)

// number of samples per storage transaction
const storeBatchSize = 1000

// Ingester reads location samples from registered sources and stores
// the ones worth keeping. Raw feeds repeat themselves and occasionally
// teleport; exact and near duplicates are dropped, and a jump faster
// than any vehicle is treated as sensor noise.
type Ingester struct {
	tl     *travel.Timeline
	userID string
	opt    ReaderOptions
	cfg    travel.Config
	log    *zap.Logger

	previous *travel.LocationSample

	files    int
	stored   int
	rejected map[string]int
}

// IngestStats summarizes what an Ingester has done so far.
type IngestStats struct {
	FilesRead int            `json:"files_read"`
	Stored    int            `json:"stored"`
	Rejected  map[string]int `json:"rejected,omitempty"`
}

// NewIngester returns an Ingester that stores samples for userID in tl.
// One Ingester serves one logical import run; its duplicate detection
// carries across files and paths, so a track split into numbered
// pieces still dedupes at the seams.
func NewIngester(tl *travel.Timeline, userID string, opt ReaderOptions) (*Ingester, error) {
	if tl == nil {
		return nil, errors.New("no open repository")
	}
	if userID == "" {
		return nil, errors.New("user ID is required")
	}
	return &Ingester{
		tl:       tl,
		userID:   userID,
		opt:      opt,
		cfg:      tl.Config(),
		log:      travel.Log.Named("ingest"),
		rejected: make(map[string]int),
	}, nil
}

// IngestPath ingests every file under root that src claims. Root may
// be a single file, a folder, or an archive; archives are traversed
// transparently.
func (ing *Ingester) IngestPath(ctx context.Context, src Source, root string) error {
	fsys, err := archives.FileSystem(ctx, root, nil)
	if err != nil {
		return fmt.Errorf("opening file system at %s: %w", root, err)
	}

	files, err := collectFiles(ctx, fsys, src, root)
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	if len(files) == 0 {
		ing.log.Warn("nothing to ingest",
			zap.String("source", src.Name),
			zap.String("path", root))
		return nil
	}

	for _, f := range files {
		if err := ing.ingestFile(ctx, src, fsys, f); err != nil {
			return err
		}
	}

	ing.log.Info("ingested path",
		zap.String("source", src.Name),
		zap.String("path", root),
		zap.Int("files", len(files)))

	return nil
}

// Stats reports the running totals across all IngestPath calls.
func (ing *Ingester) Stats() IngestStats {
	stats := IngestStats{
		FilesRead: ing.files,
		Stored:    ing.stored,
	}
	if len(ing.rejected) > 0 {
		stats.Rejected = make(map[string]int, len(ing.rejected))
		for reason, n := range ing.rejected {
			stats.Rejected[reason] = n
		}
	}
	return stats
}

func (ing *Ingester) ingestFile(ctx context.Context, src Source, fsys fs.FS, f walkedFile) error {
	file, err := fsys.Open(f.open)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.name, err)
	}
	defer file.Close()

	reader, err := src.NewReader(file, ing.opt)
	if err != nil {
		return fmt.Errorf("%s: %w", f.name, err)
	}

	before := ing.stored

	batch := make([]travel.LocationSample, 0, storeBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ing.tl.StoreSamples(ctx, batch)
		ing.stored += n
		batch = batch[:0]
		return err
	}

	for {
		s, err := reader.NextSample(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		if s == nil {
			break
		}
		s.UserID = ing.userID
		if reason := ing.filter(s); reason != "" {
			ing.reject(reason)
			continue
		}
		ing.previous = s
		batch = append(batch, *s)
		if len(batch) == storeBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	ing.files++
	metricFilesIngested.WithLabelValues(src.Name).Inc()
	ing.log.Debug("ingested file",
		zap.String("file", f.name),
		zap.Int("stored", ing.stored-before))

	return nil
}

// filter returns the reason s must not be stored, or "" to keep it.
func (ing *Ingester) filter(s *travel.LocationSample) string {
	if !s.Valid() {
		return "invalid"
	}
	prev := ing.previous
	if prev == nil {
		return ""
	}

	elapsed := s.Timestamp.Sub(prev.Timestamp)

	// near duplicates only count inside the dedupe window; a
	// stationary dwell has to keep its heartbeat samples or no visit
	// could form from them later
	if elapsed < ing.cfg.DedupeWindow {
		if s.Coordinate == prev.Coordinate {
			return "duplicate"
		}
		if geo.Distance(prev.Coordinate, s.Coordinate) < ing.cfg.DedupeDistance {
			return "duplicate"
		}
	}

	if elapsed > 0 {
		speed := geo.Distance(prev.Coordinate, s.Coordinate) / elapsed.Seconds()
		if speed > ing.cfg.MaxPlausibleSpeed {
			return "implausible_speed"
		}
	}

	return ""
}

func (ing *Ingester) reject(reason string) {
	ing.rejected[reason]++
	metricSamplesRejected.WithLabelValues(reason).Inc()
}

// walkedFile is one file to ingest: the fs path to open it by, and the
// name to report it as. They differ for single-file inputs, which the
// file system roots at ".".
type walkedFile struct {
	open string
	name string
}

// collectFiles walks fsys and returns the files src claims, in natural
// order so that numbered exports (track2 before track10) are read in
// sequence.
func collectFiles(ctx context.Context, fsys fs.FS, src Source, root string) ([]walkedFile, error) {
	var files []walkedFile
	err := fs.WalkDir(fsys, ".", func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if fpath == "." {
			if d.IsDir() {
				return nil
			}
			name = filepath.Base(root)
		} else if strings.HasPrefix(name, ".") {
			// skip hidden files & folders
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !src.claims(name) {
			return nil
		}

		files = append(files, walkedFile{open: fpath, name: name})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return natural.Less(files[i].open, files[j].open)
	})

	return files, nil
}
