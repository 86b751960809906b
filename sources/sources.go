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

// Package sources registers the file formats travelog can ingest and
// drives reading them into a repository. Each format provides a
// SampleReader that streams location samples out of one file; the
// Ingester walks files, folders, or archives, filters what the raw
// feeds get wrong, and stores the rest.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/mholt/archives"
	"github.com/travelog/travelog/travel"
)

// SampleReader streams the location samples of one input file.
type SampleReader interface {
	// NextSample returns the next sample in the file. When the input
	// is exhausted it returns (nil, nil). Implementations must honor
	// context cancellation.
	NextSample(ctx context.Context) (*travel.LocationSample, error)
}

// ReaderOptions carries per-import settings down to a source's reader.
type ReaderOptions struct {
	// The year that anchors two-digit dates. Formats whose timestamps
	// carry a full year ignore this. If not set, the default is the
	// current year.
	ReferenceYear int `json:"reference_year,omitempty"`
}

// Source describes a file format that can be ingested.
type Source struct {
	// A snake_cased name that uniquely identifies the
	// format from all others.
	Name string `json:"name"`

	// The human-readable or brand name of the format.
	Title string `json:"title"`

	// Information that will help the user when choosing a source.
	Description string `json:"description"`

	// Lowercased file extensions (with dot) the source claims.
	Extensions []string `json:"extensions"`

	NewReader func(file io.Reader, opt ReaderOptions) (SampleReader, error) `json:"-"`
}

// claims reports whether the source recognizes the file by extension.
func (s Source) claims(filename string) bool {
	return slices.Contains(s.Extensions, strings.ToLower(path.Ext(filename)))
}

var registry = make(map[string]Source)

// Register registers src as an ingestion source. It is intended to be
// called from the init func of the package implementing the format.
func Register(src Source) error {
	if src.Name == "" {
		return errors.New("missing name")
	}
	if src.Title == "" {
		return errors.New("missing title")
	}
	if src.NewReader == nil {
		return errors.New("missing reader constructor")
	}
	if _, ok := registry[src.Name]; ok {
		return fmt.Errorf("source already registered: %s", src.Name)
	}
	registry[src.Name] = src
	return nil
}

// ByName gets the source registered under name.
func ByName(name string) (Source, error) {
	if src, ok := registry[name]; ok {
		return src, nil
	}
	return Source{}, fmt.Errorf("source not found: %s", name)
}

// All returns all registered sources sorted by name.
func All() []Source {
	srcs := make([]Source, 0, len(registry))
	for _, src := range registry {
		srcs = append(srcs, src)
	}
	sort.Slice(srcs, func(i, j int) bool {
		return srcs[i].Name < srcs[j].Name
	})
	return srcs
}

// Recognition is how confidently a source claims an input.
type Recognition struct {
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Recognize walks the file, folder, or archive at root and reports
// which registered sources claim its files, most confident first.
// Confidence is the fraction of non-hidden files the source
// recognizes.
func Recognize(ctx context.Context, root string) ([]Recognition, error) {
	fsys, err := archives.FileSystem(ctx, root, nil)
	if err != nil {
		return nil, fmt.Errorf("opening file system at %s: %w", root, err)
	}

	var total int
	matches := make(map[string]int)

	err = fs.WalkDir(fsys, ".", func(fpath string, d fs.DirEntry, err error) error {
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
			// single-file inputs are rooted at "."; recover the real name
			name = filepath.Base(root)
		} else if strings.HasPrefix(name, ".") {
			// skip hidden files & folders
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil // traverse into subdirectories
		}

		total++
		for _, src := range registry {
			if src.claims(name) {
				matches[src.Name]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]Recognition, 0, len(matches))
	for name, count := range matches {
		results = append(results, Recognition{
			Source:     registry[name],
			Confidence: float64(count) / float64(total),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].Source.Name < results[j].Source.Name
	})

	return results, nil
}
