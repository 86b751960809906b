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

// Package photos associates photographs with the place visits they
// were most plausibly taken at, using EXIF timestamps and GPS tags.
package photos

import (
	"fmt"
	"io"
	"time"

	"github.com/cozy/goexif2/exif"
	"github.com/cozy/goexif2/mknote"
	"github.com/travelog/travelog/geo"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// PhotoMeta is what a photo contributes to matching: when it was taken
// and, if the camera knew, where. Location is nil when the file carries
// no GPS tags.
type PhotoMeta struct {
	Path     string
	Taken    time.Time
	Location *geo.Coordinate
}

// ReadMeta extracts the capture time and GPS position from a photo's
// EXIF block. Files without a decodable EXIF block return an error;
// merely incomplete EXIF (no timestamp, no GPS) does not.
func ReadMeta(r io.Reader) (PhotoMeta, error) {
	var meta PhotoMeta

	ex, err := exif.Decode(r)
	if err != nil && exif.IsCriticalError(err) {
		return meta, fmt.Errorf("decoding exif: %w", err)
	}

	// DateTime prefers DateTimeOriginal and walks the fallback chain
	if ts, err := ex.DateTime(); err == nil {
		meta.Taken = ts
	}

	if lat, lon, err := ex.LatLong(); err == nil {
		c, err := geo.NewCoordinate(lat, lon)
		if err == nil {
			meta.Location = &c
		}
	}

	return meta, nil
}
