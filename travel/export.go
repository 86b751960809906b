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
	"fmt"
	"io"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/travelog/travelog/geo"
)

// encodePath stores a route path as a GeoJSON LineString geometry.
// GeoJSON is longitude-first.
func encodePath(path []geo.Coordinate) ([]byte, error) {
	ls := make(orb.LineString, len(path))
	for i, c := range path {
		ls[i] = orb.Point{c.Longitude, c.Latitude}
	}
	return geojson.NewGeometry(ls).MarshalJSON()
}

func decodePath(data []byte) ([]geo.Coordinate, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling geometry: %w", err)
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("expected LineString geometry, got %s", g.Type)
	}
	path := make([]geo.Coordinate, len(ls))
	for i, p := range ls {
		path[i] = geo.Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
	}
	return path, nil
}

// ExportGeoJSON writes the user's visits and routes inside [from, to)
// as a GeoJSON FeatureCollection: visits become Point features, routes
// become LineString features. Anything a map renderer needs to label
// or style them rides along in the properties.
func (tl *Timeline) ExportGeoJSON(ctx context.Context, w io.Writer, userID string, from, to time.Time) error {
	visits, err := tl.ListVisits(ctx, userID, from, to)
	if err != nil {
		return err
	}
	routes, err := tl.ListRoutes(ctx, userID, from, to)
	if err != nil {
		return err
	}

	fc := geojson.NewFeatureCollection()

	for _, v := range visits {
		f := geojson.NewFeature(orb.Point{v.Center.Longitude, v.Center.Latitude})
		f.ID = v.ID
		f.Properties["kind"] = "visit"
		f.Properties["start"] = v.Start.UTC().Format(time.RFC3339)
		f.Properties["end"] = v.End.UTC().Format(time.RFC3339)
		f.Properties["radius_meters"] = v.RadiusMeters
		f.Properties["confidence"] = v.Confidence
		f.Properties["sample_count"] = v.SampleCount
		f.Properties["place_key"] = v.PlaceKey
		if v.City != "" {
			f.Properties["city"] = v.City
		}
		if v.Country != "" {
			f.Properties["country"] = v.Country
		}
		if v.TripID != "" {
			f.Properties["trip"] = v.TripID
		}
		fc.Append(f)
	}

	for _, r := range routes {
		ls := make(orb.LineString, len(r.Path))
		for i, c := range r.Path {
			ls[i] = orb.Point{c.Longitude, c.Latitude}
		}
		f := geojson.NewFeature(ls)
		f.ID = r.ID
		f.Properties["kind"] = "route"
		f.Properties["start"] = r.Start.UTC().Format(time.RFC3339)
		f.Properties["end"] = r.End.UTC().Format(time.RFC3339)
		f.Properties["distance_meters"] = r.DistanceMeters
		f.Properties["avg_speed_kmh"] = r.AverageSpeedKmh
		f.Properties["transport"] = string(r.Transport)
		if r.TripID != "" {
			f.Properties["trip"] = r.TripID
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling feature collection: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	return nil
}
