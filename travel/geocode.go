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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/travelog/travelog/geo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Place is the human-readable part of a visit's location.
type Place struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// A Geocoder resolves a coordinate to a place name. Implementations
// that call external services should rate-limit themselves; callers
// treat any error as "leave the visit unenriched for now".
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c geo.Coordinate) (Place, error)
}

// NominatimGeocoder reverse-geocodes against a Nominatim instance.
// The public OSM instance requires a descriptive User-Agent and at
// most one request per second; the limiter enforces the latter.
type NominatimGeocoder struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatimGeocoder creates a geocoder for the given Nominatim
// endpoint, or the public openstreetmap.org instance if empty.
// perSecond caps the request rate.
func NewNominatimGeocoder(endpoint string, perSecond float64) *NominatimGeocoder {
	if endpoint == "" {
		endpoint = "https://nominatim.openstreetmap.org"
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &NominatimGeocoder{
		endpoint:  endpoint,
		userAgent: "travelog/1.0 (+https://github.com/travelog/travelog)",
		client:    &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		Country      string `json:"country"`
	} `json:"address"`
}

func (ng *NominatimGeocoder) ReverseGeocode(ctx context.Context, c geo.Coordinate) (Place, error) {
	var place Place

	if err := ng.limiter.Wait(ctx); err != nil {
		return place, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', 6, 64))
	q.Set("zoom", "10") // city granularity
	q.Set("accept-language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ng.endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return place, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", ng.userAgent)

	resp, err := ng.client.Do(req)
	if err != nil {
		return place, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return place, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return place, fmt.Errorf("reverse geocode status %d: %s", resp.StatusCode, string(body))
	}

	var nr nominatimResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return place, fmt.Errorf("parsing response: %w", err)
	}
	if nr.Error != "" {
		// "Unable to geocode" for open ocean and similar; a valid
		// answer, not a transport failure
		return place, nil
	}

	place.City = firstNonEmpty(nr.Address.City, nr.Address.Town, nr.Address.Village, nr.Address.Municipality)
	place.Country = nr.Address.Country
	return place, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// EnrichVisits fills city and country on up to limit visits that have
// none yet. Lookups are cached per place key, so recurring places hit
// the geocoder once. A failed lookup is logged and skipped; the visit
// keeps empty place fields and is retried on a later sweep. Geometry
// is never touched.
func (tl *Timeline) EnrichVisits(ctx context.Context, g Geocoder, limit int) (int, error) {
	if g == nil {
		return 0, fmt.Errorf("no geocoder configured")
	}
	if limit <= 0 {
		limit = 100
	}

	visits, err := tl.visitsMissingPlace(ctx, limit)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for _, v := range visits {
		if err := ctx.Err(); err != nil {
			return enriched, err
		}

		place, found, err := tl.cachedPlace(ctx, v.PlaceKey)
		if err != nil {
			return enriched, err
		}
		if found {
			metricGeocodeLookups.WithLabelValues("cache").Inc()
		} else {
			place, err = g.ReverseGeocode(ctx, v.Center)
			if err != nil {
				metricGeocodeLookups.WithLabelValues("error").Inc()
				Log.Warn("reverse geocode failed",
					zap.String("visit_id", v.ID),
					zap.String("place_key", v.PlaceKey),
					zap.Error(err))
				continue
			}
			metricGeocodeLookups.WithLabelValues("lookup").Inc()
			if err := tl.storeCachedPlace(ctx, v.PlaceKey, place); err != nil {
				return enriched, err
			}
		}

		if place.City == "" && place.Country == "" {
			// resolved to nowhere (ocean, wilderness); cached above
			// so we don't ask again, but nothing to write
			continue
		}
		if err := tl.setVisitPlace(ctx, v.ID, place); err != nil {
			return enriched, err
		}
		enriched++
	}

	return enriched, nil
}
