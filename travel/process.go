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
	"sort"

	"github.com/travelog/travelog/geo"
	"go.uber.org/zap"
)

// Result is the derived state computed from one snapshot of samples.
type Result struct {
	Visits  []PlaceVisit
	Routes  []RouteSegment
	Skipped int // malformed or foreign samples dropped along the way
}

// Process partitions a snapshot of one user's samples into place visits
// and the route segments between them. It is a pure function of its
// inputs: no clock reads, no randomness, no I/O beyond logging, so the
// same snapshot always produces identical results, IDs included.
//
// existingVisits lets a stay that was still open at the end of the
// previous snapshot keep extending instead of splitting in two; callers
// without history pass nil. Malformed samples are skipped and logged,
// never fatal. An invalid Config is the only error.
func Process(samples []LocationSample, existingVisits []PlaceVisit, cfg Config) (Result, error) {
	cfg, err := cfg.prepared()
	if err != nil {
		return Result{}, err
	}
	if len(samples) == 0 {
		return Result{}, nil
	}
	logger := Log.Named("process")

	// restore canonical order without touching the caller's slice
	ordered := make([]LocationSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	userID := ordered[0].UserID
	clusterer := newVisitClusterer(userID, cfg, logger)

	if v := latestVisit(existingVisits); v != nil {
		if first := firstValid(ordered); first != nil &&
			!first.Timestamp.Before(v.End) &&
			first.Timestamp.Sub(v.End) <= cfg.MaxClusterGap &&
			geo.Distance(v.Center, first.Coordinate) <= cfg.SpatialThresholdMeters {
			clusterer.seed(*v)
		}
	}

	foreign := 0
	for _, s := range ordered {
		if s.UserID != userID {
			foreign++
			logger.Debug("skipping sample from another user",
				zap.Int64("id", s.ID), zap.String("user_id", s.UserID))
			continue
		}
		clusterer.add(s)
	}

	var result Result
	segments := clusterer.finish()
	for i, seg := range segments {
		if seg.visit != nil {
			result.Visits = append(result.Visits, *seg.visit)
			continue
		}
		r := assembleRoute(userID, seg.samples, cfg)
		if !seg.gapBefore && i > 0 && segments[i-1].visit != nil {
			r.FromVisitID = segments[i-1].visit.ID
		}
		if i+1 < len(segments) && segments[i+1].visit != nil && !segments[i+1].gapBefore {
			r.ToVisitID = segments[i+1].visit.ID
		}
		result.Routes = append(result.Routes, r)
	}
	result.Skipped = clusterer.skipped + foreign

	logger.Debug("snapshot processed",
		zap.String("user_id", userID),
		zap.Int("samples", len(ordered)),
		zap.Int("visits", len(result.Visits)),
		zap.Int("routes", len(result.Routes)),
		zap.Int("skipped", result.Skipped))

	return result, nil
}

func latestVisit(visits []PlaceVisit) *PlaceVisit {
	var latest *PlaceVisit
	for i := range visits {
		if latest == nil || visits[i].End.After(latest.End) {
			latest = &visits[i]
		}
	}
	return latest
}

func firstValid(samples []LocationSample) *LocationSample {
	for i := range samples {
		if samples[i].Valid() {
			return &samples[i]
		}
	}
	return nil
}
