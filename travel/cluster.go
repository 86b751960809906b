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
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/travelog/travelog/geo"
	"go.uber.org/zap"
)

// segment is one chronological slice of the timeline as the clusterer
// saw it: either a formed visit (with its member samples) or a run of
// travel samples between visits. gapBefore marks segments that begin
// after a tracking gap, so route assembly never bridges silence.
type segment struct {
	visit     *PlaceVisit
	samples   []LocationSample
	gapBefore bool
}

// visitClusterer sweeps time-ordered samples once and partitions them
// into stays and travel. A candidate cluster grows while samples keep
// landing within the spatial threshold of its running centroid; when a
// sample escapes (or the feed goes quiet longer than the gap limit) the
// candidate closes, becoming a PlaceVisit if it lasted long enough and
// falling through to the travel run otherwise.
type visitClusterer struct {
	cfg    Config
	userID string
	logger *zap.Logger

	cur        *clusterAccumulator
	run        []LocationSample
	pendingGap bool
	segments   []segment

	skipped int // malformed samples dropped
}

func newVisitClusterer(userID string, cfg Config, logger *zap.Logger) *visitClusterer {
	return &visitClusterer{cfg: cfg, userID: userID, logger: logger}
}

// seed primes the clusterer with a visit that was still open at the end
// of the previous snapshot, so a stay that spans two passes keeps its
// start time instead of splitting.
func (c *visitClusterer) seed(v PlaceVisit) {
	c.cur = &clusterAccumulator{
		count:      v.SampleCount,
		meanLat:    v.Center.Latitude,
		anchorLon:  v.Center.Longitude,
		start:      v.Start,
		last:       v.End,
		baseRadius: v.RadiusMeters,
	}
}

func (c *visitClusterer) add(s LocationSample) {
	if !s.Valid() {
		c.skipped++
		c.logger.Debug("skipping malformed sample",
			zap.Int64("id", s.ID),
			zap.Time("timestamp", s.Timestamp),
			zap.String("coordinate", s.Coordinate.String()))
		return
	}

	if c.cur == nil {
		c.cur = new(clusterAccumulator)
		c.cur.add(s)
		return
	}

	if gap := s.Timestamp.Sub(c.cur.last); gap > c.cfg.MaxClusterGap {
		c.closeCluster()
		c.flushRun()
		c.pendingGap = true
		c.cur = new(clusterAccumulator)
		c.cur.add(s)
		return
	}

	if geo.Distance(c.cur.center(), s.Coordinate) <= c.cfg.SpatialThresholdMeters {
		c.cur.add(s)
		return
	}

	// the sample moved away; settle what the candidate was
	c.closeCluster()
	c.cur = new(clusterAccumulator)
	c.cur.add(s)
}

// finish settles any open candidate and returns the chronological
// segments. The clusterer must not be reused afterward.
func (c *visitClusterer) finish() []segment {
	c.closeCluster()
	c.flushRun()
	return c.segments
}

func (c *visitClusterer) closeCluster() {
	if c.cur == nil {
		return
	}
	if c.cur.qualifies(c.cfg) {
		c.flushRun()
		v := c.cur.toVisit(c.userID, c.cfg)
		c.segments = append(c.segments, segment{
			visit:     &v,
			samples:   c.cur.members,
			gapBefore: c.takeGap(),
		})
		c.logger.Debug("visit formed",
			zap.String("visit_id", v.ID),
			zap.Time("start", v.Start),
			zap.Duration("duration", v.Duration()),
			zap.Float64("radius_m", v.RadiusMeters),
			zap.Float64("confidence", v.Confidence),
			zap.Int("samples", v.SampleCount))
	} else {
		c.run = append(c.run, c.cur.members...)
	}
	c.cur = nil
}

func (c *visitClusterer) flushRun() {
	if len(c.run) == 0 {
		return
	}
	c.segments = append(c.segments, segment{samples: c.run, gapBefore: c.takeGap()})
	c.run = nil
}

func (c *visitClusterer) takeGap() bool {
	g := c.pendingGap
	c.pendingGap = false
	return g
}

// clusterAccumulator maintains the running centroid of a candidate
// cluster incrementally: one mean update per sample, no rescan of the
// members. Longitudes are accumulated as deltas against the first
// sample's longitude so clusters straddling the antimeridian average
// correctly.
type clusterAccumulator struct {
	count        int
	meanLat      float64
	anchorLon    float64
	meanLonDelta float64
	start, last  time.Time
	members      []LocationSample
	baseRadius   float64 // carried over when seeded from an open visit
}

func (acc *clusterAccumulator) add(s LocationSample) {
	acc.count++
	if acc.count == 1 && acc.start.IsZero() {
		acc.meanLat = s.Coordinate.Latitude
		acc.anchorLon = s.Coordinate.Longitude
		acc.start = s.Timestamp
	} else {
		n := float64(acc.count)
		acc.meanLat += (s.Coordinate.Latitude - acc.meanLat) / n
		d := geo.LongitudeDelta(acc.anchorLon, s.Coordinate.Longitude)
		acc.meanLonDelta += (d - acc.meanLonDelta) / n
	}
	acc.last = s.Timestamp
	acc.members = append(acc.members, s)
}

func (acc *clusterAccumulator) center() geo.Coordinate {
	return geo.Coordinate{
		Latitude:  acc.meanLat,
		Longitude: geo.LongitudeDelta(0, acc.anchorLon+acc.meanLonDelta),
	}
}

// qualifies reports whether the candidate was a real stay. A single
// sample spans no time and can never qualify.
func (acc *clusterAccumulator) qualifies(cfg Config) bool {
	return acc.last.Sub(acc.start) >= cfg.MinVisitDuration
}

func (acc *clusterAccumulator) toVisit(userID string, cfg Config) PlaceVisit {
	center := acc.center()

	radius := acc.baseRadius
	accuracies := make([]float64, 0, len(acc.members))
	for _, m := range acc.members {
		if d := geo.Distance(center, m.Coordinate); d > radius {
			radius = d
		}
		if m.AccuracyMeters > 0 {
			accuracies = append(accuracies, m.AccuracyMeters)
		}
	}

	return PlaceVisit{
		ID:           visitID(userID, acc.start, acc.last, center),
		UserID:       userID,
		Start:        acc.start,
		End:          acc.last,
		Center:       center,
		RadiusMeters: radius,
		Confidence:   visitConfidence(acc.count, radius, accuracies, cfg),
		SampleCount:  acc.count,
		PlaceKey:     PlaceKey(center),
	}
}

// visitConfidence scores how certain we are that a cluster was a real
// stay at a real place: more samples, tighter reported accuracy, and a
// smaller radius all raise it. Each component is normalized against the
// spatial threshold so the score tracks whatever tuning is in effect.
func visitConfidence(count int, radius float64, accuracies []float64, cfg Config) float64 {
	countScore := math.Min(1, float64(count)/10)

	spreadScore := 0.5 // neutral when no sample reported accuracy
	if len(accuracies) > 0 {
		if p80, err := stats.Percentile(stats.Float64Data(accuracies), 80); err == nil {
			spreadScore = clamp01(1 - p80/cfg.SpatialThresholdMeters)
		}
	}

	radiusScore := clamp01(1 - radius/cfg.SpatialThresholdMeters)

	return clamp01((countScore + spreadScore + radiusScore) / 3)
}
