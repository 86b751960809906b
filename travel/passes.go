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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// ErrPassSuperseded is returned by RunPass when a newer pass request
// for the same user arrived while this one was waiting or running.
var ErrPassSuperseded = errors.New("pass superseded by a newer request")

// activePass tracks a pass that holds or is waiting for the user's
// pass lock, so that a newer request can cancel it. The superseded
// flag records that the cancellation came from a newer pass rather
// than from the caller's own context.
type activePass struct {
	cancel     context.CancelFunc
	superseded atomic.Bool
}

func (ap *activePass) supersede() {
	ap.superseded.Store(true)
	ap.cancel()
}

// PassResult summarizes one processing pass.
type PassResult struct {
	UserID   string        `json:"user_id"`
	Status   string        `json:"status"`
	Cutoff   time.Time     `json:"cutoff"`
	Visits   int           `json:"visits"`
	Routes   int           `json:"routes"`
	Trips    int           `json:"trips"`
	Skipped  int           `json:"skipped_samples"`
	Duration time.Duration `json:"duration"`
}

// RunPass recomputes the user's entire derived timeline from their
// stored samples: visits, routes, trips, and sample attribution, all
// swapped in atomically. Passes are idempotent; if the sample window
// and config are unchanged since the last successful pass, the pass
// is skipped without touching derived state. At most one pass per
// user runs at a time, and a newer request supersedes an older one
// that is still waiting or running.
func (tl *Timeline) RunPass(ctx context.Context, userID string) (PassResult, error) {
	result := PassResult{UserID: userID}
	if userID == "" {
		return result, errors.New("user ID is required")
	}

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ap := &activePass{cancel: cancel}

	// newest request wins: cancel whoever holds the slot, take it,
	// and accept that a yet-newer request may do the same to us
	tl.activePassesMu.Lock()
	if prev, ok := tl.activePasses[userID]; ok {
		prev.supersede()
	}
	tl.activePasses[userID] = ap
	tl.activePassesMu.Unlock()

	defer func() {
		tl.activePassesMu.Lock()
		if tl.activePasses[userID] == ap {
			delete(tl.activePasses, userID)
		}
		tl.activePassesMu.Unlock()
	}()

	tl.passLocks.Lock(userID)
	defer tl.passLocks.Unlock(userID)

	if err := passCtx.Err(); err != nil {
		if ap.superseded.Load() {
			metricPasses.WithLabelValues(string(passSuperseded)).Inc()
			result.Status = string(passSuperseded)
			return result, ErrPassSuperseded
		}
		metricPasses.WithLabelValues(string(passCanceled)).Inc()
		result.Status = string(passCanceled)
		return result, err
	}

	statusLog := Log.Named("pass.status")
	start := tl.now()
	cutoff := start.UTC()
	result.Cutoff = cutoff

	window, err := tl.sampleWindow(passCtx, userID, cutoff)
	if err != nil {
		return result, err
	}
	if window.Count == 0 {
		result.Status = string(passSkipped)
		statusLog.Info("nothing to process", zap.String("user_id", userID))
		return result, nil
	}

	digest := passInputDigest(userID, window, tl.cfg)
	lastHash, err := tl.lastSucceededPassHash(passCtx, userID)
	if err != nil {
		return result, err
	}
	if bytes.Equal(digest, lastHash) {
		metricPasses.WithLabelValues(string(passSkipped)).Inc()
		result.Status = string(passSkipped)
		statusLog.Info("inputs unchanged since last pass, skipping",
			zap.String("user_id", userID),
			zap.Int64("samples", window.Count))
		return result, nil
	}

	passID, err := tl.recordPassStart(passCtx, userID, cutoff, digest)
	if err != nil {
		return result, err
	}

	metricActivePasses.Inc()
	defer metricActivePasses.Dec()

	fail := func(err error) (PassResult, error) {
		status := passFailed
		switch {
		case errors.Is(err, context.Canceled) && ap.superseded.Load():
			status = passSuperseded
			err = ErrPassSuperseded
		case errors.Is(err, context.Canceled):
			status = passCanceled
		}
		metricPasses.WithLabelValues(string(status)).Inc()
		result.Status = string(status)
		// bookkeeping writes use the timeline's context so a
		// superseded pass still leaves an accurate record
		if endErr := tl.recordPassEnd(tl.ctx, passID, status, err.Error()); endErr != nil {
			Log.Error("recording pass end", zap.Error(endErr))
		}
		return result, err
	}

	samples, err := tl.loadSamples(passCtx, userID, cutoff)
	if err != nil {
		return fail(err)
	}

	res, err := Process(samples, nil, tl.cfg)
	if err != nil {
		return fail(err)
	}

	home := homePlaceKey(res.Visits)
	trips := assembleTrips(userID, res.Visits, res.Routes, home, tl.tz, tl.cfg)

	if err := passCtx.Err(); err != nil {
		return fail(err)
	}
	if err := tl.replaceDerived(passCtx, userID, res, trips); err != nil {
		return fail(err)
	}

	if err := tl.recordPassEnd(tl.ctx, passID, passSucceeded, ""); err != nil {
		Log.Error("recording pass end", zap.Error(err))
	}

	elapsed := tl.now().Sub(start)
	metricPasses.WithLabelValues(string(passSucceeded)).Inc()
	metricPassDuration.Observe(elapsed.Seconds())
	metricVisitsDetected.Add(float64(len(res.Visits)))
	metricRoutesDetected.Add(float64(len(res.Routes)))

	result.Status = string(passSucceeded)
	result.Visits = len(res.Visits)
	result.Routes = len(res.Routes)
	result.Trips = len(trips)
	result.Skipped = res.Skipped
	result.Duration = elapsed

	statusLog.Info("pass finished",
		zap.String("user_id", userID),
		zap.Int64("samples", window.Count),
		zap.Int("visits", result.Visits),
		zap.Int("routes", result.Routes),
		zap.Int("trips", result.Trips),
		zap.Int("skipped_samples", result.Skipped),
		zap.Duration("duration", elapsed))

	return result, nil
}

// RunAllPasses runs a pass for every user with stored samples. Users
// are processed independently; one user's failure does not block the
// others.
func (tl *Timeline) RunAllPasses(ctx context.Context) ([]PassResult, error) {
	users, err := tl.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	var results []PassResult
	var errs []error
	for _, userID := range users {
		res, err := tl.RunPass(ctx, userID)
		if err != nil && !errors.Is(err, ErrPassSuperseded) {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// passInputDigest fingerprints everything that determines a pass's
// output: the user, the sample window contents, and the config.
// Samples are append-only, so (count, max id, time bounds) pins the
// window. The cutoff timestamp itself is deliberately excluded; a
// later pass over the same samples must produce the same digest.
func passInputDigest(userID string, window sampleWindowStats, cfg Config) []byte {
	h := blake3.New()
	h.Write([]byte(userID))
	binary.Write(h, binary.BigEndian, window.Count)
	binary.Write(h, binary.BigEndian, window.MinTime.UnixMilli())
	binary.Write(h, binary.BigEndian, window.MaxTime.UnixMilli())
	binary.Write(h, binary.BigEndian, window.MaxID)
	if cfgJSON, err := json.Marshal(cfg); err == nil {
		h.Write(cfgJSON)
	}
	return h.Sum(nil)
}
