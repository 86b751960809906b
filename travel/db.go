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
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"go.uber.org/zap"
)

//go:embed schema.sql
var createDB string

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

func openAndProvisionDB(ctx context.Context, repoDir string) (*sql.DB, error) {
	db, err := openDB(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	if err = provisionDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openDB(ctx context.Context, repoDir string) (*sql.DB, error) {
	dbPath := filepath.Join(repoDir, DBFilename)

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version() AS version").Scan(&version); err == nil {
		Log.Debug("using sqlite", zap.String("version", version))
	}

	return db, nil
}

func provisionDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createDB); err != nil {
		return fmt.Errorf("setting up database: %w", err)
	}

	// a persistent identity for links and exports, assigned exactly once
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO repo (key, value) VALUES (?, ?), (?, ?)`,
		"id", uuid.New().String(),
		"version", "1",
	)
	if err != nil {
		return fmt.Errorf("persisting repo identity: %w", err)
	}

	return nil
}

func (tl *Timeline) repoProperty(ctx context.Context, key string) (string, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	var value string
	err := tl.db.QueryRowContext(ctx, `SELECT value FROM repo WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("repo property %q: %w", key, ErrNotFound)
	}
	return value, err
}

// SaveSetting stores an engine setting as a string (usually JSON).
func (tl *Timeline) SaveSetting(ctx context.Context, key, value string) error {
	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	_, err := tl.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("saving setting %q: %w", key, err)
	}
	return nil
}

// Setting reads an engine setting; ErrNotFound if it was never saved.
func (tl *Timeline) Setting(ctx context.Context, key string) (string, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	var value string
	err := tl.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	return value, err
}

// StoreSamples appends location samples to the repository. It never
// blocks on processing passes beyond the brief write lock; ingestion
// and processing deliberately do not share transactions.
func (tl *Timeline) StoreSamples(ctx context.Context, samples []LocationSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	tx, err := tl.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning sample insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples
		(user_id, timestamp, latitude, longitude, accuracy, speed, bearing, altitude, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing sample insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		_, err := stmt.ExecContext(ctx,
			s.UserID,
			s.Timestamp.UnixMilli(),
			s.Coordinate.Latitude,
			s.Coordinate.Longitude,
			nullableFloat(s.AccuracyMeters),
			ptrFloat(s.Speed),
			ptrFloat(s.Bearing),
			ptrFloat(s.Altitude),
			string(s.Source),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting sample at %s: %w", s.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing samples: %w", err)
	}

	metricSamplesIngested.Add(float64(len(samples)))
	return len(samples), nil
}

// loadSamples returns the user's samples up to and including the cutoff
// in canonical order. This is the snapshot a processing pass works on.
func (tl *Timeline) loadSamples(ctx context.Context, userID string, cutoff time.Time) ([]LocationSample, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	rows, err := tl.db.QueryContext(ctx, `SELECT
			id, user_id, timestamp, latitude, longitude, accuracy, speed, bearing, altitude, source, trip_id
		FROM samples
		WHERE user_id=? AND timestamp<=?
		ORDER BY timestamp, id`, userID, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []LocationSample
	for rows.Next() {
		var s LocationSample
		var ts int64
		var accuracy, speed, bearing, altitude sql.NullFloat64
		var source string
		var tripID sql.NullString
		err := rows.Scan(&s.ID, &s.UserID, &ts, &s.Coordinate.Latitude, &s.Coordinate.Longitude,
			&accuracy, &speed, &bearing, &altitude, &source, &tripID)
		if err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s.Timestamp = time.UnixMilli(ts).UTC()
		s.AccuracyMeters = accuracy.Float64
		s.Speed = nullFloatPtr(speed)
		s.Bearing = nullFloatPtr(bearing)
		s.Altitude = nullFloatPtr(altitude)
		s.Source = SampleSource(source)
		s.TripID = tripID.String
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// sampleWindowStats summarizes the sample window a pass would process.
// Samples are append-only, so (count, max rowid) pins the exact window
// contents and feeds the pass input digest.
type sampleWindowStats struct {
	Count   int64
	MinTime time.Time
	MaxTime time.Time
	MaxID   int64
}

func (tl *Timeline) sampleWindow(ctx context.Context, userID string, cutoff time.Time) (sampleWindowStats, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	var stats sampleWindowStats
	var minTS, maxTS, maxID sql.NullInt64
	err := tl.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(timestamp), MAX(timestamp), MAX(id)
		FROM samples WHERE user_id=? AND timestamp<=?`, userID, cutoff.UnixMilli()).
		Scan(&stats.Count, &minTS, &maxTS, &maxID)
	if err != nil {
		return stats, fmt.Errorf("summarizing sample window: %w", err)
	}
	if minTS.Valid {
		stats.MinTime = time.UnixMilli(minTS.Int64).UTC()
	}
	if maxTS.Valid {
		stats.MaxTime = time.UnixMilli(maxTS.Int64).UTC()
	}
	stats.MaxID = maxID.Int64
	return stats, nil
}

// ListUsers returns every user with stored samples.
func (tl *Timeline) ListUsers(ctx context.Context) ([]string, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	rows, err := tl.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM samples ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListVisits returns the user's visits that start inside [from, to),
// oldest first. A zero to means "no upper bound".
func (tl *Timeline) ListVisits(ctx context.Context, userID string, from, to time.Time) ([]PlaceVisit, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()
	return listVisits(ctx, tl.db, userID, from, to)
}

func listVisits(ctx context.Context, db *sql.DB, userID string, from, to time.Time) ([]PlaceVisit, error) {
	if to.IsZero() {
		to = time.UnixMilli(1<<62 - 1)
	}
	rows, err := db.QueryContext(ctx, `SELECT
			id, user_id, start_time, end_time, latitude, longitude, radius,
			confidence, sample_count, place_key, city, country, trip_id
		FROM visits
		WHERE user_id=? AND start_time>=? AND start_time<?
		ORDER BY start_time`, userID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying visits: %w", err)
	}
	defer rows.Close()

	var visits []PlaceVisit
	for rows.Next() {
		var v PlaceVisit
		var start, end int64
		var city, country, tripID sql.NullString
		err := rows.Scan(&v.ID, &v.UserID, &start, &end, &v.Center.Latitude, &v.Center.Longitude,
			&v.RadiusMeters, &v.Confidence, &v.SampleCount, &v.PlaceKey, &city, &country, &tripID)
		if err != nil {
			return nil, fmt.Errorf("scanning visit: %w", err)
		}
		v.Start = time.UnixMilli(start).UTC()
		v.End = time.UnixMilli(end).UTC()
		v.City = city.String
		v.Country = country.String
		v.TripID = tripID.String
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

// ListRoutes returns the user's routes that start inside [from, to),
// oldest first. A zero to means "no upper bound".
func (tl *Timeline) ListRoutes(ctx context.Context, userID string, from, to time.Time) ([]RouteSegment, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	if to.IsZero() {
		to = time.UnixMilli(1<<62 - 1)
	}
	rows, err := tl.db.QueryContext(ctx, `SELECT
			id, user_id, start_time, end_time, path, distance, avg_speed_kmh,
			transport, from_visit_id, to_visit_id, trip_id
		FROM routes
		WHERE user_id=? AND start_time>=? AND start_time<?
		ORDER BY start_time`, userID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	var routes []RouteSegment
	for rows.Next() {
		var r RouteSegment
		var start, end int64
		var pathJSON string
		var transport string
		var fromVisit, toVisit, tripID sql.NullString
		err := rows.Scan(&r.ID, &r.UserID, &start, &end, &pathJSON, &r.DistanceMeters,
			&r.AverageSpeedKmh, &transport, &fromVisit, &toVisit, &tripID)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		r.Start = time.UnixMilli(start).UTC()
		r.End = time.UnixMilli(end).UTC()
		r.Transport = TransportType(transport)
		r.FromVisitID = fromVisit.String
		r.ToVisitID = toVisit.String
		r.TripID = tripID.String
		r.Path, err = decodePath([]byte(pathJSON))
		if err != nil {
			return nil, fmt.Errorf("decoding path of route %s: %w", r.ID, err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// ListTrips returns the user's trips that start inside [from, to),
// oldest first. A zero to means "no upper bound".
func (tl *Timeline) ListTrips(ctx context.Context, userID string, from, to time.Time) ([]Trip, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	if to.IsZero() {
		to = time.UnixMilli(1<<62 - 1)
	}
	rows, err := tl.db.QueryContext(ctx, `SELECT id, user_id, start_time, end_time, days
		FROM trips
		WHERE user_id=? AND start_time>=? AND start_time<?
		ORDER BY start_time`, userID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		var t Trip
		var start, end int64
		var daysJSON string
		if err := rows.Scan(&t.ID, &t.UserID, &start, &end, &daysJSON); err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		t.Start = time.UnixMilli(start).UTC()
		t.End = time.UnixMilli(end).UTC()
		if err := json.Unmarshal([]byte(daysJSON), &t.Days); err != nil {
			return nil, fmt.Errorf("decoding days of trip %s: %w", t.ID, err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// replaceDerived swaps the user's derived state (visits, routes, trips,
// sample attribution) for the result of a pass, atomically. Enrichment
// already stored for recurring places is not lost: city/country of an
// unchanged visit ID survives via the geocode cache on the next
// enrichment sweep.
func (tl *Timeline) replaceDerived(ctx context.Context, userID string, res Result, trips []Trip) error {
	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	tx, err := tl.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning derived-state swap: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"visits", "routes", "trips"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id=?`, userID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE samples SET visit_id=NULL, route_id=NULL, trip_id=NULL WHERE user_id=?`, userID); err != nil {
		return fmt.Errorf("clearing sample attribution: %w", err)
	}

	for _, v := range res.Visits {
		_, err := tx.ExecContext(ctx, `INSERT INTO visits
			(id, user_id, start_time, end_time, latitude, longitude, radius,
			 confidence, sample_count, place_key, city, country, trip_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.UserID, v.Start.UnixMilli(), v.End.UnixMilli(),
			v.Center.Latitude, v.Center.Longitude, v.RadiusMeters,
			v.Confidence, v.SampleCount, v.PlaceKey,
			nullableString(v.City), nullableString(v.Country), nullableString(v.TripID))
		if err != nil {
			return fmt.Errorf("inserting visit %s: %w", v.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE samples SET visit_id=? WHERE user_id=? AND timestamp BETWEEN ? AND ?`,
			v.ID, userID, v.Start.UnixMilli(), v.End.UnixMilli()); err != nil {
			return fmt.Errorf("attributing samples to visit %s: %w", v.ID, err)
		}
	}

	for _, r := range res.Routes {
		pathJSON, err := encodePath(r.Path)
		if err != nil {
			return fmt.Errorf("encoding path of route %s: %w", r.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO routes
			(id, user_id, start_time, end_time, path, distance, avg_speed_kmh,
			 transport, from_visit_id, to_visit_id, trip_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.UserID, r.Start.UnixMilli(), r.End.UnixMilli(), string(pathJSON),
			r.DistanceMeters, r.AverageSpeedKmh, string(r.Transport),
			nullableString(r.FromVisitID), nullableString(r.ToVisitID), nullableString(r.TripID))
		if err != nil {
			return fmt.Errorf("inserting route %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE samples SET route_id=? WHERE user_id=? AND timestamp BETWEEN ? AND ? AND visit_id IS NULL`,
			r.ID, userID, r.Start.UnixMilli(), r.End.UnixMilli()); err != nil {
			return fmt.Errorf("attributing samples to route %s: %w", r.ID, err)
		}
	}

	for _, t := range trips {
		daysJSON, err := json.Marshal(t.Days)
		if err != nil {
			return fmt.Errorf("encoding days of trip %s: %w", t.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO trips (id, user_id, start_time, end_time, days)
			VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.Start.UnixMilli(), t.End.UnixMilli(), string(daysJSON))
		if err != nil {
			return fmt.Errorf("inserting trip %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE samples SET trip_id=? WHERE user_id=? AND timestamp BETWEEN ? AND ?`,
			t.ID, userID, t.Start.UnixMilli(), t.End.UnixMilli()); err != nil {
			return fmt.Errorf("attributing samples to trip %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing derived state: %w", err)
	}
	return nil
}

// pass bookkeeping

type passStatus string

const (
	passStarted    passStatus = "started"
	passSucceeded  passStatus = "succeeded"
	passFailed     passStatus = "failed"
	passSuperseded passStatus = "superseded"
	passCanceled   passStatus = "canceled"
	passSkipped    passStatus = "skipped"
)

func (tl *Timeline) recordPassStart(ctx context.Context, userID string, cutoff time.Time, hash []byte) (int64, error) {
	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	res, err := tl.db.ExecContext(ctx,
		`INSERT INTO passes (user_id, cutoff, input_hash, status, started) VALUES (?, ?, ?, ?, ?)`,
		userID, cutoff.UnixMilli(), hash, string(passStarted), tl.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("recording pass start: %w", err)
	}
	return res.LastInsertId()
}

func (tl *Timeline) recordPassEnd(ctx context.Context, passID int64, status passStatus, message string) error {
	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	_, err := tl.db.ExecContext(ctx,
		`UPDATE passes SET status=?, finished=?, message=? WHERE id=?`,
		string(status), tl.now().UnixMilli(), nullableString(message), passID)
	if err != nil {
		return fmt.Errorf("recording pass end: %w", err)
	}
	return nil
}

// lastSucceededPassHash returns the input digest of the user's most
// recent successful pass, or nil if there was none.
func (tl *Timeline) lastSucceededPassHash(ctx context.Context, userID string) ([]byte, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	var hash []byte
	err := tl.db.QueryRowContext(ctx,
		`SELECT input_hash FROM passes WHERE user_id=? AND status=? ORDER BY started DESC, id DESC LIMIT 1`,
		userID, string(passSucceeded)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last pass: %w", err)
	}
	return hash, nil
}

// geocode cache and enrichment

// visitsMissingPlace returns up to limit visits that have no city yet,
// oldest first, across all users.
func (tl *Timeline) visitsMissingPlace(ctx context.Context, limit int) ([]PlaceVisit, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	rows, err := tl.db.QueryContext(ctx, `SELECT
			id, user_id, start_time, end_time, latitude, longitude, radius,
			confidence, sample_count, place_key, city, country, trip_id
		FROM visits
		WHERE city IS NULL OR city=''
		ORDER BY start_time
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unenriched visits: %w", err)
	}
	defer rows.Close()

	var visits []PlaceVisit
	for rows.Next() {
		var v PlaceVisit
		var start, end int64
		var city, country, tripID sql.NullString
		err := rows.Scan(&v.ID, &v.UserID, &start, &end, &v.Center.Latitude, &v.Center.Longitude,
			&v.RadiusMeters, &v.Confidence, &v.SampleCount, &v.PlaceKey, &city, &country, &tripID)
		if err != nil {
			return nil, fmt.Errorf("scanning visit: %w", err)
		}
		v.Start = time.UnixMilli(start).UTC()
		v.End = time.UnixMilli(end).UTC()
		v.City = city.String
		v.Country = country.String
		v.TripID = tripID.String
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func (tl *Timeline) cachedPlace(ctx context.Context, placeKey string) (Place, bool, error) {
	tl.dbMu.RLock()
	defer tl.dbMu.RUnlock()

	var p Place
	var city, country sql.NullString
	err := tl.db.QueryRowContext(ctx,
		`SELECT city, country FROM geocode_cache WHERE place_key=?`, placeKey).Scan(&city, &country)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("querying geocode cache: %w", err)
	}
	p.City = city.String
	p.Country = country.String
	return p, true, nil
}

func (tl *Timeline) storeCachedPlace(ctx context.Context, placeKey string, p Place) error {
	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	_, err := tl.db.ExecContext(ctx, `INSERT INTO geocode_cache (place_key, city, country, resolved)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (place_key) DO UPDATE SET city=excluded.city, country=excluded.country, resolved=excluded.resolved`,
		placeKey, nullableString(p.City), nullableString(p.Country), tl.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("caching place: %w", err)
	}
	return nil
}

// setVisitPlace fills a visit's city and country. Geometry, times, and
// identity are deliberately not touchable here.
func (tl *Timeline) setVisitPlace(ctx context.Context, visitID string, p Place) error {
	tl.dbMu.Lock()
	defer tl.dbMu.Unlock()

	_, err := tl.db.ExecContext(ctx, `UPDATE visits SET city=?, country=? WHERE id=?`,
		nullableString(p.City), nullableString(p.Country), visitID)
	if err != nil {
		return fmt.Errorf("updating visit place: %w", err)
	}
	return nil
}

// scan/encode helpers

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func ptrFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullFloatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
