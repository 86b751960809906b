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

// Package travel turns raw location samples into a travel history:
// place visits, the routes between them, and multi-day trips. It owns
// the repository database, the processing passes that derive state from
// samples, and the enrichment that runs after processing.
package travel

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DBFilename is the name of the repository database file inside the
// repo directory.
const DBFilename = "travelog.db"

// Timeline is an opened travel repository. The zero value is not
// usable; obtain one from Open, and Close it for a clean shutdown.
type Timeline struct {
	ctx    context.Context
	cancel context.CancelFunc

	repoDir string
	id      uuid.UUID
	cfg     Config

	// The database handle and its mutex. Concurrent ingestion and row
	// scanning can still produce "database is locked" errors under WAL
	// (https://github.com/mattn/go-sqlite3/issues/607), so writes take
	// the write lock and scans the read lock.
	db   *sql.DB
	dbMu sync.RWMutex

	tz timezoneResolver

	// passes currently running, keyed by user
	passLocks      *keyedMutex
	activePasses   map[string]*activePass
	activePassesMu sync.Mutex

	// injected clock so pass cutoffs are testable
	now func() time.Time
}

// Open opens the travel repository in repoDir, creating and
// provisioning it first if needed. The config applies to all processing
// started through this Timeline; an invalid config fails here and
// nowhere later.
func Open(ctx context.Context, repoDir string, cfg Config) (*Timeline, error) {
	cfg, err := cfg.prepared()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(repoDir, 0755); err != nil {
		return nil, fmt.Errorf("creating repo folder: %w", err)
	}

	db, err := openAndProvisionDB(ctx, repoDir)
	if err != nil {
		return nil, fmt.Errorf("opening repo database: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	tl := &Timeline{
		ctx:          ctx,
		cancel:       cancel,
		repoDir:      repoDir,
		cfg:          cfg,
		db:           db,
		passLocks:    newKeyedMutex(),
		activePasses: make(map[string]*activePass),
		now:          time.Now,
	}

	idStr, err := tl.repoProperty(ctx, "id")
	if err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("reading repo ID: %w", err)
	}
	tl.id, err = uuid.Parse(idStr)
	if err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("repo ID is malformed: %w", err)
	}

	// day boundaries degrade to UTC if the timezone index cannot load
	if tz, err := newTzResolver(); err == nil {
		tl.tz = tz
	} else {
		Log.Warn("timezone index unavailable; trip days will use UTC", zap.Error(err))
		tl.tz = utcResolver{}
	}

	Log.Info("opened travel repository",
		zap.String("repo", repoDir),
		zap.String("id", tl.id.String()))

	return tl, nil
}

// Close shuts the repository down, waiting for no one: running passes
// are canceled and abandon their writes.
func (tl *Timeline) Close() error {
	tl.cancel()
	if err := tl.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (tl *Timeline) String() string { return fmt.Sprintf("%s:%s", tl.id, tl.repoDir) }

// Dir is the repository directory path.
func (tl *Timeline) Dir() string { return tl.repoDir }

// ID is the repository's persistent identity.
func (tl *Timeline) ID() uuid.UUID { return tl.id }

// Config is the processing configuration the repository was opened with.
func (tl *Timeline) Config() Config { return tl.cfg }
