//go:build tools
// +build tools

package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ProgressBar represents a visual progress bar
type ProgressBar struct {
	total      int
	current    int
	width      int
	lastUpdate time.Time
	startTime  time.Time
}

// NewProgressBar creates a new progress bar
func NewProgressBar(total int) *ProgressBar {
	return &ProgressBar{
		total:      total,
		current:    0,
		width:      50,
		lastUpdate: time.Now(),
		startTime:  time.Now(),
	}
}

// Update updates the progress bar
func (p *ProgressBar) Update(current int) {
	p.current = current
	now := time.Now()

	// Only update the bar every 100ms to avoid flickering
	if now.Sub(p.lastUpdate) < 100*time.Millisecond {
		return
	}
	p.lastUpdate = now

	percent := float64(p.current) / float64(p.total)
	filled := int(percent * float64(p.width))

	// Create the progress bar
	bar := "["
	for i := 0; i < p.width; i++ {
		if i < filled {
			bar += "="
		} else if i == filled {
			bar += ">"
		} else {
			bar += " "
		}
	}
	bar += "]"

	// Calculate time remaining
	elapsed := now.Sub(p.startTime)
	var timeRemaining string
	if p.current > 0 {
		totalTime := elapsed.Seconds() / float64(p.current) * float64(p.total)
		remaining := totalTime - elapsed.Seconds()
		if remaining > 0 {
			timeRemaining = fmt.Sprintf(" ETA: %s", formatDuration(time.Duration(remaining)*time.Second))
		}
	}

	fmt.Printf("\r%s %3.0f%% (%d/%d)%s", bar, percent*100, p.current, p.total, timeRemaining)
}

// Complete marks the progress bar as complete
func (p *ProgressBar) Complete() {
	p.Update(p.total)
	fmt.Println()
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func main() {
	fmt.Println("=== Travelog Repository Merge ===")

	if len(os.Args) < 3 {
		fmt.Println("Usage: go run -tags tools merge_repo_with_progress.go <source-repo> <dest-repo> [user]")
		fmt.Println()
		fmt.Println("Copies raw location samples from the source repository into the")
		fmt.Println("destination repository, skipping samples the destination already")
		fmt.Println("has. Run `travelog process` on the destination afterwards.")
		os.Exit(1)
	}

	sourceDir := os.Args[1]
	destDir := os.Args[2]
	userFilter := ""
	if len(os.Args) > 3 {
		userFilter = os.Args[3]
	}

	sourceDB := filepath.Join(sourceDir, "travelog.db")
	destDB := filepath.Join(destDir, "travelog.db")

	if !fileExists(sourceDB) {
		fmt.Printf("❌ ERROR: No repository database at %s\n", sourceDB)
		os.Exit(1)
	}
	if !fileExists(destDB) {
		fmt.Printf("❌ ERROR: No repository database at %s (run `travelog init` first)\n", destDB)
		os.Exit(1)
	}

	fmt.Printf("✓ Source repository: %s (%.2f MB)\n", sourceDB, getFileSize(sourceDB))
	fmt.Printf("✓ Destination repository: %s (%.2f MB)\n", destDB, getFileSize(destDB))

	inserted, skipped, err := mergeSamples(sourceDB, destDB, userFilter)
	if err != nil {
		fmt.Printf("\n❌ ERROR: Merge failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n✅ Merged %d samples (%d already present)\n", inserted, skipped)
	fmt.Println("Run `travelog process` on the destination repository to rebuild")
	fmt.Println("visits, routes, and trips from the combined samples.")
}

// mergeSamples copies samples from the source database into the
// destination, row by row, skipping ones the destination already has.
func mergeSamples(sourcePath, destPath, userFilter string) (inserted, skipped int, err error) {
	src, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return 0, 0, fmt.Errorf("opening source database: %v", err)
	}
	defer src.Close()

	dst, err := sql.Open("sqlite3", destPath+"?_journal_mode=WAL")
	if err != nil {
		return 0, 0, fmt.Errorf("opening destination database: %v", err)
	}
	defer dst.Close()

	// Count first so the progress bar has a total
	countQuery := "SELECT COUNT(*) FROM samples"
	selectQuery := `SELECT user_id, timestamp, latitude, longitude, accuracy, speed, bearing, altitude, source
		FROM samples ORDER BY user_id, timestamp`
	var countArgs, selectArgs []interface{}
	if userFilter != "" {
		countQuery = "SELECT COUNT(*) FROM samples WHERE user_id = ?"
		selectQuery = `SELECT user_id, timestamp, latitude, longitude, accuracy, speed, bearing, altitude, source
			FROM samples WHERE user_id = ? ORDER BY timestamp`
		countArgs = []interface{}{userFilter}
		selectArgs = []interface{}{userFilter}
	}

	var total int
	if err := src.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("counting source samples: %v", err)
	}
	if total == 0 {
		fmt.Println("Source repository has no samples to merge")
		return 0, 0, nil
	}
	fmt.Printf("Preparing to merge %d samples...\n", total)
	progressBar := NewProgressBar(total)

	tx, err := dst.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("starting destination transaction: %v", err)
	}
	defer tx.Rollback()

	// The NOT EXISTS guard is what makes reruns safe
	insertStmt, err := tx.Prepare(`INSERT INTO samples
		(user_id, timestamp, latitude, longitude, accuracy, speed, bearing, altitude, source)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM samples WHERE user_id = ? AND timestamp = ? AND latitude = ? AND longitude = ?
		)`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing insert: %v", err)
	}
	defer insertStmt.Close()

	rows, err := src.Query(selectQuery, selectArgs...)
	if err != nil {
		return 0, 0, fmt.Errorf("reading source samples: %v", err)
	}
	defer rows.Close()

	processed := 0
	for rows.Next() {
		var userID, source string
		var timestamp int64
		var lat, lon float64
		var accuracy, speed, bearing, altitude sql.NullFloat64
		if err := rows.Scan(&userID, &timestamp, &lat, &lon, &accuracy, &speed, &bearing, &altitude, &source); err != nil {
			return inserted, skipped, fmt.Errorf("scanning source row: %v", err)
		}

		res, err := insertStmt.Exec(
			userID, timestamp, lat, lon, accuracy, speed, bearing, altitude, source,
			userID, timestamp, lat, lon)
		if err != nil {
			return inserted, skipped, fmt.Errorf("inserting sample: %v", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, skipped, fmt.Errorf("checking insert result: %v", err)
		}
		if n > 0 {
			inserted++
		} else {
			skipped++
		}

		processed++
		progressBar.Update(processed)
	}
	if err := rows.Err(); err != nil {
		return inserted, skipped, fmt.Errorf("iterating source samples: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return inserted, skipped, fmt.Errorf("committing merge: %v", err)
	}
	progressBar.Complete()

	return inserted, skipped, nil
}

// getFileSize returns the size of a file in MB
func getFileSize(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return float64(info.Size()) / (1024 * 1024) // Convert bytes to MB
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
