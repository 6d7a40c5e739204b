// Package storage keeps classification results in a sqlite journal. The
// journal is append-heavy, reads serve recent-history and per-language stats.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/langtools/langid/app/storage/engine"
)

// detectionsSchema is the journal table, one row per classification
const detectionsSchema = `
	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL,
		mode TEXT NOT NULL,
		text_len INTEGER NOT NULL,
		lang TEXT NOT NULL,
		logprob REAL NOT NULL
	)`

// Detection is one journaled classification result
type Detection struct {
	ID        int64     `db:"id" json:"-"`
	Timestamp time.Time `db:"ts" json:"ts"`
	Source    string    `db:"source" json:"source"`     // origin of the text: stdin, a file path, prompt or api
	Mode      string    `db:"mode" json:"mode"`         // operating mode that produced the result
	TextLen   int       `db:"text_len" json:"text_len"` // byte length of the classified text
	Lang      string    `db:"lang" json:"lang"`         // predicted language
	LogProb   float64   `db:"logprob" json:"logprob"`   // raw log-probability of the prediction
}

// LangStat is a per-language aggregate over the journal
type LangStat struct {
	Lang  string `db:"lang" json:"lang"`
	Count int    `db:"count" json:"count"`
}

// Detections provides access to the detections journal
type Detections struct {
	db   *engine.SQL
	lock engine.RWLocker
}

// NewDetections creates the journal table if needed and returns the store
func NewDetections(ctx context.Context, db *engine.SQL) (*Detections, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	err := engine.InitTable(ctx, db, "detections", detectionsSchema,
		"CREATE INDEX IF NOT EXISTS idx_detections_lang ON detections(lang)",
		"CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init detections storage: %w", err)
	}
	return &Detections{db: db, lock: db.MakeLock()}, nil
}

// Write appends a detection to the journal, a zero timestamp is set to now
func (d *Detections) Write(ctx context.Context, det Detection) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now()
	}
	query := `INSERT INTO detections (ts, source, mode, text_len, lang, logprob) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, query, det.Timestamp, det.Source, det.Mode, det.TextLen, det.Lang, det.LogProb); err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}
	return nil
}

// Last returns up to n most recent detections, newest first
func (d *Detections) Last(ctx context.Context, n int) ([]Detection, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	res := []Detection{}
	query := `SELECT id, ts, source, mode, text_len, lang, logprob FROM detections ORDER BY id DESC LIMIT ?`
	if err := d.db.SelectContext(ctx, &res, query, n); err != nil {
		return nil, fmt.Errorf("failed to get last detections: %w", err)
	}
	return res, nil
}

// Count returns the total number of journaled detections
func (d *Detections) Count(ctx context.Context) (int, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	var res int
	if err := d.db.GetContext(ctx, &res, `SELECT COUNT(*) FROM detections`); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return res, nil
}

// LangStats returns per-language detection counts, most frequent first
func (d *Detections) LangStats(ctx context.Context) ([]LangStat, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	res := []LangStat{}
	query := `SELECT lang, COUNT(*) as count FROM detections GROUP BY lang ORDER BY count DESC, lang`
	if err := d.db.SelectContext(ctx, &res, query); err != nil {
		return nil, fmt.Errorf("failed to get language stats: %w", err)
	}
	return res, nil
}
