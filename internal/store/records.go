package store

import (
	"database/sql"
	"fmt"
	"time"

	"crowdwatch/pkg/types"
)

// Records is the repository for the crowd_records table.
type Records struct {
	db *DB
}

// NewRecords creates the repository.
func NewRecords(db *DB) *Records {
	return &Records{db: db}
}

// WeekdayStats summarizes the persisted counts of one weekday.
type WeekdayStats struct {
	Weekday int     `json:"weekday"`
	Avg     float64 `json:"avg"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Count   int     `json:"count"`
}

// HourlyAverage is the average person count of one hour of the day.
type HourlyAverage struct {
	Hour int     `json:"hour"`
	Avg  float64 `json:"avg"`
}

// Insert writes one record. A record with the same timestamp replaces the
// earlier one so repeated saves within the same second stay idempotent.
// The timestamp is stored as a UTC instant; Weekday carries the local-clock
// weekday the saver derived, which is what the aggregates group on.
func (r *Records) Insert(rec types.CrowdRecord) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ts := rec.Timestamp.UTC().Truncate(time.Second)
	result, err := r.db.conn.Exec(`
		INSERT INTO crowd_records (timestamp, person_count, weekday)
		VALUES (?, ?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET
			person_count = excluded.person_count,
			weekday = excluded.weekday
	`, ts, rec.PersonCount, rec.Weekday)
	if err != nil {
		return 0, fmt.Errorf("insert crowd record: %w", err)
	}
	return result.LastInsertId()
}

// ByWeekday returns all records of one Monday-based weekday, oldest first.
func (r *Records) ByWeekday(weekday int) ([]types.CrowdRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.Query(`
		SELECT id, timestamp, person_count, weekday
		FROM crowd_records WHERE weekday = ? ORDER BY timestamp
	`, weekday)
	if err != nil {
		return nil, fmt.Errorf("query records by weekday: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ByDateRange returns records with from <= timestamp < to, oldest first.
func (r *Records) ByDateRange(from, to time.Time) ([]types.CrowdRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.Query(`
		SELECT id, timestamp, person_count, weekday
		FROM crowd_records WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query records by range: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// WeekdayStats aggregates one weekday's records. Count is zero when the
// weekday has no data.
func (r *Records) WeekdayStats(weekday int) (WeekdayStats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	stats := WeekdayStats{Weekday: weekday}
	err := r.db.conn.QueryRow(`
		SELECT COALESCE(AVG(person_count), 0), COALESCE(MIN(person_count), 0),
		       COALESCE(MAX(person_count), 0), COUNT(*)
		FROM crowd_records WHERE weekday = ?
	`, weekday).Scan(&stats.Avg, &stats.Min, &stats.Max, &stats.Count)
	if err != nil {
		return WeekdayStats{}, fmt.Errorf("aggregate weekday %d: %w", weekday, err)
	}
	return stats, nil
}

// WeeklyFlow returns per-weekday aggregates for all seven weekdays, Monday
// first. Weekdays without data show zeroes.
func (r *Records) WeeklyFlow() ([]WeekdayStats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.Query(`
		SELECT weekday, AVG(person_count), MIN(person_count), MAX(person_count), COUNT(*)
		FROM crowd_records GROUP BY weekday
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregate weekly flow: %w", err)
	}
	defer rows.Close()

	flow := make([]WeekdayStats, 7)
	for i := range flow {
		flow[i].Weekday = i
	}
	for rows.Next() {
		var s WeekdayStats
		if err := rows.Scan(&s.Weekday, &s.Avg, &s.Min, &s.Max, &s.Count); err != nil {
			return nil, fmt.Errorf("scan weekly flow: %w", err)
		}
		if s.Weekday >= 0 && s.Weekday < 7 {
			flow[s.Weekday] = s
		}
	}
	return flow, rows.Err()
}

// HourlyAverages returns the average person count per hour of day for one
// weekday, in ascending hour order. Hours without data are omitted.
// Timestamps are stored as UTC instants; hours are bucketed on the local
// clock so they line up with the weekday column and the save window.
func (r *Records) HourlyAverages(weekday int) ([]HourlyAverage, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.Query(`
		SELECT CAST(strftime('%H', timestamp, 'localtime') AS INTEGER) AS hour, AVG(person_count)
		FROM crowd_records WHERE weekday = ?
		GROUP BY hour ORDER BY hour
	`, weekday)
	if err != nil {
		return nil, fmt.Errorf("aggregate hourly averages: %w", err)
	}
	defer rows.Close()

	var out []HourlyAverage
	for rows.Next() {
		var h HourlyAverage
		if err := rows.Scan(&h.Hour, &h.Avg); err != nil {
			return nil, fmt.Errorf("scan hourly average: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HeatmapCell is the average person count for one weekday/hour slot.
type HeatmapCell struct {
	Weekday int     `json:"weekday"`
	Hour    int     `json:"hour"`
	Avg     float64 `json:"avg"`
}

// Heatmap returns per-weekday-per-hour averages for all recorded slots,
// ordered by weekday then hour. Slots without data are omitted.
func (r *Records) Heatmap() ([]HeatmapCell, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.conn.Query(`
		SELECT weekday, CAST(strftime('%H', timestamp, 'localtime') AS INTEGER) AS hour, AVG(person_count)
		FROM crowd_records
		GROUP BY weekday, hour ORDER BY weekday, hour
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregate heatmap: %w", err)
	}
	defer rows.Close()

	var out []HeatmapCell
	for rows.Next() {
		var c HeatmapCell
		if err := rows.Scan(&c.Weekday, &c.Hour, &c.Avg); err != nil {
			return nil, fmt.Errorf("scan heatmap cell: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the total number of persisted records.
func (r *Records) Count() (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var n int
	if err := r.db.conn.QueryRow(`SELECT COUNT(*) FROM crowd_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]types.CrowdRecord, error) {
	var out []types.CrowdRecord
	for rows.Next() {
		var rec types.CrowdRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.PersonCount, &rec.Weekday); err != nil {
			return nil, fmt.Errorf("scan crowd record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
