package storage

import (
	"fmt"
	"time"
)

// DailyStats represents statistics for a single day
type DailyStats struct {
	Date         string `json:"date"`
	TotalUploads int    `json:"totalUploads"`
	TotalWords   int    `json:"totalWords"`
	SuccessCount int    `json:"successCount"`
	FailureCount int    `json:"failureCount"`
}

// OutcomeStats counts activations per outcome kind
type OutcomeStats struct {
	Outcome      string  `json:"outcome"`
	Count        int     `json:"count"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// OverallStats represents overall statistics
type OverallStats struct {
	TotalUploads      int     `json:"totalUploads"`
	TotalWords        int     `json:"totalWords"`
	TotalCharacters   int     `json:"totalCharacters"`
	SuccessCount      int     `json:"successCount"`
	FailureCount      int     `json:"failureCount"`
	AvgCaptureMs      float64 `json:"avgCaptureMs"`
	AvgUploadMs       float64 `json:"avgUploadMs"`
	AvgTotalLatencyMs float64 `json:"avgTotalLatencyMs"`
}

const overallColumns = `
	COUNT(*) as total_uploads,
	COALESCE(SUM(word_count), 0) as total_words,
	COALESCE(SUM(character_count), 0) as total_characters,
	COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0) as success_count,
	COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0) as failure_count,
	COALESCE(AVG(capture_latency_ms), 0) as avg_capture_ms,
	COALESCE(AVG(upload_latency_ms), 0) as avg_upload_ms,
	COALESCE(AVG(total_latency_ms), 0) as avg_total_latency_ms
`

func since(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

// GetDailyStats retrieves statistics grouped by date for the last N days
func (db *DB) GetDailyStats(days int) ([]DailyStats, error) {
	query := `
		SELECT
			DATE(timestamp) as date,
			COUNT(*) as total_uploads,
			SUM(word_count) as total_words,
			SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) as success_count,
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) as failure_count
		FROM uploads
		WHERE timestamp >= ?
		GROUP BY DATE(timestamp)
		ORDER BY date DESC
	`

	rows, err := db.conn.Query(query, since(days))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	stats := []DailyStats{}
	for rows.Next() {
		var s DailyStats
		err := rows.Scan(&s.Date, &s.TotalUploads, &s.TotalWords, &s.SuccessCount, &s.FailureCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// GetOutcomeStats retrieves activation counts grouped by outcome for the last N days
func (db *DB) GetOutcomeStats(days int) ([]OutcomeStats, error) {
	query := `
		SELECT
			outcome,
			COUNT(*) as count,
			AVG(total_latency_ms) as avg_latency_ms
		FROM uploads
		WHERE timestamp >= ?
		GROUP BY outcome
		ORDER BY count DESC, outcome
	`

	rows, err := db.conn.Query(query, since(days))
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome stats: %w", err)
	}
	defer rows.Close()

	stats := []OutcomeStats{}
	for rows.Next() {
		var s OutcomeStats
		if err := rows.Scan(&s.Outcome, &s.Count, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan outcome stats: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// GetOverallStats retrieves overall statistics for the last N days
func (db *DB) GetOverallStats(days int) (*OverallStats, error) {
	return db.GetStatsForDateRange(since(days), time.Now().UTC())
}

// GetStatsForDateRange retrieves overall stats for a custom date range
func (db *DB) GetStatsForDateRange(startTime, endTime time.Time) (*OverallStats, error) {
	query := `SELECT ` + overallColumns + ` FROM uploads WHERE timestamp >= ? AND timestamp <= ?`

	var stats OverallStats
	err := db.conn.QueryRow(query, startTime.UTC(), endTime.UTC()).Scan(
		&stats.TotalUploads,
		&stats.TotalWords,
		&stats.TotalCharacters,
		&stats.SuccessCount,
		&stats.FailureCount,
		&stats.AvgCaptureMs,
		&stats.AvgUploadMs,
		&stats.AvgTotalLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query date range stats: %w", err)
	}

	return &stats, nil
}
