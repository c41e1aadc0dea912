package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("upload not found")

const previewRunes = 120

// Upload is one hotkey activation and its outcome
type Upload struct {
	ID               int64     `json:"id"`
	ActivationID     string    `json:"activationId"`
	Timestamp        time.Time `json:"timestamp"`
	Hotkey           string    `json:"hotkey"`
	CaptureSource    string    `json:"captureSource"`
	CharacterCount   int       `json:"characterCount"`
	WordCount        int       `json:"wordCount"`
	Preview          string    `json:"preview"`
	KnowledgeBaseID  string    `json:"knowledgeBaseId"`
	DocumentID       string    `json:"documentId"`
	CaptureLatencyMs int64     `json:"captureLatencyMs"`
	UploadLatencyMs  int64     `json:"uploadLatencyMs"`
	TotalLatencyMs   int64     `json:"totalLatencyMs"`
	Outcome          string    `json:"outcome"`
	StatusCode       int       `json:"statusCode"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
}

// SetText fills the text-derived fields without storing the text itself
func (u *Upload) SetText(text string) {
	u.CharacterCount = utf8.RuneCountInString(text)
	u.WordCount = len(strings.Fields(text))
	u.Preview = Preview(text)
}

// Preview returns the first line of text, shortened for display
func Preview(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if utf8.RuneCountInString(line) <= previewRunes {
		return line
	}
	return string([]rune(line)[:previewRunes]) + "…"
}

// SaveUpload saves an upload record to the database
func (db *DB) SaveUpload(u *Upload) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO uploads (
			activation_id, timestamp, hotkey, capture_source, character_count, word_count, preview,
			knowledge_base_id, document_id, capture_latency_ms, upload_latency_ms, total_latency_ms,
			outcome, status_code, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.conn.Exec(query,
		u.ActivationID, u.Timestamp.UTC(), u.Hotkey, u.CaptureSource, u.CharacterCount, u.WordCount, u.Preview,
		u.KnowledgeBaseID, u.DocumentID, u.CaptureLatencyMs, u.UploadLatencyMs, u.TotalLatencyMs,
		u.Outcome, u.StatusCode, u.Success, u.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	u.ID = id
	return nil
}

// GetUploads retrieves uploads with pagination, newest first
func (db *DB) GetUploads(limit, offset int) ([]Upload, error) {
	query := `
		SELECT
			id, activation_id, timestamp, hotkey, capture_source, character_count, word_count, preview,
			knowledge_base_id, document_id, capture_latency_ms, upload_latency_ms, total_latency_ms,
			outcome, status_code, success, error_message
		FROM uploads
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := db.conn.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	uploads := []Upload{}
	for rows.Next() {
		var u Upload
		var errorMessage sql.NullString

		err := rows.Scan(
			&u.ID, &u.ActivationID, &u.Timestamp, &u.Hotkey, &u.CaptureSource, &u.CharacterCount, &u.WordCount, &u.Preview,
			&u.KnowledgeBaseID, &u.DocumentID, &u.CaptureLatencyMs, &u.UploadLatencyMs, &u.TotalLatencyMs,
			&u.Outcome, &u.StatusCode, &u.Success, &errorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}

		if errorMessage.Valid {
			u.ErrorMessage = errorMessage.String
		}

		uploads = append(uploads, u)
	}

	return uploads, rows.Err()
}

// DeleteUpload deletes an upload record by ID
func (db *DB) DeleteUpload(id int64) error {
	result, err := db.conn.Exec(`DELETE FROM uploads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetUploadCount returns the total number of records
func (db *DB) GetUploadCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM uploads").Scan(&count)
	return count, err
}
