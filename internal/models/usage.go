package models

import "time"

// UsageRecord captures request metadata for the optional usage log.
// It never carries document text or analysis output.
type UsageRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	FileName   string    `json:"file_name"`
	Format     Format    `json:"format"`
	TextLength int       `json:"text_length"`
	Provider   string    `json:"provider"`
	Outcome    string    `json:"outcome"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
