package persistence

import (
	"database/sql"
	"time"
)

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID             string
	OriginalPrompt string
	RefinedPrompt  string
	ActivePrompt   string
	Choice         string
	Stage          string
	Attempt        int
	CreatedAt      time.Time
	FinishedAt     sql.NullTime
}

// VersionRecord is one row of the versions table.
type VersionRecord struct {
	SessionID string
	Attempt   int
	Code      string
	CreatedAt time.Time
}
