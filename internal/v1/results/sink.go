// Package results delivers authoritative completed test and race records to
// the result sink. The engine computes every persisted number server-side;
// the sink only stores what it is handed, idempotently on
// (session id, identity id).
package results

import (
	"context"
	"fmt"
	"time"
)

// TestResult is the authoritative record of a completed single-player test.
type TestResult struct {
	SessionID      string    `json:"sessionId"`
	IdentityID     string    `json:"identityId"` // empty for guests
	Mode           string    `json:"mode"`
	Limit          int       `json:"limit"` // seconds or word count, by mode
	WPM            float64   `json:"wpm"`
	RawWPM         float64   `json:"rawWpm"`
	Accuracy       float64   `json:"accuracy"`
	Consistency    float64   `json:"consistency"`
	Errors         int       `json:"errors"`
	CorrectChars   int       `json:"correctChars"`
	IncorrectChars int       `json:"incorrectChars"`
	ElapsedMs      int64     `json:"elapsedMs"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
}

// Key implements Record.
func (r TestResult) Key() string {
	return fmt.Sprintf("test:%s:%s", r.SessionID, r.IdentityID)
}

// RaceResult is one player's authoritative record of a completed race.
type RaceResult struct {
	RaceID       string  `json:"raceId"`
	IdentityID   string  `json:"identityId"`
	Rank         int     `json:"rank"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
	Errors       int     `json:"errors"`
	Finished     bool    `json:"finished"`
	FinishTimeMs int64   `json:"finishTimeMs"` // ms since race start; 0 if unfinished
	Mode         string  `json:"mode"`
	Limit        int     `json:"limit"`
}

// Key implements Record.
func (r RaceResult) Key() string {
	return fmt.Sprintf("race:%s:%s", r.RaceID, r.IdentityID)
}

// Record is any result the sink can persist. Key must be stable per
// (session, identity) so duplicate submissions collapse.
type Record interface {
	Key() string
}

// Sink receives authoritative completed records. Record must be idempotent
// on the record's Key and honor the context deadline.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}
