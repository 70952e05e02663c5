package model

import (
	"time"
)

// ConflictKey is the natural key of a cost event. Stores upsert on it.
var ConflictKey = []string{"session_id", "ended_at"}

// CostEvent is one record of USD cost attributed to a finished session.
// Optional fields are nil when the publisher did not record them; they are
// never defaulted to zero.
type CostEvent struct {
	SessionID         string   `json:"session_id"`
	Role              string   `json:"role"`
	Worker            *string  `json:"worker"`
	Rig               *string  `json:"rig"`
	CostUSD           float64  `json:"cost_usd"`
	InputTokens       *int64   `json:"input_tokens"`
	OutputTokens      *int64   `json:"output_tokens"`
	CacheReadTokens   *int64   `json:"cache_read_tokens"`
	CacheCreateTokens *int64   `json:"cache_create_tokens"`
	Model             *string  `json:"model"`
	DurationSec       *float64 `json:"duration_sec"`
	BeadsClosed       *int64   `json:"beads_closed"`
	EndedAt           string   `json:"ended_at"`
}

// EndedAtTime parses EndedAt. Events produced by DecodeCostEvent always parse.
func (e CostEvent) EndedAtTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.EndedAt)
}

// EndedAtKey returns EndedAt as a fixed-width UTC string, so that two
// spellings of the same instant compare equal and lexical order matches
// chronological order. Unparseable values are returned unchanged.
func (e CostEvent) EndedAtKey() string {
	t, err := e.EndedAtTime()
	if err != nil {
		return e.EndedAt
	}
	return FormatKeyTime(t)
}

// keyTimeLayout is RFC 3339 in UTC with a fixed nine-digit fraction.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatKeyTime formats t in the layout used by EndedAtKey.
func FormatKeyTime(t time.Time) string {
	return t.UTC().Format(keyTimeLayout)
}

// Message types sent on the live channel.
const (
	MessageConnected = "connected"
	MessageCostEvent = "cost_event"
)

// BroadcastMessage is what live subscribers receive. It is never persisted.
type BroadcastMessage struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"`
	Data    *CostEvent `json:"data,omitempty"`
}

// String returns a pointer to s. Handy for building optional fields.
func String(s string) *string { return &s }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Float64 returns a pointer to f.
func Float64(f float64) *float64 { return &f }
