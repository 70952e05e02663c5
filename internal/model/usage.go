package model

import "time"

// TokenUsage contains token counts from a Claude API response
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Total returns the sum of every token bucket
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// ModelPricing contains pricing info for a model (per token, not per million)
type ModelPricing struct {
	InputCostPerToken         float64
	OutputCostPerToken        float64
	CacheCreationCostPerToken float64
	CacheReadCostPerToken     float64
}

// TranscriptUsage is the usage of one Claude Code transcript file, summed
// over all of its assistant messages.
type TranscriptUsage struct {
	Path       string
	SessionID  string // file name without extension
	ProjectDir string // name of the parent directory
	Model      string // last model seen, empty if none
	EndedAt    time.Time
	Usage      TokenUsage
}
