package parser

import (
	"strings"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/pricing"
)

// sessionPrefixRigs maps the first dash-separated part of a session id to a rig.
var sessionPrefixRigs = map[string]string{
	"ca": "careers",
	"do": "doccompare",
	"ga": "gasometer",
	"ha": "happyhour",
	"om": "officemonitor",
}

// RigFromSessionID infers a rig from a session id prefix, or nil.
func RigFromSessionID(sessionID string) *string {
	prefix, _, _ := strings.Cut(sessionID, "-")
	if rig, ok := sessionPrefixRigs[prefix]; ok {
		return &rig
	}
	return nil
}

// projectRoles are matched in order against the project directory name.
var projectRoles = []string{"mayor", "polecat", "witness", "refinery", "deacon", "crew"}

// projectRigs are matched in order against the project directory name.
var projectRigs = []string{"gasometer", "careers", "doccompare", "longeye", "gastown", "beads"}

// RoleFromProjectDir derives the role from a Claude project directory name.
func RoleFromProjectDir(dir string) string {
	name := strings.ToLower(dir)
	for _, role := range projectRoles {
		if strings.Contains(name, role) {
			return role
		}
	}
	return "unknown"
}

// RigFromProjectDir derives the rig from a Claude project directory name, or nil.
func RigFromProjectDir(dir string) *string {
	name := strings.ToLower(dir)
	for _, rig := range projectRigs {
		if strings.Contains(name, rig) {
			return &rig
		}
	}
	return nil
}

// WorkerFromProjectDir returns the part after "polecats" in a dash-separated
// directory name, or nil.
func WorkerFromProjectDir(dir string) *string {
	parts := strings.Split(dir, "-")
	for i, part := range parts {
		if part == "polecats" && i+1 < len(parts) && parts[i+1] != "" {
			return &parts[i+1]
		}
	}
	return nil
}

// TranscriptEvent builds the cost event for one transcript.
func TranscriptEvent(u model.TranscriptUsage, costUSD float64) model.CostEvent {
	modelName := u.Model
	if modelName == "" {
		modelName = pricing.DefaultModel
	}
	return model.CostEvent{
		SessionID:         u.SessionID,
		Role:              RoleFromProjectDir(u.ProjectDir),
		Worker:            WorkerFromProjectDir(u.ProjectDir),
		Rig:               RigFromProjectDir(u.ProjectDir),
		CostUSD:           costUSD,
		InputTokens:       model.Int64(u.Usage.InputTokens),
		OutputTokens:      model.Int64(u.Usage.OutputTokens),
		CacheReadTokens:   model.Int64(u.Usage.CacheReadInputTokens),
		CacheCreateTokens: model.Int64(u.Usage.CacheCreationInputTokens),
		Model:             &modelName,
		EndedAt:           u.EndedAt.Format(time.RFC3339Nano),
	}
}
