package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
)

// rawMessage represents the raw JSON structure from Claude Code JSONL files
type rawMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// DefaultProjectsDir returns ~/.claude/projects
func DefaultProjectsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".claude", "projects"), nil
}

// FindTranscripts finds all JSONL files under dir modified after since.
// A zero since matches every file.
func FindTranscripts(dir string, since time.Time) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		if !since.IsZero() && !info.ModTime().After(since) {
			return nil
		}
		files = append(files, path)
		return nil
	})

	return files, err
}

// newScanner returns a line scanner sized for transcript lines
func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	return scanner
}

// ParseTranscript sums the token usage of every assistant message in a
// transcript. ok is false when the file holds no token usage at all.
func ParseTranscript(path string) (usage model.TranscriptUsage, ok bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		return usage, false, err
	}
	defer file.Close()

	usage = model.TranscriptUsage{
		Path:       path,
		SessionID:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		ProjectDir: filepath.Base(filepath.Dir(path)),
	}

	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			// Skip malformed lines
			continue
		}

		if ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil && ts.After(usage.EndedAt) {
			usage.EndedAt = ts
		}

		if raw.Type != "assistant" || raw.Message == nil || raw.Message.Usage == nil {
			continue
		}
		u := raw.Message.Usage
		usage.Usage.InputTokens += u.InputTokens
		usage.Usage.OutputTokens += u.OutputTokens
		usage.Usage.CacheCreationInputTokens += u.CacheCreationInputTokens
		usage.Usage.CacheReadInputTokens += u.CacheReadInputTokens
		if raw.Message.Model != "" {
			usage.Model = raw.Message.Model
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, false, err
	}

	if usage.Usage.Total() == 0 {
		return usage, false, nil
	}

	if usage.EndedAt.IsZero() {
		info, err := file.Stat()
		if err != nil {
			return usage, false, err
		}
		usage.EndedAt = info.ModTime().UTC()
	}
	return usage, true, nil
}

// LineError is a costs file line that could not be read
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// ParseCostsFile reads one cost event per line. Blank lines are skipped.
// Invalid lines are reported in bad and do not stop the read; err is only
// set when reading itself fails.
func ParseCostsFile(r io.Reader) (events []model.CostEvent, bad []*LineError, err error) {
	scanner := newScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := model.DecodeCostEvent([]byte(line))
		if err != nil {
			bad = append(bad, &LineError{Line: n, Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, bad, scanner.Err()
}

// LastCostEvent returns the last valid event in a costs file.
func LastCostEvent(r io.Reader) (model.CostEvent, error) {
	events, bad, err := ParseCostsFile(r)
	if err != nil {
		return model.CostEvent{}, err
	}
	if len(events) == 0 {
		if len(bad) > 0 {
			return model.CostEvent{}, bad[len(bad)-1]
		}
		return model.CostEvent{}, io.ErrUnexpectedEOF
	}
	return events[len(events)-1], nil
}
