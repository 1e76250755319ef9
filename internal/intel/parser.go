// Package intel turns raw chat log lines into records and decides which of
// them carry intel worth reporting.
package intel

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
)

// [ 2025.09.07 16:52:50 ] Pilot Name > Message
var linePattern = regexp.MustCompile(
	`^\[\s*(\d{4})\.(\d{2})\.(\d{2})\s+(\d{2})[:.](\d{2})[:.](\d{2})\s*\]\s*([^>]+)\s*>\s*(.+)$`)

var (
	channelPattern   = regexp.MustCompile(`^(.+?)_\d{8}_\d{6}_\d+\.txt$`)
	characterPattern = regexp.MustCompile(`_(\d+)\.txt$`)
)

// Parse converts one raw log line into a LogRecord. It reports false for
// blank lines, lines not in chat log shape and lines whose timestamp is not a
// valid instant.
func Parse(raw string) (models.LogRecord, bool) {
	line := strings.TrimPrefix(raw, "\uFEFF")
	line = strings.TrimPrefix(line, "\uFFFE")
	line = strings.ReplaceAll(line, "\x00", "")
	line = strings.TrimSpace(line)
	if line == "" {
		return models.LogRecord{}, false
	}

	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return models.LogRecord{}, false
	}

	stamp := fmt.Sprintf("%s-%s-%sT%s:%s:%sZ", m[1], m[2], m[3], m[4], m[5], m[6])
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return models.LogRecord{}, false
	}

	author := strings.TrimSpace(m[7])
	message := strings.TrimSpace(m[8])
	if author == "" || message == "" {
		return models.LogRecord{}, false
	}

	return models.LogRecord{
		Timestamp: ts.UTC(),
		Author:    author,
		Message:   message,
	}, true
}

// Format renders a record in the chat log line shape understood by Parse
func Format(rec models.LogRecord) string {
	return fmt.Sprintf("[ %s ] %s > %s",
		rec.Timestamp.UTC().Format("2006.01.02 15:04:05"), rec.Author, rec.Message)
}

// ChannelName derives a readable channel name from a chat log filename.
// Phoenix_Intel_South_20250907_193309_2122867331.txt becomes "Phoenix Intel South".
func ChannelName(filename string) string {
	base := filepath.Base(filename)
	if m := channelPattern.FindStringSubmatch(base); m != nil {
		return strings.ReplaceAll(m[1], "_", " ")
	}
	return strings.TrimSuffix(base, ".txt")
}

// CharacterID returns the listener character id encoded at the end of a chat
// log filename, or "unknown".
func CharacterID(filename string) string {
	if m := characterPattern.FindStringSubmatch(filepath.Base(filename)); m != nil {
		return m[1]
	}
	return "unknown"
}

// IsIntelLog reports whether a filename belongs to an intel channel log
func IsIntelLog(filename string) bool {
	base := filepath.Base(filename)
	return strings.Contains(strings.ToLower(base), "intel") && strings.HasSuffix(base, ".txt")
}
