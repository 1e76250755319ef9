package collector

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oicur0t/intelmon/pkg/models"
)

const (
	maxFieldLength   = 256
	maxMessageLength = 2000
	maxMentions      = 32
)

// ValidationError describes a rejected payload
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func checkText(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	if utf8.RuneCountInString(value) > max {
		return invalid(field, fmt.Sprintf("exceeds %d characters", max))
	}
	return nil
}

// ValidateReport checks an incoming intel report and fills in optional fields
func ValidateReport(r *models.IntelReport) error {
	if err := checkText("system", r.System, maxFieldLength); err != nil {
		return err
	}
	if err := checkText("intel", r.Intel, maxMessageLength); err != nil {
		return err
	}
	if err := checkText("pilot", r.Pilot, maxFieldLength); err != nil {
		return err
	}
	if err := checkText("channel", r.Channel, maxFieldLength); err != nil {
		return err
	}

	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return invalid("timestamp", "must be ISO-8601")
	}
	r.Timestamp = ts.UTC().Format(models.TimestampLayout)

	if r.Confidence < 0 || r.Confidence > 1 {
		return invalid("confidence", "must be between 0 and 1")
	}
	if len(r.SystemMentions) > maxMentions {
		return invalid("systemMentions", fmt.Sprintf("exceeds %d entries", maxMentions))
	}
	if r.SystemMentions == nil {
		r.SystemMentions = []string{}
	}
	if r.Source == "" {
		r.Source = r.Channel
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(models.TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// ValidateHeartbeat checks an incoming heartbeat
func ValidateHeartbeat(hb *models.Heartbeat) error {
	if err := checkText("clientId", hb.ClientID, maxFieldLength); err != nil {
		return err
	}
	if utf8.RuneCountInString(hb.Pilot) > maxFieldLength {
		return invalid("pilot", fmt.Sprintf("exceeds %d characters", maxFieldLength))
	}
	if hb.Stats.Uptime < 0 {
		return invalid("stats.uptime", "must not be negative")
	}
	if hb.Stats.WatchedFiles < 0 {
		return invalid("stats.watchedFiles", "must not be negative")
	}
	return nil
}
