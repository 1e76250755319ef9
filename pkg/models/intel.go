package models

import (
	"time"
)

// LogRecord is one parsed chat log line
type LogRecord struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Author    string    `json:"author" bson:"author"`
	Message   string    `json:"message" bson:"message"`
}

// ClassifiedEvent is a LogRecord judged reportable, with its extracted context
type ClassifiedEvent struct {
	Record            LogRecord
	PrimaryEntity     string
	MentionedEntities []string
	Confidence        float64
	Channel           string
	SourceFile        string
}

// IntelReport is the payload submitted to the collector for one event
type IntelReport struct {
	System         string    `json:"system" bson:"system"`
	Intel          string    `json:"intel" bson:"intel"`
	Pilot          string    `json:"pilot" bson:"pilot"`
	Timestamp      string    `json:"timestamp" bson:"timestamp_raw"`
	Channel        string    `json:"channel" bson:"channel"`
	Source         string    `json:"source" bson:"source"`
	SystemMentions []string  `json:"systemMentions" bson:"system_mentions"`
	Confidence     float64   `json:"confidence" bson:"confidence"`
	ReceivedAt     time.Time `json:"-" bson:"received_at"`
}

// TimestampLayout is the ISO-8601 form used on the wire and in dedup keys
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// NewIntelReport builds the wire payload for a classified event
func NewIntelReport(ev ClassifiedEvent) IntelReport {
	mentions := ev.MentionedEntities
	if mentions == nil {
		mentions = []string{}
	}
	return IntelReport{
		System:         ev.PrimaryEntity,
		Intel:          ev.Record.Message,
		Pilot:          ev.Record.Author,
		Timestamp:      ev.Record.Timestamp.UTC().Format(TimestampLayout),
		Channel:        ev.Channel,
		Source:         ev.Channel,
		SystemMentions: mentions,
		Confidence:     ev.Confidence,
	}
}

// Stats is the counter snapshot carried by a heartbeat
type Stats struct {
	Uptime            int64     `json:"uptime" bson:"uptime"`
	WatchedFiles      int       `json:"watchedFiles" bson:"watched_files"`
	// MessagesProcessed counts every parsed live line, intel or not, so it
	// reads higher than a count of intel-classified messages.
	MessagesProcessed uint64    `json:"messagesProcessed" bson:"messages_processed"`
	IntelSent         uint64    `json:"intelSent" bson:"intel_sent"`
	ErrorsEncountered uint64    `json:"errorsEncountered" bson:"errors_encountered"`
	StartTime         time.Time `json:"startTime" bson:"start_time"`
}

// Heartbeat announces that a client is alive
type Heartbeat struct {
	ClientID string    `json:"clientId" bson:"_id"`
	Pilot    string    `json:"pilot" bson:"pilot"`
	Version  string    `json:"version" bson:"version"`
	Platform string    `json:"platform" bson:"platform"`
	Stats    Stats     `json:"stats" bson:"stats"`
	LastSeen time.Time `json:"-" bson:"last_seen"`
}

// FileState tracks the reading position of a watched log file
type FileState struct {
	Path         string    `json:"path"`
	Offset       int64     `json:"offset"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
