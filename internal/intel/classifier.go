package intel

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/oicur0t/intelmon/pkg/models"
)

// Classifier decides whether a chat message carries intel. Implementations
// must be safe for concurrent use.
type Classifier interface {
	IsReportable(message string) bool
	ExtractEntities(message string) []string
	Confidence(message string, hasEntity bool) float64
}

// System names such as J164738, 4O-239, M-OEE8 and NIDJ-K.
var systemPattern = regexp.MustCompile(`\b([A-Z0-9]{1,2}-[A-Z0-9]{1,4}|[A-Z]{2,}-[A-Z0-9]{1,4}|J\d{6})\b`)

var defaultNoise = []string{
	"eve system >",
	"channel motd",
	"welcome to",
	"changed topic",
	"has joined",
	"has left",
}

var defaultKeywords = []string{
	"red", "hostile", "enemy", "neut", "neutral", "unknown",
	"clear", "clr", "status", "gate", "station", "cyno", "bridge",
	"dock", "undock", "jump", "warp", "belt", "safe", "pos",
	"titan", "super", "dread", "carrier", "fax", "blops",
}

// confidenceBonus raises the score when any of its terms appears
type confidenceBonus struct {
	Terms []string
	Bonus float64
}

var defaultBonuses = []confidenceBonus{
	{Terms: []string{"red", "hostile"}, Bonus: 0.3},
	{Terms: []string{"clear", "clr"}, Bonus: 0.2},
	{Terms: []string{"cyno", "bridge"}, Bonus: 0.3},
	{Terms: []string{"gate", "station"}, Bonus: 0.2},
}

const (
	baseConfidence   = 0.5
	entityBonus      = 0.2
	minMessageLength = 3
)

// Heuristic is the keyword and system-name based Classifier
type Heuristic struct {
	noise    []string
	keywords []string
	bonuses  []confidenceBonus
	entities *regexp.Regexp
}

// NewHeuristic returns the default keyword classifier
func NewHeuristic() *Heuristic {
	return &Heuristic{
		noise:    defaultNoise,
		keywords: defaultKeywords,
		bonuses:  defaultBonuses,
		entities: systemPattern,
	}
}

// IsReportable reports whether message looks like intel
func (h *Heuristic) IsReportable(message string) bool {
	lower := strings.ToLower(message)
	if utf8.RuneCountInString(lower) < minMessageLength || containsAny(lower, h.noise) {
		return false
	}
	return containsAny(lower, h.keywords) || h.entities.MatchString(message)
}

// ExtractEntities returns the system names mentioned in message, in order of
// first appearance and without repeats.
func (h *Heuristic) ExtractEntities(message string) []string {
	matches := h.entities.FindAllString(message, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Confidence scores message in [0, 1]
func (h *Heuristic) Confidence(message string, hasEntity bool) float64 {
	lower := strings.ToLower(message)
	score := baseConfidence
	for _, b := range h.bonuses {
		if containsAny(lower, b.Terms) {
			score += b.Bonus
		}
	}
	if hasEntity {
		score += entityBonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Classify runs rec through c. It reports false when the message is not intel.
func Classify(c Classifier, rec models.LogRecord, channel, source string) (models.ClassifiedEvent, bool) {
	if !c.IsReportable(rec.Message) {
		return models.ClassifiedEvent{}, false
	}

	entities := c.ExtractEntities(rec.Message)
	primary := channel
	if len(entities) > 0 {
		primary = entities[0]
	}

	return models.ClassifiedEvent{
		Record:            rec,
		PrimaryEntity:     primary,
		MentionedEntities: entities,
		Confidence:        c.Confidence(rec.Message, len(entities) > 0),
		Channel:           channel,
		SourceFile:        source,
	}, true
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
