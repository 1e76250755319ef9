package tailer

import (
	"sync/atomic"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
)

// Counters aggregates process-lifetime totals. All methods are safe for
// concurrent use.
type Counters struct {
	linesProcessed  atomic.Uint64
	eventsDelivered atomic.Uint64
	errors          atomic.Uint64
	startTime       time.Time
}

// NewCounters starts counting at startTime
func NewCounters(startTime time.Time) *Counters {
	return &Counters{startTime: startTime}
}

func (c *Counters) LineProcessed()  { c.linesProcessed.Add(1) }
func (c *Counters) EventDelivered() { c.eventsDelivered.Add(1) }
func (c *Counters) Error()          { c.errors.Add(1) }

// Snapshot captures the current totals for a heartbeat
func (c *Counters) Snapshot(now time.Time, watchedFiles int) models.Stats {
	return models.Stats{
		Uptime:            int64(now.Sub(c.startTime) / time.Second),
		WatchedFiles:      watchedFiles,
		MessagesProcessed: c.linesProcessed.Load(),
		IntelSent:         c.eventsDelivered.Load(),
		ErrorsEncountered: c.errors.Load(),
		StartTime:         c.startTime,
	}
}
