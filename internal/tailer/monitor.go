package tailer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oicur0t/intelmon/internal/intel"
	"github.com/oicur0t/intelmon/pkg/models"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 5 * time.Minute
	DefaultLookbackWindow    = 6 * time.Hour

	// Recent initial-load messages are logged for context; older ones are skipped.
	initialLogWindow = 10 * time.Minute
)

// Sender delivers intel reports and heartbeats to the collector
type Sender interface {
	SubmitReport(ctx context.Context, report models.IntelReport) error
	HeartbeatSender
}

// Options configures a Monitor
type Options struct {
	ClientID          string
	PilotName         string
	Version           string
	HeartbeatInterval time.Duration
	LookbackWindow    time.Duration
	Encoding          TextEncoding
	DedupTTL          time.Duration
	Classifier        intel.Classifier // nil selects the keyword heuristic
}

// Monitor tails the intel channel logs of one directory, classifies new lines
// and forwards reportable ones
type Monitor struct {
	dir        string
	opts       Options
	watcher    Watcher
	sender     Sender
	classifier intel.Classifier
	ledger     *Ledger
	counters   *Counters
	logger     *zap.Logger

	// workers is only touched by the Run goroutine
	workers  map[string]*fileWorker
	watched  atomic.Int64
	vanished chan string
	wg       sync.WaitGroup
}

// fileWorker serializes the change handling of one file
type fileWorker struct {
	path    string
	channel string
	cursor  *Cursor
	kick    chan struct{}
	cancel  context.CancelFunc
}

// notify queues a change. Pending changes coalesce because every observation
// reads up to the file's current size.
func (w *fileWorker) notify() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// NewMonitor creates a monitor for dir
func NewMonitor(dir string, opts Options, watcher Watcher, sender Sender, logger *zap.Logger) *Monitor {
	if opts.Classifier == nil {
		opts.Classifier = intel.NewHeuristic()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Encoding.enc == nil {
		opts.Encoding, _ = LookupEncoding(EncodingUTF16LE)
	}

	return &Monitor{
		dir:        dir,
		opts:       opts,
		watcher:    watcher,
		sender:     sender,
		classifier: opts.Classifier,
		ledger:     NewLedger(opts.DedupTTL),
		counters:   NewCounters(time.Now()),
		logger:     logger,
		workers:    make(map[string]*fileWorker),
		vanished:   make(chan string, 16),
	}
}

// Counters returns the monitor's running totals
func (m *Monitor) Counters() *Counters { return m.counters }

// Run watches the directory until ctx is cancelled. Deliveries still in
// flight at that point are cancelled rather than awaited.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := m.seed(ctx); err != nil {
		return err
	}

	events := make(chan Event, 256)
	watchErr := make(chan error, 1)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		watchErr <- m.watcher.Watch(ctx, events)
	}()
	go func() {
		defer m.wg.Done()
		hb := NewHeartbeater(m.opts.HeartbeatInterval, m.sender, m.heartbeat, m.ledger, m.logger)
		hb.Start(ctx)
	}()

	m.logger.Info("Ready for intel monitoring",
		zap.String("dir", m.dir),
		zap.Int64("watched_files", m.watched.Load()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-watchErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch failed: %w", err)

		case ev := <-events:
			m.dispatch(ctx, ev)

		case path := <-m.vanished:
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				m.forget(path)
			}
		}
	}
}

// seed starts tracking recently modified intel logs at their current size so
// their history is not replayed
func (m *Monitor) seed(ctx context.Context) error {
	if info, err := os.Stat(m.dir); err != nil {
		return fmt.Errorf("log directory unavailable: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("log directory %s is not a directory", m.dir)
	}

	paths, err := listLogs(m.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", m.dir, err)
	}

	type recentFile struct {
		path string
		info os.FileInfo
	}

	threshold := time.Now().Add(-m.opts.LookbackWindow)
	var recent []recentFile
	for _, path := range paths {
		if !intel.IsIntelLog(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(threshold) {
			continue
		}
		recent = append(recent, recentFile{path: path, info: info})
	}

	sort.Slice(recent, func(i, j int) bool {
		return recent[i].info.ModTime().After(recent[j].info.ModTime())
	})

	m.logger.Info("Found recent intel channel files",
		zap.Int("count", len(recent)),
		zap.Duration("lookback", m.opts.LookbackWindow))

	for i, f := range recent {
		m.logger.Info("Tracking intel channel",
			zap.String("file", f.info.Name()),
			zap.String("channel", intel.ChannelName(f.path)),
			zap.String("character", intel.CharacterID(f.path)),
			zap.Duration("age", time.Since(f.info.ModTime()).Truncate(time.Second)),
			zap.Bool("primary", i == 0))
		m.startWorker(ctx, f.path, f.info.Size(), true)
	}
	return nil
}

func (m *Monitor) dispatch(ctx context.Context, ev Event) {
	if ev.Op == OpError {
		m.logger.Error("Watcher error", zap.Error(ev.Err))
		m.counters.Error()
		return
	}
	if !intel.IsIntelLog(ev.Path) {
		return
	}

	switch ev.Op {
	case OpAdded, OpChanged:
		w, ok := m.workers[ev.Path]
		if !ok {
			m.logger.Info("Watching new intel channel",
				zap.String("file", ev.Path),
				zap.String("channel", intel.ChannelName(ev.Path)))
			w = m.startWorker(ctx, ev.Path, 0, false)
		}
		w.notify()

	case OpRemoved:
		m.forget(ev.Path)
	}
}

func (m *Monitor) forget(path string) {
	w, ok := m.workers[path]
	if !ok {
		return
	}
	w.cancel()
	delete(m.workers, path)
	m.watched.Add(-1)
	m.logger.Info("File removed, stopped watching", zap.String("file", path))
}

func (m *Monitor) startWorker(ctx context.Context, path string, size int64, seeded bool) *fileWorker {
	wctx, cancel := context.WithCancel(ctx)
	w := &fileWorker{
		path:    path,
		channel: intel.ChannelName(path),
		cursor:  NewCursor(path, m.opts.Encoding, time.Now()),
		kick:    make(chan struct{}, 1),
		cancel:  cancel,
	}
	if seeded {
		w.cursor.Seed(size)
	}

	m.workers[path] = w
	m.watched.Add(1)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-wctx.Done():
				return
			case <-w.kick:
				m.handleChange(wctx, w)
			}
		}
	}()

	return w
}

// handleChange runs on the file's worker goroutine
func (m *Monitor) handleChange(ctx context.Context, w *fileWorker) {
	batch, err := w.cursor.Observe()
	if err != nil {
		if errors.Is(err, ErrVanished) {
			m.logger.Debug("File vanished before read", zap.String("file", w.path))
			select {
			case m.vanished <- w.path:
			case <-ctx.Done():
			}
			return
		}
		m.logger.Error("Error processing file change", zap.String("file", w.path), zap.Error(err))
		m.counters.Error()
		return
	}

	if batch.Truncated {
		m.logger.Info("File truncated, reading from start", zap.String("file", w.path))
	}
	if len(batch.Lines) == 0 {
		return
	}

	m.logger.Debug("Read new content",
		zap.String("file", w.path),
		zap.Int64("from", batch.From),
		zap.Int64("to", batch.To),
		zap.Bool("initial", batch.Initial))

	m.processLines(ctx, w, batch.Lines, batch.Initial)
}

func (m *Monitor) processLines(ctx context.Context, w *fileWorker, lines []string, initial bool) {
	now := time.Now()
	var parsedCount, intelCount int

	for _, line := range lines {
		rec, ok := intel.Parse(line)
		if !ok {
			continue
		}
		parsedCount++

		// Initial loads provide context only and are never submitted.
		if initial {
			if age := now.Sub(rec.Timestamp); age <= initialLogWindow {
				m.logger.Debug("Recent message from initial load, not submitted",
					zap.String("channel", w.channel),
					zap.String("pilot", rec.Author),
					zap.String("message", rec.Message),
					zap.Duration("age", age.Truncate(time.Second)))
			}
			continue
		}

		m.counters.LineProcessed()
		m.logger.Debug("Message",
			zap.String("channel", w.channel),
			zap.String("pilot", rec.Author),
			zap.String("message", rec.Message))

		ev, ok := intel.Classify(m.classifier, rec, w.channel, w.path)
		if !ok {
			continue
		}
		intelCount++

		key := Key(w.channel, rec)
		if m.ledger.HasSeen(key) {
			m.logger.Debug("Already submitted, skipping duplicate", zap.String("channel", w.channel))
			continue
		}

		m.logger.Info("Intel detected",
			zap.String("channel", w.channel),
			zap.String("system", ev.PrimaryEntity),
			zap.String("message", rec.Message),
			zap.Float64("confidence", ev.Confidence))

		if err := m.sender.SubmitReport(ctx, models.NewIntelReport(ev)); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.counters.Error()
			m.logger.Error("Failed to submit intel",
				zap.String("channel", w.channel),
				zap.String("message", rec.Message),
				zap.Error(err))
			continue
		}

		m.ledger.MarkSeen(key, time.Now())
		m.counters.EventDelivered()
		m.logger.Info("Intel submitted", zap.String("channel", w.channel), zap.String("system", ev.PrimaryEntity))
	}

	m.logger.Debug("Processed lines",
		zap.String("channel", w.channel),
		zap.Int("lines", len(lines)),
		zap.Int("messages", parsedCount),
		zap.Int("intel", intelCount),
		zap.Bool("initial", initial))
}

func (m *Monitor) heartbeat() models.Heartbeat {
	return models.Heartbeat{
		ClientID: m.opts.ClientID,
		Pilot:    m.opts.PilotName,
		Version:  m.opts.Version,
		Platform: runtime.GOOS + "-" + runtime.GOARCH,
		Stats:    m.counters.Snapshot(time.Now(), int(m.watched.Load())),
	}
}
