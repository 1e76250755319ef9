package tailer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

var testStart = time.Date(2025, 9, 7, 16, 0, 0, 0, time.UTC)

// utf16le encodes s the way the game client writes chat logs
func utf16le(t *testing.T, s string) []byte {
	t.Helper()
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func chatLine(offset time.Duration, author, message string) string {
	return fmt.Sprintf("[ %s ] %s > %s\r\n", testStart.Add(offset).Format("2006.01.02 15:04:05"), author, message)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func appendFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

type fakeSender struct {
	mu         sync.Mutex
	reports    []models.IntelReport
	heartbeats []models.Heartbeat
	failures   int // number of upcoming report submissions to fail
}

func (f *fakeSender) SubmitReport(ctx context.Context, report models.IntelReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return &APIError{StatusCode: 503, Body: "unavailable"}
	}
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeSender) SubmitHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, hb)
	return nil
}

func (f *fakeSender) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeSender) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeSender) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func (f *fakeSender) snapshot() []models.IntelReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.IntelReport(nil), f.reports...)
}

// fakeWatcher forwards whatever the test pushes
type fakeWatcher struct {
	events chan Event
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan Event, 16)}
}

func (f *fakeWatcher) Watch(ctx context.Context, out chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (f *fakeWatcher) push(op Op, path string) {
	f.events <- Event{Op: op, Path: path}
}
