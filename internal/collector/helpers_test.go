package collector

import (
	"context"
	"sync"

	"github.com/oicur0t/intelmon/pkg/models"
)

type memoryStore struct {
	mu         sync.Mutex
	reports    map[string][]models.IntelReport
	heartbeats map[string]models.Heartbeat
	err        error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		reports:    make(map[string][]models.IntelReport),
		heartbeats: make(map[string]models.Heartbeat),
	}
}

func (s *memoryStore) InsertReport(ctx context.Context, report models.IntelReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	coll := CollectionName("intel_", report.Channel)
	for _, r := range s.reports[coll] {
		if r.Timestamp == report.Timestamp && r.Pilot == report.Pilot && r.Intel == report.Intel {
			return ErrDuplicateReport
		}
	}
	s.reports[coll] = append(s.reports[coll], report)
	return nil
}

func (s *memoryStore) UpsertHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.heartbeats[hb.ClientID] = hb
	return nil
}

func (s *memoryStore) collection(name string) []models.IntelReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.IntelReport(nil), s.reports[name]...)
}

func (s *memoryStore) heartbeat(id string) (models.Heartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.heartbeats[id]
	return hb, ok
}
