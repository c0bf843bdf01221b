package collector

import (
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/keyword-harvester/internal/events"
)

const defaultErrorLogSize = 100

// state is owned by one collector instance.
type state struct {
	name   string
	config map[string]any

	mu             sync.Mutex
	lastRun        time.Time
	totalCollected int64
	errs           []events.Record
	next           int
	full           bool
}

func newState(name string, config map[string]any, size int) *state {
	if size <= 0 {
		size = defaultErrorLogSize
	}
	return &state{
		name:   name,
		config: maps.Clone(config),
		errs:   make([]events.Record, size),
	}
}

func (s *state) recordError(rec events.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[s.next] = rec
	s.next = (s.next + 1) % len(s.errs)
	if s.next == 0 {
		s.full = true
	}
}

func (s *state) recordBatch(at time.Time, collected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
	if collected > 0 {
		s.totalCollected += int64(collected)
	}
}

// snapshot returns a copy with errors oldest first.
func (s *state) snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []events.Record
	if s.full {
		errs = make([]events.Record, 0, len(s.errs))
		errs = append(errs, s.errs[s.next:]...)
		errs = append(errs, s.errs[:s.next]...)
	} else {
		errs = append([]events.Record(nil), s.errs[:s.next]...)
	}
	return StateSnapshot{
		Name:           s.name,
		Config:         maps.Clone(s.config),
		LastRun:        s.lastRun,
		TotalCollected: s.totalCollected,
		Errors:         errs,
	}
}
