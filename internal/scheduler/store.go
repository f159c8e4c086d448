package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"
)

type LeaseStatus string

const (
	StatusLeased LeaseStatus = "LEASED"
)

type Lease struct {
	RunID     string      `json:"run_id"`
	Status    LeaseStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Entry tracks the fire state of one schedule projection.
type Entry struct {
	ScheduleID string    `json:"schedule_id"`
	NextRun    time.Time `json:"next_run"`
	Lease      *Lease    `json:"lease,omitempty"`
}

type entryList struct {
	Entries map[string]*Entry `json:"entries"`
}

// Store persists per-schedule fire state (next run, lease) in a single JSON
// file under the scheduler directory.
type Store struct {
	path string
	data entryList
	mu   sync.RWMutex
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: entryList{Entries: make(map[string]*Entry)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	if err := json.Unmarshal(content, &s.data); err != nil {
		return err
	}
	if s.data.Entries == nil {
		s.data.Entries = make(map[string]*Entry)
	}
	return nil
}

func (s *Store) save() error {
	// lock held by caller
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// ShouldFire reports whether a schedule is due. The first time a schedule is
// seen its next run is computed without firing, so a fresh enrollment waits
// for its slot instead of running immediately.
func (s *Store) ShouldFire(scheduleID, spec string) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cronSchedule, err := cron.ParseStandard(spec)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("invalid cron spec: %w", err)
	}

	now := time.Now()
	entry, ok := s.data.Entries[scheduleID]
	if !ok {
		entry = &Entry{ScheduleID: scheduleID, NextRun: cronSchedule.Next(now)}
		s.data.Entries[scheduleID] = entry
		return false, entry.NextRun, s.save()
	}

	if entry.NextRun.After(now) {
		return false, entry.NextRun, nil
	}

	fireTime := entry.NextRun
	return true, fireTime, nil
}

// AcquireLease marks a schedule as in flight. Fails while a valid lease from
// another run is held.
func (s *Store) AcquireLease(scheduleID, runID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data.Entries[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %s not tracked", scheduleID)
	}

	if entry.Lease != nil && entry.Lease.Status == StatusLeased && time.Now().Before(entry.Lease.ExpiresAt) {
		return fmt.Errorf("schedule %s already leased", scheduleID)
	}

	entry.Lease = &Lease{
		RunID:     runID,
		Status:    StatusLeased,
		ExpiresAt: expiresAt,
	}
	return s.save()
}

// MarkDone releases the lease and advances the next run.
func (s *Store) MarkDone(scheduleID, runID, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data.Entries[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %s not tracked", scheduleID)
	}
	if entry.Lease == nil || entry.Lease.RunID != runID {
		return fmt.Errorf("lease mismatch for schedule %s", scheduleID)
	}

	cronSchedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec: %w", err)
	}

	entry.Lease = nil
	entry.NextRun = cronSchedule.Next(time.Now())
	return s.save()
}

// GetLease returns the lease for a schedule, nil when idle or untracked.
func (s *Store) GetLease(scheduleID string) *Lease {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data.Entries[scheduleID]
	if !ok {
		return nil
	}
	return entry.Lease
}

// ReleaseExpiredLeases clears leases past their expiry and returns how many
// were released.
func (s *Store) ReleaseExpiredLeases() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	released := 0
	for _, entry := range s.data.Entries {
		if entry.Lease != nil && now.After(entry.Lease.ExpiresAt) {
			entry.Lease = nil
			released++
		}
	}
	if released == 0 {
		return 0, nil
	}
	return released, s.save()
}

// PruneMissing drops state for schedules no longer present in the projection
// collection.
func (s *Store) PruneMissing(activeIDs map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id := range s.data.Entries {
		if _, ok := activeIDs[id]; !ok {
			delete(s.data.Entries, id)
			pruned++
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, s.save()
}

// Entries returns a snapshot of the tracked schedule state.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.data.Entries))
	for _, entry := range s.data.Entries {
		out = append(out, *entry)
	}
	return out
}
