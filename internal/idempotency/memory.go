package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepInterval spaces out the scans for expired records.
const sweepInterval = time.Minute

// MemoryStore keeps records in process. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	record, ok := s.records[key]
	if !ok || !now.Before(record.ExpiresAt) {
		record = newPending(key, fingerprint, now, ttl)
		s.records[key] = record
		return Reservation{State: ReservationNew, Record: record}, nil
	}
	return reservationFor(record, fingerprint)
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		record = newPending(key, fingerprint, now, ttl)
	} else if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[key] = completed(record, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// sweepLocked drops expired records at most once per sweepInterval.
func (s *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, key)
		}
	}
}

