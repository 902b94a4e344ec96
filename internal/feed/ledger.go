package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/gratialabs/gratia/internal/entity"
	"go.uber.org/zap"
)

// DefaultLedgerMaxAge bounds how long a speculative value may stay visible
// without confirmation before the sweep forcibly rolls it back.
const DefaultLedgerMaxAge = 30 * time.Second

var (
	errMissingMutationID = errors.New("mutation id is required")
	errMissingRollback   = errors.New("rollback callback is required")
	errDuplicateMutation = errors.New("mutation id already recorded")
)

// Record tracks one in-flight speculative mutation pending confirmation.
type Record struct {
	MutationID    string
	Kind          entity.Kind
	EntityID      entity.ID
	OriginalValue any
	NewValue      any
	AppliedAt     time.Time
	Rollback      func(original any)
}

// Ledger is the bookkeeping structure for optimistic updates. Callers apply a
// speculative value elsewhere (the cache), record it here, and later either
// confirm it on network success or roll it back on failure. The staleness
// sweep is the safety net for callers that do neither.
type Ledger struct {
	mu       sync.Mutex
	records  map[string]Record
	byEntity map[cacheKey]string
	clock    func() time.Time
	logger   *zap.Logger
}

// NewLedger constructs an empty ledger. A nil clock defaults to time.Now.
func NewLedger(clock func() time.Time, logger *zap.Logger) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		records:  make(map[string]Record),
		byEntity: make(map[cacheKey]string),
		clock:    clock,
		logger:   logger,
	}
}

// Reserve atomically claims the (kind, id) slot for the given mutation before
// its optimistic value is written anywhere. It fails with ErrMutationInFlight
// while another mutation holds the slot. The claim is released by Confirm,
// Rollback, SweepStale, Clear, or — when the record never gets applied — an
// explicit Release.
func (l *Ledger) Reserve(kind entity.Kind, id entity.ID, mutationID string) error {
	if mutationID == "" {
		return errMissingMutationID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := cacheKey{kind: kind, id: id}
	if _, exists := l.byEntity[key]; exists {
		return ErrMutationInFlight
	}
	l.byEntity[key] = mutationID
	return nil
}

// Release drops a reservation whose record was never applied. A no-op when
// the slot is held by a different mutation.
func (l *Ledger) Release(kind entity.Kind, id entity.ID, mutationID string) {
	l.mu.Lock()
	key := cacheKey{kind: kind, id: id}
	if l.byEntity[key] == mutationID {
		delete(l.byEntity, key)
	}
	l.mu.Unlock()
}

// Apply records a speculative mutation. The caller is expected to have
// reserved the entity slot and written the new value into the cache already.
func (l *Ledger) Apply(record Record) error {
	if record.MutationID == "" {
		return errMissingMutationID
	}
	if record.Rollback == nil {
		return errMissingRollback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[record.MutationID]; exists {
		return errDuplicateMutation
	}
	key := cacheKey{kind: record.Kind, id: record.EntityID}
	if owner, reserved := l.byEntity[key]; reserved && owner != record.MutationID {
		return ErrMutationInFlight
	}
	if record.AppliedAt.IsZero() {
		record.AppliedAt = l.clock()
	}
	l.records[record.MutationID] = record
	l.byEntity[key] = record.MutationID
	return nil
}

// Confirm discards the record without invoking its rollback. Returns false
// when the mutation was already confirmed or rolled back.
func (l *Ledger) Confirm(mutationID string) bool {
	l.mu.Lock()
	record, ok := l.records[mutationID]
	if ok {
		l.discardLocked(record)
	}
	l.mu.Unlock()
	return ok
}

// Rollback invokes the stored callback with the original value and discards
// the record. Returns false when the mutation was already settled, so a
// second call never double-invokes the callback. The callback runs outside
// the ledger lock and is never allowed to panic outward: a broken rollback
// must not stop the staleness sweep from processing other entries.
func (l *Ledger) Rollback(mutationID string) bool {
	l.mu.Lock()
	record, ok := l.records[mutationID]
	if ok {
		l.discardLocked(record)
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.runRollback(record)
	return true
}

// Outstanding reports whether a speculative mutation is pending for the entity.
func (l *Ledger) Outstanding(kind entity.Kind, id entity.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byEntity[cacheKey{kind: kind, id: id}]
	return ok
}

// Len reports the number of outstanding records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// SweepStale force-rolls-back every record older than maxAge and returns how
// many were evicted. These orphans have no caller awaiting them, so they are
// logged rather than surfaced.
func (l *Ledger) SweepStale(maxAge time.Duration) int {
	cutoff := l.clock().Add(-maxAge)

	l.mu.Lock()
	stale := make([]Record, 0)
	for _, record := range l.records {
		if record.AppliedAt.Before(cutoff) {
			stale = append(stale, record)
		}
	}
	for _, record := range stale {
		l.discardLocked(record)
	}
	l.mu.Unlock()

	for _, record := range stale {
		l.logger.Warn("orphaned mutation rolled back",
			zap.String("operation", opSweep),
			zap.String("mutation_id", record.MutationID),
			zap.String("entity_kind", record.Kind.String()),
			zap.String("entity_id", record.EntityID.String()))
		l.runRollback(record)
	}
	return len(stale)
}

// Clear drops every record without invoking rollbacks. Used by the session
// teardown sweep, where the cache is emptied in the same stroke.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.records = make(map[string]Record)
	l.byEntity = make(map[cacheKey]string)
	l.mu.Unlock()
}

func (l *Ledger) discardLocked(record Record) {
	delete(l.records, record.MutationID)
	key := cacheKey{kind: record.Kind, id: record.EntityID}
	if l.byEntity[key] == record.MutationID {
		delete(l.byEntity, key)
	}
}

func (l *Ledger) runRollback(record Record) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("rollback callback panicked",
				zap.String("mutation_id", record.MutationID),
				zap.String("entity_kind", record.Kind.String()),
				zap.String("entity_id", record.EntityID.String()),
				zap.Any("panic", recovered))
		}
	}()
	record.Rollback(record.OriginalValue)
}

// Sweeper runs the ledger staleness sweep on a fixed interval.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
	started  bool
	once     sync.Once
}

// NewSweeper constructs a sweeper; Start launches it and Stop shuts it down.
func NewSweeper(ledger *Ledger, interval, maxAge time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultLedgerMaxAge
	}
	if maxAge <= 0 {
		maxAge = DefaultLedgerMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic sweep goroutine.
func (s *Sweeper) Start() {
	if s.started {
		return
	}
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if evicted := s.ledger.SweepStale(s.maxAge); evicted > 0 {
					s.logger.Info("ledger sweep evicted stale mutations",
						zap.Int("evicted", evicted))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit. Safe to call more
// than once.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		close(s.stop)
	})
	if s.started {
		<-s.done
	}
}
