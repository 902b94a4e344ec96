package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gratialabs/gratia/internal/entity"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the authoritative value of an entity from the upstream API.
type Fetcher interface {
	FetchEntity(ctx context.Context, kind entity.Kind, id entity.ID) (any, error)
}

// RemoteCall performs the network write confirming a mutation. It returns the
// authoritative value from the response, or nil when the response carries only
// a success indicator.
type RemoteCall func(ctx context.Context) (any, error)

// SynchronizerConfig bundles the collaborators composed by the facade.
type SynchronizerConfig struct {
	Cache    *Cache
	Ledger   *Ledger
	Channel  *Channel
	Fetcher  Fetcher
	FreshTTL time.Duration
	Logger   *zap.Logger
}

// Synchronizer is the single entry point fragments use to read and mutate
// entities: read-through cache with request de-duplication on the read path,
// optimistic apply-then-confirm-or-rollback on the write path, and an event
// emission on every committed change.
type Synchronizer struct {
	cache    *Cache
	ledger   *Ledger
	channel  *Channel
	fetcher  Fetcher
	freshTTL time.Duration
	logger   *zap.Logger

	flight singleflight.Group

	mu         sync.Mutex
	generation uint64
}

// NewSynchronizer validates the configuration and constructs the facade.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Cache == nil {
		return nil, newEngineError(opSynchronizerNew, "missing_cache", errMissingCache)
	}
	if cfg.Ledger == nil {
		return nil, newEngineError(opSynchronizerNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Channel == nil {
		return nil, newEngineError(opSynchronizerNew, "missing_channel", errMissingChannel)
	}
	if cfg.Fetcher == nil {
		return nil, newEngineError(opSynchronizerNew, "missing_fetcher", errMissingFetcher)
	}
	freshTTL := cfg.FreshTTL
	if freshTTL <= 0 {
		freshTTL = DefaultFreshTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		cache:    cfg.Cache,
		ledger:   cfg.Ledger,
		channel:  cfg.Channel,
		fetcher:  cfg.Fetcher,
		freshTTL: freshTTL,
		logger:   logger,
	}, nil
}

// Ensure returns the current value of the entity. A fresh cache hit answers
// without a network call. Otherwise concurrent callers for the same entity
// share one upstream fetch; the result is merged into the cache and broadcast
// so fragments holding a stale copy refresh. A failed fetch leaves any stale
// cached value in place and surfaces the error. The fetch itself is detached
// from the requester's context: a fragment torn down mid-flight must not
// abort a fetch other readers joined, and the result is still worth caching.
func (s *Synchronizer) Ensure(ctx context.Context, kind entity.Kind, id entity.ID) (any, bool, error) {
	if s.cache.IsFresh(kind, id, s.freshTTL) {
		if value, ok := s.cache.Get(kind, id); ok {
			return value, true, nil
		}
	}

	// The flight key carries the generation so readers from a new session
	// never join a fetch issued before ClearAll.
	generation := s.currentGeneration()
	flightKey := fmt.Sprintf("%d/%s/%s", generation, kind, id)
	fetchCtx := context.WithoutCancel(ctx)
	fetched, err, _ := s.flight.Do(flightKey, func() (any, error) {
		value, fetchErr := s.fetcher.FetchEntity(fetchCtx, kind, id)
		if fetchErr != nil {
			return nil, fetchErr
		}
		merged, commitErr := s.commitFetched(generation, kind, id, value)
		if commitErr != nil {
			return nil, commitErr
		}
		return merged, nil
	})
	if err != nil {
		s.logger.Warn("entity fetch failed",
			zap.String("operation", opEnsure),
			zap.String("entity_kind", kind.String()),
			zap.String("entity_id", id.String()),
			zap.Error(err))
		return nil, false, newEngineError(opEnsure, "fetch_failed", err)
	}
	return fetched, false, nil
}

// commitFetched merges a fetch result into the cache unless the session was
// cleared after the fetch started, and broadcasts the committed value.
func (s *Synchronizer) commitFetched(generation uint64, kind entity.Kind, id entity.ID, value any) (any, error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return nil, ErrSessionCleared
	}
	merged, err := s.cache.Merge(kind, id, value)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.emitChange(kind, id, merged)
	return merged, nil
}

// Mutate applies newValue speculatively, broadcasts it, records the rollback
// in the ledger, then invokes remoteCall. Success confirms the ledger entry
// and merges any authoritative response; failure rolls the cache back,
// re-broadcasts the restored value, and propagates the error. A second
// mutation on the same entity while one is outstanding is rejected with
// ErrMutationInFlight; the entity slot is reserved atomically before the
// optimistic write, so concurrent mutations cannot interleave past the guard.
func (s *Synchronizer) Mutate(ctx context.Context, kind entity.Kind, id entity.ID, newValue any, remoteCall RemoteCall) error {
	if remoteCall == nil {
		return newEngineError(opMutate, "missing_remote_call", nil)
	}

	mutationID := uuid.NewString()
	if err := s.ledger.Reserve(kind, id, mutationID); err != nil {
		return newEngineError(opMutate, "in_flight", err)
	}

	original, hadOriginal := s.cache.Get(kind, id)
	if !hadOriginal {
		original = entity.DefaultValue(kind, id)
	}

	applied, err := s.cache.Merge(kind, id, newValue)
	if err != nil {
		s.ledger.Release(kind, id, mutationID)
		return newEngineError(opMutate, "incompatible_value", err)
	}
	s.emitChange(kind, id, applied)

	record := Record{
		MutationID:    mutationID,
		Kind:          kind,
		EntityID:      id,
		OriginalValue: original,
		NewValue:      applied,
		Rollback: func(restored any) {
			s.cache.Put(kind, id, restored)
			s.emitChange(kind, id, restored)
		},
	}
	if err := s.ledger.Apply(record); err != nil {
		s.ledger.Release(kind, id, mutationID)
		return newEngineError(opMutate, "ledger_apply_failed", err)
	}

	response, err := remoteCall(ctx)
	if err != nil {
		s.ledger.Rollback(mutationID)
		s.logger.Warn("mutation rejected by upstream",
			zap.String("operation", opMutate),
			zap.String("entity_kind", kind.String()),
			zap.String("entity_id", id.String()),
			zap.Error(err))
		return newEngineError(opMutate, "remote_failed", err)
	}

	s.ledger.Confirm(mutationID)
	if response != nil {
		merged, mergeErr := s.cache.Merge(kind, id, response)
		if mergeErr != nil {
			s.logger.Error("authoritative response discarded",
				zap.String("operation", opMutate),
				zap.String("entity_kind", kind.String()),
				zap.String("entity_id", id.String()),
				zap.Error(mergeErr))
			return nil
		}
		s.emitChange(kind, id, merged)
	}
	return nil
}

// Subscribe registers a listener for one event kind; see Channel.Subscribe.
func (s *Synchronizer) Subscribe(kind entity.EventKind, listener Listener) func() {
	return s.channel.Subscribe(kind, listener)
}

// SubscribeAll registers a listener for every event kind; see Channel.SubscribeAll.
func (s *Synchronizer) SubscribeAll(listener Listener) func() {
	return s.channel.SubscribeAll(listener)
}

// Emit broadcasts an externally sourced event, such as a post-card change
// produced by the forwarding glue.
func (s *Synchronizer) Emit(event entity.Event) {
	s.channel.Emit(event)
}

// ClearAll empties the cache and ledger on session teardown and advances the
// generation so fetches started before the clear cannot repopulate the fresh
// cache with the old session's data.
func (s *Synchronizer) ClearAll() {
	s.mu.Lock()
	s.generation++
	s.cache.Clear()
	s.mu.Unlock()
	s.ledger.Clear()
}

func (s *Synchronizer) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Synchronizer) emitChange(kind entity.Kind, id entity.ID, value any) {
	if event, ok := entity.ChangeEventFor(kind, id, value); ok {
		s.channel.Emit(event)
	}
}
