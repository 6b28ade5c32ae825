package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/botconsole/messaging/internal/cache"
	"github.com/botconsole/messaging/internal/model"
	"github.com/botconsole/messaging/internal/query"
	"github.com/botconsole/messaging/internal/repo"
)

const DefaultCacheTTL = time.Minute

// MessageService is the single surface the console views talk to. It
// composes the repository, the keyed read cache, and the filter state
// into one read/write object.
//
// Reads serve cached data immediately and revalidate in the background
// of the caller; a read that resolves after a later-issued read with
// different parameters is discarded (generation guard), so a stale
// response never overwrites the current view. Read failures keep the
// previous data visible.
//
// Writes never patch local state: on success they invalidate both cache
// groups and refetch, because aggregate counts cannot be recomputed from
// a partial page.
type MessageService struct {
	repo     repo.MessageRepository
	cache    cache.QueryCache
	cacheTTL time.Duration

	mu    sync.Mutex
	state *query.State

	messages    []model.Message
	messagesErr error
	listGen     uint64
	listBusy    int

	stats     *model.MessageStats
	statsErr  error
	statsGen  uint64
	statsBusy int

	creating atomic.Int32
	sending  atomic.Int32
	batching atomic.Int32
	deleting atomic.Int32
}

func NewMessageService(r repo.MessageRepository, c cache.QueryCache, cacheTTL time.Duration) *MessageService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &MessageService{
		repo:     r,
		cache:    c,
		cacheTTL: cacheTTL,
		state:    query.NewState(),
	}
}

// Messages returns the current page; empty while the first load is in
// flight, stale-but-present after a failed refresh.
func (s *MessageService) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageService) MessagesLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listBusy > 0
}

func (s *MessageService) MessagesErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesErr
}

// Stats returns the last aggregate snapshot, or nil while loading.
func (s *MessageService) Stats() *model.MessageStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats == nil {
		return nil
	}
	st := *s.stats
	return &st
}

func (s *MessageService) StatsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsBusy > 0
}

func (s *MessageService) StatsErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsErr
}

func (s *MessageService) CreatePending() bool { return s.creating.Load() > 0 }
func (s *MessageService) SendPending() bool   { return s.sending.Load() > 0 }
func (s *MessageService) BatchPending() bool  { return s.batching.Load() > 0 }
func (s *MessageService) DeletePending() bool { return s.deleting.Load() > 0 }

func (s *MessageService) Filter() query.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Filter()
}

func (s *MessageService) Pagination() query.Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Pagination()
}

// UpdateFilters merges the patch (resetting the page offset) and
// refetches the list with the new parameters.
func (s *MessageService) UpdateFilters(ctx context.Context, p query.FilterPatch) error {
	s.mu.Lock()
	s.state.UpdateFilters(p)
	s.mu.Unlock()
	return s.RefreshMessages(ctx)
}

func (s *MessageService) UpdatePagination(ctx context.Context, p query.PaginationPatch) error {
	s.mu.Lock()
	s.state.UpdatePagination(p)
	s.mu.Unlock()
	return s.RefreshMessages(ctx)
}

func (s *MessageService) ClearFilters(ctx context.Context) error {
	s.mu.Lock()
	s.state.Clear()
	s.mu.Unlock()
	return s.RefreshMessages(ctx)
}

// RefreshMessages refetches the current page. The parameters are
// snapshotted at dispatch; if another refresh is issued before this one
// resolves, the older result is discarded instead of applied.
func (s *MessageService) RefreshMessages(ctx context.Context) error {
	s.mu.Lock()
	p := s.state.Pagination()
	f := s.state.Filter()
	key := cache.ListKey(s.state.Key())
	s.listGen++
	gen := s.listGen
	s.listBusy++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.listBusy--
		s.mu.Unlock()
	}()

	// Stale-while-revalidate: show the cached page for this exact tuple
	// right away, then refetch regardless.
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached []model.Message
		if err := json.Unmarshal(raw, &cached); err == nil {
			s.mu.Lock()
			if gen == s.listGen {
				s.messages = cached
			}
			s.mu.Unlock()
		}
	}

	msgs, err := s.repo.List(ctx, p, f)

	s.mu.Lock()
	if gen != s.listGen {
		s.mu.Unlock()
		slog.Debug("discarding superseded list response", "key", key)
		return nil
	}
	if err != nil {
		// Keep the previous page visible; a dashboard should not blank
		// itself on a transient read failure.
		s.messagesErr = err
		s.mu.Unlock()
		return err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	s.messages = msgs
	s.messagesErr = nil
	s.mu.Unlock()

	if raw, err := json.Marshal(msgs); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			slog.Warn("failed to cache list result", "key", key, "error", err)
		}
	}
	return nil
}

// RefreshStats refetches the aggregate snapshot, with the same
// superseded-response handling as RefreshMessages.
func (s *MessageService) RefreshStats(ctx context.Context) error {
	s.mu.Lock()
	s.statsGen++
	gen := s.statsGen
	s.statsBusy++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.statsBusy--
		s.mu.Unlock()
	}()

	key := cache.StatsKey()
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached model.MessageStats
		if err := json.Unmarshal(raw, &cached); err == nil {
			s.mu.Lock()
			if gen == s.statsGen {
				s.stats = &cached
			}
			s.mu.Unlock()
		}
	}

	stats, err := s.repo.Stats(ctx)

	s.mu.Lock()
	if gen != s.statsGen {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.statsErr = err
		s.mu.Unlock()
		return err
	}
	s.stats = stats
	s.statsErr = nil
	s.mu.Unlock()

	if raw, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			slog.Warn("failed to cache stats result", "error", err)
		}
	}
	return nil
}

// GetMessage is an uncached passthrough for detail views.
func (s *MessageService) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return s.repo.Get(ctx, id)
}

// CreateMessage persists a draft without dispatching it.
func (s *MessageService) CreateMessage(ctx context.Context, data model.CreateMessageData) (*model.Message, error) {
	s.creating.Add(1)
	defer s.creating.Add(-1)

	msg, err := s.repo.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	s.invalidateAndRefetch(ctx)
	return msg, nil
}

// SendMessage dispatches one message. The call is never retried here;
// a duplicate send is a correctness violation, not a performance issue.
func (s *MessageService) SendMessage(ctx context.Context, data model.SendMessageData) (*model.Message, error) {
	s.sending.Add(1)
	defer s.sending.Add(-1)

	msg, err := s.repo.Send(ctx, data)
	if err != nil {
		return nil, err
	}
	s.invalidateAndRefetch(ctx)
	return msg, nil
}

// SendBatchMessages dispatches N independent messages. Partial failure
// comes back as a result, never as an error; the accepted count is in
// BatchResult.Total.
func (s *MessageService) SendBatchMessages(ctx context.Context, msgs []model.SendMessageData) (*repo.BatchResult, error) {
	s.batching.Add(1)
	defer s.batching.Add(-1)

	res, err := s.repo.SendBatch(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if res.Total > 0 {
		s.invalidateAndRefetch(ctx)
	}
	return res, nil
}

// DeleteMessage removes a message. Deleting an id the backend no longer
// knows counts as success, so delete is idempotent for the caller.
func (s *MessageService) DeleteMessage(ctx context.Context, id string) error {
	s.deleting.Add(1)
	defer s.deleting.Add(-1)

	if err := s.repo.Delete(ctx, id); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	s.invalidateAndRefetch(ctx)
	return nil
}

// invalidateAndRefetch is the cache-coherence contract after any
// successful write: drop both groups, then refetch list and stats. A
// refetch failure does not fail the write; it surfaces through the read
// error flags instead.
func (s *MessageService) invalidateAndRefetch(ctx context.Context) {
	if err := s.cache.InvalidateGroup(ctx, cache.GroupLists); err != nil {
		slog.Warn("failed to invalidate list cache", "error", err)
	}
	if err := s.cache.InvalidateGroup(ctx, cache.GroupStats); err != nil {
		slog.Warn("failed to invalidate stats cache", "error", err)
	}

	if err := s.RefreshMessages(ctx); err != nil {
		slog.Warn("post-write list refetch failed", "error", err)
	}
	if err := s.RefreshStats(ctx); err != nil {
		slog.Warn("post-write stats refetch failed", "error", err)
	}
}
