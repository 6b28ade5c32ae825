package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/botconsole/messaging/internal/cache"
	"github.com/botconsole/messaging/internal/model"
	"github.com/botconsole/messaging/internal/query"
	"github.com/botconsole/messaging/internal/repo"
	"github.com/botconsole/messaging/internal/service"
)

// fakeRepo is a scriptable MessageRepository.
type fakeRepo struct {
	listFn   func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error)
	getFn    func(ctx context.Context, id string) (*model.Message, error)
	statsFn  func(ctx context.Context) (*model.MessageStats, error)
	createFn func(ctx context.Context, data model.CreateMessageData) (*model.Message, error)
	sendFn   func(ctx context.Context, data model.SendMessageData) (*model.Message, error)
	batchFn  func(ctx context.Context, msgs []model.SendMessageData) (*repo.BatchResult, error)
	deleteFn func(ctx context.Context, id string) error
}

var _ repo.MessageRepository = (*fakeRepo)(nil)

func (f *fakeRepo) List(ctx context.Context, p query.Pagination, fl query.Filter) ([]model.Message, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, p, fl)
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	if f.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.getFn(ctx, id)
}

func (f *fakeRepo) Stats(ctx context.Context) (*model.MessageStats, error) {
	if f.statsFn == nil {
		return &model.MessageStats{}, nil
	}
	return f.statsFn(ctx)
}

func (f *fakeRepo) Create(ctx context.Context, data model.CreateMessageData) (*model.Message, error) {
	if f.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.createFn(ctx, data)
}

func (f *fakeRepo) Send(ctx context.Context, data model.SendMessageData) (*model.Message, error) {
	if f.sendFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.sendFn(ctx, data)
}

func (f *fakeRepo) SendBatch(ctx context.Context, msgs []model.SendMessageData) (*repo.BatchResult, error) {
	if f.batchFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.batchFn(ctx, msgs)
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return errors.New("not implemented")
	}
	return f.deleteFn(ctx, id)
}

func newService(r repo.MessageRepository) *service.MessageService {
	return service.NewMessageService(r, cache.NewMemoryCache(), time.Minute)
}

func TestRefreshMessages_PopulatesReadSurface(t *testing.T) {
	t.Parallel()

	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			return []model.Message{
				{ID: "m1", Content: "hi", Type: model.TypeText, Status: model.Sent},
			}, nil
		},
	}
	svc := newService(r)

	if got := svc.Messages(); len(got) != 0 {
		t.Fatalf("expected empty page before first load, got %+v", got)
	}

	if err := svc.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("RefreshMessages() error: %v", err)
	}

	got := svc.Messages()
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("unexpected messages: %+v", got)
	}
	if svc.MessagesErr() != nil {
		t.Fatalf("unexpected error flag: %v", svc.MessagesErr())
	}
	if svc.MessagesLoading() {
		t.Fatalf("expected loading flag cleared")
	}
}

func TestRefreshMessages_PassesCurrentParams(t *testing.T) {
	t.Parallel()

	var gotFilter query.Filter
	var gotPagination query.Pagination

	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			gotPagination = p
			gotFilter = f
			return nil, nil
		},
	}
	svc := newService(r)

	status := model.Failed
	if err := svc.UpdateFilters(context.Background(), query.FilterPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateFilters() error: %v", err)
	}

	if gotFilter.Status == nil || *gotFilter.Status != model.Failed {
		t.Fatalf("expected status filter passed to repo, got %+v", gotFilter)
	}
	if gotPagination.Offset != 0 || gotPagination.Limit != 20 {
		t.Fatalf("expected first default page, got %+v", gotPagination)
	}
}

func TestRefreshMessages_SupersededResponseDiscarded(t *testing.T) {
	t.Parallel()

	releaseA := make(chan struct{})
	aDispatched := make(chan struct{})

	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			if f.BotID != nil && *f.BotID == "bot-a" {
				close(aDispatched)
				<-releaseA
				return []model.Message{{ID: "from-a"}}, nil
			}
			return []model.Message{{ID: "from-b"}}, nil
		},
	}
	svc := newService(r)

	botA := "bot-a"
	botB := "bot-b"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = svc.UpdateFilters(context.Background(), query.FilterPatch{BotID: &botA})
	}()

	// Wait until A is in flight, then issue B and let it complete first.
	<-aDispatched
	if err := svc.UpdateFilters(context.Background(), query.FilterPatch{BotID: &botB}); err != nil {
		t.Fatalf("UpdateFilters(B) error: %v", err)
	}

	// A resolves last, but it was superseded: B's result must win.
	close(releaseA)
	wg.Wait()

	got := svc.Messages()
	if len(got) != 1 || got[0].ID != "from-b" {
		t.Fatalf("expected messages from filter B, got %+v", got)
	}
}

func TestRefreshMessages_FailureKeepsStaleData(t *testing.T) {
	t.Parallel()

	var fail bool
	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			if fail {
				return nil, errors.New("backend unavailable")
			}
			return []model.Message{{ID: "m1"}}, nil
		},
	}
	svc := newService(r)

	if err := svc.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("RefreshMessages() error: %v", err)
	}

	fail = true
	err := svc.RefreshMessages(context.Background())
	if err == nil {
		t.Fatalf("expected error from failed refresh")
	}

	// Prior data stays visible, error flag is set.
	if got := svc.Messages(); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected stale page to remain visible, got %+v", got)
	}
	if svc.MessagesErr() == nil {
		t.Fatalf("expected error flag set")
	}

	// A later success clears the flag.
	fail = false
	if err := svc.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("RefreshMessages() error: %v", err)
	}
	if svc.MessagesErr() != nil {
		t.Fatalf("expected error flag cleared, got %v", svc.MessagesErr())
	}
}

func TestRefreshMessages_ServesCachedPageWhenBackendDown(t *testing.T) {
	t.Parallel()

	c := cache.NewMemoryCache()

	raw, _ := json.Marshal([]model.Message{{ID: "cached"}})
	key := cache.ListKey(query.NewState().Key())
	if err := c.Set(context.Background(), key, raw, time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	svc := service.NewMessageService(r, c, time.Minute)

	if err := svc.RefreshMessages(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}

	// The cached page was applied before the revalidation failed.
	if got := svc.Messages(); len(got) != 1 || got[0].ID != "cached" {
		t.Fatalf("expected cached page visible, got %+v", got)
	}
}

func TestRefreshStats_IndependentOfMessages(t *testing.T) {
	t.Parallel()

	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			return nil, errors.New("list down")
		},
		statsFn: func(ctx context.Context) (*model.MessageStats, error) {
			return &model.MessageStats{Total: 9, Pending: 2}, nil
		},
	}
	svc := newService(r)

	if svc.Stats() != nil {
		t.Fatalf("expected nil stats before first load")
	}

	_ = svc.RefreshMessages(context.Background())
	if err := svc.RefreshStats(context.Background()); err != nil {
		t.Fatalf("RefreshStats() error: %v", err)
	}

	// List failed, stats succeeded; the flags do not bleed into each other.
	if svc.MessagesErr() == nil {
		t.Fatalf("expected messages error flag")
	}
	if svc.StatsErr() != nil {
		t.Fatalf("unexpected stats error: %v", svc.StatsErr())
	}
	if st := svc.Stats(); st == nil || st.Total != 9 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

// storeRepo emulates the backend's own record so write-then-read
// coherence can be checked end to end.
type storeRepo struct {
	mu       sync.Mutex
	seq      int
	messages []model.Message
}

var _ repo.MessageRepository = (*storeRepo)(nil)

func (s *storeRepo) List(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, m := range s.messages {
		if f.Status != nil && m.Status != *f.Status {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *storeRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, repo.ErrNotFound)
}

func (s *storeRepo) Stats(ctx context.Context) (*model.MessageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &model.MessageStats{Total: int64(len(s.messages))}
	for _, m := range s.messages {
		switch m.Status {
		case model.Pending:
			st.Pending++
		case model.Sent:
			st.Sent++
		case model.Failed:
			st.Failed++
		case model.Delivered:
			st.Delivered++
		}
	}
	return st, nil
}

func (s *storeRepo) Create(ctx context.Context, data model.CreateMessageData) (*model.Message, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if data.Type == "" {
		data.Type = model.TypeText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	m := model.Message{
		ID:      fmt.Sprintf("m%d", s.seq),
		BotID:   data.BotID,
		Content: data.Content,
		Type:    data.Type,
		Status:  model.Pending,
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *storeRepo) Send(ctx context.Context, data model.SendMessageData) (*model.Message, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	to := data.To
	m := model.Message{
		ID:       fmt.Sprintf("m%d", s.seq),
		ToNumber: &to,
		Content:  data.Content,
		Type:     model.TypeText,
		Status:   model.Sent,
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *storeRepo) SendBatch(ctx context.Context, msgs []model.SendMessageData) (*repo.BatchResult, error) {
	res := &repo.BatchResult{}
	for i, d := range msgs {
		m, err := s.Send(ctx, d)
		if err != nil {
			res.Failures = append(res.Failures, repo.BatchFailure{Index: i, Reason: err.Error()})
			continue
		}
		res.Total++
		res.Results = append(res.Results, *m)
	}
	return res, nil
}

func (s *storeRepo) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", id, repo.ErrNotFound)
}

func TestWrites_InvalidateAndRefetch(t *testing.T) {
	t.Parallel()

	store := &storeRepo{}
	svc := newService(store)
	ctx := context.Background()

	msg, err := svc.CreateMessage(ctx, model.CreateMessageData{BotID: "bot1", Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if msg.Status != model.Pending || msg.Type != model.TypeText {
		t.Fatalf("unexpected created message: %+v", msg)
	}

	// The read surface reflects the write without an explicit refresh.
	if got := svc.Messages(); len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("expected page refetched after create, got %+v", got)
	}
	if st := svc.Stats(); st == nil || st.Total != 1 || st.Pending != 1 {
		t.Fatalf("expected stats refetched after create, got %+v", st)
	}

	sent, err := svc.SendMessage(ctx, model.SendMessageData{To: "+5511999999999", Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if sent.Status != model.Pending && sent.Status != model.Sent {
		t.Fatalf("send must not return delivered, got %q", sent.Status)
	}

	before := svc.Stats()

	if err := svc.DeleteMessage(ctx, sent.ID); err != nil {
		t.Fatalf("DeleteMessage() error: %v", err)
	}

	for _, m := range svc.Messages() {
		if m.ID == sent.ID {
			t.Fatalf("deleted message still listed: %+v", m)
		}
	}
	after := svc.Stats()
	if after.Total != before.Total-1 {
		t.Fatalf("expected total to decrease by 1, got %d -> %d", before.Total, after.Total)
	}

	// The record is gone for good.
	if _, err := svc.GetMessage(ctx, sent.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestUpdateFilters_NarrowsAndClearRestores(t *testing.T) {
	t.Parallel()

	store := &storeRepo{}
	svc := newService(store)
	ctx := context.Background()

	if _, err := svc.CreateMessage(ctx, model.CreateMessageData{BotID: "bot1", Content: "draft"}); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if _, err := svc.SendMessage(ctx, model.SendMessageData{To: "+361", Content: "hi"}); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	status := model.Sent
	if err := svc.UpdateFilters(ctx, query.FilterPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateFilters() error: %v", err)
	}

	got := svc.Messages()
	if len(got) != 1 {
		t.Fatalf("expected only sent messages, got %+v", got)
	}
	for _, m := range got {
		if m.Status != model.Sent {
			t.Fatalf("filter leaked status %q", m.Status)
		}
	}

	if err := svc.ClearFilters(ctx); err != nil {
		t.Fatalf("ClearFilters() error: %v", err)
	}
	if got := svc.Messages(); len(got) != 2 {
		t.Fatalf("expected full unfiltered page after clear, got %+v", got)
	}
	if svc.Pagination().Offset != 0 {
		t.Fatalf("expected first page after clear, got offset %d", svc.Pagination().Offset)
	}
}

func TestDeleteMessage_MissingIdIsSuccess(t *testing.T) {
	t.Parallel()

	store := &storeRepo{}
	svc := newService(store)

	if err := svc.DeleteMessage(context.Background(), "never-existed"); err != nil {
		t.Fatalf("expected delete of missing id to succeed, got: %v", err)
	}
}

func TestSendMessage_FailureDoesNotTouchReadState(t *testing.T) {
	t.Parallel()

	listCalls := 0
	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			listCalls++
			return []model.Message{{ID: "m1"}}, nil
		},
		sendFn: func(ctx context.Context, data model.SendMessageData) (*model.Message, error) {
			return nil, errors.New("provider rejected the message")
		},
	}
	svc := newService(r)

	if err := svc.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("RefreshMessages() error: %v", err)
	}

	_, err := svc.SendMessage(context.Background(), model.SendMessageData{To: "+361", Content: "hi"})
	if err == nil {
		t.Fatalf("expected send error")
	}

	// No optimistic update and no refetch on a failed write.
	if listCalls != 1 {
		t.Fatalf("expected no refetch after failed write, got %d list calls", listCalls)
	}
	if got := svc.Messages(); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected read state untouched, got %+v", got)
	}
	if svc.SendPending() {
		t.Fatalf("expected send pending flag cleared")
	}
}

func TestSendBatchMessages_NothingAcceptedSkipsRefetch(t *testing.T) {
	t.Parallel()

	listCalls := 0
	r := &fakeRepo{
		listFn: func(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
			listCalls++
			return nil, nil
		},
		batchFn: func(ctx context.Context, msgs []model.SendMessageData) (*repo.BatchResult, error) {
			return &repo.BatchResult{
				Failures: []repo.BatchFailure{{Index: 0, Reason: "invalid to: must not be empty"}},
			}, nil
		},
	}
	svc := newService(r)

	res, err := svc.SendBatchMessages(context.Background(), []model.SendMessageData{{Content: "a"}})
	if err != nil {
		t.Fatalf("SendBatchMessages() error: %v", err)
	}
	if res.Total != 0 || len(res.Failures) != 1 {
		t.Fatalf("unexpected batch result: %+v", res)
	}
	if listCalls != 0 {
		t.Fatalf("expected no refetch when nothing was accepted, got %d list calls", listCalls)
	}
}

func TestSendBatchMessages_PartialFailureRefetches(t *testing.T) {
	t.Parallel()

	store := &storeRepo{}
	svc := newService(store)

	res, err := svc.SendBatchMessages(context.Background(), []model.SendMessageData{
		{To: "", Content: "a"},
		{To: "+5511999999999", Content: "b"},
	})
	if err != nil {
		t.Fatalf("SendBatchMessages() error: %v", err)
	}

	if res.Total != 1 {
		t.Fatalf("expected total=1, got %d", res.Total)
	}
	if len(res.Results) != 1 || len(res.Failures) != 1 {
		t.Fatalf("unexpected batch result: %+v", res)
	}
	if res.Failures[0].Index != 0 {
		t.Fatalf("expected failure correlated to input 0, got %+v", res.Failures)
	}

	if got := svc.Messages(); len(got) != 1 {
		t.Fatalf("expected accepted message visible after refetch, got %+v", got)
	}
}
