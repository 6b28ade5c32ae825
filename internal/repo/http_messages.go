package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/botconsole/messaging/internal/model"
	"github.com/botconsole/messaging/internal/query"
	"github.com/botconsole/messaging/internal/transport"
)

const basePath = "/api/messages"

// HTTPMessageRepo speaks the backend's message resource. All
// persistence lives behind the REST surface; this type only translates
// between typed calls and wire payloads.
type HTTPMessageRepo struct {
	client *transport.Client
}

func NewHTTPMessageRepo(client *transport.Client) *HTTPMessageRepo {
	return &HTTPMessageRepo{client: client}
}

var _ MessageRepository = (*HTTPMessageRepo)(nil)

func (r *HTTPMessageRepo) List(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error) {
	var out []model.Message
	if err := r.client.Get(ctx, basePath, query.Params(p, f), &out); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return out, nil
}

func (r *HTTPMessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	var out model.Message
	err := r.client.Get(ctx, basePath+"/"+url.PathEscape(id), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return &out, nil
}

func (r *HTTPMessageRepo) Stats(ctx context.Context) (*model.MessageStats, error) {
	var out model.MessageStats
	if err := r.client.Get(ctx, basePath+"/stats/overview", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get message stats: %w", err)
	}
	return &out, nil
}

func (r *HTTPMessageRepo) Create(ctx context.Context, data model.CreateMessageData) (*model.Message, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if data.Type == "" {
		data.Type = model.TypeText
	}

	var out model.Message
	if err := r.client.Post(ctx, basePath, nil, data, &out); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &out, nil
}

// Send persists and dispatches a single message. The request carries a
// client-generated idempotency key so the backend can collapse an
// operator-issued duplicate; this layer still never retries the call.
func (r *HTTPMessageRepo) Send(ctx context.Context, data model.SendMessageData) (*model.Message, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	var out model.Message
	if err := r.client.Post(ctx, basePath+"/send", idempotencyHeader(), data, &out); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &out, nil
}

// SendBatch dispatches N independent messages in one call. Entries that
// fail local validation never reach the wire; they are reported as
// per-index failures alongside anything the backend rejected. Total
// reflects accepted entries only.
func (r *HTTPMessageRepo) SendBatch(ctx context.Context, msgs []model.SendMessageData) (*BatchResult, error) {
	if len(msgs) == 0 {
		return &BatchResult{}, nil
	}

	result := &BatchResult{}

	valid := make([]model.SendMessageData, 0, len(msgs))
	wireIndex := make([]int, 0, len(msgs))
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			result.Failures = append(result.Failures, BatchFailure{Index: i, Reason: err.Error()})
			continue
		}
		valid = append(valid, m)
		wireIndex = append(wireIndex, i)
	}

	if len(valid) == 0 {
		return result, nil
	}

	var wire struct {
		Total    int             `json:"total"`
		Results  []model.Message `json:"results"`
		Failures []BatchFailure  `json:"failures"`
	}
	body := map[string]any{"messages": valid}
	if err := r.client.Post(ctx, basePath+"/batch", idempotencyHeader(), body, &wire); err != nil {
		return nil, fmt.Errorf("failed to send batch: %w", err)
	}

	result.Total = wire.Total
	result.Results = wire.Results

	// Backend failure indexes refer to the wire payload; translate them
	// back to the caller's input positions.
	for _, f := range wire.Failures {
		idx := f.Index
		if idx >= 0 && idx < len(wireIndex) {
			idx = wireIndex[idx]
		}
		result.Failures = append(result.Failures, BatchFailure{Index: idx, Reason: f.Reason})
	}
	return result, nil
}

// Delete removes a message permanently. Deleting an id the backend no
// longer knows returns ErrNotFound, which callers may treat as success.
func (r *HTTPMessageRepo) Delete(ctx context.Context, id string) error {
	err := r.client.Delete(ctx, basePath+"/"+url.PathEscape(id))
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var te *transport.Error
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}

func idempotencyHeader() http.Header {
	h := http.Header{}
	h.Set("Idempotency-Key", uuid.NewString())
	return h
}
