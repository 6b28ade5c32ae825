package repo

import (
	"context"
	"errors"

	"github.com/botconsole/messaging/internal/model"
	"github.com/botconsole/messaging/internal/query"
)

// ErrNotFound reports that the backend has no record for the given id.
// It is distinct from a transport failure so callers can treat
// delete-of-missing as a no-op.
var ErrNotFound = errors.New("message not found")

// BatchFailure correlates a failed batch entry back to its input index.
type BatchFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResult is the outcome of a batch send. Partial failure is legal:
// Total counts accepted entries only, and Failures carries the rest.
// A batch with failures is a result, not an error.
type BatchResult struct {
	Total    int             `json:"total"`
	Results  []model.Message `json:"results"`
	Failures []BatchFailure  `json:"failures,omitempty"`
}

type MessageRepository interface {
	List(ctx context.Context, p query.Pagination, f query.Filter) ([]model.Message, error)
	Get(ctx context.Context, id string) (*model.Message, error)
	Stats(ctx context.Context) (*model.MessageStats, error)
	Create(ctx context.Context, data model.CreateMessageData) (*model.Message, error)
	Send(ctx context.Context, data model.SendMessageData) (*model.Message, error)
	SendBatch(ctx context.Context, msgs []model.SendMessageData) (*BatchResult, error)
	Delete(ctx context.Context, id string) error
}
