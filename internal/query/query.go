package query

import (
	"net/url"
	"strconv"
	"time"

	"github.com/botconsole/messaging/internal/model"
)

const (
	DefaultLimit   = 20
	DefaultOrderBy = "created_at"
	DefaultOrder   = "desc"
)

// Filter is an optional conjunction over message fields. Nil fields
// impose no constraint and are omitted from the query string.
type Filter struct {
	BotID     *string
	Type      *model.MessageType
	Status    *model.Status
	StartDate *time.Time
	EndDate   *time.Time
}

// FilterPatch carries partial filter updates. A nil field leaves the
// current value untouched; Clear* unsets it.
type FilterPatch struct {
	BotID     *string
	Type      *model.MessageType
	Status    *model.Status
	StartDate *time.Time
	EndDate   *time.Time

	ClearBotID     bool
	ClearType      bool
	ClearStatus    bool
	ClearStartDate bool
	ClearEndDate   bool
}

type Pagination struct {
	Limit   int
	Offset  int
	OrderBy string
	Order   string
}

type PaginationPatch struct {
	Limit   *int
	Offset  *int
	OrderBy *string
	Order   *string
}

func DefaultPagination() Pagination {
	return Pagination{
		Limit:   DefaultLimit,
		Offset:  0,
		OrderBy: DefaultOrderBy,
		Order:   DefaultOrder,
	}
}

// State holds the current filter predicate and page window. It performs
// no I/O; it only derives the parameters the repository's List consumes.
type State struct {
	filter     Filter
	pagination Pagination
}

func NewState() *State {
	return &State{pagination: DefaultPagination()}
}

func (s *State) Filter() Filter         { return s.filter }
func (s *State) Pagination() Pagination { return s.pagination }

// UpdateFilters merges the patch into the predicate and resets the
// offset to 0: changing the filter invalidates the current page.
func (s *State) UpdateFilters(p FilterPatch) {
	if p.BotID != nil {
		s.filter.BotID = p.BotID
	}
	if p.Type != nil {
		s.filter.Type = p.Type
	}
	if p.Status != nil {
		s.filter.Status = p.Status
	}
	if p.StartDate != nil {
		s.filter.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		s.filter.EndDate = p.EndDate
	}

	if p.ClearBotID {
		s.filter.BotID = nil
	}
	if p.ClearType {
		s.filter.Type = nil
	}
	if p.ClearStatus {
		s.filter.Status = nil
	}
	if p.ClearStartDate {
		s.filter.StartDate = nil
	}
	if p.ClearEndDate {
		s.filter.EndDate = nil
	}

	s.pagination.Offset = 0
}

// UpdatePagination merges the patch without touching the filter.
func (s *State) UpdatePagination(p PaginationPatch) {
	if p.Limit != nil && *p.Limit > 0 {
		s.pagination.Limit = *p.Limit
	}
	if p.Offset != nil && *p.Offset >= 0 {
		s.pagination.Offset = *p.Offset
	}
	if p.OrderBy != nil && *p.OrderBy != "" {
		s.pagination.OrderBy = *p.OrderBy
	}
	if p.Order != nil && (*p.Order == "asc" || *p.Order == "desc") {
		s.pagination.Order = *p.Order
	}
}

// Clear restores both the predicate and the window to defaults.
func (s *State) Clear() {
	s.filter = Filter{}
	s.pagination = DefaultPagination()
}

// Params renders the query string parameters for the list endpoint.
// Absent filter fields are omitted, never sent as empty strings.
func (s *State) Params() url.Values {
	return Params(s.pagination, s.filter)
}

func Params(p Pagination, f Filter) url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("offset", strconv.Itoa(p.Offset))
	v.Set("orderBy", p.OrderBy)
	v.Set("order", p.Order)

	if f.BotID != nil {
		v.Set("bot_id", *f.BotID)
	}
	if f.Type != nil {
		v.Set("type", string(*f.Type))
	}
	if f.Status != nil {
		v.Set("status", string(*f.Status))
	}
	if f.StartDate != nil {
		v.Set("startDate", f.StartDate.UTC().Format(time.RFC3339))
	}
	if f.EndDate != nil {
		v.Set("endDate", f.EndDate.UTC().Format(time.RFC3339))
	}
	return v
}

// Key renders the canonical form of the full (pagination, filter) tuple.
// Encode sorts by parameter name, so equal tuples always produce equal
// keys regardless of how they were built.
func (s *State) Key() string {
	return s.Params().Encode()
}
