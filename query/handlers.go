package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-authflow/core"
)

type RedirectResultReader interface {
	GetRedirectResult(ctx context.Context) (*core.UserCredential, error)
}

type UserSessionReader interface {
	Get(ctx context.Context, uid string) (core.UserSession, error)
}

type EventLogReader interface {
	ListByEventID(ctx context.Context, eventID string) ([]core.EventRecord, error)
	ListRecent(ctx context.Context, disposition string, limit int) ([]core.EventRecord, error)
}

type GetRedirectResultQuery struct {
	reader RedirectResultReader
}

func NewGetRedirectResultQuery(reader RedirectResultReader) *GetRedirectResultQuery {
	return &GetRedirectResultQuery{reader: reader}
}

// Query returns a nil credential with a nil error when no redirect result
// exists.
func (q *GetRedirectResultQuery) Query(ctx context.Context, msg GetRedirectResultMessage) (*core.UserCredential, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: redirect result reader is required")
	}
	if msg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, msg.Timeout)
		defer cancel()
	}
	return q.reader.GetRedirectResult(ctx)
}

type GetUserSessionQuery struct {
	reader UserSessionReader
}

func NewGetUserSessionQuery(reader UserSessionReader) *GetUserSessionQuery {
	return &GetUserSessionQuery{reader: reader}
}

func (q *GetUserSessionQuery) Query(ctx context.Context, msg GetUserSessionMessage) (core.UserSession, error) {
	if q == nil || q.reader == nil {
		return core.UserSession{}, queryDependencyError("query: user session reader is required")
	}
	return q.reader.Get(ctx, strings.TrimSpace(msg.UID))
}

type ListAuthEventsQuery struct {
	reader EventLogReader
}

func NewListAuthEventsQuery(reader EventLogReader) *ListAuthEventsQuery {
	return &ListAuthEventsQuery{reader: reader}
}

func (q *ListAuthEventsQuery) Query(ctx context.Context, msg ListAuthEventsMessage) ([]core.EventRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: event log reader is required")
	}
	if eventID := strings.TrimSpace(msg.EventID); eventID != "" {
		records, err := q.reader.ListByEventID(ctx, eventID)
		if err != nil {
			return nil, err
		}
		return filterDisposition(records, strings.TrimSpace(msg.Disposition)), nil
	}
	return q.reader.ListRecent(ctx, strings.TrimSpace(msg.Disposition), msg.Limit)
}

func filterDisposition(records []core.EventRecord, disposition string) []core.EventRecord {
	if disposition == "" {
		return records
	}
	out := make([]core.EventRecord, 0, len(records))
	for _, record := range records {
		if record.Disposition == disposition {
			out = append(out, record)
		}
	}
	return out
}
