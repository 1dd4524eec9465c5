package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-authflow/core"
)

const defaultEventLogPageSize = 50

// EventLogStore keeps the routing history of auth events.
type EventLogStore struct {
	repo repository.Repository[*authEventRecord]
	now  func() time.Time
}

func NewEventLogStore(db *bun.DB) (*EventLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*authEventRecord](db, authEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid auth event repository wiring: %w", err)
		}
	}
	return &EventLogStore{
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventLogStore) Record(ctx context.Context, record core.EventRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: event log store is not configured")
	}
	if strings.TrimSpace(record.Disposition) == "" {
		return fmt.Errorf("%w: event disposition is required", core.ErrBadInput)
	}
	row := newAuthEventRecord(record, s.now())
	row.ID = uuid.NewString()
	if row.EventType == "" {
		row.EventType = string(core.AuthEventUnknown)
	}
	if row.Operation == "" {
		row.Operation = string(core.AuthEventType(row.EventType).Operation())
	}
	_, err := s.repo.Create(ctx, row)
	return err
}

// ListByEventID returns the records of one event id, oldest first.
func (s *EventLogStore) ListByEventID(ctx context.Context, eventID string) ([]core.EventRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: event log store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", core.ErrBadInput)
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("event_id", "=", eventID),
		repository.OrderBy("recorded_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return toEventRecords(records), nil
}

// ListRecent returns the newest records, optionally filtered by disposition.
func (s *EventLogStore) ListRecent(ctx context.Context, disposition string, limit int) ([]core.EventRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: event log store is not configured")
	}
	if limit <= 0 {
		limit = defaultEventLogPageSize
	}
	criteria := []repository.SelectCriteria{
		repository.OrderBy("recorded_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if disposition = strings.TrimSpace(disposition); disposition != "" {
		criteria = append(criteria, repository.SelectBy("disposition", "=", disposition))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	return toEventRecords(records), nil
}

func toEventRecords(records []*authEventRecord) []core.EventRecord {
	out := make([]core.EventRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}
