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

// UserSessionStore persists cached users. It is the SQL core.UserSessionHost.
type UserSessionStore struct {
	db   *bun.DB
	repo repository.Repository[*userSessionRecord]
}

func NewUserSessionStore(db *bun.DB) (*UserSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*userSessionRecord](db, userSessionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid user session repository wiring: %w", err)
		}
	}
	return &UserSessionStore{db: db, repo: repo}, nil
}

// Put inserts or replaces the session stored for session.UID.
func (s *UserSessionStore) Put(ctx context.Context, session core.UserSession) error {
	if s == nil || s.repo == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user session store is not configured")
	}
	uid := strings.TrimSpace(session.UID)
	if uid == "" {
		return fmt.Errorf("%w: uid is required", core.ErrBadInput)
	}
	now := time.Now().UTC()
	record := newUserSessionRecord(session, now)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existingID string
		err := tx.NewSelect().
			Model((*userSessionRecord)(nil)).
			Column("id").
			Where("?TableAlias.uid = ?", uid).
			Limit(1).
			Scan(ctx, &existingID)
		if err != nil && !isNoRows(err) {
			return err
		}
		if existingID == "" {
			record.ID = uuid.NewString()
			_, createErr := s.repo.CreateTx(ctx, tx, record)
			return createErr
		}
		record.ID = existingID
		_, updateErr := tx.NewUpdate().
			Model(record).
			Column("tenant_id", "redirect_event_id", "provider_ids", "metadata", "updated_at").
			WherePK().
			Exec(ctx)
		return updateErr
	})
}

func (s *UserSessionStore) Get(ctx context.Context, uid string) (core.UserSession, error) {
	record, err := s.find(ctx, uid)
	if err != nil {
		return core.UserSession{}, err
	}
	return record.toDomain(), nil
}

func (s *UserSessionStore) Delete(ctx context.Context, uid string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user session store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*userSessionRecord)(nil)).
		Where("uid = ?", strings.TrimSpace(uid)).
		Exec(ctx)
	return err
}

func (s *UserSessionStore) PendingSessions(ctx context.Context) ([]core.UserSession, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: user session store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.redirect_event_id <> ''")
		}),
		repository.OrderBy("uid ASC"),
	)
	if err != nil {
		return nil, err
	}
	sessions := make([]core.UserSession, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, record.toDomain())
	}
	return sessions, nil
}

func (s *UserSessionStore) SetRedirectEventID(ctx context.Context, uid string, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user session store is not configured")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return fmt.Errorf("%w: uid is required", core.ErrBadInput)
	}
	result, err := s.db.NewUpdate().
		Model((*userSessionRecord)(nil)).
		Set("redirect_event_id = ?", strings.TrimSpace(eventID)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("uid = ?", uid).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return core.NewSessionNotFoundError(uid)
	}
	return nil
}

func (s *UserSessionStore) find(ctx context.Context, uid string) (*userSessionRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: user session store is not configured")
	}
	uid = strings.TrimSpace(uid)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("uid", "=", uid),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.NewSessionNotFoundError(uid)
	}
	return records[0], nil
}
