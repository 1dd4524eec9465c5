package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-authflow/core"
)

type userSessionRecord struct {
	bun.BaseModel `bun:"table:authflow_user_sessions,alias:aus"`

	ID              string         `bun:"id,pk"`
	UID             string         `bun:"uid,notnull"`
	TenantID        string         `bun:"tenant_id,notnull"`
	RedirectEventID string         `bun:"redirect_event_id,notnull"`
	ProviderIDs     []string       `bun:"provider_ids,type:jsonb,notnull"`
	Metadata        map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type authEventRecord struct {
	bun.BaseModel `bun:"table:authflow_auth_events,alias:aae"`

	ID          string    `bun:"id,pk"`
	EventType   string    `bun:"event_type,notnull"`
	EventID     string    `bun:"event_id,notnull"`
	TenantID    string    `bun:"tenant_id,notnull"`
	Operation   string    `bun:"operation,notnull"`
	Disposition string    `bun:"disposition,notnull"`
	UserID      string    `bun:"user_id,notnull"`
	Error       string    `bun:"error,notnull"`
	RecordedAt  time.Time `bun:"recorded_at,nullzero,notnull,default:current_timestamp"`
}

func newUserSessionRecord(session core.UserSession, now time.Time) *userSessionRecord {
	providerIDs := make([]string, 0, len(session.ProviderIDs))
	for _, providerID := range session.ProviderIDs {
		if trimmed := strings.TrimSpace(providerID); trimmed != "" {
			providerIDs = append(providerIDs, trimmed)
		}
	}
	return &userSessionRecord{
		UID:             strings.TrimSpace(session.UID),
		TenantID:        strings.TrimSpace(session.TenantID),
		RedirectEventID: strings.TrimSpace(session.RedirectEventID),
		ProviderIDs:     providerIDs,
		Metadata:        core.RedactSensitiveMap(session.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *userSessionRecord) toDomain() core.UserSession {
	if r == nil {
		return core.UserSession{}
	}
	metadata := make(map[string]any, len(r.Metadata))
	for key, value := range r.Metadata {
		metadata[key] = value
	}
	return core.UserSession{
		UID:             r.UID,
		TenantID:        r.TenantID,
		RedirectEventID: r.RedirectEventID,
		ProviderIDs:     append([]string(nil), r.ProviderIDs...),
		Metadata:        metadata,
	}
}

func newAuthEventRecord(record core.EventRecord, now time.Time) *authEventRecord {
	recordedAt := record.RecordedAt.UTC()
	if record.RecordedAt.IsZero() {
		recordedAt = now
	}
	return &authEventRecord{
		EventType:   strings.TrimSpace(string(record.Type)),
		EventID:     strings.TrimSpace(record.EventID),
		TenantID:    strings.TrimSpace(record.TenantID),
		Operation:   strings.TrimSpace(string(record.Operation)),
		Disposition: strings.TrimSpace(record.Disposition),
		UserID:      strings.TrimSpace(record.UserID),
		Error:       strings.TrimSpace(record.Error),
		RecordedAt:  recordedAt,
	}
}

func (r *authEventRecord) toDomain() core.EventRecord {
	if r == nil {
		return core.EventRecord{}
	}
	return core.EventRecord{
		Type:        core.AuthEventType(r.EventType),
		EventID:     r.EventID,
		TenantID:    r.TenantID,
		Operation:   core.OperationType(r.Operation),
		Disposition: r.Disposition,
		UserID:      r.UserID,
		Error:       r.Error,
		RecordedAt:  r.RecordedAt.UTC(),
	}
}
