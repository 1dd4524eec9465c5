package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-authflow/core"
)

const maxWatchRetries = 5

type sessionPayload struct {
	UID             string         `json:"uid"`
	TenantID        string         `json:"tenant_id,omitempty"`
	RedirectEventID string         `json:"redirect_event_id,omitempty"`
	ProviderIDs     []string       `json:"provider_ids,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SessionHost stores user sessions as JSON under <prefix>:session:<uid> and
// indexes the ones with a redirect event id in <prefix>:sessions:pending.
type SessionHost struct {
	client redis.UniversalClient
	prefix string
}

type SessionHostOption func(*SessionHost)

func WithSessionKeyPrefix(prefix string) SessionHostOption {
	return func(h *SessionHost) {
		h.prefix = normalizePrefix(prefix)
	}
}

func NewSessionHost(client redis.UniversalClient, opts ...SessionHostOption) (*SessionHost, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	host := &SessionHost{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(host)
		}
	}
	return host, nil
}

func (h *SessionHost) Put(ctx context.Context, session core.UserSession) error {
	uid := strings.TrimSpace(session.UID)
	if uid == "" {
		return fmt.Errorf("%w: uid is required", core.ErrBadInput)
	}
	payload := sessionPayload{
		UID:             uid,
		TenantID:        strings.TrimSpace(session.TenantID),
		RedirectEventID: strings.TrimSpace(session.RedirectEventID),
		ProviderIDs:     append([]string(nil), session.ProviderIDs...),
		Metadata:        core.RedactSensitiveMap(session.Metadata),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, h.sessionKey(uid), raw, 0)
		h.indexPending(ctx, pipe, uid, payload.RedirectEventID)
		return nil
	})
	return err
}

func (h *SessionHost) Get(ctx context.Context, uid string) (core.UserSession, error) {
	uid = strings.TrimSpace(uid)
	raw, err := h.client.Get(ctx, h.sessionKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.UserSession{}, core.NewSessionNotFoundError(uid)
	}
	if err != nil {
		return core.UserSession{}, err
	}
	payload, err := decodeSession(raw)
	if err != nil {
		return core.UserSession{}, err
	}
	return payload.toDomain(), nil
}

func (h *SessionHost) Delete(ctx context.Context, uid string) error {
	uid = strings.TrimSpace(uid)
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, h.sessionKey(uid))
		pipe.SRem(ctx, h.pendingKey(), uid)
		return nil
	})
	return err
}

// PendingSessions returns the indexed sessions ordered by uid. Index members
// whose session is gone are pruned.
func (h *SessionHost) PendingSessions(ctx context.Context) ([]core.UserSession, error) {
	uids, err := h.client.SMembers(ctx, h.pendingKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return []core.UserSession{}, nil
	}
	sort.Strings(uids)
	keys := make([]string, 0, len(uids))
	for _, uid := range uids {
		keys = append(keys, h.sessionKey(uid))
	}
	values, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]core.UserSession, 0, len(values))
	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, uids[i])
			continue
		}
		payload, decodeErr := decodeSession([]byte(raw))
		if decodeErr != nil {
			return nil, decodeErr
		}
		if payload.RedirectEventID == "" {
			stale = append(stale, uids[i])
			continue
		}
		sessions = append(sessions, payload.toDomain())
	}
	if len(stale) > 0 {
		if err := h.client.SRem(ctx, h.pendingKey(), stale...).Err(); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// SetRedirectEventID rewrites the session under WATCH so concurrent writers
// cannot drop the pending index update.
func (h *SessionHost) SetRedirectEventID(ctx context.Context, uid string, eventID string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return fmt.Errorf("%w: uid is required", core.ErrBadInput)
	}
	eventID = strings.TrimSpace(eventID)
	key := h.sessionKey(uid)

	update := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return core.NewSessionNotFoundError(uid)
		}
		if err != nil {
			return err
		}
		payload, err := decodeSession(raw)
		if err != nil {
			return err
		}
		payload.RedirectEventID = eventID
		next, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("redisstore: encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, redis.KeepTTL)
			h.indexPending(ctx, pipe, uid, eventID)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := h.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redisstore: session %q changed concurrently", uid)
}

func (h *SessionHost) indexPending(ctx context.Context, pipe redis.Pipeliner, uid string, eventID string) {
	if eventID == "" {
		pipe.SRem(ctx, h.pendingKey(), uid)
		return
	}
	pipe.SAdd(ctx, h.pendingKey(), uid)
}

func (h *SessionHost) sessionKey(uid string) string {
	return h.prefix + ":session:" + uid
}

func (h *SessionHost) pendingKey() string {
	return h.prefix + ":sessions:pending"
}

func decodeSession(raw []byte) (sessionPayload, error) {
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return sessionPayload{}, fmt.Errorf("redisstore: decode session: %w", err)
	}
	return payload, nil
}

func (p sessionPayload) toDomain() core.UserSession {
	metadata := make(map[string]any, len(p.Metadata))
	for key, value := range p.Metadata {
		metadata[key] = value
	}
	return core.UserSession{
		UID:             p.UID,
		TenantID:        p.TenantID,
		RedirectEventID: p.RedirectEventID,
		ProviderIDs:     append([]string(nil), p.ProviderIDs...),
		Metadata:        metadata,
	}
}
