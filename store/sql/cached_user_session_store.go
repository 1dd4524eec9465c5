package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-authflow/core"
)

const userSessionCacheKeyPrefix = "go-authflow::user_session::v1"

// SessionStore is the storage contract the cache decorates.
type SessionStore interface {
	core.UserSessionHost
	Get(ctx context.Context, uid string) (core.UserSession, error)
	Put(ctx context.Context, session core.UserSession) error
	Delete(ctx context.Context, uid string) error
}

// CachedUserSessionStore serves session reads from a repository cache and
// invalidates on every write.
type CachedUserSessionStore struct {
	base  SessionStore
	cache repositorycache.CacheService
}

func NewCachedUserSessionStore(base SessionStore, cacheService repositorycache.CacheService) (*CachedUserSessionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base user session store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: user session cache service is required")
	}
	return &CachedUserSessionStore{base: base, cache: cacheService}, nil
}

// UserSessionCacheKey returns go-authflow::user_session::v1::<uid> with the
// uid URL-path escaped.
func UserSessionCacheKey(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", fmt.Errorf("%w: uid is required", core.ErrBadInput)
	}
	return userSessionCacheKeyPrefix + "::" + url.PathEscape(uid), nil
}

func pendingSessionsCacheKey() string {
	return userSessionCacheKeyPrefix + "::pending"
}

func (s *CachedUserSessionStore) Get(ctx context.Context, uid string) (core.UserSession, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.UserSession{}, fmt.Errorf("sqlstore: cached user session store is not configured")
	}
	cacheKey, err := UserSessionCacheKey(uid)
	if err != nil {
		return core.UserSession{}, err
	}
	session, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.UserSession, error) {
		return s.base.Get(ctx, strings.TrimSpace(uid))
	})
	if err != nil {
		return core.UserSession{}, err
	}
	return cloneSession(session), nil
}

func (s *CachedUserSessionStore) PendingSessions(ctx context.Context) ([]core.UserSession, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached user session store is not configured")
	}
	sessions, err := repositorycache.GetOrFetch(ctx, s.cache, pendingSessionsCacheKey(), func(ctx context.Context) ([]core.UserSession, error) {
		return s.base.PendingSessions(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.UserSession, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, cloneSession(session))
	}
	return out, nil
}

func (s *CachedUserSessionStore) Put(ctx context.Context, session core.UserSession) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached user session store is not configured")
	}
	if err := s.base.Put(ctx, session); err != nil {
		return err
	}
	return s.invalidate(ctx, session.UID)
}

func (s *CachedUserSessionStore) Delete(ctx context.Context, uid string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached user session store is not configured")
	}
	if err := s.base.Delete(ctx, uid); err != nil {
		return err
	}
	return s.invalidate(ctx, uid)
}

func (s *CachedUserSessionStore) SetRedirectEventID(ctx context.Context, uid string, eventID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached user session store is not configured")
	}
	if err := s.base.SetRedirectEventID(ctx, uid, eventID); err != nil {
		return err
	}
	return s.invalidate(ctx, uid)
}

func (s *CachedUserSessionStore) invalidate(ctx context.Context, uid string) error {
	cacheKey, err := UserSessionCacheKey(uid)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return s.cache.Delete(ctx, pendingSessionsCacheKey())
}

func cloneSession(session core.UserSession) core.UserSession {
	cloned := session
	cloned.ProviderIDs = append([]string(nil), session.ProviderIDs...)
	cloned.Metadata = make(map[string]any, len(session.Metadata))
	for key, value := range session.Metadata {
		cloned.Metadata[key] = value
	}
	return cloned
}
