package core

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryUserSessionHost keeps sessions in process. Useful for tests and for
// hosts whose user cache already lives in memory.
type MemoryUserSessionHost struct {
	mu       sync.Mutex
	sessions map[string]UserSession
}

func NewMemoryUserSessionHost(sessions ...UserSession) *MemoryUserSessionHost {
	host := &MemoryUserSessionHost{sessions: map[string]UserSession{}}
	for _, session := range sessions {
		_ = host.Put(context.Background(), session)
	}
	return host
}

func (h *MemoryUserSessionHost) Put(_ context.Context, session UserSession) error {
	if h == nil {
		return newBadInputError("core: user session host is not configured", nil)
	}
	uid := strings.TrimSpace(session.UID)
	if uid == "" {
		return newBadInputError("core: session uid is required", nil)
	}
	session.UID = uid
	h.mu.Lock()
	h.sessions[uid] = *session.clone()
	h.mu.Unlock()
	return nil
}

func (h *MemoryUserSessionHost) Get(_ context.Context, uid string) (UserSession, error) {
	if h == nil {
		return UserSession{}, newBadInputError("core: user session host is not configured", nil)
	}
	uid = strings.TrimSpace(uid)
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[uid]
	if !ok {
		return UserSession{}, NewSessionNotFoundError(uid)
	}
	return *session.clone(), nil
}

func (h *MemoryUserSessionHost) Delete(_ context.Context, uid string) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	delete(h.sessions, strings.TrimSpace(uid))
	h.mu.Unlock()
	return nil
}

func (h *MemoryUserSessionHost) PendingSessions(_ context.Context) ([]UserSession, error) {
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]UserSession, 0, len(h.sessions))
	for _, session := range h.sessions {
		if strings.TrimSpace(session.RedirectEventID) == "" {
			continue
		}
		out = append(out, *session.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (h *MemoryUserSessionHost) SetRedirectEventID(_ context.Context, uid string, eventID string) error {
	if h == nil {
		return newBadInputError("core: user session host is not configured", nil)
	}
	uid = strings.TrimSpace(uid)
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[uid]
	if !ok {
		return NewSessionNotFoundError(uid)
	}
	session.RedirectEventID = strings.TrimSpace(eventID)
	h.sessions[uid] = session
	return nil
}

