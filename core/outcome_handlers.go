package core

import (
	"context"
	"strings"
	"sync"
)

// Opener performs the external action bound to a new pending operation, such
// as opening the popup window.
type Opener func(ctx context.Context) error

// PopupOutcomeHandler tracks concurrent popup operations keyed by event id.
type PopupOutcomeHandler struct {
	mu      sync.Mutex
	pending map[string]*PendingOperation
}

func NewPopupOutcomeHandler() *PopupOutcomeHandler {
	return &PopupOutcomeHandler{pending: map[string]*PendingOperation{}}
}

// NewPendingOperation registers an operation for eventID and runs opener. A
// failing opener removes the operation and returns the error.
func (h *PopupOutcomeHandler) NewPendingOperation(
	ctx context.Context,
	eventID string,
	authType AuthEventType,
	opener Opener,
) (*PendingOperation, error) {
	if h == nil {
		return nil, newBadInputError("core: popup outcome handler is nil", nil)
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, newBadInputError("core: popup event id is required", nil)
	}
	if !authType.IsPopup() {
		return nil, newBadInputError("core: popup operation requires a popup event type", map[string]any{
			"event_type": string(authType),
		})
	}

	h.mu.Lock()
	if existing, ok := h.pending[eventID]; ok && !existing.Settled() {
		h.mu.Unlock()
		return nil, newEventIDConflictError(eventID)
	}
	op := newPendingOperation(eventID, authType)
	h.pending[eventID] = op
	h.mu.Unlock()

	if opener == nil {
		return op, nil
	}
	if err := opener(ctx); err != nil {
		h.remove(eventID, op)
		op.settle(nil, err)
		return nil, err
	}
	return op, nil
}

// IsMatchingEvent reports whether an unsettled operation exists for eventID.
func (h *PopupOutcomeHandler) IsMatchingEvent(eventID string) bool {
	if h == nil {
		return false
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	op, ok := h.pending[eventID]
	return ok && !op.Settled()
}

// BroadcastResult settles the operation matching event.EventID, if any.
func (h *PopupOutcomeHandler) BroadcastResult(event AuthEvent, cred *UserCredential, err error) {
	h.settle(event.EventID, cred, err)
}

func (h *PopupOutcomeHandler) settle(eventID string, cred *UserCredential, err error) bool {
	if h == nil {
		return false
	}
	eventID = strings.TrimSpace(eventID)
	h.mu.Lock()
	op, ok := h.pending[eventID]
	if ok {
		delete(h.pending, eventID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	return op.settle(cred, err)
}

// Len returns the number of unsettled popup operations.
func (h *PopupOutcomeHandler) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *PopupOutcomeHandler) remove(eventID string, op *PendingOperation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.pending[eventID]; ok && current == op {
		delete(h.pending, eventID)
	}
}

// RedirectOutcomeHandler holds the single redirect operation. The operation
// outlives its settlement so a caller resuming after a reload still observes
// the result.
type RedirectOutcomeHandler struct {
	mu            sync.Mutex
	current       *PendingOperation
	observed      bool
	retainSettled bool
}

func NewRedirectOutcomeHandler(retainSettled bool) *RedirectOutcomeHandler {
	return &RedirectOutcomeHandler{retainSettled: retainSettled}
}

// GetRedirectPromiseOrInit returns the existing operation or registers a new
// one and runs initializer exactly once for it. A failing initializer rejects
// the operation. Once a discarded result was handed out, callers get an
// operation already resolved with no credential.
func (h *RedirectOutcomeHandler) GetRedirectPromiseOrInit(ctx context.Context, initializer Opener) *PendingOperation {
	h.mu.Lock()
	if h.current != nil {
		if !h.reusableLocked() {
			h.current = newPendingOperation("", AuthEventUnknown)
			h.current.settle(nil, nil)
		}
		h.observed = true
		op := h.current
		h.mu.Unlock()
		return op
	}
	op := newPendingOperation("", AuthEventUnknown)
	h.current = op
	h.observed = true
	h.mu.Unlock()

	if initializer != nil {
		if err := initializer(ctx); err != nil {
			op.settle(nil, err)
		}
	}
	return op
}

// BroadcastResult settles the singleton operation. A result that arrives
// before anyone asked for it is kept for the next GetRedirectPromiseOrInit.
func (h *RedirectOutcomeHandler) BroadcastResult(_ AuthEvent, cred *UserCredential, err error) {
	h.settle(cred, err)
}

func (h *RedirectOutcomeHandler) settle(cred *UserCredential, err error) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	op := h.current
	switch {
	case op == nil:
		op = newPendingOperation("", AuthEventUnknown)
		h.current = op
		h.observed = false
	case op.Settled() && h.observed:
		op = newPendingOperation("", AuthEventUnknown)
		h.current = op
		h.observed = false
	}
	h.mu.Unlock()
	return op.settle(cred, err)
}

// resolveEmpty settles a pending or missing operation with no credential.
// A settled operation keeps its result.
func (h *RedirectOutcomeHandler) resolveEmpty() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	if h.current != nil && h.current.Settled() {
		h.mu.Unlock()
		return false
	}
	if h.current == nil {
		h.current = newPendingOperation("", AuthEventUnknown)
		h.observed = false
	}
	op := h.current
	h.mu.Unlock()
	return op.settle(nil, nil)
}

// HasPending reports whether an unsettled redirect operation exists.
func (h *RedirectOutcomeHandler) HasPending() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && !h.current.Settled()
}

// Reset discards a settled result so a new redirect flow starts clean. An
// unsettled operation is kept.
func (h *RedirectOutcomeHandler) Reset() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.Settled() {
		h.current = nil
		h.observed = false
	}
}

func (h *RedirectOutcomeHandler) reusableLocked() bool {
	if !h.current.Settled() {
		return true
	}
	return h.retainSettled || !h.observed
}

var (
	_ OutcomeHandler = (*PopupOutcomeHandler)(nil)
	_ OutcomeHandler = (*RedirectOutcomeHandler)(nil)
)
