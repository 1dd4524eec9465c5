package inbound

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-authflow/core"
)

const (
	defaultSessionCookie = "authflow_session"
	maxCallbackBodyBytes = 64 << 10
)

// CallbackHandler serves the OAuth redirect URI. Both query (GET) and
// form_post (POST) callbacks are accepted.
type CallbackHandler struct {
	dispatcher    *Dispatcher
	sessionCookie string
	tenantHeader  string
	burst         BurstGuard
	logger        core.Logger
}

type HandlerOption func(*CallbackHandler)

func WithSessionCookie(name string) HandlerOption {
	return func(h *CallbackHandler) {
		if strings.TrimSpace(name) != "" {
			h.sessionCookie = strings.TrimSpace(name)
		}
	}
}

func WithTenantHeader(name string) HandlerOption {
	return func(h *CallbackHandler) {
		h.tenantHeader = strings.TrimSpace(name)
	}
}

// WithBurstGuard screens callbacks before they are dispatched.
func WithBurstGuard(guard BurstGuard) HandlerOption {
	return func(h *CallbackHandler) {
		h.burst = guard
	}
}

func WithHandlerLogger(logger core.Logger) HandlerOption {
	return func(h *CallbackHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewCallbackHandler(dispatcher *Dispatcher, opts ...HandlerOption) *CallbackHandler {
	_, logger := glog.Resolve("authflow.inbound", nil, nil)
	handler := &CallbackHandler{
		dispatcher:    dispatcher,
		sessionCookie: defaultSessionCookie,
		logger:        glog.Ensure(logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

type callbackResponse struct {
	Handled   bool   `json:"handled"`
	Deduped   bool   `json:"deduped,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	TextCode  string `json:"text_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, callbackResponse{Message: "method not allowed"})
		return
	}

	if h.burst != nil {
		decision, err := h.burst.Allow(r.Context(), r)
		if err != nil {
			h.logger.Error("auth callback burst check failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, callbackResponse{TextCode: core.ErrorInternal, Message: "callback rejected"})
			return
		}
		if !decision.Allow {
			h.logger.Debug("auth callback suppressed", "burst_mode", decision.Mode, "burst_key", decision.Key)
			if decision.Mode == BurstModeDebounce {
				w.Header().Set("Retry-After", strconv.Itoa(int((decision.Window+time.Second-1)/time.Second)))
				writeJSON(w, http.StatusTooManyRequests, callbackResponse{TextCode: ErrorCallbackBurst, Message: "callback suppressed"})
				return
			}
			writeJSON(w, http.StatusOK, callbackResponse{Handled: true, Deduped: true})
			return
		}
	}

	req := CallbackRequest{RequestURI: r.URL.RequestURI()}
	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes+1))
		if err != nil || len(body) > maxCallbackBodyBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, callbackResponse{Message: "callback body rejected"})
			return
		}
		req.PostBody = string(body)
	}
	if cookie, err := r.Cookie(h.sessionCookie); err == nil {
		req.SessionID = cookie.Value
	}
	if h.tenantHeader != "" {
		req.TenantID = r.Header.Get(h.tenantHeader)
	}

	result, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		mapped := core.MapError(err)
		h.logger.Error("auth callback failed", "text_code", mapped.TextCode, "error", mapped.Message)
		status := mapped.Code
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, callbackResponse{TextCode: mapped.TextCode, Message: mapped.Message})
		return
	}
	writeJSON(w, result.StatusCode, callbackResponse{
		Handled:   result.Handled,
		Deduped:   result.Deduped,
		EventID:   result.EventID,
		EventType: string(result.EventType),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload callbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
