package inbound

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/providers"
)

// EventTypeResolver types a callback by the event id it carries.
type EventTypeResolver interface {
	TypeFor(eventID string) (core.AuthEventType, bool)
}

// Forgetter drops flow bookkeeping once its callback was routed.
type Forgetter interface {
	Forget(eventID string)
}

// CallbackRequest is one IdP callback as received by the host.
type CallbackRequest struct {
	// EventID is taken from the callback state when empty.
	EventID    string
	RequestURI string
	PostBody   string
	SessionID  string
	TenantID   string
	// Error is a transport failure detected by the host itself.
	Error    error
	Metadata map[string]any
}

type CallbackResult struct {
	Handled    bool
	Deduped    bool
	EventID    string
	EventType  core.AuthEventType
	StatusCode int
	Metadata   map[string]any
}

// Dispatcher turns callbacks into auth events and hands them to the sink.
// Deliveries are deduplicated per event id through the claim store.
type Dispatcher struct {
	Sink   core.EventSink
	Types  EventTypeResolver
	Store  ClaimStore
	KeyTTL time.Duration
}

func NewDispatcher(sink core.EventSink, types EventTypeResolver, store ClaimStore) *Dispatcher {
	return &Dispatcher{
		Sink:   sink,
		Types:  types,
		Store:  store,
		KeyTTL: defaultClaimTTL,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req CallbackRequest) (CallbackResult, error) {
	if d == nil || d.Sink == nil {
		return CallbackResult{}, errUnconfigured("inbound: dispatcher has no event sink")
	}
	event, err := d.eventFor(req)
	if err != nil {
		return CallbackResult{}, err
	}
	metadata := map[string]any{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata["event_id"] = event.EventID
	metadata["event_type"] = string(event.Type)

	claimID := ""
	if d.Store != nil && event.EventID != "" {
		var accepted bool
		claimID, accepted, err = d.Store.Claim(ctx, "callback:"+event.EventID, d.keyTTL())
		if err != nil {
			return CallbackResult{}, errClaimFailed(claimStepClaim, err, metadata)
		}
		if !accepted {
			metadata["deduped"] = true
			return CallbackResult{
				Handled:    true,
				Deduped:    true,
				EventID:    event.EventID,
				EventType:  event.Type,
				StatusCode: http.StatusOK,
				Metadata:   metadata,
			}, nil
		}
	}

	handled, err := d.Sink.OnEvent(ctx, event)
	if err != nil {
		routeErr := errRoutingFailed(err, metadata)
		if claimID != "" {
			if failErr := d.Store.Fail(ctx, claimID, err, time.Time{}); failErr != nil {
				return CallbackResult{}, errors.Join(routeErr, errClaimFailed(claimStepFail, failErr, metadata))
			}
		}
		return CallbackResult{}, routeErr
	}
	if claimID != "" {
		if err := d.Store.Complete(ctx, claimID); err != nil {
			return CallbackResult{}, errClaimFailed(claimStepComplete, err, metadata)
		}
	}
	if forgetter, ok := d.Types.(Forgetter); ok && event.EventID != "" {
		forgetter.Forget(event.EventID)
	}
	return CallbackResult{
		Handled:    handled,
		EventID:    event.EventID,
		EventType:  event.Type,
		StatusCode: http.StatusOK,
		Metadata:   metadata,
	}, nil
}

// eventFor types the callback. An event id no flow claims becomes an
// unknown event, which the router ignores.
func (d *Dispatcher) eventFor(req CallbackRequest) (core.AuthEvent, error) {
	response, err := providers.ParseCallbackResponse(req.RequestURI, req.PostBody)
	if err != nil {
		return core.AuthEvent{}, errMalformedCallback(err, req)
	}
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = response.State
	}
	if eventID == "" && req.Error == nil && response.Code == "" && response.ErrorCode == "" {
		return core.AuthEvent{}, errEmptyCallback(req)
	}

	authType := core.AuthEventUnknown
	if d.Types != nil && eventID != "" {
		if resolved, ok := d.Types.TypeFor(eventID); ok {
			authType = resolved
		}
	}
	return core.AuthEvent{
		Type:        authType,
		EventID:     eventID,
		URLResponse: strings.TrimSpace(req.RequestURI),
		PostBody:    req.PostBody,
		SessionID:   strings.TrimSpace(req.SessionID),
		TenantID:    strings.TrimSpace(req.TenantID),
		Error:       req.Error,
	}, nil
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return defaultClaimTTL
}
