package inbound

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes reported by the callback endpoint.
const (
	ErrorCallbackBurst         = "AUTHFLOW_CALLBACK_BURST"
	ErrorCallbackMalformed     = "AUTHFLOW_CALLBACK_MALFORMED"
	ErrorCallbackEmpty         = "AUTHFLOW_CALLBACK_EMPTY"
	ErrorCallbackClaimFailed   = "AUTHFLOW_CALLBACK_CLAIM_FAILED"
	ErrorCallbackRoutingFailed = "AUTHFLOW_CALLBACK_ROUTING_FAILED"
	ErrorCallbackUnconfigured  = "AUTHFLOW_CALLBACK_UNCONFIGURED"
	ErrorClaimInvalid          = "AUTHFLOW_CLAIM_INVALID"
)

var (
	ErrMalformedCallback = errors.New("inbound: malformed callback")
	ErrEmptyCallback     = errors.New("inbound: callback carries no data")
)

// Claim steps recorded in claim failure metadata.
const (
	claimStepClaim    = "claim"
	claimStepFail     = "fail"
	claimStepComplete = "complete"
)

func errMalformedCallback(cause error, req CallbackRequest) error {
	message := ErrMalformedCallback.Error()
	if cause != nil {
		message += ": " + cause.Error()
	}
	return goerrors.Wrap(ErrMalformedCallback, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCallbackMalformed).
		WithMetadata(requestFields(req))
}

func errEmptyCallback(req CallbackRequest) error {
	return goerrors.Wrap(ErrEmptyCallback, goerrors.CategoryBadInput, ErrEmptyCallback.Error()).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCallbackEmpty).
		WithMetadata(requestFields(req))
}

// errClaimFailed reports a claim store failure at step. The callback is not
// marked handled, so the provider or browser may retry it.
func errClaimFailed(step string, cause error, fields map[string]any) error {
	metadata := copyFields(fields)
	metadata["claim_step"] = step
	return goerrors.Wrap(cause, goerrors.CategoryOperation, "inbound: callback claim "+step+" failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCallbackClaimFailed).
		WithMetadata(metadata)
}

// errRoutingFailed re-codes a router failure for the callback response. A
// go-errors cause keeps its category and source; its own text code moves to
// cause_text_code.
func errRoutingFailed(cause error, fields map[string]any) error {
	metadata := copyFields(fields)
	var rich *goerrors.Error
	if goerrors.As(cause, &rich) && rich.TextCode != "" {
		metadata["cause_text_code"] = rich.TextCode
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, "inbound: auth event routing failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCallbackRoutingFailed).
		WithMetadata(metadata)
}

func errUnconfigured(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCallbackUnconfigured)
}

func errClaimInvalid(message string, field string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorClaimInvalid).
		WithMetadata(map[string]any{"field": field})
}

func requestFields(req CallbackRequest) map[string]any {
	fields := map[string]any{}
	if eventID := strings.TrimSpace(req.EventID); eventID != "" {
		fields["event_id"] = eventID
	}
	if req.PostBody != "" {
		fields["response_mode"] = "form_post"
	} else {
		fields["response_mode"] = "query"
	}
	return fields
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		out[key] = value
	}
	return out
}
