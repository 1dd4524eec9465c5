package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput             = "AUTHFLOW_BAD_INPUT"
	ErrorEventIDConflict      = "AUTHFLOW_EVENT_ID_CONFLICT"
	ErrorNoOwningHandler      = "AUTHFLOW_NO_OWNING_HANDLER"
	ErrorTaskNotConfigured    = "AUTHFLOW_TASK_NOT_CONFIGURED"
	ErrorTaskPanic            = "AUTHFLOW_TASK_PANIC"
	ErrorInitializationFailed = "AUTHFLOW_INITIALIZATION_FAILED"
	ErrorPopupBlocked         = "AUTHFLOW_POPUP_BLOCKED"
	ErrorPopupClosedByUser    = "AUTHFLOW_POPUP_CLOSED_BY_USER"
	ErrorUserMismatch         = "AUTHFLOW_USER_MISMATCH"
	ErrorSessionNotFound      = "AUTHFLOW_SESSION_NOT_FOUND"
	ErrorInternal             = "AUTHFLOW_INTERNAL_ERROR"
)

var (
	ErrBadInput         = errors.New("core: invalid input")
	ErrInvalidEventType = errors.New("core: invalid auth event type")
	ErrEventIDConflict  = errors.New("core: event id already has a pending operation")
	ErrUserMismatch     = errors.New("core: credential does not belong to the current user")
	ErrPopupClosed      = errors.New("core: popup closed by user")
	ErrSessionNotFound  = errors.New("core: user session not found")
	ErrPopupBlocked     = errors.New("core: popup was blocked")
)

// NewNoOwningHandlerError reports an event type that no outcome handler owns.
// It signals a programming invariant violation, not a per-event failure.
func NewNoOwningHandlerError(eventType AuthEventType) error {
	return goerrors.New(
		fmt.Sprintf("core: no outcome handler owns event type %q", eventType),
		goerrors.CategoryInternal,
	).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorNoOwningHandler).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{"event_type": string(eventType)})
}

// IsFatal reports whether err is the router's configuration invariant error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == ErrorNoOwningHandler
	}
	return false
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

func newEventIDConflictError(eventID string) error {
	return goerrors.Wrap(ErrEventIDConflict, goerrors.CategoryConflict, "core: popup event id is already pending").
		WithCode(http.StatusConflict).
		WithTextCode(ErrorEventIDConflict).
		WithMetadata(map[string]any{"event_id": eventID})
}

func newTaskNotConfiguredError(op OperationType) error {
	return goerrors.New(
		fmt.Sprintf("core: idp task %q is not configured", op),
		goerrors.CategoryInternal,
	).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorTaskNotConfigured).
		WithMetadata(map[string]any{"operation": string(op)})
}

func newTaskPanicError(op OperationType, recovered any) error {
	return goerrors.New(
		fmt.Sprintf("core: idp task %q panicked: %v", op, recovered),
		goerrors.CategoryInternal,
	).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorTaskPanic).
		WithMetadata(map[string]any{"operation": string(op)})
}

func newInitializationError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "core: initiator initialization failed").
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorInitializationFailed)
}

func newBadInputError(message string, metadata map[string]any) error {
	err := goerrors.Wrap(ErrBadInput, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NewUserMismatchError is returned by reauthenticate tasks when the IdP
// subject does not match the session being reauthenticated.
func NewUserMismatchError(uid string, subject string) error {
	return goerrors.Wrap(ErrUserMismatch, goerrors.CategoryAuth, "core: reauthentication user mismatch").
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorUserMismatch).
		WithMetadata(map[string]any{"uid": uid, "subject": subject})
}

// NewSessionNotFoundError is returned by session hosts for unknown uids.
func NewSessionNotFoundError(uid string) error {
	return goerrors.Wrap(ErrSessionNotFound, goerrors.CategoryNotFound, "core: user session not found").
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorSessionNotFound).
		WithMetadata(map[string]any{"uid": uid})
}

// NewPopupClosedError is the error hosts synthesize when a user closes a
// popup before it produced a result.
func NewPopupClosedError(eventID string) error {
	return goerrors.Wrap(ErrPopupClosed, goerrors.CategoryOperation, "core: popup closed by user").
		WithCode(http.StatusConflict).
		WithTextCode(ErrorPopupClosedByUser).
		WithMetadata(map[string]any{"event_id": eventID})
}

// NewPopupBlockedError reports a popup the host could not open.
func NewPopupBlockedError(eventID string, cause error) error {
	message := "core: popup was blocked"
	if cause != nil {
		message += ": " + cause.Error()
	}
	return goerrors.Wrap(ErrPopupBlocked, goerrors.CategoryOperation, message).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorPopupBlocked).
		WithMetadata(map[string]any{"event_id": eventID})
}

// MapError converts any error into the go-errors envelope used by outer
// surfaces (commands, HTTP callbacks).
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrBadInput), errors.Is(err, ErrInvalidEventType):
		return newMappedError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	case errors.Is(err, ErrEventIDConflict):
		return newMappedError(err.Error(), goerrors.CategoryConflict, ErrorEventIDConflict)
	case errors.Is(err, ErrUserMismatch):
		return newMappedError(err.Error(), goerrors.CategoryAuth, ErrorUserMismatch)
	case errors.Is(err, ErrPopupClosed):
		return newMappedError(err.Error(), goerrors.CategoryOperation, ErrorPopupClosedByUser)
	case errors.Is(err, ErrPopupBlocked):
		return newMappedError(err.Error(), goerrors.CategoryOperation, ErrorPopupBlocked)
	case errors.Is(err, ErrSessionNotFound):
		return newMappedError(err.Error(), goerrors.CategoryNotFound, ErrorSessionNotFound)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newMappedError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newMappedError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusFor(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryConflict:
		return ErrorEventIDConflict
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUserMismatch
	default:
		return ErrorInternal
	}
}

func httpStatusFor(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
