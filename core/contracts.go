package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// Initiator is the capability set a host platform implements to start flows.
// The router consumes it and never implements it.
type Initiator interface {
	// OpenPopup opens a provider window tagged with eventID so the host
	// transport can correlate its result back to the pending operation.
	OpenPopup(
		ctx context.Context,
		authCtx AuthContext,
		provider Provider,
		authType AuthEventType,
		eventID string,
	) (PopupHandle, error)
	// ProcessRedirect navigates away from the current context. A nil error
	// means navigation started; the flow resumes through GetRedirectResult.
	ProcessRedirect(
		ctx context.Context,
		authCtx AuthContext,
		provider Provider,
		authType AuthEventType,
		eventID string,
	) error
	InitializeAndWait(ctx context.Context, authCtx AuthContext) error
	IsInitialized() bool
}

// UserSessionHost exposes the locally cached user sessions used to resolve
// the potential user of link and reauthenticate events.
type UserSessionHost interface {
	// PendingSessions returns every session carrying a RedirectEventID.
	PendingSessions(ctx context.Context) ([]UserSession, error)
	SetRedirectEventID(ctx context.Context, uid string, eventID string) error
}

// IdpTask performs one credential exchange. A nil credential with a nil error
// is a valid "no result" outcome.
type IdpTask func(ctx context.Context, params IdpTaskParams) (*UserCredential, error)

type IdpTasks struct {
	SignIn         IdpTask
	Link           IdpTask
	Reauthenticate IdpTask
}

func (t IdpTasks) taskFor(op OperationType) IdpTask {
	switch op {
	case OperationSignIn:
		return t.SignIn
	case OperationLink:
		return t.Link
	case OperationReauthenticate:
		return t.Reauthenticate
	default:
		return nil
	}
}

// OutcomeHandler owns settlement of the pending operations of one flow kind.
type OutcomeHandler interface {
	BroadcastResult(event AuthEvent, cred *UserCredential, err error)
}

// EventSink is anything that accepts inbound auth events.
type EventSink interface {
	OnEvent(ctx context.Context, event AuthEvent) (bool, error)
}

type EventRecorder interface {
	Record(ctx context.Context, record EventRecord) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type EventIDGenerator func() string

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
