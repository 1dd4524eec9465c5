package core

import (
	"context"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// RouterDependencies wires the collaborators of an EventRouter. Nil handlers
// are replaced with fresh instances.
type RouterDependencies struct {
	Popup           *PopupOutcomeHandler
	Redirect        *RedirectOutcomeHandler
	Tasks           IdpTasks
	Sessions        UserSessionHost
	AuthContext     AuthContext
	Recorder        EventRecorder
	Logger          Logger
	MetricsRecorder MetricsRecorder
	LogDropped      bool
	Now             func() time.Time
}

// EventRouter classifies inbound auth events, correlates them with pending
// operations and cached users, and runs the owning IdP task.
type EventRouter struct {
	mu sync.Mutex

	popup      *PopupOutcomeHandler
	redirect   *RedirectOutcomeHandler
	tasks      IdpTasks
	sessions   UserSessionHost
	authCtx    AuthContext
	recorder   EventRecorder
	logger     Logger
	metrics    MetricsRecorder
	logDropped bool
	now        func() time.Time
}

func NewEventRouter(deps RouterDependencies) *EventRouter {
	popup := deps.Popup
	if popup == nil {
		popup = NewPopupOutcomeHandler()
	}
	redirect := deps.Redirect
	if redirect == nil {
		redirect = NewRedirectOutcomeHandler(true)
	}
	metrics := deps.MetricsRecorder
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &EventRouter{
		popup:      popup,
		redirect:   redirect,
		tasks:      deps.Tasks,
		sessions:   deps.Sessions,
		authCtx:    deps.AuthContext,
		recorder:   deps.Recorder,
		logger:     glog.Ensure(deps.Logger),
		metrics:    metrics,
		logDropped: deps.LogDropped,
		now:        now,
	}
}

func (r *EventRouter) Popup() *PopupOutcomeHandler {
	return r.popup
}

func (r *EventRouter) Redirect() *RedirectOutcomeHandler {
	return r.redirect
}

// OnEvent consumes one event. It reports handled=true for every well-formed
// event, including ones dropped by a correlation miss. The only error it
// returns is the fatal no-owning-handler error, see IsFatal.
func (r *EventRouter) OnEvent(ctx context.Context, event AuthEvent) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	event.EventID = strings.TrimSpace(event.EventID)

	if event.Error != nil && event.Type != AuthEventUnknown {
		handler, err := r.handlerFor(event.Type)
		if err != nil {
			return r.fatal(ctx, event, err)
		}
		handler.BroadcastResult(event, nil, event.Error)
		r.finish(ctx, event, DispositionErrorForwarded, nil, event.Error)
		return true, nil
	}

	if event.Type != AuthEventUnknown && !event.Type.Valid() {
		return r.fatal(ctx, event, NewNoOwningHandlerError(event.Type))
	}

	potentialUser := r.potentialUser(ctx, event)

	switch event.Type {
	case AuthEventSignInViaPopup, AuthEventSignInViaRedirect:
		if !r.shouldRunSignIn(event) {
			r.finish(ctx, event, DispositionDroppedStale, nil, nil)
			return true, nil
		}
		r.execute(ctx, event, OperationSignIn, nil)
	case AuthEventLinkViaPopup, AuthEventLinkViaRedirect:
		if potentialUser == nil {
			r.finish(ctx, event, DispositionDroppedNoUser, nil, nil)
			return true, nil
		}
		r.execute(ctx, event, OperationLink, potentialUser)
	case AuthEventReauthViaPopup, AuthEventReauthViaRedirect:
		if potentialUser == nil {
			r.finish(ctx, event, DispositionDroppedNoUser, nil, nil)
			return true, nil
		}
		r.execute(ctx, event, OperationReauthenticate, potentialUser)
	default:
		r.finish(ctx, event, DispositionIgnored, nil, nil)
	}
	return true, nil
}

// shouldRunSignIn gates the shared sign-in path. Popup sign-in requires an
// unsettled operation for the event id; redirect sign-in always runs.
func (r *EventRouter) shouldRunSignIn(event AuthEvent) bool {
	if event.Type == AuthEventSignInViaPopup {
		return r.popup.IsMatchingEvent(event.EventID)
	}
	return event.Type == AuthEventSignInViaRedirect
}

func (r *EventRouter) handlerFor(eventType AuthEventType) (OutcomeHandler, error) {
	switch {
	case eventType.IsPopup():
		return r.popup, nil
	case eventType.IsRedirect():
		return r.redirect, nil
	default:
		return nil, NewNoOwningHandlerError(eventType)
	}
}

// potentialUser returns the cached session whose redirect event id equals the
// event id. Lookup failures are logged and treated as absence.
func (r *EventRouter) potentialUser(ctx context.Context, event AuthEvent) *UserSession {
	if r.sessions == nil || event.EventID == "" {
		return nil
	}
	sessions, err := r.sessions.PendingSessions(ctx)
	if err != nil {
		r.log(ctx, "warn", "auth event user lookup failed", withError(event.logFields(), err))
		return nil
	}
	for i := range sessions {
		if strings.TrimSpace(sessions[i].RedirectEventID) == event.EventID {
			return sessions[i].clone()
		}
	}
	return nil
}

func (r *EventRouter) execute(ctx context.Context, event AuthEvent, op OperationType, user *UserSession) {
	handler, err := r.handlerFor(event.Type)
	if err != nil {
		return
	}
	params := IdpTaskParams{
		RequestURI:  event.URLResponse,
		SessionID:   event.SessionID,
		AuthContext: r.authCtx,
		TenantID:    event.TenantID,
		PostBody:    event.PostBody,
		User:        user,
	}
	cred, taskErr := r.runIdpTask(ctx, op, params)
	if taskErr != nil {
		handler.BroadcastResult(event, nil, taskErr)
		r.finish(ctx, event, DispositionTaskFailed, user, taskErr)
		return
	}
	handler.BroadcastResult(event, cred, nil)
	r.finish(ctx, event, DispositionTaskSucceeded, user, nil)
}

// runIdpTask never lets a task failure escape, panics included.
func (r *EventRouter) runIdpTask(ctx context.Context, op OperationType, params IdpTaskParams) (cred *UserCredential, err error) {
	task := r.tasks.taskFor(op)
	if task == nil {
		return nil, newTaskNotConfiguredError(op)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			cred = nil
			err = newTaskPanicError(op, recovered)
		}
	}()
	return task(ctx, params)
}

func (r *EventRouter) fatal(ctx context.Context, event AuthEvent, err error) (bool, error) {
	r.finish(ctx, event, DispositionFatal, nil, err)
	return false, err
}

func (r *EventRouter) finish(ctx context.Context, event AuthEvent, disposition string, user *UserSession, err error) {
	op := event.Type.Operation()
	tags := map[string]string{
		"event_type":  string(event.Type),
		"disposition": disposition,
	}
	r.metrics.IncCounter(ctx, "authflow.route_event.total", 1, tags)

	fields := event.logFields()
	fields["disposition"] = disposition
	if op != "" {
		fields["operation"] = string(op)
	}
	if user != nil {
		fields["uid"] = user.UID
	}
	switch disposition {
	case DispositionFatal:
		r.log(ctx, "error", "auth event has no owning handler", withError(fields, err))
	case DispositionTaskFailed:
		r.log(ctx, "error", "auth event task failed", withError(fields, err))
	case DispositionDroppedStale, DispositionDroppedNoUser, DispositionIgnored:
		if r.logDropped {
			r.log(ctx, "info", "auth event dropped", fields)
		}
	default:
		r.log(ctx, "debug", "auth event routed", fields)
	}

	if r.recorder == nil {
		return
	}
	record := EventRecord{
		Type:        event.Type,
		EventID:     event.EventID,
		TenantID:    event.TenantID,
		Operation:   op,
		Disposition: disposition,
		RecordedAt:  r.now().UTC(),
	}
	if user != nil {
		record.UserID = user.UID
	}
	if err != nil {
		record.Error = err.Error()
	}
	if recErr := r.recorder.Record(ctx, record); recErr != nil {
		r.log(ctx, "warn", "auth event record failed", withError(fields, recErr))
	}
}

func (r *EventRouter) log(ctx context.Context, level string, message string, fields map[string]any) {
	logWithLevel(ctx, r.logger, level, message, fields)
}

func withError(fields map[string]any, err error) map[string]any {
	out := cloneFields(fields)
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}
