package authflow

import (
	"fmt"
	"reflect"

	"github.com/goliatone/go-authflow/command"
	"github.com/goliatone/go-authflow/query"
)

type Commands struct {
	StartPopup      *command.StartPopupCommand
	AbortPopup      *command.AbortPopupCommand
	StartRedirect   *command.StartRedirectCommand
	ResolveRedirect *command.ResolveRedirectCommand
	DeliverEvent    *command.DeliverEventCommand
}

// Queries holds the query handlers. GetUserSession and ListAuthEvents are nil
// unless a reader was configured or discovered.
type Queries struct {
	GetRedirectResult *query.GetRedirectResultQuery
	GetUserSession    *query.GetUserSessionQuery
	ListAuthEvents    *query.ListAuthEventsQuery
}

type Facade struct {
	service  *Service
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	sessions          query.UserSessionReader
	eventLog          query.EventLogReader
	aborter           command.PopupAborter
	repositoryFactory any
}

func WithSessionReader(reader query.UserSessionReader) FacadeOption {
	return func(o *facadeOptions) {
		o.sessions = reader
	}
}

func WithEventLogReader(reader query.EventLogReader) FacadeOption {
	return func(o *facadeOptions) {
		o.eventLog = reader
	}
}

func WithPopupAborter(aborter command.PopupAborter) FacadeOption {
	return func(o *facadeOptions) {
		o.aborter = aborter
	}
}

// WithRepositoryFactory lets the facade pick readers from a store factory
// exposing UserSessionStore() and EventLogStore() accessors.
func WithRepositoryFactory(factory any) FacadeOption {
	return func(o *facadeOptions) {
		o.repositoryFactory = factory
	}
}

func NewFacade(service *Service, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("authflow: service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	sessions := cfg.sessions
	if sessions == nil {
		sessions, _ = resolveFromFactory[query.UserSessionReader](cfg.repositoryFactory, "UserSessionStore")
	}
	eventLog := cfg.eventLog
	if eventLog == nil {
		eventLog, _ = resolveFromFactory[query.EventLogReader](cfg.repositoryFactory, "EventLogStore")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		StartPopup:      command.NewStartPopupCommand(service),
		StartRedirect:   command.NewStartRedirectCommand(service),
		ResolveRedirect: command.NewResolveRedirectCommand(service),
		DeliverEvent:    command.NewDeliverEventCommand(service),
	}
	if cfg.aborter != nil {
		facade.commands.AbortPopup = command.NewAbortPopupCommand(cfg.aborter)
	}
	facade.queries = Queries{
		GetRedirectResult: query.NewGetRedirectResultQuery(service),
	}
	if sessions != nil {
		facade.queries.GetUserSession = query.NewGetUserSessionQuery(sessions)
	}
	if eventLog != nil {
		facade.queries.ListAuthEvents = query.NewListAuthEventsQuery(eventLog)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() *Service {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveFromFactory[T any](factory any, accessor string) (T, bool) {
	var zero T
	if factory == nil {
		return zero, false
	}
	factoryValue := reflect.ValueOf(factory)
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return zero, false
	}
	method := factoryValue.MethodByName(accessor)
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return zero, false
	}

	results, ok := safeReflectCall(method)
	if !ok || len(results) != 1 {
		return zero, false
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return zero, false
	}
	switch candidate.Kind() {
	case reflect.Ptr, reflect.Interface:
		if candidate.IsNil() {
			return zero, false
		}
	}
	typed, ok := candidate.Interface().(T)
	return typed, ok
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
