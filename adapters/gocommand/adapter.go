package gocommand

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-authflow/command"
	"github.com/goliatone/go-authflow/core"
	"github.com/goliatone/go-authflow/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(gocmd.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *gocmd.Registry
}

func NewRegistryAdapter(registry *gocmd.Registry) *RegistryAdapter {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *gocmd.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered handlers into a go-job queue registry
// so auth commands can also be run from the queue worker.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func RegisterCommand[T any](adapter *RegistryAdapter, cmd gocmd.Commander[T], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	if err := adapter.register(cmd); err != nil {
		return nil, err
	}
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...), nil
}

func RegisterQuery[T any, R any](adapter *RegistryAdapter, qry gocmd.Querier[T, R], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	if err := adapter.register(qry); err != nil {
		return nil, err
	}
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...), nil
}

// FlowHandlers lists what RegisterFlowHandlers wires. Only Service is
// required; the rest enable the matching command or query.
type FlowHandlers struct {
	Service  *core.Service
	Aborter  command.PopupAborter
	Sessions query.UserSessionReader
	EventLog query.EventLogReader
	Runner   []runner.Option
}

// Subscriptions is the set of dispatcher subscriptions owned by a registration.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterFlowHandlers subscribes the authflow commands and queries on the
// go-command dispatcher and registers them with the adapter's registry.
func RegisterFlowHandlers(adapter *RegistryAdapter, handlers FlowHandlers) (Subscriptions, error) {
	if handlers.Service == nil {
		return nil, fmt.Errorf("gocommand: flow service is required")
	}
	svc := handlers.Service
	opts := handlers.Runner

	var subs Subscriptions
	add := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	if err := add(RegisterCommand[command.StartPopupMessage](adapter, command.NewStartPopupCommand(svc), opts...)); err != nil {
		return nil, err
	}
	if err := add(RegisterCommand[command.StartRedirectMessage](adapter, command.NewStartRedirectCommand(svc), opts...)); err != nil {
		return nil, err
	}
	if err := add(RegisterCommand[command.ResolveRedirectMessage](adapter, command.NewResolveRedirectCommand(svc), opts...)); err != nil {
		return nil, err
	}
	if err := add(RegisterCommand[command.DeliverEventMessage](adapter, command.NewDeliverEventCommand(svc), opts...)); err != nil {
		return nil, err
	}
	if err := add(RegisterQuery[query.GetRedirectResultMessage, *core.UserCredential](adapter, query.NewGetRedirectResultQuery(svc), opts...)); err != nil {
		return nil, err
	}
	if handlers.Aborter != nil {
		if err := add(RegisterCommand[command.AbortPopupMessage](adapter, command.NewAbortPopupCommand(handlers.Aborter), opts...)); err != nil {
			return nil, err
		}
	}
	if handlers.Sessions != nil {
		if err := add(RegisterQuery[query.GetUserSessionMessage, core.UserSession](adapter, query.NewGetUserSessionQuery(handlers.Sessions), opts...)); err != nil {
			return nil, err
		}
	}
	if handlers.EventLog != nil {
		if err := add(RegisterQuery[query.ListAuthEventsMessage, []core.EventRecord](adapter, query.NewListAuthEventsQuery(handlers.EventLog), opts...)); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// StartPopup dispatches a StartPopupMessage and returns the stored result.
func StartPopup(ctx context.Context, msg command.StartPopupMessage) (command.PopupStarted, error) {
	return dispatchWithResult[command.StartPopupMessage, command.PopupStarted](ctx, msg)
}

func StartRedirect(ctx context.Context, msg command.StartRedirectMessage) (command.RedirectStarted, error) {
	return dispatchWithResult[command.StartRedirectMessage, command.RedirectStarted](ctx, msg)
}

func DeliverEvent(ctx context.Context, event core.AuthEvent) (command.EventDelivered, error) {
	return dispatchWithResult[command.DeliverEventMessage, command.EventDelivered](ctx, command.DeliverEventMessage{Event: event})
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func dispatchWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := commanddispatcher.Dispatch(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	result, ok := collector.Load()
	if !ok {
		return zero, fmt.Errorf("gocommand: %T produced no result", msg)
	}
	return result, nil
}
