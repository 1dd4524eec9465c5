package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-authflow/core"
)

type FlowService interface {
	StartPopup(ctx context.Context, req core.PopupRequest) (*core.PendingOperation, error)
	StartRedirect(ctx context.Context, req core.RedirectRequest) (string, error)
	ResolveRedirectWithoutResult(ctx context.Context) bool
	OnEvent(ctx context.Context, event core.AuthEvent) (bool, error)
}

// PopupAborter is implemented by initiators that can report a popup the user
// closed, e.g. hosted.Initiator.
type PopupAborter interface {
	Abort(ctx context.Context, eventID string) (bool, error)
}

type PopupStarted struct {
	EventID   string
	Operation *core.PendingOperation
}

type RedirectStarted struct {
	EventID string
}

type EventDelivered struct {
	EventID string
	Handled bool
}

type StartPopupCommand struct {
	service FlowService
}

func NewStartPopupCommand(service FlowService) *StartPopupCommand {
	return &StartPopupCommand{service: service}
}

func (c *StartPopupCommand) Execute(ctx context.Context, msg StartPopupMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: popup flow service is required")
	}
	op, err := c.service.StartPopup(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, PopupStarted{EventID: op.EventID(), Operation: op})
	return nil
}

type AbortPopupCommand struct {
	aborter PopupAborter
}

func NewAbortPopupCommand(aborter PopupAborter) *AbortPopupCommand {
	return &AbortPopupCommand{aborter: aborter}
}

func (c *AbortPopupCommand) Execute(ctx context.Context, msg AbortPopupMessage) error {
	if c == nil || c.aborter == nil {
		return commandDependencyError("command: popup aborter is required")
	}
	handled, err := c.aborter.Abort(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, handled)
	return nil
}

type StartRedirectCommand struct {
	service FlowService
}

func NewStartRedirectCommand(service FlowService) *StartRedirectCommand {
	return &StartRedirectCommand{service: service}
}

func (c *StartRedirectCommand) Execute(ctx context.Context, msg StartRedirectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: redirect flow service is required")
	}
	eventID, err := c.service.StartRedirect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, RedirectStarted{EventID: eventID})
	return nil
}

type ResolveRedirectCommand struct {
	service FlowService
}

func NewResolveRedirectCommand(service FlowService) *ResolveRedirectCommand {
	return &ResolveRedirectCommand{service: service}
}

func (c *ResolveRedirectCommand) Execute(ctx context.Context, _ ResolveRedirectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: redirect flow service is required")
	}
	storeResult(ctx, c.service.ResolveRedirectWithoutResult(ctx))
	return nil
}

// DeliverEventCommand feeds one inbound event to the router. The fatal
// no-owning-handler error is returned as is so callers can test it with
// core.IsFatal.
type DeliverEventCommand struct {
	service FlowService
}

func NewDeliverEventCommand(service FlowService) *DeliverEventCommand {
	return &DeliverEventCommand{service: service}
}

func (c *DeliverEventCommand) Execute(ctx context.Context, msg DeliverEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event sink service is required")
	}
	handled, err := c.service.OnEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, EventDelivered{EventID: msg.Event.EventID, Handled: handled})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
