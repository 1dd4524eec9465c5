package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-authflow/core"
)

const (
	JobIDDeliverEvent = "authflow.event.deliver"

	scriptDeliverEvent = "authflow/deliver_event"
	dedupPolicyDrop    = "drop"

	paramType        = "event_type"
	paramEventID     = "event_id"
	paramURLResponse = "url_response"
	paramSessionID   = "session_id"
	paramPostBody    = "post_body"
	paramTenantID    = "tenant_id"
	paramError       = "error"
	paramErrorCode   = "error_code"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NackFor returns the nack options for a failed attempt. Delays grow
// linearly with the attempt and are capped by MaxDelay.
func (p RetryPolicy) NackFor(attempt int, reason string) queue.NackOptions {
	out := queue.NackOptions{
		Requeue: true,
		Reason:  strings.TrimSpace(reason),
	}
	if p.BaseDelay > 0 && attempt > 0 {
		out.Delay = p.BaseDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
		if !out.DeadLetter {
			out.Requeue = true
		}
	}
	return out
}

// ToExecutionMessage encodes an auth event as a go-job message. The event id
// doubles as the idempotency key so the queue drops duplicate publishes.
func ToExecutionMessage(event core.AuthEvent) *job.ExecutionMessage {
	params := map[string]any{
		paramType:    string(event.Type),
		paramEventID: strings.TrimSpace(event.EventID),
	}
	setIfPresent(params, paramURLResponse, event.URLResponse)
	setIfPresent(params, paramSessionID, event.SessionID)
	setIfPresent(params, paramPostBody, event.PostBody)
	setIfPresent(params, paramTenantID, event.TenantID)
	if event.Error != nil {
		params[paramError] = event.Error.Error()
		var rich *goerrors.Error
		if goerrors.As(event.Error, &rich) && rich.TextCode != "" {
			params[paramErrorCode] = rich.TextCode
		}
	}

	msg := &job.ExecutionMessage{
		JobID:      JobIDDeliverEvent,
		ScriptPath: scriptDeliverEvent,
		Parameters: params,
	}
	if eventID := strings.TrimSpace(event.EventID); eventID != "" {
		msg.IdempotencyKey = "authflow.event:" + string(event.Type) + ":" + eventID
		msg.DedupPolicy = job.DeduplicationPolicy(dedupPolicyDrop)
	}
	return msg
}

// FromExecutionMessage decodes a message produced by ToExecutionMessage.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.AuthEvent, error) {
	if msg == nil {
		return core.AuthEvent{}, fmt.Errorf("%w: execution message is required", core.ErrBadInput)
	}
	if strings.TrimSpace(msg.JobID) != JobIDDeliverEvent {
		return core.AuthEvent{}, fmt.Errorf("%w: unexpected job id %q", core.ErrBadInput, msg.JobID)
	}
	params := msg.Parameters
	event := core.AuthEvent{
		Type:        core.AuthEventType(stringParam(params, paramType)),
		EventID:     stringParam(params, paramEventID),
		URLResponse: stringParam(params, paramURLResponse),
		SessionID:   stringParam(params, paramSessionID),
		PostBody:    stringParam(params, paramPostBody),
		TenantID:    stringParam(params, paramTenantID),
	}
	if event.Type == "" {
		return core.AuthEvent{}, fmt.Errorf("%w: event type is required", core.ErrBadInput)
	}
	if message := stringParam(params, paramError); message != "" {
		event.Error = decodeEventError(event.EventID, message, stringParam(params, paramErrorCode))
	}
	return event, nil
}

// queuedSentinels maps core text codes back to the sentinel they wrap so
// errors.Is keeps working for the codes core owns.
var queuedSentinels = map[string]error{
	core.ErrorBadInput:          core.ErrBadInput,
	core.ErrorEventIDConflict:   core.ErrEventIDConflict,
	core.ErrorUserMismatch:      core.ErrUserMismatch,
	core.ErrorSessionNotFound:   core.ErrSessionNotFound,
	core.ErrorPopupBlocked:      core.ErrPopupBlocked,
	core.ErrorPopupClosedByUser: core.ErrPopupClosed,
}

func decodeEventError(eventID string, message string, textCode string) error {
	if textCode == core.ErrorPopupClosedByUser {
		return core.NewPopupClosedError(eventID)
	}
	var err *goerrors.Error
	if sentinel, ok := queuedSentinels[textCode]; ok {
		err = goerrors.Wrap(sentinel, goerrors.CategoryExternal, message)
	} else {
		err = goerrors.New(message, goerrors.CategoryExternal)
	}
	if textCode != "" {
		err = err.WithTextCode(textCode)
	}
	if eventID != "" {
		err = err.WithMetadata(map[string]any{"event_id": eventID})
	}
	return err
}

// EventPublisher queues auth events for asynchronous routing.
//
// An event error crosses the queue as its message and text code. The worker
// side rebuilds a go-errors value carrying both; core.HasTextCode holds for
// any code, and errors.Is holds for the core sentinels in queuedSentinels.
// Identity of any other wrapped error is lost.
type EventPublisher struct {
	enqueuer queue.Enqueuer
}

func NewEventPublisher(enqueuer queue.Enqueuer) *EventPublisher {
	return &EventPublisher{enqueuer: enqueuer}
}

func (p *EventPublisher) Publish(ctx context.Context, event core.AuthEvent) error {
	if p == nil || p.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return fmt.Errorf("%w: event type is required", core.ErrBadInput)
	}
	return p.enqueuer.Enqueue(ctx, ToExecutionMessage(event))
}

// OnEvent lets the publisher stand in for a core.EventSink: the event is
// queued and reported as handled.
func (p *EventPublisher) OnEvent(ctx context.Context, event core.AuthEvent) (bool, error) {
	if err := p.Publish(ctx, event); err != nil {
		return false, err
	}
	return true, nil
}

// Outcome is what ProcessNext did with one delivery.
type Outcome string

const (
	OutcomeAcked       Outcome = "acked"
	OutcomeRequeued    Outcome = "requeued"
	OutcomeDeadLetter  Outcome = "dead_letter"
	OutcomeUndecodable Outcome = "undecodable"
)

// DeliveryWorker dequeues auth events and routes them to the sink. Routing
// errors are retried per the policy; fatal ones are dead-lettered at once.
type DeliveryWorker struct {
	dequeuer queue.Dequeuer
	sink     core.EventSink
	policy   RetryPolicy
	hook     worker.Hook
	logger   core.Logger

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*DeliveryWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *DeliveryWorker) {
		w.policy = policy
	}
}

func WithWorkerHook(hook worker.Hook) WorkerOption {
	return func(w *DeliveryWorker) {
		w.hook = hook
	}
}

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *DeliveryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewDeliveryWorker(dequeuer queue.Dequeuer, sink core.EventSink, opts ...WorkerOption) *DeliveryWorker {
	w := &DeliveryWorker{
		dequeuer: dequeuer,
		sink:     sink,
		policy:   RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, DeadLetterOnMax: true},
		logger:   glog.Ensure(nil),
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// ProcessNext handles exactly one delivery.
func (w *DeliveryWorker) ProcessNext(ctx context.Context) (Outcome, error) {
	if w == nil || w.dequeuer == nil || w.sink == nil {
		return "", fmt.Errorf("gojob: delivery worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return "", err
	}
	msg := delivery.Message()
	startedAt := time.Now()

	event, err := FromExecutionMessage(msg)
	if err != nil {
		w.logger.Warn("auth event job undecodable", "error", err.Error())
		if nackErr := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()}); nackErr != nil {
			return OutcomeUndecodable, nackErr
		}
		return OutcomeUndecodable, nil
	}

	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	w.emit(ctx, "start", worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt})

	_, routeErr := w.sink.OnEvent(ctx, event)
	if routeErr == nil {
		w.clearAttempts(key)
		w.emit(ctx, "success", worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt, Duration: time.Since(startedAt)})
		return OutcomeAcked, delivery.Ack(ctx)
	}

	opts := w.policy.NackFor(attempt, routeErr.Error())
	if core.IsFatal(routeErr) {
		opts = queue.NackOptions{DeadLetter: true, Reason: routeErr.Error()}
	}
	failure := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		Delay:     opts.Delay,
		Err:       routeErr,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}
	outcome := OutcomeRequeued
	if opts.Requeue && !opts.DeadLetter {
		w.emit(ctx, "retry", failure)
	} else {
		outcome = OutcomeDeadLetter
		w.clearAttempts(key)
		w.emit(ctx, "failure", failure)
	}
	if err := delivery.Nack(ctx, opts); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// Run processes deliveries until ctx ends or the dequeuer fails.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (w *DeliveryWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *DeliveryWorker) clearAttempts(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

func (w *DeliveryWorker) emit(ctx context.Context, phase string, event worker.Event) {
	if w.hook == nil {
		return
	}
	switch phase {
	case "start":
		w.hook.OnStart(ctx, event)
	case "success":
		w.hook.OnSuccess(ctx, event)
	case "retry":
		w.hook.OnRetry(ctx, event)
	case "failure":
		w.hook.OnFailure(ctx, event)
	}
}

// LoggingHook reports worker lifecycle events through a core.Logger.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("auth event delivery started", eventArgs(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Debug("auth event delivered", eventArgs(event)...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("auth event delivery dead-lettered", eventArgs(event)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("auth event delivery retrying", eventArgs(event)...)
}

func eventArgs(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	args := []any{"attempt", event.Attempt}
	if message != nil {
		args = append(args,
			"job_id", message.JobID,
			"event_id", stringParam(message.Parameters, paramEventID),
			"event_type", stringParam(message.Parameters, paramType),
		)
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return stringParam(msg.Parameters, paramType) + ":" + stringParam(msg.Parameters, paramEventID)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func setIfPresent(params map[string]any, key string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		params[key] = trimmed
	}
}

var (
	_ core.EventSink = (*EventPublisher)(nil)
	_ worker.Hook    = (*LoggingHook)(nil)
)
