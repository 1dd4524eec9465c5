package core

import (
	"context"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service is the caller-facing entry point: it starts popup and redirect
// flows and feeds inbound events to the router.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	initiator       Initiator
	sessions        UserSessionHost
	authContext     AuthContext
	newEventID      EventIDGenerator
	router          *EventRouter

	initMu sync.Mutex
}

// PopupRequest starts a popup flow. UID names the cached user for link and
// reauthenticate. An empty EventID is generated.
type PopupRequest struct {
	Operation OperationType
	Provider  Provider
	UID       string
	EventID   string
}

// RedirectRequest starts a redirect flow.
type RedirectRequest struct {
	Operation OperationType
	Provider  Provider
	UID       string
	EventID   string
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve(defaultServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil && builder.logger == nil {
		if named := provider.GetLogger(defaultServiceName); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.initiator == nil {
		return nil, mapBuildError(builder.errorMapper, newBadInputError("core: initiator is required", nil))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	eventIDs := builder.eventIDs
	if eventIDs == nil {
		prefix := finalConfig.Popup.EventIDPrefix
		eventIDs = func() string { return prefix + uuid.NewString() }
	}

	router := NewEventRouter(RouterDependencies{
		Popup:           NewPopupOutcomeHandler(),
		Redirect:        NewRedirectOutcomeHandler(!finalConfig.Redirect.DiscardSettledResult),
		Tasks:           builder.tasks,
		Sessions:        builder.sessions,
		AuthContext:     builder.authContext,
		Recorder:        builder.recorder,
		Logger:          logger,
		MetricsRecorder: builder.metricsRecorder,
		LogDropped:      !finalConfig.Events.QuietDrops,
	})

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		initiator:       builder.initiator,
		sessions:        builder.sessions,
		authContext:     builder.authContext,
		newEventID:      eventIDs,
		router:          router,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Router() *EventRouter {
	if s == nil {
		return nil
	}
	return s.router
}

// MapError converts err with the configured error mapper.
func (s *Service) MapError(err error) error {
	if s == nil {
		return err
	}
	return mapBuildError(s.errorMapper, err)
}

// StartPopup opens a provider popup and returns the operation that settles
// when the matching event is routed.
func (s *Service) StartPopup(ctx context.Context, req PopupRequest) (op *PendingOperation, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"provider_id": req.Provider.ID,
		"flow":        "popup",
	}
	defer func() {
		if op != nil {
			fields["event_id"] = op.EventID()
		}
		s.observeOperation(ctx, startedAt, "start_popup", err, fields)
	}()

	if err := s.validateFlow(req.Operation, req.Provider, req.UID); err != nil {
		return nil, err
	}
	authType := PopupEventType(req.Operation)
	eventID := s.eventIDFor(req.EventID)
	fields["event_type"] = string(authType)

	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := s.markUser(ctx, req.Operation, req.UID, eventID); err != nil {
		return nil, err
	}

	op, err = s.router.Popup().NewPendingOperation(ctx, eventID, authType, func(ctx context.Context) error {
		handle, openErr := s.initiator.OpenPopup(ctx, s.authContext, req.Provider, authType, eventID)
		if openErr != nil {
			return openErr
		}
		if handle.URL != "" {
			fields["popup_url"] = handle.URL
		}
		return nil
	})
	if err != nil {
		s.unmarkUser(ctx, req.Operation, req.UID, eventID)
		return nil, err
	}
	return op, nil
}

func (s *Service) SignInWithPopup(ctx context.Context, provider Provider) (*UserCredential, error) {
	return s.runPopup(ctx, PopupRequest{Operation: OperationSignIn, Provider: provider})
}

func (s *Service) LinkWithPopup(ctx context.Context, uid string, provider Provider) (*UserCredential, error) {
	return s.runPopup(ctx, PopupRequest{Operation: OperationLink, Provider: provider, UID: uid})
}

func (s *Service) ReauthenticateWithPopup(ctx context.Context, uid string, provider Provider) (*UserCredential, error) {
	return s.runPopup(ctx, PopupRequest{Operation: OperationReauthenticate, Provider: provider, UID: uid})
}

func (s *Service) runPopup(ctx context.Context, req PopupRequest) (*UserCredential, error) {
	op, err := s.StartPopup(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// StartRedirect begins navigation. The flow never completes locally; its
// result is observed through GetRedirectResult after the reload.
func (s *Service) StartRedirect(ctx context.Context, req RedirectRequest) (eventID string, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"provider_id": req.Provider.ID,
		"flow":        "redirect",
	}
	defer func() {
		fields["event_id"] = eventID
		s.observeOperation(ctx, startedAt, "start_redirect", err, fields)
	}()

	if err := s.validateFlow(req.Operation, req.Provider, req.UID); err != nil {
		return "", err
	}
	authType := RedirectEventType(req.Operation)
	eventID = s.eventIDFor(req.EventID)
	fields["event_type"] = string(authType)

	if err := s.ensureInitialized(ctx); err != nil {
		return "", err
	}
	if err := s.markUser(ctx, req.Operation, req.UID, eventID); err != nil {
		return "", err
	}
	s.router.Redirect().Reset()
	if err := s.initiator.ProcessRedirect(ctx, s.authContext, req.Provider, authType, eventID); err != nil {
		s.unmarkUser(ctx, req.Operation, req.UID, eventID)
		return "", err
	}
	return eventID, nil
}

func (s *Service) SignInWithRedirect(ctx context.Context, provider Provider) (string, error) {
	return s.StartRedirect(ctx, RedirectRequest{Operation: OperationSignIn, Provider: provider})
}

func (s *Service) LinkWithRedirect(ctx context.Context, uid string, provider Provider) (string, error) {
	return s.StartRedirect(ctx, RedirectRequest{Operation: OperationLink, Provider: provider, UID: uid})
}

func (s *Service) ReauthenticateWithRedirect(ctx context.Context, uid string, provider Provider) (string, error) {
	return s.StartRedirect(ctx, RedirectRequest{Operation: OperationReauthenticate, Provider: provider, UID: uid})
}

// RedirectResult returns the redirect operation without waiting. Repeated
// calls before settlement return the same operation and initialize once.
func (s *Service) RedirectResult(ctx context.Context) *PendingOperation {
	return s.router.Redirect().GetRedirectPromiseOrInit(ctx, s.ensureInitialized)
}

// GetRedirectResult waits for the redirect operation. A nil credential with
// a nil error means no redirect result exists.
func (s *Service) GetRedirectResult(ctx context.Context) (cred *UserCredential, err error) {
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "get_redirect_result", err, map[string]any{"flow": "redirect"})
	}()
	return s.RedirectResult(ctx).Wait(ctx)
}

// ResolveRedirectWithoutResult settles the redirect operation with no
// credential. Hosts call it once they know no redirect event will arrive. It
// reports false and changes nothing when a result is already settled.
func (s *Service) ResolveRedirectWithoutResult(ctx context.Context) bool {
	settled := s.router.Redirect().resolveEmpty()
	s.logInfo(ctx, "redirect resolved without result", map[string]any{"settled": settled})
	return settled
}

// OnEvent routes one inbound event.
func (s *Service) OnEvent(ctx context.Context, event AuthEvent) (handled bool, err error) {
	startedAt := time.Now()
	defer func() {
		fields := event.logFields()
		fields["handled"] = handled
		s.observeOperation(ctx, startedAt, "on_event", err, fields)
	}()
	handled, err = s.router.OnEvent(ctx, event)
	if err == nil {
		s.releaseUser(ctx, event)
	}
	return handled, err
}

func (s *Service) ensureInitialized(ctx context.Context) error {
	if s.initiator.IsInitialized() {
		return nil
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initiator.IsInitialized() {
		return nil
	}
	if err := s.initiator.InitializeAndWait(ctx, s.authContext); err != nil {
		return newInitializationError(err)
	}
	return nil
}

func (s *Service) validateFlow(op OperationType, provider Provider, uid string) error {
	if !op.Valid() {
		return newBadInputError("core: operation type is invalid", map[string]any{"operation": string(op)})
	}
	if err := provider.Validate(); err != nil {
		return newBadInputError("core: provider is invalid", map[string]any{"error": err.Error()})
	}
	if op == OperationSignIn {
		return nil
	}
	if strings.TrimSpace(uid) == "" {
		return newBadInputError("core: uid is required for "+string(op), map[string]any{"operation": string(op)})
	}
	if s.sessions == nil {
		return newBadInputError("core: user session host is required for "+string(op), map[string]any{"operation": string(op)})
	}
	return nil
}

func (s *Service) eventIDFor(requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	return s.newEventID()
}

// markUser records the event id on the session so the router can resolve it
// as the potential user of the inbound event.
func (s *Service) markUser(ctx context.Context, op OperationType, uid string, eventID string) error {
	if op == OperationSignIn {
		return nil
	}
	return s.sessions.SetRedirectEventID(ctx, strings.TrimSpace(uid), eventID)
}

// unmarkUser clears the marker of a flow that failed to start.
func (s *Service) unmarkUser(ctx context.Context, op OperationType, uid string, eventID string) {
	if op == OperationSignIn || s.sessions == nil {
		return
	}
	s.clearMarker(ctx, strings.TrimSpace(uid), eventID)
}

// releaseUser clears the marker of every session correlated with a routed
// link or reauth event, so a replay of that event finds no user.
func (s *Service) releaseUser(ctx context.Context, event AuthEvent) {
	op := event.Type.Operation()
	if s.sessions == nil || event.EventID == "" || (op != OperationLink && op != OperationReauthenticate) {
		return
	}
	sessions, err := s.sessions.PendingSessions(ctx)
	if err != nil {
		s.logError(ctx, "release user session lookup failed", withError(event.logFields(), err))
		return
	}
	for _, session := range sessions {
		if strings.TrimSpace(session.RedirectEventID) == event.EventID {
			s.clearMarker(ctx, session.UID, event.EventID)
		}
	}
}

func (s *Service) clearMarker(ctx context.Context, uid string, eventID string) {
	if err := s.sessions.SetRedirectEventID(ctx, uid, ""); err != nil {
		s.logError(ctx, "clear user session marker failed", withError(map[string]any{
			"uid":      uid,
			"event_id": eventID,
		}, err))
	}
}
