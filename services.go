package authflow

import "github.com/goliatone/go-authflow/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type EventRouter = core.EventRouter

type PendingOperation = core.PendingOperation

type AuthEvent = core.AuthEvent

type AuthEventType = core.AuthEventType

type OperationType = core.OperationType

type AuthContext = core.AuthContext

type Provider = core.Provider

type UserSession = core.UserSession

type UserCredential = core.UserCredential

type PopupRequest = core.PopupRequest

type RedirectRequest = core.RedirectRequest

type Initiator = core.Initiator
type UserSessionHost = core.UserSessionHost
type EventSink = core.EventSink
type EventRecorder = core.EventRecorder
type EventRecord = core.EventRecord
type IdpTasks = core.IdpTasks
type IdpTaskParams = core.IdpTaskParams

const (
	AuthEventSignInViaPopup    = core.AuthEventSignInViaPopup
	AuthEventSignInViaRedirect = core.AuthEventSignInViaRedirect
	AuthEventLinkViaPopup      = core.AuthEventLinkViaPopup
	AuthEventLinkViaRedirect   = core.AuthEventLinkViaRedirect
	AuthEventReauthViaPopup    = core.AuthEventReauthViaPopup
	AuthEventReauthViaRedirect = core.AuthEventReauthViaRedirect

	OperationSignIn         = core.OperationSignIn
	OperationLink           = core.OperationLink
	OperationReauthenticate = core.OperationReauthenticate
)

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithInitiator        = core.WithInitiator
	WithUserSessionHost  = core.WithUserSessionHost
	WithIdpTasks         = core.WithIdpTasks
	WithAuthContext      = core.WithAuthContext
	WithEventRecorder    = core.WithEventRecorder
	WithEventIDGenerator = core.WithEventIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
