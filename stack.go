package authflow

import (
	"fmt"
	"net/http"

	"github.com/goliatone/go-authflow/hosted"
	"github.com/goliatone/go-authflow/inbound"
	"github.com/goliatone/go-authflow/providers"
	"github.com/goliatone/go-authflow/query"
)

// StackConfig describes a hosted deployment: the initiator opens IdP pages,
// callbacks come back through the inbound dispatcher.
type StackConfig struct {
	Config     Config
	Exchangers []*providers.OAuth2Exchanger
	Hooks      *ExtensionHooks
	Sessions   UserSessionHost
	ClaimStore inbound.ClaimStore

	InitiatorOptions []hosted.Option
	HandlerOptions   []inbound.HandlerOption
	Options          []Option
}

type Stack struct {
	Service    *Service
	Initiator  *hosted.Initiator
	Idps       *providers.Registry
	Dispatcher *inbound.Dispatcher
	Facade     *Facade
	Callback   http.Handler
}

func NewHostedStack(cfg StackConfig) (*Stack, error) {
	initiator := hosted.NewInitiator(cfg.InitiatorOptions...)
	registry, err := providers.NewRegistry(initiator)
	if err != nil {
		return nil, err
	}
	for _, exchanger := range cfg.Exchangers {
		if exchanger == nil {
			return nil, fmt.Errorf("authflow: nil idp exchanger")
		}
		if err := registry.Register(exchanger); err != nil {
			return nil, err
		}
		if err := initiator.Register(exchanger.ID(), exchanger); err != nil {
			return nil, err
		}
	}
	if err := cfg.Hooks.ApplyIdpPacks(registry, initiator); err != nil {
		return nil, err
	}
	if len(registry.IDs()) == 0 {
		return nil, fmt.Errorf("authflow: at least one idp exchanger is required")
	}

	opts := append([]Option(nil), cfg.Options...)
	opts = append(opts, WithInitiator(initiator), WithIdpTasks(registry.Tasks()))
	if cfg.Sessions != nil {
		opts = append(opts, WithUserSessionHost(cfg.Sessions))
	}
	service, err := NewService(cfg.Config, opts...)
	if err != nil {
		return nil, err
	}
	initiator.Bind(service)

	claims := cfg.ClaimStore
	if claims == nil {
		claims = inbound.NewInMemoryClaimStore()
	}
	dispatcher := inbound.NewDispatcher(service, initiator, claims)

	facadeOpts := []FacadeOption{WithPopupAborter(initiator)}
	if reader, ok := cfg.Sessions.(query.UserSessionReader); ok {
		facadeOpts = append(facadeOpts, WithSessionReader(reader))
	}
	facade, err := NewFacade(service, facadeOpts...)
	if err != nil {
		return nil, err
	}

	return &Stack{
		Service:    service,
		Initiator:  initiator,
		Idps:       registry,
		Dispatcher: dispatcher,
		Facade:     facade,
		Callback:   inbound.NewCallbackHandler(dispatcher, cfg.HandlerOptions...),
	}, nil
}
