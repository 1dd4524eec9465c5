package providers

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/goliatone/go-authflow/core"
)

// Tasks binds the exchanger to the three IdP tasks the router runs.
func (e *OAuth2Exchanger) Tasks() core.IdpTasks {
	return core.IdpTasks{
		SignIn:         e.SignIn,
		Link:           e.Link,
		Reauthenticate: e.Reauthenticate,
	}
}

func (e *OAuth2Exchanger) SignIn(ctx context.Context, params core.IdpTaskParams) (*core.UserCredential, error) {
	cred, err := e.Exchange(ctx, params)
	if err != nil {
		return nil, err
	}
	cred.OperationType = core.OperationSignIn
	return cred, nil
}

// Link attaches this provider to params.User. The returned credential carries
// the updated user session.
func (e *OAuth2Exchanger) Link(ctx context.Context, params core.IdpTaskParams) (*core.UserCredential, error) {
	if params.User == nil {
		return nil, newUserRequiredError(string(core.OperationLink))
	}
	if slices.Contains(params.User.ProviderIDs, e.ID()) {
		return nil, newAlreadyLinkedError(params.User.UID, e.ID())
	}
	cred, err := e.Exchange(ctx, params)
	if err != nil {
		return nil, err
	}

	linked := *params.User
	linked.ProviderIDs = append(append([]string(nil), params.User.ProviderIDs...), e.ID())
	slices.Sort(linked.ProviderIDs)
	linked.Metadata = mergeMetadata(params.User.Metadata, cred.User)
	cred.User = &linked
	cred.OperationType = core.OperationLink
	return cred, nil
}

// Reauthenticate requires the IdP subject to match the user being
// reauthenticated.
func (e *OAuth2Exchanger) Reauthenticate(ctx context.Context, params core.IdpTaskParams) (*core.UserCredential, error) {
	if params.User == nil {
		return nil, newUserRequiredError(string(core.OperationReauthenticate))
	}
	cred, err := e.Exchange(ctx, params)
	if err != nil {
		return nil, err
	}
	subject := ""
	if cred.User != nil {
		subject = cred.User.UID
	}
	if subject != params.User.UID {
		return nil, core.NewUserMismatchError(params.User.UID, subject)
	}

	user := *params.User
	user.ProviderIDs = append([]string(nil), params.User.ProviderIDs...)
	user.Metadata = mergeMetadata(params.User.Metadata, cred.User)
	cred.User = &user
	cred.OperationType = core.OperationReauthenticate
	return cred, nil
}

func mergeMetadata(base map[string]any, fromIdp *core.UserSession) map[string]any {
	out := make(map[string]any, len(base))
	for key, value := range base {
		out[key] = value
	}
	if fromIdp == nil {
		return out
	}
	for key, value := range fromIdp.Metadata {
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
	return out
}

// ProviderResolver maps an event id back to the provider that started it.
type ProviderResolver interface {
	ProviderFor(eventID string) (string, bool)
}

// Registry holds one exchanger per provider and routes each callback to the
// exchanger that started the flow, using the OAuth state as the event id.
type Registry struct {
	exchangers map[string]*OAuth2Exchanger
	resolver   ProviderResolver
}

func NewRegistry(resolver ProviderResolver, exchangers ...*OAuth2Exchanger) (*Registry, error) {
	registry := &Registry{
		exchangers: make(map[string]*OAuth2Exchanger, len(exchangers)),
		resolver:   resolver,
	}
	for _, exchanger := range exchangers {
		if err := registry.Register(exchanger); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(exchanger *OAuth2Exchanger) error {
	if exchanger == nil {
		return fmt.Errorf("providers: exchanger is nil")
	}
	id := exchanger.ID()
	if _, exists := r.exchangers[id]; exists {
		return fmt.Errorf("providers: provider already registered: %s", id)
	}
	r.exchangers[id] = exchanger
	return nil
}

func (r *Registry) Get(providerID string) (*OAuth2Exchanger, bool) {
	exchanger, ok := r.exchangers[strings.ToLower(strings.TrimSpace(providerID))]
	return exchanger, ok
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.exchangers))
	for id := range r.exchangers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Tasks() core.IdpTasks {
	return core.IdpTasks{
		SignIn:         r.dispatch((*OAuth2Exchanger).SignIn),
		Link:           r.dispatch((*OAuth2Exchanger).Link),
		Reauthenticate: r.dispatch((*OAuth2Exchanger).Reauthenticate),
	}
}

func (r *Registry) dispatch(task func(*OAuth2Exchanger, context.Context, core.IdpTaskParams) (*core.UserCredential, error)) core.IdpTask {
	return func(ctx context.Context, params core.IdpTaskParams) (*core.UserCredential, error) {
		exchanger, err := r.resolve(params)
		if err != nil {
			return nil, err
		}
		return task(exchanger, ctx, params)
	}
}

func (r *Registry) resolve(params core.IdpTaskParams) (*OAuth2Exchanger, error) {
	if len(r.exchangers) == 1 {
		for _, exchanger := range r.exchangers {
			return exchanger, nil
		}
	}
	response, err := ParseCallbackResponse(params.RequestURI, params.PostBody)
	if err != nil {
		return nil, err
	}
	if r.resolver != nil && response.State != "" {
		if providerID, ok := r.resolver.ProviderFor(response.State); ok {
			if exchanger, found := r.Get(providerID); found {
				return exchanger, nil
			}
			return nil, fmt.Errorf("%w: provider %q is not registered", core.ErrBadInput, providerID)
		}
	}
	return nil, fmt.Errorf("%w: no provider matches callback state %q", core.ErrBadInput, response.State)
}
