package communication

import (
	"context"
	"errors"

	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Environment carries what is needed to create proxies for one connection:
// the communication, the executor calls go through, the connection they are sent on
// and the connection-scoped type resolver.
type Environment struct {
	Communication Communication
	Executor      Executor
	Invoker       Invoker
	Resolver      *typeresolver.Chain
	// LoginInfo is set for stateless environments. Proxies created from it re-supply it on each call.
	LoginInfo *session.LoginInfo

	// stateless entry owned by the environment, nil when the connection belongs to a session
	stateless StatelessEntry
}

// Close releases the stateless entry obtained by NewStatelessEnvironment.
// Proxies of the environment can't be used afterwards.
func (env *Environment) Close() error {
	if env.stateless == nil {
		return nil
	}
	return env.stateless.Close()
}

// NewProxy resolves the service interfaces and creates a stateful or stateless proxy for it
func (env *Environment) NewProxy(ctx context.Context, descriptor *ServiceDescriptor) (*Proxy, error) {
	if env.Communication == nil || env.Resolver == nil {
		return nil, errors.New("environment is missing a communication or resolver")
	}
	types, err := env.Resolver.ResolveAll(ctx, descriptor.Interfaces...)
	if err != nil {
		return nil, err
	}
	if env.LoginInfo != nil {
		return env.Communication.CreateStatelessProxy(env.Executor, env, descriptor.Name, types, env.LoginInfo), nil
	}
	return env.Communication.CreateStatefulProxy(env.Executor, env, descriptor.Name, types), nil
}

// NewStatelessEnvironment obtains a stateless entry from the communication and creates the
// environment for its proxies. Each proxy call re-supplies the login info.
// Close the environment when done.
//  executor the proxy calls go through
//  localTypes are the types compiled into the client, resolved last
func NewStatelessEnvironment(ctx context.Context, comm Communication, info *session.LoginInfo,
	executor Executor, localTypes ...*typeresolver.Type) (*Environment, error) {
	if info == nil {
		return nil, errors.New("stateless environment requires login info")
	}
	entry, err := comm.GetStatelessEntry(ctx, info)
	if err != nil {
		return nil, err
	}
	env := &Environment{
		Communication: comm,
		Executor:      executor,
		Invoker:       entry,
		Resolver:      NewResolverChain(comm, info, entry.ResolveType, entry.Codebase(), localTypes...),
		LoginInfo:     info,
		stateless:     entry,
	}
	return env, nil
}
