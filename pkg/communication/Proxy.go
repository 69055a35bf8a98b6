package communication

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Proxy is the client side representation of a remote service.
// Every call is turned into an Invocation and forwarded through the executor.
//
// Typed stubs wrap a proxy, for example:
//   func (s *EchoStub) Echo(ctx context.Context, text string) (reply string, err error) {
//       err = s.proxy.CallInto(ctx, &reply, "echo", text)
//       return reply, err
//   }
type Proxy struct {
	service    string
	interfaces []*typeresolver.Type
	executor   Executor
	env        *Environment
	// loginInfo is re-supplied with each call of a stateless proxy
	loginInfo *session.LoginInfo
}

// Service name of the remote service
func (p *Proxy) Service() string { return p.service }

// Interfaces implemented by the proxy
func (p *Proxy) Interfaces() []*typeresolver.Type {
	return append([]*typeresolver.Type(nil), p.interfaces...)
}

// Stateless returns true if the proxy re-supplies the login info on each call
func (p *Proxy) Stateless() bool { return p.loginInfo != nil }

// Implements returns true if the proxy implements the named interface
func (p *Proxy) Implements(interfaceName string) bool {
	for _, t := range p.interfaces {
		if t.Name == interfaceName {
			return true
		}
	}
	return false
}

// lookupMethod finds the interface that declares the method.
// The method can be given as "method" or as "Interface.method".
func (p *Proxy) lookupMethod(method string) (*typeresolver.Type, string, error) {
	ifaceName := ""
	if i := strings.LastIndex(method, "."); i > 0 {
		ifaceName, method = method[:i], method[i+1:]
	}
	for _, t := range p.interfaces {
		if ifaceName != "" && t.Name != ifaceName {
			continue
		}
		if t.HasMethod(method) {
			return t, method, nil
		}
	}
	return nil, "", fmt.Errorf("%s: '%s': %w", p.service, method, ErrUnknownMethod)
}

func (p *Proxy) invoke(ctx context.Context, method string, args []any) (*InvocationResult, error) {
	iface, methodID, err := p.lookupMethod(method)
	if err != nil {
		return nil, err
	}
	call := &Invocation{
		Service:   p.service,
		Interface: iface.Name,
		Method:    methodID,
		Args:      args,
		LoginInfo: p.loginInfo,
	}
	logrus.Debugf("Proxy.invoke: %s", call)
	res, err := p.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return p.env.Invoker.Invoke(ctx, call)
	})
	if err != nil {
		return nil, err
	}
	result, ok := res.(*InvocationResult)
	if !ok || result == nil {
		return nil, fmt.Errorf("%s: unexpected result type %T", call, res)
	}
	return result, nil
}

// Call invokes the method and returns the exported result:
// a decoded value, a *Proxy for a service result, or a map for a complex result.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	result, err := p.invoke(ctx, method, args)
	if err != nil {
		return nil, err
	}
	return result.Export(ctx, p.env)
}

// CallInto invokes a method that returns a plain value and decodes it into out
func (p *Proxy) CallInto(ctx context.Context, out any, method string, args ...any) error {
	result, err := p.invoke(ctx, method, args)
	if err != nil {
		return err
	}
	if result.Kind != ResultValue {
		return fmt.Errorf("%s.%s returned a %s result, not a value", p.service, method, result.Kind)
	}
	if out == nil || len(result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(result.Value, out)
}

func newProxy(executor Executor, env *Environment, service string,
	interfaces []*typeresolver.Type, info *session.LoginInfo) *Proxy {
	return &Proxy{
		service:    service,
		interfaces: append([]*typeresolver.Type(nil), interfaces...),
		executor:   executor,
		env:        env,
		loginInfo:  info,
	}
}
