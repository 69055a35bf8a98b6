package remoteserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Call is a method invocation as received by a service host
type Call struct {
	// User that makes the call
	User string
	// SessionID of a stateful call, "" for a stateless call
	SessionID string
	// Context the user selected at login
	Context string
	Interface string
	Method    string
	Args      []json.RawMessage
}

// Arg decodes the argument at the given index into out
func (call *Call) Arg(index int, out any) error {
	if index >= len(call.Args) {
		return fmt.Errorf("%s.%s: missing argument %d", call.Interface, call.Method, index)
	}
	return json.Unmarshal(call.Args[index], out)
}

// MethodHandler handles a single method of a service
type MethodHandler func(ctx context.Context, call *Call) (*communication.InvocationResult, error)

// ServiceHost exposes a service to clients.
// Handlers are registered per interface method. Interfaces must be known to the server types.
type ServiceHost struct {
	// Descriptor as announced to clients
	Descriptor communication.ServiceDescriptor

	// handlers by "interface.method"
	handlers map[string]MethodHandler

	// mutex for concurrent access to the handlers
	handlerMutex sync.RWMutex
}

// Handle sets the handler of a method
//  iface is the interface that declares the method
//  method is the method ID
//  handler is invoked on each call
func (host *ServiceHost) Handle(iface *typeresolver.Type, method string, handler MethodHandler) error {
	if !iface.HasMethod(method) {
		return fmt.Errorf("service '%s': interface '%s' doesn't declare method '%s'",
			host.Descriptor.Name, iface.Name, method)
	}
	host.handlerMutex.Lock()
	defer host.handlerMutex.Unlock()
	host.handlers[iface.Name+"."+method] = handler
	return nil
}

// HandleValue sets a handler that returns a plain value
func (host *ServiceHost) HandleValue(iface *typeresolver.Type, method string,
	handler func(ctx context.Context, call *Call) (any, error)) error {
	return host.Handle(iface, method, func(ctx context.Context, call *Call) (*communication.InvocationResult, error) {
		value, err := handler(ctx, call)
		if err != nil {
			return nil, err
		}
		return communication.NewValueResult(value)
	})
}

// invoke the handler for the call. Handler errors are returned as remote errors.
func (host *ServiceHost) invoke(ctx context.Context, call *Call) (*communication.InvocationResult, *communication.RemoteError) {
	host.handlerMutex.RLock()
	handler, found := host.handlers[call.Interface+"."+call.Method]
	host.handlerMutex.RUnlock()
	if !found {
		return nil, communication.NewRemoteError(communication.CodeMethodNotFound,
			"service '%s' has no method '%s.%s'", host.Descriptor.Name, call.Interface, call.Method)
	}
	result, err := handler(ctx, call)
	if err != nil {
		var remoteErr *communication.RemoteError
		if errors.As(err, &remoteErr) {
			return nil, remoteErr
		}
		return nil, communication.NewRemoteError(communication.CodeServiceFailed, "%s", err)
	}
	return result, nil
}

// NewServiceHost creates a host for a service with the given interfaces
//  name of the service
//  shared services are bridged with a client-local instance
//  interfaces the service implements
func NewServiceHost(name string, shared bool, interfaces ...*typeresolver.Type) *ServiceHost {
	names := make([]string, 0, len(interfaces))
	for _, iface := range interfaces {
		names = append(names, iface.Name)
	}
	return &ServiceHost{
		Descriptor: communication.ServiceDescriptor{Name: name, Interfaces: names, Shared: shared},
		handlers:   make(map[string]MethodHandler),
	}
}
