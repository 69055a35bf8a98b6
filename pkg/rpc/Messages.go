// Package rpc with the JSON-RPC 2.0 messages exchanged between session clients and the server,
// and the client side entry points that are shared by the transport bindings.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/session"
	"github.com/wostzone/wost-session/pkg/typeresolver"
)

// Version of the JSON-RPC protocol
const Version = "2.0"

// Method names
const (
	MethodConnect          = "session.connect"
	MethodGenerateSecret   = "session.generateSecret"
	MethodContexts         = "session.contexts"
	MethodLogin            = "session.login"
	MethodResume           = "session.resume"
	MethodServices         = "session.services"
	MethodMainUI           = "session.mainUI"
	MethodLogout           = "session.logout"
	MethodClose            = "session.close"
	MethodInvoke           = "service.invoke"
	MethodInvokeStateless  = "service.invokeStateless"
	MethodResolveType      = "type.resolve"
	MethodStatelessConnect = "stateless.connect"
)

// Request is the JSON-RPC request envelope
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is the JSON-RPC response envelope
type Response struct {
	JSONRPC string                     `json:"jsonrpc"`
	ID      json.RawMessage            `json:"id,omitempty"`
	Result  json.RawMessage            `json:"result,omitempty"`
	Error   *communication.RemoteError `json:"error,omitempty"`
}

// NewRequest creates a request with the params encoded
func NewRequest(id string, method string, params any) (*Request, error) {
	rawID, _ := json.Marshal(id)
	req := &Request{JSONRPC: Version, ID: rawID, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return req, nil
}

// NewResponse creates the response to a request with either a result or an error
func NewResponse(id json.RawMessage, result any, rpcErr *communication.RemoteError) *Response {
	resp := &Response{JSONRPC: Version, ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = communication.NewRemoteError(communication.CodeInternalError, "result encoding failed: %s", err)
		} else {
			resp.Result = raw
		}
	}
	return resp
}

// HandleParams address an existing connection handle
type HandleParams struct {
	Handle string `json:"handle"`
}

// ConnectParams of session.connect and stateless.connect
type ConnectParams struct {
	Login *session.LoginPayload `json:"login"`
}

// ConnectResult of session.connect and stateless.connect
type ConnectResult struct {
	// Handle of the new connection. Empty for stateless connects.
	Handle string `json:"handle,omitempty"`
	// Address of the client as seen by the server
	Address string `json:"address,omitempty"`
	// Codebase URL for resolving types, if the server offers one
	Codebase string `json:"codebase,omitempty"`
}

// SecretResult of session.generateSecret
type SecretResult struct {
	Secret string `json:"secret"`
}

// ContextsResult of session.contexts
type ContextsResult struct {
	Contexts []session.ContextSelection `json:"contexts"`
}

// LoginParams of session.login
type LoginParams struct {
	Handle string                `json:"handle"`
	Login  *session.LoginPayload `json:"login"`
}

// ResumeParams of session.resume
type ResumeParams struct {
	Handle    string `json:"handle"`
	SessionID string `json:"sessionId"`
}

// ServicesResult of session.services
type ServicesResult struct {
	Services []communication.ServiceDescriptor `json:"services"`
}

// InvokeParams of service.invoke and service.invokeStateless
type InvokeParams struct {
	// Handle of a stateful connection
	Handle string `json:"handle,omitempty"`
	// Login re-supplied with each stateless invocation
	Login     *session.LoginPayload `json:"login,omitempty"`
	Service   string                `json:"service"`
	Interface string                `json:"interface"`
	Method    string                `json:"method"`
	Args      []json.RawMessage     `json:"args,omitempty"`
}

// ResolveTypeParams of type.resolve
type ResolveTypeParams struct {
	Name string `json:"name"`
}

// TypeResult of type.resolve and of the codebase
type TypeResult = typeresolver.Type

// NewInvokeParams encodes the invocation arguments
func NewInvokeParams(handle string, call *communication.Invocation) (*InvokeParams, error) {
	params := &InvokeParams{
		Handle:    handle,
		Service:   call.Service,
		Interface: call.Interface,
		Method:    call.Method,
		Args:      make([]json.RawMessage, 0, len(call.Args)),
	}
	for _, arg := range call.Args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		params.Args = append(params.Args, raw)
	}
	if call.LoginInfo != nil {
		payload, err := call.LoginInfo.Payload()
		if err != nil {
			return nil, err
		}
		params.Login = payload
	}
	return params, nil
}

// DecodeResult returns the remote error of the response or decodes its result into target.
//  target is nil when the caller ignores the result
func (resp *Response) DecodeResult(target any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if target == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, target); err != nil {
		return fmt.Errorf("decoding result failed: %w", err)
	}
	return nil
}
